package sectors

import (
	"math"

	"github.com/engramdb/engram/internal/model"
)

// fusionBeta sharpens the softmax over sector weights: higher values let
// the dominant sector contribute more of the fused vector.
const fusionBeta = 1.5

// normEpsilon guards the L2 normalization against an all-zero fusion.
const normEpsilon = 1e-10

// FuseVectors combines per-sector embeddings into one vector. Each
// sector's contribution is exp(beta * weight), softmax-normalized across
// the present sectors; the weighted sum is then L2-normalized. All inputs
// must share one dimension.
func (c *Classifier) FuseVectors(perSector map[string][]float32) ([]float32, error) {
	if len(perSector) == 0 {
		return nil, model.ErrValidation
	}

	dim := -1
	var names []string
	for name, vec := range perSector {
		if dim == -1 {
			dim = len(vec)
		} else if len(vec) != dim {
			return nil, model.ErrDimensionMismatch
		}
		names = append(names, name)
	}

	// Softmax over exp(beta * sectorWeight).
	var total float64
	weights := make(map[string]float64, len(names))
	for _, name := range names {
		w := math.Exp(fusionBeta * c.Weight(name))
		weights[name] = w
		total += w
	}

	fused := make([]float64, dim)
	for name, vec := range perSector {
		w := weights[name] / total
		for i, v := range vec {
			fused[i] += w * float64(v)
		}
	}

	var norm float64
	for _, v := range fused {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm < normEpsilon {
		norm = normEpsilon
	}

	out := make([]float32, dim)
	for i, v := range fused {
		out[i] = float32(v / norm)
	}
	return out, nil
}
