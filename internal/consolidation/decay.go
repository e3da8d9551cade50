// Package consolidation implements the structural-fading lifecycle:
// salience decay, vector compression for cold memories, fingerprinting of
// nearly-forgotten ones, and regeneration on query hits.
package consolidation

import "math"

// Phase is the structural state a memory's forgetting factor maps to.
type Phase int

const (
	// PhaseHot leaves the memory untouched.
	PhaseHot Phase = iota
	// PhaseCompress shrinks the vector into a cold variant and recompresses
	// the summary.
	PhaseCompress
	// PhaseFingerprint replaces the vector with a hash-derived unit vector
	// and a keyword summary.
	PhaseFingerprint
)

func (p Phase) String() string {
	switch p {
	case PhaseHot:
		return "hot"
	case PhaseCompress:
		return "compress"
	case PhaseFingerprint:
		return "fingerprint"
	}
	return "unknown"
}

// Forgetting-factor thresholds. The compress band nominally spans
// [compressThreshold, hotThreshold); factors between the cold and compress
// thresholds still compress, just toward the minimum dimension.
const (
	hotThreshold      = 0.7
	compressThreshold = 0.4
	coldThreshold     = 0.25
)

// Dual-phase decay shape: a fast early fade for the first week, then a
// slower long tail.
const (
	phaseBreakDays = 7.0
	earlyRate      = 0.05
	lateRate       = 0.012
)

// salienceEpsilon keeps the forgetting factor defined at zero salience.
const salienceEpsilon = 1e-6

// PhaseFor maps a forgetting factor to its structural phase.
func PhaseFor(f float64) Phase {
	switch {
	case f >= hotThreshold:
		return PhaseHot
	case f < coldThreshold:
		return PhaseFingerprint
	default:
		return PhaseCompress
	}
}

// decayFactor is the dual-phase multiplier for days since last access,
// scaled by the memory's sector decay rate. Always in (0,1].
func decayFactor(days, decayRate float64) float64 {
	if days <= 0 {
		return 1
	}
	if days <= phaseBreakDays {
		return math.Exp(-earlyRate * decayRate * days)
	}
	early := math.Exp(-earlyRate * decayRate * phaseBreakDays)
	return early * math.Exp(-lateRate*decayRate*(days-phaseBreakDays))
}

// DecayedSalience applies the dual-phase curve to the stored salience.
func DecayedSalience(stored, decayRate, daysSinceAccess float64) float64 {
	return stored * decayFactor(daysSinceAccess, decayRate)
}

// ForgettingFactor is current/(original+ε), in (0,1].
func ForgettingFactor(current, original float64) float64 {
	f := current / (original + salienceEpsilon)
	if f > 1 {
		return 1
	}
	if f <= 0 {
		return salienceEpsilon
	}
	return f
}
