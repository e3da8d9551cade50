package embeddings

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const defaultOllamaTimeout = 30 * time.Second

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Ollama calls a local Ollama server's embeddings endpoint.
type Ollama struct {
	client *resty.Client
	model  string
	dim    int
	log    zerolog.Logger
}

// NewOllama builds the provider. dim is the model's known output length;
// responses of a different length are rejected.
func NewOllama(baseURL, model string, dim int, log zerolog.Logger) *Ollama {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(defaultOllamaTimeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)
	return &Ollama{
		client: client,
		model:  model,
		dim:    dim,
		log:    log.With().Str("component", "embeddings").Str("provider", "ollama").Logger(),
	}
}

func (o *Ollama) Dimension() int { return o.dim }

func (o *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, errors.New("empty text")
	}
	var out embedResponse
	resp, err := o.client.R().
		SetContext(ctx).
		SetBody(embedRequest{Model: o.model, Prompt: text}).
		SetResult(&out).
		Post("/api/embeddings")
	if err != nil {
		return nil, errors.Wrap(err, "ollama embed request")
	}
	if resp.IsError() {
		return nil, errors.Errorf("ollama embed: status %d: %s", resp.StatusCode(), resp.String())
	}
	if len(out.Embedding) == 0 {
		return nil, errors.New("ollama embed: empty embedding in response")
	}
	if o.dim > 0 && len(out.Embedding) != o.dim {
		return nil, errors.Errorf("ollama embed: expected %d dims, got %d", o.dim, len(out.Embedding))
	}
	vec := make([]float32, len(out.Embedding))
	for i, v := range out.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}
