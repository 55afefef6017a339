//go:build cgo

package embedding

import (
	"context"
	"fmt"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
	"github.com/hyperjump/shiori/pkg/utils"
)

var fastEmbedModels = map[string]fastembed.EmbeddingModel{
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-small-en":                      fastembed.BGESmallEN,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"BAAI/bge-base-en":                       fastembed.BGEBaseEN,
	"BAAI/bge-small-zh-v1.5":                 fastembed.BGESmallZH,
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
}

// FastEmbedder runs a local FlagEmbedding model. Chunks and queries both go through
// PassageEmbed so the two sides of a similarity comparison are encoded identically.
type FastEmbedder struct {
	model      *fastembed.FlagEmbedding
	dimensions int
	mu         sync.Mutex
}

// NewFastEmbedder loads (downloading into cacheDir if needed) the named model.
func NewFastEmbedder(model, cacheDir string, maxLength int) (*FastEmbedder, error) {
	m, ok := fastEmbedModels[model]
	if !ok {
		return nil, fmt.Errorf("unsupported fastembed model %q", model)
	}
	dims, _ := FastEmbedDimensions(model)
	showProgress := false
	flag, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                m,
		CacheDir:             cacheDir,
		MaxLength:            maxLength,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize fastembed: %w", err)
	}
	return &FastEmbedder{model: flag, dimensions: dims}, nil
}

func (e *FastEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds the non-blank texts in one model call; blank ones get the zero vector.
func (e *FastEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	var idx []int
	var batch []string
	for i, t := range texts {
		if IsBlank(t) {
			out[i] = ZeroVector(e.dimensions)
			continue
		}
		idx = append(idx, i)
		batch = append(batch, t)
	}
	if len(batch) == 0 {
		return out, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model == nil {
		return nil, fmt.Errorf("fastembed embedder is closed")
	}
	vecs, err := e.model.PassageEmbed(batch, 64)
	if err != nil {
		return nil, fmt.Errorf("fastembed inference failed: %w", err)
	}
	for j, i := range idx {
		utils.NormalizeL2(vecs[j])
		out[i] = vecs[j]
	}
	return out, nil
}

func (e *FastEmbedder) Dimensions() int { return e.dimensions }

func (e *FastEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model == nil {
		return nil
	}
	err := e.model.Destroy()
	e.model = nil
	return err
}
