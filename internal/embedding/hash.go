package embedding

import (
	"context"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/hyperjump/shiori/pkg/utils"
)

// HashEmbedder is a pure-Go encoder using signed feature hashing of lowercase word
// unigrams. Each token lands in bucket h%dims with sign taken from the top bit of h,
// and the result is L2-normalized. Output is bit-identical across runs and platforms.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder returns a hashing encoder of the given dimension.
func NewHashEmbedder(dimensions int) (*HashEmbedder, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("invalid embedding dimensions %d", dimensions)
	}
	return &HashEmbedder{dimensions: dimensions}, nil
}

func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v := ZeroVector(e.dimensions)
	if IsBlank(text) {
		return v, nil
	}
	dims := uint64(e.dimensions)
	for _, tok := range utils.Tokenize(text) {
		h := xxhash.Sum64String(tok)
		if h>>63 == 1 {
			v[h%dims]--
		} else {
			v[h%dims]++
		}
	}
	utils.NormalizeL2(v)
	return v, nil
}

func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, texts, e.Embed)
}

func (e *HashEmbedder) Dimensions() int { return e.dimensions }

func (e *HashEmbedder) Close() error { return nil }
