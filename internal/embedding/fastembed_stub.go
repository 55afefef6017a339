//go:build !cgo

package embedding

import (
	"context"
	"errors"
)

// ErrFastEmbedNotAvailable is returned by the fastembed provider in binaries built without CGO.
var ErrFastEmbedNotAvailable = errors.New("fastembed: not available (binary built without CGO support, use the hash provider instead)")

type FastEmbedder struct{}

func NewFastEmbedder(_, _ string, _ int) (*FastEmbedder, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (e *FastEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (e *FastEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (e *FastEmbedder) Dimensions() int { return 0 }

func (e *FastEmbedder) Close() error { return nil }
