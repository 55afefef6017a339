package embedding

import (
	"fmt"

	"github.com/hyperjump/shiori/internal/config"
	"github.com/hyperjump/shiori/internal/metrics"
	"github.com/hyperjump/shiori/pkg/utils"
	"go.uber.org/zap"
)

var fastEmbedDims = map[string]int{
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-small-en":                      384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-base-en":                       768,
	"BAAI/bge-small-zh-v1.5":                 512,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
}

// FastEmbedDimensions returns the output dimension of a supported fastembed model.
func FastEmbedDimensions(model string) (int, bool) {
	d, ok := fastEmbedDims[model]
	return d, ok
}

// Option configures New.
type Option func(*options)

type options struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// WithLogger sets a logger for provider selection messages.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records every model call on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// New builds the provider named by cfg.Provider, instruments it, and puts an LRU
// in front of it when cfg.CacheSize > 0. The returned encoder's dimension always
// equals cfg.Dimensions.
func New(cfg config.EmbeddingConfig, opts ...Option) (Embedder, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	logger := utils.OrNop(o.logger)

	var (
		base Embedder
		err  error
	)
	switch cfg.Provider {
	case ProviderHash, "":
		base, err = NewHashEmbedder(cfg.Dimensions)
	case ProviderONNX:
		base, err = NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
	case ProviderFastEmbed:
		if d, ok := FastEmbedDimensions(cfg.Model); ok && d != cfg.Dimensions {
			return nil, fmt.Errorf("model %s produces %d dimensions, config says %d", cfg.Model, d, cfg.Dimensions)
		}
		base, err = NewFastEmbedder(cfg.Model, cfg.CacheDir, cfg.MaxTokens)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s embedder: %w", cfg.Provider, err)
	}
	if base.Dimensions() != cfg.Dimensions {
		_ = base.Close()
		return nil, fmt.Errorf("%s embedder has %d dimensions, config says %d", cfg.Provider, base.Dimensions(), cfg.Dimensions)
	}

	name := cfg.Provider
	if name == "" {
		name = ProviderHash
	}
	emb := Instrument(base, name, o.metrics)
	if cfg.CacheSize > 0 {
		cached, err := NewCachedEmbedder(emb, cfg.CacheSize)
		if err != nil {
			_ = emb.Close()
			return nil, err
		}
		emb = cached
	}
	logger.Info("embedding provider ready",
		zap.String("provider", name),
		zap.String("model", cfg.Model),
		zap.Int("dimensions", cfg.Dimensions),
		zap.Int("cache_size", cfg.CacheSize))
	return emb, nil
}
