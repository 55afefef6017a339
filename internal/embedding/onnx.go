//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"sync"

	"github.com/hyperjump/shiori/pkg/utils"
	ort "github.com/yalue/onnxruntime_go"
)

// ONNXEmbedder runs a sentence-embedding model through ONNX Runtime. It requires CGO
// and the onnxruntime shared library. One session is shared, so inference is serialized.
type ONNXEmbedder struct {
	session    *ort.AdvancedSession
	dimensions int
	maxTokens  int
	tokenizer  Tokenizer
	// Pre-allocated tensors for Run(); we update input data and read output.
	inputIDsTensor      *ort.Tensor[int64]
	attentionMaskTensor *ort.Tensor[int64]
	tokenTypeIDsTensor  *ort.Tensor[int64]
	outputTensor        *ort.Tensor[float32]
	mu                  sync.Mutex
}

// NewONNXEmbedder loads modelPath. The model must take input_ids, attention_mask and
// token_type_ids of shape [1, maxTokens] and produce a pooled "output" of [1, dimensions].
func NewONNXEmbedder(modelPath string, dimensions, maxTokens int) (*ONNXEmbedder, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("onnx provider requires embedding.model_path")
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}

	tokenizer := HashTokenizer{}
	inputIDs, attentionMask, tokenTypeIDs := tokenizer.Tokenize("", maxTokens)
	shape := ort.NewShape(1, int64(len(inputIDs)))

	var tensors []interface{ Destroy() error }
	cleanup := func() {
		for _, t := range tensors {
			_ = t.Destroy()
		}
	}
	inputIDsTensor, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	tensors = append(tensors, inputIDsTensor)
	attentionMaskTensor, err := ort.NewTensor(shape, attentionMask)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	tensors = append(tensors, attentionMaskTensor)
	tokenTypeIDsTensor, err := ort.NewTensor(shape, tokenTypeIDs)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to create token_type_ids tensor: %w", err)
	}
	tensors = append(tensors, tokenTypeIDsTensor)
	outputTensor, err := ort.NewTensor(ort.NewShape(1, int64(dimensions)), make([]float32, dimensions))
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	tensors = append(tensors, outputTensor)

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"output"},
		[]ort.ArbitraryTensor{inputIDsTensor, attentionMaskTensor, tokenTypeIDsTensor},
		[]ort.ArbitraryTensor{outputTensor},
		nil,
	)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXEmbedder{
		session:             session,
		dimensions:          dimensions,
		maxTokens:           len(inputIDs),
		tokenizer:           tokenizer,
		inputIDsTensor:      inputIDsTensor,
		attentionMaskTensor: attentionMaskTensor,
		tokenTypeIDsTensor:  tokenTypeIDsTensor,
		outputTensor:        outputTensor,
	}, nil
}

// Embed returns the L2-normalized model output for text.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if IsBlank(text) {
		return ZeroVector(e.dimensions), nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, fmt.Errorf("onnx embedder is closed")
	}

	inputIDs, attentionMask, tokenTypeIDs := e.tokenizer.Tokenize(text, e.maxTokens)
	copy(e.inputIDsTensor.GetData(), inputIDs)
	copy(e.attentionMaskTensor.GetData(), attentionMask)
	copy(e.tokenTypeIDsTensor.GetData(), tokenTypeIDs)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	embedding := make([]float32, e.dimensions)
	copy(embedding, e.outputTensor.GetData())
	utils.NormalizeL2(embedding)
	return embedding, nil
}

// EmbedBatch calls Embed for each text.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, texts, e.Embed)
}

func (e *ONNXEmbedder) Dimensions() int {
	return e.dimensions
}

// Close destroys the session and tensors. It is safe to call more than once.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	_ = e.inputIDsTensor.Destroy()
	_ = e.attentionMaskTensor.Destroy()
	_ = e.tokenTypeIDsTensor.Destroy()
	_ = e.outputTensor.Destroy()
	e.session = nil
	return err
}
