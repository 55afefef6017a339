package embedding

import (
	"github.com/cespare/xxhash/v2"
	"github.com/hyperjump/shiori/pkg/utils"
)

// BERT special token ids.
const (
	tokenCLS   = 101
	tokenSEP   = 102
	vocabSpace = 30000
	// ids below this are reserved for special tokens
	vocabOffset = 1000
)

// Tokenizer produces token IDs for BERT-style models (input_ids, attention_mask, token_type_ids).
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// HashTokenizer maps lowercase words to stable ids by hashing. It has no vocabulary
// file, which makes it a fallback for models exported with a hashed input layer.
type HashTokenizer struct{}

// Tokenize emits [CLS] words... [SEP] padded with zeros to maxTokens.
func (HashTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens < 2 {
		maxTokens = 256
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = tokenCLS
	attentionMask[0] = 1
	pos := 1
	for _, word := range utils.Tokenize(text) {
		if pos >= maxTokens-1 {
			break
		}
		inputIDs[pos] = int64(vocabOffset + xxhash.Sum64String(word)%(vocabSpace-vocabOffset))
		attentionMask[pos] = 1
		pos++
	}
	inputIDs[pos] = tokenSEP
	attentionMask[pos] = 1
	return inputIDs, attentionMask, tokenTypeIDs
}
