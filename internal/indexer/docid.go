package indexer

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Document id strategies.
const (
	IDStrategyContent = "content"
	IDStrategyUUID    = "uuid"
)

const contentIDPrefix = "doc:"

// maxDocIDLen bounds caller-supplied ids; they become file names.
const maxDocIDLen = 200

// ErrInvalidDocID is returned for a caller-supplied id that cannot be stored.
var ErrInvalidDocID = errors.New("invalid document id")

// ContentDocID returns a stable id for data: the same bytes always give the
// same id, so re-uploading a file is detected as a duplicate.
func ContentDocID(data []byte) string {
	hash := sha256.Sum256(data)
	return contentIDPrefix + hex.EncodeToString(hash[:])
}

// NewDocID derives an id for data using strategy.
func NewDocID(strategy string, data []byte) (string, error) {
	switch strategy {
	case IDStrategyContent, "":
		return ContentDocID(data), nil
	case IDStrategyUUID:
		return uuid.New().String(), nil
	default:
		return "", fmt.Errorf("unknown id strategy %q", strategy)
	}
}

// ValidateDocID rejects ids that are empty, too long, or contain path
// separators or control characters.
func ValidateDocID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return fmt.Errorf("%w: empty", ErrInvalidDocID)
	case len(id) > maxDocIDLen:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidDocID, maxDocIDLen)
	case id == "." || id == "..":
		return fmt.Errorf("%w: %q", ErrInvalidDocID, id)
	}
	for _, r := range id {
		if r == '/' || r == '\\' || r < 0x20 || r == 0x7f {
			return fmt.Errorf("%w: %q", ErrInvalidDocID, id)
		}
	}
	return nil
}
