package indexer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentDocID(t *testing.T) {
	a := ContentDocID([]byte("%PDF-1.4 a"))
	assert.Equal(t, a, ContentDocID([]byte("%PDF-1.4 a")))
	assert.NotEqual(t, a, ContentDocID([]byte("%PDF-1.4 b")))
	assert.True(t, strings.HasPrefix(a, "doc:"), "id %q", a)
	assert.Len(t, a, len("doc:")+64)
}

func TestNewDocID(t *testing.T) {
	id, err := NewDocID(IDStrategyUUID, nil)
	require.NoError(t, err)
	assert.Len(t, id, 36)
	other, err := NewDocID(IDStrategyUUID, nil)
	require.NoError(t, err)
	assert.NotEqual(t, id, other)

	id, err = NewDocID("", []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, ContentDocID([]byte("x")), id)

	_, err = NewDocID("random", nil)
	assert.Error(t, err)
}

func TestValidateDocID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"doc:abc", true},
		{"contract-7", true},
		{"", false},
		{"   ", false},
		{"..", false},
		{"a/b", false},
		{`a\b`, false},
		{"a\nb", false},
		{strings.Repeat("x", 201), false},
	}
	for _, tt := range tests {
		err := ValidateDocID(tt.id)
		if tt.want {
			assert.NoError(t, err, "ValidateDocID(%q)", tt.id)
			continue
		}
		assert.ErrorIs(t, err, ErrInvalidDocID, "ValidateDocID(%q)", tt.id)
	}
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()
	unlockA := k.Lock("a")
	unlockB := k.Lock("b")
	assert.Equal(t, 2, k.size())

	done := make(chan struct{})
	go func() {
		unlock := k.Lock("a")
		unlock()
		close(done)
	}()
	unlockB()
	select {
	case <-done:
		t.Fatal("second lock on the same key should wait")
	default:
	}
	unlockA()
	<-done
	assert.Equal(t, 0, k.size())
}
