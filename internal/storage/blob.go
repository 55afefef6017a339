package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// BlobStore keeps the original PDF bytes of each document as <dir>/<id>.pdf so a
// viewer can render evidence over the exact file that was ingested.
type BlobStore struct {
	dir string
}

// NewBlobStore creates dir if needed.
func NewBlobStore(dir string) (*BlobStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("documents directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create documents directory: %w", err)
	}
	return &BlobStore{dir: dir}, nil
}

// Dir returns the directory blobs live in.
func (b *BlobStore) Dir() string { return b.dir }

// Path returns where the blob for id is (or would be) stored.
func (b *BlobStore) Path(id string) (string, error) {
	if err := validBlobID(id); err != nil {
		return "", err
	}
	return filepath.Join(b.dir, id+".pdf"), nil
}

// URI returns the file:// URI recorded as a document's source_uri.
func (b *BlobStore) URI(id string) (string, error) {
	p, err := b.Path(id)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return "file://" + filepath.ToSlash(abs), nil
}

// StagedBlob is a PDF written under a temp name and not yet visible as its
// document's blob.
type StagedBlob struct {
	id   string
	tmp  string
	dest string
	done bool
}

// Stage writes data for id to a temp file in the blob directory. Nothing at the
// final path changes until Commit.
func (b *BlobStore) Stage(id string, data []byte) (*StagedBlob, error) {
	p, err := b.Path(id)
	if err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(b.dir, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("failed to write %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("failed to write %s: %w", id, err)
	}
	return &StagedBlob{id: id, tmp: tmp.Name(), dest: p}, nil
}

// Commit renames the staged file into place.
func (s *StagedBlob) Commit() error {
	if s.done {
		return nil
	}
	if err := os.Rename(s.tmp, s.dest); err != nil {
		_ = os.Remove(s.tmp)
		s.done = true
		return fmt.Errorf("failed to store %s: %w", s.id, err)
	}
	s.done = true
	return nil
}

// Discard removes the staged file. It is a no-op after Commit.
func (s *StagedBlob) Discard() error {
	if s.done {
		return nil
	}
	s.done = true
	if err := os.Remove(s.tmp); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to discard upload for %s: %w", s.id, err)
	}
	return nil
}

// Put stores data for id through Stage and Commit, so readers never see a
// partial PDF.
func (b *BlobStore) Put(id string, data []byte) error {
	staged, err := b.Stage(id, data)
	if err != nil {
		return err
	}
	return staged.Commit()
}

// Open returns a reader for the blob of id, or ErrNotFound.
func (b *BlobStore) Open(id string) (io.ReadSeekCloser, error) {
	p, err := b.Path(id)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("pdf for %s: %w", id, ErrNotFound)
	}
	return f, err
}

// Exists reports whether a blob is stored for id.
func (b *BlobStore) Exists(id string) bool {
	p, err := b.Path(id)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// Delete removes the blob of id. A missing blob is not an error.
func (b *BlobStore) Delete(id string) error {
	p, err := b.Path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete pdf for %s: %w", id, err)
	}
	return nil
}

func validBlobID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return fmt.Errorf("invalid document id %q", id)
	}
	return nil
}

// DiskUsageBytes returns the total size in bytes of the given paths.
// Each path may be a file or a directory (recursively summed).
// Missing paths and "" are skipped.
func DiskUsageBytes(paths ...string) (int64, error) {
	var total int64
	for _, p := range paths {
		if p == "" || p == ":memory:" {
			continue
		}
		err := filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}
