// Package watcher ingests PDFs dropped into an inbox directory.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hyperjump/shiori/internal/indexer"
	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/storage"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// Ingester is the part of the indexer the inbox drives.
type Ingester interface {
	IngestFile(ctx context.Context, path string, opts indexer.FileOptions) (*models.IngestResult, error)
}

// Inbox watches a directory tree and ingests each PDF once its writes settle.
type Inbox struct {
	dir      string
	ingester Ingester
	opts     indexer.FileOptions
	debounce time.Duration
	onResult func(indexer.FileOutcome)
	logger   *zap.Logger

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	pending  map[string]*time.Timer
	ctx      context.Context
	started  bool
	done     chan struct{}
	stopOnce sync.Once
}

// Option configures an Inbox.
type Option func(*Inbox)

// WithLogger sets a logger.
func WithLogger(l *zap.Logger) Option {
	return func(in *Inbox) { in.logger = l }
}

// WithDebounce sets how long a file must stay quiet before it is ingested.
func WithDebounce(d time.Duration) Option {
	return func(in *Inbox) { in.debounce = d }
}

// WithFamily tags every document ingested from the inbox.
func WithFamily(family string) Option {
	return func(in *Inbox) { in.opts.Family = family }
}

// WithResultHook is called after every ingestion attempt.
func WithResultHook(fn func(indexer.FileOutcome)) Option {
	return func(in *Inbox) { in.onResult = fn }
}

// NewInbox creates an inbox over dir. Nothing is watched until Start.
func NewInbox(dir string, ingester Ingester, opts ...Option) *Inbox {
	in := &Inbox{
		dir:      filepath.Clean(dir),
		ingester: ingester,
		debounce: defaultDebounce,
		pending:  make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(in)
	}
	if in.logger == nil {
		in.logger = zap.NewNop()
	}
	return in
}

// Dir returns the watched directory.
func (in *Inbox) Dir() string { return in.dir }

// Start creates the inbox if needed, begins watching it and ingests the PDFs
// already there in the background. It runs until ctx is cancelled or Stop is called.
func (in *Inbox) Start(ctx context.Context) error {
	in.mu.Lock()
	if in.started {
		in.mu.Unlock()
		return nil
	}
	if err := os.MkdirAll(in.dir, 0755); err != nil {
		in.mu.Unlock()
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		in.mu.Unlock()
		return err
	}
	in.watcher = w
	if err := in.watchTreeLocked(in.dir); err != nil {
		_ = w.Close()
		in.watcher = nil
		in.mu.Unlock()
		return err
	}
	in.ctx = ctx
	in.started = true
	in.mu.Unlock()

	in.logger.Info("inbox watching", zap.String("dir", in.dir))
	go in.run(ctx, w)
	go in.sync(ctx, in.dir)
	return nil
}

func (in *Inbox) watchTreeLocked(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return in.watcher.Add(path)
	})
}

func (in *Inbox) run(ctx context.Context, w *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			in.Stop()
			return
		case <-in.done:
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			in.handleEvent(ev)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			in.logger.Debug("inbox watcher error", zap.Error(err))
		}
	}
}

func (in *Inbox) handleEvent(ev fsnotify.Event) {
	path := ev.Name
	if !inDir(in.dir, path) {
		return
	}
	in.logger.Debug("inbox event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			in.handleNewDirectory(path)
			return
		}
		if indexer.IsPDF(path) && info.Mode().IsRegular() {
			in.schedule(path)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		in.cancel(path)
	}
}

// handleNewDirectory watches a directory moved or created under the inbox and
// ingests what it already holds.
func (in *Inbox) handleNewDirectory(dir string) {
	in.mu.Lock()
	if in.watcher == nil {
		in.mu.Unlock()
		return
	}
	if err := in.watchTreeLocked(dir); err != nil {
		in.logger.Debug("inbox failed to watch directory", zap.String("path", dir), zap.Error(err))
	}
	ctx := in.ctx
	in.mu.Unlock()
	in.sync(ctx, dir)
}

// schedule (re)arms the debounce timer for path.
func (in *Inbox) schedule(path string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.started {
		return
	}
	if t, ok := in.pending[path]; ok {
		t.Stop()
	}
	ctx := in.ctx
	in.pending[path] = time.AfterFunc(in.debounce, func() {
		in.mu.Lock()
		delete(in.pending, path)
		in.mu.Unlock()
		in.ingest(ctx, path)
	})
}

func (in *Inbox) cancel(path string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if t, ok := in.pending[path]; ok {
		t.Stop()
		delete(in.pending, path)
	}
}

func (in *Inbox) sync(ctx context.Context, root string) {
	in.logger.Debug("inbox syncing", zap.String("root", root))
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return fs.SkipAll
		}
		if d.IsDir() || !indexer.IsPDF(path) || !d.Type().IsRegular() {
			return nil
		}
		in.ingest(ctx, path)
		return nil
	})
}

func (in *Inbox) ingest(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}
	res, err := in.ingester.IngestFile(ctx, path, in.opts)
	switch {
	case err == nil:
		in.logger.Info("inbox ingested file",
			zap.String("path", path),
			zap.String("doc_id", res.DocID),
			zap.Int("chunks", res.Chunks))
	case storage.IsDuplicate(err):
		in.logger.Info("inbox file already ingested", zap.String("path", path))
	default:
		in.logger.Warn("inbox ingest failed", zap.String("path", path), zap.Error(err))
	}
	if in.onResult != nil {
		in.onResult(indexer.FileOutcome{Path: path, Result: res, Err: err})
	}
}

// Stop stops watching and drops pending ingestions. It is safe to call more than once.
func (in *Inbox) Stop() {
	in.mu.Lock()
	if !in.started {
		in.mu.Unlock()
		return
	}
	for path, t := range in.pending {
		t.Stop()
		delete(in.pending, path)
	}
	_ = in.watcher.Close()
	in.watcher = nil
	in.started = false
	in.mu.Unlock()
	in.stopOnce.Do(func() { close(in.done) })
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
