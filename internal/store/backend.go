package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/gofrs/flock"

	qerrors "github.com/querywatch/querywatch/internal/errors"
)

// Backend opens the bleve index a query store runs on. It is a factory
// injected at monitor construction so callers can choose between an
// ephemeral index and a durable one.
type Backend interface {
	// Open creates or opens the index with the given mapping.
	Open(m mapping.IndexMapping) (bleve.Index, error)

	// Name identifies the backend for logging.
	Name() string

	// Release frees backend resources (directory locks). Called once after
	// the index is closed.
	Release() error
}

// MemBackend returns an ephemeral in-memory backend. Nothing survives
// process exit; intended for tests and transient query corpora.
func MemBackend() Backend {
	return memBackend{}
}

type memBackend struct{}

func (memBackend) Open(m mapping.IndexMapping) (bleve.Index, error) {
	return bleve.NewMemOnly(m)
}

func (memBackend) Name() string { return "mem" }

func (memBackend) Release() error { return nil }

// FSBackend returns a durable backend rooted at path. The directory is
// created on first open and guarded by a file lock so two processes cannot
// write the same index.
func FSBackend(path string) Backend {
	return &fsBackend{path: path}
}

type fsBackend struct {
	path string
	lock *flock.Flock
}

func (b *fsBackend) Open(m mapping.IndexMapping) (bleve.Index, error) {
	parent := filepath.Dir(b.path)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("create index parent dir: %w", err)
	}

	lock := flock.New(b.path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire index lock: %w", err)
	}
	if !locked {
		return nil, qerrors.New(qerrors.ErrCodeLocked,
			fmt.Sprintf("query index at %s is locked by another process", b.path), nil)
	}
	b.lock = lock

	idx, err := bleve.Open(b.path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(b.path, m)
	}
	if err != nil {
		_ = lock.Unlock()
		b.lock = nil
		return nil, qerrors.New(qerrors.ErrCodeCorruptIndex,
			fmt.Sprintf("open query index at %s: %v", b.path, err), err)
	}
	return idx, nil
}

func (b *fsBackend) Name() string { return "fs:" + b.path }

func (b *fsBackend) Release() error {
	if b.lock == nil {
		return nil
	}
	err := b.lock.Unlock()
	b.lock = nil
	return err
}
