package core

import (
	"context"

	"github.com/pkg/errors"
)

var (
	// ErrFileNotFound is returned by FileStore.Read for a path that does not exist.
	ErrFileNotFound = errors.New("file not found")

	// ErrVersionConflict is returned by FileStore.Write when the target path changed
	// since the version the caller last read. The caller must re-read (and re-check
	// whatever the write was based on) before retrying.
	ErrVersionConflict = errors.New("version conflict")

	// ErrStoreUnauthorized is returned when the store rejects our credentials.
	ErrStoreUnauthorized = errors.New("store credentials rejected")
)

// TransportError wraps network/protocol-level store failures so callers can tell
// them apart from domain outcomes. Writes that fail this way never partially apply.
type TransportError struct {
	Op   string
	Path string
	Err  error
}

func (e *TransportError) Error() string {
	return "store: " + e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// File is one versioned blob read from a FileStore.
type File struct {
	Path    string
	Content []byte
	Version string
}

// FileStore is a versioned key-value blob store addressed by path.
// Write is compare-and-swap: it only succeeds if `version` matches the store's
// current version of the path; an empty version means the path is expected to be
// new. The store is the single arbiter of serialization per path.
type FileStore interface {
	Read(ctx context.Context, path string) (File, error)
	Write(ctx context.Context, path string, content []byte, version, message string) (newVersion string, err error)
}
