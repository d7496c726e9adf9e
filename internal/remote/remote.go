// Package remote abstracts the hierarchical remote file store documents
// synchronize against. The production implementation speaks WebDAV; tests
// inject the in-memory store.
package remote

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a remote path does not exist.
var ErrNotFound = errors.New("remote path not found")

// FileInfo describes one remote directory entry.
type FileInfo struct {
	Name  string
	IsDir bool
	Size  int64
}

// Store is the remote storage capability: list, exists, mkdir, get, put,
// delete. Paths are slash-separated and relative to the store's root.
type Store interface {
	// ReadDir lists the entries of a remote directory.
	ReadDir(ctx context.Context, path string) ([]FileInfo, error)

	// Exists reports whether a remote path exists.
	Exists(ctx context.Context, path string) (bool, error)

	// MkdirAll creates a remote directory and any missing parents.
	MkdirAll(ctx context.Context, path string) error

	// ReadFile returns a remote file's contents.
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// WriteFile stores data at a remote path, creating parents as needed.
	WriteFile(ctx context.Context, path string, data []byte) error

	// WriteFrom streams a local file to a remote path.
	WriteFrom(ctx context.Context, remotePath, localPath string) error

	// FetchTo streams a remote file to a local path, creating parent
	// directories as needed.
	FetchTo(ctx context.Context, remotePath, localPath string) error

	// Delete removes a remote file or directory tree.
	Delete(ctx context.Context, path string) error
}
