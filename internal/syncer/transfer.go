package syncer

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"

	"scandoc/internal/remote"
)

// pushTree recursively uploads a local directory to a remote path.
func (s *Syncer) pushTree(ctx context.Context, localDir, remotePath string) error {
	if err := s.remote.MkdirAll(ctx, remotePath); err != nil {
		return err
	}
	entries, err := os.ReadDir(localDir)
	if err != nil {
		return fmt.Errorf("read %s: %w", localDir, err)
	}
	for _, e := range entries {
		local := filepath.Join(localDir, e.Name())
		dest := path.Join(remotePath, e.Name())
		if e.IsDir() {
			if err := s.pushTree(ctx, local, dest); err != nil {
				return err
			}
			continue
		}
		if err := s.remote.WriteFrom(ctx, dest, local); err != nil {
			return err
		}
	}
	return nil
}

// pullTree recursively downloads a remote directory into a local one,
// skipping the named entries (the manifest is attached separately).
func (s *Syncer) pullTree(ctx context.Context, remotePath, localDir string, ignore ...string) error {
	entries, err := s.remote.ReadDir(ctx, remotePath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(localDir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", localDir, err)
	}
	for _, e := range entries {
		if slices.Contains(ignore, e.Name) {
			continue
		}
		src := path.Join(remotePath, e.Name)
		local := filepath.Join(localDir, e.Name)
		if e.IsDir {
			if err := s.pullTree(ctx, src, local); err != nil {
				return err
			}
			continue
		}
		if err := s.remote.FetchTo(ctx, src, local); err != nil {
			return err
		}
	}
	return nil
}

// remoteDirs filters a listing down to its directories.
func remoteDirs(entries []remote.FileInfo) []remote.FileInfo {
	dirs := entries[:0:0]
	for _, e := range entries {
		if e.IsDir {
			dirs = append(dirs, e)
		}
	}
	return dirs
}
