package remote

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/studio-b12/gowebdav"
)

// Config describes the WebDAV endpoint documents synchronize against.
type Config struct {
	// URL is the base URL of the WebDAV server, including any path prefix.
	URL      string
	Username string
	Password string
	// Token, when set, is sent as a bearer token instead of basic auth.
	Token string
}

// Configured reports whether the config names a usable endpoint.
func (c Config) Configured() bool {
	return c.URL != ""
}

// WebDAV is the Store implementation backed by a WebDAV server.
//
// The underlying client manages its own timeouts; contexts are honored at
// call boundaries but do not cancel in-flight transfers.
type WebDAV struct {
	client *gowebdav.Client
}

// NewWebDAV creates a WebDAV store from the config.
func NewWebDAV(cfg Config) (*WebDAV, error) {
	if !cfg.Configured() {
		return nil, fmt.Errorf("webdav url is required")
	}
	client := gowebdav.NewClient(cfg.URL, cfg.Username, cfg.Password)
	if cfg.Token != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.Token)
	}
	return &WebDAV{client: client}, nil
}

func (w *WebDAV) ReadDir(ctx context.Context, path string) ([]FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := w.client.ReadDir(path)
	if err != nil {
		return nil, wrapErr("list", path, err)
	}
	infos := make([]FileInfo, len(entries))
	for i, e := range entries {
		infos[i] = FileInfo{Name: e.Name(), IsDir: e.IsDir(), Size: e.Size()}
	}
	return infos, nil
}

func (w *WebDAV) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := w.client.Stat(path)
	if err != nil {
		if gowebdav.IsErrNotFound(err) {
			return false, nil
		}
		return false, wrapErr("stat", path, err)
	}
	return true, nil
}

func (w *WebDAV) MkdirAll(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := w.client.MkdirAll(path, 0755); err != nil {
		return wrapErr("mkdir", path, err)
	}
	return nil
}

func (w *WebDAV) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := w.client.Read(path)
	if err != nil {
		return nil, wrapErr("read", path, err)
	}
	return data, nil
}

func (w *WebDAV) WriteFile(ctx context.Context, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := w.client.Write(path, data, 0644); err != nil {
		return wrapErr("write", path, err)
	}
	return nil
}

func (w *WebDAV) WriteFrom(ctx context.Context, remotePath, localPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()
	if err := w.client.WriteStream(remotePath, f, 0644); err != nil {
		return wrapErr("upload", remotePath, err)
	}
	return nil
}

func (w *WebDAV) FetchTo(ctx context.Context, remotePath, localPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stream, err := w.client.ReadStream(remotePath)
	if err != nil {
		return wrapErr("download", remotePath, err)
	}
	defer stream.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(localPath), err)
	}
	out, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", localPath, err)
	}
	defer out.Close()
	if _, err := out.ReadFrom(stream); err != nil {
		return fmt.Errorf("download %s: %w", remotePath, err)
	}
	return out.Close()
}

func (w *WebDAV) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := w.client.RemoveAll(path); err != nil {
		return wrapErr("delete", path, err)
	}
	return nil
}

func wrapErr(op, path string, err error) error {
	if gowebdav.IsErrNotFound(err) {
		return fmt.Errorf("%s %s: %w", op, path, ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", op, path, err)
}
