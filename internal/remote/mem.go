package remote

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Mem is an in-memory Store used by tests. Directories exist implicitly
// once created or once a file lives under them.
type Mem struct {
	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string]bool
}

// NewMem creates an empty in-memory store with an existing root.
func NewMem() *Mem {
	return &Mem{
		files: make(map[string][]byte),
		dirs:  map[string]bool{"": true, ".": true, "/": true},
	}
}

func norm(path string) string {
	path = strings.Trim(path, "/")
	if path == "." {
		return ""
	}
	return path
}

func (m *Mem) ReadDir(ctx context.Context, path string) ([]FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path = norm(path)
	if !m.dirExistsLocked(path) {
		return nil, fmt.Errorf("list %s: %w", path, ErrNotFound)
	}

	prefix := path
	if prefix != "" {
		prefix += "/"
	}
	seen := map[string]FileInfo{}
	for name, data := range m.files {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		rest := name[len(prefix):]
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			seen[rest[:i]] = FileInfo{Name: rest[:i], IsDir: true}
		} else {
			seen[rest] = FileInfo{Name: rest, Size: int64(len(data))}
		}
	}
	for dir := range m.dirs {
		if dir == "" || !strings.HasPrefix(dir, prefix) {
			continue
		}
		rest := dir[len(prefix):]
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			rest = rest[:i]
		}
		if rest != "" {
			seen[rest] = FileInfo{Name: rest, IsDir: true}
		}
	}

	infos := make([]FileInfo, 0, len(seen))
	for _, info := range seen {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (m *Mem) Exists(ctx context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	path = norm(path)
	if _, ok := m.files[path]; ok {
		return true, nil
	}
	return m.dirExistsLocked(path), nil
}

func (m *Mem) dirExistsLocked(path string) bool {
	if path == "" || m.dirs[path] {
		return true
	}
	prefix := path + "/"
	for name := range m.files {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	for dir := range m.dirs {
		if strings.HasPrefix(dir, prefix) {
			return true
		}
	}
	return false
}

func (m *Mem) MkdirAll(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirs[norm(path)] = true
	return nil
}

func (m *Mem) ReadFile(ctx context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[norm(path)]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", path, ErrNotFound)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *Mem) WriteFile(ctx context.Context, path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := make([]byte, len(data))
	copy(stored, data)
	m.files[norm(path)] = stored
	return nil
}

func (m *Mem) WriteFrom(ctx context.Context, remotePath, localPath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	return m.WriteFile(ctx, remotePath, data)
}

func (m *Mem) FetchTo(ctx context.Context, remotePath, localPath string) error {
	data, err := m.ReadFile(ctx, remotePath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(localPath), err)
	}
	return os.WriteFile(localPath, data, 0644)
}

func (m *Mem) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path = norm(path)
	delete(m.files, path)
	delete(m.dirs, path)
	prefix := path + "/"
	for name := range m.files {
		if strings.HasPrefix(name, prefix) {
			delete(m.files, name)
		}
	}
	for dir := range m.dirs {
		if strings.HasPrefix(dir, prefix) {
			delete(m.dirs, dir)
		}
	}
	return nil
}
