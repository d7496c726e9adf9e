package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := NewLoader(dir, nil).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataDir != filepath.Join(dir, "data") {
		t.Errorf("data_dir = %q", cfg.DataDir)
	}
	if cfg.DBPath != filepath.Join(dir, "scandoc.db") {
		t.Errorf("db_path = %q", cfg.DBPath)
	}
	if cfg.Image.Format != "jpg" || cfg.Image.Quality != 90 {
		t.Errorf("image defaults = %+v", cfg.Image)
	}
	if !cfg.Sync.Auto || cfg.Sync.Cooldown != time.Second {
		t.Errorf("sync defaults = %+v", cfg.Sync)
	}
	if cfg.WebDAV.Configured() {
		t.Error("webdav configured without a url")
	}
	if cfg.Dashboard.Enabled {
		t.Error("dashboard enabled by default")
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
data_dir: /srv/scandoc/data
webdav:
  url: https://dav.example.com/remote.php/webdav
  username: scanner
  password: hunter2
sync:
  auto: false
  cooldown: 5s
image:
  format: png
dashboard:
  enabled: true
  port: 9000
`)
	cfg, err := NewLoader(dir, nil).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataDir != "/srv/scandoc/data" {
		t.Errorf("data_dir = %q", cfg.DataDir)
	}
	if !cfg.WebDAV.Configured() || cfg.WebDAV.Username != "scanner" {
		t.Errorf("webdav = %+v", cfg.WebDAV)
	}
	if cfg.WebDAV.Folder != "scandoc" {
		t.Errorf("webdav folder default = %q", cfg.WebDAV.Folder)
	}
	if cfg.Sync.Auto || cfg.Sync.Cooldown != 5*time.Second {
		t.Errorf("sync = %+v", cfg.Sync)
	}
	if cfg.Image.Format != "png" || cfg.Image.Quality != 90 {
		t.Errorf("image = %+v", cfg.Image)
	}
	if !cfg.Dashboard.Enabled || cfg.Dashboard.Port != 9000 {
		t.Errorf("dashboard = %+v", cfg.Dashboard)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SCANDOC_SYNC_AUTO", "false")
	t.Setenv("SCANDOC_WEBDAV_URL", "https://dav.example.com")

	cfg, err := NewLoader(dir, nil).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sync.Auto {
		t.Error("env override of sync.auto not applied")
	}
	if cfg.WebDAV.URL != "https://dav.example.com" {
		t.Errorf("webdav url = %q", cfg.WebDAV.URL)
	}
}

func TestLoad_RejectsBadValues(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"bad format", "image:\n  format: webp\n"},
		{"quality out of range", "image:\n  quality: 150\n"},
		{"bad port", "dashboard:\n  port: 123456\n"},
		{"webdav without folder", "webdav:\n  url: https://dav.example.com\n  folder: \"\"\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, tc.content)
			if _, err := NewLoader(dir, nil).Load(); err == nil {
				t.Error("Load accepted invalid config")
			}
		})
	}
}

func TestLoader_Current(t *testing.T) {
	dir := t.TempDir()
	l := NewLoader(dir, nil)
	if l.Current() != nil {
		t.Error("Current() non-nil before Load")
	}
	cfg, err := l.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if l.Current() != cfg {
		t.Error("Current() does not return the loaded config")
	}
}
