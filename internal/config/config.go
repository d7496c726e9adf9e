// Package config loads and validates the scandoc configuration from
// scandoc.yaml and the SCANDOC_* environment, and watches the file so that
// runtime-tunable settings apply without a restart.
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spf13/viper"
)

// FileName is the config file looked up in the base directory.
const FileName = "scandoc.yaml"

// WebDAV configures the remote store. A zero URL disables sync.
type WebDAV struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	// Token is a bearer token used instead of basic auth when set.
	Token  string `mapstructure:"token"`
	Folder string `mapstructure:"folder"`
}

// Configured reports whether a remote endpoint is set up.
func (w WebDAV) Configured() bool {
	return w.URL != ""
}

// Sync configures the synchronization engine's scheduler.
type Sync struct {
	Auto     bool          `mapstructure:"auto"`
	Cooldown time.Duration `mapstructure:"cooldown"`
}

// Image configures encoding of rendered page images.
type Image struct {
	Format  string `mapstructure:"format"`
	Quality int    `mapstructure:"quality"`
}

// Document configures new-document defaults.
type Document struct {
	// NameLayout is the Go time layout default document names derive from.
	NameLayout string `mapstructure:"name_layout"`
}

// Dashboard configures the WebSocket event broadcast server.
type Dashboard struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Log configures file logging. An empty File logs to stderr.
type Log struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// Config is the full scandoc configuration.
type Config struct {
	// DataDir is the root of the on-disk document layout.
	DataDir string `mapstructure:"data_dir"`
	// DBPath is the SQLite database file.
	DBPath string `mapstructure:"db_path"`
	// StatePath is the sync engine's pending-deletion list.
	StatePath string `mapstructure:"state_path"`

	Log       Log       `mapstructure:"log"`
	Document  Document  `mapstructure:"document"`
	Image     Image     `mapstructure:"image"`
	WebDAV    WebDAV    `mapstructure:"webdav"`
	Sync      Sync      `mapstructure:"sync"`
	Dashboard Dashboard `mapstructure:"dashboard"`
}

// Validate checks ranges and cross-field requirements.
func (c *Config) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.DataDir, validation.Required),
		validation.Field(&c.DBPath, validation.Required),
		validation.Field(&c.Image),
		validation.Field(&c.WebDAV),
		validation.Field(&c.Dashboard),
	)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (i Image) Validate() error {
	return validation.ValidateStruct(&i,
		validation.Field(&i.Format, validation.Required, validation.In("jpg", "png")),
		validation.Field(&i.Quality, validation.Min(1), validation.Max(100)),
	)
}

func (w WebDAV) Validate() error {
	return validation.ValidateStruct(&w,
		validation.Field(&w.Folder, validation.Required.When(w.Configured())),
	)
}

func (d Dashboard) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Port, validation.Min(1), validation.Max(65535)),
	)
}

// Loader reads the configuration and republishes it on file changes.
type Loader struct {
	v      *viper.Viper
	logger *log.Logger

	mu       sync.Mutex
	current  *Config
	onChange []func(*Config)
}

// NewLoader creates a loader rooted at baseDir. The config file is optional;
// defaults and SCANDOC_* environment variables apply either way. A nil
// logger logs to stderr.
func NewLoader(baseDir string, logger *log.Logger) *Loader {
	if logger == nil {
		logger = log.New(os.Stderr, "[config] ", log.LstdFlags)
	}
	v := viper.New()
	v.SetConfigFile(filepath.Join(baseDir, FileName))
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SCANDOC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("data_dir", filepath.Join(baseDir, "data"))
	v.SetDefault("db_path", filepath.Join(baseDir, "scandoc.db"))
	v.SetDefault("state_path", filepath.Join(baseDir, "sync-pending.json"))
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("document.name_layout", "")
	v.SetDefault("image.format", "jpg")
	v.SetDefault("image.quality", 90)
	// Every key needs a registered default so environment-only overrides
	// survive Unmarshal.
	v.SetDefault("webdav.url", "")
	v.SetDefault("webdav.username", "")
	v.SetDefault("webdav.password", "")
	v.SetDefault("webdav.token", "")
	v.SetDefault("webdav.folder", "scandoc")
	v.SetDefault("sync.auto", true)
	v.SetDefault("sync.cooldown", time.Second)
	v.SetDefault("dashboard.enabled", false)
	v.SetDefault("dashboard.port", 8414)

	return &Loader{v: v, logger: logger}
}

// Load reads, decodes and validates the configuration. A missing config
// file is not an error.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	cfg, err := l.decode()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()
	return cfg, nil
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Current returns the most recently loaded configuration, or nil before
// the first Load.
func (l *Loader) Current() *Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// OnChange registers a callback invoked with the fresh configuration after
// every successful reload. Register before calling Watch.
func (l *Loader) OnChange(fn func(*Config)) {
	l.mu.Lock()
	l.onChange = append(l.onChange, fn)
	l.mu.Unlock()
}

// Watch starts watching the config file. A rewrite that fails to decode or
// validate is logged and ignored; the previous configuration stays active.
func (l *Loader) Watch() {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.decode()
		if err != nil {
			l.logger.Printf("config reload ignored: %v", err)
			return
		}
		l.mu.Lock()
		l.current = cfg
		callbacks := make([]func(*Config), len(l.onChange))
		copy(callbacks, l.onChange)
		l.mu.Unlock()
		l.logger.Printf("config reloaded from %s", e.Name)
		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	l.v.WatchConfig()
}
