package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"scandoc/internal/config"
	"scandoc/internal/docs"
	"scandoc/internal/imaging"
	"scandoc/internal/model"
	"scandoc/internal/remote"
	"scandoc/internal/store"
	"scandoc/internal/syncer"
)

var rootCmd = &cobra.Command{
	Use:   "scandoc",
	Short: "Local-first scanned document manager with WebDAV sync",
	Long: `scandoc keeps a library of scanned documents on disk and in a local
SQLite database, and synchronizes it bidirectionally with a WebDAV remote.

Configuration is read from <dir>/scandoc.yaml and SCANDOC_* environment
variables. Without a configured WebDAV remote all document operations work
locally and sync is disabled.`,
	SilenceUsage: true,
}

var baseDir string

func init() {
	rootCmd.PersistentFlags().StringVar(&baseDir, "dir", defaultBaseDir(),
		"base directory for config, database and document files")
}

func defaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".scandoc"
	}
	return filepath.Join(home, ".scandoc")
}

// app wires the full component graph for one command invocation.
type app struct {
	cfg    *config.Config
	loader *config.Loader
	db     *store.DB
	bus    *model.Bus
	svc    *docs.Service
	sync   *syncer.Syncer

	logWriter io.Writer
}

func newApp() (*app, error) {
	loader := config.NewLoader(baseDir, nil)
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}

	var logWriter io.Writer = os.Stderr
	if cfg.Log.File != "" {
		logWriter = &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
		}
	}
	logger := func(prefix string) *log.Logger {
		return log.New(logWriter, prefix, log.LstdFlags)
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	bus := model.NewBus()
	imgOpts := imaging.Options{Format: cfg.Image.Format, Quality: cfg.Image.Quality}
	deriver := imaging.NewRaster(imgOpts)
	svc := docs.NewService(db, deriver, bus, docs.Options{
		DataDir:    cfg.DataDir,
		NameLayout: cfg.Document.NameLayout,
		Image:      imgOpts,
	}, logger("[docs] "))

	var remoteStore remote.Store
	if cfg.WebDAV.Configured() {
		dav, err := remote.NewWebDAV(remote.Config{
			URL:      cfg.WebDAV.URL,
			Username: cfg.WebDAV.Username,
			Password: cfg.WebDAV.Password,
			Token:    cfg.WebDAV.Token,
		})
		if err != nil {
			db.Close()
			return nil, err
		}
		remoteStore = dav
	}

	state, err := syncer.LoadState(cfg.StatePath)
	if err != nil {
		db.Close()
		return nil, err
	}
	sync := syncer.New(svc, remoteStore, deriver, bus, state, syncer.Config{
		RemoteFolder: cfg.WebDAV.Folder,
		Auto:         cfg.Sync.Auto,
		Cooldown:     cfg.Sync.Cooldown,
	}, logger("[sync] "))

	return &app{
		cfg:       cfg,
		loader:    loader,
		db:        db,
		bus:       bus,
		svc:       svc,
		sync:      sync,
		logWriter: logWriter,
	}, nil
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: closing database: %v\n", err)
	}
}

func (a *app) logger(prefix string) *log.Logger {
	return log.New(a.logWriter, prefix, log.LstdFlags)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
