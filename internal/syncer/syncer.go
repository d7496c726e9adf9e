// Package syncer reconciles the local document set against a remote store,
// per entity, using set-difference plus timestamp-driven field and image
// merge.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"sync"
	"time"

	"scandoc/internal/docs"
	"scandoc/internal/imaging"
	"scandoc/internal/model"
	"scandoc/internal/remote"
	"scandoc/internal/store"
)

// ErrSyncRunning is returned when a sync is requested while one is already
// in progress. The caller must re-trigger later for a guaranteed fresh run.
var ErrSyncRunning = errors.New("sync already running")

// ErrSchemaTooNew is returned when a remote manifest was written by a
// newer schema generation than this installation knows.
var ErrSchemaTooNew = errors.New("remote document requires a newer app version")

// DefaultCooldown is the minimum interval between auto-triggered runs.
const DefaultCooldown = time.Second

// Config configures the engine's scheduling and remote layout.
type Config struct {
	// RemoteFolder is the root under which document folders live remotely.
	RemoteFolder string
	// Auto enables event-triggered background sync.
	Auto bool
	// Cooldown rate-limits auto-triggered runs. Zero means DefaultCooldown.
	Cooldown time.Duration
}

// Syncer is the synchronization engine. All collaborators are injected; a
// nil remote store disables the engine entirely.
type Syncer struct {
	docs    *docs.Service
	remote  remote.Store
	deriver imaging.Deriver
	bus     *model.Bus
	state   *State
	cfg     Config
	logger  *log.Logger

	mu          sync.Mutex
	running     bool
	lastRun     time.Time
	pendingFull bool
	auto        bool

	trigger chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	unsub   func()
}

// New creates the engine. A nil logger logs to stderr.
func New(docsSvc *docs.Service, remoteStore remote.Store, deriver imaging.Deriver, bus *model.Bus, state *State, cfg Config, logger *log.Logger) *Syncer {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	return &Syncer{
		docs:    docsSvc,
		remote:  remoteStore,
		deriver: deriver,
		bus:     bus,
		state:   state,
		cfg:     cfg,
		logger:  logger,
		auto:    cfg.Auto,
		trigger: make(chan struct{}, 1),
	}
}

// Enabled reports whether a remote store is configured.
func (s *Syncer) Enabled() bool {
	return s.remote != nil
}

// SetAuto toggles event-triggered background sync at runtime (wired to
// config reload).
func (s *Syncer) SetAuto(v bool) {
	s.mu.Lock()
	s.auto = v
	s.mu.Unlock()
}

// PendingDeletions returns the queued remote deletions.
func (s *Syncer) PendingDeletions() []string {
	return s.state.Pending()
}

// TestConnection verifies the remote folder is reachable.
func (s *Syncer) TestConnection(ctx context.Context) error {
	if !s.Enabled() {
		return fmt.Errorf("no remote configured")
	}
	if _, err := s.remote.Exists(ctx, s.cfg.RemoteFolder); err != nil {
		return err
	}
	return nil
}

// Start subscribes to document events and launches the scheduler. It is a
// no-op when no remote store is configured.
func (s *Syncer) Start(ctx context.Context) {
	if !s.Enabled() {
		s.logger.Printf("sync disabled: no remote configured")
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.unsub = s.bus.Subscribe(s.onEvent)
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop cancels the scheduler and waits for any in-flight run to finish.
func (s *Syncer) Stop() {
	if s.cancel == nil {
		return
	}
	s.unsub()
	s.cancel()
	s.wg.Wait()
	s.cancel = nil
}

func (s *Syncer) onEvent(e model.Event) {
	switch ev := e.(type) {
	case model.DocumentAdded:
		s.Request(false)
	case model.DocumentUpdated:
		if ev.UpdateModified {
			s.Request(false)
		}
	case model.DocumentsDeleted:
		ids := make([]string, len(ev.Docs))
		for i, d := range ev.Docs {
			ids[i] = d.ID
		}
		if err := s.state.Add(ids...); err != nil {
			s.logger.Printf("queue remote deletions: %v", err)
		}
		s.Request(false)
	}
}

// Request asks the scheduler for a run. Bursts collapse into one pending
// trigger; a full (two-way) request stays sticky until a full run happens.
func (s *Syncer) Request(full bool) {
	s.mu.Lock()
	if full {
		s.pendingFull = true
	}
	s.mu.Unlock()
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// loop is the scheduler: single-flight, cooldown between runs, triggers
// collapsed while busy.
func (s *Syncer) loop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.trigger:
		}

		s.mu.Lock()
		wait := s.cfg.Cooldown - time.Since(s.lastRun)
		auto := s.auto
		s.mu.Unlock()
		if !auto {
			continue
		}
		if wait > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}

		s.mu.Lock()
		full := s.pendingFull
		s.pendingFull = false
		s.mu.Unlock()

		if err := s.Sync(ctx, full); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Printf("sync failed: %v", err)
		}
	}
}

// Sync runs one reconciliation pass. full requests two-way reconciliation;
// otherwise only unsynced local documents and pending deletions are
// pushed. A run already in progress returns ErrSyncRunning immediately.
// The running state always clears, and SyncStateChanged events bracket the
// run.
func (s *Syncer) Sync(ctx context.Context, full bool) (err error) {
	if !s.Enabled() {
		return fmt.Errorf("no remote configured")
	}
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSyncRunning
	}
	s.running = true
	s.lastRun = time.Now()
	s.mu.Unlock()

	s.publish(model.SyncStateChanged{State: model.SyncRunning})
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		s.publish(model.SyncStateChanged{State: model.SyncIdle, Err: err})
	}()

	return s.run(ctx, full)
}

func (s *Syncer) run(ctx context.Context, full bool) error {
	locals, err := s.docs.List(ctx, store.ListFilter{})
	if err != nil {
		return err
	}
	pending := s.state.Pending()

	if !full && !needsWork(locals, pending) {
		return nil
	}

	if err := s.ensureRemoteFolder(ctx); err != nil {
		return err
	}
	entries, err := s.remote.ReadDir(ctx, s.cfg.RemoteFolder)
	if err != nil {
		return err
	}

	part := partition(locals, remoteDirs(entries), func(d *docs.Document, fi remote.FileInfo) bool {
		return d.ID == fi.Name
	})

	var errs []error

	// Queued deletions first: a remote folder whose local document is gone
	// is removed rather than pulled back.
	for _, id := range pending {
		i := indexOfRemote(part.ToAdd, id)
		if i < 0 {
			// Nothing left to delete remotely
			if err := s.state.Remove(id); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		part.ToAdd = append(part.ToAdd[:i], part.ToAdd[i+1:]...)
		if err := s.remote.Delete(ctx, path.Join(s.cfg.RemoteFolder, id)); err != nil {
			errs = append(errs, fmt.Errorf("delete remote %s: %w", id, err))
			continue
		}
		if err := s.state.Remove(id); err != nil {
			errs = append(errs, err)
		}
	}

	// Local documents with no remote counterpart are pushed in full.
	for _, d := range part.ToDelete {
		if err := s.pushDocument(ctx, d); err != nil {
			errs = append(errs, fmt.Errorf("push %s: %w", d.ID, err))
		}
	}

	// Remote documents with no local counterpart are pulled, two-way only.
	if full {
		for _, fi := range part.ToAdd {
			if err := s.importDocument(ctx, fi.Name); err != nil {
				errs = append(errs, fmt.Errorf("import %s: %w", fi.Name, err))
			}
		}
	}

	// Matched pairs merge per document; one document's failure does not
	// abort the rest of the run.
	for _, pair := range part.Union {
		if err := s.mergeDocument(ctx, pair.Local); err != nil {
			errs = append(errs, fmt.Errorf("merge %s: %w", pair.Local.ID, err))
		}
	}

	return errors.Join(errs...)
}

func (s *Syncer) ensureRemoteFolder(ctx context.Context) error {
	ok, err := s.remote.Exists(ctx, s.cfg.RemoteFolder)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return s.remote.MkdirAll(ctx, s.cfg.RemoteFolder)
}

func (s *Syncer) docPath(id string) string {
	return path.Join(s.cfg.RemoteFolder, id)
}

func (s *Syncer) publish(e model.Event) {
	if s.bus != nil {
		s.bus.Publish(e)
	}
}

func needsWork(locals []*docs.Document, pending []string) bool {
	if len(pending) > 0 {
		return true
	}
	for _, d := range locals {
		if d.Synced == 0 {
			return true
		}
	}
	return false
}

func indexOfRemote(entries []remote.FileInfo, name string) int {
	for i, e := range entries {
		if e.Name == name {
			return i
		}
	}
	return -1
}
