package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"scandoc/internal/docs"
	"scandoc/internal/imaging"
	"scandoc/internal/model"
	"scandoc/internal/remote"
	"scandoc/internal/store"
)

type fakeDeriver struct {
	mu      sync.Mutex
	derives int
}

func (f *fakeDeriver) Derive(ctx context.Context, sourcePath, destPath string, quad imaging.Quad, transforms string) (*imaging.Result, error) {
	f.mu.Lock()
	f.derives++
	f.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(destPath, []byte("derived"), 0o644); err != nil {
		return nil, err
	}
	return &imaging.Result{Width: 80, Height: 60, Size: 7}, nil
}

func (f *fakeDeriver) Encode(data []byte, destPath string) (*imaging.Result, error) {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(destPath, data, 0o644); err != nil {
		return nil, err
	}
	return &imaging.Result{Width: 100, Height: 200, Size: int64(len(data))}, nil
}

func (f *fakeDeriver) deriveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.derives
}

type syncFixture struct {
	svc     *docs.Service
	mem     *remote.Mem
	bus     *model.Bus
	state   *State
	deriver *fakeDeriver
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newFixture(t *testing.T) *syncFixture {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "docs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	deriver := &fakeDeriver{}
	bus := model.NewBus()
	svc := docs.NewService(db, deriver, bus, docs.Options{
		DataDir:      filepath.Join(dir, "data"),
		BatchWorkers: 2,
	}, quietLogger())

	state, err := LoadState(filepath.Join(dir, "pending.json"))
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	return &syncFixture{svc: svc, mem: remote.NewMem(), bus: bus, state: state, deriver: deriver}
}

func newTestSyncer(t *testing.T) (*Syncer, *syncFixture) {
	t.Helper()
	fx := newFixture(t)
	s := New(fx.svc, fx.mem, fx.deriver, fx.bus, fx.state, Config{RemoteFolder: "scans"}, quietLogger())
	return s, fx
}

func createDocument(t *testing.T, fx *syncFixture, pages int) *docs.Document {
	t.Helper()
	ins := make([]docs.PageInput, pages)
	for i := range ins {
		ins[i] = docs.PageInput{ImageData: []byte(fmt.Sprintf("capture-%d", i))}
	}
	d, err := fx.svc.CreateDocument(context.Background(), ins, nil)
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	return d
}

func reload(t *testing.T, fx *syncFixture, id string) *docs.Document {
	t.Helper()
	d, err := fx.svc.Load(context.Background(), id)
	if err != nil {
		t.Fatalf("Load %s: %v", id, err)
	}
	return d
}

func remoteManifest(t *testing.T, fx *syncFixture, id string) *model.Document {
	t.Helper()
	data, err := fx.mem.ReadFile(context.Background(), "scans/"+id+"/data.json")
	if err != nil {
		t.Fatalf("read remote manifest: %v", err)
	}
	m, err := model.DecodeManifest(data)
	if err != nil {
		t.Fatalf("decode remote manifest: %v", err)
	}
	return m.Materialize()
}

func writeRemoteManifest(t *testing.T, fx *syncFixture, doc *model.Document) {
	t.Helper()
	data, err := doc.Manifest().Encode()
	if err != nil {
		t.Fatalf("encode manifest: %v", err)
	}
	if err := fx.mem.WriteFile(context.Background(), "scans/"+doc.ID+"/data.json", data); err != nil {
		t.Fatalf("write remote manifest: %v", err)
	}
}

func TestSync_PushesUnsyncedDocument(t *testing.T) {
	s, fx := newTestSyncer(t)
	ctx := context.Background()
	d := createDocument(t, fx, 2)

	if err := s.Sync(ctx, false); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	rdoc := remoteManifest(t, fx, d.ID)
	if rdoc.ID != d.ID || len(rdoc.Pages) != 2 {
		t.Fatalf("remote manifest = %s with %d pages, want %s with 2", rdoc.ID, len(rdoc.Pages), d.ID)
	}
	for _, p := range d.Pages {
		remoteFile := "scans/" + d.ID + "/" + p.ID + "/" + filepath.Base(p.ImagePath)
		data, err := fx.mem.ReadFile(ctx, remoteFile)
		if err != nil {
			t.Fatalf("page image not uploaded to %s: %v", remoteFile, err)
		}
		local, err := os.ReadFile(p.ImagePath)
		if err != nil {
			t.Fatalf("read local image: %v", err)
		}
		if string(data) != string(local) {
			t.Errorf("uploaded bytes differ for %s", p.ID)
		}
	}
	if got := reload(t, fx, d.ID); got.Synced != 1 {
		t.Errorf("synced = %d after push, want 1", got.Synced)
	}
}

func TestSync_OneWaySkipsWhenNothingChanged(t *testing.T) {
	s, fx := newTestSyncer(t)
	ctx := context.Background()
	d := createDocument(t, fx, 1)
	if err := s.Sync(ctx, false); err != nil {
		t.Fatalf("initial push: %v", err)
	}

	// Mutate the remote manifest; a one-way run with everything synced
	// must not even look at it.
	rdoc := reload(t, fx, d.ID).Document.Clone()
	rdoc.ModifiedDate += 60_000
	rdoc.Name = "should not leak"
	writeRemoteManifest(t, fx, rdoc)

	if err := s.Sync(ctx, false); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if got := reload(t, fx, d.ID); got.Name == "should not leak" {
		t.Errorf("one-way sync pulled remote changes")
	}
}

func TestSync_DoesNotPullMissingDocumentsOneWay(t *testing.T) {
	s, fx := newTestSyncer(t)
	ctx := context.Background()
	local := createDocument(t, fx, 1)

	remoteOnly := remoteOnlyDocument("777777", 1)
	writeRemoteManifest(t, fx, remoteOnly)

	if err := s.Sync(ctx, false); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if _, err := fx.svc.Load(ctx, "777777"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("one-way sync imported a remote-only document (err = %v)", err)
	}
	if got := reload(t, fx, local.ID); got.Synced != 1 {
		t.Errorf("local document not pushed, synced = %d", got.Synced)
	}
}

func TestSync_ImportsRemoteDocumentTwoWay(t *testing.T) {
	s, fx := newTestSyncer(t)
	ctx := context.Background()

	rdoc := remoteOnlyDocument("888888", 1)
	writeRemoteManifest(t, fx, rdoc)
	pageFile := "scans/888888/" + rdoc.Pages[0].ID + "/image.jpg"
	if err := fx.mem.WriteFile(ctx, pageFile, []byte("remote-raster")); err != nil {
		t.Fatalf("seed remote page: %v", err)
	}

	var added []model.DocumentAdded
	unsub := fx.bus.Subscribe(func(e model.Event) {
		if ev, ok := e.(model.DocumentAdded); ok {
			added = append(added, ev)
		}
	})
	defer unsub()

	if err := s.Sync(ctx, true); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	got := reload(t, fx, "888888")
	if got.Synced != 1 {
		t.Errorf("imported document synced = %d, want 1", got.Synced)
	}
	if len(got.Pages) != 1 {
		t.Fatalf("imported pages = %d, want 1", len(got.Pages))
	}
	p := got.Pages[0]
	wantPath := filepath.Join(fx.svc.DocumentDir("888888"), p.ID, "image.jpg")
	if p.ImagePath != wantPath {
		t.Errorf("imagePath = %q, want %q", p.ImagePath, wantPath)
	}
	data, err := os.ReadFile(p.ImagePath)
	if err != nil {
		t.Fatalf("read pulled image: %v", err)
	}
	if string(data) != "remote-raster" {
		t.Errorf("pulled image = %q", data)
	}
	if len(added) != 1 || added[0].Doc.ID != "888888" {
		t.Errorf("document_added events = %v, want one for 888888", added)
	}
}

func TestSync_RejectsNewerSchema(t *testing.T) {
	s, fx := newTestSyncer(t)
	ctx := context.Background()

	rdoc := remoteOnlyDocument("999999", 1)
	m := rdoc.Manifest()
	m.DBVersion = model.DBVersion + 1
	data, err := m.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := fx.mem.WriteFile(ctx, "scans/999999/data.json", data); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err = s.Sync(ctx, true)
	if !errors.Is(err, ErrSchemaTooNew) {
		t.Fatalf("Sync err = %v, want ErrSchemaTooNew", err)
	}
	if _, err := fx.svc.Load(ctx, "999999"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("rejected document was materialized locally (err = %v)", err)
	}
}

type failingFetch struct {
	*remote.Mem
}

func (f failingFetch) FetchTo(ctx context.Context, remotePath, localPath string) error {
	return errors.New("connection reset")
}

func TestSync_ImportRollsBackOnPullFailure(t *testing.T) {
	fx := newFixture(t)
	s := New(fx.svc, failingFetch{fx.mem}, fx.deriver, fx.bus, fx.state, Config{RemoteFolder: "scans"}, quietLogger())
	ctx := context.Background()

	rdoc := remoteOnlyDocument("555555", 1)
	writeRemoteManifest(t, fx, rdoc)
	pageFile := "scans/555555/" + rdoc.Pages[0].ID + "/image.jpg"
	if err := fx.mem.WriteFile(ctx, pageFile, []byte("raster")); err != nil {
		t.Fatalf("seed remote page: %v", err)
	}

	if err := s.Sync(ctx, true); err == nil {
		t.Fatal("Sync succeeded, want pull failure")
	}
	if _, err := fx.svc.Load(ctx, "555555"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("partial import not rolled back (err = %v)", err)
	}
	if _, err := os.Stat(fx.svc.DocumentDir("555555")); !os.IsNotExist(err) {
		t.Errorf("partial document folder left behind: %v", err)
	}
}

func TestSync_ProcessesQueuedDeletions(t *testing.T) {
	s, fx := newTestSyncer(t)
	ctx := context.Background()
	d := createDocument(t, fx, 1)
	if err := s.Sync(ctx, false); err != nil {
		t.Fatalf("push: %v", err)
	}

	if err := fx.svc.DeleteDocuments(ctx, []*docs.Document{d}); err != nil {
		t.Fatalf("DeleteDocuments: %v", err)
	}
	s.onEvent(model.DocumentsDeleted{Docs: []*model.Document{d.Document}})
	if got := fx.state.Pending(); len(got) != 1 || got[0] != d.ID {
		t.Fatalf("pending = %v, want [%s]", got, d.ID)
	}
	// An id that never made it to the remote drains without an error.
	if err := fx.state.Add("ghost"); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := s.Sync(ctx, false); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	ok, err := fx.mem.Exists(ctx, "scans/"+d.ID)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if ok {
		t.Errorf("remote folder for %s still exists", d.ID)
	}
	if got := fx.state.Pending(); len(got) != 0 {
		t.Errorf("pending after sync = %v, want empty", got)
	}
}

func TestStart_SubscribesDeletionEvents(t *testing.T) {
	s, fx := newTestSyncer(t)
	ctx := context.Background()
	d := createDocument(t, fx, 1)
	if err := s.Sync(ctx, false); err != nil {
		t.Fatalf("push: %v", err)
	}

	s.Start(ctx)
	defer s.Stop()

	if err := fx.svc.DeleteDocuments(ctx, []*docs.Document{d}); err != nil {
		t.Fatalf("DeleteDocuments: %v", err)
	}
	if got := fx.state.Pending(); len(got) != 1 || got[0] != d.ID {
		t.Errorf("pending = %v, want [%s]", got, d.ID)
	}
}

func TestSync_PullsNewerRemoteFields(t *testing.T) {
	s, fx := newTestSyncer(t)
	ctx := context.Background()
	d := createDocument(t, fx, 1)
	if err := s.Sync(ctx, false); err != nil {
		t.Fatalf("push: %v", err)
	}

	cur := reload(t, fx, d.ID)
	rdoc := cur.Document.Clone()
	rdoc.ModifiedDate += 60_000
	rdoc.Name = "renamed remotely"
	rdoc.Pages[0].ModifiedDate += 60_000
	rdoc.Pages[0].Rotation = 90
	writeRemoteManifest(t, fx, rdoc)

	if err := s.Sync(ctx, true); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	got := reload(t, fx, d.ID)
	if got.Name != "renamed remotely" {
		t.Errorf("name = %q, want remote rename applied", got.Name)
	}
	if got.Pages[0].Rotation != 90 {
		t.Errorf("rotation = %v, want 90", got.Pages[0].Rotation)
	}
	if got.Synced != 1 {
		t.Errorf("synced = %d, want 1", got.Synced)
	}
	if got.Pages[0].ImagePath != cur.Pages[0].ImagePath {
		t.Errorf("imagePath rewritten during metadata merge: %q", got.Pages[0].ImagePath)
	}
	if n := fx.deriver.deriveCount(); n != 0 {
		t.Errorf("derive calls = %d, want 0 for a metadata-only merge", n)
	}
}

func TestSync_HealsZeroSizeFromDisk(t *testing.T) {
	s, fx := newTestSyncer(t)
	ctx := context.Background()
	d := createDocument(t, fx, 1)
	if err := s.Sync(ctx, false); err != nil {
		t.Fatalf("push: %v", err)
	}

	// A peer wrote a corrupt size; the local raster on disk is the truth.
	cur := reload(t, fx, d.ID)
	rdoc := cur.Document.Clone()
	rdoc.ModifiedDate += 60_000
	rdoc.Pages[0].ModifiedDate += 60_000
	rdoc.Pages[0].Size = 0
	writeRemoteManifest(t, fx, rdoc)

	if err := s.Sync(ctx, true); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	info, err := os.Stat(cur.Pages[0].ImagePath)
	if err != nil {
		t.Fatalf("stat raster: %v", err)
	}
	got := reload(t, fx, d.ID)
	if got.Pages[0].Size != info.Size() {
		t.Errorf("size = %d, want %d restored from disk", got.Pages[0].Size, info.Size())
	}
	if got.Pages[0].Size == 0 {
		t.Error("zero size persisted from remote")
	}
	if n := fx.deriver.deriveCount(); n != 0 {
		t.Errorf("derive calls = %d, want 0 for a size heal", n)
	}
}

func TestSync_RederivesOnRemoteCropChange(t *testing.T) {
	s, fx := newTestSyncer(t)
	ctx := context.Background()

	srcDir := t.TempDir()
	src := filepath.Join(srcDir, "capture.jpg")
	if err := os.WriteFile(src, []byte("raw"), 0o644); err != nil {
		t.Fatalf("seed source: %v", err)
	}
	d, err := fx.svc.CreateDocument(ctx, []docs.PageInput{{
		ImageData:       []byte("rendered"),
		SourceImagePath: src,
	}}, nil)
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if err := s.Sync(ctx, false); err != nil {
		t.Fatalf("push: %v", err)
	}

	cur := reload(t, fx, d.ID)
	rdoc := cur.Document.Clone()
	rdoc.ModifiedDate += 60_000
	rdoc.Pages[0].ModifiedDate += 60_000
	rdoc.Pages[0].Crop = &imaging.Quad{
		{X: 0, Y: 0}, {X: 50, Y: 0}, {X: 50, Y: 50}, {X: 0, Y: 50},
	}
	writeRemoteManifest(t, fx, rdoc)

	if err := s.Sync(ctx, true); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if n := fx.deriver.deriveCount(); n != 1 {
		t.Fatalf("derive calls = %d, want 1", n)
	}
	got := reload(t, fx, d.ID)
	if got.Pages[0].Crop == nil || got.Pages[0].Crop[1].X != 50 {
		t.Errorf("crop not applied: %v", got.Pages[0].Crop)
	}
	if got.Pages[0].Size != 7 {
		t.Errorf("size = %d, want the re-derived raster's 7", got.Pages[0].Size)
	}
	data, err := os.ReadFile(got.Pages[0].ImagePath)
	if err != nil {
		t.Fatalf("read raster: %v", err)
	}
	if string(data) != "derived" {
		t.Errorf("raster = %q, want locally re-derived bytes", data)
	}
}

func TestSync_PushesNewerLocalFields(t *testing.T) {
	s, fx := newTestSyncer(t)
	ctx := context.Background()
	d := createDocument(t, fx, 1)
	if err := s.Sync(ctx, false); err != nil {
		t.Fatalf("push: %v", err)
	}

	cur := reload(t, fx, d.ID)
	cur.Name = "renamed locally"
	cur.ModifiedDate += 60_000
	cur.Synced = 0
	if err := fx.svc.Store().SaveDocument(ctx, cur.Document); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := s.Sync(ctx, false); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	rdoc := remoteManifest(t, fx, d.ID)
	if rdoc.Name != "renamed locally" {
		t.Errorf("remote name = %q, want local rename pushed", rdoc.Name)
	}
	if got := reload(t, fx, d.ID); got.Synced != 1 {
		t.Errorf("synced = %d, want 1", got.Synced)
	}
}

func TestSync_EqualTimestampsJustMarkSynced(t *testing.T) {
	s, fx := newTestSyncer(t)
	ctx := context.Background()
	d := createDocument(t, fx, 1)
	if err := s.Sync(ctx, false); err != nil {
		t.Fatalf("push: %v", err)
	}

	cur := reload(t, fx, d.ID)
	cur.Synced = 0
	if err := fx.svc.Store().SaveDocument(ctx, cur.Document); err != nil {
		t.Fatalf("save: %v", err)
	}
	before, err := fx.mem.ReadFile(ctx, "scans/"+d.ID+"/data.json")
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}

	if err := s.Sync(ctx, false); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if got := reload(t, fx, d.ID); got.Synced != 1 {
		t.Errorf("synced = %d, want 1", got.Synced)
	}
	after, err := fx.mem.ReadFile(ctx, "scans/"+d.ID+"/data.json")
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if string(before) != string(after) {
		t.Errorf("manifest re-uploaded for a congruent document")
	}
}

func TestSync_RunningGuard(t *testing.T) {
	s, _ := newTestSyncer(t)
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	if err := s.Sync(context.Background(), false); !errors.Is(err, ErrSyncRunning) {
		t.Errorf("Sync err = %v, want ErrSyncRunning", err)
	}
}

// gatedList blocks the first directory listing until released, holding a
// run in flight so triggers can be fired against a busy scheduler.
type gatedList struct {
	*remote.Mem
	entered chan struct{}
	release chan struct{}

	mu    sync.Mutex
	reads int
}

func (g *gatedList) ReadDir(ctx context.Context, dir string) ([]remote.FileInfo, error) {
	// Only root-folder listings mark a run: the tree pull also lists
	// document and page subfolders through the same method.
	if dir != "scans" {
		return g.Mem.ReadDir(ctx, dir)
	}
	g.mu.Lock()
	g.reads++
	first := g.reads == 1
	g.mu.Unlock()
	if first {
		close(g.entered)
		<-g.release
	}
	return g.Mem.ReadDir(ctx, dir)
}

func (g *gatedList) readCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reads
}

func TestSync_FullTriggerSurvivesBusyRun(t *testing.T) {
	fx := newFixture(t)
	gate := &gatedList{Mem: fx.mem, entered: make(chan struct{}), release: make(chan struct{})}
	s := New(fx.svc, gate, fx.deriver, fx.bus, fx.state, Config{
		RemoteFolder: "scans",
		Auto:         true,
		Cooldown:     time.Millisecond,
	}, quietLogger())
	ctx := context.Background()

	createDocument(t, fx, 1)
	rdoc := remoteOnlyDocument("424242", 1)
	writeRemoteManifest(t, fx, rdoc)
	pageFile := "scans/424242/" + rdoc.Pages[0].ID + "/image.jpg"
	if err := fx.mem.WriteFile(ctx, pageFile, []byte("raster")); err != nil {
		t.Fatalf("seed remote page: %v", err)
	}

	s.Start(ctx)
	defer s.Stop()

	s.Request(false)
	<-gate.entered

	// A full request and a later one-way one land mid-run; the bursts
	// collapse into one trigger and the full bit must survive it.
	s.Request(true)
	s.Request(false)
	close(gate.release)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := fx.svc.Load(ctx, "424242"); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("follow-up run never imported the remote document")
		}
		time.Sleep(10 * time.Millisecond)
	}
	s.Stop()

	if n := gate.readCount(); n != 2 {
		t.Errorf("runs = %d, want the in-flight run plus one full follow-up", n)
	}
}

func TestSync_EmitsStateEvents(t *testing.T) {
	s, fx := newTestSyncer(t)
	createDocument(t, fx, 1)

	var states []model.SyncState
	unsub := fx.bus.Subscribe(func(e model.Event) {
		if ev, ok := e.(model.SyncStateChanged); ok {
			states = append(states, ev.State)
		}
	})
	defer unsub()

	if err := s.Sync(context.Background(), false); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if len(states) != 2 || states[0] != model.SyncRunning || states[1] != model.SyncIdle {
		t.Errorf("state transitions = %v, want [running idle]", states)
	}
}

func TestSync_DisabledWithoutRemote(t *testing.T) {
	fx := newFixture(t)
	s := New(fx.svc, nil, fx.deriver, fx.bus, fx.state, Config{RemoteFolder: "scans"}, quietLogger())
	if s.Enabled() {
		t.Error("Enabled() = true without a remote store")
	}
	if err := s.Sync(context.Background(), false); err == nil {
		t.Error("Sync succeeded without a remote store")
	}
}

// remoteOnlyDocument builds a document graph as a remote peer would have
// written it, with device-local image paths that must be rewritten on
// import.
func remoteOnlyDocument(id string, pages int) *model.Document {
	doc := &model.Document{
		ID:           id,
		CreatedDate:  1700000000000,
		ModifiedDate: 1700000000000,
		Name:         "from peer",
		Synced:       0,
	}
	for i := 0; i < pages; i++ {
		pid := fmt.Sprintf("%s_%d", id, i)
		doc.Pages = append(doc.Pages, &model.Page{
			ID:           pid,
			DocumentID:   id,
			CreatedDate:  1700000000000,
			ModifiedDate: 1700000000000,
			Rotation:     0,
			Scale:        1,
			Width:        100,
			Height:       200,
			Size:         13,
			ImagePath:    "/data/peer/" + id + "/" + pid + "/image.jpg",
		})
	}
	doc.PagesOrder = doc.PageIDs()
	return doc
}
