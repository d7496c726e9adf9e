// Package docs is the document/page aggregate service: the single authority
// through which every structural change to a document goes, keeping on-disk
// image files, database rows and the in-memory page ordering in lockstep and
// notifying listeners exactly once per logical change.
package docs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"scandoc/internal/imaging"
	"scandoc/internal/model"
	"scandoc/internal/store"
)

// ErrNoImage is returned when a page is added with neither an image file
// nor in-memory image data.
var ErrNoImage = errors.New("page has no image source")

// DefaultNameLayout is the time layout used for display names of new
// documents.
const DefaultNameLayout = "Jan 2 2006 15:04:05"

// Options configures the aggregate service.
type Options struct {
	// DataDir is the root of the local on-disk layout: one folder per
	// document id, one subfolder per page id.
	DataDir string
	// NameLayout is the time layout new document names derive from.
	NameLayout string
	// Image configures encoding of rendered page images.
	Image imaging.Options
	// BatchWorkers bounds concurrent page materializations in AddPages.
	BatchWorkers int
}

// Service owns document aggregates. All collaborators are injected; tests
// substitute fakes through the capability interfaces.
type Service struct {
	store   *store.DB
	deriver imaging.Deriver
	bus     *model.Bus
	opts    Options
	logger  *log.Logger

	// now is the clock used for ids and timestamps, replaceable in tests
	now func() time.Time
}

// NewService creates the aggregate service. A nil logger logs to stderr.
func NewService(db *store.DB, deriver imaging.Deriver, bus *model.Bus, opts Options, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(os.Stderr, "[docs] ", log.LstdFlags)
	}
	if opts.NameLayout == "" {
		opts.NameLayout = DefaultNameLayout
	}
	if opts.Image.Format == "" {
		opts.Image = imaging.DefaultOptions()
	}
	return &Service{
		store:   db,
		deriver: deriver,
		bus:     bus,
		opts:    opts,
		logger:  logger,
		now:     time.Now,
	}
}

// Bus returns the event bus mutations are announced on.
func (s *Service) Bus() *model.Bus { return s.bus }

// Store returns the underlying persistence layer.
func (s *Service) Store() *store.DB { return s.store }

// DataDir returns the root of the local on-disk document layout.
func (s *Service) DataDir() string { return s.opts.DataDir }

// DocumentDir returns the on-disk folder of the document with the given id.
func (s *Service) DocumentDir(id string) string {
	return filepath.Join(s.opts.DataDir, id)
}

// CreateDocument allocates a fresh document, persists it, adds the supplied
// pages, records the final page order and emits a single DocumentAdded
// event. No partial document is ever observable to listeners.
func (s *Service) CreateDocument(ctx context.Context, inputs []PageInput, folder *model.Folder) (*Document, error) {
	now := s.now()
	doc := &model.Document{
		ID:           strconv.FormatInt(now.UnixMilli(), 10),
		CreatedDate:  now.UnixMilli(),
		ModifiedDate: now.UnixMilli(),
		Name:         now.Format(s.opts.NameLayout),
	}
	if err := s.store.SaveDocument(ctx, doc); err != nil {
		return nil, err
	}

	d := s.wrap(doc)
	if len(inputs) > 0 {
		if _, err := d.AddPages(ctx, inputs, false); err != nil {
			return nil, err
		}
	}
	if err := d.Save(ctx, nil, false, false); err != nil {
		return nil, err
	}

	var folderID int64
	if folder != nil {
		if err := d.SetFolder(ctx, SetFolderOptions{FolderID: folder.ID, FolderName: folder.Name, Notify: false}); err != nil {
			return nil, err
		}
		if len(doc.Folders) > 0 {
			folderID = doc.Folders[0]
		}
	}

	s.publish(model.DocumentAdded{Doc: doc, FolderID: folderID})
	return d, nil
}

// Load retrieves a document aggregate by id.
func (s *Service) Load(ctx context.Context, id string) (*Document, error) {
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.wrap(doc), nil
}

// List retrieves document aggregates matching the filter.
func (s *Service) List(ctx context.Context, filter store.ListFilter) ([]*Document, error) {
	docs, err := s.store.ListDocuments(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]*Document, len(docs))
	for i, doc := range docs {
		out[i] = s.wrap(doc)
	}
	return out, nil
}

// DeleteDocuments removes documents from persistence and disk, then emits
// one DocumentsDeleted event. The sync engine listens for it to queue
// remote deletions.
func (s *Service) DeleteDocuments(ctx context.Context, docs []*Document) error {
	deleted := make([]*model.Document, 0, len(docs))
	for _, d := range docs {
		if err := s.store.DeleteDocument(ctx, d.ID); err != nil {
			return err
		}
		if err := os.RemoveAll(s.DocumentDir(d.ID)); err != nil {
			return fmt.Errorf("remove document folder %s: %w", d.ID, err)
		}
		deleted = append(deleted, d.Document)
	}
	if len(deleted) > 0 {
		s.publish(model.DocumentsDeleted{Docs: deleted})
	}
	return nil
}

// SaveFolder renames or recolors a folder and emits FolderUpdated.
func (s *Service) SaveFolder(ctx context.Context, folder *model.Folder) error {
	folder.ModifiedDate = s.now().UnixMilli()
	if err := s.store.SaveFolder(ctx, folder); err != nil {
		return err
	}
	s.publish(model.FolderUpdated{Folder: folder})
	return nil
}

// Folders lists all folders with their aggregates.
func (s *Service) Folders(ctx context.Context) ([]*model.Folder, error) {
	return s.store.ListFolders(ctx)
}

func (s *Service) wrap(doc *model.Document) *Document {
	return &Document{Document: doc, svc: s}
}

func (s *Service) publish(e model.Event) {
	if s.bus != nil {
		s.bus.Publish(e)
	}
}
