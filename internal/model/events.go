package model

import "sync"

// Event is one of the closed set of domain notifications below. Every
// logical mutation publishes exactly one event after its persistence
// completed.
type Event interface {
	// Kind is a stable machine-readable name for the event variant.
	Kind() string
}

// DocumentAdded fires once per created document, after its pages exist.
type DocumentAdded struct {
	Doc      *Document
	FolderID int64 // 0 when the document was not created inside a folder
}

// DocumentUpdated fires after a document save that was not suppressed.
type DocumentUpdated struct {
	Doc *Document
	// UpdateModified reports whether the save bumped the modification
	// timestamp; listeners triggering sync ignore saves that did not.
	UpdateModified bool
}

// DocumentsDeleted fires after documents are removed from persistence and disk.
type DocumentsDeleted struct {
	Docs []*Document
}

// DocumentMovedFolder fires when a document's folder relation is rewritten.
type DocumentMovedFolder struct {
	Doc         *Document
	Folder      *Folder // nil when the relation was cleared
	OldFolderID int64   // 0 when the document had no previous folder
}

// FolderAdded fires when SetFolder creates a folder that did not exist.
type FolderAdded struct {
	Folder *Folder
}

// FolderUpdated fires after a folder rename or recolor.
type FolderUpdated struct {
	Folder *Folder
}

// PagesAdded fires once per add operation with the batch of new pages.
type PagesAdded struct {
	Doc   *Document
	Pages []*Page
}

// PageDeleted carries the index the removed page occupied.
type PageDeleted struct {
	Doc       *Document
	PageIndex int
}

// PageUpdated fires after a page field update. ImageUpdated tells listeners
// whether any cached raster for the page is stale.
type PageUpdated struct {
	Doc          *Document
	PageIndex    int
	ImageUpdated bool
}

// SyncState is the synchronization engine's externally visible state.
type SyncState string

const (
	SyncIdle    SyncState = "idle"
	SyncRunning SyncState = "running"
)

// SyncStateChanged fires on every engine state transition. Err carries the
// run's failure when transitioning back to idle after an unsuccessful run.
type SyncStateChanged struct {
	State SyncState
	Err   error
}

func (DocumentAdded) Kind() string       { return "document_added" }
func (DocumentUpdated) Kind() string     { return "document_updated" }
func (DocumentsDeleted) Kind() string    { return "documents_deleted" }
func (DocumentMovedFolder) Kind() string { return "document_moved_folder" }
func (FolderAdded) Kind() string         { return "folder_added" }
func (FolderUpdated) Kind() string       { return "folder_updated" }
func (PagesAdded) Kind() string          { return "pages_added" }
func (PageDeleted) Kind() string         { return "page_deleted" }
func (PageUpdated) Kind() string         { return "page_updated" }
func (SyncStateChanged) Kind() string    { return "sync_state" }

// Bus delivers events to subscribers synchronously, in registration order.
// There is no queueing or redelivery: Publish returns after every handler ran.
type Bus struct {
	mu       sync.Mutex
	nextID   int
	handlers []busHandler
}

type busHandler struct {
	id int
	fn func(Event)
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler and returns its unsubscribe function.
// Handlers must not block; they run inline on the publishing goroutine.
func (b *Bus) Subscribe(fn func(Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.handlers = append(b.handlers, busHandler{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, h := range b.handlers {
			if h.id == id {
				b.handlers = append(b.handlers[:i], b.handlers[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers e to every subscriber.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	handlers := make([]busHandler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.Unlock()

	for _, h := range handlers {
		h.fn(e)
	}
}
