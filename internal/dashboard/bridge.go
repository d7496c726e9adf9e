package dashboard

import (
	"encoding/json"
	"log"
	"os"
	"time"

	"scandoc/internal/model"
)

// Bridge subscribes to the document event bus and rebroadcasts every event
// as a dashboard message.
type Bridge struct {
	server *Server
	logger *log.Logger
	unsub  func()
}

// NewBridge creates a bridge targeting the given server. A nil logger logs
// to stderr.
func NewBridge(server *Server, logger *log.Logger) *Bridge {
	if logger == nil {
		logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}
	return &Bridge{server: server, logger: logger}
}

// Attach subscribes to the bus. Call Detach to unsubscribe.
func (b *Bridge) Attach(bus *model.Bus) {
	b.unsub = bus.Subscribe(b.onEvent)
}

// Detach unsubscribes from the bus.
func (b *Bridge) Detach() {
	if b.unsub != nil {
		b.unsub()
		b.unsub = nil
	}
}

func (b *Bridge) onEvent(e model.Event) {
	switch ev := e.(type) {
	case model.DocumentAdded:
		b.send(MessageTypeDocumentUpdate, DocumentUpdateData{
			ID:       ev.Doc.ID,
			Action:   "created",
			Name:     ev.Doc.Name,
			Pages:    len(ev.Doc.Pages),
			FolderID: ev.FolderID,
		})
	case model.DocumentUpdated:
		b.send(MessageTypeDocumentUpdate, DocumentUpdateData{
			ID:     ev.Doc.ID,
			Action: "updated",
			Name:   ev.Doc.Name,
			Pages:  len(ev.Doc.Pages),
		})
	case model.DocumentsDeleted:
		for _, d := range ev.Docs {
			b.send(MessageTypeDocumentUpdate, DocumentUpdateData{
				ID:     d.ID,
				Action: "deleted",
			})
		}
	case model.DocumentMovedFolder:
		data := DocumentUpdateData{
			ID:     ev.Doc.ID,
			Action: "moved",
			Name:   ev.Doc.Name,
			Pages:  len(ev.Doc.Pages),
		}
		if ev.Folder != nil {
			data.FolderID = ev.Folder.ID
		}
		b.send(MessageTypeDocumentUpdate, data)
	case model.FolderAdded:
		b.send(MessageTypeFolderUpdate, FolderUpdateData{
			ID:     ev.Folder.ID,
			Action: "created",
			Name:   ev.Folder.Name,
			Color:  ev.Folder.Color,
		})
	case model.FolderUpdated:
		b.send(MessageTypeFolderUpdate, FolderUpdateData{
			ID:     ev.Folder.ID,
			Action: "updated",
			Name:   ev.Folder.Name,
			Color:  ev.Folder.Color,
		})
	case model.PagesAdded:
		b.send(MessageTypePageUpdate, PageUpdateData{
			DocumentID: ev.Doc.ID,
			Action:     "added",
			Count:      len(ev.Pages),
		})
	case model.PageUpdated:
		b.send(MessageTypePageUpdate, PageUpdateData{
			DocumentID:   ev.Doc.ID,
			Action:       "updated",
			PageIndex:    ev.PageIndex,
			ImageUpdated: ev.ImageUpdated,
		})
	case model.PageDeleted:
		b.send(MessageTypePageUpdate, PageUpdateData{
			DocumentID: ev.Doc.ID,
			Action:     "deleted",
			PageIndex:  ev.PageIndex,
		})
	case model.SyncStateChanged:
		data := SyncStateData{State: string(ev.State)}
		if ev.Err != nil {
			data.Error = ev.Err.Error()
		}
		b.send(MessageTypeSyncState, data)
	}
}

func (b *Bridge) send(typ MessageType, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		b.logger.Printf("marshal %s data: %v", typ, err)
		return
	}
	b.server.Broadcast(Message{
		Type:      typ,
		Timestamp: time.Now(),
		Data:      payload,
	})
}
