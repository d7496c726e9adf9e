package docs

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"

	"scandoc/internal/imaging"
	"scandoc/internal/model"
	"scandoc/internal/store"
)

// Document is a live aggregate: the model document plus the service that
// mediates its mutations.
type Document struct {
	*model.Document
	svc *Service
}

// Dir returns the document's on-disk folder.
func (d *Document) Dir() string {
	return d.svc.DocumentDir(d.ID)
}

// PageDir returns the on-disk folder of one of the document's pages.
func (d *Document) PageDir(pageID string) string {
	return filepath.Join(d.Dir(), pageID)
}

// DeletePage removes the page at the given index.
//
// The page leaves the in-memory array first; if that empties the document
// the whole document is deleted instead. Otherwise the row and the page
// folder are removed, PageDeleted fires with the vacated index, and the
// document is saved without a redundant notification.
func (d *Document) DeletePage(ctx context.Context, index int) error {
	if index < 0 || index >= len(d.Pages) {
		return fmt.Errorf("document %s: page index %d out of range", d.ID, index)
	}
	page := d.Pages[index]
	d.Pages = slices.Delete(d.Pages, index, index+1)

	if len(d.Pages) == 0 {
		return d.svc.DeleteDocuments(ctx, []*Document{d})
	}

	if err := d.svc.store.DeletePage(ctx, page.ID); err != nil {
		return err
	}
	if err := removeDir(d.PageDir(page.ID)); err != nil {
		return err
	}
	d.svc.publish(model.PageDeleted{Doc: d.Document, PageIndex: index})
	return d.Save(ctx, nil, true, false)
}

// UpdatePage applies a partial field update to the page at the given index.
//
// An empty update is a no-op. The page row is persisted, the document saved
// with a modification bump but no notification of its own, then PageUpdated
// fires carrying imageUpdated so listeners know whether cached rasters are
// stale.
func (d *Document) UpdatePage(ctx context.Context, index int, fields model.Fields, imageUpdated bool) error {
	if len(fields) == 0 {
		return nil
	}
	if index < 0 || index >= len(d.Pages) {
		return fmt.Errorf("document %s: page index %d out of range", d.ID, index)
	}
	page := d.Pages[index]
	if !fields.Has("modifiedDate") {
		fields["modifiedDate"] = d.svc.now().UnixMilli()
	}
	if err := fields.Apply(page); err != nil {
		return fmt.Errorf("page %s: %w", page.ID, err)
	}
	if err := d.svc.store.SavePage(ctx, page); err != nil {
		return err
	}
	if err := d.Save(ctx, nil, true, false); err != nil {
		return err
	}
	d.svc.publish(model.PageUpdated{Doc: d.Document, PageIndex: index, ImageUpdated: imageUpdated})
	return nil
}

// MovePage repositions a page and saves the document, which records the new
// order and notifies.
func (d *Document) MovePage(ctx context.Context, oldIndex, newIndex int) error {
	if oldIndex < 0 || oldIndex >= len(d.Pages) || newIndex < 0 || newIndex >= len(d.Pages) {
		return fmt.Errorf("document %s: move %d -> %d out of range", d.ID, oldIndex, newIndex)
	}
	page := d.Pages[oldIndex]
	d.Pages = slices.Delete(d.Pages, oldIndex, oldIndex+1)
	d.Pages = slices.Insert(d.Pages, newIndex, page)
	return d.Save(ctx, nil, true, true)
}

// UpdatePageCrop re-derives the page's rendered image from its source
// capture with the new crop, then records the refreshed geometry. Image
// bytes are never transferred; the render is always a local function of
// (source image, crop, transforms).
func (d *Document) UpdatePageCrop(ctx context.Context, index int, quad imaging.Quad) error {
	if index < 0 || index >= len(d.Pages) {
		return fmt.Errorf("document %s: page index %d out of range", d.ID, index)
	}
	page := d.Pages[index]
	res, err := d.svc.deriver.Derive(ctx, page.SourceImagePath, page.ImagePath, quad, page.Transforms)
	if err != nil {
		return fmt.Errorf("page %s: %w", page.ID, err)
	}
	return d.UpdatePage(ctx, index, model.Fields{
		"crop":   quad,
		"width":  res.Width,
		"height": res.Height,
		"size":   res.Size,
	}, true)
}

// UpdatePageTransforms re-derives the page's rendered image with a new
// transform descriptor. An unchanged descriptor skips derivation and
// applies only the extra fields.
func (d *Document) UpdatePageTransforms(ctx context.Context, index int, transforms string, extra model.Fields) error {
	if index < 0 || index >= len(d.Pages) {
		return fmt.Errorf("document %s: page index %d out of range", d.ID, index)
	}
	page := d.Pages[index]
	if transforms == page.Transforms {
		return d.UpdatePage(ctx, index, extra, false)
	}

	var quad imaging.Quad
	if page.Crop != nil {
		quad = *page.Crop
	}
	res, err := d.svc.deriver.Derive(ctx, page.SourceImagePath, page.ImagePath, quad, transforms)
	if err != nil {
		return fmt.Errorf("page %s: %w", page.ID, err)
	}

	fields := model.Fields{}
	for k, v := range extra {
		fields[k] = v
	}
	fields["transforms"] = transforms
	fields["width"] = res.Width
	fields["height"] = res.Height
	fields["size"] = res.Size
	return d.UpdatePage(ctx, index, fields, true)
}

// Save is the document-level persistence primitive.
//
// A supplied pagesOrder re-sorts the in-memory pages to match; otherwise
// the stored order is derived from the current in-memory order. Either way
// the persisted pagesOrder is freshly computed, never trusted from a stale
// caller value. updateModified bumps the modification timestamp and marks
// the document as carrying unpushed local changes.
func (d *Document) Save(ctx context.Context, fields model.Fields, updateModified, notify bool) error {
	if order, ok := orderField(fields); ok {
		d.SortPages(order)
		delete(fields, "pagesOrder")
	}
	if updateModified {
		if !fields.Has("modifiedDate") {
			d.ModifiedDate = d.svc.now().UnixMilli()
		}
		d.Synced = 0
	}
	if err := fields.Apply(d.Document); err != nil {
		return fmt.Errorf("document %s: %w", d.ID, err)
	}
	d.PagesOrder = d.PageIDs()
	if err := d.svc.store.SaveDocument(ctx, d.Document); err != nil {
		return err
	}
	if notify {
		d.svc.publish(model.DocumentUpdated{Doc: d.Document, UpdateModified: updateModified})
	}
	return nil
}

// orderField extracts a pagesOrder field update, accepting both the typed
// and the JSON-decoded representation.
func orderField(fields model.Fields) ([]string, bool) {
	v, ok := fields["pagesOrder"]
	if !ok {
		return nil, false
	}
	switch order := v.(type) {
	case []string:
		return order, true
	case []any:
		out := make([]string, 0, len(order))
		for _, e := range order {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

// SetFolderOptions selects the target folder by id or by name. Neither set
// clears the document's folder relation.
type SetFolderOptions struct {
	FolderID   int64
	FolderName string
	Notify     bool
}

// SetFolder rewrites the document's folder relation.
//
// The folder is looked up by id or name and created when the name is new
// (emitting FolderAdded). The join row is rewritten, the cached projection
// updated, and the document marked as carrying local changes. The
// DocumentMovedFolder event carries the previous folder id.
func (d *Document) SetFolder(ctx context.Context, opts SetFolderOptions) error {
	var oldFolderID int64
	if len(d.Folders) > 0 {
		oldFolderID = d.Folders[0]
	}

	var folder *model.Folder
	if opts.FolderID != 0 || opts.FolderName != "" {
		var err error
		folder, err = d.svc.lookupOrCreateFolder(ctx, opts.FolderID, opts.FolderName, opts.Notify)
		if err != nil {
			return err
		}
	}

	if folder != nil {
		if err := d.svc.store.SetDocumentFolder(ctx, d.ID, folder.ID); err != nil {
			return err
		}
		d.Folders = []int64{folder.ID}
	} else {
		if err := d.svc.store.ClearDocumentFolders(ctx, d.ID); err != nil {
			return err
		}
		d.Folders = nil
	}

	// Folder moves are local-only until the next sync run
	d.Synced = 0
	if err := d.svc.store.SaveDocument(ctx, d.Document); err != nil {
		return err
	}

	if opts.Notify {
		d.svc.publish(model.DocumentMovedFolder{Doc: d.Document, Folder: folder, OldFolderID: oldFolderID})
	}
	return nil
}

// RemoveFromFolder clears every folder link of the document without
// touching the folder rows.
func (d *Document) RemoveFromFolder(ctx context.Context) error {
	if err := d.svc.store.ClearDocumentFolders(ctx, d.ID); err != nil {
		return err
	}
	d.Folders = nil
	return nil
}

func (s *Service) lookupOrCreateFolder(ctx context.Context, id int64, name string, notify bool) (*model.Folder, error) {
	var folder *model.Folder
	var err error
	if id != 0 {
		folder, err = s.store.GetFolder(ctx, id)
	} else {
		folder, err = s.store.GetFolderByName(ctx, name)
	}
	if err == nil {
		return folder, nil
	}
	if !isNotFound(err) {
		return nil, err
	}
	if name == "" {
		return nil, err
	}

	folder = &model.Folder{Name: name, ModifiedDate: s.now().UnixMilli()}
	if err := s.store.SaveFolder(ctx, folder); err != nil {
		return nil, err
	}
	if notify {
		s.publish(model.FolderAdded{Folder: folder})
	}
	return folder, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
