package docs

import (
	"context"
	"path/filepath"

	"scandoc/internal/model"
)

// CreateFromManifest creates a local document from a decoded remote
// manifest. Page image paths are rewritten to the local on-disk layout;
// transferring the actual files is the caller's job. No event fires here:
// the caller announces the document once its folder tree is complete.
func (s *Service) CreateFromManifest(ctx context.Context, m *model.Manifest) (*Document, error) {
	doc := m.Materialize()
	for _, p := range doc.Pages {
		dir := filepath.Join(s.DocumentDir(doc.ID), p.ID)
		if p.ImagePath != "" {
			p.ImagePath = filepath.Join(dir, filepath.Base(p.ImagePath))
		}
		if p.SourceImagePath != "" {
			p.SourceImagePath = filepath.Join(dir, sanitizeBasename(p.SourceImagePath))
		}
	}
	if err := s.store.SaveDocument(ctx, doc); err != nil {
		return nil, err
	}
	return s.wrap(doc), nil
}

// Discard removes a document's rows and on-disk folder without announcing
// any event. It exists to roll back a partially imported document; regular
// deletion goes through DeleteDocuments so listeners hear about it.
func (s *Service) Discard(ctx context.Context, d *Document) error {
	if err := s.store.DeleteDocument(ctx, d.ID); err != nil {
		return err
	}
	return removeDir(s.DocumentDir(d.ID))
}
