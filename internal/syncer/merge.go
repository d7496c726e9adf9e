package syncer

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"scandoc/internal/docs"
	"scandoc/internal/imaging"
	"scandoc/internal/model"
)

const manifestName = "data.json"

// pushDocument uploads a document's full folder tree and manifest, then
// marks the local row synced.
func (s *Syncer) pushDocument(ctx context.Context, d *docs.Document) error {
	remotePath := s.docPath(d.ID)
	if err := s.pushTree(ctx, d.Dir(), remotePath); err != nil {
		return err
	}
	if err := s.writeManifest(ctx, d, remotePath); err != nil {
		return err
	}
	d.Synced = 1
	return d.Save(ctx, nil, false, true)
}

// importDocument pulls a document that exists only remotely: manifest
// validated against the local schema generation, row created with page
// paths rewritten to the local layout, folder tree downloaded. A failure
// partway rolls the partial document back and rethrows.
func (s *Syncer) importDocument(ctx context.Context, id string) error {
	remotePath := s.docPath(id)
	data, err := s.remote.ReadFile(ctx, path.Join(remotePath, manifestName))
	if err != nil {
		return err
	}
	m, err := model.DecodeManifest(data)
	if err != nil {
		return err
	}
	if m.DBVersion > model.DBVersion {
		return fmt.Errorf("document %s (db_version %d): %w", m.Name, m.DBVersion, ErrSchemaTooNew)
	}

	m.Synced = 1
	d, err := s.docs.CreateFromManifest(ctx, m)
	if err != nil {
		return err
	}
	if err := s.pullTree(ctx, remotePath, d.Dir(), manifestName); err != nil {
		if derr := s.docs.Discard(ctx, d); derr != nil {
			s.logger.Printf("rollback of %s failed: %v", d.ID, derr)
		}
		return err
	}

	s.publish(model.DocumentAdded{Doc: d.Document})
	return nil
}

// mergeDocument reconciles one matched local/remote pair by comparing the
// document modification timestamps, then per-page timestamps.
func (s *Syncer) mergeDocument(ctx context.Context, d *docs.Document) error {
	remotePath := s.docPath(d.ID)
	data, err := s.remote.ReadFile(ctx, path.Join(remotePath, manifestName))
	if err != nil {
		return err
	}
	m, err := model.DecodeManifest(data)
	if err != nil {
		return err
	}
	rdoc := m.Materialize()

	switch {
	case rdoc.ModifiedDate > d.ModifiedDate:
		return s.mergeFromRemote(ctx, d, rdoc, remotePath)
	case rdoc.ModifiedDate < d.ModifiedDate:
		return s.mergeFromLocal(ctx, d, rdoc, remotePath)
	default:
		if d.Synced == 0 {
			// Metadata-only local change, already congruent
			d.Synced = 1
			return d.Save(ctx, nil, false, true)
		}
		return nil
	}
}

// mergeFromRemote applies the remote side onto the local document: missing
// pages pulled, extra pages deleted, matched pages merged per their own
// timestamps, then the differing document fields applied and the row
// marked synced. If any matched page turned out newer locally, the remote
// manifest is re-uploaded afterwards.
func (s *Syncer) mergeFromRemote(ctx context.Context, d *docs.Document, rdoc *model.Document, remotePath string) error {
	part := partition(d.Pages, rdoc.Pages, func(a, b *model.Page) bool { return a.ID == b.ID })

	for _, p := range part.ToDelete {
		if i := d.PageIndex(p.ID); i >= 0 {
			if err := d.DeletePage(ctx, i); err != nil {
				return err
			}
		}
	}

	for _, rp := range part.ToAdd {
		if err := s.pullPage(ctx, d, rdoc, rp, remotePath); err != nil {
			return err
		}
	}

	needsRemoteUpdate := false
	for _, pair := range part.Union {
		update, err := s.mergePage(ctx, d, pair.Local, pair.Remote, remotePath)
		if err != nil {
			return err
		}
		needsRemoteUpdate = needsRemoteUpdate || update
	}

	fields, err := model.DiffFields(rdoc, d.Document, "pages")
	if err != nil {
		return err
	}
	d.Synced = 1
	if err := d.Save(ctx, fields, false, true); err != nil {
		return err
	}

	if needsRemoteUpdate {
		return s.writeManifest(ctx, d, remotePath)
	}
	return nil
}

// mergeFromLocal is the mirror image: missing remote pages pushed, remote
// extras deleted, matched pages merged, and the manifest unconditionally
// re-uploaded before marking the row synced.
func (s *Syncer) mergeFromLocal(ctx context.Context, d *docs.Document, rdoc *model.Document, remotePath string) error {
	part := partition(rdoc.Pages, d.Pages, func(a, b *model.Page) bool { return a.ID == b.ID })

	for _, lp := range part.ToAdd {
		if err := s.pushTree(ctx, d.PageDir(lp.ID), path.Join(remotePath, lp.ID)); err != nil {
			return err
		}
	}
	for _, rp := range part.ToDelete {
		if err := s.remote.Delete(ctx, path.Join(remotePath, rp.ID)); err != nil {
			return err
		}
	}

	for _, pair := range part.Union {
		local := pair.Remote // the partition ran remote-first; Remote holds the local page
		if _, err := s.mergePage(ctx, d, local, pair.Local, remotePath); err != nil {
			return err
		}
	}

	if err := s.writeManifest(ctx, d, remotePath); err != nil {
		return err
	}
	d.Synced = 1
	return d.Save(ctx, nil, false, true)
}

// pullPage downloads a remote-only page's folder and attaches the page at
// the remote's ordinal position.
func (s *Syncer) pullPage(ctx context.Context, d *docs.Document, rdoc *model.Document, rp *model.Page, remotePath string) error {
	pageDir := d.PageDir(rp.ID)
	if err := s.pullTree(ctx, path.Join(remotePath, rp.ID), pageDir); err != nil {
		return err
	}

	var imagePath, sourcePath string
	if rp.ImagePath != "" {
		imagePath = filepath.Join(pageDir, path.Base(rp.ImagePath))
	}
	if rp.SourceImagePath != "" {
		sourcePath = filepath.Join(pageDir, path.Base(rp.SourceImagePath))
	}
	in := docs.PageInput{
		ID:                  rp.ID,
		Name:                rp.Name,
		CreatedDate:         rp.CreatedDate,
		ModifiedDate:        rp.ModifiedDate,
		ImagePath:           imagePath,
		SourceImagePath:     sourcePath,
		SourceImageWidth:    rp.SourceImageWidth,
		SourceImageHeight:   rp.SourceImageHeight,
		SourceImageRotation: rp.SourceImageRotation,
		Width:               rp.Width,
		Height:              rp.Height,
		Rotation:            rp.Rotation,
		Scale:               rp.Scale,
		Crop:                rp.Crop,
		Transforms:          rp.Transforms,
		OCRData:             rp.OCRData,
		QRCode:              rp.QRCode,
		Colors:              rp.Colors,
	}
	index := rdoc.PageIndex(rp.ID)
	_, err := d.AddPage(ctx, in, index)
	return err
}

// mergePage reconciles one matched page pair by its own modification
// timestamp. The losing side's differing fields are overwritten, image
// paths excluded: rasters are local artifacts, regenerated from the
// source capture when the merged crop or transforms changed, and uploaded
// verbatim only in the push direction. Reports whether the remote
// manifest needs re-uploading.
func (s *Syncer) mergePage(ctx context.Context, d *docs.Document, local, rp *model.Page, remotePath string) (bool, error) {
	switch {
	case rp.ModifiedDate > local.ModifiedDate:
		fields, err := model.DiffFields(rp, local, "imagePath", "sourceImagePath")
		if err != nil {
			return false, err
		}
		imageChanged := false
		if fields.Has("crop") || fields.Has("transforms") {
			crop := local.Crop
			if v, ok := fields["crop"]; ok {
				crop = decodeQuad(v)
			}
			transforms := local.Transforms
			if v, ok := fields["transforms"].(string); ok {
				transforms = v
			}
			var quad imaging.Quad
			if crop != nil {
				quad = *crop
			}
			res, err := s.deriver.Derive(ctx, local.SourceImagePath, local.ImagePath, quad, transforms)
			if err != nil {
				return false, err
			}
			fields["size"] = res.Size
			imageChanged = true
		} else if isZeroSize(fields) {
			info, err := os.Stat(local.ImagePath)
			if err != nil {
				return false, fmt.Errorf("stat %s: %w", local.ImagePath, err)
			}
			fields["size"] = info.Size()
		}
		if i := d.PageIndex(local.ID); i >= 0 {
			if err := d.UpdatePage(ctx, i, fields, imageChanged); err != nil {
				return false, err
			}
		}
		return false, nil

	case rp.ModifiedDate < local.ModifiedDate:
		fields, err := model.DiffFields(local, rp, "imagePath", "sourceImagePath")
		if err != nil {
			return false, err
		}
		if fields.Has("crop") || fields.Has("transforms") {
			// The remote side cannot re-derive; ship the rendered raster
			dest := path.Join(remotePath, local.ID, path.Base(local.ImagePath))
			if err := s.remote.WriteFrom(ctx, dest, local.ImagePath); err != nil {
				return false, err
			}
		}
		return true, nil
	}
	return false, nil
}

func (s *Syncer) writeManifest(ctx context.Context, d *docs.Document, remotePath string) error {
	data, err := d.Manifest().Encode()
	if err != nil {
		return err
	}
	return s.remote.WriteFile(ctx, path.Join(remotePath, manifestName), data)
}

// decodeQuad converts a diffed crop value (either typed or JSON-decoded)
// back into a quad.
func decodeQuad(v any) *imaging.Quad {
	switch q := v.(type) {
	case *imaging.Quad:
		return q
	case imaging.Quad:
		return &q
	case []any:
		if len(q) != 4 {
			return nil
		}
		var quad imaging.Quad
		for i, e := range q {
			pt, ok := e.(map[string]any)
			if !ok {
				return nil
			}
			x, _ := pt["x"].(float64)
			y, _ := pt["y"].(float64)
			quad[i] = imaging.Point{X: x, Y: y}
		}
		return &quad
	}
	return nil
}

func isZeroSize(fields model.Fields) bool {
	v, ok := fields["size"]
	if !ok {
		return false
	}
	f, ok := v.(float64)
	return ok && f == 0
}
