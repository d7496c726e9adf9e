package docs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"scandoc/internal/batch"
	"scandoc/internal/imaging"
	"scandoc/internal/model"
)

// PageInput describes one page to add to a document. Exactly one of
// ImagePath (an existing rendered image file, copied) or ImageData
// (in-memory capture bytes, encoded at the configured format/quality)
// must be set.
type PageInput struct {
	ID   string
	Name string

	// CreatedDate and ModifiedDate override the clock when nonzero; the
	// sync engine uses them to attach pulled pages with their remote
	// timestamps intact.
	CreatedDate  int64
	ModifiedDate int64

	ImagePath string
	ImageData []byte

	// SourceImagePath is the untouched capture; it is copied next to the
	// rendered image with its basename sanitized of URI-escape artifacts.
	SourceImagePath     string
	SourceImageWidth    int
	SourceImageHeight   int
	SourceImageRotation float64

	Width    int
	Height   int
	Rotation float64
	Scale    float64

	Crop       *imaging.Quad
	Transforms string

	OCRData json.RawMessage
	QRCode  json.RawMessage
	Colors  json.RawMessage
}

// AddPage materializes one page and splices it into the document at index.
// Emits a PagesAdded event with a one-element batch.
func (d *Document) AddPage(ctx context.Context, in PageInput, index int) (*model.Page, error) {
	page, err := d.materializePage(ctx, in, d.svc.now().UnixMilli(), index)
	if err != nil {
		return nil, err
	}
	if index < 0 || index > len(d.Pages) {
		index = len(d.Pages)
	}
	d.Pages = slices.Insert(d.Pages, index, page)
	d.svc.publish(model.PagesAdded{Doc: d.Document, Pages: []*model.Page{page}})
	return page, nil
}

// AddPages materializes a batch of pages with bounded concurrency.
//
// Results land in input order no matter how individual materializations
// interleave. Inputs referencing an existing page id update that page
// instead of creating a new one (the re-import path). The operation is
// non-atomic: on error the successfully materialized pages are still
// attached and the error aggregates the per-entry failures. One PagesAdded
// event fires for the new pages unless notify is false.
func (d *Document) AddPages(ctx context.Context, ins []PageInput, notify bool) ([]*model.Page, error) {
	if len(ins) == 0 {
		return nil, nil
	}
	start := d.svc.now().UnixMilli()

	pages, err := batch.Run(ctx, ins, d.svc.opts.BatchWorkers,
		func(ctx context.Context, in PageInput, i int) (*model.Page, error) {
			return d.materializePage(ctx, in, start, i)
		})

	var added []*model.Page
	for _, page := range pages {
		if page == nil {
			continue
		}
		if i := d.PageIndex(page.ID); i >= 0 {
			d.Pages[i] = page
			continue
		}
		d.Pages = append(d.Pages, page)
		added = append(added, page)
	}

	if notify && len(added) > 0 {
		d.svc.publish(model.PagesAdded{Doc: d.Document, Pages: added})
	}
	return added, err
}

// materializePage builds the on-disk page folder and the persisted page
// row for one input. It never touches the in-memory page array; callers
// splice sequentially so that batch workers stay free of shared state.
func (d *Document) materializePage(ctx context.Context, in PageInput, startMilli int64, index int) (*model.Page, error) {
	if in.ImagePath == "" && len(in.ImageData) == 0 {
		return nil, fmt.Errorf("page %d: %w", index, ErrNoImage)
	}

	id := in.ID
	if id == "" {
		id = fmt.Sprintf("%d_%d", startMilli, index)
	}

	page := d.existingPageCopy(id)
	if page == nil {
		page = &model.Page{
			ID:          id,
			DocumentID:  d.ID,
			CreatedDate: startMilli,
		}
	}
	if in.CreatedDate != 0 {
		page.CreatedDate = in.CreatedDate
	}
	page.ModifiedDate = d.svc.now().UnixMilli()
	if in.ModifiedDate != 0 {
		page.ModifiedDate = in.ModifiedDate
	}
	if in.Name != "" {
		page.Name = in.Name
	}
	page.Rotation = in.Rotation
	if in.Scale != 0 {
		page.Scale = in.Scale
	}
	page.Crop = in.Crop
	page.Transforms = in.Transforms
	page.SourceImageWidth = in.SourceImageWidth
	page.SourceImageHeight = in.SourceImageHeight
	page.SourceImageRotation = in.SourceImageRotation
	if in.OCRData != nil {
		page.OCRData = in.OCRData
	}
	if in.QRCode != nil {
		page.QRCode = in.QRCode
	}
	if in.Colors != nil {
		page.Colors = in.Colors
	}
	page.SetDefaults()

	dir := d.PageDir(id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create page folder %s: %w", id, err)
	}

	if in.ImagePath != "" {
		dest := filepath.Join(dir, filepath.Base(in.ImagePath))
		var size int64
		if in.ImagePath == dest {
			// Already in place (pulled by the sync engine)
			info, err := os.Stat(dest)
			if err != nil {
				return nil, fmt.Errorf("page %s: %w", id, err)
			}
			size = info.Size()
		} else {
			var err error
			size, err = copyFile(in.ImagePath, dest)
			if err != nil {
				return nil, fmt.Errorf("page %s: %w", id, err)
			}
		}
		page.ImagePath = dest
		page.Size = size
		page.Width = in.Width
		page.Height = in.Height
	} else {
		dest := filepath.Join(dir, "image."+d.svc.opts.Image.Format)
		res, err := d.svc.deriver.Encode(in.ImageData, dest)
		if err != nil {
			return nil, fmt.Errorf("page %s: %w", id, err)
		}
		page.ImagePath = dest
		page.Size = res.Size
		page.Width = res.Width
		page.Height = res.Height
	}

	if in.SourceImagePath != "" {
		dest := filepath.Join(dir, sanitizeBasename(in.SourceImagePath))
		if in.SourceImagePath != dest {
			if _, err := copyFile(in.SourceImagePath, dest); err != nil {
				return nil, fmt.Errorf("page %s source: %w", id, err)
			}
		}
		page.SourceImagePath = dest
	}

	if err := d.svc.store.SavePage(ctx, page); err != nil {
		return nil, err
	}
	return page, nil
}

// existingPageCopy returns a clone of the page with the given id, or nil.
// Workers mutate the clone; the caller swaps it in sequentially.
func (d *Document) existingPageCopy(id string) *model.Page {
	if i := d.PageIndex(id); i >= 0 {
		return d.Pages[i].Clone()
	}
	return nil
}

// sanitizeBasename extracts a safe local basename from a source image
// path, undoing %XX escapes and the doubly-escaped %252F path separator
// some capture intents leave behind.
func sanitizeBasename(path string) string {
	name := strings.ReplaceAll(filepath.Base(path), "%252F", "/")
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	if name == "" || name == "." {
		name = "source.jpg"
	}
	return name
}

func copyFile(src, dest string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", dest, err)
	}
	defer out.Close()

	n, err := io.Copy(out, in)
	if err != nil {
		return 0, fmt.Errorf("copy to %s: %w", dest, err)
	}
	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("close %s: %w", dest, err)
	}
	return n, nil
}

func removeDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove %s: %w", dir, err)
	}
	return nil
}
