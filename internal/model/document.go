// Package model defines the document/page/folder data model, the canonical
// manifest serialization used as the sync wire format, and the typed event
// bus through which every mutation is announced.
package model

import (
	"fmt"
	"slices"
)

// Document is a scanned document: an ordered set of pages plus metadata.
//
// PagesOrder is the authoritative page ordering and is always recomputed from
// the in-memory Pages slice on save; it is a permutation of the page ids.
// Synced is 0 while the document carries local changes not yet pushed to the
// remote store. Underscore-prefixed JSON names mark internal fields; only the
// sync flag survives serialization.
type Document struct {
	ID           string         `json:"id"`
	CreatedDate  int64          `json:"createdDate"`
	ModifiedDate int64          `json:"modifiedDate"`
	Name         string         `json:"name,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	Folders      []int64        `json:"folders,omitempty"`
	PagesOrder   []string       `json:"pagesOrder,omitempty"`
	Synced       int            `json:"_synced"`
	Extra        map[string]any `json:"extra,omitempty"`

	Pages []*Page `json:"pages"`
}

// Validate checks the fields every persisted document must carry.
func (d *Document) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("document id is required")
	}
	if d.CreatedDate == 0 {
		return fmt.Errorf("document %s: createdDate is required", d.ID)
	}
	return nil
}

// PageIDs returns the ids of Pages in their current in-memory order.
func (d *Document) PageIDs() []string {
	ids := make([]string, len(d.Pages))
	for i, p := range d.Pages {
		ids[i] = p.ID
	}
	return ids
}

// PageIndex returns the position of the page with the given id, or -1.
func (d *Document) PageIndex(id string) int {
	return slices.IndexFunc(d.Pages, func(p *Page) bool { return p.ID == id })
}

// SortPages reorders Pages to match the given id sequence. Ids absent from
// the sequence sort last in their current relative order.
func (d *Document) SortPages(order []string) {
	rank := make(map[string]int, len(order))
	for i, id := range order {
		rank[id] = i
	}
	slices.SortStableFunc(d.Pages, func(a, b *Page) int {
		ra, oka := rank[a.ID]
		rb, okb := rank[b.ID]
		switch {
		case oka && okb:
			return ra - rb
		case oka:
			return -1
		case okb:
			return 1
		default:
			return 0
		}
	})
}

// Clone returns a deep copy of the document and its pages.
func (d *Document) Clone() *Document {
	c := *d
	c.Tags = slices.Clone(d.Tags)
	c.Folders = slices.Clone(d.Folders)
	c.PagesOrder = slices.Clone(d.PagesOrder)
	if d.Extra != nil {
		c.Extra = make(map[string]any, len(d.Extra))
		for k, v := range d.Extra {
			c.Extra[k] = v
		}
	}
	c.Pages = make([]*Page, len(d.Pages))
	for i, p := range d.Pages {
		c.Pages[i] = p.Clone()
	}
	return &c
}
