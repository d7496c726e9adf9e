package model

import (
	"encoding/json"
	"fmt"
	"slices"

	"scandoc/internal/imaging"
)

// Page is one scanned page of a document.
//
// ImagePath points at the rendered artifact, regenerated whenever Crop or
// Transforms change. SourceImagePath points at the untouched capture and is
// owned exclusively by the page. Width, Height and Size describe the current
// file at ImagePath. Both paths live inside the page's subfolder of the
// owning document's data folder and are never transferred during sync.
type Page struct {
	ID           string `json:"id"`
	DocumentID   string `json:"document_id"`
	CreatedDate  int64  `json:"createdDate"`
	ModifiedDate int64  `json:"modifiedDate"`
	Name         string `json:"name,omitempty"`

	Rotation   float64       `json:"rotation"`
	Scale      float64       `json:"scale"`
	Crop       *imaging.Quad `json:"crop,omitempty"`
	Transforms string        `json:"transforms,omitempty"`

	Width  int   `json:"width"`
	Height int   `json:"height"`
	Size   int64 `json:"size"`

	ImagePath           string  `json:"imagePath,omitempty"`
	SourceImagePath     string  `json:"sourceImagePath,omitempty"`
	SourceImageWidth    int     `json:"sourceImageWidth,omitempty"`
	SourceImageHeight   int     `json:"sourceImageHeight,omitempty"`
	SourceImageRotation float64 `json:"sourceImageRotation,omitempty"`

	OCRData json.RawMessage `json:"ocrData,omitempty"`
	QRCode  json.RawMessage `json:"qrcode,omitempty"`
	Colors  json.RawMessage `json:"colors,omitempty"`
}

// Validate checks the fields every persisted page must carry.
func (p *Page) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("page id is required")
	}
	if p.DocumentID == "" {
		return fmt.Errorf("page %s: document_id is required", p.ID)
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (p *Page) SetDefaults() {
	if p.Scale == 0 {
		p.Scale = 1
	}
}

// Clone returns a copy of the page.
func (p *Page) Clone() *Page {
	c := *p
	c.OCRData = slices.Clone(p.OCRData)
	c.QRCode = slices.Clone(p.QRCode)
	c.Colors = slices.Clone(p.Colors)
	if p.Crop != nil {
		q := *p.Crop
		c.Crop = &q
	}
	return &c
}
