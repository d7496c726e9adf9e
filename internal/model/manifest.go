package model

import (
	"encoding/json"
	"fmt"
)

// DBVersion tags every manifest with the schema generation that wrote it.
// Readers must reject manifests carrying a newer version than their own.
const DBVersion = 1

// Manifest is the canonical wire form of a document and its pages, stored
// remotely as data.json inside the document's folder.
type Manifest struct {
	DBVersion int `json:"db_version"`
	Document
}

// Manifest returns the document's canonical wire form.
func (d *Document) Manifest() *Manifest {
	return &Manifest{DBVersion: DBVersion, Document: *d.Clone()}
}

// Encode serializes the manifest to its canonical JSON form.
func (m *Manifest) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode manifest %s: %w", m.ID, err)
	}
	return data, nil
}

// DecodeManifest parses canonical manifest JSON.
//
// The document and pages are validated but the db_version is not checked
// here; the sync engine decides whether a newer manifest is acceptable for
// the operation at hand.
func DecodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.Document.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return &m, nil
}

// Materialize reconstructs the in-memory document graph from the manifest,
// applying page defaults. The result is independent of the manifest: the
// round trip Document → Manifest → Materialize yields an equal document.
func (m *Manifest) Materialize() *Document {
	doc := m.Document.Clone()
	for _, p := range doc.Pages {
		if p.DocumentID == "" {
			p.DocumentID = doc.ID
		}
		p.SetDefaults()
	}
	return doc
}
