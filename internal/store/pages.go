package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"scandoc/internal/imaging"
	"scandoc/internal/model"
)

// SavePage inserts or updates a single page row.
// SaveDocument covers the common case; this exists for targeted updates
// where rewriting the whole aggregate would be wasteful.
func (db *DB) SavePage(ctx context.Context, p *model.Page) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid page: %w", err)
	}
	return upsertPageRow(ctx, db.conn, p)
}

// execer covers both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func upsertPageRow(ctx context.Context, e execer, p *model.Page) error {
	cropJSON, err := marshalColumn(p.Crop)
	if err != nil {
		return fmt.Errorf("failed to marshal crop: %w", err)
	}

	query := `
	INSERT INTO pages (
		id, document_id, created_date, modified_date, name,
		rotation, scale, crop, transforms,
		width, height, size,
		image_path, source_image_path,
		source_image_width, source_image_height, source_image_rotation,
		ocr_data, qrcode, colors
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		document_id = excluded.document_id,
		modified_date = excluded.modified_date,
		name = excluded.name,
		rotation = excluded.rotation,
		scale = excluded.scale,
		crop = excluded.crop,
		transforms = excluded.transforms,
		width = excluded.width,
		height = excluded.height,
		size = excluded.size,
		image_path = excluded.image_path,
		source_image_path = excluded.source_image_path,
		source_image_width = excluded.source_image_width,
		source_image_height = excluded.source_image_height,
		source_image_rotation = excluded.source_image_rotation,
		ocr_data = excluded.ocr_data,
		qrcode = excluded.qrcode,
		colors = excluded.colors
	`

	_, err = e.ExecContext(ctx, query,
		p.ID,
		p.DocumentID,
		p.CreatedDate,
		p.ModifiedDate,
		p.Name,
		p.Rotation,
		p.Scale,
		cropJSON,
		p.Transforms,
		p.Width,
		p.Height,
		p.Size,
		p.ImagePath,
		p.SourceImagePath,
		p.SourceImageWidth,
		p.SourceImageHeight,
		p.SourceImageRotation,
		rawColumn(p.OCRData),
		rawColumn(p.QRCode),
		rawColumn(p.Colors),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert page %s: %w", p.ID, err)
	}
	return nil
}

// DeletePage removes a single page row.
// Returns nil if the page doesn't exist (idempotent).
func (db *DB) DeletePage(ctx context.Context, id string) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM pages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete page %s: %w", id, err)
	}
	return nil
}

// loadPages fills doc.Pages from the pages table, ordered per the
// document's stored pages_order.
func (db *DB) loadPages(ctx context.Context, doc *model.Document) error {
	query := `
	SELECT id, document_id, created_date, modified_date, name,
	       rotation, scale, crop, transforms,
	       width, height, size,
	       image_path, source_image_path,
	       source_image_width, source_image_height, source_image_rotation,
	       ocr_data, qrcode, colors
	FROM pages
	WHERE document_id = ?
	ORDER BY created_date ASC
	`

	rows, err := db.conn.QueryContext(ctx, query, doc.ID)
	if err != nil {
		return fmt.Errorf("failed to query pages of %s: %w", doc.ID, err)
	}
	defer rows.Close()

	var pages []*model.Page
	for rows.Next() {
		p, err := scanPage(rows)
		if err != nil {
			return err
		}
		pages = append(pages, p)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating pages of %s: %w", doc.ID, err)
	}

	doc.Pages = pages
	doc.SortPages(doc.PagesOrder)
	return nil
}

func scanPage(rows *sql.Rows) (*model.Page, error) {
	var p model.Page
	var cropJSON, ocrJSON, qrJSON, colorsJSON sql.NullString

	err := rows.Scan(
		&p.ID,
		&p.DocumentID,
		&p.CreatedDate,
		&p.ModifiedDate,
		&p.Name,
		&p.Rotation,
		&p.Scale,
		&cropJSON,
		&p.Transforms,
		&p.Width,
		&p.Height,
		&p.Size,
		&p.ImagePath,
		&p.SourceImagePath,
		&p.SourceImageWidth,
		&p.SourceImageHeight,
		&p.SourceImageRotation,
		&ocrJSON,
		&qrJSON,
		&colorsJSON,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan page: %w", err)
	}

	if cropJSON.Valid && cropJSON.String != "" && cropJSON.String != "null" {
		var q imaging.Quad
		if err := json.Unmarshal([]byte(cropJSON.String), &q); err != nil {
			return nil, fmt.Errorf("page %s: failed to unmarshal crop: %w", p.ID, err)
		}
		p.Crop = &q
	}
	p.OCRData = rawFromColumn(ocrJSON)
	p.QRCode = rawFromColumn(qrJSON)
	p.Colors = rawFromColumn(colorsJSON)
	p.SetDefaults()
	return &p, nil
}

// rawColumn converts a raw JSON blob to a nullable string for SQL.
func rawColumn(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 || string(raw) == "null" {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

// rawFromColumn converts a nullable SQL string back to a raw JSON blob.
func rawFromColumn(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" || ns.String == "null" {
		return nil
	}
	return json.RawMessage(ns.String)
}
