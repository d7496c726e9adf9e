package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"scandoc/internal/model"
)

// SaveDocument inserts or updates a document together with its pages.
//
// The document row, every page row and the pages_order column are written
// in one transaction. Pages present in the database but absent from
// doc.Pages are deleted, so the stored page set always mirrors the
// in-memory aggregate.
func (db *DB) SaveDocument(ctx context.Context, doc *model.Document) error {
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("invalid document: %w", err)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := upsertDocumentRow(ctx, tx, doc); err != nil {
		return err
	}

	keep := make([]string, 0, len(doc.Pages))
	for _, p := range doc.Pages {
		if err := upsertPageRow(ctx, tx, p); err != nil {
			return err
		}
		keep = append(keep, p.ID)
	}

	if err := deletePagesExcept(ctx, tx, doc.ID, keep); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func upsertDocumentRow(ctx context.Context, tx *sql.Tx, doc *model.Document) error {
	tagsJSON, err := json.Marshal(doc.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	orderJSON, err := json.Marshal(doc.PagesOrder)
	if err != nil {
		return fmt.Errorf("failed to marshal pages order: %w", err)
	}
	extraJSON, err := json.Marshal(doc.Extra)
	if err != nil {
		return fmt.Errorf("failed to marshal extra: %w", err)
	}

	query := `
	INSERT INTO documents (
		id, created_date, modified_date, name, tags, pages_order, synced, extra
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		modified_date = excluded.modified_date,
		name = excluded.name,
		tags = excluded.tags,
		pages_order = excluded.pages_order,
		synced = excluded.synced,
		extra = excluded.extra
	`

	_, err = tx.ExecContext(ctx, query,
		doc.ID,
		doc.CreatedDate,
		doc.ModifiedDate,
		doc.Name,
		string(tagsJSON),
		string(orderJSON),
		doc.Synced,
		string(extraJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert document %s: %w", doc.ID, err)
	}
	return nil
}

func deletePagesExcept(ctx context.Context, tx *sql.Tx, docID string, keep []string) error {
	if len(keep) == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pages WHERE document_id = ?`, docID); err != nil {
			return fmt.Errorf("failed to prune pages of %s: %w", docID, err)
		}
		return nil
	}

	args := make([]interface{}, 0, len(keep)+1)
	args = append(args, docID)
	for _, id := range keep {
		args = append(args, id)
	}
	query := `DELETE FROM pages WHERE document_id = ? AND id NOT IN (?` +
		strings.Repeat(", ?", len(keep)-1) + `)`
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to prune pages of %s: %w", docID, err)
	}
	return nil
}

// GetDocument retrieves a document with its pages and folder links.
// Pages come back ordered by the stored pages_order.
// Returns ErrNotFound if the document does not exist.
func (db *DB) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	query := `
	SELECT id, created_date, modified_date, name, tags, pages_order, synced, extra
	FROM documents
	WHERE id = ?
	`

	row := db.conn.QueryRowContext(ctx, query, id)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	if err := db.loadPages(ctx, doc); err != nil {
		return nil, err
	}
	if doc.Folders, err = db.DocumentFolderIDs(ctx, doc.ID); err != nil {
		return nil, err
	}
	return doc, nil
}

// ListFilter configures the ListDocuments query.
type ListFilter struct {
	// FolderID restricts to documents linked to the folder (0 = all)
	FolderID int64
	// UnsyncedOnly restricts to documents with local changes
	UnsyncedOnly bool
	// Limit restricts the number of results (0 = no limit)
	Limit int
}

// ListDocuments retrieves documents matching the filter, newest first,
// each with its pages and folder links loaded.
func (db *DB) ListDocuments(ctx context.Context, filter ListFilter) ([]*model.Document, error) {
	var conditions []string
	var args []interface{}

	if filter.FolderID != 0 {
		conditions = append(conditions, "d.id IN (SELECT document_id FROM documents_folders WHERE folder_id = ?)")
		args = append(args, filter.FolderID)
	}
	if filter.UnsyncedOnly {
		conditions = append(conditions, "d.synced = 0")
	}

	query := `
	SELECT d.id, d.created_date, d.modified_date, d.name, d.tags, d.pages_order, d.synced, d.extra
	FROM documents d
	`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY d.created_date DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var docs []*model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}

	for _, doc := range docs {
		if err := db.loadPages(ctx, doc); err != nil {
			return nil, err
		}
		if doc.Folders, err = db.DocumentFolderIDs(ctx, doc.ID); err != nil {
			return nil, err
		}
	}
	return docs, nil
}

// DeleteDocument removes a document. Pages and folder links cascade.
// Returns nil if the document doesn't exist (idempotent).
func (db *DB) DeleteDocument(ctx context.Context, id string) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	return nil
}

// DocumentCount returns the total number of documents.
func (db *DB) DocumentCount(ctx context.Context) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (*model.Document, error) {
	var doc model.Document
	var tagsJSON, orderJSON, extraJSON sql.NullString

	err := row.Scan(
		&doc.ID,
		&doc.CreatedDate,
		&doc.ModifiedDate,
		&doc.Name,
		&tagsJSON,
		&orderJSON,
		&doc.Synced,
		&extraJSON,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan document: %w", err)
	}

	if err := unmarshalColumn(tagsJSON, &doc.Tags); err != nil {
		return nil, fmt.Errorf("document %s: failed to unmarshal tags: %w", doc.ID, err)
	}
	if err := unmarshalColumn(orderJSON, &doc.PagesOrder); err != nil {
		return nil, fmt.Errorf("document %s: failed to unmarshal pages order: %w", doc.ID, err)
	}
	if err := unmarshalColumn(extraJSON, &doc.Extra); err != nil {
		return nil, fmt.Errorf("document %s: failed to unmarshal extra: %w", doc.ID, err)
	}
	return &doc, nil
}

// unmarshalColumn decodes a JSON TEXT column, treating NULL and "null"
// as the zero value.
func unmarshalColumn(ns sql.NullString, v interface{}) error {
	if !ns.Valid || ns.String == "" || ns.String == "null" {
		return nil
	}
	return json.Unmarshal([]byte(ns.String), v)
}

// marshalColumn encodes a value for a JSON TEXT column, storing NULL
// for nil values.
func marshalColumn(v interface{}) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	if string(data) == "null" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
