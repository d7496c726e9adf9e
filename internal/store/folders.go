package store

import (
	"context"
	"database/sql"
	"fmt"

	"scandoc/internal/model"
)

// SaveFolder inserts or updates a folder. New folders (ID == 0) get their
// generated id written back into f.ID.
func (db *DB) SaveFolder(ctx context.Context, f *model.Folder) error {
	if f.Name == "" {
		return fmt.Errorf("folder name is required")
	}

	if f.ID == 0 {
		res, err := db.conn.ExecContext(ctx,
			`INSERT INTO folders (name, color, modified_date) VALUES (?, ?, ?)`,
			f.Name, f.Color, f.ModifiedDate)
		if err != nil {
			return fmt.Errorf("failed to insert folder %s: %w", f.Name, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read folder id: %w", err)
		}
		f.ID = id
		return nil
	}

	_, err := db.conn.ExecContext(ctx,
		`UPDATE folders SET name = ?, color = ?, modified_date = ? WHERE id = ?`,
		f.Name, f.Color, f.ModifiedDate, f.ID)
	if err != nil {
		return fmt.Errorf("failed to update folder %d: %w", f.ID, err)
	}
	return nil
}

// GetFolder retrieves a folder by id.
// Returns ErrNotFound if it does not exist.
func (db *DB) GetFolder(ctx context.Context, id int64) (*model.Folder, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, name, color, modified_date FROM folders WHERE id = ?`, id)
	return scanFolder(row, fmt.Sprintf("folder %d", id))
}

// GetFolderByName retrieves a folder by its unique name.
// Returns ErrNotFound if it does not exist.
func (db *DB) GetFolderByName(ctx context.Context, name string) (*model.Folder, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, name, color, modified_date FROM folders WHERE name = ?`, name)
	return scanFolder(row, fmt.Sprintf("folder %q", name))
}

func scanFolder(row *sql.Row, what string) (*model.Folder, error) {
	var f model.Folder
	err := row.Scan(&f.ID, &f.Name, &f.Color, &f.ModifiedDate)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan folder: %w", err)
	}
	return &f, nil
}

// ListFolders retrieves all folders with their document count and total
// page size aggregates, ordered by name.
func (db *DB) ListFolders(ctx context.Context) ([]*model.Folder, error) {
	query := `
	SELECT f.id, f.name, f.color, f.modified_date,
	       COUNT(DISTINCT df.document_id),
	       COALESCE(SUM(p.size), 0)
	FROM folders f
	LEFT JOIN documents_folders df ON df.folder_id = f.id
	LEFT JOIN pages p ON p.document_id = df.document_id
	GROUP BY f.id
	ORDER BY f.name ASC
	`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	defer rows.Close()

	var folders []*model.Folder
	for rows.Next() {
		var f model.Folder
		if err := rows.Scan(&f.ID, &f.Name, &f.Color, &f.ModifiedDate, &f.Count, &f.Size); err != nil {
			return nil, fmt.Errorf("failed to scan folder: %w", err)
		}
		folders = append(folders, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating folders: %w", err)
	}
	return folders, nil
}

// DeleteFolder removes a folder. Document links cascade; documents stay.
// Returns nil if the folder doesn't exist (idempotent).
func (db *DB) DeleteFolder(ctx context.Context, id int64) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM folders WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete folder %d: %w", id, err)
	}
	return nil
}

// SetDocumentFolder makes folderID the document's only folder link,
// replacing any previous links in one transaction.
func (db *DB) SetDocumentFolder(ctx context.Context, docID string, folderID int64) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM documents_folders WHERE document_id = ? AND folder_id != ?`,
		docID, folderID); err != nil {
		return fmt.Errorf("failed to clear folder links of %s: %w", docID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO documents_folders (document_id, folder_id) VALUES (?, ?)`,
		docID, folderID); err != nil {
		return fmt.Errorf("failed to link %s to folder %d: %w", docID, folderID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ClearDocumentFolders removes every folder link of the document.
func (db *DB) ClearDocumentFolders(ctx context.Context, docID string) error {
	_, err := db.conn.ExecContext(ctx,
		`DELETE FROM documents_folders WHERE document_id = ?`, docID)
	if err != nil {
		return fmt.Errorf("failed to clear folder links of %s: %w", docID, err)
	}
	return nil
}

// DocumentFolderIDs returns the ids of the folders the document is
// linked to.
func (db *DB) DocumentFolderIDs(ctx context.Context, docID string) ([]int64, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT folder_id FROM documents_folders WHERE document_id = ? ORDER BY folder_id`, docID)
	if err != nil {
		return nil, fmt.Errorf("failed to query folder links of %s: %w", docID, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan folder link: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating folder links: %w", err)
	}
	return ids, nil
}
