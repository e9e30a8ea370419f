package storage

import (
	"database/sql"
	"errors"
	"time"
)

const uploadColumns = `id, document_id, name, folder, mime_type, size, sync_status, last_error, created_at, updated_at`

// SaveUpload inserts a ledger entry. Zero timestamps are set to now.
func (s *Store) SaveUpload(u Upload) error {
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = u.CreatedAt
	}
	_, err := s.db.Exec(`INSERT INTO uploads (`+uploadColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.DocumentID, u.Name, u.Folder, u.MIMEType, u.Size, u.SyncStatus, u.LastError,
		formatTime(u.CreatedAt), formatTime(u.UpdatedAt),
	)
	return err
}

// UpdateUploadStatus sets the sync status of every ledger entry for
// documentID. It returns ErrNotFound when no entry matches.
func (s *Store) UpdateUploadStatus(documentID, syncStatus, lastError string) error {
	res, err := s.db.Exec(`UPDATE uploads SET sync_status = ?, last_error = ?, updated_at = ? WHERE document_id = ? AND document_id != ''`,
		syncStatus, lastError, formatTime(time.Now()), documentID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetUploadByDocumentID returns the most recent ledger entry for a document.
func (s *Store) GetUploadByDocumentID(documentID string) (Upload, error) {
	row := s.db.QueryRow(`SELECT `+uploadColumns+` FROM uploads
		WHERE document_id = ? AND document_id != ''
		ORDER BY created_at DESC, rowid DESC LIMIT 1`, documentID)
	u, err := scanUpload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Upload{}, ErrNotFound
	}
	return u, err
}

// ListUploads returns up to limit ledger entries, newest first. A non-empty
// syncStatus filters on that status.
func (s *Store) ListUploads(limit int, syncStatus string) ([]Upload, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + uploadColumns + ` FROM uploads`
	args := []any{}
	if syncStatus != "" {
		query += ` WHERE sync_status = ?`
		args = append(args, syncStatus)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	uploads := []Upload{}
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, err
		}
		uploads = append(uploads, u)
	}
	return uploads, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUpload(row scanner) (Upload, error) {
	var u Upload
	var createdAt, updatedAt string
	if err := row.Scan(&u.ID, &u.DocumentID, &u.Name, &u.Folder, &u.MIMEType, &u.Size,
		&u.SyncStatus, &u.LastError, &createdAt, &updatedAt); err != nil {
		return Upload{}, err
	}
	var err error
	if u.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Upload{}, err
	}
	if u.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return Upload{}, err
	}
	return u, nil
}
