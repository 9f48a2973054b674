package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Presentation struct {
	ID          string    `json:"id"`
	FilePath    string    `json:"filePath"`
	FileName    string    `json:"fileName"`
	ContentType string    `json:"contentType,omitempty"`
	SizeBytes   int64     `json:"sizeBytes,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type CreatePresentationInput struct {
	FilePath    string `json:"filePath"`
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType,omitempty"`
	SizeBytes   int64  `json:"sizeBytes,omitempty"`
}

const presentationColumns = `id, file_path, file_name, content_type, size_bytes, created_at`

func scanPresentation(scan scanFunc) (*Presentation, error) {
	var p Presentation
	if err := scan(&p.ID, &p.FilePath, &p.FileName, &p.ContentType, &p.SizeBytes, &p.CreatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePresentation stores a record for an uploaded deck and returns it
func (db *DB) CreatePresentation(input CreatePresentationInput) (*Presentation, error) {
	if strings.TrimSpace(input.FilePath) == "" {
		return nil, errors.New("file path is required")
	}
	if strings.TrimSpace(input.FileName) == "" {
		return nil, errors.New("file name is required")
	}

	id := NewUUID()
	_, err := db.conn.Exec(`
		INSERT INTO presentations (id, file_path, file_name, content_type, size_bytes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, input.FilePath, input.FileName, input.ContentType, input.SizeBytes, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("insert presentation: %w", err)
	}

	return db.GetPresentation(id)
}

// GetPresentation retrieves a presentation by its UUID. Malformed ids yield ErrInvalidID.
func (db *DB) GetPresentation(id string) (*Presentation, error) {
	id, err := ParseUUID(id)
	if err != nil {
		return nil, err
	}

	row := db.conn.QueryRow(`SELECT `+presentationColumns+` FROM presentations WHERE id = ?`, id)
	p, err := scanPresentation(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

// ListPresentations returns all presentations, newest first
func (db *DB) ListPresentations() ([]*Presentation, error) {
	rows, err := db.conn.Query(`SELECT ` + presentationColumns + ` FROM presentations ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("query presentations: %w", err)
	}
	defer rows.Close()

	presentations := make([]*Presentation, 0)
	for rows.Next() {
		p, err := scanPresentation(rows.Scan)
		if err != nil {
			return nil, err
		}
		presentations = append(presentations, p)
	}
	return presentations, rows.Err()
}

// DeletePresentation removes the record. The stored deck is left to the caller.
func (db *DB) DeletePresentation(id string) error {
	id, err := ParseUUID(id)
	if err != nil {
		return err
	}
	return db.execOne(`DELETE FROM presentations WHERE id = ?`, id)
}
