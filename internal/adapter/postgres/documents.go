package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"fitledger/internal/domain"
)

var _ domain.RemoteMirror = (*Mirror)(nil)

// Mirror stores JSON documents keyed by collection and id. A merge upsert
// uses jsonb concatenation, which replaces only the top-level keys present
// in the incoming document.
type Mirror struct {
	db *DB
}

// NewMirror wraps a DB as a RemoteMirror.
func NewMirror(db *DB) *Mirror {
	return &Mirror{db: db}
}

// Get returns the document, or nil when it does not exist.
func (m *Mirror) Get(ctx context.Context, collection, id string) (domain.Document, error) {
	var raw []byte
	err := m.db.sql.QueryRowContext(ctx,
		"SELECT doc FROM documents WHERE collection = $1 AND id = $2",
		collection, id,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var doc domain.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Upsert inserts or updates the document.
func (m *Mirror) Upsert(ctx context.Context, collection, id string, doc domain.Document, merge bool) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = m.db.sql.ExecContext(ctx, `
		INSERT INTO documents (collection, id, doc, updated_at) VALUES ($1, $2, $3::jsonb, $4)
		ON CONFLICT (collection, id) DO UPDATE SET
			doc = CASE WHEN $5 THEN documents.doc || EXCLUDED.doc ELSE EXCLUDED.doc END,
			updated_at = EXCLUDED.updated_at`,
		collection, id, string(raw), time.Now().UTC(), merge,
	)
	return err
}
