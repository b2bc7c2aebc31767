// Package history persists generated content records and their votes.
package history

import (
	"context"
	"fmt"

	"github.com/brodkin/clack-track-sub011/internal/database"
	"github.com/brodkin/clack-track-sub011/models"
)

const historyCols = "id, generator_id, provider, text, frame_json, update_type, trigger_name, metadata, votes, created_at"

// Store reads and writes content_history rows.
type Store struct {
	db database.DB
}

func NewStore(db database.DB) *Store {
	return &Store{db: db}
}

// Record inserts one history row and fills in its new ID.
func (s *Store) Record(ctx context.Context, h *models.ContentHistory) error {
	id, err := s.db.Insert(ctx, "content_history", h)
	if err != nil {
		return fmt.Errorf("recording content history: %w", err)
	}
	h.ID = id
	return nil
}

// Recent returns up to limit rows, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]models.ContentHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.ContentHistory
	err := s.db.Select(ctx, &rows,
		"SELECT "+historyCols+" FROM content_history ORDER BY created_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("querying content history: %w", err)
	}
	return rows, nil
}

// Latest returns the most recent row, or nil if history is empty.
func (s *Store) Latest(ctx context.Context) (*models.ContentHistory, error) {
	rows, err := s.Recent(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// Vote adjusts the vote count on one row by delta (+1 or -1).
func (s *Store) Vote(ctx context.Context, id int64, delta int) error {
	if delta != 1 && delta != -1 {
		return fmt.Errorf("vote delta must be +1 or -1, got %d", delta)
	}
	var row models.ContentHistory
	if err := s.db.Get(ctx, &row, "SELECT "+historyCols+" FROM content_history WHERE id = ?", id); err != nil {
		return fmt.Errorf("history row %d not found: %w", id, err)
	}
	if err := s.db.Exec(ctx, "UPDATE content_history SET votes = votes + ? WHERE id = ?", delta, id); err != nil {
		return fmt.Errorf("updating votes on row %d: %w", id, err)
	}
	return nil
}
