package models

import "time"

// ContentHistory records a frame that was generated and sent to the display.
// Persistence of history is best-effort: a failed insert is logged and never
// fails the generation that produced it.
type ContentHistory struct {
	ID          int64     `json:"id"           db:"id"`
	GeneratorID string    `json:"generator_id" db:"generator_id"`
	Provider    string    `json:"provider"     db:"provider"` // empty for programmatic generators
	Text        string    `json:"text"         db:"text"`
	FrameJSON   string    `json:"frame_json"   db:"frame_json"`
	UpdateType  string    `json:"update_type"  db:"update_type"`
	TriggerName string    `json:"trigger_name" db:"trigger_name"` // which automation trigger fired, if any
	Metadata    string    `json:"metadata"     db:"metadata"`     // generator annotations, JSON ("" for none)
	Votes       int       `json:"votes"        db:"votes"`
	CreatedAt   time.Time `json:"created_at"   db:"created_at"`
}

// Schedule is a cron-driven content rotation entry.
type Schedule struct {
	ID          int64  `json:"id"           db:"id"`
	Name        string `json:"name"         db:"name"`
	Expr        string `json:"expr"         db:"expr"`
	GeneratorID string `json:"generator_id" db:"generator_id"` // empty = rotate through registry
	UpdateType  string `json:"update_type"  db:"update_type"`
	Enabled     bool   `json:"enabled"      db:"enabled"`
	LastRunAt   string `json:"last_run_at"  db:"last_run_at"`
	CreatedAt   string `json:"created_at"   db:"created_at"`
	UpdatedAt   string `json:"updated_at"   db:"updated_at"`
}
