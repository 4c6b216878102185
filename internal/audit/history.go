package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// LayoutApplied records one committed configuration generation.
type LayoutApplied struct {
	Generation int32     `json:"generation"`
	AppliedAt  time.Time `json:"applied_at"`
	Mode       string    `json:"mode"`
	Source     string    `json:"source,omitempty"`
	Checksum   string    `json:"checksum,omitempty"`
	Channels   int       `json:"channels"`
	Slots      int       `json:"slots"`
	Outputs    int       `json:"outputs"`
	Bridges    int       `json:"bridges"`
}

// HistoryRepository stores the layout_history table.
type HistoryRepository struct {
	db *sql.DB
}

// NewHistoryRepository creates a layout history repository on db.
func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Record inserts a, stamping AppliedAt when zero.
func (r *HistoryRepository) Record(ctx context.Context, a *LayoutApplied) error {
	if a.AppliedAt.IsZero() {
		a.AppliedAt = time.Now()
	}
	a.AppliedAt = a.AppliedAt.UTC()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO layout_history
		 (generation, applied_at, mode, source, checksum, channels, slots, outputs, bridges)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Generation, a.AppliedAt.Format(timeFormat), a.Mode, a.Source, a.Checksum,
		a.Channels, a.Slots, a.Outputs, a.Bridges,
	)
	if err != nil {
		return fmt.Errorf("inserting layout history: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (r *HistoryRepository) Recent(ctx context.Context, limit int) ([]LayoutApplied, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT generation, applied_at, mode, source, checksum, channels, slots, outputs, bridges
		 FROM layout_history ORDER BY applied_at DESC, generation DESC LIMIT ?`,
		min(limit, MaxLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying layout history: %w", err)
	}
	defer rows.Close()

	out := []LayoutApplied{}
	for rows.Next() {
		var a LayoutApplied
		var at string
		if err := rows.Scan(&a.Generation, &at, &a.Mode, &a.Source, &a.Checksum,
			&a.Channels, &a.Slots, &a.Outputs, &a.Bridges); err != nil {
			return nil, fmt.Errorf("scanning layout history: %w", err)
		}
		if a.AppliedAt, err = time.Parse(timeFormat, at); err != nil {
			return nil, fmt.Errorf("parsing layout history timestamp %q: %w", at, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating layout history: %w", err)
	}
	return out, nil
}
