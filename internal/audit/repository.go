// Package audit stores the protection event log: trips, latches, retries,
// clears and safe-state transitions, plus the history of applied layouts.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a protection event.
type Kind string

// Event kinds.
const (
	KindTrip      Kind = "trip"
	KindLatch     Kind = "latch"
	KindRetry     Kind = "retry"
	KindRecover   Kind = "recover"
	KindClear     Kind = "clear"
	KindSafeState Kind = "safe_state"
	KindSafeReset Kind = "safe_reset"
)

// Target names what an event is about.
const (
	TargetOutput = "output"
	TargetBridge = "bridge"
	TargetSystem = "system"
)

// Default and maximum page sizes for List.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// timeFormat sorts lexically in time order.
const timeFormat = "2006-01-02T15:04:05.000000Z"

// ErrInvalidEvent is returned by Record for events missing a kind or target.
var ErrInvalidEvent = errors.New("audit: invalid event")

// Event is one row of the protection event log.
type Event struct {
	ID         string         `json:"id"`
	OccurredAt time.Time      `json:"occurred_at"`
	Tick       uint64         `json:"tick"`
	Kind       Kind           `json:"kind"`
	Target     string         `json:"target"`
	ChannelID  int            `json:"channel_id"`
	Name       string         `json:"name,omitempty"`
	State      string         `json:"state,omitempty"`
	Fault      string         `json:"fault,omitempty"`
	CurrentMA  int32          `json:"current_ma"`
	Detail     map[string]any `json:"detail,omitempty"`
}

// Filter controls which events List returns. Zero fields match everything.
type Filter struct {
	Kind      Kind
	Target    string
	ChannelID *int
	Since     time.Time
	Limit     int
	Offset    int
}

// ListResult is one page of events, most recent first.
type ListResult struct {
	Events []Event `json:"events"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// Repository is the event log store.
type Repository interface {
	Record(ctx context.Context, e *Event) error
	List(ctx context.Context, f Filter) (*ListResult, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteRepository stores events in the protection_events table.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates an event repository on db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Record inserts e, filling in ID and OccurredAt when empty.
func (r *SQLiteRepository) Record(ctx context.Context, e *Event) error {
	if e.Kind == "" || e.Target == "" {
		return fmt.Errorf("%w: kind and target are required", ErrInvalidEvent)
	}
	if e.ID == "" {
		e.ID = "evt-" + uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = r.now()
	}
	e.OccurredAt = e.OccurredAt.UTC()

	var detail *string
	if e.Detail != nil {
		b, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshalling event detail: %w", err)
		}
		s := string(b)
		detail = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO protection_events
		 (id, occurred_at, tick, kind, target, channel_id, name, state, fault, current_ma, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.OccurredAt.Format(timeFormat), int64(e.Tick), string(e.Kind), e.Target,
		e.ChannelID, e.Name, e.State, e.Fault, e.CurrentMA, detail,
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// List returns events matching f, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, f Filter) (*ListResult, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	f.Limit = min(f.Limit, MaxLimit)
	f.Offset = max(f.Offset, 0)

	var conditions []string
	var args []any
	if f.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.Target != "" {
		conditions = append(conditions, "target = ?")
		args = append(args, f.Target)
	}
	if f.ChannelID != nil {
		conditions = append(conditions, "channel_id = ?")
		args = append(args, *f.ChannelID)
	}
	if !f.Since.IsZero() {
		conditions = append(conditions, "occurred_at >= ?")
		args = append(args, f.Since.UTC().Format(timeFormat))
	}
	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM protection_events " + where //nolint:gosec // conditions are placeholders only
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting events: %w", err)
	}

	query := `SELECT id, occurred_at, tick, kind, target, channel_id, name, state, fault, current_ma, detail
		FROM protection_events ` + where + ` ORDER BY occurred_at DESC, tick DESC LIMIT ? OFFSET ?` //nolint:gosec // conditions are placeholders only
	rows, err := r.db.QueryContext(ctx, query, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var e Event
		var occurred, kind string
		var tick int64
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &occurred, &tick, &kind, &e.Target, &e.ChannelID,
			&e.Name, &e.State, &e.Fault, &e.CurrentMA, &detail); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.Kind = Kind(kind)
		e.Tick = uint64(tick)
		if e.OccurredAt, err = time.Parse(timeFormat, occurred); err != nil {
			return nil, fmt.Errorf("parsing event timestamp %q: %w", occurred, err)
		}
		if detail.Valid && detail.String != "" {
			var d map[string]any
			if json.Unmarshal([]byte(detail.String), &d) == nil {
				e.Detail = d
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating events: %w", err)
	}

	return &ListResult{
		Events: events,
		Total:  total,
		Limit:  f.Limit,
		Offset: f.Offset,
	}, nil
}

// Prune deletes events older than before and returns how many went.
func (r *SQLiteRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM protection_events WHERE occurred_at < ?",
		before.UTC().Format(timeFormat),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning events: %w", err)
	}
	n, _ := res.RowsAffected() //nolint:errcheck // sqlite3 always reports it
	return n, nil
}
