package storage

import (
	"context"
	"time"

	"remindbot/internal/reminder"
)

// DefaultPendingLimit bounds QueryPending when the caller passes limit <= 0.
const DefaultPendingLimit = 1000

// Config configures storage.
//
// Driver values:
//   - "sqlite" (or "sqlite3"): SQLite database file at Path
//   - "postgres" (or "pgx"): PostgreSQL reachable via DSN
//   - "file": JSON files next to Path
//
// An empty Driver means "sqlite".
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by the scheduler, dispatcher and commands.
//
// Every error returned is a *reminder.StorageError.
type Store interface {
	Insert(ctx context.Context, r reminder.Reminder) error
	// Get returns reminder.ErrNotFound (wrapped) for unknown IDs.
	Get(ctx context.Context, id string) (reminder.Reminder, error)
	// TryMarkSent flips is_sent only if it is still false and reports whether it did.
	TryMarkSent(ctx context.Context, id string, sentAt time.Time, deliveryErr string) (bool, error)
	IsPending(ctx context.Context, id string) (bool, error)
	// QueryPending returns unsent rows ordered by target time. Rows are not validated.
	QueryPending(ctx context.Context, limit int) ([]reminder.Reminder, error)
	DeleteManyPendingByOwner(ctx context.Context, ownerID int64) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

func normLimit(limit int) int {
	if limit <= 0 {
		return DefaultPendingLimit
	}
	return limit
}

// millis encodes t as unix milliseconds; the zero time maps to 0.
func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
