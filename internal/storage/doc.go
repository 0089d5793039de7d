// Package storage persists reminders.
//
// Pending rows (is_sent = false) are the durable work queue; the scheduler
// rebuilds its timers from them at startup. Marking a reminder sent is a
// conditional update, so at most one caller ever wins for a given ID.
//
// Drivers:
//   - sqlite (default): modernc.org/sqlite, pure Go
//   - postgres: jackc/pgx/v5 connection pool
//   - file: dependency-free JSON snapshot + append-only journal
package storage
