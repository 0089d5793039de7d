package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql migrations_postgres.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; it also serializes TryMarkSent.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return reminder.Storage("ping", err)
	}
	var one int
	return reminder.Storage("ping", s.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one))
}

func (s *sqliteStore) Insert(ctx context.Context, r reminder.Reminder) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders(id, owner_id, chat_id, thread_id, text, target_time, created_at, is_sent, sent_at, delivery_error)
		 VALUES(?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.OwnerID, r.ChatID, r.ThreadID, r.Text, millis(r.TargetTime), millis(r.CreatedAt),
		boolInt(r.IsSent), nullMillis(r.SentAt), nullStr(r.DeliveryError),
	)
	return reminder.Storage("insert", err)
}

func (s *sqliteStore) Get(ctx context.Context, id string) (reminder.Reminder, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteCols+` FROM reminders WHERE id = ?`, id)
	r, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return reminder.Reminder{}, reminder.Storage("get", fmt.Errorf("%s: %w", id, reminder.ErrNotFound))
	}
	return r, reminder.Storage("get", err)
}

func (s *sqliteStore) TryMarkSent(ctx context.Context, id string, sentAt time.Time, deliveryErr string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET is_sent = 1, sent_at = ?, delivery_error = ? WHERE id = ? AND is_sent = 0`,
		millis(sentAt), nullStr(deliveryErr), id,
	)
	if err != nil {
		return false, reminder.Storage("mark_sent", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, reminder.Storage("mark_sent", err)
	}
	return n == 1, nil
}

func (s *sqliteStore) IsPending(ctx context.Context, id string) (bool, error) {
	var sent int
	err := s.db.QueryRowContext(ctx, `SELECT is_sent FROM reminders WHERE id = ?`, id).Scan(&sent)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, reminder.Storage("is_pending", err)
	}
	return sent == 0, nil
}

func (s *sqliteStore) QueryPending(ctx context.Context, limit int) ([]reminder.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteCols+` FROM reminders WHERE is_sent = 0 ORDER BY target_time ASC LIMIT ?`,
		normLimit(limit),
	)
	if err != nil {
		return nil, reminder.Storage("query_pending", err)
	}
	defer rows.Close()

	var out []reminder.Reminder
	for rows.Next() {
		r, err := scanSQLite(rows)
		if err != nil {
			// Keep going; a bad row only loses itself.
			s.log.Warn("pending row decode failed", logx.Err(err))
			continue
		}
		out = append(out, r)
	}
	return out, reminder.Storage("query_pending", rows.Err())
}

func (s *sqliteStore) DeleteManyPendingByOwner(ctx context.Context, ownerID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE owner_id = ? AND is_sent = 0`, ownerID)
	if err != nil {
		return 0, reminder.Storage("delete_pending", err)
	}
	n, err := res.RowsAffected()
	return n, reminder.Storage("delete_pending", err)
}

const sqliteCols = `id, owner_id, chat_id, thread_id, text, target_time, created_at, is_sent, sent_at, delivery_error`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanSQLite decodes leniently: NULLs become zero values and are left for Validate to judge.
func scanSQLite(sc rowScanner) (reminder.Reminder, error) {
	var (
		id                      sql.NullString
		owner, chat, thread     sql.NullInt64
		text                    sql.NullString
		target, created, isSent sql.NullInt64
		sentAt                  sql.NullInt64
		deliveryErr             sql.NullString
	)
	if err := sc.Scan(&id, &owner, &chat, &thread, &text, &target, &created, &isSent, &sentAt, &deliveryErr); err != nil {
		return reminder.Reminder{}, err
	}
	r := reminder.Reminder{
		ID:            id.String,
		OwnerID:       owner.Int64,
		ChatID:        chat.Int64,
		ThreadID:      int(thread.Int64),
		Text:          text.String,
		TargetTime:    fromMillis(target.Int64),
		CreatedAt:     fromMillis(created.Int64),
		IsSent:        isSent.Int64 != 0,
		DeliveryError: deliveryErr.String,
	}
	if sentAt.Valid {
		t := fromMillis(sentAt.Int64)
		r.SentAt = &t
	}
	return r, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return millis(*t)
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
