package storage

import (
	"context"
	"errors"
	"fmt"
	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type postgresStore struct {
	pool *pgxpool.Pool
	log  logx.Logger
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if pcfg.MaxConns < 2 {
		pcfg.MaxConns = 4
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	st := &postgresStore{pool: pool, log: log}
	if err := st.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	log.Debug("postgres store opened", logx.String("host", pcfg.ConnConfig.Host), logx.String("db", pcfg.ConnConfig.Database))
	return st, nil
}

func (s *postgresStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations_postgres.sql")
	if err != nil {
		return err
	}
	for _, stmt := range strings.Split(string(b), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *postgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *postgresStore) Ping(ctx context.Context) error {
	return reminder.Storage("ping", s.pool.Ping(ctx))
}

func (s *postgresStore) Insert(ctx context.Context, r reminder.Reminder) error {
	var sentAt *int64
	if r.SentAt != nil {
		ms := millis(*r.SentAt)
		sentAt = &ms
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO reminders(id, owner_id, chat_id, thread_id, text, target_time, created_at, is_sent, sent_at, delivery_error)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		r.ID, r.OwnerID, r.ChatID, r.ThreadID, r.Text, millis(r.TargetTime), millis(r.CreatedAt),
		r.IsSent, sentAt, optStr(r.DeliveryError),
	)
	return reminder.Storage("insert", err)
}

func (s *postgresStore) Get(ctx context.Context, id string) (reminder.Reminder, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgCols+` FROM reminders WHERE id = $1`, id)
	r, err := scanPostgres(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return reminder.Reminder{}, reminder.Storage("get", fmt.Errorf("%s: %w", id, reminder.ErrNotFound))
	}
	return r, reminder.Storage("get", err)
}

func (s *postgresStore) TryMarkSent(ctx context.Context, id string, sentAt time.Time, deliveryErr string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE reminders SET is_sent = TRUE, sent_at = $1, delivery_error = $2 WHERE id = $3 AND is_sent = FALSE`,
		millis(sentAt), optStr(deliveryErr), id,
	)
	if err != nil {
		return false, reminder.Storage("mark_sent", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *postgresStore) IsPending(ctx context.Context, id string) (bool, error) {
	var sent bool
	err := s.pool.QueryRow(ctx, `SELECT is_sent FROM reminders WHERE id = $1`, id).Scan(&sent)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, reminder.Storage("is_pending", err)
	}
	return !sent, nil
}

func (s *postgresStore) QueryPending(ctx context.Context, limit int) ([]reminder.Reminder, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgCols+` FROM reminders WHERE is_sent = FALSE ORDER BY target_time ASC LIMIT $1`,
		normLimit(limit),
	)
	if err != nil {
		return nil, reminder.Storage("query_pending", err)
	}
	defer rows.Close()

	var out []reminder.Reminder
	for rows.Next() {
		r, err := scanPostgres(rows)
		if err != nil {
			s.log.Warn("pending row decode failed", logx.Err(err))
			continue
		}
		out = append(out, r)
	}
	return out, reminder.Storage("query_pending", rows.Err())
}

func (s *postgresStore) DeleteManyPendingByOwner(ctx context.Context, ownerID int64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM reminders WHERE owner_id = $1 AND is_sent = FALSE`, ownerID)
	if err != nil {
		return 0, reminder.Storage("delete_pending", err)
	}
	return tag.RowsAffected(), nil
}

const pgCols = `id, owner_id, chat_id, thread_id, text, target_time, created_at, is_sent, sent_at, delivery_error`

func scanPostgres(row pgx.Row) (reminder.Reminder, error) {
	var (
		id, text, deliveryErr   *string
		owner, chat             *int64
		thread                  *int32
		target, created, sentAt *int64
		isSent                  *bool
	)
	if err := row.Scan(&id, &owner, &chat, &thread, &text, &target, &created, &isSent, &sentAt, &deliveryErr); err != nil {
		return reminder.Reminder{}, err
	}
	r := reminder.Reminder{
		ID:            deref(id),
		OwnerID:       deref(owner),
		ChatID:        deref(chat),
		ThreadID:      int(deref(thread)),
		Text:          deref(text),
		TargetTime:    fromMillis(deref(target)),
		CreatedAt:     fromMillis(deref(created)),
		IsSent:        deref(isSent),
		DeliveryError: deref(deliveryErr),
	}
	if sentAt != nil {
		t := fromMillis(*sentAt)
		r.SentAt = &t
	}
	return r, nil
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func optStr(v string) *string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return &v
}
