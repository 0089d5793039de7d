package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"remindbot/internal/reminder"
	logx "remindbot/pkg/logx"
	"sort"
	"strings"
	"sync"
	"time"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.reminders.snapshot.json (periodic snapshot)
//   - <prefix>.reminders.journal.jsonl (append-only journal)
//
// Every mutation is appended to the journal before it is applied in memory.
// The journal is periodically compacted into the snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journal      *os.File
	rows         map[string]*fileRow

	writes       int
	compactEvery int
}

// fileRow is the on-disk shape of one reminder. Times are unix millis.
type fileRow struct {
	ID            string `json:"id"`
	OwnerID       int64  `json:"owner_id"`
	ChatID        int64  `json:"chat_id"`
	ThreadID      int    `json:"thread_id,omitempty"`
	Text          string `json:"text"`
	TargetTime    int64  `json:"target_time"`
	CreatedAt     int64  `json:"created_at"`
	IsSent        bool   `json:"is_sent"`
	SentAt        *int64 `json:"sent_at,omitempty"`
	DeliveryError string `json:"delivery_error,omitempty"`
}

type journalOp struct {
	Op    string   `json:"op"` // put | sent | del
	Row   *fileRow `json:"row,omitempty"`
	ID    string   `json:"id,omitempty"`
	At    int64    `json:"at,omitempty"`
	Err   string   `json:"err,omitempty"`
	Owner int64    `json:"owner,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".reminders.snapshot.json"
	journalPath := prefix + ".reminders.journal.jsonl"

	rows := map[string]*fileRow{}
	if err := loadSnapshot(snapPath, rows); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("reminder snapshot unreadable", logx.String("path", snapPath), logx.Err(err))
	}
	if err := replayJournal(journalPath, rows); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("reminder journal replay failed", logx.String("path", journalPath), logx.Err(err))
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:          log,
		snapshotPath: snapPath,
		journal:      jf,
		rows:         rows,
		compactEvery: 1000,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	if err := s.compactLocked(); err != nil {
		s.log.Debug("reminder compact on close failed", logx.Err(err))
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

func (s *fileStore) Ping(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return reminder.Storage("ping", errors.New("journal closed"))
	}
	_, err := s.journal.Stat()
	return reminder.Storage("ping", err)
}

func (s *fileStore) Insert(ctx context.Context, r reminder.Reminder) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[r.ID]; ok {
		return reminder.Storage("insert", fmt.Errorf("duplicate id %q", r.ID))
	}
	row := toFileRow(r)
	return reminder.Storage("insert", s.applyLocked(journalOp{Op: "put", Row: row}))
}

func (s *fileStore) Get(ctx context.Context, id string) (reminder.Reminder, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok {
		return reminder.Reminder{}, reminder.Storage("get", fmt.Errorf("%s: %w", id, reminder.ErrNotFound))
	}
	return row.reminder(), nil
}

func (s *fileStore) TryMarkSent(ctx context.Context, id string, sentAt time.Time, deliveryErr string) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	if !ok || row.IsSent {
		return false, nil
	}
	if err := s.applyLocked(journalOp{Op: "sent", ID: id, At: millis(sentAt), Err: deliveryErr}); err != nil {
		return false, reminder.Storage("mark_sent", err)
	}
	return true, nil
}

func (s *fileStore) IsPending(ctx context.Context, id string) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[id]
	return ok && !row.IsSent, nil
}

func (s *fileStore) QueryPending(ctx context.Context, limit int) ([]reminder.Reminder, error) {
	_ = ctx
	s.mu.Lock()
	out := make([]reminder.Reminder, 0, len(s.rows))
	for _, row := range s.rows {
		if !row.IsSent {
			out = append(out, row.reminder())
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].TargetTime.Before(out[j].TargetTime) })
	if n := normLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (s *fileStore) DeleteManyPendingByOwner(ctx context.Context, ownerID int64) (int64, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, row := range s.rows {
		if row.OwnerID == ownerID && !row.IsSent {
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	if err := s.applyLocked(journalOp{Op: "del", Owner: ownerID}); err != nil {
		return 0, reminder.Storage("delete_pending", err)
	}
	return n, nil
}

// applyLocked journals op, then applies it to the in-memory map.
func (s *fileStore) applyLocked(op journalOp) error {
	if s.journal == nil {
		return errors.New("journal closed")
	}
	if err := json.NewEncoder(s.journal).Encode(op); err != nil {
		return err
	}
	applyOp(s.rows, op)

	s.writes++
	if s.writes%s.compactEvery == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("reminder compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.rows); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func applyOp(rows map[string]*fileRow, op journalOp) {
	switch op.Op {
	case "put":
		if op.Row != nil {
			cp := *op.Row
			rows[cp.ID] = &cp
		}
	case "sent":
		if row, ok := rows[op.ID]; ok && !row.IsSent {
			at := op.At
			row.IsSent = true
			row.SentAt = &at
			row.DeliveryError = op.Err
		}
	case "del":
		for id, row := range rows {
			if row.OwnerID == op.Owner && !row.IsSent {
				delete(rows, id)
			}
		}
	}
}

func loadSnapshot(path string, out map[string]*fileRow) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]*fileRow
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		if v != nil {
			out[k] = v
		}
	}
	return nil
}

func replayJournal(path string, out map[string]*fileRow) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var op journalOp
		if err := json.Unmarshal(sc.Bytes(), &op); err != nil {
			// A torn trailing write after a crash; skip it.
			continue
		}
		applyOp(out, op)
	}
	return sc.Err()
}

func toFileRow(r reminder.Reminder) *fileRow {
	row := &fileRow{
		ID:            r.ID,
		OwnerID:       r.OwnerID,
		ChatID:        r.ChatID,
		ThreadID:      r.ThreadID,
		Text:          r.Text,
		TargetTime:    millis(r.TargetTime),
		CreatedAt:     millis(r.CreatedAt),
		IsSent:        r.IsSent,
		DeliveryError: r.DeliveryError,
	}
	if r.SentAt != nil {
		ms := millis(*r.SentAt)
		row.SentAt = &ms
	}
	return row
}

func (row *fileRow) reminder() reminder.Reminder {
	r := reminder.Reminder{
		ID:            row.ID,
		OwnerID:       row.OwnerID,
		ChatID:        row.ChatID,
		ThreadID:      row.ThreadID,
		Text:          row.Text,
		TargetTime:    fromMillis(row.TargetTime),
		CreatedAt:     fromMillis(row.CreatedAt),
		IsSent:        row.IsSent,
		DeliveryError: row.DeliveryError,
	}
	if row.SentAt != nil {
		t := fromMillis(*row.SentAt)
		r.SentAt = &t
	}
	return r
}
