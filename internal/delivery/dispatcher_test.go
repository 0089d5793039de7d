package delivery

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	"remindbot/internal/transport/transporttest"
	logx "remindbot/pkg/logx"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "r.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func pending(t *testing.T, st storage.Store, text string) reminder.Reminder {
	t.Helper()
	now := time.Now()
	r, err := reminder.New(reminder.Draft{OwnerID: 1, ChatID: 100, ThreadID: 5, Text: text, TargetTime: now.Add(time.Minute)}, now)
	require.NoError(t, err)
	require.NoError(t, st.Insert(context.Background(), r))
	return r
}

func TestAttemptSendsAndMarks(t *testing.T) {
	t.Parallel()
	st := openStore(t)
	ad := transporttest.New()
	mock := clock.NewMock()
	mock.Set(time.UnixMilli(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC).UnixMilli()))
	d := New(Config{RatePerSec: 10}, st, ad, mock, logx.Nop())

	r := pending(t, st, "ping")
	out, err := d.Attempt(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, Sent, out)

	sent := ad.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "⏰ Напоминание: ping", sent[0].Text)
	assert.Equal(t, kit.ChatTarget{ChatID: 100, ThreadID: 5}, sent[0].To)

	got, err := st.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.True(t, got.IsSent)
	require.NotNil(t, got.SentAt)
	assert.True(t, got.SentAt.Equal(mock.Now()))
	assert.Empty(t, got.DeliveryError)

	// A second attempt for the same record is a no-op.
	out, err = d.Attempt(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, Skipped, out)
	assert.Len(t, ad.Sent(), 1)
}

func TestAttemptSkipsCancelled(t *testing.T) {
	t.Parallel()
	st := openStore(t)
	ad := transporttest.New()
	d := New(Config{}, st, ad, nil, logx.Nop())

	r := pending(t, st, "gone")
	n, err := st.DeleteManyPendingByOwner(context.Background(), r.OwnerID)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	require.NoError(t, d.Deliver(context.Background(), r))
	assert.Empty(t, ad.Sent())
}

func TestAttemptTransportFailureStillMarks(t *testing.T) {
	t.Parallel()
	st := openStore(t)
	ad := transporttest.New()
	ad.FailNext(errors.New("chat not found"))
	d := New(Config{RetryMax: 3}, st, ad, nil, logx.Nop())

	r := pending(t, st, "x")
	out, err := d.Attempt(context.Background(), r)
	assert.Equal(t, SendFailed, out)
	var te *reminder.TransportError
	require.ErrorAs(t, err, &te)

	got, err := st.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.True(t, got.IsSent)
	assert.Contains(t, got.DeliveryError, "chat not found")
	assert.Empty(t, ad.Sent())
}

func TestAttemptRetriesFloodWait(t *testing.T) {
	t.Parallel()
	st := openStore(t)
	ad := transporttest.New()
	ad.FailNext(&kit.FloodError{RetryAfter: time.Millisecond, Err: errors.New("429")})
	d := New(Config{RetryMax: 1}, st, ad, clock.New(), logx.Nop())

	r := pending(t, st, "after flood")
	out, err := d.Attempt(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, Sent, out)
	require.Len(t, ad.Sent(), 1)
}

func TestAttemptFloodRetriesExhausted(t *testing.T) {
	t.Parallel()
	st := openStore(t)
	ad := transporttest.New()
	flood := &kit.FloodError{RetryAfter: time.Millisecond, Err: errors.New("429")}
	ad.FailNext(flood, flood)
	d := New(Config{RetryMax: 1}, st, ad, clock.New(), logx.Nop())

	r := pending(t, st, "x")
	out, err := d.Attempt(context.Background(), r)
	assert.Equal(t, SendFailed, out)
	var fe *kit.FloodError
	require.ErrorAs(t, err, &fe)
}

type failingPending struct {
	storage.Store
}

func (failingPending) IsPending(ctx context.Context, id string) (bool, error) {
	return false, &reminder.StorageError{Op: "is_pending", Err: errors.New("disk gone")}
}

func TestAttemptPendingCheckFailureDefers(t *testing.T) {
	t.Parallel()
	st := openStore(t)
	r := pending(t, st, "x")
	ad := transporttest.New()
	d := New(Config{}, failingPending{st}, ad, nil, logx.Nop())

	out, err := d.Attempt(context.Background(), r)
	assert.Equal(t, Deferred, out)
	var se *reminder.StorageError
	require.ErrorAs(t, err, &se)
	assert.Empty(t, ad.Sent())

	ok, err := st.IsPending(context.Background(), r.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

type cancellingAdapter struct {
	*transporttest.Adapter
	cancel context.CancelFunc
}

func (a cancellingAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	a.cancel()
	return a.Adapter.SendText(ctx, to, text, opt)
}

func TestAttemptInterruptedLeavesPending(t *testing.T) {
	t.Parallel()
	st := openStore(t)
	r := pending(t, st, "x")
	ctx, cancel := context.WithCancel(context.Background())
	ad := cancellingAdapter{Adapter: transporttest.New(), cancel: cancel}
	d := New(Config{}, st, ad, nil, logx.Nop())

	out, err := d.Attempt(ctx, r)
	assert.Equal(t, Deferred, out)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, ad.Sent())

	ok, err := st.IsPending(context.Background(), r.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}
