package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"remindbot/internal/delivery"
	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	"remindbot/internal/transport/transporttest"
	logx "remindbot/pkg/logx"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

type harness struct {
	t    *testing.T
	st   storage.Store
	ad   *transporttest.Adapter
	clk  *clock.Mock
	bus  eventbus.Bus
	disp *delivery.Dispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reminders.db")
	st, err := storage.Open(storage.Config{Driver: "sqlite", Path: path}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	mock := clock.NewMock()
	mock.Set(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	ad := transporttest.New()
	return &harness{
		t:    t,
		st:   st,
		ad:   ad,
		clk:  mock,
		bus:  eventbus.New(),
		disp: delivery.New(delivery.Config{}, st, ad, mock, logx.Nop()),
	}
}

func (h *harness) engine() *Engine {
	e := New(Config{}, h.st, h.disp, h.clk, h.bus, logx.Nop())
	h.t.Cleanup(func() { _ = e.Stop(context.Background()) })
	return e
}

func (h *harness) insert(owner int64, in time.Duration, text string) reminder.Reminder {
	h.t.Helper()
	now := h.clk.Now()
	r, err := reminder.New(reminder.Draft{OwnerID: owner, ChatID: owner * 10, Text: text, TargetTime: now.Add(in)}, now)
	require.NoError(h.t, err)
	require.NoError(h.t, h.st.Insert(context.Background(), r))
	return r
}

func (h *harness) sentCount() int { return len(h.ad.Sent()) }

func TestArmDeliversAtTargetTime(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	e := h.engine()
	events, unsub := h.bus.Subscribe(8)
	defer unsub()

	r := h.insert(1, time.Minute, "ping")
	require.NoError(t, e.Arm(r))
	require.NoError(t, e.Arm(r))
	assert.Equal(t, 1, e.Armed())

	h.clk.Add(30 * time.Second)
	assert.Never(t, func() bool { return h.sentCount() > 0 }, 50*time.Millisecond, tick)

	h.clk.Add(30 * time.Second)
	require.Eventually(t, func() bool { return e.Armed() == 0 }, waitFor, tick)
	require.Equal(t, 1, h.sentCount())
	assert.Equal(t, "⏰ Напоминание: ping", h.ad.Sent()[0].Text)

	got, err := h.st.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.True(t, got.IsSent)

	assert.Equal(t, eventbus.ReminderArmed, (<-events).Type)
	assert.Equal(t, eventbus.ReminderDelivered, (<-events).Type)
	assert.Equal(t, uint64(1), e.Snapshot(0).Delivered)
}

func TestArmPastDueFiresImmediately(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	e := h.engine()

	r := h.insert(1, time.Minute, "late")
	h.clk.Add(10 * time.Minute)
	require.NoError(t, e.Arm(r))

	require.Eventually(t, func() bool { return h.sentCount() == 1 }, waitFor, tick)
}

func TestArmIgnoresSentRecords(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	e := h.engine()

	r := h.insert(1, time.Minute, "x")
	r.IsSent = true
	require.NoError(t, e.Arm(r))
	assert.Zero(t, e.Armed())
}

func TestRecoverAfterRestartDoesNotRedeliver(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.insert(1, time.Minute, "a")
	h.insert(2, 2*time.Minute, "b")

	first := h.engine()
	rep, err := first.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RecoverReport{Queried: 2, Armed: 2}, rep)

	// A second pass over the same rows creates no extra timers.
	rep, err = first.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.AlreadyArmed)
	assert.Zero(t, rep.Armed)

	snap := first.Snapshot(1)
	require.Len(t, snap.Next, 1)
	assert.Equal(t, int64(10), snap.Next[0].ChatID)

	h.clk.Add(2 * time.Minute)
	require.Eventually(t, func() bool { return first.Armed() == 0 }, waitFor, tick)
	require.Equal(t, 2, h.sentCount())
	require.NoError(t, first.Stop(context.Background()))

	second := h.engine()
	rep, err = second.Recover(context.Background())
	require.NoError(t, err)
	assert.Zero(t, rep.Queried)
	h.clk.Add(time.Hour)
	assert.Never(t, func() bool { return h.sentCount() != 2 }, 50*time.Millisecond, tick)
}

func TestRecoverRearmsStoppedTimers(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.insert(1, time.Minute, "survives")

	first := h.engine()
	_, err := first.Recover(context.Background())
	require.NoError(t, err)
	require.NoError(t, first.Stop(context.Background()))
	assert.Zero(t, first.Armed())
	assert.ErrorIs(t, first.Arm(h.insert(1, time.Minute, "late arm")), ErrStopped)

	h.clk.Add(5 * time.Minute)
	assert.Never(t, func() bool { return h.sentCount() > 0 }, 50*time.Millisecond, tick)

	second := h.engine()
	rep, err := second.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Armed)
	require.Eventually(t, func() bool { return h.sentCount() == 2 }, waitFor, tick)
}

func TestRecoverSkipsMalformedRecords(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	now := h.clk.Now()
	bad := reminder.Reminder{ID: "broken", OwnerID: 3, ChatID: 30, TargetTime: now.Add(time.Minute), CreatedAt: now}
	require.NoError(t, h.st.Insert(context.Background(), bad))
	h.insert(1, time.Minute, "good")

	e := h.engine()
	rep, err := e.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Queried)
	assert.Equal(t, 1, rep.Invalid)
	assert.Equal(t, 1, rep.Armed)

	h.clk.Add(time.Minute)
	require.Eventually(t, func() bool { return h.sentCount() == 1 }, waitFor, tick)
	assert.Equal(t, "⏰ Напоминание: good", h.ad.Sent()[0].Text)
}

func TestCancelledReminderIsNotSent(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	e := h.engine()

	r := h.insert(7, time.Minute, "cancel me")
	require.NoError(t, e.Arm(r))
	n, err := h.st.DeleteManyPendingByOwner(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	h.clk.Add(time.Minute)
	require.Eventually(t, func() bool { return e.Snapshot(0).Skipped == 1 }, waitFor, tick)
	assert.Zero(t, h.sentCount())
	assert.Zero(t, e.Armed())
}

func TestFailedSendIsMarkedAndNotRetried(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.ad.FailNext(assert.AnError)
	e := h.engine()
	failed, unsub := h.bus.Subscribe(4, eventbus.ReminderFailed)
	defer unsub()

	r := h.insert(1, time.Minute, "x")
	require.NoError(t, e.Arm(r))
	h.clk.Add(time.Minute)

	select {
	case ev := <-failed:
		assert.Equal(t, r.ID, ev.ReminderID)
		assert.Contains(t, ev.Err, assert.AnError.Error())
	case <-time.After(waitFor):
		t.Fatal("no failure event")
	}
	pending, err := h.st.IsPending(context.Background(), r.ID)
	require.NoError(t, err)
	assert.False(t, pending)
}
