package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"remindbot/internal/delivery"
	"remindbot/internal/eventbus"
	"remindbot/internal/reminder"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"

	"github.com/benbjohnson/clock"
)

var ErrStopped = errors.New("scheduler: engine stopped")

// Deliverer runs one delivery attempt for a due reminder.
type Deliverer interface {
	Attempt(ctx context.Context, r reminder.Reminder) (delivery.Outcome, error)
}

type Config struct {
	RecoverLimit    int           // <= 0: storage.DefaultPendingLimit
	DeliveryTimeout time.Duration // <= 0: 60s
}

// Engine owns one timer per pending reminder. Entries stay in the registry
// from Arm until their delivery attempt has finished.
type Engine struct {
	cfg   Config
	store storage.Store
	del   Deliverer
	clk   clock.Clock
	bus   eventbus.Bus
	log   logx.Logger
	sup   *rtsup.Supervisor

	mu      sync.Mutex
	entries map[string]*entry
	stopped bool

	delivered atomic.Uint64
	skipped   atomic.Uint64
	failed    atomic.Uint64
	deferred  atomic.Uint64
}

type entry struct {
	r      reminder.Reminder
	timer  *clock.Timer
	firing bool
}

type RecoverReport struct {
	Queried      int
	Armed        int
	AlreadyArmed int
	Invalid      int
	LimitReached bool
}

// New returns a running engine. bus may be nil.
func New(cfg Config, store storage.Store, del Deliverer, clk clock.Clock, bus eventbus.Bus, log logx.Logger) *Engine {
	if cfg.RecoverLimit <= 0 {
		cfg.RecoverLimit = storage.DefaultPendingLimit
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 60 * time.Second
	}
	if clk == nil {
		clk = clock.New()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		cfg:     cfg,
		store:   store,
		del:     del,
		clk:     clk,
		bus:     bus,
		log:     log,
		sup:     rtsup.NewSupervisor(context.Background(), rtsup.WithLogger(log)),
		entries: map[string]*entry{},
	}
}

// Arm schedules delivery of r at its target time. Past-due reminders fire at once.
// Sent reminders and IDs that are already armed are ignored.
func (e *Engine) Arm(r reminder.Reminder) error {
	_, err := e.arm(r)
	return err
}

func (e *Engine) arm(r reminder.Reminder) (bool, error) {
	if r.IsSent {
		return false, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return false, ErrStopped
	}
	if _, ok := e.entries[r.ID]; ok {
		return false, nil
	}

	ent := &entry{r: r}
	e.entries[r.ID] = ent
	delay := r.Due(e.clk.Now())
	if delay <= 0 {
		e.launchLocked(ent)
	} else {
		ent.timer = e.clk.AfterFunc(delay, func() { e.fire(ent) })
	}

	e.log.Debug("reminder armed",
		logx.String("reminder_id", r.ID),
		logx.Time("target_time", r.TargetTime),
		logx.Duration("delay", delay),
	)
	e.publish(eventbus.ReminderArmed, r, "")
	return true, nil
}

func (e *Engine) fire(ent *entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped || e.entries[ent.r.ID] != ent || ent.firing {
		return
	}
	e.launchLocked(ent)
}

// launchLocked starts the delivery goroutine. Holding e.mu keeps it ordered with Stop.
func (e *Engine) launchLocked(ent *entry) {
	ent.firing = true
	r := ent.r
	e.sup.Go("reminder.deliver."+r.ID, func(ctx context.Context) error {
		dctx, cancel := context.WithTimeout(ctx, e.cfg.DeliveryTimeout)
		out, err := e.del.Attempt(dctx, r)
		cancel()
		e.finish(r, out, err)
		return nil
	})
}

func (e *Engine) finish(r reminder.Reminder, out delivery.Outcome, err error) {
	e.mu.Lock()
	delete(e.entries, r.ID)
	e.mu.Unlock()

	var msg string
	if err != nil {
		msg = err.Error()
	}
	switch out {
	case delivery.Sent:
		e.delivered.Add(1)
		e.publish(eventbus.ReminderDelivered, r, "")
	case delivery.Skipped:
		e.skipped.Add(1)
		e.publish(eventbus.ReminderSkipped, r, "")
	case delivery.SendFailed:
		e.failed.Add(1)
		e.publish(eventbus.ReminderFailed, r, msg)
	default:
		// Still pending in storage; the next Recover picks it up.
		e.deferred.Add(1)
		e.publish(eventbus.ReminderFailed, r, msg)
	}
}

func (e *Engine) publish(typ string, r reminder.Reminder, errText string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: typ, Time: e.clk.Now(), ReminderID: r.ID, ChatID: r.ChatID, Err: errText})
}

// Recover arms every valid pending reminder found in storage.
// Malformed records are logged and skipped one by one.
func (e *Engine) Recover(ctx context.Context) (RecoverReport, error) {
	var rep RecoverReport
	rows, err := e.store.QueryPending(ctx, e.cfg.RecoverLimit)
	if err != nil {
		e.log.Error("recovery query failed", logx.Err(err))
		return rep, err
	}
	rep.Queried = len(rows)
	rep.LimitReached = len(rows) >= e.cfg.RecoverLimit

	for _, r := range rows {
		if err := r.Validate(); err != nil {
			rep.Invalid++
			e.log.Warn("skipping malformed reminder", logx.String("reminder_id", r.ID), logx.Err(err))
			continue
		}
		armed, err := e.arm(r)
		if err != nil {
			return rep, err
		}
		if armed {
			rep.Armed++
		} else {
			rep.AlreadyArmed++
		}
	}

	log := e.log.With(
		logx.Int("queried", rep.Queried),
		logx.Int("armed", rep.Armed),
		logx.Int("already_armed", rep.AlreadyArmed),
		logx.Int("invalid", rep.Invalid),
	)
	if rep.LimitReached {
		log.Warn("recovery hit the pending limit; remaining reminders wait for the next start", logx.Int("limit", e.cfg.RecoverLimit))
	} else {
		log.Info("pending reminders recovered")
	}
	return rep, nil
}

// Armed returns the number of registry entries, including deliveries in flight.
func (e *Engine) Armed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}

// Stop cancels pending timers and in-flight deliveries, then waits for the
// delivery goroutines until ctx is done. Cancelled reminders stay pending in storage.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	stopped := 0
	for id, ent := range e.entries {
		if ent.firing {
			continue
		}
		if ent.timer != nil {
			ent.timer.Stop()
		}
		delete(e.entries, id)
		stopped++
	}
	inFlight := len(e.entries)
	e.mu.Unlock()

	e.log.Info("scheduler stopping", logx.Int("timers_stopped", stopped), logx.Int("in_flight", inFlight))
	return e.sup.Stop(ctx)
}

type Snapshot struct {
	Armed     int         `json:"armed"`
	InFlight  int         `json:"in_flight"`
	Delivered uint64      `json:"delivered"`
	Skipped   uint64      `json:"skipped"`
	Failed    uint64      `json:"failed"`
	Deferred  uint64      `json:"deferred"`
	Next      []ArmedItem `json:"next,omitempty"`
}

type ArmedItem struct {
	ID         string    `json:"id"`
	ChatID     int64     `json:"chat_id"`
	TargetTime time.Time `json:"target_time"`
	Firing     bool      `json:"firing,omitempty"`
}

// Snapshot reports counters and up to n soonest registry entries.
func (e *Engine) Snapshot(n int) Snapshot {
	e.mu.Lock()
	items := make([]ArmedItem, 0, len(e.entries))
	inFlight := 0
	for _, ent := range e.entries {
		if ent.firing {
			inFlight++
		}
		items = append(items, ArmedItem{ID: ent.r.ID, ChatID: ent.r.ChatID, TargetTime: ent.r.TargetTime, Firing: ent.firing})
	}
	e.mu.Unlock()

	sort.Slice(items, func(i, j int) bool {
		if !items[i].TargetTime.Equal(items[j].TargetTime) {
			return items[i].TargetTime.Before(items[j].TargetTime)
		}
		return items[i].ID < items[j].ID
	})
	s := Snapshot{
		Armed:     len(items),
		InFlight:  inFlight,
		Delivered: e.delivered.Load(),
		Skipped:   e.skipped.Load(),
		Failed:    e.failed.Load(),
		Deferred:  e.deferred.Load(),
	}
	if n > 0 && len(items) > n {
		items = items[:n]
	}
	if n != 0 {
		s.Next = items
	}
	return s
}
