// Package delivery sends due reminders and records the attempt.
//
// One attempt is: re-check that the reminder is still pending, send it
// through the transport, then conditionally mark it sent. The mark is written
// even when the send failed, so a failing chat is not retried forever.
package delivery

import (
	"context"
	"errors"
	"time"

	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	logx "remindbot/pkg/logx"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"
)

// Prefix starts every outbound reminder message.
const Prefix = "⏰ Напоминание: "

type Config struct {
	RatePerSec   int           // <= 0: unlimited
	SendTimeout  time.Duration // <= 0: 10s
	RetryMax     int           // flood-wait retries; < 0 disables
	MaxFloodWait time.Duration // <= 0: 60s
}

type Outcome int

const (
	// Sent: the message went out and the record is marked.
	Sent Outcome = iota + 1
	// Skipped: the record was cancelled or already sent.
	Skipped
	// SendFailed: the transport rejected the message; the record is marked with the error.
	SendFailed
	// Deferred: nothing was sent and the record stays pending for a later attempt.
	Deferred
)

func (o Outcome) String() string {
	switch o {
	case Sent:
		return "sent"
	case Skipped:
		return "skipped"
	case SendFailed:
		return "send_failed"
	case Deferred:
		return "deferred"
	default:
		return "unknown"
	}
}

type Dispatcher struct {
	cfg     Config
	store   storage.Store
	adapter kit.Adapter
	clk     clock.Clock
	log     logx.Logger
	limiter *rate.Limiter
}

func New(cfg Config, store storage.Store, adapter kit.Adapter, clk clock.Clock, log logx.Logger) *Dispatcher {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.MaxFloodWait <= 0 {
		cfg.MaxFloodWait = 60 * time.Second
	}
	if clk == nil {
		clk = clock.New()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{cfg: cfg, store: store, adapter: adapter, clk: clk, log: log}
	if cfg.RatePerSec > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	return d
}

// Deliver runs one delivery attempt. It returns nil when the reminder was sent or
// skipped, a *reminder.TransportError when the send failed, and a
// *reminder.StorageError when the pending check failed.
func (d *Dispatcher) Deliver(ctx context.Context, r reminder.Reminder) error {
	_, err := d.Attempt(ctx, r)
	return err
}

// Attempt is Deliver with the outcome exposed for the scheduler's bookkeeping.
func (d *Dispatcher) Attempt(ctx context.Context, r reminder.Reminder) (Outcome, error) {
	log := d.log.With(logx.String("reminder_id", r.ID), logx.Int64("chat_id", r.ChatID))

	pending, err := d.store.IsPending(ctx, r.ID)
	if err != nil {
		log.Error("pending check failed", logx.Err(err))
		return Deferred, err
	}
	if !pending {
		log.Debug("reminder no longer pending, skipped")
		return Skipped, nil
	}

	sendErr := d.send(ctx, r)
	if sendErr != nil && ctx.Err() != nil {
		// Shutdown interrupted the send; leave the record for the next start.
		log.Warn("delivery interrupted", logx.Err(sendErr))
		return Deferred, ctx.Err()
	}

	var errText string
	if sendErr != nil {
		errText = sendErr.Error()
		log.Warn("reminder send failed", logx.Err(sendErr))
	}

	applied, err := d.store.TryMarkSent(ctx, r.ID, d.clk.Now(), errText)
	switch {
	case err != nil:
		// The timer is consumed; recovery at the next start retries this record.
		log.Error("mark sent failed", logx.Err(err))
	case !applied:
		log.Info("reminder already finalized")
	}

	if sendErr != nil {
		return SendFailed, sendErr
	}
	log.Info("reminder delivered", logx.Bool("marked", applied))
	return Sent, nil
}

func (d *Dispatcher) send(ctx context.Context, r reminder.Reminder) error {
	to := kit.ChatTarget{ChatID: r.ChatID, ThreadID: r.ThreadID}
	text := Prefix + r.Text

	for attempt := 0; ; attempt++ {
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				return &reminder.TransportError{Err: err}
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
		_, err := d.adapter.SendText(callCtx, to, text, nil)
		cancel()
		if err == nil {
			return nil
		}

		// Only a flood wait proves the message was not sent; anything else is final.
		var fe *kit.FloodError
		if !errors.As(err, &fe) || attempt >= d.cfg.RetryMax {
			return &reminder.TransportError{Err: err}
		}
		wait := min(max(fe.RetryAfter, time.Second/10), d.cfg.MaxFloodWait)
		d.log.Debug("flood wait before retry", logx.String("reminder_id", r.ID), logx.Duration("wait", wait), logx.Int("attempt", attempt+1))

		t := d.clk.Timer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return &reminder.TransportError{Err: err}
		case <-t.C:
		}
	}
}
