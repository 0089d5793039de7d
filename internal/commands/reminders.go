// Package commands implements the reminder chat commands.
//
// Create is the transport-independent core; the Handle* methods turn its
// typed errors into user replies.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	"remindbot/internal/timeexpr"
	"remindbot/internal/transport/telegram/router"
	logx "remindbot/pkg/logx"
)

var (
	ErrNoPhrase    = errors.New("commands: time and text required")
	ErrNoTimeMatch = errors.New("commands: time phrase not recognized")
	ErrNoText      = errors.New("commands: reminder text required")
	ErrTimeInPast  = errors.New("commands: time already passed")
)

// TimeLayout is how a confirmed target time is shown to the user.
const TimeLayout = "15:04 02.01.2006"

// Arming is the part of the scheduler the commands need.
type Arming interface {
	Arm(r reminder.Reminder) error
}

type Reminders struct {
	store  storage.Store
	sched  Arming
	parser *timeexpr.Parser
	loc    *time.Location
	log    logx.Logger
}

// New wires the commands. A nil loc means time.Local.
func New(store storage.Store, sched Arming, parser *timeexpr.Parser, loc *time.Location, log logx.Logger) *Reminders {
	if parser == nil {
		parser = timeexpr.New(nil)
	}
	if loc == nil {
		loc = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reminders{store: store, sched: sched, parser: parser, loc: loc, log: log}
}

type CreateRequest struct {
	OwnerID  int64
	ChatID   int64
	ThreadID int
	// Args is the command argument string: "<phrase> <text>".
	Args string
}

// Create parses, persists and arms one reminder.
// Errors: ErrNoPhrase, ErrNoTimeMatch, ErrNoText, ErrTimeInPast,
// *reminder.ValidationError or *reminder.StorageError.
func (rm *Reminders) Create(ctx context.Context, req CreateRequest) (reminder.Reminder, error) {
	args := strings.TrimSpace(req.Args)
	if args == "" {
		return reminder.Reminder{}, ErrNoPhrase
	}
	phrase, text, ok := rm.parser.Split(args)
	if !ok {
		return reminder.Reminder{}, ErrNoTimeMatch
	}
	off, err := rm.parser.Parse(phrase)
	if err != nil {
		return reminder.Reminder{}, fmt.Errorf("%w: %w", ErrNoTimeMatch, err)
	}
	if strings.TrimSpace(text) == "" {
		return reminder.Reminder{}, ErrNoText
	}

	now := rm.parser.Now()
	target := now.Add(off.Duration)
	if !target.After(now) {
		return reminder.Reminder{}, ErrTimeInPast
	}

	r, err := reminder.New(reminder.Draft{
		OwnerID:    req.OwnerID,
		ChatID:     req.ChatID,
		ThreadID:   req.ThreadID,
		Text:       text,
		TargetTime: target,
	}, now)
	if err != nil {
		return reminder.Reminder{}, err
	}
	if err := rm.store.Insert(ctx, r); err != nil {
		return reminder.Reminder{}, reminder.Storage("insert", err)
	}

	log := rm.log.With(logx.String("reminder_id", r.ID), logx.Int64("owner_id", r.OwnerID))
	if err := rm.sched.Arm(r); err != nil {
		// Stored but not armed: the next start recovers it.
		log.Warn("reminder saved but not armed", logx.Err(err))
	}
	log.Info("reminder created", logx.String("kind", off.Kind.String()), logx.Time("target_time", r.TargetTime))
	return r, nil
}

// Cancel deletes every pending reminder of owner. Armed timers for the
// deleted rows still fire but find nothing pending.
func (rm *Reminders) Cancel(ctx context.Context, owner int64) (int64, error) {
	n, err := rm.store.DeleteManyPendingByOwner(ctx, owner)
	if err != nil {
		return 0, reminder.Storage("delete_pending", err)
	}
	rm.log.Info("reminders cancelled", logx.Int64("owner_id", owner), logx.Int64("count", n))
	return n, nil
}

// Commands returns the router registrations.
func (rm *Reminders) Commands() []router.Command {
	return []router.Command{
		{
			Name:        "set_reminder",
			Aliases:     []string{"remind"},
			Description: "создать напоминание",
			Usage:       "/set_reminder через 5 минут Закрыть задачу\n/set_reminder в 18:30 Встреча с командой",
			Handle:      rm.HandleSetReminder,
		},
		{
			Name:        "cancel_reminders",
			Description: "отменить все мои напоминания",
			Usage:       "/cancel_reminders",
			Handle:      rm.HandleCancel,
		},
		{
			Name:        "start",
			Description: "приветствие",
			Handle:      rm.HandleStart,
		},
	}
}
