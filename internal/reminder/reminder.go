// Package reminder holds the reminder entity and the error taxonomy shared by
// storage, scheduling, delivery and the command surface.
package reminder

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Reminder is a one-shot notification scheduled for a chat.
//
// Everything except IsSent, SentAt and DeliveryError is fixed at creation.
type Reminder struct {
	ID         string
	OwnerID    int64
	ChatID     int64
	ThreadID   int
	Text       string
	TargetTime time.Time
	CreatedAt  time.Time

	IsSent        bool
	SentAt        *time.Time
	DeliveryError string
}

// Draft is the caller-provided part of a new reminder.
type Draft struct {
	OwnerID    int64
	ChatID     int64
	ThreadID   int
	Text       string
	TargetTime time.Time
}

// New assigns an ID and creation time and validates the result.
// TargetTime must be strictly after now.
func New(d Draft, now time.Time) (Reminder, error) {
	r := Reminder{
		ID:         uuid.NewString(),
		OwnerID:    d.OwnerID,
		ChatID:     d.ChatID,
		ThreadID:   d.ThreadID,
		Text:       strings.TrimSpace(d.Text),
		TargetTime: d.TargetTime,
		CreatedAt:  now,
	}
	if err := r.Validate(); err != nil {
		return Reminder{}, err
	}
	if !r.TargetTime.After(r.CreatedAt) {
		return Reminder{}, &ValidationError{ID: r.ID, Field: "target_time", Reason: "not after created_at"}
	}
	return r, nil
}

// Validate reports the first missing or invalid field.
func (r Reminder) Validate() error {
	switch {
	case strings.TrimSpace(r.ID) == "":
		return &ValidationError{Field: "id", Reason: "empty"}
	case r.OwnerID == 0:
		return &ValidationError{ID: r.ID, Field: "owner_id", Reason: "zero"}
	case r.ChatID == 0:
		return &ValidationError{ID: r.ID, Field: "chat_id", Reason: "zero"}
	case strings.TrimSpace(r.Text) == "":
		return &ValidationError{ID: r.ID, Field: "text", Reason: "empty"}
	case r.TargetTime.IsZero():
		return &ValidationError{ID: r.ID, Field: "target_time", Reason: "zero"}
	case r.CreatedAt.IsZero():
		return &ValidationError{ID: r.ID, Field: "created_at", Reason: "zero"}
	}
	return nil
}

// Due reports the delay until TargetTime, clamped to zero.
func (r Reminder) Due(now time.Time) time.Duration {
	d := r.TargetTime.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
