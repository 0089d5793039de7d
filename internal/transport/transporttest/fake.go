// Package transporttest provides an in-memory transport.Adapter for tests.
package transporttest

import (
	"context"
	"sync"

	kit "remindbot/internal/transport"
)

// Sent is one recorded outbound message.
type Sent struct {
	To   kit.ChatTarget
	Text string
	Opt  kit.SendOptions
}

// Adapter records sends and lets tests inject inbound updates.
type Adapter struct {
	mu     sync.Mutex
	sent   []Sent
	errs   []error
	menu   []kit.BotCommand
	out    chan<- kit.Update
	nextID int
}

func New() *Adapter { return &Adapter{} }

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.mu.Lock()
	a.out = out
	a.mu.Unlock()
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	a.out = nil
	a.mu.Unlock()
	return nil
}

// FailNext queues errors returned by the next SendText calls, one per call.
func (a *Adapter) FailNext(errs ...error) {
	a.mu.Lock()
	a.errs = append(a.errs, errs...)
	a.mu.Unlock()
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.errs) > 0 {
		err := a.errs[0]
		a.errs = a.errs[1:]
		if err != nil {
			return kit.MessageRef{}, err
		}
	}
	s := Sent{To: to, Text: text}
	if opt != nil {
		s.Opt = *opt
	}
	a.sent = append(a.sent, s)
	a.nextID++
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: a.nextID}, nil
}

func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.mu.Lock()
	a.menu = append([]kit.BotCommand(nil), cmds...)
	a.mu.Unlock()
	return nil
}

// Sent returns a copy of everything sent so far.
func (a *Adapter) Sent() []Sent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Sent(nil), a.sent...)
}

func (a *Adapter) Menu() []kit.BotCommand {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]kit.BotCommand(nil), a.menu...)
}

// Push delivers an inbound text message as if it came from the platform.
// It reports false when the adapter is not started.
func (a *Adapter) Push(msg kit.Message) bool {
	a.mu.Lock()
	out := a.out
	a.mu.Unlock()
	if out == nil {
		return false
	}
	m := msg
	out <- kit.Update{Kind: kit.UpdateMessage, Message: &m}
	return true
}
