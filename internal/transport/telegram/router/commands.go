package router

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	logx "remindbot/pkg/logx"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	rtsup "remindbot/internal/runtime/supervisor"
	kit "remindbot/internal/transport"
)

type Command struct {
	// Name is the command word without the slash, e.g. "set_reminder".
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Hidden      bool          // registered but not listed in help / menu
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	// RawArgs is everything after the command word, trimmed, with line breaks kept.
	RawArgs string
	Args    []string
	ReqID   string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends text back to the request's chat.
func (r *Request) Reply(ctx context.Context, text string, opt *kit.SendOptions) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, opt)
	return err
}

type Options struct {
	Workers        int           // <= 0: NumCPU, at least 2
	QueueSize      int           // <= 0: 256
	DefaultTimeout time.Duration // <= 0: 30s
	Messages       Messages
}

// Messages are the router's own user-facing replies.
type Messages struct {
	Unknown string
	Busy    string
}

func (m Messages) withDefaults() Messages {
	if m.Unknown == "" {
		m.Unknown = "Неизвестная команда. Попробуйте /help"
	}
	if m.Busy == "" {
		m.Busy = "Бот перегружен, попробуйте чуть позже."
	}
	return m
}

type CommandManager struct {
	mu    sync.RWMutex
	cmds  map[string]*Command // name and aliases -> command
	order []*Command

	log     logx.Logger
	adapter kit.Adapter
	opt     Options

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor

	jobs chan func()
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, opt Options) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if opt.Workers <= 0 {
		opt.Workers = max(runtime.NumCPU(), 2)
	}
	if opt.QueueSize <= 0 {
		opt.QueueSize = 256
	}
	if opt.DefaultTimeout <= 0 {
		opt.DefaultTimeout = 30 * time.Second
	}
	opt.Messages = opt.Messages.withDefaults()
	return &CommandManager{
		cmds:    map[string]*Command{},
		log:     log,
		adapter: adapter,
		opt:     opt,
		jobs:    make(chan func(), opt.QueueSize),
	}
}

// Supervisor returns the dispatcher's worker supervisor (nil if not running).
func (m *CommandManager) Supervisor() *rtsup.Supervisor {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if !m.running {
		return nil
	}
	return m.sup
}

func (m *CommandManager) setSupervisor(sup *rtsup.Supervisor, running bool) {
	m.runMu.Lock()
	m.sup = sup
	m.running = running
	m.runMu.Unlock()
}

// SetRegistry replaces the command set. /help is always injected.
// Adapters implementing kit.CommandMenuUpdater get the visible list pushed asynchronously.
func (m *CommandManager) SetRegistry(ctx context.Context, cmds []Command) {
	cmds = append(cmds, Command{
		Name:        "help",
		Description: "список команд",
		Usage:       "/help [команда]",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, m.helpText(req.Args), &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
		},
	})

	byName := map[string]*Command{}
	order := make([]*Command, 0, len(cmds))
	for i := range cmds {
		c := cmds[i]
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		cc := &c
		byName[name] = cc
		order = append(order, cc)
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.ContainsFunc(a, unicode.IsSpace) {
				continue
			}
			if _, taken := byName[a]; !taken {
				byName[a] = cc
			}
		}
	}

	m.mu.Lock()
	m.cmds = byName
	m.order = order
	m.mu.Unlock()

	if up, ok := m.adapter.(kit.CommandMenuUpdater); ok {
		menu := buildMenu(order)
		go func() {
			cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(cctx, menu); err != nil {
				m.log.Warn("menu update failed", logx.Err(err))
			}
		}()
	}
}

// DispatchLoop routes updates to a bounded, supervised worker pool until ctx is done
// or updates is closed.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.NewSupervisor(ctx, rtsup.WithLogger(m.log))
	m.setSupervisor(sup, true)
	m.log.Info("command dispatcher started", logx.Int("workers", m.opt.Workers), logx.Int("job_queue_cap", cap(m.jobs)))

	for i := 0; i < m.opt.Workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-m.jobs:
					m.runJob(idx, job)
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
		)
	}

	defer func() {
		m.setSupervisor(nil, false)
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(wctx)
		cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind == kit.UpdateMessage && up.Message != nil {
				m.routeMessage(ctx, up)
			}
		}
	}
}

func (m *CommandManager) runJob(worker int, job func()) {
	if job == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (m *CommandManager) tryEnqueue(fn func()) bool {
	select {
	case m.jobs <- fn:
		return true
	default:
		return false
	}
}

func (m *CommandManager) routeMessage(root context.Context, up kit.Update) {
	msg := up.Message
	word, raw, ok := splitCommand(msg.Text)
	if !ok {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	m.mu.RLock()
	cmd := m.cmds[word]
	m.mu.RUnlock()
	if cmd == nil {
		_, _ = m.adapter.SendText(root, chat, m.opt.Messages.Unknown, nil)
		return
	}

	rid := newReqID()
	req := &Request{
		Update:  up,
		Chat:    chat,
		FromID:  msg.FromID,
		Command: cmd.Name,
		RawArgs: raw,
		Args:    strings.Fields(raw),
		ReqID:   rid,
		Adapter: m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = m.opt.DefaultTimeout
	}
	final := Chain(cmd.Handle,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(timeout),
	)
	if !m.tryEnqueue(func() { _ = final(root, req) }) {
		_, _ = m.adapter.SendText(root, chat, m.opt.Messages.Busy, nil)
	}
}

// splitCommand parses "/word@bot rest". ok is false for non-command text.
func splitCommand(text string) (word, rest string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head := text[1:]
	rest = ""
	if i := strings.IndexFunc(head, unicode.IsSpace); i >= 0 {
		head, rest = head[:i], strings.TrimSpace(head[i:])
	}
	if i := strings.IndexByte(head, '@'); i >= 0 {
		head = head[:i]
	}
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), rest, true
}

func newReqID() string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	return hex.EncodeToString(b[:])
}
