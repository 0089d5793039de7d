package router

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"remindbot/internal/transport/transporttest"
	logx "remindbot/pkg/logx"

	kit "remindbot/internal/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitCommand(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in, word, rest string
		ok             bool
	}{
		{"/set_reminder через 5 минут чай", "set_reminder", "через 5 минут чай", true},
		{"/Start@RemindBot", "start", "", true},
		{"  /help   set_reminder ", "help", "set_reminder", true},
		{"/set_reminder\nв 10:00 line", "set_reminder", "в 10:00 line", true},
		{"hello", "", "", false},
		{"/", "", "", false},
	}
	for _, tc := range cases {
		word, rest, ok := splitCommand(tc.in)
		assert.Equal(t, tc.ok, ok, tc.in)
		assert.Equal(t, tc.word, word, tc.in)
		assert.Equal(t, tc.rest, rest, tc.in)
	}
}

func startManager(t *testing.T, cmds []Command) (*CommandManager, *transporttest.Adapter, chan kit.Update) {
	t.Helper()
	ad := transporttest.New()
	m := NewCommandManager(logx.Nop(), ad, Options{Workers: 2, QueueSize: 8})
	ctx, cancel := context.WithCancel(context.Background())
	m.SetRegistry(ctx, cmds)

	updates := make(chan kit.Update, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.DispatchLoop(ctx, updates)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return m, ad, updates
}

func push(updates chan<- kit.Update, text string) {
	updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 42, ThreadID: 7, FromID: 9, Text: text}}
}

func TestDispatchRoutesToHandler(t *testing.T) {
	t.Parallel()
	got := make(chan *Request, 1)
	_, ad, updates := startManager(t, []Command{{
		Name:    "echo",
		Aliases: []string{"e"},
		Handle: func(ctx context.Context, req *Request) error {
			got <- req
			return req.Reply(ctx, "echo: "+req.RawArgs, nil)
		},
	}})

	push(updates, "/e@bot hello   world")

	select {
	case req := <-got:
		assert.Equal(t, "echo", req.Command)
		assert.Equal(t, "hello   world", req.RawArgs)
		assert.Equal(t, []string{"hello", "world"}, req.Args)
		assert.Equal(t, int64(9), req.FromID)
		assert.Equal(t, kit.ChatTarget{ChatID: 42, ThreadID: 7}, req.Chat)
		assert.NotEmpty(t, req.ReqID)
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}

	require.Eventually(t, func() bool { return len(ad.Sent()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "echo: hello   world", ad.Sent()[0].Text)
}

func TestDispatchUnknownCommandAndPlainText(t *testing.T) {
	t.Parallel()
	_, ad, updates := startManager(t, nil)

	push(updates, "just chatting")
	push(updates, "/nope")

	require.Eventually(t, func() bool { return len(ad.Sent()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, ad.Sent()[0].Text, "/help")
}

func TestDispatchSurvivesPanickingHandler(t *testing.T) {
	t.Parallel()
	_, ad, updates := startManager(t, []Command{
		{Name: "boom", Handle: func(ctx context.Context, req *Request) error { panic("x") }},
		{Name: "fail", Handle: func(ctx context.Context, req *Request) error { return errors.New("nope") }},
		{Name: "ok", Handle: func(ctx context.Context, req *Request) error { return req.Reply(ctx, "ok", nil) }},
	})

	push(updates, "/boom")
	push(updates, "/fail")
	push(updates, "/ok")

	require.Eventually(t, func() bool { return len(ad.Sent()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "ok", ad.Sent()[0].Text)
}

func TestHelpAndMenu(t *testing.T) {
	t.Parallel()
	noop := func(ctx context.Context, req *Request) error { return nil }
	m, ad, updates := startManager(t, []Command{
		{Name: "set_reminder", Description: "создать <напоминание>", Usage: "/set_reminder через 5 минут текст", Handle: noop},
		{Name: "secret", Hidden: true, Handle: noop},
	})

	top := m.helpText(nil)
	assert.Contains(t, top, "<code>/set_reminder</code>")
	assert.Contains(t, top, "&lt;напоминание&gt;")
	assert.Contains(t, top, "<code>/help</code>")
	assert.NotContains(t, top, "secret")

	one := m.helpText([]string{"/set_reminder"})
	assert.Contains(t, one, "через 5 минут текст")

	assert.Contains(t, m.helpText([]string{"zzz"}), "Неизвестная команда")

	require.Eventually(t, func() bool { return len(ad.Menu()) == 2 }, 2*time.Second, 5*time.Millisecond)
	names := []string{ad.Menu()[0].Command, ad.Menu()[1].Command}
	assert.Equal(t, []string{"set_reminder", "help"}, names)

	push(updates, "/help")
	require.Eventually(t, func() bool { return len(ad.Sent()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "HTML", ad.Sent()[0].Opt.ParseMode)
	assert.True(t, strings.Contains(ad.Sent()[0].Text, "/set_reminder"))
}
