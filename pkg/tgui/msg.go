package tgui

import (
	"context"
	"strings"

	kit "remindbot/internal/transport"
)

// Message is a rendered reply: text + send options.
type Message struct {
	Text string
	Opt  *kit.SendOptions
}

// Send sends the Message via the provided adapter.
func (m Message) Send(ctx context.Context, ad kit.Adapter, to kit.ChatTarget) (kit.MessageRef, error) {
	if m.Opt == nil {
		m.Opt = &kit.SendOptions{}
	}
	return ad.SendText(ctx, to, m.Text, m.Opt)
}

// Builder assembles HTML lines. Default: ParseMode=HTML, DisablePreview=true.
type Builder struct {
	lines []string
}

func New() *Builder { return &Builder{} }

// Title adds a bold title line. Emoji is optional.
func (b *Builder) Title(emoji, title string) *Builder {
	t := strings.TrimSpace(title)
	if t == "" {
		return b
	}
	line := B(t).String()
	if e := strings.TrimSpace(emoji); e != "" {
		line = e + " " + line
	}
	b.lines = append(b.lines, line)
	return b
}

// Line adds escaped text.
func (b *Builder) Line(s string) *Builder {
	b.lines = append(b.lines, Esc(s).String())
	return b
}

// H adds already-safe HTML.
func (b *Builder) H(h H) *Builder {
	b.lines = append(b.lines, h.String())
	return b
}

func (b *Builder) Blank() *Builder {
	b.lines = append(b.lines, "")
	return b
}

// Bullets adds one "• item" line per item, escaped.
func (b *Builder) Bullets(items ...string) *Builder {
	for _, it := range items {
		b.lines = append(b.lines, "• "+Esc(it).String())
	}
	return b
}

func (b *Builder) Build() Message {
	// Drop trailing blanks.
	lines := b.lines
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return Message{
		Text: strings.Join(lines, "\n"),
		Opt:  &kit.SendOptions{ParseMode: "HTML", DisablePreview: true},
	}
}
