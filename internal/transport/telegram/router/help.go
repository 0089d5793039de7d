package router

import (
	"strings"

	"remindbot/pkg/tgui"
)

// helpText renders help in HTML parse mode: the command list, or one command's details.
func (m *CommandManager) helpText(args []string) string {
	m.mu.RLock()
	byName := m.cmds
	order := m.order
	m.mu.RUnlock()

	if len(args) > 0 {
		name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(args[0]), "/"))
		c := byName[name]
		if c == nil {
			return tgui.New().
				Title("❓", "Неизвестная команда").
				H(tgui.JoinH(" ", tgui.Esc("Наберите"), tgui.Code("/help"), tgui.Esc("для списка команд."))).
				Build().Text
		}
		b := tgui.New().H(tgui.JoinH(" ", tgui.Esc("📚"), tgui.B("Команда"), tgui.Code("/"+c.Name)))
		if d := strings.TrimSpace(c.Description); d != "" {
			b.Line(d)
		}
		if u := strings.TrimSpace(c.Usage); u != "" {
			b.Blank().H(tgui.B("Использование")).H(tgui.Code(u))
		}
		if len(c.Aliases) > 0 {
			b.Blank().H(tgui.B("Синонимы"))
			for _, a := range c.Aliases {
				b.H(tgui.Raw("• ") + tgui.Code("/"+a))
			}
		}
		return b.Build().Text
	}

	b := tgui.New().Title("📚", "Команды")
	for _, c := range order {
		if c.Hidden {
			continue
		}
		line := tgui.Raw("• ") + tgui.Code("/"+c.Name)
		if d := strings.TrimSpace(c.Description); d != "" {
			line += tgui.Raw(" — ") + tgui.Esc(d)
		}
		b.H(line)
	}
	return b.Build().Text
}
