package router

import (
	"strings"

	kit "remindbot/internal/transport"
)

// telegramCommandName reports whether name is a valid Telegram bot command ([a-z0-9_]{1,32}).
func telegramCommandName(name string) bool {
	if name == "" || len(name) > 32 {
		return false
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
			return false
		}
	}
	return true
}

// buildMenu lists visible commands in registration order, capped at Telegram's 100 entries.
func buildMenu(cmds []*Command) []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		if c == nil || c.Hidden || !telegramCommandName(c.Name) {
			continue
		}
		desc := strings.ReplaceAll(strings.TrimSpace(c.Description), "\n", " ")
		if desc == "" {
			desc = c.Name
		}
		if r := []rune(desc); len(r) > 256 {
			desc = string(r[:256])
		}
		out = append(out, kit.BotCommand{Command: c.Name, Description: desc})
		if len(out) == 100 {
			break
		}
	}
	return out
}
