// Package tgui provides small helpers for Telegram HTML replies:
//   - Escaping and tag helpers (type H marks already-safe HTML)
//   - A line-oriented message builder with HTML defaults
package tgui
