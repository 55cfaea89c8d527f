// Package tgui has small helpers for building Telegram HTML messages
// (ParseMode="HTML"): escaping, inline tags, user mentions and rune-safe
// truncation.
package tgui
