package commands

import (
	"strings"
	"unicode"
)

// prefixes accepted before a command name. "!" keeps the old chat syntax
// working.
const prefixes = "/!"

// splitCommand parses "/name@bot rest of line". rest keeps its inner
// whitespace so free-text arguments survive untouched.
func splitCommand(text string) (name, rest string, ok bool) {
	text = strings.TrimSpace(text)
	if text == "" || !strings.ContainsRune(prefixes, rune(text[0])) {
		return "", "", false
	}
	text = text[1:]
	end := strings.IndexFunc(text, unicode.IsSpace)
	if end < 0 {
		name, rest = text, ""
	} else {
		name, rest = text[:end], strings.TrimSpace(text[end:])
	}
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	name = strings.ToLower(name)
	return name, rest, name != ""
}

// cutArg splits the first whitespace-separated word off s.
func cutArg(s string) (first, rest string) {
	s = strings.TrimSpace(s)
	end := strings.IndexFunc(s, unicode.IsSpace)
	if end < 0 {
		return s, ""
	}
	return s[:end], strings.TrimSpace(s[end:])
}

// sanitizeMenuCommand converts a name into a Telegram bot command
// ([a-z0-9_]{1,32}).
func sanitizeMenuCommand(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == '-' || unicode.IsSpace(r):
			b.WriteRune('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	return out
}
