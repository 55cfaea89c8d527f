package commands

import (
	"strings"

	"schedbot/pkg/tgui"
)

func (r *Router) helpText(args []string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(args) == 0 {
		lines := []string{"📚 <b>Commands</b> (use /help &lt;cmd&gt;):"}
		for _, name := range r.order {
			c := r.cmds[name]
			if c.Description != "" {
				lines = append(lines, "- /"+name+" — "+tgui.Esc(c.Description).String())
			} else {
				lines = append(lines, "- /"+name)
			}
		}
		return strings.Join(lines, "\n")
	}

	name := strings.ToLower(strings.TrimLeft(args[0], "/!"))
	c, ok := r.cmds[name]
	if !ok {
		c, ok = r.alias[name]
	}
	if !ok {
		return "command not found. try /help"
	}

	lines := []string{"📌 " + tgui.B("/"+c.Route).String()}
	if c.Description != "" {
		lines = append(lines, tgui.Esc(c.Description).String())
	}
	if c.Usage != "" {
		lines = append(lines, "usage: "+tgui.Code(c.Usage).String())
	}
	if len(c.Aliases) > 0 {
		lines = append(lines, "aliases: "+tgui.Esc(strings.Join(c.Aliases, ", ")).String())
	}
	return strings.Join(lines, "\n")
}
