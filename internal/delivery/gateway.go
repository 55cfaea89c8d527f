// Package delivery sends due jobs to their chat.
package delivery

import (
	"context"
	"fmt"
	"strconv"

	tele "gopkg.in/telebot.v4"

	kit "schedbot/internal/transport"
	logx "schedbot/pkg/logx"
	"schedbot/pkg/tgui"
)

// Transport is the part of the adapter a Gateway needs.
type Transport interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
	ResolveUser(ctx context.Context, chatID, userID int64) (kit.User, error)
}

// Gateway posts "<mention> <message>" to the job's chat.
type Gateway struct {
	tr  Transport
	log logx.Logger
}

func NewGateway(tr Transport, log logx.Logger) *Gateway {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Gateway{tr: tr, log: log}
}

// Deliver sends text on behalf of authorID. An author that can't be resolved
// is still mentioned by id; a send failure is returned to the caller.
func (g *Gateway) Deliver(ctx context.Context, channelID int64, threadID int, authorID int64, text string) error {
	u, err := g.tr.ResolveUser(ctx, channelID, authorID)
	if err != nil {
		g.log.Debug("author lookup failed; mentioning by id", logx.Int64("author_id", authorID), logx.Err(err))
		u = kit.User{ID: authorID}
	}
	to := kit.ChatTarget{ChatID: channelID, ThreadID: threadID}
	if _, err := g.tr.SendText(ctx, to, Format(u, authorID, text), &kit.SendOptions{ParseMode: tele.ModeHTML}); err != nil {
		return fmt.Errorf("deliver to chat %d: %w", channelID, err)
	}
	return nil
}

// Format renders the delivered message: an HTML mention followed by the
// escaped text.
func Format(u kit.User, authorID int64, text string) string {
	name := u.DisplayName()
	if name == "" {
		name = strconv.FormatInt(authorID, 10)
	}
	return tgui.JoinH(" ", tgui.Mention(name, authorID), tgui.Esc(text)).String()
}
