package adapter

import (
	"context"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	kit "schedbot/internal/transport"
)

const (
	telegramTextLimit = 4000
	maxEntityLen      = 10 // "&#x1F600;"
)

// splitTelegramText splits long messages into chunks Telegram accepts.
// It prefers newline boundaries and, for HTML, avoids cutting inside a tag or
// an escaped entity such as &amp;.
func splitTelegramText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				// Avoid tiny chunks: only cut in the last two thirds of the window.
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		if strings.EqualFold(parseMode, tele.ModeHTML) && end < len(rs) {
			lastOpen, lastClose := -1, -1
			for i := start; i < end; i++ {
				switch rs[i] {
				case '<':
					lastOpen = i
				case '>':
					lastClose = i
				}
			}
			if lastOpen > lastClose && lastOpen > start+1 {
				end = lastOpen
			}
			for i := end - 1; i > start && i >= end-maxEntityLen; i-- {
				if rs[i] == ';' {
					break
				}
				if rs[i] == '&' {
					end = i
					break
				}
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range splitTelegramText(text, telegramTextLimit, opt.ParseMode) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		sendOpt := &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		}
		if i == 0 && opt.ReplyTo != 0 {
			sendOpt.ReplyTo = &tele.Message{ID: opt.ReplyTo, Chat: chat}
		}
		msg, err := a.bot.Send(chat, chunk, sendOpt)
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// SendLog lets the log service forward warnings to a Telegram chat.
func (a *Adapter) SendLog(ctx context.Context, chatID int64, threadID int, text string) error {
	_, err := a.SendText(ctx, kit.ChatTarget{ChatID: chatID, ThreadID: threadID}, text, &kit.SendOptions{DisablePreview: true})
	return err
}

func (a *Adapter) DeleteMessage(ctx context.Context, ref kit.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Delete(&tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}})
}

// ResolveUser prefers the chat membership (works in groups for any member),
// then falls back to getChat on the user id.
func (a *Adapter) ResolveUser(ctx context.Context, chatID, userID int64) (kit.User, error) {
	if err := ctx.Err(); err != nil {
		return kit.User{ID: userID}, err
	}
	if chatID != 0 && chatID != userID {
		m, err := a.bot.ChatMemberOf(tele.ChatID(chatID), &tele.User{ID: userID})
		if err == nil && m != nil && m.User != nil {
			return fromTeleUser(m.User), nil
		}
	}
	c, err := a.bot.ChatByID(userID)
	if err != nil {
		return kit.User{ID: userID}, fmt.Errorf("resolve user %d: %w", userID, err)
	}
	return kit.User{ID: userID, Username: c.Username, FirstName: c.FirstName, LastName: c.LastName}, nil
}
