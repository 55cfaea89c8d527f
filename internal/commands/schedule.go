package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"schedbot/internal/schedule"
	logx "schedbot/pkg/logx"
	"schedbot/pkg/tgui"
)

// Scheduler is the slice of *schedule.Scheduler the chat commands need.
type Scheduler interface {
	Schedule(ctx context.Context, job schedule.Job) error
	Pending(ctx context.Context, authorID, channelID int64) ([]schedule.Job, error)
	Cancel(ctx context.Context, authorID, channelID int64, n int) (schedule.Job, error)
}

const listPreview = 60

// Handlers implements the scheduling commands.
type Handlers struct {
	sched    Scheduler
	settings func() Settings
	now      func() time.Time
}

func NewHandlers(sched Scheduler, settings func() Settings) *Handlers {
	get := func() Settings {
		st := settings()
		if st.Location == nil {
			st.Location = time.Local
		}
		return st
	}
	return &Handlers{sched: sched, settings: get, now: time.Now}
}

func (h *Handlers) Commands() []Command {
	return []Command{
		{
			Route:       "schedule",
			Aliases:     []string{"sched", "remind"},
			Description: "send a message after a delay",
			Usage:       "/schedule HH:MM:SS message",
			Handle:      h.schedule,
		},
		{
			Route:       "scheduled",
			Aliases:     []string{"pending", "list"},
			Description: "list your pending messages in this chat",
			Usage:       "/scheduled",
			Handle:      h.list,
		},
		{
			Route:       "unschedule",
			Aliases:     []string{"cancel"},
			Description: "cancel one of your pending messages",
			Usage:       "/unschedule N",
			Handle:      h.cancel,
		},
		{
			Route:       "docs",
			Description: "link to the documentation",
			Usage:       "/docs",
			Handle:      h.docs,
		},
	}
}

func usageReply(ctx context.Context, req *Request, usage string) error {
	return req.Reply(ctx, "usage: "+tgui.Code(usage).String())
}

func (h *Handlers) schedule(ctx context.Context, req *Request) error {
	const usage = "/schedule HH:MM:SS message"
	st := h.settings()

	rawOffset, text := cutArg(req.Text)
	offset, err := schedule.ParseOffset(rawOffset)
	if err != nil || text == "" {
		scheduleRequests.WithLabelValues(resultUsage).Inc()
		return usageReply(ctx, req, usage)
	}

	job := schedule.NewJob(h.now().In(st.Location), offset, req.From.ID, req.Chat.ChatID, req.Chat.ThreadID, text)
	if err := h.sched.Schedule(ctx, job); err != nil {
		scheduleRequests.WithLabelValues(resultError).Inc()
		req.Logger.Error("schedule failed", logx.Err(err))
		_ = req.Reply(ctx, "could not schedule that message, try again later")
		return err
	}
	scheduleRequests.WithLabelValues(resultOK).Inc()

	if st.DeleteRequest {
		if err := req.Out.DeleteMessage(ctx, req.Message); err != nil {
			req.Logger.Debug("delete request message failed", logx.Err(err))
		}
	}
	return req.Reply(ctx, "⏰ scheduled for "+job.Due.In(st.Location).Format(schedule.TimeLayout))
}

func (h *Handlers) list(ctx context.Context, req *Request) error {
	st := h.settings()
	jobs, err := h.sched.Pending(ctx, req.From.ID, req.Chat.ChatID)
	if err != nil {
		req.Logger.Error("list pending failed", logx.Err(err))
		_ = req.Reply(ctx, "could not read pending messages, try again later")
		return err
	}
	if len(jobs) == 0 {
		return req.Reply(ctx, "you have no pending messages here")
	}
	var b strings.Builder
	b.WriteString("🗓 <b>Pending</b>")
	for i, j := range jobs {
		fmt.Fprintf(&b, "\n%d. %s · %s", i+1, j.Due.In(st.Location).Format(schedule.TimeLayout), tgui.Esc(tgui.TruncRunes(tgui.Oneline(j.Message), listPreview)))
	}
	return req.Reply(ctx, b.String())
}

func (h *Handlers) cancel(ctx context.Context, req *Request) error {
	const usage = "/unschedule N"
	st := h.settings()
	if len(req.Args) != 1 {
		return usageReply(ctx, req, usage)
	}
	n, err := strconv.Atoi(req.Args[0])
	if err != nil || n < 1 {
		return usageReply(ctx, req, usage)
	}
	job, err := h.sched.Cancel(ctx, req.From.ID, req.Chat.ChatID, n)
	switch {
	case errors.Is(err, schedule.ErrNoSuchJob):
		return req.Reply(ctx, fmt.Sprintf("no pending message #%d. see /scheduled", n))
	case err != nil:
		req.Logger.Error("cancel failed", logx.Err(err))
		_ = req.Reply(ctx, "could not cancel, try again later")
		return err
	}
	return req.Reply(ctx, "🗑 cancelled the message due "+job.Due.In(st.Location).Format(schedule.TimeLayout))
}

func (h *Handlers) docs(ctx context.Context, req *Request) error {
	url := strings.TrimSpace(h.settings().DocsURL)
	if url == "" {
		return req.Reply(ctx, "no documentation link is configured")
	}
	return req.Reply(ctx, "📖 "+tgui.Esc(url).String())
}
