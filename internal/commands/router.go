package commands

import (
	"context"
	"runtime"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"schedbot/internal/runtime/supervisor"
	kit "schedbot/internal/transport"
	logx "schedbot/pkg/logx"
)

// Messenger is the part of the transport adapter the router talks to.
type Messenger interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
	DeleteMessage(ctx context.Context, ref kit.MessageRef) error
}

type Command struct {
	// Route is the command name without prefix, e.g. "schedule".
	Route       string
	Aliases     []string
	Description string
	Usage       string
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	From    kit.User
	Message kit.MessageRef
	Command string
	// Text is everything after the command word, inner whitespace intact.
	Text  string
	Args  []string
	ReqID string

	Out    Messenger
	Logger logx.Logger
}

// Reply sends text to the chat and topic the request came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Out.SendText(ctx, r.Chat, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

// Settings are the hot-reloadable knobs of the command surface.
type Settings struct {
	Timeout       time.Duration
	DeleteRequest bool
	DocsURL       string
	Location      *time.Location
}

type Router struct {
	mu    sync.RWMutex
	cmds  map[string]*Command
	alias map[string]*Command
	order []string

	settings atomic.Pointer[Settings]

	log logx.Logger
	out Messenger

	runMu   sync.Mutex
	running bool
	sup     *supervisor.Supervisor
	menuSup *supervisor.Supervisor

	jobs chan func()
}

func NewRouter(log logx.Logger, out Messenger, st Settings) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		cmds:  map[string]*Command{},
		alias: map[string]*Command{},
		log:   log,
		out:   out,
		jobs:  make(chan func(), 256),
	}
	r.Apply(st)
	return r
}

// Apply swaps the settings used by requests enqueued from now on.
func (r *Router) Apply(st Settings) {
	if st.Location == nil {
		st.Location = time.Local
	}
	r.settings.Store(&st)
}

func (r *Router) Settings() Settings { return *r.settings.Load() }

// SetMenuSupervisor runs best-effort menu updates under sup so they are
// cancelled on shutdown.
func (r *Router) SetMenuSupervisor(sup *supervisor.Supervisor) {
	r.runMu.Lock()
	r.menuSup = sup
	r.runMu.Unlock()
}

// Supervisor returns the worker pool supervisor (nil if not running).
func (r *Router) Supervisor() *supervisor.Supervisor {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if !r.running {
		return nil
	}
	return r.sup
}

func (r *Router) setSupervisor(sup *supervisor.Supervisor, running bool) {
	r.runMu.Lock()
	r.sup = sup
	r.running = running
	r.runMu.Unlock()
}

// tryEnqueue is a panic-safe enqueue helper (handles the jobs channel being closed).
func (r *Router) tryEnqueue(fn func()) (ok bool) {
	if fn == nil {
		return false
	}
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
		}
	}()
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

// SetRegistry replaces the command set. /help is always added.
func (r *Router) SetRegistry(cmds []Command) {
	helper := Command{
		Route:       "help",
		Aliases:     []string{"h", "start"},
		Description: "show this help",
		Usage:       "/help [command]",
	}
	all := append(append([]Command(nil), cmds...), helper)

	table := map[string]*Command{}
	alias := map[string]*Command{}
	order := make([]string, 0, len(all))
	for i := range all {
		c := all[i]
		name := strings.ToLower(strings.TrimSpace(c.Route))
		if name == "" || strings.Contains(name, " ") {
			continue
		}
		if name == "help" {
			c.Handle = func(ctx context.Context, req *Request) error {
				return req.Reply(ctx, r.helpText(req.Args))
			}
		}
		if c.Handle == nil {
			continue
		}
		c.Route = name
		cp := c
		if _, dup := table[name]; !dup {
			order = append(order, name)
		}
		table[name] = &cp
		for _, a := range c.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			alias[a] = &cp
		}
	}
	sort.Strings(order)

	r.mu.Lock()
	r.cmds = table
	r.alias = alias
	r.order = order
	r.mu.Unlock()

	r.updateMenu(order, table)
}

func (r *Router) lookup(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.cmds[name]; ok {
		return c, true
	}
	c, ok := r.alias[name]
	return c, ok
}

func (r *Router) updateMenu(order []string, table map[string]*Command) {
	up, ok := r.out.(kit.CommandMenuUpdater)
	if !ok {
		return
	}
	menu := make([]kit.BotCommand, 0, len(order))
	for _, name := range order {
		n := sanitizeMenuCommand(name)
		if n == "" {
			continue
		}
		desc := table[name].Description
		if desc == "" {
			desc = name
		}
		menu = append(menu, kit.BotCommand{Command: n, Description: desc})
	}
	run := func(parent context.Context) {
		ctx, cancel := context.WithTimeout(parent, 5*time.Second)
		defer cancel()
		if err := up.UpdateMenuCommands(ctx, menu); err != nil {
			r.log.Debug("menu update failed", logx.Err(err))
		}
	}

	r.runMu.Lock()
	sup := r.menuSup
	r.runMu.Unlock()
	if sup != nil {
		sup.Go("telegram.menu.update", func(ctx context.Context) error {
			run(ctx)
			return nil
		})
		return
	}
	go run(context.Background())
}

func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}

	sup := supervisor.New(ctx,
		supervisor.WithLogger(r.log.With(logx.String("comp", "commands.router"))),
		supervisor.WithCancelOnError(false),
	)
	r.setSupervisor(sup, true)
	r.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(r.jobs)))

	var closeOnce sync.Once
	closeJobs := func() {
		closeOnce.Do(func() {
			r.setSupervisor(sup, false)
			close(r.jobs)
		})
	}

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-r.jobs:
					if !ok {
						return nil
					}
					if job == nil {
						continue
					}
					func() {
						defer func() {
							if rec := recover(); rec != nil {
								r.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithPublishFirstError(true),
			supervisor.WithStopOnCleanExit(true),
		)
	}

	defer func() {
		closeJobs()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.setSupervisor(nil, false)
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(ctx, up)
		}
	}
}

func (r *Router) route(root context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	msg := up.Message
	name, rest, ok := splitCommand(msg.Text)
	if !ok {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	cmd, ok := r.lookup(name)
	if !ok {
		// Groups often host other bots; stay quiet there.
		if !msg.IsGroup {
			_, _ = r.out.SendText(root, chat, "unknown command. try /help", nil)
		}
		return
	}
	r.enqueue(root, up, *cmd, rest)
}

func (r *Router) enqueue(root context.Context, up kit.Update, cmd Command, rest string) {
	msg := up.Message
	st := r.Settings()

	rid := newReqID()
	reqLog := r.log.With(
		logx.String("rid", rid),
		logx.Int64("chat_id", msg.ChatID),
		logx.Int("thread_id", msg.ThreadID),
		logx.Int64("from_id", msg.From.ID),
		logx.String("cmd", cmd.Route),
	)
	req := &Request{
		Update:  up,
		Chat:    kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		From:    msg.From,
		Message: kit.MessageRef{ChatID: msg.ChatID, ThreadID: msg.ThreadID, MessageID: msg.ID},
		Command: cmd.Route,
		Text:    rest,
		Args:    strings.Fields(rest),
		ReqID:   rid,
		Out:     r.out,
		Logger:  reqLog,
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = st.Timeout
	}
	final := Chain(cmd.Handle, MWPanicRecover(), MWRequestLog(), MWTimeout(timeout))

	if !r.tryEnqueue(func() { _ = final(root, req) }) {
		_, _ = r.out.SendText(root, req.Chat, "busy, try again", nil)
	}
}

func newReqID() string {
	return uuid.NewString()[:8]
}
