// Package router dispatches operator chat commands. Every command is
// owner-only.
package router

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	rtsup "streakbot/internal/runtime/supervisor"
	kit "streakbot/internal/transport"
	logx "streakbot/pkg/logx"
)

type Command struct {
	Name        string
	Usage       string
	Description string
	Timeout     time.Duration
	Handle      HandlerFunc
}

type Request struct {
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	ReqID   string
	Logger  logx.Logger

	adapter kit.Adapter
}

// Reply sends text back to the chat the command came from.
func (r *Request) Reply(ctx context.Context, text string) {
	r.reply(ctx, text, &kit.SendOptions{DisablePreview: true})
}

// ReplyHTML is Reply with HTML parse mode.
func (r *Request) ReplyHTML(ctx context.Context, text string) {
	r.reply(ctx, text, &kit.SendOptions{DisablePreview: true, ParseMode: "HTML"})
}

func (r *Request) reply(ctx context.Context, text string, opt *kit.SendOptions) {
	if _, err := r.adapter.SendText(ctx, r.Chat, text, opt); err != nil {
		r.Logger.Warn("reply failed", logx.Err(err))
	}
}

type Router struct {
	log     logx.Logger
	adapter kit.Adapter
	workers int

	mu       sync.RWMutex
	owners   []int64
	commands map[string]Command

	jobs chan func()
}

func New(log logx.Logger, adapter kit.Adapter, owners []int64) *Router {
	return &Router{
		log:      log.With(logx.String("comp", "telegram.router")),
		adapter:  adapter,
		workers:  2,
		owners:   append([]int64(nil), owners...),
		commands: map[string]Command{},
		jobs:     make(chan func(), 64),
	}
}

// SetOwners replaces the allowed sender list; safe during hot-reload.
func (r *Router) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	r.mu.Lock()
	r.owners = cp
	r.mu.Unlock()
}

// Register adds cmds plus a generated /help and pushes the menu to the
// adapter when it supports one.
func (r *Router) Register(ctx context.Context, cmds ...Command) {
	r.mu.Lock()
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		r.commands[name] = c
	}
	if _, ok := r.commands["help"]; !ok {
		r.commands["help"] = Command{Name: "help", Description: "list commands", Handle: r.help}
	}
	menu := r.menuLocked()
	r.mu.Unlock()

	if up, ok := r.adapter.(kit.CommandMenuUpdater); ok {
		mctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := up.UpdateMenuCommands(mctx, menu); err != nil {
			r.log.Warn("menu update failed", logx.Err(err))
		}
	}
}

func (r *Router) menuLocked() []kit.BotCommand {
	names := make([]string, 0, len(r.commands))
	for n := range r.commands {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]kit.BotCommand, 0, len(names))
	for _, n := range names {
		out = append(out, kit.BotCommand{Command: n, Description: r.commands[n].Description})
	}
	return out
}

func (r *Router) help(ctx context.Context, req *Request) error {
	r.mu.RLock()
	menu := r.menuLocked()
	cmds := r.commands
	var b strings.Builder
	b.WriteString("📚 Commands\n")
	for _, m := range menu {
		usage := cmds[m.Command].Usage
		if usage == "" {
			usage = "/" + m.Command
		}
		b.WriteString("• " + usage)
		if m.Description != "" {
			b.WriteString(" - " + m.Description)
		}
		b.WriteByte('\n')
	}
	r.mu.RUnlock()
	req.Reply(ctx, strings.TrimRight(b.String(), "\n"))
	return nil
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx, rtsup.WithLogger(r.log), rtsup.WithCancelOnError(false))
	for i := 0; i < r.workers; i++ {
		name := "command.worker." + strconv.Itoa(i)
		sup.GoRestart(name, func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-r.jobs:
					job()
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	r.log.Info("command dispatcher started", logx.Int("workers", r.workers))

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
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

func (r *Router) route(ctx context.Context, up kit.Update) {
	req, h, ok := r.resolve(up)
	if !ok {
		return
	}
	if h == nil {
		req.Reply(ctx, "unknown command, try /help")
		return
	}
	select {
	case r.jobs <- func() { _ = h(ctx, req) }:
	default:
		req.Reply(ctx, "busy, try again")
	}
}

// resolve parses a message into a request. ok is false for updates that
// are ignored; a nil handler means an unknown command from an owner.
func (r *Router) resolve(up kit.Update) (*Request, HandlerFunc, bool) {
	msg := up.Message
	if msg == nil {
		return nil, nil, false
	}
	parts := strings.Fields(msg.Text)
	if len(parts) == 0 || !strings.HasPrefix(parts[0], "/") {
		return nil, nil, false
	}
	word := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}

	r.mu.RLock()
	owner := isOwner(msg.FromID, r.owners)
	cmd, known := r.commands[word]
	r.mu.RUnlock()

	if !owner {
		r.log.Debug("ignoring command from non-owner", logx.Int64("from_id", msg.FromID), logx.String("cmd", word))
		return nil, nil, false
	}

	rid := uuid.NewString()[:8]
	req := &Request{
		Chat:    kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:  msg.FromID,
		Command: word,
		Args:    parts[1:],
		ReqID:   rid,
		adapter: r.adapter,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", word),
		),
	}
	if !known {
		return req, nil, true
	}
	return req, Chain(cmd.Handle,
		MWPanicRecover(),
		MWRequestLog(),
		MWReplyError(),
		MWTimeout(cmd.Timeout),
	), true
}

func isOwner(id int64, owners []int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}
