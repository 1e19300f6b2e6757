// Package dm sends one message to each target of a batch over an
// authenticated browser session. A failing target is recorded and the
// loop moves on; nothing here aborts the batch.
package dm

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"streakbot/internal/browser"
	"streakbot/internal/locate"
	"streakbot/internal/progress"
	logx "streakbot/pkg/logx"
)

type Settings struct {
	MessagesURL     string
	NavigateTimeout time.Duration
	Settle          time.Duration

	ChatListItem string

	SearchInput    string
	SearchTimeout  time.Duration
	HandleKeyDelay time.Duration
	SearchSettle   time.Duration
	SearchResult   string
	ResultTimeout  time.Duration

	ConversationSettle time.Duration

	ComposeControls []string
	ComposeTimeout  time.Duration
	MessageKeyDelay time.Duration

	// TargetPause follows each successful send except the last.
	TargetPause time.Duration

	ArtifactsDir    string
	FinalScreenshot string
}

func DefaultSettings() Settings {
	return Settings{
		MessagesURL:     "https://www.tiktok.com/messages",
		NavigateTimeout: 30 * time.Second,
		Settle:          3 * time.Second,

		ChatListItem: `[data-e2e="chat-list-item"]`,

		SearchInput:    `input[placeholder*="Search"], input[data-e2e="search-user-input"]`,
		SearchTimeout:  5 * time.Second,
		HandleKeyDelay: 100 * time.Millisecond,
		SearchSettle:   2 * time.Second,
		SearchResult:   `[data-e2e="search-user-result"]`,
		ResultTimeout:  5 * time.Second,

		ConversationSettle: 3 * time.Second,

		ComposeControls: []string{
			`textarea[placeholder*="message"]`,
			`div[contenteditable="true"]`,
			`input[data-e2e="message-input"]`,
			`div[role="textbox"]`,
		},
		ComposeTimeout:  2 * time.Second,
		MessageKeyDelay: 50 * time.Millisecond,

		TargetPause: 3 * time.Second,

		ArtifactsDir:    "./artifacts",
		FinalScreenshot: "last-group-screenshot.png",
	}
}

type Sender struct {
	settings Settings
	log      logx.Logger
}

func NewSender(settings Settings, log logx.Logger) *Sender {
	return &Sender{settings: settings, log: log.With(logx.String("comp", "dm"))}
}

// Run attempts every target exactly once, in order.
func (s *Sender) Run(ctx context.Context, c browser.Client, targets []Target, p progress.Sink) Report {
	rep := Report{Total: len(targets)}
	for i, t := range targets {
		progress.Printf(p, "[%d/%d] Sending to %s", i+1, len(targets), displayHandle(t))
		out := s.sendOne(ctx, c, t)
		rep.add(out)

		if out.OK {
			progress.Printf(p, "[%d/%d] Sent to %s", i+1, len(targets), t.Handle)
			if i < len(targets)-1 {
				_ = browser.Sleep(ctx, s.settings.TargetPause)
			}
			continue
		}
		progress.Printf(p, "[%d/%d] Failed %s at %s: %s", i+1, len(targets), displayHandle(t), out.Stage, out.Reason)
		s.log.Warn("target failed",
			logx.String("handle", t.Handle), logx.String("stage", string(out.Stage)), logx.String("reason", out.Reason))
	}

	progress.Printf(p, "Summary: %d sent, %d failed, %d total", rep.Success, rep.Failure, rep.Total)
	for _, o := range rep.Outcomes {
		if o.OK {
			progress.Printf(p, "  ok    %s", o.Handle)
		} else {
			progress.Printf(p, "  fail  %s (%s)", displayHandle(Target{Handle: o.Handle}), o.Reason)
		}
	}

	if path, err := browser.SaveScreenshot(ctx, c, s.settings.ArtifactsDir, s.settings.FinalScreenshot); err != nil {
		s.log.Warn("final screenshot failed", logx.Err(err))
	} else {
		rep.Screenshot = path
		progress.Printf(p, "Screenshot saved to %s", path)
	}
	return rep
}

// sendOne runs steps 1-5 for a single target. Panics are contained here
// so one bad page cannot end the loop.
func (s *Sender) sendOne(ctx context.Context, c browser.Client, t Target) (out Outcome) {
	start := time.Now()
	out = Outcome{TargetID: t.ID, Handle: t.Handle, Stage: StageValidate}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("target panicked", logx.String("handle", t.Handle), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			out.OK = false
			out.Reason = fmt.Sprintf("panic: %v", r)
		}
		out.Took = time.Since(start)
	}()

	fail := func(stage Stage, err error) Outcome {
		out.Stage = stage
		out.Reason = reason(err)
		return out
	}

	if err := t.Validate(); err != nil {
		return fail(StageValidate, err)
	}

	out.Stage = StageOpenMessages
	nctx, cancel := context.WithTimeout(ctx, s.settings.NavigateTimeout)
	err := c.Navigate(nctx, s.settings.MessagesURL)
	cancel()
	if err != nil {
		return fail(StageOpenMessages, err)
	}
	if err := browser.Sleep(ctx, s.settings.Settle); err != nil {
		return fail(StageOpenMessages, err)
	}

	out.Stage = StageConversation
	if err := s.openConversation(ctx, c, t.Handle); err != nil {
		return fail(StageConversation, err)
	}

	out.Stage = StageCompose
	box, err := locate.First(ctx, locate.CSSList(c, s.settings.ComposeControls, s.settings.ComposeTimeout)...)
	if err != nil {
		return fail(StageCompose, fmt.Errorf("%w: %v", ErrComposeNotFound, err))
	}
	s.log.Debug("compose control resolved", logx.String("selector", box.Strategy))

	out.Stage = StageSend
	if err := box.Element.Type(ctx, t.Message, s.settings.MessageKeyDelay); err != nil {
		return fail(StageSend, err)
	}
	if err := c.PressEnter(ctx); err != nil {
		return fail(StageSend, err)
	}

	out.Stage = StageDone
	out.OK = true
	out.Sent = t.Message
	return out
}

// openConversation clicks the first conversation whose text contains the
// handle, or falls back to the search control.
func (s *Sender) openConversation(ctx context.Context, c browser.Client, handle string) error {
	st := s.settings
	if m, err := locate.First(ctx, locate.TextContains(c, st.ChatListItem, handle)); err == nil {
		if err := m.Element.Click(ctx); err != nil {
			return fmt.Errorf("open conversation: %w", err)
		}
		return browser.Sleep(ctx, st.ConversationSettle)
	}

	s.log.Debug("not in conversation list, searching", logx.String("handle", handle))
	search, err := locate.First(ctx, locate.CSS(c, st.SearchInput, st.SearchTimeout))
	if err != nil {
		return fmt.Errorf("%w: search control: %v", ErrConversationNotFound, err)
	}
	if err := search.Element.Type(ctx, handle, st.HandleKeyDelay); err != nil {
		return fmt.Errorf("%w: type search: %v", ErrConversationNotFound, err)
	}
	if err := browser.Sleep(ctx, st.SearchSettle); err != nil {
		return err
	}
	res, err := locate.First(ctx, locate.CSS(c, st.SearchResult, st.ResultTimeout))
	if err != nil {
		return fmt.Errorf("%w: search result: %v", ErrConversationNotFound, err)
	}
	if err := res.Element.Click(ctx); err != nil {
		return fmt.Errorf("%w: click result: %v", ErrConversationNotFound, err)
	}
	return browser.Sleep(ctx, st.ConversationSettle)
}

// reason maps an error to its operator-facing short form.
func reason(err error) string {
	for _, known := range []error{ErrConversationNotFound, ErrComposeNotFound} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return err.Error()
}

func displayHandle(t Target) string {
	if t.Handle == "" {
		return "(no handle)"
	}
	return t.Handle
}
