package batch

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"streakbot/internal/browser"
	"streakbot/internal/dm"
	"streakbot/internal/login"
	"streakbot/internal/progress"
	"streakbot/internal/session"
	logx "streakbot/pkg/logx"
)

// Deps are the collaborators a Runner composes.
type Deps struct {
	Opener   browser.Opener
	Sessions *session.Store
	Login    *login.Machine
	Sender   *dm.Sender
	// Browser is the launch template; Headless is taken from each Config.
	Browser      browser.Options
	ArtifactsDir string
	Log          logx.Logger
	Now          func() time.Time
}

// Runner executes a batch in the calling process.
type Runner struct {
	d Deps
}

func NewRunner(d Deps) *Runner {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.ArtifactsDir == "" {
		d.ArtifactsDir = "./artifacts"
	}
	d.Log = d.Log.With(logx.String("comp", "batch"))
	return &Runner{d: d}
}

// RunBatch is not cancellable once started: ctx only carries values.
// The browser is released on every return path, panics included.
func (r *Runner) RunBatch(ctx context.Context, cfg Config, p progress.Sink) (res Result, err error) {
	ctx = context.WithoutCancel(ctx)
	res = newResult(cfg, r.d.Now())
	log := r.d.Log.With(logx.String("run_id", res.RunID), logx.String("group", cfg.GroupID))

	if verr := cfg.Validate(); verr != nil {
		progress.Printf(p, "Invalid batch: %v", verr)
		res.abort(cfg.Targets, verr.Error(), r.d.Now())
		return res, verr
	}

	opts := r.d.Browser
	opts.Headless = cfg.Headless
	progress.Printf(p, "Launching browser (headless=%t)", cfg.Headless)
	c, oerr := r.d.Opener.Open(ctx, opts)
	if oerr != nil {
		reason := fmt.Sprintf("browser launch failed: %v", oerr)
		progress.Printf(p, "Error: %s", reason)
		res.abort(cfg.Targets, reason, r.d.Now())
		return res, fmt.Errorf("%w: %w", ErrFatal, oerr)
	}
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("batch panicked", logx.Any("panic", rec), logx.Stack(string(debug.Stack())))
			reason := fmt.Sprintf("panic: %v", rec)
			progress.Printf(p, "Error: %s", reason)
			r.errorScreenshot(ctx, c, log)
			res.abort(cfg.Targets, reason, r.d.Now())
			err = fmt.Errorf("%w: %s", ErrFatal, reason)
		}
		if cerr := c.Close(); cerr != nil {
			log.Warn("browser close failed", logx.Err(cerr))
		}
		progress.Printf(p, "Browser closed")
	}()

	identity := cfg.Credentials.Username
	if r.d.Sessions.TryRestore(ctx, c, identity) == session.Valid {
		res.SessionRestored = true
		progress.Printf(p, "Restored saved session")
	} else {
		progress.Printf(p, "No valid saved session, logging in")
		out := r.d.Login.Run(ctx, c, cfg.Credentials, cfg.Headless, p)
		if !out.Authenticated() {
			r.errorScreenshot(ctx, c, log)
			res.abort(cfg.Targets, out.Err.Reason(), r.d.Now())
			log.Warn("login failed", logx.String("state", out.Err.At.String()), logx.Err(out.Err))
			return res, fmt.Errorf("%w: %w", ErrFatal, out.Err)
		}
		r.persist(ctx, c, identity, log)
	}

	rep := r.d.Sender.Run(ctx, c, cfg.Targets, p)
	res.Success = rep.Success
	res.Failure = rep.Failure
	res.Total = rep.Total
	res.Outcomes = rep.Outcomes
	res.Screenshot = rep.Screenshot
	res.FinishedAt = r.d.Now()
	log.Info("batch finished",
		logx.Int("success", res.Success), logx.Int("failure", res.Failure), logx.Int("total", res.Total),
		logx.Bool("session_restored", res.SessionRestored), logx.Duration("took", res.Duration()))
	return res, nil
}

// persist saves the fresh session. Failure only costs a login next time.
func (r *Runner) persist(ctx context.Context, c browser.Client, identity string, log logx.Logger) {
	cookies, err := c.Cookies(ctx)
	if err == nil {
		err = r.d.Sessions.Persist(ctx, identity, cookies)
	}
	if err != nil {
		log.Warn("session not saved", logx.Err(err))
	}
}

func (r *Runner) errorScreenshot(ctx context.Context, c browser.Client, log logx.Logger) {
	if _, err := browser.SaveScreenshot(ctx, c, r.d.ArtifactsDir, "error-screenshot.png"); err != nil {
		log.Warn("error screenshot failed", logx.Err(err))
	}
}
