package app

import (
	"encoding/json"
	"fmt"
	"time"

	"streakbot/internal/batch"
	"streakbot/internal/browser"
	"streakbot/internal/browser/rodclient"
	"streakbot/internal/config"
	"streakbot/internal/dm"
	"streakbot/internal/login"
	"streakbot/internal/session"
	"streakbot/internal/storage"
	logx "streakbot/pkg/logx"
)

// SiteSettings resolves the page knowledge for the three browser flows:
// built-in defaults with config.Site overrides applied.
func SiteSettings(cfg *config.Config) (session.Settings, login.Settings, dm.Settings) {
	site := cfg.Site
	ss, ls, ds := session.DefaultSettings(), login.DefaultSettings(), dm.DefaultSettings()

	setStr(&ls.LoginURL, site.LoginURL)
	setStr(&ls.ChannelSelector, site.ChannelSelector)
	setStr(&ls.ChannelLabel, site.ChannelLabel)
	setStr(&ls.SubChannelLink, site.SubChannelLink)
	setList(&ls.IdentifierFields, site.IdentifierFields)
	setList(&ls.SecretFields, site.SecretFields)
	setList(&ls.SubmitControls, site.SubmitControls)
	setList(&ls.ChallengeMarkers, site.ChallengeMarkers)
	setDur(&ls.ManualWindow, site.ManualWindow)
	setDur(&ls.SubmitSettle, site.SubmitSettle)
	setDur(&ls.IdentifierTimeout, site.FieldTimeout)
	setDur(&ls.SecretTimeout, site.FieldTimeout)
	setDur(&ls.SubmitTimeout, site.FieldTimeout)
	setDur(&ls.KeyDelay, site.KeyDelay)

	setStr(&ds.MessagesURL, site.MessagesURL)
	setStr(&ds.ChatListItem, site.ChatListItem)
	setStr(&ds.SearchInput, site.SearchInput)
	setStr(&ds.SearchResult, site.SearchResult)
	setList(&ds.ComposeControls, site.ComposeControls)
	setDur(&ds.TargetPause, site.TargetPause)
	setDur(&ds.MessageKeyDelay, site.MessageKeyDelay)
	setDur(&ds.HandleKeyDelay, site.KeyDelay)
	setStr(&ds.ArtifactsDir, cfg.Browser.ArtifactsDir)

	setStr(&ss.LandingURL, site.MessagesURL)
	setStr(&ss.AuthenticatedMarker, site.AuthenticatedMark)
	setStr(&ss.LoginMarker, site.LoginMark)

	setDur(&ls.NavigateTimeout, site.NavigateTimeout)
	setDur(&ds.NavigateTimeout, site.NavigateTimeout)
	setDur(&ss.NavigateTimeout, site.NavigateTimeout)
	return ss, ls, ds
}

func setStr(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setList(dst *[]string, v []string) {
	if len(v) > 0 {
		*dst = append([]string(nil), v...)
	}
}

func setDur(dst *time.Duration, v config.Duration) {
	if v > 0 {
		*dst = v.Std()
	}
}

// NewRunner builds the in-process batch runner over a real browser.
func NewRunner(cfg *config.Config, store storage.Store, log logx.Logger) *batch.Runner {
	return newRunnerWith(cfg, store, rodclient.Opener{Log: log.With(logx.String("comp", "browser"))}, log)
}

func newRunnerWith(cfg *config.Config, store storage.Store, opener browser.Opener, log logx.Logger) *batch.Runner {
	ss, ls, ds := SiteSettings(cfg)
	return batch.NewRunner(batch.Deps{
		Opener:   opener,
		Sessions: session.New(store, ss, log.With(logx.String("comp", "session"))),
		Login:    login.New(ls, log.With(logx.String("comp", "login"))),
		Sender:   dm.NewSender(ds, log.With(logx.String("comp", "dm"))),
		Browser: browser.Options{
			Bin:            cfg.Browser.Bin,
			UserAgent:      cfg.Browser.UserAgent,
			ViewportWidth:  cfg.Browser.ViewportWidth,
			ViewportHeight: cfg.Browser.ViewportHeight,
			NoSandbox:      cfg.Browser.NoSandbox,
			Flags:          cfg.Browser.Flags,
		},
		ArtifactsDir: cfg.Browser.ArtifactsDir,
		Log:          log,
	})
}

// NewExecutor picks the batch host for runner.mode. In process mode the
// child receives cfg as its settings and opens its own store.
func NewExecutor(cfg *config.Config, store storage.Store, log logx.Logger) (batch.Executor, error) {
	switch cfg.Runner.Mode {
	case config.RunnerModeInProcess:
		return NewRunner(cfg, store, log), nil
	case config.RunnerModeProcess:
		settings, err := json.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("encode child settings: %w", err)
		}
		return &batch.ProcessRunner{
			Executable: cfg.Runner.Executable,
			ChildArgs:  []string{"--log-level", cfg.Logging.Level},
			TempDir:    cfg.Runner.TempDir,
			Settings:   settings,
			Log:        log.With(logx.String("comp", "batch.process")),
		}, nil
	default:
		return nil, fmt.Errorf("runner.mode: unknown mode %q", cfg.Runner.Mode)
	}
}
