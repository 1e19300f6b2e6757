package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the host configuration. Every zero value has a working default,
// see ApplyDefaults.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Engine    EngineConfig    `json:"engine"`
	Runner    RunnerConfig    `json:"runner"`
	Browser   BrowserConfig   `json:"browser"`
	Site      SiteConfig      `json:"site"`
	Storage   StorageConfig   `json:"storage"`
	Groups    GroupsConfig    `json:"groups"`
	Telegram  TelegramConfig  `json:"telegram"`
	Notifier  NotifierConfig  `json:"notifier"`
	Debug     DebugConfig     `json:"debug"`
}

type LoggingConfig struct {
	Level    string            `json:"level"`
	Console  bool              `json:"console"`
	JSON     bool              `json:"json,omitempty"`
	File     LogFileConfig     `json:"file"`
	Telegram LogTelegramConfig `json:"telegram"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LogTelegramConfig mirrors warnings to telegram.log_chat_id.
type LogTelegramConfig struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

type SchedulerConfig struct {
	// Enabled is a pointer so an omitted block means "on".
	Enabled *bool `json:"enabled,omitempty"`
	// Timezone is an IANA name; empty means the process local zone.
	Timezone string `json:"timezone,omitempty"`
}

func (s SchedulerConfig) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

// EngineConfig sizes the worker pool that runs fired batches.
//
// Defaults: workers 4, queue_size 64, history_size 200,
// default_timeout 0 (none), max_queue_delay 0 (never drop).
type EngineConfig struct {
	Workers        int      `json:"workers,omitempty"`
	QueueSize      int      `json:"queue_size,omitempty"`
	HistorySize    int      `json:"history_size,omitempty"`
	DefaultTimeout Duration `json:"default_timeout,omitempty"`
	MaxQueueDelay  Duration `json:"max_queue_delay,omitempty"`
}

const (
	RunnerModeProcess   = "process"
	RunnerModeInProcess = "inprocess"
)

// RunnerConfig selects how a batch is hosted.
type RunnerConfig struct {
	Mode       string `json:"mode,omitempty"`
	Executable string `json:"executable,omitempty"`
	TempDir    string `json:"temp_dir,omitempty"`
}

type BrowserConfig struct {
	Bin            string   `json:"bin,omitempty"`
	UserAgent      string   `json:"user_agent,omitempty"`
	ViewportWidth  int      `json:"viewport_width,omitempty"`
	ViewportHeight int      `json:"viewport_height,omitempty"`
	NoSandbox      bool     `json:"no_sandbox,omitempty"`
	Flags          []string `json:"flags,omitempty"`
	ArtifactsDir   string   `json:"artifacts_dir,omitempty"`
}

// SiteConfig overrides the built-in page knowledge of the target site.
// Empty fields keep the built-in value.
type SiteConfig struct {
	LoginURL          string   `json:"login_url,omitempty"`
	MessagesURL       string   `json:"messages_url,omitempty"`
	ChannelSelector   string   `json:"channel_selector,omitempty"`
	ChannelLabel      string   `json:"channel_label,omitempty"`
	SubChannelLink    string   `json:"sub_channel_link,omitempty"`
	IdentifierFields  []string `json:"identifier_fields,omitempty"`
	SecretFields      []string `json:"secret_fields,omitempty"`
	SubmitControls    []string `json:"submit_controls,omitempty"`
	ChallengeMarkers  []string `json:"challenge_markers,omitempty"`
	ChatListItem      string   `json:"chat_list_item,omitempty"`
	SearchInput       string   `json:"search_input,omitempty"`
	SearchResult      string   `json:"search_result,omitempty"`
	ComposeControls   []string `json:"compose_controls,omitempty"`
	AuthenticatedMark string   `json:"authenticated_marker,omitempty"`
	LoginMark         string   `json:"login_marker,omitempty"`

	ManualWindow    Duration `json:"manual_window,omitempty"`
	NavigateTimeout Duration `json:"navigate_timeout,omitempty"`
	SubmitSettle    Duration `json:"submit_settle,omitempty"`
	FieldTimeout    Duration `json:"field_timeout,omitempty"`
	TargetPause     Duration `json:"target_pause,omitempty"`
	KeyDelay        Duration `json:"key_delay,omitempty"`
	MessageKeyDelay Duration `json:"message_key_delay,omitempty"`
}

const (
	StorageDriverFile   = "file"
	StorageDriverSQLite = "sqlite"
)

type StorageConfig struct {
	Driver      string   `json:"driver,omitempty"`
	Path        string   `json:"path,omitempty"`
	BusyTimeout Duration `json:"busy_timeout,omitempty"`
	RunHistory  int      `json:"run_history,omitempty"`
}

type GroupsConfig struct {
	Path  string `json:"path,omitempty"`
	Watch *bool  `json:"watch,omitempty"`
}

func (g GroupsConfig) WatchEnabled() bool { return g.Watch == nil || *g.Watch }

type TelegramConfig struct {
	Token        string   `json:"token,omitempty"`
	OwnerUserIDs []int64  `json:"owner_user_ids,omitempty"`
	NotifyChatID int64    `json:"notify_chat_id,omitempty"`
	LogChatID    int64    `json:"log_chat_id,omitempty"`
	PollTimeout  Duration `json:"poll_timeout,omitempty"`
}

func (t TelegramConfig) Enabled() bool { return strings.TrimSpace(t.Token) != "" }

type NotifierConfig struct {
	Workers     int      `json:"workers,omitempty"`
	QueueSize   int      `json:"queue_size,omitempty"`
	RatePerSec  int      `json:"rate_per_sec,omitempty"`
	RetryMax    int      `json:"retry_max,omitempty"`
	DedupWindow Duration `json:"dedup_window,omitempty"`
}

// DebugConfig controls the HTTP listener for /metrics, /status and pprof.
type DebugConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Pprof   bool   `json:"pprof,omitempty"`

	// Token is required for a non-loopback Addr.
	Token string `json:"token,omitempty"`
}

// ApplyDefaults fills every zero value in place.
func (c *Config) ApplyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Engine.Workers <= 0 {
		c.Engine.Workers = 4
	}
	if c.Engine.QueueSize <= 0 {
		c.Engine.QueueSize = 64
	}
	if c.Engine.HistorySize <= 0 {
		c.Engine.HistorySize = 200
	}
	if c.Runner.Mode == "" {
		c.Runner.Mode = RunnerModeProcess
	}
	if c.Runner.Executable == "" {
		if exe, err := os.Executable(); err == nil {
			c.Runner.Executable = exe
		}
	}
	if c.Browser.ViewportWidth <= 0 {
		c.Browser.ViewportWidth = 1280
	}
	if c.Browser.ViewportHeight <= 0 {
		c.Browser.ViewportHeight = 720
	}
	if c.Browser.ArtifactsDir == "" {
		c.Browser.ArtifactsDir = "./artifacts"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = StorageDriverFile
	}
	if c.Storage.Path == "" {
		if c.Storage.Driver == StorageDriverSQLite {
			c.Storage.Path = "./data/streakbot.db"
		} else {
			c.Storage.Path = "./data"
		}
	}
	if c.Storage.BusyTimeout <= 0 {
		c.Storage.BusyTimeout = Duration(5 * time.Second)
	}
	if c.Storage.RunHistory <= 0 {
		c.Storage.RunHistory = 500
	}
	if c.Groups.Path == "" {
		c.Groups.Path = "./groups-data.json"
	}
	if c.Telegram.PollTimeout <= 0 {
		c.Telegram.PollTimeout = Duration(10 * time.Second)
	}
	if c.Notifier.Workers <= 0 {
		c.Notifier.Workers = 1
	}
	if c.Notifier.QueueSize <= 0 {
		c.Notifier.QueueSize = 128
	}
	if c.Notifier.RatePerSec <= 0 {
		c.Notifier.RatePerSec = 1
	}
	if c.Notifier.DedupWindow <= 0 {
		c.Notifier.DedupWindow = Duration(30 * time.Second)
	}
	if c.Debug.Addr == "" {
		c.Debug.Addr = "127.0.0.1:9464"
	}
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	switch c.Runner.Mode {
	case RunnerModeProcess, RunnerModeInProcess:
	default:
		errs = append(errs, fmt.Errorf("runner.mode: unknown mode %q", c.Runner.Mode))
	}
	if c.Runner.Mode == RunnerModeProcess && c.Runner.Executable == "" {
		errs = append(errs, errors.New("runner.executable: cannot resolve own executable"))
	}
	switch c.Storage.Driver {
	case StorageDriverFile, StorageDriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	if c.Logging.Telegram.Enabled && c.Telegram.LogChatID == 0 {
		errs = append(errs, errors.New("logging.telegram: enabled but telegram.log_chat_id is not set"))
	}
	return errors.Join(errs...)
}
