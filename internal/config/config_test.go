package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDecodeYAMLWithDurations(t *testing.T) {
	t.Parallel()
	raw := []byte(`
logging:
  level: debug
  console: true
runner:
  mode: inprocess
site:
  manual_window: 90s
  compose_controls: ['div[role="textbox"]']
storage:
  driver: sqlite
`)
	cfg, err := Decode("config.yaml", raw)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, 90*time.Second, cfg.Site.ManualWindow.Std())
	require.Equal(t, []string{`div[role="textbox"]`}, cfg.Site.ComposeControls)
	require.Equal(t, "./data/streakbot.db", cfg.Storage.Path)
	require.Equal(t, 4, cfg.Engine.Workers)
	require.True(t, cfg.Scheduler.IsEnabled())
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	_, err := Decode("config.json", []byte(`{"plugins":{}}`))
	require.Error(t, err)
}

func TestDecodeRejectsBadValues(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"duration": `{"site":{"manual_window":"soon"}}`,
		"mode":     `{"runner":{"mode":"thread"}}`,
		"driver":   `{"storage":{"driver":"redis"}}`,
		"timezone": `{"scheduler":{"timezone":"Mars/Olympus"}}`,
		"trailing": `{} {}`,
	}
	for name, raw := range cases {
		raw := raw
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode("config.json", []byte(raw))
			require.Error(t, err)
		})
	}
}

func TestParseMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(filepath.Join(t.TempDir(), "absent.yaml"))
	cfg, err := m.Parse()
	require.NoError(t, err)
	require.Equal(t, RunnerModeProcess, cfg.Runner.Mode)
	require.Equal(t, "./groups-data.json", cfg.Groups.Path)
}

func TestReloadPublishesOnlyOnChange(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o600))

	m := NewConfigManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)

	published, err := m.Reload(context.Background())
	require.NoError(t, err)
	require.False(t, published)

	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: warn\n"), 0o600))
	published, err = m.Reload(context.Background())
	require.NoError(t, err)
	require.True(t, published)
	require.Equal(t, "warn", (<-ch).Logging.Level)
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	a := &Config{}
	a.ApplyDefaults()
	b := *a
	b.Telegram.Token = "secret"
	b.Engine.Workers = 8

	changed, _ := SummarizeConfigChange(a, &b)
	require.Equal(t, []string{"engine", "telegram"}, changed)
}
