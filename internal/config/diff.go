package config

import (
	"reflect"
	"sort"

	logx "streakbot/pkg/logx"
)

// SummarizeConfigChange lists the top-level sections that differ and a few
// safe fields for the reload log line. Secrets are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var changed []string
	var attrs []logx.Field
	section := func(name string, a, b any, fields ...logx.Field) {
		if !reflect.DeepEqual(a, b) {
			changed = append(changed, name)
			attrs = append(attrs, fields...)
		}
	}

	section("logging", oldCfg.Logging, newCfg.Logging,
		logx.String("logging.level", newCfg.Logging.Level),
		logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled))
	section("scheduler", oldCfg.Scheduler, newCfg.Scheduler,
		logx.Bool("scheduler.enabled", newCfg.Scheduler.IsEnabled()),
		logx.String("scheduler.timezone", newCfg.Scheduler.Timezone))
	section("engine", oldCfg.Engine, newCfg.Engine,
		logx.Int("engine.workers", newCfg.Engine.Workers))
	section("runner", oldCfg.Runner, newCfg.Runner,
		logx.String("runner.mode", newCfg.Runner.Mode))
	section("browser", oldCfg.Browser, newCfg.Browser)
	section("site", oldCfg.Site, newCfg.Site)
	section("storage", oldCfg.Storage, newCfg.Storage,
		logx.String("storage.driver", newCfg.Storage.Driver))
	section("groups", oldCfg.Groups, newCfg.Groups,
		logx.String("groups.path", newCfg.Groups.Path))
	// token changes are reported without the token
	section("telegram", oldCfg.Telegram, newCfg.Telegram,
		logx.Bool("telegram.enabled", newCfg.Telegram.Enabled()),
		logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)))
	section("notifier", oldCfg.Notifier, newCfg.Notifier,
		logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec))
	section("debug", oldCfg.Debug, newCfg.Debug,
		logx.Bool("debug.enabled", newCfg.Debug.Enabled),
		logx.String("debug.addr", newCfg.Debug.Addr))

	sort.Strings(changed)
	return changed, attrs
}
