// Package groups reads the group and credential data file: one account
// and a list of named target groups, each optionally scheduled daily.
package groups

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"streakbot/internal/config"
	"streakbot/internal/dm"
	"streakbot/internal/login"
	logx "streakbot/pkg/logx"
)

// Credentials is the account block. Headless defaults to true.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Headless *bool  `json:"headless,omitempty"`
}

func (c Credentials) Login() login.Credentials {
	return login.Credentials{Username: c.Username, Password: c.Password}
}

func (c Credentials) IsHeadless() bool { return c.Headless == nil || *c.Headless }

type Group struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	ScheduleEnabled bool        `json:"scheduleEnabled"`
	ScheduleTime    string      `json:"scheduleTime"`
	Targets         []dm.Target `json:"targets"`
}

// DisplayName falls back to the id.
func (g Group) DisplayName() string {
	if strings.TrimSpace(g.Name) != "" {
		return g.Name
	}
	return g.ID
}

// Schedule reports whether g gets a daily trigger and at what clock time.
// A group qualifies when scheduling is on, the time is set and parses and
// the target list is non-empty. Malformed targets still qualify; they fail
// individually when the batch runs. A nil error with ok=false means
// "manual".
func (g Group) Schedule() (hour, minute int, ok bool, err error) {
	if !g.ScheduleEnabled || strings.TrimSpace(g.ScheduleTime) == "" {
		return 0, 0, false, nil
	}
	hour, minute, err = ParseClock(g.ScheduleTime)
	if err != nil {
		return 0, 0, false, err
	}
	if len(g.Targets) == 0 {
		return 0, 0, false, errors.New("no targets")
	}
	return hour, minute, true, nil
}

// ParseClock parses "HH:MM" in 24-hour form. Single-digit fields are allowed.
func ParseClock(s string) (hour, minute int, err error) {
	hs, ms, found := strings.Cut(strings.TrimSpace(s), ":")
	if !found {
		return 0, 0, fmt.Errorf("clock %q: want HH:MM", s)
	}
	hour, err = clockField(hs, 23)
	if err != nil {
		return 0, 0, fmt.Errorf("clock %q: hour: %w", s, err)
	}
	minute, err = clockField(ms, 59)
	if err != nil {
		return 0, 0, fmt.Errorf("clock %q: minute: %w", s, err)
	}
	return hour, minute, nil
}

func clockField(s string, max int) (int, error) {
	if len(s) == 0 || len(s) > 2 {
		return 0, errors.New("want one or two digits")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, errors.New("want digits")
		}
	}
	n, _ := strconv.Atoi(s)
	if n > max {
		return 0, fmt.Errorf("out of range 0-%d", max)
	}
	return n, nil
}

// Data is one snapshot of the file.
type Data struct {
	Credentials Credentials `json:"credentials"`
	Groups      []Group     `json:"groups"`
}

// Find returns the group with id.
func (d Data) Find(id string) (Group, bool) {
	for _, g := range d.Groups {
		if g.ID == id {
			return g, true
		}
	}
	return Group{}, false
}

// Source yields the current data.
type Source interface {
	Load(ctx context.Context) (Data, error)
}

// FileSource reads a JSON or YAML file.
type FileSource struct {
	path     string
	log      logx.Logger
	debounce time.Duration
}

func NewFileSource(path string, log logx.Logger) *FileSource {
	return &FileSource{path: path, log: log.With(logx.String("comp", "groups")), debounce: 500 * time.Millisecond}
}

func (s *FileSource) Path() string { return s.path }

// Load reads the file. A missing file is empty data, not an error.
func (s *FileSource) Load(ctx context.Context) (Data, error) {
	var d Data
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.log.Info("groups file not found", logx.String("path", s.path))
		return d, nil
	}
	if err != nil {
		return d, fmt.Errorf("read groups: %w", err)
	}
	if strings.TrimSpace(string(raw)) == "" {
		return d, nil
	}
	j, err := config.ToJSON(s.path, raw)
	if err != nil {
		return d, fmt.Errorf("groups %s: %w", s.path, err)
	}
	if err := json.Unmarshal(j, &d); err != nil {
		return d, fmt.Errorf("groups %s: %w", s.path, err)
	}
	d.Groups = s.normalize(d.Groups)
	return d, nil
}

// normalize gives every group an id and resolves duplicate ids: the later
// definition replaces the earlier one in place.
func (s *FileSource) normalize(in []Group) []Group {
	out := make([]Group, 0, len(in))
	seen := make(map[string]int, len(in))
	taken := make(map[string]bool, len(in))
	for _, g := range in {
		if id := strings.TrimSpace(g.ID); id != "" {
			taken[id] = true
		}
	}
	for i, g := range in {
		g.ID = strings.TrimSpace(g.ID)
		if g.ID == "" {
			g.ID = freeID(taken, i+1)
			s.log.Warn("group without id", logx.String("name", g.Name), logx.String("assigned", g.ID))
		}
		if at, dup := seen[g.ID]; dup {
			s.log.Warn("duplicate group id, later definition wins", logx.String("id", g.ID))
			out[at] = g
			continue
		}
		seen[g.ID] = len(out)
		out = append(out, g)
	}
	return out
}

// freeID returns "group-<n>", or "group-<n>-<k>" when that is taken, and
// reserves it.
func freeID(taken map[string]bool, n int) string {
	id := fmt.Sprintf("group-%d", n)
	for k := 2; taken[id]; k++ {
		id = fmt.Sprintf("group-%d-%d", n, k)
	}
	taken[id] = true
	return id
}

// Watch calls fn after the file settles following a change. It blocks
// until ctx is done.
func (s *FileSource) Watch(ctx context.Context, fn func()) error {
	return config.WatchFile(ctx, s.path, s.debounce, s.log, fn)
}
