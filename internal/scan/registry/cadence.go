package registry

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
)

// Cadence is the recurrence between scan cycles of a search.
//
// Supported forms:
//   - Interval duration: "30m", "2h30m"
//   - Interval HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
//   - Cron: "*/15 * * * *", "0 30 9 * * *", "@hourly", "@every 45m"
//
// Prefixes "cron:" and "every:" force the kind.
type Cadence struct {
	raw   string
	every time.Duration
	sched cron.Schedule
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Every returns a fixed-interval cadence.
func Every(d time.Duration) Cadence {
	return Cadence{raw: d.String(), every: d}
}

// ParseCadence parses a cadence string.
func ParseCadence(raw string) (Cadence, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Cadence{}, errors.New("cadence required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]), s)
	case strings.HasPrefix(low, "every:"):
		d, err := parseInterval(strings.TrimSpace(s[len("every:"):]))
		if err != nil {
			return Cadence{}, err
		}
		return Cadence{raw: s, every: d}, nil
	}

	// any whitespace or leading '@' => cron
	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		return parseCron(s, s)
	}
	d, err := parseInterval(s)
	if err != nil {
		return Cadence{}, errors.Newf(
			"invalid cadence %q (use cron like '*/5 * * * *', HH:MM like '02:30', or duration like '55m')", raw)
	}
	return Cadence{raw: s, every: d}, nil
}

// MustCadence is ParseCadence that panics; for tests and literals.
func MustCadence(raw string) Cadence {
	c, err := ParseCadence(raw)
	if err != nil {
		panic(err)
	}
	return c
}

func parseCron(expr, raw string) (Cadence, error) {
	if expr == "" {
		return Cadence{}, errors.New("cron expression required")
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return Cadence{}, errors.Wrapf(err, "invalid cron cadence %q", expr)
	}
	return Cadence{raw: raw, sched: sched}, nil
}

func parseInterval(v string) (time.Duration, error) {
	if v == "" {
		return 0, errors.New("interval required")
	}
	if m := reHHMM.FindStringSubmatch(v); len(m) == 3 {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return 0, errors.Newf("invalid minutes in %q", v)
		}
		d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		if d <= 0 {
			return 0, errors.New("interval must be > 0")
		}
		return d, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid interval %q", v)
	}
	if d <= 0 {
		return 0, errors.New("interval must be > 0")
	}
	return d, nil
}

// IsZero reports whether the cadence was never set.
func (c Cadence) IsZero() bool { return c.every <= 0 && c.sched == nil }

// Interval returns the fixed interval, or 0 for cron cadences.
func (c Cadence) Interval() time.Duration { return c.every }

// Next returns the next run time after from.
func (c Cadence) Next(from time.Time) time.Time {
	if c.sched != nil {
		return c.sched.Next(from)
	}
	return from.Add(c.every)
}

func (c Cadence) String() string { return c.raw }

func (c Cadence) MarshalJSON() ([]byte, error) { return json.Marshal(c.raw) }

func (c *Cadence) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return errors.Wrap(err, "cadence must be a string")
	}
	parsed, err := ParseCadence(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
