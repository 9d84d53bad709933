package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// AlertSink receives alert text. Alert is called from one goroutine at a time.
type AlertSink interface {
	Alert(ctx context.Context, text string) error
}

const (
	alertQueue    = 128
	alertMaxText  = 3500
	alertMaxValue = 600
	alertTimeout  = 10 * time.Second
)

// alerter is a zerolog.LevelWriter that hands selected lines to a background sender.
// Writes never block the logger: over the rate or with a full queue, lines are dropped.
type alerter struct {
	mu      sync.Mutex
	sink    AlertSink
	enabled bool
	min     zerolog.Level
	lim     *rate.Limiter

	queue  chan string
	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

func newAlerter() *alerter {
	return &alerter{queue: make(chan string, alertQueue), done: make(chan struct{})}
}

func (a *alerter) setSink(sink AlertSink) {
	a.mu.Lock()
	a.sink = sink
	a.mu.Unlock()
}

func (a *alerter) configure(cfg AlertConfig) {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	a.mu.Lock()
	a.enabled = true
	a.min = ParseLevel(cfg.MinLevel, LevelError)
	a.lim = rate.NewLimiter(rate.Limit(rps), rps)
	a.mu.Unlock()

	a.once.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		a.cancel = cancel
		go a.run(ctx)
	})
}

func (a *alerter) disable() {
	a.mu.Lock()
	a.enabled = false
	a.mu.Unlock()
}

func (a *alerter) close() {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
		<-a.done
	}
}

func (a *alerter) run(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-a.queue:
			a.mu.Lock()
			sink := a.sink
			a.mu.Unlock()
			if sink == nil {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, alertTimeout)
			_ = sink.Alert(sctx, text)
			cancel()
		}
	}
}

func (a *alerter) Write(p []byte) (int, error) { return a.WriteLevel(LevelInfo, p) }

func (a *alerter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	a.mu.Lock()
	ok := a.enabled && a.sink != nil && level >= a.min && a.lim.Allow()
	a.mu.Unlock()
	if !ok {
		return len(p), nil
	}
	if text := alertText(p); text != "" {
		select {
		case a.queue <- text:
		default:
		}
	}
	return len(p), nil
}

// alertText renders a JSON log line as "[LEVEL] message" followed by one "- key=value"
// line per field, keys sorted.
func alertText(p []byte) string {
	raw := strings.TrimSpace(string(p))
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return clip(raw, alertMaxText)
	}

	var b strings.Builder
	if lvl, _ := m["level"].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := m["message"].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message":
		default:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(fmt.Sprint(m[k]), alertMaxValue))
	}
	return clip(b.String(), alertMaxText)
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
