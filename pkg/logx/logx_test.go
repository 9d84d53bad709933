package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

type alertRecorder struct {
	mu  sync.Mutex
	got []string
}

func (r *alertRecorder) Alert(_ context.Context, text string) error {
	r.mu.Lock()
	r.got = append(r.got, text)
	r.mu.Unlock()
	return nil
}

func (r *alertRecorder) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

func TestLogger_WithAndFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "scheduler"))
	log.Info("job started", String("search_id", "bikes"), Int("attempt", 1), Err(nil))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "job started", line["message"])
	assert.Equal(t, "scheduler", line["comp"])
	assert.Equal(t, "bikes", line["search_id"])
	assert.EqualValues(t, 1, line["attempt"])
	assert.NotContains(t, line, "err")
	assert.Contains(t, line["caller"], "logx_test.go:")
}

func TestLogger_ZeroAndNop(t *testing.T) {
	var zero Logger
	assert.True(t, zero.IsZero())
	zero.Error("dropped")

	nop := Nop()
	assert.False(t, nop.IsZero())
	assert.False(t, nop.Enabled(LevelError))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{" INFO ", LevelInfo},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"loud", LevelWarn},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in, LevelWarn))
		})
	}
}

func TestService_ApplyFollowsLoggers(t *testing.T) {
	out := &syncBuffer{}
	s := newService(out)
	s.Apply(Config{Level: "info", Console: true})
	log := s.Logger().With(String("comp", "app"))

	log.Debug("hidden")
	assert.NotContains(t, out.String(), "hidden")

	s.Apply(Config{Level: "debug", Console: true})
	log.Debug("shown")
	assert.Contains(t, out.String(), "shown")
	require.NoError(t, s.Close())
}

func TestService_FileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.log")
	s := newService(&syncBuffer{})
	s.Apply(Config{Level: "info", File: FileConfig{Enabled: true, Path: path}})
	s.Logger().Warn("checkpoint failed", String("driver", "file"))
	require.NoError(t, s.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(b), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "file", line["driver"])
}

func TestService_AlertsForwardErrors(t *testing.T) {
	rec := &alertRecorder{}
	s := newService(&syncBuffer{})
	s.SetAlertSink(rec)
	s.Apply(Config{Level: "info", Alerts: AlertConfig{Enabled: true, RatePerSec: 100}})
	defer func() { _ = s.Close() }()

	log := s.Logger()
	log.Warn("below threshold")
	log.Error("scan failed", String("search_id", "bikes"), String("kind", "capture_timeout"))

	require.Eventually(t, func() bool { return len(rec.texts()) == 1 }, 2*time.Second, 5*time.Millisecond)
	text := rec.texts()[0]
	assert.True(t, strings.HasPrefix(text, "[ERROR] scan failed"), text)
	assert.Less(t, strings.Index(text, "- kind=capture_timeout"), strings.Index(text, "- search_id=bikes"))
}

func TestAlertText(t *testing.T) {
	assert.Equal(t, "not json", alertText([]byte("not json\n")))

	long := strings.Repeat("x", alertMaxValue+50)
	text := alertText([]byte(`{"level":"error","message":"boom","v":"` + long + `"}`))
	assert.Contains(t, text, "[ERROR] boom")
	assert.Contains(t, text, "...")
	assert.Less(t, len(text), alertMaxValue+40)
}
