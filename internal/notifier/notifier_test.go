package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scanwatch/internal/eventbus"
	"scanwatch/internal/scan/errkind"
	logx "scanwatch/pkg/logx"
)

type fakeSink struct {
	mu    sync.Mutex
	got   []Message
	calls atomic.Int32
	fail  func(call int32) error
}

func (f *fakeSink) Name() string { return "fake" }

func (f *fakeSink) Send(ctx context.Context, msg Message) error {
	n := f.calls.Add(1)
	if f.fail != nil {
		if err := f.fail(n); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.got = append(f.got, msg)
	f.mu.Unlock()
	return nil
}

func (f *fakeSink) messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.got...)
}

type memMarks struct {
	mu sync.Mutex
	m  map[string]time.Time
}

func (m *memMarks) PutMark(ctx context.Context, key string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.m == nil {
		m.m = map[string]time.Time{}
	}
	m.m[key] = until
	return nil
}

func (m *memMarks) GetMark(ctx context.Context, key string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.m[key]
	return t, ok, nil
}

func fastConfig() Config {
	return Config{
		Enabled:       true,
		RatePerSec:    1000,
		RetryMax:      2,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
		DedupWindow:   time.Hour,
	}
}

func candidatesEvent(searchID string, fps ...string) eventbus.Event {
	cands := make([]eventbus.Candidate, 0, len(fps))
	for _, fp := range fps {
		cands = append(cands, eventbus.Candidate{
			Fingerprint: fp,
			URL:         "https://market.test/" + fp,
			Fields:      map[string]string{"title": "Item " + fp, "price": "10 EUR"},
		})
	}
	return eventbus.Event{
		Type:     eventbus.CandidatesFound,
		Time:     time.Now(),
		SearchID: searchID,
		Payload:  eventbus.CandidatesPayload{SearchName: "bikes", Candidates: cands},
	}
}

func stopped(t *testing.T, s *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestService_AnnouncesCandidatesOnce(t *testing.T) {
	sink := &fakeSink{}
	marks := &memMarks{}
	s := New(fastConfig(), []Sink{sink}, marks, logx.Nop())
	s.Start(context.Background())

	bus := eventbus.New()
	unsub := s.Attach(bus)
	defer unsub()

	bus.Publish(candidatesEvent("a", "f1", "f2"))
	bus.Publish(candidatesEvent("a", "f2", "f1")) // same batch, other order
	bus.Publish(eventbus.Event{Type: eventbus.JobSucceeded, SearchID: "a"})
	stopped(t, s)

	got := sink.messages()
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].SearchID)
	assert.Contains(t, got[0].Text, "[bikes] 2 new candidates")
	assert.Contains(t, got[0].Text, "Item f1 (10 EUR)")
	assert.Contains(t, got[0].Text, "https://market.test/f2")
	assert.Len(t, marks.m, 1)

	// a new instance sharing the marks does not re-announce
	sink2 := &fakeSink{}
	s2 := New(fastConfig(), []Sink{sink2}, marks, logx.Nop())
	s2.Start(context.Background())
	require.NoError(t, s2.Notify(context.Background(), got[0]))
	stopped(t, s2)
	assert.Empty(t, sink2.messages())
}

func TestService_RetriesTransientFailures(t *testing.T) {
	sink := &fakeSink{fail: func(n int32) error {
		if n < 3 {
			return errors.New("flaky")
		}
		return nil
	}}
	s := New(fastConfig(), []Sink{sink}, nil, logx.Nop())
	s.Start(context.Background())
	require.NoError(t, s.Notify(context.Background(), Message{Key: "k", Text: "hello"}))
	stopped(t, s)

	assert.Equal(t, int32(3), sink.calls.Load())
	require.Len(t, sink.messages(), 1)
	h := s.History()
	require.Len(t, h, 1)
	assert.False(t, h[0].Failed)
}

func TestService_PermanentFailureGivesUp(t *testing.T) {
	sink := &fakeSink{fail: func(int32) error {
		return errkind.New(errkind.SourceUnavailable, "chat not found")
	}}
	marks := &memMarks{}
	s := New(fastConfig(), []Sink{sink}, marks, logx.Nop())
	s.Start(context.Background())
	require.NoError(t, s.Notify(context.Background(), Message{Key: "k", Text: "hello"}))
	stopped(t, s)

	assert.Equal(t, int32(1), sink.calls.Load())
	h := s.History()
	require.Len(t, h, 1)
	assert.True(t, h[0].Failed)
	assert.Empty(t, marks.m, "failed sends are not marked")
}

func TestService_DisabledAndStopped(t *testing.T) {
	s := New(Config{}, []Sink{&fakeSink{}}, nil, logx.Nop())
	assert.ErrorIs(t, s.Notify(context.Background(), Message{Text: "x"}), ErrDisabled)

	s = New(fastConfig(), nil, nil, logx.Nop())
	assert.False(t, s.Enabled())
	assert.ErrorIs(t, s.Notify(context.Background(), Message{Text: "x"}), ErrDisabled)

	s = New(fastConfig(), []Sink{&fakeSink{}}, nil, logx.Nop())
	assert.ErrorIs(t, s.Notify(context.Background(), Message{Text: "x"}), ErrStopped)
}

func TestService_ApplyDisables(t *testing.T) {
	s := New(fastConfig(), []Sink{&fakeSink{}}, nil, logx.Nop())
	require.True(t, s.Enabled())
	s.Apply(Config{})
	assert.False(t, s.Enabled())
	assert.ErrorIs(t, s.Notify(context.Background(), Message{Text: "x"}), ErrDisabled)
}

func TestService_QueueFull(t *testing.T) {
	release := make(chan struct{})
	sink := &fakeSink{fail: func(int32) error {
		<-release
		return nil
	}}
	cfg := fastConfig()
	cfg.QueueSize = 1
	cfg.DedupWindow = 0
	s := New(cfg, []Sink{sink}, nil, logx.Nop())
	s.Start(context.Background())

	var full bool
	for i := 0; i < 10 && !full; i++ {
		full = errors.Is(s.Notify(context.Background(), Message{Text: "x"}), ErrQueueFull)
	}
	close(release)
	stopped(t, s)
	assert.True(t, full)
	assert.NotZero(t, s.Dropped())
}

func TestService_AlertSink(t *testing.T) {
	sink := &fakeSink{}
	s := New(fastConfig(), []Sink{sink}, nil, logx.Nop())
	s.Start(context.Background())

	var as logx.AlertSink = s
	require.NoError(t, as.Alert(context.Background(), "disk full"))
	require.NoError(t, as.Alert(context.Background(), "disk full"))
	stopped(t, s)

	got := sink.messages()
	require.Len(t, got, 1)
	assert.Equal(t, "disk full", got[0].Text)
}

func TestWebhookSink(t *testing.T) {
	var (
		status atomic.Int32
		body   webhookBody
		mu     sync.Mutex
	)
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		mu.Lock()
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Unlock()
		code := int(status.Load())
		if code == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", "7")
		}
		w.WriteHeader(code)
	}))
	defer srv.Close()

	sink, err := NewWebhookSink(WebhookConfig{URL: srv.URL})
	require.NoError(t, err)

	msg, ok := MessageFromEvent(candidatesEvent("a", "f1"))
	require.True(t, ok)
	require.NoError(t, sink.Send(context.Background(), msg))
	mu.Lock()
	assert.Equal(t, "a", body.SearchID)
	require.Len(t, body.Candidates, 1)
	assert.Equal(t, "f1", body.Candidates[0].Fingerprint)
	mu.Unlock()

	status.Store(http.StatusTooManyRequests)
	err = sink.Send(context.Background(), msg)
	require.Error(t, err)
	d, ok := errkind.RetryAfterHint(err)
	require.True(t, ok)
	assert.Equal(t, 7*time.Second, d)

	status.Store(http.StatusNotFound)
	err = sink.Send(context.Background(), msg)
	assert.True(t, errkind.Is(err, errkind.SourceUnavailable))

	status.Store(http.StatusBadGateway)
	err = sink.Send(context.Background(), msg)
	require.Error(t, err)
	assert.Equal(t, errkind.CaptureAgentError, errkind.Of(err))

	_, err = NewWebhookSink(WebhookConfig{})
	assert.Error(t, err)
}

func TestTelegramSink_Send(t *testing.T) {
	var (
		mu     sync.Mutex
		path   string
		chatID string
		text   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var params map[string]any
		_ = json.NewDecoder(r.Body).Decode(&params)
		mu.Lock()
		path = r.URL.Path
		chatID, _ = params["chat_id"].(string)
		text, _ = params["text"].(string)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"},"text":"ok"}}`))
	}))
	defer srv.Close()

	sink, err := NewTelegramSink(TelegramConfig{Token: "123:abc", ChatID: 42, APIURL: srv.URL})
	require.NoError(t, err)
	require.NoError(t, sink.Send(context.Background(), Message{Text: "hello there"}))

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, strings.HasSuffix(path, "/bot123:abc/sendMessage"), path)
	assert.Equal(t, "42", chatID)
	assert.Equal(t, "hello there", text)

	_, err = NewTelegramSink(TelegramConfig{ChatID: 1})
	assert.Error(t, err)
}

func TestFormatCandidates(t *testing.T) {
	cands := make([]eventbus.Candidate, 0, 12)
	for i := 0; i < 12; i++ {
		cands = append(cands, eventbus.Candidate{Fingerprint: "fp", Fields: map[string]string{"size": "M", "color": "red"}})
	}
	text := formatCandidates("shirts", cands)
	assert.True(t, strings.HasPrefix(text, "[shirts] 12 new candidates"))
	assert.Contains(t, text, "- color=red, size=M")
	assert.Contains(t, text, "... and 2 more")

	one := formatCandidates("x", []eventbus.Candidate{{Fingerprint: "abc"}})
	assert.Equal(t, "[x] 1 new candidate\n- abc", one)

	_, ok := MessageFromEvent(eventbus.Event{Type: eventbus.CandidatesFound, Payload: eventbus.CandidatesPayload{}})
	assert.False(t, ok)
}
