package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"scanwatch/internal/eventbus"
	"scanwatch/internal/scan/errkind"
)

type WebhookConfig struct {
	URL     string
	Timeout time.Duration
	Client  *http.Client
}

// WebhookSink POSTs a JSON document per message.
type WebhookSink struct {
	url    string
	client *http.Client
}

type webhookBody struct {
	Key        string               `json:"key,omitempty"`
	SearchID   string               `json:"search_id,omitempty"`
	SearchName string               `json:"search_name,omitempty"`
	Text       string               `json:"text"`
	Candidates []eventbus.Candidate `json:"candidates,omitempty"`
	At         time.Time            `json:"at"`
}

func NewWebhookSink(cfg WebhookConfig) (*WebhookSink, error) {
	u := strings.TrimSpace(cfg.URL)
	if u == "" {
		return nil, errors.New("webhook url is empty")
	}
	c := cfg.Client
	if c == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 8 * time.Second
		}
		c = &http.Client{Timeout: timeout}
	}
	return &WebhookSink{url: u, client: c}, nil
}

func (w *WebhookSink) Name() string { return "webhook" }

func (w *WebhookSink) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(webhookBody{
		Key:        msg.Key,
		SearchID:   msg.SearchID,
		SearchName: msg.SearchName,
		Text:       msg.Text,
		Candidates: msg.Candidates,
		At:         msg.At,
	})
	if err != nil {
		return errkind.Mark(errors.Wrap(err, "encode webhook body"), errkind.SourceUnavailable)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return errkind.Mark(errors.Wrap(err, "build webhook request"), errkind.SourceUnavailable)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "webhook post")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		err := errors.Newf("webhook: status %d", code)
		if d, ok := errkind.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()); ok {
			return errkind.RetryAfter(err, d)
		}
		return err
	case code >= 500:
		return errors.Newf("webhook: status %d", code)
	default:
		return errkind.Newf(errkind.SourceUnavailable, "webhook: status %d", code)
	}
}
