package app

import (
	"context"
	"encoding/json"
	"time"

	"scanwatch/internal/eventbus"
	"scanwatch/internal/storage"
	logx "scanwatch/pkg/logx"
)

// audit logs every lifecycle event and appends it to storage when enabled.
func (e *Engine) audit(ev eventbus.Event) error {
	fields := []logx.Field{
		logx.String("event", string(ev.Type)),
		logx.String("search_id", ev.SearchID),
	}
	if ev.JobID != "" {
		fields = append(fields, logx.String("job_id", ev.JobID))
	}

	level := logx.LevelDebug
	msg := "job event"
	switch p := ev.Payload.(type) {
	case eventbus.JobPayload:
		fields = append(fields, logx.Int("attempt", p.Attempt))
		if p.Forced {
			fields = append(fields, logx.Bool("forced", true))
		}
		if ev.Type == eventbus.JobSucceeded {
			level, msg = logx.LevelInfo, "scan succeeded"
			fields = append(fields, logx.Int("found", p.Found))
		}
	case eventbus.RetryPayload:
		level, msg = logx.LevelWarn, "scan failed; retrying"
		fields = append(fields,
			logx.Int("attempt", p.Attempt),
			logx.Duration("after", p.After),
			logx.String("kind", p.Kind),
			logx.String("err", p.Error),
		)
	case eventbus.FailurePayload:
		level, msg = logx.LevelError, "scan failed"
		fields = append(fields,
			logx.Int("attempt", p.Attempt),
			logx.String("kind", p.Kind),
			logx.String("err", p.Error),
		)
	case eventbus.CandidatesPayload:
		level, msg = logx.LevelInfo, "new candidates"
		fields = append(fields, logx.Int("count", len(p.Candidates)))
	case eventbus.DeferPayload:
		msg = "scan deferred"
		fields = append(fields, logx.Int("attempt", p.Attempt), logx.String("reason", p.Reason))
	}
	e.log.Log(level, msg, fields...)

	if e.store == nil {
		return nil
	}
	var payload string
	if ev.Payload != nil {
		b, err := json.Marshal(ev.Payload)
		if err != nil {
			return err
		}
		payload = string(b)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return e.store.AppendEvent(ctx, storage.EventEntry{
		At:       ev.Time,
		Type:     string(ev.Type),
		JobID:    ev.JobID,
		SearchID: ev.SearchID,
		Payload:  payload,
	})
}
