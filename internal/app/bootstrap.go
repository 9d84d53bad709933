package app

import (
	"strings"
	"time"

	"scanwatch/internal/agents"
	"scanwatch/internal/agents/browseragent"
	"scanwatch/internal/agents/feedagent"
	"scanwatch/internal/agents/httpagent"
	"scanwatch/internal/config"
	"scanwatch/internal/notifier"
	"scanwatch/internal/scan/capture"
	"scanwatch/internal/scan/idle"
	"scanwatch/internal/scan/scheduler"
	logx "scanwatch/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	l := cfg.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File: logx.FileConfig{
			Enabled: l.File.Enabled,
			Path:    l.File.Path,
		},
		Alerts: logx.AlertConfig{
			Enabled:    l.Alerts.Enabled,
			MinLevel:   l.Alerts.MinLevel,
			RatePerSec: l.Alerts.RatePerSec,
		},
	}
}

func mapSchedulerConfig(rt *config.Runtime) scheduler.Config {
	return scheduler.Config{
		CaptureTimeout: rt.CaptureTimeout,
		Idle:           rt.Idle,
		Retry:          rt.Retry,
	}
}

// mapNotifierConfig returns a disabled config when the section is absent.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	if n == nil || !n.Enabled {
		return notifier.Config{}, nil
	}
	base, err := config.ParseDurationOrDefault("notifier.retry_base", n.RetryBase, 0)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, 0)
	if err != nil {
		return notifier.Config{}, err
	}
	window, err := config.ParseDurationOrDefault("notifier.dedup_window", n.DedupWindow, 24*time.Hour)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:       true,
		RatePerSec:    n.RatePerSec,
		RetryMax:      n.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		DedupWindow:   window,
	}, nil
}

func buildSinks(cfg *config.Config) ([]notifier.Sink, error) {
	n := cfg.Notifier
	if n == nil || !n.Enabled {
		return nil, nil
	}
	var sinks []notifier.Sink
	if t := n.Telegram; t != nil {
		s, err := notifier.NewTelegramSink(notifier.TelegramConfig{
			Token:    t.Token,
			ChatID:   t.ChatID,
			ThreadID: t.ThreadID,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if w := n.Webhook; w != nil {
		timeout, err := config.ParseDurationOrDefault("notifier.webhook.timeout", w.Timeout, 0)
		if err != nil {
			return nil, err
		}
		s, err := notifier.NewWebhookSink(notifier.WebhookConfig{URL: w.URL, Timeout: timeout})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

// buildAgents registers the built-in agents. The browser agent is returned so the
// engine can close it on shutdown; it is nil when disabled.
func buildAgents(cfg *config.Config, log logx.Logger) (*capture.Agents, *browseragent.Agent) {
	f := agents.NewFetcher(strings.TrimSpace(cfg.Agents.UserAgent))
	reg := capture.NewAgents()
	reg.Register(httpagent.Kind, httpagent.New(f))
	reg.Register(feedagent.Kind, feedagent.New(f))

	b := cfg.Agents.Browser
	if !b.Enabled {
		return reg, nil
	}
	headless := true
	if b.Headless != nil {
		headless = *b.Headless
	}
	ba := browseragent.New(browseragent.Config{
		RemoteURL: strings.TrimSpace(b.RemoteURL),
		Headless:  headless,
		Log:       log,
	})
	reg.Register(browseragent.Kind, ba)
	return reg, ba
}

// buildIdleSignal maps idle.signal onto a host signal. The tracker backs "activity".
func buildIdleSignal(rt *config.Runtime, tracker *idle.Tracker) idle.Signal {
	load := idle.LoadSignal{Threshold: rt.LoadThreshold}
	switch rt.IdleSignal {
	case "load":
		return load
	case "any":
		return idle.Any(tracker, load)
	case "none":
		return idle.NewStatic(false)
	default:
		return tracker
	}
}
