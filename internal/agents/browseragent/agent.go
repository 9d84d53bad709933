// Package browseragent captures listings from script-rendered pages with a headless
// Chrome driven by Rod. Its selectors work like httpagent's and run on the rendered DOM.
package browseragent

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"

	"scanwatch/internal/agents"
	"scanwatch/internal/scan/capture"
	"scanwatch/internal/scan/errkind"
	"scanwatch/internal/scan/registry"
	logx "scanwatch/pkg/logx"
)

const Kind = "browser"

type Config struct {
	// RemoteURL is the DevTools WebSocket URL of an external Chrome.
	// Empty launches a local Chrome on first use.
	RemoteURL string
	Headless  bool
	// NavTimeout bounds navigation and the optional wait selector. Default 30s.
	NavTimeout time.Duration
	Log        logx.Logger
}

// Agent shares one browser across captures; each capture gets its own stealth tab.
//
// Options:
//   - wait: CSS selector to wait for before reading the DOM
//   - limit: maximum candidates per capture
type Agent struct {
	cfg Config
	log logx.Logger

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

func New(cfg Config) *Agent {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}
	log := cfg.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Agent{cfg: cfg, log: log.With(logx.String("comp", "agent.browser"))}
}

func (a *Agent) connect() (*rod.Browser, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, errors.New("browser agent closed")
	}
	if a.browser != nil {
		return a.browser, nil
	}

	wsURL := a.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().
			Headless(a.cfg.Headless).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, errors.Wrap(err, "launch chrome")
		}
		wsURL = u
		a.lnch = l
		a.log.Info("launched local chrome", logx.Bool("headless", a.cfg.Headless))
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		a.killLocked()
		return nil, errors.Wrap(err, "connect chrome")
	}
	a.browser = b
	return b, nil
}

// reset drops the current browser so the next capture reconnects.
func (a *Agent) reset(b *rod.Browser) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.browser != b {
		return
	}
	_ = b.Close()
	a.browser = nil
	a.killLocked()
}

func (a *Agent) killLocked() {
	if a.lnch != nil {
		a.lnch.Kill()
		a.lnch = nil
	}
}

func (a *Agent) Capture(ctx context.Context, src registry.SourceDescriptor) ([]capture.CandidateRaw, error) {
	if src.Selectors[agents.SelItem] == "" {
		return nil, agents.ErrNoItemSelector
	}
	base, err := url.Parse(strings.TrimSpace(src.URL))
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") {
		return nil, errkind.Newf(errkind.SourceUnavailable, "unsupported source url %q", src.URL)
	}

	b, err := a.connect()
	if err != nil {
		return nil, err
	}
	page, err := stealth.Page(b)
	if err != nil {
		// a dead browser shows up here first
		a.reset(b)
		return nil, errors.Wrap(err, "open tab")
	}
	defer func() { _ = page.Close() }()

	nctx, cancel := context.WithTimeout(ctx, a.cfg.NavTimeout)
	defer cancel()
	p := page.Context(nctx)

	if err := p.Navigate(base.String()); err != nil {
		return nil, errors.Wrapf(err, "navigate %s", base.Host)
	}
	if err := p.WaitLoad(); err != nil {
		a.log.Debug("wait load failed", logx.String("url", base.String()), logx.Err(err))
	}
	if sel := strings.TrimSpace(src.Options["wait"]); sel != "" {
		if _, err := p.Element(sel); err != nil {
			return nil, errors.Wrapf(err, "wait for %q", sel)
		}
	}

	html, err := p.HTML()
	if err != nil {
		return nil, errors.Wrap(err, "read dom")
	}
	return agents.ExtractHTML([]byte(html), base, src.Selectors, agents.IntOption(src.Options, "limit", 0))
}

// Close shuts the browser down. Later captures fail.
func (a *Agent) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	var err error
	if a.browser != nil {
		err = a.browser.Close()
		a.browser = nil
	}
	a.killLocked()
	return err
}
