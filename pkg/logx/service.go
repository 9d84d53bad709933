package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
	Alerts  AlertConfig
}

type FileConfig struct {
	Enabled bool
	Path    string // default ./scanwatch.log
}

// AlertConfig forwards lines at or above MinLevel (default error) to the AlertSink,
// at most RatePerSec per second.
type AlertConfig struct {
	Enabled    bool
	MinLevel   string
	RatePerSec int
}

// Service owns the log outputs. Loggers from Logger() follow every Apply.
type Service struct {
	mu      sync.Mutex
	console io.Writer
	file    *os.File
	alerts  *alerter

	root atomic.Pointer[zerolog.Logger]
}

// New builds the service and applies cfg.
func New(cfg Config) (*Service, Logger) {
	s := newService(os.Stdout)
	s.Apply(cfg)
	return s, s.Logger()
}

func newService(console io.Writer) *Service {
	s := &Service{console: console, alerts: newAlerter()}
	zl := zerolog.New(consoleWriter(console)).With().Timestamp().Logger()
	s.root.Store(&zl)
	return s
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

func (s *Service) current() zerolog.Logger { return *s.root.Load() }

// SetAlertSink sets where alert lines go. Without a sink they are dropped.
func (s *Service) SetAlertSink(sink AlertSink) { s.alerts.setSink(sink) }

// Apply rebuilds the outputs from cfg. The previous log file, if any, is closed.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	var outs []io.Writer
	if cfg.Console {
		outs = append(outs, consoleWriter(s.console))
	}
	if cfg.File.Enabled {
		if f, err := openLogFile(cfg.File.Path); err != nil {
			fmt.Fprintf(os.Stderr, "logx: %v\n", err)
		} else {
			s.file = f
			outs = append(outs, zerolog.SyncWriter(f))
		}
	}
	if cfg.Alerts.Enabled {
		s.alerts.configure(cfg.Alerts)
		outs = append(outs, s.alerts)
	} else {
		s.alerts.disable()
	}
	if len(outs) == 0 {
		outs = append(outs, consoleWriter(s.console))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(outs...)).
		Level(ParseLevel(cfg.Level, LevelInfo)).
		With().Timestamp().Logger()
	s.root.Store(&zl)
}

// Close stops alert forwarding and closes the log file.
func (s *Service) Close() error {
	s.alerts.close()

	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()
	if f == nil {
		return nil
	}
	return f.Close()
}

func openLogFile(path string) (*os.File, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = "./scanwatch.log"
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open log file %q", path)
	}
	return f, nil
}

func consoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:          w,
		TimeFormat:   timeFormat,
		FormatCaller: func(i any) string { s, _ := i.(string); return s },
	}
}
