package config

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"

	logx "scanwatch/pkg/logx"
)

// Watch reloads the config whenever its file changes, until ctx is done. Bursts of
// events within the debounce window cause one reload. The parent directory is
// watched so editors that replace the file by rename are seen too.
//
// Watch returns an error when the watcher cannot be created or breaks; callers are
// expected to restart it.
func (m *ConfigManager) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "config watch")
	}
	defer func() { _ = w.Close() }()

	dir, name := filepath.Dir(m.path), filepath.Base(m.path)
	if err := w.Add(dir); err != nil {
		return errors.Wrapf(err, "config watch %s", dir)
	}
	m.log.Debug("config watch started", logx.String("dir", dir), logx.String("file", name))

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()
	pending := func() {
		debounce.Reset(m.debounce)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("config watch: event channel closed")
			}
			if strings.EqualFold(filepath.Base(ev.Name), name) && ev.Op != 0 {
				pending()
			}

		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("config watch: error channel closed")
			}
			switch {
			case errors.Is(err, fsnotify.ErrEventOverflow):
				m.log.Warn("config watch overflow; reloading", logx.Err(err))
				pending()
			case errors.Is(err, fsnotify.ErrClosed):
				return errors.Wrap(err, "config watch")
			case err != nil:
				m.log.Warn("config watch error", logx.Err(err))
			}

		case <-debounce.C:
			if _, err := m.Reload(ctx); err != nil {
				m.log.Warn("config reload failed", logx.String("path", m.path), logx.Err(err))
			}
		}
	}
}
