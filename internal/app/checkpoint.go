package app

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	logx "scanwatch/pkg/logx"
)

// restore loads the last checkpoint into the registry and the deduplicator.
func (e *Engine) restore(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	var errs []error
	searches, err := e.store.LoadSearches(ctx)
	if err != nil {
		errs = append(errs, errors.Wrap(err, "load searches"))
	} else if len(searches) > 0 {
		if err := e.reg.Restore(searches); err != nil {
			errs = append(errs, err)
		}
	}

	snap, err := e.store.LoadDedup(ctx)
	if err != nil {
		errs = append(errs, errors.Wrap(err, "load dedup"))
	} else if len(snap) > 0 {
		e.dedup.Restore(snap)
	}

	e.log.Info("checkpoint restored",
		logx.Int("searches", len(searches)),
		logx.Int("dedup_sets", len(snap)),
	)
	return errors.Join(errs...)
}

// checkpoint saves the registry and the dedup working sets.
func (e *Engine) checkpoint(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	start := time.Now()
	searches := e.reg.Snapshot()
	if err := e.store.SaveSearches(ctx, searches); err != nil {
		return errors.Wrap(err, "save searches")
	}
	if err := e.store.SaveDedup(ctx, e.dedup.Snapshot()); err != nil {
		return errors.Wrap(err, "save dedup")
	}
	e.log.Debug("checkpoint saved", logx.Int("searches", len(searches)), logx.Duration("took", time.Since(start)))
	return nil
}

func (e *Engine) checkpointLoop(ctx context.Context) error {
	t := time.NewTicker(e.rt.CheckpointInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if err := e.checkpoint(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				e.log.Warn("checkpoint failed", logx.Err(err))
			}
		}
	}
}
