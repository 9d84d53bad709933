// Package storage checkpoints scanwatch state across restarts.
//
// It supports:
//   - Saved search snapshots (registry)
//   - Dedup working-set snapshots
//   - Append-only lifecycle event audit
//   - Notifier send marks (to avoid re-announcing after a restart)
package storage
