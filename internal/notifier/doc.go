// Package notifier announces new candidates to operators.
//
// The service subscribes to candidates_found on the event bus and turns each event
// into one short message. Messages go through a bounded queue, a token bucket rate
// limit and per-sink retry with backoff before reaching a Sink (Telegram, webhook).
//
// # Dedup
//
// A message key is derived from the search and the candidate fingerprints. Within
// DedupWindow a key is sent once. Keys are also written as storage marks when a
// store is configured, so a restart does not re-announce the same batch.
//
// # Alerts
//
// Service implements logx.AlertSink so warn/error log lines can be forwarded through
// the same sinks.
package notifier
