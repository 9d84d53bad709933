// Package logx is scanwatch's structured logger, a thin layer over zerolog.
//
// Console lines carry a short timestamp and file:line caller; the optional file
// sink writes JSON. A Service can be re-applied at runtime (config reload) and
// every Logger derived from it follows. Lines at or above a level can also be
// forwarded, rate limited, to an AlertSink such as the notifier.
package logx
