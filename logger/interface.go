// Package logger is the structured logging used across txnest. Providers and
// the coordinator depend on the Logger interface; ZeroLogger backs it with
// zerolog and masks credentials before they are written.
package logger

import "time"

// Logger starts events at a level. WithFields derives a child that stamps
// every event, e.g. with the vendor or pool name.
type Logger interface {
	Debug() LogEvent
	Info() LogEvent
	Warn() LogEvent
	Error() LogEvent
	WithFields(fields map[string]any) Logger
}

// LogEvent accumulates fields and is written by Msg or Msgf. Events below
// the logger's level are discarded at no cost, so callers build them
// unconditionally.
type LogEvent interface {
	Str(key, value string) LogEvent
	Int(key string, value int) LogEvent
	Int64(key string, value int64) LogEvent
	Bool(key string, value bool) LogEvent
	Dur(key string, d time.Duration) LogEvent
	Interface(key string, i any) LogEvent
	Err(err error) LogEvent

	Msg(msg string)
	Msgf(format string, args ...any)
}
