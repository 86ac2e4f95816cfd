package logger

import (
	"time"

	"github.com/rs/zerolog"
)

// LogEventAdapter adapts a zerolog event to LogEvent.
// A nil event (level filtered out) is safe to use; zerolog treats it as a no-op.
type LogEventAdapter struct {
	event  *zerolog.Event
	filter *SensitiveDataFilter
}

func (a *LogEventAdapter) next(e *zerolog.Event) LogEvent {
	return &LogEventAdapter{event: e, filter: a.filter}
}

// Msg sends the event with the given message.
func (a *LogEventAdapter) Msg(msg string) {
	a.event.Msg(msg)
}

// Msgf sends the event with a formatted message.
func (a *LogEventAdapter) Msgf(format string, args ...any) {
	a.event.Msgf(format, args...)
}

// Err attaches an error.
func (a *LogEventAdapter) Err(err error) LogEvent {
	return a.next(a.event.Err(err))
}

// Str attaches a string, masked when the key is sensitive.
func (a *LogEventAdapter) Str(key, value string) LogEvent {
	if a.filter != nil {
		value = a.filter.FilterString(key, value)
	}
	return a.next(a.event.Str(key, value))
}

// Int attaches an int.
func (a *LogEventAdapter) Int(key string, value int) LogEvent {
	return a.next(a.event.Int(key, value))
}

// Int64 attaches an int64.
func (a *LogEventAdapter) Int64(key string, value int64) LogEvent {
	return a.next(a.event.Int64(key, value))
}

// Bool attaches a bool.
func (a *LogEventAdapter) Bool(key string, value bool) LogEvent {
	return a.next(a.event.Bool(key, value))
}

// Dur attaches a duration.
func (a *LogEventAdapter) Dur(key string, d time.Duration) LogEvent {
	return a.next(a.event.Dur(key, d))
}

// Interface attaches an arbitrary value, masked when the key is sensitive.
func (a *LogEventAdapter) Interface(key string, i any) LogEvent {
	if a.filter != nil {
		i = a.filter.FilterValue(key, i)
	}
	return a.next(a.event.Interface(key, i))
}
