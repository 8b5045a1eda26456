package scheduler

import (
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

type cronLogger struct {
	logger zerolog.Logger
}

// NewCronLogger routes robfig/cron's internal logging into zerolog.
func NewCronLogger(logger zerolog.Logger) cron.Logger {
	return &cronLogger{logger: logger.With().Str("component", "cron").Logger()}
}

func withKeyvals(event *zerolog.Event, keyvals ...interface{}) *zerolog.Event {
	if len(keyvals)%2 != 0 {
		keyvals = append(keyvals, "MISSING_VALUE")
	}
	for i := 0; i < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = "INVALID_KEY"
		}
		event = event.Interface(key, keyvals[i+1])
	}
	return event
}

// Info is used by cron for routine scheduling chatter, so it logs at debug.
func (l *cronLogger) Info(msg string, keyvals ...interface{}) {
	withKeyvals(l.logger.Debug(), keyvals...).Msg(msg)
}

func (l *cronLogger) Error(err error, msg string, keyvals ...interface{}) {
	withKeyvals(l.logger.Error().Err(err), keyvals...).Msg(msg)
}
