package natsserver

import "github.com/rs/zerolog"

// eventLogger routes nats-server log lines into the daemon's zerolog logger.
// Fatal lines are logged at error level; the daemon decides whether to exit.
type eventLogger struct {
	log zerolog.Logger
}

func newZerologAdapter(l zerolog.Logger) *eventLogger {
	return &eventLogger{log: l.With().Str("component", "nats").Logger()}
}

func (e *eventLogger) Noticef(format string, v ...any) { e.log.Info().Msgf(format, v...) }
func (e *eventLogger) Warnf(format string, v ...any)   { e.log.Warn().Msgf(format, v...) }
func (e *eventLogger) Fatalf(format string, v ...any)  { e.log.Error().Bool("fatal", true).Msgf(format, v...) }
func (e *eventLogger) Errorf(format string, v ...any)  { e.log.Error().Msgf(format, v...) }
func (e *eventLogger) Debugf(format string, v ...any)  { e.log.Debug().Msgf(format, v...) }
func (e *eventLogger) Tracef(format string, v ...any)  { e.log.Trace().Msgf(format, v...) }
