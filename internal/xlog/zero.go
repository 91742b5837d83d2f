package xlog

import (
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// ZeroOptions adjusts the behavior of a logger instance backed by the
// `zerolog` library.
type ZeroOptions struct {
	// PrettyPrint renders messages in a human-friendly textual form
	// instead of structured JSON.
	PrettyPrint bool

	// Sink is the destination for produced messages. Defaults to
	// os.Stderr when not provided.
	Sink *os.File
}

// WithZero returns a Logger backed by the `zerolog` library.
func WithZero(opts ZeroOptions) Logger {
	sink := opts.Sink
	if sink == nil {
		sink = os.Stderr
	}
	handler := zerolog.New(sink).With().Timestamp().Logger()
	if opts.PrettyPrint {
		handler = handler.Output(zerolog.ConsoleWriter{Out: sink})
	}
	return &zeroLogger{log: handler}
}

type zeroLogger struct {
	mu     sync.Mutex
	log    zerolog.Logger
	fields Fields
}

func (z *zeroLogger) WithFields(fields Fields) Logger {
	merged := make(Fields, len(z.fields)+len(fields))
	for k, v := range z.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &zeroLogger{log: z.log, fields: merged}
}

func (z *zeroLogger) WithField(key string, value interface{}) Logger {
	return z.WithFields(Fields{key: value})
}

func (z *zeroLogger) event(ev *zerolog.Event) *zerolog.Event {
	z.mu.Lock()
	defer z.mu.Unlock()
	if len(z.fields) > 0 {
		ev = ev.Fields(map[string]interface{}(z.fields))
	}
	return ev
}

func (z *zeroLogger) Debug(args ...interface{}) {
	z.event(z.log.Debug()).Msg(fmt.Sprint(args...))
}

func (z *zeroLogger) Debugf(format string, args ...interface{}) {
	z.event(z.log.Debug()).Msgf(format, args...)
}

func (z *zeroLogger) Info(args ...interface{}) {
	z.event(z.log.Info()).Msg(fmt.Sprint(args...))
}

func (z *zeroLogger) Infof(format string, args ...interface{}) {
	z.event(z.log.Info()).Msgf(format, args...)
}

func (z *zeroLogger) Warning(args ...interface{}) {
	z.event(z.log.Warn()).Msg(fmt.Sprint(args...))
}

func (z *zeroLogger) Warningf(format string, args ...interface{}) {
	z.event(z.log.Warn()).Msgf(format, args...)
}

func (z *zeroLogger) Error(args ...interface{}) {
	z.event(z.log.Error()).Msg(fmt.Sprint(args...))
}

func (z *zeroLogger) Errorf(format string, args ...interface{}) {
	z.event(z.log.Error()).Msgf(format, args...)
}
