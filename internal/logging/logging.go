// Package logging provides a small Logger interface with zerolog and
// stdlib-log implementations. The engine packages (runner, activity,
// observability) take a zerolog.Logger directly rather than this
// interface. The contract matches the teacher's own BasicLogger contract
// (internal/workflow/core/engine/logger.go) while swapping its
// stdlib-`log` backend for zerolog.
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// Logger is the structured logging contract the engine packages
// depend on. Fields are passed as loosely-typed maps, matching the
// teacher's BasicLogger signature, rather than zerolog's own
// chained-call style, so call sites don't need to import zerolog
// directly.
type Logger interface {
	Debug(msg string, fields ...map[string]any)
	Info(msg string, fields ...map[string]any)
	Warn(msg string, fields ...map[string]any)
	Error(msg string, fields ...map[string]any)
}

// ZerologLogger is the production Logger implementation, writing
// structured JSON (or console-pretty, depending on how log is built)
// through zerolog.
type ZerologLogger struct {
	log zerolog.Logger
}

// New builds a ZerologLogger writing JSON to stdout at the given
// minimum level.
func New(level zerolog.Level) *ZerologLogger {
	return &ZerologLogger{log: zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()}
}

// NewConsole builds a ZerologLogger writing human-readable console
// output, for local development.
func NewConsole(level zerolog.Level) *ZerologLogger {
	return &ZerologLogger{log: zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).Level(level).With().Timestamp().Logger()}
}

func (l *ZerologLogger) Debug(msg string, fields ...map[string]any) {
	withFields(l.log.Debug(), fields).Msg(msg)
}

func (l *ZerologLogger) Info(msg string, fields ...map[string]any) {
	withFields(l.log.Info(), fields).Msg(msg)
}

func (l *ZerologLogger) Warn(msg string, fields ...map[string]any) {
	withFields(l.log.Warn(), fields).Msg(msg)
}

func (l *ZerologLogger) Error(msg string, fields ...map[string]any) {
	withFields(l.log.Error(), fields).Msg(msg)
}

func withFields(e *zerolog.Event, fields []map[string]any) *zerolog.Event {
	for _, fieldMap := range fields {
		for k, v := range fieldMap {
			e = e.Interface(k, v)
		}
	}
	return e
}
