package logging

import (
	"fmt"
	"log"
	"os"
	"time"
)

// BasicLogger is a plain stdlib-`log`-backed Logger, kept around for
// tests and small tools that don't want zerolog's JSON output cluttering
// a terminal.
type BasicLogger struct {
	logger *log.Logger
}

// NewBasicLogger builds a BasicLogger writing to stdout.
func NewBasicLogger() *BasicLogger {
	return &BasicLogger{logger: log.New(os.Stdout, "", log.LstdFlags|log.Lmicroseconds)}
}

func (b *BasicLogger) Debug(msg string, fields ...map[string]any) { b.write("DEBUG", msg, fields) }
func (b *BasicLogger) Info(msg string, fields ...map[string]any)  { b.write("INFO", msg, fields) }
func (b *BasicLogger) Warn(msg string, fields ...map[string]any)  { b.write("WARN", msg, fields) }
func (b *BasicLogger) Error(msg string, fields ...map[string]any) { b.write("ERROR", msg, fields) }

func (b *BasicLogger) write(level, msg string, fields []map[string]any) {
	fieldStr := ""
	if len(fields) > 0 {
		combined := make(map[string]any)
		for _, m := range fields {
			for k, v := range m {
				combined[k] = v
			}
		}
		fieldStr = fmt.Sprintf(" %v", combined)
	}
	b.logger.Println(fmt.Sprintf("[%s] [%s] %s%s", time.Now().Format("2006-01-02 15:04:05.000000"), level, msg, fieldStr))
}
