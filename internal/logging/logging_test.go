package logging

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestZerologLogger_ImplementsLogger(t *testing.T) {
	var _ Logger = New(zerolog.InfoLevel)
	var _ Logger = NewConsole(zerolog.DebugLevel)
}

func TestBasicLogger_ImplementsLogger(t *testing.T) {
	var _ Logger = NewBasicLogger()
}

func TestBasicLogger_WriteDoesNotPanicWithoutFields(t *testing.T) {
	l := NewBasicLogger()
	assert.NotPanics(t, func() {
		l.Info("hello")
		l.Error("boom", map[string]any{"nodeId": "A"})
	})
}
