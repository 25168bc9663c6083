package event_test

import (
	"bytes"
	"github.com/jt05610/flowchem/event"
	"github.com/stretchr/testify/assert"
	"strings"
	"testing"
	"time"
)

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	c := event.NewConsole(&buf, true)
	c.Emit(event.Event{Elapsed: 1500 * time.Millisecond, Component: "pump", Kind: event.RateChanged, Detail: "0.5 mL/min"})
	c.Emit(event.Event{Elapsed: 2 * time.Second, Component: "pump", Kind: event.Stopped})
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 2)
	assert.Equal(t, "      1.5s rate-changed pump 0.5 mL/min", lines[0])
	assert.Equal(t, "        2s stopped      pump", lines[1])
	assert.NotContains(t, buf.String(), "\x1b[")
}
