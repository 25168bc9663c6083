package event

import (
	"github.com/fatih/color"
	"io"
	"sync"
	"time"
)

var kindColors = map[Kind]color.Attribute{
	Started:     color.FgGreen,
	RateChanged: color.FgCyan,
	Stopped:     color.FgYellow,
	Error:       color.FgRed,
	Reading:     color.FgMagenta,
}

// Console prints one colored line per event.
type Console struct {
	mu     sync.Mutex
	w      io.Writer
	colors map[Kind]*color.Color
	plain  *color.Color
}

// NewConsole writes to w. Colors are disabled when plain is set.
func NewConsole(w io.Writer, plain bool) *Console {
	c := &Console{
		w:      w,
		colors: make(map[Kind]*color.Color, len(kindColors)),
		plain:  color.New(color.Faint),
	}
	for k, attr := range kindColors {
		c.colors[k] = color.New(attr, color.Bold)
	}
	if plain {
		c.plain.DisableColor()
		for _, col := range c.colors {
			col.DisableColor()
		}
	}
	return c
}

func (c *Console) Emit(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = c.plain.Fprintf(c.w, "%10s ", e.Elapsed.Round(time.Millisecond))
	col, ok := c.colors[e.Kind]
	if !ok {
		col = c.plain
	}
	_, _ = col.Fprintf(c.w, "%-12s", e.Kind)
	if e.Detail == "" {
		_, _ = io.WriteString(c.w, " "+e.Component+"\n")
		return
	}
	_, _ = io.WriteString(c.w, " "+e.Component+" "+e.Detail+"\n")
}
