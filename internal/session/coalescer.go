package session

import (
	"fmt"
	"strings"
)

// Coalescer merges consecutive tool-use events into one summary line. Tool
// names are withheld until text arrives or the stream ends, so a burst of
// tool calls renders as a single line in the transcript.
type Coalescer struct {
	pending []string
}

// NewCoalescer returns an empty Coalescer.
func NewCoalescer() *Coalescer {
	return &Coalescer{}
}

// Offer feeds one event and returns the chunks it releases, in order.
func (c *Coalescer) Offer(ev Event) []string {
	c.pending = append(c.pending, ev.Tools...)
	if ev.Kind != EventText {
		return nil
	}

	chunks := c.Flush()
	return append(chunks, ev.Text)
}

// Flush releases the pending tool summary, if any.
func (c *Coalescer) Flush() []string {
	if len(c.pending) == 0 {
		return nil
	}
	summary := FormatTools(c.pending)
	c.pending = nil
	return []string{summary}
}

// Pending reports how many tool names are waiting to be flushed.
func (c *Coalescer) Pending() int {
	return len(c.pending)
}

// FormatTools renders tool names as a standalone transcript line.
func FormatTools(names []string) string {
	if len(names) == 1 {
		return fmt.Sprintf("\n[Using tool: %s]\n", names[0])
	}
	return fmt.Sprintf("\n[Tools: %s]\n", strings.Join(names, ", "))
}
