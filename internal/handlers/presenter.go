package handlers

import (
	"fmt"
	"io"
	"sync"
	"time"

	"chat-sync/internal/models"
	"chat-sync/internal/timeline"
	"chat-sync/internal/websocket"
)

// TerminalPresenter renders timeline changes as lines of text.
type TerminalPresenter struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

func NewTerminalPresenter(out io.Writer) *TerminalPresenter {
	return &TerminalPresenter{out: out, now: time.Now}
}

func (p *TerminalPresenter) TimelineChanged(c timeline.Change) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch c.Kind {
	case timeline.ChangeReset:
		if c.RoomID != "" {
			fmt.Fprintf(p.out, "--- %s ---\n", c.RoomID)
		}
	case timeline.ChangeReplaced:
		fmt.Fprintf(p.out, "--- %s: %d messages ---\n", c.RoomID, len(c.Messages))
		p.print(c.Messages)
	case timeline.ChangePrepended:
		if len(c.Messages) > 0 {
			fmt.Fprintf(p.out, "--- %d older messages ---\n", len(c.Messages))
			p.print(c.Messages)
		}
	case timeline.ChangeAppended:
		p.print(c.Messages)
	case timeline.ChangeUpdated:
		for _, m := range c.Messages {
			fmt.Fprintf(p.out, "~ %s\n", FormatMessage(m, p.now()))
		}
	}
}

func (p *TerminalPresenter) print(msgs []models.Message) {
	now := p.now()
	for _, m := range msgs {
		fmt.Fprintln(p.out, FormatMessage(m, now))
	}
}

// ScrollToLatest has nothing to do on a terminal; new lines are already at the bottom.
func (p *TerminalPresenter) ScrollToLatest(string) {}

func (p *TerminalPresenter) StatusChanged(s websocket.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s.RoomID == "" {
		return
	}
	fmt.Fprintf(p.out, "* %s: %s\n", s.RoomID, s.Status)
}

func (p *TerminalPresenter) Alert(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "!! %v\n", err)
}

func (p *TerminalPresenter) Printf(format string, args ...interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

// FormatMessage renders one timeline entry. Times from today show the
// clock; older ones show the date.
func FormatMessage(m models.Message, now time.Time) string {
	stamp := formatTimestamp(m.CreatedAt, now)
	switch m.Kind {
	case models.KindSystem:
		return fmt.Sprintf("[%s] * %s", stamp, m.Content)
	case models.KindError:
		return fmt.Sprintf("[%s] ! %s", stamp, m.Content)
	}
	line := fmt.Sprintf("[%s] %s: %s", stamp, m.AuthorName, m.Content)
	if m.Provisional() {
		line += " (sending)"
	} else {
		line += fmt.Sprintf("  #%s", m.ID)
	}
	return line
}

func formatTimestamp(t, now time.Time) string {
	local := t.In(now.Location())
	y1, m1, d1 := local.Date()
	y2, m2, d2 := now.Date()
	if y1 == y2 && m1 == m2 && d1 == d2 {
		return local.Format("15:04")
	}
	return local.Format("Jan 2")
}
