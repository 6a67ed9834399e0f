package alerting

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/gmsas95/careminder/internal/errors"
	"golang.org/x/term"
)

var (
	bannerStyles = map[Priority]lipgloss.Style{
		PriorityCritical: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF")).Background(lipgloss.Color("#C0392B")).Padding(0, 1),
		PriorityHigh:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#000000")).Background(lipgloss.Color("#F39C12")).Padding(0, 1),
		PriorityMedium:   lipgloss.NewStyle().Foreground(lipgloss.Color("#2980B9")).Padding(0, 1),
		PriorityLow:      lipgloss.NewStyle().Foreground(lipgloss.Color("#7F8C8D")).Padding(0, 1),
	}
	hintStyle = lipgloss.NewStyle().Faint(true)
)

// Console prints alert banners to a terminal
type Console struct {
	out     io.Writer
	fd      int
	mu      sync.Mutex
	enabled bool
	// interactive reports whether fd is attached to a terminal
	interactive func(fd int) bool
}

// NewConsole creates a console channel writing to stdout
func NewConsole(enabled bool) *Console {
	return &Console{
		out:         os.Stdout,
		fd:          int(os.Stdout.Fd()),
		enabled:     enabled,
		interactive: term.IsTerminal,
	}
}

// NewConsoleWriter creates a console channel over an arbitrary writer; it is
// always available.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{
		out:         w,
		enabled:     true,
		interactive: func(int) bool { return true },
	}
}

func (c *Console) Name() string      { return "console" }
func (c *Console) Kind() ChannelKind { return KindVisual }

func (c *Console) Available() bool {
	return c.enabled && c.interactive(c.fd)
}

func (c *Console) Deliver(ctx context.Context, d Delivery) error {
	if !c.Available() {
		return errors.ErrChannelUnavailable
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	style, ok := bannerStyles[d.Priority]
	if !ok {
		style = bannerStyles[PriorityLow]
	}

	label := string(d.Priority)
	if d.Reminder {
		label += " REMINDER"
	}
	line := style.Render(label) + " " + d.Message
	if d.Params.RequiresDismissal {
		line += " " + hintStyle.Render(fmt.Sprintf("(ack: %s)", d.AlertID))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintln(c.out, line)
	return err
}
