package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/holon-run/livetap/pkg/live"
	"github.com/holon-run/livetap/pkg/session"
)

type printerStyles struct {
	success lipgloss.Style
	info    lipgloss.Style
	err     lipgloss.Style
	status  lipgloss.Style
	viewers lipgloss.Style
	user    lipgloss.Style
	gift    lipgloss.Style
	muted   lipgloss.Style
}

func newPrinterStyles(r *lipgloss.Renderer) printerStyles {
	return printerStyles{
		success: r.NewStyle().Foreground(lipgloss.Color("green")).Bold(true),
		info:    r.NewStyle().Foreground(lipgloss.Color("cyan")).Bold(true),
		err:     r.NewStyle().Foreground(lipgloss.Color("red")).Bold(true),
		status:  r.NewStyle().Foreground(lipgloss.Color("yellow")),
		viewers: r.NewStyle().Foreground(lipgloss.Color("magenta")),
		user:    r.NewStyle().Foreground(lipgloss.Color("blue")).Bold(true),
		gift:    r.NewStyle().Foreground(lipgloss.Color("214")),
		muted:   r.NewStyle().Foreground(lipgloss.Color("240")),
	}
}

// printer renders notices, status transitions and events as one line each.
// Colour is dropped automatically when out is not a terminal.
type printer struct {
	mu     sync.Mutex
	out    io.Writer
	styles printerStyles

	statusChanged chan struct{}
}

func newPrinter(out io.Writer) *printer {
	return &printer{
		out:           out,
		styles:        newPrinterStyles(lipgloss.NewRenderer(out)),
		statusChanged: make(chan struct{}, 1),
	}
}

func (p *printer) Notify(n session.Notice) {
	style := p.styles.info
	switch n.Kind {
	case session.NoticeSuccess:
		style = p.styles.success
	case session.NoticeError:
		style = p.styles.err
	}
	p.println(style.Render(n.Title) + ": " + n.Message)
}

// StatusChanged runs under the controller lock; it only prints and signals.
func (p *printer) StatusChanged(prev, next live.Status) {
	p.println(p.styles.status.Render("status") + " " + string(prev) + " -> " + string(next))
	select {
	case p.statusChanged <- struct{}{}:
	default:
	}
}

func (p *printer) Event(ev live.Event) {
	s := p.styles
	switch ev.Name {
	case live.EventViewerCount:
		p.println(s.viewers.Render("viewers") + fmt.Sprintf(" %d", ev.ViewerCount))
	case live.EventChatMessage:
		p.println(s.user.Render(displayName(ev.Chat.Username, ev.Chat.UserID)) + ": " + ev.Chat.Content)
	case live.EventGift:
		p.println(s.gift.Render("gift") + fmt.Sprintf(" %s sent %s (%d diamonds)",
			displayName(ev.Gift.Username, ev.Gift.UserID), ev.Gift.Name, ev.Gift.DiamondValue))
	case live.EventUserJoined:
		p.println(s.muted.Render("joined") + " " + displayName(ev.User.Username, ev.User.UserID))
	}
}

func (p *printer) println(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, line)
}

func displayName(username, userID string) string {
	if username != "" {
		return username
	}
	if userID != "" {
		return userID
	}
	return "anonymous"
}
