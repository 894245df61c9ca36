// Package tui implements the live bus monitor.
package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tturner/servobus/internal/canif"
	"github.com/tturner/servobus/internal/cyphal"
	"github.com/tturner/servobus/internal/digitalservo"
)

// Source is where the monitor pulls complete transfers from.
// *canif.Interface satisfies it.
type Source interface {
	LoadFrames() error
	Drain(match func(canif.Frame) bool) []canif.Frame
	Stats() canif.Stats
	SessionID() string
}

// Options tunes the monitor.
type Options struct {
	Title    string
	Interval time.Duration
	MaxRows  int
	// Ports limits the table to these port ids. Other transfers are still
	// counted.
	Ports []uint16
}

func (o Options) withDefaults() Options {
	if o.Title == "" {
		o.Title = "servobus monitor"
	}
	if o.Interval <= 0 {
		o.Interval = 20 * time.Millisecond
	}
	if o.MaxRows <= 0 {
		o.MaxRows = 1000
	}
	return o
}

// writeClipboard is swapped out in tests.
var writeClipboard = clipboard.WriteAll

type tickMsg time.Time

type row struct {
	frame   canif.Frame
	summary string
}

// Model is the bubbletea model of the monitor.
type Model struct {
	src    Source
	opts   Options
	styles Styles

	rows   []row
	cursor int
	follow bool
	paused bool

	ports     map[string]int
	total     int
	loadErrs  int
	lastErr   error
	status    string
	width     int
	height    int
	showPorts bool
}

// NewModel builds a monitor over src.
func NewModel(src Source, opts Options) Model {
	return Model{
		src:       src,
		opts:      opts.withDefaults(),
		styles:    DefaultStyles,
		follow:    true,
		ports:     make(map[string]int),
		showPorts: true,
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.opts.Interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Init() tea.Cmd {
	return m.tick()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		if !m.paused {
			m = m.poll()
		}
		return m, m.tick()
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case " ", "p":
			m.paused = !m.paused
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
			m.follow = false
		case "down", "j":
			if m.cursor < len(m.rows)-1 {
				m.cursor++
			}
			m.follow = m.cursor == len(m.rows)-1
		case "g", "home":
			m.cursor = 0
			m.follow = false
		case "G", "end":
			m.cursor = max(len(m.rows)-1, 0)
			m.follow = true
		case "x":
			m.rows = nil
			m.cursor = 0
			m.follow = true
			m.status = "Cleared"
		case "t":
			m.showPorts = !m.showPorts
		case "c":
			m = m.copySelected()
		}
	}
	return m, nil
}

func (m Model) poll() Model {
	if err := m.src.LoadFrames(); err != nil {
		m.loadErrs++
		m.lastErr = err
	}
	for _, f := range m.src.Drain(func(canif.Frame) bool { return true }) {
		m.total++
		m.ports[portKey(f.Props)]++
		if !m.wanted(f) {
			continue
		}
		m.rows = append(m.rows, row{frame: f, summary: summarizePayload(f.Payload)})
	}
	if over := len(m.rows) - m.opts.MaxRows; over > 0 {
		m.rows = append([]row(nil), m.rows[over:]...)
		m.cursor = max(m.cursor-over, 0)
	}
	if m.follow && len(m.rows) > 0 {
		m.cursor = len(m.rows) - 1
	}
	return m
}

func (m Model) wanted(f canif.Frame) bool {
	if len(m.opts.Ports) == 0 {
		return true
	}
	for _, p := range m.opts.Ports {
		if f.Props.PortID == p {
			return true
		}
	}
	return false
}

func (m Model) copySelected() Model {
	if len(m.rows) == 0 {
		m.status = "Copy: nothing selected"
		return m
	}
	f := m.rows[m.cursor].frame
	text := fmt.Sprintf("%08X#%X", f.ID, f.Payload)
	if err := writeClipboard(text); err != nil {
		m.status = fmt.Sprintf("Copy failed: %v", err)
		return m
	}
	m.status = "Copied " + text
	return m
}

func (m Model) View() string {
	s := m.styles
	var b strings.Builder

	state := "live"
	if m.paused {
		state = "paused"
	}
	b.WriteString(s.Title.Render(m.opts.Title))
	fmt.Fprintf(&b, " %s %s  %s\n", StatusIcon(state, s), state, s.Dim.Render("session "+m.src.SessionID()))

	st := m.src.Stats()
	fmt.Fprintf(&b, "transfers %d  frames %d  integrity %s  orphans %d  expired %d  decode %s\n",
		m.total, st.Frames, m.countStyle(st.IntegrityFailures), st.OrphansDropped, st.Expired, m.countStyle(st.DecodeErrors))

	table := m.renderTable()
	if m.showPorts {
		table = lipgloss.JoinHorizontal(lipgloss.Top, table, " ", m.renderPorts())
	}
	b.WriteString(table)
	b.WriteString("\n")

	if m.lastErr != nil {
		b.WriteString(s.Error.Render(fmt.Sprintf("last error (%d): %v", m.loadErrs, m.lastErr)))
		b.WriteString("\n")
	}
	if m.status != "" {
		b.WriteString(s.Info.Render(m.status))
		b.WriteString("\n")
	}
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m Model) countStyle(n uint64) string {
	if n == 0 {
		return m.styles.Dim.Render("0")
	}
	return m.styles.Warning.Render(fmt.Sprintf("%d", n))
}

func (m Model) visibleRows() int {
	if m.height <= 0 {
		return 20
	}
	return max(m.height-10, 3)
}

func (m Model) renderTable() string {
	s := m.styles
	lines := []string{s.Header.Render(fmt.Sprintf("%-12s %-8s %5s %4s %4s %3s %4s  %s", "time", "kind", "port", "src", "dst", "tid", "len", "payload"))}
	if len(m.rows) == 0 {
		lines = append(lines, s.Dim.Render("(waiting for transfers)"))
		return s.BoxFocused.Render(strings.Join(lines, "\n"))
	}

	n := m.visibleRows()
	start := 0
	if m.cursor >= n {
		start = m.cursor - n + 1
	}
	end := min(start+n, len(m.rows))
	for i := start; i < end; i++ {
		line := m.renderRow(m.rows[i])
		if i == m.cursor {
			line = s.Cursor.Render(line)
		}
		lines = append(lines, line)
	}
	return s.BoxFocused.Render(strings.Join(lines, "\n"))
}

func (m Model) renderRow(r row) string {
	p := r.frame.Props
	dst := "-"
	if p.Kind != cyphal.KindMessage {
		dst = fmt.Sprintf("%d", p.Destination)
	}
	kind := fmt.Sprintf("%-8s", p.Kind)
	switch p.Kind {
	case cyphal.KindMessage:
		kind = m.styles.Message.Render(kind)
	case cyphal.KindRequest:
		kind = m.styles.Request.Render(kind)
	case cyphal.KindResponse:
		kind = m.styles.Response.Render(kind)
	}
	return fmt.Sprintf("%-12s %s %5d %4d %4s %3d %4d  %s",
		r.frame.Received.Format("15:04:05.000"), kind, p.PortID, p.Source, dst, p.TransferID, len(r.frame.Payload), r.summary)
}

func (m Model) renderPorts() string {
	s := m.styles
	keys := make([]string, 0, len(m.ports))
	for k := range m.ports {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	lines := []string{s.Header.Render("ports")}
	if len(keys) == 0 {
		lines = append(lines, s.Dim.Render("-"))
	}
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%-14s %6d", k, m.ports[k]))
	}
	return s.Box.Render(strings.Join(lines, "\n"))
}

func (m Model) renderFooter() string {
	s := m.styles
	keys := []struct{ key, hint string }{
		{"space", "pause"},
		{"↑/↓", "select"},
		{"G", "follow"},
		{"c", "copy"},
		{"x", "clear"},
		{"t", "ports"},
		{"q", "quit"},
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, s.KeyBinding.Render(k.key)+" "+s.KeyHint.Render(k.hint))
	}
	return s.Footer.Render(strings.Join(parts, "  "))
}

func portKey(p cyphal.Props) string {
	return fmt.Sprintf("%s/%d", p.Kind, p.PortID)
}

// summarizePayload renders a payload as a servo dict when it parses as one,
// as a status code when it is a single byte, and as hex otherwise.
func summarizePayload(payload []byte) string {
	var d digitalservo.Dict
	if err := d.UnmarshalBinary(payload); err == nil && printable(d.Key) {
		return d.String()
	}
	if len(payload) == 1 {
		return fmt.Sprintf("code 0x%02X", payload[0])
	}
	const maxHex = 16
	if len(payload) > maxHex {
		return fmt.Sprintf("%X…", payload[:maxHex])
	}
	return fmt.Sprintf("%X", payload)
}

func printable(s string) bool {
	for _, r := range s {
		if r < 0x21 || r > 0x7E {
			return false
		}
	}
	return s != ""
}

// Run starts the monitor and blocks until the user quits.
func Run(src Source, opts Options) error {
	program := tea.NewProgram(NewModel(src, opts), tea.WithAltScreen())
	_, err := program.Run()
	return err
}
