package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/auditstream/internal/events"
)

const (
	maxRecent      = 50
	healthInterval = 5 * time.Second
	reconnectDelay = 3 * time.Second
)

// outcome mirrors the payload the dispatcher publishes.
type outcome struct {
	EventID      string   `json:"event_id"`
	Action       string   `json:"action"`
	Destinations int      `json:"destinations"`
	Failed       []string `json:"failed"`
	Error        string   `json:"error"`
}

// Counters aggregates dispatch outcomes seen on the stream.
type Counters struct {
	Streamed int
	Failed   int
	Rejected int
	// ByDestination counts failures per destination id.
	ByDestination map[string]int
}

// Model is the bubbletea model for the watch TUI.
type Model struct {
	ctx    context.Context
	cancel context.CancelFunc
	apiURL string
	apiKey string

	width  int
	height int

	health    healthMsg
	connected bool
	lastError string
	lastID    int64

	counters Counters
	recent   []events.Event

	spinner spinner.Model
	table   table.Model
	theme   Theme

	feed chan events.Event
}

// New creates a watch model for the API at apiURL.
func New(apiURL, apiKey string) *Model {
	ctx, cancel := context.WithCancel(context.Background())
	theme := NewDefaultTheme()

	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "TIME", Width: 8},
			{Title: "TYPE", Width: 20},
			{Title: "ACTION", Width: 24},
			{Title: "DETAIL", Width: 40},
		}),
		table.WithHeight(12),
		table.WithFocused(false),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).BorderBottom(true)
	t.SetStyles(styles)

	return &Model{
		ctx:      ctx,
		cancel:   cancel,
		apiURL:   strings.TrimRight(apiURL, "/"),
		apiKey:   apiKey,
		counters: Counters{ByDestination: map[string]int{}},
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(theme.Changed)),
		table:    t,
		theme:    theme,
		feed:     make(chan events.Event, 128),
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		subscribe(m.ctx, m.apiURL, m.apiKey, 0, m.feed),
		receive(m.feed),
		fetchHealth(m.apiURL),
		m.spinner.Tick,
	)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.cancel()
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(max(msg.Width-6, 20))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case eventMsg:
		m.apply(events.Event(msg))
		return m, receive(m.feed)

	case healthMsg:
		m.health = msg
		m.connected = true
		m.lastError = ""
		return m, tea.Tick(healthInterval, func(time.Time) tea.Msg { return fetchHealth(m.apiURL)() })

	case disconnectedMsg:
		m.connected = false
		m.lastError = "event stream disconnected, reconnecting"
		return m, tea.Tick(reconnectDelay, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, subscribe(m.ctx, m.apiURL, m.apiKey, m.lastID, m.feed)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(healthInterval, func(time.Time) tea.Msg { return fetchHealth(m.apiURL)() })
	}
	return m, nil
}

// apply folds one stream event into the model.
func (m *Model) apply(ev events.Event) {
	m.connected = true
	m.lastError = ""
	if ev.ID > m.lastID {
		m.lastID = ev.ID
	}

	var o outcome
	_ = json.Unmarshal(ev.Data, &o)
	switch ev.Type {
	case events.TypeStreamed:
		m.counters.Streamed++
	case events.TypeFailed:
		m.counters.Failed++
		for _, id := range o.Failed {
			m.counters.ByDestination[id]++
		}
	case events.TypeRejected:
		m.counters.Rejected++
	}

	m.recent = append([]events.Event{ev}, m.recent...)
	if len(m.recent) > maxRecent {
		m.recent = m.recent[:maxRecent]
	}
	m.table.SetRows(m.rows())
}

func (m *Model) rows() []table.Row {
	rows := make([]table.Row, 0, len(m.recent))
	for _, ev := range m.recent {
		var o outcome
		_ = json.Unmarshal(ev.Data, &o)
		rows = append(rows, table.Row{
			ev.At.Local().Format("15:04:05"),
			ev.Type,
			o.Action,
			describe(ev, o),
		})
	}
	return rows
}

func describe(ev events.Event, o outcome) string {
	switch {
	case len(o.Failed) > 0:
		return "failed: " + strings.Join(o.Failed, ", ")
	case o.Error != "":
		return truncate(o.Error, 40)
	case ev.Type == events.TypeStreamed:
		return fmt.Sprintf("%d destination(s)", o.Destinations)
	default:
		return truncate(string(ev.Data), 40)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// Counters returns the outcome counters seen so far.
func (m *Model) Counters() Counters { return m.counters }

func (m *Model) View() string {
	if m.width == 0 {
		return "Connecting to " + m.apiURL + "..."
	}
	inner := m.width - 4

	status := m.theme.OK.Render("CONNECTED")
	if !m.connected {
		status = m.theme.Failed.Render("DISCONNECTED")
	}
	header := lipgloss.JoinVertical(lipgloss.Left,
		m.theme.Title.Render("AUDITSTREAM WATCH "+m.spinner.View()),
		fmt.Sprintf(" %s  up %s  in flight %d/%d",
			status,
			time.Duration(m.health.UptimeSeconds)*time.Second,
			m.health.InFlight, m.health.Limit),
		fmt.Sprintf(" %s  %s  %s",
			m.theme.OK.Render(fmt.Sprintf("streamed %d", m.counters.Streamed)),
			m.theme.Failed.Render(fmt.Sprintf("failed %d", m.counters.Failed)),
			m.theme.Rejected.Render(fmt.Sprintf("rejected %d", m.counters.Rejected))),
	)

	parts := []string{
		m.theme.Border.Width(inner).Render(header),
		m.theme.Border.Width(inner).Render(m.table.View()),
	}
	if len(m.counters.ByDestination) > 0 {
		parts = append(parts, m.theme.Border.Width(inner).Render(m.failingDestinations()))
	}
	if m.lastError != "" {
		parts = append(parts, m.theme.Failed.Render(" ! "+m.lastError))
	}
	parts = append(parts, m.theme.Dim.Render(" [q] quit"))

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

func (m *Model) failingDestinations() string {
	lines := []string{m.theme.Title.Render("FAILING DESTINATIONS")}
	for id, n := range m.counters.ByDestination {
		lines = append(lines, fmt.Sprintf("  %-36s %d", id, n))
	}
	return strings.Join(lines, "\n")
}
