package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/brodkin/clack-track-sub011/internal/breaker"
	"github.com/brodkin/clack-track-sub011/internal/history"
	"github.com/brodkin/clack-track-sub011/models"
)

// DashboardModel shows the overview: circuit summary and recent content.
type DashboardModel struct {
	engine   *breaker.Engine
	hist     *history.Store
	circuits []models.CircuitStatus
	recent   []models.ContentHistory
	width    int
	height   int
	lastLoad time.Time
	loading  bool
}

// dashLoadedMsg carries a loaded snapshot.
type dashLoadedMsg struct {
	circuits []models.CircuitStatus
	recent   []models.ContentHistory
}

// NewDashboardModel creates a DashboardModel.
func NewDashboardModel(engine *breaker.Engine, hist *history.Store) DashboardModel {
	return DashboardModel{engine: engine, hist: hist, loading: true}
}

func (d DashboardModel) Init() tea.Cmd {
	return d.loadCmd()
}

func (d DashboardModel) loadCmd() tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		circuits, _ := d.engine.StatusAll(ctx)
		recent, _ := d.hist.Recent(ctx, 10)
		return dashLoadedMsg{circuits: circuits, recent: recent}
	}
}

func (d DashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case dashLoadedMsg:
		d.circuits = msg.circuits
		d.recent = msg.recent
		d.loading = false
		d.lastLoad = time.Now()
		// Refresh every 5 seconds.
		return d, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return d.loadCmd()()
		})
	case tea.KeyMsg:
		if msg.String() == "r" {
			d.loading = true
			return d, d.loadCmd()
		}
	}
	return d, nil
}

func (d *DashboardModel) SetSize(w, h int) {
	d.width = w
	d.height = h
}

func (d DashboardModel) View() string {
	if d.loading && len(d.circuits) == 0 {
		return panelStyle.Width(max(20, d.width-2)).Render("Loading status...")
	}

	var masterOn, sleepOn bool
	var open, halfOpen int
	for _, c := range d.circuits {
		switch c.ID {
		case models.CircuitMaster:
			masterOn = c.State == models.CircuitOn
		case models.CircuitSleepMode:
			sleepOn = c.State == models.CircuitOn
		default:
			switch c.State {
			case models.CircuitOff:
				open++
			case models.CircuitHalfOpen:
				halfOpen++
			}
		}
	}

	cardW := 18
	if d.width >= 100 {
		cardW = 20
	}
	summary := lipgloss.JoinHorizontal(lipgloss.Top,
		renderSwitch("Master", masterOn, cardW),
		renderSwitch("Sleep Mode", sleepOn, cardW),
		renderCounter("Open", open, offStyle, cardW),
		renderCounter("Half Open", halfOpen, halfOpenStyle, cardW),
	)

	lineLimit := max(5, d.height-12)
	rows := ""
	for i, h := range d.recent {
		if i >= lineLimit {
			break
		}
		source := h.GeneratorID
		if h.Provider != "" {
			source += " via " + h.Provider
		}
		line := lipgloss.JoinHorizontal(lipgloss.Left,
			lipgloss.NewStyle().Width(10).Foreground(slate).Render(h.CreatedAt.Local().Format("15:04:05")),
			lipgloss.NewStyle().Width(26).Foreground(ink).Render(truncate(source, 24)),
			dimStyle.Render(truncate(h.Text, max(10, d.width-44))),
		)
		rows += line + "\n"
	}
	if len(d.recent) == 0 {
		rows = dimStyle.Render("No content yet. Run: clacktrack refresh\n")
	}

	updated := "never"
	if !d.lastLoad.IsZero() {
		updated = d.lastLoad.Format("15:04:05")
	}
	refreshInfo := lipgloss.JoinHorizontal(lipgloss.Left,
		keycapStyle.Render("r"),
		" ",
		dimStyle.Render("refresh"),
		"   ",
		dimStyle.Render("updated "+updated),
	)

	return lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.NewStyle().Padding(0, 1).Render(summary),
		panelStyle.Width(max(20, d.width-2)).Render(
			lipgloss.JoinVertical(lipgloss.Left,
				panelHeaderStyle.Render("Recent Content"),
				dimStyle.Render("Time      Generator                 Text"),
				rows,
				refreshInfo,
			),
		),
	)
}

func renderSwitch(label string, on bool, width int) string {
	value := offStyle.Render("OFF")
	if on {
		value = onStyle.Render("ON")
	}
	return boxStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Center,
			value,
			dimStyle.Render(strings.ToUpper(label)),
		),
	) + "  "
}

func renderCounter(label string, count int, style lipgloss.Style, width int) string {
	return boxStyle.Width(width).Render(
		lipgloss.JoinVertical(lipgloss.Center,
			style.Bold(true).Render(fmt.Sprintf("%d", count)),
			dimStyle.Render(strings.ToUpper(label)),
		),
	) + "  "
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	if limit <= 1 {
		return s[:limit]
	}
	return s[:limit-1] + "…"
}
