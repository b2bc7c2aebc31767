package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/brodkin/clack-track-sub011/internal/breaker"
	"github.com/brodkin/clack-track-sub011/models"
)

// CircuitsModel lists every circuit with its live breaker state.
type CircuitsModel struct {
	engine   *breaker.Engine
	circuits []models.CircuitStatus
	width    int
	height   int
	loading  bool
}

type circuitsLoadedMsg struct{ circuits []models.CircuitStatus }

// NewCircuitsModel creates a CircuitsModel.
func NewCircuitsModel(engine *breaker.Engine) CircuitsModel {
	return CircuitsModel{engine: engine, loading: true}
}

func (c CircuitsModel) Init() tea.Cmd {
	return c.loadCmd()
}

func (c CircuitsModel) loadCmd() tea.Cmd {
	return func() tea.Msg {
		circuits, _ := c.engine.StatusAll(context.Background())
		return circuitsLoadedMsg{circuits: circuits}
	}
}

func (c CircuitsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case circuitsLoadedMsg:
		c.circuits = msg.circuits
		c.loading = false
		return c, tea.Tick(5*time.Second, func(t time.Time) tea.Msg {
			return c.loadCmd()()
		})
	case tea.KeyMsg:
		if msg.String() == "r" {
			c.loading = true
			return c, c.loadCmd()
		}
	}
	return c, nil
}

func (c *CircuitsModel) SetSize(w, h int) {
	c.width = w
	c.height = h
}

func (c CircuitsModel) View() string {
	if c.loading && len(c.circuits) == 0 {
		return panelStyle.Width(max(20, c.width-2)).Render("Loading circuits...")
	}

	rows := ""
	for _, circuit := range c.circuits {
		state := stateStyle(string(circuit.State)).Render(string(circuit.State))
		gate := offStyle.Render("blocked")
		if circuit.CanAttempt {
			gate = onStyle.Render("allowed")
		}
		detail := fmt.Sprintf("failures %d/%d", circuit.FailureCount, circuit.FailureThreshold)
		if circuit.Type == models.CircuitManual {
			detail = "manual switch"
		} else if circuit.ResetAt != nil {
			detail = "retry at " + circuit.ResetAt.Local().Format("15:04:05")
		}
		rows += lipgloss.JoinHorizontal(lipgloss.Left,
			lipgloss.NewStyle().Width(20).Foreground(ink).Render(circuit.ID),
			lipgloss.NewStyle().Width(12).Render(state),
			lipgloss.NewStyle().Width(10).Render(gate),
			dimStyle.Render(detail),
		) + "\n"
	}

	return panelStyle.Width(max(20, c.width-2)).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			panelHeaderStyle.Render("Circuits"),
			dimStyle.Render("Circuit             State       Gate      Detail"),
			rows,
		),
	)
}
