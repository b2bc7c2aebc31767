// Package tui is the terminal dashboard: live circuit states and recent
// content, read straight from the breaker engine and history store.
package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/brodkin/clack-track-sub011/internal/breaker"
	"github.com/brodkin/clack-track-sub011/internal/config"
	"github.com/brodkin/clack-track-sub011/internal/history"
)

// Tab represents a TUI navigation tab.
type Tab int

const (
	TabDashboard Tab = iota
	TabCircuits
	TabHistory
)

var tabNames = []string{"Dashboard", "Circuits", "History"}
var tabTinyNames = []string{"D", "C", "H"}

// App is the root bubbletea model.
type App struct {
	cfg       *config.Config
	width     int
	height    int
	activeTab Tab
	dashboard DashboardModel
	circuits  CircuitsModel
	history   HistoryModel
}

// NewApp creates the TUI application.
func NewApp(cfg *config.Config, engine *breaker.Engine, hist *history.Store) *App {
	return &App{
		cfg:       cfg,
		dashboard: NewDashboardModel(engine, hist),
		circuits:  NewCircuitsModel(engine),
		history:   NewHistoryModel(hist),
	}
}

// Run starts the bubbletea program.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		a.dashboard.Init(),
		a.circuits.Init(),
		a.history.Init(),
	)
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		contentW := max(20, msg.Width-2)
		contentH := max(8, msg.Height-7)
		a.dashboard.SetSize(contentW, contentH)
		a.circuits.SetSize(contentW, contentH)
		a.history.SetSize(contentW, contentH)

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return a, tea.Quit
		case "1":
			a.activeTab = TabDashboard
		case "2":
			a.activeTab = TabCircuits
		case "3":
			a.activeTab = TabHistory
		case "tab":
			a.activeTab = (a.activeTab + 1) % Tab(len(tabNames))
		case "shift+tab":
			a.activeTab--
			if a.activeTab < 0 {
				a.activeTab = Tab(len(tabNames) - 1)
			}
		}
	}

	// Delegate to active view.
	switch a.activeTab {
	case TabDashboard:
		newDash, cmd := a.dashboard.Update(msg)
		a.dashboard = newDash.(DashboardModel)
		cmds = append(cmds, cmd)
	case TabCircuits:
		newCircuits, cmd := a.circuits.Update(msg)
		a.circuits = newCircuits.(CircuitsModel)
		cmds = append(cmds, cmd)
	case TabHistory:
		newHistory, cmd := a.history.Update(msg)
		a.history = newHistory.(HistoryModel)
		cmds = append(cmds, cmd)
	}

	return a, tea.Batch(cmds...)
}

// View implements tea.Model.
func (a *App) View() string {
	if a.width == 0 {
		return "Loading..."
	}

	header := a.renderHeader()
	nav := a.renderTabs()

	var content string
	switch a.activeTab {
	case TabDashboard:
		content = a.dashboard.View()
	case TabCircuits:
		content = a.circuits.View()
	case TabHistory:
		content = a.history.View()
	}

	contentBox := lipgloss.NewStyle().
		Width(a.width).
		Padding(0, 1).
		MaxHeight(max(1, a.height-4)).
		Render(content)

	status := lipgloss.NewStyle().
		Width(a.width).
		Padding(0, 1).
		Foreground(slateDim).
		Render("tab next  shift+tab prev  1-3 jump  r refresh  q quit")

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		nav,
		contentBox,
		status,
	)
}

func (a *App) renderHeader() string {
	row := lipgloss.JoinHorizontal(lipgloss.Left,
		titleStyle.Render("clacktrack"),
		"  ",
		dimStyle.Render("split-flap content daemon"),
		"  ",
		mutedBadgeStyle.Render(" "+tabNames[a.activeTab]+" "),
	)
	return lipgloss.NewStyle().
		BorderBottom(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(line).
		Width(a.width).
		Padding(0, 1).
		Render(row)
}

func (a *App) renderTabs() string {
	rendered := a.renderTabLabels(tabNames)
	maxWidth := max(10, a.width-2)
	if lipgloss.Width(rendered) > maxWidth {
		rendered = a.renderTabLabels(tabTinyNames)
	}

	return lipgloss.NewStyle().
		Width(a.width).
		Padding(0, 1).
		Foreground(slate).
		Render(rendered)
}

func (a *App) renderTabLabels(labels []string) string {
	parts := make([]string, 0, len(labels))
	for i, name := range labels {
		label := fmt.Sprintf("%d:%s", i+1, name)
		if Tab(i) == a.activeTab {
			parts = append(parts, lipgloss.NewStyle().Bold(true).Foreground(accent).Render(label))
		} else {
			parts = append(parts, dimStyle.Render(label))
		}
		if i < len(labels)-1 {
			parts = append(parts, dimStyle.Render("  ·  "))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Left, parts...)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
