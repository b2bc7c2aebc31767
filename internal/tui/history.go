package tui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/brodkin/clack-track-sub011/internal/history"
	"github.com/brodkin/clack-track-sub011/models"
)

// HistoryModel lists recent content with votes. Up/down vote the selected
// row; the flap board is a household appliance and the votes steer future
// prompt tuning.
type HistoryModel struct {
	hist     *history.Store
	rows     []models.ContentHistory
	selected int
	width    int
	height   int
	loading  bool
}

type historyLoadedMsg struct{ rows []models.ContentHistory }

// NewHistoryModel creates a HistoryModel.
func NewHistoryModel(hist *history.Store) HistoryModel {
	return HistoryModel{hist: hist, loading: true}
}

func (h HistoryModel) Init() tea.Cmd {
	return h.loadCmd()
}

func (h HistoryModel) loadCmd() tea.Cmd {
	return func() tea.Msg {
		rows, _ := h.hist.Recent(context.Background(), 50)
		return historyLoadedMsg{rows: rows}
	}
}

func (h HistoryModel) voteCmd(id int64, delta int) tea.Cmd {
	return func() tea.Msg {
		_ = h.hist.Vote(context.Background(), id, delta)
		return h.loadCmd()()
	}
}

func (h HistoryModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case historyLoadedMsg:
		h.rows = msg.rows
		h.loading = false
		if h.selected >= len(h.rows) {
			h.selected = max(0, len(h.rows)-1)
		}
		return h, tea.Tick(10*time.Second, func(t time.Time) tea.Msg {
			return h.loadCmd()()
		})
	case tea.KeyMsg:
		switch msg.String() {
		case "r":
			h.loading = true
			return h, h.loadCmd()
		case "up", "k":
			if h.selected > 0 {
				h.selected--
			}
		case "down", "j":
			if h.selected < len(h.rows)-1 {
				h.selected++
			}
		case "+":
			if h.selected < len(h.rows) {
				return h, h.voteCmd(h.rows[h.selected].ID, 1)
			}
		case "-":
			if h.selected < len(h.rows) {
				return h, h.voteCmd(h.rows[h.selected].ID, -1)
			}
		}
	}
	return h, nil
}

func (h *HistoryModel) SetSize(w, ht int) {
	h.width = w
	h.height = ht
}

func (h HistoryModel) View() string {
	if h.loading && len(h.rows) == 0 {
		return panelStyle.Width(max(20, h.width-2)).Render("Loading history...")
	}

	lineLimit := max(5, h.height-8)
	rows := ""
	for i, row := range h.rows {
		if i >= lineLimit {
			break
		}
		marker := "  "
		style := dimStyle
		if i == h.selected {
			marker = "> "
			style = lipgloss.NewStyle().Foreground(ink)
		}
		votes := fmt.Sprintf("%+d", row.Votes)
		if row.Votes == 0 {
			votes = " 0"
		}
		rows += lipgloss.JoinHorizontal(lipgloss.Left,
			style.Render(marker),
			lipgloss.NewStyle().Width(10).Foreground(slate).Render(row.CreatedAt.Local().Format("Jan 2")),
			lipgloss.NewStyle().Width(14).Foreground(ink).Render(truncate(row.GeneratorID, 12)),
			lipgloss.NewStyle().Width(5).Foreground(accent).Render(votes),
			style.Render(truncate(row.Text, max(10, h.width-40))),
		) + "\n"
	}
	if len(h.rows) == 0 {
		rows = dimStyle.Render("No content history yet.\n")
	}

	legend := lipgloss.JoinHorizontal(lipgloss.Left,
		keycapStyle.Render("+"), dimStyle.Render(" upvote  "),
		keycapStyle.Render("-"), dimStyle.Render(" downvote  "),
		keycapStyle.Render("j/k"), dimStyle.Render(" move"),
	)

	return panelStyle.Width(max(20, h.width-2)).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			panelHeaderStyle.Render("Content History"),
			dimStyle.Render("  Date      Generator     Votes Text"),
			rows,
			legend,
		),
	)
}
