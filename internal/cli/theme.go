package cli

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/raphaelgruber/vserve/internal/models"
)

// Theme holds the color scheme for ticket output.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
	Warning    lipgloss.Color
	ProgressBg lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Error:      lipgloss.Color("#FF005F"), // red
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	Warning:    lipgloss.Color("#FFAF00"), // amber
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

func (t Theme) headerStyle() lipgloss.Style {
	return lipgloss.NewStyle().Bold(true).Underline(true)
}

// ticketStatusStyle colors a status: open amber, in progress blue, closed green.
func (t Theme) ticketStatusStyle(s models.TicketStatus) lipgloss.Style {
	switch s {
	case models.StatusOpen:
		return lipgloss.NewStyle().Foreground(t.Warning).Bold(true)
	case models.StatusInProgress:
		return t.statusStyle().Bold(true)
	case models.StatusClosed:
		return t.completedStyle()
	}
	return t.hintStyle()
}
