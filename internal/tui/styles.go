package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/slok/formbot/internal/model"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("69"))
	noticeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	promptStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("220"))

	statusRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	statusWaiting = lipgloss.NewStyle().Foreground(lipgloss.Color("208")).Bold(true)
	statusDone    = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	statusFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))

	logWarning = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	logError   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

func formatStatus(s model.RunStatus) string {
	switch s {
	case model.RunStatusWaitingForInput:
		return statusWaiting.Render(string(s))
	case model.RunStatusFormFilled, model.RunStatusCompleted:
		return statusDone.Render(string(s))
	case model.RunStatusError:
		return statusFailed.Render(string(s))
	}
	return statusRunning.Render(string(s))
}

func formatLogMessage(l model.LogEntry) string {
	switch l.Level {
	case model.LogLevelWarning:
		return logWarning.Render(l.Message)
	case model.LogLevelError:
		return logError.Render(l.Message)
	}
	return l.Message
}
