package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/zhouzirui/ligochat/internal/model/chat"
	"github.com/zhouzirui/ligochat/internal/model/view"
)

var (
	colorPrimary = lipgloss.Color("#e02f6d")
	colorOther   = lipgloss.Color("#6B6B6B")
	colorJoin    = lipgloss.Color("#32CD32")
	colorLeave   = lipgloss.Color("#FF4500")
	colorMuted   = lipgloss.Color("#8A8A8A")
	colorWarn    = lipgloss.Color("#E5A50A")
	colorText    = lipgloss.Color("#FFFFFF")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorPrimary)
	mutedStyle = lipgloss.NewStyle().Foreground(colorMuted)
	helpStyle  = lipgloss.NewStyle().Foreground(colorMuted).Italic(true)
	errorStyle = lipgloss.NewStyle().Foreground(colorLeave)

	senderStyle = lipgloss.NewStyle().Bold(true)
	avatarStyle = lipgloss.NewStyle().Bold(true).Foreground(colorText).Padding(0, 1)
	bubbleStyle = lipgloss.NewStyle().Foreground(colorText).Padding(0, 1)

	bannerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorWarn).
			Padding(0, 1)
	bannerTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorWarn)

	inputStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(colorOther).
			Padding(0, 1)
)

func statusStyle(s chat.Status) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)
	switch s {
	case chat.StatusConnected:
		return base.Foreground(colorJoin)
	case chat.StatusFailed:
		return base.Foreground(colorLeave)
	case chat.StatusDisconnected:
		return base.Foreground(colorMuted)
	default:
		return base.Foreground(colorWarn)
	}
}

func noticeStyle(t view.Tone) lipgloss.Style {
	if t == view.ToneLeave {
		return lipgloss.NewStyle().Foreground(colorLeave)
	}
	return lipgloss.NewStyle().Foreground(colorJoin)
}

func bubbleColor(self bool) lipgloss.Color {
	if self {
		return colorPrimary
	}
	return colorOther
}
