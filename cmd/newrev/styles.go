// SPDX-License-Identifier: MPL-2.0

package cmd

import "github.com/charmbracelet/lipgloss"

// Palette shared by all CLI output, tuned for dark terminals.
const (
	ColorPrimary   = lipgloss.Color("#7C3AED")
	ColorMuted     = lipgloss.Color("#6B7280")
	ColorSuccess   = lipgloss.Color("#10B981")
	ColorError     = lipgloss.Color("#EF4444")
	ColorWarning   = lipgloss.Color("#F59E0B")
	ColorHighlight = lipgloss.Color("#3B82F6")
	ColorVerbose   = lipgloss.Color("#9CA3AF")
)

var (
	TitleStyle    = lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary)
	SubtitleStyle = lipgloss.NewStyle().Foreground(ColorMuted)
	SuccessStyle  = lipgloss.NewStyle().Foreground(ColorSuccess)
	ErrorStyle    = lipgloss.NewStyle().Bold(true).Foreground(ColorError)
	WarningStyle  = lipgloss.NewStyle().Foreground(ColorWarning)
	CmdStyle      = lipgloss.NewStyle().Foreground(ColorHighlight)
	VerboseStyle  = lipgloss.NewStyle().Foreground(ColorVerbose)

	// Event levels in streamed output.
	levelStyles = map[string]lipgloss.Style{
		"INFO":   lipgloss.NewStyle().Foreground(ColorHighlight),
		"STDOUT": lipgloss.NewStyle().Foreground(ColorMuted),
		"STDERR": lipgloss.NewStyle().Foreground(ColorWarning),
		"ERROR":  lipgloss.NewStyle().Bold(true).Foreground(ColorError),
	}

	renderTailStyle = lipgloss.NewStyle().Foreground(ColorVerbose)
	renderHintStyle = lipgloss.NewStyle().Foreground(ColorMuted).Italic(true)
)
