// SPDX-License-Identifier: MPL-2.0

package main

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/ledgerworks/modkernel/internal/kernel"
)

// Color palette shared by all command output.
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
	// TitleStyle is for primary headers and section titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	// SubtitleStyle is for secondary headers and empty-section placeholders.
	SubtitleStyle = lipgloss.NewStyle().
			Foreground(ColorMuted)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	ErrorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorError)

	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)

	// CmdStyle is for module ids, hook points and other identifiers.
	CmdStyle = lipgloss.NewStyle().
			Foreground(ColorHighlight)

	VerboseStyle = lipgloss.NewStyle().
			Foreground(ColorVerbose)

	// tableHeaderStyle and tableCellStyle pad the plan tables.
	tableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(ColorPrimary).
				Padding(0, 1)

	tableCellStyle = lipgloss.NewStyle().
			Padding(0, 1)
)

// phaseStyle colors a lifecycle phase name.
func phaseStyle(phase kernel.Phase) lipgloss.Style {
	switch phase {
	case kernel.PhaseActive:
		return SuccessStyle
	case kernel.PhaseFailed:
		return ErrorStyle
	case kernel.PhaseEligible, kernel.PhaseInstalling, kernel.PhaseTearingDown:
		return WarningStyle
	default:
		return SubtitleStyle
	}
}
