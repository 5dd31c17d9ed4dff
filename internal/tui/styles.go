// Package tui provides a live terminal dashboard for a kvs-tester batch.
//
// The TUI uses Bubble Tea for the application framework and Lipgloss for styling.
// It displays:
// - Batch progress and verdicts so far
// - The current test's lifecycle phase
// - Per-slot client progress
// - Client iteration latency percentiles and node kills
package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// =============================================================================
// Color Palette
// =============================================================================

// Colors based on a modern dark theme
var (
	colorPrimary   = lipgloss.Color("#7C3AED") // Purple
	colorSecondary = lipgloss.Color("#06B6D4") // Cyan

	colorSuccess = lipgloss.Color("#10B981") // Green
	colorWarning = lipgloss.Color("#F59E0B") // Amber
	colorError   = lipgloss.Color("#EF4444") // Red
	colorInfo    = lipgloss.Color("#3B82F6") // Blue

	colorText      = lipgloss.Color("#E5E7EB") // Light gray
	colorTextMuted = lipgloss.Color("#9CA3AF") // Medium gray
	colorTextDim   = lipgloss.Color("#6B7280") // Dark gray
	colorBorder    = lipgloss.Color("#374151") // Border gray
)

func fg(c lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(c)
}

func underlined(s lipgloss.Style) lipgloss.Style {
	return s.BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(colorBorder)
}

// =============================================================================
// Text Styles
// =============================================================================

var (
	mutedStyle = fg(colorTextMuted)
	dimStyle   = fg(colorTextDim)

	valueStyle     = fg(colorText).Bold(true)
	valueGoodStyle = fg(colorSuccess).Bold(true)
	valueBadStyle  = fg(colorError).Bold(true)
	valueWarnStyle = fg(colorWarning).Bold(true)
	valueInfoStyle = fg(colorInfo).Bold(true)

	labelStyle = mutedStyle.Width(20)
)

// =============================================================================
// Layout Styles
// =============================================================================

var (
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	headerStyle = fg(colorText).
			Background(colorPrimary).
			Bold(true).
			Padding(0, 1).
			MarginBottom(1)

	sectionHeaderStyle = underlined(fg(colorSecondary).Bold(true)).MarginTop(1)
	tableHeaderStyle   = underlined(fg(colorSecondary).Bold(true))

	footerStyle = mutedStyle.MarginTop(1)

	tableRowEvenStyle = fg(colorText)
	tableRowOddStyle  = fg(colorTextMuted)
)

// =============================================================================
// Progress Bar Styles
// =============================================================================

var (
	progressBarStyle      = fg(colorPrimary)
	progressBarEmptyStyle = fg(colorBorder)
	progressPercentStyle  = valueStyle
)

// =============================================================================
// Verdict and Outcome Indicators
// =============================================================================

var (
	verdictStyles = map[string]lipgloss.Style{
		"pass":  valueGoodStyle,
		"fail":  valueBadStyle,
		"error": valueWarnStyle,
	}
	verdictIcons = map[string]string{
		"pass":  "✓",
		"fail":  "✗",
		"error": "⚠",
	}
	slotStyles = map[string]lipgloss.Style{
		"success": valueGoodStyle,
		"failure": valueBadStyle,
		"timeout": valueWarnStyle,
	}
)

// GetStatusStyle returns the style for a test verdict.
func GetStatusStyle(status string) lipgloss.Style {
	if st, ok := verdictStyles[status]; ok {
		return st
	}
	return valueStyle
}

// GetStatusLabel returns a styled verdict with its indicator.
func GetStatusLabel(status string) string {
	icon, ok := verdictIcons[status]
	if !ok {
		return dimStyle.Render("· " + status)
	}
	return verdictStyles[status].Render(icon + " " + status)
}

// GetSlotStyle returns the style for a slot state: running or its outcome.
func GetSlotStyle(state string) lipgloss.Style {
	if st, ok := slotStyles[state]; ok {
		return st
	}
	return valueInfoStyle
}

// GetPhaseLabel returns a styled lifecycle phase name.
func GetPhaseLabel(phase string) string {
	switch phase {
	case "running":
		return valueGoodStyle.Render("● " + phase)
	case "coordinator_starting", "coordinator_warmup":
		return valueInfoStyle.Render("◌ " + phase)
	case "draining", "stopped":
		return valueWarnStyle.Render("◐ " + phase)
	case "", "idle":
		return dimStyle.Render("○ idle")
	default:
		return mutedStyle.Render("○ " + phase)
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// RenderKeyValue renders a label-value pair.
func RenderKeyValue(label string, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Left,
		labelStyle.Render(label+":"),
		valueStyle.Render(value),
	)
}

// RenderProgressBar renders a progress bar.
func RenderProgressBar(progress float64, width int) string {
	if width < 10 {
		width = 10
	}

	filled := int(progress * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}

	bar := progressBarStyle.Render(repeatChar('█', filled)) +
		progressBarEmptyStyle.Render(repeatChar('░', width-filled))

	percent := progressPercentStyle.Render(fmt.Sprintf(" %3.0f%%", progress*100))

	return bar + percent
}

func repeatChar(char rune, count int) string {
	if count <= 0 {
		return ""
	}
	result := make([]rune, count)
	for i := range result {
		result[i] = char
	}
	return string(result)
}
