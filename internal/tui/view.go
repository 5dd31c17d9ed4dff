package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-kvs-tester/internal/stats"
	"github.com/randomizedcoder/go-kvs-tester/internal/supervisor"
)

// recentVerdicts is how many finished tests the summary view lists.
const recentVerdicts = 8

// =============================================================================
// Main View Rendering
// =============================================================================

// renderSummaryView renders the main dashboard.
func (m Model) renderSummaryView() string {
	var sections []string

	sections = append(sections, m.renderHeader())
	sections = append(sections, m.renderProgress())

	if m.snap != nil {
		sections = append(sections, m.renderCurrentTest())
		if len(m.snap.Results) > 0 {
			sections = append(sections, m.renderVerdicts())
		}
		if m.snap.TotalIterations > 0 {
			sections = append(sections, m.renderIterations())
		}
	}

	sections = append(sections, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderSlotView renders the per-slot table of the current test.
func (m Model) renderSlotView() string {
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.renderSlotTable(),
		m.renderFooter(),
	)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	test := "-"
	if m.snap != nil && m.snap.Current != nil {
		test = fmt.Sprintf("%d/%d", m.snap.Current.Run, m.TotalTests())
	}

	header := fmt.Sprintf(
		" kvs-tester │ %s │ Test: %s │ Elapsed: %s ",
		m.mode,
		test,
		stats.FormatDuration(m.Elapsed()),
	)

	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Batch Progress
// =============================================================================

func (m Model) renderProgress() string {
	barWidth := m.width - 30
	if barWidth < 20 {
		barWidth = 20
	}
	progressBar := RenderProgressBar(m.Progress(), barWidth)

	var status string
	switch {
	case m.snap == nil:
		status = dimStyle.Render("Waiting for batch...")
	case m.snap.Build == "error":
		status = valueBadStyle.Render("✗ Build failed")
	case m.snap.Build == "":
		status = valueInfoStyle.Render("Building...")
	case m.Completed() >= m.TotalTests():
		status = valueGoodStyle.Render(fmt.Sprintf("✓ All %d tests finished", m.TotalTests()))
	default:
		status = valueInfoStyle.Render(fmt.Sprintf("Running... %d/%d done", m.Completed(), m.TotalTests()))
	}

	rows := []string{
		sectionHeaderStyle.Render("Batch Progress"),
		progressBar,
		status,
	}
	if m.snap != nil {
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Left,
			valueGoodStyle.Render(fmt.Sprintf("%d passed", m.snap.Passed)),
			mutedStyle.Render("  "),
			valueBadStyle.Render(fmt.Sprintf("%d failed", m.snap.Failed)),
			mutedStyle.Render("  "),
			valueWarnStyle.Render(fmt.Sprintf("%d errors", m.snap.Errored)),
		))
	}

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// =============================================================================
// Current Test
// =============================================================================

func (m Model) renderCurrentTest() string {
	cur := m.snap.Current
	if cur == nil {
		return boxStyle.Width(m.width - 2).Render(
			lipgloss.JoinVertical(lipgloss.Left,
				sectionHeaderStyle.Render("Current Test"),
				dimStyle.Render("No test running"),
			),
		)
	}

	rows := []string{
		sectionHeaderStyle.Render("Current Test"),
		RenderKeyValue("Name", cur.Name),
		lipgloss.JoinHorizontal(lipgloss.Left, labelStyle.Render("Phase:"), GetPhaseLabel(cur.Phase)),
		RenderKeyValue("Running for", stats.FormatDuration(time.Since(cur.Started))),
		RenderKeyValue("Client slots", fmt.Sprintf("%d running / %d", m.RunningSlots(), len(m.snap.Slots))),
	}

	kills := stats.FormatNumber(m.snap.NodeKills)
	style := valueStyle
	if m.snap.NodeKills > 0 {
		style = valueWarnStyle
	}
	rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Left,
		labelStyle.Render("Nodes killed:"),
		style.Render(kills),
	))

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// =============================================================================
// Verdicts
// =============================================================================

func (m Model) renderVerdicts() string {
	results := m.snap.Results
	start := 0
	if len(results) > recentVerdicts {
		start = len(results) - recentVerdicts
	}

	rows := []string{sectionHeaderStyle.Render("Recent Verdicts")}
	if start > 0 {
		rows = append(rows, dimStyle.Render(fmt.Sprintf("... %d earlier", start)))
	}
	for _, r := range results[start:] {
		line := lipgloss.JoinHorizontal(lipgloss.Left,
			mutedStyle.Width(5).Render(fmt.Sprintf("%d", r.Run)),
			valueStyle.Width(24).Render(r.Name),
			GetStatusLabel(r.Status),
		)
		if r.Status != "pass" && r.Message != "" {
			line = lipgloss.JoinHorizontal(lipgloss.Left, line, dimStyle.Render("  "+r.Message))
		}
		rows = append(rows, line)
	}

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// =============================================================================
// Client Iterations
// =============================================================================

func (m Model) renderIterations() string {
	s := m.snap

	counts := fmt.Sprintf("%s total (%s ok, %s failed, %s timed out)",
		stats.FormatNumber(s.TotalIterations),
		stats.FormatNumber(s.Iterations[supervisor.Success]),
		stats.FormatNumber(s.Iterations[supervisor.Failure]),
		stats.FormatNumber(s.Iterations[supervisor.Timeout]),
	)

	left := []string{
		RenderKeyValue("Iterations", counts),
		RenderKeyValue("Rate", fmt.Sprintf("%.1f/s (10s)  %.1f/s (60s)", s.IterationRate, s.IterationRateLong)),
	}
	right := []string{
		renderLatencyRow("P50 (median)", s.IterationP50),
		renderLatencyRow("P95", s.IterationP95),
		renderLatencyRow("P99", s.IterationP99),
		renderLatencyRow("Max", s.IterationMax),
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		sectionHeaderStyle.Render("Client Iterations"),
		lipgloss.JoinVertical(lipgloss.Left, left...),
		lipgloss.JoinVertical(lipgloss.Left, right...),
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

func renderLatencyRow(label string, d time.Duration) string {
	return lipgloss.JoinHorizontal(lipgloss.Left,
		labelStyle.Render(label+":"),
		valueStyle.Render(stats.FormatMs(d)),
	)
}

// =============================================================================
// Slot Table (Slot View)
// =============================================================================

func (m Model) renderSlotTable() string {
	if m.snap == nil || len(m.snap.Slots) == 0 {
		return boxStyle.Width(m.width - 2).Render(
			dimStyle.Render("No client slots running. Press 's' to toggle."),
		)
	}

	header := tableHeaderStyle.Render(
		fmt.Sprintf("%-6s %-20s %-10s %-10s %-10s %-8s",
			"Slot", "Host", "Iters", "Last exit", "Last", "State"),
	)

	maxRows := m.height - 10
	if maxRows < 5 {
		maxRows = 5
	}

	var rows []string
	for i, slot := range m.snap.Slots {
		if i >= maxRows {
			rows = append(rows, dimStyle.Render(fmt.Sprintf("... and %d more slots", len(m.snap.Slots)-maxRows)))
			break
		}

		rowStyle := tableRowEvenStyle
		if i%2 == 1 {
			rowStyle = tableRowOddStyle
		}

		lastExit := "-"
		last := "-"
		if slot.Iterations > 0 {
			lastExit = fmt.Sprintf("%d", slot.LastExitCode)
			last = stats.FormatMs(slot.LastDuration)
		}

		state := slot.State()
		row := fmt.Sprintf("%-6d %-20s %-10d %-10s %-10s ",
			slot.Slot,
			truncate(slot.Host, 20),
			slot.Iterations,
			lastExit,
			last,
		)
		rows = append(rows, rowStyle.Render(row)+GetSlotStyle(state).Render(state))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{
			sectionHeaderStyle.Render("Client Slots"),
			header,
		}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	shortcuts := []string{
		"q: quit",
		"s: toggle slots",
		"r: refresh",
	}

	left := dimStyle.Render(strings.Join(shortcuts, " │ "))

	target := "mserver: " + m.mserverHost
	if m.metricsAddr != "" {
		target += " │ metrics: http://" + m.metricsAddr + "/metrics"
	}
	right := dimStyle.Render(target)

	padding := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if padding < 1 {
		padding = 1
	}

	return footerStyle.Render(
		lipgloss.JoinHorizontal(lipgloss.Left,
			left,
			strings.Repeat(" ", padding),
			right,
		),
	)
}

func truncate(s string, n int) string {
	if len([]rune(s)) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}
