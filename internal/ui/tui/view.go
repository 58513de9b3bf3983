package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/strandtools/strand/internal/ui/benchmarks"
)

// styleFunc is a single-string styling function.
type styleFunc func(string) string

// sf wraps a lipgloss.Style into a styleFunc.
func sf(s lipgloss.Style) styleFunc {
	return func(str string) string { return s.Render(str) }
}

func renderView(m Model) string {
	var b strings.Builder

	renderHeader(&b, m)
	renderProgressBar(&b, m)
	renderPhases(&b, m)

	if len(m.Resources) > 0 {
		renderResources(&b, m)
	}
	if len(m.NodeOrder) > 0 {
		renderNodes(&b, m)
	}
	if len(m.Warnings) > 0 {
		renderWarnings(&b, m)
	}
	if len(m.Log) > 0 {
		renderLog(&b, m)
	}

	renderFooter(&b, m)

	return b.String()
}

func renderHeader(b *strings.Builder, m Model) {
	title := fmt.Sprintf("strand: %s", m.ClusterName)
	if m.Location != "" {
		title += fmt.Sprintf(" (%s)", m.Location)
	}
	b.WriteString(titleStyle.Render(title))

	status := " "
	switch {
	case m.Err != nil:
		status += failedStyle.Render(fmt.Sprintf("Error: %v", m.Err))
	case m.Done:
		status += readyStyle.Render("Done")
	default:
		if active := activePhase(m); active != "" {
			status += activeStyle.Render(currentSpinner(m.SpinnerFrame)+" ") + warningStyle.Render(active)
		} else {
			status += dimStyle.Render("Starting...")
		}
	}
	b.WriteString(status)
	b.WriteString("\n")
}

func renderProgressBar(b *strings.Builder, m Model) {
	progress := calculateProgress(m)
	barWidth := 40
	if m.Width > 0 && m.Width < 80 {
		barWidth = m.Width - 30
		if barWidth < 10 {
			barWidth = 10
		}
	}
	filled := int(float64(barWidth) * progress)
	if filled > barWidth {
		filled = barWidth
	}

	bar := progressBarFull.Render(strings.Repeat("█", filled)) +
		progressBarEmpty.Render(strings.Repeat("░", barWidth-filled))

	pct := int(progress * 100)
	eta := ""
	if m.EstimatedRemaining > 0 {
		eta = fmt.Sprintf(" ETA %s", formatDuration(m.EstimatedRemaining))
	}
	if m.PerformanceScale != 0 && m.PerformanceScale != 1.0 {
		eta += fmt.Sprintf("  speed x%.2f", m.PerformanceScale)
	}

	fmt.Fprintf(b, "  %s %d%%%s\n", bar, pct, eta)
}

func renderPhases(b *strings.Builder, m Model) {
	b.WriteString(sectionStyle.Render("  Phases"))
	b.WriteString("\n")

	for _, phase := range m.Phases {
		var icon string
		var style styleFunc
		switch {
		case phase.Failed:
			icon = crossMark
			style = sf(failedStyle)
		case phase.Done:
			icon = checkMark
			style = sf(readyStyle)
		case phase.Active:
			icon = currentSpinner(m.SpinnerFrame)
			style = sf(activeStyle)
		default:
			icon = pending
			style = sf(dimStyle)
		}

		extra := ""
		switch {
		case phase.Failed && phase.Detail != "":
			extra = sf(failedStyle)(phase.Detail)
		case phase.Done && phase.Duration > 0:
			extra = sf(dimStyle)(formatDuration(phase.Duration))
		case phase.Active:
			if pv, ok := m.Progress[phase.Name]; ok && pv.total > 0 {
				extra = sf(dimStyle)(fmt.Sprintf("%d/%d", pv.current, pv.total))
			}
		}

		fmt.Fprintf(b, "    %s %-16s %s\n", style(icon), style(phase.Name), extra)
	}
}

func renderResources(b *strings.Builder, m Model) {
	b.WriteString(sectionStyle.Render("  Resources"))
	b.WriteString("\n")

	for _, res := range m.Resources {
		icon, style := resourceIcon(m, res.Status)
		fmt.Fprintf(b, "    %s %-10s %-24s %s\n",
			style(icon), res.Type, style(res.Name), dimStyle.Render(res.Status))
	}
}

func renderNodes(b *strings.Builder, m Model) {
	b.WriteString(sectionStyle.Render("  Nodes"))
	b.WriteString("\n")

	for _, node := range m.NodeOrder {
		step := m.NodeSteps[node]
		icon, style := stepIcon(step.Status)
		fmt.Fprintf(b, "    %s %-20s %-28s %s\n",
			style(icon), node, step.Step, style(step.Status))
	}
}

func renderWarnings(b *strings.Builder, m Model) {
	b.WriteString(sectionStyle.Render("  Warnings"))
	b.WriteString("\n")

	for _, warning := range m.Warnings {
		fmt.Fprintf(b, "    %s %s\n", warningStyle.Render(warnMark), warningStyle.Render(warning))
	}
}

func renderLog(b *strings.Builder, m Model) {
	b.WriteString(sectionStyle.Render("  Log"))
	b.WriteString("\n")

	for _, line := range m.Log {
		fmt.Fprintf(b, "    %s\n", dimStyle.Render(line))
	}
}

func renderFooter(b *strings.Builder, m Model) {
	elapsed := formatDuration(time.Since(m.StartTime))
	parts := []string{fmt.Sprintf("elapsed: %s", elapsed)}
	if m.State != "" {
		parts = append(parts, fmt.Sprintf("state: %s", m.State))
	}
	b.WriteString(footerStyle.Render(fmt.Sprintf("  %s  |  q: quit", strings.Join(parts, "  |  "))))
	b.WriteString("\n")
}

// Helper functions

func activePhase(m Model) string {
	for _, phase := range m.Phases {
		if phase.Active {
			return phase.Name
		}
	}
	return ""
}

func stepIcon(status string) (string, styleFunc) {
	switch status {
	case "changed":
		return checkMark, sf(readyStyle)
	case "unchanged":
		return checkMark, sf(dimStyle)
	case "skipped":
		return skipMark, sf(warningStyle)
	case "failed":
		return crossMark, sf(failedStyle)
	default:
		return pending, sf(dimStyle)
	}
}

func resourceIcon(m Model, status string) (string, styleFunc) {
	switch status {
	case "creating", "deleting":
		return currentSpinner(m.SpinnerFrame), sf(activeStyle)
	case "created", "deleted":
		return checkMark, sf(readyStyle)
	case "exists":
		return checkMark, sf(dimStyle)
	default:
		return pending, sf(dimStyle)
	}
}

func currentSpinner(frame int) string {
	if frame < 0 {
		frame = -frame
	}
	return spinnerFrames[frame%len(spinnerFrames)]
}

// calculateProgress weights each listed phase by its benchmark
// duration, crediting the active phase for elapsed time up to 95% so
// the bar never reaches full before the run does.
func calculateProgress(m Model) float64 {
	if m.Done {
		return 1.0
	}

	scale := m.PerformanceScale
	if scale <= 0 {
		scale = 1.0
	}

	var total, done float64
	for _, phase := range m.Phases {
		expected, ok := benchmarks.Expected(phase.Name)
		if !ok {
			expected = time.Minute
		}
		weight := expected.Seconds()
		total += weight

		switch {
		case phase.Done || phase.Failed:
			done += weight
		case phase.Active:
			frac := time.Since(phase.StartedAt).Seconds() / (weight * scale)
			if frac > 0.95 {
				frac = 0.95
			}
			done += weight * frac
		}
	}
	if total == 0 {
		return 0
	}
	return done / total
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
