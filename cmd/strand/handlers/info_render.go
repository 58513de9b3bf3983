package handlers

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Colors matching internal/ui/tui/styles.go palette.
var (
	infoColorGreen = lipgloss.Color("#22c55e")
	infoColorRed   = lipgloss.Color("#ef4444")
	infoColorBlue  = lipgloss.Color("#3b82f6")
	infoColorDim   = lipgloss.Color("#6b7280")
	infoColorWhite = lipgloss.Color("#f9fafb")
)

var (
	infoTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(infoColorWhite)

	infoSectionStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(infoColorBlue)

	infoDimStyle = lipgloss.NewStyle().
			Foreground(infoColorDim)

	infoOKStyle = lipgloss.NewStyle().
			Foreground(infoColorGreen)

	infoMissingStyle = lipgloss.NewStyle().
				Foreground(infoColorRed)
)

// renderInfoStyled produces the lipgloss-styled resource report.
func renderInfoStyled(status *InfoStatus) string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(infoTitleStyle.Render(fmt.Sprintf("  strand cluster: %s (%s)", status.ClusterName, status.Location)))
	b.WriteString("\n")
	b.WriteString(infoDimStyle.Render("  " + strings.Repeat("═", 30)))
	b.WriteString("\n\n")

	b.WriteString(fmt.Sprintf("  State: %s\n\n", status.State))

	b.WriteString(infoSectionStyle.Render("  Resources"))
	b.WriteString("\n")
	b.WriteString(infoDimStyle.Render("  " + strings.Repeat("─", 45)))
	b.WriteString("\n")
	for _, r := range status.Resources {
		mark := infoOKStyle.Render("[OK]     ")
		if !r.Present {
			mark = infoMissingStyle.Render("[MISSING]")
		}
		b.WriteString(fmt.Sprintf("  %s %-9s %-26s %s\n", mark, r.Kind, r.Name, infoDimStyle.Render(r.Detail)))
	}

	if len(status.Nodes) > 0 {
		b.WriteString("\n")
		b.WriteString(infoSectionStyle.Render("  Nodes"))
		b.WriteString("\n")
		b.WriteString(infoDimStyle.Render("  " + strings.Repeat("─", 45)))
		b.WriteString("\n")
		for _, n := range status.Nodes {
			b.WriteString(fmt.Sprintf("  %-24s %-9s %-16s %s\n", n.Name, n.Role, n.PublicIP, infoDimStyle.Render(n.PrivateIP)))
		}
	}

	if status.Scratch != nil {
		b.WriteString("\n")
		b.WriteString(infoSectionStyle.Render("  Scratch stack"))
		b.WriteString("\n")
		b.WriteString(infoDimStyle.Render("  " + strings.Repeat("─", 45)))
		b.WriteString("\n")
		b.WriteString(fmt.Sprintf("  State:   %s\n", status.Scratch.State))
		b.WriteString(fmt.Sprintf("  Servers: %d/%d\n", status.Scratch.NodesFound, status.Scratch.Declared))
		if status.Scratch.FsSpec != "" {
			b.WriteString(fmt.Sprintf("  Mount:   %s\n", status.Scratch.FsSpec))
		}
	}

	b.WriteString("\n")
	return b.String()
}

// renderInfoPlain is the report without escape sequences, for pipes and
// logs.
func renderInfoPlain(status *InfoStatus) string {
	var b strings.Builder

	fmt.Fprintf(&b, "strand cluster: %s (%s)\n", status.ClusterName, status.Location)
	fmt.Fprintf(&b, "state: %s\n\n", status.State)

	for _, r := range status.Resources {
		mark := "OK     "
		if !r.Present {
			mark = "MISSING"
		}
		fmt.Fprintf(&b, "%s  %-9s %-26s %s\n", mark, r.Kind, r.Name, r.Detail)
	}

	if len(status.Nodes) > 0 {
		b.WriteString("\n")
		for _, n := range status.Nodes {
			fmt.Fprintf(&b, "%-24s %-9s %-16s %s\n", n.Name, n.Role, n.PublicIP, n.PrivateIP)
		}
	}

	if status.Scratch != nil {
		fmt.Fprintf(&b, "\nscratch stack: %s (%d/%d servers)\n", status.Scratch.State, status.Scratch.NodesFound, status.Scratch.Declared)
		if status.Scratch.FsSpec != "" {
			fmt.Fprintf(&b, "mount spec: %s\n", status.Scratch.FsSpec)
		}
	}

	return b.String()
}
