package ui

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

// Sprint color functions for building styled strings.
var (
	Bold        = color.New(color.Bold).SprintFunc()
	Dim         = color.New(color.Faint).SprintFunc()
	Cyan        = color.New(color.FgCyan).SprintFunc()
	Green       = color.New(color.FgGreen).SprintFunc()
	Red         = color.New(color.FgRed).SprintFunc()
	Yellow      = color.New(color.FgYellow).SprintFunc()
	Magenta     = color.New(color.FgMagenta).SprintFunc()
	BoldCyan    = color.New(color.Bold, color.FgCyan).SprintFunc()
	BoldGreen   = color.New(color.Bold, color.FgGreen).SprintFunc()
	BoldRed     = color.New(color.Bold, color.FgRed).SprintFunc()
	BoldYellow  = color.New(color.Bold, color.FgYellow).SprintFunc()
	BoldMagenta = color.New(color.Bold, color.FgMagenta).SprintFunc()
	BoldWhite   = color.New(color.Bold, color.FgWhite).SprintFunc()
)

// PrintLogo renders the colored taskgate logo to stderr.
func PrintLogo() {
	w := os.Stderr
	frame := color.New(color.FgCyan)
	bars := color.New(color.FgYellow)
	sep := color.New(color.FgCyan)
	brand := color.New(color.Bold, color.FgMagenta)
	tag := color.New(color.Faint)

	fmt.Fprintln(w)
	frame.Fprintln(w, "   +--------------------------+")
	bars.Fprintln(w, "   |  |  |  |  |  |  |  |  |  |")
	sep.Fprintln(w, "   |==========================|")
	brand.Fprintln(w, "   |  T  A  S  K  G  A  T  E  |")
	sep.Fprintln(w, "   |==========================|")
	bars.Fprintln(w, "   |  |  |  |  |  |  |  |  |  |")
	frame.Fprintln(w, "   +--------------------------+")
	tag.Fprintf(w, "   %s Dependency-gated task release\n", Dim("⛩"))
	fmt.Fprintln(w)
}

// issueColors is a palette of distinct bold colors for differentiating issues.
var issueColors = []func(a ...interface{}) string{
	BoldMagenta,
	BoldCyan,
	BoldYellow,
	BoldGreen,
	color.New(color.Bold, color.FgHiBlue).SprintFunc(),
	color.New(color.Bold, color.FgHiRed).SprintFunc(),
}

// IssuePrefix returns a colored [#N] prefix string.
// Each issue number gets a stable color from the palette.
func IssuePrefix(id int) string {
	c := issueColors[id%len(issueColors)]
	return Dim("[") + c(fmt.Sprintf("#%d", id)) + Dim("]")
}

// StateIcon returns a colored icon for a task lifecycle state.
func StateIcon(state string) string {
	switch state {
	case "completed":
		return Green("✓")
	case "in-progress":
		return Cyan("●")
	case "ready":
		return BoldYellow("▶")
	case "blocked":
		return Red("✗")
	default: // on-hold
		return Dim("◌")
	}
}

// ChecksLabel returns a colored string for a PR checks status.
func ChecksLabel(status string) string {
	switch status {
	case "passing":
		return Green("passing")
	case "failing":
		return Red("failing")
	case "pending":
		return Yellow("pending")
	default:
		return Dim("no checks")
	}
}
