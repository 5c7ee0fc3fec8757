package output

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Color palette — named constants for the ANSI 256 colors used in the CLI.
var (
	// ColorCyan is used for identifiable nouns: workload names, task names, corpus names.
	ColorCyan = lipgloss.Color("14")

	// ColorYellow is the palette's highlight color; no style in this package
	// uses it, and default/selected flags are rendered with Dim.
	ColorYellow = lipgloss.Color("220")

	// colorGreen is used for "ready" statuses (downloaded, prepared).
	colorGreen = lipgloss.Color("82")

	// colorRed is used for failures.
	colorRed = lipgloss.Color("196")
)

// Semantic styles — map domain concepts to visual presentation.
var (
	// styleNoun styles identifiable nouns (workload, task and corpus names).
	styleNoun = lipgloss.NewStyle().Foreground(ColorCyan)

	// styleDim styles structural chrome (scope prefixes, separators, counters).
	styleDim = lipgloss.NewStyle().Faint(true)

	styleOK   = lipgloss.NewStyle().Foreground(colorGreen)
	styleFail = lipgloss.NewStyle().Bold(true).Foreground(colorRed)
)

// Noun renders an identifiable noun (workload/task/corpus name).
func Noun(s string) string {
	return styleNoun.Render(s)
}

// Dim renders structural chrome.
func Dim(s string) string {
	return styleDim.Render(s)
}

// OK renders a success marker.
func OK(s string) string {
	return styleOK.Render(s)
}

// Fail renders a failure marker.
func Fail(s string) string {
	return styleFail.Render(s)
}

// Indent indents every non-empty line of s by n spaces.
func Indent(s string, n int) string {
	pad := strings.Repeat(" ", n)
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = pad + line
		}
	}
	return strings.Join(lines, "\n")
}
