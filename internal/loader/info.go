package loader

import (
	"fmt"
	"strings"

	"github.com/searchbench/sbench/internal/output"
	"github.com/searchbench/sbench/internal/workload"
)

// FormatInfo renders a human-readable summary of a workload: description,
// corpora, and every test procedure with its task tree.
func FormatInfo(w *workload.Workload) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Workload: %s\n", output.Noun(w.Name))
	if w.Description != "" {
		fmt.Fprintf(&b, "%s\n", w.Description)
	}
	b.WriteString("\n")

	if len(w.Corpora) > 0 {
		b.WriteString("Corpora:\n")
		for _, corpus := range w.Corpora {
			docs := corpus.NumberOfDocuments(workload.SourceFormatBulk)
			flavor := ""
			if corpus.IsStreaming() {
				flavor = output.Dim(" (streaming)")
			}
			fmt.Fprintf(&b, "  %s%s: %d documents in %d sets\n",
				output.Noun(corpus.Name), flavor, docs, len(corpus.Documents))
		}
		b.WriteString("\n")
	}

	for _, procedure := range w.TestProcedures {
		marker := ""
		if procedure.Default {
			marker = output.Dim(" (default)")
		}
		if procedure.Selected && !procedure.AutoGenerated {
			marker += output.Dim(" (selected)")
		}
		fmt.Fprintf(&b, "Test procedure: %s%s\n", output.Noun(procedure.Name), marker)
		if procedure.Description != "" {
			fmt.Fprintf(&b, "  %s\n", procedure.Description)
		}
		b.WriteString("  Schedule:\n")
		for i, element := range procedure.Schedule {
			switch node := element.(type) {
			case *workload.Task:
				fmt.Fprintf(&b, "    %d. %s\n", i+1, formatTask(node, ""))
			case *workload.Parallel:
				fmt.Fprintf(&b, "    %d. parallel (%d clients):\n", i+1, node.TotalClients())
				for _, child := range node.Tasks {
					fmt.Fprintf(&b, "       - %s\n", formatTask(child, completedBySuffix(child)))
				}
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatTask(t *workload.Task, suffix string) string {
	var details []string
	if t.Clients > 1 {
		details = append(details, fmt.Sprintf("%d clients", t.Clients))
	}
	if t.Iterations != nil {
		details = append(details, fmt.Sprintf("%d iterations", *t.Iterations))
	}
	if t.TimePeriod != nil {
		details = append(details, fmt.Sprintf("%ds", *t.TimePeriod))
	}
	rendered := output.Noun(t.Name)
	if t.Name != t.Operation.Name {
		rendered += output.Dim(fmt.Sprintf(" [%s]", t.Operation.Type))
	}
	if len(details) > 0 {
		rendered += " " + output.Dim("("+strings.Join(details, ", ")+")")
	}
	return rendered + suffix
}

func completedBySuffix(t *workload.Task) string {
	if t.CompletesParent {
		return output.Dim(" (completes parent)")
	}
	return ""
}
