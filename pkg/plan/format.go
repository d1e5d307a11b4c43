package plan

import (
	"strings"
)

// FormatPlan generates a visual string representation of the plan tree,
// headed by the columns the plan produces.
func FormatPlan(n Node) string {
	var sb strings.Builder
	names := make([]string, 0, len(n.Schema()))
	for _, c := range n.Schema() {
		names = append(names, c.Name)
	}
	sb.WriteString("Output: [")
	sb.WriteString(strings.Join(names, ", "))
	sb.WriteString("]\n")
	formatRecursive(n, "", true, &sb)
	return sb.String()
}

func formatRecursive(n Node, prefix string, last bool, sb *strings.Builder) {
	sb.WriteString(prefix)
	if last {
		sb.WriteString("└─ ")
		prefix += "   "
	} else {
		sb.WriteString("├─ ")
		prefix += "│  "
	}
	sb.WriteString(n.Explain())
	sb.WriteString("\n")

	children := n.Children()
	for i, child := range children {
		formatRecursive(child, prefix, i == len(children)-1, sb)
	}
}
