package exec

import (
	"strconv"
	"strings"
)

// ExplainPlan renders an operator tree as an indented plan listing, one node
// per line with its attributes, children indented below their parent.
func ExplainPlan(op ExecOperator) string {
	var b strings.Builder
	explainNode(&b, op, 0)
	return b.String()
}

func explainNode(b *strings.Builder, op ExecOperator, depth int) {
	b.WriteString(strings.Repeat("  ", depth))
	b.WriteString(op.Name())
	attrs := op.Attrs()
	if len(attrs) > 0 {
		b.WriteString(" [")
		for i, kv := range attrs {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(kv[0])
			b.WriteString("=")
			b.WriteString(kv[1])
		}
		b.WriteString("]")
	}
	b.WriteString("\n")
	for _, child := range op.Children() {
		explainNode(b, child, depth+1)
	}
}

func itoa(n int) string { return strconv.Itoa(n) }
