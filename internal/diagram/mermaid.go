package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders the model as a Mermaid flowchart, top to bottom.
// Status overlays become style classes; compensations hang off their step as
// dashed satellite nodes.
func RenderMermaid(m *Model) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if m.Title != "" {
		fmt.Fprintf(&b, "    %%%% %s\n", m.Title)
	}

	hasStatus := false
	hasCompensation := false
	for _, n := range m.Nodes {
		fmt.Fprintf(&b, "    %s\n", mermaidNodeDef(n))
		if n.Compensation != "" {
			fmt.Fprintf(&b, "    %s_comp[/%q/]\n", mermaidSafeID(n.ID), n.Compensation)
			hasCompensation = true
		}
		if n.Status != nil && mermaidStatusClass(n.Status.Status) != "" {
			hasStatus = true
		}
	}

	for _, e := range m.Edges {
		if e.Label != "" {
			fmt.Fprintf(&b, "    %s -->|%s| %s\n", mermaidSafeID(e.From), e.Label, mermaidSafeID(e.To))
		} else {
			fmt.Fprintf(&b, "    %s --> %s\n", mermaidSafeID(e.From), mermaidSafeID(e.To))
		}
	}
	for _, n := range m.Nodes {
		if n.Compensation != "" {
			fmt.Fprintf(&b, "    %s -.-> %s_comp\n", mermaidSafeID(n.ID), mermaidSafeID(n.ID))
		}
	}

	if hasStatus {
		b.WriteString("    classDef completed fill:#c8e6c9,stroke:#2e7d32\n")
		b.WriteString("    classDef failed fill:#ffcdd2,stroke:#c62828\n")
		b.WriteString("    classDef running fill:#bbdefb,stroke:#1565c0\n")
		b.WriteString("    classDef skipped fill:#eeeeee,stroke:#9e9e9e,stroke-dasharray: 3 3\n")
		b.WriteString("    classDef pending fill:#fffde7,stroke:#f9a825\n")
	}
	if hasCompensation {
		b.WriteString("    classDef compensation fill:#fff3e0,stroke:#ef6c00,stroke-dasharray: 5 5\n")
	}

	for _, n := range m.Nodes {
		if n.Status != nil {
			if class := mermaidStatusClass(n.Status.Status); class != "" {
				fmt.Fprintf(&b, "    class %s %s\n", mermaidSafeID(n.ID), class)
			}
		}
		if n.Compensation != "" {
			fmt.Fprintf(&b, "    class %s_comp compensation\n", mermaidSafeID(n.ID))
		}
	}

	return b.String()
}

func mermaidNodeDef(n *Node) string {
	id := mermaidSafeID(n.ID)
	label := firstLine(n.Label)
	switch n.Kind {
	case NodeKindConditional:
		return fmt.Sprintf("%s{%q}", id, label)
	case NodeKindStart, NodeKindEnd:
		return fmt.Sprintf("%s((%q))", id, label)
	default:
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

// mermaidStatusClass maps a step status to a style class. Unknown statuses
// render unstyled.
func mermaidStatusClass(status string) string {
	switch status {
	case "COMPLETED":
		return "completed"
	case "FAILED":
		return "failed"
	case "RUNNING":
		return "running"
	case "SKIPPED":
		return "skipped"
	case "PENDING":
		return "pending"
	default:
		return ""
	}
}

// mermaidSafeID strips characters Mermaid treats as syntax out of node IDs.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
