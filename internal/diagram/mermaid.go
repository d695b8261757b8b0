package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders a Model as a Mermaid flowchart string.
func RenderMermaid(model *Model) string {
	var b strings.Builder

	b.WriteString("graph TD\n")

	// Title as comment.
	if model.Title != "" {
		b.WriteString(fmt.Sprintf("    %%%% %s\n", model.Title))
	}

	clustered := clusterMembership(model)

	// Cluster members are defined inside their subgraph so Mermaid attaches
	// them to it; everything else is defined at the top level.
	for _, c := range model.Clusters {
		b.WriteString(fmt.Sprintf("    subgraph %s[\"%s\"]\n", mermaidSafeID("cluster_"+c.ID), c.Label))
		for _, id := range c.Nodes {
			if node := model.NodeByID(id); node != nil {
				b.WriteString(fmt.Sprintf("        %s\n", mermaidNodeDef(node)))
			}
		}
		b.WriteString("    end\n")
	}
	for _, node := range model.Nodes {
		if clustered[node.ID] {
			continue
		}
		b.WriteString(fmt.Sprintf("    %s\n", mermaidNodeDef(node)))
	}

	// Render edges.
	for _, edge := range model.Edges {
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%s|", firstLine(edge.Label))
		}
		b.WriteString(fmt.Sprintf("    %s -->%s %s\n",
			mermaidSafeID(edge.From), label, mermaidSafeID(edge.To)))
	}

	// Status class definitions.
	b.WriteString("\n")
	b.WriteString("    classDef completed fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef error fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef running fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef cancelled fill:#b7791a,stroke:#8a5c14,color:#fff\n")
	b.WriteString("    classDef pending fill:#6b6b6b,stroke:#4a4a4a,color:#fff\n")
	b.WriteString("    classDef skipped fill:#4a4a4a,stroke:#333,color:#aaa,stroke-dasharray:5 5\n")

	// Apply status classes.
	for _, node := range model.Nodes {
		if node.Status == nil {
			continue
		}
		cls := mermaidStatusClass(node.Status.Status)
		if cls != "" {
			b.WriteString(fmt.Sprintf("    class %s %s\n", mermaidSafeID(node.ID), cls))
		}
	}

	return b.String()
}

// clusterMembership indexes which node IDs belong to any cluster.
func clusterMembership(model *Model) map[string]bool {
	members := make(map[string]bool)
	for _, c := range model.Clusters {
		for _, id := range c.Nodes {
			members[id] = true
		}
	}
	return members
}

// mermaidNodeDef returns a Mermaid node definition with the appropriate shape.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := firstLine(node.Label)

	switch node.Kind {
	case NodeKindCondition:
		return fmt.Sprintf("%s{%q}", id, label)
	case NodeKindChat:
		return fmt.Sprintf("%s([%q])", id, label)
	case NodeKindParallel:
		return fmt.Sprintf("%s[[%q]]", id, label)
	case NodeKindLoop:
		return fmt.Sprintf("%s[[%q]]", id, label)
	case NodeKindStart:
		return fmt.Sprintf("%s((%q))", id, label)
	case NodeKindEnd:
		return fmt.Sprintf("%s((%q))", id, label)
	default: // tool
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

// mermaidSafeID converts a state ID to a Mermaid-safe identifier.
// Replaces dots and dashes with underscores.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}

// mermaidStatusClass maps a canonical status to a Mermaid class name.
func mermaidStatusClass(status string) string {
	switch status {
	case "completed":
		return "completed"
	case "error":
		return "error"
	case "running":
		return "running"
	case "cancelled":
		return "cancelled"
	case "pending":
		return "pending"
	case "skipped":
		return "skipped"
	default:
		return ""
	}
}
