package diagram

import (
	"strings"

	"github.com/tandemlab/tandem/pkg/schema"
)

// Build constructs a Model from a journey and optional step results from a
// journey execution. States generated from the same workflow container are
// grouped into a Cluster when layout preservation recorded the container
// chain.
func Build(j *schema.Journey, steps []schema.StepResult) (*Model, error) {
	if j == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "diagram: nil journey")
	}
	if len(j.States) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "diagram: journey has no states")
	}

	// Index step results by state ID for fast lookup.
	stepMap := make(map[string]*schema.StepResult, len(steps))
	for i := range steps {
		stepMap[steps[i].StateID] = &steps[i]
	}

	nodes := make([]*Node, 0, len(j.States))
	for i := range j.States {
		node := stateToNode(&j.States[i])
		overlayStatus(node, stepMap)
		nodes = append(nodes, node)
	}

	return &Model{
		Title:    titleFor(j),
		Nodes:    nodes,
		Edges:    buildEdges(j),
		Clusters: buildClusters(j),
		Levels:   buildLevels(j),
	}, nil
}

// stateToNode maps a JourneyState to a diagram Node.
func stateToNode(s *schema.JourneyState) *Node {
	return &Node{
		ID:    s.ID,
		Label: stateLabel(s),
		Kind:  stateTypeToKind(s.Type),
	}
}

// stateTypeToKind converts a schema.StateType to a NodeKind.
func stateTypeToKind(st schema.StateType) NodeKind {
	switch st {
	case schema.StateTypeInitial:
		return NodeKindStart
	case schema.StateTypeChat:
		return NodeKindChat
	case schema.StateTypeCondition:
		return NodeKindCondition
	case schema.StateTypeLoopStart, schema.StateTypeLoopEnd:
		return NodeKindLoop
	case schema.StateTypeParallelStart, schema.StateTypeParallelEnd:
		return NodeKindParallel
	case schema.StateTypeFinal:
		return NodeKindEnd
	default:
		return NodeKindTool
	}
}

// stateLabel creates a human-readable label for a state.
func stateLabel(s *schema.JourneyState) string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// overlayStatus applies a journey step result to a node. The raw engine
// status is canonicalized so renderers see a closed set.
func overlayStatus(node *Node, stepMap map[string]*schema.StepResult) {
	sr, ok := stepMap[node.ID]
	if !ok {
		return
	}
	node.Status = &StatusOverlay{
		Status:     string(schema.CanonicalStatus(sr.Status)),
		DurationMs: sr.DurationMs,
		Error:      sr.Error,
	}
}

// buildEdges converts journey transitions to edges. A condition expression
// takes precedence over an event name as the edge label.
func buildEdges(j *schema.Journey) []Edge {
	edges := make([]Edge, 0, len(j.Transitions))
	for _, t := range j.Transitions {
		label := t.Condition
		if label == "" {
			label = t.Event
		}
		edges = append(edges, Edge{From: t.From, To: t.To, Label: label})
	}
	return edges
}

// buildClusters groups states by the innermost workflow container recorded
// in their preservation layout. Journeys converted without layout
// preservation produce no clusters.
func buildClusters(j *schema.Journey) []*Cluster {
	var order []string
	byContainer := make(map[string]*Cluster)

	for i := range j.States {
		s := &j.States[i]
		if s.Preservation == nil || len(s.Preservation.Layout.Containers) == 0 {
			continue
		}
		containerID := s.Preservation.Layout.Containers[0]
		c, ok := byContainer[containerID]
		if !ok {
			c = &Cluster{ID: containerID, Label: clusterLabel(j, containerID)}
			byContainer[containerID] = c
			order = append(order, containerID)
		}
		c.Nodes = append(c.Nodes, s.ID)
	}

	clusters := make([]*Cluster, 0, len(order))
	for _, id := range order {
		clusters = append(clusters, byContainer[id])
	}
	return clusters
}

// clusterLabel derives a cluster label from the container's entry state.
// Loop and parallel containers generate a "<name> Start" state; the suffix
// is dropped for the cluster.
func clusterLabel(j *schema.Journey, containerID string) string {
	for i := range j.States {
		s := &j.States[i]
		if s.SourceNodeID != containerID {
			continue
		}
		if s.Type != schema.StateTypeLoopStart && s.Type != schema.StateTypeParallelStart {
			continue
		}
		if s.Name != "" {
			return strings.TrimSuffix(s.Name, " Start")
		}
	}
	return containerID
}

// buildLevels computes breadth-first levels from the initial states over the
// transition graph. States never reached from an initial state land in one
// trailing level so every node still renders.
func buildLevels(j *schema.Journey) [][]string {
	outgoing := make(map[string][]string, len(j.States))
	for _, t := range j.Transitions {
		outgoing[t.From] = append(outgoing[t.From], t.To)
	}

	visited := make(map[string]bool, len(j.States))
	var current []string
	for _, s := range j.InitialStates() {
		if !visited[s.ID] {
			visited[s.ID] = true
			current = append(current, s.ID)
		}
	}

	var levels [][]string
	for len(current) > 0 {
		levels = append(levels, current)
		var next []string
		for _, id := range current {
			for _, to := range outgoing[id] {
				if j.StateByID(to) == nil || visited[to] {
					continue
				}
				visited[to] = true
				next = append(next, to)
			}
		}
		current = next
	}

	var orphans []string
	for i := range j.States {
		if !visited[j.States[i].ID] {
			orphans = append(orphans, j.States[i].ID)
		}
	}
	if len(orphans) > 0 {
		levels = append(levels, orphans)
	}
	return levels
}

// titleFor generates a diagram title from journey metadata.
func titleFor(j *schema.Journey) string {
	if j.Name != "" {
		return j.Name
	}
	if j.ID != "" {
		return j.ID
	}
	return "Journey"
}
