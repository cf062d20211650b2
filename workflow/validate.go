package workflow

import (
	"fmt"

	"github.com/BaSui01/nodeflow/types"
)

// CheckStructure returns the structural problems of a definition: missing or
// duplicate node ids, empty types, and edges that reference unknown nodes.
func CheckStructure(def *WorkflowDefinition) []*types.Error {
	if def == nil {
		return []*types.Error{types.NewValidationError("workflow definition is nil")}
	}

	var errs []*types.Error
	if len(def.Nodes) == 0 {
		errs = append(errs, types.NewValidationError("workflow has no nodes"))
	}

	seen := make(map[string]bool, len(def.Nodes))
	for i, n := range def.Nodes {
		switch {
		case n.ID == "":
			errs = append(errs, types.NewValidationError(fmt.Sprintf("node at index %d has no id", i)))
		case seen[n.ID]:
			errs = append(errs, types.NewValidationError(fmt.Sprintf("duplicate node id: %s", n.ID)))
		}
		seen[n.ID] = true
		if n.Type == "" {
			errs = append(errs, types.NewValidationError(fmt.Sprintf("node %s has no type", n.ID)))
		}
	}

	for i, e := range def.Edges {
		if !seen[e.Source] {
			errs = append(errs, types.NewValidationError(fmt.Sprintf("edge %d references unknown source node: %s", i, e.Source)))
		}
		if !seen[e.Target] {
			errs = append(errs, types.NewValidationError(fmt.Sprintf("edge %d references unknown target node: %s", i, e.Target)))
		}
		if e.Condition != nil && e.Condition.Field == "" {
			errs = append(errs, types.NewValidationError(fmt.Sprintf("edge %d (%s → %s) has a condition without field", i, e.Source, e.Target)))
		}
	}
	return errs
}

// DetectCycle returns a CYCLIC_GRAPH error naming a node on the first cycle found.
// Nodes and edges are visited in declaration order, so the result is deterministic.
func DetectCycle(def *WorkflowDefinition) error {
	adj := make(map[string][]string, len(def.Nodes))
	for _, e := range def.Edges {
		adj[e.Source] = append(adj[e.Source], e.Target)
	}

	visited := make(map[string]bool, len(def.Nodes))
	recStack := make(map[string]bool, len(def.Nodes))

	var visit func(id string) (string, bool)
	visit = func(id string) (string, bool) {
		visited[id] = true
		recStack[id] = true
		for _, next := range adj[id] {
			if !visited[next] {
				if at, found := visit(next); found {
					return at, true
				}
			} else if recStack[next] {
				// back edge
				return next, true
			}
		}
		recStack[id] = false
		return "", false
	}

	for _, n := range def.Nodes {
		if visited[n.ID] {
			continue
		}
		if at, found := visit(n.ID); found {
			return types.NewCyclicGraphError(at)
		}
	}
	return nil
}

// Preflight runs the checks that must pass before any node executes.
func Preflight(def *WorkflowDefinition) error {
	if errs := CheckStructure(def); len(errs) > 0 {
		return errs[0]
	}
	return DetectCycle(def)
}
