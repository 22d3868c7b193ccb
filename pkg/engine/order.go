package engine

import (
	"fmt"
	"strings"

	"github.com/lemniscat/lemniscat/pkg/steps"
)

// OrderResolver computes the capability execution order from dependsOn
// declarations. It is a stable topological sort: among capabilities whose
// dependencies are satisfied, the one earliest in the default order runs
// first.
type OrderResolver struct {
	// nodes is the default order of all capabilities
	nodes []string

	// adjacencyList maps a capability to the capabilities depending on it
	adjacencyList map[string][]string

	// dependencies maps a capability to its declared dependencies
	dependencies map[string][]string

	// inDegree tracks the number of unsatisfied dependencies
	inDegree map[string]int
}

// NewOrderResolver creates a resolver over the default capability order.
func NewOrderResolver() *OrderResolver {
	r := &OrderResolver{
		nodes:         append([]string(nil), steps.Capabilities...),
		adjacencyList: make(map[string][]string),
		dependencies:  make(map[string][]string),
		inDegree:      make(map[string]int),
	}
	for _, n := range r.nodes {
		r.inDegree[n] = 0
	}
	return r
}

// ResolveOrder is a convenience wrapper around OrderResolver.
func ResolveOrder(dependsOn map[string][]string) ([]string, error) {
	r := NewOrderResolver()
	for _, name := range steps.Capabilities {
		if deps, ok := dependsOn[name]; ok {
			if err := r.AddDependencies(name, deps); err != nil {
				return nil, err
			}
		}
	}
	for name := range dependsOn {
		if !steps.IsCapability(name) {
			return nil, unknownCapability(name)
		}
	}
	return r.Resolve()
}

// AddDependencies declares that capability runs after every entry of deps.
func (r *OrderResolver) AddDependencies(capability string, deps []string) error {
	if !steps.IsCapability(capability) {
		return unknownCapability(capability)
	}
	for _, dep := range deps {
		if !steps.IsCapability(dep) {
			return NewValidationError(
				fmt.Sprintf("capability %s depends on unknown capability %s", capability, dep),
				nil,
			).WithCode(ErrCodeUnknownCapability).WithCapability(capability)
		}
		if contains(r.dependencies[capability], dep) {
			continue
		}
		r.dependencies[capability] = append(r.dependencies[capability], dep)
		r.adjacencyList[dep] = append(r.adjacencyList[dep], capability)
		r.inDegree[capability]++
	}
	return nil
}

// Resolve returns the execution order or a DEPENDENCY_CYCLE error.
func (r *OrderResolver) Resolve() ([]string, error) {
	if err := r.detectCycles(); err != nil {
		return nil, err
	}

	inDegree := make(map[string]int, len(r.inDegree))
	for id, degree := range r.inDegree {
		inDegree[id] = degree
	}

	placed := make(map[string]bool, len(r.nodes))
	order := make([]string, 0, len(r.nodes))
	for len(order) < len(r.nodes) {
		next := ""
		for _, n := range r.nodes {
			if !placed[n] && inDegree[n] == 0 {
				next = n
				break
			}
		}
		if next == "" {
			// Unreachable once detectCycles has passed.
			return nil, NewValidationError("failed to order all capabilities - possible cycle", nil).
				WithCode(ErrCodeDependencyCycle)
		}
		placed[next] = true
		order = append(order, next)
		for _, dependent := range r.adjacencyList[next] {
			inDegree[dependent]--
		}
	}
	return order, nil
}

// detectCycles uses depth-first search to detect circular dependencies.
func (r *OrderResolver) detectCycles() error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for _, id := range r.nodes {
		if !visited[id] {
			if cycle := r.detectCyclesUtil(id, visited, recStack, nil); cycle != nil {
				return NewValidationError(
					fmt.Sprintf("circular capability dependency detected: %s", formatCycle(cycle)),
					nil,
				).WithCode(ErrCodeDependencyCycle)
			}
		}
	}
	return nil
}

// detectCyclesUtil performs DFS along dependency edges.
func (r *OrderResolver) detectCyclesUtil(node string, visited, recStack map[string]bool, path []string) []string {
	visited[node] = true
	recStack[node] = true
	path = append(path, node)

	for _, dep := range r.dependencies[node] {
		if !visited[dep] {
			if cycle := r.detectCyclesUtil(dep, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[dep] {
			for i, id := range path {
				if id == dep {
					return append(append([]string(nil), path[i:]...), dep)
				}
			}
		}
	}

	recStack[node] = false
	return nil
}

// ToDOT renders the dependency graph in DOT format, nodes labelled with
// their execution position.
func (r *OrderResolver) ToDOT() (string, error) {
	order, err := r.Resolve()
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("digraph Capabilities {\n")
	sb.WriteString("  rankdir=LR;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")
	for i, name := range order {
		sb.WriteString(fmt.Sprintf("  \"%s\" [label=\"%d. %s\"];\n", name, i+1, name))
	}
	sb.WriteString("\n")
	for _, name := range order {
		for _, dep := range r.dependencies[name] {
			sb.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\";\n", dep, name))
		}
	}
	sb.WriteString("}\n")
	return sb.String(), nil
}

// formatCycle formats a cycle path for error messages.
func formatCycle(cycle []string) string {
	if len(cycle) == 0 {
		return ""
	}
	return strings.Join(cycle, " -> ")
}

func unknownCapability(name string) *EngineError {
	return NewValidationError(fmt.Sprintf("unknown capability %s", name), nil).
		WithCode(ErrCodeUnknownCapability).WithCapability(name)
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
