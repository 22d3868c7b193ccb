package variables

import (
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Scope is a read-only name to Variable view of a pool.
type Scope map[string]Variable

// Values returns the plain values of the scope, sensitive ones included.
func (s Scope) Values() map[string]any {
	out := make(map[string]any, len(s))
	for k, v := range s {
		out[k] = Plain(v.Value)
	}
	return out
}

// Interpolate expands references inside v against the scope. Unknown names
// become "" and are logged at warn level.
func (s Scope) Interpolate(v any, logger zerolog.Logger) (any, bool) {
	in := &interpolator{
		lookup: func(name string) (Variable, bool) {
			ref, ok := s[name]
			return ref, ok
		},
		logger: logger,
	}
	return in.value(v)
}

// Pool holds the run's variables in insertion order.
//
// A Pool is owned by the engine and handed by reference to every component
// that reads or writes variables. It is safe for concurrent use.
type Pool struct {
	mu      sync.RWMutex
	entries map[string]*Variable
	order   []string
	logger  zerolog.Logger
}

// NewPool creates an empty pool.
func NewPool(logger zerolog.Logger) *Pool {
	return &Pool{
		entries: make(map[string]*Variable),
		logger:  logger.With().Str("component", "variables").Logger(),
	}
}

// Get returns the named variable or nil if absent. A miss is logged.
func (p *Pool) Get(name string) *Variable {
	p.mu.RLock()
	defer p.mu.RUnlock()

	v, ok := p.entries[name]
	if !ok {
		p.logger.Warn().Str("variable", name).Msg("Variable not found")
		return nil
	}
	out := *v
	return &out
}

// Lookup returns the named variable without logging a miss.
func (p *Pool) Lookup(name string) (Variable, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	v, ok := p.entries[name]
	if !ok {
		return Variable{}, false
	}
	return *v, true
}

// Set stores a value, overwriting any previous one. The stored variable is
// sensitive if sensitive is true or the value nests a sensitive Variable.
func (p *Pool) Set(name string, value any, sensitive bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.set(name, value, sensitive)
}

func (p *Pool) set(name string, value any, sensitive bool) {
	if v, ok := value.(Variable); ok {
		sensitive = sensitive || v.IsSensitive()
		value = v.Value
	}
	sensitive = sensitive || containsSensitive(value)

	if existing, ok := p.entries[name]; ok {
		existing.Value = value
		existing.Sensitive = sensitive
		return
	}
	p.entries[name] = &Variable{Name: name, Value: value, Sensitive: sensitive}
	p.order = append(p.order, name)
}

// Merge stores every value of values in key order. Values that are
// Variables keep their sensitivity.
func (p *Pool) Merge(values map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, k := range sortedKeys(values) {
		p.set(k, values[k], false)
	}
}

// Append stores variables in slice order.
func (p *Pool) Append(vars ...Variable) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, v := range vars {
		p.set(v.Name, v.Value, v.Sensitive)
	}
}

// Len returns the number of stored variables.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.order)
}

// Names returns the variable names in insertion order.
func (p *Pool) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// Entries returns copies of all variables in insertion order.
func (p *Pool) Entries() []Variable {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Variable, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, *p.entries[name])
	}
	return out
}

// IsTruthy reports whether the named variable exists and is truthy.
func (p *Pool) IsTruthy(name string) bool {
	v := p.Get(name)
	return v != nil && Truthy(v.Value)
}

// ScopedView returns every "<capability>.<rest>" variable keyed by <rest>,
// overlaid with all variables under their original names.
func (p *Pool) ScopedView(capability string) Scope {
	p.mu.RLock()
	defer p.mu.RUnlock()

	prefix := capability + "."
	view := make(Scope, len(p.order)*2)
	for _, name := range p.order {
		if rest, ok := strings.CutPrefix(name, prefix); ok && rest != "" {
			view[rest] = *p.entries[name]
		}
	}
	for _, name := range p.order {
		view[name] = *p.entries[name]
	}

	if p.logger.GetLevel() <= zerolog.TraceLevel {
		for _, k := range sortedKeys(view) {
			ev := p.logger.Trace().Str("capability", capability).Str("variable", k)
			if view[k].IsSensitive() {
				ev.Str("value", "***")
			} else {
				ev.Str("value", view[k].String())
			}
			ev.Msg("Scoped variable")
		}
	}
	return view
}

// SnapshotNonSensitive returns the plain values of all non-sensitive
// variables.
func (p *Pool) SnapshotNonSensitive() map[string]any {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]any, len(p.order))
	for _, name := range p.order {
		v := p.entries[name]
		if v.IsSensitive() {
			continue
		}
		out[name] = Plain(v.Value)
	}
	return out
}

// InterpolateString expands ${{ name }} references against the pool.
func (p *Pool) InterpolateString(s string) (string, bool) {
	in := p.newInterpolator(func(name string) (Variable, bool) { return p.Lookup(name) })
	return in.str(s)
}

// InterpolateValue expands references inside a scalar or container.
func (p *Pool) InterpolateValue(v any) (any, bool) {
	in := p.newInterpolator(func(name string) (Variable, bool) { return p.Lookup(name) })
	return in.value(v)
}

// InterpolateKnown expands references to existing non-sensitive variables
// inside v. References to unknown or sensitive names are left untouched, so
// they are resolved later against a scoped view that reports sensitivity.
func (p *Pool) InterpolateKnown(v any) (any, bool) {
	in := p.newInterpolator(func(name string) (Variable, bool) {
		ref, ok := p.Lookup(name)
		if !ok || ref.IsSensitive() {
			return Variable{}, false
		}
		return ref, true
	})
	in.keepMissing = true
	return in.value(v)
}

// InterpolateScoped expands references against the capability's scoped
// view.
func (p *Pool) InterpolateScoped(capability, s string) (string, bool) {
	view := p.ScopedView(capability)
	in := p.newInterpolator(func(name string) (Variable, bool) {
		v, ok := view[name]
		return v, ok
	})
	return in.str(s)
}

// InterpolateNonSensitive expands references using only non-sensitive
// variables; sensitive ones resolve to "".
func (p *Pool) InterpolateNonSensitive(s string) string {
	in := p.newInterpolator(func(name string) (Variable, bool) {
		v, ok := p.Lookup(name)
		if !ok || v.IsSensitive() {
			return Variable{}, false
		}
		return v, true
	})
	out, _ := in.str(s)
	return out
}

func (p *Pool) newInterpolator(lookup lookupFunc) *interpolator {
	return &interpolator{lookup: lookup, logger: p.logger}
}

// InterpretAll rewrites every variable not named in exclude with its
// interpolated form until a pass encounters no reference. At most Len()+1
// passes are made; a reference still present after that means a cycle and
// a *CycleError is returned.
func (p *Pool) InterpretAll(exclude ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	skip := make(map[string]struct{}, len(exclude))
	for _, name := range exclude {
		skip[name] = struct{}{}
	}

	lookup := func(name string) (Variable, bool) {
		v, ok := p.entries[name]
		if !ok {
			return Variable{}, false
		}
		return *v, true
	}

	maxPasses := len(p.order) + 1
	for pass := 1; pass <= maxPasses; pass++ {
		in := p.newInterpolator(lookup)
		for _, name := range p.order {
			if _, ok := skip[name]; ok {
				continue
			}
			v := p.entries[name]
			resolved, sensitive := in.value(v.Value)
			v.Value = resolved
			v.Sensitive = v.Sensitive || sensitive
		}
		if in.refs == 0 {
			p.logger.Trace().Int("passes", pass).Msg("Variables interpreted")
			return nil
		}
	}

	return p.cycleError(skip)
}

// cycleError builds a CycleError from the references left in the pool.
// Caller must hold the write lock.
func (p *Pool) cycleError(skip map[string]struct{}) error {
	graph := make(map[string][]string)
	var pending []string
	for _, name := range p.order {
		if _, ok := skip[name]; ok {
			continue
		}
		refs := valueReferences(p.entries[name].Value)
		if len(refs) == 0 {
			continue
		}
		pending = append(pending, name)
		for _, ref := range refs {
			if _, ok := p.entries[ref]; ok {
				graph[name] = append(graph[name], ref)
			}
		}
	}

	cycle := findCycle(p.order, graph)
	if len(cycle) == 0 {
		cycle = pending
	}
	return &CycleError{Cycle: cycle}
}

// findCycle returns the first cycle reachable in graph, visiting nodes in
// the given order.
func findCycle(order []string, graph map[string][]string) []string {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(order))
	var stack []string
	var found []string

	var visit func(node string) bool
	visit = func(node string) bool {
		state[node] = visiting
		stack = append(stack, node)
		for _, next := range graph[node] {
			switch state[next] {
			case visiting:
				for i, n := range stack {
					if n == next {
						found = append(append([]string{}, stack[i:]...), next)
						return true
					}
				}
			case unvisited:
				if visit(next) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[node] = done
		return false
	}

	for _, node := range order {
		if state[node] == unvisited && visit(node) {
			return found
		}
	}
	return nil
}

// CycleError reports variables whose references never settle.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("circular variable reference: %s", strings.Join(e.Cycle, " -> "))
}
