package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/lemniscat/lemniscat/pkg/engine"
	"github.com/lemniscat/lemniscat/pkg/steps"
	"github.com/lemniscat/lemniscat/pkg/variables"
)

// Engine evaluates Rego policies against a resolved manifest. It implements
// engine.PolicyGate.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	order    []string
	store    storage.Store
	logger   zerolog.Logger
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy *Policy
	query  rego.PreparedEvalQuery
}

// NewEngine creates a policy engine with the built-in policies loaded.
//
// Policies can read the known capability and phase names from
// data.catalog.capabilities and data.catalog.phases.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	phases := make([]any, 0, len(steps.Phases))
	for _, p := range steps.Phases {
		phases = append(phases, string(p))
	}
	capabilities := make([]any, 0, len(steps.Capabilities))
	for _, c := range steps.Capabilities {
		capabilities = append(capabilities, c)
	}

	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		store: inmem.NewFromObject(map[string]any{
			"catalog": map[string]any{
				"capabilities": capabilities,
				"phases":       phases,
			},
		}),
		logger: logger.With().Str("component", "policy-engine").Logger(),
	}

	builtins := BuiltinPolicies()
	for i := range builtins {
		if err := e.compileAndStorePolicy(context.Background(), &builtins[i]); err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
	}

	return e, nil
}

// LoadPolicies compiles the .rego files found under paths. A policy with the
// name of an already loaded one replaces it.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := NewLoader(e.logger).LoadFromPaths(ctx, paths)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range policies {
		if err := e.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			e.logger.Error().Err(err).
				Str("policy", policies[i].Name).
				Msg("Failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded")

	return nil
}

// Check implements engine.PolicyGate. Violations are returned in policy
// load order, sorted by message within a policy.
func (e *Engine) Check(ctx context.Context, manifest *engine.Manifest, pool *variables.Pool, selector *steps.Selector) ([]engine.PolicyViolation, error) {
	input := BuildInput(manifest, pool, selector)

	e.mu.RLock()
	defer e.mu.RUnlock()

	var violations []engine.PolicyViolation
	for _, name := range e.order {
		cp := e.policies[name]
		found, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", name, err)
		}
		sort.SliceStable(found, func(i, j int) bool { return found[i].Message < found[j].Message })
		violations = append(violations, found...)
	}

	e.logger.Debug().
		Int("policies", len(e.order)).
		Int("violations", len(violations)).
		Msg("Policies evaluated")

	return violations, nil
}

// ListPolicies returns the loaded policies in load order.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.order))
	for _, name := range e.order {
		policies = append(policies, *e.policies[name].policy)
	}
	return policies
}

// evaluatePolicy evaluates a single compiled policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]engine.PolicyViolation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []engine.PolicyViolation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		// The deny set arrives as a list.
		denySet, ok := result.Expressions[0].Value.([]any)
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, createViolation(cp.policy, d))
		}
	}

	return violations, nil
}

// createViolation creates a violation from a deny entry. Entries are
// either strings or objects with msg (or message) and severity.
func createViolation(policy *Policy, result any) engine.PolicyViolation {
	violation := engine.PolicyViolation{
		Policy:   policy.Name,
		Severity: string(policy.Severity),
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]any:
		if msg, ok := v["msg"].(string); ok {
			violation.Message = msg
		} else if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = string(normalizeSeverity(sev, policy.Severity))
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compileAndStorePolicy compiles a policy and stores it. Callers hold mu
// once the engine is shared.
func (e *Engine) compileAndStorePolicy(ctx context.Context, policy *Policy) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}
	if module == nil {
		return fmt.Errorf("policy %s is empty", policy.Name)
	}

	query, err := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Store(e.store),
		rego.Query(module.Package.Path.String()+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	if _, exists := e.policies[policy.Name]; !exists {
		e.order = append(e.order, policy.Name)
	}
	e.policies[policy.Name] = &compiledPolicy{
		policy: policy,
		query:  query,
	}

	e.logger.Debug().
		Str("policy", policy.Name).
		Str("package", module.Package.Path.String()).
		Msg("Policy compiled")

	return nil
}

// BuildInput renders the policy input document for a run.
func BuildInput(manifest *engine.Manifest, pool *variables.Pool, selector *steps.Selector) *Input {
	input := &Input{
		Capabilities: []CapabilityInput{},
		Global:       []SolutionInput{},
		Order:        append([]string{}, manifest.Order...),
		Variables:    []VariableInput{},
		Steps:        []string{},
	}

	if manifest.Pre != nil {
		input.Global = append(input.Global, solutionInput(manifest.Pre))
	}
	if manifest.Post != nil {
		input.Global = append(input.Global, solutionInput(manifest.Post))
	}

	for _, name := range manifest.Order {
		c := manifest.Capability(name)
		if c == nil {
			continue
		}
		ci := CapabilityInput{
			Name:      c.Name,
			DependsOn: append([]string{}, c.DependsOn...),
			Solutions: make([]SolutionInput, 0, len(c.Solutions)),
		}
		if pool != nil {
			if v, ok := pool.Lookup(c.Name + ".enable"); ok {
				ci.Enabled = variables.Truthy(v.Value)
			}
			if v, ok := pool.Lookup(c.Name + ".solution"); ok {
				ci.Selected = v.String()
			}
		}
		for _, s := range c.Solutions {
			ci.Solutions = append(ci.Solutions, solutionInput(s))
		}
		input.Capabilities = append(input.Capabilities, ci)
	}

	if pool != nil {
		for _, v := range pool.Entries() {
			input.Variables = append(input.Variables, VariableInput{Name: v.Name, Sensitive: v.IsSensitive()})
		}
	}
	if selector != nil {
		input.Steps = selector.Enabled()
	}

	return input
}

func solutionInput(s *engine.Solution) SolutionInput {
	si := SolutionInput{
		Name:        s.Name,
		Description: s.Description,
		Tasks:       make([]TaskInput, 0, len(s.Tasks)),
	}
	for _, t := range s.Tasks {
		ti := TaskInput{
			ID:          t.ID,
			Name:        t.Name,
			DisplayName: t.DisplayName,
			Steps:       make([]string, 0, len(t.Phases)),
			Parameters:  parameterKeys("", t.Parameters),
		}
		if t.Condition != nil {
			ti.Condition = *t.Condition
		}
		for _, p := range t.Phases {
			ti.Steps = append(ti.Steps, string(p))
		}
		si.Tasks = append(si.Tasks, ti)
	}
	return si
}

// parameterKeys lists the keys of params, descending into nested maps.
func parameterKeys(prefix string, params map[string]any) []string {
	keys := []string{}
	for k, v := range params {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		keys = append(keys, key)
		if nested, ok := v.(map[string]any); ok {
			keys = append(keys, parameterKeys(key, nested)...)
		}
	}
	sort.Strings(keys)
	return keys
}
