package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/lemniscat/lemniscat/pkg/condition"
	"github.com/lemniscat/lemniscat/pkg/config"
	"github.com/lemniscat/lemniscat/pkg/engine"
	"github.com/lemniscat/lemniscat/pkg/steps"
	"github.com/lemniscat/lemniscat/pkg/variables"
)

func newPlanCommand() *cobra.Command {
	opts := config.NewRunOptions()
	var dot bool

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what a run would execute",
		Long: `Resolve a manifest and print the tasks a run would dispatch, without
executing anything.

The plan lists the capability order and, for the global phases and each
selected solution, the tasks in dispatch order. Conditions are evaluated
against the variables known before the run, so tasks depending on
variables published by earlier tasks may differ at run time.`,
		Example: `  # Plan a full run
  lem plan -m manifest.yaml -c variables.yaml

  # Plan the clean steps of the deploy capability
  lem plan -m manifest.yaml -s '["run-clean:deploy"]'

  # Render the capability graph with Graphviz
  lem plan -m manifest.yaml --dot | dot -Tsvg > capabilities.svg`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := log.Logger

			s, err := prepare(ctx, opts, logger)
			if err != nil {
				return err
			}
			if dot {
				graph, err := capabilityGraph(s.manifest)
				if err != nil {
					return err
				}
				_, err = io.WriteString(cmd.OutOrStdout(), graph)
				return err
			}

			registry, err := newExecutors(ctx, opts, logger)
			if err != nil {
				return err
			}
			defer func() { _ = registry.Close(ctx) }()
			if err := registry.Reload(ctx, s.manifest.Requirements); err != nil {
				return engine.NewConfigurationError("failed to load executors", err)
			}

			p := buildPlan(s.manifest, s.pool, s.selector, func(name string) bool {
				_, ok := registry.Lookup(name)
				return ok
			})
			renderPlan(cmd.OutOrStdout(), p)
			return nil
		},
	}

	addManifestFlags(cmd, opts)
	cmd.Flags().BoolVar(&dot, "dot", false, "Print the capability dependency graph in DOT format instead of the plan")

	return cmd
}

// capabilityGraph renders the declared dependsOn edges of m in DOT format.
func capabilityGraph(m *engine.Manifest) (string, error) {
	r := engine.NewOrderResolver()
	for _, name := range m.Order {
		c := m.Capability(name)
		if c == nil {
			continue
		}
		if err := r.AddDependencies(name, c.DependsOn); err != nil {
			return "", err
		}
	}
	return r.ToDOT()
}

// plannedTask is a task a run would consider.
type plannedTask struct {
	Phase steps.Phase
	Task  *engine.Task
	Skip  engine.SkipReason
	Err   error
}

// plannedSolution is the dispatch list of one capability, or the reason
// it would not run.
type plannedSolution struct {
	Capability string
	Solution   string
	Note       string
	Tasks      []plannedTask
}

type plan struct {
	Manifest  *engine.Manifest
	Steps     []string
	Solutions []plannedSolution
}

// buildPlan walks m the way the orchestrator does, without dispatching.
// known reports whether an executor is registered for a task name.
func buildPlan(m *engine.Manifest, pool *variables.Pool, selector *steps.Selector, known func(string) bool) *plan {
	p := &plan{Manifest: m, Steps: selector.Tokens()}
	conditions := condition.NewEvaluator(pool)

	planSolution := func(capability string, s *engine.Solution) plannedSolution {
		ps := plannedSolution{Capability: capability, Solution: s.Name}
		seen := make(map[*engine.Task]bool)
		for _, phase := range steps.Phases {
			if !selector.IsEnabled(phase, capability) {
				continue
			}
			for _, t := range s.Tasks {
				if !t.HasPhase(phase) || seen[t] {
					continue
				}
				seen[t] = true

				pt := plannedTask{Phase: phase, Task: t}
				ok, err := conditions.EvaluateFor(capability, t.Condition)
				switch {
				case err != nil:
					pt.Skip, pt.Err = engine.SkipConditionError, err
				case !ok:
					pt.Skip = engine.SkipCondition
				case !known(t.Name):
					pt.Skip = engine.SkipUnknownExecutor
				}
				ps.Tasks = append(ps.Tasks, pt)
			}
		}
		if len(ps.Tasks) == 0 {
			ps.Note = "no task in the selected steps"
		}
		return ps
	}

	if m.Pre != nil {
		p.Solutions = append(p.Solutions, planSolution(steps.Global, m.Pre))
	}
	for _, name := range m.Order {
		c := m.Capability(name)
		if c == nil || len(c.Solutions) == 0 {
			continue
		}
		if v, ok := pool.Lookup(name + ".enable"); !ok || !variables.Truthy(v.Value) {
			p.Solutions = append(p.Solutions, plannedSolution{
				Capability: name,
				Note:       fmt.Sprintf("disabled (%s.enable is not set)", name),
			})
			continue
		}
		selected := ""
		if v, ok := pool.Lookup(name + ".solution"); ok {
			selected = v.String()
		}
		s := c.Solution(selected)
		if s == nil {
			p.Solutions = append(p.Solutions, plannedSolution{
				Capability: name,
				Solution:   selected,
				Note:       fmt.Sprintf("no solution named %q", selected),
			})
			continue
		}
		p.Solutions = append(p.Solutions, planSolution(name, s))
	}
	if m.Post != nil {
		p.Solutions = append(p.Solutions, planSolution(steps.Global, m.Post))
	}

	return p
}

// Dispatched returns the number of tasks a run would hand to an executor.
func (p *plan) Dispatched() int {
	n := 0
	for _, s := range p.Solutions {
		for _, t := range s.Tasks {
			if t.Skip == engine.SkipNone {
				n++
			}
		}
	}
	return n
}

func renderPlan(w io.Writer, p *plan) {
	fmt.Fprintf(w, "%s %s\n", render(headerStyle, "Plan for"), p.Manifest.Path)
	fmt.Fprintf(w, "  order: %s\n", strings.Join(p.Manifest.Order, " -> "))
	fmt.Fprintf(w, "  steps: %s\n", strings.Join(p.Steps, ", "))

	for _, s := range p.Solutions {
		title := s.Capability
		if s.Solution != "" {
			title += "/" + s.Solution
		}
		if s.Note != "" {
			fmt.Fprintf(w, "\n%s %s\n", render(headerStyle, title), render(skippedStyle, s.Note))
			continue
		}
		fmt.Fprintf(w, "\n%s\n", render(headerStyle, title))

		t := &table{indent: "  "}
		for _, pt := range s.Tasks {
			status := cell{"will run", finishedStyle}
			if pt.Skip != engine.SkipNone {
				status = cell{"skipped (" + string(pt.Skip) + ")", skippedStyle}
				if pt.Err != nil {
					status.text += ": " + pt.Err.Error()
				}
			}
			t.add(plain(string(pt.Phase)), plain(pt.Task.Name), plain(pt.Task.DisplayName), status)
		}
		fmt.Fprint(w, t.String())
	}

	fmt.Fprintf(w, "\n%d task(s) would be dispatched\n", p.Dispatched())
}
