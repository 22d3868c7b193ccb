package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lemniscat/lemniscat/pkg/condition"
	"github.com/lemniscat/lemniscat/pkg/steps"
	"github.com/lemniscat/lemniscat/pkg/variables"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/lemniscat/lemniscat/pkg/engine"

// Options configures an Orchestrator.
type Options struct {
	// Registry resolves task names to executors. Required.
	Registry ExecutorRegistry

	// Selector holds the enabled steps. Required.
	Selector *steps.Selector

	// Output receives the non-sensitive snapshot at the end of the run.
	Output SnapshotWriter

	// Policy is checked before the global pre phase.
	Policy PolicyGate

	// Observer receives lifecycle notifications.
	Observer Observer

	// Logger is the base logger.
	Logger zerolog.Logger
}

// Orchestrator drives a run: global pre, capabilities in order, global
// post, then the output snapshot. Execution is sequential.
type Orchestrator struct {
	manifest   *Manifest
	pool       *variables.Pool
	conditions *condition.Evaluator
	registry   ExecutorRegistry
	selector   *steps.Selector
	output     SnapshotWriter
	policy     PolicyGate
	observer   Observer
	tracer     trace.Tracer
	logger     zerolog.Logger
}

// NewOrchestrator creates an orchestrator for manifest reading and writing
// pool.
func NewOrchestrator(manifest *Manifest, pool *variables.Pool, opts Options) (*Orchestrator, error) {
	if manifest == nil {
		return nil, NewConfigurationError("manifest is required", nil)
	}
	if pool == nil {
		return nil, NewConfigurationError("variable pool is required", nil)
	}
	if opts.Registry == nil {
		return nil, NewConfigurationError("executor registry is required", nil)
	}
	if opts.Selector == nil {
		return nil, NewConfigurationError("step selector is required", nil)
	}

	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	return &Orchestrator{
		manifest:   manifest,
		pool:       pool,
		conditions: condition.NewEvaluator(pool),
		registry:   opts.Registry,
		selector:   opts.Selector,
		output:     opts.Output,
		policy:     opts.Policy,
		observer:   observer,
		tracer:     otel.Tracer(tracerName),
		logger:     opts.Logger.With().Str("component", "orchestrator").Logger(),
	}, nil
}

// Run executes the manifest. The returned report is always non-nil. A
// non-nil error means the run could not complete normally (cancellation,
// registry, policy or output failure); task failures only set the report
// status to Failed.
func (o *Orchestrator) Run(ctx context.Context) (*RunReport, error) {
	report := &RunReport{
		ID:            uuid.New().String(),
		Status:        StatusRunning,
		HasCleanSteps: o.selector.HasCleanSteps(),
		StartedAt:     time.Now(),
		Manifest:      o.manifest,
	}
	logger := o.logger.With().Str("run_id", report.ID).Logger()

	ctx, span := o.tracer.Start(ctx, "lemniscat.run", trace.WithAttributes(
		attribute.String("run.id", report.ID),
		attribute.StringSlice("run.steps", o.selector.Tokens()),
		attribute.Bool("run.clean", report.HasCleanSteps),
	))
	defer span.End()

	finish := func(status Status, err error) (*RunReport, error) {
		report.Status = status
		report.CompletedAt = time.Now()
		span.SetAttributes(attribute.String("run.status", string(status)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else if status == StatusFailed {
			span.SetStatus(codes.Error, "run failed")
		} else {
			span.SetStatus(codes.Ok, "")
		}
		o.observer.RunCompleted(status, report.Duration())
		logger.Info().
			Str("status", string(status)).
			Dur("duration", report.Duration()).
			Msg("Run completed")
		return report, err
	}

	logger.Info().
		Strs("steps", o.selector.Tokens()).
		Strs("order", o.manifest.Order).
		Bool("clean", report.HasCleanSteps).
		Msg("Starting run")

	if err := o.registry.Reload(ctx, o.manifest.Requirements); err != nil {
		failure := NewConfigurationError("failed to load executors", err)
		report.Failure = failure
		return finish(StatusFailed, failure)
	}

	if o.policy != nil {
		violations, err := o.policy.Check(ctx, o.manifest, o.pool, o.selector)
		if err != nil {
			failure := NewConfigurationError("policy evaluation failed", err).WithCode(ErrCodePolicyDenied)
			report.Failure = failure
			return finish(StatusFailed, failure)
		}
		report.Violations = violations
		var blocking []string
		for _, v := range violations {
			ev := logger.Warn()
			if v.Blocking() {
				ev = logger.Error()
				blocking = append(blocking, v.Message)
			}
			ev.Str("policy", v.Policy).Str("severity", v.Severity).Msg(v.Message)
		}
		if len(blocking) > 0 {
			failure := NewValidationError(
				fmt.Sprintf("%d policy violation(s): %s", len(blocking), strings.Join(blocking, "; ")),
				nil,
			).WithCode(ErrCodePolicyDenied)
			report.Failure = failure
			return finish(StatusFailed, failure)
		}
	}

	if pre := o.manifest.Pre; pre != nil {
		logger.Info().Msg("Running global pre phase")
		if err := o.runSolution(ctx, steps.Global, pre, report); err != nil {
			return finish(StatusFailed, cancelledOrNil(err))
		}
	}

	failed := false
	for _, name := range o.manifest.Order {
		if err := ctx.Err(); err != nil {
			report.Failure = NewCancelledError(err).WithCapability(name)
			return finish(StatusFailed, report.Failure)
		}

		c := o.manifest.Capability(name)
		if c == nil || len(c.Solutions) == 0 {
			logger.Debug().Str("capability", name).Msg("Skipping capability without solutions")
			continue
		}
		if !o.pool.IsTruthy(name + ".enable") {
			logger.Info().Str("capability", name).Msg("Skipping disabled capability")
			continue
		}

		if err := o.runCapability(ctx, c, report); err != nil {
			if IsCancelled(err) {
				return finish(StatusFailed, err)
			}
			failed = true
			break
		}
	}

	if post := o.manifest.Post; post != nil {
		logger.Info().Msg("Running global post phase")
		if err := o.runSolution(ctx, steps.Global, post, report); err != nil {
			if IsCancelled(err) {
				return finish(StatusFailed, err)
			}
			failed = true
		}
	}

	if o.output != nil {
		if err := o.output.WriteSnapshot(ctx, report.ID, o.pool.SnapshotNonSensitive()); err != nil {
			failure := NewExecutionError("failed to write output context", err).WithCode(ErrCodeOutputFailed)
			if report.Failure == nil {
				report.Failure = failure
			}
			return finish(StatusFailed, failure)
		}
		logger.Debug().Msg("Output context written")
	}

	if failed {
		return finish(StatusFailed, nil)
	}
	return finish(StatusFinished, nil)
}

// runCapability runs the selected solution of c. It returns an error if the
// solution failed.
func (o *Orchestrator) runCapability(ctx context.Context, c *Capability, report *RunReport) error {
	logger := o.logger.With().Str("capability", c.Name).Logger()

	ctx, span := o.tracer.Start(ctx, "capability."+c.Name, trace.WithAttributes(
		attribute.String("capability.name", c.Name),
	))
	defer span.End()

	selected := ""
	if v := o.pool.Get(c.Name + ".solution"); v != nil {
		selected = v.String()
	}

	logger.Info().Str("solution", selected).Msg("Running capability")
	c.Status = StatusRunning

	var runErr error
	ran := false
	for _, s := range c.Solutions {
		if s.Name != selected {
			logger.Debug().Str("solution", s.Name).Msg("Skipping solution")
			continue
		}
		ran = true
		if err := o.runSolution(ctx, c.Name, s, report); err != nil {
			runErr = err
			break
		}
	}

	switch {
	case runErr != nil:
		c.Status = StatusFailed
		span.SetStatus(codes.Error, runErr.Error())
	case !ran:
		c.Status = StatusPending
		logger.Warn().Str("solution", selected).Msg("No solution matches the selected name")
	default:
		c.Status = StatusFinished
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(attribute.String("capability.status", string(c.Status)))
	o.observer.CapabilityCompleted(c.Name, c.Status)
	return runErr
}

// runSolution runs every pending task of s phase by phase. It stops at the
// first failure and returns the error.
func (o *Orchestrator) runSolution(ctx context.Context, capability string, s *Solution, report *RunReport) error {
	logger := o.logger.With().
		Str("capability", capability).
		Str("solution", s.Name).
		Logger()

	ctx, span := o.tracer.Start(ctx, "solution."+s.Name, trace.WithAttributes(
		attribute.String("capability.name", capability),
		attribute.String("solution.id", s.ID),
		attribute.String("solution.name", s.Name),
	))
	defer span.End()

	logger.Info().Msg("Running solution")
	s.Status = StatusRunning

	for _, phase := range steps.Phases {
		if !o.selector.IsEnabled(phase, capability) {
			continue
		}
		for _, t := range s.Tasks {
			if !t.HasPhase(phase) || t.Status != StatusPending || t.Skipped != SkipNone {
				continue
			}

			if err := ctx.Err(); err != nil {
				s.Status = StatusFailed
				failure := NewCancelledError(err).WithCapability(capability).WithSolution(s.Name).WithTask(t.DisplayName)
				if report.Failure == nil {
					report.Failure = failure
				}
				span.SetStatus(codes.Error, failure.Error())
				return failure
			}

			if err := o.runTask(ctx, capability, phase, t); err != nil {
				s.Status = StatusFailed
				failure := NewExecutionError("task failed", err).
					WithCode(ErrCodeTaskFailed).
					WithCapability(capability).
					WithSolution(s.Name).
					WithTask(t.DisplayName)
				if report.Failure == nil {
					report.Failure = failure
				}
				span.SetStatus(codes.Error, failure.Error())
				return failure
			}
		}
	}

	s.Status = StatusFinished
	span.SetStatus(codes.Ok, "")
	return nil
}

// runTask evaluates the condition of t and dispatches it. Skips return nil.
func (o *Orchestrator) runTask(ctx context.Context, capability string, phase steps.Phase, t *Task) error {
	logger := o.logger.With().
		Str("capability", capability).
		Str("phase", string(phase)).
		Str("task_id", t.ID).
		Str("task", t.DisplayName).
		Logger()

	ok, err := o.conditions.EvaluateFor(capability, t.Condition)
	if err != nil {
		logger.Error().Err(err).Msg("Invalid task condition, skipping task")
		t.Skipped = SkipConditionError
		o.observer.TaskSkipped(capability, t)
		return nil
	}
	if !ok {
		logger.Info().Msg("Skipping task")
		t.Skipped = SkipCondition
		o.observer.TaskSkipped(capability, t)
		return nil
	}

	executor, found := o.registry.Lookup(t.Name)
	if !found {
		logger.Error().Str("executor", t.Name).Msg("Failed to load executor, skipping task")
		t.Skipped = SkipUnknownExecutor
		o.observer.TaskSkipped(capability, t)
		return nil
	}

	ctx, span := o.tracer.Start(ctx, "task."+t.Name, trace.WithAttributes(
		attribute.String("task.id", t.ID),
		attribute.String("task.name", t.Name),
		attribute.String("task.display_name", t.DisplayName),
		attribute.String("task.phase", string(phase)),
	))
	defer span.End()

	logger.Info().Msg("Running task")
	t.Status = StatusRunning
	started := time.Now()
	result := executor.Invoke(ctx, t.Parameters, o.pool.ScopedView(capability))
	t.Duration = time.Since(started)

	if result.Status == StatusFailed {
		t.Status = StatusFailed
		t.Errors = result.Errors
		span.SetAttributes(attribute.String("task.status", string(t.Status)))
		span.SetStatus(codes.Error, strings.Join(result.Errors, "; "))
		o.observer.TaskCompleted(capability, t)
		logger.Error().Strs("errors", result.Errors).Msg("Task failed")
		if len(result.Errors) == 0 {
			return errors.New("executor reported failure")
		}
		return errors.New(strings.Join(result.Errors, "; "))
	}

	if vars := executor.Variables(); len(vars) > 0 {
		logger.Debug().Int("count", len(vars)).Msg("Received variables")
		o.pool.Merge(vars)
	}
	if err := o.pool.InterpretAll(); err != nil {
		t.Status = StatusFailed
		t.Errors = []string{err.Error()}
		span.SetStatus(codes.Error, err.Error())
		o.observer.TaskCompleted(capability, t)
		logger.Error().Err(err).Msg("Failed to interpret variables after task")
		return NewConfigurationError("variable interpretation failed", err).WithCode(ErrCodeVariableCycle)
	}

	t.Status = StatusFinished
	span.SetAttributes(attribute.String("task.status", string(t.Status)))
	span.SetStatus(codes.Ok, "")
	o.observer.TaskCompleted(capability, t)
	logger.Info().Dur("duration", t.Duration).Msg("Finished task")
	return nil
}

// cancelledOrNil keeps cancellation errors and drops task failures, which
// are reported through the run status.
func cancelledOrNil(err error) error {
	if IsCancelled(err) {
		return err
	}
	return nil
}
