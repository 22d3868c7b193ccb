package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/lemniscat/lemniscat/pkg/steps"
	"github.com/lemniscat/lemniscat/pkg/variables"
	"github.com/rs/zerolog"
)

// Mock executor for testing. Tasks are identified by their "id" parameter;
// "fail" makes the invocation fail and "outputs" is published on success.
type mockExecutor struct {
	mu      sync.Mutex
	invoked []string
	scopes  []variables.Scope
	outputs map[string]any
}

func newMockExecutor() *mockExecutor {
	return &mockExecutor{}
}

func (m *mockExecutor) Invoke(ctx context.Context, parameters map[string]any, vars variables.Scope) TaskResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, _ := parameters["id"].(string)
	m.invoked = append(m.invoked, id)
	m.scopes = append(m.scopes, vars)
	m.outputs = nil

	if fail, _ := parameters["fail"].(bool); fail {
		return Failed("mock", fmt.Errorf("task %s failed", id))
	}
	if out, ok := parameters["outputs"].(map[string]any); ok {
		m.outputs = out
	}
	return Succeeded("mock")
}

func (m *mockExecutor) Variables() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outputs
}

// Mock registry for testing
type mockRegistry struct {
	executors map[string]TaskExecutor
	reloads   int
	reloadErr error
}

func newMockRegistry(exec TaskExecutor) *mockRegistry {
	return &mockRegistry{executors: map[string]TaskExecutor{"mock": exec}}
}

func (r *mockRegistry) Reload(ctx context.Context, requirements []Requirement) error {
	r.reloads++
	return r.reloadErr
}

func (r *mockRegistry) Lookup(name string) (TaskExecutor, bool) {
	e, ok := r.executors[name]
	return e, ok
}

// Mock snapshot writer for testing
type mockWriter struct {
	snapshot map[string]any
	err      error
}

func (w *mockWriter) WriteSnapshot(ctx context.Context, runID string, snapshot map[string]any) error {
	w.snapshot = snapshot
	return w.err
}

// Mock policy gate for testing
type mockPolicy struct {
	violations []PolicyViolation
}

func (p *mockPolicy) Check(ctx context.Context, m *Manifest, pool *variables.Pool, s *steps.Selector) ([]PolicyViolation, error) {
	return p.violations, nil
}

func newTask(id string, phases ...steps.Phase) *Task {
	if len(phases) == 0 {
		phases = []steps.Phase{steps.PhaseRun}
	}
	return &Task{
		ID:          id,
		Name:        "mock",
		DisplayName: id,
		Parameters:  map[string]any{"id": id},
		Phases:      phases,
		Status:      StatusPending,
	}
}

func newSolution(name string, tasks ...*Task) *Solution {
	return &Solution{ID: name, Name: name, Tasks: tasks, Status: StatusPending}
}

func newManifest(caps ...*Capability) *Manifest {
	m := &Manifest{
		Capabilities: make(map[string]*Capability),
		Order:        append([]string(nil), steps.Capabilities...),
	}
	for _, c := range caps {
		c.Status = StatusPending
		m.Capabilities[c.Name] = c
	}
	return m
}

func enable(pool *variables.Pool, capability, solution string) {
	pool.Set(capability+".enable", true, false)
	pool.Set(capability+".solution", solution, false)
}

func runManifest(t *testing.T, m *Manifest, pool *variables.Pool, registry ExecutorRegistry, tokens []string, mutate ...func(*Options)) (*RunReport, error) {
	t.Helper()

	sel, err := steps.Parse(tokens)
	if err != nil {
		t.Fatalf("Failed to parse steps: %v", err)
	}
	opts := Options{Registry: registry, Selector: sel, Logger: zerolog.Nop()}
	for _, fn := range mutate {
		fn(&opts)
	}

	o, err := NewOrchestrator(m, pool, opts)
	if err != nil {
		t.Fatalf("Failed to create orchestrator: %v", err)
	}
	return o.Run(context.Background())
}

func TestOrchestrator_FailFast(t *testing.T) {
	exec := newMockExecutor()
	first, second, third := newTask("t1"), newTask("t2"), newTask("t3")
	second.Parameters["fail"] = true
	sol := newSolution("main", first, second, third)
	build := &Capability{Name: steps.Build, Solutions: []*Solution{sol}}

	deployTask := newTask("deploy")
	deploy := &Capability{Name: steps.Deploy, Solutions: []*Solution{newSolution("main", deployTask)}}

	pool := variables.NewPool(zerolog.Nop())
	enable(pool, steps.Build, "main")
	enable(pool, steps.Deploy, "main")

	report, err := runManifest(t, newManifest(build, deploy), pool, newMockRegistry(exec), []string{"run:all"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if report.Status != StatusFailed {
		t.Errorf("Expected run Failed, got %s", report.Status)
	}
	if first.Status != StatusFinished {
		t.Errorf("Expected first task Finished, got %s", first.Status)
	}
	if second.Status != StatusFailed {
		t.Errorf("Expected second task Failed, got %s", second.Status)
	}
	if third.Status != StatusPending {
		t.Errorf("Expected third task Pending, got %s", third.Status)
	}
	if sol.Status != StatusFailed {
		t.Errorf("Expected solution Failed, got %s", sol.Status)
	}
	if build.Status != StatusFailed {
		t.Errorf("Expected capability Failed, got %s", build.Status)
	}
	if deployTask.Status != StatusPending || deploy.Status != StatusPending {
		t.Error("Expected later capability not to be evaluated")
	}
	if len(exec.invoked) != 2 {
		t.Errorf("Expected 2 invocations, got %v", exec.invoked)
	}
	if report.Failure == nil || report.Failure.Code != ErrCodeTaskFailed || report.Failure.Task != "t2" {
		t.Errorf("Expected TASK_FAILED failure on t2, got %+v", report.Failure)
	}
}

func TestOrchestrator_SelectionGating(t *testing.T) {
	exec := newMockExecutor()
	a := newSolution("a", newTask("a1"))
	b := newSolution("b", newTask("b1"))
	c := &Capability{Name: steps.Deploy, Solutions: []*Solution{a, b}}

	pool := variables.NewPool(zerolog.Nop())
	enable(pool, steps.Deploy, "a")

	report, err := runManifest(t, newManifest(c), pool, newMockRegistry(exec), []string{"run:deploy"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if report.Status != StatusFinished {
		t.Errorf("Expected Finished, got %s", report.Status)
	}
	if a.Status != StatusFinished {
		t.Errorf("Expected solution a Finished, got %s", a.Status)
	}
	if b.Status != StatusPending || b.Tasks[0].Status != StatusPending {
		t.Error("Expected solution b to be untouched")
	}
	if len(exec.invoked) != 1 || exec.invoked[0] != "a1" {
		t.Errorf("Expected only a1 to run, got %v", exec.invoked)
	}
}

func TestOrchestrator_DisabledCapability(t *testing.T) {
	exec := newMockExecutor()
	c := &Capability{Name: steps.Test, Solutions: []*Solution{newSolution("unit", newTask("t"))}}

	pool := variables.NewPool(zerolog.Nop())
	pool.Set("test.enable", false, false)
	pool.Set("test.solution", "unit", false)

	report, _ := runManifest(t, newManifest(c), pool, newMockRegistry(exec), []string{"run:all"})
	if report.Status != StatusFinished {
		t.Errorf("Expected Finished, got %s", report.Status)
	}
	if len(exec.invoked) != 0 {
		t.Errorf("Expected no invocations, got %v", exec.invoked)
	}
	if c.Status != StatusPending {
		t.Errorf("Expected capability status unchanged, got %s", c.Status)
	}
}

func TestOrchestrator_PhaseGatingAndOrder(t *testing.T) {
	exec := newMockExecutor()
	sol := newSolution("main",
		newTask("post", steps.PhasePost),
		newTask("run", steps.PhaseRun),
		newTask("pre", steps.PhasePre),
		newTask("clean", steps.PhaseRunClean),
	)
	c := &Capability{Name: steps.Build, Solutions: []*Solution{sol}}

	pool := variables.NewPool(zerolog.Nop())
	enable(pool, steps.Build, "main")

	if _, err := runManifest(t, newManifest(c), pool, newMockRegistry(exec), []string{"all:build"}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	want := []string{"pre", "run", "post"}
	if len(exec.invoked) != len(want) {
		t.Fatalf("Expected %v, got %v", want, exec.invoked)
	}
	for i := range want {
		if exec.invoked[i] != want[i] {
			t.Errorf("Expected %s at %d, got %s", want[i], i, exec.invoked[i])
		}
	}
	if sol.Tasks[3].Status != StatusPending {
		t.Error("Expected clean task not to run")
	}
}

func TestOrchestrator_MultiPhaseTaskRunsOnce(t *testing.T) {
	exec := newMockExecutor()
	task := newTask("both", steps.PhasePre, steps.PhaseRun)
	c := &Capability{Name: steps.Build, Solutions: []*Solution{newSolution("main", task)}}

	pool := variables.NewPool(zerolog.Nop())
	enable(pool, steps.Build, "main")

	if _, err := runManifest(t, newManifest(c), pool, newMockRegistry(exec), []string{"all:build"}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(exec.invoked) != 1 {
		t.Errorf("Expected one invocation, got %v", exec.invoked)
	}
}

func TestOrchestrator_VariablesMergedAndInterpreted(t *testing.T) {
	exec := newMockExecutor()
	producer := newTask("producer")
	producer.Parameters["outputs"] = map[string]any{
		"build.version": "1.2.3",
		"token":         variables.NewSecret("t0k"),
	}
	consumer := newTask("consumer")
	c := &Capability{Name: steps.Build, Solutions: []*Solution{newSolution("main", producer, consumer)}}

	pool := variables.NewPool(zerolog.Nop())
	enable(pool, steps.Build, "main")
	pool.Set("image", "app:${{ build.version }}", false)
	pool.Set("auth", "Bearer ${{ token }}", false)

	writer := &mockWriter{}
	report, err := runManifest(t, newManifest(c), pool, newMockRegistry(exec), []string{"run:build"}, func(o *Options) {
		o.Output = writer
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if report.Status != StatusFinished {
		t.Fatalf("Expected Finished, got %s", report.Status)
	}

	if got := pool.Get("image").Value; got != "app:1.2.3" {
		t.Errorf("Expected image=app:1.2.3, got %v", got)
	}

	// The consumer sees the capability-local short name.
	scope := exec.scopes[1]
	if scope["version"].Value != "1.2.3" {
		t.Errorf("Expected scoped version, got %v", scope["version"].Value)
	}

	if writer.snapshot == nil {
		t.Fatal("Expected snapshot to be written")
	}
	if writer.snapshot["image"] != "app:1.2.3" {
		t.Errorf("Expected image in snapshot, got %v", writer.snapshot["image"])
	}
	for _, secret := range []string{"token", "auth"} {
		if _, ok := writer.snapshot[secret]; ok {
			t.Errorf("Expected %s to be excluded from snapshot", secret)
		}
	}
}

func TestOrchestrator_Conditions(t *testing.T) {
	exec := newMockExecutor()

	yes := newTask("yes")
	yesCond := "'${{ env }}' == 'prod'"
	yes.Condition = &yesCond

	no := newTask("no")
	noCond := "'${{ env }}' == 'dev'"
	no.Condition = &noCond

	broken := newTask("broken")
	brokenCond := "${{ env }} =="
	broken.Condition = &brokenCond

	c := &Capability{Name: steps.Deploy, Solutions: []*Solution{newSolution("main", yes, no, broken)}}

	pool := variables.NewPool(zerolog.Nop())
	enable(pool, steps.Deploy, "main")
	pool.Set("deploy.env", "prod", false)

	report, _ := runManifest(t, newManifest(c), pool, newMockRegistry(exec), []string{"run:deploy"})
	if report.Status != StatusFinished {
		t.Errorf("Expected Finished, got %s", report.Status)
	}
	if len(exec.invoked) != 1 || exec.invoked[0] != "yes" {
		t.Errorf("Expected only yes to run, got %v", exec.invoked)
	}
	if no.Skipped != SkipCondition || no.Status != StatusPending {
		t.Errorf("Expected no to be skipped by condition, got %s/%s", no.Skipped, no.Status)
	}
	if broken.Skipped != SkipConditionError {
		t.Errorf("Expected broken to be skipped with error, got %q", broken.Skipped)
	}
}

func TestOrchestrator_UnknownExecutorIsSkipped(t *testing.T) {
	exec := newMockExecutor()
	ghost := newTask("ghost")
	ghost.Name = "does-not-exist"
	after := newTask("after")
	c := &Capability{Name: steps.Build, Solutions: []*Solution{newSolution("main", ghost, after)}}

	pool := variables.NewPool(zerolog.Nop())
	enable(pool, steps.Build, "main")

	report, _ := runManifest(t, newManifest(c), pool, newMockRegistry(exec), []string{"run:build"})
	if report.Status != StatusFinished {
		t.Errorf("Expected Finished, got %s", report.Status)
	}
	if ghost.Skipped != SkipUnknownExecutor {
		t.Errorf("Expected unknown executor skip, got %q", ghost.Skipped)
	}
	if len(exec.invoked) != 1 || exec.invoked[0] != "after" {
		t.Errorf("Expected subsequent task to run, got %v", exec.invoked)
	}
}

func TestOrchestrator_GlobalPreFailureAborts(t *testing.T) {
	exec := newMockExecutor()
	preTask := newTask("pre")
	preTask.Parameters["fail"] = true
	postTask := newTask("post")

	c := &Capability{Name: steps.Build, Solutions: []*Solution{newSolution("main", newTask("build"))}}
	m := newManifest(c)
	m.Pre = newSolution("pre", preTask)
	m.Post = newSolution("post", postTask)

	pool := variables.NewPool(zerolog.Nop())
	enable(pool, steps.Build, "main")

	writer := &mockWriter{}
	report, _ := runManifest(t, m, pool, newMockRegistry(exec), []string{"run:all"}, func(o *Options) {
		o.Output = writer
	})
	if report.Status != StatusFailed {
		t.Errorf("Expected Failed, got %s", report.Status)
	}
	if len(exec.invoked) != 1 {
		t.Errorf("Expected only the pre task, got %v", exec.invoked)
	}
	if postTask.Status != StatusPending {
		t.Error("Expected post phase not to run")
	}
	if writer.snapshot != nil {
		t.Error("Expected no snapshot after pre failure")
	}
}

func TestOrchestrator_GlobalPostRunsAfterFailure(t *testing.T) {
	exec := newMockExecutor()
	failing := newTask("build")
	failing.Parameters["fail"] = true
	postTask := newTask("post")

	m := newManifest(&Capability{Name: steps.Build, Solutions: []*Solution{newSolution("main", failing)}})
	m.Post = newSolution("post", postTask)

	pool := variables.NewPool(zerolog.Nop())
	enable(pool, steps.Build, "main")

	report, _ := runManifest(t, m, pool, newMockRegistry(exec), []string{"run:build"})
	if report.Status != StatusFailed {
		t.Errorf("Expected Failed, got %s", report.Status)
	}
	if postTask.Status != StatusFinished {
		t.Errorf("Expected post task Finished, got %s", postTask.Status)
	}
}

func TestOrchestrator_Cancelled(t *testing.T) {
	exec := newMockExecutor()
	c := &Capability{Name: steps.Build, Solutions: []*Solution{newSolution("main", newTask("t"))}}
	pool := variables.NewPool(zerolog.Nop())
	enable(pool, steps.Build, "main")

	sel, _ := steps.Parse([]string{"run:all"})
	o, err := NewOrchestrator(newManifest(c), pool, Options{Registry: newMockRegistry(exec), Selector: sel, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("Failed to create orchestrator: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := o.Run(ctx)
	if !IsCancelled(err) {
		t.Errorf("Expected cancellation error, got %v", err)
	}
	if report.Status != StatusFailed {
		t.Errorf("Expected Failed, got %s", report.Status)
	}
	if len(exec.invoked) != 0 {
		t.Errorf("Expected no invocations, got %v", exec.invoked)
	}
}

func TestOrchestrator_PolicyBlocks(t *testing.T) {
	exec := newMockExecutor()
	c := &Capability{Name: steps.Build, Solutions: []*Solution{newSolution("main", newTask("t"))}}
	pool := variables.NewPool(zerolog.Nop())
	enable(pool, steps.Build, "main")

	gate := &mockPolicy{violations: []PolicyViolation{
		{Policy: "p", Message: "advisory", Severity: "warning"},
		{Policy: "p", Message: "forbidden", Severity: "error"},
	}}
	report, err := runManifest(t, newManifest(c), pool, newMockRegistry(exec), []string{"run:all"}, func(o *Options) {
		o.Policy = gate
	})

	if !HasCode(err, ErrCodePolicyDenied) {
		t.Errorf("Expected POLICY_DENIED, got %v", err)
	}
	if report.Status != StatusFailed {
		t.Errorf("Expected Failed, got %s", report.Status)
	}
	if len(report.Violations) != 2 {
		t.Errorf("Expected 2 violations recorded, got %d", len(report.Violations))
	}
	if len(exec.invoked) != 0 {
		t.Error("Expected no task to run")
	}
}

func TestOrchestrator_ReloadFailure(t *testing.T) {
	registry := newMockRegistry(newMockExecutor())
	registry.reloadErr = errors.New("plugin dir unreadable")

	report, err := runManifest(t, newManifest(), variables.NewPool(zerolog.Nop()), registry, []string{"run:all"})
	if err == nil {
		t.Fatal("Expected error")
	}
	if report.Status != StatusFailed {
		t.Errorf("Expected Failed, got %s", report.Status)
	}
	if registry.reloads != 1 {
		t.Errorf("Expected 1 reload, got %d", registry.reloads)
	}
}

func TestOrchestrator_OutputFailure(t *testing.T) {
	writer := &mockWriter{err: errors.New("disk full")}
	report, err := runManifest(t, newManifest(), variables.NewPool(zerolog.Nop()), newMockRegistry(newMockExecutor()), []string{"run:all"}, func(o *Options) {
		o.Output = writer
	})
	if !HasCode(err, ErrCodeOutputFailed) {
		t.Errorf("Expected OUTPUT_FAILED, got %v", err)
	}
	if report.Status != StatusFailed {
		t.Errorf("Expected Failed, got %s", report.Status)
	}
}

func TestNewOrchestrator_RequiresCollaborators(t *testing.T) {
	pool := variables.NewPool(zerolog.Nop())
	sel, _ := steps.Parse([]string{"run:all"})

	if _, err := NewOrchestrator(nil, pool, Options{Registry: newMockRegistry(nil), Selector: sel}); err == nil {
		t.Error("Expected error for nil manifest")
	}
	if _, err := NewOrchestrator(newManifest(), pool, Options{Selector: sel}); err == nil {
		t.Error("Expected error for nil registry")
	}
	if _, err := NewOrchestrator(newManifest(), pool, Options{Registry: newMockRegistry(nil)}); err == nil {
		t.Error("Expected error for nil selector")
	}
}
