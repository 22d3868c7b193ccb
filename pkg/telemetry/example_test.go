package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"github.com/lemniscat/lemniscat/pkg/engine"
	"github.com/lemniscat/lemniscat/pkg/telemetry"
)

// ExampleNewTelemetry wires telemetry into a context the way lem does.
func ExampleNewTelemetry() {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Format = "json"

	tel, err := telemetry.NewTelemetry(context.Background(), cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())
	fmt.Println(telemetry.FromContext(ctx) == tel)
	// Output: true
}

// ExampleMetrics feeds run notifications to the metrics observer.
func ExampleMetrics() {
	metrics, err := telemetry.NewMetrics(telemetry.DefaultConfig().Metrics)
	if err != nil {
		panic(err)
	}

	var observer engine.Observer = metrics
	observer.TaskCompleted("build", &engine.Task{Name: "shell", Status: engine.StatusFinished, Duration: time.Second})
	observer.CapabilityCompleted("build", engine.StatusFinished)
	observer.RunCompleted(engine.StatusFinished, 2*time.Second)

	families, err := metrics.Registry().Gather()
	if err != nil {
		panic(err)
	}
	for _, f := range families {
		fmt.Println(f.GetName())
	}
	// Output:
	// lemniscat_capability_status
	// lemniscat_run_duration_seconds
	// lemniscat_runs_total
	// lemniscat_task_duration_seconds
	// lemniscat_tasks_total
}

// ExampleParseLevel shows the accepted level spellings.
func ExampleParseLevel() {
	for _, name := range []string{"debug", "WARNING", "CRITICAL"} {
		level, _ := telemetry.ParseLevel(name)
		fmt.Println(level)
	}
	// Output:
	// debug
	// warn
	// fatal
}
