package telemetry

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/lemniscat/lemniscat/pkg/engine"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{name: "default", modify: func(*Config) {}},
		{name: "json format", modify: func(c *Config) { c.Logging.Format = "json" }},
		{name: "upper-case level", modify: func(c *Config) { c.Logging.Level = "WARNING" }},
		{name: "bad level", modify: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
		{name: "bad format", modify: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "bad exporter", modify: func(c *Config) { c.Tracing.Exporter = "jaeger" }, wantErr: true},
		{name: "otlp without endpoint", modify: func(c *Config) { c.Tracing.Exporter = "otlp" }, wantErr: true},
		{name: "otlp with endpoint", modify: func(c *Config) {
			c.Tracing.Exporter = "otlp"
			c.Tracing.Endpoint = "localhost:4317"
		}},
		{name: "bad sampling rate", modify: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: true},
		{name: "no service name", modify: func(c *Config) { c.ServiceName = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("Expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Expected no error, got %v", err)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zerolog.Level
	}{
		{"", zerolog.InfoLevel},
		{"trace", zerolog.TraceLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"WARNING", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"CRITICAL", zerolog.FatalLevel},
	}

	for _, tt := range tests {
		level, err := ParseLevel(tt.input)
		if err != nil {
			t.Errorf("ParseLevel(%q) failed: %v", tt.input, err)
			continue
		}
		if level != tt.expected {
			t.Errorf("ParseLevel(%q): expected %s, got %s", tt.input, tt.expected, level)
		}
	}

	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("Expected error for unknown level")
	}
}

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lem.log")

	logger, closer, err := NewLogger(LoggingConfig{Level: "warn", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	logger.Info().Msg("hidden")
	logger.Warn().Str("capability", "build").Msg("shown")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "hidden") {
		t.Errorf("Expected info line to be filtered, got %s", out)
	}
	if !strings.Contains(out, `"capability":"build"`) || !strings.Contains(out, `"message":"shown"`) {
		t.Errorf("Expected JSON warn line, got %s", out)
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	if _, _, err := NewLogger(LoggingConfig{Level: "loud"}); err == nil {
		t.Error("Expected error for invalid level")
	}
}

func TestTracer_Stdout(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig().Tracing
	cfg.Exporter = "stdout"
	cfg.Writer = &buf

	tracer, err := NewTracer(context.Background(), cfg, "lemniscat", "test")
	if err != nil {
		t.Fatalf("NewTracer failed: %v", err)
	}

	_, span := tracer.Start(context.Background(), "lemniscat.run")
	span.End()

	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if !strings.Contains(buf.String(), "lemniscat.run") {
		t.Errorf("Expected exported span, got %q", buf.String())
	}
}

func TestTracer_None(t *testing.T) {
	tracer, err := NewTracer(context.Background(), TracingConfig{Exporter: "none"}, "lemniscat", "test")
	if err != nil {
		t.Fatalf("NewTracer failed: %v", err)
	}
	if tracer.provider != nil {
		t.Error("Expected no provider for the none exporter")
	}
	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestMetrics_Observer(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	m.TaskCompleted("build", &engine.Task{Name: "shell", Status: engine.StatusFinished, Duration: 2 * time.Second})
	m.TaskCompleted("build", &engine.Task{Name: "shell", Status: engine.StatusFailed})
	m.TaskSkipped("build", &engine.Task{Name: "echo", Skipped: engine.SkipCondition})
	m.TaskSkipped("global", &engine.Task{Name: "echo"})
	m.CapabilityCompleted("build", engine.StatusFailed)
	m.CapabilityCompleted("test", engine.StatusPending)
	m.RunCompleted(engine.StatusFailed, 3*time.Second)

	checks := []struct {
		name     string
		got      float64
		expected float64
	}{
		{"finished tasks", testutil.ToFloat64(m.tasks.WithLabelValues("build", "shell", "Finished")), 1},
		{"failed tasks", testutil.ToFloat64(m.tasks.WithLabelValues("build", "shell", "Failed")), 1},
		{"condition skips", testutil.ToFloat64(m.tasksSkipped.WithLabelValues("build", "condition")), 1},
		{"unknown skips", testutil.ToFloat64(m.tasksSkipped.WithLabelValues("global", "unknown")), 1},
		{"failed capability", testutil.ToFloat64(m.capabilityStatus.WithLabelValues("build")), 3},
		{"pending capability", testutil.ToFloat64(m.capabilityStatus.WithLabelValues("test")), 0},
		{"failed runs", testutil.ToFloat64(m.runs.WithLabelValues("Failed")), 1},
	}
	for _, c := range checks {
		if c.got != c.expected {
			t.Errorf("%s: expected %v, got %v", c.name, c.expected, c.got)
		}
	}
}

func TestTelemetry_ShutdownWritesMetrics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.prom")

	cfg := DefaultConfig()
	cfg.Logging.Output = filepath.Join(t.TempDir(), "lem.log")
	cfg.Metrics.File = path

	tel, err := NewTelemetry(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewTelemetry failed: %v", err)
	}
	tel.Metrics.RunCompleted(engine.StatusFinished, time.Second)

	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read metrics file: %v", err)
	}
	if !strings.Contains(string(data), `lemniscat_runs_total{status="Finished"} 1`) {
		t.Errorf("Expected runs counter in metrics file, got:\n%s", data)
	}
}

func TestFromContext_Missing(t *testing.T) {
	if FromContext(context.Background()) != nil {
		t.Error("Expected nil telemetry for a bare context")
	}
}
