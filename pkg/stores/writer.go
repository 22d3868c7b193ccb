package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/lemniscat/lemniscat/pkg/engine"
)

// Format identifies an output context encoding.
type Format string

const (
	FormatJSON   Format = "json"
	FormatYAML   Format = "yaml"
	FormatSQLite Format = "sqlite"
)

// FormatFor returns the format implied by the extension of path.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".db", ".sqlite", ".sqlite3":
		return FormatSQLite
	default:
		return FormatJSON
	}
}

// NewWriter returns the snapshot writer for path.
func NewWriter(path string, logger zerolog.Logger) (engine.SnapshotWriter, error) {
	if path == "" {
		return nil, fmt.Errorf("output path is required")
	}
	logger = logger.With().Str("component", "stores").Str("path", path).Logger()

	switch FormatFor(path) {
	case FormatYAML:
		return &FileWriter{path: path, format: FormatYAML, logger: logger}, nil
	case FormatSQLite:
		return NewSQLiteWriter(path, logger), nil
	default:
		return &FileWriter{path: path, format: FormatJSON, logger: logger}, nil
	}
}

// FileWriter writes the snapshot as a JSON or YAML document.
type FileWriter struct {
	path   string
	format Format
	logger zerolog.Logger
}

// WriteSnapshot implements engine.SnapshotWriter. Keys are written in
// lexical order.
func (w *FileWriter) WriteSnapshot(ctx context.Context, runID string, snapshot map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if snapshot == nil {
		snapshot = map[string]any{}
	}

	var (
		data []byte
		err  error
	)
	switch w.format {
	case FormatYAML:
		data, err = yaml.Marshal(snapshot)
	default:
		data, err = json.MarshalIndent(snapshot, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("failed to encode output context: %w", err)
	}

	if err := writeFileAtomic(w.path, data); err != nil {
		return err
	}

	w.logger.Debug().
		Str("run_id", runID).
		Str("format", string(w.format)).
		Int("variables", len(snapshot)).
		Msg("Output context written")
	return nil
}

// writeFileAtomic writes data to a temporary file next to path and renames
// it into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write output context: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write output context: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to write output context: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write output context: %w", err)
	}
	return nil
}
