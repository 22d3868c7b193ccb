package manifest

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/lemniscat/lemniscat/pkg/config"
	"github.com/lemniscat/lemniscat/pkg/engine"
	"github.com/lemniscat/lemniscat/pkg/variables"
)

// prefixSeparator joins a template display name to the display names of
// the tasks it contributes.
const prefixSeparator = " - "

// builder turns decoded task entries into engine tasks.
type builder struct {
	loader  *Loader
	pool    *variables.Pool
	sources []string
}

// expand flattens entries into tasks. Template paths are resolved relative
// to dir, and stack holds the files currently being expanded.
func (b *builder) expand(entries []TaskEntry, dir, prefix string, stack []string) ([]*engine.Task, error) {
	var tasks []*engine.Task
	for _, entry := range entries {
		switch {
		case entry.Task != nil:
			tasks = append(tasks, newTask(entry.Task, prefix))
		case entry.Template != nil:
			expanded, err := b.expandTemplate(entry.Template, dir, prefix, stack)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, expanded...)
		}
	}
	return tasks, nil
}

func (b *builder) expandTemplate(ref *TemplateRef, dir, prefix string, stack []string) ([]*engine.Task, error) {
	including := stack[len(stack)-1]

	// Sensitive values never select a file.
	rel := b.pool.InterpolateNonSensitive(ref.Template)
	path := rel
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	path = filepath.Clean(path)

	for _, open := range stack {
		if open == path {
			cycle := append(append([]string(nil), stack...), path)
			return nil, invalid(newError(including, nil,
				fmt.Sprintf("template cycle: %s", strings.Join(cycle, " -> "))))
		}
	}

	tree, err := readTree(path)
	if err != nil {
		return nil, invalid(newError(including, err,
			fmt.Sprintf("failed to read template %s: %v", rel, err)))
	}
	if err := b.loader.schemas.Validate(config.SchemaTemplate, tree); err != nil {
		return nil, invalid(schemaError(path, err))
	}

	// Accept a bare list as well as a tasks key.
	if list, ok := tree.([]any); ok {
		tree = map[string]any{"tasks": list}
	}
	if tree == nil {
		tree = map[string]any{}
	}

	var file templateFile
	if err := b.loader.decode(path, interpolateTree(b.pool, tree), &file); err != nil {
		return nil, invalid(err)
	}

	b.sources = appendUnique(b.sources, path)
	if ref.DisplayName != "" {
		prefix += ref.DisplayName + prefixSeparator
	}

	b.loader.logger.Debug().
		Str("template", path).
		Str("included_by", including).
		Int("entries", len(file.Tasks)).
		Msg("Expanding template")

	return b.expand(file.Tasks, filepath.Dir(path), prefix, append(stack, path))
}

func newTask(spec *TaskSpec, prefix string) *engine.Task {
	display := spec.DisplayName
	if display == "" {
		display = spec.Task
	}

	t := &engine.Task{
		ID:          uuid.NewString(),
		Name:        spec.Task,
		DisplayName: prefix + display,
		Parameters:  spec.Parameters,
		Phases:      append(spec.Steps[:0:0], spec.Steps...),
		Status:      engine.StatusPending,
	}
	if spec.Condition != nil {
		cond := *spec.Condition
		t.Condition = &cond
	}
	if t.Parameters == nil {
		t.Parameters = map[string]any{}
	}
	return t
}

func appendUnique(list []string, s string) []string {
	for _, item := range list {
		if item == s {
			return list
		}
	}
	return append(list, s)
}
