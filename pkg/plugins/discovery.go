package plugins

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lemniscat/lemniscat/pkg/engine"
)

// Discover loads every plugin found in dirs. A directory is a plugin when
// it holds plugin.yaml itself or one level down. Broken plugins are
// reported in the returned errors and skipped. When two plugins share an
// alias the first one found wins.
func (h *Host) Discover(ctx context.Context, dirs []string) ([]*Plugin, []error) {
	var (
		found []*Plugin
		errs  []error
		seen  = make(map[string]string)
	)

	for _, root := range dirs {
		candidates, err := pluginDirs(root)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		for _, dir := range candidates {
			p, err := h.Load(ctx, dir, nil)
			if err != nil {
				errs = append(errs, fmt.Errorf("plugin %s: %w", dir, err))
				continue
			}
			alias := p.Descriptor.Alias
			if first, dup := seen[alias]; dup {
				errs = append(errs, fmt.Errorf("plugin %s: alias %s already provided by %s", dir, alias, first))
				_ = p.Close(ctx)
				continue
			}
			seen[alias] = dir
			found = append(found, p)
		}
	}

	h.logger.Debug().Int("plugins", len(found)).Int("errors", len(errs)).Msg("Plugin discovery complete")
	return found, errs
}

// pluginDirs lists root and its immediate subdirectories that contain a
// descriptor, sorted by path.
func pluginDirs(root string) ([]string, error) {
	if _, err := os.Stat(filepath.Join(root, DescriptorFile)); err == nil {
		return []string{root}, nil
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read plugin directory %s: %w", root, err)
	}

	var dirs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if _, err := os.Stat(filepath.Join(dir, DescriptorFile)); err == nil {
			dirs = append(dirs, dir)
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

// CheckRequirements compares manifest requirements with the available
// executors, given as alias to version. Nothing is installed; each
// problem is returned as a message for the caller to log.
func CheckRequirements(requirements []engine.Requirement, available map[string]string) []string {
	var problems []string
	for _, req := range requirements {
		version, ok := available[req.Name]
		if !ok {
			problems = append(problems, fmt.Sprintf("required plugin %s is not installed", req.Name))
			continue
		}
		if req.Version != "" && version != "" && normalizeVersion(req.Version) != normalizeVersion(version) {
			problems = append(problems, fmt.Sprintf("required plugin %s version %s does not match installed version %s",
				req.Name, req.Version, version))
		}
	}
	return problems
}

func normalizeVersion(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}
