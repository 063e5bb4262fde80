package main

import (
	"fmt"

	"github.com/leeforge/lifecycle/plugin"
	"github.com/leeforge/lifecycle/plugin/examples/notes"
	"github.com/leeforge/lifecycle/runtime"
	"go.uber.org/zap"
)

// builtins maps plugin ids to the factories compiled into this binary.
var builtins = map[string]plugin.Factory{
	"notes": notes.New,
}

// bundledManifests are registered when the manifest directory does not declare them.
func bundledManifests() ([]*plugin.Manifest, error) {
	m, err := notes.Manifest()
	if err != nil {
		return nil, fmt.Errorf("bundled notes manifest: %w", err)
	}
	return []*plugin.Manifest{m}, nil
}

// discover reads dir, falling back to the bundled manifests for plugins it does not declare.
func discover(dir string, logger *zap.Logger) ([]*plugin.Manifest, error) {
	var manifests []*plugin.Manifest
	if dir != "" {
		found, err := plugin.LoadManifestDir(dir)
		if err != nil {
			logger.Warn("manifest directory not usable, using bundled manifests", zap.String("dir", dir), zap.Error(err))
		} else {
			manifests = found
		}
	}

	seen := make(map[string]bool, len(manifests))
	for _, m := range manifests {
		seen[m.ID] = true
	}
	bundled, err := bundledManifests()
	if err != nil {
		return nil, err
	}
	for _, m := range bundled {
		if !seen[m.ID] {
			manifests = append(manifests, m)
		}
	}
	return manifests, nil
}

// registerAll registers every manifest with a compiled-in factory and returns the skipped ids.
func registerAll(rt *runtime.Runtime, manifests []*plugin.Manifest, logger *zap.Logger) ([]string, error) {
	var skipped []string
	for _, m := range manifests {
		factory, ok := builtins[m.ID]
		if !ok {
			logger.Warn("no implementation compiled in for plugin, skipping", zap.String("plugin", m.ID))
			skipped = append(skipped, m.ID)
			continue
		}
		if err := rt.Register(m, factory); err != nil {
			return skipped, err
		}
	}
	return skipped, nil
}
