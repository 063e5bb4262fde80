package plugin

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Manifest is the static description of a plugin produced by discovery.
// It must not be mutated once loaded; callers share the same pointer.
type Manifest struct {
	ID          string              `json:"id" yaml:"id" validate:"required,max=64,pluginid"`
	Name        string              `json:"name" yaml:"name"`
	Version     string              `json:"version" yaml:"version" default:"0.0.0" validate:"semver"`
	Description string              `json:"description,omitempty" yaml:"description,omitempty"`
	Hooks       map[HookKind]string `json:"hooks,omitempty" yaml:"hooks,omitempty" validate:"omitempty,dive,keys,hookkind,endkeys,required,hooktarget"`
	AutoLoad    bool                `json:"autoLoad,omitempty" yaml:"auto_load,omitempty"`
	Optional    bool                `json:"optional,omitempty" yaml:"optional,omitempty"`
}

// Hook returns the target descriptor declared for kind.
func (m *Manifest) Hook(kind HookKind) (string, bool) {
	if m == nil || m.Hooks == nil {
		return "", false
	}
	target, ok := m.Hooks[kind]
	return target, ok
}

// DeclaredHooks returns the declared hook kinds, sorted.
func (m *Manifest) DeclaredHooks() []HookKind {
	if m == nil {
		return nil
	}
	kinds := make([]HookKind, 0, len(m.Hooks))
	for k := range m.Hooks {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

var (
	pluginIDPattern   = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)
	hookTargetPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

	manifestValidator = newManifestValidator()
)

func newManifestValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("pluginid", func(fl validator.FieldLevel) bool {
		return pluginIDPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("hookkind", func(fl validator.FieldLevel) bool {
		_, err := ParseHookKind(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("hooktarget", func(fl validator.FieldLevel) bool {
		return hookTargetPattern.MatchString(fl.Field().String())
	})
	return v
}

// ParseManifest decodes a manifest in the given format ("json" or "yaml"),
// applies defaults and validates it.
func ParseManifest(data []byte, format string) (*Manifest, error) {
	m := &Manifest{}
	if err := defaults.Set(m); err != nil {
		return nil, fmt.Errorf("manifest defaults: %w", err)
	}

	switch strings.ToLower(format) {
	case "json":
		if err := json.Unmarshal(data, m); err != nil {
			return nil, fmt.Errorf("decode json manifest: %w", err)
		}
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, m); err != nil {
			return nil, fmt.Errorf("decode yaml manifest: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported manifest format %q", format)
	}

	if m.Name == "" {
		m.Name = m.ID
	}
	if err := manifestValidator.Struct(m); err != nil {
		return nil, fmt.Errorf("invalid manifest %q: %w", m.ID, err)
	}
	return m, nil
}

// LoadManifest reads a manifest file; the format follows the file extension.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	m, err := ParseManifest(data, strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// LoadManifestDir loads every *.json, *.yaml and *.yml manifest in dir.
// Duplicate plugin ids are rejected.
func LoadManifestDir(dir string) ([]*Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read manifest dir %s: %w", dir, err)
	}

	var manifests []*Manifest
	seen := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".json", ".yaml", ".yml":
		default:
			continue
		}

		path := filepath.Join(dir, entry.Name())
		m, err := LoadManifest(path)
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[m.ID]; dup {
			return nil, fmt.Errorf("plugin %q declared by both %s and %s", m.ID, prev, path)
		}
		seen[m.ID] = path
		manifests = append(manifests, m)
	}
	return manifests, nil
}
