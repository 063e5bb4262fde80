package plugin

import (
	"time"

	"github.com/spf13/viper"
)

// ConfigProvider gives plugins type-safe access to their scoped configuration.
type ConfigProvider interface {
	Get(key string) (any, bool)
	GetString(key string, defaultVal string) string
	GetInt(key string, defaultVal int) int
	GetBool(key string, defaultVal bool) bool
	GetDuration(key string, defaultVal time.Duration) time.Duration
	Bind(target any) error
	IsEnabled() bool
}

// viperConfig scopes a viper sub-tree to one plugin.
type viperConfig struct {
	v       *viper.Viper
	enabled bool
}

// NewViperConfig wraps the plugin's settings sub-tree. A nil tree behaves like an empty one.
func NewViperConfig(v *viper.Viper, enabled bool) ConfigProvider {
	if v == nil {
		v = viper.New()
	}
	return &viperConfig{v: v, enabled: enabled}
}

// NewMapConfigProvider creates a ConfigProvider from a settings map (always enabled).
// Used for testing and inline configuration.
func NewMapConfigProvider(settings map[string]any) ConfigProvider {
	v := viper.New()
	_ = v.MergeConfigMap(settings)
	return &viperConfig{v: v, enabled: true}
}

func (c *viperConfig) Get(key string) (any, bool) {
	if !c.v.IsSet(key) {
		return nil, false
	}
	return c.v.Get(key), true
}

func (c *viperConfig) GetString(key string, defaultVal string) string {
	if !c.v.IsSet(key) {
		return defaultVal
	}
	return c.v.GetString(key)
}

func (c *viperConfig) GetInt(key string, defaultVal int) int {
	if !c.v.IsSet(key) {
		return defaultVal
	}
	return c.v.GetInt(key)
}

func (c *viperConfig) GetBool(key string, defaultVal bool) bool {
	if !c.v.IsSet(key) {
		return defaultVal
	}
	return c.v.GetBool(key)
}

func (c *viperConfig) GetDuration(key string, defaultVal time.Duration) time.Duration {
	if !c.v.IsSet(key) {
		return defaultVal
	}
	return c.v.GetDuration(key)
}

func (c *viperConfig) Bind(target any) error {
	return c.v.Unmarshal(target)
}

func (c *viperConfig) IsEnabled() bool {
	return c.enabled
}

// emptyConfig is a ConfigProvider that returns defaults for everything.
type emptyConfig struct{}

func (e *emptyConfig) Get(string) (any, bool)                              { return nil, false }
func (e *emptyConfig) GetString(_ string, d string) string                 { return d }
func (e *emptyConfig) GetInt(_ string, d int) int                          { return d }
func (e *emptyConfig) GetBool(_ string, d bool) bool                       { return d }
func (e *emptyConfig) GetDuration(_ string, d time.Duration) time.Duration { return d }
func (e *emptyConfig) Bind(any) error                                      { return nil }
func (e *emptyConfig) IsEnabled() bool                                     { return false }

// EmptyConfig returns a ConfigProvider that always returns defaults.
func EmptyConfig() ConfigProvider { return &emptyConfig{} }
