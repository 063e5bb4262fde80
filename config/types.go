package config

import (
	"sync"
	"time"

	"github.com/leeforge/lifecycle/logging"
	"github.com/spf13/viper"
)

// Options controls where configuration files are looked up.
type Options struct {
	BasePath  string
	FileName  string
	FileType  string
	EnvPrefix string
	Mode      Mode // default CurrentMode()
	// AllowMissing lets Load succeed with defaults when no file exists.
	AllowMissing bool
}

// Config is a loaded configuration tree. It is safe for concurrent use and may be
// reloaded in place by Watch.
type Config struct {
	opts Options

	mu       sync.RWMutex
	instance *viper.Viper
}

// Settings is the daemon configuration.
type Settings struct {
	Lifecycle   LifecycleSettings   `mapstructure:"lifecycle"`
	UIThread    UIThreadSettings    `mapstructure:"uithread"`
	Coordinator CoordinatorSettings `mapstructure:"coordinator"`
	Introspect  IntrospectSettings  `mapstructure:"introspect"`
	Plugins     PluginSettings      `mapstructure:"plugins"`
	Log         logging.Config      `mapstructure:"log"`
}

type LifecycleSettings struct {
	// UIReadyTimeout bounds the wait for a plugin UI during load. Zero skips the wait.
	UIReadyTimeout time.Duration `mapstructure:"ui_ready_timeout" default:"5s" validate:"gte=0"`
}

type UIThreadSettings struct {
	QueueSize    int  `mapstructure:"queue_size" default:"64" validate:"gt=0"`
	LockOSThread bool `mapstructure:"lock_os_thread"`
}

type CoordinatorSettings struct {
	PoolSize int `mapstructure:"pool_size" default:"8" validate:"gt=0,lte=256"`
}

type IntrospectSettings struct {
	Addr string `mapstructure:"addr" default:":8086" validate:"required"`
}

type PluginSettings struct {
	ManifestDir string `mapstructure:"manifest_dir" default:"plugins" validate:"required"`
	AutoLoad    bool   `mapstructure:"autoload" default:"true"`
}
