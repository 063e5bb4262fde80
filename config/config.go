package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/creasty/defaults"
	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ErrNoConfigFiles is returned when no file matches Options and AllowMissing is false.
var ErrNoConfigFiles = errors.New("no configuration files found")

var settingsValidator = validator.New(validator.WithRequiredStructEnabled())

func DefaultOptions() Options {
	basePath := os.Getenv("CONFIG_PATH")
	if basePath == "" {
		basePath = "config"
	}

	return Options{
		BasePath:  basePath,
		FileName:  "config",
		FileType:  "yaml",
		EnvPrefix: "PLUGIND",
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.BasePath == "" {
		o.BasePath = def.BasePath
	}
	if o.FileName == "" {
		o.FileName = def.FileName
	}
	if o.FileType == "" {
		o.FileType = def.FileType
	}
	if o.EnvPrefix == "" {
		o.EnvPrefix = def.EnvPrefix
	}
	if o.Mode == "" {
		o.Mode = CurrentMode()
	}
	return o
}

// NewConfig reads the configuration files selected by opts.
func NewConfig(opts Options) (*Config, error) {
	opts = opts.withDefaults()
	instance, err := CreateConfig(opts)
	if err != nil {
		return nil, err
	}
	return &Config{instance: instance, opts: opts}, nil
}

// Load reads the configuration and decodes it into validated Settings.
func Load(opts Options) (*Settings, *Config, error) {
	cfg, err := NewConfig(opts)
	if err != nil {
		return nil, nil, err
	}
	settings, err := cfg.Settings()
	if err != nil {
		return nil, nil, err
	}
	return settings, cfg, nil
}

// Settings decodes the current tree into Settings with defaults applied.
func (c *Config) Settings() (*Settings, error) {
	s := &Settings{}
	if err := c.BindWithDefaults(s); err != nil {
		return nil, err
	}
	if err := settingsValidator.Struct(s); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

// Bind decodes the current tree into target.
func (c *Config) Bind(target any) error {
	if c == nil || target == nil {
		return errors.New("bind: nil config or target")
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.instance.Unmarshal(target); err != nil {
		return fmt.Errorf("unmarshal config (path: %s, file: %s.%s): %w",
			c.opts.BasePath, c.opts.FileName, c.opts.FileType, err)
	}
	return nil
}

// BindWithDefaults applies `default` tags, then overlays the configured values.
func (c *Config) BindWithDefaults(target any) error {
	if err := defaults.Set(target); err != nil {
		return fmt.Errorf("set defaults: %w", err)
	}
	return c.Bind(target)
}

func (c *Config) Get(key string) any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.instance.Get(key)
}

func (c *Config) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.instance.Set(key, value)
}

// Sub returns a copy of the sub-tree at key, or an empty tree.
func (c *Config) Sub(key string) *viper.Viper {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if sub := c.instance.Sub(key); sub != nil {
		return sub
	}
	return viper.New()
}

// Files returns the files the current tree was read from, lowest priority first.
func (c *Config) Files() []string {
	return getConfigFilePaths(c.opts)
}

// Watch reloads the configuration whenever a file in BasePath changes and calls
// onChange with the new settings, or with the error that prevented reloading.
// It returns when ctx is done.
func (c *Config) Watch(ctx context.Context, logger *zap.Logger, onChange func(*Settings, error)) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(c.opts.BasePath); err != nil {
		return fmt.Errorf("watch %s: %w", c.opts.BasePath, err)
	}
	logger.Debug("watching configuration", zap.String("path", c.opts.BasePath))

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", zap.Error(err))
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) {
				continue
			}
			if !c.isConfigFile(ev.Name) {
				continue
			}
			logger.Info("configuration file changed", zap.String("file", ev.Name), zap.String("op", ev.Op.String()))
			settings, err := c.reload()
			if onChange != nil {
				onChange(settings, err)
			}
		}
	}
}

func (c *Config) reload() (*Settings, error) {
	instance, err := CreateConfig(c.opts)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.instance = instance
	c.mu.Unlock()
	return c.Settings()
}

func (c *Config) isConfigFile(path string) bool {
	name := filepath.Base(path)
	for _, candidate := range configFileNames(c.opts) {
		if name == candidate+"."+c.opts.FileType {
			return true
		}
	}
	return false
}

// CreateConfig merges the matching files, later ones overriding earlier ones, then
// applies environment overrides.
func CreateConfig(opts Options) (*viper.Viper, error) {
	opts = opts.withDefaults()
	configPaths := getConfigFilePaths(opts)
	if len(configPaths) == 0 && !opts.AllowMissing {
		return nil, fmt.Errorf("%w in %s", ErrNoConfigFiles, opts.BasePath)
	}

	v := viper.New()
	v.SetConfigType(opts.FileType)

	for _, configPath := range configPaths {
		tempV := viper.New()
		tempV.SetConfigFile(configPath)
		if err := tempV.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configPath, err)
		}
		if err := v.MergeConfigMap(tempV.AllSettings()); err != nil {
			return nil, fmt.Errorf("merge config file %s: %w", configPath, err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	if opts.EnvPrefix != "" {
		v.SetEnvPrefix(opts.EnvPrefix)
	}
	v.AutomaticEnv()

	applyEnvOverrides(v, opts.EnvPrefix)
	return v, nil
}

// applyEnvOverrides sets every known key that has a matching environment variable,
// e.g. coordinator.pool_size -> PLUGIND_COORDINATOR_POOL_SIZE.
func applyEnvOverrides(v *viper.Viper, envPrefix string) {
	replacer := strings.NewReplacer(".", "_")

	keys := append(v.AllKeys(), settingsKeys...)
	for _, key := range keys {
		envKey := strings.ToUpper(replacer.Replace(key))
		if envPrefix != "" {
			envKey = envPrefix + "_" + envKey
		}
		if envValue, ok := os.LookupEnv(envKey); ok && envValue != "" {
			v.Set(key, envValue)
		}
	}
}

// settingsKeys are overridable from the environment even when no file mentions them.
var settingsKeys = []string{
	"lifecycle.ui_ready_timeout",
	"uithread.queue_size",
	"uithread.lock_os_thread",
	"coordinator.pool_size",
	"introspect.addr",
	"plugins.manifest_dir",
	"plugins.autoload",
	"log.level",
	"log.format",
	"log.dir",
}

// configFileNames lists base names in priority order: base, local, mode, mode local.
func configFileNames(opts Options) []string {
	names := []string{opts.FileName, opts.FileName + ".local"}
	for _, alias := range opts.Mode.aliases() {
		names = append(names, opts.FileName+"."+alias, opts.FileName+"."+alias+".local")
	}
	return names
}

func getConfigFilePaths(opts Options) (configFiles []string) {
	for _, name := range configFileNames(opts) {
		file := filepath.Join(opts.BasePath, name+"."+opts.FileType)
		if info, err := os.Stat(file); err == nil && !info.IsDir() {
			configFiles = append(configFiles, file)
		}
	}
	return configFiles
}
