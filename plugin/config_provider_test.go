package plugin

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestMapConfigProvider_Getters(t *testing.T) {
	cfg := NewMapConfigProvider(map[string]any{
		"host":    "localhost",
		"port":    8080,
		"debug":   true,
		"timeout": "250ms",
	})

	if got := cfg.GetString("host", ""); got != "localhost" {
		t.Errorf("GetString(host) = %q, want %q", got, "localhost")
	}
	if got := cfg.GetString("missing", "default"); got != "default" {
		t.Errorf("GetString(missing) = %q, want %q", got, "default")
	}
	if got := cfg.GetInt("port", 0); got != 8080 {
		t.Errorf("GetInt(port) = %d, want %d", got, 8080)
	}
	if got := cfg.GetInt("missing", 3000); got != 3000 {
		t.Errorf("GetInt(missing) = %d, want %d", got, 3000)
	}
	if got := cfg.GetBool("debug", false); !got {
		t.Errorf("GetBool(debug) = %v, want true", got)
	}
	if got := cfg.GetDuration("timeout", time.Second); got != 250*time.Millisecond {
		t.Errorf("GetDuration(timeout) = %v, want 250ms", got)
	}
	if got := cfg.GetDuration("missing", time.Second); got != time.Second {
		t.Errorf("GetDuration(missing) = %v, want 1s", got)
	}
}

func TestMapConfigProvider_Get(t *testing.T) {
	cfg := NewMapConfigProvider(map[string]any{"key": "value"})

	val, ok := cfg.Get("key")
	if !ok || val != "value" {
		t.Errorf("Get(key) = (%v, %v), want (value, true)", val, ok)
	}
	if _, ok := cfg.Get("nope"); ok {
		t.Error("Get(nope) should return false")
	}
}

func TestMapConfigProvider_Bind(t *testing.T) {
	cfg := NewMapConfigProvider(map[string]any{
		"host": "localhost",
		"port": 8080,
	})

	type Config struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port"`
	}

	var target Config
	if err := cfg.Bind(&target); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if target.Host != "localhost" || target.Port != 8080 {
		t.Errorf("Bind = %+v", target)
	}
}

func TestViperConfig_IsEnabled(t *testing.T) {
	if !NewViperConfig(viper.New(), true).IsEnabled() {
		t.Error("should be enabled")
	}
	if NewViperConfig(nil, false).IsEnabled() {
		t.Error("should be disabled")
	}
}

func TestEmptyConfigProvider(t *testing.T) {
	cfg := EmptyConfig()
	if got := cfg.GetString("any", "fallback"); got != "fallback" {
		t.Errorf("empty config should return default, got %q", got)
	}
	if cfg.IsEnabled() {
		t.Error("empty config should not be enabled")
	}
}
