package config

import (
	"os"
	"strings"
)

// ModeEnvKey selects the environment mode when Options.Mode is empty.
const ModeEnvKey = "GO_ENV_MODE"

// Mode is the deployment environment; it decides which override files are read.
type Mode string

const (
	DevMode  Mode = "development"
	ProMode  Mode = "production"
	TestMode Mode = "test"
)

// ParseMode normalizes a mode name. Unknown and empty names mean development.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "production", "prod", "pro":
		return ProMode
	case "test", "testing":
		return TestMode
	default:
		return DevMode
	}
}

// CurrentMode reads the mode from the environment.
func CurrentMode() Mode {
	return ParseMode(os.Getenv(ModeEnvKey))
}

// aliases lists the file name suffixes accepted for a mode besides its full name.
func (m Mode) aliases() []string {
	switch m {
	case ProMode:
		return []string{"pro", "prod", "production"}
	case TestMode:
		return []string{"test"}
	default:
		return []string{"dev", "development"}
	}
}
