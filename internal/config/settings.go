package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Settings are workspace-level defaults read from devlink.yaml. Command-line
// flags override them per invocation.
type Settings struct {
	// Mode is the default resolution mode: auto, local, or npm.
	Mode string `mapstructure:"mode"`

	// Strict turns unresolved declared dependencies into hard plan failures.
	Strict bool `mapstructure:"strict"`

	// Roots lists additional workspace roots (absolute or root-relative)
	// scanned alongside the current one.
	Roots []string `mapstructure:"roots"`

	Policy PolicySettings `mapstructure:"policy"`
	Backup BackupSettings `mapstructure:"backup"`
}

// PolicySettings configure the planner and freeze policy.
type PolicySettings struct {
	// Pin is the freeze pin policy: exact or caret.
	Pin string `mapstructure:"pin"`

	// Deny lists dependency names or glob patterns never to act on.
	Deny []string `mapstructure:"deny"`
}

// BackupSettings configure backup retention.
type BackupSettings struct {
	// KeepCount is how many most-recent backups are always kept.
	KeepCount int `mapstructure:"keepCount"`

	// KeepDays keeps any backup younger than this many days.
	KeepDays int `mapstructure:"keepDays"`

	// MinAgeHours protects very fresh backups from cleanup.
	MinAgeHours int `mapstructure:"minAgeHours"`
}

// LoadSettings reads devlink.yaml from the workspace root, if present.
// A missing file yields the defaults; a malformed file is an error.
func LoadSettings(paths *Paths) (*Settings, error) {
	v := viper.New()
	v.SetConfigFile(paths.ConfigFile)
	v.SetConfigType("yaml")
	setDefaults(v)

	if fileExists(paths.ConfigFile) {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", paths.ConfigFile, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", paths.ConfigFile, err)
	}
	return &s, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "auto")
	v.SetDefault("strict", false)
	v.SetDefault("policy.pin", "caret")
	v.SetDefault("policy.deny", []string{})
	v.SetDefault("backup.keepCount", 20)
	v.SetDefault("backup.keepDays", 14)
	v.SetDefault("backup.minAgeHours", 1)
}
