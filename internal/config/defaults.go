package config

import (
	"os"
	"os/user"
	"path/filepath"
)

const appName = "chordd"

// EffectiveHome returns the home directory of the user chordd acts for.
// Reading /dev/input usually needs root, so under sudo this is the
// invoking user's home, not root's.
func EffectiveHome() string {
	if name := os.Getenv("SUDO_USER"); name != "" && name != "root" {
		if u, err := user.Lookup(name); err == nil && u.HomeDir != "" {
			return u.HomeDir
		}
		return filepath.Join("/home", name)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return os.TempDir()
}

// ConfigDir returns the chordd configuration directory.
//
// Resolution order:
//   - $CHORDD_CONFIG_DIR
//   - ~/.config/chordd of the sudo user, when running under sudo
//   - $XDG_CONFIG_HOME/chordd
//   - ~/.config/chordd
func ConfigDir() string {
	if dir := os.Getenv("CHORDD_CONFIG_DIR"); dir != "" {
		return dir
	}
	if os.Getenv("SUDO_USER") == "" {
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, appName)
		}
	}
	return filepath.Join(EffectiveHome(), ".config", appName)
}

// StateDir returns the directory for logs and other state.
func StateDir() string {
	if os.Getenv("SUDO_USER") == "" {
		if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
			return filepath.Join(xdg, appName)
		}
	}
	return filepath.Join(EffectiveHome(), ".local", "state", appName)
}

// DefaultLibraryPath is the library loaded when none is configured.
func DefaultLibraryPath() string {
	return filepath.Join(ConfigDir(), "lib", "english.zc")
}

// DefaultLogPath is the log file used when file output is enabled.
func DefaultLogPath() string {
	return filepath.Join(StateDir(), "chordd.log")
}

// SupportedConfigFormats returns the supported configuration file formats.
func SupportedConfigFormats() []string {
	return []string{
		"toml",
		"json",
		"yaml",
		"yml",
	}
}

// FindConfigFile returns the first config.<ext> in ConfigDir, or "" if
// there is none.
func FindConfigFile() string {
	dir := ConfigDir()
	for _, ext := range SupportedConfigFormats() {
		path := filepath.Join(dir, "config."+ext)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
