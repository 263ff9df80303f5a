package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points every directory lookup into a temp dir and clears the
// overrides a developer machine may have set.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CHORDD_CONFIG_DIR", dir)
	t.Setenv("SUDO_USER", "")
	t.Setenv("XDG_STATE_HOME", filepath.Join(dir, "state"))
	for _, name := range []string{
		"CHORDD_LIBRARY", "CHORDD_BASE_WINDOW_MS", "CHORDD_ROLL_THRESHOLD",
		"CHORDD_INJECT_BACKEND", "YDOTOOL_SOCKET", "CHORDD_YDOTOOL_SOCKET",
		"CHORDD_METRICS_LISTEN", "CHORDD_LOG_LEVEL", "CHORDD_LOG_FORMAT", "CHORDD_LOG_PATH",
	} {
		t.Setenv(name, "")
	}
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func TestDefaultConfig(t *testing.T) {
	dir := isolate(t)
	cfg := DefaultConfig()

	assert.Equal(t, Version, cfg.Version)
	assert.Equal(t, 150, cfg.Chord.BaseWindowMs)
	assert.InDelta(t, 0.6, cfg.Chord.RollThreshold, 1e-9)
	assert.InDelta(t, 0.5, cfg.Chord.TypingSpeedFactor, 1e-9)
	assert.InDelta(t, 0.3, cfg.Chord.MinOverlapRatio, 1e-9)
	assert.Equal(t, filepath.Join(dir, "lib", "english.zc"), cfg.Library.Path)
	assert.Equal(t, "ydotool", cfg.Inject.Backend)
	assert.Equal(t, "/tmp/.ydotool_socket", cfg.Inject.SocketPath)
	assert.False(t, cfg.Bus.Enabled)
	assert.False(t, cfg.Metrics.Enabled)

	timing := cfg.Timing()
	assert.Equal(t, 150*time.Millisecond, timing.BaseChordWindow)
	assert.InDelta(t, 0.6, timing.RollThreshold, 1e-9)
}

func TestDefaultConfigValidates(t *testing.T) {
	isolate(t)
	cfg := DefaultConfig()

	// The default library does not exist in a fresh home: warning only.
	fatal, warnings := splitValidation(cfg.Validate())
	require.NoError(t, fatal)
	require.Len(t, warnings, 1)
	assert.Equal(t, "library.path", warnings[0].Field)
}

func TestConfigDirResolution(t *testing.T) {
	t.Setenv("SUDO_USER", "")

	t.Setenv("CHORDD_CONFIG_DIR", "/etc/chordd-test")
	assert.Equal(t, "/etc/chordd-test", ConfigDir())
	assert.Equal(t, "/etc/chordd-test/config.toml", ConfigPath())

	t.Setenv("CHORDD_CONFIG_DIR", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, "/xdg/chordd", ConfigDir())

	t.Setenv("XDG_CONFIG_HOME", "")
	assert.True(t, strings.HasSuffix(ConfigDir(), filepath.Join(".config", "chordd")))
}

func TestEffectiveHomeUnderSudo(t *testing.T) {
	t.Setenv("SUDO_USER", "no-such-user-chordd")
	assert.Equal(t, "/home/no-such-user-chordd", EffectiveHome())

	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	t.Setenv("CHORDD_CONFIG_DIR", "")
	assert.Equal(t, "/home/no-such-user-chordd/.config/chordd", ConfigDir())
}

func TestLoadNonexistent(t *testing.T) {
	dir := isolate(t)

	cfg, err := Load(filepath.Join(dir, "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadFormats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "toml",
			file: "config.toml",
			content: `version = 1
[chord]
base_window_ms = 120
roll_threshold = 0.4
[library]
path = "~/chords/mine.zc"
[inject]
backend = "log"
`,
		},
		{
			name: "json",
			file: "config.json",
			content: `{"version": 1,
 "chord": {"base_window_ms": 120, "roll_threshold": 0.4},
 "library": {"path": "~/chords/mine.zc"},
 "inject": {"backend": "log"}}`,
		},
		{
			name: "yaml",
			file: "config.yaml",
			content: `version: 1
chord:
  base_window_ms: 120
  roll_threshold: 0.4
library:
  path: ~/chords/mine.zc
inject:
  backend: log
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := isolate(t)
			path := filepath.Join(dir, tt.file)
			writeFile(t, path, tt.content)

			cfg, err := Load(path)
			require.NoError(t, err)

			assert.Equal(t, 120, cfg.Chord.BaseWindowMs)
			assert.InDelta(t, 0.4, cfg.Chord.RollThreshold, 1e-9)
			assert.Equal(t, "log", cfg.Inject.Backend)
			assert.Equal(t, filepath.Join(EffectiveHome(), "chords", "mine.zc"), cfg.Library.Path)

			// Unset keys keep their defaults.
			assert.InDelta(t, 0.3, cfg.Chord.MinOverlapRatio, 1e-9)
			assert.Equal(t, 32, cfg.Inject.QueueSize)
		})
	}
}

func TestLoadAutoDetect(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "chordd.conf")
	writeFile(t, path, "[chord]\nbase_window_ms = 90\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 90, cfg.Chord.BaseWindowMs)

	writeFile(t, path, "not [valid in any format")
	_, err = Load(path)
	require.Error(t, err)
}

func TestSchemaRejectsUnknownKeys(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	writeFile(t, path, "[chord]\nbase_windw_ms = 90\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema validation")
}

func TestValidateDocument(t *testing.T) {
	tests := []struct {
		name    string
		format  string
		doc     string
		wantErr bool
	}{
		{"empty toml", "toml", "", false},
		{"empty yaml", ".yaml", "", false},
		{"valid json", "json", `{"bus": {"enabled": true}}`, false},
		{"wrong type", "toml", "[chord]\nbase_window_ms = \"fast\"\n", true},
		{"window too large", "toml", "[chord]\nbase_window_ms = 5000\n", true},
		{"bad backend", "yml", "inject:\n  backend: xdotool\n", true},
		{"unknown section", "json", `{"keyboard": {}}`, true},
		{"unsupported format", "ini", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDocument([]byte(tt.doc), tt.format)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	dir := isolate(t)
	t.Setenv("CHORDD_LIBRARY", "/opt/chords/en.zc")
	t.Setenv("CHORDD_BASE_WINDOW_MS", "200")
	t.Setenv("CHORDD_ROLL_THRESHOLD", "0.7")
	t.Setenv("CHORDD_INJECT_BACKEND", "log")
	t.Setenv("YDOTOOL_SOCKET", "/run/ydotool.sock")
	t.Setenv("CHORDD_METRICS_LISTEN", "127.0.0.1:9999")
	t.Setenv("CHORDD_LOG_LEVEL", "debug")

	cfg, err := Load(filepath.Join(dir, "config.toml"))
	require.NoError(t, err)

	assert.Equal(t, "/opt/chords/en.zc", cfg.Library.Path)
	assert.Equal(t, 200, cfg.Chord.BaseWindowMs)
	assert.InDelta(t, 0.7, cfg.Chord.RollThreshold, 1e-9)
	assert.Equal(t, "log", cfg.Inject.Backend)
	assert.Equal(t, "/run/ydotool.sock", cfg.Inject.SocketPath)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "127.0.0.1:9999", cfg.Metrics.Listen)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// The chordd-specific socket variable wins.
	t.Setenv("CHORDD_YDOTOOL_SOCKET", "/run/chordd.sock")
	cfg.ApplyEnvOverrides()
	assert.Equal(t, "/run/chordd.sock", cfg.Inject.SocketPath)

	// Unparseable numbers are ignored.
	t.Setenv("CHORDD_BASE_WINDOW_MS", "soon")
	cfg.ApplyEnvOverrides()
	assert.Equal(t, 200, cfg.Chord.BaseWindowMs)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		field   string
		warning bool
	}{
		{"zero window", func(c *Config) { c.Chord.BaseWindowMs = 0 }, "chord.base_window_ms", false},
		{"window too large", func(c *Config) { c.Chord.BaseWindowMs = MaxBaseWindowMs + 1 }, "chord.base_window_ms", false},
		{"threshold above one", func(c *Config) { c.Chord.RollThreshold = 1.5 }, "chord.roll_threshold", false},
		{"negative overlap", func(c *Config) { c.Chord.MinOverlapRatio = -0.1 }, "chord.min_overlap_ratio", false},
		{"negative speed factor", func(c *Config) { c.Chord.TypingSpeedFactor = -1 }, "chord.typing_speed_factor", false},
		{"future version", func(c *Config) { c.Version = Version + 1 }, "version", false},
		{"empty library", func(c *Config) { c.Library.Path = "" }, "library.path", false},
		{"library extension", func(c *Config) { c.Library.Path = "/tmp/chords.txt" }, "library.path", true},
		{"unknown backend", func(c *Config) { c.Inject.Backend = "xdotool" }, "inject.backend", false},
		{"missing socket", func(c *Config) { c.Inject.SocketPath = "" }, "inject.socket_path", false},
		{"empty queue", func(c *Config) { c.Inject.QueueSize = 0 }, "inject.queue_size", false},
		{"bad listen", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Listen = "nowhere" }, "metrics.listen", false},
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level", false},
		{"bad output", func(c *Config) { c.Logging.Output = "syslog" }, "logging.output", false},
		{"file without path", func(c *Config) { c.Logging.Output = "file"; c.Logging.FilePath = "" }, "logging.file_path", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := isolate(t)
			cfg := DefaultConfig()
			cfg.Library.Path = filepath.Join(dir, "english.zc")
			writeFile(t, cfg.Library.Path, "")
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var verrs ValidationErrors
			require.ErrorAs(t, err, &verrs)

			var found bool
			for _, v := range verrs {
				if v.Field == tt.field {
					found = true
					assert.Equal(t, tt.warning, v.Warning)
				}
			}
			assert.True(t, found, "no error for %s in %v", tt.field, verrs)
			assert.Equal(t, !tt.warning, verrs.HasErrors())
		})
	}
}

func TestLoaderRejectsInvalidConfig(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	writeFile(t, path, "[inject]\nqueue_size = 1\nsocket_path = \"\"\n")

	_, err := NewLoader(path).Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoaderWarnings(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	writeFile(t, path, "[library]\npath = \"/nonexistent/english.zc\"\n")

	loader := NewLoader(path)
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Same(t, cfg, loader.Config())
	require.Len(t, loader.Warnings(), 1)
	assert.True(t, loader.Warnings()[0].Warning)
}

func TestLoaderWatchReloads(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")
	writeFile(t, path, "[chord]\nbase_window_ms = 100\n")

	loader := NewLoader(path)
	t.Cleanup(func() { loader.Close() })
	_, err := loader.Load()
	require.NoError(t, err)

	changed := make(chan *Config, 4)
	loader.OnChange(func(c *Config) { changed <- c })
	require.NoError(t, loader.Watch())

	writeFile(t, path, "[chord]\nbase_window_ms = 110\n")

	select {
	case c := <-changed:
		assert.Equal(t, 110, c.Chord.BaseWindowMs)
		assert.Equal(t, 110, loader.Config().Chord.BaseWindowMs)
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}

	// A broken rewrite keeps the last good config.
	writeFile(t, path, "[chord]\nbase_window_ms = -5\n")
	select {
	case err := <-loader.Errors():
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("reload error was not reported")
	}
	assert.Equal(t, 110, loader.Config().Chord.BaseWindowMs)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	for _, ext := range []string{".toml", ".json", ".yaml"} {
		t.Run(ext, func(t *testing.T) {
			dir := isolate(t)
			path := filepath.Join(dir, "nested", "config"+ext)

			cfg := DefaultConfig()
			cfg.Chord.BaseWindowMs = 175
			cfg.Bus.Enabled = true
			require.NoError(t, SaveConfig(cfg, path))

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

			loaded, err := loadConfigFromFile(path)
			require.NoError(t, err)
			assert.Equal(t, cfg, loaded)
		})
	}
}

func TestEncodeTOML(t *testing.T) {
	isolate(t)
	cfg := DefaultConfig()

	data, err := cfg.EncodeTOML()
	require.NoError(t, err)
	assert.Contains(t, string(data), "base_window_ms = 150")

	decoded := &Config{}
	_, err = toml.Decode(string(data), decoded)
	require.NoError(t, err)
	assert.Equal(t, cfg, decoded)
}

func TestLoadOrCreate(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")

	cfg, created, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 150, cfg.Chord.BaseWindowMs)
	assert.FileExists(t, path)

	_, created, err = LoadOrCreate(path)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestBackupConfig(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.toml")

	backup, err := BackupConfig(path)
	require.NoError(t, err)
	assert.Empty(t, backup)

	writeFile(t, path, "version = 1\n")
	backup, err = BackupConfig(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(backup, path+".backup-"))

	data, err := os.ReadFile(backup)
	require.NoError(t, err)
	assert.Equal(t, "version = 1\n", string(data))
}
