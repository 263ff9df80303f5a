package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
)

// MaxBaseWindowMs caps the chord window. Longer windows make ordinary
// typing unusable.
const MaxBaseWindowMs = 1000

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
	Warning bool
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// ValidateConfig performs comprehensive validation of the configuration.
// The returned error, if any, is a ValidationErrors that may hold only
// warnings; use HasErrors to decide whether it is fatal.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateChord(&c.Chord)...)
	errs = append(errs, validateLibrary(&c.Library)...)
	errs = append(errs, validateInject(&c.Inject)...)
	errs = append(errs, validateMetrics(&c.Metrics)...)
	errs = append(errs, validateLogging(&c.Logging)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateChord(ch *ChordConfig) ValidationErrors {
	var errs ValidationErrors

	if ch.BaseWindowMs <= 0 || ch.BaseWindowMs > MaxBaseWindowMs {
		errs = append(errs, *RangeError("chord.base_window_ms", 1, MaxBaseWindowMs))
	}
	if ch.RollThreshold < 0 || ch.RollThreshold > 1 {
		errs = append(errs, *RangeError("chord.roll_threshold", 0.0, 1.0))
	}
	if ch.MinOverlapRatio < 0 || ch.MinOverlapRatio > 1 {
		errs = append(errs, *RangeError("chord.min_overlap_ratio", 0.0, 1.0))
	}
	if ch.TypingSpeedFactor < 0 {
		errs = append(errs, ValidationError{
			Field:   "chord.typing_speed_factor",
			Message: "typing speed factor cannot be negative",
		})
	}

	return errs
}

func validateLibrary(l *LibraryConfig) ValidationErrors {
	var errs ValidationErrors

	if l.Path == "" {
		errs = append(errs, *RequiredFieldError("library.path"))
		return errs
	}
	if _, err := os.Stat(l.Path); err != nil {
		// The library may be installed after the config is written.
		errs = append(errs, ValidationError{
			Field:   "library.path",
			Message: fmt.Sprintf("library not readable: %v", err),
			Warning: true,
		})
	}
	if ext := filepath.Ext(l.Path); ext != ".zc" {
		errs = append(errs, ValidationError{
			Field:   "library.path",
			Message: fmt.Sprintf("unexpected library extension %q (want .zc)", ext),
			Warning: true,
		})
	}

	return errs
}

func validateInject(i *InjectConfig) ValidationErrors {
	var errs ValidationErrors

	switch i.Backend {
	case "ydotool", "log":
	default:
		errs = append(errs, ValidationError{
			Field:   "inject.backend",
			Message: fmt.Sprintf("invalid backend: %s (valid: ydotool, log)", i.Backend),
		})
	}

	if i.Backend == "ydotool" && i.SocketPath == "" {
		errs = append(errs, *RequiredFieldError("inject.socket_path"))
	}

	if i.QueueSize < 1 {
		errs = append(errs, ValidationError{
			Field:   "inject.queue_size",
			Message: "queue size must be at least 1",
		})
	}

	return errs
}

func validateMetrics(m *MetricsConfig) ValidationErrors {
	var errs ValidationErrors

	if !m.Enabled {
		return errs
	}
	if _, _, err := net.SplitHostPort(m.Listen); err != nil {
		errs = append(errs, ValidationError{
			Field:   "metrics.listen",
			Message: fmt.Sprintf("invalid listen address %q: %v", m.Listen, err),
		})
	}

	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
		// Valid formats
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: "file path is required when output is 'file' or 'both'",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stdout, stderr, file, both)", l.Output),
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_size_mb",
			Message: "max size must be at least 1 MB",
		})
	}

	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}

	if l.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_age_days",
			Message: "max age cannot be negative",
		})
	}

	return errs
}

// Helper functions

func expandPath(path string) string {
	if path == "~" {
		return EffectiveHome()
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(EffectiveHome(), path[2:])
	}
	return path
}

// Warnings returns only warning-level validation errors.
func (e ValidationErrors) Warnings() ValidationErrors {
	var warnings ValidationErrors
	for _, err := range e {
		if err.Warning {
			warnings = append(warnings, err)
		}
	}
	return warnings
}

// Errors returns only error-level validation errors.
func (e ValidationErrors) Errors() ValidationErrors {
	var errs ValidationErrors
	for _, err := range e {
		if !err.Warning {
			errs = append(errs, err)
		}
	}
	return errs
}

// HasErrors returns true if there are any non-warning errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e.Errors()) > 0
}

// RequiredFieldError creates a validation error for a required field.
func RequiredFieldError(field string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: "required field is missing",
	}
}

// RangeError creates a validation error for an out-of-range value.
func RangeError(field string, min, max any) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("value must be between %v and %v", min, max),
	}
}

// ErrInvalidConfig is returned when validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")

// splitValidation separates fatal errors from warnings in the result of
// ValidateConfig.
func splitValidation(err error) (fatal error, warnings ValidationErrors) {
	if err == nil {
		return nil, nil
	}
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		return err, nil
	}
	if verrs.HasErrors() {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, verrs.Errors()), verrs.Warnings()
	}
	return nil, verrs.Warnings()
}
