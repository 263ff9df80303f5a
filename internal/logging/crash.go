package logging

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"chordd/internal/config"
)

// CrashReport represents information about a crash.
type CrashReport struct {
	Timestamp    time.Time         `json:"timestamp"`
	Version      string            `json:"version"`
	GoVersion    string            `json:"go_version"`
	GOOS         string            `json:"goos"`
	GOARCH       string            `json:"goarch"`
	NumGoroutine int               `json:"num_goroutine"`
	PanicValue   string            `json:"panic_value"`
	StackTrace   string            `json:"stack_trace"`
	Goroutine    string            `json:"goroutine,omitempty"`
	Context      map[string]string `json:"context,omitempty"`
}

// CrashHandler writes a JSON report for panics in the daemon's
// goroutines. Key codes and typed text are never included.
type CrashHandler struct {
	mu       sync.Mutex
	crashDir string
	version  string
	logger   *slog.Logger
	now      func() time.Time
}

// DefaultCrashDir returns the directory crash reports are written to.
func DefaultCrashDir() string {
	return filepath.Join(config.StateDir(), "crashes")
}

// NewCrashHandler creates a CrashHandler. An empty dir means
// DefaultCrashDir.
func NewCrashHandler(dir, version string, logger *slog.Logger) *CrashHandler {
	if dir == "" {
		dir = DefaultCrashDir()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &CrashHandler{
		crashDir: dir,
		version:  version,
		logger:   logger,
		now:      time.Now,
	}
}

// Dir returns the crash report directory.
func (h *CrashHandler) Dir() string {
	return h.crashDir
}

// Go runs fn on a new goroutine. A panic in fn is recorded and then
// re-raised, so the process still dies with the original stack.
func (h *CrashHandler) Go(name string, fn func()) {
	go func() {
		defer h.Repanic(name)
		fn()
	}()
}

// Repanic records a panic in the calling goroutine and panics again.
// Use it directly in a defer statement.
func (h *CrashHandler) Repanic(goroutine string) {
	if r := recover(); r != nil {
		h.HandlePanic(r, goroutine, nil)
		panic(r)
	}
}

// Recover runs fn and records, then swallows, any panic. It reports
// whether fn panicked.
func (h *CrashHandler) Recover(goroutine string, fn func()) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			h.HandlePanic(r, goroutine, nil)
		}
	}()
	fn()
	return false
}

// HandlePanic writes a crash report for panicValue.
func (h *CrashHandler) HandlePanic(panicValue any, goroutine string, contextInfo map[string]string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	report := CrashReport{
		Timestamp:    h.now().UTC(),
		Version:      h.version,
		GoVersion:    runtime.Version(),
		GOOS:         runtime.GOOS,
		GOARCH:       runtime.GOARCH,
		NumGoroutine: runtime.NumGoroutine(),
		PanicValue:   fmt.Sprintf("%v", panicValue),
		StackTrace:   string(debug.Stack()),
		Goroutine:    goroutine,
		Context:      contextInfo,
	}

	path, err := h.writeCrashDump(report)
	if err != nil {
		h.logger.Error("write crash report failed", "error", err, "panic", report.PanicValue)
		return
	}
	h.logger.Error("panic recorded", "goroutine", goroutine, "panic", report.PanicValue, "report", path)
}

func (h *CrashHandler) writeCrashDump(report CrashReport) (string, error) {
	if err := os.MkdirAll(h.crashDir, 0750); err != nil {
		return "", fmt.Errorf("create crash directory: %w", err)
	}

	filename := fmt.Sprintf("crash-%s.json", report.Timestamp.Format("20060102-150405.000000000"))
	path := filepath.Join(h.crashDir, filename)

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal crash report: %w", err)
	}

	if err := os.WriteFile(path, data, 0640); err != nil {
		return "", fmt.Errorf("write crash report: %w", err)
	}
	return path, nil
}

// CrashReports returns the reports in the crash directory.
func (h *CrashHandler) CrashReports() ([]CrashReport, error) {
	files, err := filepath.Glob(filepath.Join(h.crashDir, "crash-*.json"))
	if err != nil {
		return nil, err
	}

	reports := make([]CrashReport, 0, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			continue
		}

		var report CrashReport
		if err := json.Unmarshal(data, &report); err != nil {
			continue
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// CleanupOldCrashReports removes crash reports older than maxAge and
// returns how many were removed.
func (h *CrashHandler) CleanupOldCrashReports(maxAge time.Duration) (int, error) {
	files, err := filepath.Glob(filepath.Join(h.crashDir, "crash-*.json"))
	if err != nil {
		return 0, err
	}

	cutoff := h.now().Add(-maxAge)
	removed := 0
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) && os.Remove(file) == nil {
			removed++
		}
	}
	return removed, nil
}
