// Package doctor runs environment diagnostics: can the store be read,
// does it pass schema validation, is the text view parseable, and is the
// home directory usable for atomic writes.
package doctor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/basket/taskhold/internal/audit"
	"github.com/basket/taskhold/internal/config"
	"github.com/basket/taskhold/internal/mdsync"
	"github.com/basket/taskhold/internal/store"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Run executes all diagnostic checks.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, *config.Config) CheckResult{
		checkConfig,
		checkStoreDocument,
		checkTextView,
		checkAuditLog,
		checkPermissions,
	}

	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}

	return d
}

func checkConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: "FAIL", Message: "Configuration not loaded"}
	}
	return CheckResult{
		Name:    "Config",
		Status:  "PASS",
		Message: fmt.Sprintf("Loaded from %s (%s)", cfg.HomeDir, cfg.Fingerprint()),
	}
}

func checkStoreDocument(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Store", Status: "SKIP", Message: "Config missing"}
	}
	data, err := os.ReadFile(cfg.StorePath)
	if err != nil {
		if os.IsNotExist(err) {
			return CheckResult{Name: "Store", Status: "PASS", Message: "No store file yet (fresh home)"}
		}
		return CheckResult{Name: "Store", Status: "FAIL", Message: fmt.Sprintf("Read failed: %v", err)}
	}
	if err := store.ValidateDocument(data); err != nil {
		return CheckResult{
			Name:    "Store",
			Status:  "FAIL",
			Message: "Schema validation failed",
			Detail:  err.Error(),
		}
	}
	return CheckResult{Name: "Store", Status: "PASS", Message: fmt.Sprintf("%s valid (%d bytes)", cfg.StorePath, len(data))}
}

func checkTextView(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Text View", Status: "SKIP", Message: "Config missing"}
	}
	data, err := os.ReadFile(cfg.MarkdownPath)
	if err != nil {
		if os.IsNotExist(err) {
			return CheckResult{Name: "Text View", Status: "PASS", Message: "Not rendered yet"}
		}
		return CheckResult{Name: "Text View", Status: "FAIL", Message: fmt.Sprintf("Read failed: %v", err)}
	}
	root, err := mdsync.MarkdownCodec().Parse(data)
	if err != nil {
		return CheckResult{
			Name:    "Text View",
			Status:  "WARN",
			Message: "Parse failed; sync will report conflicts",
			Detail:  err.Error(),
		}
	}
	return CheckResult{Name: "Text View", Status: "PASS", Message: fmt.Sprintf("%d task(s) parsed", len(root.Tasks))}
}

func checkAuditLog(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Audit", Status: "SKIP", Message: "Config missing"}
	}
	log, err := audit.Open(cfg.HomeDir)
	if err != nil {
		return CheckResult{Name: "Audit", Status: "FAIL", Message: fmt.Sprintf("Open failed: %v", err)}
	}
	defer log.Close()
	return CheckResult{Name: "Audit", Status: "PASS", Message: "JSONL and sqlite sinks writable"}
}

func checkPermissions(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Permissions", Status: "SKIP", Message: "Config missing"}
	}

	// Persistence relies on temp-file-then-rename in the home directory,
	// so probe exactly that.
	tmp := filepath.Join(cfg.HomeDir, ".write_test.tmp")
	final := filepath.Join(cfg.HomeDir, ".write_test")
	if err := os.WriteFile(tmp, []byte("test"), 0o600); err != nil {
		return CheckResult{Name: "Permissions", Status: "FAIL", Message: fmt.Sprintf("Home dir unwritable: %v", err)}
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return CheckResult{Name: "Permissions", Status: "FAIL", Message: fmt.Sprintf("Atomic rename failed: %v", err)}
	}
	os.Remove(final)

	return CheckResult{Name: "Permissions", Status: "PASS", Message: "Home directory supports atomic writes"}
}
