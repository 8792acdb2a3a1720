// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CheckerFunc adapts a function to the Checker interface.
type CheckerFunc struct {
	name  string
	check func(ctx context.Context) CheckResult
}

// NewCheckerFunc names check.
func NewCheckerFunc(name string, check func(ctx context.Context) CheckResult) *CheckerFunc {
	return &CheckerFunc{name: name, check: check}
}

func (c *CheckerFunc) Name() string                          { return c.name }
func (c *CheckerFunc) Check(ctx context.Context) CheckResult { return c.check(ctx) }

// NewTunerChecker reports the tuner pool. No loaded device is unhealthy,
// every device busy is degraded.
func NewTunerChecker(counts func() (loaded, available int)) *CheckerFunc {
	return NewCheckerFunc("tuners", func(context.Context) CheckResult {
		loaded, available := counts()
		switch {
		case loaded == 0:
			return CheckResult{Status: StatusUnhealthy, Error: "no tuner devices loaded"}
		case available == 0:
			return CheckResult{Status: StatusDegraded, Message: fmt.Sprintf("all %d tuners busy", loaded)}
		}
		return CheckResult{Status: StatusHealthy, Message: fmt.Sprintf("%d of %d tuners available", available, loaded)}
	})
}

// WritableDirChecker checks that a directory exists and accepts new files.
type WritableDirChecker struct {
	name string
	path string
}

// NewWritableDirChecker creates a checker for the directory at path.
func NewWritableDirChecker(name, path string) *WritableDirChecker {
	return &WritableDirChecker{name: name, path: path}
}

func (c *WritableDirChecker) Name() string {
	return c.name
}

func (c *WritableDirChecker) Check(context.Context) CheckResult {
	info, err := os.Stat(c.path)
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	if !info.IsDir() {
		return CheckResult{Status: StatusUnhealthy, Error: "path is not a directory", Message: c.path}
	}

	f, err := os.CreateTemp(c.path, ".health-*")
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: "directory is not writable", Message: err.Error()}
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(filepath.Clean(name))
	return CheckResult{Status: StatusHealthy, Message: "writable"}
}

// FileChecker checks if a file exists and is readable. An empty path is
// reported healthy as the file is optional.
type FileChecker struct {
	name string
	path string
}

// NewFileChecker creates a checker for file existence
func NewFileChecker(name, path string) *FileChecker {
	return &FileChecker{
		name: name,
		path: path,
	}
}

func (c *FileChecker) Name() string {
	return c.name
}

func (c *FileChecker) Check(context.Context) CheckResult {
	if c.path == "" {
		return CheckResult{
			Status:  StatusHealthy,
			Message: "not configured (optional)",
		}
	}

	info, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			// Written after the first gathering pass.
			return CheckResult{
				Status:  StatusDegraded,
				Error:   "file not found",
				Message: c.path,
			}
		}
		return CheckResult{
			Status: StatusUnhealthy,
			Error:  err.Error(),
		}
	}

	if info.IsDir() {
		return CheckResult{
			Status: StatusUnhealthy,
			Error:  "expected file, got directory",
		}
	}

	if info.Size() == 0 {
		return CheckResult{
			Status:  StatusDegraded,
			Message: "file is empty",
		}
	}

	return CheckResult{
		Status:  StatusHealthy,
		Message: "file exists and readable",
	}
}

// LastRunChecker checks the outcome and age of a periodic job.
type LastRunChecker struct {
	name       string
	maxAge     time.Duration
	getLastRun func() (time.Time, string)
}

// NewLastRunChecker creates a checker for a job expected to succeed at least
// once per maxAge. getLastRun returns the last successful run and the error
// of the latest failed one.
func NewLastRunChecker(name string, maxAge time.Duration, getLastRun func() (time.Time, string)) *LastRunChecker {
	return &LastRunChecker{
		name:       name,
		maxAge:     maxAge,
		getLastRun: getLastRun,
	}
}

func (c *LastRunChecker) Name() string {
	return c.name
}

// Check reports at most degraded.
func (c *LastRunChecker) Check(context.Context) CheckResult {
	lastRun, lastError := c.getLastRun()

	if lastError != "" {
		return CheckResult{
			Status:  StatusDegraded,
			Error:   lastError,
			Message: "last job run failed",
		}
	}

	if lastRun.IsZero() {
		return CheckResult{
			Status:  StatusHealthy,
			Message: "no job run yet",
		}
	}

	if c.maxAge > 0 && time.Since(lastRun) > c.maxAge {
		return CheckResult{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("last successful run over %s ago", c.maxAge),
		}
	}

	return CheckResult{
		Status:  StatusHealthy,
		Message: "last job run successful",
	}
}
