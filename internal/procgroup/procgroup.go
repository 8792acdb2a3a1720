// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package procgroup starts capture and decoder processes in their own process
// group and tears the whole group down on termination.
package procgroup

import (
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/ManuGH/tunerd/internal/metrics"
)

// Terminate attempts to gracefully stop a process group.
// It sends the platform stop request (SIGTERM, or a newline on stdin where POSIX
// signals are unavailable), waits for done to close, and sends SIGKILL once grace
// elapses. A non-positive grace selects the platform default.
// It is safe to call on nil commands.
func Terminate(cmd *exec.Cmd, stdin io.Writer, done <-chan struct{}, grace time.Duration) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	if grace <= 0 {
		grace = defaultGrace()
	}

	sig, err := interrupt(cmd, stdin)
	metrics.IncProcTerminate(sig, terminateResult(err))

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-done:
		metrics.IncProcWait("exited")
		return
	case <-timer.C:
	}

	err = forceKill(cmd)
	metrics.IncProcTerminate("SIGKILL", terminateResult(err))

	// Always drain: if the process was blocked, SIGKILL frees it.
	<-done
	metrics.IncProcWait("forced")
}

func terminateResult(err error) string {
	switch {
	case err == nil:
		return "sent"
	case strings.Contains(err.Error(), "process already finished") || strings.Contains(err.Error(), "no such process"):
		return "esrch"
	default:
		return "error"
	}
}
