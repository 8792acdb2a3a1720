// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build windows

package procgroup

import (
	"io"
	"os/exec"
	"syscall"
	"time"
)

// DefaultGrace is how long a capture tool gets to honour the newline request
// before it is killed.
const DefaultGrace = 3 * time.Second

// Set is a no-op on Windows for process groups in this context.
func Set(cmd *exec.Cmd) {}

// Kill sends a signal to the process on Windows.
// Only SIGKILL is honoured; it maps to Process.Kill().
func Kill(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	if sig == syscall.SIGKILL {
		return cmd.Process.Kill()
	}
	return nil
}

// interrupt writes a newline to the tool's stdin, which capture tools treat as a stop request.
func interrupt(_ *exec.Cmd, stdin io.Writer) (string, error) {
	if stdin == nil {
		return "newline", nil
	}
	_, err := stdin.Write([]byte("\n"))
	return "newline", err
}

func forceKill(cmd *exec.Cmd) error {
	return Kill(cmd, syscall.SIGKILL)
}

func defaultGrace() time.Duration {
	return DefaultGrace
}
