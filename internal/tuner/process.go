// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package tuner

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ManuGH/tunerd/internal/log"
	"github.com/ManuGH/tunerd/internal/procgroup"
)

const (
	diagnosticLines = 50
	stderrRate      = 10
	stderrBurst     = 20
)

// ExitStatus describes how a process ended.
type ExitStatus struct {
	Code   int
	Signal string
	Err    error
}

// Process is a running capture or decoder process.
type Process interface {
	PID() int
	// Stdout is the process output. The caller closes it once done reading.
	Stdout() io.ReadCloser
	// Stdin feeds the process. Decoders read their input from it.
	Stdin() io.WriteCloser
	// Done is closed once the process has exited and been reaped.
	Done() <-chan struct{}
	// ExitStatus is valid after Done is closed.
	ExitStatus() ExitStatus
	// Terminate asks the process to stop and force kills it after grace.
	// It returns once the process has exited.
	Terminate(grace time.Duration)
	// Diagnostics returns the most recent stderr lines.
	Diagnostics() []string
}

// Spawner starts processes from a command line.
type Spawner interface {
	Start(command string) (Process, error)
}

// ExecSpawner runs commands with os/exec in their own process group.
// Arguments are split on whitespace; no shell is involved.
type ExecSpawner struct {
	Logger zerolog.Logger
}

// NewExecSpawner returns a spawner logging stderr through logger.
func NewExecSpawner(logger zerolog.Logger) *ExecSpawner {
	return &ExecSpawner{Logger: logger}
}

// Start launches command.
func (s *ExecSpawner) Start(command string) (Process, error) {
	args := strings.Fields(command)
	if len(args) == 0 {
		return nil, errors.New("empty command")
	}

	// #nosec G204 -- commands come from the operator's tuner configuration
	cmd := exec.Command(args[0], args[1:]...)
	procgroup.Set(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to pipe stdin: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to pipe stderr: %w", err)
	}
	// stdout is an os.Pipe we own so reads may continue while Wait reaps the process.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to pipe stdout: %w", err)
	}
	cmd.Stdout = stdoutW

	if err := cmd.Start(); err != nil {
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		return nil, fmt.Errorf("exec start failed: %w", err)
	}
	_ = stdoutW.Close()

	h := &execProcess{
		cmd:     cmd,
		stdin:   stdin,
		stdout:  stdoutR,
		done:    make(chan struct{}),
		ring:    newRingBuffer(diagnosticLines),
		limiter: rate.NewLimiter(stderrRate, stderrBurst),
		logger: s.Logger.With().
			Int(log.FieldPID, cmd.Process.Pid).
			Str(log.FieldCommand, args[0]).
			Logger(),
	}
	go h.monitor(stderr)
	return h, nil
}

type execProcess struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *os.File
	done    chan struct{}
	ring    *ringBuffer
	limiter *rate.Limiter
	logger  zerolog.Logger

	mu     sync.Mutex
	status ExitStatus
}

func (h *execProcess) PID() int              { return h.cmd.Process.Pid }
func (h *execProcess) Stdout() io.ReadCloser { return h.stdout }
func (h *execProcess) Stdin() io.WriteCloser { return h.stdin }
func (h *execProcess) Done() <-chan struct{} { return h.done }
func (h *execProcess) Diagnostics() []string { return h.ring.GetAll() }
func (h *execProcess) Terminate(grace time.Duration) {
	procgroup.Terminate(h.cmd, h.stdin, h.done, grace)
}

func (h *execProcess) ExitStatus() ExitStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// monitor keeps the last stderr lines, logs them with a rate limit and reaps the process.
func (h *execProcess) monitor(stderr io.Reader) {
	defer close(h.done)

	dropped := 0
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		h.ring.Add(line)
		if !h.limiter.Allow() {
			dropped++
			continue
		}
		ev := h.logger.Info().Str(log.FieldEvent, "process.stderr")
		if dropped > 0 {
			ev = ev.Int("dropped", dropped)
			dropped = 0
		}
		ev.Msg(line)
	}

	status := exitStatus(h.cmd.Wait())
	h.mu.Lock()
	h.status = status
	h.mu.Unlock()
}

func exitStatus(err error) ExitStatus {
	if err == nil {
		return ExitStatus{}
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return ExitStatus{Code: -1, Err: err}
	}
	st := ExitStatus{Code: exitErr.ExitCode(), Err: err}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		st.Signal = ws.Signal().String()
	}
	return st
}

// ringBuffer keeps the last N stderr lines.
type ringBuffer struct {
	lines []string
	pos   int
	full  bool
	mu    sync.Mutex
}

func newRingBuffer(size int) *ringBuffer {
	return &ringBuffer{lines: make([]string, size)}
}

func (r *ringBuffer) Add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines[r.pos] = line
	r.pos = (r.pos + 1) % len(r.lines)
	if r.pos == 0 {
		r.full = true
	}
}

func (r *ringBuffer) GetAll() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.full {
		return append([]string(nil), r.lines[:r.pos]...)
	}
	res := make([]string, len(r.lines))
	copy(res, r.lines[r.pos:])
	copy(res[len(r.lines)-r.pos:], r.lines[:r.pos])
	return res
}
