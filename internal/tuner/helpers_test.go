// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package tuner

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeProcess stands in for a capture or decoder process. Bytes written with
// emit appear on Stdout; decoders copy Stdin to Stdout.
type fakeProcess struct {
	pid     int
	command string

	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter

	done         chan struct{}
	once         sync.Once
	terminated   atomic.Int32
	stdoutClosed atomic.Bool

	mu     sync.Mutex
	status ExitStatus
}

func newFakeProcess(pid int, command string) *fakeProcess {
	p := &fakeProcess{pid: pid, command: command, done: make(chan struct{})}
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stdinR, p.stdinW = io.Pipe()
	return p
}

func (p *fakeProcess) PID() int                { return p.pid }
func (p *fakeProcess) Stdout() io.ReadCloser   { return &trackedReader{p.stdoutR, &p.stdoutClosed} }
func (p *fakeProcess) Stdin() io.WriteCloser   { return p.stdinW }
func (p *fakeProcess) Done() <-chan struct{}   { return p.done }
func (p *fakeProcess) Diagnostics() []string   { return []string{"fake stderr"} }
func (p *fakeProcess) Terminate(time.Duration) { p.terminated.Add(1); p.exit(ExitStatus{Code: -1, Signal: "terminated"}) }

func (p *fakeProcess) ExitStatus() ExitStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *fakeProcess) exit(st ExitStatus) {
	p.once.Do(func() {
		p.mu.Lock()
		p.status = st
		p.mu.Unlock()
		_ = p.stdoutW.Close()
		_ = p.stdinR.Close()
		close(p.done)
	})
}

// crash ends the process on its own.
func (p *fakeProcess) crash() { p.exit(ExitStatus{Code: 1}) }

func (p *fakeProcess) emit(t *testing.T, data []byte) {
	t.Helper()
	if _, err := p.stdoutW.Write(data); err != nil {
		t.Fatalf("emit: %v", err)
	}
}

func (p *fakeProcess) echo() {
	_, _ = io.Copy(p.stdoutW, p.stdinR)
	p.exit(ExitStatus{})
}

// trackedReader records whether the device closed a process pipe.
type trackedReader struct {
	*io.PipeReader
	closed *atomic.Bool
}

func (r *trackedReader) Close() error {
	r.closed.Store(true)
	return r.PipeReader.Close()
}

// fakeSpawner records every process it starts. Commands starting with
// "decode" get an echoing process.
type fakeSpawner struct {
	mu    sync.Mutex
	procs []*fakeProcess
	fail  error
}

func (s *fakeSpawner) Start(command string) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	p := newFakeProcess(1000+len(s.procs), command)
	s.procs = append(s.procs, p)
	if strings.HasPrefix(command, "decode") {
		go p.echo()
	}
	return p, nil
}

func (s *fakeSpawner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

func (s *fakeSpawner) proc(i int) *fakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[i]
}

func (s *fakeSpawner) last() *fakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[len(s.procs)-1]
}

// bufSink collects everything a device fans out to it.
type bufSink struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	done chan struct{}
	once sync.Once
}

func newBufSink() *bufSink {
	return &bufSink{done: make(chan struct{})}
}

var errSinkClosed = errors.New("sink closed")

func (s *bufSink) Write(p []byte) (int, error) {
	select {
	case <-s.done:
		return 0, errSinkClosed
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *bufSink) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *bufSink) Done() <-chan struct{} { return s.done }

func (s *bufSink) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func (s *bufSink) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func fastDeviceOptions() DeviceOptions {
	return DeviceOptions{
		IdleGrace:          50 * time.Millisecond,
		ReleaseDelay:       5 * time.Millisecond,
		DeviceReleaseDelay: 5 * time.Millisecond,
	}
}
