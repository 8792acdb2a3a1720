// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package tuner

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/tunerd/internal/config"
	"github.com/ManuGH/tunerd/internal/log"
	"github.com/ManuGH/tunerd/internal/metrics"
	"github.com/ManuGH/tunerd/internal/power"
	"github.com/ManuGH/tunerd/internal/registry"
)

// Default device timings.
const (
	DefaultIdleGrace          = time.Second
	DefaultReleaseDelay       = 100 * time.Millisecond
	DefaultDeviceReleaseDelay = time.Second
)

const readBufferSize = 188 * 1024

// Sink receives the raw transport stream for one consumer.
// Write must not block; Done is closed once the sink is closed.
type Sink interface {
	io.WriteCloser
	Done() <-chan struct{}
}

// DeviceOptions tunes device timings. Zero values select the defaults.
type DeviceOptions struct {
	// IdleGrace is how long a process outlives its last consumer.
	IdleGrace time.Duration
	// ReleaseDelay settles the device after its process exited.
	ReleaseDelay time.Duration
	// DeviceReleaseDelay replaces ReleaseDelay when a device path is read.
	DeviceReleaseDelay time.Duration
	// KillGrace is passed to Process.Terminate; zero selects the platform default.
	KillGrace time.Duration
	// Power receives a wake reservation while a process runs.
	Power power.Controller
}

func (o DeviceOptions) withDefaults() DeviceOptions {
	if o.IdleGrace <= 0 {
		o.IdleGrace = DefaultIdleGrace
	}
	if o.ReleaseDelay <= 0 {
		o.ReleaseDelay = DefaultReleaseDelay
	}
	if o.DeviceReleaseDelay <= 0 {
		o.DeviceReleaseDelay = DefaultDeviceReleaseDelay
	}
	return o
}

type attachment struct {
	user User
	sink Sink
}

// handoff is a stream start waiting for the device to be released.
type handoff struct {
	user    User
	sink    Sink
	channel registry.Channel
	done    chan error
}

// Device owns one physical tuner: its capture process, the consumers attached
// to it and the fan-out of the captured stream.
//
// All state is guarded by mu. Callbacks from the process, the idle timer and
// consumer sinks re-acquire mu and re-check state before acting.
type Device struct {
	index   int
	cfg     config.TunerConfig
	spawner Spawner
	opts    DeviceOptions
	logger  zerolog.Logger

	mu        sync.Mutex
	channel   *registry.Channel
	command   string
	proc      Process
	source    io.ReadCloser
	users     []attachment
	available bool
	closing   bool
	exited    bool
	streaming bool
	killing   bool
	released  chan struct{}
	pending   *handoff
	idle      *time.Timer
	idleGen   uint64
}

// NewDevice creates an idle device.
func NewDevice(index int, cfg config.TunerConfig, spawner Spawner, opts DeviceOptions) *Device {
	d := &Device{
		index:     index,
		cfg:       cfg,
		spawner:   spawner,
		opts:      opts.withDefaults(),
		available: true,
		logger: log.Derive(func(c *zerolog.Context) {
			*c = c.Str(log.FieldComponent, "tuner").
				Int(log.FieldDevice, index).
				Str(log.FieldDeviceName, cfg.Name)
		}),
	}
	metrics.SetTunerAvailable(index, true)
	metrics.SetTunerUsers(index, 0)
	return d
}

// Index returns the position of the device in the tuner configuration.
func (d *Device) Index() int { return d.index }

// Config returns the immutable device descriptor.
func (d *Device) Config() config.TunerConfig { return d.cfg }

// Decoder returns the configured decoder command, if any.
func (d *Device) Decoder() string { return d.cfg.Decoder }

// IsAvailable reports whether the device accepts streams. It is false while releasing.
func (d *Device) IsAvailable() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.available
}

// IsFree reports whether the device is available, untuned and unused.
func (d *Device) IsFree() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.available && d.channel == nil && len(d.users) == 0
}

// IsUsing reports whether the device is available, tuned and has consumers.
func (d *Device) IsUsing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.available && d.channel != nil && len(d.users) > 0
}

// Channel returns the channel the device is tuned to.
func (d *Device) Channel() (registry.Channel, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.channel == nil {
		return registry.Channel{}, false
	}
	return *d.channel, true
}

// Users returns the attached consumers.
func (d *Device) Users() []User {
	d.mu.Lock()
	defer d.mu.Unlock()
	users := make([]User, len(d.users))
	for i, a := range d.users {
		users[i] = a.user
	}
	return users
}

// Priority returns the highest priority among attached consumers, or PriorityNone.
func (d *Device) Priority() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.priorityLocked()
}

func (d *Device) priorityLocked() int {
	p := PriorityNone
	for _, a := range d.users {
		if a.user.Priority > p {
			p = a.user.Priority
		}
	}
	return p
}

// StartStream attaches sink to the device on channel. A nil channel joins the
// running stream. Retuning a live device kills the running process, waits for
// the release and respawns; it fails unless user outranks every attached
// consumer.
func (d *Device) StartStream(ctx context.Context, user User, sink Sink, channel *registry.Channel) error {
	wait, err := d.beginStream(user, sink, channel)
	if err != nil || wait == nil {
		return err
	}
	return wait(ctx)
}

// beginStream performs the synchronous part of StartStream. When the device
// must be released first it returns a wait function for the remainder.
func (d *Device) beginStream(user User, sink Sink, channel *registry.Channel) (func(context.Context) error, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.available {
		return nil, ErrDeviceNotAvailable
	}
	if channel == nil {
		if d.proc == nil {
			return nil, ErrNoStream
		}
		d.attachLocked(user, sink)
		return nil, nil
	}
	if !d.cfg.Supports(channel.Type) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, channel.Type)
	}
	if d.proc == nil {
		if err := d.spawnLocked(*channel); err != nil {
			return nil, err
		}
		d.attachLocked(user, sink)
		return nil, nil
	}
	if d.channel.Same(*channel) {
		d.attachLocked(user, sink)
		return nil, nil
	}
	if user.Priority <= d.priorityLocked() {
		return nil, ErrHigherPriorityUser
	}

	h := &handoff{user: user, sink: sink, channel: *channel, done: make(chan error, 1)}
	d.pending = h
	d.logger.Info().
		Str(log.FieldEvent, "tuner.retune").
		Str(log.FieldUserID, user.ID).
		Int(log.FieldPriority, user.Priority).
		Str(log.FieldChannel, channel.Channel).
		Msg("retuning device")
	d.killLocked(true)
	return func(ctx context.Context) error { return d.awaitHandoff(ctx, h) }, nil
}

func (d *Device) awaitHandoff(ctx context.Context, h *handoff) error {
	select {
	case err := <-h.done:
		return err
	case <-ctx.Done():
	}

	d.mu.Lock()
	if d.pending == h {
		d.pending = nil
		d.mu.Unlock()
		return ctx.Err()
	}
	d.mu.Unlock()
	// release already took the handoff
	return <-h.done
}

// EndStream detaches user and closes its sink. Once the last consumer is
// gone the process is killed after the idle grace unless someone re-attaches.
func (d *Device) EndStream(user User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, a := range d.users {
		if a.user.same(user) {
			d.removeLocked(i)
			return
		}
	}
}

func (d *Device) detachSink(sink Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, a := range d.users {
		if a.sink == sink {
			d.removeLocked(i)
			return
		}
	}
}

// Kill terminates the capture process deliberately and waits for the device
// to be released. Consumers are detached.
func (d *Device) Kill(ctx context.Context) error {
	d.mu.Lock()
	if d.proc == nil {
		d.mu.Unlock()
		return ErrNoProcess
	}
	released := d.released
	d.killLocked(true)
	d.mu.Unlock()

	select {
	case <-released:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Device) attachLocked(user User, sink Sink) {
	if d.idle != nil {
		d.idle.Stop()
		d.idle = nil
	}
	d.users = append(d.users, attachment{user: user, sink: sink})
	metrics.SetTunerUsers(d.index, len(d.users))

	d.logger.Info().
		Str(log.FieldEvent, "tuner.user_attached").
		Str(log.FieldUserID, user.ID).
		Int(log.FieldPriority, user.Priority).
		Str(log.FieldAgent, user.Agent).
		Int("users", len(d.users)).
		Msg("streaming to user")

	go func() {
		<-sink.Done()
		d.detachSink(sink)
	}()
}

func (d *Device) removeLocked(i int) {
	a := d.users[i]
	d.users = append(d.users[:i:i], d.users[i+1:]...)
	_ = a.sink.Close()
	metrics.SetTunerUsers(d.index, len(d.users))

	d.logger.Info().
		Str(log.FieldEvent, "tuner.user_detached").
		Str(log.FieldUserID, a.user.ID).
		Int(log.FieldPriority, a.user.Priority).
		Int("users", len(d.users)).
		Msg("end streaming to user")

	if len(d.users) == 0 && d.proc != nil {
		if d.idle != nil {
			d.idle.Stop()
		}
		d.idleGen++
		gen := d.idleGen
		d.idle = time.AfterFunc(d.opts.IdleGrace, func() { d.idleExpired(gen) })
	}
}

// idleExpired is a no-op when the timer of generation gen has been replaced.
func (d *Device) idleExpired(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.idle == nil || gen != d.idleGen {
		return
	}
	d.idle = nil
	if len(d.users) != 0 || d.proc == nil || d.pending != nil {
		return
	}
	d.logger.Info().Str(log.FieldEvent, "tuner.idle_kill").Msg("no users left, killing process")
	d.killLocked(true)
}

func buildCommand(template string, ch registry.Channel) string {
	r := strings.NewReplacer(
		"<channel>", ch.Channel,
		"<satellite>", ch.Satellite,
		"<satelite>", ch.Satellite,
	)
	return r.Replace(template)
}

func (d *Device) spawnLocked(ch registry.Channel) error {
	command := buildCommand(d.cfg.Command, ch)
	proc, err := d.spawner.Start(command)
	if err != nil {
		metrics.IncTunerExit(d.index, "error")
		d.logger.Error().Err(err).
			Str(log.FieldEvent, "tuner.spawn_failed").
			Str(log.FieldCommand, command).
			Msg("failed to spawn capture process")
		return fmt.Errorf("tuner#%d: spawn: %w", d.index, err)
	}

	source := proc.Stdout()
	var openErr error
	if d.cfg.DevicePath != "" {
		stdout := source
		go func() {
			_, _ = io.Copy(io.Discard, stdout)
			_ = stdout.Close()
		}()
		// #nosec G304 -- device path comes from the operator's tuner configuration
		source, openErr = os.Open(filepath.Clean(d.cfg.DevicePath))
	}

	d.proc = proc
	d.command = command
	d.channel = &ch
	d.exited = false
	d.streaming = true
	d.released = make(chan struct{})
	if openErr == nil {
		d.source = source
		go d.pump(proc, source)
	}
	go d.supervise(proc)

	if d.opts.Power != nil {
		d.opts.Power.AddWake(d)
	}
	metrics.IncTunerSpawn(d.index)
	d.logger.Info().
		Str(log.FieldEvent, "tuner.spawned").
		Int(log.FieldPID, proc.PID()).
		Str(log.FieldCommand, command).
		Str(log.FieldChannelType, ch.Type).
		Str(log.FieldChannel, ch.Channel).
		Msg("capture process spawned")

	if openErr != nil {
		d.logger.Error().Err(openErr).
			Str(log.FieldEvent, "tuner.device_open_failed").
			Str(log.FieldPath, d.cfg.DevicePath).
			Msg("failed to open device path")
		d.killLocked(false)
	}
	return nil
}

// pump fans every chunk read from src out to the attached sinks.
func (d *Device) pump(proc Process, src io.Reader) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			d.fanOut(proc, buf[:n])
		}
		if err != nil {
			if d.cfg.DevicePath != "" {
				d.sourceFailed(proc, err)
			}
			return
		}
	}
}

func (d *Device) fanOut(proc Process, chunk []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.proc != proc || !d.streaming {
		return
	}
	metrics.AddTunerBytes(d.index, len(chunk))
	for _, a := range d.users {
		_, _ = a.sink.Write(chunk)
	}
}

func (d *Device) sourceFailed(proc Process, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.proc != proc || d.exited {
		return
	}
	d.logger.Warn().Err(err).
		Str(log.FieldEvent, "tuner.device_read_failed").
		Str(log.FieldPath, d.cfg.DevicePath).
		Msg("device path closed while process is running")
	d.killLocked(false)
}

// killLocked asks the process to stop. close marks the release as
// deliberate: consumers are detached and no respawn happens.
func (d *Device) killLocked(close bool) {
	if d.proc == nil {
		return
	}
	d.available = false
	metrics.SetTunerAvailable(d.index, false)
	if close {
		d.closing = true
		if d.exited {
			// crashed and waiting for release: nobody is left to respawn for
			d.detachAllLocked()
		}
	}
	if d.killing {
		return
	}
	d.killing = true
	d.logger.Info().
		Str(log.FieldEvent, "tuner.kill").
		Bool("closing", d.closing).
		Msg("killing capture process")
	go d.proc.Terminate(d.opts.KillGrace)
}

// supervise waits for the process to exit, ends the stream and schedules the release.
func (d *Device) supervise(proc Process) {
	<-proc.Done()
	st := proc.ExitStatus()

	d.mu.Lock()
	d.exited = true
	cause := "crashed"
	if d.killing {
		cause = "killed"
	}
	metrics.IncTunerExit(d.index, cause)

	ev := d.logger.Info()
	if cause == "crashed" {
		ev = d.logger.Warn().Strs("stderr", proc.Diagnostics())
	}
	ev.Str(log.FieldEvent, "tuner.process_closed").
		Int(log.FieldPID, proc.PID()).
		Int(log.FieldExitCode, st.Code).
		Str(log.FieldSignal, st.Signal).
		Str("cause", cause).
		Msg("capture process has closed")

	d.endLocked()
	delay := d.opts.ReleaseDelay
	if d.cfg.DevicePath != "" {
		delay = d.opts.DeviceReleaseDelay
	}
	d.mu.Unlock()

	time.AfterFunc(delay, func() { d.release(proc) })
}

func (d *Device) endLocked() {
	d.available = false
	d.streaming = false
	metrics.SetTunerAvailable(d.index, false)
	if d.closing {
		d.detachAllLocked()
	}
}

func (d *Device) detachAllLocked() {
	for _, a := range d.users {
		_ = a.sink.Close()
	}
	d.users = nil
	metrics.SetTunerUsers(d.index, 0)
}

func (d *Device) release(proc Process) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.proc != proc {
		return
	}

	closing := d.closing
	if d.source != nil {
		_ = d.source.Close()
	}
	d.proc = nil
	d.source = nil
	d.command = ""
	d.killing = false
	d.exited = false
	d.closing = false
	if closing {
		d.detachAllLocked()
	}
	if len(d.users) == 0 {
		d.channel = nil
	}
	d.available = true
	metrics.SetTunerAvailable(d.index, true)
	if d.opts.Power != nil {
		d.opts.Power.RemoveWake(d)
	}
	close(d.released)
	d.logger.Info().Str(log.FieldEvent, "tuner.released").Msg("device released")

	if h := d.pending; h != nil {
		d.pending = nil
		err := d.spawnLocked(h.channel)
		if err == nil {
			d.attachLocked(h.user, h.sink)
		}
		h.done <- err
		return
	}

	if closing || len(d.users) == 0 {
		return
	}
	ch := *d.channel
	if err := d.spawnLocked(ch); err != nil {
		d.detachAllLocked()
		d.channel = nil
		return
	}
	metrics.IncTunerRespawn(d.index)
	d.logger.Info().Str(log.FieldEvent, "tuner.respawned").Msg("capture process respawned for remaining users")
}

// UserStatus describes one attached consumer.
type UserStatus struct {
	ID       string `json:"id"`
	Priority int    `json:"priority"`
	Agent    string `json:"agent,omitempty"`
}

// Status is a point-in-time snapshot of a device.
type Status struct {
	Index       int               `json:"index"`
	Name        string            `json:"name"`
	Types       []string          `json:"types"`
	Command     string            `json:"command"`
	PID         int               `json:"pid"`
	Channel     *registry.Channel `json:"channel,omitempty"`
	Users       []UserStatus      `json:"users"`
	IsAvailable bool              `json:"isAvailable"`
	IsFree      bool              `json:"isFree"`
	IsUsing     bool              `json:"isUsing"`
}

// Status returns a snapshot of the device.
func (d *Device) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := Status{
		Index:       d.index,
		Name:        d.cfg.Name,
		Types:       append([]string(nil), d.cfg.Types...),
		Command:     d.command,
		Users:       make([]UserStatus, 0, len(d.users)),
		IsAvailable: d.available,
		IsFree:      d.available && d.channel == nil && len(d.users) == 0,
		IsUsing:     d.available && d.channel != nil && len(d.users) > 0,
	}
	if d.proc != nil {
		st.PID = d.proc.PID()
	}
	if d.channel != nil {
		ch := *d.channel
		st.Channel = &ch
	}
	for _, a := range d.users {
		st.Users = append(st.Users, UserStatus{ID: a.user.ID, Priority: a.user.Priority, Agent: a.user.Agent})
	}
	return st
}
