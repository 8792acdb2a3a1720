// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package tuner arbitrates stream requests across the configured tuner devices.
package tuner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ManuGH/tunerd/internal/config"
	"github.com/ManuGH/tunerd/internal/epg"
	"github.com/ManuGH/tunerd/internal/log"
	"github.com/ManuGH/tunerd/internal/metrics"
	"github.com/ManuGH/tunerd/internal/mpegts"
	"github.com/ManuGH/tunerd/internal/power"
	"github.com/ManuGH/tunerd/internal/registry"
	"github.com/ManuGH/tunerd/internal/telemetry"
	"github.com/ManuGH/tunerd/internal/tsfilter"
)

// Scheduler defaults.
const (
	DefaultRetryCount       = 10
	DefaultRetryInterval    = time.Second
	DefaultDecoderGrace     = 2 * time.Second
	DefaultEPGTimeout       = 60 * time.Second
	DefaultServicesTimeout  = 10 * time.Second
	epgUserID               = "tunerd:getEPG()"
	servicesUserID          = "tunerd:getServices()"
	stepNone                = "none"
	stepJoin                = "join"
	stepStart               = "start"
	stepReplace             = "replace"
	stepPreempt             = "preempt"
	tracerName              = "github.com/ManuGH/tunerd/internal/tuner"
	defaultRequestAgentName = "tunerd"
)

// ServiceRegistry is the view of the service registry the scheduler needs.
type ServiceRegistry interface {
	tsfilter.ServiceLookup
	Get(networkID, serviceID uint16) (registry.Service, bool)
	FindByChannel(ch registry.Channel) []registry.Service
	ChannelOf(svc registry.Service) (registry.Channel, error)
}

// Deps are the collaborators of a Tuner.
type Deps struct {
	Spawner  Spawner
	Services ServiceRegistry
	Claims   *epg.Claims
	EPG      epg.Sink
	Power    power.Controller
	Tracer   trace.Tracer
}

// Options tunes the scheduler. Zero values select the defaults.
type Options struct {
	RetryCount    int
	RetryInterval time.Duration
	DecoderGrace  time.Duration
	Device        DeviceOptions
}

// Tuner is the device scheduler. It picks a device for every stream request,
// joining running streams where possible and preempting lower priority users
// when nothing else is left.
type Tuner struct {
	mu      sync.Mutex
	devices []*Device
	deps    Deps
	opts    Options
	tracer  trace.Tracer
	scans   singleflight.Group
	logger  zerolog.Logger
}

// New creates a scheduler over the configured tuners. Invalid and disabled
// entries are skipped; device indexes keep their configuration position.
func New(cfgs []config.TunerConfig, deps Deps, opts Options) *Tuner {
	if opts.RetryCount <= 0 {
		opts.RetryCount = DefaultRetryCount
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	if opts.DecoderGrace <= 0 {
		opts.DecoderGrace = DefaultDecoderGrace
	}
	if opts.Device.Power == nil {
		opts.Device.Power = deps.Power
	}
	if deps.Claims == nil {
		deps.Claims = epg.NewClaims()
	}

	t := &Tuner{
		deps:   deps,
		opts:   opts,
		tracer: deps.Tracer,
		logger: log.WithComponent("tuner"),
	}
	if t.tracer == nil {
		t.tracer = telemetry.Tracer(tracerName)
	}

	for i, cfg := range cfgs {
		if err := config.ValidateTuner(i, cfg); err != nil {
			t.logger.Error().Err(err).Str(log.FieldEvent, "tuner.config_invalid").Msg("skipping invalid tuner")
			continue
		}
		if cfg.Disabled {
			t.logger.Info().Str(log.FieldEvent, "tuner.disabled").Int(log.FieldDevice, i).Str(log.FieldDeviceName, cfg.Name).Msg("skipping disabled tuner")
			continue
		}
		t.devices = append(t.devices, NewDevice(i, cfg, deps.Spawner, opts.Device))
	}
	t.logger.Info().
		Str(log.FieldEvent, "tuner.loaded").
		Int("loaded", len(t.devices)).
		Int("configured", len(cfgs)).
		Msgf("%d of %d tuners loaded", len(t.devices), len(cfgs))
	return t
}

// Devices returns the loaded devices in configuration order.
func (t *Tuner) Devices() []*Device {
	return append([]*Device(nil), t.devices...)
}

// Device returns the device with the given configuration index.
func (t *Tuner) Device(index int) (*Device, bool) {
	for _, d := range t.devices {
		if d.Index() == index {
			return d, true
		}
	}
	return nil, false
}

// TypeExists reports whether any loaded device receives channelType.
func (t *Tuner) TypeExists(channelType string) bool {
	for _, d := range t.devices {
		if d.cfg.Supports(channelType) {
			return true
		}
	}
	return false
}

// Status returns a snapshot of every device.
func (t *Tuner) Status() []Status {
	out := make([]Status, 0, len(t.devices))
	for _, d := range t.devices {
		out = append(out, d.Status())
	}
	return out
}

// Capacity returns the number of loaded devices and how many of them are free.
func (t *Tuner) Capacity() (loaded, free int) {
	for _, d := range t.devices {
		if d.IsFree() {
			free++
		}
	}
	return len(t.devices), free
}

// Close kills every running capture process.
func (t *Tuner) Close(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, d := range t.devices {
		g.Go(func() error {
			if err := d.Kill(ctx); err != nil && !errors.Is(err, ErrNoProcess) {
				return fmt.Errorf("tuner#%d: %w", d.Index(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// ChannelStream streams the whole transport stream of ch.
func (t *Tuner) ChannelStream(ctx context.Context, ch registry.Channel, user User) (*Stream, error) {
	return t.getStream(ctx, ch, user, tsfilter.Options{
		NetworkID: t.networkIDOf(ch),
		ParseEIT:  true,
	})
}

// ServiceStream streams one service.
func (t *Tuner) ServiceStream(ctx context.Context, svc registry.Service, user User) (*Stream, error) {
	ch, err := t.deps.Services.ChannelOf(svc)
	if err != nil {
		return nil, err
	}
	return t.getStream(ctx, ch, user, tsfilter.Options{
		NetworkID: svc.NetworkID,
		ServiceID: svc.ServiceID,
		ParseEIT:  true,
	})
}

// ProgramStream streams one service until the program ends.
func (t *Tuner) ProgramStream(ctx context.Context, p epg.Program, user User) (*Stream, error) {
	svc, ok := t.deps.Services.Get(p.NetworkID, p.ServiceID)
	if !ok {
		return nil, fmt.Errorf("%w: service %d/%d", registry.ErrNotFound, p.NetworkID, p.ServiceID)
	}
	ch, err := t.deps.Services.ChannelOf(svc)
	if err != nil {
		return nil, err
	}
	return t.getStream(ctx, ch, user, tsfilter.Options{
		NetworkID: p.NetworkID,
		ServiceID: p.ServiceID,
		EventID:   p.EventID,
		ParseEIT:  true,
	})
}

// GetEPG tunes ch at background priority and collects EIT schedules until
// they are complete or timeout elapses.
func (t *Tuner) GetEPG(ctx context.Context, ch registry.Channel, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultEPGTimeout
	}
	nid := t.networkIDOf(ch)
	if nid != 0 && t.deps.Claims.Held(nid) {
		return ErrEPGInProgress
	}

	user := User{ID: epgUserID, Priority: PriorityBackground, Agent: defaultRequestAgentName, DisableDecoder: true}
	s, err := t.getStream(ctx, ch, user, tsfilter.Options{
		NetworkID: nid,
		NoProvide: true,
		ParseEIT:  true,
	})
	if err != nil {
		return err
	}
	defer s.Close()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return ErrEPGIncomplete
			}
			if ev.Kind == tsfilter.EventEPGReady {
				return nil
			}
		case <-timer.C:
			t.logger.Info().
				Str(log.FieldEvent, "tuner.epg_timeout").
				Str(log.FieldChannelType, ch.Type).
				Str(log.FieldChannel, ch.Channel).
				Msg("epg gathering timed out")
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// GetServices tunes ch at background priority and returns the services of
// its SDT. Concurrent scans of one channel share a single stream; a caller
// giving up does not end the scan for the others.
func (t *Tuner) GetServices(ctx context.Context, ch registry.Channel, timeout time.Duration) ([]registry.Service, error) {
	if timeout <= 0 {
		timeout = DefaultServicesTimeout
	}
	key := ch.Type + "/" + ch.Channel
	// the scan outlives any single caller and is bounded by timeout
	scan := t.scans.DoChan(key, func() (any, error) {
		return t.scanServices(context.WithoutCancel(ctx), ch, timeout)
	})
	select {
	case res := <-scan:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]registry.Service), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *Tuner) scanServices(ctx context.Context, ch registry.Channel, timeout time.Duration) ([]registry.Service, error) {
	user := User{ID: servicesUserID, Priority: PriorityBackground, Agent: defaultRequestAgentName, DisableDecoder: true}
	s, err := t.getStream(ctx, ch, user, tsfilter.Options{
		NoProvide: true,
		ParseSDT:  true,
	})
	if err != nil {
		return nil, err
	}
	defer s.Close()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return nil, ErrServicesNotFound
			}
			if ev.Kind != tsfilter.EventServices {
				continue
			}
			out := make([]registry.Service, 0, len(ev.Services))
			for _, svc := range ev.Services {
				out = append(out, registry.NewService(svc.NetworkID, svc.ServiceID, svc.Name, ch))
			}
			return out, nil
		case <-timer.C:
			return nil, ErrServicesNotFound
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (t *Tuner) networkIDOf(ch registry.Channel) uint16 {
	if t.deps.Services == nil {
		return 0
	}
	if svcs := t.deps.Services.FindByChannel(ch); len(svcs) > 0 {
		return svcs[0].NetworkID
	}
	return 0
}

// charsetFor picks the SI text coding of a channel type. The ISDB types carry
// ARIB text; anything else is decoded as DVB.
func charsetFor(channelType string) mpegts.Charset {
	switch channelType {
	case config.ChannelTypeGR, config.ChannelTypeBS, config.ChannelTypeCS, config.ChannelTypeSKY:
		return mpegts.CharsetARIB
	}
	return mpegts.CharsetDVB
}

var errNoDevice = errors.New("no eligible device")

// getStream selects a device for ch and attaches a new filter to it. When no
// device is eligible the selection is retried.
func (t *Tuner) getStream(ctx context.Context, ch registry.Channel, user User, fopts tsfilter.Options) (*Stream, error) {
	ctx, span := t.tracer.Start(ctx, "tuner.get_stream",
		trace.WithAttributes(telemetry.StreamAttributes(ch.Type, ch.Channel, fopts.NetworkID, fopts.ServiceID, fopts.EventID)...))
	defer span.End()

	fopts.Services = t.deps.Services
	fopts.Claims = t.deps.Claims
	fopts.EPG = t.deps.EPG
	fopts.Charset = charsetFor(ch.Type)

	logger := t.logger.With().
		Str(log.FieldUserID, user.ID).
		Int(log.FieldPriority, user.Priority).
		Str(log.FieldChannelType, ch.Type).
		Str(log.FieldChannel, ch.Channel).
		Logger()

	if !t.TypeExists(ch.Type) {
		metrics.IncSchedulerRequest(false, stepNone)
		span.SetAttributes(telemetry.ErrorAttributes("unsupported_type")...)
		span.SetStatus(codes.Error, "unsupported type")
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, ch.Type)
	}

	for attempt := 1; ; attempt++ {
		s, step, err := t.tryStream(ctx, ch, user, fopts)
		if err == nil {
			metrics.IncSchedulerRequest(true, step)
			span.SetAttributes(telemetry.SchedulerAttributes(s.Device(), step, user.Priority, attempt)...)
			logger.Debug().
				Str(log.FieldEvent, "tuner.stream_started").
				Int(log.FieldDevice, s.Device()).
				Str("step", step).
				Int("attempt", attempt).
				Msg("stream started")
			return s, nil
		}

		retryable := errors.Is(err, errNoDevice) ||
			errors.Is(err, ErrDeviceNotAvailable) ||
			errors.Is(err, ErrHigherPriorityUser)
		if !retryable {
			metrics.IncSchedulerRequest(false, step)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		if attempt >= t.opts.RetryCount {
			metrics.IncSchedulerRequest(false, stepNone)
			span.SetAttributes(telemetry.SchedulerAttributes(-1, stepNone, user.Priority, attempt)...)
			span.SetAttributes(telemetry.ErrorAttributes("no_available_tuner")...)
			span.SetStatus(codes.Error, ErrNoAvailableTuners.Error())
			logger.Warn().Str(log.FieldEvent, "tuner.no_available").Int("attempts", attempt).Msg("no available tuners")
			return nil, ErrNoAvailableTuners
		}

		metrics.IncSchedulerRetry()
		logger.Debug().Str(log.FieldEvent, "tuner.retry").Int("attempt", attempt).Msg("no eligible device, retrying")
		timer := time.NewTimer(t.opts.RetryInterval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			metrics.IncSchedulerRequest(false, stepNone)
			span.SetAttributes(telemetry.ErrorAttributes("canceled")...)
			span.SetStatus(codes.Error, "canceled")
			return nil, ctx.Err()
		}
	}
}

func (t *Tuner) tryStream(ctx context.Context, ch registry.Channel, user User, fopts tsfilter.Options) (*Stream, string, error) {
	t.mu.Lock()
	d, step := t.selectLocked(ch, user)
	if d == nil {
		t.mu.Unlock()
		return nil, stepNone, errNoDevice
	}
	victim := d.Priority()
	filter := tsfilter.New(fopts)
	wait, err := d.beginStream(user, filter, &ch)
	t.mu.Unlock()

	if err == nil && wait != nil {
		err = wait(ctx)
	}
	if err != nil {
		_ = filter.Close()
		return nil, step, err
	}
	if step == stepPreempt {
		metrics.IncPreempt(victim, user.Priority)
		t.logger.Info().
			Str(log.FieldEvent, "tuner.preempted").
			Int(log.FieldDevice, d.Index()).
			Int("victim_priority", victim).
			Int(log.FieldPriority, user.Priority).
			Msg("lower priority users preempted")
	}

	s, err := t.newStream(d, user, filter)
	if err != nil {
		_ = filter.Close()
		return nil, step, err
	}
	return s, step, nil
}

// selectLocked applies the selection order: a device already on the channel,
// a free device, a tuned but unused device, then a device whose users all
// rank below user.
func (t *Tuner) selectLocked(ch registry.Channel, user User) (*Device, string) {
	for _, d := range t.devices {
		if !d.cfg.Supports(ch.Type) || !d.IsAvailable() {
			continue
		}
		if cur, ok := d.Channel(); ok && cur.Same(ch) {
			return d, stepJoin
		}
	}
	for _, d := range t.devices {
		if d.cfg.Supports(ch.Type) && d.IsFree() {
			return d, stepStart
		}
	}
	for _, d := range t.devices {
		if d.cfg.Supports(ch.Type) && d.IsAvailable() && len(d.Users()) == 0 {
			return d, stepReplace
		}
	}
	for _, d := range t.devices {
		if d.cfg.Supports(ch.Type) && d.IsUsing() && d.Priority() < user.Priority {
			return d, stepPreempt
		}
	}
	return nil, stepNone
}
