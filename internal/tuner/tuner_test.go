// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package tuner

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/tunerd/internal/config"
	"github.com/ManuGH/tunerd/internal/epg"
	"github.com/ManuGH/tunerd/internal/mpegts"
	"github.com/ManuGH/tunerd/internal/registry"
	"github.com/ManuGH/tunerd/internal/testutil"
)

const (
	testNID  = 0x7FE0
	testTSID = 0x7FE0
)

func grTuner(name string) config.TunerConfig {
	return config.TunerConfig{Name: name, Types: []string{config.ChannelTypeGR}, Command: "rec-" + name + " <channel>"}
}

func newTestServices(t *testing.T) *registry.Services {
	t.Helper()
	chans := registry.NewChannels()
	chans.Load([]config.ChannelConfig{
		{Name: chGR27.Name, Type: chGR27.Type, Channel: chGR27.Channel},
		{Name: chGR26.Name, Type: chGR26.Type, Channel: chGR26.Channel},
		{Name: chBS15.Name, Type: chBS15.Type, Channel: chBS15.Channel},
	}, nil)
	svcs := registry.NewServices("", chans)
	svcs.Add(registry.NewService(testNID, 101, "Channel One", chGR27))
	return svcs
}

type recordingSink struct {
	mu   sync.Mutex
	eits []*mpegts.EIT
}

func (s *recordingSink) Write(eit *mpegts.EIT) {
	s.mu.Lock()
	s.eits = append(s.eits, eit)
	s.mu.Unlock()
}

func (s *recordingSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.eits)
}

type testEnv struct {
	tuner    *Tuner
	spawner  *fakeSpawner
	services *registry.Services
	claims   *epg.Claims
	sink     *recordingSink
}

func newTestEnv(t *testing.T, cfgs []config.TunerConfig, opts Options) *testEnv {
	t.Helper()
	env := &testEnv{
		spawner:  &fakeSpawner{},
		services: newTestServices(t),
		claims:   epg.NewClaims(),
		sink:     &recordingSink{},
	}
	if opts.RetryCount == 0 {
		opts.RetryCount = 2
	}
	if opts.RetryInterval == 0 {
		opts.RetryInterval = 10 * time.Millisecond
	}
	if opts.Device == (DeviceOptions{}) {
		opts.Device = fastDeviceOptions()
	}
	env.tuner = New(cfgs, Deps{
		Spawner:  env.spawner,
		Services: env.services,
		Claims:   env.claims,
		EPG:      env.sink,
	}, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		assert.NoError(t, env.tuner.Close(ctx))
	})
	return env
}

// emitWhenSpawned writes data to the n-th spawned process once it exists.
func (e *testEnv) emitWhenSpawned(n int, data ...[]byte) {
	go func() {
		for e.spawner.count() < n {
			time.Sleep(tick)
		}
		p := e.spawner.proc(n - 1)
		for _, d := range data {
			if _, err := p.stdoutW.Write(d); err != nil {
				return
			}
		}
	}()
}

type tsWriter struct {
	cc map[uint16]*uint8
}

func newTSWriter() *tsWriter {
	return &tsWriter{cc: make(map[uint16]*uint8)}
}

func (w *tsWriter) counter(pid uint16) *uint8 {
	c, ok := w.cc[pid]
	if !ok {
		c = new(uint8)
		w.cc[pid] = c
	}
	return c
}

func (w *tsWriter) section(pid uint16, sec []byte) []byte {
	return testutil.Join(testutil.Packetize(pid, sec, w.counter(pid))...)
}

func (w *tsWriter) pat() []byte {
	return w.section(mpegts.PIDPAT, testutil.PAT(testTSID, 1,
		testutil.Program{Number: 101, PID: 0x101},
		testutil.Program{Number: 102, PID: 0x102},
	))
}

func (w *tsWriter) schedule(sid uint16, section uint8) []byte {
	return w.section(mpegts.PIDEIT, testutil.EIT(testutil.EITParams{
		TableID:                  0x50,
		ServiceID:                sid,
		TSID:                     testTSID,
		ONID:                     testNID,
		Version:                  1,
		SectionNumber:            section,
		LastSectionNumber:        0x00,
		SegmentLastSectionNumber: 0x01,
		LastTableID:              0x50,
	}, testutil.Event{ID: uint16(section) + 1, Start: testutil.MJD(58484, 12, 0, 0), Duration: testutil.BCDDuration(1, 0, 0), Name: "News"}))
}

func TestNew_SkipsInvalidAndDisabled(t *testing.T) {
	disabled := grTuner("off")
	disabled.Disabled = true
	bs := config.TunerConfig{Name: "sat", Types: []string{config.ChannelTypeBS}, Command: "rec-sat <channel>"}

	env := newTestEnv(t, []config.TunerConfig{grTuner("t0"), {Name: "broken"}, disabled, bs}, Options{})

	var idx []int
	for _, d := range env.tuner.Devices() {
		idx = append(idx, d.Index())
	}
	assert.Equal(t, []int{0, 3}, idx)

	_, ok := env.tuner.Device(1)
	assert.False(t, ok)
	d, ok := env.tuner.Device(3)
	require.True(t, ok)
	assert.Equal(t, "sat", d.Config().Name)

	assert.True(t, env.tuner.TypeExists(config.ChannelTypeGR))
	assert.True(t, env.tuner.TypeExists(config.ChannelTypeBS))
	assert.False(t, env.tuner.TypeExists(config.ChannelTypeCS))
	assert.Len(t, env.tuner.Status(), 2)
}

func TestGetStream_JoinBeforeStart(t *testing.T) {
	env := newTestEnv(t, []config.TunerConfig{grTuner("t0"), grTuner("t1")}, Options{})
	ctx := context.Background()
	loaded, free := env.tuner.Capacity()
	assert.Equal(t, 2, loaded)
	assert.Equal(t, 2, free)

	a, err := env.tuner.ChannelStream(ctx, chGR27, user("a", 0))
	require.NoError(t, err)
	defer a.Close()
	_, free = env.tuner.Capacity()
	assert.Equal(t, 1, free)
	b, err := env.tuner.ChannelStream(ctx, chGR27, user("b", 0))
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, 0, a.Device())
	assert.Equal(t, 0, b.Device())
	assert.Equal(t, 1, env.spawner.count())

	c, err := env.tuner.ChannelStream(ctx, chGR26, user("c", 0))
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, 1, c.Device())
	assert.Equal(t, 2, env.spawner.count())
}

func TestGetStream_TypeFiltering(t *testing.T) {
	bs := config.TunerConfig{Name: "sat", Types: []string{config.ChannelTypeBS}, Command: "rec-sat <channel>"}
	env := newTestEnv(t, []config.TunerConfig{grTuner("t0"), bs}, Options{})

	s, err := env.tuner.ChannelStream(context.Background(), chBS15, user("a", 0))
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, 1, s.Device())
	assert.Equal(t, "rec-sat BS15_0", env.spawner.last().command)

	_, err = env.tuner.ChannelStream(context.Background(), registry.Channel{Type: config.ChannelTypeCS, Channel: "CS2"}, user("b", 0))
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestGetStream_StrictPreemption(t *testing.T) {
	env := newTestEnv(t, []config.TunerConfig{grTuner("t0")}, Options{})
	ctx := context.Background()

	a, err := env.tuner.ChannelStream(ctx, chGR27, user("a", 0))
	require.NoError(t, err)
	defer a.Close()

	_, err = env.tuner.ChannelStream(ctx, chGR26, user("b", 0))
	assert.ErrorIs(t, err, ErrNoAvailableTuners)
	assert.Equal(t, 1, env.spawner.count())

	c, err := env.tuner.ChannelStream(ctx, chGR26, user("c", 1))
	require.NoError(t, err)
	defer c.Close()

	select {
	case <-a.Done():
	case <-time.After(waitFor):
		t.Fatal("preempted stream was not closed")
	}
	assert.Equal(t, 2, env.spawner.count())
	ch, _ := env.tuner.devices[0].Channel()
	assert.Equal(t, chGR26.Channel, ch.Channel)
}

func TestGetStream_ReplacesIdleDevice(t *testing.T) {
	opts := Options{Device: fastDeviceOptions()}
	opts.Device.IdleGrace = time.Second
	env := newTestEnv(t, []config.TunerConfig{grTuner("t0")}, opts)
	ctx := context.Background()

	a, err := env.tuner.ChannelStream(ctx, chGR27, user("a", 0))
	require.NoError(t, err)
	require.NoError(t, a.Close())
	d := env.tuner.devices[0]
	require.Eventually(t, func() bool { return len(d.Users()) == 0 }, waitFor, tick)

	b, err := env.tuner.ChannelStream(ctx, chGR26, user("b", PriorityBackground))
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, 2, env.spawner.count())
	assert.EqualValues(t, 1, env.spawner.proc(0).terminated.Load())
}

func TestGetStream_ContextCanceled(t *testing.T) {
	env := newTestEnv(t, []config.TunerConfig{grTuner("t0")}, Options{RetryCount: 1000})

	a, err := env.tuner.ChannelStream(context.Background(), chGR27, user("a", 5))
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = env.tuner.ChannelStream(ctx, chGR26, user("b", 1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestChannelStream_PassesThrough(t *testing.T) {
	env := newTestEnv(t, []config.TunerConfig{grTuner("t0")}, Options{})

	s, err := env.tuner.ChannelStream(context.Background(), chGR27, user("a", 0))
	require.NoError(t, err)
	defer s.Close()

	pkt := testutil.MediaPacket(0x111, 0, 0xAB)
	env.spawner.last().emit(t, pkt[:])

	buf := make([]byte, len(pkt))
	_, err = io.ReadFull(s, buf)
	require.NoError(t, err)
	assert.Equal(t, pkt[:], buf)
}

func TestServiceStream_ResolvesChannel(t *testing.T) {
	env := newTestEnv(t, []config.TunerConfig{grTuner("t0")}, Options{})

	svc, ok := env.services.Get(testNID, 101)
	require.True(t, ok)
	s, err := env.tuner.ServiceStream(context.Background(), svc, user("a", 0))
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "rec-t0 27", env.spawner.last().command)

	orphan := registry.NewService(testNID, 999, "Gone", registry.Channel{Type: config.ChannelTypeGR, Channel: "99"})
	_, err = env.tuner.ServiceStream(context.Background(), orphan, user("b", 0))
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestProgramStream_UnknownService(t *testing.T) {
	env := newTestEnv(t, []config.TunerConfig{grTuner("t0")}, Options{})
	_, err := env.tuner.ProgramStream(context.Background(), epg.Program{NetworkID: testNID, ServiceID: 555, EventID: 1}, user("a", 0))
	assert.ErrorIs(t, err, registry.ErrNotFound)
	assert.Zero(t, env.spawner.count())
}

func TestGetServices(t *testing.T) {
	env := newTestEnv(t, []config.TunerConfig{grTuner("t0")}, Options{})
	w := newTSWriter()
	env.emitWhenSpawned(1, w.pat(), w.section(mpegts.PIDSDT, testutil.SDT(testTSID, testNID, 1,
		testutil.Service{ID: 101, Name: "Channel One"},
		// "東京" in ARIB kanji
		testutil.Service{ID: 102, RawName: []byte{0x45, 0x6C, 0x35, 0x7E}},
	)))

	got, err := env.tuner.GetServices(context.Background(), chGR26, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []registry.Service{
		registry.NewService(testNID, 101, "Channel One", chGR26),
		registry.NewService(testNID, 102, "東京", chGR26),
	}, got)
}

func TestGetServices_CallerCancelDoesNotFailOthers(t *testing.T) {
	env := newTestEnv(t, []config.TunerConfig{grTuner("t0")}, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := env.tuner.GetServices(ctx, chGR26, time.Second)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Eventually(t, func() bool { return env.spawner.count() == 1 }, waitFor, tick, "scan keeps running")

	type result struct {
		svcs []registry.Service
		err  error
	}
	done := make(chan result, 1)
	go func() {
		svcs, err := env.tuner.GetServices(context.Background(), chGR26, time.Second)
		done <- result{svcs, err}
	}()
	time.Sleep(20 * time.Millisecond)

	w := newTSWriter()
	env.emitWhenSpawned(1, w.pat(), w.section(mpegts.PIDSDT, testutil.SDT(testTSID, testNID, 1,
		testutil.Service{ID: 101, Name: "Channel One"},
	)))

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.Equal(t, []registry.Service{registry.NewService(testNID, 101, "Channel One", chGR26)}, res.svcs)
	case <-time.After(waitFor):
		t.Fatal("second caller did not get the shared scan result")
	}
	assert.Equal(t, 1, env.spawner.count())
}

func TestCharsetFor(t *testing.T) {
	for _, typ := range []string{config.ChannelTypeGR, config.ChannelTypeBS, config.ChannelTypeCS, config.ChannelTypeSKY} {
		assert.Equal(t, mpegts.CharsetARIB, charsetFor(typ), typ)
	}
	assert.Equal(t, mpegts.CharsetDVB, charsetFor("DVB-T"))
}

func TestGetServices_Timeout(t *testing.T) {
	env := newTestEnv(t, []config.TunerConfig{grTuner("t0")}, Options{})
	_, err := env.tuner.GetServices(context.Background(), chGR27, 30*time.Millisecond)
	assert.ErrorIs(t, err, ErrServicesNotFound)
}

func TestGetEPG_Ready(t *testing.T) {
	env := newTestEnv(t, []config.TunerConfig{grTuner("t0")}, Options{})
	w := newTSWriter()
	env.emitWhenSpawned(1, w.pat(), w.schedule(101, 0x00), w.schedule(101, 0x01))

	require.NoError(t, env.tuner.GetEPG(context.Background(), chGR27, time.Second))
	assert.Equal(t, 2, env.sink.len())
	assert.Eventually(t, func() bool { return !env.claims.Held(testNID) }, waitFor, tick)
}

func TestGetEPG_AlreadyGathering(t *testing.T) {
	env := newTestEnv(t, []config.TunerConfig{grTuner("t0")}, Options{})
	require.True(t, env.claims.Acquire(testNID))
	defer env.claims.Release(testNID)

	assert.ErrorIs(t, env.tuner.GetEPG(context.Background(), chGR27, time.Second), ErrEPGInProgress)
	assert.Zero(t, env.spawner.count())
}

func TestGetEPG_YieldsToViewer(t *testing.T) {
	env := newTestEnv(t, []config.TunerConfig{grTuner("t0")}, Options{})
	done := make(chan error, 1)
	go func() { done <- env.tuner.GetEPG(context.Background(), chGR27, 5*time.Second) }()
	require.Eventually(t, func() bool { return env.spawner.count() == 1 }, waitFor, tick)
	require.Eventually(t, func() bool { return len(env.tuner.devices[0].Users()) == 1 }, waitFor, tick)

	s, err := env.tuner.ChannelStream(context.Background(), chGR26, user("viewer", 0))
	require.NoError(t, err)
	defer s.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrEPGIncomplete)
	case <-time.After(waitFor):
		t.Fatal("epg gather was not preempted")
	}
}

func TestStream_Decoder(t *testing.T) {
	cfg := grTuner("t0")
	cfg.Decoder = "decode-arib"
	env := newTestEnv(t, []config.TunerConfig{cfg}, Options{})

	s, err := env.tuner.ChannelStream(context.Background(), chGR27, user("a", 0))
	require.NoError(t, err)
	require.Equal(t, 2, env.spawner.count())
	decoder := env.spawner.proc(1)
	assert.Equal(t, "decode-arib", decoder.command)

	pkt := testutil.MediaPacket(0x111, 0, 0xCD)
	env.spawner.proc(0).emit(t, pkt[:])
	buf := make([]byte, len(pkt))
	_, err = io.ReadFull(s, buf)
	require.NoError(t, err)
	assert.Equal(t, pkt[:], buf)

	require.NoError(t, s.Close())
	select {
	case <-decoder.Done():
	case <-time.After(waitFor):
		t.Fatal("decoder still running after stream close")
	}
}

func TestStream_DecoderDisabledPerUser(t *testing.T) {
	cfg := grTuner("t0")
	cfg.Decoder = "decode-arib"
	env := newTestEnv(t, []config.TunerConfig{cfg}, Options{})

	s, err := env.tuner.ChannelStream(context.Background(), chGR27, User{ID: "raw", DisableDecoder: true})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, 1, env.spawner.count())
}

func TestClose_KillsAllDevices(t *testing.T) {
	env := newTestEnv(t, []config.TunerConfig{grTuner("t0"), grTuner("t1")}, Options{})
	ctx := context.Background()

	a, err := env.tuner.ChannelStream(ctx, chGR27, user("a", 0))
	require.NoError(t, err)
	b, err := env.tuner.ChannelStream(ctx, chGR26, user("b", 0))
	require.NoError(t, err)

	require.NoError(t, env.tuner.Close(ctx))
	<-a.Done()
	<-b.Done()
	for _, d := range env.tuner.Devices() {
		assert.True(t, d.IsFree())
	}
}
