// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/tunerd/internal/config"
	"github.com/ManuGH/tunerd/internal/epg"
	"github.com/ManuGH/tunerd/internal/metrics"
	"github.com/ManuGH/tunerd/internal/mpegts"
	"github.com/ManuGH/tunerd/internal/registry"
	"github.com/ManuGH/tunerd/internal/tuner"
)

var (
	chGR27 = registry.Channel{Name: "NHK", Type: config.ChannelTypeGR, Channel: "27"}
	chGR26 = registry.Channel{Name: "ETV", Type: config.ChannelTypeGR, Channel: "26"}
	chBS15 = registry.Channel{Name: "BS1", Type: config.ChannelTypeBS, Channel: "BS15_0"}
)

type fakeScanner struct {
	mu       sync.Mutex
	services map[string][]registry.Service
	scanErr  error
	epgErr   map[string]error
	scans    []string
	gathers  []string
}

func key(ch registry.Channel) string { return ch.Type + "/" + ch.Channel }

func (f *fakeScanner) GetServices(_ context.Context, ch registry.Channel, _ time.Duration) ([]registry.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans = append(f.scans, key(ch))
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	return f.services[key(ch)], nil
}

func (f *fakeScanner) GetEPG(_ context.Context, ch registry.Channel, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gathers = append(f.gathers, key(ch))
	return f.epgErr[key(ch)]
}

func (f *fakeScanner) scanCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.scans)
}

func newRegistry(t *testing.T) (*registry.Channels, *registry.Services) {
	t.Helper()
	chans := registry.NewChannels()
	chans.Load([]config.ChannelConfig{
		{Name: chGR27.Name, Type: chGR27.Type, Channel: chGR27.Channel},
		{Name: chGR26.Name, Type: chGR26.Type, Channel: chGR26.Channel},
		{Name: chBS15.Name, Type: chBS15.Type, Channel: chBS15.Channel},
	}, nil)
	return chans, registry.NewServices("", chans)
}

func TestJobs_DiscoverServices(t *testing.T) {
	_, svcs := newRegistry(t)
	svcs.Add(registry.NewService(0x7FE0, 1024, "NHK General", chGR27))

	scanner := &fakeScanner{services: map[string][]registry.Service{
		key(chGR26): {
			registry.NewService(0x7FE1, 1032, "ETV", chGR26),
			registry.NewService(0x7FE1, 1033, "ETV 2", chGR26),
		},
	}}
	jobs := NewJobs(JobsConfig{}, scanner, svcs, nil)

	failed := jobs.DiscoverServices(context.Background(), []registry.ServiceHint{
		{Channel: chGR27, ServiceID: 1024},
		{Channel: chGR26, ServiceID: 1032},
		{Channel: chGR26, ServiceID: 1099},
	})

	assert.Empty(t, failed)
	assert.Equal(t, []string{"GR/26", "GR/26"}, scanner.scans, "registered service must not be scanned")
	assert.True(t, svcs.Has(0x7FE1, 1032))
	assert.False(t, svcs.Has(0x7FE1, 1033), "only the configured service id is registered")
}

func TestJobs_DiscoverServices_FailuresAreReturned(t *testing.T) {
	_, svcs := newRegistry(t)
	scanner := &fakeScanner{scanErr: tuner.ErrServicesNotFound}
	jobs := NewJobs(JobsConfig{}, scanner, svcs, nil)

	hints := []registry.ServiceHint{{Channel: chBS15, ServiceID: 101}}
	failed := jobs.DiscoverServices(context.Background(), hints)
	assert.Equal(t, hints, failed)
}

func TestJobs_GatherEPG(t *testing.T) {
	_, svcs := newRegistry(t)
	svcs.Add(registry.NewService(0x7FE0, 1024, "NHK General", chGR27))
	svcs.Add(registry.NewService(0x7FE0, 1025, "NHK General 2", chGR27))
	svcs.Add(registry.NewService(4, 101, "BS1", chBS15))

	scanner := &fakeScanner{epgErr: map[string]error{key(chBS15): errors.New("tune failed")}}
	jobs := NewJobs(JobsConfig{}, scanner, svcs, nil)

	before := testutil.ToFloat64(metrics.EPGGatherTotal.WithLabelValues("failure"))
	jobs.GatherEPG(context.Background())

	assert.ElementsMatch(t, []string{"GR/27", "BS/BS15_0"}, scanner.gathers, "one channel per network")
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.EPGGatherTotal.WithLabelValues("failure")))

	last, lastErr := jobs.LastGather()
	assert.True(t, last.IsZero())
	assert.Equal(t, "tune failed", lastErr)

	delete(scanner.epgErr, key(chBS15))
	jobs.GatherEPG(context.Background())
	last, lastErr = jobs.LastGather()
	assert.False(t, last.IsZero())
	assert.Empty(t, lastErr)
}

func TestJobs_ExportAndCollect(t *testing.T) {
	_, svcs := newRegistry(t)
	svcs.Add(registry.NewService(0x7FE0, 1024, "NHK General", chGR27))

	dir := t.TempDir()
	store, err := epg.OpenStore(filepath.Join(dir, ProgramsFile))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	now := time.Now().In(mpegts.BroadcastZone).Truncate(time.Minute)
	store.Write(&mpegts.EIT{
		ServiceID:         1024,
		OriginalNetworkID: 0x7FE0,
		Events: []mpegts.EITEvent{
			{EventID: 1, StartTime: now.Add(-72 * time.Hour), Duration: time.Hour, Name: "Old News"},
			{EventID: 2, StartTime: now.Add(time.Hour), Duration: time.Hour, Name: "Drama"},
		},
	})
	require.NoError(t, store.Flush(context.Background()))
	programs := registry.NewPrograms(store)

	xmltv := filepath.Join(dir, "guide.xml")
	jobs := NewJobs(JobsConfig{XMLTVPath: xmltv, Retention: 24 * time.Hour}, &fakeScanner{}, svcs, programs)

	jobs.CollectGarbage(context.Background())
	_, err = programs.Get(context.Background(), epg.ProgramID(0x7FE0, 1024, 1))
	assert.ErrorIs(t, err, registry.ErrNotFound)

	require.NoError(t, jobs.ExportXMLTV(context.Background()))
	tv, err := epg.ReadXMLTV(xmltv)
	require.NoError(t, err)
	require.Len(t, tv.Channels, 1)
	assert.Equal(t, []string{"NHK General"}, tv.Channels[0].DisplayName)
	require.Len(t, tv.Programs, 1)
	assert.Equal(t, "Drama", tv.Programs[0].Title.Value)

	info, err := os.Stat(xmltv)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestJobs_RunRetriesFailedDiscovery(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	_, svcs := newRegistry(t)
	scanner := &fakeScanner{scanErr: tuner.ErrNoAvailableTuners}
	jobs := NewJobs(JobsConfig{EPGDisabled: true, DiscoveryRetry: 10 * time.Millisecond}, scanner, svcs, nil)
	jobs.UpdateHints([]registry.ServiceHint{{Channel: chGR27, ServiceID: 1024}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- jobs.Run(ctx) }()

	require.Eventually(t, func() bool { return scanner.scanCount() >= 3 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestJobs_UpdateHintsKeepsLatest(t *testing.T) {
	_, svcs := newRegistry(t)
	jobs := NewJobs(JobsConfig{}, &fakeScanner{}, svcs, nil)

	jobs.UpdateHints([]registry.ServiceHint{{Channel: chGR27, ServiceID: 1}})
	jobs.UpdateHints([]registry.ServiceHint{{Channel: chGR26, ServiceID: 2}})

	got := <-jobs.hints
	assert.Equal(t, []registry.ServiceHint{{Channel: chGR26, ServiceID: 2}}, got)
}
