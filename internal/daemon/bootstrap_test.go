// SPDX-License-Identifier: MIT
package daemon

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/tunerd/internal/config"
	"github.com/ManuGH/tunerd/internal/health"
	"github.com/ManuGH/tunerd/internal/tuner"
)

type idleProcess struct {
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	done    chan struct{}
	once    sync.Once
}

func (p *idleProcess) PID() int                     { return 1 }
func (p *idleProcess) Stdout() io.ReadCloser        { return p.stdoutR }
func (p *idleProcess) Stdin() io.WriteCloser        { return nopWriteCloser{} }
func (p *idleProcess) Done() <-chan struct{}        { return p.done }
func (p *idleProcess) ExitStatus() tuner.ExitStatus { return tuner.ExitStatus{} }
func (p *idleProcess) Diagnostics() []string        { return nil }
func (p *idleProcess) Terminate(time.Duration)      { p.once.Do(p.stop) }

func (p *idleProcess) stop() {
	_ = p.stdoutW.Close()
	close(p.done)
}

type nopWriteCloser struct{}

func (nopWriteCloser) Write(b []byte) (int, error) { return len(b), nil }
func (nopWriteCloser) Close() error                { return nil }

type idleSpawner struct{}

func (idleSpawner) Start(string) (tuner.Process, error) {
	r, w := io.Pipe()
	return &idleProcess{stdoutR: r, stdoutW: w, done: make(chan struct{})}, nil
}

func testConfig(t *testing.T) config.AppConfig {
	t.Helper()
	return config.AppConfig{
		DataDir: t.TempDir(),
		Server:  config.ServerConfig{Listen: reserveListenAddr(t), ShutdownTimeout: 2 * time.Second},
		EPG:     config.EPGConfig{Disabled: true},
		Tuners: []config.TunerConfig{
			{Name: "PX-W3U4", Types: []string{config.ChannelTypeGR}, Command: "recpt1 <channel> - -"},
		},
		Channels: []config.ChannelConfig{
			{Name: "NHK", Type: config.ChannelTypeGR, Channel: "27"},
			{Name: "BS1", Type: config.ChannelTypeBS, Channel: "BS15_0"},
		},
	}
}

func TestBuild_RunAndShutdown(t *testing.T) {
	cfg := testConfig(t)
	app, err := Build(context.Background(), Options{Config: cfg, Version: "test-1.0.0", Spawner: idleSpawner{}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.NoError(t, waitForListen(cfg.Server.Listen, 2*time.Second))
	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}

	resp, err := client.Get("http://" + cfg.Server.Listen + "/api/tuners")
	require.NoError(t, err)
	var tuners []tuner.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tuners))
	_ = resp.Body.Close()
	require.Len(t, tuners, 1)
	assert.Equal(t, "PX-W3U4", tuners[0].Name)

	resp, err = client.Get("http://" + cfg.Server.Listen + "/api/channels")
	require.NoError(t, err)
	var channels []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&channels))
	_ = resp.Body.Close()
	assert.Len(t, channels, 1, "channels without a supporting tuner are skipped")

	resp, err = client.Get("http://" + cfg.Server.Listen + "/readyz")
	require.NoError(t, err)
	var ready health.ReadinessResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ready))
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, ready.Checks, "tuners")
	assert.Contains(t, ready.Checks, "data_dir")
	assert.NotContains(t, ready.Checks, "epg_gather", "epg checks are skipped while gathering is disabled")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.FileExists(t, filepath.Join(cfg.DataDir, ProgramsFile))
}

func TestBuild_StreamEndsOnShutdown(t *testing.T) {
	cfg := testConfig(t)
	app, err := Build(context.Background(), Options{Config: cfg, Spawner: idleSpawner{}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	require.NoError(t, waitForListen(cfg.Server.Listen, 2*time.Second))

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + cfg.Server.Listen + "/api/channels/GR/27/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return while a stream was open")
	}
	_, _ = io.Copy(io.Discard, resp.Body)
}

func TestApp_RunRequiresManager(t *testing.T) {
	err := NewApp(AppDeps{}).Run(context.Background())
	assert.ErrorIs(t, err, ErrMissingManager)
}

func TestApp_ApplyReloadsChannels(t *testing.T) {
	chans, svcs := newRegistry(t)
	jobs := NewJobs(JobsConfig{}, &fakeScanner{}, svcs, nil)
	app := NewApp(AppDeps{
		Channels:   chans,
		TypeExists: func(typ string) bool { return typ == config.ChannelTypeGR },
		Jobs:       jobs,
	})

	app.apply(config.AppConfig{Channels: []config.ChannelConfig{
		{Name: "NHK", Type: config.ChannelTypeGR, Channel: "27", ServiceID: 1024},
		{Name: "BS1", Type: config.ChannelTypeBS, Channel: "BS15_0", ServiceID: 101},
	}})

	assert.Len(t, chans.All(), 1)
	hints := <-jobs.hints
	require.Len(t, hints, 1)
	assert.Equal(t, uint16(1024), hints[0].ServiceID)
}
