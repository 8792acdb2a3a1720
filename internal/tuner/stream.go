// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package tuner

import (
	"io"
	"sync"

	"github.com/ManuGH/tunerd/internal/tsfilter"
)

// Stream is one consumer's view of a device: the filtered transport stream,
// or the decoder output when the device has a decoder.
type Stream struct {
	device *Device
	user   User
	filter *tsfilter.Filter
	out    io.Reader

	closeOnce sync.Once
	decoder   Process
}

func (t *Tuner) newStream(d *Device, user User, filter *tsfilter.Filter) (*Stream, error) {
	s := &Stream{device: d, user: user, filter: filter, out: filter}
	if d.Decoder() == "" || user.DisableDecoder {
		return s, nil
	}
	proc, err := startDecoder(t.deps.Spawner, d.Decoder(), filter, t.opts.DecoderGrace, d.logger)
	if err != nil {
		return nil, err
	}
	s.decoder = proc
	s.out = proc.Stdout()
	return s, nil
}

// Read reads stream bytes. It returns io.EOF once the stream has closed and drained.
func (s *Stream) Read(p []byte) (int, error) {
	return s.out.Read(p)
}

// Close detaches the consumer from its device.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		_ = s.filter.Close()
		if s.decoder != nil {
			_ = s.decoder.Stdout().Close()
		}
	})
	return nil
}

// Done is closed when the stream ends for any reason.
func (s *Stream) Done() <-chan struct{} {
	return s.filter.Done()
}

// Events delivers filter notifications. It is closed with the stream.
func (s *Stream) Events() <-chan tsfilter.Event {
	return s.filter.Events()
}

// CloseReason reports why the stream ended.
func (s *Stream) CloseReason() tsfilter.CloseReason {
	return s.filter.CloseReason()
}

// Device returns the configuration index of the serving device.
func (s *Stream) Device() int {
	return s.device.Index()
}

// User returns the consumer the stream was opened for.
func (s *Stream) User() User {
	return s.user
}
