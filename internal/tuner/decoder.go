// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package tuner

import (
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/tunerd/internal/log"
	"github.com/ManuGH/tunerd/internal/tsfilter"
)

// startDecoder pipes the filter output through the decoder command. The two
// are tied together: the decoder is terminated when the filter closes and the
// filter is closed when the decoder exits.
func startDecoder(spawner Spawner, command string, filter *tsfilter.Filter, grace time.Duration, logger zerolog.Logger) (Process, error) {
	proc, err := spawner.Start(command)
	if err != nil {
		logger.Error().Err(err).
			Str(log.FieldEvent, "decoder.spawn_failed").
			Str(log.FieldCommand, command).
			Msg("failed to spawn decoder")
		return nil, fmt.Errorf("decoder: %w", err)
	}
	logger.Info().
		Str(log.FieldEvent, "decoder.spawned").
		Int(log.FieldPID, proc.PID()).
		Str(log.FieldCommand, command).
		Msg("decoder spawned")

	go func() {
		stdin := proc.Stdin()
		_, _ = io.Copy(stdin, filter)
		_ = stdin.Close()
	}()

	go func() {
		select {
		case <-filter.Done():
			proc.Terminate(grace)
		case <-proc.Done():
			_ = filter.Close()
		}
		st := proc.ExitStatus()
		logger.Info().
			Str(log.FieldEvent, "decoder.closed").
			Int(log.FieldPID, proc.PID()).
			Int(log.FieldExitCode, st.Code).
			Str(log.FieldSignal, st.Signal).
			Msg("decoder has closed")
	}()
	return proc, nil
}
