// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package power

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type countingInhibitor struct {
	starts, stops int
	failStart     bool
}

func (c *countingInhibitor) Start() error {
	if c.failStart {
		return errors.New("no dbus")
	}
	c.starts++
	return nil
}

func (c *countingInhibitor) Stop() error {
	c.stops++
	return nil
}

func TestReservations(t *testing.T) {
	inh := &countingInhibitor{}
	r := New(inh)

	assert.True(t, r.AddWake("tuner0"))
	assert.False(t, r.AddWake("tuner0"))
	assert.True(t, r.AddWake("tuner1"))
	assert.True(t, r.Active())
	assert.Equal(t, 1, inh.starts)

	assert.True(t, r.RemoveWake("tuner0"))
	assert.True(t, r.Active())
	assert.True(t, r.RemoveWake("tuner1"))
	assert.False(t, r.RemoveWake("tuner1"))
	assert.False(t, r.Active())
	assert.Equal(t, 1, inh.stops)
}

func TestReservations_StartFailureRetried(t *testing.T) {
	inh := &countingInhibitor{failStart: true}
	r := New(inh)

	r.AddWake(1)
	assert.False(t, r.Active())

	inh.failStart = false
	r.AddWake(2)
	assert.True(t, r.Active())
}

func TestNop(t *testing.T) {
	var c Controller = New(nil)
	assert.True(t, c.AddWake("x"))
	assert.True(t, c.RemoveWake("x"))
}
