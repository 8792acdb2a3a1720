// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package tuner

import "errors"

var (
	// ErrNoAvailableTuners is returned when no device could serve a request after all retries.
	ErrNoAvailableTuners = errors.New("no available tuners")
	// ErrDeviceNotAvailable is returned while a device is releasing.
	ErrDeviceNotAvailable = errors.New("tuner device is not available")
	// ErrHigherPriorityUser is returned when a retune would preempt equal or higher priority users.
	ErrHigherPriorityUser = errors.New("tuner device is locked by higher priority user")
	// ErrNoStream is returned when joining a device that is not streaming.
	ErrNoStream = errors.New("tuner device has no stream")
	// ErrUnsupportedType is returned when the device cannot receive the channel type.
	ErrUnsupportedType = errors.New("tuner device does not support channel type")
	// ErrNoProcess is returned when killing a device without a capture process.
	ErrNoProcess = errors.New("tuner device has no process")
	// ErrServicesNotFound is returned when a service scan ends without an SDT.
	ErrServicesNotFound = errors.New("stream has closed before get services")
	// ErrEPGIncomplete is returned when an EPG gather stream closes before every schedule is complete.
	ErrEPGIncomplete = errors.New("stream has closed before epg is ready")
	// ErrEPGInProgress is returned when the network is already being gathered.
	ErrEPGInProgress = errors.New("epg gathering is already in progress")
)
