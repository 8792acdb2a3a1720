// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package tuner

import (
	"math"

	"github.com/google/uuid"
)

// PriorityNone is the priority of a device without consumers. It is lower
// than any priority a consumer can hold.
const PriorityNone = math.MinInt

// Priorities used by internal consumers.
const (
	PriorityBackground = -1
	PriorityDefault    = 0
)

// User is a consumer of a tuner stream.
type User struct {
	ID       string
	Priority int
	Agent    string
	// DisableDecoder skips the device decoder even when one is configured.
	DisableDecoder bool
}

// AnonymousUser returns a user with a random id.
func AnonymousUser(priority int, agent string) User {
	return User{ID: uuid.NewString(), Priority: priority, Agent: agent}
}

func (u User) same(o User) bool {
	return u.ID == o.ID && u.Priority == o.Priority
}
