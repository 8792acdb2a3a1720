// SPDX-License-Identifier: MIT

package epg

import "sync"

// Claims grants at most one EIT parser per network id at a time.
type Claims struct {
	mu   sync.Mutex
	held map[uint16]struct{}
}

// NewClaims returns an empty claim set.
func NewClaims() *Claims {
	return &Claims{held: make(map[uint16]struct{})}
}

// Acquire claims networkID and reports whether the caller now owns it.
func (c *Claims) Acquire(networkID uint16) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.held[networkID]; ok {
		return false
	}
	c.held[networkID] = struct{}{}
	return true
}

// Release gives up the claim on networkID.
func (c *Claims) Release(networkID uint16) {
	c.mu.Lock()
	delete(c.held, networkID)
	c.mu.Unlock()
}

// Held reports whether networkID is currently claimed.
func (c *Claims) Held(networkID uint16) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.held[networkID]
	return ok
}
