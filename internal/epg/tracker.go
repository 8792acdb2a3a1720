// SPDX-License-Identifier: MIT

package epg

import (
	"time"

	"github.com/ManuGH/tunerd/internal/mpegts"
)

// ServiceKey identifies a broadcast service.
type ServiceKey struct {
	NetworkID uint16
	ServiceID uint16
}

// segmentFlags tracks one schedule table (one table_id) as 32 segments of 8
// sections. A bit in observed marks a received section; a bit in ignore marks a
// section that will never arrive.
type segmentFlags struct {
	observed [32]byte
	ignore   [32]byte
	version  int
}

func (s *segmentFlags) complete() bool {
	for i := range s.observed {
		if s.observed[i]|s.ignore[i] != 0xFF {
			return false
		}
	}
	return true
}

type tableState struct {
	flags       [8]segmentFlags
	lastFlagsID int
}

func newTableState() tableState {
	var ts tableState
	ts.lastFlagsID = -1
	for i := range ts.flags {
		for j := range ts.flags[i].ignore {
			ts.flags[i].ignore[j] = 0xFF
		}
		ts.flags[i].version = -1
	}
	return ts
}

type tableGroups struct {
	basic    tableState
	extended tableState
}

// Tracker decides when the EIT schedule of every observed service has been
// received completely. It is not safe for concurrent use.
type Tracker struct {
	states map[ServiceKey]*tableGroups
	ready  bool
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{states: make(map[ServiceKey]*tableGroups)}
}

// Ready reports whether completeness has been reached.
func (t *Tracker) Ready() bool {
	return t.ready
}

// Update records a schedule section. streamTime is the broadcast clock from
// TOT/TDT, zero while unknown. It returns true exactly once: on the update
// that completes every tracked service. Updates after that are ignored.
func (t *Tracker) Update(eit *mpegts.EIT, streamTime time.Time) bool {
	if t.ready {
		return false
	}

	key := ServiceKey{NetworkID: eit.OriginalNetworkID, ServiceID: eit.ServiceID}
	groups, ok := t.states[key]
	if !ok {
		groups = &tableGroups{basic: newTableState(), extended: newTableState()}
		t.states[key] = groups
	}

	flagsID := int(eit.TableID & 0x07)
	lastFlagsID := int(eit.LastTableID & 0x07)
	segment := int(eit.SectionNumber >> 3)
	lastSegment := int(eit.LastSectionNumber >> 3)
	section := int(eit.SectionNumber & 0x07)
	segmentLast := int(eit.SegmentLastSectionNumber & 0x07)
	version := int(eit.Version)

	target := &groups.basic
	if eit.TableID&0x0F >= 0x08 {
		target = &groups.extended
	}
	flags := &target.flags[flagsID]

	if target.lastFlagsID != lastFlagsID || (flags.version != -1 && flags.version != version) {
		for i := range target.flags {
			fill := byte(0xFF)
			if i <= lastFlagsID {
				fill = 0x00
			}
			for j := 0; j < 32; j++ {
				target.flags[i].observed[j] = 0x00
				target.flags[i].ignore[j] = fill
			}
		}
	}

	// segments already in the past for the first table of the day
	if flagsID == 0 && !streamTime.IsZero() {
		past := streamTime.In(mpegts.BroadcastZone).Hour() / 3
		for i := 0; i < past; i++ {
			flags.ignore[i] = 0xFF
		}
	}

	for i := lastSegment + 1; i < 32; i++ {
		flags.ignore[i] = 0xFF
	}
	for i := segmentLast + 1; i < 8; i++ {
		flags.ignore[segment] |= 1 << i
	}
	flags.observed[segment] |= 1 << section

	target.lastFlagsID = lastFlagsID
	flags.version = version

	t.ready = t.complete()
	return t.ready
}

func (t *Tracker) complete() bool {
	for _, g := range t.states {
		for _, ts := range []*tableState{&g.basic, &g.extended} {
			for i := range ts.flags {
				if !ts.flags[i].complete() {
					return false
				}
			}
		}
	}
	return true
}
