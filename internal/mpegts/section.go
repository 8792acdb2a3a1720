// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package mpegts

import (
	"github.com/Comcast/gots/packet"
)

// MaxSectionSize bounds a private section (4096 bytes including the 3-byte header).
const MaxSectionSize = 4096

// SectionAssembler reassembles PSI/SI sections carried on a single PID.
type SectionAssembler struct {
	buf    []byte
	active bool
	lastCC int
}

// NewSectionAssembler returns an assembler with no partial section.
func NewSectionAssembler() *SectionAssembler {
	return &SectionAssembler{lastCC: -1}
}

// Push consumes one packet and calls fn for every section completed by it.
// Sections handed to fn are owned by the callee.
func (a *SectionAssembler) Push(pkt *packet.Packet, fn func(section []byte)) {
	payload, err := packet.Payload(pkt)
	if err != nil || len(payload) == 0 {
		return
	}

	cc := int(packet.ContinuityCounter(pkt))
	if a.lastCC >= 0 {
		switch cc {
		case a.lastCC:
			// duplicate packet
			return
		case (a.lastCC + 1) & 0x0F:
		default:
			a.reset()
		}
	}
	a.lastCC = cc

	if !packet.PayloadUnitStartIndicator(pkt) {
		if !a.active {
			return
		}
		a.buf = append(a.buf, payload...)
		a.drain(fn)
		return
	}

	pointer := int(payload[0])
	rest := payload[1:]
	if pointer > len(rest) {
		a.reset()
		return
	}
	if a.active {
		a.buf = append(a.buf, rest[:pointer]...)
		a.drain(fn)
	}

	a.buf = append(a.buf[:0], rest[pointer:]...)
	a.active = true
	a.drain(fn)
}

func (a *SectionAssembler) drain(fn func(section []byte)) {
	for a.active {
		if len(a.buf) == 0 {
			a.active = false
			return
		}
		if a.buf[0] == 0xFF {
			// stuffing up to the end of the packet
			a.reset()
			return
		}
		if len(a.buf) < 3 {
			return
		}
		length := int(a.buf[1]&0x0F)<<8 | int(a.buf[2]) + 3
		if length > MaxSectionSize+3 {
			a.reset()
			return
		}
		if len(a.buf) < length {
			return
		}
		section := make([]byte, length)
		copy(section, a.buf[:length])
		a.buf = a.buf[length:]
		fn(section)
	}
}

func (a *SectionAssembler) reset() {
	a.buf = a.buf[:0]
	a.active = false
}
