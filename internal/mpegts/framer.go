// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package mpegts

import (
	"bytes"

	"github.com/Comcast/gots/packet"
)

// SyncByte starts every transport stream packet.
const SyncByte = 0x47

// Framer splits an arbitrary byte stream into 188-byte packets. Bytes that do
// not complete a packet are carried over to the next Feed; when the stream
// loses alignment the framer skips ahead to the next sync byte.
type Framer struct {
	carry []byte
}

// Feed frames data and calls fn once per aligned packet. The packet pointer is
// only valid for the duration of the callback.
func (f *Framer) Feed(data []byte, fn func(pkt *packet.Packet)) {
	buf := data
	if len(f.carry) > 0 {
		buf = append(f.carry, data...)
	}

	var pkt packet.Packet
	i := 0
	for len(buf)-i >= packet.PacketSize {
		if buf[i] != SyncByte {
			j := bytes.IndexByte(buf[i:], SyncByte)
			if j < 0 {
				i = len(buf)
				break
			}
			i += j
			continue
		}
		copy(pkt[:], buf[i:i+packet.PacketSize])
		fn(&pkt)
		i += packet.PacketSize
	}

	rest := buf[i:]
	if len(rest) > 0 && rest[0] != SyncByte {
		if j := bytes.IndexByte(rest, SyncByte); j >= 0 {
			rest = rest[j:]
		} else {
			rest = nil
		}
	}
	f.carry = append(f.carry[:0], rest...)
}

// Reset drops any carried partial packet.
func (f *Framer) Reset() {
	f.carry = f.carry[:0]
}

// Buffered returns the number of carried bytes awaiting completion.
func (f *Framer) Buffered() int {
	return len(f.carry)
}
