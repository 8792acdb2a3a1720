package testutil

import (
	"encoding/binary"

	"github.com/Comcast/gots/packet"

	"github.com/ManuGH/tunerd/internal/mpegts"
)

// Section assembles a long-form PSI section: 8-byte header, body and CRC32.
func Section(tableID uint8, ext uint16, version, sectionNumber, lastSectionNumber uint8, body []byte) []byte {
	length := 5 + len(body) + 4
	data := make([]byte, 3+length)
	data[0] = tableID
	data[1] = 0xB0 | byte(length>>8)&0x0F
	data[2] = byte(length)
	binary.BigEndian.PutUint16(data[3:5], ext)
	data[5] = 0xC1 | (version&0x1F)<<1
	data[6] = sectionNumber
	data[7] = lastSectionNumber
	copy(data[8:], body)
	binary.BigEndian.PutUint32(data[8+len(body):], mpegts.CRC32(data[:8+len(body)]))
	return data
}

// Program is a PAT entry used by PAT.
type Program struct {
	Number uint16
	PID    uint16
}

// PAT builds a program association section.
func PAT(tsid uint16, version uint8, programs ...Program) []byte {
	body := make([]byte, 0, 4*len(programs))
	for _, p := range programs {
		body = append(body, byte(p.Number>>8), byte(p.Number), 0xE0|byte(p.PID>>8)&0x1F, byte(p.PID))
	}
	return Section(mpegts.TableIDPAT, tsid, version, 0, 0, body)
}

// Stream is a PMT elementary stream entry used by PMT.
type Stream struct {
	Type uint8
	PID  uint16
}

// PMT builds a program map section. A non-zero caPID adds a CA descriptor to the program info loop.
func PMT(program, pcrPID, caPID uint16, version uint8, streams ...Stream) []byte {
	var info []byte
	if caPID != 0 {
		info = []byte{mpegts.DescriptorCA, 4, 0x00, 0x05, 0xE0 | byte(caPID>>8)&0x1F, byte(caPID)}
	}
	body := []byte{0xE0 | byte(pcrPID>>8)&0x1F, byte(pcrPID), 0xF0 | byte(len(info)>>8)&0x0F, byte(len(info))}
	body = append(body, info...)
	for _, s := range streams {
		body = append(body, s.Type, 0xE0|byte(s.PID>>8)&0x1F, byte(s.PID), 0xF0, 0x00)
	}
	return Section(mpegts.TableIDPMT, program, version, 0, 0, body)
}

// ARIBText encodes ASCII text as middle-size ARIB alphanumerics.
func ARIBText(s string) []byte {
	return append([]byte{0x89, 0x0E}, s...)
}

// Service is an SDT entry used by SDT.
type Service struct {
	ID   uint16
	Name string
	// RawName is used verbatim instead of Name when set.
	RawName []byte
}

// SDT builds an SDT actual section with service descriptors.
func SDT(tsid, onid uint16, version uint8, services ...Service) []byte {
	body := []byte{byte(onid >> 8), byte(onid), 0xFF}
	for _, s := range services {
		name := ARIBText(s.Name)
		if s.RawName != nil {
			name = s.RawName
		}
		desc := []byte{mpegts.DescriptorService, byte(3 + len(name)), 0x01, 0x00, byte(len(name))}
		desc = append(desc, name...)
		body = append(body, byte(s.ID>>8), byte(s.ID), 0xFC, 0x80|byte(len(desc)>>8)&0x0F, byte(len(desc)))
		body = append(body, desc...)
	}
	return Section(mpegts.TableIDSDTActual, tsid, version, 0, 0, body)
}

// Event is an EIT entry used by EIT.
type Event struct {
	ID       uint16
	Start    []byte // 5-byte MJD/BCD field; nil encodes "undefined"
	Duration []byte // 3-byte BCD field; nil encodes "undefined"
	Name     string
}

// EITParams describes the header fields of an EIT section.
type EITParams struct {
	TableID                  uint8
	ServiceID                uint16
	TSID                     uint16
	ONID                     uint16
	Version                  uint8
	SectionNumber            uint8
	LastSectionNumber        uint8
	SegmentLastSectionNumber uint8
	LastTableID              uint8
}

// EIT builds an event information section.
func EIT(p EITParams, events ...Event) []byte {
	body := []byte{
		byte(p.TSID >> 8), byte(p.TSID),
		byte(p.ONID >> 8), byte(p.ONID),
		p.SegmentLastSectionNumber, p.LastTableID,
	}
	for _, e := range events {
		start := e.Start
		if start == nil {
			start = []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
		}
		dur := e.Duration
		if dur == nil {
			dur = []byte{0xFF, 0xFF, 0xFF}
		}
		var desc []byte
		if e.Name != "" {
			name := ARIBText(e.Name)
			desc = []byte{mpegts.DescriptorShortEvent, byte(5 + len(name)), 'j', 'p', 'n', byte(len(name))}
			desc = append(desc, name...)
			desc = append(desc, 0)
		}
		body = append(body, byte(e.ID>>8), byte(e.ID))
		body = append(body, start...)
		body = append(body, dur...)
		body = append(body, 0x80|byte(len(desc)>>8)&0x0F, byte(len(desc)))
		body = append(body, desc...)
	}
	return Section(p.TableID, p.ServiceID, p.Version, p.SectionNumber, p.LastSectionNumber, body)
}

// TOT builds a time offset section carrying the given MJD/BCD time.
func TOT(mjdTime []byte) []byte {
	data := []byte{mpegts.TableIDTOT, 0xB0, 0x00}
	data = append(data, mjdTime...)
	data = append(data, 0xF0, 0x00)
	length := len(data) - 3 + 4
	data[1] = 0xB0 | byte(length>>8)&0x0F
	data[2] = byte(length)
	crc := make([]byte, 4)
	binary.BigEndian.PutUint32(crc, mpegts.CRC32(data))
	return append(data, crc...)
}

// Packetize splits a section into transport packets on pid, starting with a
// zero pointer field and padding the last packet with 0xFF. cc is advanced
// for every packet emitted.
func Packetize(pid uint16, section []byte, cc *uint8) []packet.Packet {
	var out []packet.Packet
	payload := append([]byte{0x00}, section...)
	first := true
	for len(payload) > 0 {
		var pkt packet.Packet
		pkt[0] = mpegts.SyncByte
		pkt[1] = byte(pid>>8) & 0x1F
		if first {
			pkt[1] |= 0x40
		}
		pkt[2] = byte(pid)
		pkt[3] = 0x10 | (*cc & 0x0F)
		*cc = (*cc + 1) & 0x0F
		n := copy(pkt[4:], payload)
		for i := 4 + n; i < packet.PacketSize; i++ {
			pkt[i] = 0xFF
		}
		payload = payload[n:]
		first = false
		out = append(out, pkt)
	}
	return out
}

// MediaPacket returns a payload-only packet on pid filled with fill.
func MediaPacket(pid uint16, cc uint8, fill byte) packet.Packet {
	var pkt packet.Packet
	pkt[0] = mpegts.SyncByte
	pkt[1] = byte(pid>>8) & 0x1F
	pkt[2] = byte(pid)
	pkt[3] = 0x10 | (cc & 0x0F)
	for i := 4; i < packet.PacketSize; i++ {
		pkt[i] = fill
	}
	return pkt
}

// Join concatenates packets into a single byte stream.
func Join(pkts ...packet.Packet) []byte {
	out := make([]byte, 0, len(pkts)*packet.PacketSize)
	for i := range pkts {
		out = append(out, pkts[i][:]...)
	}
	return out
}

// MJD encodes a date/time as the 5-byte MJD + BCD field.
func MJD(mjd uint16, h, m, s int) []byte {
	return []byte{byte(mjd >> 8), byte(mjd), toBCD(h), toBCD(m), toBCD(s)}
}

// BCDDuration encodes an hh:mm:ss duration as 3 BCD bytes.
func BCDDuration(h, m, s int) []byte {
	return []byte{toBCD(h), toBCD(m), toBCD(s)}
}

func toBCD(v int) byte {
	return byte(v/10)<<4 | byte(v%10)
}
