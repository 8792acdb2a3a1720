// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package mpegts

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Well-known PIDs.
const (
	PIDPAT   = 0x0000
	PIDCAT   = 0x0001
	PIDNIT   = 0x0010
	PIDSDT   = 0x0011
	PIDEIT   = 0x0012
	PIDRST   = 0x0013
	PIDTDT   = 0x0014
	PIDSDTT  = 0x0023
	PIDBIT   = 0x0024
	PIDSDTT2 = 0x0028
	PIDNull  = 0x1FFF
)

// Table identifiers.
const (
	TableIDPAT              = 0x00
	TableIDPMT              = 0x02
	TableIDSDTActual        = 0x42
	TableIDEITPFActual      = 0x4E
	TableIDEITPFOther       = 0x4F
	TableIDEITScheduleFirst = 0x50
	TableIDEITScheduleLast  = 0x6F
	TableIDTDT              = 0x70
	TableIDTOT              = 0x73
)

// Descriptor tags.
const (
	DescriptorCA           = 0x09
	DescriptorService      = 0x48
	DescriptorShortEvent   = 0x4D
	DescriptorExtendedText = 0x4E
)

var (
	ErrShortSection = errors.New("mpegts: section too short")
	ErrCRCMismatch  = errors.New("mpegts: CRC32 mismatch")
	ErrTableID      = errors.New("mpegts: unexpected table id")
)

// SectionHeader is the long-form section header shared by PAT, PMT, SDT and EIT.
type SectionHeader struct {
	TableID           uint8
	SyntaxIndicator   bool
	Length            int // section_length: bytes following the length field
	TableIDExtension  uint16
	Version           uint8
	CurrentNext       bool
	SectionNumber     uint8
	LastSectionNumber uint8
}

// ParseSectionHeader decodes the 8-byte long-form header.
func ParseSectionHeader(b []byte) (SectionHeader, error) {
	if len(b) < 8 {
		return SectionHeader{}, ErrShortSection
	}
	h := SectionHeader{
		TableID:           b[0],
		SyntaxIndicator:   b[1]&0x80 != 0,
		Length:            int(b[1]&0x0F)<<8 | int(b[2]),
		TableIDExtension:  binary.BigEndian.Uint16(b[3:5]),
		Version:           (b[5] >> 1) & 0x1F,
		CurrentNext:       b[5]&0x01 != 0,
		SectionNumber:     b[6],
		LastSectionNumber: b[7],
	}
	if len(b) < h.Length+3 {
		return SectionHeader{}, fmt.Errorf("%w: have %d, need %d", ErrShortSection, len(b), h.Length+3)
	}
	return h, nil
}

// Descriptor is a raw tag/length/value descriptor.
type Descriptor struct {
	Tag  uint8
	Data []byte
}

func parseDescriptors(b []byte) ([]Descriptor, error) {
	var out []Descriptor
	for len(b) > 0 {
		if len(b) < 2 {
			return out, ErrShortSection
		}
		n := int(b[1])
		if len(b) < 2+n {
			return out, ErrShortSection
		}
		out = append(out, Descriptor{Tag: b[0], Data: b[2 : 2+n]})
		b = b[2+n:]
	}
	return out, nil
}

func findDescriptor(ds []Descriptor, tag uint8) (Descriptor, bool) {
	for _, d := range ds {
		if d.Tag == tag {
			return d, true
		}
	}
	return Descriptor{}, false
}

// checked validates CRC and returns the header together with the section body
// (bytes after the 8-byte header, excluding the CRC).
func checked(section []byte, accept func(tableID uint8) bool) (SectionHeader, []byte, error) {
	h, err := ParseSectionHeader(section)
	if err != nil {
		return h, nil, err
	}
	if !accept(h.TableID) {
		return h, nil, fmt.Errorf("%w: 0x%02X", ErrTableID, h.TableID)
	}
	end := h.Length + 3
	if end < 12 {
		return h, nil, ErrShortSection
	}
	if !VerifyCRC32(section[:end]) {
		return h, nil, ErrCRCMismatch
	}
	return h, section[8 : end-4], nil
}

// PATProgram is a single PAT entry. ProgramNumber 0 carries the network PID.
type PATProgram struct {
	ProgramNumber uint16
	PID           uint16
}

// PAT is a decoded program association section.
type PAT struct {
	SectionHeader
	TransportStreamID uint16
	Programs          []PATProgram
	// Raw is the complete section as received.
	Raw []byte
}

// ParsePAT decodes a program association section.
func ParsePAT(section []byte) (*PAT, error) {
	h, body, err := checked(section, func(id uint8) bool { return id == TableIDPAT })
	if err != nil {
		return nil, err
	}
	pat := &PAT{SectionHeader: h, TransportStreamID: h.TableIDExtension, Raw: section}
	for ; len(body) >= 4; body = body[4:] {
		pat.Programs = append(pat.Programs, PATProgram{
			ProgramNumber: binary.BigEndian.Uint16(body[0:2]),
			PID:           binary.BigEndian.Uint16(body[2:4]) & 0x1FFF,
		})
	}
	return pat, nil
}

// PMTStream is an elementary stream entry.
type PMTStream struct {
	StreamType  uint8
	PID         uint16
	Descriptors []Descriptor
}

// PMT is a decoded program map section.
type PMT struct {
	SectionHeader
	ProgramNumber uint16
	PCRPID        uint16
	ProgramInfo   []Descriptor
	Streams       []PMTStream
}

// CAPIDs returns the CA PIDs announced in the program info loop.
func (p *PMT) CAPIDs() []uint16 {
	var pids []uint16
	for _, d := range p.ProgramInfo {
		if d.Tag == DescriptorCA && len(d.Data) >= 4 {
			pids = append(pids, binary.BigEndian.Uint16(d.Data[2:4])&0x1FFF)
		}
	}
	return pids
}

// ParsePMT decodes a program map section.
func ParsePMT(section []byte) (*PMT, error) {
	h, body, err := checked(section, func(id uint8) bool { return id == TableIDPMT })
	if err != nil {
		return nil, err
	}
	if len(body) < 4 {
		return nil, ErrShortSection
	}
	pmt := &PMT{
		SectionHeader: h,
		ProgramNumber: h.TableIDExtension,
		PCRPID:        binary.BigEndian.Uint16(body[0:2]) & 0x1FFF,
	}
	infoLen := int(binary.BigEndian.Uint16(body[2:4]) & 0x0FFF)
	body = body[4:]
	if len(body) < infoLen {
		return nil, ErrShortSection
	}
	if pmt.ProgramInfo, err = parseDescriptors(body[:infoLen]); err != nil {
		return nil, err
	}
	body = body[infoLen:]

	for len(body) >= 5 {
		esLen := int(binary.BigEndian.Uint16(body[3:5]) & 0x0FFF)
		if len(body) < 5+esLen {
			return nil, ErrShortSection
		}
		ds, err := parseDescriptors(body[5 : 5+esLen])
		if err != nil {
			return nil, err
		}
		pmt.Streams = append(pmt.Streams, PMTStream{
			StreamType:  body[0],
			PID:         binary.BigEndian.Uint16(body[1:3]) & 0x1FFF,
			Descriptors: ds,
		})
		body = body[5+esLen:]
	}
	return pmt, nil
}

// SDTService is a service entry of the service description table.
type SDTService struct {
	ServiceID    uint16
	ServiceType  uint8
	ProviderName string
	Name         string
	Descriptors  []Descriptor
}

// SDT is a decoded service description section.
type SDT struct {
	SectionHeader
	TransportStreamID uint16
	OriginalNetworkID uint16
	Services          []SDTService
}

// ParseSDT decodes a service description section (actual or other).
func ParseSDT(section []byte, cs Charset) (*SDT, error) {
	h, body, err := checked(section, func(id uint8) bool { return id == TableIDSDTActual || id == 0x46 })
	if err != nil {
		return nil, err
	}
	if len(body) < 3 {
		return nil, ErrShortSection
	}
	sdt := &SDT{
		SectionHeader:     h,
		TransportStreamID: h.TableIDExtension,
		OriginalNetworkID: binary.BigEndian.Uint16(body[0:2]),
	}
	body = body[3:]
	for len(body) >= 5 {
		dLen := int(binary.BigEndian.Uint16(body[3:5]) & 0x0FFF)
		if len(body) < 5+dLen {
			return nil, ErrShortSection
		}
		ds, err := parseDescriptors(body[5 : 5+dLen])
		if err != nil {
			return nil, err
		}
		svc := SDTService{
			ServiceID:   binary.BigEndian.Uint16(body[0:2]),
			Descriptors: ds,
		}
		if d, ok := findDescriptor(ds, DescriptorService); ok {
			svc.ServiceType, svc.ProviderName, svc.Name = parseServiceDescriptor(d.Data, cs)
		}
		sdt.Services = append(sdt.Services, svc)
		body = body[5+dLen:]
	}
	return sdt, nil
}

func parseServiceDescriptor(b []byte, cs Charset) (serviceType uint8, provider, name string) {
	if len(b) < 2 {
		return 0, "", ""
	}
	serviceType = b[0]
	n := int(b[1])
	if len(b) < 2+n {
		return serviceType, "", ""
	}
	provider = cs.Decode(b[2 : 2+n])
	b = b[2+n:]
	if len(b) < 1 || len(b) < 1+int(b[0]) {
		return serviceType, provider, ""
	}
	return serviceType, provider, cs.Decode(b[1 : 1+int(b[0])])
}

// EITEvent is a single event of an event information section.
type EITEvent struct {
	EventID       uint16
	StartTime     time.Time // zero when undefined
	Duration      time.Duration
	RunningStatus uint8
	FreeCAMode    bool
	Name          string
	Text          string
	Descriptors   []Descriptor
}

// EIT is a decoded event information section.
type EIT struct {
	SectionHeader
	ServiceID                uint16
	TransportStreamID        uint16
	OriginalNetworkID        uint16
	SegmentLastSectionNumber uint8
	LastTableID              uint8
	Events                   []EITEvent
}

// IsPresentFollowing reports whether the section belongs to the present/following table.
func (e *EIT) IsPresentFollowing() bool {
	return e.TableID == TableIDEITPFActual || e.TableID == TableIDEITPFOther
}

// ParseEIT decodes an event information section (present/following or schedule).
func ParseEIT(section []byte, cs Charset) (*EIT, error) {
	h, body, err := checked(section, func(id uint8) bool { return id >= TableIDEITPFActual && id <= TableIDEITScheduleLast })
	if err != nil {
		return nil, err
	}
	if len(body) < 6 {
		return nil, ErrShortSection
	}
	eit := &EIT{
		SectionHeader:            h,
		ServiceID:                h.TableIDExtension,
		TransportStreamID:        binary.BigEndian.Uint16(body[0:2]),
		OriginalNetworkID:        binary.BigEndian.Uint16(body[2:4]),
		SegmentLastSectionNumber: body[4],
		LastTableID:              body[5],
	}
	body = body[6:]
	for len(body) >= 12 {
		dLen := int(binary.BigEndian.Uint16(body[10:12]) & 0x0FFF)
		if len(body) < 12+dLen {
			return nil, ErrShortSection
		}
		ds, err := parseDescriptors(body[12 : 12+dLen])
		if err != nil {
			return nil, err
		}
		ev := EITEvent{
			EventID:       binary.BigEndian.Uint16(body[0:2]),
			RunningStatus: body[10] >> 5,
			FreeCAMode:    body[10]&0x10 != 0,
			Descriptors:   ds,
		}
		if t, ok := DecodeMJDTime(body[2:7]); ok {
			ev.StartTime = t
		}
		if d, ok := DecodeBCDDuration(body[7:10]); ok {
			ev.Duration = d
		}
		if d, ok := findDescriptor(ds, DescriptorShortEvent); ok {
			ev.Name, ev.Text = parseShortEvent(d.Data, cs)
		}
		eit.Events = append(eit.Events, ev)
		body = body[12+dLen:]
	}
	return eit, nil
}

func parseShortEvent(b []byte, cs Charset) (name, text string) {
	// ISO 639 language code (3) + name length + name + text length + text
	if len(b) < 4 {
		return "", ""
	}
	b = b[3:]
	n := int(b[0])
	if len(b) < 1+n {
		return "", ""
	}
	name = cs.Decode(b[1 : 1+n])
	b = b[1+n:]
	if len(b) < 1 || len(b) < 1+int(b[0]) {
		return name, ""
	}
	return name, cs.Decode(b[1 : 1+int(b[0])])
}

// TimeTable is a decoded TDT or TOT section.
type TimeTable struct {
	TableID uint8
	Time    time.Time
}

// ParseTimeTable decodes the UTC/JST time carried in a TDT or TOT section.
// TOT carries a CRC which is verified; TDT does not.
func ParseTimeTable(section []byte) (*TimeTable, error) {
	if len(section) < 8 {
		return nil, ErrShortSection
	}
	id := section[0]
	if id != TableIDTDT && id != TableIDTOT {
		return nil, fmt.Errorf("%w: 0x%02X", ErrTableID, id)
	}
	if id == TableIDTOT {
		end := (int(section[1]&0x0F)<<8 | int(section[2])) + 3
		if end > len(section) || !VerifyCRC32(section[:end]) {
			return nil, ErrCRCMismatch
		}
	}
	t, ok := DecodeMJDTime(section[3:8])
	if !ok {
		return nil, fmt.Errorf("mpegts: undefined time in table 0x%02X", id)
	}
	return &TimeTable{TableID: id, Time: t}, nil
}
