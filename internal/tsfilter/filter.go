// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package tsfilter demultiplexes a raw transport stream into the view one
// consumer asked for: the whole multiplex, a single service, a single event or
// metadata only. It also extracts services from the SDT and hands EIT
// schedule sections to the EPG sink while tracking guide completeness.
package tsfilter

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Comcast/gots/packet"
	"github.com/rs/zerolog"

	"github.com/ManuGH/tunerd/internal/epg"
	"github.com/ManuGH/tunerd/internal/log"
	"github.com/ManuGH/tunerd/internal/metrics"
	"github.com/ManuGH/tunerd/internal/mpegts"
)

// ErrClosed is returned by Write once the filter has closed.
var ErrClosed = errors.New("tsfilter: closed")

// providePIDs is the system PID set forwarded alongside a targeted service.
var providePIDs = []int{
	mpegts.PIDPAT,
	mpegts.PIDCAT,
	mpegts.PIDNIT,
	mpegts.PIDSDT,
	mpegts.PIDEIT,
	mpegts.PIDRST,
	mpegts.PIDTDT,
	mpegts.PIDSDTT,
	mpegts.PIDBIT,
	mpegts.PIDSDTT2,
}

const eventBuffer = 16

// Filter is an io.ReadWriteCloser: the device writes raw TS chunks, the
// consumer reads the filtered stream. Write never blocks.
type Filter struct {
	mu   sync.Mutex
	cond *sync.Cond

	networkID uint16
	serviceID uint16
	eventID   uint16
	parseSDT  bool
	parseEIT  bool
	claimed   bool

	services  ServiceLookup
	claims    *epg.Claims
	sink      epg.Sink
	highWater int
	charset   mpegts.Charset

	framer     mpegts.Framer
	assemblers map[int]*mpegts.SectionAssembler
	out        bytes.Buffer

	closed bool
	reason CloseReason
	done   chan struct{}
	events chan Event

	ready           bool
	provide         map[int]struct{} // nil forwards every PID
	parsePIDs       map[int]struct{}
	versions        map[int]uint8
	tsid            int
	serviceIDs      []uint16
	found           []Service
	parseServiceIDs map[uint16]struct{}
	pmtPID          int
	patsec          []byte
	streamTime      time.Time
	tracker         *epg.Tracker
	epgReady        bool

	logger zerolog.Logger
}

// New creates a filter for the given options.
func New(opts Options) *Filter {
	f := &Filter{
		networkID:       opts.NetworkID,
		serviceID:       opts.ServiceID,
		eventID:         opts.EventID,
		parseSDT:        opts.ParseSDT,
		services:        opts.Services,
		claims:          opts.Claims,
		sink:            opts.EPG,
		highWater:       opts.HighWaterMark,
		charset:         opts.Charset,
		assemblers:      make(map[int]*mpegts.SectionAssembler),
		done:            make(chan struct{}),
		events:          make(chan Event, eventBuffer),
		ready:           true,
		parsePIDs:       make(map[int]struct{}),
		versions:        make(map[int]uint8),
		tsid:            -1,
		parseServiceIDs: make(map[uint16]struct{}),
		pmtPID:          -1,
		tracker:         epg.NewTracker(),
	}
	f.cond = sync.NewCond(&f.mu)
	if f.highWater <= 0 {
		f.highWater = DefaultHighWaterMark
	}

	if f.serviceID != 0 {
		f.provide = make(map[int]struct{}, len(providePIDs))
		for _, pid := range providePIDs {
			f.provide[pid] = struct{}{}
		}
		f.ready = false
	}
	if f.eventID != 0 {
		f.ready = false
	}
	if opts.NoProvide {
		f.serviceID = 0
		f.eventID = 0
		f.provide = map[int]struct{}{}
		f.ready = false
	}
	if opts.ParseEIT {
		switch {
		case f.networkID == 0:
			f.parseEIT = true
		case f.claims == nil:
			f.parseEIT = true
		case f.claims.Acquire(f.networkID):
			f.parseEIT = true
			f.claimed = true
		}
	}

	f.logger = log.Derive(func(c *zerolog.Context) {
		*c = c.Str(log.FieldComponent, "tsfilter").
			Uint16(log.FieldNetworkID, opts.NetworkID).
			Uint16(log.FieldServiceID, f.serviceID).
			Uint16(log.FieldEventID, f.eventID)
	})
	metrics.FiltersActive.Inc()

	f.logger.Debug().Str(log.FieldEvent, "filter.created").
		Bool("parse_eit", f.parseEIT).
		Bool("parse_sdt", f.parseSDT).
		Bool("ready", f.ready).
		Msg("stream filter created")
	return f
}

// Write feeds raw transport stream bytes. It never blocks on the reader;
// when the unread output exceeds the high-water mark the filter closes.
func (f *Filter) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, ErrClosed
	}
	if f.out.Len() > f.highWater {
		metrics.IncFilterOverflow()
		f.logger.Error().Str(log.FieldEvent, "filter.overflow").
			Int("buffered", f.out.Len()).
			Msg("stream filter is closing because the output buffer overflowed")
		f.closeLocked(CloseReasonOverflow)
		return 0, fmt.Errorf("%w: %s", ErrClosed, CloseReasonOverflow)
	}

	metrics.AddFilterBytes("in", len(p))
	before := f.out.Len()
	f.framer.Feed(p, f.processPacket)
	if n := f.out.Len() - before; n > 0 {
		metrics.AddFilterBytes("out", n)
		f.cond.Broadcast()
	}
	return len(p), nil
}

// Read returns filtered bytes, blocking until output is available. It returns
// io.EOF once the filter has closed.
func (f *Filter) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for f.out.Len() == 0 && !f.closed {
		f.cond.Wait()
	}
	if f.out.Len() > 0 {
		return f.out.Read(p)
	}
	return 0, io.EOF
}

// Close closes the filter. It is idempotent.
func (f *Filter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeLocked(CloseReasonClosed)
	return nil
}

// Done is closed when the filter closes.
func (f *Filter) Done() <-chan struct{} {
	return f.done
}

// Events delivers filter notifications. The channel is closed when the filter closes.
func (f *Filter) Events() <-chan Event {
	return f.events
}

// CloseReason reports why the filter closed, or CloseReasonNone while open.
func (f *Filter) CloseReason() CloseReason {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reason
}

// Ready reports whether output is currently being forwarded.
func (f *Filter) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *Filter) closeLocked(reason CloseReason) {
	if f.closed {
		return
	}
	f.closed = true
	f.reason = reason

	f.out.Reset()
	f.framer.Reset()
	f.patsec = nil
	f.assemblers = nil

	if f.claimed {
		f.claims.Release(f.networkID)
		f.claimed = false
	}

	close(f.done)
	close(f.events)
	f.cond.Broadcast()
	metrics.FiltersActive.Dec()

	f.logger.Debug().Str(log.FieldEvent, "filter.closed").
		Str("reason", reason.String()).
		Msg("stream filter closed")
}

// emitLocked queues an event without blocking the write path.
func (f *Filter) emitLocked(ev Event) {
	if f.closed {
		return
	}
	select {
	case f.events <- ev:
	default:
		f.logger.Warn().Str(log.FieldEvent, "filter.event_dropped").
			Str("kind", ev.Kind.String()).
			Msg("event channel full, dropping notification")
	}
}

func (f *Filter) processPacket(pkt *packet.Packet) {
	if f.closed {
		return
	}

	pid := packet.Pid(pkt)
	if pid == mpegts.PIDNull {
		return
	}

	if f.shouldParse(pid) {
		f.parse(pid, pkt)
		if f.closed {
			return
		}
	}

	out := pkt
	if pid == mpegts.PIDPAT && f.serviceID != 0 {
		if f.patsec == nil {
			return
		}
		var pat packet.Packet
		copy(pat[:], pkt[:])
		n := copy(pat[5:], f.patsec)
		for i := 5 + n; i < packet.PacketSize; i++ {
			pat[i] = 0xFF
		}
		out = &pat
	}

	if !f.ready {
		return
	}
	if f.provide != nil {
		if _, ok := f.provide[pid]; !ok {
			return
		}
	}
	f.out.Write(out[:])
}

func (f *Filter) shouldParse(pid int) bool {
	switch {
	case pid == mpegts.PIDPAT:
		return true
	case pid == mpegts.PIDEIT:
		return f.parseEIT || f.eventID != 0
	case pid == mpegts.PIDTDT:
		return true
	}
	_, ok := f.parsePIDs[pid]
	return ok
}

func (f *Filter) parse(pid int, pkt *packet.Packet) {
	a, ok := f.assemblers[pid]
	if !ok {
		a = mpegts.NewSectionAssembler()
		f.assemblers[pid] = a
	}
	a.Push(pkt, func(section []byte) {
		if f.closed {
			return
		}
		f.handleSection(pid, section)
	})
}

func (f *Filter) handleSection(pid int, section []byte) {
	switch id := section[0]; {
	case id == mpegts.TableIDPAT && pid == mpegts.PIDPAT:
		pat, err := mpegts.ParsePAT(section)
		if err != nil {
			f.sectionError("pat", err)
			return
		}
		f.onPAT(pid, pat)
	case id == mpegts.TableIDPMT && pid == f.pmtPID:
		pmt, err := mpegts.ParsePMT(section)
		if err != nil {
			f.sectionError("pmt", err)
			return
		}
		f.onPMT(pid, pmt)
	case id == mpegts.TableIDSDTActual && pid == mpegts.PIDSDT:
		sdt, err := mpegts.ParseSDT(section, f.charset)
		if err != nil {
			f.sectionError("sdt", err)
			return
		}
		f.onSDT(pid, sdt)
	case id >= mpegts.TableIDEITPFActual && id <= mpegts.TableIDEITScheduleLast && pid == mpegts.PIDEIT:
		eit, err := mpegts.ParseEIT(section, f.charset)
		if err != nil {
			f.sectionError("eit", err)
			return
		}
		f.onEIT(eit)
	case (id == mpegts.TableIDTDT || id == mpegts.TableIDTOT) && pid == mpegts.PIDTDT:
		tt, err := mpegts.ParseTimeTable(section)
		if err != nil {
			f.sectionError("tot", err)
			return
		}
		f.streamTime = tt.Time
	}
}

func (f *Filter) sectionError(table string, err error) {
	metrics.IncSectionError(table)
	f.logger.Debug().Err(err).Str(log.FieldEvent, "filter.section_error").
		Str("table", table).
		Msg("dropping malformed section")
}

func (f *Filter) seenVersion(pid int, version uint8) bool {
	v, ok := f.versions[pid]
	return ok && v == version
}

func (f *Filter) onPAT(pid int, pat *mpegts.PAT) {
	if f.seenVersion(pid, pat.Version) {
		return
	}

	f.tsid = int(pat.TransportStreamID)
	f.serviceIDs = f.serviceIDs[:0]
	f.parseServiceIDs = make(map[uint16]struct{})

	for _, prog := range pat.Programs {
		if prog.ProgramNumber == 0 {
			f.logger.Debug().Uint16("nit_pid", prog.PID).Msg("detected NIT PID")
			continue
		}
		f.serviceIDs = append(f.serviceIDs, prog.ProgramNumber)

		registered := f.networkID != 0 && f.services != nil && f.services.Has(f.networkID, prog.ProgramNumber)
		f.logger.Debug().
			Uint16(log.FieldServiceID, prog.ProgramNumber).
			Uint16(log.FieldPMTPID, prog.PID).
			Bool("registered", registered).
			Msg("detected PMT PID")

		if prog.ProgramNumber == f.serviceID && int(prog.PID) != f.pmtPID {
			f.pmtPID = int(prog.PID)
			f.provide[f.pmtPID] = struct{}{}
			f.parsePIDs[f.pmtPID] = struct{}{}
			f.patsec = synthesizePAT(pat.Raw, prog.ProgramNumber, prog.PID)
		}

		if f.eventID != 0 && prog.ProgramNumber == f.serviceID {
			f.parseServiceIDs[prog.ProgramNumber] = struct{}{}
		}
		if (f.parseEIT || f.eventID != 0) && registered {
			for _, sid := range f.services.ServiceIDs(f.networkID) {
				f.parseServiceIDs[sid] = struct{}{}
			}
		}
	}

	if f.parseEIT && f.networkID == 0 {
		// nothing registered to narrow the set: follow every service in the PAT
		for _, sid := range f.serviceIDs {
			f.parseServiceIDs[sid] = struct{}{}
		}
	}

	if f.parseSDT {
		f.parsePIDs[mpegts.PIDSDT] = struct{}{}
	}

	f.versions[pid] = pat.Version
}

// synthesizePAT builds the 20-byte single-program PAT section carried in
// rewritten PID 0 packets: the original 8-byte header with section_length 17,
// the network entry (program 0 -> PID 0x0010), the target program and a CRC.
func synthesizePAT(raw []byte, program, pmtPID uint16) []byte {
	sec := make([]byte, 20)
	copy(sec[0:8], raw)
	sec[2] = 17
	sec[8] = 0
	sec[9] = 0
	sec[10] = 0xE0
	sec[11] = 0x10
	binary.BigEndian.PutUint16(sec[12:14], program)
	sec[14] = byte(pmtPID>>8) + 0xE0
	sec[15] = byte(pmtPID)
	binary.BigEndian.PutUint32(sec[16:20], mpegts.CRC32(sec[:16]))
	return sec
}

func (f *Filter) onPMT(pid int, pmt *mpegts.PMT) {
	if f.seenVersion(pid, pmt.Version) {
		return
	}
	if f.serviceID != 0 && pmt.ProgramNumber != f.serviceID {
		return
	}

	if !f.ready && f.serviceID != 0 && f.eventID == 0 {
		f.ready = true
		f.logger.Debug().Str(log.FieldEvent, "filter.ready").Msg("stream filter is now ready for service")
	}

	if f.provide != nil {
		for _, ca := range pmt.CAPIDs() {
			f.provide[int(ca)] = struct{}{}
		}
		f.provide[int(pmt.PCRPID)] = struct{}{}
		for _, s := range pmt.Streams {
			f.provide[int(s.PID)] = struct{}{}
		}
	}

	f.versions[pid] = pmt.Version
}

func (f *Filter) onSDT(pid int, sdt *mpegts.SDT) {
	if f.seenVersion(pid, sdt.Version) {
		return
	}
	if f.tsid != int(sdt.TransportStreamID) {
		return
	}

	for _, svc := range sdt.Services {
		if !containsID(f.serviceIDs, svc.ServiceID) {
			continue
		}
		if containsService(f.found, svc.ServiceID) {
			continue
		}
		f.found = append(f.found, Service{
			NetworkID: sdt.OriginalNetworkID,
			ServiceID: svc.ServiceID,
			Name:      svc.Name,
		})
	}

	f.emitLocked(Event{Kind: EventServices, Services: append([]Service(nil), f.found...)})

	delete(f.parsePIDs, pid)
	f.versions[pid] = sdt.Version
}

func (f *Filter) onEIT(eit *mpegts.EIT) {
	if _, ok := f.parseServiceIDs[eit.ServiceID]; !ok {
		return
	}

	// current event detection on EIT present/following (actual), section 0
	if len(eit.Events) != 0 &&
		f.eventID != 0 && eit.TableID == mpegts.TableIDEITPFActual && eit.SectionNumber == 0 &&
		(f.serviceID == 0 || f.serviceID == eit.ServiceID) {
		if eit.Events[0].EventID == f.eventID {
			if !f.ready {
				f.ready = true
				f.logger.Debug().Str(log.FieldEvent, "filter.ready").Msg("stream filter is now ready for event")
			}
		} else if f.ready {
			f.ready = false
			f.logger.Debug().Str(log.FieldEvent, "filter.program_ended").Msg("stream filter is closing because the event has ended")
			f.emitLocked(Event{Kind: EventProgramEnded})
			f.closeLocked(CloseReasonProgramEnded)
			return
		}
	}

	if f.parseEIT && !eit.IsPresentFollowing() {
		if f.sink != nil {
			f.sink.Write(eit)
		}
		metrics.IncEPGSection(eit.TableID&0x0F >= 0x08)

		if !f.epgReady && f.tracker.Update(eit, f.streamTime) {
			f.epgReady = true
			metrics.IncEPGReady()
			f.logger.Debug().Str(log.FieldEvent, "filter.epg_ready").Msg("EPG schedule complete")
			f.emitLocked(Event{Kind: EventEPGReady})
		}
	}
}

func containsID(ids []uint16, id uint16) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func containsService(ss []Service, id uint16) bool {
	for _, s := range ss {
		if s.ServiceID == id {
			return true
		}
	}
	return false
}
