// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package mpegts

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Character table selectors (ETSI EN 300 468 annex A).
var singleByteTables = map[byte]*charmap.Charmap{
	0x01: charmap.ISO8859_5,
	0x02: charmap.ISO8859_6,
	0x03: charmap.ISO8859_7,
	0x04: charmap.ISO8859_8,
	0x05: charmap.ISO8859_9,
	0x06: charmap.ISO8859_10,
	0x07: charmap.Windows874, // superset of ISO 8859-11
	0x09: charmap.ISO8859_13,
	0x0A: charmap.ISO8859_14,
	0x0B: charmap.ISO8859_15,
}

var iso8859Tables = map[byte]*charmap.Charmap{
	0x01: charmap.ISO8859_1,
	0x02: charmap.ISO8859_2,
	0x03: charmap.ISO8859_3,
	0x04: charmap.ISO8859_4,
	0x05: charmap.ISO8859_5,
	0x06: charmap.ISO8859_6,
	0x07: charmap.ISO8859_7,
	0x08: charmap.ISO8859_8,
	0x09: charmap.ISO8859_9,
	0x0A: charmap.ISO8859_10,
	0x0D: charmap.ISO8859_13,
	0x0E: charmap.ISO8859_14,
	0x0F: charmap.ISO8859_15,
	0x10: charmap.ISO8859_16,
}

// Charset selects how SI text fields are decoded.
type Charset uint8

const (
	// CharsetARIB is ARIB STD-B24 8-unit code, used by ISDB broadcasts.
	CharsetARIB Charset = iota
	// CharsetDVB is ETSI EN 300 468 annex A text.
	CharsetDVB
)

// Decode converts an SI text field to UTF-8.
func (c Charset) Decode(b []byte) string {
	if c == CharsetDVB {
		return DecodeDVBText(b)
	}
	return DecodeARIBText(b)
}

func (c Charset) String() string {
	if c == CharsetDVB {
		return "dvb"
	}
	return "arib"
}

// DecodeDVBText converts a DVB SI text field to UTF-8. The first byte selects
// the character table; without a selector the default Latin table is assumed.
// Control codes are stripped except the CR/LF code, which becomes a newline.
func DecodeDVBText(b []byte) string {
	if len(b) == 0 {
		return ""
	}

	var enc encoding.Encoding = charmap.ISO8859_1
	wide := false
	switch sel := b[0]; {
	case sel >= 0x20:
	case sel == 0x10:
		if len(b) < 3 {
			return ""
		}
		if cm, ok := iso8859Tables[b[2]]; ok {
			enc = cm
		}
		b = b[3:]
	case sel == 0x11:
		enc = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)
		wide = true
		b = b[1:]
	case sel == 0x15:
		return cleanText([]byte(strings.ToValidUTF8(string(b[1:]), "")))
	default:
		if cm, ok := singleByteTables[sel]; ok {
			enc = cm
		}
		b = b[1:]
	}

	if wide {
		out, err := enc.NewDecoder().Bytes(b)
		if err != nil {
			return ""
		}
		return cleanText(out)
	}
	out, err := enc.NewDecoder().Bytes(stripControl(b))
	if err != nil {
		return ""
	}
	return cleanText(out)
}

// stripControl removes the single-byte control range 0x80-0x9F before decoding.
func stripControl(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		switch {
		case c == 0x8A:
			out = append(out, '\n')
		case c >= 0x80 && c <= 0x9F:
		default:
			out = append(out, c)
		}
	}
	return out
}

// cleanText drops C0/C1 control runes from decoded UTF-8 text.
func cleanText(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		b = b[size:]
		switch {
		case r == '\n':
			sb.WriteRune(r)
		case r == 0xE08A:
			sb.WriteRune('\n')
		case r < 0x20 || (r >= 0x80 && r <= 0x9F) || (r >= 0xE080 && r <= 0xE09F):
		default:
			sb.WriteRune(r)
		}
	}
	return strings.TrimSpace(sb.String())
}
