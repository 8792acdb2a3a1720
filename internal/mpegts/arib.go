// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package mpegts

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
)

// aribSet is a graphic set that can be designated to G0-G3 (ARIB STD-B24 part 2).
type aribSet uint8

const (
	aribKanji aribSet = iota
	aribAlnum
	aribHiragana
	aribKatakana
	aribJISKatakana
	aribSymbols
	aribUnsupported1 // mosaic and 1-byte DRCS
	aribUnsupported2 // JIS X 0213 plane 2 and 2-byte DRCS
)

func (s aribSet) width() int {
	switch s {
	case aribKanji, aribSymbols, aribUnsupported2:
		return 2
	}
	return 1
}

func oneByteSet(final byte) aribSet {
	switch final {
	case 0x4A, 0x36:
		return aribAlnum
	case 0x30, 0x37:
		return aribHiragana
	case 0x31, 0x38:
		return aribKatakana
	case 0x49:
		return aribJISKatakana
	}
	return aribUnsupported1
}

func twoByteSet(final byte) aribSet {
	switch final {
	case 0x42, 0x39:
		return aribKanji
	case 0x3B:
		return aribSymbols
	}
	return aribUnsupported2
}

func drcsSet(final byte) aribSet {
	if final == 0x40 {
		return aribUnsupported2
	}
	return aribUnsupported1
}

const (
	hiraganaTail = "ゝゞー。「」、・"
	katakanaTail = "ヽヾー。「」、・"
)

// aribSymbolTable covers the additional symbols of row 90 that appear in
// service and event names.
var aribSymbolTable = map[uint16]string{
	0x7A50: "🅊", 0x7A51: "🅌", 0x7A52: "🄿", 0x7A53: "🅆", 0x7A54: "🅋",
	0x7A55: "🈐", 0x7A56: "🈑", 0x7A57: "🈒", 0x7A58: "🈓", 0x7A59: "🅂",
	0x7A5A: "🈔", 0x7A5B: "🈕", 0x7A5C: "🈖", 0x7A5D: "🅍", 0x7A5E: "🄱",
	0x7A5F: "🄽", 0x7A60: "■", 0x7A61: "●", 0x7A62: "🈗", 0x7A63: "🈘",
	0x7A64: "🈙", 0x7A65: "🈚", 0x7A66: "🈛", 0x7A67: "⚿", 0x7A68: "🈜",
	0x7A69: "🈝", 0x7A6A: "🈞", 0x7A6B: "🈟", 0x7A6C: "🈠", 0x7A6D: "🈡",
	0x7A6E: "🈢", 0x7A6F: "🈣", 0x7A70: "🈤", 0x7A71: "🈥", 0x7A72: "🅎",
	0x7A73: "㊙", 0x7A74: "🈀",
}

// aribDecoder holds the code set state while one 8-unit string is decoded.
type aribDecoder struct {
	g      [4]aribSet
	gl, gr int
	single int
	wide   bool
	kanji  *encoding.Decoder
	out    strings.Builder
}

// DecodeARIBText converts an ARIB STD-B24 8-unit coded SI text field to
// UTF-8. Alphanumerics are full width unless a middle-size control precedes
// them; DRCS and mosaic characters are dropped.
func DecodeARIBText(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	d := &aribDecoder{
		g:      [4]aribSet{aribKanji, aribAlnum, aribHiragana, aribKatakana},
		gl:     0,
		gr:     2,
		single: -1,
		wide:   true,
		kanji:  japanese.EUCJP.NewDecoder(),
	}
	d.out.Grow(len(b) * 2)

	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c == 0x0F: // LS0
			d.gl = 0
			i++
		case c == 0x0E: // LS1
			d.gl = 1
			i++
		case c == 0x19: // SS2
			d.single = 2
			i++
		case c == 0x1D: // SS3
			d.single = 3
			i++
		case c == 0x1B:
			i = d.escape(b, i+1)
		case c == 0x0D: // APR
			d.out.WriteByte('\n')
			i++
		case c == 0x20:
			if d.wide {
				d.out.WriteRune('　')
			} else {
				d.out.WriteByte(' ')
			}
			i++
		case c < 0x20:
			i += 1 + c0Params(c)
		case c >= 0x80 && c <= 0x9F:
			i = d.control(b, i)
		case c == 0x7F || c == 0xA0 || c == 0xFF:
			i++
		default:
			set := d.g[d.gr]
			if c < 0x80 {
				set = d.g[d.gl]
				if d.single >= 0 {
					set = d.g[d.single]
					d.single = -1
				}
			}
			if set.width() == 2 {
				if i+1 >= len(b) {
					i = len(b)
					break
				}
				d.write2(set, c&0x7F, b[i+1]&0x7F)
				i += 2
				break
			}
			d.write1(set, c&0x7F)
			i++
		}
	}
	return strings.TrimSpace(d.out.String())
}

// escape applies the designation or locking shift starting at b[i] and
// returns the index after it.
func (d *aribDecoder) escape(b []byte, i int) int {
	at := func(k int) byte {
		if k < len(b) {
			return b[k]
		}
		return 0
	}
	if i >= len(b) {
		return len(b)
	}
	switch c := b[i]; {
	case c == 0x6E: // LS2
		d.gl = 2
		return i + 1
	case c == 0x6F: // LS3
		d.gl = 3
		return i + 1
	case c == 0x7E: // LS1R
		d.gr = 1
		return i + 1
	case c == 0x7D: // LS2R
		d.gr = 2
		return i + 1
	case c == 0x7C: // LS3R
		d.gr = 3
		return i + 1
	case c >= 0x28 && c <= 0x2B:
		n := int(c - 0x28)
		if at(i+1) == 0x20 {
			d.g[n] = drcsSet(at(i + 2))
			return i + 3
		}
		d.g[n] = oneByteSet(at(i + 1))
		return i + 2
	case c == 0x24:
		next := at(i + 1)
		switch {
		case next >= 0x29 && next <= 0x2B:
			n := int(next - 0x28)
			if at(i+2) == 0x20 {
				d.g[n] = aribUnsupported2
				return i + 4
			}
			d.g[n] = twoByteSet(at(i + 2))
			return i + 3
		case next == 0x28 && at(i+2) == 0x20:
			d.g[0] = aribUnsupported2
			return i + 4
		default:
			d.g[0] = twoByteSet(next)
			return i + 2
		}
	}
	return i + 1
}

// control consumes the C1 control at b[i] with its parameters.
func (d *aribDecoder) control(b []byte, i int) int {
	c := b[i]
	next := byte(0)
	if i+1 < len(b) {
		next = b[i+1]
	}
	switch c {
	case 0x88, 0x89: // SSZ, MSZ
		d.wide = false
		return i + 1
	case 0x8A: // NSZ
		d.wide = true
		return i + 1
	case 0x8B, 0x91, 0x93, 0x94, 0x95, 0x97, 0x98: // SZX FLC POL WMM MACRO HLC RPC
		return i + 2
	case 0x90, 0x92: // COL, CDC
		if next == 0x20 {
			return i + 3
		}
		return i + 2
	case 0x9D: // TIME
		return i + 3
	case 0x9B: // CSI runs to its final byte
		for k := i + 1; k < len(b); k++ {
			if b[k] >= 0x40 && b[k] <= 0x7E {
				return k + 1
			}
		}
		return len(b)
	}
	return i + 1
}

func c0Params(c byte) int {
	switch c {
	case 0x16: // PAPF
		return 1
	case 0x1C: // APS
		return 2
	}
	return 0
}

func (d *aribDecoder) write1(set aribSet, c byte) {
	switch set {
	case aribAlnum:
		if d.wide {
			d.out.WriteRune(rune(0xFF01 + int(c) - 0x21))
		} else {
			d.out.WriteByte(c)
		}
	case aribHiragana:
		switch {
		case c <= 0x73:
			d.out.WriteRune(rune(0x3041 + int(c) - 0x21))
		case c >= 0x77:
			d.out.WriteRune(nthRune(hiraganaTail, int(c-0x77)))
		}
	case aribKatakana:
		switch {
		case c <= 0x76:
			d.out.WriteRune(rune(0x30A1 + int(c) - 0x21))
		default:
			d.out.WriteRune(nthRune(katakanaTail, int(c-0x77)))
		}
	case aribJISKatakana:
		if c <= 0x5F {
			d.out.WriteRune(rune(0xFF61 + int(c) - 0x21))
		}
	}
}

func (d *aribDecoder) write2(set aribSet, c1, c2 byte) {
	switch set {
	case aribKanji:
		if c1 >= 0x75 {
			d.out.WriteString(aribSymbolTable[uint16(c1)<<8|uint16(c2)])
			return
		}
		out, err := d.kanji.Bytes([]byte{c1 | 0x80, c2 | 0x80})
		if err != nil {
			return
		}
		if r, _ := utf8.DecodeRune(out); r != utf8.RuneError {
			d.out.Write(out)
		}
	case aribSymbols:
		d.out.WriteString(aribSymbolTable[uint16(c1)<<8|uint16(c2)])
	}
}

func nthRune(s string, n int) rune {
	for i, r := range []rune(s) {
		if i == n {
			return r
		}
	}
	return utf8.RuneError
}
