// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package mpegts

import "time"

// BroadcastZone is the zone broadcast wall-clock times are expressed in (JST).
var BroadcastZone = time.FixedZone("JST", 9*60*60)

// DecodeMJDTime decodes the 40-bit MJD + BCD time field used by TDT, TOT and
// EIT start times. An all-ones field means "undefined" and returns ok=false.
func DecodeMJDTime(b []byte) (t time.Time, ok bool) {
	if len(b) < 5 {
		return time.Time{}, false
	}
	if b[0] == 0xFF && b[1] == 0xFF && b[2] == 0xFF && b[3] == 0xFF && b[4] == 0xFF {
		return time.Time{}, false
	}

	mjd := float64(int(b[0])<<8 | int(b[1]))

	yp := int((mjd - 15078.2) / 365.25)
	mp := int((mjd - 14956.1 - float64(int(float64(yp)*365.25))) / 30.6001)
	d := int(mjd) - 14956 - int(float64(yp)*365.25) - int(float64(mp)*30.6001)

	k := 0
	if mp == 14 || mp == 15 {
		k = 1
	}
	y := yp + k + 1900
	m := mp - 1 - k*12

	return time.Date(y, time.Month(m), d, bcd(b[2]), bcd(b[3]), bcd(b[4]), 0, BroadcastZone), true
}

// DecodeBCDDuration decodes a 24-bit hhmmss BCD duration.
// An all-ones field means "undefined" and returns ok=false.
func DecodeBCDDuration(b []byte) (time.Duration, bool) {
	if len(b) < 3 {
		return 0, false
	}
	if b[0] == 0xFF && b[1] == 0xFF && b[2] == 0xFF {
		return 0, false
	}
	return time.Duration(bcd(b[0]))*time.Hour +
		time.Duration(bcd(b[1]))*time.Minute +
		time.Duration(bcd(b[2]))*time.Second, true
}

func bcd(b byte) int {
	return int(b>>4)*10 + int(b&0x0F)
}
