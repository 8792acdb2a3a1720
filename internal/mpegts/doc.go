// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package mpegts frames MPEG transport streams and decodes the PSI/SI tables
// the stream filter needs: PAT, PMT, SDT, EIT, TDT and TOT.
package mpegts
