// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the tunerd configuration.
//
// Precedence is ENV > file > defaults. The YAML file is parsed strictly:
// unknown keys are rejected. Tuner and channel entries are validated one at
// a time by the packages that consume them, so a broken entry is logged and
// skipped instead of failing the whole file.
package config
