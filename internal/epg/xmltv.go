// SPDX-License-Identifier: MIT

// Package epg tracks EIT schedule completeness, persists broadcast events and
// exports them as XMLTV.
package epg

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/ManuGH/tunerd/internal/log"
)

const xmlHeader = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"

// EncodeXMLTV writes tv to w, including the XML declaration.
func EncodeXMLTV(w io.Writer, tv *TV) error {
	if _, err := io.WriteString(w, xmlHeader); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(tv); err != nil {
		return err
	}
	return enc.Flush()
}

// WriteXMLTV atomically replaces path with the encoded document.
// renameio handles temp file creation, fsync, atomic rename and cleanup on error.
func WriteXMLTV(ctx context.Context, path string, tv *TV) error {
	logger := log.FromContext(ctx)

	pendingFile, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create pending XMLTV file: %w", err)
	}
	defer func() {
		if err := pendingFile.Cleanup(); err != nil {
			logger.Debug().Err(err).Msg("cleanup pending XMLTV file")
		}
	}()

	if err := EncodeXMLTV(pendingFile, tv); err != nil {
		return fmt.Errorf("write XMLTV data: %w", err)
	}

	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace XMLTV file: %w", err)
	}
	return nil
}

// ReadXMLTV decodes an XMLTV file with entity expansion disabled.
func ReadXMLTV(xmltvPath string) (*TV, error) {
	xmltvPath = filepath.Clean(xmltvPath)
	// xmltvPath is cleaned and originates from controlled configuration
	f, err := os.Open(xmltvPath) // #nosec G304
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// 50MB is far above any single-tuner guide
	const maxXMLSize = 50 * 1024 * 1024
	r := io.LimitReader(f, maxXMLSize)

	var doc TV
	dec := xml.NewDecoder(r)
	dec.Strict = true
	dec.Entity = make(map[string]string)

	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode xmltv: %w", err)
	}
	return &doc, nil
}
