// SPDX-License-Identifier: MIT

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
server:
  listen: ":40772"
tuners:
  - name: PT3-T1
    types: [GR]
    command: recpt1 --device /dev/pt3video2 <channel> - -
  - name: broken
    types: [GR]
channels:
  - name: NHK
    type: GR
    channel: "27"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestConfigValidate(t *testing.T) {
	t.Setenv("TUNERD_DATA_DIR", t.TempDir())
	path := writeConfig(t, sampleConfig)

	var stdout, stderr bytes.Buffer
	code := configCLI([]string{"validate", "-f", path}, &stdout, &stderr)

	assert.Equal(t, 0, code)
	assert.Contains(t, stdout.String(), "is valid")
	assert.Contains(t, stderr.String(), "warning:", "the tuner without a command is reported")
}

func TestConfigValidate_UnknownField(t *testing.T) {
	t.Setenv("TUNERD_DATA_DIR", t.TempDir())
	path := writeConfig(t, "bogus: 1\n")

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 1, configCLI([]string{"validate", "--file", path}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "Configuration error")
}

func TestConfigValidate_NoFile(t *testing.T) {
	t.Setenv("TUNERD_DATA_DIR", t.TempDir())

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, configCLI([]string{"validate"}, &stdout, &stderr))
}

func TestConfigDump_JSON(t *testing.T) {
	t.Setenv("TUNERD_DATA_DIR", t.TempDir())
	path := writeConfig(t, sampleConfig)

	var stdout, stderr bytes.Buffer
	require.Equal(t, 0, configCLI([]string{"dump", "-f", path, "--format=json"}, &stdout, &stderr), stderr.String())

	var out map[string]any
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	assert.Contains(t, out, "Tuners")
}

func TestConfigCLI_UnknownSubcommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, configCLI([]string{"frobnicate"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "Usage:")
}
