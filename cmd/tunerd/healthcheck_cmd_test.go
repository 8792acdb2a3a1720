package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHealthcheckCLI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/readyz" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	addr := strings.TrimPrefix(srv.URL, "http://")

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 0, healthcheckCLI([]string{"-mode", "live", "-addr", addr}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "successful (live)")

	stderr.Reset()
	assert.Equal(t, 1, healthcheckCLI([]string{"-addr", addr}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "503")
}

func TestHealthcheckCLI_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := strings.TrimPrefix(srv.URL, "http://")
	srv.Close()

	var stdout, stderr bytes.Buffer
	assert.Equal(t, 1, healthcheckCLI([]string{"-addr", addr, "-timeout", "500ms"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "network")
}
