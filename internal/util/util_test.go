package util

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIP(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		forwarded  string
		remoteAddr string
		want       string
	}{
		{name: "first forwarded hop", forwarded: "203.0.113.7, 10.0.0.1", remoteAddr: "10.0.0.2:5555", want: "203.0.113.7"},
		{name: "single forwarded", forwarded: " 198.51.100.4 ", remoteAddr: "10.0.0.2:5555", want: "198.51.100.4"},
		{name: "peer address", remoteAddr: "192.0.2.10:41000", want: "192.0.2.10"},
		{name: "peer without port", remoteAddr: "192.0.2.11", want: "192.0.2.11"},
		{name: "empty forwarded entry", forwarded: ",10.0.0.1", remoteAddr: "192.0.2.12:80", want: "192.0.2.12"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/api/start_call", nil)
			r.RemoteAddr = tc.remoteAddr
			if tc.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tc.forwarded)
			}
			assert.Equal(t, tc.want, ClientIP(r))
		})
	}
}

func TestSanitizeInput(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Jo'ão", SanitizeInput("  Jo'ão "))
	assert.Equal(t, "line one\nline two", SanitizeInput("line one\nline\x00 two\x07"))
	assert.Len(t, SanitizeInput(strings.Repeat("a", 5000)), maxFieldLength)
	assert.True(t, IsBlank(" \t\n"))
	assert.False(t, IsBlank(" x "))
}
