package testutil

import (
	"log"
	"strings"
	"testing"
)

type testWriter struct {
	t *testing.T
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

// TestLogger returns a logger that writes through the test's own log, so
// output is attached to the failing test instead of interleaved on stdout.
func TestLogger(t *testing.T) *log.Logger {
	return log.New(testWriter{t: t}, "", 0)
}
