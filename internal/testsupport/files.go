package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// Payload returns size bytes of a repeating, position-dependent pattern so
// truncations and reorderings show up in comparisons.
func Payload(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

// WriteFile creates path (and its parent) holding size pattern bytes. A size
// <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, Payload(size), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
