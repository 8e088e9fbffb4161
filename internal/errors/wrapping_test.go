package errors_test

import (
	"strings"
	"testing"

	"github.com/haruki-endo/notemind/internal/embedcache"
	"github.com/haruki-endo/notemind/internal/metadata"
)

// TestErrorWrapping_MetadataOpen verifies metadata.Open wraps MkdirAll
// failures into a NoteError rather than leaking a bare *fs.PathError.
func TestErrorWrapping_MetadataOpen(t *testing.T) {
	_, err := metadata.Open("/nonexistent/deeply/nested/path/that/cannot/exist/metadata.db")
	if err == nil {
		t.Skip("expected error creating store under an unwritable path")
	}

	errMsg := err.Error()
	if !strings.Contains(errMsg, "ERR_") {
		t.Errorf("expected a coded NoteError, got: %s", errMsg)
	}
}

// TestErrorWrapping_EmbedCacheOpen verifies embedcache.Open wraps open
// failures the same way.
func TestErrorWrapping_EmbedCacheOpen(t *testing.T) {
	_, err := embedcache.Open("/nonexistent/deeply/nested/path/that/cannot/exist/cache.db")
	if err == nil {
		t.Skip("expected error creating cache under an unwritable path")
	}

	errMsg := err.Error()
	if !strings.Contains(errMsg, "ERR_") {
		t.Errorf("expected a coded NoteError, got: %s", errMsg)
	}
}
