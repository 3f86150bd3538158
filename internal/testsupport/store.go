package testsupport

import (
	"testing"

	"scribe/internal/config"
	"scribe/internal/manifest"
)

// MustOpenStore opens a session store rooted at the test config's session
// directory and closes it when the test ends.
func MustOpenStore(t testing.TB, cfg *config.Config) *manifest.Store {
	t.Helper()

	store, err := manifest.Open(cfg)
	if err != nil {
		t.Fatalf("open session store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close session store: %v", err)
		}
	})
	return store
}
