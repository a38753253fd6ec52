package authorize

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cyrilzakka/Halo/internal/ring"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "halo", "device.json"))
}

func TestStoreRoundTrip(t *testing.T) {
	s := testStore(t)

	id := ring.DeviceIdentity{ID: "AA:BB:CC:DD:EE:FF", Name: "R02_A1B2"}
	if err := s.Save(id); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got == nil || *got != id {
		t.Errorf("Load() = %+v, want %+v", got, id)
	}
}

func TestStoreLoadMissing(t *testing.T) {
	s := testStore(t)

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got != nil {
		t.Errorf("Load() = %+v, want nil for missing record", got)
	}
}

func TestStoreLoadCorrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "device.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}

	if _, err := NewStore(path).Load(); err == nil {
		t.Error("Load() error = nil, want parse error for corrupt record")
	}
}

func TestStoreRemove(t *testing.T) {
	s := testStore(t)

	// Removing nothing is fine.
	if err := s.Remove(); err != nil {
		t.Fatalf("Remove() on empty store error = %v", err)
	}

	if err := s.Save(ring.DeviceIdentity{ID: "AA:BB:CC:DD:EE:FF"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove(); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	got, err := s.Load()
	if err != nil || got != nil {
		t.Errorf("Load() after Remove() = %+v, %v; want nil, nil", got, err)
	}
}
