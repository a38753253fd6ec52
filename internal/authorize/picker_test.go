package authorize

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/cyrilzakka/Halo/internal/ble"
	"github.com/cyrilzakka/Halo/internal/ring"
)

// fakeScanner returns canned candidates.
type fakeScanner struct {
	candidates []ble.Candidate
	err        error
}

func (f *fakeScanner) ScanForRings(_ context.Context, _ time.Duration) ([]ble.Candidate, error) {
	return f.candidates, f.err
}

// chanSink delivers selection results to the test goroutine.
type chanSink struct {
	ch chan *ring.DeviceIdentity
}

func newChanSink() *chanSink {
	return &chanSink{ch: make(chan *ring.DeviceIdentity, 1)}
}

func (s *chanSink) AuthorizationResult(id *ring.DeviceIdentity) {
	s.ch <- id
}

func (s *chanSink) wait(t *testing.T) *ring.DeviceIdentity {
	t.Helper()
	select {
	case id := <-s.ch:
		return id
	case <-time.After(time.Second):
		t.Fatal("no authorization result delivered")
		return nil
	}
}

func newTestPicker(t *testing.T, scanner Scanner) (*Picker, *Store, *chanSink) {
	t.Helper()
	store := NewStore(filepath.Join(t.TempDir(), "device.json"))
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewPicker(scanner, store, time.Second, log)
	sink := newChanSink()
	p.Bind(sink)
	return p, store, sink
}

func TestRequestSelectionPicksStrongestSignal(t *testing.T) {
	scanner := &fakeScanner{candidates: []ble.Candidate{
		{Identity: ring.DeviceIdentity{ID: "AA:AA", Name: "R02_FAR"}, RSSI: -80},
		{Identity: ring.DeviceIdentity{ID: "BB:BB", Name: "R02_NEAR"}, RSSI: -45},
		{Identity: ring.DeviceIdentity{ID: "CC:CC", Name: "R02_MID"}, RSSI: -60},
	}}
	p, store, sink := newTestPicker(t, scanner)

	p.RequestSelection(ring.SelectionDescriptor{ServiceUUID: ring.ServiceUUID})

	id := sink.wait(t)
	if id == nil || id.ID != "BB:BB" {
		t.Fatalf("selected = %+v, want BB:BB (strongest RSSI)", id)
	}

	// The selection is persisted for the next activation.
	saved, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if saved == nil || saved.ID != "BB:BB" {
		t.Errorf("persisted = %+v, want BB:BB", saved)
	}
	if got := p.ActivationIdentity(); got == nil || got.ID != "BB:BB" {
		t.Errorf("ActivationIdentity() = %+v, want BB:BB", got)
	}
}

func TestRequestSelectionNoCandidatesCancels(t *testing.T) {
	p, store, sink := newTestPicker(t, &fakeScanner{})

	p.RequestSelection(ring.SelectionDescriptor{ServiceUUID: ring.ServiceUUID})

	if id := sink.wait(t); id != nil {
		t.Errorf("selected = %+v, want nil when nothing is found", id)
	}
	if saved, _ := store.Load(); saved != nil {
		t.Errorf("persisted = %+v, want nothing on cancel", saved)
	}
}

func TestRequestSelectionScanFailureCancels(t *testing.T) {
	p, _, sink := newTestPicker(t, &fakeScanner{err: errors.New("adapter unavailable")})

	p.RequestSelection(ring.SelectionDescriptor{ServiceUUID: ring.ServiceUUID})

	if id := sink.wait(t); id != nil {
		t.Errorf("selected = %+v, want nil on scan failure", id)
	}
}

func TestCustomChooser(t *testing.T) {
	scanner := &fakeScanner{candidates: []ble.Candidate{
		{Identity: ring.DeviceIdentity{ID: "AA:AA", Name: "R02_ONE"}, RSSI: -45},
		{Identity: ring.DeviceIdentity{ID: "BB:BB", Name: "R02_TWO"}, RSSI: -80},
	}}
	p, _, sink := newTestPicker(t, scanner)
	p.SetChooser(func(candidates []ble.Candidate) *ring.DeviceIdentity {
		for _, c := range candidates {
			if c.Identity.Name == "R02_TWO" {
				id := c.Identity
				return &id
			}
		}
		return nil
	})

	p.RequestSelection(ring.SelectionDescriptor{ServiceUUID: ring.ServiceUUID})

	if id := sink.wait(t); id == nil || id.ID != "BB:BB" {
		t.Errorf("selected = %+v, want BB:BB from custom chooser", id)
	}
}

func TestForget(t *testing.T) {
	p, store, _ := newTestPicker(t, &fakeScanner{})
	if err := store.Save(ring.DeviceIdentity{ID: "AA:AA"}); err != nil {
		t.Fatal(err)
	}

	if err := p.Forget(); err != nil {
		t.Fatalf("Forget() error = %v", err)
	}
	if got := p.ActivationIdentity(); got != nil {
		t.Errorf("ActivationIdentity() after Forget() = %+v, want nil", got)
	}
}
