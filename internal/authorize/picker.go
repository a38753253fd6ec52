package authorize

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cyrilzakka/Halo/internal/ble"
	"github.com/cyrilzakka/Halo/internal/ring"
)

// Scanner finds nearby rings. *ble.Backend implements it.
type Scanner interface {
	ScanForRings(ctx context.Context, timeout time.Duration) ([]ble.Candidate, error)
}

// Sink receives the selection outcome. *ring.Session implements it.
type Sink interface {
	AuthorizationResult(id *ring.DeviceIdentity)
}

// Chooser picks one ring from the scan results, or nil to cancel.
type Chooser func([]ble.Candidate) *ring.DeviceIdentity

// StrongestSignal is the default chooser: the candidate with the highest
// RSSI.
func StrongestSignal(candidates []ble.Candidate) *ring.DeviceIdentity {
	var best *ble.Candidate
	for i := range candidates {
		if best == nil || candidates[i].RSSI > best.RSSI {
			best = &candidates[i]
		}
	}
	if best == nil {
		return nil
	}
	cp := best.Identity
	return &cp
}

// Picker is the accessory authorization source. RequestSelection scans in
// the background and reports the chosen ring to the bound sink; the
// selection is persisted so ActivationIdentity can replay it on the next
// start.
type Picker struct {
	scanner Scanner
	store   *Store
	timeout time.Duration
	log     *slog.Logger

	mu     sync.Mutex
	sink   Sink
	choose Chooser
}

var _ ring.Authorizer = (*Picker)(nil)

// NewPicker creates a picker scanning for at most timeout per request.
func NewPicker(scanner Scanner, store *Store, timeout time.Duration, log *slog.Logger) *Picker {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Picker{
		scanner: scanner,
		store:   store,
		timeout: timeout,
		log:     log,
		choose:  StrongestSignal,
	}
}

// Bind attaches the session receiving selection results. Call before the
// session's first Authorize.
func (p *Picker) Bind(sink Sink) {
	p.mu.Lock()
	p.sink = sink
	p.mu.Unlock()
}

// SetChooser replaces the selection policy (e.g. an interactive prompt).
func (p *Picker) SetChooser(fn Chooser) {
	p.mu.Lock()
	p.choose = fn
	p.mu.Unlock()
}

// RequestSelection scans for rings and reports the outcome asynchronously.
// The descriptor's service filter is already baked into the scan. No
// candidate, a scan failure, or a chooser returning nil all count as the
// user cancelling.
func (p *Picker) RequestSelection(_ ring.SelectionDescriptor) {
	go func() {
		candidates, err := p.scanner.ScanForRings(context.Background(), p.timeout)
		if err != nil {
			p.log.Warn("[authorize] scan failed", "error", err)
			p.deliver(nil)
			return
		}

		p.mu.Lock()
		choose := p.choose
		p.mu.Unlock()

		id := choose(candidates)
		if id != nil {
			if err := p.store.Save(*id); err != nil {
				p.log.Warn("[authorize] could not persist selection", "error", err)
			}
			p.log.Info("[authorize] ring selected", "id", id.ID, "name", id.Name)
		}
		p.deliver(id)
	}()
}

// ActivationIdentity returns the previously authorized ring, if any.
func (p *Picker) ActivationIdentity() *ring.DeviceIdentity {
	id, err := p.store.Load()
	if err != nil {
		p.log.Warn("[authorize] could not load device record", "error", err)
		return nil
	}
	return id
}

// Forget removes the persisted authorization.
func (p *Picker) Forget() error {
	return p.store.Remove()
}

func (p *Picker) deliver(id *ring.DeviceIdentity) {
	p.mu.Lock()
	sink := p.sink
	p.mu.Unlock()
	if sink != nil {
		sink.AuthorizationResult(id)
	}
}
