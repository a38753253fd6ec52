package ble

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/cyrilzakka/Halo/internal/ring"
)

// Candidate is a ring seen while scanning.
type Candidate struct {
	Identity ring.DeviceIdentity
	RSSI     int
}

// ScanForRings scans for peripherals advertising the ring's UART service
// until the timeout elapses or ctx is cancelled, deduplicating by address.
func (b *Backend) ScanForRings(ctx context.Context, timeout time.Duration) ([]Candidate, error) {
	uuid, err := bluetooth.ParseUUID(ring.ServiceUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: parse service UUID: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var mu sync.Mutex
	var found []Candidate
	seen := make(map[string]bool)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			b.adapter.StopScan()
		case <-done:
		}
	}()

	err = b.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		if !result.HasServiceUUID(uuid) {
			return
		}
		id := result.Address.String()
		mu.Lock()
		defer mu.Unlock()
		if seen[id] {
			return
		}
		seen[id] = true
		found = append(found, Candidate{
			Identity: ring.DeviceIdentity{ID: id, Name: result.LocalName()},
			RSSI:     int(result.RSSI),
		})
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	return found, nil
}
