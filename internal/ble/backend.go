// Package ble implements the ring transport on top of tinygo.org/x/bluetooth.
// tinygo's GATT calls block, so every Transport method runs them on a
// goroutine and reports the outcome through the session's event methods,
// stamped with the attempt generation the session passed in.
package ble

import (
	"log/slog"
	"strings"
	"sync"

	"tinygo.org/x/bluetooth"

	"github.com/cyrilzakka/Halo/internal/ring"
)

// maxWritePayload is the usable bytes of a single write at the 4.2-default
// ATT MTU of 23 (minus the 3-byte ATT header). Ring command packets are 16
// bytes, so this never constrains the protocol above.
const maxWritePayload = 20

// Backend drives one ring connection through the host BLE adapter.
type Backend struct {
	adapter *bluetooth.Adapter
	log     *slog.Logger

	mu       sync.Mutex
	events   ring.Events
	gen      uint64
	device   *bluetooth.Device
	identity string
}

// Compile-time checks.
var (
	_ ring.Transport        = (*Backend)(nil)
	_ ring.DeviceInfoReader = (*Backend)(nil)
)

// NewBackend creates a backend on the default host adapter.
func NewBackend(log *slog.Logger) *Backend {
	if log == nil {
		log = slog.Default()
	}
	return &Backend{
		adapter: bluetooth.DefaultAdapter,
		log:     log,
	}
}

// Bind attaches the session that receives transport events. Call before
// Enable.
func (b *Backend) Bind(events ring.Events) {
	b.mu.Lock()
	b.events = events
	b.mu.Unlock()
}

// Enable powers up the adapter and registers the disconnect handler.
func (b *Backend) Enable() error {
	if err := b.adapter.Enable(); err != nil {
		return err
	}

	// tinygo fires this with connected=false when the peripheral drops.
	// Connection establishment is reported by Connect itself.
	b.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		b.mu.Lock()
		gen := b.gen
		match := b.identity != "" && strings.EqualFold(device.Address.String(), b.identity)
		if match {
			b.device = nil
		}
		events := b.events
		b.mu.Unlock()
		if match && events != nil {
			events.Disconnected(gen, nil)
		}
	})

	return nil
}

func (b *Backend) Connect(identity ring.DeviceIdentity, gen uint64, _ ring.ConnectOptions) {
	b.mu.Lock()
	b.gen = gen
	b.identity = identity.ID
	events := b.events
	b.mu.Unlock()

	go func() {
		var addr bluetooth.Address
		addr.Set(identity.ID)

		device, err := b.adapter.Connect(addr, bluetooth.ConnectionParams{})
		if err != nil {
			events.Disconnected(gen, err)
			return
		}

		b.mu.Lock()
		if gen != b.gen {
			// The session tore this attempt down while we were dialing.
			b.mu.Unlock()
			device.Disconnect()
			return
		}
		b.device = &device
		b.mu.Unlock()

		b.log.Debug("[ble] connected", "id", identity.ID, "name", identity.Name)
		events.Connected(gen)
	}()
}

func (b *Backend) CancelConnection(_ ring.DeviceIdentity) {
	b.mu.Lock()
	device := b.device
	b.device = nil
	b.mu.Unlock()
	if device == nil {
		return
	}
	go func() {
		if err := device.Disconnect(); err != nil {
			b.log.Debug("[ble] disconnect", "error", err)
		}
	}()
}

// DiscoverServices asks the device for its full service list. Discovery is
// deliberately unscoped: filtering (and the absence semantics for optional
// services) belongs to the session.
func (b *Backend) DiscoverServices(gen uint64, _ []string) {
	events, device := b.snapshot(gen)
	if device == nil {
		return
	}
	go func() {
		svcs, err := device.DiscoverServices(nil)
		if err != nil {
			events.Disconnected(gen, err)
			return
		}
		out := make([]ring.Service, len(svcs))
		for i := range svcs {
			out[i] = &service{svc: svcs[i]}
		}
		events.ServicesDiscovered(gen, out)
	}()
}

func (b *Backend) DiscoverCharacteristics(gen uint64, svc ring.Service, _ []string) {
	events, device := b.snapshot(gen)
	if device == nil {
		return
	}
	s, ok := svc.(*service)
	if !ok {
		return
	}
	go func() {
		chars, err := s.svc.DiscoverCharacteristics(nil)
		if err != nil {
			events.Disconnected(gen, err)
			return
		}
		out := make([]ring.Characteristic, len(chars))
		for i := range chars {
			out[i] = &characteristic{char: chars[i]}
		}
		events.CharacteristicsDiscovered(gen, out)
	}()
}

func (b *Backend) SetNotify(gen uint64, ch ring.Characteristic, enable bool) {
	events, _ := b.snapshot(gen)
	if events == nil {
		return
	}
	c, ok := ch.(*characteristic)
	if !ok {
		return
	}
	go func() {
		var cb func([]byte)
		if enable {
			cb = func(buf []byte) {
				events.ValueUpdated(gen, ch, buf, nil)
			}
		}
		err := c.char.EnableNotifications(cb)
		events.NotifySubscribed(gen, ch, err)
	}()
}

// Write sends the payload without response; tinygo exposes no
// write-with-response on centrals, so the synchronous result doubles as
// the delivery confirmation.
func (b *Backend) Write(gen uint64, ch ring.Characteristic, p []byte, _ bool) {
	events, _ := b.snapshot(gen)
	if events == nil {
		return
	}
	c, ok := ch.(*characteristic)
	if !ok {
		return
	}
	go func() {
		_, err := c.char.WriteWithoutResponse(p)
		events.WriteResult(gen, err)
	}()
}

func (b *Backend) MaxWriteLen() int { return maxWritePayload }

// ReadDeviceInfo reads the optional firmware/hardware revision strings.
// Best effort: failures are logged and simply leave fields empty.
func (b *Backend) ReadDeviceInfo(gen uint64, svc ring.Service) {
	events, _ := b.snapshot(gen)
	if events == nil {
		return
	}
	s, ok := svc.(*service)
	if !ok {
		return
	}
	go func() {
		chars, err := s.svc.DiscoverCharacteristics(nil)
		if err != nil {
			b.log.Debug("[ble] device info discovery", "error", err)
			return
		}
		var info ring.DeviceInfo
		buf := make([]byte, 64)
		for i := range chars {
			uuid := chars[i].UUID().String()
			var dst *string
			switch {
			case strings.EqualFold(uuid, ring.FirmwareRevisionUUID):
				dst = &info.FirmwareRevision
			case strings.EqualFold(uuid, ring.HardwareRevisionUUID):
				dst = &info.HardwareRevision
			default:
				continue
			}
			n, err := chars[i].Read(buf)
			if err != nil {
				b.log.Debug("[ble] device info read", "uuid", uuid, "error", err)
				continue
			}
			*dst = string(buf[:n])
		}
		if info != (ring.DeviceInfo{}) {
			events.DeviceInfoRead(gen, info)
		}
	}()
}

// snapshot returns the bound events sink and the live device if gen is
// still the current attempt.
func (b *Backend) snapshot(gen uint64) (ring.Events, *bluetooth.Device) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.gen {
		return nil, nil
	}
	return b.events, b.device
}

type service struct {
	svc bluetooth.DeviceService
}

func (s *service) UUID() string { return s.svc.UUID().String() }

type characteristic struct {
	char bluetooth.DeviceCharacteristic
}

func (c *characteristic) UUID() string { return c.char.UUID().String() }
