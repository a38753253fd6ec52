// Package radio watches the host adapter's power state through BlueZ and
// forwards transitions to the session. The BLE library reports GATT
// traffic but not radio power, so this is sourced from D-Bus directly.
package radio

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"
)

const (
	busName      = "org.bluez"
	adapterIface = "org.bluez.Adapter1"
	propsIface   = "org.freedesktop.DBus.Properties"
	propsSignal  = "org.freedesktop.DBus.Properties.PropertiesChanged"
)

// Sink receives power transitions. *ring.Session implements it.
type Sink interface {
	PoweredOn()
	PoweredOff()
}

// Watcher tracks the Powered property of one BlueZ adapter.
type Watcher struct {
	conn *dbus.Conn
	path dbus.ObjectPath
	log  *slog.Logger
}

// NewWatcher connects to the system bus and verifies BlueZ is present.
// adapter is the controller name, e.g. "hci0".
func NewWatcher(adapter string, log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("radio: connect to system bus: %w", err)
	}

	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		conn.Close()
		return nil, fmt.Errorf("radio: list bus names: %w", err)
	}
	found := false
	for _, n := range names {
		if n == busName {
			found = true
			break
		}
	}
	if !found {
		conn.Close()
		return nil, fmt.Errorf("radio: org.bluez not found on system bus — is bluetooth.service running?")
	}

	return &Watcher{
		conn: conn,
		path: dbus.ObjectPath("/org/bluez/" + adapter),
		log:  log,
	}, nil
}

// Powered reads the adapter's current power state.
func (w *Watcher) Powered() (bool, error) {
	obj := w.conn.Object(busName, w.path)
	var v dbus.Variant
	if err := obj.Call(propsIface+".Get", 0, adapterIface, "Powered").Store(&v); err != nil {
		return false, fmt.Errorf("radio: get Powered: %w", err)
	}
	powered, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("radio: Powered property is not bool")
	}
	return powered, nil
}

// Watch pushes the current power state to the sink, then forwards every
// transition until ctx is cancelled. Repeated signals for the same state
// are collapsed so the sink sees each edge once.
func (w *Watcher) Watch(ctx context.Context, sink Sink) error {
	powered, err := w.Powered()
	if err != nil {
		return err
	}
	last := powered
	if powered {
		sink.PoweredOn()
	} else {
		sink.PoweredOff()
	}

	match := "type='signal',interface='" + propsIface + "',member='PropertiesChanged',path='" + string(w.path) + "'"
	if call := w.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, match); call.Err != nil {
		return fmt.Errorf("radio: add signal match: %w", call.Err)
	}
	ch := make(chan *dbus.Signal, 16)
	w.conn.Signal(ch)
	defer w.conn.RemoveSignal(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-ch:
			if !ok {
				return nil
			}
			powered, ok := poweredFromSignal(sig, w.path)
			if !ok || powered == last {
				continue
			}
			last = powered
			if powered {
				w.log.Info("[radio] adapter powered on")
				sink.PoweredOn()
			} else {
				w.log.Info("[radio] adapter powered off")
				sink.PoweredOff()
			}
		}
	}
}

// Close releases the bus connection.
func (w *Watcher) Close() error {
	return w.conn.Close()
}

// poweredFromSignal extracts the Powered value from a PropertiesChanged
// signal for the watched adapter.
// Body: [interface_name string, changed map[string]Variant, invalidated []string]
func poweredFromSignal(sig *dbus.Signal, path dbus.ObjectPath) (bool, bool) {
	if sig.Name != propsSignal || sig.Path != path || len(sig.Body) < 2 {
		return false, false
	}
	iface, ok := sig.Body[0].(string)
	if !ok || iface != adapterIface {
		return false, false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return false, false
	}
	v, ok := changed["Powered"]
	if !ok {
		return false, false
	}
	powered, ok := v.Value().(bool)
	return powered, ok
}
