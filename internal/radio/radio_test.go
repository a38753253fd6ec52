package radio

import (
	"testing"

	"github.com/godbus/dbus/v5"
)

const testPath = dbus.ObjectPath("/org/bluez/hci0")

func poweredSignal(path dbus.ObjectPath, iface string, props map[string]dbus.Variant) *dbus.Signal {
	return &dbus.Signal{
		Name: propsSignal,
		Path: path,
		Body: []interface{}{iface, props, []string{}},
	}
}

func TestPoweredFromSignal(t *testing.T) {
	tests := []struct {
		name        string
		sig         *dbus.Signal
		wantPowered bool
		wantOK      bool
	}{
		{
			name:        "powered on",
			sig:         poweredSignal(testPath, adapterIface, map[string]dbus.Variant{"Powered": dbus.MakeVariant(true)}),
			wantPowered: true,
			wantOK:      true,
		},
		{
			name:        "powered off",
			sig:         poweredSignal(testPath, adapterIface, map[string]dbus.Variant{"Powered": dbus.MakeVariant(false)}),
			wantPowered: false,
			wantOK:      true,
		},
		{
			name:   "wrong interface",
			sig:    poweredSignal(testPath, "org.bluez.Device1", map[string]dbus.Variant{"Powered": dbus.MakeVariant(true)}),
			wantOK: false,
		},
		{
			name:   "wrong adapter path",
			sig:    poweredSignal("/org/bluez/hci1", adapterIface, map[string]dbus.Variant{"Powered": dbus.MakeVariant(true)}),
			wantOK: false,
		},
		{
			name:   "unrelated property",
			sig:    poweredSignal(testPath, adapterIface, map[string]dbus.Variant{"Discovering": dbus.MakeVariant(true)}),
			wantOK: false,
		},
		{
			name:   "wrong signal name",
			sig:    &dbus.Signal{Name: "org.freedesktop.DBus.NameOwnerChanged", Path: testPath},
			wantOK: false,
		},
		{
			name:   "malformed body",
			sig:    &dbus.Signal{Name: propsSignal, Path: testPath, Body: []interface{}{adapterIface}},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			powered, ok := poweredFromSignal(tt.sig, testPath)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && powered != tt.wantPowered {
				t.Errorf("powered = %v, want %v", powered, tt.wantPowered)
			}
		})
	}
}
