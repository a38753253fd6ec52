// Package ring implements the connection lifecycle for a Colmi-family
// BLE smart ring: authorization, connect, service and characteristic
// discovery over the ring's vendor UART service, and a minimal byte
// read/write surface for the protocol layers above it.
package ring

import "time"

// Well-known identifiers of the ring's UART-over-BLE service. The phone
// writes to RX and the ring notifies on TX. These are constants of the
// device family, not configuration.
const (
	ServiceUUID = "6e40fff0-b5a3-f393-e0a9-e50e24dcca9e"
	RXCharUUID  = "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
	TXCharUUID  = "6e400003-b5a3-f393-e0a9-e50e24dcca9e"
)

// Standard Device Information service. The ring exposes it, but absence
// is not an error.
const (
	DeviceInfoServiceUUID = "0000180a-0000-1000-8000-00805f9b34fb"
	FirmwareRevisionUUID  = "00002a26-0000-1000-8000-00805f9b34fb"
	HardwareRevisionUUID  = "00002a27-0000-1000-8000-00805f9b34fb"
)

// DeviceIdentity identifies one physical ring. ID is the transport's
// stable address for the device (a MAC on Linux, a CoreBluetooth UUID on
// macOS); Name is the advertised display name.
type DeviceIdentity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Service is a transport-assigned handle to a discovered GATT service.
// Handles are scoped to a single connection and must be re-resolved after
// every disconnect.
type Service interface {
	UUID() string
}

// Characteristic is a transport-assigned handle to a discovered GATT
// characteristic, with the same lifetime rules as Service.
type Characteristic interface {
	UUID() string
}

// DeviceInfo holds the optional Device Information service revisions.
type DeviceInfo struct {
	FirmwareRevision string
	HardwareRevision string
}

// ConnectOptions mirror the connect-time options of the underlying
// transport.
type ConnectOptions struct {
	NotifyOnConnect    bool
	NotifyOnDisconnect bool
	StartDelay         time.Duration
}

// Transport is the BLE central the session drives. Every method must
// return without blocking; outcomes arrive later through the Events
// methods, stamped with the gen value the session passed in. Events
// carrying a stale gen are dropped by the session, which is what makes
// Disconnect safe to call while discovery is in flight.
type Transport interface {
	Connect(identity DeviceIdentity, gen uint64, opts ConnectOptions)
	CancelConnection(identity DeviceIdentity)
	DiscoverServices(gen uint64, serviceUUIDs []string)
	DiscoverCharacteristics(gen uint64, svc Service, charUUIDs []string)
	SetNotify(gen uint64, ch Characteristic, enable bool)
	Write(gen uint64, ch Characteristic, p []byte, withResponse bool)
	// MaxWriteLen is the transport's single-write payload ceiling.
	// Larger writes fail locally and never reach the transport.
	MaxWriteLen() int
}

// DeviceInfoReader is an optional Transport extension for reading the
// Device Information service after the session reaches Ready.
type DeviceInfoReader interface {
	ReadDeviceInfo(gen uint64, svc Service)
}

// Events is the callback surface the transport drives. *Session
// implements it.
type Events interface {
	Connected(gen uint64)
	ServicesDiscovered(gen uint64, services []Service)
	CharacteristicsDiscovered(gen uint64, chars []Characteristic)
	NotifySubscribed(gen uint64, ch Characteristic, err error)
	WriteResult(gen uint64, err error)
	ValueUpdated(gen uint64, ch Characteristic, p []byte, err error)
	Disconnected(gen uint64, err error)
	DeviceInfoRead(gen uint64, info DeviceInfo)
}

// SelectionDescriptor filters which accessories an Authorizer offers for
// selection.
type SelectionDescriptor struct {
	ServiceUUID string
}

// Authorizer is the external accessory-selection surface. RequestSelection
// must not block; it reports back through Session.AuthorizationResult
// (nil identity means the user cancelled). ActivationIdentity returns the
// previously authorized device, if any, once at process start.
type Authorizer interface {
	RequestSelection(d SelectionDescriptor)
	ActivationIdentity() *DeviceIdentity
}
