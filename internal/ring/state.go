package ring

import "errors"

// State is the session's single source of truth for which operations are
// currently valid.
type State int

const (
	StateIdle State = iota
	StateAuthorizing
	StateConnecting
	StateDiscoveringServices
	StateDiscoveringCharacteristics
	StateReady
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAuthorizing:
		return "authorizing"
	case StateConnecting:
		return "connecting"
	case StateDiscoveringServices:
		return "discovering-services"
	case StateDiscoveringCharacteristics:
		return "discovering-characteristics"
	case StateReady:
		return "ready"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// DisconnectReason records why the session last entered StateDisconnected.
type DisconnectReason int

const (
	ReasonNone DisconnectReason = iota
	ReasonUserRequested
	ReasonRadioOff
	ReasonRemoteClosed
	ReasonConnectFailed
	ReasonServiceNotFound
	ReasonCharacteristicNotFound
	ReasonTimeout
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonUserRequested:
		return "user-requested"
	case ReasonRadioOff:
		return "radio-off"
	case ReasonRemoteClosed:
		return "remote-closed"
	case ReasonConnectFailed:
		return "connect-failed"
	case ReasonServiceNotFound:
		return "service-not-found"
	case ReasonCharacteristicNotFound:
		return "characteristic-not-found"
	case ReasonTimeout:
		return "timeout"
	}
	return "unknown"
}

// Local, synchronous failures. None of these ever reach the transport.
var (
	ErrAlreadyAuthorizing = errors.New("ring: authorization already in progress")
	ErrNoDeviceSelected   = errors.New("ring: no device selected")
	ErrNotPoweredOn       = errors.New("ring: bluetooth radio is not powered on")
	ErrNotReady           = errors.New("ring: connection is not ready")
	ErrPayloadTooLarge    = errors.New("ring: payload exceeds the transport write limit")
	ErrInvalidCall        = errors.New("ring: operation not valid in the current state")
)
