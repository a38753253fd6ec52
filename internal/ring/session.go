package ring

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Options configures a Session.
type Options struct {
	// StepTimeout bounds each connection step (connecting, service
	// discovery, characteristic discovery). The transport offers no
	// native deadline, so a step that overruns transitions the session
	// to Disconnected(Timeout). Zero disables the watchdog.
	StepTimeout time.Duration
	Logger      *slog.Logger
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		StepTimeout: 10 * time.Second,
	}
}

// WriteReceipt resolves asynchronously once the transport confirms (or
// fails) a write accepted by Session.Write.
type WriteReceipt struct {
	Done <-chan error
}

// Session owns the lifecycle of one ring connection, from "no device
// selected" through "connected and ready for byte exchange". All
// transitions are serialized behind one mutex; transport and authorizer
// callbacks may arrive from any goroutine. No method blocks the caller.
type Session struct {
	transport   Transport
	auth        Authorizer
	stepTimeout time.Duration
	maxWrite    int
	log         *slog.Logger

	mu        sync.Mutex
	state     State
	reason    DisconnectReason
	identity  *DeviceIdentity
	gen       uint64 // connection-attempt generation; stale events are dropped
	poweredOn bool

	// Per-connection derived state. Valid only between Connected and the
	// next entry into Disconnected; toDisconnectedLocked clears all of it.
	uartSvc  Service
	disSvc   Service
	rxChar   Characteristic
	txChar   Characteristic
	degraded bool
	info     DeviceInfo
	pending  []chan error // write receipts, confirmed in issue order

	subs    []func([]byte)
	onState func(State, DisconnectReason)
	timer   *time.Timer
}

// Compile-time check that *Session is the transport's event sink.
var _ Events = (*Session)(nil)

// NewSession creates a session driving the given transport and
// authorizer. The session starts in StateIdle with the radio assumed off
// until PoweredOn is reported.
func NewSession(transport Transport, auth Authorizer, opts Options) *Session {
	if opts.StepTimeout < 0 {
		opts.StepTimeout = 0
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Session{
		transport:   transport,
		auth:        auth,
		stepTimeout: opts.StepTimeout,
		maxWrite:    transport.MaxWriteLen(),
		log:         opts.Logger,
	}
}

// Start replays a prior authorization, if the authorizer has one, and
// connects to it once the radio is powered. Call once at process start.
func (s *Session) Start() error {
	id := s.auth.ActivationIdentity()
	if id == nil {
		return nil
	}
	s.mu.Lock()
	if s.identity == nil {
		cp := *id
		s.identity = &cp
	}
	powered := s.poweredOn
	s.mu.Unlock()

	if !powered {
		// The power-restore rule issues the connect once the radio is on.
		return nil
	}
	return s.Connect()
}

// Authorize asks the external authorizer to present its selection
// surface. Valid only while Idle or Disconnected; the outcome arrives via
// AuthorizationResult.
func (s *Session) Authorize() error {
	s.mu.Lock()
	switch s.state {
	case StateIdle, StateDisconnected:
	case StateAuthorizing:
		s.mu.Unlock()
		return ErrAlreadyAuthorizing
	default:
		s.mu.Unlock()
		return ErrInvalidCall
	}
	var out []func()
	s.setStateLocked(StateAuthorizing, &out)
	s.mu.Unlock()
	run(out)

	s.auth.RequestSelection(SelectionDescriptor{ServiceUUID: ServiceUUID})
	return nil
}

// AuthorizationResult is the authorizer's callback. A nil identity means
// the user cancelled.
func (s *Session) AuthorizationResult(id *DeviceIdentity) {
	s.mu.Lock()
	if s.state != StateAuthorizing {
		s.mu.Unlock()
		return
	}
	var out []func()
	if id == nil {
		s.setStateLocked(StateIdle, &out)
	} else {
		cp := *id
		s.identity = &cp
		if s.poweredOn {
			s.beginConnectLocked(&out)
		} else {
			s.toDisconnectedLocked(ReasonRadioOff, &out)
		}
	}
	s.mu.Unlock()
	run(out)
}

// PoweredOn reports the host radio coming up. If a device is already
// selected and no attempt is live, exactly one reconnect is issued;
// a failed reconnect does not loop.
func (s *Session) PoweredOn() {
	s.mu.Lock()
	if s.poweredOn {
		s.mu.Unlock()
		return
	}
	s.poweredOn = true
	var out []func()
	if s.identity != nil && (s.state == StateIdle || s.state == StateDisconnected) {
		s.beginConnectLocked(&out)
	}
	s.mu.Unlock()
	run(out)
}

// PoweredOff reports the host radio going down. Any live attempt moves to
// Disconnected(RadioOff) and all handles are invalidated.
func (s *Session) PoweredOff() {
	s.mu.Lock()
	s.poweredOn = false
	var out []func()
	if s.state.attemptLive() {
		out = append(out, s.cancelLocked())
		s.toDisconnectedLocked(ReasonRadioOff, &out)
	}
	s.mu.Unlock()
	run(out)
}

// Connect issues a connection attempt to the selected device. It is a
// no-op while an attempt is already in flight.
func (s *Session) Connect() error {
	s.mu.Lock()
	if s.identity == nil {
		s.mu.Unlock()
		return ErrNoDeviceSelected
	}
	if !s.poweredOn {
		s.mu.Unlock()
		return ErrNotPoweredOn
	}
	if s.state.attemptLive() {
		// Concurrent connects collapse into the in-flight attempt.
		s.mu.Unlock()
		return nil
	}
	if s.state == StateAuthorizing {
		s.mu.Unlock()
		return ErrInvalidCall
	}
	var out []func()
	s.beginConnectLocked(&out)
	s.mu.Unlock()
	run(out)
	return nil
}

// Disconnect tears down the link, if one exists, and moves to
// Disconnected(UserRequested). Safe to call from any state, including
// mid-discovery: callbacks from the torn-down attempt are ignored.
func (s *Session) Disconnect() {
	s.mu.Lock()
	var out []func()
	if s.state.attemptLive() {
		out = append(out, s.cancelLocked())
	}
	s.toDisconnectedLocked(ReasonUserRequested, &out)
	s.mu.Unlock()
	run(out)
}

// Write sends bytes to the ring's RX characteristic. Valid only in Ready
// (including degraded Ready). Oversize payloads and out-of-state calls
// fail locally without reaching the transport. Delivery confirmation
// arrives on the returned receipt.
func (s *Session) Write(p []byte) (*WriteReceipt, error) {
	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return nil, ErrNotReady
	}
	if len(p) > s.maxWrite {
		s.mu.Unlock()
		return nil, ErrPayloadTooLarge
	}
	done := make(chan error, 1)
	s.pending = append(s.pending, done)
	gen, rx := s.gen, s.rxChar
	s.mu.Unlock()

	buf := make([]byte, len(p))
	copy(buf, p)
	s.transport.Write(gen, rx, buf, false)
	return &WriteReceipt{Done: done}, nil
}

// Subscribe registers a consumer for inbound TX notifications. Consumers
// are invoked in arrival order, once per notification, with no buffering.
func (s *Session) Subscribe(fn func(p []byte)) {
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
}

// OnStateChange registers a hook invoked after every state transition.
// UI-level projections should be recomputed from the reported state, not
// stored independently.
func (s *Session) OnStateChange(fn func(State, DisconnectReason)) {
	s.mu.Lock()
	s.onState = fn
	s.mu.Unlock()
}

// State returns the current connection state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Reason returns why the session last entered StateDisconnected.
func (s *Session) Reason() DisconnectReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Identity returns the selected device, if any.
func (s *Session) Identity() *DeviceIdentity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return nil
	}
	cp := *s.identity
	return &cp
}

// Degraded reports whether the session is Ready but without TX
// notifications (the subscription failed; writes still work).
func (s *Session) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateReady && s.degraded
}

// DeviceInformation returns the optional Device Information revisions
// read after Ready. Zero values mean the service was absent or unread.
func (s *Session) DeviceInformation() DeviceInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// MaxWriteLen returns the transport's single-write payload ceiling.
func (s *Session) MaxWriteLen() int { return s.maxWrite }

// --- transport events ---

// Connected reports a successful link for the given attempt.
func (s *Session) Connected(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateConnecting {
		s.mu.Unlock()
		return
	}
	var out []func()
	s.setStateLocked(StateDiscoveringServices, &out)
	s.armStepTimerLocked(gen)
	out = append(out, func() {
		s.transport.DiscoverServices(gen, []string{ServiceUUID, DeviceInfoServiceUUID})
	})
	s.mu.Unlock()
	run(out)
}

// ServicesDiscovered delivers the service list. Services other than the
// UART and Device Information services are ignored, not errors.
func (s *Session) ServicesDiscovered(gen uint64, services []Service) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateDiscoveringServices {
		s.mu.Unlock()
		return
	}
	var uart, dis Service
	for _, svc := range services {
		switch {
		case strings.EqualFold(svc.UUID(), ServiceUUID):
			uart = svc
		case strings.EqualFold(svc.UUID(), DeviceInfoServiceUUID):
			dis = svc
		}
	}
	var out []func()
	if uart == nil {
		out = append(out, s.cancelLocked())
		s.toDisconnectedLocked(ReasonServiceNotFound, &out)
		s.mu.Unlock()
		run(out)
		return
	}
	s.uartSvc, s.disSvc = uart, dis
	s.setStateLocked(StateDiscoveringCharacteristics, &out)
	s.armStepTimerLocked(gen)
	out = append(out, func() {
		s.transport.DiscoverCharacteristics(gen, uart, []string{RXCharUUID, TXCharUUID})
	})
	s.mu.Unlock()
	run(out)
}

// CharacteristicsDiscovered delivers the UART service's characteristics.
// Both RX and TX must resolve; unknown extras are ignored.
func (s *Session) CharacteristicsDiscovered(gen uint64, chars []Characteristic) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateDiscoveringCharacteristics {
		s.mu.Unlock()
		return
	}
	var rx, tx Characteristic
	for _, ch := range chars {
		switch {
		case strings.EqualFold(ch.UUID(), RXCharUUID):
			rx = ch
		case strings.EqualFold(ch.UUID(), TXCharUUID):
			tx = ch
		}
	}
	var out []func()
	if rx == nil || tx == nil {
		out = append(out, s.cancelLocked())
		s.toDisconnectedLocked(ReasonCharacteristicNotFound, &out)
		s.mu.Unlock()
		run(out)
		return
	}
	s.rxChar, s.txChar = rx, tx
	s.stopStepTimerLocked()
	s.setStateLocked(StateReady, &out)
	out = append(out, func() {
		s.transport.SetNotify(gen, tx, true)
	})
	if dis := s.disSvc; dis != nil {
		if reader, ok := s.transport.(DeviceInfoReader); ok {
			out = append(out, func() { reader.ReadDeviceInfo(gen, dis) })
		}
	}
	s.mu.Unlock()
	run(out)
}

// NotifySubscribed reports the outcome of the TX subscription. A failure
// is non-fatal: the session stays Ready, degraded to writes only.
func (s *Session) NotifySubscribed(gen uint64, ch Characteristic, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.state != StateReady {
		return
	}
	if ch == nil || !strings.EqualFold(ch.UUID(), TXCharUUID) {
		return
	}
	if err != nil {
		s.degraded = true
		s.log.Warn("[ring] TX notifications unavailable, connection degraded to writes only", "error", err)
	}
}

// WriteResult confirms the oldest pending write. A failed write is
// reported on its receipt and never changes connection state.
func (s *Session) WriteResult(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.gen || len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	done := s.pending[0]
	s.pending = s.pending[1:]
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("[ring] write failed", "error", err)
	}
	done <- err
}

// ValueUpdated forwards a TX notification to subscribers. Notifications
// for other characteristics, stale attempts, or non-Ready states are
// dropped.
func (s *Session) ValueUpdated(gen uint64, ch Characteristic, p []byte, err error) {
	s.mu.Lock()
	if gen != s.gen || s.state != StateReady {
		s.mu.Unlock()
		return
	}
	if ch == nil || !strings.EqualFold(ch.UUID(), TXCharUUID) {
		s.mu.Unlock()
		return
	}
	if err != nil {
		s.log.Debug("[ring] notification error", "error", err)
		s.mu.Unlock()
		return
	}
	subs := make([]func([]byte), len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	buf := make([]byte, len(p))
	copy(buf, p)
	for _, fn := range subs {
		fn(buf)
	}
}

// Disconnected reports the link dropping. The session does not retry on
// its own; recovery is Connect() or the power-restore rule.
func (s *Session) Disconnected(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.gen || !s.state.attemptLive() {
		s.mu.Unlock()
		return
	}
	reason := ReasonRemoteClosed
	if s.state == StateConnecting {
		reason = ReasonConnectFailed
	}
	if err != nil {
		s.log.Warn("[ring] link lost", "error", err, "state", s.state.String())
	}
	var out []func()
	s.toDisconnectedLocked(reason, &out)
	s.mu.Unlock()
	run(out)
}

// DeviceInfoRead stores the optional Device Information revisions.
func (s *Session) DeviceInfoRead(gen uint64, info DeviceInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.state != StateReady {
		return
	}
	s.info = info
	s.log.Debug("[ring] device info", "firmware", info.FirmwareRevision, "hardware", info.HardwareRevision)
}

// --- internals ---

// attemptLive reports whether a connection attempt is in flight or
// established.
func (st State) attemptLive() bool {
	switch st {
	case StateConnecting, StateDiscoveringServices, StateDiscoveringCharacteristics, StateReady:
		return true
	}
	return false
}

func (s *Session) beginConnectLocked(out *[]func()) {
	s.gen++
	gen := s.gen
	s.reason = ReasonNone
	s.setStateLocked(StateConnecting, out)
	s.armStepTimerLocked(gen)
	id := *s.identity
	*out = append(*out, func() {
		s.transport.Connect(id, gen, ConnectOptions{
			NotifyOnConnect:    true,
			NotifyOnDisconnect: true,
		})
	})
}

// toDisconnectedLocked is the single funnel into StateDisconnected: it
// bumps the generation so outstanding callbacks go stale, and resets all
// per-connection derived state on every path, not just some of them.
func (s *Session) toDisconnectedLocked(reason DisconnectReason, out *[]func()) {
	s.gen++
	s.stopStepTimerLocked()
	s.uartSvc, s.disSvc = nil, nil
	s.rxChar, s.txChar = nil, nil
	s.degraded = false
	s.info = DeviceInfo{}
	if len(s.pending) > 0 {
		pend := s.pending
		s.pending = nil
		err := fmt.Errorf("ring: disconnected (%s) before write confirmation", reason)
		*out = append(*out, func() {
			for _, done := range pend {
				done <- err
			}
		})
	}
	s.reason = reason
	s.setStateLocked(StateDisconnected, out)
}

func (s *Session) cancelLocked() func() {
	id := *s.identity
	return func() { s.transport.CancelConnection(id) }
}

func (s *Session) setStateLocked(st State, out *[]func()) {
	if s.state == st {
		return
	}
	s.state = st
	s.log.Debug("[ring] state", "state", st.String(), "reason", s.reason.String())
	if s.onState != nil {
		fn, reason := s.onState, s.reason
		*out = append(*out, func() { fn(st, reason) })
	}
}

func (s *Session) armStepTimerLocked(gen uint64) {
	s.stopStepTimerLocked()
	if s.stepTimeout <= 0 {
		return
	}
	s.timer = time.AfterFunc(s.stepTimeout, func() { s.stepTimedOut(gen) })
}

func (s *Session) stopStepTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) stepTimedOut(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || !s.state.attemptLive() || s.state == StateReady {
		s.mu.Unlock()
		return
	}
	s.log.Warn("[ring] step timed out", "state", s.state.String())
	var out []func()
	out = append(out, s.cancelLocked())
	s.toDisconnectedLocked(ReasonTimeout, &out)
	s.mu.Unlock()
	run(out)
}

// run invokes deferred side effects outside the session lock, so
// transport calls and registered hooks may call back into the session.
func run(out []func()) {
	for _, fn := range out {
		fn()
	}
}
