// Package session manages one BLE sensor peripheral from discovery to
// disconnect: it connects, subscribes to the configured characteristics,
// decodes their notifications and fans readings out to listeners.
//
// A Session runs at most one lifecycle operation (ScanAndConnect,
// SubscribeAll) at a time. Disconnect is always accepted and cancels
// whatever is in flight.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/srg/flexlink/internal/device"
	"github.com/srg/flexlink/internal/groutine"
)

const (
	DefaultScanTimeout    = 10 * time.Second
	DefaultConnectTimeout = 30 * time.Second
)

var (
	errDisconnectRequested = errors.New("disconnect requested")
	errPeerDisconnected    = errors.New("device disconnected")
)

// Option configures a Session
type Option func(*Session)

// WithLogger sets the session logger. Without it, log output is discarded.
func WithLogger(logger *logrus.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock replaces the wall clock used for reading timestamps and timeouts
func WithClock(c clock.Clock) Option {
	return func(s *Session) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithConnectTimeout bounds the GATT connect phase of ScanAndConnect
func WithConnectTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.connectTimeout = d
		}
	}
}

// Session owns a single peripheral connection.
type Session struct {
	transport      device.Transport
	logger         *logrus.Logger
	clock          clock.Clock
	connectTimeout time.Duration

	mu         sync.Mutex
	state      State
	serviceID  string
	channels   *channelTable
	busy       bool
	opCancel   context.CancelCauseFunc
	epoch      uint64
	handle     device.DeviceHandle
	gatt       device.GattSession
	linkDone   chan struct{}
	subscribed []string
	seq        uint64

	states           dispatcher
	readings         dispatcher
	readingListeners listenerList[Reading]
	stateListeners   listenerList[StateChange]
}

// New creates a disconnected Session. A nil transport is allowed and makes
// ScanAndConnect fail with ErrUnsupported.
func New(transport device.Transport, opts ...Option) *Session {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	s := &Session{
		transport:      transport,
		logger:         logger,
		clock:          clock.New(),
		connectTimeout: DefaultConnectTimeout,
		state:          State{Kind: StateDisconnected},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Configure sets the target service and the characteristic table.
// Allowed only while disconnected; the specs are copied.
func (s *Session) Configure(serviceID string, specs []CharacteristicSpec) error {
	service, err := device.ValidateUUID(serviceID)
	if err != nil {
		return newError(KindConfig, "service", err)
	}
	table, err := buildChannelTable(append([]CharacteristicSpec(nil), specs...))
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy || s.state.Kind != StateDisconnected {
		return newError(KindConfig, fmt.Sprintf("cannot configure while %s", s.state), nil)
	}
	s.serviceID = service[0]
	s.channels = table

	s.logger.WithFields(logrus.Fields{
		"service":  s.serviceID,
		"channels": len(specs),
	}).Debug("Session configured")
	return nil
}

// State returns the current connection state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Device returns the connected peripheral, or nil
func (s *Session) Device() device.DeviceHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// Subscribed returns the channel names whose notifications are enabled
func (s *Session) Subscribed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.subscribed...)
}

// OnReading registers a reading listener. The returned func unsubscribes it.
func (s *Session) OnReading(fn func(Reading)) (unsubscribe func()) {
	return s.readingListeners.add(fn)
}

// OnStateChange registers a state listener. The returned func unsubscribes it.
func (s *Session) OnStateChange(fn func(StateChange)) (unsubscribe func()) {
	return s.stateListeners.add(fn)
}

// ScanAndConnect discovers a peripheral advertising the configured service and
// opens a GATT session to it. Discovery is bounded by timeout; a non-positive
// timeout means DefaultScanTimeout.
func (s *Session) ScanAndConnect(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultScanTimeout
	}

	s.mu.Lock()
	switch {
	case s.busy:
		s.mu.Unlock()
		return newError(KindAlreadyInProgress, "another operation is running", nil)
	case s.transport == nil:
		s.mu.Unlock()
		return newError(KindUnsupported, "bluetooth is not available on this platform", nil)
	case s.channels == nil:
		s.mu.Unlock()
		return newError(KindConfig, "session is not configured", nil)
	case s.state.Kind == StateConnected:
		s.mu.Unlock()
		return newError(KindAlreadyConnected, "", nil)
	}

	s.busy = true
	s.epoch++
	epoch := s.epoch
	serviceID := s.serviceID
	opCtx, cancel := context.WithCancelCause(ctx)
	s.opCancel = cancel
	// the deadline starts before listeners observe Scanning
	scanCtx, scanCancel := s.clock.WithTimeout(opCtx, timeout)
	s.setStateLocked(State{Kind: StateScanning}, false, nil)
	s.mu.Unlock()
	s.drain()

	defer cancel(nil)
	defer scanCancel()

	s.logger.WithFields(logrus.Fields{
		"service": serviceID,
		"timeout": timeout,
	}).Info("Scanning for device...")

	handle, err := await(scanCtx, "session-discovery", s.logger,
		func(ctx context.Context) (device.DeviceHandle, error) {
			return s.transport.RequestDevice(ctx, serviceID)
		}, nil)
	if err == nil && handle == nil {
		err = device.ErrDeviceNotFound
	}
	if err != nil {
		return s.fail(epoch, classify(opCtx, scanCtx, err, KindDeviceNotFound))
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return newError(KindCancelled, "disconnect requested", nil)
	}
	s.handle = handle
	connCtx, connCancel := s.clock.WithTimeout(opCtx, s.connectTimeout)
	s.setStateLocked(State{Kind: StateConnecting}, false, nil)
	s.mu.Unlock()
	s.drain()
	defer connCancel()

	s.logger.WithFields(logrus.Fields{
		"device": handle.ID(),
		"name":   handle.Name(),
	}).Info("Connecting to device...")

	gatt, err := await(connCtx, "session-connect", s.logger,
		func(ctx context.Context) (device.GattSession, error) {
			return s.transport.Connect(ctx, handle)
		}, s.releaseLate)
	if err == nil && gatt == nil {
		err = errors.New("transport returned no GATT session")
	}
	if err != nil {
		return s.fail(epoch, classify(opCtx, connCtx, err, KindConnectionFailed))
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		_ = s.release(gatt)
		return newError(KindCancelled, "disconnect requested", nil)
	}
	s.gatt = gatt
	s.linkDone = make(chan struct{})
	s.busy = false
	s.opCancel = nil
	s.subscribed = nil
	s.setStateLocked(State{Kind: StateConnected}, false, nil)
	linkDone := s.linkDone
	s.mu.Unlock()
	s.drain()

	s.watchLink(epoch, gatt, linkDone)

	s.logger.WithField("device", handle.ID()).Info("Connected")
	return nil
}

// Disconnect cancels any in-flight operation, releases the GATT session and
// moves the session to Disconnected. It is safe to call at any time; calling
// it while already disconnected is a no-op.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	if s.state.Kind == StateDisconnected && !s.busy {
		s.mu.Unlock()
		return nil
	}
	gatt := s.teardownLocked(State{Kind: StateDisconnected}, false, nil)
	s.mu.Unlock()
	s.drain()

	s.logger.Info("Disconnected")
	return s.release(gatt)
}

// watchLink turns a drop of the GATT link into a peer-initiated disconnect
func (s *Session) watchLink(epoch uint64, gatt device.GattSession, linkDone <-chan struct{}) {
	dropped := gatt.Disconnected()
	if dropped == nil {
		return
	}
	groutine.Go(context.Background(), "session-link-monitor", func(ctx context.Context) {
		select {
		case <-dropped:
			s.peerDisconnected(epoch)
		case <-linkDone:
		}
	})
}

func (s *Session) peerDisconnected(epoch uint64) {
	s.mu.Lock()
	if s.epoch != epoch || s.state.Kind != StateConnected {
		s.mu.Unlock()
		return
	}
	handle := s.handle
	gatt := s.teardownLocked(State{Kind: StateDisconnected}, true, nil)
	s.mu.Unlock()
	s.drain()

	fields := logrus.Fields{}
	if handle != nil {
		fields["device"] = handle.ID()
	}
	s.logger.WithFields(fields).Warn("Device disconnected")

	if err := s.release(gatt); err != nil {
		s.logger.WithError(err).Debug("release after peer disconnect")
	}
}

// teardownLocked invalidates the current connection generation, cancels the
// in-flight operation and transitions to next. It returns the GATT session
// for the caller to release outside the lock.
func (s *Session) teardownLocked(next State, peer bool, cause error) device.GattSession {
	s.epoch++
	if s.opCancel != nil {
		if peer {
			s.opCancel(errPeerDisconnected)
		} else {
			s.opCancel(errDisconnectRequested)
		}
		s.opCancel = nil
	}
	s.busy = false

	gatt := s.gatt
	s.gatt = nil
	s.handle = nil
	s.subscribed = nil
	if s.linkDone != nil {
		close(s.linkDone)
		s.linkDone = nil
	}

	if next.Kind == StateError {
		s.setStateLocked(next, false, cause)
		next = State{Kind: StateDisconnected}
	}
	if s.state.Kind != StateDisconnected {
		s.setStateLocked(next, peer, nil)
	}
	return gatt
}

// fail resolves a lifecycle operation with err, passing through Error for
// anything but cancellation. A stale epoch means Disconnect already cleaned up.
func (s *Session) fail(epoch uint64, err *Error) error {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		if err.Kind != KindCancelled {
			return newError(KindCancelled, "disconnect requested", err)
		}
		return err
	}

	next := State{Kind: StateError, Reason: err.Error()}
	if err.Kind == KindCancelled {
		next = State{Kind: StateDisconnected}
	}
	gatt := s.teardownLocked(next, false, err)
	s.mu.Unlock()
	s.drain()

	s.logger.WithError(err).Error("Session operation failed")
	if relErr := s.release(gatt); relErr != nil {
		s.logger.WithError(relErr).Debug("release after failure")
	}
	return err
}

func (s *Session) setStateLocked(next State, peer bool, cause error) {
	prev := s.state
	s.state = next
	s.states.push(event{
		change: &StateChange{Previous: prev, Next: next, PeerInitiated: peer, Err: cause},
		epoch:  s.epoch,
	})
	s.logger.WithFields(logrus.Fields{
		"from": prev.String(),
		"to":   next.String(),
	}).Debug("State transition")
}

func (s *Session) release(gatt device.GattSession) error {
	if gatt == nil {
		return nil
	}
	if err := gatt.Disconnect(); err != nil {
		s.logger.WithError(err).Warn("Failed to release GATT session")
		return err
	}
	return nil
}

func (s *Session) releaseLate(gatt device.GattSession) {
	if gatt != nil {
		_ = s.release(gatt)
	}
}

// drain returns once state listeners have seen every transition made so far
func (s *Session) drain() {
	s.states.drainSync(s.deliver)
}

func (s *Session) drainReadings() {
	s.readings.drain(s.deliver)
}

func (s *Session) deliver(ev event) {
	if ev.change != nil {
		s.stateListeners.emit(s.logger, "state", *ev.change)
		return
	}
	s.mu.Lock()
	current := s.epoch == ev.epoch && s.state.Kind == StateConnected
	s.mu.Unlock()
	if current {
		s.readingListeners.emit(s.logger, "reading", *ev.reading)
	}
}

type result[T any] struct {
	value T
	err   error
}

// await runs fn on its own goroutine and waits for it or ctx, whichever
// comes first. A result that arrives after ctx is done goes to late.
func await[T any](ctx context.Context, name string, logger *logrus.Logger, fn func(context.Context) (T, error), late func(T)) (T, error) {
	resCh := make(chan result[T], 1)
	groutine.GoSafe(ctx, name, logger, func(ctx context.Context) {
		v, err := fn(ctx)
		resCh <- result[T]{value: v, err: err}
	}, nil)

	select {
	case r := <-resCh:
		return r.value, r.err
	case <-ctx.Done():
		if late != nil {
			groutine.Go(context.Background(), name+"-late", func(context.Context) {
				if r := <-resCh; r.err == nil {
					late(r.value)
				}
			})
		}
		var zero T
		return zero, ctx.Err()
	}
}

// cancelled reports why opCtx was cancelled: Disconnect, a peer drop, or the caller
func cancelled(opCtx context.Context) *Error {
	cause := context.Cause(opCtx)
	switch {
	case errors.Is(cause, errDisconnectRequested), errors.Is(cause, errPeerDisconnected):
		return newError(KindCancelled, cause.Error(), nil)
	default:
		return newError(KindCancelled, "", opCtx.Err())
	}
}

// classify maps a capability failure onto the session error taxonomy.
// opCtx carries caller and Disconnect cancellation; phaseCtx carries the phase deadline.
func classify(opCtx, phaseCtx context.Context, err error, fallback ErrorKind) *Error {
	if opCtx.Err() != nil {
		return cancelled(opCtx)
	}

	var nf *device.NotFoundError
	switch {
	case errors.Is(phaseCtx.Err(), context.DeadlineExceeded):
		if fallback == KindDeviceNotFound {
			return newError(KindDeviceNotFound, "no matching device within timeout", nil)
		}
		return newError(fallback, "timed out", device.ErrTimeout)
	case errors.Is(err, device.ErrPermissionDenied), errors.Is(err, device.ErrBluetoothOff):
		return newError(KindPermission, "", err)
	case errors.Is(err, device.ErrUnsupported):
		return newError(KindUnsupported, "", err)
	case errors.Is(err, device.ErrDeviceNotFound), errors.As(err, &nf):
		return newError(KindDeviceNotFound, "", err)
	case errors.Is(err, device.ErrTimeout):
		if fallback == KindDeviceNotFound {
			return newError(KindDeviceNotFound, "no matching device within timeout", err)
		}
		return newError(fallback, "timed out", err)
	default:
		return newError(fallback, "", err)
	}
}
