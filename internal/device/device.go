package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// NotFoundError represents an error when a GATT resource is not found on the peripheral
type NotFoundError struct {
	Resource string   // "device", "service", "characteristic"
	UUIDs    []string // One or more UUIDs (e.g., [serviceUUID] or [serviceUUID, charUUID])
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// FailureKind classifies a capability failure
type FailureKind string

const (
	DeviceNotFound   FailureKind = "device_not_found"
	PermissionDenied FailureKind = "permission_denied"
	BluetoothOff     FailureKind = "bluetooth_off"
	NotConnected     FailureKind = "not_connected"
)

// TransportError is returned by Transport and GattSession implementations.
// Callers should match with errors.Is against the sentinels below.
type TransportError struct {
	Kind FailureKind
	Msg  string
}

func (e *TransportError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return strings.ReplaceAll(string(e.Kind), "_", " ")
	}
	return fmt.Sprintf("%s: %s", strings.ReplaceAll(string(e.Kind), "_", " "), e.Msg)
}

// Is allows errors.Is to compare TransportError values by Kind
func (e *TransportError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*TransportError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

var (
	ErrDeviceNotFound   = &TransportError{Kind: DeviceNotFound}
	ErrPermissionDenied = &TransportError{Kind: PermissionDenied}
	ErrBluetoothOff     = &TransportError{Kind: BluetoothOff}
	ErrNotConnected     = &TransportError{Kind: NotConnected}
)

// Operation errors
var (
	ErrTimeout     = errors.New("timeout")
	ErrUnsupported = errors.New("unsupported")
)

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// NormalizeError maps platform error strings onto the transport sentinels,
// wrapping so the original message survives.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	var terr *TransportError
	if errors.As(err, &terr) || errors.Is(err, ErrUnsupported) || errors.Is(err, ErrTimeout) {
		return err
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "device not connected"), containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "powered off"), containsIgnoreCase(msg, "poweredoff"),
		containsIgnoreCase(msg, "bluetooth is off"), containsIgnoreCase(msg, "no such device"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "unauthorized"), containsIgnoreCase(msg, "permission"),
		containsIgnoreCase(msg, "operation not permitted"):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case containsIgnoreCase(msg, "unsupported"), containsIgnoreCase(msg, "not supported"):
		return fmt.Errorf("%w: %v", ErrUnsupported, err)
	default:
		return err
	}
}

// DeviceHandle identifies a discovered peripheral.
// ID is stable across reconnects (address on native stacks, browser device id on the web bridge).
type DeviceHandle interface {
	ID() string
	Name() string
}

// CharacteristicHandle is an opaque reference to a resolved remote characteristic
type CharacteristicHandle interface {
	UUID() string
}

// GattSession is an established GATT connection
type GattSession interface {
	Characteristic(ctx context.Context, serviceUUID, uuid string) (CharacteristicHandle, error)
	EnableNotifications(ctx context.Context, ch CharacteristicHandle, onData func([]byte)) error
	Disconnect() error

	// Disconnected is closed when the link drops, whoever initiated it.
	Disconnected() <-chan struct{}
}

// Transport is the platform BLE capability consumed by the session core.
type Transport interface {
	// RequestDevice blocks until a peripheral advertising serviceUUID is selected
	// or ctx is done. Implementations must honor ctx cancellation.
	RequestDevice(ctx context.Context, serviceUUID string) (DeviceHandle, error)
	Connect(ctx context.Context, handle DeviceHandle) (GattSession, error)
}

// Handle is a plain DeviceHandle value
type Handle struct {
	Address   string
	LocalName string
}

func (h Handle) ID() string   { return h.Address }
func (h Handle) Name() string { return h.LocalName }
