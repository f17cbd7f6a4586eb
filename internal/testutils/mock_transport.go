package testutils

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/srg/flexlink/internal/device"
)

// MockTransport implements device.Transport for testing
type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) RequestDevice(ctx context.Context, serviceUUID string) (device.DeviceHandle, error) {
	args := m.Called(ctx, serviceUUID)
	h, _ := args.Get(0).(device.DeviceHandle)
	return h, args.Error(1)
}

func (m *MockTransport) Connect(ctx context.Context, handle device.DeviceHandle) (device.GattSession, error) {
	args := m.Called(ctx, handle)
	g, _ := args.Get(0).(device.GattSession)
	return g, args.Error(1)
}

// CharHandle is a device.CharacteristicHandle backed by its UUID
type CharHandle string

func (c CharHandle) UUID() string { return string(c) }

// MockGatt implements device.GattSession and lets tests push notifications
// and drop the link.
type MockGatt struct {
	mock.Mock

	mu       sync.Mutex
	handlers map[string]func([]byte)
	dropped  chan struct{}
	dropOnce sync.Once
}

func NewMockGatt() *MockGatt {
	return &MockGatt{
		handlers: make(map[string]func([]byte)),
		dropped:  make(chan struct{}),
	}
}

func (m *MockGatt) Characteristic(ctx context.Context, serviceUUID, uuid string) (device.CharacteristicHandle, error) {
	args := m.Called(ctx, serviceUUID, uuid)
	ch, _ := args.Get(0).(device.CharacteristicHandle)
	return ch, args.Error(1)
}

func (m *MockGatt) EnableNotifications(ctx context.Context, ch device.CharacteristicHandle, onData func([]byte)) error {
	args := m.Called(ctx, ch.UUID())
	if err := args.Error(0); err != nil {
		return err
	}
	m.mu.Lock()
	m.handlers[device.NormalizeUUID(ch.UUID())] = onData
	m.mu.Unlock()
	return nil
}

func (m *MockGatt) Disconnect() error {
	args := m.Called()
	m.DropLink()
	return args.Error(0)
}

func (m *MockGatt) Disconnected() <-chan struct{} {
	return m.dropped
}

// Notify delivers data to the handler registered for uuid.
// Returns false if notifications were never enabled for it.
func (m *MockGatt) Notify(uuid string, data []byte) bool {
	m.mu.Lock()
	h, ok := m.handlers[device.NormalizeUUID(uuid)]
	m.mu.Unlock()
	if !ok {
		return false
	}
	h(data)
	return true
}

// Subscribed reports whether notifications are enabled for uuid
func (m *MockGatt) Subscribed(uuid string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handlers[device.NormalizeUUID(uuid)]
	return ok
}

// DropLink simulates the peripheral going away
func (m *MockGatt) DropLink() {
	m.dropOnce.Do(func() { close(m.dropped) })
}
