package testutils

import (
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/srg/flexlink/internal/decode"
	"github.com/srg/flexlink/internal/device"
)

type characteristicConfig struct {
	uuid      string
	lookupErr error
	notifyErr error
	entered   chan<- struct{}
	release   <-chan struct{}
}

// GloveBuilder builds a MockTransport/MockGatt pair that behaves like the
// ESP32 glove unless told otherwise.
type GloveBuilder struct {
	handle          device.Handle
	service         string
	characteristics []characteristicConfig
	discoverErr     error
	discoverBlock   <-chan struct{}
	connectErr      error
	connectBlock    <-chan struct{}
	releaseErr      error
}

func NewGloveBuilder() *GloveBuilder {
	return &GloveBuilder{
		handle:  device.Handle{Address: "AA:BB:CC:DD:EE:FF", LocalName: "ESP32-Glove"},
		service: decode.GloveService,
	}
}

// WithDevice sets the discovered device identity
func (b *GloveBuilder) WithDevice(address, name string) *GloveBuilder {
	b.handle = device.Handle{Address: address, LocalName: name}
	return b
}

// WithCharacteristic adds a notifying characteristic
func (b *GloveBuilder) WithCharacteristic(uuid string) *GloveBuilder {
	b.characteristics = append(b.characteristics, characteristicConfig{uuid: uuid})
	return b
}

// WithStockCharacteristics adds the flex, battery and accel characteristics
func (b *GloveBuilder) WithStockCharacteristics() *GloveBuilder {
	for _, ch := range decode.GloveDefaults() {
		b.WithCharacteristic(ch.UUID)
	}
	return b
}

// WithMissingCharacteristic adds a characteristic that lookup cannot find
func (b *GloveBuilder) WithMissingCharacteristic(uuid string) *GloveBuilder {
	b.characteristics = append(b.characteristics, characteristicConfig{
		uuid:      uuid,
		lookupErr: &device.NotFoundError{Resource: "characteristic", UUIDs: []string{b.service, uuid}},
	})
	return b
}

// WithNotifyFailure adds a characteristic whose notifications cannot be enabled
func (b *GloveBuilder) WithNotifyFailure(uuid string, err error) *GloveBuilder {
	b.characteristics = append(b.characteristics, characteristicConfig{uuid: uuid, notifyErr: err})
	return b
}

// WithBlockingLookup adds a characteristic whose lookup closes entered and then
// blocks until release is closed, ignoring its context
func (b *GloveBuilder) WithBlockingLookup(uuid string, entered chan<- struct{}, release <-chan struct{}) *GloveBuilder {
	b.characteristics = append(b.characteristics, characteristicConfig{uuid: uuid, entered: entered, release: release})
	return b
}

// WithDiscoveryError makes RequestDevice fail
func (b *GloveBuilder) WithDiscoveryError(err error) *GloveBuilder {
	b.discoverErr = err
	return b
}

// WithBlockingDiscovery makes RequestDevice ignore its context and block until release is closed
func (b *GloveBuilder) WithBlockingDiscovery(release <-chan struct{}) *GloveBuilder {
	b.discoverBlock = release
	return b
}

// WithConnectError makes Connect fail
func (b *GloveBuilder) WithConnectError(err error) *GloveBuilder {
	b.connectErr = err
	return b
}

// WithBlockingConnect makes Connect ignore its context and block until release is closed
func (b *GloveBuilder) WithBlockingConnect(release <-chan struct{}) *GloveBuilder {
	b.connectBlock = release
	return b
}

// WithReleaseError makes GATT Disconnect return err
func (b *GloveBuilder) WithReleaseError(err error) *GloveBuilder {
	b.releaseErr = err
	return b
}

// Build wires the expectations and returns the transport and its GATT session
func (b *GloveBuilder) Build() (*MockTransport, *MockGatt) {
	gatt := NewMockGatt()
	transport := &MockTransport{}

	discover := transport.On("RequestDevice", mock.Anything, mock.Anything).Maybe()
	if b.discoverBlock != nil {
		release := b.discoverBlock
		discover.Run(func(mock.Arguments) { <-release })
		discover.Return(nil, device.ErrDeviceNotFound)
	} else if b.discoverErr != nil {
		discover.Return(nil, b.discoverErr)
	} else {
		discover.Return(b.handle, nil)
	}

	connect := transport.On("Connect", mock.Anything, mock.Anything).Maybe()
	if b.connectBlock != nil {
		release := b.connectBlock
		connect.Run(func(mock.Arguments) { <-release })
	}
	if b.connectErr != nil {
		connect.Return(nil, b.connectErr)
	} else {
		connect.Return(gatt, nil)
	}

	for _, ch := range b.characteristics {
		uuid := device.NormalizeUUID(ch.uuid)
		if ch.lookupErr != nil {
			gatt.On("Characteristic", mock.Anything, mock.Anything, uuid).Return(nil, ch.lookupErr).Maybe()
			continue
		}
		lookup := gatt.On("Characteristic", mock.Anything, mock.Anything, uuid).Return(CharHandle(uuid), nil).Maybe()
		if ch.release != nil {
			entered, release := ch.entered, ch.release
			var once sync.Once
			lookup.Run(func(mock.Arguments) {
				once.Do(func() { close(entered) })
				<-release
			})
		}
		gatt.On("EnableNotifications", mock.Anything, uuid).Return(ch.notifyErr).Maybe()
	}
	gatt.On("Characteristic", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, &device.NotFoundError{Resource: "characteristic"}).Maybe()
	gatt.On("Disconnect").Return(b.releaseErr).Maybe()

	return transport, gatt
}
