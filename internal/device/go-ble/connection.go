package goble

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/srg/flexlink/internal/device"
)

type characteristic struct {
	ble *ble.Characteristic
}

func (c *characteristic) UUID() string {
	return device.NormalizeUUID(c.ble.UUID.String())
}

type subscription struct {
	char     *ble.Characteristic
	indicate bool
}

// connection is a live GATT session over a go-ble client
type connection struct {
	client  gattClient
	profile *ble.Profile
	logger  *logrus.Logger

	mu            sync.Mutex
	subscriptions []subscription
	closed        chan struct{}
	closeOnce     sync.Once
}

func newConnection(client gattClient, profile *ble.Profile, logger *logrus.Logger) *connection {
	return &connection{
		client:  client,
		profile: profile,
		logger:  logger,
		closed:  make(chan struct{}),
	}
}

func (c *connection) Characteristic(_ context.Context, serviceUUID, uuid string) (device.CharacteristicHandle, error) {
	for _, svc := range c.profile.Services {
		if !device.EqualUUID(svc.UUID.String(), serviceUUID) {
			continue
		}
		for _, ch := range svc.Characteristics {
			if device.EqualUUID(ch.UUID.String(), uuid) {
				return &characteristic{ble: ch}, nil
			}
		}
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{serviceUUID, uuid}}
	}
	return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{serviceUUID}}
}

func (c *connection) EnableNotifications(_ context.Context, h device.CharacteristicHandle, onData func([]byte)) error {
	ch, ok := h.(*characteristic)
	if !ok {
		return fmt.Errorf("foreign characteristic handle %T", h)
	}

	var indicate bool
	switch {
	case ch.ble.Property&ble.CharNotify != 0:
	case ch.ble.Property&ble.CharIndicate != 0:
		indicate = true
	default:
		return fmt.Errorf("%w: characteristic %s does not notify", device.ErrUnsupported, ch.UUID())
	}

	if err := NormalizeError(c.client.Subscribe(ch.ble, indicate, func(data []byte) {
		onData(data)
	})); err != nil {
		c.logger.WithFields(logrus.Fields{
			"char_uuid": ch.UUID(),
			"error":     err,
		}).Error("Failed to subscribe to characteristic notifications")
		return err
	}

	c.mu.Lock()
	c.subscriptions = append(c.subscriptions, subscription{char: ch.ble, indicate: indicate})
	c.mu.Unlock()

	c.logger.WithField("char_uuid", ch.UUID()).Debug("Subscribed to characteristic notifications")
	return nil
}

// Disconnect unsubscribes everything and then cancels the connection
func (c *connection) Disconnect() error {
	c.mu.Lock()
	subs := c.subscriptions
	c.subscriptions = nil
	c.mu.Unlock()

	var unsubscribeErrs error
	for _, sub := range subs {
		unsubscribeErrs = multierr.Append(unsubscribeErrs, NormalizeError(c.client.Unsubscribe(sub.char, sub.indicate)))
	}
	if unsubscribeErrs != nil {
		c.logger.WithField("errors", unsubscribeErrs).Warn("Failed to unsubscribe from some characteristics during disconnect")
	}

	err := NormalizeError(c.client.CancelConnection())
	c.closeOnce.Do(func() { close(c.closed) })

	if err != nil {
		c.logger.WithField("error", err).Warn("BLE device disconnected with errors")
	} else {
		c.logger.Debug("BLE device disconnected")
	}
	return err
}

// Disconnected is the client's link-loss channel when the platform exposes one
func (c *connection) Disconnected() <-chan struct{} {
	if dc, ok := c.client.(interface{ Disconnected() <-chan struct{} }); ok {
		return dc.Disconnected()
	}
	return c.closed
}
