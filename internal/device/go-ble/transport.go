// Package goble implements device.Transport on top of github.com/go-ble/ble.
package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/flexlink/internal/device"
)

// advertisement is the part of ble.Advertisement used for matching
type advertisement interface {
	LocalName() string
	Services() []ble.UUID
	Addr() ble.Addr
}

// gattClient is the part of ble.Client used by a connection
type gattClient interface {
	DiscoverProfile(force bool) (*ble.Profile, error)
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	CancelConnection() error
}

type scanFunc func(ctx context.Context, handler func(advertisement)) error
type dialFunc func(ctx context.Context, address string) (gattClient, error)

// Transport discovers and connects peripherals through the host BLE stack.
type Transport struct {
	logger     *logrus.Logger
	namePrefix string

	once sync.Once
	err  error
	scan scanFunc
	dial dialFunc
}

// Option configures a Transport
type Option func(*Transport)

// WithNamePrefix also accepts peripherals whose local name starts with prefix,
// for firmware that leaves the service UUID out of its advertisement.
func WithNamePrefix(prefix string) Option {
	return func(t *Transport) { t.namePrefix = prefix }
}

// New creates a Transport. The host adapter is opened on first use.
func New(logger *logrus.Logger, opts ...Option) *Transport {
	t := &Transport{logger: logger}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) open() error {
	t.once.Do(func() {
		if t.scan != nil || t.dial != nil {
			return
		}
		dev, err := DeviceFactory()
		if err != nil {
			t.logger.WithField("error", err).Error("Failed to create BLE device")
			t.err = NormalizeError(err)
			return
		}
		t.scan = func(ctx context.Context, handler func(advertisement)) error {
			return dev.Scan(ctx, false, func(a ble.Advertisement) { handler(a) })
		}
		t.dial = func(ctx context.Context, address string) (gattClient, error) {
			client, err := dev.Dial(ctx, ble.NewAddr(address))
			if err != nil {
				return nil, err
			}
			return client, nil
		}
	})
	return t.err
}

// RequestDevice scans until the first peripheral advertising serviceUUID
// (or matching the name prefix) shows up, or ctx is done.
func (t *Transport) RequestDevice(ctx context.Context, serviceUUID string) (device.DeviceHandle, error) {
	if err := t.open(); err != nil {
		return nil, err
	}
	want := device.NormalizeUUID(serviceUUID)

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	found := make(chan device.Handle, 1)
	err := t.scan(scanCtx, func(adv advertisement) {
		if !t.matches(adv, want) {
			return
		}
		h := device.Handle{Address: adv.Addr().String(), LocalName: adv.LocalName()}
		select {
		case found <- h:
			t.logger.WithFields(logrus.Fields{
				"address": h.Address,
				"name":    h.LocalName,
			}).Debug("Matching advertisement")
			cancel()
		default:
		}
	})

	select {
	case h := <-found:
		return h, nil
	default:
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return nil, NormalizeError(err)
	}
	return nil, device.ErrDeviceNotFound
}

func (t *Transport) matches(adv advertisement, service string) bool {
	for _, u := range adv.Services() {
		if device.NormalizeUUID(u.String()) == service {
			return true
		}
	}
	return t.namePrefix != "" && strings.HasPrefix(adv.LocalName(), t.namePrefix)
}

// Connect dials the peripheral and discovers its GATT profile.
func (t *Transport) Connect(ctx context.Context, handle device.DeviceHandle) (device.GattSession, error) {
	if err := t.open(); err != nil {
		return nil, err
	}
	address := handle.ID()

	t.logger.WithField("address", address).Debug("Dialing BLE device...")
	client, err := t.dial(ctx, address)
	if err != nil {
		t.logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Failed to dial BLE device")
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", address, NormalizeError(err))
	}

	t.logger.WithField("address", address).Debug("Discovering services and characteristics...")
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			t.logger.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection during profile discovery failure")
		}
		return nil, fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}

	t.logger.WithFields(logrus.Fields{
		"address":  address,
		"services": len(profile.Services),
	}).Debug("Profile discovered successfully")

	return newConnection(client, profile, t.logger), nil
}
