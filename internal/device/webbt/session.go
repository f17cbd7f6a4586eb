package webbt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cornelk/hashmap"

	"github.com/srg/flexlink/internal/device"
)

const disconnectTimeout = 5 * time.Second

type characteristic struct {
	service string
	uuid    string
}

func (c characteristic) UUID() string { return c.uuid }

// gattSession is one connected device inside the page
type gattSession struct {
	page     *page
	deviceID string

	handlers  *hashmap.Map[string, func([]byte)]
	closed    chan struct{}
	closeOnce sync.Once
}

func newGattSession(p *page, deviceID string) *gattSession {
	return &gattSession{
		page:     p,
		deviceID: deviceID,
		handlers: hashmap.New[string, func([]byte)](),
		closed:   make(chan struct{}),
	}
}

func (s *gattSession) Characteristic(ctx context.Context, serviceUUID, uuid string) (device.CharacteristicHandle, error) {
	_, err := s.page.call(ctx, request{
		Op:             opGetCharacteristic,
		Device:         s.deviceID,
		Service:        device.ExpandUUID(serviceUUID),
		Characteristic: device.ExpandUUID(uuid),
	})
	if err != nil {
		return nil, err
	}
	return characteristic{service: serviceUUID, uuid: device.NormalizeUUID(uuid)}, nil
}

func (s *gattSession) EnableNotifications(ctx context.Context, h device.CharacteristicHandle, onData func([]byte)) error {
	ch, ok := h.(characteristic)
	if !ok {
		return fmt.Errorf("foreign characteristic handle %T", h)
	}

	// registered first so no early notification is lost
	s.handlers.Set(ch.uuid, onData)
	_, err := s.page.call(ctx, request{
		Op:             opStartNotifications,
		Device:         s.deviceID,
		Service:        device.ExpandUUID(ch.service),
		Characteristic: device.ExpandUUID(ch.uuid),
	})
	if err != nil {
		s.handlers.Del(ch.uuid)
		return err
	}
	return nil
}

func (s *gattSession) dispatch(uuid string, data []byte) {
	if fn, ok := s.handlers.Get(device.NormalizeUUID(uuid)); ok {
		fn(data)
	}
}

func (s *gattSession) markDisconnected() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.page.sessions.Del(s.deviceID)
	})
}

func (s *gattSession) Disconnect() error {
	defer s.markDisconnected()
	if s.page.closed() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	_, err := s.page.call(ctx, request{Op: opDisconnect, Device: s.deviceID})
	return err
}

func (s *gattSession) Disconnected() <-chan struct{} {
	return s.closed
}
