package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// SubscribeAll enables notifications for every configured characteristic.
// Channels that cannot be resolved or enabled are skipped with a warning;
// the call fails with ErrNoChannelsAvailable only when none could be enabled,
// in which case the connection is released. Calling it again after a
// successful subscription is a no-op.
func (s *Session) SubscribeAll(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.busy:
		s.mu.Unlock()
		return newError(KindAlreadyInProgress, "another operation is running", nil)
	case s.state.Kind != StateConnected:
		state := s.state
		s.mu.Unlock()
		return newError(KindNotConnected, fmt.Sprintf("session is %s", state), nil)
	case len(s.subscribed) > 0:
		s.mu.Unlock()
		return nil
	}

	s.busy = true
	epoch := s.epoch
	gatt := s.gatt
	serviceID := s.serviceID
	table := s.channels
	opCtx, cancel := context.WithCancelCause(ctx)
	s.opCancel = cancel
	s.mu.Unlock()
	defer cancel(nil)

	var (
		subscribed []string
		errs       error
	)
	for pair := table.Oldest(); pair != nil; pair = pair.Next() {
		if opCtx.Err() != nil {
			break
		}
		uuid, specs := pair.Key, pair.Value
		names := strings.Join(channelNames(specs), ",")

		ch, err := gatt.Characteristic(opCtx, serviceID, uuid)
		if err == nil {
			err = gatt.EnableNotifications(opCtx, ch, s.notificationHandler(epoch, specs))
		}
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"channel": names,
				"uuid":    uuid,
				"error":   err,
			}).Warn("Skipping channel")
			errs = multierr.Append(errs, fmt.Errorf("channel %s: %w", names, err))
			continue
		}

		s.logger.WithFields(logrus.Fields{
			"channel": names,
			"uuid":    uuid,
		}).Debug("Notifications enabled")
		subscribed = append(subscribed, channelNames(specs)...)
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return cancelled(opCtx)
	}
	s.busy = false
	s.opCancel = nil

	if opCtx.Err() != nil {
		s.subscribed = subscribed
		s.mu.Unlock()
		return newError(KindCancelled, "", opCtx.Err())
	}

	if len(subscribed) == 0 {
		failure := newError(KindNoChannelsAvailable, "no configured characteristic could be subscribed", errs)
		gatt := s.teardownLocked(State{Kind: StateError, Reason: failure.Kind.readable()}, false, failure)
		s.mu.Unlock()
		s.drain()

		s.logger.WithError(failure).Error("Subscription failed")
		if err := s.release(gatt); err != nil {
			s.logger.WithError(err).Debug("release after subscription failure")
		}
		return failure
	}

	s.subscribed = subscribed
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"channels": strings.Join(subscribed, ","),
		"skipped":  len(multierr.Errors(errs)),
	}).Info("Subscribed")
	return nil
}

// notificationHandler decodes one payload for every channel sharing the
// characteristic and queues the readings for the connection generation epoch.
func (s *Session) notificationHandler(epoch uint64, specs []CharacteristicSpec) func([]byte) {
	return func(data []byte) {
		now := s.clock.Now()
		readings := make([]Reading, 0, len(specs))
		for _, spec := range specs {
			values, err := decodeSafely(spec, append([]byte(nil), data...))
			if err != nil {
				s.logger.WithFields(logrus.Fields{
					"channel": spec.Channel,
					"bytes":   len(data),
					"error":   err,
				}).Warn("Dropping malformed notification")
				continue
			}
			readings = append(readings, Reading{Channel: spec.Channel, Values: values, Timestamp: now})
		}
		if len(readings) == 0 {
			return
		}

		s.mu.Lock()
		if s.epoch != epoch || s.state.Kind != StateConnected {
			s.mu.Unlock()
			return
		}
		for i := range readings {
			s.seq++
			readings[i].Seq = s.seq
			s.readings.push(event{reading: &readings[i], epoch: epoch})
		}
		s.mu.Unlock()
		s.drainReadings()
	}
}

func decodeSafely(spec CharacteristicSpec, data []byte) (values []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			values = nil
			err = newError(KindDecode, fmt.Sprintf("channel %q decoder panicked: %v", spec.Channel, r), nil)
		}
	}()

	values, err = spec.Decode(data)
	if err != nil {
		return nil, newError(KindDecode, fmt.Sprintf("channel %q", spec.Channel), err)
	}
	return values, nil
}
