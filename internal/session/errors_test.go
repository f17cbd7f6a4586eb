package session

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/srg/flexlink/internal/device"
)

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{name: "kind only", err: ErrCancelled, expected: "cancelled"},
		{name: "with message", err: newError(KindConfig, "duplicate channel names: flex", nil), expected: "config: duplicate channel names: flex"},
		{
			name:     "with cause",
			err:      newError(KindPermission, "", device.ErrBluetoothOff),
			expected: "permission: bluetooth off",
		},
		{
			name:     "message and cause",
			err:      newError(KindDeviceNotFound, "scan", errors.New("no adapter")),
			expected: "device not found: scan: no adapter",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.EqualError(t, tt.err, tt.expected)
		})
	}
}

func TestErrorIsByKind(t *testing.T) {
	err := fmt.Errorf("connect: %w", newError(KindPermission, "denied", device.ErrPermissionDenied))

	assert.ErrorIs(t, err, ErrPermission)
	assert.ErrorIs(t, err, device.ErrPermissionDenied)
	assert.NotErrorIs(t, err, ErrDeviceNotFound)
	assert.Equal(t, KindPermission, KindOf(err))
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
}

func TestRetryable(t *testing.T) {
	retryable := []*Error{ErrPermission, ErrDeviceNotFound, ErrNoChannelsAvailable, ErrConnectionFailed, ErrCancelled}
	for _, err := range retryable {
		assert.True(t, Retryable(err), err.Error())
	}
	permanent := []*Error{ErrConfig, ErrUnsupported, ErrDecode, ErrAlreadyInProgress, ErrAlreadyConnected, ErrNotConnected}
	for _, err := range permanent {
		assert.False(t, Retryable(err), err.Error())
	}
	assert.False(t, Retryable(nil))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connected", State{Kind: StateConnected}.String())
	assert.Equal(t, "error(no channels available)", State{Kind: StateError, Reason: "no channels available"}.String())
	assert.Equal(t, "error", State{Kind: StateError}.String())
	assert.Equal(t, "state(42)", ConnectionState(42).String())
}
