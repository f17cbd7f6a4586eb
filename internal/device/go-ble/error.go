package goble

import (
	"fmt"
	"strings"

	"github.com/srg/flexlink/internal/device"
)

// NormalizeError maps known go-ble error strings onto device sentinels.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "have=3"), containsIgnoreCase(msg, "unauthorized"):
		// CBManagerStateUnauthorized: the user has not granted Bluetooth access
		return fmt.Errorf("%w: %v", device.ErrPermissionDenied, err)
	case containsIgnoreCase(msg, "have=2"), containsIgnoreCase(msg, "unsupported"):
		return fmt.Errorf("%w: %v", device.ErrUnsupported, err)
	default:
		return device.NormalizeError(err)
	}
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
