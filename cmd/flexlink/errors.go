package main

import (
	"errors"
	"strings"

	"github.com/srg/flexlink/internal/session"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the glove dropped the link while streaming
	// and --reconnect was not given.
	ErrConnectionLost = errors.New("connection lost")
)

// FormatUserError turns session failures into a one-line hint for the terminal
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrConnectionLost) {
		return "connection to the glove was lost (use --reconnect to keep streaming)"
	}

	var hint string
	switch session.KindOf(err) {
	case session.KindDeviceNotFound:
		hint = "no glove found; check that it is powered on and advertising"
	case session.KindPermission:
		hint = "Bluetooth access was denied; grant the terminal Bluetooth permission or pick the glove in the browser chooser"
	case session.KindUnsupported:
		hint = "Bluetooth is not available here; try --transport web"
	case session.KindNoChannelsAvailable:
		hint = "connected, but the glove exposes none of the configured characteristics"
	case session.KindConfig:
		hint = "invalid channel configuration"
	default:
		return err.Error()
	}

	detail := err.Error()
	if strings.HasPrefix(detail, hint) {
		return detail
	}
	return hint + " (" + detail + ")"
}
