package webbt

import (
	"fmt"
	"strings"

	"github.com/srg/flexlink/internal/device"
)

// Operations understood by the bridge page
const (
	opRequestDevice      = "requestDevice"
	opConnect            = "connect"
	opGetCharacteristic  = "getCharacteristic"
	opStartNotifications = "startNotifications"
	opDisconnect         = "disconnect"

	eventNotification = "notification"
	eventDisconnected = "gattserverdisconnected"
)

// request is sent to the page
type request struct {
	ID             uint64 `json:"id"`
	Op             string `json:"op"`
	Service        string `json:"service,omitempty"`
	Device         string `json:"device,omitempty"`
	Characteristic string `json:"characteristic,omitempty"`
}

type deviceInfo struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// domError carries a DOMException from the page
type domError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// message is either a reply (ID set) or an event (Event set)
type message struct {
	ID             uint64      `json:"id,omitempty"`
	OK             bool        `json:"ok"`
	Device         *deviceInfo `json:"device,omitempty"`
	Error          *domError   `json:"error,omitempty"`
	Event          string      `json:"event,omitempty"`
	Characteristic string      `json:"characteristic,omitempty"`
	Data           []byte      `json:"data,omitempty"`
}

// toError maps a DOMException onto the device error vocabulary
func (e *domError) toError(req request) error {
	switch e.Name {
	case "NotFoundError":
		switch req.Op {
		case opRequestDevice:
			// the chooser reports a user cancel as NotFoundError
			if strings.Contains(strings.ToLower(e.Message), "cancel") {
				return &device.TransportError{Kind: device.PermissionDenied, Msg: e.Message}
			}
			return &device.TransportError{Kind: device.DeviceNotFound, Msg: e.Message}
		case opGetCharacteristic:
			return &device.NotFoundError{Resource: "characteristic", UUIDs: device.NormalizeUUIDs([]string{req.Service, req.Characteristic})}
		}
	case "SecurityError", "NotAllowedError":
		return &device.TransportError{Kind: device.PermissionDenied, Msg: e.Message}
	case "NotSupportedError":
		return fmt.Errorf("%w: %s", device.ErrUnsupported, e.Message)
	case "NetworkError", "InvalidStateError":
		return &device.TransportError{Kind: device.NotConnected, Msg: e.Message}
	}
	return fmt.Errorf("%s: %s", e.Name, e.Message)
}
