// Package device defines the BLE capability consumed by the session core:
// device discovery, GATT connection, characteristic lookup and notifications.
//
// Two adapters implement it:
//   - goble: native stacks through github.com/go-ble/ble (macOS, Linux)
//   - webbt: a browser page running Web Bluetooth, bridged over a WebSocket
//
// Adapters report failures with the sentinels in this package so the core
// never needs to branch on platform.
package device
