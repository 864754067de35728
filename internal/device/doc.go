// Package device defines the BLE transport boundary the blind driver depends on:
// handle lookup by address, GATT connection establishment and the GATT
// primitives used by a single short-lived session.
//
// Implementations live in sub-packages (see go-ble); tests substitute mocks.
package device
