//go:build !darwin

package main

const (
	exampleDeviceAddress = "AA:BB:CC:DD:EE:FF"
	deviceAddressNote    = "Device address format: MAC address\n  Example: AA:BB:CC:DD:EE:FF\n  Use 'tuiss scan' to discover blinds"
)
