package goble

import (
	"strings"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/tuiss/internal/device"
)

// Advertisement is the part of a received advertisement the driver keeps.
type Advertisement struct {
	Handle      device.Handle
	Connectable bool
	LastSeen    time.Time
}

func newAdvertisement(adv ble.Advertisement) Advertisement {
	return Advertisement{
		Handle: device.Handle{
			Address: NormalizeAddress(adv.Addr().String()),
			Name:    adv.LocalName(),
			RSSI:    adv.RSSI(),
		},
		Connectable: adv.Connectable(),
		LastSeen:    time.Now(),
	}
}

// merged refreshes a cached entry; names are only carried by some packets.
func (a Advertisement) merged(next Advertisement) Advertisement {
	if next.Handle.Name != "" {
		a.Handle.Name = next.Handle.Name
	}
	a.Handle.RSSI = next.Handle.RSSI
	a.Connectable = a.Connectable || next.Connectable
	a.LastSeen = next.LastSeen
	return a
}

// NormalizeAddress uppercases MAC addresses and CoreBluetooth identifiers.
func NormalizeAddress(address string) string {
	return strings.ToUpper(strings.TrimSpace(address))
}
