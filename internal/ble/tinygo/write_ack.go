//go:build darwin || windows

package tinygo

import "tinygo.org/x/bluetooth"

// ackWrites reports whether the platform backend has acknowledged writes.
const ackWrites = true

func writeWithResponse(c bluetooth.DeviceCharacteristic, data []byte) error {
	_, err := c.Write(data)
	return err
}
