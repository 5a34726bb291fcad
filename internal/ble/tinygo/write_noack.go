//go:build !darwin && !windows

package tinygo

import (
	"fmt"

	"tinygo.org/x/bluetooth"
)

// The BlueZ backend only exposes write-without-response.
const ackWrites = false

func writeWithResponse(bluetooth.DeviceCharacteristic, []byte) error {
	return fmt.Errorf("%w: acknowledged write", ErrUnsupported)
}
