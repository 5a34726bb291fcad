package session

import (
	"errors"
	"fmt"

	"github.com/chaz8081/blecentral/internal/ble"
)

var (
	// ErrAdapterUnavailable means the adapter is unsupported or the
	// application is not authorized. It is not retried.
	ErrAdapterUnavailable = errors.New("session: adapter unavailable")

	// ErrUnknownPeripheral means no record exists for the identity.
	ErrUnknownPeripheral = errors.New("session: unknown peripheral")

	// ErrNotConnected means the operation needs a connected peripheral.
	ErrNotConnected = errors.New("session: peripheral not connected")

	// ErrUnknownAttribute means the service, characteristic or descriptor
	// is not in the peripheral's discovered tree.
	ErrUnknownAttribute = errors.New("session: unknown attribute")
)

// Op names a per-peripheral operation for error reporting.
type Op string

const (
	OpScan                     Op = "scan"
	OpConnect                  Op = "connect"
	OpDisconnect               Op = "disconnect"
	OpPersist                  Op = "persist"
	OpDiscoverServices         Op = "discoverServices"
	OpDiscoverIncludedServices Op = "discoverIncludedServices"
	OpDiscoverCharacteristics  Op = "discoverCharacteristics"
	OpDiscoverDescriptors      Op = "discoverDescriptors"
	OpReadRSSI                 Op = "readRSSI"
	OpReadValue                Op = "readValue"
	OpWriteValue               Op = "writeValue"
	OpSetNotify                Op = "setNotify"
)

// OperationError reports a failed per-peripheral operation. The record the
// operation targeted is left as it was before the operation started.
type OperationError struct {
	ID  ble.Identity
	Op  Op
	Err error
}

func (e *OperationError) Error() string {
	if e.ID.IsNil() {
		return fmt.Sprintf("session: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("session: %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

func opError(id ble.Identity, op Op, err error) *OperationError {
	return &OperationError{ID: id, Op: op, Err: err}
}

func unavailable(state ble.PowerState) error {
	return fmt.Errorf("%w: %s", ErrAdapterUnavailable, state)
}

func unknownAttribute(ref fmt.Stringer) error {
	return fmt.Errorf("%w: %s", ErrUnknownAttribute, ref)
}
