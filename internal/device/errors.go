package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when adding a device with an ID that already exists.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrInvalidDevice is returned when a device definition is incomplete.
	ErrInvalidDevice = errors.New("device: invalid")

	// ErrUnknownType is returned when no driver exists for a device type.
	ErrUnknownType = errors.New("device: unknown type")

	// ErrReadOnly is returned when writing to a sensor.
	ErrReadOnly = errors.New("device: read-only")

	// ErrInvalidValue is returned when a written or configured value has the wrong type.
	ErrInvalidValue = errors.New("device: invalid value")

	// ErrReadFailed wraps I/O and parse failures while reading hardware.
	ErrReadFailed = errors.New("device: read failed")

	// ErrWriteFailed wraps I/O failures while driving hardware.
	ErrWriteFailed = errors.New("device: write failed")
)
