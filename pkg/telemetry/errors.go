package telemetry

import "errors"

// Failure classes shared by every stage of the pipeline. Components wrap these
// with context; callers classify with errors.Is.
var (
	// ErrChecksumMismatch reports a corrupted sensor frame. No partial data is returned.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrDeviceNotResponding reports a bus timeout or a driver that failed its probe.
	ErrDeviceNotResponding = errors.New("device not responding")
	// ErrDomain reports an argument outside its valid range. Raised before any I/O.
	ErrDomain = errors.New("argument out of range")
	// ErrStorageUnavailable reports a mount or write failure of the durable log.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrLinkUnavailable reports a missing peer or a disconnect during a send.
	ErrLinkUnavailable = errors.New("link unavailable")
)
