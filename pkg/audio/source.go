package audio

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrDeviceUnavailable reports that no capture device could be opened.
	ErrDeviceUnavailable = errors.New("audio: capture device unavailable")

	// ErrPermissionDenied reports that the platform refused microphone access.
	ErrPermissionDenied = errors.New("audio: capture permission denied")
)

// DeviceError describes a failure to acquire or keep a capture device. It
// unwraps to both Kind (one of the sentinels above) and the underlying cause,
// so callers can use errors.Is against either.
type DeviceError struct {
	Kind   error
	Device string
	Err    error
}

func (e *DeviceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v (device %q)", e.Kind, e.Device)
	}
	return fmt.Sprintf("%v (device %q): %v", e.Kind, e.Device, e.Err)
}

func (e *DeviceError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IsDeviceFailure reports whether err is a device or permission failure, the
// only error kind that should interrupt play with an actionable message.
func IsDeviceFailure(err error) bool {
	return errors.Is(err, ErrDeviceUnavailable) || errors.Is(err, ErrPermissionDenied)
}

// Source is a mono or stereo PCM capture stream.
//
// Start acquires the device and returns a channel of frames. The channel is
// closed when the stream ends, either because ctx was cancelled, Close was
// called, or the device was lost. A closed channel is not an error for the
// consumer: it simply receives no more frames. Start returns a [*DeviceError]
// when the device cannot be acquired.
//
// Implementations must be safe for concurrent use.
type Source interface {
	Start(ctx context.Context) (<-chan AudioFrame, error)

	// Format reports the sample rate and channel count frames will carry.
	Format() Format

	// Close stops capture and releases the device. Safe to call more than once.
	Close() error
}
