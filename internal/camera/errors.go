package camera

import "errors"

var (
	// ErrDeviceUnavailable means neither the GigE camera nor the webcam
	// fallback could be opened. Operator intervention is required.
	ErrDeviceUnavailable = errors.New("camera: no device available")

	// ErrNotConnected means an operation was attempted before Initialize.
	ErrNotConnected = errors.New("camera: not connected")

	// ErrCaptureTimeout means no frame arrived within the bounded wait.
	// Transient: callers may retry.
	ErrCaptureTimeout = errors.New("camera: capture timed out")

	// ErrNotHibernated means Reactivate was called outside hibernation.
	ErrNotHibernated = errors.New("camera: not hibernated")
)
