package capture

import "errors"

var (
	// ErrInvalidCapture reports an out-of-range capture or frame index, or a
	// malformed capture header. The session should not be processed.
	ErrInvalidCapture = errors.New("invalid capture")

	// ErrCorruptFrame reports a frame whose on-disk or on-wire byte length
	// does not match the expected frame size. The frame is dropped; the
	// stream or capture remains usable.
	ErrCorruptFrame = errors.New("corrupt frame")
)
