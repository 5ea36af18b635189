package types

import "fmt"

// CaptureError means the frame source failed to produce a frame. The tick is skipped entirely.
type CaptureError struct {
	Err error
}

func (e *CaptureError) Error() string {
	if e.Err == nil {
		return "capture failed"
	}
	return fmt.Sprintf("capture failed: %v", e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// DecodeError means a frame was produced but its buffer is malformed or unreadable.
// The tick yields an empty result instead of being skipped.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode failed: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }
