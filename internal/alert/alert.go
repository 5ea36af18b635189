// Package alert delivers detection results that crossed the alert threshold: to the terminal,
// to an external hook process, to Redis subscribers and to the database.
package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/andresmejia3/lenswatch/internal/types"
)

// Dispatcher receives one alerting result per call. Implementations must be safe for sequential
// use from the session's alert delivery goroutine.
type Dispatcher interface {
	Dispatch(ctx context.Context, r types.DetectionResult) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, r types.DetectionResult) error

func (f DispatcherFunc) Dispatch(ctx context.Context, r types.DetectionResult) error {
	return f(ctx, r)
}

// Event is the wire form of an alert for hooks and Redis subscribers.
type Event struct {
	SessionID string                `json:"session_id"`
	Message   string                `json:"message"`
	Result    types.DetectionResult `json:"result"`
	SentAt    time.Time             `json:"sent_at"`
}

// NewEvent wraps r for sessionID.
func NewEvent(sessionID string, r types.DetectionResult, now time.Time) Event {
	return Event{SessionID: sessionID, Message: Message(r), Result: r, SentAt: now}
}

// Message is the user-facing alert text.
func Message(r types.DetectionResult) string {
	return fmt.Sprintf("Camera Detected! Found %d potential camera(s) with %d%% confidence.",
		len(r.Spots), int(r.Confidence*100+0.5))
}
