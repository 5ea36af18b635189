package alert

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/andresmejia3/lenswatch/internal/types"
	"golang.org/x/time/rate"
)

// Multi fans an alert out to every dispatcher in order. One failing or panicking dispatcher does
// not keep the alert from the others; their errors are joined.
type Multi []Dispatcher

func (m Multi) Dispatch(ctx context.Context, r types.DetectionResult) error {
	var errs []error
	for _, d := range m {
		if err := dispatchSafely(ctx, d, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func dispatchSafely(ctx context.Context, d Dispatcher, r types.DetectionResult) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%T panicked: %v", d, p)
		}
	}()
	if err := d.Dispatch(ctx, r); err != nil {
		return fmt.Errorf("%T: %w", d, err)
	}
	return nil
}

// Cooldown lets at most one alert through per period and silently drops the rest, so a camera
// that stays in view does not ring every second.
type Cooldown struct {
	next Dispatcher
	now  func() time.Time

	mu         sync.Mutex
	limiter    *rate.Limiter
	suppressed uint64
}

// NewCooldown wraps next. A period <= 0 disables the limit.
func NewCooldown(next Dispatcher, period time.Duration, now func() time.Time) *Cooldown {
	limit := rate.Inf
	if period > 0 {
		limit = rate.Every(period)
	}
	if now == nil {
		now = time.Now
	}
	return &Cooldown{next: next, now: now, limiter: rate.NewLimiter(limit, 1)}
}

func (c *Cooldown) Dispatch(ctx context.Context, r types.DetectionResult) error {
	c.mu.Lock()
	allowed := c.limiter.AllowN(c.now(), 1)
	if !allowed {
		c.suppressed++
	}
	c.mu.Unlock()

	if !allowed {
		return nil
	}
	return c.next.Dispatch(ctx, r)
}

// Suppressed is the number of alerts swallowed by the cooldown.
func (c *Cooldown) Suppressed() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.suppressed
}
