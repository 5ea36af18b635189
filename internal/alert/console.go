package alert

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/andresmejia3/lenswatch/internal/types"
)

// Console prints the alert line and rings the terminal bell.
type Console struct {
	mu   sync.Mutex
	w    io.Writer
	bell bool
}

// NewConsole writes to w. bell adds a BEL character, the terminal's stand-in for the alarm sound.
func NewConsole(w io.Writer, bell bool) *Console {
	return &Console{w: w, bell: bell}
}

func (c *Console) Dispatch(_ context.Context, r types.DetectionResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	line := fmt.Sprintf("\n🚨 [tick %d, %s] %s\n", r.Tick, r.Mode.Title(), Message(r))
	if c.bell {
		line += "\a"
	}
	_, err := io.WriteString(c.w, line)
	return err
}
