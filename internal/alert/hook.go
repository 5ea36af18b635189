package alert

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/andresmejia3/lenswatch/internal/types"
	"github.com/andresmejia3/lenswatch/internal/utils"
)

// Reply status bytes written by a hook.
const (
	hookStatusOK    = 0
	hookStatusError = 1
)

// maxHookReply caps the reply a hook may send back.
const maxHookReply = 1 << 20

// Hook hands alerts to a long-running external process (a notifier script, a phone bridge).
//
// Protocol: lenswatch writes [uint32 BE length][JSON Event] to the hook's stdin. The hook replies on
// file descriptor 3 with [uint32 BE length][payload], where payload is [status:0] on success or
// [status:1][uint32 BE length][message] on failure. Stdout stays free for the hook's own logging.
type Hook struct {
	SessionID string
	Cmd       *utils.SafeCommand
	Stdin     io.WriteCloser
	DataPipe  io.ReadCloser

	mu sync.Mutex
	// broken is set once an exchange was cut short; the reply stream is out of step after that.
	broken error
}

// NewHook starts command (run through no shell) and wires the FD 3 reply pipe.
func NewHook(ctx context.Context, sessionID string, command string, args ...string) (*Hook, error) {
	// 1. Prepare the process
	cmd := utils.NewSafeCommand(ctx, command, args...)

	// Create a side-channel pipe (FD 3) for clean replies
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	cmd.ExtraFiles = []*os.File{w}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	// 2. Launch
	if err := cmd.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("hook %q failed to start: %w", command, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &Hook{
		SessionID: sessionID,
		Cmd:       cmd,
		Stdin:     stdin,
		DataPipe:  r,
	}, nil
}

// Dispatch sends the alert and waits for the hook's acknowledgement. When the reply pipe is an
// *os.File, cancelling ctx interrupts the wait for the reply.
func (h *Hook) Dispatch(ctx context.Context, r types.DetectionResult) error {
	body, err := json.Marshal(NewEvent(h.SessionID, r, time.Now()))
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.broken != nil {
		return fmt.Errorf("hook unusable after earlier failure: %w", h.broken)
	}

	if f, ok := h.DataPipe.(*os.File); ok {
		stop := context.AfterFunc(ctx, func() { f.SetReadDeadline(time.Now()) })
		defer func() {
			stop()
			f.SetReadDeadline(time.Time{})
		}()
	}

	resp, err := h.communicate(body)
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		h.broken = err
		return fmt.Errorf("hook i/o failed: %w", err)
	}
	return parseHookReply(resp)
}

func (h *Hook) communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(h.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := h.Stdin.Write(data); err != nil {
		return nil, err
	}

	// Read the reply from the clean DataPipe
	header := make([]byte, 4)
	if _, err := io.ReadFull(h.DataPipe, header); err != nil {
		return nil, err // the hook died or never answers on FD 3
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxHookReply {
		return nil, fmt.Errorf("hook reply of %d bytes exceeds limit", respLen)
	}
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(h.DataPipe, respBody)
	return respBody, err
}

func parseHookReply(resp []byte) error {
	if len(resp) == 0 {
		return fmt.Errorf("empty hook reply")
	}

	switch resp[0] {
	case hookStatusOK:
		return nil
	case hookStatusError:
		var msgLen uint32
		rd := bytes.NewReader(resp[1:])
		if err := binary.Read(rd, binary.BigEndian, &msgLen); err != nil {
			return fmt.Errorf("malformed hook error reply: %w", err)
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(rd, msg); err != nil {
			return fmt.Errorf("malformed hook error reply: %w", err)
		}
		return fmt.Errorf("hook error: %s", msg)
	}
	return fmt.Errorf("unknown hook status byte %d", resp[0])
}

// Close ends the hook's input and reaps the process.
func (h *Hook) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.Stdin.Close()
	h.DataPipe.Close()
	if h.Cmd == nil {
		return nil
	}
	return h.Cmd.Wait()
}
