package alert

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/lenswatch/internal/types"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

func sampleResult() types.DetectionResult {
	return types.DetectionResult{
		Spots:      []types.BrightSpot{{X: 0.5, Y: 0.5, Intensity: 1, Size: 0.5, Pattern: types.PatternUnknown}},
		Confidence: 0.85,
		Mode:       types.ModeIR,
		Tick:       3,
	}
}

// writeReply frames payload the way a hook answers on FD 3.
func writeReply(w io.Writer, payload []byte) {
	binary.Write(w, binary.BigEndian, uint32(len(payload)))
	w.Write(payload)
}

func TestHookDispatch(t *testing.T) {
	// 1. Setup Mocks
	// stdinMock simulates the pipe TO the hook (we write to it)
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	// dataPipeMock simulates FD 3 FROM the hook (we read from it)
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}

	// 2. Pre-fill dataPipeMock with an OK reply
	writeReply(dataPipeMock, []byte{hookStatusOK})

	// 3. Create Hook with mocks injected
	h := &Hook{
		SessionID: "sess-1",
		Stdin:     stdinMock,
		DataPipe:  dataPipeMock,
		// Cmd is nil because we aren't testing process management, just the protocol
	}

	// 4. Execute
	if err := h.Dispatch(context.Background(), sampleResult()); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}

	// 5. Verify what was sent TO the hook: [len][json]
	sent := stdinMock.Bytes()
	if len(sent) < 4 {
		t.Fatalf("Expected a length header, got %d bytes", len(sent))
	}
	n := binary.BigEndian.Uint32(sent[:4])
	if int(n) != len(sent)-4 {
		t.Fatalf("Header says %d bytes, body has %d", n, len(sent)-4)
	}

	var ev Event
	if err := json.Unmarshal(sent[4:], &ev); err != nil {
		t.Fatalf("Body is not a JSON event: %v", err)
	}
	if ev.SessionID != "sess-1" || ev.Result.Tick != 3 || len(ev.Result.Spots) != 1 {
		t.Errorf("Unexpected event: %+v", ev)
	}
	if !strings.Contains(ev.Message, "85% confidence") {
		t.Errorf("Unexpected message %q", ev.Message)
	}
}

func TestHookDispatch_Error(t *testing.T) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}

	// Protocol: [Status:1] [MsgLen] [Msg]
	payload := new(bytes.Buffer)
	payload.WriteByte(hookStatusError)
	errMsg := "push gateway unreachable"
	binary.Write(payload, binary.BigEndian, uint32(len(errMsg)))
	payload.WriteString(errMsg)
	writeReply(dataPipeMock, payload.Bytes())

	h := &Hook{Stdin: stdinMock, DataPipe: dataPipeMock}

	err := h.Dispatch(context.Background(), sampleResult())
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if err.Error() != "hook error: "+errMsg {
		t.Errorf("Expected error message '%s', got '%v'", "hook error: "+errMsg, err)
	}
}

func TestHookDispatch_DeadHook(t *testing.T) {
	// An empty FD 3 means the hook exited without answering.
	h := &Hook{
		Stdin:    &MockCloser{Buffer: new(bytes.Buffer)},
		DataPipe: &MockCloser{Buffer: new(bytes.Buffer)},
	}
	if err := h.Dispatch(context.Background(), sampleResult()); err == nil {
		t.Fatal("Expected an error from a silent hook")
	}
}

func TestParseHookReply(t *testing.T) {
	tests := []struct {
		name    string
		reply   []byte
		wantErr bool
	}{
		{"OK", []byte{hookStatusOK}, false},
		{"Empty", nil, true},
		{"Unknown status", []byte{7}, true},
		{"Truncated error", []byte{hookStatusError, 0, 0}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := parseHookReply(tt.reply); (err != nil) != tt.wantErr {
				t.Errorf("parseHookReply(%v) error = %v, wantErr %v", tt.reply, err, tt.wantErr)
			}
		})
	}
}

func TestHookDispatch_HonoursContext(t *testing.T) {
	// A real pipe that nobody answers on, like a hook stuck after reading its input
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	h := &Hook{Stdin: &MockCloser{Buffer: new(bytes.Buffer)}, DataPipe: r}
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = h.Dispatch(ctx, sampleResult())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected DeadlineExceeded, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("Dispatch ignored the context deadline")
	}

	// A late reply would now be read as the answer to the next alert, so the hook is retired
	writeReply(w, []byte{hookStatusOK})
	if err := h.Dispatch(context.Background(), sampleResult()); err == nil {
		t.Error("Expected a hook that missed a reply to stay failed")
	}
}
