package realtime

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-notification-service/pkg/notify"
)

var errTransportClosed = errors.New("use of closed network connection")

// fakeTransport records frames written by a Connection.
type fakeTransport struct {
	frames chan []byte

	mu        sync.Mutex
	controls  []int
	writeErr  error
	hold      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		frames: make(chan []byte, 128),
		closed: make(chan struct{}),
	}
}

// blockWrites makes WriteMessage wait until release is called or the transport closes.
func (f *fakeTransport) blockWrites() (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hold = make(chan struct{})
	hold := f.hold
	return func() { close(hold) }
}

func (f *fakeTransport) failWrites(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr = err
}

func (f *fakeTransport) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	hold, writeErr := f.hold, f.writeErr
	f.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-f.closed:
			return errTransportClosed
		}
	}
	if writeErr != nil {
		return writeErr
	}
	select {
	case <-f.closed:
		return errTransportClosed
	default:
	}
	f.frames <- append([]byte(nil), data...)
	return nil
}

func (f *fakeTransport) WriteControl(messageType int, _ []byte, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.controls = append(f.controls, messageType)
	return nil
}

func (f *fakeTransport) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeTransport) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeTransport) sentClose() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.controls {
		if c == websocket.CloseMessage {
			return true
		}
	}
	return false
}

// next waits for the next written frame.
func (f *fakeTransport) next(t *testing.T) string {
	t.Helper()
	select {
	case frame := <-f.frames:
		return string(frame)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return ""
	}
}

// assertNoFrame fails if a frame arrives within a short window.
func (f *fakeTransport) assertNoFrame(t *testing.T) {
	t.Helper()
	select {
	case frame := <-f.frames:
		t.Fatalf("unexpected frame: %s", frame)
	case <-time.After(50 * time.Millisecond):
	}
}

func newTestConnection(t *testing.T, userID notify.UserID, opts ConnectionOptions) (*Connection, *fakeTransport) {
	t.Helper()
	tr := newFakeTransport()
	c := NewConnection(userID, "", tr, opts, zerolog.Nop())
	t.Cleanup(c.Close)
	require.NotEmpty(t, c.ID())
	return c, tr
}
