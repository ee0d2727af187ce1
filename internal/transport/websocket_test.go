package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// recordingHandler collects channel events for assertions.
type recordingHandler struct {
	mu     sync.Mutex
	frames []string
	code   int
	err    error
	closed chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{closed: make(chan struct{})}
}

func (h *recordingHandler) HandleFrame(data []byte) {
	h.mu.Lock()
	h.frames = append(h.frames, string(data))
	h.mu.Unlock()
}

func (h *recordingHandler) HandleClose(code int, err error) {
	h.mu.Lock()
	h.code = code
	h.err = err
	h.mu.Unlock()
	close(h.closed)
}

func (h *recordingHandler) snapshot() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.frames...)
}

// newGateway starts a test server that runs fn for every upgraded connection.
func newGateway(t *testing.T, fn func(conn *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		fn(conn)
	}))
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, url string) Channel {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch, err := (&WSDialer{}).Dial(ctx, url)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	return ch
}

func waitClosed(t *testing.T, h *recordingHandler) {
	t.Helper()
	select {
	case <-h.closed:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for HandleClose")
	}
}

// TestWSChannel_EchoAndOrder verifies frames arrive in the order sent.
func TestWSChannel_EchoAndOrder(t *testing.T) {
	url := newGateway(t, func(conn *websocket.Conn) {
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	})

	ch := dial(t, url)
	h := newRecordingHandler()
	ch.Run(h)

	for _, msg := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
		if err := ch.Send([]byte(msg)); err != nil {
			t.Fatalf("Send() error: %v", err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(h.snapshot()) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	got := h.snapshot()
	want := []string{`{"n":1}`, `{"n":2}`, `{"n":3}`}
	if len(got) != len(want) {
		t.Fatalf("got %d frames, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("frame %d = %s, want %s", i, got[i], want[i])
		}
	}

	if err := ch.Close(CloseNormal, "done"); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	waitClosed(t, h)
	if h.code != CloseNormal || h.err != nil {
		t.Errorf("local close reported (%d, %v), want (%d, nil)", h.code, h.err, CloseNormal)
	}

	if err := ch.Send([]byte(`{}`)); err != ErrChannelClosed {
		t.Errorf("Send after Close = %v, want ErrChannelClosed", err)
	}
}

// TestWSChannel_RemoteCloseCodes verifies close codes reach the handler.
func TestWSChannel_RemoteCloseCodes(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		wantCode int
		wantErr  bool
	}{
		{"normal", websocket.CloseNormalClosure, CloseNormal, false},
		{"going away", websocket.CloseGoingAway, CloseGoingAway, true},
		{"application", 4001, 4001, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := newGateway(t, func(conn *websocket.Conn) {
				msg := websocket.FormatCloseMessage(tt.code, "bye")
				conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
				// Wait for the client to answer the close frame.
				conn.ReadMessage()
			})

			ch := dial(t, url)
			h := newRecordingHandler()
			ch.Run(h)
			waitClosed(t, h)

			if h.code != tt.wantCode {
				t.Errorf("code = %d, want %d", h.code, tt.wantCode)
			}
			if (h.err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", h.err, tt.wantErr)
			}
		})
	}
}

// TestWSChannel_DroppedConnection verifies a vanished peer is abnormal.
func TestWSChannel_DroppedConnection(t *testing.T) {
	url := newGateway(t, func(conn *websocket.Conn) {
		conn.UnderlyingConn().Close()
	})

	ch := dial(t, url)
	h := newRecordingHandler()
	ch.Run(h)
	waitClosed(t, h)

	if h.code != CloseAbnormal {
		t.Errorf("code = %d, want %d", h.code, CloseAbnormal)
	}
	if h.err == nil {
		t.Error("expected a transport error")
	}
}

// TestWSDialer_Failure verifies dial errors and context cancellation.
func TestWSDialer_Failure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := (&WSDialer{}).Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http"))
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if !strings.Contains(err.Error(), "403") {
		t.Errorf("error %q should mention the HTTP status", err)
	}

	cancelled, cancelNow := context.WithCancel(context.Background())
	cancelNow()
	if _, err := (&WSDialer{}).Dial(cancelled, "ws"+strings.TrimPrefix(ts.URL, "http")); err == nil {
		t.Error("expected error for cancelled context")
	}
}
