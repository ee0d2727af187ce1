package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Defaults for WSDialer.
const (
	DefaultWriteTimeout = 10 * time.Second
	DefaultReadLimit    = 4 * 1024 * 1024
)

// ErrChannelClosed is returned by Send after Close.
var ErrChannelClosed = errors.New("channel closed")

// WSDialer dials gorilla/websocket connections.
type WSDialer struct {
	// Header is sent with the upgrade request (e.g. Authorization).
	Header http.Header

	// TLSConfig is used for wss:// URLs. nil uses the system defaults.
	TLSConfig *tls.Config

	// WriteTimeout bounds every write. Zero means DefaultWriteTimeout.
	WriteTimeout time.Duration

	// ReadLimit is the maximum frame size. Zero means DefaultReadLimit.
	ReadLimit int64
}

// Dial opens a WebSocket connection. The handshake is bounded by ctx.
func (d *WSDialer) Dial(ctx context.Context, url string) (Channel, error) {
	dialer := websocket.Dialer{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: d.TLSConfig,
	}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.HandshakeTimeout = time.Until(deadline)
	}

	conn, resp, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake: %s: %w", resp.Status, err)
		}
		return nil, err
	}

	readLimit := d.ReadLimit
	if readLimit <= 0 {
		readLimit = DefaultReadLimit
	}
	conn.SetReadLimit(readLimit)

	writeTimeout := d.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}

	return &wsChannel{conn: conn, writeTimeout: writeTimeout}, nil
}

// wsChannel adapts a *websocket.Conn to Channel.
type wsChannel struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	// writeMu serializes writes; gorilla allows one concurrent writer.
	writeMu sync.Mutex

	started   atomic.Bool
	closing   atomic.Bool
	closeOnce sync.Once
}

func (c *wsChannel) Run(h Handler) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	go c.readPump(h)
}

// readPump reads until the connection fails and then reports the close.
func (c *wsChannel) readPump(h Handler) {
	defer c.conn.Close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			code, cause := closeStatus(err, c.closing.Load())
			h.HandleClose(code, cause)
			return
		}
		h.HandleFrame(data)
	}
}

// closeStatus maps a read error to a close code. A locally initiated close
// is reported as normal whatever the socket says.
func closeStatus(err error, local bool) (int, error) {
	if local {
		return CloseNormal, nil
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		if ce.Code == websocket.CloseNormalClosure {
			return CloseNormal, nil
		}
		return ce.Code, ce
	}
	return CloseAbnormal, err
}

func (c *wsChannel) Send(data []byte) error {
	if c.closing.Load() {
		return ErrChannelClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsChannel) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.closing.Store(true)

		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(code, reason)
		// Best effort: the peer may already be gone.
		c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
		c.writeMu.Unlock()

		err = c.conn.Close()
	})
	return err
}
