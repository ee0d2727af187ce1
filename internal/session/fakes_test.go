package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pseudocoder/console/internal/protocol"
	"github.com/pseudocoder/console/internal/transport"
)

// fakeChannel is an in-memory transport.Channel. Tests push inbound
// frames and remote closes through it.
type fakeChannel struct {
	mu       sync.Mutex
	handler  transport.Handler
	sent     [][]byte
	closed   bool
	code     int
	failSend bool

	// lostOnOpen makes the channel fail abnormally as soon as it runs.
	lostOnOpen bool
}

func (c *fakeChannel) Run(h transport.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
	if c.lostOnOpen {
		go c.remoteClose(transport.CloseAbnormal, errors.New("connection reset"))
	}
}

func (c *fakeChannel) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.ErrChannelClosed
	}
	if c.failSend {
		return errors.New("broken pipe")
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *fakeChannel) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.code = code
	}
	return nil
}

func (c *fakeChannel) setFailSend(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failSend = v
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) closeCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code
}

// receive delivers a raw frame as if read from the socket.
func (c *fakeChannel) receive(t *testing.T, data string) {
	t.Helper()
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h == nil {
		t.Fatal("channel not running")
	}
	h.HandleFrame([]byte(data))
}

// receiveFrame encodes and delivers f.
func (c *fakeChannel) receiveFrame(t *testing.T, f protocol.Frame) {
	t.Helper()
	data, err := protocol.Encode(f)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	c.receive(t, string(data))
}

// remoteClose ends the channel from the far side.
func (c *fakeChannel) remoteClose(code int, err error) {
	c.mu.Lock()
	c.closed = true
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h.HandleClose(code, err)
	}
}

// frames decodes everything written to the channel.
func (c *fakeChannel) frames(t *testing.T) []protocol.Frame {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Frame, 0, len(c.sent))
	for _, data := range c.sent {
		f, err := protocol.Decode(data)
		if err != nil {
			t.Fatalf("sent frame does not decode: %v", err)
		}
		out = append(out, f)
	}
	return out
}

// framesOfKind filters frames by kind.
func (c *fakeChannel) framesOfKind(t *testing.T, kind protocol.Kind) []protocol.Frame {
	t.Helper()
	var out []protocol.Frame
	for _, f := range c.frames(t) {
		if f.Kind() == kind {
			out = append(out, f)
		}
	}
	return out
}

// fakeDialer hands out fakeChannels, or fails while fail is set.
type fakeDialer struct {
	mu       sync.Mutex
	urls     []string
	channels []*fakeChannel
	fail     bool
	block    chan struct{}

	// failSends and lostOnOpen are copied into every new channel.
	failSends  bool
	lostOnOpen bool
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (transport.Channel, error) {
	d.mu.Lock()
	d.urls = append(d.urls, url)
	fail, block := d.fail, d.block
	d.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, errors.New("connection refused")
	}

	d.mu.Lock()
	ch := &fakeChannel{failSend: d.failSends, lostOnOpen: d.lostOnOpen}
	d.channels = append(d.channels, ch)
	d.mu.Unlock()
	return ch, nil
}

func (d *fakeDialer) setFail(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = v
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

func (d *fakeDialer) channel(i int) *fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.channels) {
		return nil
	}
	return d.channels[i]
}

// fakeTimer is a manually fired reconnect timer.
type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

// fakeScheduler replaces Manager.afterFunc.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) afterFunc(d time.Duration, f func()) stopper {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{delay: d, fn: f}
	s.timers = append(s.timers, t)
	return stopFunc(func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		was := !t.stopped && !t.fired
		t.stopped = true
		return was
	})
}

// fireNext runs the oldest live timer and reports whether there was one.
func (s *fakeScheduler) fireNext() bool {
	s.mu.Lock()
	var next *fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			next = t
			break
		}
	}
	if next != nil {
		next.fired = true
	}
	s.mu.Unlock()

	if next == nil {
		return false
	}
	next.fn()
	return true
}

func (s *fakeScheduler) delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.timers))
	for i, t := range s.timers {
		out[i] = t.delay
	}
	return out
}

func (s *fakeScheduler) live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type stopFunc func() bool

func (f stopFunc) Stop() bool { return f() }

// statusRecorder collects status notifications.
type statusRecorder struct {
	mu   sync.Mutex
	seen []ConnectionStatus
}

func (r *statusRecorder) OnStatus(_ Key, st ConnectionStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, st)
}

func (r *statusRecorder) statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, len(r.seen))
	for i, st := range r.seen {
		out[i] = st.Status
	}
	return out
}

// messageRecorder collects routed frames.
type messageRecorder struct {
	mu     sync.Mutex
	frames []protocol.Frame
}

func (r *messageRecorder) OnMessage(_ Key, f protocol.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
}

func (r *messageRecorder) kinds() []protocol.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.Kind, len(r.frames))
	for i, f := range r.frames {
		out[i] = f.Kind()
	}
	return out
}

// dropRecorder is a message listener that also collects queue drops.
type dropRecorder struct {
	messageRecorder
	dmu     sync.Mutex
	dropped []QueuedMessage
	errs    []error
}

func (r *dropRecorder) OnDropped(_ Key, msg QueuedMessage, err error) {
	r.dmu.Lock()
	defer r.dmu.Unlock()
	r.dropped = append(r.dropped, msg)
	r.errs = append(r.errs, err)
}

func (r *dropRecorder) drops() ([]QueuedMessage, []error) {
	r.dmu.Lock()
	defer r.dmu.Unlock()
	return append([]QueuedMessage(nil), r.dropped...), append([]error(nil), r.errs...)
}

// fileRecorder collects file operation notifications.
type fileRecorder struct {
	mu  sync.Mutex
	ops []FileOperation
}

func (r *fileRecorder) OnFileOperation(_ Key, op FileOperation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
}

func (r *fileRecorder) last() FileOperation {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ops) == 0 {
		return FileOperation{}
	}
	return r.ops[len(r.ops)-1]
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// newTestManager returns a manager over a fake dialer with heartbeats
// disabled and reconnect timers under test control.
func newTestManager(t *testing.T, opts Options) (*Manager, *fakeDialer, *fakeScheduler) {
	t.Helper()
	d := &fakeDialer{}
	if opts.Dialer == nil {
		opts.Dialer = d
	}
	if opts.URL == nil {
		opts.URL = func(deviceID, sessionID string) string {
			return GatewayURL("gw.test", true, deviceID, sessionID)
		}
	}
	if opts.HeartbeatInterval == 0 {
		opts.HeartbeatInterval = -1
	}

	m := NewManager(opts)
	s := &fakeScheduler{}
	m.afterFunc = s.afterFunc
	t.Cleanup(func() { m.Close() })
	return m, d, s
}
