package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/pseudocoder/console/internal/errors"
	"github.com/pseudocoder/console/internal/metrics"
	"github.com/pseudocoder/console/internal/protocol"
	"github.com/pseudocoder/console/internal/transport"
)

// ErrManagerClosed is returned by operations on a closed Manager.
var ErrManagerClosed = apperrors.Closed("session manager")

// stopper is the part of *time.Timer the manager uses.
type stopper interface {
	Stop() bool
}

// entry is the registry record of one key. It exclusively owns the
// channel, status, queue and file table of that key.
type entry struct {
	key       Key
	deviceID  string
	sessionID string
	log       *zap.Logger

	// mu guards every field below. Channel writes happen under mu so
	// outbound order for a key is preserved.
	mu sync.Mutex

	channel transport.Channel
	status  ConnectionStatus
	dialing bool
	removed bool

	// gen is bumped by every connect attempt and every Disconnect.
	// Dials and timers that captured an older gen are stale.
	gen uint64

	queue          *outboundQueue
	files          *fileTracker
	backoff        *backoff.ExponentialBackOff
	reconnectTimer stopper
	heartbeatStop  chan struct{}

	messageListeners listenerSet[MessageListener]
	statusListeners  listenerSet[StatusListener]
	fileListeners    listenerSet[FileOperationListener]

	// events are listener notifications not yet delivered, in the order
	// the state changes happened. They are posted under mu and drained by
	// deliver; delivering is set while a goroutine drains them.
	events     []event
	delivering bool
}

// event is one pending listener notification. Exactly one field is set.
type event struct {
	status  *ConnectionStatus
	fileOp  *FileOperation
	message protocol.Frame
	dropped *droppedMessage
}

type droppedMessage struct {
	msg QueuedMessage
	err error
}

// postLocked queues ev for delivery. Caller holds e.mu and calls
// m.deliver(e) after unlocking.
func (e *entry) postLocked(ev event) {
	e.events = append(e.events, ev)
}

// postStatusLocked queues a snapshot of the current status.
func (e *entry) postStatusLocked() {
	st := e.status
	e.postLocked(event{status: &st})
}

// Manager is the registry of session channels.
//
// A Manager is constructed by the composition root and must be disposed
// with Close, which tears down every channel and timer.
//
// Example usage:
//
//	mgr := session.NewManager(session.Options{
//	    Dialer: &transport.WSDialer{},
//	    URL:    func(d, s string) string { return session.GatewayURL(addr, true, d, s) },
//	})
//	defer mgr.Close()
//	if _, err := mgr.Connect(ctx, deviceID, sessionID); err != nil {
//	    return err
//	}
type Manager struct {
	opts    Options
	log     *zap.Logger
	metrics *metrics.Metrics

	// afterFunc schedules reconnect timers. Tests replace it to observe delays.
	afterFunc func(d time.Duration, f func()) stopper

	mu      sync.RWMutex
	entries map[Key]*entry
	closed  bool
}

// NewManager creates a Manager. Options.Dialer and Options.URL are required.
func NewManager(opts Options) *Manager {
	opts = opts.withDefaults()
	return &Manager{
		opts:    opts,
		log:     opts.Logger.Named("session"),
		metrics: opts.Metrics,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
		entries: make(map[Key]*entry),
	}
}

// entryFor returns the entry for key, creating it when create is set.
func (m *Manager) entryFor(key Key, create bool) (*entry, error) {
	m.mu.RLock()
	e, closed := m.entries[key], m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrManagerClosed
	}
	if e != nil || !create {
		return e, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	if e := m.entries[key]; e != nil {
		return e, nil
	}

	deviceID, sessionID := key.Split()
	e = &entry{
		key:       key,
		deviceID:  deviceID,
		sessionID: sessionID,
		log:       m.log.With(zap.String("key", string(key))),
		status:    ConnectionStatus{Status: StatusDisconnected},
		queue:     newOutboundQueue(m.opts.QueueCapacity, m.opts.QueueMaxRetries),
		files:     newFileTracker(m.opts.OperationRetention),
		backoff:   newBackoff(m.opts.ReconnectBaseDelay, m.opts.ReconnectMaxDelay),
	}
	m.entries[key] = e
	return e, nil
}

// Connect opens the channel for a device session. If the channel is
// already open it is returned as is. Any stale channel for the key is
// closed first. The dial is bounded by Options.ConnectTimeout.
func (m *Manager) Connect(ctx context.Context, deviceID, sessionID string) (transport.Channel, error) {
	e, err := m.entryFor(NewKey(deviceID, sessionID), true)
	if err != nil {
		return nil, err
	}
	return m.connect(ctx, e, false, 0)
}

// connect runs one connection attempt. Retries pass the generation their
// timer was scheduled under and are abandoned if it moved on.
func (m *Manager) connect(ctx context.Context, e *entry, retry bool, retryGen uint64) (transport.Channel, error) {
	e.mu.Lock()
	if e.removed {
		e.mu.Unlock()
		return nil, ErrManagerClosed
	}
	if retry && e.gen != retryGen {
		e.mu.Unlock()
		return nil, apperrors.Closed("reconnect attempt for " + string(e.key))
	}
	if e.channel != nil && e.status.Status == StatusConnected {
		ch := e.channel
		e.mu.Unlock()
		return ch, nil
	}
	if e.dialing {
		e.mu.Unlock()
		return nil, apperrors.ConnectInProgress(string(e.key))
	}

	m.stopReconnectLocked(e)
	stale := m.detachChannelLocked(e)
	if !retry && e.status.Exhausted {
		// An explicit connect grants a fresh retry budget.
		e.status.Exhausted = false
		e.status.ReconnectAttempts = 0
		e.backoff.Reset()
	}

	e.gen++
	gen := e.gen
	e.dialing = true
	e.status.Status = StatusConnecting
	e.status.Error = ""
	url := m.opts.URL(e.deviceID, e.sessionID)
	e.postStatusLocked()
	e.mu.Unlock()

	if stale != nil {
		stale.Close(transport.CloseNormal, "reconnecting")
	}
	m.deliver(e)

	e.log.Debug("connecting", zap.String("url", url), zap.Bool("retry", retry))

	dialCtx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	ch, dialErr := m.opts.Dialer.Dial(dialCtx, url)
	timedOut := errors.Is(dialCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	cancel()

	e.mu.Lock()
	if e.gen != gen || e.removed {
		// Disconnected (or superseded) while dialing.
		e.mu.Unlock()
		if ch != nil {
			ch.Close(transport.CloseNormal, "connection cancelled")
		}
		return nil, apperrors.Closed("connection attempt for " + string(e.key))
	}
	e.dialing = false

	if dialErr != nil {
		var err error
		switch {
		case timedOut:
			err = apperrors.ConnectTimeout(string(e.key), dialErr)
			m.metrics.RecordConnect(metrics.ResultTimeout)
		default:
			err = apperrors.DialFailed(url, dialErr)
			m.metrics.RecordConnect(metrics.ResultFailure)
		}

		if ctx.Err() != nil && !timedOut {
			// The caller gave up; this is not a transport failure.
			e.status.Status = StatusDisconnected
			e.status.Error = ""
		} else {
			e.status.Status = StatusError
			e.status.Error = err.Error()
			m.scheduleReconnectLocked(e)
		}
		e.postStatusLocked()
		e.mu.Unlock()

		e.log.Warn("connect failed", zap.Error(err))
		m.deliver(e)
		return nil, err
	}

	e.channel = ch
	e.status = ConnectionStatus{
		Status:          StatusConnected,
		LastConnectedAt: time.Now(),
	}
	e.backoff.Reset()
	m.metrics.RecordConnect(metrics.ResultSuccess)

	ch.Run(&channelHandler{m: m, e: e, ch: ch})
	m.sendAuthLocked(e, ch)
	m.startHeartbeatLocked(e)
	sent, dropped := e.queue.drain(func(msg QueuedMessage) error {
		return m.writeLocked(e, ch, msg.Frame)
	})
	m.metrics.AddQueueDepth(-(sent + len(dropped)))
	m.metrics.RecordQueueDrop(metrics.DropRetries, len(dropped))
	for _, msg := range dropped {
		m.dropLocked(e, msg, apperrors.RetriesExhausted(string(e.key), msg.RetryCount))
	}
	queued := e.queue.len()
	e.postStatusLocked()
	e.mu.Unlock()

	e.log.Info("connected",
		zap.Int("flushed", sent),
		zap.Int("dropped", len(dropped)),
		zap.Int("still_queued", queued))
	m.deliver(e)
	return ch, nil
}

// Disconnect closes the channel of key, cancels its timers and discards its
// queue and file operations. Listener registrations are kept. Calling it on
// an unknown or already disconnected key is a no-op.
func (m *Manager) Disconnect(key Key) {
	e, _ := m.entryFor(key, false)
	if e == nil {
		return
	}
	m.disconnect(e, "client disconnect")
}

func (m *Manager) disconnect(e *entry, reason string) {
	e.mu.Lock()
	e.gen++
	e.dialing = false
	m.stopReconnectLocked(e)
	ch := m.detachChannelLocked(e)

	discarded := e.queue.clear()
	m.metrics.AddQueueDepth(-discarded)
	m.metrics.RecordQueueDrop(metrics.DropDiscard, discarded)
	e.files.reset()
	e.backoff.Reset()

	changed := e.status.Status != StatusDisconnected || e.status.ReconnectAttempts != 0 || e.status.Exhausted
	e.status.Status = StatusDisconnected
	e.status.ReconnectAttempts = 0
	e.status.Error = ""
	e.status.Exhausted = false
	if changed {
		e.postStatusLocked()
	}
	e.mu.Unlock()

	if ch != nil {
		ch.Close(transport.CloseNormal, reason)
	}
	if changed {
		e.log.Info("disconnected", zap.Int("discarded", discarded))
	}
	m.deliver(e)
}

// detachChannelLocked forgets the current channel and stops its heartbeat.
// The caller closes the returned channel after unlocking.
func (m *Manager) detachChannelLocked(e *entry) transport.Channel {
	ch := e.channel
	if ch == nil {
		return nil
	}
	e.channel = nil
	m.stopHeartbeatLocked(e)
	m.metrics.RecordChannelClosed()
	return ch
}

// Remove disconnects key and drops its registry entry, including listeners.
func (m *Manager) Remove(key Key) {
	m.mu.Lock()
	e := m.entries[key]
	delete(m.entries, key)
	m.mu.Unlock()
	if e == nil {
		return
	}
	m.disconnect(e, "session removed")

	e.mu.Lock()
	e.removed = true
	e.messageListeners.clear()
	e.statusListeners.clear()
	e.fileListeners.clear()
	e.mu.Unlock()
}

// Close removes every key. The Manager cannot be used afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	keys := make([]Key, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	m.mu.Unlock()

	for _, k := range keys {
		m.Remove(k)
	}
	m.log.Info("session manager closed", zap.Int("sessions", len(keys)))
	return nil
}

// Send writes frame on key's channel. When the channel is not open, or the
// write fails, the frame is queued with priority and an error satisfying
// errors.IsQueued is returned; it will be flushed on the next connect.
func (m *Manager) Send(key Key, frame protocol.Frame, priority int) error {
	e, err := m.entryFor(key, true)
	if err != nil {
		return err
	}
	return m.send(e, frame, priority)
}

func (m *Manager) send(e *entry, frame protocol.Frame, priority int) error {
	e.mu.Lock()
	err := m.sendLocked(e, frame, priority)
	e.mu.Unlock()
	m.deliver(e)
	return err
}

func (m *Manager) sendLocked(e *entry, frame protocol.Frame, priority int) error {
	if e.removed {
		return ErrManagerClosed
	}

	if e.channel != nil && e.status.Status == StatusConnected {
		err := m.writeLocked(e, e.channel, frame)
		if err == nil {
			return nil
		}
		if apperrors.IsCode(err, apperrors.CodeProtocolEncodeFailed) {
			return err
		}
		m.metrics.RecordSendFailure()
		m.enqueueLocked(e, frame, priority)
		return apperrors.SendFailed(string(e.key), err)
	}

	m.enqueueLocked(e, frame, priority)
	return apperrors.NotConnected(string(e.key))
}

// writeLocked encodes and writes one frame.
func (m *Manager) writeLocked(e *entry, ch transport.Channel, frame protocol.Frame) error {
	data, err := protocol.Encode(frame)
	if err != nil {
		return err
	}
	if err := ch.Send(data); err != nil {
		return err
	}
	m.metrics.RecordFrameSent(string(frame.Kind()))
	return nil
}

func (m *Manager) enqueueLocked(e *entry, frame protocol.Frame, priority int) {
	evicted := e.queue.push(QueuedMessage{
		Frame:      frame,
		Priority:   priority,
		EnqueuedAt: time.Now(),
	})
	m.metrics.AddQueueDepth(1)
	if evicted != nil {
		m.metrics.AddQueueDepth(-1)
		m.metrics.RecordQueueDrop(metrics.DropCapacity, 1)
		m.dropLocked(e, *evicted, apperrors.QueueFull(string(e.key), m.opts.QueueCapacity))
	}
}

// dropLocked reports a frame the queue gave up on. A dropped file request
// fails its operation so it cannot stay pending; every drop is offered to
// the DropListeners among the message listeners.
func (m *Manager) dropLocked(e *entry, msg QueuedMessage, err error) {
	e.log.Warn("dropping queued message",
		zap.String("kind", string(msg.Frame.Kind())),
		zap.Int("priority", msg.Priority),
		zap.Int("retries", msg.RetryCount),
		zap.Error(err))

	if req, ok := msg.Frame.(protocol.Correlated); ok && msg.Frame.Kind().IsFileRequest() {
		reason := "dropped from outbound queue: " + apperrors.GetMessage(err)
		if op, ok := e.files.fail(req.CorrelationID(), reason); ok {
			m.metrics.RecordFileOperation(string(op.Type), string(op.Status))
			e.postLocked(event{fileOp: &op})
		}
	}
	e.postLocked(event{dropped: &droppedMessage{msg: msg, err: err}})
}

// sendAuthLocked writes the auth frame, which the gateway expects before
// any other application frame.
func (m *Manager) sendAuthLocked(e *entry, ch transport.Channel) {
	auth := &protocol.Auth{
		DeviceID:  e.deviceID,
		SessionID: e.sessionID,
		Timestamp: time.Now().UnixMilli(),
	}
	if m.opts.Signer != nil {
		sig, err := m.opts.Signer.Sign(auth.DeviceID, auth.SessionID, auth.Timestamp)
		if err != nil {
			e.log.Error("signing auth frame", zap.Error(err))
		}
		auth.Signature = sig
	}
	if err := m.writeLocked(e, ch, auth); err != nil {
		// The read loop will observe the broken socket and reconnect.
		e.log.Warn("auth frame not sent", zap.Error(err))
	}
}

// Status returns the connection status of key. Unknown keys report
// StatusDisconnected.
func (m *Manager) Status(key Key) ConnectionStatus {
	e, _ := m.entryFor(key, false)
	if e == nil {
		return ConnectionStatus{Status: StatusDisconnected}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Keys returns every registered key.
func (m *Manager) Keys() []Key {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]Key, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	return keys
}

// QueueLen returns the number of frames waiting for key's channel.
func (m *Manager) QueueLen(key Key) int {
	e, _ := m.entryFor(key, false)
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.len()
}

// QueuedMessages returns the queued frames of key in delivery order.
func (m *Manager) QueuedMessages(key Key) []QueuedMessage {
	e, _ := m.entryFor(key, false)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.snapshot()
}

// RequestFileList asks the device for the listing of path.
func (m *Manager) RequestFileList(key Key, path string) (string, error) {
	return m.requestFile(key, OpList, path, 0, func(id string) protocol.Frame {
		return &protocol.FileList{ID: id, Path: path}
	})
}

// RequestFileDownload asks the device for the content of path.
func (m *Manager) RequestFileDownload(key Key, path string) (string, error) {
	return m.requestFile(key, OpDownload, path, 0, func(id string) protocol.Frame {
		return &protocol.FileGet{ID: id, Path: path}
	})
}

// RequestFileUpload writes content to path on the device.
func (m *Manager) RequestFileUpload(key Key, path, content string) (string, error) {
	return m.requestFile(key, OpUpload, path, int64(len(content)), func(id string) protocol.Frame {
		return &protocol.FilePut{ID: id, Path: path, Content: content}
	})
}

// RequestFileDelete removes path on the device.
func (m *Manager) RequestFileDelete(key Key, path string) (string, error) {
	return m.requestFile(key, OpDelete, path, 0, func(id string) protocol.Frame {
		return &protocol.FileDelete{ID: id, Path: path}
	})
}

// requestFile records a pending operation and sends its request at file
// priority. The id is returned immediately; the result arrives through
// FileOperationListeners. A request that had to be queued is not an error.
func (m *Manager) requestFile(key Key, typ OperationType, path string, size int64, build func(id string) protocol.Frame) (string, error) {
	e, err := m.entryFor(key, true)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	op := e.files.start(id, typ, path, size)
	m.notifyFileOp(e, op)

	err = m.send(e, build(id), m.opts.FilePriority)
	if err == nil || apperrors.IsQueued(err) {
		if err != nil {
			e.log.Debug("file request queued", zap.String("op", id), zap.String("type", string(typ)))
		}
		return id, nil
	}

	if failed, ok := e.files.fail(id, apperrors.GetMessage(err)); ok {
		m.metrics.RecordFileOperation(string(typ), string(OpError))
		m.notifyFileOp(e, failed)
	}
	return id, err
}

// FileOperations returns every tracked operation of key in start order.
func (m *Manager) FileOperations(key Key) []FileOperation {
	e, _ := m.entryFor(key, false)
	if e == nil {
		return nil
	}
	return e.files.list(false)
}

// ActiveFileOperations returns the operations of key still awaiting a result.
func (m *Manager) ActiveFileOperations(key Key) []FileOperation {
	e, _ := m.entryFor(key, false)
	if e == nil {
		return nil
	}
	return e.files.list(true)
}

// FileOperation returns one operation by id.
func (m *Manager) FileOperation(key Key, id string) (FileOperation, error) {
	e, _ := m.entryFor(key, false)
	if e == nil {
		return FileOperation{}, apperrors.FileOpNotFound(id)
	}
	op, ok := e.files.get(id)
	if !ok {
		return FileOperation{}, apperrors.FileOpNotFound(id)
	}
	return op, nil
}

// AddMessageListener registers l for key. Returns false if already registered.
func (m *Manager) AddMessageListener(key Key, l MessageListener) bool {
	e, err := m.entryFor(key, true)
	if err != nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.messageListeners.add(l)
}

// RemoveMessageListener unregisters l. Safe during delivery.
func (m *Manager) RemoveMessageListener(key Key, l MessageListener) bool {
	e, _ := m.entryFor(key, false)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.messageListeners.remove(l)
}

// AddStatusListener registers l for key. Returns false if already registered.
func (m *Manager) AddStatusListener(key Key, l StatusListener) bool {
	e, err := m.entryFor(key, true)
	if err != nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusListeners.add(l)
}

// RemoveStatusListener unregisters l. Safe during delivery.
func (m *Manager) RemoveStatusListener(key Key, l StatusListener) bool {
	e, _ := m.entryFor(key, false)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusListeners.remove(l)
}

// AddFileOperationListener registers l for key. Returns false if already registered.
func (m *Manager) AddFileOperationListener(key Key, l FileOperationListener) bool {
	e, err := m.entryFor(key, true)
	if err != nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fileListeners.add(l)
}

// RemoveFileOperationListener unregisters l. Safe during delivery.
func (m *Manager) RemoveFileOperationListener(key Key, l FileOperationListener) bool {
	e, _ := m.entryFor(key, false)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fileListeners.remove(l)
}

// notifyFileOp posts a file operation change and delivers it.
func (m *Manager) notifyFileOp(e *entry, op FileOperation) {
	e.mu.Lock()
	e.postLocked(event{fileOp: &op})
	e.mu.Unlock()
	m.deliver(e)
}

// notifyMessage posts a routed frame and delivers it.
func (m *Manager) notifyMessage(e *entry, f protocol.Frame) {
	e.mu.Lock()
	e.postLocked(event{message: f})
	e.mu.Unlock()
	m.deliver(e)
}

// deliver drains the pending events of e in post order. If another
// goroutine is already draining, deliver returns at once and that
// goroutine delivers the new events too, so listeners of one key never
// see notifications out of order or concurrently. A listener calling back
// into the Manager only posts; its events follow once it returns.
// Must be called without e.mu.
func (m *Manager) deliver(e *entry) {
	e.mu.Lock()
	if e.delivering {
		e.mu.Unlock()
		return
	}
	e.delivering = true
	for len(e.events) > 0 {
		ev := e.events[0]
		e.events[0] = event{}
		e.events = e.events[1:]
		e.mu.Unlock()

		m.dispatch(e, ev)

		e.mu.Lock()
	}
	e.events = nil
	e.delivering = false
	e.mu.Unlock()
}

func (m *Manager) dispatch(e *entry, ev event) {
	switch {
	case ev.status != nil:
		st := *ev.status
		each(e, &e.statusListeners, func(l StatusListener) {
			m.safeCall(e, "status", func() { l.OnStatus(e.key, st) })
		})
	case ev.fileOp != nil:
		op := *ev.fileOp
		each(e, &e.fileListeners, func(l FileOperationListener) {
			m.safeCall(e, "file operation", func() { l.OnFileOperation(e.key, op) })
		})
	case ev.message != nil:
		each(e, &e.messageListeners, func(l MessageListener) {
			m.safeCall(e, "message", func() { l.OnMessage(e.key, ev.message) })
		})
	case ev.dropped != nil:
		d := *ev.dropped
		each(e, &e.messageListeners, func(l MessageListener) {
			if dl, ok := l.(DropListener); ok {
				m.safeCall(e, "drop", func() { dl.OnDropped(e.key, d.msg, d.err) })
			}
		})
	}
}

// each calls fn for every member of set, re-checking membership before
// each call so a listener removed by an earlier one is skipped.
func each[T comparable](e *entry, set *listenerSet[T], fn func(T)) {
	e.mu.Lock()
	listeners := set.snapshot()
	e.mu.Unlock()

	for _, l := range listeners {
		e.mu.Lock()
		member := set.contains(l)
		e.mu.Unlock()
		if member {
			fn(l)
		}
	}
}

// safeCall runs a listener callback, recovering and logging panics so one
// faulty listener cannot break delivery to the others.
func (m *Manager) safeCall(e *entry, what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.metrics.RecordListenerPanic()
			e.log.Error("listener panicked",
				zap.String("listener", what),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()
	fn()
}
