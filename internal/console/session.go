// Package console is the per-session facade the UI talks to. It correlates
// commands with their results, keeps the UI message log and exposes the
// connection state of one device session as read-only snapshots.
//
// A Session is created when a view mounts and must be closed when it
// unmounts; Close disconnects the channel, unregisters every listener and
// rejects any command still waiting for a result.
package console

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	apperrors "github.com/pseudocoder/console/internal/errors"
	"github.com/pseudocoder/console/internal/protocol"
	"github.com/pseudocoder/console/internal/session"
)

// Defaults for Options.
const (
	DefaultCommandRate  = 10
	DefaultCommandBurst = 5

	// completedRetention bounds how many resolved commands are kept for a
	// late AwaitCommand.
	completedRetention = 64

	// maxCommandBacklog bounds the commands held back by the limiter.
	// Beyond it a command is still echoed but rejected as rate limited.
	maxCommandBacklog = 64
)

// Options configures a Session.
type Options struct {
	// Logger receives structured logs. nil discards them.
	Logger *zap.Logger

	// CommandRate is the sustained commands per second on the wire.
	// Commands over the rate are delayed, never refused at issue time.
	// Negative disables rate limiting; zero selects DefaultCommandRate.
	CommandRate float64

	// CommandBurst is the limiter bucket size.
	CommandBurst int
}

// PendingCommand is a command waiting for its cmd_result.
type PendingCommand struct {
	CommandID string
	Command   string
	Args      []string
	IssuedAt  time.Time
}

// commandRecord tracks one issued command until it is awaited or evicted.
type commandRecord struct {
	PendingCommand
	done   chan struct{}
	result *protocol.CommandResult
	err    error
}

type fileWaiter chan struct{}

// throttledCommand is a command whose wire send waits for the limiter.
type throttledCommand struct {
	rec   *commandRecord
	frame *protocol.Command
	at    time.Time
}

// Session is the facade over one device session key.
type Session struct {
	mgr     *session.Manager
	key     session.Key
	device  string
	sess    string
	log     *zap.Logger
	limiter *rate.Limiter
	l       *listener

	mu        sync.Mutex
	messages  []LogEntry
	seq       int
	nextCmd   int
	commands  map[string]*commandRecord
	order     []string
	completed []string
	waiters   map[string][]fileWaiter
	changes   chan struct{}
	closed    bool

	// backlog holds limiter-delayed commands in issue order; pumping is
	// set while a goroutine is sending them.
	backlog []throttledCommand
	pumping bool
	quit    chan struct{}
}

// New mounts a facade for deviceID/sessionID on mgr and registers its
// listeners. It does not connect.
func New(mgr *session.Manager, deviceID, sessionID string, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	limit := rate.Limit(opts.CommandRate)
	switch {
	case opts.CommandRate < 0:
		limit = rate.Inf
	case opts.CommandRate == 0:
		limit = DefaultCommandRate
	}
	burst := opts.CommandBurst
	if burst <= 0 {
		burst = DefaultCommandBurst
	}

	key := session.NewKey(deviceID, sessionID)
	s := &Session{
		mgr:      mgr,
		key:      key,
		device:   deviceID,
		sess:     sessionID,
		log:      logger.Named("console").With(zap.String("key", string(key))),
		limiter:  rate.NewLimiter(limit, burst),
		commands: make(map[string]*commandRecord),
		waiters:  make(map[string][]fileWaiter),
		changes:  make(chan struct{}, 1),
		quit:     make(chan struct{}),
	}
	s.l = &listener{s: s}
	mgr.AddMessageListener(key, s.l)
	mgr.AddStatusListener(key, s.l)
	mgr.AddFileOperationListener(key, s.l)
	return s
}

// Key returns the session key.
func (s *Session) Key() session.Key { return s.key }

// Connect opens the channel. It blocks until the channel is open or the
// first attempt failed; later retries happen in the background.
func (s *Session) Connect(ctx context.Context) error {
	if s.isClosed() {
		return apperrors.Closed("console session " + string(s.key))
	}
	_, err := s.mgr.Connect(ctx, s.device, s.sess)
	return err
}

// Disconnect closes the channel and rejects pending commands. The facade
// stays mounted and may Connect again.
func (s *Session) Disconnect() {
	s.mgr.Disconnect(s.key)
	s.rejectAll("session disconnected")
}

// Close is the unmount path: disconnect, unregister and reject everything.
// The Changes channel is closed. Close is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.backlog = nil
	close(s.quit)
	s.mu.Unlock()

	s.mgr.Disconnect(s.key)
	s.mgr.RemoveMessageListener(s.key, s.l)
	s.mgr.RemoveStatusListener(s.key, s.l)
	s.mgr.RemoveFileOperationListener(s.key, s.l)
	s.rejectAll("session closed")

	s.mu.Lock()
	close(s.changes)
	s.mu.Unlock()
	return nil
}

// Send forwards an arbitrary frame at priority 0. It reports whether the
// frame was written immediately; false means it was queued or refused.
func (s *Session) Send(frame protocol.Frame) bool {
	if err := s.mgr.Send(s.key, frame, 0); err != nil {
		s.log.Debug("frame not sent immediately", zap.String("kind", string(frame.Kind())), zap.Error(err))
		return false
	}
	return true
}

// SendCommand issues command on the device. The command is echoed to the
// message log at once and its id is returned; the output arrives later as
// an output or error entry. A command that had to be queued, or that the
// rate limiter holds back, still returns its id with a nil error.
func (s *Session) SendCommand(command string, args []string) (string, error) {
	if s.isClosed() {
		return "", apperrors.Closed("console session " + string(s.key))
	}
	s.mu.Lock()
	r := s.limiter.Reserve()
	s.nextCmd++
	id := fmt.Sprintf("cmd-%d", s.nextCmd)
	rec := &commandRecord{
		PendingCommand: PendingCommand{
			CommandID: id,
			Command:   command,
			Args:      append([]string(nil), args...),
			IssuedAt:  time.Now(),
		},
		done: make(chan struct{}),
	}
	s.commands[id] = rec
	s.order = append(s.order, id)
	s.appendLocked(EntryCommand, commandLine(command, args), id)
	frame := &protocol.Command{ID: id, Command: command, Args: rec.Args}

	delay := r.Delay()
	if delay > 0 || s.pumping {
		if len(s.backlog) >= maxCommandBacklog {
			r.Cancel()
			err := apperrors.CommandRateLimited()
			s.finishLocked(rec, nil, apperrors.CommandRejected(id, apperrors.GetMessage(err)))
			s.appendLocked(EntryError, apperrors.GetMessage(err), id)
			s.mu.Unlock()
			s.signal()
			return id, err
		}
		s.backlog = append(s.backlog, throttledCommand{rec: rec, frame: frame, at: time.Now().Add(delay)})
		if !s.pumping {
			s.pumping = true
			go s.pump()
		}
		s.mu.Unlock()
		s.signal()
		s.log.Debug("command delayed by rate limit", zap.String("id", id), zap.Duration("delay", delay))
		return id, nil
	}
	s.mu.Unlock()
	s.signal()

	return id, s.dispatch(rec, frame)
}

// dispatch hands a command frame to the manager. A hard send failure
// rejects the command and is logged as an error entry.
func (s *Session) dispatch(rec *commandRecord, frame *protocol.Command) error {
	err := s.mgr.Send(s.key, frame, 0)
	if err == nil || apperrors.IsQueued(err) {
		if err != nil {
			s.log.Debug("command queued", zap.String("id", frame.ID), zap.Error(err))
		}
		return nil
	}

	s.mu.Lock()
	s.finishLocked(rec, nil, apperrors.CommandRejected(frame.ID, apperrors.GetMessage(err)))
	s.appendLocked(EntryError, apperrors.GetMessage(err), frame.ID)
	s.mu.Unlock()
	s.signal()
	return err
}

// pump sends the backlog in order, each command once its reservation is
// due. A command stays in the backlog until it is sent; commands rejected
// meanwhile (Disconnect) are skipped without waiting.
func (s *Session) pump() {
	for {
		s.mu.Lock()
		if s.closed || len(s.backlog) == 0 {
			s.pumping = false
			s.mu.Unlock()
			return
		}
		next := s.backlog[0]
		s.mu.Unlock()

		if wait := time.Until(next.at); wait > 0 && !next.rec.finished() {
			t := time.NewTimer(wait)
			select {
			case <-t.C:
			case <-s.quit:
				t.Stop()
			}
		}

		s.mu.Lock()
		if s.closed {
			s.pumping = false
			s.mu.Unlock()
			return
		}
		s.backlog = s.backlog[1:]
		s.mu.Unlock()

		if next.rec.finished() {
			continue
		}
		if err := s.dispatch(next.rec, next.frame); err != nil {
			s.log.Warn("delayed command not sent", zap.String("id", next.frame.ID), zap.Error(err))
		}
	}
}

// AwaitCommand blocks until the result of id arrives, the command is
// rejected by teardown, or ctx ends.
func (s *Session) AwaitCommand(ctx context.Context, id string) (*protocol.CommandResult, error) {
	s.mu.Lock()
	rec, ok := s.commands[id]
	s.mu.Unlock()
	if !ok {
		return nil, apperrors.CommandNotFound(id)
	}

	select {
	case <-rec.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return rec.result, rec.err
}

// PendingCommands returns the commands still waiting for a result, in
// issue order.
func (s *Session) PendingCommands() []PendingCommand {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []PendingCommand
	for _, id := range s.order {
		if rec := s.commands[id]; rec != nil && !rec.finished() {
			out = append(out, rec.PendingCommand)
		}
	}
	return out
}

// RequestFileList lists path on the device.
func (s *Session) RequestFileList(path string) (string, error) {
	return s.mgr.RequestFileList(s.key, path)
}

// RequestFileDownload fetches the content of path.
func (s *Session) RequestFileDownload(path string) (string, error) {
	return s.mgr.RequestFileDownload(s.key, path)
}

// RequestFileUpload writes content to path.
func (s *Session) RequestFileUpload(path, content string) (string, error) {
	return s.mgr.RequestFileUpload(s.key, path, content)
}

// RequestFileDelete removes path.
func (s *Session) RequestFileDelete(path string) (string, error) {
	return s.mgr.RequestFileDelete(s.key, path)
}

// AwaitFileOperation blocks until operation id is terminal. A failed
// operation is returned together with a fileop.failed error.
func (s *Session) AwaitFileOperation(ctx context.Context, id string) (session.FileOperation, error) {
	w := make(fileWaiter)
	s.mu.Lock()
	s.waiters[id] = append(s.waiters[id], w)
	s.mu.Unlock()
	defer func() { s.dropWaiter(id, w) }()

	for {
		op, err := s.mgr.FileOperation(s.key, id)
		if err != nil {
			return session.FileOperation{}, err
		}
		if op.Status.Terminal() {
			if op.Status == session.OpError {
				return op, apperrors.FileOpFailed(id, op.Error)
			}
			return op, nil
		}

		select {
		case <-w:
			// Re-read the record; it may also have been discarded.
			w = make(fileWaiter)
			s.mu.Lock()
			s.waiters[id] = append(s.waiters[id], w)
			s.mu.Unlock()
		case <-ctx.Done():
			return op, ctx.Err()
		}
	}
}

func (s *Session) dropWaiter(id string, w fileWaiter) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.waiters[id]
	for i, v := range list {
		if v == w {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(s.waiters, id)
	} else {
		s.waiters[id] = list
	}
}

// wakeWaitersLocked signals everyone waiting on id, or on every id if id
// is empty.
func (s *Session) wakeWaitersLocked(id string) {
	for opID, list := range s.waiters {
		if id != "" && opID != id {
			continue
		}
		for _, w := range list {
			close(w)
		}
		delete(s.waiters, opID)
	}
}

// FileOperations returns every tracked file operation.
func (s *Session) FileOperations() []session.FileOperation {
	return s.mgr.FileOperations(s.key)
}

// ActiveFileOperations returns the operations awaiting a result.
func (s *Session) ActiveFileOperations() []session.FileOperation {
	return s.mgr.ActiveFileOperations(s.key)
}

// Messages returns a copy of the message log.
func (s *Session) Messages() []LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]LogEntry(nil), s.messages...)
}

// ClearMessages empties the message log. Pending commands are unaffected.
func (s *Session) ClearMessages() {
	s.mu.Lock()
	s.messages = nil
	s.mu.Unlock()
	s.signal()
}

// Status returns the current connection status.
func (s *Session) Status() session.ConnectionStatus { return s.mgr.Status(s.key) }

// IsConnected reports whether the channel is open.
func (s *Session) IsConnected() bool { return s.Status().Status == session.StatusConnected }

// IsConnecting reports whether a dial is in progress.
func (s *Session) IsConnecting() bool { return s.Status().Status == session.StatusConnecting }

// HasError reports whether the last attempt failed.
func (s *Session) HasError() bool { return s.Status().Status == session.StatusError }

// Changes returns a channel that receives a value whenever the log,
// pending commands or connection state changed. Signals are coalesced:
// readers should re-read the snapshots they care about. The channel is
// closed by Close.
func (s *Session) Changes() <-chan struct{} { return s.changes }

func (s *Session) signal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) appendLocked(kind EntryKind, text, commandID string) {
	s.seq++
	s.messages = append(s.messages, LogEntry{
		Seq:       s.seq,
		Kind:      kind,
		Text:      text,
		CommandID: commandID,
		Time:      time.Now(),
	})
}

// finishLocked resolves rec and moves it to the completed window.
func (s *Session) finishLocked(rec *commandRecord, result *protocol.CommandResult, err error) {
	if rec.finished() {
		return
	}
	rec.result = result
	rec.err = err
	close(rec.done)

	s.completed = append(s.completed, rec.CommandID)
	for len(s.completed) > completedRetention {
		old := s.completed[0]
		s.completed = s.completed[1:]
		delete(s.commands, old)
		s.removeOrderLocked(old)
	}
}

func (s *Session) removeOrderLocked(id string) {
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

// rejectAll rejects every pending command and wakes file waiters.
func (s *Session) rejectAll(reason string) {
	s.mu.Lock()
	rejected := 0
	for _, id := range s.order {
		rec := s.commands[id]
		if rec == nil || rec.finished() {
			continue
		}
		s.finishLocked(rec, nil, apperrors.CommandRejected(id, reason))
		rejected++
	}
	s.wakeWaitersLocked("")
	s.mu.Unlock()

	if rejected > 0 {
		s.log.Info("rejected pending commands", zap.Int("count", rejected), zap.String("reason", reason))
		s.signal()
	}
}

func (r *commandRecord) finished() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// listener adapts the Session to the manager's listener interfaces.
type listener struct {
	s *Session
}

func (l *listener) OnMessage(_ session.Key, f protocol.Frame) {
	s := l.s

	s.mu.Lock()
	switch m := f.(type) {
	case *protocol.CommandResult:
		rec := s.commands[m.ID]
		if rec == nil || rec.finished() {
			s.mu.Unlock()
			s.log.Debug("result for unknown command", zap.String("id", m.ID))
			return
		}
		kind, text := resultEntry(m)
		s.appendLocked(kind, text, m.ID)
		s.finishLocked(rec, m, nil)
	case *protocol.Error:
		text := m.Message
		if m.Error != "" && m.Message != "" {
			text = m.Error + ": " + m.Message
		} else if m.Error != "" {
			text = m.Error
		}
		s.appendLocked(EntryError, text, "")
	case *protocol.Heartbeat:
		// Routed heartbeats are consumed by the manager; never log one.
		s.mu.Unlock()
		return
	default:
		if f.Kind().IsFileResult() {
			// Reported through OnFileOperation.
			s.mu.Unlock()
			return
		}
		text := string(f.Kind())
		if data, err := protocol.Encode(f); err == nil {
			text = string(data)
		}
		s.appendLocked(EntryReceived, text, "")
	}
	s.mu.Unlock()
	s.signal()
}

// OnDropped resolves a command the outbound queue gave up on. Dropped file
// requests surface through OnFileOperation instead; heartbeats are never
// logged.
func (l *listener) OnDropped(_ session.Key, msg session.QueuedMessage, err error) {
	s := l.s
	if k := msg.Frame.Kind(); k.IsFileRequest() || k == protocol.KindHeartbeat {
		return
	}

	s.mu.Lock()
	text := fmt.Sprintf("%s not delivered: %s", msg.Frame.Kind(), apperrors.GetMessage(err))
	if cmd, ok := msg.Frame.(*protocol.Command); ok {
		rec := s.commands[cmd.ID]
		if rec == nil || rec.finished() {
			s.mu.Unlock()
			return
		}
		s.finishLocked(rec, nil, apperrors.CommandRejected(cmd.ID, apperrors.GetMessage(err)))
		s.appendLocked(EntryError, text, cmd.ID)
	} else {
		s.appendLocked(EntryError, text, "")
	}
	s.mu.Unlock()
	s.signal()
}

func (l *listener) OnStatus(_ session.Key, st session.ConnectionStatus) {
	s := l.s
	s.mu.Lock()
	s.appendLocked(EntrySystem, statusText(st), "")
	s.mu.Unlock()
	s.signal()
}

func (l *listener) OnFileOperation(_ session.Key, op session.FileOperation) {
	s := l.s
	s.mu.Lock()
	if op.Status.Terminal() {
		s.appendLocked(EntrySystem, fileOpText(op), "")
	}
	s.wakeWaitersLocked(op.ID)
	s.mu.Unlock()
	s.signal()
}
