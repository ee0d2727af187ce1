package session

import (
	"time"

	"go.uber.org/zap"

	"github.com/pseudocoder/console/internal/protocol"
	"github.com/pseudocoder/console/internal/transport"
)

// channelHandler routes the events of one channel into its entry. It is
// bound to a specific channel so events from a replaced channel can be
// recognised and ignored.
type channelHandler struct {
	m  *Manager
	e  *entry
	ch transport.Channel
}

// currentLocked reports whether h's channel is still the entry's channel.
// Caller holds e.mu.
func (h *channelHandler) currentLocked() bool {
	return h.e.channel == h.ch && !h.e.removed
}

// HandleFrame decodes and routes one inbound frame.
func (h *channelHandler) HandleFrame(data []byte) {
	m, e := h.m, h.e

	frame, err := protocol.Decode(data)
	if err != nil {
		// Protocol errors never affect connection status.
		m.metrics.RecordInvalidFrame()
		e.log.Warn("dropping malformed frame", zap.Error(err), zap.Int("bytes", len(data)))
		return
	}

	_, unknown := frame.(*protocol.Unknown)
	m.metrics.RecordFrameReceived(string(frame.Kind()), !unknown)

	e.mu.Lock()
	if !h.currentLocked() {
		e.mu.Unlock()
		return
	}
	if frame.Kind() == protocol.KindHeartbeat {
		e.status.LastConnectedAt = time.Now()
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	if frame.Kind().IsFileResult() {
		if op, ok := e.files.apply(frame); ok {
			m.metrics.RecordFileOperation(string(op.Type), string(op.Status))
			e.log.Debug("file operation finished",
				zap.String("op", op.ID),
				zap.String("type", string(op.Type)),
				zap.String("status", string(op.Status)))
			m.notifyFileOp(e, op)
		}
	}

	m.notifyMessage(e, frame)
}

// HandleClose reacts to the end of the channel. A normal close leaves the
// key disconnected; anything else is a transport error and goes through
// the reconnection decision.
func (h *channelHandler) HandleClose(code int, err error) {
	m, e := h.m, h.e

	e.mu.Lock()
	if !h.currentLocked() {
		// Closed by Disconnect or replaced by a newer channel.
		e.mu.Unlock()
		return
	}
	m.detachChannelLocked(e)

	if code == transport.CloseNormal {
		e.status.Status = StatusDisconnected
		e.status.Error = ""
		e.status.ReconnectAttempts = 0
		e.postStatusLocked()
		e.mu.Unlock()

		e.log.Info("channel closed by remote", zap.Int("code", code))
		m.deliver(e)
		return
	}

	e.status.Status = StatusError
	if err != nil {
		e.status.Error = err.Error()
	} else {
		e.status.Error = "connection closed unexpectedly"
	}
	m.scheduleReconnectLocked(e)
	e.postStatusLocked()
	e.mu.Unlock()

	e.log.Warn("channel lost", zap.Int("code", code), zap.Error(err))
	m.deliver(e)
}
