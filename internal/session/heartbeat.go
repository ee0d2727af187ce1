package session

import (
	"time"

	"go.uber.org/zap"

	"github.com/pseudocoder/console/internal/protocol"
)

// startHeartbeatLocked starts the heartbeat loop for the current channel
// of e. Heartbeats go through the normal send path, so a failed heartbeat
// is queued and logged like any other frame. Liveness itself is judged by
// the transport's close events, not by heartbeat replies.
func (m *Manager) startHeartbeatLocked(e *entry) {
	m.stopHeartbeatLocked(e)
	if m.opts.HeartbeatInterval <= 0 {
		return
	}

	stop := make(chan struct{})
	e.heartbeatStop = stop
	go m.heartbeatLoop(e, stop, m.opts.HeartbeatInterval)
}

func (m *Manager) stopHeartbeatLocked(e *entry) {
	if e.heartbeatStop != nil {
		close(e.heartbeatStop)
		e.heartbeatStop = nil
	}
}

func (m *Manager) heartbeatLoop(e *entry, stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			hb := &protocol.Heartbeat{Timestamp: time.Now().UnixMilli()}
			if err := m.sendHeartbeat(e, stop, hb); err != nil {
				e.log.Debug("heartbeat not sent", zap.Error(err))
			}
		}
	}
}

// sendHeartbeat sends hb unless the loop was stopped while waiting for the
// entry lock. A stopped loop must not queue heartbeats for a dead channel.
func (m *Manager) sendHeartbeat(e *entry, stop <-chan struct{}, hb *protocol.Heartbeat) error {
	e.mu.Lock()
	select {
	case <-stop:
		e.mu.Unlock()
		return nil
	default:
	}
	err := m.sendLocked(e, hb, 0)
	e.mu.Unlock()
	m.deliver(e)
	return err
}
