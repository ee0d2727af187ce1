package storage

import (
	"time"

	"go.uber.org/zap"

	"github.com/pseudocoder/console/internal/session"
)

// ConnectionStore is the subset of SQLiteStore the recorder writes to.
type ConnectionStore interface {
	SaveConnection(c Connection) error
}

// Recorder is a session.StatusListener that persists every status change
// of the keys it is registered on. Write failures are logged, never
// propagated: the session must not stall on a full disk.
type Recorder struct {
	store ConnectionStore
	log   *zap.Logger
	now   func() time.Time
}

// NewRecorder returns a recorder writing to store.
func NewRecorder(store ConnectionStore, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: store, log: logger.Named("recorder"), now: time.Now}
}

// OnStatus implements session.StatusListener.
func (r *Recorder) OnStatus(key session.Key, st session.ConnectionStatus) {
	deviceID, sessionID := key.Split()
	err := r.store.SaveConnection(Connection{
		Key:               string(key),
		DeviceID:          deviceID,
		SessionID:         sessionID,
		Status:            string(st.Status),
		LastConnectedAt:   st.LastConnectedAt,
		ReconnectAttempts: st.ReconnectAttempts,
		LastError:         st.Error,
		UpdatedAt:         r.now(),
	})
	if err != nil {
		r.log.Warn("failed to record connection status",
			zap.String("key", string(key)),
			zap.String("status", string(st.Status)),
			zap.Error(err))
	}
}

var _ session.StatusListener = (*Recorder)(nil)
