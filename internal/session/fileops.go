package session

import (
	"sync"
	"time"

	"github.com/pseudocoder/console/internal/protocol"
)

// DefaultOperationRetention is how long a finished file operation stays
// queryable before it is evicted.
const DefaultOperationRetention = 30 * time.Second

// OperationType is the kind of file operation.
type OperationType string

const (
	OpList     OperationType = "list"
	OpDownload OperationType = "download"
	OpUpload   OperationType = "upload"
	OpDelete   OperationType = "delete"
)

// OperationStatus is the lifecycle state of a file operation.
type OperationStatus string

const (
	OpPending  OperationStatus = "pending"
	OpProgress OperationStatus = "progress"
	OpSuccess  OperationStatus = "success"
	OpError    OperationStatus = "error"
)

// Terminal reports whether s is success or error.
func (s OperationStatus) Terminal() bool {
	return s == OpSuccess || s == OpError
}

// FileOperation is one outstanding or recently finished file request.
type FileOperation struct {
	ID              string
	Type            OperationType
	Path            string
	Status          OperationStatus
	Progress        int
	TotalSize       int64
	TransferredSize int64
	Error           string
	StartTime       time.Time
	EndTime         time.Time

	// Files holds the listing of a successful list operation.
	Files []protocol.FileEntry

	// Content holds the data of a successful download.
	Content string
}

// fileTracker is the per-key table of file operations. It has its own lock
// because eviction timers fire on their own goroutines.
type fileTracker struct {
	mu        sync.Mutex
	ops       map[string]*FileOperation
	order     []string
	timers    map[string]*time.Timer
	retention time.Duration
}

func newFileTracker(retention time.Duration) *fileTracker {
	if retention <= 0 {
		retention = DefaultOperationRetention
	}
	return &fileTracker{
		ops:       make(map[string]*FileOperation),
		timers:    make(map[string]*time.Timer),
		retention: retention,
	}
}

// start records a new pending operation.
func (t *fileTracker) start(id string, typ OperationType, path string, totalSize int64) FileOperation {
	t.mu.Lock()
	defer t.mu.Unlock()

	op := &FileOperation{
		ID:        id,
		Type:      typ,
		Path:      path,
		Status:    OpPending,
		TotalSize: totalSize,
		StartTime: time.Now(),
	}
	t.ops[id] = op
	t.order = append(t.order, id)
	return *op
}

// apply updates the operation matching a file result frame. It reports
// false when no pending operation has the frame's id.
func (t *fileTracker) apply(f protocol.Frame) (FileOperation, bool) {
	c, ok := f.(protocol.Correlated)
	if !ok {
		return FileOperation{}, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	op, ok := t.ops[c.CorrelationID()]
	if !ok || op.Status.Terminal() {
		return FileOperation{}, false
	}

	switch r := f.(type) {
	case *protocol.FileListResult:
		if r.Files != nil {
			op.Status = OpSuccess
			op.Files = r.Files
		} else {
			op.Status = OpError
			op.Error = failureReason(r.Error, "no file list returned")
		}
	case *protocol.FileGetResult:
		if r.Content != nil {
			op.Status = OpSuccess
			op.Content = *r.Content
			op.TransferredSize = int64(len(*r.Content))
			op.TotalSize = op.TransferredSize
		} else {
			op.Status = OpError
			op.Error = failureReason(r.Error, "no content returned")
		}
	case *protocol.FilePutResult:
		if r.Success {
			op.Status = OpSuccess
			op.Progress = 100
			op.TransferredSize = op.TotalSize
		} else {
			op.Status = OpError
			op.Error = failureReason(r.Error, "upload rejected")
		}
	case *protocol.FileDeleteResult:
		if r.Success {
			op.Status = OpSuccess
		} else {
			op.Status = OpError
			op.Error = failureReason(r.Error, "delete rejected")
		}
	default:
		return FileOperation{}, false
	}

	t.finishLocked(op)
	return *op, true
}

// fail marks an operation as failed locally (e.g. the request could not
// be encoded).
func (t *fileTracker) fail(id, reason string) (FileOperation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	op, ok := t.ops[id]
	if !ok || op.Status.Terminal() {
		return FileOperation{}, false
	}
	op.Status = OpError
	op.Error = reason
	t.finishLocked(op)
	return *op, true
}

// finishLocked stamps the end time and schedules eviction.
func (t *fileTracker) finishLocked(op *FileOperation) {
	op.EndTime = time.Now()
	id := op.ID
	t.timers[id] = time.AfterFunc(t.retention, func() { t.evict(id) })
}

func (t *fileTracker) evict(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.timers, id)
	if _, ok := t.ops[id]; !ok {
		return
	}
	delete(t.ops, id)
	for i, v := range t.order {
		if v == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

func (t *fileTracker) get(id string) (FileOperation, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	op, ok := t.ops[id]
	if !ok {
		return FileOperation{}, false
	}
	return *op, true
}

// list returns all operations in start order. With activeOnly, terminal
// operations are skipped.
func (t *fileTracker) list(activeOnly bool) []FileOperation {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]FileOperation, 0, len(t.order))
	for _, id := range t.order {
		op := t.ops[id]
		if activeOnly && op.Status.Terminal() {
			continue
		}
		out = append(out, *op)
	}
	return out
}

// reset stops every eviction timer and forgets all operations.
func (t *fileTracker) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, timer := range t.timers {
		timer.Stop()
	}
	t.timers = make(map[string]*time.Timer)
	t.ops = make(map[string]*FileOperation)
	t.order = nil
}

func failureReason(remote, fallback string) string {
	if remote != "" {
		return remote
	}
	return fallback
}
