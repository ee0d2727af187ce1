// Package protocol defines the JSON frames exchanged with the device gateway.
//
// Every frame is a flat JSON object with a "type" discriminator. Decode
// turns raw bytes into one of the concrete frame structs below; kinds the
// console does not know yet decode to *Unknown so newer gateways never
// break older consoles.
package protocol

// Kind identifies the kind of frame being sent over the WebSocket.
type Kind string

const (
	// KindAuth is the first frame a console sends after the socket opens.
	// Payload: Auth
	KindAuth Kind = "auth"

	// KindCommand asks the device to run a command.
	// Payload: Command
	KindCommand Kind = "cmd"

	// KindCommandResult carries the outcome of a Command with the same ID.
	// Payload: CommandResult
	KindCommandResult Kind = "cmd_result"

	// KindFileList requests a directory listing.
	// Payload: FileList
	KindFileList Kind = "file_list"

	// KindFileListResult answers a FileList.
	// Payload: FileListResult
	KindFileListResult Kind = "file_list_result"

	// KindFileGet requests the contents of a file.
	// Payload: FileGet
	KindFileGet Kind = "file_get"

	// KindFileGetResult answers a FileGet.
	// Payload: FileGetResult
	KindFileGetResult Kind = "file_get_result"

	// KindFilePut uploads file contents to the device.
	// Payload: FilePut
	KindFilePut Kind = "file_put"

	// KindFilePutResult answers a FilePut.
	// Payload: FilePutResult
	KindFilePutResult Kind = "file_put_result"

	// KindFileDelete removes a file on the device.
	// Payload: FileDelete
	KindFileDelete Kind = "file_delete"

	// KindFileDeleteResult answers a FileDelete.
	// Payload: FileDeleteResult
	KindFileDeleteResult Kind = "file_delete_result"

	// KindPresence announces that the device side is alive.
	// Payload: Presence
	KindPresence Kind = "presence"

	// KindError reports a gateway or device error.
	// Payload: Error
	KindError Kind = "error"

	// KindHeartbeat keeps the connection alive. The gateway echoes it.
	// Payload: Heartbeat
	KindHeartbeat Kind = "heartbeat"
)

// IsFileResult reports whether k is one of the file_*_result kinds.
func (k Kind) IsFileResult() bool {
	switch k {
	case KindFileListResult, KindFileGetResult, KindFilePutResult, KindFileDeleteResult:
		return true
	}
	return false
}

// IsFileRequest reports whether k is one of the file request kinds.
func (k Kind) IsFileRequest() bool {
	switch k {
	case KindFileList, KindFileGet, KindFilePut, KindFileDelete:
		return true
	}
	return false
}

// Frame is implemented by every concrete frame type.
type Frame interface {
	Kind() Kind
}

// Correlated is implemented by frames that carry a request/response id.
type Correlated interface {
	Frame
	CorrelationID() string
}

// Auth authenticates the console on a freshly opened channel.
type Auth struct {
	DeviceID  string `json:"deviceId"`
	SessionID string `json:"sessionId"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
}

// Command runs Command with Args on the device.
type Command struct {
	ID      string   `json:"id"`
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

// CommandResult is the device's answer to a Command.
// Duration is in milliseconds.
type CommandResult struct {
	ID       string `json:"id"`
	ExitCode int    `json:"exitCode"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	Duration int64  `json:"duration"`
}

// FileEntry is one item in a directory listing.
type FileEntry struct {
	Name    string `json:"name"`
	Path    string `json:"path,omitempty"`
	Size    int64  `json:"size"`
	IsDir   bool   `json:"isDir"`
	ModTime int64  `json:"modTime,omitempty"`
}

// FileList requests a listing of Path.
type FileList struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

// FileListResult answers a FileList. A nil Files means the listing failed.
type FileListResult struct {
	ID    string      `json:"id"`
	Files []FileEntry `json:"files"`
	Error string      `json:"error,omitempty"`
}

// FileGet requests the content of Path.
type FileGet struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

// FileGetResult answers a FileGet. A nil Content means the read failed;
// an empty string is an empty file.
type FileGetResult struct {
	ID      string  `json:"id"`
	Content *string `json:"content,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// FilePut writes Content to Path.
type FilePut struct {
	ID      string `json:"id"`
	Path    string `json:"path"`
	Content string `json:"content"`
}

// FilePutResult answers a FilePut.
type FilePutResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// FileDelete removes Path.
type FileDelete struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

// FileDeleteResult answers a FileDelete.
type FileDeleteResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Presence is sent by the device side to announce itself.
type Presence struct {
	Timestamp int64 `json:"timestamp"`
}

// Error is an application level error reported by the remote side.
type Error struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Heartbeat is the liveness frame. Timestamp is unix milliseconds.
type Heartbeat struct {
	Timestamp int64 `json:"timestamp"`
}

// Unknown holds a frame whose type this console does not understand.
// Raw is the complete original frame.
type Unknown struct {
	Type string
	Raw  []byte
}

func (*Auth) Kind() Kind             { return KindAuth }
func (*Command) Kind() Kind          { return KindCommand }
func (*CommandResult) Kind() Kind    { return KindCommandResult }
func (*FileList) Kind() Kind         { return KindFileList }
func (*FileListResult) Kind() Kind   { return KindFileListResult }
func (*FileGet) Kind() Kind          { return KindFileGet }
func (*FileGetResult) Kind() Kind    { return KindFileGetResult }
func (*FilePut) Kind() Kind          { return KindFilePut }
func (*FilePutResult) Kind() Kind    { return KindFilePutResult }
func (*FileDelete) Kind() Kind       { return KindFileDelete }
func (*FileDeleteResult) Kind() Kind { return KindFileDeleteResult }
func (*Presence) Kind() Kind         { return KindPresence }
func (*Error) Kind() Kind            { return KindError }
func (*Heartbeat) Kind() Kind        { return KindHeartbeat }
func (u *Unknown) Kind() Kind        { return Kind(u.Type) }

func (c *Command) CorrelationID() string          { return c.ID }
func (r *CommandResult) CorrelationID() string    { return r.ID }
func (f *FileList) CorrelationID() string         { return f.ID }
func (r *FileListResult) CorrelationID() string   { return r.ID }
func (f *FileGet) CorrelationID() string          { return f.ID }
func (r *FileGetResult) CorrelationID() string    { return r.ID }
func (f *FilePut) CorrelationID() string          { return f.ID }
func (r *FilePutResult) CorrelationID() string    { return r.ID }
func (f *FileDelete) CorrelationID() string       { return f.ID }
func (r *FileDeleteResult) CorrelationID() string { return r.ID }
