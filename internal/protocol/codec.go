package protocol

import (
	"bytes"
	"encoding/json"

	apperrors "github.com/pseudocoder/console/internal/errors"
)

// envelope is used to peek at the discriminator before decoding the body.
type envelope struct {
	Type *string `json:"type"`
}

// newFrame returns an empty frame for a known kind, or nil.
func newFrame(k Kind) Frame {
	switch k {
	case KindAuth:
		return &Auth{}
	case KindCommand:
		return &Command{}
	case KindCommandResult:
		return &CommandResult{}
	case KindFileList:
		return &FileList{}
	case KindFileListResult:
		return &FileListResult{}
	case KindFileGet:
		return &FileGet{}
	case KindFileGetResult:
		return &FileGetResult{}
	case KindFilePut:
		return &FilePut{}
	case KindFilePutResult:
		return &FilePutResult{}
	case KindFileDelete:
		return &FileDelete{}
	case KindFileDeleteResult:
		return &FileDeleteResult{}
	case KindPresence:
		return &Presence{}
	case KindError:
		return &Error{}
	case KindHeartbeat:
		return &Heartbeat{}
	}
	return nil
}

// Decode parses a raw frame. It fails only when data is not a JSON object
// with a string "type", or when a known kind has a malformed body.
func Decode(data []byte) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, apperrors.InvalidFrame("frame is not a JSON object", err)
	}
	if env.Type == nil || *env.Type == "" {
		return nil, apperrors.InvalidFrame("frame has no type", nil)
	}

	frame := newFrame(Kind(*env.Type))
	if frame == nil {
		raw := make([]byte, len(data))
		copy(raw, data)
		return &Unknown{Type: *env.Type, Raw: raw}, nil
	}

	if err := json.Unmarshal(data, frame); err != nil {
		return nil, apperrors.InvalidFrame("malformed "+*env.Type+" frame", err)
	}
	return frame, nil
}

// Encode serializes f as a flat JSON object with its "type" field first.
// Unknown frames are written back verbatim.
func Encode(f Frame) ([]byte, error) {
	if u, ok := f.(*Unknown); ok {
		return u.Raw, nil
	}

	body, err := json.Marshal(f)
	if err != nil {
		return nil, apperrors.EncodeFailed(string(f.Kind()), err)
	}
	typ, err := json.Marshal(string(f.Kind()))
	if err != nil {
		return nil, apperrors.EncodeFailed(string(f.Kind()), err)
	}

	var buf bytes.Buffer
	buf.Grow(len(body) + len(typ) + 10)
	buf.WriteString(`{"type":`)
	buf.Write(typ)
	// body is always an object: "{}" or "{...}"
	if len(body) > 2 {
		buf.WriteByte(',')
		buf.Write(body[1:])
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}
