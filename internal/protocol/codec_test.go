package protocol

import (
	"encoding/json"
	"testing"

	apperrors "github.com/pseudocoder/console/internal/errors"
)

func TestDecode_KnownKinds(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		kind Kind
	}{
		{"auth", `{"type":"auth","deviceId":"d1","sessionId":"s1","signature":"abc"}`, KindAuth},
		{"cmd", `{"type":"cmd","id":"cmd-1","command":"echo","args":["hi"]}`, KindCommand},
		{"cmd_result", `{"type":"cmd_result","id":"cmd-1","exitCode":0,"stdout":"hi\n","stderr":"","duration":3}`, KindCommandResult},
		{"file_list_result", `{"type":"file_list_result","id":"op","files":[{"name":"a","size":1}]}`, KindFileListResult},
		{"file_get_result", `{"type":"file_get_result","id":"op","content":"x"}`, KindFileGetResult},
		{"file_put_result", `{"type":"file_put_result","id":"op","success":true}`, KindFilePutResult},
		{"file_delete_result", `{"type":"file_delete_result","id":"op","success":false,"error":"busy"}`, KindFileDeleteResult},
		{"presence", `{"type":"presence","timestamp":1700000000000}`, KindPresence},
		{"error", `{"type":"error","error":"denied","message":"not allowed"}`, KindError},
		{"heartbeat", `{"type":"heartbeat","timestamp":1}`, KindHeartbeat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Decode([]byte(tt.raw))
			if err != nil {
				t.Fatalf("Decode() error: %v", err)
			}
			if f.Kind() != tt.kind {
				t.Errorf("Kind() = %q, want %q", f.Kind(), tt.kind)
			}
			if _, ok := f.(*Unknown); ok {
				t.Errorf("known kind %q decoded as Unknown", tt.kind)
			}
		})
	}
}

func TestDecode_CommandResultFields(t *testing.T) {
	f, err := Decode([]byte(`{"type":"cmd_result","id":"cmd-7","exitCode":2,"stdout":"out","stderr":"err","duration":42}`))
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	res, ok := f.(*CommandResult)
	if !ok {
		t.Fatalf("got %T, want *CommandResult", f)
	}
	if res.ID != "cmd-7" || res.ExitCode != 2 || res.Stdout != "out" || res.Stderr != "err" || res.Duration != 42 {
		t.Errorf("unexpected result: %+v", res)
	}
	if res.CorrelationID() != "cmd-7" {
		t.Errorf("CorrelationID() = %q", res.CorrelationID())
	}
}

func TestDecode_OptionalPresence(t *testing.T) {
	f, _ := Decode([]byte(`{"type":"file_list_result","id":"a"}`))
	if f.(*FileListResult).Files != nil {
		t.Error("missing files should decode as nil")
	}
	f, _ = Decode([]byte(`{"type":"file_list_result","id":"a","files":[]}`))
	if f.(*FileListResult).Files == nil {
		t.Error("empty files array should decode as non-nil")
	}

	f, _ = Decode([]byte(`{"type":"file_get_result","id":"b","error":"ENOENT"}`))
	if f.(*FileGetResult).Content != nil {
		t.Error("missing content should decode as nil")
	}
	f, _ = Decode([]byte(`{"type":"file_get_result","id":"b","content":""}`))
	if c := f.(*FileGetResult).Content; c == nil || *c != "" {
		t.Error("empty content should decode as present")
	}
}

func TestDecode_UnknownPassThrough(t *testing.T) {
	raw := `{"type":"telemetry","cpu":0.5}`
	f, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	u, ok := f.(*Unknown)
	if !ok {
		t.Fatalf("got %T, want *Unknown", f)
	}
	if u.Kind() != Kind("telemetry") {
		t.Errorf("Kind() = %q", u.Kind())
	}
	if string(u.Raw) != raw {
		t.Errorf("Raw = %q, want %q", u.Raw, raw)
	}

	out, err := Encode(u)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if string(out) != raw {
		t.Errorf("Encode(Unknown) = %q, want verbatim %q", out, raw)
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `hello`},
		{"array", `[1,2]`},
		{"no type", `{"id":"x"}`},
		{"empty type", `{"type":""}`},
		{"non-string type", `{"type":5}`},
		{"bad body", `{"type":"cmd_result","exitCode":"zero"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			if err == nil {
				t.Fatal("expected error")
			}
			if !apperrors.IsCode(err, apperrors.CodeProtocolInvalidFrame) {
				t.Errorf("code = %q, want %q", apperrors.GetCode(err), apperrors.CodeProtocolInvalidFrame)
			}
		})
	}
}

func TestEncode_IncludesType(t *testing.T) {
	data, err := Encode(&Command{ID: "cmd-1", Command: "echo", Args: []string{"hi"}})
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("encoded frame is not JSON: %v (%s)", err, data)
	}
	if m["type"] != "cmd" {
		t.Errorf("type = %v, want cmd", m["type"])
	}
	if m["command"] != "echo" || m["id"] != "cmd-1" {
		t.Errorf("unexpected body: %s", data)
	}

	back, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode(Encode()) error: %v", err)
	}
	if back.(*Command).Args[0] != "hi" {
		t.Errorf("args lost: %s", data)
	}
}

func TestEncode_OmitsOptionalFields(t *testing.T) {
	data, err := Encode(&FileGetResult{ID: "op"})
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	if string(data) != `{"type":"file_get_result","id":"op"}` {
		t.Errorf("Encode() = %s", data)
	}
}

func TestKind_IsFileResult(t *testing.T) {
	for _, k := range []Kind{KindFileListResult, KindFileGetResult, KindFilePutResult, KindFileDeleteResult} {
		if !k.IsFileResult() {
			t.Errorf("%q should be a file result", k)
		}
	}
	for _, k := range []Kind{KindCommandResult, KindHeartbeat, KindFileList, Kind("x_result")} {
		if k.IsFileResult() {
			t.Errorf("%q should not be a file result", k)
		}
	}
}
