package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestCodedError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *CodedError
		expected string
	}{
		{
			name:     "error without cause",
			err:      New(CodeCommandNotFound, "command cmd-1 not found"),
			expected: "command.not_found: command cmd-1 not found",
		},
		{
			name:     "error with cause",
			err:      Wrap(CodeTransportDialFailed, "dial failed", errors.New("connection refused")),
			expected: "transport.dial_failed: dial failed (connection refused)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestCodedError_Unwrap(t *testing.T) {
	cause := errors.New("original error")
	err := Wrap(CodeInternal, "wrapped", cause)

	if err.Unwrap() != cause {
		t.Error("Unwrap() should return the original cause")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}

	err2 := New(CodeQueueFull, "full")
	if err2.Unwrap() != nil {
		t.Error("Unwrap() should return nil when no cause")
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"nil error", nil, ""},
		{"CodedError", NotConnected("d:s"), CodeTransportNotConnected},
		{"wrapped by fmt", fmt.Errorf("outer: %w", SendFailed("d:s", errors.New("eof"))), CodeTransportSendFailed},
		{"plain error", errors.New("some error"), CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.expected {
				t.Errorf("GetCode() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestGetMessage(t *testing.T) {
	if got := GetMessage(nil); got != "" {
		t.Errorf("GetMessage(nil) = %q, want empty", got)
	}
	if got := GetMessage(CommandRateLimited()); got != "too many commands, slow down" {
		t.Errorf("GetMessage() = %q", got)
	}
	if got := GetMessage(errors.New("plain")); got != "plain" {
		t.Errorf("GetMessage(plain) = %q", got)
	}
}

func TestToCodeAndMessage(t *testing.T) {
	code, msg := ToCodeAndMessage(ReconnectExhausted("dev:sess", 5))
	if code != CodeReconnectExhausted {
		t.Errorf("code = %q, want %q", code, CodeReconnectExhausted)
	}
	if !strings.Contains(msg, "5 tries") {
		t.Errorf("message %q should mention attempt count", msg)
	}

	code, msg = ToCodeAndMessage(errors.New("boom"))
	if code != CodeUnknown || msg != "boom" {
		t.Errorf("ToCodeAndMessage(plain) = %q, %q", code, msg)
	}

	code, msg = ToCodeAndMessage(nil)
	if code != "" || msg != "" {
		t.Errorf("ToCodeAndMessage(nil) = %q, %q", code, msg)
	}
}

func TestIsQueued(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{NotConnected("k"), true},
		{SendFailed("k", errors.New("broken pipe")), true},
		{QueueFull("k", 100), false},
		{CommandRateLimited(), false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := IsQueued(tt.err); got != tt.want {
			t.Errorf("IsQueued(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestFileOpFailed(t *testing.T) {
	err := FileOpFailed("op-1", "permission denied")
	if !IsCode(err, CodeFileOpFailed) {
		t.Fatalf("unexpected code %q", err.Code)
	}
	if err.Message != "file operation op-1 failed: permission denied" {
		t.Errorf("Message = %q", err.Message)
	}

	bare := FileOpFailed("op-2", "")
	if bare.Message != "file operation op-2 failed" {
		t.Errorf("Message = %q", bare.Message)
	}
}
