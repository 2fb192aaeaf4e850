package clierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/fieldwave/rfplane/pkg/rf"
)

func TestExitCodes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		got      int
		expected int
	}{
		{"ExitSuccess", ExitSuccess, 0},
		{"ExitGeneral", ExitGeneral, 1},
		{"ExitNotFound", ExitNotFound, 2},
		{"ExitBusy", ExitBusy, 3},
		{"ExitHardware", ExitHardware, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s = %d, want %d", tt.name, tt.got, tt.expected)
			}
		})
	}
}

func TestErrorCodes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{"CodeCardNotFound", CodeCardNotFound, "CARD_NOT_FOUND"},
		{"CodeCardInUse", CodeCardInUse, "CARD_IN_USE"},
		{"CodeLinkDown", CodeLinkDown, "LINK_DOWN"},
		{"CodeQueueFull", CodeQueueFull, "QUEUE_FULL"},
		{"CodeHandleConflict", CodeHandleConflict, "HANDLE_CONFLICT"},
		{"CodeNotSupported", CodeNotSupported, "NOT_SUPPORTED"},
		{"CodeWrongMode", CodeWrongMode, "WRONG_MODE"},
		{"CodeHardwareFault", CodeHardwareFault, "HARDWARE_FAULT"},
		{"CodeInternalError", CodeInternalError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.expected)
			}
		})
	}
}

func TestCLIError_Error(t *testing.T) {
	t.Parallel()
	err := &CLIError{
		Code:    CodeCardNotFound,
		Message: "card 7 not found",
	}

	if err.Error() != "card 7 not found" {
		t.Errorf("Error() = %q, want %q", err.Error(), "card 7 not found")
	}
}

func TestCardNotFound(t *testing.T) {
	t.Parallel()
	err := CardNotFound(7)

	if err.Code != CodeCardNotFound {
		t.Errorf("Code = %q, want %q", err.Code, CodeCardNotFound)
	}
	if err.ExitCode != ExitNotFound {
		t.Errorf("ExitCode = %d, want %d", err.ExitCode, ExitNotFound)
	}
	if !strings.Contains(err.Message, "7") {
		t.Errorf("Message should contain uid, got %q", err.Message)
	}
	if err.Hint == "" {
		t.Error("Hint should not be empty")
	}
	if err.Retryable {
		t.Error("Retryable should be false for a missing card")
	}
}

func TestQueueFull(t *testing.T) {
	t.Parallel()
	err := QueueFull()

	if err.Code != CodeQueueFull {
		t.Errorf("Code = %q, want %q", err.Code, CodeQueueFull)
	}
	if err.ExitCode != ExitBusy {
		t.Errorf("ExitCode = %d, want %d", err.ExitCode, ExitBusy)
	}
	if !err.Retryable {
		t.Error("Retryable should be true for queue backpressure")
	}
}

func TestFromError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		err       error
		code      string
		exitCode  int
		retryable bool
	}{
		{"not found", fmt.Errorf("card 9: %w", rf.ErrNotFound), CodeCardNotFound, ExitNotFound, false},
		{"not registered", fmt.Errorf("pcie: %w", rf.ErrNotRegistered), CodeCardNotFound, ExitNotFound, false},
		{"in use", fmt.Errorf("card 9: %w", rf.ErrCardInUse), CodeCardInUse, ExitBusy, true},
		{"busy", fmt.Errorf("RxA1: %w", rf.ErrBusy), CodeCardInUse, ExitBusy, true},
		{"conflict", fmt.Errorf("RxA1 with RxA2: %w", rf.ErrConflict), CodeHandleConflict, ExitBusy, false},
		{"queue full", fmt.Errorf("tx: %w", rf.ErrQueueFull), CodeQueueFull, ExitBusy, true},
		{"link down", fmt.Errorf("read 0x40: %w", rf.ErrLinkDown), CodeLinkDown, ExitHardware, true},
		{"hardware", fmt.Errorf("write 0x40: %w", rf.ErrHardware), CodeHardwareFault, ExitHardware, false},
		{"verify", fmt.Errorf("write 0x40: %w", rf.ErrVerifyMismatch), CodeHardwareFault, ExitHardware, false},
		{"not supported", fmt.Errorf("low latency: %w", rf.ErrNotSupported), CodeNotSupported, ExitGeneral, false},
		{"wrong mode", fmt.Errorf("hop: %w", rf.ErrWrongMode), CodeWrongMode, ExitGeneral, false},
		{"wrong state", fmt.Errorf("start: %w", rf.ErrWrongState), CodeWrongMode, ExitGeneral, false},
		{"unknown", errors.New("boom"), CodeInternalError, ExitGeneral, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce := FromError(tt.err)
			if ce.Code != tt.code {
				t.Errorf("Code = %q, want %q", ce.Code, tt.code)
			}
			if ce.ExitCode != tt.exitCode {
				t.Errorf("ExitCode = %d, want %d", ce.ExitCode, tt.exitCode)
			}
			if ce.Retryable != tt.retryable {
				t.Errorf("Retryable = %v, want %v", ce.Retryable, tt.retryable)
			}
		})
	}
}

func TestFromErrorPassthrough(t *testing.T) {
	t.Parallel()
	orig := CardInUse(3)
	got := FromError(fmt.Errorf("claim: %w", orig))
	if got != orig {
		t.Error("structured errors should pass through unchanged")
	}
}

func TestFormatErrorJSON(t *testing.T) {
	t.Parallel()
	ce := CardNotFound(5)
	out := FormatError(ce, "json")

	var decoded CLIError
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded.Code != CodeCardNotFound {
		t.Errorf("Code = %q, want %q", decoded.Code, CodeCardNotFound)
	}
	if decoded.Message != ce.Message {
		t.Errorf("Message = %q, want %q", decoded.Message, ce.Message)
	}
}

func TestFormatErrorHuman(t *testing.T) {
	t.Parallel()
	ce := CardNotFound(5)
	out := FormatError(ce, "table")

	if !strings.Contains(out, "Error [CARD_NOT_FOUND]") {
		t.Errorf("missing code header: %q", out)
	}
	if !strings.Contains(out, "Hint:") {
		t.Errorf("missing hint line: %q", out)
	}

	ce.Hint = ""
	out = FormatError(ce, "table")
	if strings.Contains(out, "Hint:") {
		t.Errorf("unexpected hint line: %q", out)
	}
}
