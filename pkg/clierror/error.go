package clierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/fieldwave/rfplane/pkg/rf"
)

// Exit codes for rfctl.
const (
	ExitSuccess  = 0 // Operation completed successfully
	ExitGeneral  = 1 // Unknown/unhandled error
	ExitNotFound = 2 // Card, handle, or resource doesn't exist
	ExitBusy     = 3 // Card in use, handle busy, or handle conflict
	ExitHardware = 4 // Register, link, or FPGA fault
)

// Error codes (strings) for programmatic error handling.
const (
	CodeCardNotFound   = "CARD_NOT_FOUND"
	CodeCardInUse      = "CARD_IN_USE"
	CodeLinkDown       = "LINK_DOWN"
	CodeQueueFull      = "QUEUE_FULL"
	CodeHandleConflict = "HANDLE_CONFLICT"
	CodeNotSupported   = "NOT_SUPPORTED"
	CodeWrongMode      = "WRONG_MODE"
	CodeHardwareFault  = "HARDWARE_FAULT"
	CodeInternalError  = "INTERNAL_ERROR"
)

// CLIError represents a structured error for CLI output.
type CLIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Hint      string `json:"hint,omitempty"`
	Retryable bool   `json:"retryable"`
	ExitCode  int    `json:"-"` // Not serialized, used for os.Exit
}

// Error implements the error interface.
func (e *CLIError) Error() string {
	return e.Message
}

// CardNotFound creates an error when a card doesn't exist.
func CardNotFound(uid uint64) *CLIError {
	return &CLIError{
		Code:      CodeCardNotFound,
		Message:   fmt.Sprintf("card %d not found", uid),
		Hint:      "Check discovered cards with 'rfctl probe'",
		Retryable: false,
		ExitCode:  ExitNotFound,
	}
}

// CardInUse creates an error when a card is held by another owner.
func CardInUse(uid uint64) *CLIError {
	return &CLIError{
		Code:      CodeCardInUse,
		Message:   fmt.Sprintf("card %d is in use", uid),
		Hint:      "Release the card from its current owner or pick another with 'rfctl probe'",
		Retryable: true,
		ExitCode:  ExitBusy,
	}
}

// LinkDown creates an error when the register path is held down.
func LinkDown(uid uint64) *CLIError {
	return &CLIError{
		Code:      CodeLinkDown,
		Message:   fmt.Sprintf("transport link to card %d is down", uid),
		Hint:      "Wait for FPGA reprogramming to finish, then retry",
		Retryable: true,
		ExitCode:  ExitHardware,
	}
}

// QueueFull creates an error for transmit backpressure.
func QueueFull() *CLIError {
	return &CLIError{
		Code:      CodeQueueFull,
		Message:   "transmit queue is full",
		Hint:      "Back off and retry, or lower the sample rate",
		Retryable: true,
		ExitCode:  ExitBusy,
	}
}

// HandleConflict creates an error when requested handles cannot coexist.
func HandleConflict(handle string) *CLIError {
	return &CLIError{
		Code:      CodeHandleConflict,
		Message:   fmt.Sprintf("handle %s conflicts with an active handle", handle),
		Hint:      "Stop the conflicting stream or pick a different handle",
		Retryable: false,
		ExitCode:  ExitBusy,
	}
}

// NotSupported creates an error for absent capabilities.
func NotSupported(what string) *CLIError {
	return &CLIError{
		Code:      CodeNotSupported,
		Message:   fmt.Sprintf("%s is not supported on this card", what),
		Hint:      "Check card capabilities with 'rfctl cards'",
		Retryable: false,
		ExitCode:  ExitGeneral,
	}
}

// WrongMode creates an error for operations invalid in the current mode.
func WrongMode(op, mode string) *CLIError {
	return &CLIError{
		Code:      CodeWrongMode,
		Message:   fmt.Sprintf("%s is invalid in %s mode", op, mode),
		Retryable: false,
		ExitCode:  ExitGeneral,
	}
}

// HardwareFault creates an error for register or FPGA failures.
func HardwareFault(err error) *CLIError {
	return &CLIError{
		Code:      CodeHardwareFault,
		Message:   fmt.Sprintf("hardware fault: %s", err),
		Hint:      "Retry once; if the fault persists, power-cycle the card",
		Retryable: false,
		ExitCode:  ExitHardware,
	}
}

// InternalError creates an error for unexpected internal errors.
func InternalError(err error) *CLIError {
	msg := "an unexpected internal error occurred"
	if err != nil {
		msg = fmt.Sprintf("internal error: %s", err.Error())
	}
	return &CLIError{
		Code:      CodeInternalError,
		Message:   msg,
		Retryable: false,
		ExitCode:  ExitGeneral,
	}
}

// FromError maps a control-plane error to a structured CLI error. Errors
// that are already structured pass through unchanged.
func FromError(err error) *CLIError {
	var ce *CLIError
	if errors.As(err, &ce) {
		return ce
	}

	switch {
	case errors.Is(err, rf.ErrNotFound), errors.Is(err, rf.ErrNotRegistered):
		return &CLIError{
			Code:     CodeCardNotFound,
			Message:  err.Error(),
			Hint:     "Check discovered cards with 'rfctl probe'",
			ExitCode: ExitNotFound,
		}
	case errors.Is(err, rf.ErrCardInUse), errors.Is(err, rf.ErrBusy):
		return &CLIError{
			Code:      CodeCardInUse,
			Message:   err.Error(),
			Retryable: true,
			ExitCode:  ExitBusy,
		}
	case errors.Is(err, rf.ErrConflict):
		return &CLIError{
			Code:     CodeHandleConflict,
			Message:  err.Error(),
			Hint:     "Stop the conflicting stream or pick a different handle",
			ExitCode: ExitBusy,
		}
	case errors.Is(err, rf.ErrQueueFull):
		return &CLIError{
			Code:      CodeQueueFull,
			Message:   err.Error(),
			Hint:      "Back off and retry, or lower the sample rate",
			Retryable: true,
			ExitCode:  ExitBusy,
		}
	case errors.Is(err, rf.ErrLinkDown):
		return &CLIError{
			Code:      CodeLinkDown,
			Message:   err.Error(),
			Hint:      "Wait for FPGA reprogramming to finish, then retry",
			Retryable: true,
			ExitCode:  ExitHardware,
		}
	case errors.Is(err, rf.ErrHardware), errors.Is(err, rf.ErrVerifyMismatch):
		return &CLIError{
			Code:     CodeHardwareFault,
			Message:  err.Error(),
			Hint:     "Retry once; if the fault persists, power-cycle the card",
			ExitCode: ExitHardware,
		}
	case errors.Is(err, rf.ErrNotSupported):
		return &CLIError{
			Code:     CodeNotSupported,
			Message:  err.Error(),
			Hint:     "Check card capabilities with 'rfctl cards'",
			ExitCode: ExitGeneral,
		}
	case errors.Is(err, rf.ErrWrongMode), errors.Is(err, rf.ErrWrongState):
		return &CLIError{
			Code:     CodeWrongMode,
			Message:  err.Error(),
			ExitCode: ExitGeneral,
		}
	}
	return InternalError(err)
}

// FormatError returns the error formatted for the given output format.
// Supported formats: "json" for JSON output, anything else for
// human-readable format.
func FormatError(err *CLIError, outputFormat string) string {
	if outputFormat == "json" {
		data, jsonErr := json.MarshalIndent(err, "", "  ")
		if jsonErr != nil {
			// Fallback to simple JSON if marshaling fails
			return fmt.Sprintf(`{"code":"%s","message":"%s"}`, err.Code, err.Message)
		}
		return string(data)
	}

	output := fmt.Sprintf("Error [%s]: %s", err.Code, err.Message)
	if err.Hint != "" {
		output += fmt.Sprintf("\nHint: %s", err.Hint)
	}
	return output
}

// PrintError prints the error to stderr in the appropriate format.
func PrintError(err *CLIError, outputFormat string) {
	fmt.Fprintln(os.Stderr, FormatError(err, outputFormat))
}
