package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/asaidimu/mirrorql/core/query"
	"github.com/asaidimu/mirrorql/core/schema"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // The query or document was rejected
	ExitCommandError = 2 // Command error (unreadable files, database not found, etc.)
)

// Error codes reported in CLIError.Code.
const (
	ErrCodeGeneric    = "E000"
	ErrCodeValidation = "E001"
	ErrCodeOperator   = "E002"
	ErrCodeDocument   = "E003"
	ErrCodeInput      = "E010"
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Verbose output; defaults to Writer
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// VerboseLog outputs a message only if verbose mode is enabled. It writes to
// ErrWriter so JSON output stays parseable.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

// Fail reports err through the formatter and returns the ExitError the
// command should return. Rejected queries and documents exit with
// ExitFailure; anything else is a command error.
func (f *OutputFormatter) Fail(err error) error {
	var (
		validationErr *query.ValidationError
		docErr        *schema.DocumentError
		inputErr      *inputError
	)

	switch {
	case errors.As(err, &validationErr):
		_ = f.Error(ErrCodeValidation, err.Error(), map[string]string{
			"kind":     string(validationErr.Kind),
			"resource": validationErr.Resource,
		})
		return WrapExitError(ExitFailure, "query rejected", err)
	case errors.Is(err, query.ErrUnknownOperator):
		_ = f.Error(ErrCodeOperator, err.Error(), nil)
		return WrapExitError(ExitFailure, "query rejected", err)
	case errors.As(err, &docErr):
		_ = f.Error(ErrCodeDocument, err.Error(), docErr.Issues)
		return WrapExitError(ExitFailure, "document rejected", err)
	case errors.As(err, &inputErr):
		_ = f.Error(ErrCodeInput, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid input", err)
	default:
		_ = f.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "command failed", err)
	}
}

// inputError marks a problem with the files or flags a command was given.
type inputError struct {
	err error
}

func (e *inputError) Error() string { return e.err.Error() }

func (e *inputError) Unwrap() error { return e.err }

func badInput(format string, args ...any) error {
	return &inputError{err: fmt.Errorf(format, args...)}
}
