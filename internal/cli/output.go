package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/docrel/internal/docerr"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // statement rejected, copies not refreshed, validation or scenario failed
	ExitCommandError = 2 // bad paths, bad config, unreachable backend
)

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error // optional cause
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError returns an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError returns an ExitError caused by err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns the exit code carried by err, ExitFailure when err
// carries none.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		return ExitFailure
	}
	return exitErr.Code
}

// CLIResponse is the envelope of every JSON output.
type CLIResponse struct {
	Status      string    `json:"status"` // "ok" | "error"
	Data        any       `json:"data,omitempty"`
	Error       *CLIError `json:"error,omitempty"`
	StatementID string    `json:"statement_id,omitempty"` // journal correlation for writes
}

// CLIError describes a failure in JSON output. Category is set for
// statement outcome errors (E1xx).
type CLIError struct {
	Code     string `json:"code"`
	Category string `json:"category,omitempty"`
	Message  string `json:"message"`
	Details  any    `json:"details,omitempty"`
}

// OutputFormatter writes command results as text or as a JSON envelope.
// Diagnostics go to ErrWriter so they never interleave with JSON.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

func newFormatter(cmd *cobra.Command, root *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    root.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   root.Verbose,
	}
}

// JSON reports whether output is the JSON envelope.
func (f *OutputFormatter) JSON() bool { return f.Format == "json" }

func (f *OutputFormatter) encode(resp CLIResponse) error {
	return json.NewEncoder(f.Writer).Encode(resp)
}

// Success writes data. Text output prints data with its default format;
// commands with structured text output print it themselves.
func (f *OutputFormatter) Success(data any) error {
	if f.JSON() {
		return f.encode(CLIResponse{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error writes a failure with its CLI error code.
func (f *OutputFormatter) Error(code, message string, details any) error {
	return f.report(&CLIError{Code: code, Message: message, Details: details})
}

// Fail writes err with its CLI error code and failure category.
func (f *OutputFormatter) Fail(code string, err error) error {
	return f.report(&CLIError{
		Code:     code,
		Category: string(docerr.CategoryOf(err)),
		Message:  err.Error(),
	})
}

func (f *OutputFormatter) report(e *CLIError) error {
	if f.JSON() {
		return f.encode(CLIResponse{Status: "error", Error: e})
	}
	if _, err := fmt.Fprintf(f.Writer, "Error [%s]: %s\n", e.Code, e.Message); err != nil {
		return err
	}
	if f.Verbose && e.Details != nil {
		_, err := fmt.Fprintf(f.Writer, "Details: %v\n", e.Details)
		return err
	}
	return nil
}

// Partial writes a JSON envelope that carries both a result and the error
// that interrupted it.
func (f *OutputFormatter) Partial(data any, statementID string, e *CLIError) error {
	return f.encode(CLIResponse{Status: "error", Data: data, Error: e, StatementID: statementID})
}

// VerboseLog writes a diagnostic line when verbose output is on.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if f.Verbose {
		fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
	}
}

// GetErrWriter returns the diagnostic writer, Writer when none is set.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter == nil {
		return f.Writer
	}
	return f.ErrWriter
}
