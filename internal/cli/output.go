package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
)

const (
	ExitSuccess      = 0
	ExitFailure      = 1 // the operation ran and reported failures
	ExitCommandError = 2 // bad flags, unreachable database, invalid catalog
)

// ExitError carries the process exit code for a command failure.
type ExitError struct {
	Code    int
	Message string
	Err     error
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

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns ExitFailure for errors that are not an *ExitError.
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

// Response is the JSON envelope of every command.
type Response struct {
	Status string         `json:"status"` // "ok" or "error"
	Data   any            `json:"data,omitempty"`
	Error  *ResponseError `json:"error,omitempty"`
}

type ResponseError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// printer renders results as a JSON envelope or as a text table.
type printer struct {
	format string
	out    io.Writer
}

func newPrinter(opts *RootOptions, out io.Writer) *printer {
	return &printer{format: opts.Format, out: out}
}

// Print writes data as JSON, or calls table with a tabwriter in text mode.
func (p *printer) Print(data any, table func(w io.Writer)) error {
	if p.format == "json" {
		return json.NewEncoder(p.out).Encode(Response{Status: "ok", Data: data})
	}

	tw := tabwriter.NewWriter(p.out, 0, 4, 2, ' ', 0)
	table(tw)
	return tw.Flush()
}

// PrintError renders err for the user. JSON mode writes the error envelope.
func (p *printer) PrintError(err error) {
	if p.format == "json" {
		_ = json.NewEncoder(p.out).Encode(Response{
			Status: "error",
			Error:  &ResponseError{Message: err.Error(), Code: GetExitCode(err)},
		})
		return
	}
	fmt.Fprintf(p.out, "Error: %v\n", err)
}

// PrintError is the entry point's error reporter.
func PrintError(format string, w io.Writer, err error) {
	(&printer{format: format, out: w}).PrintError(err)
}
