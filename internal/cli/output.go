package cli

import (
	"encoding/json"
	"fmt"
	"io"
)

// Envelope wraps every JSON document the CLI writes, including each
// response line of "tempograph run".
type Envelope struct {
	Status  string         `json:"status"`
	Data    any            `json:"data,omitempty"`
	Error   *EnvelopeError `json:"error,omitempty"`
	TraceID string         `json:"trace_id,omitempty"`
}

// EnvelopeError uses the engine's error codes (UNSET, STALE_PLAN, ...)
// where one applies.
type EnvelopeError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func okEnvelope(data any) Envelope {
	return Envelope{Status: "ok", Data: data}
}

func errEnvelope(code, message string, details any) Envelope {
	return Envelope{Status: "error", Error: &EnvelopeError{Code: code, Message: message, Details: details}}
}

// OutputFormatter renders command results as text or as an Envelope.
// Diagnostics go to ErrWriter so they never interleave with JSON on Writer.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

func (f *OutputFormatter) isJSON() bool { return f.Format == "json" }

func (f *OutputFormatter) emit(env Envelope) error {
	return json.NewEncoder(f.Writer).Encode(env)
}

// Print writes data in an ok envelope, or hands the writer to text. A nil
// text prints data with its default formatting.
func (f *OutputFormatter) Print(data any, text func(w io.Writer)) error {
	switch {
	case f.isJSON():
		return f.emit(okEnvelope(data))
	case text == nil:
		_, err := fmt.Fprintln(f.Writer, data)
		return err
	}
	text(f.Writer)
	return nil
}

// Fail reports a refused operation. Details only reach text output in
// verbose mode.
func (f *OutputFormatter) Fail(code, message string, details any) error {
	if f.isJSON() {
		return f.emit(errEnvelope(code, message, details))
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Verbosef writes a diagnostic line when --verbose is set.
func (f *OutputFormatter) Verbosef(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}
