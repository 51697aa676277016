package output

import (
	"errors"
	"fmt"
	"io"
	"strings"

	scanerr "github.com/mrz1836/sybilscan/pkg/errors"
)

// ErrorOutput represents a structured error for JSON output.
type ErrorOutput struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	ExitCode   int               `json:"exit_code"`
}

// NewErrorDetail extracts the structured fields of err.
func NewErrorDetail(err error) ErrorDetail {
	var se *scanerr.ScanError
	if errors.As(err, &se) {
		return ErrorDetail{
			Code:       se.Code,
			Message:    se.Message,
			Details:    se.Details,
			Suggestion: se.Suggestion,
			ExitCode:   se.ExitCode,
		}
	}
	return ErrorDetail{
		Code:     "GENERAL_ERROR",
		Message:  err.Error(),
		ExitCode: scanerr.ExitGeneral,
	}
}

// FormatError formats an error for display.
func FormatError(w io.Writer, err error, format Format) error {
	if err == nil {
		return nil
	}

	detail := NewErrorDetail(err)
	if format == FormatJSON {
		return WriteJSON(w, ErrorOutput{Error: detail})
	}

	// The error text already carries the details inline.
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error: %s\n", err.Error()))
	if detail.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("\nSuggestion: %s\n", detail.Suggestion))
	}

	_, writeErr := io.WriteString(w, sb.String())
	return writeErr
}
