package output

import (
	"fmt"
	"io"
)

// Infof prints a formatted informational line.
func Infof(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintln(w, "ℹ️  "+fmt.Sprintf(format, args...))
}

// Warnf prints a formatted warning line.
func Warnf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintln(w, "⚠️  "+fmt.Sprintf(format, args...))
}

// Successf prints a formatted success line.
func Successf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintln(w, "✅ "+fmt.Sprintf(format, args...))
}
