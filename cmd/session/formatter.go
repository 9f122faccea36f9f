package session

import (
	"fmt"
	"io"
	"os"
)

// Colors for terminal output
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorCyan   = "\033[36m"
	ColorBold   = "\033[1m"
)

// ConsoleFormatter handles all terminal output formatting
type ConsoleFormatter struct {
	out     io.Writer
	noColor bool
	quiet   bool
}

// NewConsoleFormatter creates a console formatter writing to stdout
func NewConsoleFormatter(noColor, quiet bool) *ConsoleFormatter {
	return &ConsoleFormatter{out: os.Stdout, noColor: noColor, quiet: quiet}
}

// NewWriterFormatter creates an uncolored formatter writing to w
func NewWriterFormatter(w io.Writer) *ConsoleFormatter {
	return &ConsoleFormatter{out: w, noColor: true}
}

// Writer returns the underlying output
func (f *ConsoleFormatter) Writer() io.Writer {
	return f.out
}

// Printf writes unformatted text unless quiet
func (f *ConsoleFormatter) Printf(format string, args ...any) {
	if f.quiet {
		return
	}
	fmt.Fprintf(f.out, format, args...)
}

// PrintSectionHeader prints a formatted section header
func (f *ConsoleFormatter) PrintSectionHeader(title string) {
	if f.quiet {
		return
	}
	if f.noColor {
		fmt.Fprintf(f.out, "\n=== %s ===\n\n", title)
	} else {
		fmt.Fprintf(f.out, "\n%s%s=== %s ===%s\n\n", ColorCyan, ColorBold, title, ColorReset)
	}
}

// PrintError prints an error message with formatting
func (f *ConsoleFormatter) PrintError(message string) {
	f.print(ColorRed+ColorBold, "ERROR", message)
}

// PrintSuccess prints a success message with formatting
func (f *ConsoleFormatter) PrintSuccess(message string) {
	if f.quiet {
		return
	}
	f.print(ColorGreen+ColorBold, "SUCCESS", message)
}

// PrintInfo prints an info message with formatting
func (f *ConsoleFormatter) PrintInfo(message string) {
	if f.quiet {
		return
	}
	f.print(ColorBlue, "INFO", message)
}

// PrintWarning prints a warning message with formatting
func (f *ConsoleFormatter) PrintWarning(message string) {
	f.print(ColorYellow+ColorBold, "WARNING", message)
}

func (f *ConsoleFormatter) print(color, tag, message string) {
	if f.noColor {
		color = ""
	}
	reset := ColorReset
	if color == "" {
		reset = ""
	}
	fmt.Fprintf(f.out, "%s[%s] %s%s\n", color, tag, message, reset)
}
