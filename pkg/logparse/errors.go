package logparse

import "fmt"

// ParseError reports a line that does not match the selected grammar
type ParseError struct {
	Line   int
	Format Format
	Reason string
	Text   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: not a valid %s entry: %s", e.Line, e.Format, e.Reason)
}

// ConfigurationError reports an unsupported setting such as an unknown log
// format, capture format or transport protocol
type ConfigurationError struct {
	Setting string
	Value   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("unsupported %s: %q", e.Setting, e.Value)
}
