// Package logparse turns Apache access log lines into structured request records
package logparse

import (
	"fmt"
	"strings"
	"time"
)

// Format selects one of the two supported access log grammars
type Format int

const (
	// FormatCLF is the NCSA Common Log Format: %h %l %u %t "%r" %>s %b
	FormatCLF Format = iota + 1
	// FormatCombined is CLF followed by "%{Referer}i" "%{User-Agent}i"
	FormatCombined
)

// String returns the canonical format name
func (f Format) String() string {
	switch f {
	case FormatCLF:
		return "CLF"
	case FormatCombined:
		return "Combined"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// MarshalText implements encoding.TextMarshaler
func (f Format) MarshalText() ([]byte, error) {
	if f != FormatCLF && f != FormatCombined {
		return nil, &ConfigurationError{Setting: "format", Value: f.String()}
	}
	return []byte(f.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (f *Format) UnmarshalText(text []byte) error {
	parsed, err := ParseFormat(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// ParseFormat resolves a format name, case-insensitively
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "clf", "common":
		return FormatCLF, nil
	case "combined":
		return FormatCombined, nil
	default:
		return 0, &ConfigurationError{Setting: "format", Value: name}
	}
}

// Policy decides what a reader does with a line that fails to parse
type Policy int

const (
	// PolicySkip logs the failure, excludes the line and keeps reading
	PolicySkip Policy = iota + 1
	// PolicyFailFast stops the sequence at the first failure
	PolicyFailFast
)

// String returns the configuration spelling of the policy
func (p Policy) String() string {
	switch p {
	case PolicySkip:
		return "skip"
	case PolicyFailFast:
		return "fail-fast"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy resolves a policy name
func ParsePolicy(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "skip":
		return PolicySkip, nil
	case "fail-fast", "failfast":
		return PolicyFailFast, nil
	default:
		return 0, &ConfigurationError{Setting: "parse policy", Value: name}
	}
}

// LogRecord is one parsed request. Missing identity fields keep the "-"
// sentinel exactly as logged.
type LogRecord struct {
	RemoteHost    string    `json:"remote_host"`
	RemoteLogname string    `json:"remote_logname"`
	RemoteUser    string    `json:"remote_user"`
	ReceivedAt    time.Time `json:"received_at"`
	Method        string    `json:"http_method"`
	URL           string    `json:"request_url"`
	HTTPVersion   string    `json:"http_version"`
	Status        string    `json:"status"`
	ResponseBytes string    `json:"response_bytes"`

	// Combined format only
	Referer   string `json:"referer,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	// 1-based line number in the source
	Line int `json:"line"`
}

// Stats counts what a reader pass produced
type Stats struct {
	Lines   int `json:"lines"`
	Parsed  int `json:"parsed"`
	Skipped int `json:"skipped"`
	Blank   int `json:"blank"`
}
