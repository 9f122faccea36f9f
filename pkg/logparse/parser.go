package logparse

import (
	"regexp"
	"strings"
	"time"
)

// quoted matches a double-quoted field honouring backslash escapes
const quoted = `"((?:[^"\\]|\\.)*)"`

// clfRe matches: 127.0.0.1 - frank [10/Oct/2000:13:55:36 -0700] "GET /apache_pb.gif HTTP/1.0" 200 2326
var clfRe = regexp.MustCompile(
	`^(\S+)\s+(\S+)\s+(\S+)\s+\[([^\]]+)\]\s+` + quoted + `\s+(\d{3})\s+(\d+|-)$`,
)

// combinedRe extends clfRe with the referer and user-agent fields
var combinedRe = regexp.MustCompile(
	`^(\S+)\s+(\S+)\s+(\S+)\s+\[([^\]]+)\]\s+` + quoted + `\s+(\d{3})\s+(\d+|-)\s+` + quoted + `\s+` + quoted + `$`,
)

const timestampLayout = "02/Jan/2006:15:04:05 -0700"

// Parser parses lines of a single, fixed format
type Parser struct {
	format Format
	re     *regexp.Regexp
}

// NewParser creates a parser for the given format
func NewParser(format Format) (*Parser, error) {
	switch format {
	case FormatCLF:
		return &Parser{format: format, re: clfRe}, nil
	case FormatCombined:
		return &Parser{format: format, re: combinedRe}, nil
	default:
		return nil, &ConfigurationError{Setting: "format", Value: format.String()}
	}
}

// Format returns the grammar this parser accepts
func (p *Parser) Format() Format {
	return p.format
}

// ParseLine parses one line. lineNum is only used for error reporting and
// the record's Line field.
func (p *Parser) ParseLine(line string, lineNum int) (LogRecord, error) {
	line = strings.TrimRight(line, "\r\n")

	m := p.re.FindStringSubmatch(line)
	if m == nil {
		return LogRecord{}, p.fail(lineNum, line, "line does not match the grammar")
	}

	receivedAt, err := time.Parse(timestampLayout, m[4])
	if err != nil {
		return LogRecord{}, p.fail(lineNum, line, "bad timestamp "+m[4])
	}

	method, url, version, ok := splitRequestLine(m[5])
	if !ok {
		return LogRecord{}, p.fail(lineNum, line, "malformed request line")
	}

	rec := LogRecord{
		RemoteHost:    m[1],
		RemoteLogname: m[2],
		RemoteUser:    m[3],
		ReceivedAt:    receivedAt,
		Method:        method,
		URL:           url,
		HTTPVersion:   version,
		Status:        m[6],
		ResponseBytes: m[7],
		Line:          lineNum,
	}

	if p.format == FormatCombined {
		rec.Referer = m[8]
		rec.UserAgent = m[9]
	}

	return rec, nil
}

func (p *Parser) fail(lineNum int, text, reason string) *ParseError {
	return &ParseError{Line: lineNum, Format: p.format, Reason: reason, Text: text}
}

// splitRequestLine splits "%r" into method, URL and version. The version
// loses its "HTTP/" prefix; HTTP/0.9 style lines without a version are
// accepted with an empty version.
func splitRequestLine(request string) (method, url, version string, ok bool) {
	fields := strings.Fields(request)
	switch {
	case len(fields) < 2:
		return "", "", "", false
	case len(fields) == 2:
		return fields[0], fields[1], "", true
	}

	last := fields[len(fields)-1]
	if !strings.HasPrefix(last, "HTTP/") {
		// a URL containing raw spaces, no protocol token
		return fields[0], strings.Join(fields[1:], " "), "", true
	}

	return fields[0], strings.Join(fields[1:len(fields)-1], " "), strings.TrimPrefix(last, "HTTP/"), true
}
