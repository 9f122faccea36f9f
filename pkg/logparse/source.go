package logparse

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Source is anything that can be (re)opened as a stream of log lines
type Source interface {
	Name() string
	Open() (io.ReadCloser, error)
}

// FileSource reads one or more files in order as a single stream. Gzip
// compressed files are detected by their magic bytes and decompressed.
type FileSource struct {
	Paths []string
}

// NewFileSource creates a source over the given paths
func NewFileSource(paths ...string) *FileSource {
	return &FileSource{Paths: paths}
}

// Name joins the file paths
func (s *FileSource) Name() string {
	return strings.Join(s.Paths, ",")
}

// Open returns a reader over all files. Files are opened lazily, one at a
// time, and a newline is inserted between files that do not end with one.
func (s *FileSource) Open() (io.ReadCloser, error) {
	if len(s.Paths) == 0 {
		return nil, fmt.Errorf("no input files")
	}
	for _, path := range s.Paths {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
	}
	return &multiFileReader{paths: s.Paths}, nil
}

// StringSource serves in-memory text, used for batches and tests
type StringSource struct {
	Label string
	Text  string
}

// Name returns the label, or "memory"
func (s StringSource) Name() string {
	if s.Label == "" {
		return "memory"
	}
	return s.Label
}

// Open returns a fresh reader over the text
func (s StringSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(s.Text)), nil
}

type multiFileReader struct {
	paths    []string
	next     int
	file     *os.File
	current  io.Reader
	closer   io.Closer
	lastByte byte
	pending  bool // newline owed before the next file
}

func (m *multiFileReader) Read(p []byte) (int, error) {
	for {
		if m.pending {
			if len(p) == 0 {
				return 0, nil
			}
			p[0] = '\n'
			m.pending = false
			m.lastByte = '\n'
			return 1, nil
		}

		if m.current == nil {
			if m.next >= len(m.paths) {
				return 0, io.EOF
			}
			if err := m.openNext(); err != nil {
				return 0, err
			}
		}

		n, err := m.current.Read(p)
		if n > 0 {
			m.lastByte = p[n-1]
		}
		if err == io.EOF {
			if cerr := m.closeCurrent(); cerr != nil {
				return n, cerr
			}
			if m.lastByte != '\n' && m.lastByte != 0 && m.next < len(m.paths) {
				m.pending = true
			}
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (m *multiFileReader) openNext() error {
	path := m.paths[m.next]
	m.next++

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	m.file = f

	br := bufio.NewReader(f)
	magic, _ := br.Peek(2)
	if bytes.Equal(magic, []byte{0x1f, 0x8b}) {
		zr, err := gzip.NewReader(br)
		if err != nil {
			f.Close()
			m.file = nil
			return fmt.Errorf("failed to read gzip header of %s: %w", path, err)
		}
		m.current = zr
		m.closer = zr
	} else {
		m.current = br
		m.closer = nil
	}
	m.lastByte = 0
	return nil
}

func (m *multiFileReader) closeCurrent() error {
	var err error
	if m.closer != nil {
		err = m.closer.Close()
	}
	if m.file != nil {
		if ferr := m.file.Close(); err == nil {
			err = ferr
		}
	}
	m.current, m.closer, m.file = nil, nil, nil
	return err
}

func (m *multiFileReader) Close() error {
	if m.current == nil {
		return nil
	}
	return m.closeCurrent()
}
