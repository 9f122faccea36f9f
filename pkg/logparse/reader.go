package logparse

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ajkula/ravenlog/pkg/metrics"
)

const (
	// DefaultCancelCheckInterval is how many lines pass between context checks
	DefaultCancelCheckInterval = 1024

	// MaxLineSize bounds a single line; longer lines are treated as unparsable
	MaxLineSize = 1 << 20

	readBufferSize = 64 * 1024
)

// ReaderConfig configures a Reader. Format and Policy have no defaults and
// must be set explicitly.
type ReaderConfig struct {
	Format Format
	Policy Policy

	// CancelCheckInterval defaults to DefaultCancelCheckInterval
	CancelCheckInterval int

	// ProgressInterval logs a progress line every N lines, 0 disables
	ProgressInterval int

	Logger  *zap.Logger
	Metrics *metrics.Collector
}

// Reader turns a Source into a lazy sequence of records
type Reader struct {
	source Source
	parser *Parser
	cfg    ReaderConfig
	logger *zap.Logger

	mu    sync.Mutex
	stats Stats
}

// NewReader validates the configuration and creates a reader
func NewReader(source Source, cfg ReaderConfig) (*Reader, error) {
	if source == nil {
		return nil, fmt.Errorf("reader needs a source")
	}

	parser, err := NewParser(cfg.Format)
	if err != nil {
		return nil, err
	}

	if cfg.Policy != PolicySkip && cfg.Policy != PolicyFailFast {
		return nil, &ConfigurationError{Setting: "parse policy", Value: cfg.Policy.String()}
	}

	if cfg.CancelCheckInterval <= 0 {
		cfg.CancelCheckInterval = DefaultCancelCheckInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Reader{
		source: source,
		parser: parser,
		cfg:    cfg,
		logger: logger.With(zap.String("source", source.Name()), zap.Stringer("format", cfg.Format)),
	}, nil
}

// Records returns the record sequence. Every iteration reopens the source
// and resets the counters, so the sequence can be ranged over repeatedly.
// Source, cancellation and (under PolicyFailFast) parse errors are yielded
// once as the final element.
func (r *Reader) Records(ctx context.Context) iter.Seq2[LogRecord, error] {
	return func(yield func(LogRecord, error) bool) {
		r.setStats(Stats{})

		rc, err := r.source.Open()
		if err != nil {
			yield(LogRecord{}, err)
			return
		}
		defer rc.Close()

		var stats Stats
		defer func() { r.setStats(stats) }()

		br := bufio.NewReaderSize(rc, readBufferSize)

		for {
			line, tooLong, err := nextLine(br)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(LogRecord{}, fmt.Errorf("reading %s: %w", r.source.Name(), err))
				return
			}
			stats.Lines++

			if stats.Lines%r.cfg.CancelCheckInterval == 0 {
				if err := ctx.Err(); err != nil {
					yield(LogRecord{}, fmt.Errorf("reading %s: %w", r.source.Name(), err))
					return
				}
			}
			if r.cfg.ProgressInterval > 0 && stats.Lines%r.cfg.ProgressInterval == 0 {
				r.logger.Info("reading progress",
					zap.Int("lines", stats.Lines),
					zap.Int("parsed", stats.Parsed),
					zap.Int("skipped", stats.Skipped))
			}

			if !tooLong && strings.TrimSpace(line) == "" {
				stats.Blank++
				continue
			}

			var rec LogRecord
			if tooLong {
				err = &ParseError{
					Line:   stats.Lines,
					Format: r.cfg.Format,
					Reason: fmt.Sprintf("line longer than %d bytes", MaxLineSize),
				}
			} else {
				rec, err = r.parser.ParseLine(line, stats.Lines)
			}
			if err != nil {
				if r.cfg.Policy == PolicyFailFast {
					yield(LogRecord{}, err)
					return
				}
				stats.Skipped++
				r.logger.Warn("skipping unparsable line",
					zap.Int("line", stats.Lines),
					zap.String("reason", reasonOf(err)))
				if r.cfg.Metrics != nil {
					r.cfg.Metrics.LinesSkipped.WithLabelValues(r.cfg.Format.String()).Inc()
				}
				continue
			}

			stats.Parsed++
			if r.cfg.Metrics != nil {
				r.cfg.Metrics.LinesParsed.Inc()
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// nextLine reads one line without its "\n" or "\r\n" terminator. A line over
// MaxLineSize is consumed to its end but not kept, and tooLong is set.
// io.EOF is returned only when no bytes remain.
func nextLine(br *bufio.Reader) (line string, tooLong bool, err error) {
	var buf []byte
	read := 0
	for {
		chunk, rerr := br.ReadSlice('\n')
		read += len(chunk)
		if !tooLong {
			buf = append(buf, chunk...)
			if len(buf) > MaxLineSize+2 {
				tooLong = true
				buf = nil
			}
		}

		switch {
		case errors.Is(rerr, bufio.ErrBufferFull):
			continue
		case errors.Is(rerr, io.EOF):
			if read == 0 {
				return "", false, io.EOF
			}
		case rerr != nil:
			return "", false, rerr
		}
		break
	}

	if tooLong {
		return "", true, nil
	}
	buf = bytes.TrimSuffix(buf, []byte("\n"))
	buf = bytes.TrimSuffix(buf, []byte("\r"))
	if len(buf) > MaxLineSize {
		return "", true, nil
	}
	return string(buf), false, nil
}

// Stats returns the counters of the most recent (or running) pass
func (r *Reader) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Reader) setStats(s Stats) {
	r.mu.Lock()
	r.stats = s
	r.mu.Unlock()
}

// Collect drains a sequence into a slice, stopping at the first error
func Collect(seq iter.Seq2[LogRecord, error]) ([]LogRecord, error) {
	var records []LogRecord
	for rec, err := range seq {
		if err != nil {
			return records, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func reasonOf(err error) string {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe.Reason
	}
	return err.Error()
}
