// Package follow tails a growing log file and emits complete lines
package follow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultPollInterval backs up fsnotify on filesystems that drop events
const DefaultPollInterval = time.Second

// Options tunes a Follower
type Options struct {
	// FromStart emits the existing content before following
	FromStart bool

	PollInterval time.Duration
	Logger       *zap.Logger
}

// Follower tails one file. It survives truncation and the file being
// replaced by a new one (rotation).
type Follower struct {
	path   string
	opts   Options
	logger *zap.Logger

	file    *os.File
	offset  int64
	partial []byte
}

// New creates a follower for path. The file must exist.
func New(path string, opts Options) (*Follower, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to stat followed file: %w", err)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Follower{path: filepath.Clean(path), opts: opts, logger: logger}, nil
}

// Run calls emit for every complete line appended to the file until ctx is
// done. A trailing line without a newline is held back until it completes.
func (f *Follower) Run(ctx context.Context, emit func(line string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	// the directory sees creates and renames of the file itself
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(f.path), err)
	}

	if err := f.open(!f.opts.FromStart); err != nil {
		return err
	}
	defer f.close()

	if err := f.drain(emit); err != nil {
		return err
	}

	ticker := time.NewTicker(f.opts.PollInterval)
	defer ticker.Stop()

	f.logger.Info("following file", zap.String("path", f.path), zap.Int64("offset", f.offset))

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != f.path {
				continue
			}

			switch {
			case event.Has(fsnotify.Create):
				f.logger.Debug("followed file recreated", zap.String("path", f.path))
				f.close()
				if err := f.open(false); err != nil {
					return err
				}
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				// keep reading the old handle until the new file shows up
				f.logger.Debug("followed file moved away", zap.String("path", f.path))
				continue
			}
			if err := f.drain(emit); err != nil {
				return err
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Warn("file watcher error", zap.Error(err))

		case <-ticker.C:
			if err := f.drain(emit); err != nil {
				return err
			}
		}
	}
}

func (f *Follower) open(atEnd bool) error {
	file, err := os.Open(f.path)
	if err != nil {
		return fmt.Errorf("failed to open followed file: %w", err)
	}

	var offset int64
	if atEnd {
		if offset, err = file.Seek(0, io.SeekEnd); err != nil {
			file.Close()
			return fmt.Errorf("failed to seek followed file: %w", err)
		}
	}

	f.file = file
	f.offset = offset
	f.partial = f.partial[:0]
	return nil
}

func (f *Follower) close() {
	if f.file != nil {
		f.file.Close()
		f.file = nil
	}
}

// drain reads everything past the current offset
func (f *Follower) drain(emit func(string)) error {
	if f.file == nil {
		return nil
	}

	info, err := f.file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat followed file: %w", err)
	}
	if info.Size() < f.offset {
		f.logger.Info("followed file truncated",
			zap.String("path", f.path),
			zap.Int64("old_offset", f.offset),
			zap.Int64("size", info.Size()))
		f.offset = 0
		f.partial = f.partial[:0]
	}
	if info.Size() == f.offset {
		return nil
	}

	buf := make([]byte, 32*1024)
	for {
		n, err := f.file.ReadAt(buf, f.offset)
		if n > 0 {
			f.offset += int64(n)
			f.split(buf[:n], emit)
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read followed file: %w", err)
		}
	}
}

func (f *Follower) split(chunk []byte, emit func(string)) {
	for {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			f.partial = append(f.partial, chunk...)
			return
		}
		line := append(f.partial, chunk[:i]...)
		emit(string(bytes.TrimRight(line, "\r")))
		f.partial = f.partial[:0]
		chunk = chunk[i+1:]
	}
}
