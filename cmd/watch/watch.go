// Package watch implements the watch command: follow a live access log and
// score new requests in batches as they are written
package watch

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajkula/ravenlog/cmd/score"
	"github.com/ajkula/ravenlog/cmd/session"
	"github.com/ajkula/ravenlog/pkg/follow"
	"github.com/ajkula/ravenlog/pkg/logparse"
	"github.com/ajkula/ravenlog/pkg/store"
)

// Execute runs the watch command
func Execute(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("exactly one log file to follow is required")
	}

	profileID, _ := cmd.Flags().GetString("profile-id")
	fromStart, _ := cmd.Flags().GetBool("from-start")
	save, _ := cmd.Flags().GetBool("save")
	duration, _ := cmd.Flags().GetDuration("duration")

	s, err := session.Load(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	defer s.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	pipeline, err := score.NewPipeline(ctx, s, profileID)
	if err != nil {
		return err
	}

	w := NewWatchSession(s, pipeline, Options{
		Path:          args[0],
		FromStart:     fromStart,
		Save:          save,
		BatchSize:     s.Config.Output.Watch.BatchSize,
		FlushInterval: s.Config.Output.Watch.FlushInterval,
	})

	s.Out.PrintInfo(fmt.Sprintf("Watching %s (batches of %d, flushed every %s)", args[0], w.opts.BatchSize, w.opts.FlushInterval))
	s.Out.PrintInfo("Press Ctrl+C to stop")

	if err := w.Run(ctx); err != nil {
		return err
	}

	w.DisplaySummary()
	return nil
}

// Options tunes a watch session
type Options struct {
	Path          string
	FromStart     bool
	Save          bool
	BatchSize     int
	FlushInterval time.Duration
}

// Totals accumulates over every batch of a session
type Totals struct {
	Batches   int
	Lines     int
	Records   int
	Skipped   int
	Anomalous int
}

// Scorer scores one batch. *score.Pipeline satisfies it.
type Scorer interface {
	Score(ctx context.Context, source logparse.Source) (*store.Run, error)
	Save(ctx context.Context, run *store.Run) (bool, error)
}

// WatchSession follows one file and scores it batch by batch
type WatchSession struct {
	session *session.Session
	scorer  Scorer
	opts    Options
	logger  *zap.Logger

	mu     sync.Mutex
	totals Totals
}

// NewWatchSession creates a watch session
func NewWatchSession(s *session.Session, scorer Scorer, opts Options) *WatchSession {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 256
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 2 * time.Second
	}
	return &WatchSession{
		session: s,
		scorer:  scorer,
		opts:    opts,
		logger:  s.Logger.With(zap.String("path", opts.Path)),
	}
}

// Run follows the file until ctx is done. Lines still buffered when ctx ends
// are scored before Run returns.
func (w *WatchSession) Run(ctx context.Context) error {
	follower, err := follow.New(w.opts.Path, follow.Options{
		FromStart: w.opts.FromStart,
		Logger:    w.logger,
	})
	if err != nil {
		return err
	}

	lines := make(chan string, w.opts.BatchSize)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(lines)
		return follower.Run(gctx, func(line string) {
			select {
			case lines <- line:
			case <-gctx.Done():
			}
		})
	})

	g.Go(func() error {
		// the last batch is scored even after cancellation
		return w.batch(context.WithoutCancel(gctx), lines)
	})

	return g.Wait()
}

func (w *WatchSession) batch(ctx context.Context, lines <-chan string) error {
	ticker := time.NewTicker(w.opts.FlushInterval)
	defer ticker.Stop()

	pending := make([]string, 0, w.opts.BatchSize)
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return w.flush(ctx, pending)
			}
			pending = append(pending, line)
			if len(pending) >= w.opts.BatchSize {
				if err := w.flush(ctx, pending); err != nil {
					return err
				}
				pending = pending[:0]
			}
		case <-ticker.C:
			if err := w.flush(ctx, pending); err != nil {
				return err
			}
			pending = pending[:0]
		}
	}
}

// flush scores one batch and reports its flagged requests
func (w *WatchSession) flush(ctx context.Context, batch []string) error {
	if len(batch) == 0 {
		return nil
	}

	source := logparse.StringSource{Label: w.opts.Path, Text: strings.Join(batch, "\n")}
	run, err := w.scorer.Score(ctx, source)
	if err != nil {
		return err
	}

	w.mu.Lock()
	offset := w.totals.Lines
	w.totals.Batches++
	w.totals.Lines += run.Stats.Lines
	w.totals.Records += run.Stats.Parsed
	w.totals.Skipped += run.Stats.Skipped
	w.mu.Unlock()

	// line numbers continue across batches
	flagged := 0
	for i := range run.Table.Rows {
		row := &run.Table.Rows[i]
		row.Record.Line += offset

		signals := row.Scores.Signals(run.PValueThreshold)
		if len(signals) == 0 {
			continue
		}
		flagged++
		rec := row.Record
		w.session.Out.PrintWarning(fmt.Sprintf("line %d: %s %s %s [%s] p=%s",
			rec.Line, rec.RemoteHost, rec.Method, rec.URL, strings.Join(signals, ","), row.Scores.CharDistPValue))
	}

	w.mu.Lock()
	w.totals.Anomalous += flagged
	w.mu.Unlock()

	w.logger.Debug("batch scored",
		zap.Int("lines", len(batch)),
		zap.Int("records", run.Stats.Parsed),
		zap.Int("anomalous", flagged))

	if w.opts.Save {
		if _, err := w.scorer.Save(ctx, run); err != nil {
			w.logger.Warn("failed to store batch", zap.String("run_id", run.ID), zap.Error(err))
		}
	}
	return nil
}

// Totals returns the counters so far
func (w *WatchSession) Totals() Totals {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.totals
}

// DisplaySummary prints the session counters
func (w *WatchSession) DisplaySummary() {
	t := w.Totals()
	out := w.session.Out
	out.PrintSectionHeader("WATCH SUMMARY")
	out.Printf("Batches scored:   %s\n", humanize.Comma(int64(t.Batches)))
	out.Printf("Lines read:       %s\n", humanize.Comma(int64(t.Lines)))
	out.Printf("Records scored:   %s\n", humanize.Comma(int64(t.Records)))
	out.Printf("Lines skipped:    %s\n", humanize.Comma(int64(t.Skipped)))
	out.Printf("Anomalous:        %s\n", humanize.Comma(int64(t.Anomalous)))
}
