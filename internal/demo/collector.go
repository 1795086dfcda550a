package demo

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// CandidateSource is a parser collaborator that hands in candidate values.
type CandidateSource interface {
	// Name is used for logging and failure reports.
	Name() string
	// Collect returns the candidates this source can derive. A source that
	// finds nothing returns an empty slice and no error.
	Collect(ctx context.Context) ([]CandidateValue, error)
}

// SourceFailure describes a source that failed to produce candidates.
type SourceFailure struct {
	Source string
	Err    error
}

func (f SourceFailure) Error() string {
	return fmt.Sprintf("source %s: %v", f.Source, f.Err)
}

// CollectReport is the outcome of one collection pass.
type CollectReport struct {
	Candidates []CandidateValue
	Failures   []SourceFailure
}

// Collector gathers candidates from independent sources. A failing source
// contributes nothing and never aborts the others.
type Collector struct {
	logger      Logger
	concurrency int
}

// NewCollector creates a Collector running at most concurrency sources at once.
// concurrency <= 0 means no limit.
func NewCollector(logger Logger, concurrency int) *Collector {
	if logger == nil {
		logger = NewNopLogger()
	}
	return &Collector{logger: logger, concurrency: concurrency}
}

// Collect runs every source and returns their candidates in source order.
// Only cancellation of ctx is reported as an error.
func (c *Collector) Collect(ctx context.Context, sources ...CandidateSource) (*CollectReport, error) {
	results := make([][]CandidateValue, len(sources))
	failures := make([]error, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	if c.concurrency > 0 {
		g.SetLimit(c.concurrency)
	}

	for i, src := range sources {
		g.Go(func() error {
			cands, err := collectOne(gctx, src)
			if err != nil {
				failures[i] = err
				return nil
			}
			results[i] = cands
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := &CollectReport{}
	for i, src := range sources {
		if failures[i] != nil {
			c.logger.Warn("source failed", "source", src.Name(), "error", failures[i])
			report.Failures = append(report.Failures, SourceFailure{Source: src.Name(), Err: failures[i]})
			continue
		}
		c.logger.Debug("source collected", "source", src.Name(), "candidates", len(results[i]))
		report.Candidates = append(report.Candidates, results[i]...)
	}
	return report, nil
}

// collectOne runs a single source, converting panics into failures and
// rejecting any invalid candidate it returns.
func collectOne(ctx context.Context, src CandidateSource) (cands []CandidateValue, err error) {
	defer func() {
		if r := recover(); r != nil {
			cands = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	cands, err = src.Collect(ctx)
	if err != nil {
		return nil, err
	}
	for _, cand := range cands {
		if err := ValidateCandidate(cand); err != nil {
			return nil, err
		}
		if cand.Source == SourceManual {
			return nil, fmt.Errorf("%w: parser sources cannot hand in manual values", ErrInvalidCandidate)
		}
	}
	return cands, nil
}
