package demo

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type stubSource struct {
	name  string
	cands []CandidateValue
	err   error
	panic bool
	delay time.Duration
	calls *atomic.Int32
}

func (s stubSource) Name() string { return s.name }

func (s stubSource) Collect(ctx context.Context) ([]CandidateValue, error) {
	if s.calls != nil {
		s.calls.Add(1)
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.panic {
		panic("parser bug")
	}
	return s.cands, s.err
}

func TestCollector_Collect(t *testing.T) {
	ctx := context.Background()
	c := NewCollector(nil, 2)

	report, err := c.Collect(ctx,
		stubSource{name: "forum", cands: []CandidateValue{cand(FieldPlayers, "Alice", SourceForumPost, Possible)}},
		stubSource{name: "broken", err: errors.New("unreadable")},
		stubSource{name: "txt", cands: []CandidateValue{cand(FieldWad, "scythe", SourceTextFile, Certain)}, delay: 10 * time.Millisecond},
		stubSource{name: "panics", panic: true},
		stubSource{name: "empty"},
	)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}

	if len(report.Candidates) != 2 {
		t.Fatalf("len(Candidates) = %d, want 2", len(report.Candidates))
	}
	if report.Candidates[0].Source != SourceForumPost || report.Candidates[1].Source != SourceTextFile {
		t.Errorf("Candidates not in source order: %v", report.Candidates)
	}
	if len(report.Failures) != 2 {
		t.Fatalf("len(Failures) = %d, want 2", len(report.Failures))
	}
	if report.Failures[0].Source != "broken" || report.Failures[1].Source != "panics" {
		t.Errorf("Failures = %v, want broken and panics", report.Failures)
	}
}

func TestCollector_RejectsInvalidCandidates(t *testing.T) {
	tests := []struct {
		name string
		c    CandidateValue
	}{
		{"unknown field", cand("speed", "fast", SourceTextFile, Certain)},
		{"manual from a parser", cand(FieldWad, "scythe", SourceManual, Certain)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := NewCollector(nil, 0).Collect(context.Background(),
				stubSource{name: "bad", cands: []CandidateValue{cand(FieldTime, "1:00", SourceTextFile, Certain), tt.c}},
			)
			if err != nil {
				t.Fatalf("Collect() error = %v", err)
			}
			if len(report.Candidates) != 0 {
				t.Errorf("Candidates = %v, want none from a source with an invalid value", report.Candidates)
			}
			if len(report.Failures) != 1 || !errors.Is(report.Failures[0].Err, ErrInvalidCandidate) {
				t.Errorf("Failures = %v, want one ErrInvalidCandidate", report.Failures)
			}
		})
	}
}

func TestCollector_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewCollector(nil, 0).Collect(ctx, stubSource{name: "slow", delay: time.Second})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Collect() error = %v, want context.Canceled", err)
	}
}

func TestCollector_RunsEverySource(t *testing.T) {
	var calls atomic.Int32
	sources := make([]CandidateSource, 10)
	for i := range sources {
		sources[i] = stubSource{name: "s", calls: &calls, delay: time.Millisecond}
	}

	if _, err := NewCollector(nil, 3).Collect(context.Background(), sources...); err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if got := calls.Load(); got != 10 {
		t.Errorf("sources called = %d, want 10", got)
	}
}
