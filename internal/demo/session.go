package demo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// DefaultAnalysisTimeout bounds one playback when no timeout is configured.
const DefaultAnalysisTimeout = 5 * time.Minute

// SessionDeps are the services a Session drives.
type SessionDeps struct {
	Collector       *Collector
	Resolver        *AssetResolver
	Analyzer        *Analyzer
	Submitter       *SubmissionManager
	Policy          Policy
	AnalysisTimeout time.Duration
	Logger          Logger
}

// Session walks one Record through collection, asset resolution, recording
// selection, playback, validation and submission.
type Session struct {
	Record *Record

	collector *Collector
	resolver  *AssetResolver
	analyzer  *Analyzer
	submitter *SubmissionManager
	policy    Policy
	timeout   time.Duration
	logger    Logger

	mu   sync.Mutex
	task *AnalysisTask
}

// NewSession creates a Session for rec.
func NewSession(rec *Record, deps SessionDeps) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = NewNopLogger()
	}
	timeout := deps.AnalysisTimeout
	if timeout <= 0 {
		timeout = DefaultAnalysisTimeout
	}
	collector := deps.Collector
	if collector == nil {
		collector = NewCollector(logger, 0)
	}
	return &Session{
		Record:    rec,
		collector: collector,
		resolver:  deps.Resolver,
		analyzer:  deps.Analyzer,
		submitter: deps.Submitter,
		policy:    deps.Policy,
		timeout:   timeout,
		logger:    logger,
	}
}

// Collect gathers candidates from sources and merges them as one batch.
func (s *Session) Collect(ctx context.Context, sources ...CandidateSource) (*CollectReport, error) {
	report, err := s.collector.Collect(ctx, sources...)
	if err != nil {
		return nil, err
	}
	if len(report.Candidates) > 0 {
		if err := s.Record.Submit(report.Candidates...); err != nil {
			return report, fmt.Errorf("merging collected candidates: %w", err)
		}
	}
	for _, f := range report.Failures {
		s.logger.Warn("source failed", "record", s.Record.ID, "source", f.Source, "error", f.Err)
	}
	return report, nil
}

// SetField records a user edit. An empty value clears a previous edit.
func (s *Session) SetField(f FieldID, value string) error {
	return s.Record.SetManual(f, value)
}

// ResolveAsset runs the asset cascade and stores the result on the record.
// On ErrUserDecisionRequired the record holds the Unresolved asset so a later
// DecideAsset can complete it. Cancellation leaves the record's asset as it was.
func (s *Session) ResolveAsset(ctx context.Context, req AssetRequest) (Asset, error) {
	if s.resolver == nil {
		return Asset{}, errors.New("no asset resolver configured")
	}
	a, err := s.resolver.Resolve(ctx, req)
	switch {
	case err == nil:
		s.Record.setAsset(a)
	case errors.Is(err, ErrUserDecisionRequired):
		s.Record.setAsset(a)
	}
	return a, err
}

// DecideAsset applies a user decision to the record's unresolved asset.
func (s *Session) DecideAsset(ctx context.Context, d AssetDecision) (Asset, error) {
	if s.resolver == nil {
		return Asset{}, errors.New("no asset resolver configured")
	}
	a, err := s.resolver.ApplyDecision(ctx, s.Record.Asset(), d)
	if err != nil {
		return Asset{}, err
	}
	s.Record.setAsset(a)
	return a, nil
}

// LoadRecordings extracts the recordings of a submitted archive and scores
// them against the record's level and category.
func (s *Session) LoadRecordings(zipPath string) (*Selection, error) {
	candidates, err := ExtractRecordings(zipPath)
	if err != nil {
		return nil, err
	}
	return s.SelectRecording(candidates)
}

// SelectRecording scores candidates and stores the selection on the record.
func (s *Session) SelectRecording(candidates []RecordingCandidate) (*Selection, error) {
	fields := s.Record.Fields()
	sel, err := SelectRecording(candidates, fields.Value(FieldLevel), fields.Value(FieldCategory))
	if err != nil {
		return nil, err
	}
	s.Record.setSelection(sel)
	return s.Record.Selection(), nil
}

// OverrideRecording selects filename by hand.
func (s *Session) OverrideRecording(filename string) error {
	sel := s.Record.Selection()
	if sel == nil {
		return ErrNoRecordings
	}
	if err := sel.Override(filename); err != nil {
		return err
	}
	s.Record.setSelection(sel)
	return nil
}

// StartAnalysis plays the selected recording in the background. A successful
// result is merged into the record as a single ReplayStats batch. Starting a
// new analysis cancels one still running.
func (s *Session) StartAnalysis(ctx context.Context) (*AnalysisTask, error) {
	if s.analyzer == nil {
		return nil, errors.New("no replay engine configured")
	}
	a := s.Record.Asset()
	if !a.State.Resolved() {
		return nil, ErrAssetNotResolved
	}
	if a.Path == "" {
		return nil, fmt.Errorf("asset %s has no local copy to play against", a.Name)
	}
	sel := s.Record.Selection()
	if sel == nil {
		return nil, ErrNoRecordings
	}
	rec, err := sel.Recording()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.task != nil {
		s.task.Cancel()
	}
	s.task = s.analyzer.Start(ctx, a.Path, rec, s.timeout, func(res *AnalysisResult) error {
		return s.Record.applyAnalysis(res)
	})
	return s.task, nil
}

// CancelAnalysis cancels the running analysis. It reports whether one was
// running.
func (s *Session) CancelAnalysis() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.task == nil {
		return false
	}
	return s.task.Cancel()
}

// Analyze runs an analysis and waits for it.
func (s *Session) Analyze(ctx context.Context) (*AnalysisResult, error) {
	task, err := s.StartAnalysis(ctx)
	if err != nil {
		return nil, err
	}
	res, err := task.Wait()
	var desync *DesyncError
	if errors.As(err, &desync) {
		s.logger.Warn("playback desynchronized", "record", s.Record.ID, "asset", s.Record.Asset().Name, "detail", desync.Detail)
	}
	return res, err
}

// Validate evaluates the record against the session policy.
func (s *Session) Validate() []Issue {
	return Validate(s.Record.View(), s.policy)
}

// UploadAsset uploads the record's asset and marks it registered.
func (s *Session) UploadAsset(ctx context.Context) (*Attempt, error) {
	if s.submitter == nil || s.resolver == nil {
		return nil, errors.New("asset upload is not configured")
	}
	a := s.Record.Asset()
	if a.Path == "" {
		return nil, fmt.Errorf("asset %s has no local copy to upload", a.Name)
	}

	f, err := os.Open(a.Path)
	if err != nil {
		return nil, fmt.Errorf("opening asset: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat asset: %w", err)
	}

	location, attempt, err := s.submitter.UploadAsset(ctx, s.Record.ID, a, f, info.Size())
	if attempt == nil || attempt.Outcome != OutcomeAccepted {
		return attempt, err
	}
	uploaded, markErr := s.resolver.MarkUploaded(context.WithoutCancel(ctx), a, location)
	if markErr != nil {
		return attempt, errors.Join(err, fmt.Errorf("updating asset: %w", markErr))
	}
	s.Record.setAsset(uploaded)
	return attempt, err
}

// Submit sends the record, or a correction once it has been accepted.
func (s *Session) Submit(ctx context.Context) (*Attempt, error) {
	if s.submitter == nil {
		return nil, errors.New("submission is not configured")
	}
	return s.submitter.Submit(ctx, s.Record)
}

// Correct sends the fields changed since acceptance under id.
func (s *Session) Correct(ctx context.Context, id Identity) (*Attempt, error) {
	if s.submitter == nil {
		return nil, errors.New("submission is not configured")
	}
	return s.submitter.Correct(ctx, s.Record, id, s.Record.ChangedSinceAccepted())
}
