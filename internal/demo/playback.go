package demo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Tally is a "count/total" statistic such as kills.
type Tally struct {
	Count int
	Total int
}

func (t Tally) String() string {
	return strconv.Itoa(t.Count) + "/" + strconv.Itoa(t.Total)
}

// Add sums two tallies.
func (t Tally) Add(o Tally) Tally {
	return Tally{Count: t.Count + o.Count, Total: t.Total + o.Total}
}

// LevelStat is one line of replay engine level statistics.
type LevelStat struct {
	Level      string
	Time       string
	Tics       int
	Kills      Tally
	Items      Tally
	Secrets    Tally
	Coop       bool
	SecretExit bool
}

// ReplayRequest is what the replay engine needs to play a recording.
type ReplayRequest struct {
	AssetPath     string
	RecordingPath string
	// WorkDir is a scratch directory owned by the caller for the engine's output files.
	WorkDir string
	// Fast requests non-rendering, as-fast-as-possible playback.
	Fast bool
}

// ReplayOutput is the engine's structured result.
type ReplayOutput struct {
	Levels []LevelStat
	// TotalTime is the cumulative time printed with the final level.
	TotalTime string
	TotalTics int
	Analysis  map[string]string
	Desync    bool
	Detail    string
}

// ReplayEngine is an external program that re-simulates a recording.
type ReplayEngine interface {
	Run(ctx context.Context, req ReplayRequest) (*ReplayOutput, error)
}

// AnalysisResult is produced once per successful playback. A re-run supersedes it.
type AnalysisResult struct {
	Tics       int
	Time       string
	Level      string
	Levels     []string
	Coop       bool
	Kills      Tally
	Items      Tally
	Secrets    Tally
	Category   string
	RecordedAt time.Time
	Notes      []string
	// SecretExit is set for a single level left through its secret exit. Level
	// then carries the trailing "s" marker.
	SecretExit bool
	// Levelstat is the per-level time list sent with the demo: the time of a
	// single level, or the whole-second times of a movie joined by commas.
	Levelstat string
	// Desynchronized is always false on a returned result; desyncs are reported as *DesyncError.
	Desynchronized bool
}

// Candidates converts the result into ReplayStats candidate values.
func (r AnalysisResult) Candidates() []CandidateValue {
	certain := func(f FieldID, v string) CandidateValue {
		return CandidateValue{Field: f, Value: v, Source: SourceReplayStats, Confidence: Certain}
	}

	out := []CandidateValue{
		certain(FieldTime, r.Time),
		certain(FieldLevel, r.Level),
		certain(FieldCoop, strconv.FormatBool(r.Coop)),
		certain(FieldKills, r.Kills.String()),
		certain(FieldItems, r.Items.String()),
		certain(FieldSecrets, r.Secrets.String()),
	}
	if !r.RecordedAt.IsZero() {
		out = append(out, certain(FieldRecordedAt, r.RecordedAt.UTC().Format(DateLayout)))
	}
	if r.Category != "" {
		out = append(out, CandidateValue{Field: FieldCategory, Value: r.Category, Source: SourceReplayStats, Confidence: Possible})
	}
	if len(r.Notes) > 0 {
		out = append(out, CandidateValue{Field: FieldNotes, Value: strings.Join(r.Notes, ", "), Source: SourceReplayStats, Confidence: Possible})
	}
	return out
}

// DateLayout is the normalized form of date field values.
const DateLayout = "2006-01-02"

// categoryMap corrects category names reported by the engine's analysis.
var categoryMap = map[string]string{
	"UV Tyson": "Tyson",
}

// fullClearCategories require every kill or secret, so a secret exit taken on
// the way is recorded as a normal exit.
var fullClearCategories = map[string]bool{
	"UV Max": true, "UV Fast": true, "UV Respawn": true, "Tyson": true,
	"NM 100S": true, "NoMo 100S": true, "SM Max": true, "BP Max": true,
	"Skill 3 Max": true, "Skill 3 Fast": true, "Skill 3 Respawn": true, "Skill 3 Tyson": true,
	"Skill 3 100S": true, "Skill 3 NoMo 100S": true,
	"Skill 2 Max": true, "Skill 2 Fast": true, "Skill 2 Respawn": true, "Skill 2 Tyson": true,
	"Skill 2 100S": true, "Skill 2 NoMo 100S": true,
	"Skill 1 Max": true, "Skill 1 Fast": true, "Skill 1 Respawn": true, "Skill 1 Tyson": true,
	"Skill 1 100S": true, "Skill 1 NoMo 100S": true,
}

// Analyzer drives a ReplayEngine and turns its output into an AnalysisResult.
type Analyzer struct {
	engine  ReplayEngine
	logger  Logger
	tempDir string
}

// NewAnalyzer creates an Analyzer. tempDir is where per-run scratch
// directories are created; empty means the OS default.
func NewAnalyzer(engine ReplayEngine, logger Logger, tempDir string) *Analyzer {
	if logger == nil {
		logger = NewNopLogger()
	}
	return &Analyzer{engine: engine, logger: logger, tempDir: tempDir}
}

// Analyze plays rec against the asset at assetPath. It returns an
// *AnalysisResult, a *DesyncError, an *AnalysisFailure, or an error wrapping
// ErrAnalysisCancelled. The scratch directory is removed on every path.
func (a *Analyzer) Analyze(ctx context.Context, assetPath string, rec RecordingCandidate, timeout time.Duration) (*AnalysisResult, error) {
	if len(rec.Data) == 0 {
		return nil, &AnalysisFailure{Reason: "recording is empty"}
	}
	if assetPath == "" {
		return nil, &AnalysisFailure{Reason: "asset path is empty"}
	}

	workDir, err := os.MkdirTemp(a.tempDir, "analysis-*")
	if err != nil {
		return nil, &AnalysisFailure{Reason: "creating scratch directory", Err: err}
	}
	defer os.RemoveAll(workDir)

	name := filepath.Base(rec.Filename)
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = "recording" + recordingExt
	}
	recPath := filepath.Join(workDir, name)
	if err := os.WriteFile(recPath, rec.Data, 0644); err != nil {
		return nil, &AnalysisFailure{Reason: "writing recording", Err: err}
	}

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	a.logger.Info("starting playback", "recording", rec.Filename, "asset", assetPath, "timeout", timeout)
	out, err := a.engine.Run(runCtx, ReplayRequest{
		AssetPath:     assetPath,
		RecordingPath: recPath,
		WorkDir:       workDir,
		Fast:          true,
	})

	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrAnalysisCancelled, ctx.Err())
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return nil, &AnalysisFailure{Reason: fmt.Sprintf("timed out after %s", timeout), Err: runCtx.Err()}
	}
	if err != nil {
		var desync *DesyncError
		if errors.As(err, &desync) {
			return nil, desync
		}
		return nil, &AnalysisFailure{Reason: "replay engine error", Err: err}
	}
	if out == nil {
		return nil, &AnalysisFailure{Reason: "replay engine returned no output"}
	}
	if out.Desync {
		return nil, &DesyncError{Detail: out.Detail}
	}
	if len(out.Levels) == 0 {
		return nil, &DesyncError{Detail: "no level was completed"}
	}

	res := buildResult(out)
	res.RecordedAt = rec.Modified
	a.logger.Info("playback finished", "recording", rec.Filename, "level", res.Level, "time", res.Time)
	return res, nil
}

func buildResult(out *ReplayOutput) *AnalysisResult {
	res := &AnalysisResult{}
	for _, l := range out.Levels {
		res.Levels = append(res.Levels, l.Level)
		res.Kills = res.Kills.Add(l.Kills)
		res.Items = res.Items.Add(l.Items)
		res.Secrets = res.Secrets.Add(l.Secrets)
		res.Coop = res.Coop || l.Coop
	}

	if cat := out.Analysis["category"]; cat != "" {
		if mapped, ok := categoryMap[cat]; ok {
			cat = mapped
		}
		res.Category = cat
	}
	if out.Analysis["turbo"] == "1" {
		res.Notes = append(res.Notes, "Uses turbo")
	}

	first, last := out.Levels[0], out.Levels[len(out.Levels)-1]
	if len(out.Levels) == 1 {
		res.Level = first.Level
		res.Time = first.Time
		res.Tics = first.Tics
		res.Levelstat = first.Time
		if first.SecretExit && !fullClearCategories[res.Category] {
			res.SecretExit = true
			res.Level += "s"
		}
		return res
	}

	res.Level = first.Level + "-" + strings.TrimPrefix(last.Level, "Map ")
	res.Time = out.TotalTime
	res.Tics = out.TotalTics
	if res.Time == "" {
		res.Time = last.Time
		res.Tics = last.Tics
	}
	times := make([]string, 0, len(out.Levels))
	for _, l := range out.Levels {
		whole, _, _ := strings.Cut(l.Time, ".")
		times = append(times, whole)
	}
	res.Levelstat = strings.Join(times, ",")
	return res
}

// AnalysisTask is a running, cancellable analysis.
type AnalysisTask struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	cancelled bool
	finished  bool
	result    *AnalysisResult
	err       error
}

// Start runs Analyze in the background. commit is called with a successful
// result unless the task was cancelled first; Cancel never interrupts a
// commit in progress.
func (a *Analyzer) Start(ctx context.Context, assetPath string, rec RecordingCandidate, timeout time.Duration, commit func(*AnalysisResult) error) *AnalysisTask {
	ctx, cancel := context.WithCancel(ctx)
	t := &AnalysisTask{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(t.done)
		defer cancel()

		res, err := a.Analyze(ctx, assetPath, rec, timeout)

		t.mu.Lock()
		defer t.mu.Unlock()
		t.finished = true
		switch {
		case t.cancelled:
			t.err = ErrAnalysisCancelled
		case err != nil:
			t.err = err
		case commit != nil:
			if err := commit(res); err != nil {
				t.err = fmt.Errorf("merging analysis result: %w", err)
				return
			}
			t.result = res
		default:
			t.result = res
		}
	}()
	return t
}

// Cancel stops the analysis. It returns false if the task already finished.
func (t *AnalysisTask) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return false
	}
	t.cancelled = true
	t.cancel()
	return true
}

// Done is closed when the task has finished.
func (t *AnalysisTask) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the task finishes and returns its outcome.
func (t *AnalysisTask) Wait() (*AnalysisResult, error) {
	<-t.done
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, t.err
}
