package replay

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"dsda-uploader/internal/demo"
)

// Files the engine writes into its working directory.
const (
	LevelstatFile = "levelstat.txt"
	AnalysisFile  = "analysis.txt"
)

// DefaultArgs request statistics output and silent, non-rendering playback.
var DefaultArgs = []string{"-levelstat", "-analysis", "-nosound", "-nomusic", "-nodraw", "-quiet"}

// outputTail is how many trailing output lines are kept for error detail.
const outputTail = 20

// Option configures the Engine.
type Option func(*Engine)

// WithExecutor injects a custom executor.
func WithExecutor(exec Executor) Option {
	return func(e *Engine) {
		if exec != nil {
			e.exec = exec
		}
	}
}

// WithExtraArgs appends arguments to every invocation.
func WithExtraArgs(args ...string) Option {
	return func(e *Engine) {
		e.extraArgs = append(e.extraArgs, args...)
	}
}

// WithLogger sets the engine logger.
func WithLogger(l demo.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// Engine runs dsda-doom. It implements demo.ReplayEngine.
type Engine struct {
	binary    string
	iwad      string
	extraArgs []string
	exec      Executor
	logger    demo.Logger
}

var _ demo.ReplayEngine = (*Engine)(nil)

// New constructs an Engine for the binary and base game data file.
func New(binary, iwad string, opts ...Option) (*Engine, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil, errors.New("replay engine binary required")
	}
	e := &Engine{
		binary: binary,
		iwad:   strings.TrimSpace(iwad),
		exec:   commandExecutor{},
		logger: demo.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Args returns the command line used to play req.
func (e *Engine) Args(req demo.ReplayRequest) []string {
	var args []string
	if e.iwad != "" {
		args = append(args, "-iwad", e.iwad)
	}
	if req.AssetPath != "" && !sameFile(req.AssetPath, e.iwad) {
		args = append(args, "-file", req.AssetPath)
	}
	if req.Fast {
		args = append(args, "-fastdemo", req.RecordingPath)
	} else {
		args = append(args, "-playdemo", req.RecordingPath)
	}
	args = append(args, DefaultArgs...)
	return append(args, e.extraArgs...)
}

// Run plays the recording and parses the engine's output files. A playback
// that completes no level is reported as a desync.
func (e *Engine) Run(ctx context.Context, req demo.ReplayRequest) (*demo.ReplayOutput, error) {
	if req.WorkDir == "" {
		return nil, errors.New("replay work directory required")
	}
	if req.RecordingPath == "" {
		return nil, errors.New("recording path required")
	}

	// Stale statistics from an earlier run must not be mistaken for this one.
	for _, name := range []string{LevelstatFile, AnalysisFile} {
		if err := os.Remove(filepath.Join(req.WorkDir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("removing %s: %w", name, err)
		}
	}

	tail := newLineTail(outputTail)
	args := e.Args(req)
	e.logger.Debug("running replay engine", "binary", e.binary, "args", strings.Join(args, " "))
	runErr := e.exec.Run(ctx, req.WorkDir, e.binary, args, tail.add)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	levelstat, err := os.ReadFile(filepath.Join(req.WorkDir, LevelstatFile))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading %s: %w", LevelstatFile, err)
		}
		if runErr != nil && !isExitError(runErr) {
			return nil, fmt.Errorf("running replay engine: %w", runErr)
		}
		return &demo.ReplayOutput{Desync: true, Detail: desyncDetail(runErr, tail.String())}, nil
	}
	if runErr != nil {
		e.logger.Warn("replay engine exited with error but wrote statistics", "error", runErr)
	}
	if line := tail.desyncLine(); line != "" {
		return &demo.ReplayOutput{Desync: true, Detail: line}, nil
	}

	levels, total, err := ParseLevelstat(string(levelstat))
	if err != nil {
		return nil, err
	}
	out := &demo.ReplayOutput{Levels: levels, TotalTime: total}
	if len(levels) == 0 {
		out.Desync = true
		out.Detail = desyncDetail(runErr, tail.String())
		return out, nil
	}
	if total != "" {
		if tics, err := TimeToTics(total); err == nil {
			out.TotalTics = tics
		}
	}

	analysis, err := os.ReadFile(filepath.Join(req.WorkDir, AnalysisFile))
	switch {
	case err == nil:
		out.Analysis = ParseAnalysis(string(analysis))
	case errors.Is(err, os.ErrNotExist):
		e.logger.Warn("replay engine wrote no analysis", "recording", req.RecordingPath)
	default:
		return nil, fmt.Errorf("reading %s: %w", AnalysisFile, err)
	}
	return out, nil
}

func desyncDetail(runErr error, output string) string {
	detail := "no level was completed"
	if runErr != nil {
		detail += " (" + runErr.Error() + ")"
	}
	if output != "" {
		detail += ": " + output
	}
	return detail
}

func sameFile(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return filepath.Clean(a) == filepath.Clean(b)
}

// lineTail keeps the last n lines of output and the first line reporting a
// desync.
type lineTail struct {
	mu     sync.Mutex
	n      int
	lines  []string
	desync string
}

func newLineTail(n int) *lineTail {
	return &lineTail{n: n}
}

func (t *lineTail) add(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.desync == "" && strings.Contains(strings.ToLower(line), "desync") {
		t.desync = line
	}
	t.lines = append(t.lines, line)
	if len(t.lines) > t.n {
		t.lines = t.lines[len(t.lines)-t.n:]
	}
}

func (t *lineTail) desyncLine() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.desync
}

func (t *lineTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "; ")
}
