package replay_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"dsda-uploader/internal/demo"
	"dsda-uploader/internal/replay"
)

type stubExecutor struct {
	files  map[string]string
	lines  []string
	err    error
	calls  int
	dir    string
	binary string
	args   []string
}

func (s *stubExecutor) Run(ctx context.Context, dir, binary string, args []string, onOutput func(string)) error {
	s.calls++
	s.dir = dir
	s.binary = binary
	s.args = append([]string(nil), args...)
	for _, line := range s.lines {
		onOutput(line)
	}
	for name, content := range s.files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			return err
		}
	}
	return s.err
}

func newRequest(t *testing.T) demo.ReplayRequest {
	t.Helper()
	dir := t.TempDir()
	return demo.ReplayRequest{
		AssetPath:     "/wads/scythe.wad",
		RecordingPath: filepath.Join(dir, "sc01-123.lmp"),
		WorkDir:       dir,
		Fast:          true,
	}
}

func TestNew_RequiresBinary(t *testing.T) {
	if _, err := replay.New("  ", "doom2.wad"); err == nil {
		t.Error("New() expected error for empty binary")
	}
}

func TestEngine_Args(t *testing.T) {
	e, err := replay.New("dsda-doom", "/iwads/doom2.wad", replay.WithExtraArgs("-complevel", "2"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	req := demo.ReplayRequest{AssetPath: "/wads/scythe.wad", RecordingPath: "/tmp/sc01.lmp", Fast: true}

	got := e.Args(req)
	want := []string{
		"-iwad", "/iwads/doom2.wad",
		"-file", "/wads/scythe.wad",
		"-fastdemo", "/tmp/sc01.lmp",
		"-levelstat", "-analysis", "-nosound", "-nomusic", "-nodraw", "-quiet",
		"-complevel", "2",
	}
	if !slices.Equal(got, want) {
		t.Errorf("Args() = %v, want %v", got, want)
	}

	// Playing against the base game itself adds no -file.
	req.AssetPath = "/iwads/doom2.wad"
	if slices.Contains(e.Args(req), "-file") {
		t.Errorf("Args() = %v, want no -file for the base game", e.Args(req))
	}
}

func TestEngine_Run(t *testing.T) {
	exec := &stubExecutor{files: map[string]string{
		replay.LevelstatFile: "MAP01 - 0:41.26 (0:41)  K: 20/20  I: 3/4  S: 1/1\n",
		replay.AnalysisFile:  "skill 4\ncategory UV Max\nturbo 0\n",
	}}
	e, err := replay.New("dsda-doom", "doom2.wad", replay.WithExecutor(exec))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	req := newRequest(t)

	out, err := e.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if exec.calls != 1 {
		t.Errorf("executor calls = %d, want 1", exec.calls)
	}
	if exec.dir != req.WorkDir {
		t.Errorf("executor dir = %q, want %q", exec.dir, req.WorkDir)
	}
	if out.Desync {
		t.Errorf("Desync = true, want false (%s)", out.Detail)
	}
	if len(out.Levels) != 1 || out.Levels[0].Level != "Map 01" {
		t.Errorf("Levels = %+v, want Map 01", out.Levels)
	}
	if out.TotalTics != 41*replay.TicRate {
		t.Errorf("TotalTics = %d, want %d", out.TotalTics, 41*replay.TicRate)
	}
	if out.Analysis["category"] != "UV Max" {
		t.Errorf("Analysis[category] = %q, want UV Max", out.Analysis["category"])
	}
}

func TestEngine_Run_NoLevelstatIsDesync(t *testing.T) {
	exec := &stubExecutor{lines: []string{"Demo is from a different game version!"}}
	e, _ := replay.New("dsda-doom", "doom2.wad", replay.WithExecutor(exec))

	out, err := e.Run(context.Background(), newRequest(t))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !out.Desync {
		t.Fatal("Desync = false, want true")
	}
	if !strings.Contains(out.Detail, "different game version") {
		t.Errorf("Detail = %q, want engine output included", out.Detail)
	}
}

func TestEngine_Run_StaleOutputRemoved(t *testing.T) {
	exec := &stubExecutor{}
	e, _ := replay.New("dsda-doom", "doom2.wad", replay.WithExecutor(exec))
	req := newRequest(t)
	stale := "MAP01 - 0:41.26 (0:41)  K: 20/20  I: 3/4  S: 1/1\n"
	if err := os.WriteFile(filepath.Join(req.WorkDir, replay.LevelstatFile), []byte(stale), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	out, err := e.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !out.Desync {
		t.Error("Desync = false, want true when this run wrote nothing")
	}
}

func TestEngine_Run_ExecutorFailure(t *testing.T) {
	exec := &stubExecutor{err: errors.New("start command: executable not found")}
	e, _ := replay.New("dsda-doom", "doom2.wad", replay.WithExecutor(exec))

	if _, err := e.Run(context.Background(), newRequest(t)); err == nil {
		t.Error("Run() expected error when the engine cannot start")
	}
}

func TestEngine_Run_Cancelled(t *testing.T) {
	exec := &stubExecutor{}
	e, _ := replay.New("dsda-doom", "doom2.wad", replay.WithExecutor(exec))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Run(ctx, newRequest(t))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestEngine_Run_MalformedLevelstat(t *testing.T) {
	exec := &stubExecutor{files: map[string]string{replay.LevelstatFile: "garbage\n"}}
	e, _ := replay.New("dsda-doom", "doom2.wad", replay.WithExecutor(exec))

	if _, err := e.Run(context.Background(), newRequest(t)); err == nil {
		t.Error("Run() expected error for malformed levelstat")
	}
}

func TestEngine_Run_DesyncLine(t *testing.T) {
	exec := &stubExecutor{
		lines: []string{"Playing demo", "Demo desync detected at tic 1402"},
		files: map[string]string{replay.LevelstatFile: "MAP01 - 0:41.26 (0:41)  K: 20/20  I: 3/4  S: 1/1\n"},
	}
	e, _ := replay.New("dsda-doom", "doom2.wad", replay.WithExecutor(exec))

	out, err := e.Run(context.Background(), newRequest(t))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !out.Desync {
		t.Fatal("Desync = false, want true")
	}
	if !strings.Contains(out.Detail, "tic 1402") {
		t.Errorf("Detail = %q, want the desync line", out.Detail)
	}
}
