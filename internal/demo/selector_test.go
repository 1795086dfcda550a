package demo

import (
	"archive/zip"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeZip(t *testing.T, files map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "demo.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create zip: %v", err)
	}
	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: time.Date(2003, 4, 5, 6, 7, 8, 0, time.UTC),
		})
		if err != nil {
			t.Fatalf("failed to add %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("failed to close zip: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("failed to close file: %v", err)
	}
	return path
}

func TestExtractRecordings(t *testing.T) {
	path := writeZip(t, map[string]string{
		"sc01-123.lmp":            "demo one",
		"extra/SC02-200.LMP":      "demo two",
		"sc01-123.txt":            "notes",
		"__MACOSX/._sc01-123.lmp": "junk",
	})

	got, err := ExtractRecordings(path)
	if err != nil {
		t.Fatalf("ExtractRecordings() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(ExtractRecordings()) = %d, want 2: %v", len(got), got)
	}
	byName := map[string]RecordingCandidate{}
	for _, c := range got {
		byName[c.Filename] = c
	}
	one, ok := byName["sc01-123.lmp"]
	if !ok || string(one.Data) != "demo one" {
		t.Errorf("sc01-123.lmp = %+v, want its content", one)
	}
	if want := time.Date(2003, 4, 5, 6, 7, 8, 0, time.UTC); !one.Modified.Equal(want) {
		t.Errorf("Modified = %v, want %v", one.Modified, want)
	}
	if _, ok := byName["extra/SC02-200.LMP"]; !ok {
		t.Error("upper-case extension in a subdirectory was not extracted")
	}

	if _, err := ExtractRecordings(filepath.Join(t.TempDir(), "missing.zip")); err == nil {
		t.Error("ExtractRecordings() expected error for a missing archive")
	}
}

func TestLevelToken(t *testing.T) {
	tests := []struct {
		level string
		want  string
	}{
		{"Map 07", "07"},
		{"MAP7", "07"},
		{"E1M1", "e1m1"},
		{"e4m8s", "e4m8"},
		{"Map 01-32", "01"},
		{"Episode", "episode"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			if got := levelToken(tt.level); got != tt.want {
				t.Errorf("levelToken(%q) = %q, want %q", tt.level, got, tt.want)
			}
		})
	}
}

func TestScoreRecording(t *testing.T) {
	level, category := "Map 07", "UV Max"

	if a, b := ScoreRecording("sc07-123.lmp", level, category), ScoreRecording("sc08-123.lmp", level, category); a <= b {
		t.Errorf("matching level scored %d, other level %d", a, b)
	}
	if a, b := ScoreRecording("sc07-2007.lmp", level, category), ScoreRecording("sc2007.lmp", level, category); a <= b {
		t.Errorf("whole digit run scored %d, year match %d", a, b)
	}
	if a, b := ScoreRecording("sc07max.lmp", level, category), ScoreRecording("sc07.lmp", level, category); a <= b {
		t.Errorf("category hint scored %d, without hint %d", a, b)
	}
	if a, b := ScoreRecording("sc07.lmp", level, category), ScoreRecording("sc07bonus.lmp", level, category); a <= b {
		t.Errorf("primary scored %d, bonus %d", a, b)
	}
}

func TestSelectRecording(t *testing.T) {
	t.Run("no candidates", func(t *testing.T) {
		if _, err := SelectRecording(nil, "Map 01", "UV Speed"); !errors.Is(err, ErrNoRecordings) {
			t.Errorf("SelectRecording() error = %v, want ErrNoRecordings", err)
		}
	})

	t.Run("single candidate is always selected", func(t *testing.T) {
		sel, err := SelectRecording([]RecordingCandidate{{Filename: "whatever.lmp"}}, "Map 30", "Pacifist")
		if err != nil {
			t.Fatalf("SelectRecording() error = %v", err)
		}
		rec, err := sel.Recording()
		if err != nil || rec.Filename != "whatever.lmp" {
			t.Errorf("Recording() = %v, %v; want whatever.lmp", rec, err)
		}
		if sel.Provenance != ProvenanceAutomatic {
			t.Errorf("Provenance = %s, want automatic", sel.Provenance)
		}
	})

	t.Run("unique best is preselected", func(t *testing.T) {
		sel, err := SelectRecording([]RecordingCandidate{
			{Filename: "sc08-200.lmp"},
			{Filename: "sc07-123.lmp"},
			{Filename: "sc07-bonus.lmp"},
		}, "Map 07", "UV Speed")
		if err != nil {
			t.Fatalf("SelectRecording() error = %v", err)
		}
		rec, err := sel.Recording()
		if err != nil || rec.Filename != "sc07-123.lmp" {
			t.Errorf("Recording() = %v, %v; want sc07-123.lmp", rec.Filename, err)
		}
	})

	t.Run("tie leaves nothing selected", func(t *testing.T) {
		sel, err := SelectRecording([]RecordingCandidate{
			{Filename: "b07.lmp"},
			{Filename: "a07.lmp"},
		}, "Map 07", "")
		if err != nil {
			t.Fatalf("SelectRecording() error = %v", err)
		}
		if _, err := sel.Recording(); !errors.Is(err, ErrNoSelection) {
			t.Errorf("Recording() error = %v, want ErrNoSelection", err)
		}
		if sel.Provenance != ProvenanceMissing {
			t.Errorf("Provenance = %s, want missing", sel.Provenance)
		}
		if sel.Candidates[0].Filename != "a07.lmp" {
			t.Errorf("tied candidates not ordered by name: %v", sel.Candidates)
		}

		if err := sel.Override("b07.lmp"); err != nil {
			t.Fatalf("Override() error = %v", err)
		}
		if rec, _ := sel.Recording(); rec.Filename != "b07.lmp" || sel.Provenance != ProvenanceManual {
			t.Errorf("after Override() = %s (%s), want b07.lmp manual", rec.Filename, sel.Provenance)
		}
		if err := sel.Override("c07.lmp"); !errors.Is(err, ErrRecordingNotFound) {
			t.Errorf("Override() error = %v, want ErrRecordingNotFound", err)
		}
	})

	t.Run("override by base name", func(t *testing.T) {
		sel, _ := SelectRecording([]RecordingCandidate{{Filename: "dir/a.lmp"}, {Filename: "dir/b.lmp"}}, "", "")
		if err := sel.Override("b.lmp"); err != nil {
			t.Errorf("Override() error = %v", err)
		}
	})
}

func TestSimilarity(t *testing.T) {
	if got := similarity("abc", "abc"); got != 1 {
		t.Errorf("similarity(equal) = %v, want 1", got)
	}
	if got := similarity("", ""); got != 1 {
		t.Errorf("similarity(empty) = %v, want 1", got)
	}
	if got := similarity("abc", "xyz"); got != 0 {
		t.Errorf("similarity(disjoint) = %v, want 0", got)
	}
	// Three edits over seven runes.
	if got := similarity("kitten", "sitting"); got < 0.57 || got > 0.58 {
		t.Errorf("similarity(kitten, sitting) = %v, want 4/7", got)
	}
	if a, b := similarity("sc01-042", "sc01-043"), similarity("sc01-042", "bonus"); a <= b {
		t.Errorf("similarity() ranks near match %v below unrelated %v", a, b)
	}
}
