package sources

import (
	"path/filepath"
	"testing"

	"dsda-uploader/internal/demo"
)

func TestLoadManual(t *testing.T) {
	path := writeFile(t, t.TempDir(), "manual.yaml", "recorded_at: 1999-05-01\nPlayers: \" Runner \"\n")

	edits, err := LoadManual(path)
	if err != nil {
		t.Fatalf("LoadManual() error = %v", err)
	}
	if edits[demo.FieldRecordedAt] != "1999-05-01" {
		t.Errorf("recorded_at = %q, want 1999-05-01", edits[demo.FieldRecordedAt])
	}
	if edits[demo.FieldPlayers] != "Runner" {
		t.Errorf("players = %q, want Runner", edits[demo.FieldPlayers])
	}
	fields := edits.Fields()
	if len(fields) != 2 || fields[0] != demo.FieldPlayers {
		t.Errorf("Fields() = %v, want display order", fields)
	}
}

func TestLoadManual_MissingFile(t *testing.T) {
	edits, err := LoadManual(filepath.Join(t.TempDir(), "none.yaml"))
	if err != nil {
		t.Fatalf("LoadManual() error = %v", err)
	}
	if len(edits) != 0 {
		t.Errorf("LoadManual() = %v, want empty", edits)
	}
}

func TestLoadManual_UnknownField(t *testing.T) {
	path := writeFile(t, t.TempDir(), "manual.yaml", "speed: fast\n")
	if _, err := LoadManual(path); err == nil {
		t.Error("LoadManual() expected error for unknown field")
	}
}

func TestSaveManual_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "manual.yaml")
	edits := ManualEdits{demo.FieldTime: "0:41", demo.FieldNotes: "Also reality, no saves"}

	if err := SaveManual(path, edits); err != nil {
		t.Fatalf("SaveManual() error = %v", err)
	}
	got, err := LoadManual(path)
	if err != nil {
		t.Fatalf("LoadManual() error = %v", err)
	}
	if len(got) != 2 || got[demo.FieldTime] != "0:41" || got[demo.FieldNotes] != "Also reality, no saves" {
		t.Errorf("LoadManual() = %v, want %v", got, edits)
	}
}

func TestManualEdits_Apply(t *testing.T) {
	rec := demo.NewRecord("rec-1")
	if err := rec.Submit(demo.CandidateValue{Field: demo.FieldRecordedAt, Value: "1999-05-02", Source: demo.SourceTextFile, Confidence: demo.Certain}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	edits := ManualEdits{demo.FieldRecordedAt: "1999-05-01"}
	if err := edits.Apply(rec); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	fr := rec.Field(demo.FieldRecordedAt)
	if fr.Provenance != demo.ProvenanceManual {
		t.Errorf("Provenance = %s, want manual", fr.Provenance)
	}
	if v, _ := fr.Value(); v != "1999-05-01" {
		t.Errorf("Value = %q, want 1999-05-01", v)
	}
}
