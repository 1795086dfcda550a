package demo

import (
	"fmt"
	"strings"
	"time"
)

// Severity of a validation issue.
type Severity string

const (
	SeverityBlocking Severity = "blocking"
	SeverityWarning  Severity = "warning"
)

// Issue is one validation finding.
type Issue struct {
	Field    FieldID  `json:"field"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// FieldAsset is the pseudo-field used for asset issues.
const FieldAsset FieldID = "asset"

// FieldRecording is the pseudo-field used for recording selection issues.
const FieldRecording FieldID = "recording"

// DefaultEpochCutoff is the earliest recording date the archive accepts.
var DefaultEpochCutoff = time.Date(1994, 1, 1, 0, 0, 0, 0, time.UTC)

// DefaultRequiredFields must have a value before submission.
var DefaultRequiredFields = []FieldID{
	FieldPlayers,
	FieldWad,
	FieldLevel,
	FieldCategory,
	FieldTime,
	FieldEngine,
	FieldRecordedAt,
}

// Policy configures validation.
type Policy struct {
	Required    []FieldID
	EpochCutoff time.Time
	// AssetRequired makes an unresolved or un-uploaded asset blocking.
	AssetRequired bool
}

// DefaultPolicy returns the archive's standard rules.
func DefaultPolicy() Policy {
	return Policy{
		Required:      DefaultRequiredFields,
		EpochCutoff:   DefaultEpochCutoff,
		AssetRequired: true,
	}
}

// Validate evaluates a record snapshot against the policy.
func Validate(v View, p Policy) []Issue {
	var issues []Issue
	blocking := func(f FieldID, format string, args ...any) {
		issues = append(issues, Issue{Field: f, Severity: SeverityBlocking, Message: fmt.Sprintf(format, args...)})
	}
	warning := func(f FieldID, format string, args ...any) {
		issues = append(issues, Issue{Field: f, Severity: SeverityWarning, Message: fmt.Sprintf(format, args...)})
	}

	for _, f := range p.Required {
		if v.Fields[f].Provenance == ProvenanceMissing {
			blocking(f, "required field is missing")
		}
	}

	if raw, ok := v.Fields[FieldRecordedAt].Value(); ok {
		date, err := ParseDate(raw)
		switch {
		case err != nil:
			blocking(FieldRecordedAt, "unrecognized date %q", raw)
		case !p.EpochCutoff.IsZero() && date.Before(p.EpochCutoff):
			blocking(FieldRecordedAt, "recorded %s, before the archive cutoff %s",
				date.Format(DateLayout), p.EpochCutoff.Format(DateLayout))
		}
	}

	if p.AssetRequired {
		a := v.Asset
		switch {
		case !a.State.Resolved():
			blocking(FieldAsset, "asset is not resolved")
		case a.State == StateNeedsUpload:
			blocking(FieldAsset, "asset %s must be uploaded first", a.Name)
		case a.UploadRequired():
			blocking(FieldAsset, "asset %s is not in the registry; upload it or mark it commercial", a.Name)
		}
	}

	if v.Selection != nil && v.Selection.Selected < 0 {
		warning(FieldRecording, "several recordings scored equally; choose one")
	}

	for _, f := range RecognizedFields {
		rec := v.Fields[f]
		if rec.Provenance == ProvenanceConflicting {
			warning(f, "sources disagree; confirm %q", rec.Chosen.Value)
		}
		for _, w := range rec.Warnings {
			if f == FieldRecordedAt && sameDate(w.Value, w.Chosen) {
				warning(f, "date format mismatch: %s wrote %q for %q", w.Source.Label(), w.Value, w.Chosen)
				continue
			}
			warning(f, "%s", w.Message)
		}
	}

	return issues
}

// CanSubmit reports whether issues contain no blocking entries.
func CanSubmit(issues []Issue) bool {
	for _, is := range issues {
		if is.Severity == SeverityBlocking {
			return false
		}
	}
	return true
}

// Blocking returns only the blocking issues.
func Blocking(issues []Issue) []Issue {
	var out []Issue
	for _, is := range issues {
		if is.Severity == SeverityBlocking {
			out = append(out, is)
		}
	}
	return out
}

var dateLayouts = []string{
	DateLayout,
	time.RFC3339,
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
	"2006/01/02",
	"01/02/2006",
	"January 2, 2006",
	"2 January 2006",
}

// ParseDate accepts the date spellings sources commonly hand in.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func sameDate(a, b string) bool {
	da, errA := ParseDate(a)
	db, errB := ParseDate(b)
	if errA != nil || errB != nil {
		return false
	}
	return da.UTC().Format(DateLayout) == db.UTC().Format(DateLayout)
}
