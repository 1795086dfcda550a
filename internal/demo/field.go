package demo

import (
	"fmt"
	"slices"
	"strings"
)

// FieldID identifies one of the recognized demo fields.
type FieldID string

const (
	FieldPlayers    FieldID = "players"
	FieldWad        FieldID = "wad"
	FieldLevel      FieldID = "level"
	FieldCategory   FieldID = "category"
	FieldTime       FieldID = "time"
	FieldTicExact   FieldID = "tic_exact"
	FieldTAS        FieldID = "tas"
	FieldCoop       FieldID = "coop"
	FieldEngine     FieldID = "engine"
	FieldRecordedAt FieldID = "recorded_at"
	FieldKills      FieldID = "kills"
	FieldItems      FieldID = "items"
	FieldSecrets    FieldID = "secrets"
	FieldNotes      FieldID = "notes"
	FieldVideoLink  FieldID = "video_link"
)

// RecognizedFields is the fixed set of fields every Record carries, in display order.
var RecognizedFields = []FieldID{
	FieldPlayers,
	FieldWad,
	FieldLevel,
	FieldCategory,
	FieldTime,
	FieldTicExact,
	FieldTAS,
	FieldCoop,
	FieldEngine,
	FieldRecordedAt,
	FieldKills,
	FieldItems,
	FieldSecrets,
	FieldNotes,
	FieldVideoLink,
}

// IsRecognized reports whether f is one of the RecognizedFields.
func IsRecognized(f FieldID) bool {
	return slices.Contains(RecognizedFields, f)
}

// ParseFieldID converts a user-supplied name into a FieldID.
func ParseFieldID(s string) (FieldID, error) {
	f := FieldID(strings.ToLower(strings.TrimSpace(s)))
	if !IsRecognized(f) {
		return "", fmt.Errorf("unknown field %q", s)
	}
	return f, nil
}

// Source tags where a candidate value came from.
type Source string

const (
	SourceManual          Source = "manual"
	SourceForumPost       Source = "forum_post"
	SourceTextFile        Source = "text_file"
	SourceRecordingHeader Source = "recording_header"
	SourceReplayStats     Source = "replay_stats"
)

// priority orders automatic sources when confidence ties. Higher wins.
func (s Source) priority() int {
	switch s {
	case SourceReplayStats:
		return 4
	case SourceRecordingHeader:
		return 3
	case SourceTextFile:
		return 2
	case SourceForumPost:
		return 1
	default:
		return 0
	}
}

// Valid reports whether s is a known source tag.
func (s Source) Valid() bool {
	return s == SourceManual || s.priority() > 0
}

// Label returns a human readable name used in warnings.
func (s Source) Label() string {
	switch s {
	case SourceManual:
		return "manual entry"
	case SourceForumPost:
		return "forum post"
	case SourceTextFile:
		return "text file"
	case SourceRecordingHeader:
		return "recording header"
	case SourceReplayStats:
		return "replay stats"
	default:
		return string(s)
	}
}

// Confidence levels handed in by parsers.
const (
	Certain  = 1.0
	Possible = 0.5
)

// CandidateValue is one source's opinion about a field. Immutable once produced.
type CandidateValue struct {
	Field      FieldID `json:"field" yaml:"field"`
	Value      string  `json:"value" yaml:"value"`
	Source     Source  `json:"source" yaml:"source"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
}

func (c CandidateValue) String() string {
	return fmt.Sprintf("%s=%q (%s, %.2f)", c.Field, c.Value, c.Source, c.Confidence)
}

// Provenance classifies how a field's chosen value was obtained.
type Provenance string

const (
	ProvenanceManual      Provenance = "manual"
	ProvenanceAutomatic   Provenance = "automatic"
	ProvenanceMissing     Provenance = "missing"
	ProvenanceConflicting Provenance = "conflicting"
)

// Warning records a disagreement between the chosen value and a discarded candidate.
type Warning struct {
	Field   FieldID `json:"field"`
	Source  Source  `json:"source"`
	Value   string  `json:"value"`
	Chosen  string  `json:"chosen"`
	Message string  `json:"message"`
}

// FieldRecord is the reconciled state of a single field.
type FieldRecord struct {
	Field      FieldID
	Chosen     *CandidateValue
	Provenance Provenance
	Discarded  []CandidateValue
	Warnings   []Warning
}

// NewFieldRecord returns the empty, Missing record for f.
func NewFieldRecord(f FieldID) FieldRecord {
	return FieldRecord{Field: f, Provenance: ProvenanceMissing}
}

// Value returns the chosen value and whether one is present.
func (r FieldRecord) Value() (string, bool) {
	if r.Chosen == nil {
		return "", false
	}
	return r.Chosen.Value, true
}

// Clone returns a deep copy so callers never share slices with the reconciler.
func (r FieldRecord) Clone() FieldRecord {
	out := FieldRecord{
		Field:      r.Field,
		Provenance: r.Provenance,
		Discarded:  slices.Clone(r.Discarded),
		Warnings:   slices.Clone(r.Warnings),
	}
	if r.Chosen != nil {
		c := *r.Chosen
		out.Chosen = &c
	}
	return out
}

// Fields is a snapshot of every FieldRecord of a Record.
type Fields map[FieldID]FieldRecord

// Value returns the chosen value for f, or "" when missing.
func (fs Fields) Value(f FieldID) string {
	v, _ := fs[f].Value()
	return v
}

// Clone deep-copies the snapshot.
func (fs Fields) Clone() Fields {
	out := make(Fields, len(fs))
	for k, v := range fs {
		out[k] = v.Clone()
	}
	return out
}
