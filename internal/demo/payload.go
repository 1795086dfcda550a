package demo

import (
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"strings"
)

// Placeholder is submitted for archive-mandatory values nobody supplied.
const Placeholder = "UNKNOWN"

// Tag is a free-text note shown with a demo.
type Tag struct {
	Show bool   `json:"show"`
	Text string `json:"text"`
}

// FileRef names the uploaded recording file.
type FileRef struct {
	Name string `json:"name"`
}

// DemoPayload is the archive's demo representation.
type DemoPayload struct {
	TAS        bool     `json:"tas"`
	SoloNet    bool     `json:"solo_net"`
	Guys       int      `json:"guys"`
	Version    string   `json:"version"`
	Wad        string   `json:"wad"`
	Engine     string   `json:"engine"`
	Time       string   `json:"time"`
	Level      string   `json:"level"`
	Levelstat  string   `json:"levelstat"`
	Category   string   `json:"category"`
	SecretExit bool     `json:"secret_exit"`
	RecordedAt string   `json:"recorded_at"`
	Players    []string `json:"players"`
	TicExact   bool     `json:"tic_exact"`
	Kills      string   `json:"kills,omitempty"`
	Items      string   `json:"items,omitempty"`
	Secrets    string   `json:"secrets,omitempty"`
	VideoLink  string   `json:"video_link,omitempty"`
	Tags       []Tag    `json:"tags,omitempty"`
	File       *FileRef `json:"file,omitempty"`
}

// Payload is the body of a first-time submission.
type Payload struct {
	Demo DemoPayload `json:"demo"`
}

// Correction is the body of a post-acceptance update. It always carries the
// identity issued on acceptance.
type Correction struct {
	RecordID int64          `json:"record_id"`
	FileID   int64          `json:"file_id"`
	Changes  map[string]any `json:"changes"`
}

// BuildPayload converts a record snapshot into the archive payload.
func BuildPayload(v View) (Payload, error) {
	f := v.Fields
	d := DemoPayload{
		Version:   "0",
		Wad:       orPlaceholder(f.Value(FieldWad)),
		Engine:    orPlaceholder(f.Value(FieldEngine)),
		Time:      f.Value(FieldTime),
		Category:  orPlaceholder(f.Value(FieldCategory)),
		Kills:     f.Value(FieldKills),
		Items:     f.Value(FieldItems),
		Secrets:   f.Value(FieldSecrets),
		VideoLink: f.Value(FieldVideoLink),
	}

	var err error
	if d.TAS, err = boolField(f, FieldTAS); err != nil {
		return Payload{}, err
	}
	if d.SoloNet, err = boolField(f, FieldCoop); err != nil {
		return Payload{}, err
	}
	if d.TicExact, err = boolField(f, FieldTicExact); err != nil {
		return Payload{}, err
	}

	level := f.Value(FieldLevel)
	if strings.HasSuffix(level, "s") {
		d.SecretExit = true
		level = strings.TrimSuffix(level, "s")
	}
	d.Level = orPlaceholder(level)
	if strings.Contains(d.Level, "-") {
		d.Levelstat = v.Levelstat
	} else {
		d.Levelstat = d.Time
	}

	d.Players = SplitList(f.Value(FieldPlayers))
	d.Guys = max(len(d.Players), 1)

	if raw := f.Value(FieldRecordedAt); raw != "" {
		date, err := ParseDate(raw)
		if err != nil {
			return Payload{}, fmt.Errorf("recorded_at: %w", err)
		}
		d.RecordedAt = date.UTC().Format(DateLayout)
	}

	if notes := f.Value(FieldNotes); notes != "" {
		for _, n := range SplitList(notes) {
			d.Tags = append(d.Tags, Tag{Show: true, Text: n})
		}
	}

	if v.Selection != nil {
		if rec, err := v.Selection.Recording(); err == nil {
			d.File = &FileRef{Name: path.Base(rec.Filename)}
		}
	}

	return Payload{Demo: d}, nil
}

// BuildCorrection builds a correction carrying only the changed fields.
func BuildCorrection(v View, id Identity, changed []FieldID) (Correction, error) {
	p, err := BuildPayload(v)
	if err != nil {
		return Correction{}, err
	}

	raw, err := json.Marshal(p.Demo)
	if err != nil {
		return Correction{}, fmt.Errorf("encoding payload: %w", err)
	}
	var all map[string]any
	if err := json.Unmarshal(raw, &all); err != nil {
		return Correction{}, fmt.Errorf("decoding payload: %w", err)
	}

	changes := make(map[string]any)
	for _, f := range changed {
		for _, key := range payloadKeys(f) {
			if val, ok := all[key]; ok {
				changes[key] = val
			}
		}
	}
	return Correction{RecordID: id.RecordID, FileID: id.FileID, Changes: changes}, nil
}

// payloadKeys maps a field to the payload keys derived from it.
func payloadKeys(f FieldID) []string {
	switch f {
	case FieldCoop:
		return []string{"solo_net"}
	case FieldPlayers:
		return []string{"players", "guys"}
	case FieldLevel:
		return []string{"level", "secret_exit"}
	case FieldTime:
		return []string{"time", "levelstat"}
	case FieldNotes:
		return []string{"tags"}
	default:
		return []string{string(f)}
	}
}

func orPlaceholder(s string) string {
	if strings.TrimSpace(s) == "" {
		return Placeholder
	}
	return s
}

func boolField(f Fields, id FieldID) (bool, error) {
	raw := f.Value(id)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(raw)))
	if err != nil {
		return false, fmt.Errorf("%s: %q is not a boolean", id, raw)
	}
	return b, nil
}

// SplitList splits a comma separated field value, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
