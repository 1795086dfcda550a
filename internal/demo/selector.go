package demo

import (
	"archive/zip"
	"fmt"
	"io"
	"path"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/agext/levenshtein"
	"golang.org/x/text/cases"
)

// RecordingCandidate is one recording file found in an archive.
type RecordingCandidate struct {
	Filename string
	Data     []byte
	Modified time.Time
	Score    int
}

// Selection is the chosen recording of a Record. Like a FieldRecord it is an
// automatic value the user may override.
type Selection struct {
	Candidates []RecordingCandidate
	// Selected is an index into Candidates, or -1 when nothing is selected.
	Selected   int
	Provenance Provenance
}

// Recording returns the selected candidate.
func (s Selection) Recording() (RecordingCandidate, error) {
	if s.Selected < 0 || s.Selected >= len(s.Candidates) {
		return RecordingCandidate{}, ErrNoSelection
	}
	return s.Candidates[s.Selected], nil
}

// Override selects filename as a manual choice.
func (s *Selection) Override(filename string) error {
	for i, c := range s.Candidates {
		if c.Filename == filename || path.Base(c.Filename) == filename {
			s.Selected = i
			s.Provenance = ProvenanceManual
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrRecordingNotFound, filename)
}

func (s Selection) clone() Selection {
	return Selection{
		Candidates: slices.Clone(s.Candidates),
		Selected:   s.Selected,
		Provenance: s.Provenance,
	}
}

const recordingExt = ".lmp"

// ExtractRecordings reads every recording file from the zip archive at zipPath.
func ExtractRecordings(zipPath string) ([]RecordingCandidate, error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	defer zr.Close()

	var out []RecordingCandidate
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !IsRecordingFilename(f.Name) {
			continue
		}
		// Skip resource fork junk created by macOS archivers.
		if strings.HasPrefix(f.Name, "__MACOSX/") || strings.Contains(f.Name, "/__MACOSX/") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", f.Name, err)
		}
		out = append(out, RecordingCandidate{
			Filename: f.Name,
			Data:     data,
			Modified: f.Modified,
		})
	}
	return out, nil
}

// IsRecordingFilename reports whether name looks like a recording file.
func IsRecordingFilename(name string) bool {
	return strings.EqualFold(path.Ext(name), recordingExt)
}

var (
	digitsRe    = regexp.MustCompile(`\d+`)
	episodeRe   = regexp.MustCompile(`(?i)e(\d)m(\d)`)
	secondaryRe = regexp.MustCompile(`bonus|demo[2-9]`)
)

// fold case-folds s. A Caser keeps state, so one is created per call.
func fold(s string) string {
	return cases.Fold().String(s)
}

// Score weights.
const (
	scoreLevelToken   = 50
	scoreSimilarity   = 20
	scoreCategoryHint = 10
	penaltySecondary  = 40
)

// ScoreRecording rates how likely filename is the recording for the declared
// level and category. Higher is better.
func ScoreRecording(filename, level, category string) int {
	stem := fold(strings.TrimSuffix(path.Base(filename), path.Ext(filename)))
	score := 0

	if token := levelToken(level); token != "" {
		if containsLevelToken(stem, token) {
			score += scoreLevelToken
		}
		score += int(similarity(stem, token) * scoreSimilarity)
	}

	for _, hint := range categoryHints(category) {
		if strings.Contains(stem, hint) {
			score += scoreCategoryHint
			break
		}
	}

	if secondaryRe.MatchString(stem) {
		score -= penaltySecondary
	}
	return score
}

// SelectRecording scores the candidates and picks one. A single candidate is
// always selected; several candidates are pre-selected only when one has a
// strictly higher score than every other.
func SelectRecording(candidates []RecordingCandidate, level, category string) (*Selection, error) {
	if len(candidates) == 0 {
		return nil, ErrNoRecordings
	}

	scored := slices.Clone(candidates)
	for i := range scored {
		scored[i].Score = ScoreRecording(scored[i].Filename, level, category)
	}
	slices.SortStableFunc(scored, func(a, b RecordingCandidate) int {
		if a.Score != b.Score {
			return b.Score - a.Score
		}
		return strings.Compare(a.Filename, b.Filename)
	})

	sel := &Selection{Candidates: scored, Selected: -1, Provenance: ProvenanceMissing}
	if len(scored) == 1 || scored[0].Score > scored[1].Score {
		sel.Selected = 0
		sel.Provenance = ProvenanceAutomatic
	}
	return sel, nil
}

// levelToken turns a declared level ("Map 07", "E1M1", "MAP07") into the
// compact token found in filenames ("07", "e1m1").
func levelToken(level string) string {
	level = strings.TrimSpace(level)
	if level == "" {
		return ""
	}
	if m := episodeRe.FindStringSubmatch(level); m != nil {
		return "e" + m[1] + "m" + m[2]
	}
	if d := digitsRe.FindString(level); d != "" {
		if len(d) == 1 {
			d = "0" + d
		}
		return d
	}
	return fold(strings.ReplaceAll(level, " ", ""))
}

func containsLevelToken(stem, token string) bool {
	if strings.Contains(stem, token) && !digitsRe.MatchString(token[:1]) {
		return true
	}
	// Numeric tokens must match a whole digit run so "07" does not match "2007".
	for _, d := range digitsRe.FindAllString(stem, -1) {
		if d == token || (len(d) <= 2 && strings.TrimLeft(d, "0") == strings.TrimLeft(token, "0")) {
			return true
		}
	}
	return false
}

func categoryHints(category string) []string {
	c := fold(category)
	switch {
	case strings.Contains(c, "max"):
		return []string{"max", "mx"}
	case strings.Contains(c, "nightmare"), c == "nm 100s", c == "nm speed":
		return []string{"nm"}
	case strings.Contains(c, "pacifist"):
		return []string{"pacifist", "pac"}
	case strings.Contains(c, "tyson"):
		return []string{"tyson"}
	case strings.Contains(c, "nomo"):
		return []string{"nomo"}
	case strings.Contains(c, "speed"):
		return []string{"speed", "uv"}
	default:
		return nil
	}
}

// similarity is a normalized edit-distance score in [0, 1].
func similarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	return levenshtein.Similarity(a, b, nil)
}
