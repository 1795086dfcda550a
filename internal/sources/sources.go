// Package sources reads candidate values handed in by parsers and the
// user's manual field file.
package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"dsda-uploader/internal/demo"
)

// handIn is a parser's output file. It is either a list of candidates or a
// document that applies one source and confidence to a field map.
type handIn struct {
	Source     demo.Source           `json:"source" yaml:"source"`
	Confidence *float64              `json:"confidence" yaml:"confidence"`
	Fields     map[string]string     `json:"fields" yaml:"fields"`
	Candidates []demo.CandidateValue `json:"candidates" yaml:"candidates"`
}

// File is a hand-in file on disk. It implements demo.CandidateSource.
type File struct {
	path string
}

var _ demo.CandidateSource = (*File)(nil)

// NewFile creates a source for the JSON or YAML file at path.
func NewFile(path string) *File {
	return &File{path: path}
}

// Name returns the file's base name.
func (f *File) Name() string {
	return filepath.Base(f.path)
}

// Collect reads the file and returns its candidates in a stable order.
func (f *File) Collect(ctx context.Context) ([]demo.CandidateValue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("reading hand-in file: %w", err)
	}
	return ParseHandIn(data, isJSON(f.path, data))
}

// ParseHandIn decodes hand-in content.
func ParseHandIn(data []byte, asJSON bool) ([]demo.CandidateValue, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var doc handIn
	if trimmed[0] == '[' || (!asJSON && trimmed[0] == '-') {
		if err := decode(trimmed, asJSON, &doc.Candidates); err != nil {
			return nil, err
		}
	} else if err := decode(trimmed, asJSON, &doc); err != nil {
		return nil, err
	}

	out := slices.Clone(doc.Candidates)
	if len(doc.Fields) > 0 {
		if !doc.Source.Valid() {
			return nil, fmt.Errorf("%w: hand-in source %q", demo.ErrInvalidCandidate, doc.Source)
		}
		confidence := demo.Certain
		if doc.Confidence != nil {
			confidence = *doc.Confidence
		}
		keys := make([]string, 0, len(doc.Fields))
		for k := range doc.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			field, err := demo.ParseFieldID(k)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", demo.ErrInvalidCandidate, err)
			}
			out = append(out, demo.CandidateValue{
				Field:      field,
				Value:      strings.TrimSpace(doc.Fields[k]),
				Source:     doc.Source,
				Confidence: confidence,
			})
		}
	}

	for i, c := range out {
		if err := demo.ValidateCandidate(c); err != nil {
			return nil, fmt.Errorf("candidate %d: %w", i, err)
		}
	}
	return out, nil
}

func decode(data []byte, asJSON bool, v any) error {
	if asJSON {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(v); err != nil {
			return fmt.Errorf("decoding JSON hand-in: %w", err)
		}
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decoding YAML hand-in: %w", err)
	}
	return nil
}

func isJSON(path string, data []byte) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return true
	case ".yaml", ".yml":
		return false
	}
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}

// Discover returns a source for every hand-in file in dir, sorted by name.
func Discover(dir string) ([]demo.CandidateSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading hand-in directory: %w", err)
	}
	var out []demo.CandidateSource
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".json", ".yaml", ".yml":
			out = append(out, NewFile(filepath.Join(dir, e.Name())))
		}
	}
	return out, nil
}
