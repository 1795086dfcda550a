package sources

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"dsda-uploader/internal/demo"
)

// ManualEdits are the user's field values keyed by field.
type ManualEdits map[demo.FieldID]string

// Fields returns the edited fields in display order.
func (m ManualEdits) Fields() []demo.FieldID {
	var out []demo.FieldID
	for _, f := range demo.RecognizedFields {
		if _, ok := m[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

// LoadManual reads a YAML file of field: value pairs. A missing file yields
// no edits.
func LoadManual(path string) (ManualEdits, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return ManualEdits{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading manual file: %w", err)
	}

	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing manual file: %w", err)
	}

	edits := make(ManualEdits, len(raw))
	for k, v := range raw {
		f, err := demo.ParseFieldID(k)
		if err != nil {
			return nil, fmt.Errorf("manual file %s: %w", filepath.Base(path), err)
		}
		edits[f] = strings.TrimSpace(v)
	}
	return edits, nil
}

// SaveManual writes edits as YAML, sorted by field name.
func SaveManual(path string, edits ManualEdits) error {
	keys := make([]string, 0, len(edits))
	for f := range edits {
		keys = append(keys, string(f))
	}
	sort.Strings(keys)

	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, k := range keys {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: k},
			&yaml.Node{Kind: yaml.ScalarNode, Value: edits[demo.FieldID(k)], Style: yaml.DoubleQuotedStyle},
		)
	}
	data, err := yaml.Marshal(node)
	if err != nil {
		return fmt.Errorf("encoding manual file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating manual file directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing manual file: %w", err)
	}
	return nil
}

// Apply records every edit on rec as a manual value.
func (m ManualEdits) Apply(rec *demo.Record) error {
	for _, f := range m.Fields() {
		if err := rec.SetManual(f, m[f]); err != nil {
			return fmt.Errorf("applying manual %s: %w", f, err)
		}
	}
	return nil
}
