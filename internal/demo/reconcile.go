package demo

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
)

// Reconcile folds one incoming candidate into an existing FieldRecord and returns
// the updated record. The input record is not modified.
//
// Precedence: Manual > Automatic (confidence, then source priority) > Missing.
// Candidates that lose are kept in Discarded and produce a Warning when their
// value differs from the chosen one. Applying a candidate that is already part
// of the record is a no-op.
func Reconcile(existing FieldRecord, incoming CandidateValue) FieldRecord {
	out := existing.Clone()
	if out.Field == "" {
		out.Field = incoming.Field
		out.Provenance = ProvenanceMissing
	}
	if incoming.Field != out.Field {
		return out
	}
	if out.Chosen != nil && *out.Chosen == incoming {
		return out
	}
	if slices.Contains(out.Discarded, incoming) {
		return out
	}

	if strings.TrimSpace(incoming.Value) == "" {
		// An empty manual value clears the user's edit; empty automatic values carry nothing.
		if incoming.Source == SourceManual && out.Chosen != nil && out.Chosen.Source == SourceManual {
			out.Chosen = nil
			promoteBestDiscarded(&out)
			finalize(&out)
		}
		return out
	}

	switch {
	case out.Chosen == nil:
		c := incoming
		out.Chosen = &c
	case incoming.Source == SourceManual && out.Chosen.Source == SourceManual:
		c := incoming
		out.Chosen = &c
	case outranks(incoming, *out.Chosen):
		out.Discarded = append(out.Discarded, *out.Chosen)
		c := incoming
		out.Chosen = &c
	default:
		out.Discarded = append(out.Discarded, incoming)
	}

	finalize(&out)
	return out
}

// ReconcileAll reconciles an ordered candidate list from scratch. Candidates for
// unrecognized fields are skipped.
func ReconcileAll(candidates []CandidateValue) Fields {
	fields := emptyFields()
	for _, c := range candidates {
		existing, ok := fields[c.Field]
		if !ok {
			continue
		}
		fields[c.Field] = Reconcile(existing, c)
	}
	return fields
}

func emptyFields() Fields {
	fields := make(Fields, len(RecognizedFields))
	for _, f := range RecognizedFields {
		fields[f] = NewFieldRecord(f)
	}
	return fields
}

// outranks reports whether a should replace b as the chosen value.
func outranks(a, b CandidateValue) bool {
	if b.Source == SourceManual {
		return false
	}
	if a.Source == SourceManual {
		return true
	}
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	return a.Source.priority() > b.Source.priority()
}

// promoteBestDiscarded moves the highest ranked discarded candidate back to Chosen.
func promoteBestDiscarded(r *FieldRecord) {
	best := -1
	for i, c := range r.Discarded {
		if best == -1 || outranks(c, r.Discarded[best]) {
			best = i
		}
	}
	if best == -1 {
		return
	}
	c := r.Discarded[best]
	r.Discarded = slices.Delete(r.Discarded, best, best+1)
	r.Chosen = &c
}

// finalize recomputes provenance and warnings from Chosen and Discarded.
func finalize(r *FieldRecord) {
	r.Warnings = nil
	if r.Chosen == nil {
		r.Provenance = ProvenanceMissing
		for _, d := range r.Discarded {
			r.Warnings = append(r.Warnings, Warning{
				Field:   r.Field,
				Source:  d.Source,
				Value:   d.Value,
				Message: fmt.Sprintf("%s reports %q but no value is chosen", d.Source.Label(), d.Value),
			})
		}
		return
	}

	conflicting := false
	for _, d := range r.Discarded {
		if SameValue(d.Value, r.Chosen.Value) {
			continue
		}
		r.Warnings = append(r.Warnings, Warning{
			Field:  r.Field,
			Source: d.Source,
			Value:  d.Value,
			Chosen: r.Chosen.Value,
			Message: fmt.Sprintf("%s reports %q, kept %q from %s",
				d.Source.Label(), d.Value, r.Chosen.Value, r.Chosen.Source.Label()),
		})
		if r.Chosen.Source != SourceManual && d.Confidence == r.Chosen.Confidence {
			conflicting = true
		}
	}

	switch {
	case r.Chosen.Source == SourceManual:
		r.Provenance = ProvenanceManual
	case conflicting:
		r.Provenance = ProvenanceConflicting
	default:
		r.Provenance = ProvenanceAutomatic
	}
}

// SameValue compares two normalized field values, ignoring case and surrounding space.
func SameValue(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// Reconciler owns the FieldRecord mapping of a Record. It is the only writer;
// batches are applied one at a time and readers only ever see whole batches.
type Reconciler struct {
	mu      sync.RWMutex
	fields  Fields
	applied []CandidateValue
	version uint64
}

// NewReconciler creates a Reconciler with every recognized field Missing.
func NewReconciler() *Reconciler {
	return &Reconciler{fields: emptyFields()}
}

// Submit validates and applies a batch of candidates atomically. If any
// candidate is invalid, nothing is applied.
func (r *Reconciler) Submit(batch ...CandidateValue) error {
	for _, c := range batch {
		if err := ValidateCandidate(c); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range batch {
		r.fields[c.Field] = Reconcile(r.fields[c.Field], c)
		r.applied = append(r.applied, c)
	}
	if len(batch) > 0 {
		r.version++
	}
	return nil
}

// Snapshot returns a deep copy of every FieldRecord.
func (r *Reconciler) Snapshot() Fields {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fields.Clone()
}

// Field returns a copy of a single FieldRecord.
func (r *Reconciler) Field(f FieldID) FieldRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fields[f].Clone()
}

// Version increases by one for every applied, non-empty batch.
func (r *Reconciler) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Candidates returns every candidate applied so far, in order.
func (r *Reconciler) Candidates() []CandidateValue {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.applied)
}

// ValidateCandidate checks that c names a recognized field and source.
func ValidateCandidate(c CandidateValue) error {
	if !IsRecognized(c.Field) {
		return fmt.Errorf("%w: unknown field %q", ErrInvalidCandidate, c.Field)
	}
	if !c.Source.Valid() {
		return fmt.Errorf("%w: unknown source %q", ErrInvalidCandidate, c.Source)
	}
	if math.IsNaN(c.Confidence) || c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v out of range", ErrInvalidCandidate, c.Confidence)
	}
	return nil
}
