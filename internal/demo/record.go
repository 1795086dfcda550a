package demo

import "sync"

// Identity is the pair issued by the remote archive on first acceptance.
type Identity struct {
	RecordID int64 `json:"record_id"`
	FileID   int64 `json:"file_id"`
}

// Record is one demo being prepared for submission. Field values are owned by
// its Reconciler; collaborators hand in CandidateValues and read snapshots.
type Record struct {
	ID string

	fields *Reconciler

	mu        sync.RWMutex
	asset     Asset
	selection *Selection
	levelstat string
	identity  *Identity
	accepted  Fields
	state     SubmissionState
}

// NewRecord creates an empty Record with the given local id.
func NewRecord(id string) *Record {
	return &Record{
		ID:     id,
		fields: NewReconciler(),
		asset:  Asset{State: StateUnresolved},
		state:  SubmissionDraft,
	}
}

// Submit hands a batch of candidates to the record's reconciler.
func (r *Record) Submit(batch ...CandidateValue) error {
	return r.fields.Submit(batch...)
}

// SetManual records a direct user edit of a field.
func (r *Record) SetManual(f FieldID, value string) error {
	return r.fields.Submit(CandidateValue{Field: f, Value: value, Source: SourceManual, Confidence: Certain})
}

// Fields returns a consistent snapshot of every FieldRecord.
func (r *Record) Fields() Fields {
	return r.fields.Snapshot()
}

// Field returns a snapshot of one FieldRecord.
func (r *Record) Field(f FieldID) FieldRecord {
	return r.fields.Field(f)
}

// Candidates returns every candidate applied so far.
func (r *Record) Candidates() []CandidateValue {
	return r.fields.Candidates()
}

// Version changes whenever a batch is applied.
func (r *Record) Version() uint64 {
	return r.fields.Version()
}

// Asset returns the record's current asset.
func (r *Record) Asset() Asset {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.asset
}

func (r *Record) setAsset(a Asset) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asset = a
}

// Levelstat returns the per-level times of the last successful analysis.
func (r *Record) Levelstat() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.levelstat
}

// applyAnalysis merges an analysis result as one ReplayStats batch.
func (r *Record) applyAnalysis(res *AnalysisResult) error {
	if err := r.fields.Submit(res.Candidates()...); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.levelstat = res.Levelstat
	return nil
}

// Selection returns a copy of the recording selection, or nil.
func (r *Record) Selection() *Selection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.selection == nil {
		return nil
	}
	s := r.selection.clone()
	return &s
}

func (r *Record) setSelection(s *Selection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selection = s
}

// Identity returns the accepted (recordId, fileId) pair, or nil before acceptance.
func (r *Record) Identity() *Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.identity == nil {
		return nil
	}
	id := *r.identity
	return &id
}

// setAccepted stores the identity on first acceptance and the field snapshot
// that was accepted. An existing identity is never replaced.
func (r *Record) setAccepted(id Identity, fields Fields) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.identity == nil {
		r.identity = &id
	}
	r.accepted = fields.Clone()
}

// RestoreIdentity reattaches an identity loaded from history, e.g. when a
// correction is made in a later session.
func (r *Record) RestoreIdentity(id Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.identity == nil {
		r.identity = &id
		r.state = SubmissionAccepted
	}
}

// ChangedSinceAccepted lists fields whose chosen value differs from the last
// accepted snapshot. Before acceptance, every field with a value is reported.
func (r *Record) ChangedSinceAccepted() []FieldID {
	current := r.Fields()

	r.mu.RLock()
	accepted := r.accepted
	r.mu.RUnlock()

	var changed []FieldID
	for _, f := range RecognizedFields {
		cur, hasCur := current[f].Value()
		if accepted == nil {
			if hasCur {
				changed = append(changed, f)
			}
			continue
		}
		old, hasOld := accepted[f].Value()
		if hasCur != hasOld || cur != old {
			changed = append(changed, f)
		}
	}
	return changed
}

// SubmissionState returns where the record is in the submission lifecycle.
func (r *Record) SubmissionState() SubmissionState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// beginSubmit moves the record into Submitting and returns the state to
// restore if the attempt does not complete.
func (r *Record) beginSubmit() (SubmissionState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == SubmissionSubmitting {
		return "", ErrSubmissionInFlight
	}
	prev := r.state
	r.state = SubmissionSubmitting
	return prev, nil
}

func (r *Record) endSubmit(s SubmissionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = s
}

// View is an immutable snapshot of a Record used by validation and payload building.
type View struct {
	ID        string
	Fields    Fields
	Asset     Asset
	Selection *Selection
	Identity  *Identity
	// Levelstat is the per-level time list from playback, empty until analyzed.
	Levelstat string
}

// View captures the current state of the record.
func (r *Record) View() View {
	return View{
		ID:        r.ID,
		Fields:    r.Fields(),
		Asset:     r.Asset(),
		Selection: r.Selection(),
		Identity:  r.Identity(),
		Levelstat: r.Levelstat(),
	}
}
