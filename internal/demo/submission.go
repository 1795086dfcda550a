package demo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// SubmissionState is where a record is in the submission lifecycle. A
// rejected submission is logged as an OutcomeRejected attempt and the record
// returns to SubmissionDraft.
type SubmissionState string

const (
	SubmissionDraft      SubmissionState = "draft"
	SubmissionSubmitting SubmissionState = "submitting"
	SubmissionAccepted   SubmissionState = "accepted"
)

// AttemptKind distinguishes the remote calls that are logged.
type AttemptKind string

const (
	AttemptSubmit  AttemptKind = "submit"
	AttemptCorrect AttemptKind = "correct"
	AttemptAsset   AttemptKind = "asset"
)

// Outcome of a remote call.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
)

// Attempt is one append-only history entry.
type Attempt struct {
	ID          string
	RecordID    string
	Kind        AttemptKind
	AttemptedAt time.Time
	Payload     json.RawMessage
	Outcome     Outcome
	Identity    *Identity
	Errors      []string
}

// AssetUpload describes asset content sent to the archive.
type AssetUpload struct {
	Checksum string `json:"checksum"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
}

// ArchiveAPI is the remote archive.
type ArchiveAPI interface {
	Submit(ctx context.Context, p Payload) (Identity, error)
	Correct(ctx context.Context, c Correction) error
	UploadAsset(ctx context.Context, u AssetUpload, content io.Reader) (string, error)
}

// RemoteErrors is implemented by API errors that carry the archive's
// structured rejection messages.
type RemoteErrors interface {
	RemoteErrors() []string
}

// HistoryStore is the append-only log of remote calls. Reads must be safe
// while an append is in flight.
type HistoryStore interface {
	AppendAttempt(ctx context.Context, a *Attempt) error
	ListAttempts(ctx context.Context, recordID string) ([]*Attempt, error)
	// FindAttemptsByIdentity returns nil, nil when nothing carries id.
	FindAttemptsByIdentity(ctx context.Context, id Identity) ([]*Attempt, error)
	ListRecent(ctx context.Context, limit int) ([]*Attempt, error)
}

// SubmissionManager sends validated records to the archive and logs every call.
type SubmissionManager struct {
	api     ArchiveAPI
	history HistoryStore
	policy  Policy
	clock   Clock
	ids     IDGenerator
	logger  Logger
}

// NewSubmissionManager creates a SubmissionManager.
func NewSubmissionManager(api ArchiveAPI, history HistoryStore, policy Policy, clock Clock, ids IDGenerator, logger Logger) *SubmissionManager {
	if logger == nil {
		logger = NewNopLogger()
	}
	if clock == nil {
		clock = RealClock{}
	}
	if ids == nil {
		ids = UUIDGenerator{}
	}
	return &SubmissionManager{
		api:     api,
		history: history,
		policy:  policy,
		clock:   clock,
		ids:     ids,
		logger:  logger,
	}
}

// Submit validates rec and sends it. A record with blocking issues returns a
// *ValidationError without any network call. Once a record is accepted,
// Submit sends a correction of the changed fields instead.
//
// ctx is honoured up to the moment the request is sent; after that the call
// completes regardless so the outcome is always recorded.
func (m *SubmissionManager) Submit(ctx context.Context, rec *Record) (*Attempt, error) {
	view := rec.View()
	if issues := Validate(view, m.policy); !CanSubmit(issues) {
		return nil, &ValidationError{Issues: Blocking(issues)}
	}
	if view.Identity != nil {
		return m.Correct(ctx, rec, *view.Identity, rec.ChangedSinceAccepted())
	}

	payload, err := BuildPayload(view)
	if err != nil {
		return nil, fmt.Errorf("building payload: %w", err)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := rec.beginSubmit(); err != nil {
		return nil, err
	}

	m.logger.Info("submitting demo", "record", rec.ID, "wad", payload.Demo.Wad, "level", payload.Demo.Level)
	id, sendErr := m.api.Submit(context.WithoutCancel(ctx), payload)

	attempt := m.newAttempt(rec.ID, AttemptSubmit, body)
	if sendErr != nil {
		rec.endSubmit(SubmissionDraft)
		rejected := m.reject(attempt, sendErr)
		return attempt, errors.Join(rejected, m.append(ctx, attempt))
	}

	attempt.Outcome = OutcomeAccepted
	attempt.Identity = &id
	rec.setAccepted(id, view.Fields)
	rec.endSubmit(SubmissionAccepted)
	m.logger.Info("demo accepted", "record", rec.ID, "record_id", id.RecordID, "file_id", id.FileID)
	return attempt, m.append(ctx, attempt)
}

// Correct sends the changed fields of an accepted record. id must match the
// identity issued on acceptance.
func (m *SubmissionManager) Correct(ctx context.Context, rec *Record, id Identity, changed []FieldID) (*Attempt, error) {
	view := rec.View()
	if view.Identity == nil {
		return nil, ErrNotAccepted
	}
	if *view.Identity != id {
		return nil, fmt.Errorf("%w: have %d/%d, got %d/%d", ErrIdentityMismatch,
			view.Identity.RecordID, view.Identity.FileID, id.RecordID, id.FileID)
	}
	if issues := Validate(view, m.policy); !CanSubmit(issues) {
		return nil, &ValidationError{Issues: Blocking(issues)}
	}
	if len(changed) == 0 {
		return nil, ErrNoChanges
	}

	corr, err := BuildCorrection(view, id, changed)
	if err != nil {
		return nil, fmt.Errorf("building correction: %w", err)
	}
	body, err := json.Marshal(corr)
	if err != nil {
		return nil, fmt.Errorf("encoding correction: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := rec.beginSubmit(); err != nil {
		return nil, err
	}

	m.logger.Info("sending correction", "record", rec.ID, "record_id", id.RecordID, "file_id", id.FileID, "changed", len(corr.Changes))
	sendErr := m.api.Correct(context.WithoutCancel(ctx), corr)

	attempt := m.newAttempt(rec.ID, AttemptCorrect, body)
	attempt.Identity = &id
	if sendErr != nil {
		rec.endSubmit(SubmissionAccepted)
		rejected := m.reject(attempt, sendErr)
		return attempt, errors.Join(rejected, m.append(ctx, attempt))
	}

	attempt.Outcome = OutcomeAccepted
	rec.setAccepted(id, view.Fields)
	rec.endSubmit(SubmissionAccepted)
	return attempt, m.append(ctx, attempt)
}

// UploadAsset sends the asset content to the archive. It returns the location
// the archive reports. Commercial assets are refused before any call.
func (m *SubmissionManager) UploadAsset(ctx context.Context, recordID string, a Asset, content io.Reader, size int64) (string, *Attempt, error) {
	if !a.State.Resolved() {
		return "", nil, ErrAssetNotResolved
	}
	if a.Commercial {
		return "", nil, ErrCommercialAsset
	}
	if a.Registered {
		return "", nil, ErrUploadNotRequired
	}

	upload := AssetUpload{Checksum: a.Checksum, Name: a.Name, Size: size}
	body, err := json.Marshal(upload)
	if err != nil {
		return "", nil, fmt.Errorf("encoding upload: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}

	m.logger.Info("uploading asset", "name", a.Name, "checksum", a.Checksum, "size", size)
	location, sendErr := m.api.UploadAsset(context.WithoutCancel(ctx), upload, content)

	attempt := m.newAttempt(recordID, AttemptAsset, body)
	if sendErr != nil {
		rejected := m.reject(attempt, sendErr)
		return "", attempt, errors.Join(rejected, m.append(ctx, attempt))
	}
	attempt.Outcome = OutcomeAccepted
	return location, attempt, m.append(ctx, attempt)
}

func (m *SubmissionManager) newAttempt(recordID string, kind AttemptKind, body []byte) *Attempt {
	return &Attempt{
		ID:          m.ids.New(),
		RecordID:    recordID,
		Kind:        kind,
		AttemptedAt: m.clock.Now().UTC(),
		Payload:     body,
	}
}

// reject fills in a rejected attempt and returns the error for the caller.
func (m *SubmissionManager) reject(a *Attempt, err error) error {
	a.Outcome = OutcomeRejected
	var remote RemoteErrors
	if errors.As(err, &remote) {
		a.Errors = remote.RemoteErrors()
	}
	if len(a.Errors) == 0 {
		a.Errors = []string{err.Error()}
	}
	m.logger.Warn("archive rejected request", "record", a.RecordID, "kind", a.Kind, "error", err)
	return &RejectedError{Errors: a.Errors, Err: err}
}

// append writes the attempt to history. The remote outcome is already final,
// so a history failure is reported alongside it rather than replacing it.
func (m *SubmissionManager) append(ctx context.Context, a *Attempt) error {
	if m.history == nil {
		return nil
	}
	if err := m.history.AppendAttempt(context.WithoutCancel(ctx), a); err != nil {
		m.logger.Error("recording attempt failed", "attempt", a.ID, "error", err)
		return fmt.Errorf("recording attempt: %w", err)
	}
	return nil
}
