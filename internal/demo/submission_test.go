package demo_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"dsda-uploader/internal/demo"
	"dsda-uploader/internal/testutil"
)

// fieldsPolicy requires the default fields but leaves the asset to other tests.
var fieldsPolicy = demo.Policy{
	Required:    demo.DefaultRequiredFields,
	EpochCutoff: demo.DefaultEpochCutoff,
}

func completeRecord(t *testing.T, id string) *demo.Record {
	t.Helper()
	rec := demo.NewRecord(id)
	err := rec.Submit(
		demo.CandidateValue{Field: demo.FieldPlayers, Value: "Alice", Source: demo.SourceTextFile, Confidence: demo.Certain},
		demo.CandidateValue{Field: demo.FieldWad, Value: "scythe", Source: demo.SourceTextFile, Confidence: demo.Certain},
		demo.CandidateValue{Field: demo.FieldLevel, Value: "Map 01", Source: demo.SourceReplayStats, Confidence: demo.Certain},
		demo.CandidateValue{Field: demo.FieldCategory, Value: "UV Speed", Source: demo.SourceTextFile, Confidence: demo.Certain},
		demo.CandidateValue{Field: demo.FieldTime, Value: "0:42.97", Source: demo.SourceReplayStats, Confidence: demo.Certain},
		demo.CandidateValue{Field: demo.FieldEngine, Value: "PrBoom+ 2.5.0.8", Source: demo.SourceRecordingHeader, Confidence: demo.Certain},
		demo.CandidateValue{Field: demo.FieldRecordedAt, Value: "2003-04-05", Source: demo.SourceReplayStats, Confidence: demo.Certain},
	)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	return rec
}

type submissionFixture struct {
	api     *testutil.FakeArchiveAPI
	history demo.HistoryStore
	manager *demo.SubmissionManager
}

func newSubmissionFixture(t *testing.T) *submissionFixture {
	t.Helper()
	f := &submissionFixture{
		api:     testutil.NewFakeArchiveAPI(demo.Identity{RecordID: 42, FileID: 7}),
		history: testutil.NewTestDatabase(t),
	}
	f.manager = demo.NewSubmissionManager(f.api, f.history, fieldsPolicy, testutil.FixedClock(), testutil.NewSequentialIDs(), nil)
	return f
}

func (f *submissionFixture) attempts(t *testing.T, recordID string) []*demo.Attempt {
	t.Helper()
	attempts, err := f.history.ListAttempts(context.Background(), recordID)
	if err != nil {
		t.Fatalf("ListAttempts() error = %v", err)
	}
	return attempts
}

func TestSubmissionManager_ValidationBlocksSubmit(t *testing.T) {
	f := newSubmissionFixture(t)
	rec := demo.NewRecord("rec-1")
	if err := rec.SetManual(demo.FieldWad, "scythe"); err != nil {
		t.Fatalf("SetManual() error = %v", err)
	}

	attempt, err := f.manager.Submit(context.Background(), rec)

	var verr *demo.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Submit() error = %v, want *ValidationError", err)
	}
	if attempt != nil {
		t.Errorf("Submit() attempt = %+v, want nil", attempt)
	}
	for _, is := range verr.Issues {
		if is.Severity != demo.SeverityBlocking {
			t.Errorf("ValidationError carries non-blocking issue %+v", is)
		}
	}
	if n := f.api.Calls(); n != 0 {
		t.Errorf("remote calls = %d, want 0", n)
	}
	if got := f.attempts(t, "rec-1"); len(got) != 0 {
		t.Errorf("attempts = %d, want 0", len(got))
	}
	if rec.SubmissionState() != demo.SubmissionDraft {
		t.Errorf("SubmissionState() = %s, want draft", rec.SubmissionState())
	}
}

func TestSubmissionManager_Submit(t *testing.T) {
	f := newSubmissionFixture(t)
	rec := completeRecord(t, "rec-1")

	attempt, err := f.manager.Submit(context.Background(), rec)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if attempt.Outcome != demo.OutcomeAccepted || attempt.Kind != demo.AttemptSubmit {
		t.Errorf("attempt = %s %s, want accepted submit", attempt.Outcome, attempt.Kind)
	}
	if attempt.ID != "id-1" || !attempt.AttemptedAt.Equal(testutil.AttemptTime) {
		t.Errorf("attempt id/time = %s %v, want id-1 at the fixed clock", attempt.ID, attempt.AttemptedAt)
	}
	if id := rec.Identity(); id == nil || *id != (demo.Identity{RecordID: 42, FileID: 7}) {
		t.Errorf("Identity() = %v, want 42/7", id)
	}
	if rec.SubmissionState() != demo.SubmissionAccepted {
		t.Errorf("SubmissionState() = %s, want accepted", rec.SubmissionState())
	}

	submits := f.api.Submits()
	if len(submits) != 1 || submits[0].Demo.Wad != "scythe" {
		t.Fatalf("Submits() = %+v, want one scythe payload", submits)
	}

	stored := f.attempts(t, "rec-1")
	if len(stored) != 1 {
		t.Fatalf("attempts = %d, want 1", len(stored))
	}
	if stored[0].Identity == nil || stored[0].Identity.RecordID != 42 {
		t.Errorf("stored identity = %v, want 42/7", stored[0].Identity)
	}
	var payload demo.Payload
	if err := json.Unmarshal(stored[0].Payload, &payload); err != nil {
		t.Fatalf("stored payload is not JSON: %v", err)
	}
	if payload.Demo.Time != "0:42.97" {
		t.Errorf("stored payload time = %q, want 0:42.97", payload.Demo.Time)
	}
	if len(rec.ChangedSinceAccepted()) != 0 {
		t.Errorf("ChangedSinceAccepted() = %v right after acceptance", rec.ChangedSinceAccepted())
	}
}

func TestSubmissionManager_Rejected(t *testing.T) {
	f := newSubmissionFixture(t)
	f.api.SubmitErr = &testutil.RemoteError{Messages: []string{"time is invalid", "wad not found"}}
	rec := completeRecord(t, "rec-1")
	before := rec.Fields()
	version := rec.Version()

	attempt, err := f.manager.Submit(context.Background(), rec)

	var rejected *demo.RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("Submit() error = %v, want *RejectedError", err)
	}
	if len(rejected.Errors) != 2 || rejected.Errors[1] != "wad not found" {
		t.Errorf("RejectedError.Errors = %v, want the remote messages", rejected.Errors)
	}
	if attempt == nil || attempt.Outcome != demo.OutcomeRejected {
		t.Fatalf("attempt = %+v, want rejected", attempt)
	}
	if rec.SubmissionState() != demo.SubmissionDraft {
		t.Errorf("SubmissionState() = %s, want draft", rec.SubmissionState())
	}
	if rec.Identity() != nil {
		t.Errorf("Identity() = %v, want nil", rec.Identity())
	}
	if rec.Version() != version {
		t.Errorf("Version() = %d, want %d: fields must not change on rejection", rec.Version(), version)
	}
	for _, fid := range demo.RecognizedFields {
		if before.Value(fid) != rec.Fields().Value(fid) {
			t.Errorf("%s changed from %q to %q", fid, before.Value(fid), rec.Fields().Value(fid))
		}
	}

	stored := f.attempts(t, "rec-1")
	if len(stored) != 1 || stored[0].Outcome != demo.OutcomeRejected {
		t.Fatalf("stored attempts = %+v, want one rejected", stored)
	}
	if strings.Join(stored[0].Errors, "|") != "time is invalid|wad not found" {
		t.Errorf("stored errors = %v", stored[0].Errors)
	}

	// The record can be resubmitted after a rejection.
	f.api.SubmitErr = nil
	if _, err := f.manager.Submit(context.Background(), rec); err != nil {
		t.Fatalf("resubmit error = %v", err)
	}
	if got := f.attempts(t, "rec-1"); len(got) != 2 {
		t.Errorf("attempts = %d, want 2", len(got))
	}
}

func TestSubmissionManager_TransportFailure(t *testing.T) {
	f := newSubmissionFixture(t)
	f.api.SubmitErr = errors.New("connection refused")
	rec := completeRecord(t, "rec-1")

	_, err := f.manager.Submit(context.Background(), rec)
	var rejected *demo.RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("Submit() error = %v, want *RejectedError", err)
	}
	if len(rejected.Errors) != 1 || rejected.Errors[0] != "connection refused" {
		t.Errorf("Errors = %v, want the transport error", rejected.Errors)
	}
}

func TestSubmissionManager_Correct(t *testing.T) {
	ctx := context.Background()
	f := newSubmissionFixture(t)
	rec := completeRecord(t, "rec-1")
	if _, err := f.manager.Submit(ctx, rec); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if _, err := f.manager.Submit(ctx, rec); !errors.Is(err, demo.ErrNoChanges) {
		t.Errorf("Submit() with nothing changed error = %v, want ErrNoChanges", err)
	}

	if err := rec.SetManual(demo.FieldTime, "0:41.97"); err != nil {
		t.Fatalf("SetManual() error = %v", err)
	}
	attempt, err := f.manager.Submit(ctx, rec)
	if err != nil {
		t.Fatalf("Submit() correction error = %v", err)
	}
	if attempt.Kind != demo.AttemptCorrect || attempt.Outcome != demo.OutcomeAccepted {
		t.Errorf("attempt = %s %s, want accepted correct", attempt.Kind, attempt.Outcome)
	}

	corrections := f.api.Corrections()
	if len(corrections) != 1 {
		t.Fatalf("Corrections() = %d, want 1", len(corrections))
	}
	c := corrections[0]
	if c.RecordID != 42 || c.FileID != 7 {
		t.Errorf("correction ids = %d/%d, want 42/7", c.RecordID, c.FileID)
	}
	if c.Changes["time"] != "0:41.97" {
		t.Errorf("changes = %v, want the new time", c.Changes)
	}
	if _, ok := c.Changes["wad"]; ok {
		t.Errorf("changes = %v, unchanged wad must not be sent", c.Changes)
	}
	if id := rec.Identity(); *id != (demo.Identity{RecordID: 42, FileID: 7}) {
		t.Errorf("Identity() = %v after correction, want 42/7", id)
	}

	found, err := f.history.FindAttemptsByIdentity(ctx, demo.Identity{RecordID: 42, FileID: 7})
	if err != nil {
		t.Fatalf("FindAttemptsByIdentity() error = %v", err)
	}
	if len(found) != 2 {
		t.Errorf("attempts for 42/7 = %d, want 2", len(found))
	}
}

func TestSubmissionManager_CorrectGuards(t *testing.T) {
	ctx := context.Background()

	t.Run("before acceptance", func(t *testing.T) {
		f := newSubmissionFixture(t)
		rec := completeRecord(t, "rec-1")
		_, err := f.manager.Correct(ctx, rec, demo.Identity{RecordID: 42, FileID: 7}, []demo.FieldID{demo.FieldTime})
		if !errors.Is(err, demo.ErrNotAccepted) {
			t.Errorf("Correct() error = %v, want ErrNotAccepted", err)
		}
		if f.api.Calls() != 0 {
			t.Errorf("remote calls = %d, want 0", f.api.Calls())
		}
	})

	t.Run("identity mismatch", func(t *testing.T) {
		f := newSubmissionFixture(t)
		rec := completeRecord(t, "rec-1")
		rec.RestoreIdentity(demo.Identity{RecordID: 42, FileID: 7})

		_, err := f.manager.Correct(ctx, rec, demo.Identity{RecordID: 42, FileID: 8}, []demo.FieldID{demo.FieldTime})
		if !errors.Is(err, demo.ErrIdentityMismatch) {
			t.Errorf("Correct() error = %v, want ErrIdentityMismatch", err)
		}
		if f.api.Calls() != 0 {
			t.Errorf("remote calls = %d, want 0", f.api.Calls())
		}
	})

	t.Run("rejected correction keeps acceptance", func(t *testing.T) {
		f := newSubmissionFixture(t)
		rec := completeRecord(t, "rec-1")
		rec.RestoreIdentity(demo.Identity{RecordID: 42, FileID: 7})
		f.api.CorrectErr = &testutil.RemoteError{Messages: []string{"not allowed"}}

		attempt, err := f.manager.Correct(ctx, rec, demo.Identity{RecordID: 42, FileID: 7}, rec.ChangedSinceAccepted())
		var rejected *demo.RejectedError
		if !errors.As(err, &rejected) {
			t.Fatalf("Correct() error = %v, want *RejectedError", err)
		}
		if attempt.Identity == nil || attempt.Identity.RecordID != 42 {
			t.Errorf("attempt identity = %v, want 42/7", attempt.Identity)
		}
		if rec.SubmissionState() != demo.SubmissionAccepted {
			t.Errorf("SubmissionState() = %s, want accepted", rec.SubmissionState())
		}
	})
}

func TestSubmissionManager_CancelledBeforeSend(t *testing.T) {
	f := newSubmissionFixture(t)
	rec := completeRecord(t, "rec-1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.manager.Submit(ctx, rec); !errors.Is(err, context.Canceled) {
		t.Errorf("Submit() error = %v, want context.Canceled", err)
	}
	if f.api.Calls() != 0 {
		t.Errorf("remote calls = %d, want 0", f.api.Calls())
	}
	if rec.SubmissionState() != demo.SubmissionDraft {
		t.Errorf("SubmissionState() = %s, want draft", rec.SubmissionState())
	}
}

type failingHistory struct {
	demo.HistoryStore
}

func (failingHistory) AppendAttempt(context.Context, *demo.Attempt) error {
	return errors.New("disk full")
}

func TestSubmissionManager_HistoryFailureKeepsOutcome(t *testing.T) {
	api := testutil.NewFakeArchiveAPI(demo.Identity{RecordID: 42, FileID: 7})
	m := demo.NewSubmissionManager(api, failingHistory{}, fieldsPolicy, testutil.FixedClock(), testutil.NewSequentialIDs(), nil)
	rec := completeRecord(t, "rec-1")

	attempt, err := m.Submit(context.Background(), rec)
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("Submit() error = %v, want the history failure", err)
	}
	if attempt == nil || attempt.Outcome != demo.OutcomeAccepted {
		t.Errorf("attempt = %+v, want accepted", attempt)
	}
	if rec.Identity() == nil {
		t.Error("Identity() = nil, the remote acceptance must still be kept")
	}
}

func TestSubmissionManager_UploadAsset(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		asset   demo.Asset
		wantErr error
	}{
		{"unresolved", demo.Asset{State: demo.StateUnresolved}, demo.ErrAssetNotResolved},
		{"commercial", demo.Asset{State: demo.StateCommercialNoUpload, Commercial: true}, demo.ErrCommercialAsset},
		{"registered", demo.Asset{State: demo.StateFoundInRegistry, Registered: true}, demo.ErrUploadNotRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSubmissionFixture(t)
			_, attempt, err := f.manager.UploadAsset(ctx, "rec-1", tt.asset, strings.NewReader("x"), 1)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("UploadAsset() error = %v, want %v", err, tt.wantErr)
			}
			if attempt != nil || f.api.Calls() != 0 {
				t.Errorf("UploadAsset() made a call: attempt=%v calls=%d", attempt, f.api.Calls())
			}
		})
	}

	t.Run("uploads new asset", func(t *testing.T) {
		f := newSubmissionFixture(t)
		a := demo.Asset{State: demo.StateNeedsUpload, Name: "new.wad", Checksum: "ABC123"}

		location, attempt, err := f.manager.UploadAsset(ctx, "rec-1", a, strings.NewReader("PWAD"), 4)
		if err != nil {
			t.Fatalf("UploadAsset() error = %v", err)
		}
		if location != "https://archive.test/wads/1" {
			t.Errorf("location = %q", location)
		}
		if attempt.Kind != demo.AttemptAsset || attempt.Outcome != demo.OutcomeAccepted {
			t.Errorf("attempt = %s %s, want accepted asset", attempt.Kind, attempt.Outcome)
		}
		uploads, content := f.api.Uploads()
		if len(uploads) != 1 || uploads[0].Checksum != "ABC123" || string(content[0]) != "PWAD" {
			t.Errorf("Uploads() = %+v %q", uploads, content)
		}
	})
}
