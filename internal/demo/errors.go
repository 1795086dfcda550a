package demo

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidCandidate is returned when a candidate names an unknown field or source.
	ErrInvalidCandidate = errors.New("invalid candidate value")

	// ErrUserDecisionRequired means the asset cascade found nothing and the user
	// must supply a path, mark the asset commercial, or request a new upload.
	ErrUserDecisionRequired = errors.New("asset not found: user decision required")

	// ErrAssetNotResolved is returned by operations that need a resolved asset.
	ErrAssetNotResolved = errors.New("asset not resolved")

	// ErrCommercialAsset is returned when an upload is attempted for a commercial asset.
	ErrCommercialAsset = errors.New("commercial assets are never uploaded")

	// ErrNoRecordings means the archive contains no recording files.
	ErrNoRecordings = errors.New("no recordings found in archive")

	// ErrRecordingNotFound is returned when overriding with a filename that is not a candidate.
	ErrRecordingNotFound = errors.New("recording not found")

	// ErrNoSelection means no recording is selected yet.
	ErrNoSelection = errors.New("no recording selected")

	// ErrSubmissionInFlight is returned when a record is already being submitted.
	ErrSubmissionInFlight = errors.New("submission already in progress")

	// ErrNotAccepted is returned when a correction is attempted before any accepted submission.
	ErrNotAccepted = errors.New("record has no accepted submission")

	// ErrIdentityMismatch is returned when a correction carries ids other than the stored ones.
	ErrIdentityMismatch = errors.New("correction ids do not match accepted submission")

	// ErrNoChanges is returned when a correction would change nothing.
	ErrNoChanges = errors.New("no changed fields to correct")

	// ErrUploadNotRequired is returned when uploading an asset the registry already has.
	ErrUploadNotRequired = errors.New("asset upload not required")

	// ErrAnalysisCancelled is returned when a playback analysis is cancelled.
	ErrAnalysisCancelled = errors.New("analysis cancelled")
)

// ValidationError carries the blocking issues that kept a record in Draft.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		if is.Severity == SeverityBlocking {
			msgs = append(msgs, fmt.Sprintf("%s: %s", is.Field, is.Message))
		}
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// RejectedError is returned when the remote archive rejects a submission or the
// request could not be delivered. Errors holds the remote's structured messages.
type RejectedError struct {
	Errors []string
	Err    error
}

func (e *RejectedError) Error() string {
	if len(e.Errors) > 0 {
		return "submission rejected: " + strings.Join(e.Errors, "; ")
	}
	if e.Err != nil {
		return "submission failed: " + e.Err.Error()
	}
	return "submission rejected"
}

func (e *RejectedError) Unwrap() error { return e.Err }

// DesyncError reports that the recording diverged during playback. The asset
// choice should be reconsidered; the run is not retried.
type DesyncError struct {
	Detail string
}

func (e *DesyncError) Error() string {
	msg := "playback desynchronized; check that the correct asset and version are selected"
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// AnalysisFailure reports a replay engine error or timeout. The analysis must
// be re-triggered manually.
type AnalysisFailure struct {
	Reason string
	Err    error
}

func (e *AnalysisFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("analysis failed: %s: %v", e.Reason, e.Err)
	}
	return "analysis failed: " + e.Reason
}

func (e *AnalysisFailure) Unwrap() error { return e.Err }
