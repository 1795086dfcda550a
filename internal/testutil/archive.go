package testutil

import (
	"context"
	"io"
	"strings"
	"sync"

	"dsda-uploader/internal/demo"
)

// RemoteError is a structured archive rejection.
type RemoteError struct {
	Messages []string
}

func (e *RemoteError) Error() string { return strings.Join(e.Messages, "; ") }

func (e *RemoteError) RemoteErrors() []string { return e.Messages }

// FakeArchiveAPI records every call and answers with the configured results.
type FakeArchiveAPI struct {
	Identity   demo.Identity
	Location   string
	SubmitErr  error
	CorrectErr error
	UploadErr  error

	mu          sync.Mutex
	submits     []demo.Payload
	corrections []demo.Correction
	uploads     []demo.AssetUpload
	uploaded    [][]byte
}

// NewFakeArchiveAPI accepts every submission under id.
func NewFakeArchiveAPI(id demo.Identity) *FakeArchiveAPI {
	return &FakeArchiveAPI{Identity: id, Location: "https://archive.test/wads/1"}
}

func (f *FakeArchiveAPI) Submit(ctx context.Context, p demo.Payload) (demo.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, p)
	if f.SubmitErr != nil {
		return demo.Identity{}, f.SubmitErr
	}
	return f.Identity, nil
}

func (f *FakeArchiveAPI) Correct(ctx context.Context, c demo.Correction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.corrections = append(f.corrections, c)
	return f.CorrectErr
}

func (f *FakeArchiveAPI) UploadAsset(ctx context.Context, u demo.AssetUpload, content io.Reader) (string, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, u)
	f.uploaded = append(f.uploaded, data)
	if f.UploadErr != nil {
		return "", f.UploadErr
	}
	return f.Location, nil
}

// Calls returns the total number of remote calls made.
func (f *FakeArchiveAPI) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submits) + len(f.corrections) + len(f.uploads)
}

// Submits returns the submitted payloads.
func (f *FakeArchiveAPI) Submits() []demo.Payload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]demo.Payload(nil), f.submits...)
}

// Corrections returns the corrections sent.
func (f *FakeArchiveAPI) Corrections() []demo.Correction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]demo.Correction(nil), f.corrections...)
}

// Uploads returns the asset uploads and their content.
func (f *FakeArchiveAPI) Uploads() ([]demo.AssetUpload, [][]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]demo.AssetUpload(nil), f.uploads...), append([][]byte(nil), f.uploaded...)
}
