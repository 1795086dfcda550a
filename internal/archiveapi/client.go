// Package archiveapi is the client for the remote archive's submission API.
package archiveapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"dsda-uploader/internal/demo"
)

// Authentication headers expected by the archive.
const (
	HeaderUsername = "API-USERNAME"
	HeaderPassword = "API-PASSWORD"
)

// maxErrorBody bounds how much of an unexpected response body is kept.
const maxErrorBody = 4096

// Credentials authenticate API calls.
type Credentials struct {
	Username string
	Password string
}

// APIError is a non-success response from the archive.
type APIError struct {
	Status int
	Errors []string
}

func (e *APIError) Error() string {
	if len(e.Errors) == 0 {
		return fmt.Sprintf("archive API: status %d", e.Status)
	}
	return fmt.Sprintf("archive API: status %d: %s", e.Status, strings.Join(e.Errors, "; "))
}

// RemoteErrors returns the archive's structured messages.
func (e *APIError) RemoteErrors() []string {
	return e.Errors
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTimeout sets the request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// Client calls the archive API. It implements demo.ArchiveAPI.
type Client struct {
	baseURL   string
	creds     Credentials
	http      *http.Client
	userAgent string
}

var _ demo.ArchiveAPI = (*Client)(nil)

// NewClient creates a client for the API at baseURL.
func NewClient(baseURL string, creds Credentials, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("archive API base URL required")
	}
	if creds.Username == "" || creds.Password == "" {
		return nil, errors.New("archive API credentials required")
	}
	c := &Client{
		baseURL:   baseURL,
		creds:     creds,
		http:      &http.Client{Timeout: 120 * time.Second},
		userAgent: "dsdaup",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type submitResponse struct {
	RecordID int64 `json:"record_id"`
	FileID   int64 `json:"file_id"`
}

type uploadResponse struct {
	Location string `json:"location"`
	URL      string `json:"url"`
}

// Submit posts a new demo and returns the identity the archive issued.
func (c *Client) Submit(ctx context.Context, p demo.Payload) (demo.Identity, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return demo.Identity{}, fmt.Errorf("encoding payload: %w", err)
	}

	var resp submitResponse
	if err := c.doJSON(ctx, http.MethodPost, "/api/demos", body, &resp); err != nil {
		return demo.Identity{}, err
	}
	if resp.RecordID == 0 || resp.FileID == 0 {
		return demo.Identity{}, fmt.Errorf("archive accepted the demo without issuing ids")
	}
	return demo.Identity{RecordID: resp.RecordID, FileID: resp.FileID}, nil
}

// Correct updates an accepted demo.
func (c *Client) Correct(ctx context.Context, corr demo.Correction) error {
	if corr.RecordID == 0 || corr.FileID == 0 {
		return errors.New("correction requires record and file ids")
	}
	body, err := json.Marshal(corr)
	if err != nil {
		return fmt.Errorf("encoding correction: %w", err)
	}
	return c.doJSON(ctx, http.MethodPatch, "/api/demos/"+strconv.FormatInt(corr.RecordID, 10), body, nil)
}

// UploadAsset sends asset content as a multipart form and returns the
// location reported by the archive.
func (c *Client) UploadAsset(ctx context.Context, u demo.AssetUpload, content io.Reader) (string, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeUploadForm(mw, u, content))
	}()

	req, err := c.newRequest(ctx, http.MethodPost, "/api/wad_files", pr)
	if err != nil {
		pr.Close()
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp uploadResponse
	if err := c.do(req, &resp); err != nil {
		pr.Close()
		return "", err
	}
	if resp.Location != "" {
		return resp.Location, nil
	}
	return resp.URL, nil
}

func writeUploadForm(mw *multipart.Writer, u demo.AssetUpload, content io.Reader) error {
	meta, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encoding upload metadata: %w", err)
	}
	if err := mw.WriteField("wad_file", string(meta)); err != nil {
		return err
	}
	part, err := mw.CreateFormFile("data", u.Name)
	if err != nil {
		return err
	}
	n, err := io.Copy(part, content)
	if err != nil {
		return fmt.Errorf("streaming asset: %w", err)
	}
	if u.Size > 0 && n != u.Size {
		return fmt.Errorf("asset size mismatch: read %d bytes, expected %d", n, u.Size)
	}
	return mw.Close()
}

func (c *Client) doJSON(ctx context.Context, method, path string, body []byte, out any) error {
	req, err := c.newRequest(ctx, method, path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderUsername, c.creds.Username)
	req.Header.Set(HeaderPassword, c.creds.Password)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// decodeError accepts {"errors": [...]}, {"errors": {"field": [...]}} and
// {"error": "..."} bodies.
func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var body struct {
		Errors json.RawMessage `json:"errors"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		if text := strings.TrimSpace(string(raw)); text != "" {
			apiErr.Errors = []string{text}
		}
		return apiErr
	}

	var list []string
	var byField map[string][]string
	switch {
	case json.Unmarshal(body.Errors, &list) == nil && len(list) > 0:
		apiErr.Errors = list
	case json.Unmarshal(body.Errors, &byField) == nil && len(byField) > 0:
		for _, field := range sortedKeys(byField) {
			for _, msg := range byField[field] {
				apiErr.Errors = append(apiErr.Errors, field+" "+msg)
			}
		}
	}
	if body.Error != "" {
		apiErr.Errors = append(apiErr.Errors, body.Error)
	}
	return apiErr
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
