// Package idgames searches the idgames archive index for assets the
// registry does not know.
package idgames

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"dsda-uploader/internal/demo"
)

// DefaultBaseURL is the public idgames API endpoint.
const DefaultBaseURL = "https://www.doomworld.com/idgames/api/api.php"

// File is one entry of a search result.
type File struct {
	ID       int    `json:"id"`
	Title    string `json:"title"`
	Dir      string `json:"dir"`
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

// APIError is an error envelope returned by the API.
type APIError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("idgames: [%s] %s", e.Type, e.Message)
}

type envelope struct {
	Content json.RawMessage `json:"content"`
	Error   *APIError       `json:"error"`
	Warning *APIError       `json:"warning"`
}

type searchContent struct {
	File json.RawMessage `json:"file"`
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithRateLimit sets the maximum requests per second sent to the API.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithLogger sets the logger used for API warnings.
func WithLogger(l demo.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// Client calls the idgames API. It implements demo.AssetLocator.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	logger  demo.Logger
}

var _ demo.AssetLocator = (*Client)(nil)

// NewClient creates a client for the API at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(1, 1),
		logger:  demo.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Search looks files up by file name.
func (c *Client) Search(ctx context.Context, query string) ([]File, error) {
	content, err := c.call(ctx, "search", url.Values{
		"query": {query},
		"type":  {"filename"},
	})
	if err != nil {
		return nil, err
	}
	if len(content) == 0 || string(content) == "null" {
		return nil, nil
	}

	var sc searchContent
	if err := json.Unmarshal(content, &sc); err != nil {
		return nil, fmt.Errorf("decoding search content: %w", err)
	}
	return decodeFiles(sc.File)
}

// decodeFiles accepts both a single file object and an array of them.
func decodeFiles(raw json.RawMessage) ([]File, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if raw[0] == '[' {
		var files []File
		if err := json.Unmarshal(raw, &files); err != nil {
			return nil, fmt.Errorf("decoding file list: %w", err)
		}
		return files, nil
	}
	var f File
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decoding file: %w", err)
	}
	return []File{f}, nil
}

// Lookup searches for the asset's file name and returns the first file whose
// name stem matches it. It returns nil, nil when nothing matches.
func (c *Client) Lookup(ctx context.Context, q demo.AssetQuery) (*demo.AssetLocation, error) {
	stem := fileStem(q.Name)
	if stem == "" {
		return nil, nil
	}

	files, err := c.Search(ctx, stem)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		if strings.EqualFold(fileStem(f.Filename), stem) && f.URL != "" {
			return &demo.AssetLocation{URL: f.URL}, nil
		}
	}
	return nil, nil
}

func (c *Client) call(ctx context.Context, action string, params url.Values) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing idgames URL: %w", err)
	}
	query := u.Query()
	query.Set("action", action)
	for k, vs := range params {
		for _, v := range vs {
			query.Add(k, v)
		}
	}
	query.Set("out", "json")
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("building idgames request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling idgames %s: %w", action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("idgames %s returned %s", action, resp.Status)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decoding idgames response: %w", err)
	}
	if env.Error != nil {
		return nil, env.Error
	}
	if env.Warning != nil {
		c.logger.Warn("idgames warning", "action", action, "type", env.Warning.Type, "message", env.Warning.Message)
	}
	return env.Content, nil
}

func fileStem(name string) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	if base == "." || base == "/" {
		return ""
	}
	return strings.ToLower(strings.TrimSuffix(base, path.Ext(base)))
}
