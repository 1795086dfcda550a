// Package registry looks assets up in the archive's wad registry.
package registry

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"dsda-uploader/internal/demo"
)

// DefaultBaseURL is the public archive.
const DefaultBaseURL = "https://dsdarchive.com"

// commercialIWADs are registered but may never be uploaded.
var commercialIWADs = map[string]bool{
	"doom":     true,
	"doom2":    true,
	"plutonia": true,
	"tnt":      true,
	"heretic":  true,
	"hexen":    true,
}

var slugRe = regexp.MustCompile(`[^a-z0-9_\-]+`)

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for lookups.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithRateLimit sets the maximum requests per second sent to the registry.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// Client looks up wad pages on the registry. It implements demo.AssetLocator.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

var _ demo.AssetLocator = (*Client)(nil)

// NewClient creates a registry client for baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(1, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Slug converts an asset file name to its registry page name.
func Slug(name string) string {
	base := strings.ToLower(path.Base(strings.ReplaceAll(name, `\`, "/")))
	base = strings.TrimSuffix(base, path.Ext(base))
	return slugRe.ReplaceAllString(base, "")
}

// Lookup fetches the registry page for the asset. It returns nil, nil when
// the registry has no such page.
func (c *Client) Lookup(ctx context.Context, q demo.AssetQuery) (*demo.AssetLocation, error) {
	slug := Slug(q.Name)
	if slug == "" {
		return nil, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	pageURL := c.baseURL + "/wads/" + url.PathEscape(slug)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building registry request: %w", err)
	}
	req.Header.Set("Accept", "text/html")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching registry page: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("registry returned %s for %s", resp.Status, pageURL)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing registry page: %w", err)
	}

	heading := doc.Find("div.center-text h1").First()
	if heading.Length() == 0 {
		// The registry answers unknown names with a generic page.
		return nil, nil
	}

	loc := &demo.AssetLocation{URL: pageURL, Commercial: commercialIWADs[slug]}
	if href, ok := heading.Find("a").First().Attr("href"); ok && href != "" {
		loc.URL = c.resolve(href)
	}
	return loc, nil
}

func (c *Client) resolve(href string) string {
	u, err := url.Parse(href)
	if err != nil || u.IsAbs() {
		return href
	}
	base, err := url.Parse(c.baseURL + "/")
	if err != nil {
		return href
	}
	return base.ResolveReference(u).String()
}
