// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultAPIBaseURL is the GitHub REST API root.
	DefaultAPIBaseURL = "https://api.github.com"

	buildOwner = "astral-sh"
	buildRepo  = "python-build-standalone"

	// maxJSONResponseBytes bounds release metadata responses (10 MB).
	maxJSONResponseBytes = 10 << 20
)

var (
	// ErrReleaseNotFound is returned when the release tag does not exist.
	ErrReleaseNotFound = errors.New("release not found")
	// ErrAssetNotInRelease is returned when a release has no archive for the
	// requested interpreter version and target.
	ErrAssetNotInRelease = errors.New("no matching asset in release")
)

type (
	// RateLimitError is returned when the GitHub API quota is exhausted.
	RateLimitError struct {
		Limit   int
		ResetAt time.Time
	}

	// Release is one published set of portable interpreter builds.
	Release struct {
		Tag    string
		Assets []Asset
	}

	// Asset is one downloadable file in a Release.
	Asset struct {
		Name string `json:"name"`
		URL  string `json:"browser_download_url"`
		Size int64  `json:"size"`
	}

	githubRelease struct {
		TagName string  `json:"tag_name"`
		Assets  []Asset `json:"assets"`
	}

	// ReleaseClient resolves interpreter builds through the GitHub Releases
	// API. It is only needed when the release tag is "latest"; pinned tags
	// resolve to a URL without a request.
	ReleaseClient struct {
		httpClient *http.Client
		baseURL    string
		token      string
		userAgent  string
	}

	// ClientOption configures a ReleaseClient.
	ClientOption func(*ReleaseClient)
)

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("GitHub API rate limit of %d requests exceeded (resets at %s)",
		e.Limit, e.ResetAt.UTC().Format("15:04 UTC"))
}

// WithHTTPClient sets the HTTP client used for API requests.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(r *ReleaseClient) { r.httpClient = c }
}

// WithAPIBaseURL overrides the API root, primarily for test servers.
func WithAPIBaseURL(base string) ClientOption {
	return func(r *ReleaseClient) { r.baseURL = strings.TrimRight(base, "/") }
}

// WithToken authenticates API requests, raising the rate limit.
func WithToken(token string) ClientOption {
	return func(r *ReleaseClient) { r.token = token }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(r *ReleaseClient) { r.userAgent = ua }
}

// NewReleaseClient creates a ReleaseClient.
func NewReleaseClient(opts ...ClientOption) *ReleaseClient {
	c := &ReleaseClient{
		httpClient: http.DefaultClient,
		baseURL:    DefaultAPIBaseURL,
		userAgent:  "newrev",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Latest returns the newest published release.
func (c *ReleaseClient) Latest(ctx context.Context) (*Release, error) {
	return c.get(ctx, fmt.Sprintf("%s/repos/%s/%s/releases/latest", c.baseURL, buildOwner, buildRepo))
}

// ByTag returns the release published under tag.
func (c *ReleaseClient) ByTag(ctx context.Context, tag string) (*Release, error) {
	return c.get(ctx, fmt.Sprintf("%s/repos/%s/%s/releases/tags/%s", c.baseURL, buildOwner, buildRepo, url.PathEscape(tag)))
}

func (c *ReleaseClient) get(ctx context.Context, reqURL string) (*Release, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("querying releases: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkRateLimit(resp); err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrReleaseNotFound
	default:
		return nil, fmt.Errorf("querying releases: unexpected status %d", resp.StatusCode)
	}

	var gr githubRelease
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJSONResponseBytes)).Decode(&gr); err != nil {
		return nil, fmt.Errorf("decoding release: %w", err)
	}
	return &Release{Tag: gr.TagName, Assets: gr.Assets}, nil
}

// Find returns the asset with the exact name.
func (r *Release) Find(name string) (Asset, error) {
	for _, a := range r.Assets {
		if a.Name == name {
			return a, nil
		}
	}
	return Asset{}, fmt.Errorf("%w: %s in %s", ErrAssetNotInRelease, name, r.Tag)
}

// checkRateLimit only looks at X-RateLimit-Remaining; the status code of a
// rate-limited response varies between 403 and 429.
func checkRateLimit(resp *http.Response) error {
	rem, err := strconv.Atoi(resp.Header.Get("X-RateLimit-Remaining"))
	if err != nil || rem > 0 {
		return nil //nolint:nilerr // absent or malformed header is not a rate limit
	}
	limit, _ := strconv.Atoi(resp.Header.Get("X-RateLimit-Limit"))                 //nolint:errcheck // best effort
	resetUnix, _ := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64) //nolint:errcheck // best effort
	return &RateLimitError{Limit: limit, ResetAt: time.Unix(resetUnix, 0)}
}

// redactURL strips the query and fragment for safe inclusion in errors.
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid-url>"
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
