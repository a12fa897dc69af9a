// SPDX-License-Identifier: MPL-2.0

package provision

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestReleaseClient_Latest(t *testing.T) {
	t.Parallel()

	var gotAuth, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/astral-sh/python-build-standalone/releases/latest" {
			http.NotFound(w, r)
			return
		}
		gotAuth, gotUA = r.Header.Get("Authorization"), r.Header.Get("User-Agent")
		_, _ = w.Write([]byte(`{"tag_name":"20250612","assets":[{"name":"SHA256SUMS","browser_download_url":"https://example.invalid/sums","size":10}]}`))
	}))
	t.Cleanup(srv.Close)

	c := NewReleaseClient(WithAPIBaseURL(srv.URL+"/"), WithToken("tok"), WithUserAgent("newrev/test"))
	rel, err := c.Latest(context.Background())
	if err != nil {
		t.Fatalf("Latest() error: %v", err)
	}
	if rel.Tag != "20250612" {
		t.Errorf("Tag = %q", rel.Tag)
	}
	if gotAuth != "Bearer tok" || gotUA != "newrev/test" {
		t.Errorf("headers: Authorization=%q User-Agent=%q", gotAuth, gotUA)
	}
	if a, err := rel.Find(ChecksumsAsset); err != nil || a.URL != "https://example.invalid/sums" {
		t.Errorf("Find(SHA256SUMS) = %+v, %v", a, err)
	}
	if _, err := rel.Find("missing.tar.gz"); !errors.Is(err, ErrAssetNotInRelease) {
		t.Errorf("Find(missing) error = %v", err)
	}
}

func TestReleaseClient_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(error) bool
	}{
		{
			name:    "not found",
			handler: func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) },
			check:   func(err error) bool { return errors.Is(err, ErrReleaseNotFound) },
		},
		{
			name: "rate limited",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("X-RateLimit-Limit", "60")
				w.Header().Set("X-RateLimit-Reset", "1700000000")
				w.WriteHeader(http.StatusForbidden)
			},
			check: func(err error) bool {
				var rl *RateLimitError
				return errors.As(err, &rl) && rl.Limit == 60
			},
		},
		{
			name:    "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusBadGateway) },
			check:   func(err error) bool { return err != nil && !errors.Is(err, ErrReleaseNotFound) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tt.handler)
			t.Cleanup(srv.Close)

			_, err := NewReleaseClient(WithAPIBaseURL(srv.URL)).ByTag(context.Background(), "20250612")
			if !tt.check(err) {
				t.Errorf("ByTag() error = %v", err)
			}
		})
	}
}
