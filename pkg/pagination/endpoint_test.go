package pagination

import (
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestFilters_Mode(t *testing.T) {
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	until := since.Add(24 * time.Hour)

	tests := []struct {
		name    string
		filters Filters
		want    FilterMode
	}{
		{"none", Filters{}, FilterNone},
		{"author", Filters{Author: "octocat"}, FilterAuthor},
		{"since", Filters{Since: &since}, FilterSince},
		{"since and until", Filters{Since: &since, Until: &until}, FilterSinceUntil},
		{"since wins over author", Filters{Author: "octocat", Since: &since}, FilterSince},
		{"since and until win over author", Filters{Author: "octocat", Since: &since, Until: &until}, FilterSinceUntil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filters.Mode(); got != tt.want {
				t.Errorf("Mode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEndpoint_Validate(t *testing.T) {
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	before := since.Add(-time.Hour)

	tests := []struct {
		name      string
		endpoint  Endpoint
		wantField string
	}{
		{"valid", Endpoint{Project: "octo/repo", Kind: KindCommits}, ""},
		{"custom kind", Endpoint{Project: "octo/repo", Kind: "releases"}, ""},
		{"missing slash", Endpoint{Project: "octorepo", Kind: KindCommits}, "project"},
		{"empty owner", Endpoint{Project: "/repo", Kind: KindCommits}, "project"},
		{"too many segments", Endpoint{Project: "a/b/c", Kind: KindCommits}, "project"},
		{"empty kind", Endpoint{Project: "octo/repo"}, "kind"},
		{"kind with slash", Endpoint{Project: "octo/repo", Kind: "commits/x"}, "kind"},
		{"negative per_page", Endpoint{Project: "octo/repo", Kind: KindCommits, PerPage: -1}, "per_page"},
		{"relative base url", Endpoint{BaseURL: "api.github.com", Project: "octo/repo", Kind: KindCommits}, "base_url"},
		{"until without since", Endpoint{Project: "octo/repo", Kind: KindCommits, Filters: Filters{Until: &since}}, "until"},
		{"until before since", Endpoint{Project: "octo/repo", Kind: KindCommits, Filters: Filters{Since: &since, Until: &before}}, "until"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.endpoint.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}

			var cfgErr *ConfigurationError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Validate() error = %v, want *ConfigurationError", err)
			}
			if cfgErr.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", cfgErr.Field, tt.wantField)
			}
		})
	}
}

func TestEndpoint_PageURL(t *testing.T) {
	since := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	until := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		endpoint  Endpoint
		page      int
		wantPath  string
		wantQuery url.Values
	}{
		{
			name:      "no filters",
			endpoint:  Endpoint{Project: "octo/repo", Kind: KindStargazers},
			page:      3,
			wantPath:  "/repos/octo/repo/stargazers",
			wantQuery: url.Values{"page": {"3"}},
		},
		{
			name:      "per_page",
			endpoint:  Endpoint{Project: "octo/repo", Kind: KindCommits, PerPage: 100},
			page:      1,
			wantPath:  "/repos/octo/repo/commits",
			wantQuery: url.Values{"page": {"1"}, "per_page": {"100"}},
		},
		{
			name:      "author",
			endpoint:  Endpoint{Project: "octo/repo", Kind: KindCommits, Filters: Filters{Author: "octocat"}},
			page:      2,
			wantPath:  "/repos/octo/repo/commits",
			wantQuery: url.Values{"page": {"2"}, "author": {"octocat"}},
		},
		{
			name:      "since is sent in UTC",
			endpoint:  Endpoint{Project: "octo/repo", Kind: KindCommits, Filters: Filters{Since: &since}},
			page:      1,
			wantPath:  "/repos/octo/repo/commits",
			wantQuery: url.Values{"page": {"1"}, "since": {"2024-03-01T11:00:00Z"}},
		},
		{
			name:     "since and until drop author",
			endpoint: Endpoint{Project: "octo/repo", Kind: KindCommits, Filters: Filters{Author: "octocat", Since: &since, Until: &until}},
			page:     1,
			wantPath: "/repos/octo/repo/commits",
			wantQuery: url.Values{
				"page":  {"1"},
				"since": {"2024-03-01T11:00:00Z"},
				"until": {"2024-03-02T00:00:00Z"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(tt.endpoint.PageURL(tt.page))
			if err != nil {
				t.Fatalf("PageURL() is not a URL: %v", err)
			}
			if u.Host != "api.github.com" {
				t.Errorf("Host = %q, want api.github.com", u.Host)
			}
			if u.Path != tt.wantPath {
				t.Errorf("Path = %q, want %q", u.Path, tt.wantPath)
			}
			if got := u.Query().Encode(); got != tt.wantQuery.Encode() {
				t.Errorf("Query = %q, want %q", got, tt.wantQuery.Encode())
			}
		})
	}
}

func TestEndpoint_Normalized(t *testing.T) {
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	e := Endpoint{BaseURL: "http://localhost:8080/", Project: "/octo/repo/", Kind: KindCommits, Filters: Filters{Since: &since}}

	n := e.normalized()
	if n.BaseURL != "http://localhost:8080" {
		t.Errorf("BaseURL = %q", n.BaseURL)
	}
	if n.Project != "octo/repo" {
		t.Errorf("Project = %q", n.Project)
	}

	since = since.Add(time.Hour)
	if n.Filters.Since.Equal(since) {
		t.Error("normalized endpoint must not share the caller's time")
	}

	if !strings.HasPrefix(n.PageURL(1), "http://localhost:8080/repos/octo/repo/commits?") {
		t.Errorf("PageURL = %q", n.PageURL(1))
	}
}
