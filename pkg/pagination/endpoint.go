package pagination

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is the public GitHub REST API root.
const DefaultBaseURL = "https://api.github.com"

// Kind names a collection under /repos/{owner}/{name}/.
type Kind string

// Collections known to paginate through the Link header.
const (
	KindCommits      Kind = "commits"
	KindStargazers   Kind = "stargazers"
	KindContributors Kind = "contributors"
	KindIssues       Kind = "issues"
	KindPulls        Kind = "pulls"
	KindForks        Kind = "forks"
)

var kindPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// FilterMode is the filter combination an endpoint sends.
type FilterMode int

const (
	FilterNone FilterMode = iota
	FilterAuthor
	FilterSince
	FilterSinceUntil
)

func (m FilterMode) String() string {
	switch m {
	case FilterNone:
		return "none"
	case FilterAuthor:
		return "author"
	case FilterSince:
		return "since"
	case FilterSinceUntil:
		return "since_until"
	default:
		return "unknown"
	}
}

// Filters narrow a collection. Only one combination is sent per request:
// since+until, else since, else author, else nothing.
type Filters struct {
	Author string
	Since  *time.Time
	Until  *time.Time
}

// Mode returns the combination the filters resolve to.
func (f Filters) Mode() FilterMode {
	switch {
	case f.Since != nil && f.Until != nil:
		return FilterSinceUntil
	case f.Since != nil:
		return FilterSince
	case f.Author != "":
		return FilterAuthor
	default:
		return FilterNone
	}
}

// Endpoint describes one paged collection of one repository.
// Iterators copy it on construction; later changes by the caller are not seen.
type Endpoint struct {
	// BaseURL is the API root. Defaults to DefaultBaseURL.
	BaseURL string

	// Project is "owner/name".
	Project string

	// Kind is the collection name, e.g. KindCommits.
	Kind Kind

	// PerPage sets per_page when positive; otherwise the server default applies.
	PerPage int

	Filters Filters
}

// Validate checks the endpoint and its filters.
func (e Endpoint) Validate() error {
	owner, name, ok := strings.Cut(e.Project, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return &ConfigurationError{Field: "project", Reason: fmt.Sprintf("%q is not of the form owner/name", e.Project)}
	}

	if !kindPattern.MatchString(string(e.Kind)) {
		return &ConfigurationError{Field: "kind", Reason: fmt.Sprintf("%q is not a collection name", e.Kind)}
	}

	if e.PerPage < 0 {
		return &ConfigurationError{Field: "per_page", Reason: fmt.Sprintf("must be >= 0 (got %d)", e.PerPage)}
	}

	if e.BaseURL != "" {
		u, err := url.Parse(e.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return &ConfigurationError{Field: "base_url", Reason: fmt.Sprintf("%q is not an absolute URL", e.BaseURL)}
		}
	}

	f := e.Filters
	if f.Until != nil && f.Since == nil {
		return &ConfigurationError{Field: "until", Reason: "requires since"}
	}
	if f.Since != nil && f.Until != nil && f.Until.Before(*f.Since) {
		return &ConfigurationError{Field: "until", Reason: "is before since"}
	}

	return nil
}

// normalized returns a copy with defaults applied and filter times detached
// from the caller's variables.
func (e Endpoint) normalized() Endpoint {
	if e.BaseURL == "" {
		e.BaseURL = DefaultBaseURL
	}
	e.BaseURL = strings.TrimRight(e.BaseURL, "/")
	e.Project = strings.Trim(e.Project, "/")

	if e.Filters.Since != nil {
		since := e.Filters.Since.UTC()
		e.Filters.Since = &since
	}
	if e.Filters.Until != nil {
		until := e.Filters.Until.UTC()
		e.Filters.Until = &until
	}
	return e
}

// Path returns /repos/{project}/{kind}.
func (e Endpoint) Path() string {
	owner, name, _ := strings.Cut(strings.Trim(e.Project, "/"), "/")
	return "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(name) + "/" + string(e.Kind)
}

// PageURL builds the request URL for one page.
func (e Endpoint) PageURL(page int) string {
	base := e.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}

	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	if e.PerPage > 0 {
		q.Set("per_page", strconv.Itoa(e.PerPage))
	}

	f := e.Filters
	switch f.Mode() {
	case FilterSinceUntil:
		q.Set("since", formatTime(*f.Since))
		q.Set("until", formatTime(*f.Until))
	case FilterSince:
		q.Set("since", formatTime(*f.Since))
	case FilterAuthor:
		q.Set("author", f.Author)
	}

	return strings.TrimRight(base, "/") + e.Path() + "?" + q.Encode()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
