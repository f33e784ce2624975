package pagination

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/analytics4github/github-pager/pkg/client"
	"github.com/analytics4github/github-pager/pkg/ratelimit"
	"github.com/rs/zerolog"
)

// stubGetter answers every request with fn.
type stubGetter struct {
	mu   sync.Mutex
	urls []string
	fn   func(url string) (*client.Response, error)
}

func (s *stubGetter) Get(ctx context.Context, url string) (*client.Response, error) {
	s.mu.Lock()
	s.urls = append(s.urls, url)
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.fn(url)
}

func jsonResponse(body string, headers map[string]string) *client.Response {
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	return &client.Response{StatusCode: http.StatusOK, Header: h, Body: []byte(body)}
}

func TestResolver_Resolve(t *testing.T) {
	endpoint := Endpoint{Project: "octo/repo", Kind: KindCommits}.normalized()

	tests := []struct {
		name    string
		headers map[string]string
		body    string
		want    int
	}{
		{
			name:    "last page from link",
			headers: map[string]string{"Link": `<https://api.github.com/repos/octo/repo/commits?page=2>; rel="next", <https://api.github.com/repos/octo/repo/commits?page=7>; rel="last"`},
			body:    `[]`,
			want:    7,
		},
		{
			name: "no link header",
			body: `[{"sha":"abc"}]`,
			want: 1,
		},
		{
			name:    "link without last",
			headers: map[string]string{"Link": `<https://api.github.com/repos/octo/repo/commits?page=1>; rel="first"`},
			body:    `[]`,
			want:    1,
		},
		{
			name:    "unparsable last",
			headers: map[string]string{"Link": `<https://api.github.com/repos/octo/repo/commits?page=x>; rel="last"`},
			body:    `[]`,
			want:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			getter := &stubGetter{fn: func(string) (*client.Response, error) {
				return jsonResponse(tt.body, tt.headers), nil
			}}

			got, err := NewResolver(getter, nil, zerolog.Nop()).Resolve(context.Background(), endpoint)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Resolve() = %d, want %d", got, tt.want)
			}
			if len(getter.urls) != 1 || getter.urls[0] != endpoint.PageURL(1) {
				t.Errorf("requested %v, want only page 1", getter.urls)
			}
		})
	}
}

func TestResolver_Errors(t *testing.T) {
	endpoint := Endpoint{Project: "octo/repo", Kind: KindCommits}.normalized()
	boom := errors.New("connection refused")

	tests := []struct {
		name    string
		fn      func(string) (*client.Response, error)
		wantErr error
	}{
		{
			name:    "transport error",
			fn:      func(string) (*client.Response, error) { return nil, boom },
			wantErr: boom,
		},
		{
			name:    "invalid json",
			fn:      func(string) (*client.Response, error) { return jsonResponse("<html>", nil), nil },
			wantErr: ErrInvalidPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewResolver(&stubGetter{fn: tt.fn}, nil, zerolog.Nop()).Resolve(context.Background(), endpoint)

			var resErr *ResolutionError
			if !errors.As(err, &resErr) {
				t.Fatalf("error = %v, want *ResolutionError", err)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want wrapping %v", err, tt.wantErr)
			}
			if resErr.URL != endpoint.PageURL(1) {
				t.Errorf("URL = %q", resErr.URL)
			}
		})
	}
}

func TestResolver_RecordsBudget(t *testing.T) {
	budget := ratelimit.NewBudget(ratelimit.PolicyLastWriteWins)
	getter := &stubGetter{fn: func(string) (*client.Response, error) {
		return jsonResponse(`[]`, map[string]string{ratelimit.HeaderRemaining: "4321"}), nil
	}}

	endpoint := Endpoint{Project: "octo/repo", Kind: KindIssues}.normalized()
	if _, err := NewResolver(getter, budget, zerolog.Nop()).Resolve(context.Background(), endpoint); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if got := budget.Remaining(); got != 4321 {
		t.Errorf("Remaining() = %d, want 4321", got)
	}
}

func TestResolver_MalformedBudgetIsIgnored(t *testing.T) {
	budget := ratelimit.NewBudget(ratelimit.PolicyLastWriteWins)
	getter := &stubGetter{fn: func(string) (*client.Response, error) {
		return jsonResponse(`[]`, map[string]string{ratelimit.HeaderRemaining: "lots"}), nil
	}}

	endpoint := Endpoint{Project: "octo/repo", Kind: KindIssues}.normalized()
	got, err := NewResolver(getter, budget, zerolog.Nop()).Resolve(context.Background(), endpoint)
	if err != nil || got != 1 {
		t.Fatalf("Resolve() = (%d, %v), want (1, nil)", got, err)
	}
	if budget.Remaining() != -1 {
		t.Errorf("Remaining() = %d, want unknown", budget.Remaining())
	}
}
