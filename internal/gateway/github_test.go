package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-github/v62/github"
	"github.com/shurcooL/githubv4"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naka-gawa/year-review/internal/domain"
	apperrors "github.com/naka-gawa/year-review/internal/errors"
)

// setupTestGateway creates a GitHubGateway that communicates with a mock HTTP server.
func setupTestGateway(t *testing.T, handler http.Handler) (*GitHubGateway, *test.Hook, *httptest.Server) {
	server := httptest.NewServer(handler)

	// Setup REST client to point to the mock server.
	restClient := github.NewClient(server.Client())
	baseURL, err := url.Parse(server.URL + "/")
	require.NoError(t, err)
	restClient.BaseURL = baseURL

	// Use NewEnterpriseClient to point the GraphQL client to our mock server's URL.
	graphqlClient := githubv4.NewEnterpriseClient(server.URL+"/graphql", server.Client())
	logger, hook := test.NewNullLogger()

	gateway := &GitHubGateway{
		restClient:    restClient,
		graphqlClient: graphqlClient,
		opts:          GitHubOptions{PageDelay: time.Millisecond}.withDefaults(),
		logger:        logger,
	}

	return gateway, hook, server
}

const testUser = `{"id": 1, "login": "octocat", "name": "The Octocat", "email": "octocat@example.com"}`

func commitJSON(authorLogin, date string) string {
	return fmt.Sprintf(`{"sha": "x", "author": {"login": %q}, "committer": {"login": %q}, "commit": {"author": {"date": %q}}}`,
		authorLogin, authorLogin, date)
}

// githubMux serves a user with two repositories, X and Y.
func githubMux(t *testing.T, commitsY http.HandlerFunc) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, testUser)
	})
	mux.HandleFunc("/user/repos", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "owner,collaborator", r.URL.Query().Get("affiliation"))
		assert.Equal(t, "updated", r.URL.Query().Get("sort"))
		fmt.Fprint(w, `[
			{"name": "X", "full_name": "octocat/X", "owner": {"login": "octocat"}, "language": "Go"},
			{"name": "Y", "full_name": "octocat/Y", "owner": {"login": "octocat"}, "private": true}
		]`)
	})
	mux.HandleFunc("/repos/octocat/X/commits", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "octocat", r.URL.Query().Get("author"))
		assert.Contains(t, r.URL.Query().Get("since"), "2024-01-01")
		fmt.Fprintf(w, "[%s,%s,%s,%s]",
			commitJSON("octocat", "2024-03-01T10:00:00Z"),
			commitJSON("OctoCat", "2024-03-15T10:00:00Z"),
			commitJSON("octocat", "2024-04-02T10:00:00Z"),
			commitJSON("someone-else", "2024-04-03T10:00:00Z"),
		)
	})
	mux.HandleFunc("/repos/octocat/Y/commits", commitsY)
	mux.HandleFunc("/graphql", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		if strings.Contains(string(body), "type:pr") {
			fmt.Fprint(w, `{"data":{"search":{"issueCount":7}}}`)
			return
		}
		fmt.Fprint(w, `{"data":{"search":{"issueCount":2}}}`)
	})
	return mux
}

func TestGitHubGateway_YearStats(t *testing.T) {
	testCases := []struct {
		name          string
		commitsY      http.HandlerFunc
		expectedTop   []domain.TopEntry
		expectWarning bool
	}{
		{
			name: "happy path - only the user's commits are counted",
			commitsY: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprintf(w, "[%s]", commitJSON("someone-else", "2024-05-01T10:00:00Z"))
			},
			expectedTop: []domain.TopEntry{{Label: "X", FullName: "octocat/X", Count: 3, Language: "Go"}},
		},
		{
			name: "empty repository - conflict is treated as no commits",
			commitsY: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusConflict)
				fmt.Fprint(w, `{"message": "Git Repository is empty."}`)
			},
			expectedTop: []domain.TopEntry{{Label: "X", FullName: "octocat/X", Count: 3, Language: "Go"}},
		},
		{
			name: "failing repository - skipped with a warning",
			commitsY: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprint(w, `{"message": "Internal Server Error"}`)
			},
			expectedTop:   []domain.TopEntry{{Label: "X", FullName: "octocat/X", Count: 3, Language: "Go"}},
			expectWarning: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			gateway, hook, server := setupTestGateway(t, githubMux(t, tc.commitsY))
			defer server.Close()

			stats, err := gateway.YearStats(context.Background(), 2024)
			require.NoError(t, err)

			assert.Equal(t, domain.ProviderGitHub, stats.Provider)
			assert.Equal(t, "octocat", stats.Identity.Handle)
			assert.Equal(t, "The Octocat", stats.Identity.Name)
			assert.Equal(t, 3, stats.TotalCount)
			assert.Equal(t, 2, stats.Monthly[2])
			assert.Equal(t, 1, stats.Monthly[3])
			assert.Equal(t, stats.TotalCount, stats.Monthly.Sum())
			assert.Equal(t, tc.expectedTop, stats.TopEntities)
			assert.Equal(t, 7, stats.Code.PullRequests)
			assert.Equal(t, 2, stats.Code.Issues)
			assert.Equal(t, 2, stats.Code.Repositories)
			assert.Equal(t, &domain.Coverage{Probed: 2, Available: 2, Cap: DefaultGitHubMaxRepos, LowerBound: true}, stats.Coverage)
			assert.Empty(t, stats.Unavailable)

			assert.Equal(t, tc.expectWarning, hasWarning(hook))
		})
	}
}

func TestGitHubGateway_RepositoryCap(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, testUser)
	})
	mux.HandleFunc("/user/repos", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[
			{"name": "A", "full_name": "octocat/A", "owner": {"login": "octocat"}},
			{"name": "B", "full_name": "octocat/B", "owner": {"login": "octocat"}},
			{"name": "C", "full_name": "octocat/C", "owner": {"login": "octocat"}}
		]`)
	})
	var mu sync.Mutex
	probed := map[string]bool{}
	mux.HandleFunc("/repos/", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		probed[r.URL.Path] = true
		mu.Unlock()
		fmt.Fprintf(w, "[%s]", commitJSON("octocat", "2024-06-01T00:00:00Z"))
	})
	mux.HandleFunc("/graphql", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"search":{"issueCount":0}}}`)
	})

	gateway, _, server := setupTestGateway(t, mux)
	defer server.Close()
	gateway.opts.MaxRepos = 2

	stats, err := gateway.YearStats(context.Background(), 2024)
	require.NoError(t, err)

	assert.Len(t, probed, 2)
	assert.False(t, probed["/repos/octocat/C/commits"])
	assert.Equal(t, 2, stats.TotalCount)
	assert.Equal(t, &domain.Coverage{Probed: 2, Available: 3, Cap: 2, LowerBound: true}, stats.Coverage)
}

func TestGitHubGateway_SearchCountFailureKeepsCommits(t *testing.T) {
	mux := githubMux(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	})
	handler := func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/graphql" {
			fmt.Fprint(w, `{"errors":[{"message":"Something went wrong"}]}`)
			return
		}
		mux.ServeHTTP(w, r)
	}
	gateway, hook, server := setupTestGateway(t, http.HandlerFunc(handler))
	defer server.Close()

	stats, err := gateway.YearStats(context.Background(), 2024)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.TotalCount)
	assert.Equal(t, 0, stats.Code.PullRequests)
	assert.Equal(t, 0, stats.Code.Issues)
	assert.Equal(t, []string{"issues", "pull_requests"}, stats.Unavailable)
	assert.True(t, hasWarning(hook))
}

func TestGitHubGateway_CommitPageCap(t *testing.T) {
	fullPage := make([]string, githubPerPage)
	for i := range fullPage {
		fullPage[i] = commitJSON("octocat", "2024-07-01T10:00:00Z")
	}
	var calls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, testUser)
	})
	mux.HandleFunc("/user/repos", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"name": "A", "full_name": "octocat/A", "owner": {"login": "octocat"}}]`)
	})
	mux.HandleFunc("/repos/octocat/A/commits", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		fmt.Fprintf(w, "[%s]", strings.Join(fullPage, ","))
	})
	mux.HandleFunc("/graphql", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"search":{"issueCount":0}}}`)
	})

	gateway, _, server := setupTestGateway(t, mux)
	defer server.Close()
	gateway.opts.MaxCommitPages = 2

	stats, err := gateway.YearStats(context.Background(), 2024)
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, 2*githubPerPage, stats.TotalCount)
	assert.Equal(t, &domain.Coverage{Probed: 1, Available: 1, Cap: DefaultGitHubMaxRepos, PageCap: 2, LowerBound: true}, stats.Coverage)
}

func TestGitHubGateway_Identity(t *testing.T) {
	testCases := []struct {
		name         string
		status       int
		body         string
		expectedCode apperrors.ErrCode
	}{
		{
			name:   "happy path",
			status: http.StatusOK,
			body:   testUser,
		},
		{
			name:         "rejected credential",
			status:       http.StatusUnauthorized,
			body:         `{"message": "Bad credentials"}`,
			expectedCode: apperrors.ErrCodeReauthorizationRequired,
		},
		{
			name:         "server error",
			status:       http.StatusBadGateway,
			body:         `{"message": "bad gateway"}`,
			expectedCode: apperrors.ErrCodeProviderFetch,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			handler := func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			}
			gateway, _, server := setupTestGateway(t, http.HandlerFunc(handler))
			defer server.Close()

			identity, err := gateway.Identity(context.Background())
			if tc.expectedCode != "" {
				require.Error(t, err)
				assert.Equal(t, tc.expectedCode, apperrors.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, &domain.Identity{ID: "1", Name: "The Octocat", Email: "octocat@example.com", Handle: "octocat"}, identity)
		})
	}
}

func TestGitHubGateway_SearchCountError(t *testing.T) {
	handler := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"errors":[{"message":"Something went wrong"}]}`)
	}
	gateway, _, server := setupTestGateway(t, http.HandlerFunc(handler))
	defer server.Close()

	_, err := gateway.searchCount(context.Background(), "author:octocat type:pr")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeProviderFetch, apperrors.CodeOf(err))
	assert.Contains(t, err.Error(), "failed to execute GraphQL search count")
}
