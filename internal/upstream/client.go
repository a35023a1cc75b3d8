// internal/upstream/client.go
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/saadkhi/crawl-pipeline/internal/model"
)

const defaultGraphQLEndpoint = "https://api.github.com/graphql"

// searchDocument pages through repository search results. The node fields
// are everything the snapshot table stores.
const searchDocument = `
query ($query: String!, $first: Int!, $after: String) {
  search(query: $query, type: REPOSITORY, first: $first, after: $after) {
    pageInfo { endCursor hasNextPage }
    nodes {
      ... on Repository {
        id
        name
        owner { login }
        stargazerCount
        description
        url
        primaryLanguage { name }
        defaultBranchRef { name }
        updatedAt
      }
    }
  }
}`

// Client talks to the GitHub GraphQL search API and, for metadata
// enrichment, the REST API. All requests pass through a shared rate limiter.
type Client struct {
	httpClient *http.Client
	gh         *github.Client
	endpoint   string
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient builds an authenticated client. rps bounds outgoing requests per
// second across both the GraphQL and REST paths.
func NewClient(token string, rps float64, logger *slog.Logger) *Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(context.Background(), ts)
	tc.Timeout = 30 * time.Second

	return &Client{
		httpClient: tc,
		gh:         github.NewClient(tc),
		endpoint:   defaultGraphQLEndpoint,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		logger:     logger,
	}
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type repoNode struct {
	ID              string                 `json:"id"`
	Name            string                 `json:"name"`
	Owner           struct{ Login string } `json:"owner"`
	StargazerCount  int                    `json:"stargazerCount"`
	Description     *string                `json:"description"`
	URL             string                 `json:"url"`
	PrimaryLanguage *struct {
		Name string `json:"name"`
	} `json:"primaryLanguage"`
	DefaultBranchRef *struct {
		Name string `json:"name"`
	} `json:"defaultBranchRef"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type graphQLResponse struct {
	Data struct {
		Search struct {
			PageInfo struct {
				EndCursor   *string `json:"endCursor"`
				HasNextPage bool    `json:"hasNextPage"`
			} `json:"pageInfo"`
			Nodes []repoNode `json:"nodes"`
		} `json:"search"`
	} `json:"data"`
	Errors []struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"errors"`
}

// FetchPage issues one search request at the given cursor. A nil cursor
// starts from the beginning. When the result set is exhausted the returned
// page has HasMore false and a nil NextCursor.
func (c *Client) FetchPage(ctx context.Context, query string, cursor *string, pageSize int) (*model.Page, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(graphQLRequest{
		Query: searchDocument,
		Variables: map[string]any{
			"query": query,
			"first": pageSize,
			"after": cursor,
		},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindTransient, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTPFailure(resp)
	}

	var decoded graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &Error{Kind: KindTransient, Message: "decoding response body", Err: err}
	}
	if len(decoded.Errors) > 0 {
		return nil, classifyGraphQLErrors(decoded)
	}

	search := decoded.Data.Search
	page := &model.Page{
		Records: make([]model.SearchRecord, 0, len(search.Nodes)),
		HasMore: search.PageInfo.HasNextPage,
	}
	if search.PageInfo.HasNextPage {
		page.NextCursor = search.PageInfo.EndCursor
	}
	for _, node := range search.Nodes {
		if node.ID == "" {
			// Search can surface non-repository nodes; the inline fragment
			// leaves those empty.
			continue
		}
		page.Records = append(page.Records, toSearchRecord(node))
	}

	c.logger.Debug("Fetched search page",
		"records", len(page.Records), "has_more", page.HasMore)
	return page, nil
}

// FetchMeta retrieves the full REST representation of a repository, returned
// as raw JSON for wholesale storage.
func (c *Client) FetchMeta(ctx context.Context, owner, name string) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	repo, resp, err := c.gh.Repositories.Get(ctx, owner, name)
	if err != nil {
		if resp != nil {
			return nil, classifyHTTPFailure(resp.Response)
		}
		return nil, &Error{Kind: KindTransient, Message: "metadata request failed", Err: err}
	}

	payload, err := json.Marshal(repo)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func toSearchRecord(node repoNode) model.SearchRecord {
	rec := model.SearchRecord{
		Repo: model.RepoRecord{
			ID:                node.ID,
			Owner:             node.Owner.Login,
			Name:              node.Name,
			FullName:          node.Owner.Login + "/" + node.Name,
			URL:               node.URL,
			Description:       node.Description,
			UpstreamUpdatedAt: node.UpdatedAt,
		},
		Stars: node.StargazerCount,
	}
	if node.PrimaryLanguage != nil {
		rec.Repo.Language = &node.PrimaryLanguage.Name
	}
	if node.DefaultBranchRef != nil {
		rec.Repo.DefaultBranch = &node.DefaultBranchRef.Name
	}
	return rec
}

func classifyHTTPFailure(resp *http.Response) *Error {
	status := resp.StatusCode
	snippet := readSnippet(resp.Body)

	switch {
	case status == http.StatusTooManyRequests,
		status == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0":
		return &Error{
			Kind:       KindRateLimited,
			RetryAfter: retryAfterFromHeaders(resp.Header),
			Status:     status,
			Message:    snippet,
		}
	case status == http.StatusUnauthorized,
		status == http.StatusForbidden,
		status == http.StatusNotFound,
		status == http.StatusUnprocessableEntity:
		return &Error{Kind: KindNonRetryable, Status: status, Message: snippet}
	default:
		return &Error{Kind: KindTransient, Status: status, Message: snippet}
	}
}

func classifyGraphQLErrors(decoded graphQLResponse) *Error {
	msgs := make([]string, 0, len(decoded.Errors))
	for _, e := range decoded.Errors {
		if e.Type == "RATE_LIMITED" {
			return &Error{Kind: KindRateLimited, Message: e.Message}
		}
		msgs = append(msgs, e.Message)
	}
	// Anything else from the GraphQL layer is a query problem, not an
	// infrastructure one.
	return &Error{Kind: KindNonRetryable, Message: strings.Join(msgs, "; ")}
}

// retryAfterFromHeaders derives the wait until a rate limit resets, from
// either a Retry-After duration or an X-RateLimit-Reset epoch timestamp.
func retryAfterFromHeaders(h http.Header) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			if wait := time.Until(time.Unix(epoch, 0)); wait > 0 {
				return wait
			}
		}
	}
	return 0
}

func readSnippet(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
