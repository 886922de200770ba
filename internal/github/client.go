package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAPIHost = "https://api.github.com"
	perPage        = 100
	maxPages       = 10
)

var (
	ErrNotFound    = errors.New("not found")
	ErrRateLimited = errors.New("rate limited")
)

// Resolver lists merged changesets matching a filter (used by the worker loop).
type Resolver interface {
	ListMergedChangesets(ctx context.Context, repo, filterQuery string) ([]Changeset, error)
}

// Client implements Resolver using the GitHub search and pulls APIs.
// BaseURL is optional; when set (e.g. in tests) it replaces the default API host.
type Client struct {
	httpClient *http.Client
	token      string
	BaseURL    string // for tests: e.g. httptest.Server.URL
	log        *slog.Logger
}

// NewClient returns a GitHub API client. token is the pre-provisioned
// credential used for all upstream calls.
func NewClient(token string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		token:      token,
		log:        slog.Default(),
	}
}

func (c *Client) apiHost() string {
	if c.BaseURL != "" {
		return strings.TrimSuffix(c.BaseURL, "/")
	}
	return defaultAPIHost
}

// ListMergedChangesets queries merged pull requests in repo restricted by
// filterQuery and returns them ordered by merge time ascending, ties broken
// by PR number. An empty result is a valid success.
func (c *Client) ListMergedChangesets(ctx context.Context, repo, filterQuery string) ([]Changeset, error) {
	numbers, err := c.searchMergedPulls(ctx, repo, filterQuery)
	if err != nil {
		return nil, err
	}

	changesets := make([]Changeset, 0, len(numbers))
	for _, number := range numbers {
		pull, err := c.getPull(ctx, repo, number)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				c.log.Debug("pull not found, skipping", "repo", repo, "number", number)
				continue
			}
			return nil, err
		}
		// Search can briefly lag the merge state; trust the pull record.
		if !pull.Merged || pull.MergedAt == nil || pull.MergeCommitSHA == "" {
			continue
		}
		changesets = append(changesets, Changeset{
			Number:         pull.Number,
			Title:          pull.Title,
			MergedAt:       *pull.MergedAt,
			MergeCommitSHA: pull.MergeCommitSHA,
		})
	}

	// Merge-time order, not PR-number order: parallel review flows merge out
	// of numeric sequence and a later-numbered PR may be a prerequisite.
	sort.Slice(changesets, func(i, j int) bool {
		if changesets[i].MergedAt.Equal(changesets[j].MergedAt) {
			return changesets[i].Number < changesets[j].Number
		}
		return changesets[i].MergedAt.Before(changesets[j].MergedAt)
	})
	return changesets, nil
}

// searchMergedPulls pages through the issue search API and returns the PR
// numbers matching the filter.
func (c *Client) searchMergedPulls(ctx context.Context, repo, filterQuery string) ([]int, error) {
	query := fmt.Sprintf("repo:%s %s type:pr is:merged", repo, filterQuery)
	var numbers []int
	for page := 1; page <= maxPages; page++ {
		u := fmt.Sprintf("%s/search/issues?q=%s&per_page=%d&page=%d",
			c.apiHost(), url.QueryEscape(query), perPage, page)
		var resp searchResponse
		if err := c.getJSON(ctx, u, &resp); err != nil {
			return nil, fmt.Errorf("search pulls: %w", err)
		}
		for _, item := range resp.Items {
			numbers = append(numbers, item.Number)
		}
		if len(resp.Items) < perPage {
			break
		}
	}
	return numbers, nil
}

func (c *Client) getPull(ctx context.Context, repo string, number int) (*pullResponse, error) {
	u := fmt.Sprintf("%s/repos/%s/pulls/%d", c.apiHost(), repo, number)
	var pull pullResponse
	if err := c.getJSON(ctx, u, &pull); err != nil {
		return nil, err
	}
	return &pull, nil
}

// getJSON performs an authenticated GET and decodes the body. Rate-limit
// responses with a near reset time are waited out and retried once; 5xx
// responses are retried with exponential backoff.
func (c *Client) getJSON(ctx context.Context, u string, out interface{}) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
		retry, err := c.getJSONOnce(ctx, u, out)
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func (c *Client) getJSONOnce(ctx context.Context, u string, out interface{}) (retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, err
	}
	c.setAuth(req)
	req.Header.Set("Accept", "application/vnd.github+json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return false, err
		}
		return false, json.Unmarshal(body, out)
	case resp.StatusCode == http.StatusNotFound:
		return false, ErrNotFound
	case resp.StatusCode == http.StatusForbidden:
		if reset := resp.Header.Get("X-RateLimit-Reset"); reset != "" {
			if ts, _ := strconv.ParseInt(reset, 10, 64); ts > 0 {
				until := time.Until(time.Unix(ts, 0))
				if until > 0 && until < 5*time.Minute {
					c.log.Info("rate limited, backing off", "until", time.Unix(ts, 0))
					select {
					case <-ctx.Done():
						return false, ctx.Err()
					case <-time.After(until):
					}
					return true, ErrRateLimited
				}
			}
		}
		return false, ErrRateLimited
	case resp.StatusCode >= 500:
		return true, fmt.Errorf("github API: %s", resp.Status)
	default:
		return false, fmt.Errorf("github API: %s", resp.Status)
	}
}

func (c *Client) setAuth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "token "+c.token)
	}
}

var _ Resolver = (*Client)(nil)
