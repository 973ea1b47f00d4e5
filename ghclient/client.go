package ghclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/shiplog/shiplog/backoff"
	"github.com/shiplog/shiplog/config"
	"github.com/shiplog/shiplog/log"
)

const (
	perPage = 100

	maxRLWait  = 2 * time.Minute
	apiVersion = "2022-11-28"
)

// Client reads workflow run metadata and raw job logs from the GitHub
// REST API. All requests are scoped to a single owner/name repository.
type Client struct {
	base   *url.URL
	repo   string
	token  string
	client *http.Client
	policy backoff.Policy
	l      *slog.Logger
}

func New(cfg *config.Config, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(cfg.GitHub.APIBase)
	if err != nil {
		return nil, fmt.Errorf("parsing api base: %w", err)
	}

	if logger == nil {
		logger = log.New("ghclient")
	}

	return &Client{
		base:  base,
		repo:  cfg.GitHub.Repository,
		token: cfg.GitHub.Token,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		policy: backoff.Default(cfg.MaxRetries),
		l:      logger,
	}, nil
}

func (c *Client) newRequest(ctx context.Context, endpoint string, query url.Values) (*http.Request, error) {
	reqUrl := c.base.JoinPath(endpoint)
	if query != nil {
		reqUrl.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqUrl.String(), nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)

	return req, nil
}

// withRetry runs fn under the shared backoff policy: exponential delay
// with jitter for transient failures, the provider's reset window for
// rate limits, and no retry at all for auth/not-found kinds.
func (c *Client) withRetry(ctx context.Context, endpoint string, fn func() error) error {
	opts := append(c.policy.Options(ctx, c.l, endpoint),
		retry.RetryIf(retryable),
		retry.DelayType(c.delay),
	)
	return retry.Do(fn, opts...)
}

// delay prefers the provider's advertised rate-limit reset over blind
// backoff, capped so a distant reset never stalls the run.
func (c *Client) delay(n uint, err error, cfg *retry.Config) time.Duration {
	var rl *RateLimitError
	if errors.As(err, &rl) && !rl.Reset.IsZero() {
		if d := time.Until(rl.Reset); d > 0 {
			return min(d, maxRLWait)
		}
	}
	return retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)(n, err, cfg)
}

func get[T any](ctx context.Context, c *Client, endpoint string, query url.Values) (*T, error) {
	var result T

	err := c.withRetry(ctx, endpoint, func() error {
		req, err := c.newRequest(ctx, endpoint, query)
		if err != nil {
			return err
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		if resp.StatusCode != http.StatusOK {
			return statusError(resp, strings.TrimSpace(string(body)))
		}

		return json.Unmarshal(body, &result)
	})
	if err != nil {
		return nil, err
	}

	return &result, nil
}

// FetchRun retrieves the metadata record for one workflow run.
func (c *Client) FetchRun(ctx context.Context, runID int64) (*WorkflowRun, error) {
	endpoint := fmt.Sprintf("/repos/%s/actions/runs/%d", c.repo, runID)
	run, err := get[WorkflowRun](ctx, c, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching run %d: %w", runID, err)
	}
	return run, nil
}

// Jobs returns a lazy page-by-page sequence of the run's jobs, in the
// provider's order. Iteration stops at the first short page. A fetch
// error is yielded once and ends the sequence.
func (c *Client) Jobs(ctx context.Context, runID int64) iter.Seq2[*Job, error] {
	endpoint := fmt.Sprintf("/repos/%s/actions/runs/%d/jobs", c.repo, runID)

	return func(yield func(*Job, error) bool) {
		for page := 1; ; page++ {
			query := url.Values{}
			query.Set("per_page", strconv.Itoa(perPage))
			query.Set("page", strconv.Itoa(page))

			res, err := get[jobsPage](ctx, c, endpoint, query)
			if err != nil {
				yield(nil, fmt.Errorf("fetching jobs for run %d: %w", runID, err))
				return
			}

			for _, job := range res.Jobs {
				if !yield(job, nil) {
					return
				}
			}

			if len(res.Jobs) < perPage {
				return
			}
		}
	}
}

// FetchJobs collects the full job list for a run.
func (c *Client) FetchJobs(ctx context.Context, runID int64) ([]*Job, error) {
	var jobs []*Job
	for job, err := range c.Jobs(ctx, runID) {
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// JobLogs downloads the raw log text for one job, following the
// provider's redirect to blob storage. A 404 or 410 means the logs are
// gone (retention expiry, usually) and maps to ErrLogUnavailable so
// callers can skip the job instead of aborting the run.
func (c *Client) JobLogs(ctx context.Context, jobID int64) ([]byte, error) {
	endpoint := fmt.Sprintf("/repos/%s/actions/jobs/%d/logs", c.repo, jobID)

	var logs []byte
	err := c.withRetry(ctx, endpoint, func() error {
		req, err := c.newRequest(ctx, endpoint, nil)
		if err != nil {
			return err
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}

		switch resp.StatusCode {
		case http.StatusOK:
			logs = body
			return nil
		case http.StatusNotFound, http.StatusGone:
			return fmt.Errorf("job %d: %w", jobID, ErrLogUnavailable)
		default:
			return statusError(resp, strings.TrimSpace(string(body)))
		}
	})
	if err != nil {
		return nil, err
	}

	return logs, nil
}
