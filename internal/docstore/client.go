package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// Retry and backoff constants.
const (
	maxRetries     = 5
	baseBackoff    = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
	userAgent      = "ledgersync/0.1"
	queryPageSize  = 500
)

// Client talks to a document store over its HTTP API:
//
//	POST {base}/v1/commit                               atomic batch upsert
//	GET  {base}/v1/tenants/{t}/{c}?updatedAfter=<ms>    paginated query
//
// Document ids are generated client-side, so NewDocumentID needs no round
// trip. Requests are authenticated with a bearer token and retried with
// exponential backoff on throttling, 5xx, and network errors.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      oauth2.TokenSource
	logger     *slog.Logger

	// sleepFunc waits between retries. Tests override it to avoid delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
	newID     func() string
}

// NewClient creates a document store client for baseURL. A nil token source
// sends unauthenticated requests.
func NewClient(baseURL string, httpClient *http.Client, token oauth2.TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		token:      token,
		logger:     logger,
		sleepFunc:  timeSleep,
		newID:      uuid.NewString,
	}
}

// NewDocumentID returns a fresh random document id for path.
func (c *Client) NewDocumentID(_ context.Context, path CollectionPath) (string, error) {
	if err := path.Validate(); err != nil {
		return "", err
	}

	return c.newID(), nil
}

type commitRequest struct {
	Writes []wireWrite `json:"writes"`
}

type wireWrite struct {
	Tenant     string          `json:"tenant"`
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	UpdatedAt  int64           `json:"updatedAt"`
	Fields     json.RawMessage `json:"fields"`
}

// Commit sends every staged write in one request. The server applies them
// atomically; a non-2xx response means nothing was written.
func (c *Client) Commit(ctx context.Context, batch *Batch) error {
	if err := CheckBatch(batch); err != nil {
		return err
	}

	if batch.Len() == 0 {
		return nil
	}

	req := commitRequest{Writes: make([]wireWrite, 0, batch.Len())}
	for _, w := range batch.Writes() {
		req.Writes = append(req.Writes, wireWrite{
			Tenant:     w.Path.Tenant,
			Collection: w.Path.Collection,
			ID:         w.ID,
			UpdatedAt:  w.UpdatedAt.UnixMilli(),
			Fields:     w.Fields,
		})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("docstore: encoding commit: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/v1/commit", body)
	if err != nil {
		return fmt.Errorf("docstore: committing %d writes: %w", batch.Len(), err)
	}

	resp.Body.Close()

	return nil
}

type queryResponse struct {
	Documents     []wireDocument `json:"documents"`
	NextPageToken string         `json:"nextPageToken"`
}

type wireDocument struct {
	ID        string          `json:"id"`
	UpdatedAt int64           `json:"updatedAt"`
	Fields    json.RawMessage `json:"fields"`
}

// QuerySince fetches every page of documents in path updated after since.
func (c *Client) QuerySince(ctx context.Context, path CollectionPath, since time.Time) ([]Document, error) {
	if err := path.Validate(); err != nil {
		return nil, err
	}

	base := "/v1/tenants/" + url.PathEscape(path.Tenant) + "/" + url.PathEscape(path.Collection)

	var (
		docs      []Document
		pageToken string
	)

	for {
		q := url.Values{}
		q.Set("updatedAfter", strconv.FormatInt(since.UnixMilli(), 10))
		q.Set("pageSize", strconv.Itoa(queryPageSize))

		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		page, err := c.queryPage(ctx, base+"?"+q.Encode())
		if err != nil {
			return nil, fmt.Errorf("docstore: querying %s: %w", path, err)
		}

		for _, d := range page.Documents {
			docs = append(docs, Document{
				ID:        d.ID,
				UpdatedAt: time.UnixMilli(d.UpdatedAt),
				Fields:    d.Fields,
			})
		}

		if page.NextPageToken == "" {
			break
		}

		pageToken = page.NextPageToken
	}

	c.logger.Debug("query complete",
		slog.String("path", path.String()),
		slog.Int("documents", len(docs)),
	)

	return docs, nil
}

func (c *Client) queryPage(ctx context.Context, path string) (*queryResponse, error) {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var page queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	return &page, nil
}

// do executes a request with retry. The body is replayed on each attempt.
// The caller closes the response body on success.
func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	target := c.baseURL + path

	var attempt int
	for {
		resp, err := c.doOnce(ctx, method, target, body)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("request canceled: %w", ctx.Err())
			}

			if attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("method", method),
					slog.String("path", path),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("%s %s failed after %d retries: %w", method, path, maxRetries, err)
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			return resp, nil
		}

		errBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		if isRetryable(resp.StatusCode) && attempt < maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("request canceled: %w", err)
			}

			attempt++

			continue
		}

		return nil, &StoreError{
			StatusCode: resp.StatusCode,
			RequestID:  resp.Header.Get("X-Request-Id"),
			Message:    string(errBody),
			Err:        classifyStatus(resp.StatusCode),
		}
	}
}

func (c *Client) doOnce(ctx context.Context, method, target string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if c.token != nil {
		tok, err := c.token.Token()
		if err != nil {
			return nil, fmt.Errorf("obtaining token: %w", err)
		}

		tok.SetAuthHeader(req)
	}

	req.Header.Set("User-Agent", userAgent)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

// retryBackoff honors Retry-After on 429 responses.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
