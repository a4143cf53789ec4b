// Package indexer resolves content identifiers to provider advertisements
// using an IPNI find endpoint, with every result persisted in a lookup cache.
package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v5"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/time/rate"

	"github.com/storacha/deal-ingester/pkg/store/lookupcache"
)

var log = logging.Logger("indexer")

// DefaultURL is the public IPNI instance.
const DefaultURL = "http://cid.contact"

// maxErrorBody caps how much of an error response is kept for reporting.
const maxErrorBody = 4096

// ErrUnexpectedStatus is matched by every [StatusError].
var ErrUnexpectedStatus = errors.New("unexpected indexer response status")

// StatusError is returned when the indexer answers with a status other than
// 2xx or 404. It indicates a broken integration and is never retried.
type StatusError struct {
	ContentID  string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("cannot query indexer for %s: %d\n%s", e.ContentID, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	return ErrUnexpectedStatus
}

// Client looks up provider advertisements, consulting the cache first.
type Client struct {
	endpoint *url.URL
	http     *http.Client
	cache    lookupcache.Store
	limiter  *rate.Limiter
	retries  uint
}

type Option func(*Client)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.http = c
	}
}

// WithRateLimit caps requests per second to the indexer. Zero disables the limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(cl *Client) {
		if rps <= 0 {
			cl.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		cl.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithRetries sets how many times a request that failed before a response was
// received is retried. Responses, whatever their status, are never retried.
func WithRetries(n uint) Option {
	return func(cl *Client) {
		cl.retries = n
	}
}

// New creates a client for the find API at endpoint.
func New(endpoint *url.URL, cache lookupcache.Store, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: time.Minute},
		cache:    cache,
		retries:  2,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Lookup returns the provider results for contentID grouped per multihash.
// found is false when the indexer has no record of contentID, either now or
// in a previous lookup recorded in the cache.
func (c *Client) Lookup(ctx context.Context, contentID string) (results [][]ProviderResult, found bool, err error) {
	entry, err := c.cache.Get(ctx, contentID)
	switch {
	case err == nil:
		if !entry.Found {
			log.Debugw("cached not found", "cid", contentID)
			return nil, false, nil
		}
		results, err := DecodeResults(entry.Data)
		if err != nil {
			return nil, false, fmt.Errorf("decoding cached providers for %s: %w", contentID, err)
		}
		return results, true, nil
	case !errors.Is(err, lookupcache.ErrNotExist):
		return nil, false, fmt.Errorf("reading cache for %s: %w", contentID, err)
	}

	res, err := c.find(ctx, contentID)
	if err != nil {
		return nil, false, err
	}

	switch {
	case res.status == http.StatusNotFound:
		if err := c.cache.PutNotFound(ctx, contentID); err != nil {
			return nil, false, fmt.Errorf("caching not found for %s: %w", contentID, err)
		}
		return nil, false, nil
	case res.status < 200 || res.status > 299:
		return nil, false, &StatusError{ContentID: contentID, StatusCode: res.status, Body: truncate(res.body)}
	}

	var body FindResponse
	if err := json.Unmarshal(res.body, &body); err != nil {
		return nil, false, fmt.Errorf("decoding indexer response for %s: %w", contentID, err)
	}
	results = body.ProviderResults()

	data, err := encodeResults(results)
	if err != nil {
		return nil, false, fmt.Errorf("encoding providers for %s: %w", contentID, err)
	}
	if err := c.cache.PutFound(ctx, contentID, data); err != nil {
		return nil, false, fmt.Errorf("caching providers for %s: %w", contentID, err)
	}
	return results, true, nil
}

type response struct {
	status int
	body   []byte
}

func (c *Client) find(ctx context.Context, contentID string) (response, error) {
	u := c.endpoint.JoinPath("cid", contentID)
	return backoff.Retry(ctx, func() (response, error) {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return response{}, backoff.Permanent(err)
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return response{}, backoff.Permanent(fmt.Errorf("creating request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return response{}, backoff.Permanent(err)
			}
			return response{}, fmt.Errorf("querying indexer for %s: %w", contentID, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			if ctx.Err() != nil {
				return response{}, backoff.Permanent(err)
			}
			return response{}, fmt.Errorf("reading indexer response for %s: %w", contentID, err)
		}
		return response{status: resp.StatusCode, body: body}, nil
	},
		backoff.WithMaxTries(c.retries+1),
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithNotify(func(err error, d time.Duration) {
			log.Warnw("indexer request failed, retrying", "cid", contentID, "in", d, "error", err)
		}),
	)
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody]) + "..."
	}
	return string(b)
}
