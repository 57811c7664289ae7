// Package fetch provides the HTTP client that retrieves video metadata
// records from the origin API. It is the cache's upstream collaborator: the
// caller checks the cache first, fetches on a miss, and writes the fetched
// record back with a TTL of its choosing.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	logging "github.com/ipfs/go-log/v2"

	"github.com/mediakit/metacache/record"
)

var log = logging.Logger("metacache/fetch")

const videosPath = "videos"

// Retry defaults applied when WithRetry is not given. Retries cover
// transport errors and retryable statuses (429, 5xx); the final failing
// response is still surfaced as a StatusError.
const (
	defaultRetryMax     = 3
	defaultRetryWaitMin = 250 * time.Millisecond
	defaultRetryWaitMax = 2 * time.Second
)

// ErrNotFound reports that the origin has no record for the requested id.
var ErrNotFound = errors.New("video not found")

// StatusError reports a non-success response from the metadata origin.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("metadata origin returned %d %s: %s",
		e.Code, http.StatusText(e.Code), e.Message)
}

type config struct {
	httpClient   *http.Client
	retryMax     int
	retryWaitMin time.Duration
	retryWaitMax time.Duration
}

// Option is a function that sets a value in a config.
type Option func(*config) error

func getOpts(opts []Option) (config, error) {
	cfg := config{
		httpClient:   http.DefaultClient,
		retryMax:     defaultRetryMax,
		retryWaitMin: defaultRetryWaitMin,
		retryWaitMax: defaultRetryWaitMax,
	}
	for i, opt := range opts {
		if err := opt(&cfg); err != nil {
			return config{}, fmt.Errorf("option %d failed: %s", i, err)
		}
	}
	return cfg, nil
}

// WithClient sets the underlying HTTP client used for origin requests.
func WithClient(c *http.Client) Option {
	return func(cfg *config) error {
		if c != nil {
			cfg.httpClient = c
		}
		return nil
	}
}

// WithRetry configures the retry policy. Setting retryMax to zero disables
// retries entirely.
func WithRetry(retryMax int, waitMin, waitMax time.Duration) Option {
	return func(cfg *config) error {
		if waitMin > waitMax {
			return errors.New("minimum retry wait time cannot be greater than maximum")
		}
		if retryMax < 0 {
			retryMax = 0
		}
		cfg.retryMax = retryMax
		cfg.retryWaitMin = waitMin
		cfg.retryWaitMax = waitMax
		return nil
	}
}

// Client fetches video metadata records from the origin API.
type Client struct {
	url    *url.URL
	client *http.Client
}

// New creates a Client for the origin at srcURL, which must use the http or
// https scheme. Requests go to <srcURL>/videos/<id>.
func New(srcURL string, options ...Option) (*Client, error) {
	opts, err := getOpts(options)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(srcURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("url must have http or https scheme: %s", srcURL)
	}
	u = u.JoinPath(videosPath)

	httpClient := opts.httpClient
	if opts.retryMax != 0 {
		rclient := &retryablehttp.Client{
			HTTPClient:   httpClient,
			RetryWaitMin: opts.retryWaitMin,
			RetryWaitMax: opts.retryWaitMax,
			RetryMax:     opts.retryMax,
			CheckRetry:   retryablehttp.DefaultRetryPolicy,
			Backoff:      retryablehttp.DefaultBackoff,
			// Hand back the last response after retries run out so its
			// status reaches the caller as a StatusError.
			ErrorHandler: retryablehttp.PassthroughErrorHandler,
		}
		httpClient = rclient.StandardClient()
	}

	return &Client{
		url:    u,
		client: httpClient,
	}, nil
}

// Fetch retrieves the metadata record for id. A 404 from the origin returns
// ErrNotFound; any other non-success status returns a StatusError after the
// retry policy is exhausted.
func (c *Client) Fetch(ctx context.Context, id string) (*record.Video, error) {
	u := c.url.JoinPath(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Add("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching video %s: %w", id, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading video %s response: %w", id, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	case resp.StatusCode != http.StatusOK:
		serr := &StatusError{Code: resp.StatusCode, Message: statusMessage(resp.StatusCode, body)}
		log.Debugw("origin fetch failed", "id", id, "status", resp.StatusCode)
		return nil, serr
	}

	var video record.Video
	if err := json.Unmarshal(body, &video); err != nil {
		return nil, fmt.Errorf("decoding video %s response: %w", id, err)
	}
	return &video, nil
}

// statusMessage derives a StatusError message from the response body,
// falling back to the status text when the body is empty.
func statusMessage(code int, body []byte) string {
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return http.StatusText(code)
	}
	return msg
}

// String returns the origin URL this client fetches from.
func (c *Client) String() string {
	return c.url.String()
}
