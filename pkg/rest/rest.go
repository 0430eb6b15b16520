// Package rest executes one-shot GraphQL requests against the Voltstream API
// over plain HTTP, classifying failures into retryable and fatal categories.
//
// Only network-level failures are retried here. Protocol-level failures, even
// the transient ones, are surfaced to the caller as typed errors so that the
// caller can apply its own policy.
package rest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/goccy/go-json"

	"github.com/voltstream/voltstream.go/pkg/constants"
	"github.com/voltstream/voltstream.go/pkg/logger"
)

// DefaultRetries is the number of additional attempts Execute makes after a
// network-level failure before giving up.
const DefaultRetries = 3

// Config holds everything a Client needs to talk to the API.
type Config struct {
	// Endpoint is the URL of the GraphQL API.
	Endpoint string

	// AccessToken is sent as a bearer token on every request.
	AccessToken string

	// UserAgent is required by the API on every request.
	UserAgent string

	// Timeout bounds each individual request attempt. Defaults to
	// constants.DefaultTimeout.
	Timeout time.Duration

	// HTTPClient is the underlying transport. Defaults to a plain
	// http.Client; the per-attempt timeout comes from Timeout, not from the
	// http.Client.
	HTTPClient *http.Client

	// Classifier decides how non-network failures are surfaced. Defaults to
	// NewClassifier.
	Classifier *Classifier

	Logger logger.Logger
}

// Client is the request executor for the Voltstream API.
type Client struct {
	endpoint   string
	token      string
	userAgent  string
	timeout    time.Duration
	httpClient *http.Client
	classifier *Classifier
	logger     logger.Logger
}

func New(cfg *Config) *Client {
	c := &Client{
		endpoint:   cfg.Endpoint,
		token:      cfg.AccessToken,
		userAgent:  cfg.UserAgent,
		timeout:    cfg.Timeout,
		httpClient: cfg.HTTPClient,
		classifier: cfg.Classifier,
		logger:     cfg.Logger,
	}
	if c.timeout <= 0 {
		c.timeout = constants.DefaultTimeout
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.classifier == nil {
		c.classifier = NewClassifier()
	}
	if c.logger == nil {
		c.logger = logger.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	return c
}

type executeOptions struct {
	timeout time.Duration
	retries int
}

// ExecuteOption overrides per-call settings of Execute.
type ExecuteOption func(*executeOptions)

// WithTimeout bounds each request attempt of this call instead of the
// client-wide timeout.
func WithTimeout(d time.Duration) ExecuteOption {
	return func(o *executeOptions) { o.timeout = d }
}

// WithRetries sets the network retry budget for this call. Zero disables
// retries entirely.
func WithRetries(n int) ExecuteOption {
	return func(o *executeOptions) { o.retries = n }
}

// Execute runs a GraphQL document and returns the data section of the
// response, which may be nil when the API reports no data.
//
// Network-level failures are retried up to the retry budget, with each
// attempt bounded by its own timeout. Classified API failures are returned
// as is on the first occurrence: RetryableError is deliberately not retried
// here, because "server said try again" is the caller's policy decision,
// unlike "could not reach the server".
func (c *Client) Execute(ctx context.Context, document string, variables map[string]any, opts ...ExecuteOption) (json.RawMessage, error) {
	o := executeOptions{timeout: c.timeout, retries: DefaultRetries}
	for _, opt := range opts {
		opt(&o)
	}

	if variables == nil {
		variables = map[string]any{}
	}
	payload, err := json.Marshal(map[string]any{
		"query":     document,
		"variables": variables,
	})
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		data, err := c.do(ctx, payload, o.timeout)
		if err == nil {
			return data, nil
		}
		if !isNetworkError(err) || ctx.Err() != nil {
			return nil, err
		}
		if attempt >= o.retries {
			c.logger.Error("giving up on Voltstream request",
				"attempts", attempt+1,
				"error", err,
			)
			return nil, err
		}
		c.logger.Warn("transient network failure, retrying request",
			"attempt", attempt+1,
			"error", err,
		)
	}
}

// Close releases the idle connections held by the underlying transport.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

func (c *Client) do(ctx context.Context, payload []byte, timeout time.Duration) (json.RawMessage, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", jsonContentType)
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return c.classifier.Classify(resp.StatusCode, resp.Header.Get("Content-Type"), body)
}

// isNetworkError reports whether err came from the transport rather than
// from classification of a received response.
func isNetworkError(err error) bool {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe)
}
