package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Retry and backoff constants.
const (
	defaultMaxRetries = 5
	baseBackoff       = 1 * time.Second
	maxBackoff        = 60 * time.Second
	backoffFactor     = 2.0
	jitterFraction    = 0.25
	defaultUserAgent  = "drivesdk-go"
)

// Request headers understood by the service.
const (
	headerAppVersion  = "x-pm-appversion"
	headerSessionID   = "x-pm-uid"
	headerRequestID   = "x-pm-request-id"
	headerOperationID = "x-pm-operation-id"
	headerResponseID  = "x-request-id"

	contentTypeJSON   = "application/json"
	contentTypeBinary = "application/octet-stream"
)

// TokenSource provides bearer tokens. Defined at the consumer; sessions
// implement it.
type TokenSource interface {
	Token() (string, error)
}

// tokenInvalidator is implemented by token sources that can discard a token
// the service rejected, forcing a refresh on the next Token call.
type tokenInvalidator interface {
	InvalidateToken()
}

// Options configure a Client. Zero values fall back to defaults.
type Options struct {
	BaseURL    string
	AppVersion string
	UserAgent  string
	// SessionID is sent with every request when set.
	SessionID string
	// MaxRetries bounds retries of transient failures. Negative selects the
	// default; zero disables retrying.
	MaxRetries int
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// TransportOptions configure the HTTP client built by NewHTTPClient.
type TransportOptions struct {
	ConnectTimeout     time.Duration
	DataTimeout        time.Duration
	InsecureSkipVerify bool
}

// NewHTTPClient builds an HTTP client with connect and response-header
// timeouts. InsecureSkipVerify is for development servers with self-signed
// certificates.
func NewHTTPClient(opts TransportOptions) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if opts.ConnectTimeout > 0 {
		transport.DialContext = (&net.Dialer{Timeout: opts.ConnectTimeout, KeepAlive: 30 * time.Second}).DialContext
		transport.TLSHandshakeTimeout = opts.ConnectTimeout
	}

	if opts.DataTimeout > 0 {
		transport.ResponseHeaderTimeout = opts.DataTimeout
	}

	if opts.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for development servers
	}

	return &http.Client{Transport: transport}
}

// Client is an HTTP client for the storage service. It handles request
// construction, authentication, retry with exponential backoff, and error
// classification.
type Client struct {
	baseURL    string
	appVersion string
	userAgent  string
	sessionID  string
	maxRetries int
	httpClient *http.Client
	token      TokenSource
	logger     *slog.Logger

	// sleepFunc is called to wait between retries. Tests override it.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a service client authorizing requests with token.
func NewClient(opts Options, token TokenSource) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	retries := opts.MaxRetries
	if retries < 0 {
		retries = defaultMaxRetries
	}

	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		appVersion: opts.AppVersion,
		userAgent:  userAgent,
		sessionID:  opts.SessionID,
		maxRetries: retries,
		httpClient: httpClient,
		token:      token,
		logger:     logger,
		sleepFunc:  timeSleep,
	}
}

type operationIDKey struct{}

// WithOperationID attaches an operation id that is sent with every request
// issued under ctx.
func WithOperationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, operationIDKey{}, id)
}

// OperationID returns the operation id attached to ctx, if any.
func OperationID(ctx context.Context) string {
	id, _ := ctx.Value(operationIDKey{}).(string)
	return id
}

// Do executes a request against the service. The path is appended to the
// base URL. A non-nil body is replayed on every retry. The caller closes the
// response body on success.
func (c *Client) Do(ctx context.Context, method, path string, body []byte, contentType string) (*http.Response, error) {
	url := c.baseURL + "/" + strings.TrimLeft(path, "/")
	requestID := uuid.NewString()
	reauthed := false

	var attempt int
	for {
		resp, err := c.doOnce(ctx, method, url, requestID, body, contentType)
		if err != nil {
			// Context cancellation is not retryable.
			if ctx.Err() != nil {
				return nil, fmt.Errorf("api: request canceled: %w", ctx.Err())
			}

			var tokErr *tokenError
			if errors.As(err, &tokErr) {
				return nil, tokErr.err
			}

			if attempt < c.maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("method", method),
					slog.String("path", path),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("api: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("api: %s %s failed after %d retries: %w", method, path, c.maxRetries, err)
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil
		}

		errBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		if resp.StatusCode == http.StatusUnauthorized && !reauthed {
			if inv, ok := c.token.(tokenInvalidator); ok {
				c.logger.Info("access token rejected, refreshing",
					slog.String("method", method),
					slog.String("path", path),
				)

				inv.InvalidateToken()
				reauthed = true

				continue
			}
		}

		if isRetryable(resp.StatusCode) && attempt < c.maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("api: request canceled: %w", err)
			}

			attempt++

			continue
		}

		if attempt > 0 {
			c.logger.Error("request failed after retries",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempts", attempt+1),
			)
		}

		return nil, newError(resp.StatusCode, resp.Header.Get(headerResponseID), errBody)
	}
}

// tokenError marks a failure to obtain a token so Do does not retry it.
type tokenError struct{ err error }

func (e *tokenError) Error() string { return e.err.Error() }

func (e *tokenError) Unwrap() error { return e.err }

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(
	ctx context.Context, method, url, requestID string, body []byte, contentType string,
) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if c.token != nil {
		tok, err := c.token.Token()
		if err != nil {
			return nil, &tokenError{err: fmt.Errorf("api: obtaining token: %w", err)}
		}

		req.Header.Set("Authorization", "Bearer "+tok)
	}

	c.setHeaders(ctx, req, requestID)

	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}

	return c.httpClient.Do(req)
}

func (c *Client) setHeaders(ctx context.Context, req *http.Request, requestID string) {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set(headerRequestID, requestID)

	if c.appVersion != "" {
		req.Header.Set(headerAppVersion, c.appVersion)
	}

	if c.sessionID != "" {
		req.Header.Set(headerSessionID, c.sessionID)
	}

	if id := OperationID(ctx); id != "" {
		req.Header.Set(headerOperationID, id)
	}
}

// doJSON sends in (when non-nil) as JSON and decodes the response into out
// (when non-nil).
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body []byte

	if in != nil {
		var err error

		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("api: encoding %s %s: %w", method, path, err)
		}
	}

	resp, err := c.Do(ctx, method, path, body, contentTypeJSON)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decoding %s %s: %w", method, path, err)
	}

	return nil
}

// doRaw sends body as an octet stream and returns the full response body.
func (c *Client) doRaw(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	resp, err := c.Do(ctx, method, path, body, contentTypeBinary)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("api: reading %s %s: %w", method, path, err)
	}

	return data, nil
}

// retryBackoff returns the backoff duration for a retryable response. A
// Retry-After header, in seconds or as an HTTP date, takes precedence.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
			return min(time.Duration(seconds)*time.Second, maxBackoff)
		}

		if at, err := http.ParseTime(ra); err == nil {
			if d := time.Until(at); d > 0 {
				return min(d, maxBackoff)
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

// timeSleep waits for the given duration or until the context is canceled.
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
