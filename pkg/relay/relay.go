// Package relay implements a function handler that forwards one HTTP GET
// and returns a structured result.
//
// Every invocation resolves a target URL from the event, performs a single
// GET with a fixed timeout and wraps the upstream status and data in a
// Response envelope. Failures never surface as Go errors: they are reported
// in the envelope with status 500 and a "Request failed: " or
// "Unexpected error: " prefix.
package relay

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

	"github.com/aws/aws-lambda-go/lambdacontext"
	"go.uber.org/zap"
)

const (
	// DefaultURL is fetched when the event carries no url.
	DefaultURL = "https://httpbin.org/json"

	// DefaultTimeout bounds the whole upstream request.
	DefaultTimeout = 10 * time.Second

	// DefaultPreviewChars is how much of a non-JSON body is returned.
	DefaultPreviewChars = 500

	// SuccessMessage is the message of every successful response.
	SuccessMessage = "Request successful"
)

// ErrInvalidURL is returned for targets that cannot be requested.
var ErrInvalidURL = errors.New("invalid URL")

// RequestError marks failures of the upstream request itself: URL
// validation, transport, timeout, body read and JSON decoding.
type RequestError struct {
	URL string
	Err error
}

func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Relay handles invocations. It is safe for concurrent use.
type Relay struct {
	client       *http.Client
	defaultURL   string
	previewChars int
	logger       *zap.Logger
}

// Option customises a Relay.
type Option func(*Relay)

// WithHTTPClient replaces the HTTP client. Its timeout is left as given.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Relay) {
		if c != nil {
			r.client = c
		}
	}
}

// WithTimeout sets the upstream request timeout on a copy of the current
// client, so a client passed to WithHTTPClient is never modified.
func WithTimeout(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			c := *r.client
			c.Timeout = d
			r.client = &c
		}
	}
}

// WithDefaultURL sets the URL used when the event has none.
func WithDefaultURL(u string) Option {
	return func(r *Relay) {
		if u != "" {
			r.defaultURL = u
		}
	}
}

// WithPreviewChars sets how many characters of a non-JSON body are returned.
func WithPreviewChars(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.previewChars = n
		}
	}
}

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Relay) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a relay with a 10 second timeout and the default URL.
func New(opts ...Option) *Relay {
	r := &Relay{
		client:       &http.Client{Timeout: DefaultTimeout},
		defaultURL:   DefaultURL,
		previewChars: DefaultPreviewChars,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// DefaultURL returns the URL used for events without one.
func (r *Relay) DefaultURL() string {
	return r.defaultURL
}

// CheckHealth reports whether the default URL can be requested. It does not
// contact the upstream.
func (r *Relay) CheckHealth(_ context.Context) error {
	if _, err := validateURL(r.defaultURL); err != nil {
		return fmt.Errorf("default url: %w", err)
	}
	return nil
}

// Handle processes one invocation. The returned error is always nil so the
// function runtime delivers the envelope as-is.
func (r *Relay) Handle(ctx context.Context, event Event) (resp Response, err error) {
	start := time.Now()
	target := ResolveURL(event, r.defaultURL)
	log := r.loggerFor(ctx).With(zap.String("url", target))

	defer func() {
		if p := recover(); p != nil {
			log.Error("Relay panicked", zap.Any("panic", p))
			resp = failure(fmt.Sprintf("Unexpected error: %v", p))
			err = nil
			observeInvocation(OutcomeUnexpectedError, start)
		}
	}()

	result, ferr := r.fetch(ctx, target)
	if ferr != nil {
		var reqErr *RequestError
		if errors.As(ferr, &reqErr) {
			log.Warn("Upstream request failed", zap.Error(ferr))
			observeInvocation(OutcomeRequestFailed, start)
			return failure("Request failed: " + ferr.Error()), nil
		}
		log.Error("Relay failed", zap.Error(ferr))
		observeInvocation(OutcomeUnexpectedError, start)
		return failure("Unexpected error: " + ferr.Error()), nil
	}

	body, merr := json.Marshal(result)
	if merr != nil {
		log.Error("Encode response failed", zap.Error(merr))
		observeInvocation(OutcomeUnexpectedError, start)
		return failure("Unexpected error: " + merr.Error()), nil
	}

	log.Info("Relay completed",
		zap.Int("upstream_status", result.StatusCode),
		zap.Duration("duration", time.Since(start)))
	observeInvocation(OutcomeSuccess, start)

	return Response{StatusCode: http.StatusOK, Body: string(body)}, nil
}

func (r *Relay) fetch(ctx context.Context, target string) (*Result, error) {
	u, err := validateURL(target)
	if err != nil {
		return nil, &RequestError{URL: target, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &RequestError{URL: target, Err: err}
	}

	res, err := r.client.Do(req)
	if err != nil {
		return nil, &RequestError{URL: target, Err: err}
	}
	defer func() { _ = res.Body.Close() }()
	observeUpstream(res.StatusCode)

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &RequestError{URL: target, Err: fmt.Errorf("read response body: %w", err)}
	}

	result := &Result{Message: SuccessMessage, StatusCode: res.StatusCode}
	if strings.HasPrefix(strings.ToLower(res.Header.Get("Content-Type")), "application/json") {
		var decoded any
		if err := json.Unmarshal(data, &decoded); err != nil {
			return nil, &RequestError{URL: target, Err: fmt.Errorf("decode JSON response: %w", err)}
		}
		result.ResponseData = decoded
	} else {
		result.ResponseData = preview(data, r.previewChars)
	}
	return result, nil
}

func (r *Relay) loggerFor(ctx context.Context) *zap.Logger {
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		return r.logger.With(zap.String("request_id", lc.AwsRequestID))
	}
	return r.logger
}

func validateURL(target string) (*url.URL, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidURL, target, err)
	}
	switch {
	case u.Scheme == "":
		return nil, fmt.Errorf("%w %q: no scheme supplied", ErrInvalidURL, target)
	case u.Scheme != "http" && u.Scheme != "https":
		return nil, fmt.Errorf("%w %q: unsupported scheme %q", ErrInvalidURL, target, u.Scheme)
	case u.Host == "":
		return nil, fmt.Errorf("%w %q: no host supplied", ErrInvalidURL, target)
	}
	return u, nil
}

// preview returns at most n characters of body.
func preview(body []byte, n int) string {
	runes := []rune(string(body))
	if len(runes) > n {
		runes = runes[:n]
	}
	return string(runes)
}

func failure(msg string) Response {
	body, _ := json.Marshal(ErrorBody{Error: msg})
	return Response{StatusCode: http.StatusInternalServerError, Body: string(body)}
}
