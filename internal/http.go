package internal

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// HeaderTransport is a custom RoundTripper that adds default headers to requests
type HeaderTransport struct {
	Base    http.RoundTripper
	Headers http.Header
}

func (t *HeaderTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for key, values := range t.Headers {
		if req.Header.Get(key) != "" {
			continue
		}
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// ClientOptions configures the outbound HTTP client used for upstream APIs.
type ClientOptions struct {
	Retries      int
	Timeout      time.Duration
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	UserAgent    string
	Logger       *slog.Logger

	// RPS caps requests per second during retries. Zero means no cap.
	RPS int
}

// NewHTTPClient returns a standard *http.Client that retries transient
// failures and sends default User-Agent and Accept headers.
func NewHTTPClient(opts ClientOptions) *http.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.Retries
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 30 * time.Second
	if opts.RetryWaitMin > 0 {
		retryClient.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		retryClient.RetryWaitMax = opts.RetryWaitMax
	}
	retryClient.HTTPClient.Timeout = opts.Timeout
	if opts.RPS > 0 {
		retryClient.Backoff = func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
			// Ensure we wait at least 1/rps between requests
			minWait := time.Second / time.Duration(opts.RPS)
			if min < minWait {
				min = minWait
			}
			return retryablehttp.DefaultBackoff(min, max, attemptNum, resp)
		}
	}
	// Hand back the last response once retries run out so callers see the
	// upstream status and body.
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	// retryablehttp logs to stderr by default; stay quiet unless asked.
	retryClient.Logger = nil
	if opts.Logger != nil {
		retryClient.Logger = opts.Logger
	}

	headers := http.Header{}
	headers.Set("Accept", "application/json")
	if opts.UserAgent != "" {
		headers.Set("User-Agent", opts.UserAgent)
	}
	retryClient.HTTPClient.Transport = &HeaderTransport{
		Base:    retryClient.HTTPClient.Transport,
		Headers: headers,
	}

	return retryClient.StandardClient()
}
