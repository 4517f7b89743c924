package lattice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultFetchTimeout is the default HTTP request timeout for peak fetches.
	DefaultFetchTimeout = 30 * time.Second

	// DefaultMaxRetries is the default number of fetch attempts.
	DefaultMaxRetries = 3

	defaultBaseBackoff = 500 * time.Millisecond

	// maxPeakResponse bounds a peak set response body.
	maxPeakResponse = 50 << 20

	peakAccept = "application/json, text/plain;q=0.9"
)

// FetchOption configures FetchPeaksFromAPI.
type FetchOption func(*peakFetcher)

// peakFetcher downloads one sample's peak set over HTTP.
type peakFetcher struct {
	client   *http.Client
	timeout  time.Duration
	attempts int
	backoff  time.Duration
	sampleID string
}

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) FetchOption {
	return func(f *peakFetcher) { f.timeout = d }
}

// WithMaxRetries sets the maximum number of attempts.
func WithMaxRetries(n int) FetchOption {
	return func(f *peakFetcher) { f.attempts = n }
}

// WithBaseBackoff sets the delay before the second attempt. Each later
// attempt waits twice as long as the one before.
func WithBaseBackoff(d time.Duration) FetchOption {
	return func(f *peakFetcher) { f.backoff = d }
}

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) FetchOption {
	return func(f *peakFetcher) { f.client = client }
}

// WithSampleID names a fetched peak set whose payload carries no sample ID,
// the same way MQTT payloads take their topic's sample.
func WithSampleID(id string) FetchOption {
	return func(f *peakFetcher) { f.sampleID = id }
}

// permanentError marks a response that another attempt would not change.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// FetchPeaksFromAPI downloads a peak set from apiURL. The body is read as
// JSON when the server says so and detected from its content otherwise.
// Network failures and 5xx responses are retried with exponential backoff.
// Client errors, bodies that do not parse, and sets with fewer than
// MinPeaks finite q-vectors fail at once.
func FetchPeaksFromAPI(ctx context.Context, apiURL string, opts ...FetchOption) (*PeakSet, error) {
	if apiURL == "" {
		return nil, fmt.Errorf("fetch peaks: API URL is empty")
	}

	f := peakFetcher{
		timeout:  DefaultFetchTimeout,
		attempts: DefaultMaxRetries,
		backoff:  defaultBaseBackoff,
	}
	for _, opt := range opts {
		opt(&f)
	}
	f.attempts = max(f.attempts, 1)
	if f.client == nil {
		f.client = &http.Client{Timeout: f.timeout}
	}

	var lastErr error
	for attempt := 0; attempt < f.attempts; attempt++ {
		if attempt > 0 {
			if err := f.wait(ctx, attempt); err != nil {
				return nil, fmt.Errorf("fetch peaks: %w", err)
			}
		}

		ps, err := f.fetch(ctx, apiURL)
		if err == nil {
			return ps, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("fetch peaks: %w", ctx.Err())
		}
		var perm permanentError
		if errors.As(err, &perm) {
			return nil, fmt.Errorf("fetch peaks from %s: %w", apiURL, perm.err)
		}
		logger.Debugw("peak fetch attempt failed", "url", apiURL, "attempt", attempt+1, "error", err)
		lastErr = err
	}

	return nil, fmt.Errorf("fetch peaks: all %d attempts failed: %w", f.attempts, lastErr)
}

// wait sleeps before the given attempt or returns early when ctx ends.
func (f *peakFetcher) wait(ctx context.Context, attempt int) error {
	timer := time.NewTimer(f.backoff << (attempt - 1))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// fetch performs one GET and decodes the response.
func (f *peakFetcher) fetch(ctx context.Context, url string) (*PeakSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, permanentError{fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Accept", peakAccept)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP GET %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("HTTP GET %s: status %d", url, resp.StatusCode)
	default:
		return nil, permanentError{fmt.Errorf("HTTP GET %s: status %d", url, resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPeakResponse))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", url, err)
	}

	ps, err := decodePeakResponse(body, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, permanentError{err}
	}
	if ps.SampleID == "" {
		ps.SampleID = f.sampleID
	}
	return ps, nil
}

// decodePeakResponse parses body as JSON when contentType declares it and
// detects the format otherwise, then checks the set can be indexed.
func decodePeakResponse(body []byte, contentType string) (*PeakSet, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)

	var ps *PeakSet
	var err error
	if mediaType == "application/json" || strings.HasSuffix(mediaType, "+json") {
		ps, err = ParsePeaksJSON(body)
	} else {
		ps, err = ParsePeaks(body)
	}
	if err != nil {
		return nil, err
	}

	if len(ps.Q) < MinPeaks {
		return nil, fmt.Errorf("%d q-vectors, need at least %d: %w", len(ps.Q), MinPeaks, ErrInsufficientData)
	}
	for i, q := range ps.Q {
		if !isFiniteVector(q) {
			return nil, fmt.Errorf("q-vector %d is not finite: %w", i, ErrInsufficientData)
		}
	}
	return ps, nil
}
