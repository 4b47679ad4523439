// Package validation submits WAF rule expressions to the external
// validation service and maps its verdicts into a stable result shape.
//
// The service is a single POST endpoint. A request carries the
// expression, a test_match flag, and an optional test object of dotted
// request fields ("http.request.path", "ip.src", ...); the response
// carries a syntax verdict and, when a match test ran, a nested test
// result. A circuit breaker in front of the endpoint turns a dead
// service into fast failures instead of stacked timeouts.
package validation

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/gen0sec/wafrules-mcp/pkg/defaults"
	"github.com/gen0sec/wafrules-mcp/pkg/httpclient"
	"github.com/gen0sec/wafrules-mcp/pkg/iohelper"
	"github.com/gen0sec/wafrules-mcp/pkg/jsonutil"
	"github.com/gen0sec/wafrules-mcp/pkg/metrics"
	"github.com/gen0sec/wafrules-mcp/pkg/ui"
)

// Test-object keys the client fills in when a body is present without
// them. Values already supplied by the caller win.
const (
	bodyKey          = "http.request.body"
	bodySHA256Key    = "http.request.body_sha256"
	contentLengthKey = "http.request.content_length"
)

// unknownError stands in when the service reports a failure without a
// message.
const unknownError = "Unknown error"

// request is the wire payload for the validation endpoint.
type request struct {
	Expression string         `json:"expression"`
	TestMatch  bool           `json:"test_match"`
	Test       map[string]any `json:"test,omitempty"`
}

// response is the wire shape of a validation verdict.
type response struct {
	Valid        bool        `json:"valid"`
	ErrorMessage string      `json:"error_message"`
	TestResult   *testResult `json:"test_result"`
}

type testResult struct {
	Matched bool   `json:"matched"`
	Error   string `json:"error"`
}

// Result is the mapped verdict for one validation call.
type Result struct {
	// Valid reports whether the expression parsed.
	Valid bool

	// ErrorMessage explains the syntax failure. Empty when Valid.
	ErrorMessage string

	// TestRan reports whether match evaluation was requested, so
	// callers know when Matched and TestError carry meaning.
	TestRan bool

	// Matched reports whether the expression matched the test request.
	Matched bool

	// TestError explains a match-evaluation failure, such as a test
	// field the filter scheme rejects.
	TestError string
}

// Client talks to the validation service.
type Client struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	metrics *metrics.Metrics
	log     *logrus.Entry
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.client = h
	}
}

// WithMetrics attaches validation outcome metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// New returns a Client for the given endpoint. An empty url selects the
// default public endpoint.
func New(url string, opts ...Option) *Client {
	if url == "" {
		url = defaults.ValidationAPIURL
	}
	c := &Client{
		url:    url,
		client: httpclient.New(httpclient.WithTimeout(defaults.ValidationTimeout)),
		log:    logrus.WithField("component", "validation"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "waf-validation",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	})
	return c
}

// URL returns the configured endpoint.
func (c *Client) URL() string {
	return c.url
}

// Validate checks expression syntax. When testData is non-empty the
// service also evaluates the expression against it and the result
// carries the match outcome.
func (c *Client) Validate(ctx context.Context, expression string, testData map[string]any) (Result, error) {
	req := request{
		Expression: expression,
		TestMatch:  len(testData) > 0,
	}
	if len(testData) > 0 {
		req.Test = testData
	}
	return c.submit(ctx, req)
}

// Test always requests match evaluation. Empty testData leaves the
// service to its default mock request. A test object carrying a body
// without its hash or length gets those filled in before submission.
func (c *Client) Test(ctx context.Context, expression string, testData map[string]any) (Result, error) {
	req := request{
		Expression: expression,
		TestMatch:  true,
	}
	if len(testData) > 0 {
		req.Test = EnrichTest(testData)
	}
	return c.submit(ctx, req)
}

// EnrichTest returns a copy of testData with http.request.body_sha256
// and http.request.content_length derived from http.request.body when
// the caller left them out. Supplied values are kept as-is.
func EnrichTest(testData map[string]any) map[string]any {
	body, ok := testData[bodyKey].(string)
	if !ok {
		return testData
	}

	out := make(map[string]any, len(testData)+2)
	for k, v := range testData {
		out[k] = v
	}
	if _, ok := out[bodySHA256Key]; !ok {
		sum := sha256.Sum256([]byte(body))
		out[bodySHA256Key] = hex.EncodeToString(sum[:])
	}
	if _, ok := out[contentLengthKey]; !ok {
		out[contentLengthKey] = len(body)
	}
	return out
}

func (c *Client) submit(ctx context.Context, req request) (Result, error) {
	start := time.Now()

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.post(ctx, req)
	})
	if err != nil {
		c.metrics.ObserveValidation("error")
		c.log.WithError(err).Warn("validation request failed")
		return Result{}, err
	}
	resp := out.(*response)

	res := Result{
		Valid:   resp.Valid,
		TestRan: req.TestMatch,
	}
	if !res.Valid {
		res.ErrorMessage = resp.ErrorMessage
		if res.ErrorMessage == "" {
			res.ErrorMessage = unknownError
		}
	}
	if req.TestMatch && resp.TestResult != nil {
		res.Matched = resp.TestResult.Matched
		res.TestError = resp.TestResult.Error
	}

	outcome := "valid"
	if !res.Valid {
		outcome = "invalid"
	}
	c.metrics.ObserveValidation(outcome)
	c.log.WithFields(logrus.Fields{
		"valid":    res.Valid,
		"test_ran": res.TestRan,
		"duration": time.Since(start).Round(time.Millisecond).String(),
	}).Debug("expression validated")
	return res, nil
}

func (c *Client) post(ctx context.Context, req request) (*response, error) {
	body, err := jsonutil.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode validation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", defaults.ContentTypeJSON)
	httpReq.Header.Set("User-Agent", ui.UserAgentWithContext("Validation"))

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("validation request failed: %w", err)
	}
	defer iohelper.DrainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		detail, _ := iohelper.ReadBodySmall(resp.Body)
		return nil, fmt.Errorf("validation API error (HTTP %d): %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	raw, err := iohelper.ReadBodyDefault(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read validation response: %w", err)
	}

	var out response
	if err := jsonutil.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to parse validation response: %w", err)
	}
	return &out, nil
}
