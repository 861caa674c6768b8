package services

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

	"market-pulse/observability"
)

// maxResponseBytes bounds how much of a provider body is read into memory
const maxResponseBytes = 10 << 20

// FetchOptions customizes a single gateway request
type FetchOptions struct {
	Method    string
	Header    http.Header
	Query     url.Values
	Timeout   time.Duration // overrides the gateway default when positive
	Service   string        // circuit breaker and metric label
	Operation string        // metric label
}

// Response is a fully read provider response
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// DecodeJSON unmarshals the body into v
func (r *Response) DecodeJSON(provider string, v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return &MalformedResponseError{Provider: provider, Err: err}
	}
	return nil
}

// Gateway is the single outbound HTTP path to upstream providers. It applies
// a per-request timeout, negotiates JSON and turns failures into typed errors.
// It never retries.
type Gateway struct {
	httpClient *http.Client
	baseURL    *url.URL
	timeout    time.Duration
	breakers   *CircuitBreakerRegistry
}

// NewGateway creates a gateway that resolves relative paths against publicBaseURL
func NewGateway(publicBaseURL string, timeout time.Duration, breakers *CircuitBreakerRegistry) (*Gateway, error) {
	base, err := url.Parse(publicBaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid public base URL %q: %w", publicBaseURL, err)
	}
	if breakers == nil {
		breakers = NewCircuitBreakerRegistry(DefaultCircuitBreakerConfig)
	}
	return &Gateway{
		httpClient: &http.Client{},
		baseURL:    base,
		timeout:    timeout,
		breakers:   breakers,
	}, nil
}

// Breakers returns the gateway's circuit breaker registry
func (g *Gateway) Breakers() *CircuitBreakerRegistry {
	return g.breakers
}

// Resolve returns the absolute URL for rawURL. Paths beginning with "/" are
// resolved against the public base URL.
func (g *Gateway) Resolve(rawURL string) (string, error) {
	if strings.HasPrefix(rawURL, "/") {
		return g.baseURL.ResolveReference(&url.URL{Path: rawURL}).String(), nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	if !u.IsAbs() {
		return "", fmt.Errorf("invalid URL %q: not absolute", rawURL)
	}
	return u.String(), nil
}

// Fetch performs the request and returns the body of a 2xx response
func (g *Gateway) Fetch(ctx context.Context, rawURL string, opts FetchOptions) (*Response, error) {
	target, err := g.Resolve(rawURL)
	if err != nil {
		return nil, err
	}
	if len(opts.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + opts.Query.Encode()
	}

	service := opts.Service
	if service == "" {
		service = BreakerDefault
	}
	operation := opts.Operation
	if operation == "" {
		operation = "fetch"
	}

	metrics := observability.GetMetrics()
	metrics.RecordExternalAPIRequest(service, operation)
	timer := metrics.NewTimer()
	defer timer.ObserveExternalAPI(service, operation)

	resp, err := g.breakers.Execute(ctx, service, func() (*Response, error) {
		return g.do(ctx, target, opts)
	})
	if err != nil {
		metrics.RecordExternalAPIError(service, operation, errorType(err))
		observability.WithError(err).Debug("upstream request failed",
			"service", service,
			"operation", operation,
			"url", redact(target))
		return nil, err
	}
	return resp, nil
}

func (g *Gateway) do(ctx context.Context, target string, opts FetchOptions) (*Response, error) {
	timeout := g.timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	reqCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	req, err := http.NewRequestWithContext(reqCtx, method, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for key, values := range opts.Header {
		req.Header.Del(key)
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	timedOut := func() bool {
		return ctx.Err() == nil && errors.Is(reqCtx.Err(), context.DeadlineExceeded)
	}

	httpResp, err := g.httpClient.Do(req)
	if err != nil {
		if timedOut() {
			return nil, &TimeoutError{URL: redact(target), Timeout: timeout}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ConnectionError{URL: redact(target), Err: err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		if timedOut() {
			return nil, &TimeoutError{URL: redact(target), Timeout: timeout}
		}
		return nil, &ConnectionError{URL: redact(target), Err: err}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		upstream := &UpstreamError{
			Status:     httpResp.StatusCode,
			StatusText: http.StatusText(httpResp.StatusCode),
			Body:       string(body),
		}
		upstream.Message = providerMessage(body)
		return nil, upstream
	}

	return &Response{
		Status: httpResp.StatusCode,
		Header: httpResp.Header,
		Body:   body,
	}, nil
}

// providerMessage extracts the error detail of a failed response: a
// top-level "message", or NewsData's "results.message"
func providerMessage(body []byte) string {
	var payload struct {
		Message string          `json:"message"`
		Results json.RawMessage `json:"results"`
	}
	if json.Unmarshal(body, &payload) != nil {
		return ""
	}
	if payload.Message != "" {
		return payload.Message
	}
	var results struct {
		Message string `json:"message"`
	}
	if len(payload.Results) > 0 && json.Unmarshal(payload.Results, &results) == nil {
		return results.Message
	}
	return ""
}

// redact strips credentials carried in query parameters before logging
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	for _, key := range []string{"appid", "apikey", "api_key"} {
		if q.Has(key) {
			q.Set(key, "REDACTED")
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
