package services

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrInvalidLimit is returned when a requested result count is below one
	ErrInvalidLimit = errors.New("limit must be at least 1")
	// ErrNoData is returned when a provider answers successfully with no items
	ErrNoData = errors.New("provider returned no data")
	// ErrProviderStatus is returned when a provider reports a non-success status in its body
	ErrProviderStatus = errors.New("provider reported failure status")
	// ErrMissingField is returned when a required collection is absent from a response
	ErrMissingField = errors.New("required field missing from response")
)

// ConfigurationError indicates a required setting (typically an API key) is absent
type ConfigurationError struct {
	Setting string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s is not configured", e.Setting)
}

// UpstreamError is a non-2xx answer from a provider
type UpstreamError struct {
	Status     int
	StatusText string
	Message    string // provider "message" field, when present
	Body       string
}

func (e *UpstreamError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	text := e.StatusText
	if text == "" {
		text = http.StatusText(e.Status)
	}
	return fmt.Sprintf("API request failed with status %d: %s", e.Status, text)
}

// TimeoutError indicates a request exceeded its deadline and was aborted
type TimeoutError struct {
	URL     string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request to %s timed out after %s", e.URL, e.Timeout)
}

// ConnectionError is a transport failure before any response was received
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// MalformedResponseError indicates a provider response did not have the expected shape
type MalformedResponseError struct {
	Provider string
	Field    string
	Err      error
}

func (e *MalformedResponseError) Error() string {
	switch {
	case e.Field != "" && e.Err != nil:
		return fmt.Sprintf("malformed %s response: %s: %v", e.Provider, e.Field, e.Err)
	case e.Field != "":
		return fmt.Sprintf("malformed %s response: %s", e.Provider, e.Field)
	case e.Err != nil:
		return fmt.Sprintf("malformed %s response: %v", e.Provider, e.Err)
	default:
		return fmt.Sprintf("malformed %s response", e.Provider)
	}
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

// FetchError wraps any failure at a feed adapter boundary
type FetchError struct {
	Feed string
	Op   string
	Err  error
}

func (e *FetchError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s %s: %v", e.Feed, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Feed, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// errorType classifies an error for the external API error metric
func errorType(err error) string {
	var (
		upstream  *UpstreamError
		timeout   *TimeoutError
		conn      *ConnectionError
		malformed *MalformedResponseError
		cfg       *ConfigurationError
	)
	switch {
	case errors.Is(err, ErrServiceUnavailable):
		return "circuit_open"
	case errors.As(err, &timeout):
		return "timeout"
	case errors.As(err, &upstream):
		return "upstream"
	case errors.As(err, &conn):
		return "connection"
	case errors.As(err, &malformed):
		return "malformed"
	case errors.As(err, &cfg):
		return "configuration"
	default:
		return "other"
	}
}
