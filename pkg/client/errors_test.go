package client

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name       string
		errorClass ErrorClass
		want       bool
	}{
		{"client errors", ErrorClassClient, false},
		{"server errors", ErrorClassServer, true},
		{"rate limit", ErrorClassRateLimit, true},
		{"network errors", ErrorClassNetwork, true},
		{"unknown", ErrorClass("unknown"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shouldRetry(tt.errorClass); got != tt.want {
				t.Errorf("shouldRetry(%v) = %v, want %v", tt.errorClass, got, tt.want)
			}
		})
	}
}

func TestHTTPError_Error(t *testing.T) {
	err := &HTTPError{
		StatusCode: 404,
		ErrorClass: ErrorClassClient,
		URL:        "https://h/items/2020",
		Message:    "404 Not Found",
	}
	msg := err.Error()
	for _, want := range []string{"client", "404", "https://h/items/2020"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}

	inner := errors.New("boom")
	wrapped := &HTTPError{StatusCode: 500, ErrorClass: ErrorClassServer, Err: inner}
	if !errors.Is(wrapped, inner) {
		t.Error("HTTPError should unwrap to its cause")
	}
}

func TestClassOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"http error", &HTTPError{ErrorClass: ErrorClassRateLimit}, ErrorClassRateLimit},
		{"wrapped http error", fmt.Errorf("ctx: %w", &HTTPError{ErrorClass: ErrorClassServer}), ErrorClassServer},
		{"network", &NetworkError{URL: "u", Err: errors.New("refused")}, ErrorClassNetwork},
		{"exhausted keeps class", fmt.Errorf("%w: %w", ErrRetryExhausted, &HTTPError{ErrorClass: ErrorClassServer}), ErrorClassServer},
		{"plain", errors.New("x"), ""},
		{"nil", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassOf(tt.err); got != tt.want {
				t.Errorf("ClassOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsTerminal(t *testing.T) {
	if !IsTerminal(&HTTPError{StatusCode: 403, ErrorClass: ErrorClassClient}) {
		t.Error("403 should be terminal")
	}
	if IsTerminal(&HTTPError{StatusCode: 429, ErrorClass: ErrorClassRateLimit, RetryAfter: time.Second}) {
		t.Error("429 should not be terminal")
	}
	if IsTerminal(&NetworkError{Err: errors.New("reset")}) {
		t.Error("network errors should not be terminal")
	}
}
