package cache

import (
	"time"
)

// Entry represents a cached page body.
type Entry struct {
	// Data is the decoded response body
	Data []byte `json:"data"`

	// ETag for conditional requests (If-None-Match)
	ETag string `json:"etag,omitempty"`

	// LastModified from the response (If-Modified-Since)
	LastModified time.Time `json:"last_modified,omitempty"`

	// FreshUntil is when the entry stops being served without revalidation
	FreshUntil time.Time `json:"fresh_until"`

	// CachedAt is when we cached this response
	CachedAt time.Time `json:"cached_at"`
}

// IsFresh returns true while the entry may be served without a request.
func (e *Entry) IsFresh() bool {
	return time.Now().Before(e.FreshUntil)
}

// CanRevalidate reports whether a conditional request can be made for the entry.
func (e *Entry) CanRevalidate() bool {
	return e.ETag != "" || !e.LastModified.IsZero()
}

// Age returns how long ago the entry was cached.
func (e *Entry) Age() time.Duration {
	return time.Since(e.CachedAt)
}
