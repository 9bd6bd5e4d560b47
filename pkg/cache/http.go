package cache

import (
	"net/http"
	"time"
)

// NewEntry builds an entry for body using the validators in headers.
func NewEntry(body []byte, headers http.Header, ttl time.Duration) *Entry {
	now := time.Now()
	entry := &Entry{
		Data:       body,
		ETag:       headers.Get("ETag"),
		CachedAt:   now,
		FreshUntil: now.Add(ttl),
	}

	if lastModStr := headers.Get("Last-Modified"); lastModStr != "" {
		if lastMod, err := http.ParseTime(lastModStr); err == nil {
			entry.LastModified = lastMod
		}
	}

	return entry
}

// AddConditionalHeaders adds If-None-Match (ETag) or If-Modified-Since headers
// to the request if the cache entry supports conditional requests.
func AddConditionalHeaders(req *http.Request, entry *Entry) {
	if entry == nil || req == nil {
		return
	}

	// ETag wins over Last-Modified
	if entry.ETag != "" {
		req.Header.Set("If-None-Match", entry.ETag)
	} else if !entry.LastModified.IsZero() {
		req.Header.Set("If-Modified-Since", entry.LastModified.UTC().Format(http.TimeFormat))
	}
}
