package cache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Entry is a stored HTTP response together with its insertion stamp.
type Entry struct {
	// Key is the request identity the entry was stored under.
	Key string `json:"key"`

	// Body is the response body.
	Body []byte `json:"body"`

	// Headers are the response headers.
	Headers http.Header `json:"headers"`

	// StatusCode is the HTTP status code of the stored response.
	StatusCode int `json:"status_code"`

	// StoredAt is when the entry was inserted. A zero value means the age
	// is unknown and the entry reports expired for every TTL.
	StoredAt time.Time `json:"stored_at"`
}

// NewEntry reads resp into a stamped cache entry. The response body is
// consumed and replaced with an in-memory copy, so the caller can still
// serve resp afterwards.
func NewEntry(key string, resp *http.Response) (*Entry, error) {
	if resp == nil {
		return nil, fmt.Errorf("response cannot be nil")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))

	return &Entry{
		Key:        key,
		Body:       body,
		Headers:    resp.Header.Clone(),
		StatusCode: resp.StatusCode,
		StoredAt:   time.Now(),
	}, nil
}

// Expired reports whether the entry is older than ttl.
// An entry without a stamp is always expired.
func (e *Entry) Expired(ttl time.Duration) bool {
	if e.StoredAt.IsZero() {
		return true
	}
	return time.Since(e.StoredAt) > ttl
}

// Age returns the time elapsed since the entry was stored.
// Returns 0 for entries without a stamp; Expired still reports true for them.
func (e *Entry) Age() time.Duration {
	if e.StoredAt.IsZero() {
		return 0
	}
	return time.Since(e.StoredAt)
}

// Response rebuilds the stored response for req. Each call returns a fresh
// body reader, so the same entry can serve any number of requests.
func (e *Entry) Response(req *http.Request) *http.Response {
	headers := e.Headers.Clone()
	if headers == nil {
		headers = make(http.Header)
	}

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode)),
		StatusCode:    e.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        headers,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}
