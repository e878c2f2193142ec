// Package outbox queues mutations that failed against an unreachable origin
// and replays them once connectivity returns.
//
// Tasks are keyed by tag and idempotent per tag: capturing the same logical
// action twice replaces the stored task instead of queueing a duplicate.
// Delivery is at-least-once; a task leaves the queue only after a replay
// reaches the origin, and every completion is announced to subscribers.
package outbox

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"hash/crc32"
	"net/http"
	"time"
)

// Task is one captured mutation awaiting replay.
type Task struct {
	// Tag identifies the task; see ReplayTag.
	Tag string

	// Method, Path and Query rebuild the request line against the origin.
	Method string
	Path   string
	Query  string

	// Header carries the captured request headers, hop-by-hop fields
	// removed.
	Header http.Header

	// Body is the captured request body.
	Body []byte

	// CreatedAt orders replay, oldest first.
	CreatedAt time.Time

	// Attempts counts replays the origin rejected. Replays that never
	// reached the origin do not count; re-capturing a tag resets it.
	Attempts int

	// LastError describes the most recent replay failure.
	LastError string
}

// ReplayTag derives the task tag for a captured request:
// replay:<method>:<path>:<crc32 of body>. Requests with the same method,
// path and body describe the same logical action and share a tag.
func ReplayTag(method, path string, body []byte) string {
	return fmt.Sprintf("replay:%s:%s:%08x", method, path, crc32.ChecksumIEEE(body))
}

func encodeTask(t *Task) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(t); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeTask(b []byte) (*Task, error) {
	var t Task
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&t); err != nil {
		return nil, err
	}
	return &t, nil
}
