package strategy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Synthesized responses stand in for the origin when it is unreachable and
// the cache has nothing servable. They are generated, never stored, and
// marked no-store so browsers don't keep them either.

const offlineJSONBody = `{"error":"Offline","message":"This action requires a connection. Please try again once you are back online.","retry":true}`

const offlineHTMLBody = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>You are offline</title>
<style>
body { font-family: system-ui, sans-serif; display: flex; align-items: center; justify-content: center; min-height: 100vh; margin: 0; background: #faf7f2; color: #3d2c1e; }
main { text-align: center; padding: 2rem; }
h1 { font-size: 1.5rem; }
button { margin-top: 1rem; padding: .6rem 1.4rem; border: 0; border-radius: .4rem; background: #c0392b; color: #fff; font-size: 1rem; cursor: pointer; }
</style>
</head>
<body>
<main>
<h1>You are offline</h1>
<p>This page is not available right now. Reconnect and try again.</p>
<button onclick="location.reload()">Retry</button>
</main>
</body>
</html>
`

const imagePlaceholderBody = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 120 90" width="120" height="90">
<rect width="120" height="90" fill="#e8e4dd"/>
<path d="M30 62l18-22 12 14 8-9 22 17z" fill="#b8b2a8"/>
<circle cx="42" cy="32" r="7" fill="#b8b2a8"/>
</svg>
`

const unavailableBody = "service unavailable: no connection and no cached copy\n"

// synthesize builds an in-memory response for req.
func synthesize(req *http.Request, status int, contentType string, body string) *http.Response {
	header := make(http.Header)
	header.Set("Content-Type", contentType)
	header.Set("Cache-Control", "no-store")

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader([]byte(body))),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

// offlineJSON is the API fallback: a machine-readable refusal the frontend
// can render without special-casing transport errors.
func offlineJSON(req *http.Request) *http.Response {
	return synthesize(req, http.StatusServiceUnavailable, "application/json; charset=utf-8", offlineJSONBody)
}

// offlineHTML is the last navigation fallback when even the app shell is
// missing.
func offlineHTML(req *http.Request) *http.Response {
	return synthesize(req, http.StatusServiceUnavailable, "text/html; charset=utf-8", offlineHTMLBody)
}

// imagePlaceholder serves a neutral inline SVG with status 200 so that
// layouts keep their dimensions instead of rendering broken-image icons.
func imagePlaceholder(req *http.Request) *http.Response {
	return synthesize(req, http.StatusOK, "image/svg+xml", imagePlaceholderBody)
}

// unavailable is the generic fallback for static assets.
func unavailable(req *http.Request) *http.Response {
	return synthesize(req, http.StatusServiceUnavailable, "text/plain; charset=utf-8", unavailableBody)
}

// queued acknowledges a mutation that was captured for later replay.
func queued(req *http.Request, tag string) *http.Response {
	body, err := json.Marshal(map[string]any{
		"queued": true,
		"tag":    tag,
	})
	if err != nil {
		return offlineJSON(req)
	}
	return synthesize(req, http.StatusAccepted, "application/json; charset=utf-8", string(body))
}
