// Package classify assigns incoming requests to the resource classes the
// gateway routes on. Classification looks only at the request (method, URL,
// fetch metadata headers), never at the response, so every request maps to
// exactly one class before any network or cache work happens.
package classify

import (
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// Class is a resource class. Every request belongs to exactly one.
type Class string

const (
	// API is a same-origin call under one of the configured API prefixes.
	API Class = "api"

	// Navigation is a page load: a request for an HTML document.
	Navigation Class = "navigation"

	// Image is an image resource.
	Image Class = "image"

	// StaticAsset is a script, stylesheet or font.
	StaticAsset Class = "static"

	// Other is everything else, including all cross-origin traffic.
	Other Class = "other"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".gif":  true,
	".webp": true,
	".svg":  true,
	".ico":  true,
	".avif": true,
}

var staticExtensions = map[string]bool{
	".js":    true,
	".mjs":   true,
	".css":   true,
	".woff":  true,
	".woff2": true,
	".ttf":   true,
	".otf":   true,
	".map":   true,
}

// Classifier maps requests to classes for one origin.
type Classifier struct {
	originHost  string
	apiPrefixes []string
}

// New creates a Classifier. origin is the site's own origin (for example
// "https://shop.example"); requests targeting any other host are
// cross-origin. An empty origin disables the host comparison, leaving only
// the Sec-Fetch-Site header to detect cross-origin traffic. apiPrefixes
// defaults to ["/api/"] when empty.
func New(origin string, apiPrefixes []string) (*Classifier, error) {
	var host string
	if origin != "" {
		u, err := url.Parse(origin)
		if err != nil {
			return nil, fmt.Errorf("parse origin: %w", err)
		}
		if u.Host == "" {
			return nil, fmt.Errorf("origin %q has no host", origin)
		}
		host = u.Host
	}

	if len(apiPrefixes) == 0 {
		apiPrefixes = []string{"/api/"}
	}

	return &Classifier{
		originHost:  host,
		apiPrefixes: apiPrefixes,
	}, nil
}

// CrossOrigin reports whether the request targets a foreign origin. Such
// requests are classified Other and must bypass the cache entirely: no
// lookups, no writes, no synthesized fallbacks.
func (c *Classifier) CrossOrigin(req *http.Request) bool {
	if req.URL != nil && req.URL.Host != "" && c.originHost != "" {
		if !strings.EqualFold(req.URL.Host, c.originHost) {
			return true
		}
	}
	return req.Header.Get("Sec-Fetch-Site") == "cross-site"
}

// Classify returns the request's class. Cross-origin requests are Other;
// same-origin requests are checked against the API prefixes first, then the
// browser's destination hint, then the path extension.
func (c *Classifier) Classify(req *http.Request) Class {
	if c.CrossOrigin(req) {
		return Other
	}

	reqPath := "/"
	if req.URL != nil && req.URL.Path != "" {
		reqPath = req.URL.Path
	}

	for _, prefix := range c.apiPrefixes {
		if strings.HasPrefix(reqPath, prefix) {
			return API
		}
	}

	dest := req.Header.Get("Sec-Fetch-Dest")
	switch dest {
	case "document":
		return Navigation
	case "image":
		return Image
	case "script", "style", "font":
		return StaticAsset
	}

	// No destination hint: fall back to Accept and the path extension.
	if dest == "" && acceptsHTML(req) {
		return Navigation
	}

	ext := strings.ToLower(path.Ext(reqPath))
	switch {
	case imageExtensions[ext]:
		return Image
	case staticExtensions[ext]:
		return StaticAsset
	}

	return Other
}

func acceptsHTML(req *http.Request) bool {
	for _, accept := range req.Header.Values("Accept") {
		for _, part := range strings.Split(accept, ",") {
			mediaType := strings.TrimSpace(part)
			if i := strings.Index(mediaType, ";"); i >= 0 {
				mediaType = mediaType[:i]
			}
			if mediaType == "text/html" {
				return true
			}
		}
	}
	return false
}
