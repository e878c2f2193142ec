package strategy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOfflineJSON_IsValidJSON(t *testing.T) {
	resp := offlineJSON(httptest.NewRequest(http.MethodGet, "/api/menu", nil))

	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Retry   bool   `json:"retry"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("fallback body is not valid JSON: %v", err)
	}
	if payload.Error != "Offline" {
		t.Errorf("error = %q, want Offline", payload.Error)
	}
	if !payload.Retry {
		t.Error("retry = false, want true")
	}
	if payload.Message == "" {
		t.Error("message is empty")
	}
}

func TestQueued_EscapesTag(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/orders", nil)
	resp := queued(req, `replay:POST:/api/orders:"quoted"`)

	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, want 202", resp.StatusCode)
	}

	var payload struct {
		Queued bool   `json:"queued"`
		Tag    string `json:"tag"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("queued body is not valid JSON: %v", err)
	}
	if !payload.Queued {
		t.Error("queued = false, want true")
	}
	if payload.Tag != `replay:POST:/api/orders:"quoted"` {
		t.Errorf("tag = %q", payload.Tag)
	}
}

func TestSynthesized_NeverStored(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	responses := []*http.Response{
		offlineJSON(req),
		offlineHTML(req),
		imagePlaceholder(req),
		unavailable(req),
	}
	for _, resp := range responses {
		if got := resp.Header.Get("Cache-Control"); got != "no-store" {
			t.Errorf("Cache-Control = %q, want no-store", got)
		}
		if resp.ContentLength <= 0 {
			t.Error("synthesized response has no body")
		}
	}
}
