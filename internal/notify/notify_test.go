package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestDetectWebhookType(t *testing.T) {
	cases := []struct {
		url  string
		want WebhookType
	}{
		{"https://discord.com/api/webhooks/123/abc", WebhookDiscord},
		{"https://discordapp.com/api/webhooks/123/abc", WebhookDiscord},
		{"https://hooks.slack.com/services/T0/B0/xyz", WebhookSlack},
		{"https://example.com/hook", WebhookGeneric},
		{"", WebhookGeneric},
	}
	for _, tc := range cases {
		if got := DetectWebhookType(tc.url); got != tc.want {
			t.Errorf("DetectWebhookType(%q) = %v, want %v", tc.url, got, tc.want)
		}
	}
}

func TestBuildCompletePayloadDiscord(t *testing.T) {
	payload, err := buildCompletePayload(CompleteOptions{
		RunName:    "run-a",
		WebhookURL: "https://discord.com/api/webhooks/123/abc",
		OutputDir:  "data/run-a",
		Model:      "test-model",
		Responses:  25,
		Duration:   95 * time.Second,
	}, time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("build payload: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	embeds, ok := decoded["embeds"].([]interface{})
	if !ok || len(embeds) != 1 {
		t.Fatalf("expected one embed, got %v", decoded)
	}
	embed := embeds[0].(map[string]interface{})
	if embed["title"] != "✅ Sampling Run Complete" {
		t.Fatalf("unexpected title: %v", embed["title"])
	}
	if !strings.Contains(embed["description"].(string), "run-a") {
		t.Fatalf("description should name the run: %v", embed["description"])
	}
}

func TestBuildFailedPayloadGeneric(t *testing.T) {
	payload, err := buildFailedPayload(FailedOptions{
		RunName:    "run-a",
		WebhookURL: "https://example.com/hook",
		Model:      "test-model",
		Responses:  10,
		Requested:  25,
		Duration:   30 * time.Second,
	}, time.Now())
	if err != nil {
		t.Fatalf("build payload: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if decoded["event"] != "failed" {
		t.Fatalf("unexpected event: %v", decoded["event"])
	}
	if decoded["responses"] != "10" || decoded["requested"] != "25" {
		t.Fatalf("unexpected counts: %v / %v", decoded["responses"], decoded["requested"])
	}
}

func TestBuildCompletePayloadSlack(t *testing.T) {
	payload, err := buildCompletePayload(CompleteOptions{
		RunName:    "run-a",
		WebhookURL: "https://hooks.slack.com/services/T0/B0/xyz",
		Responses:  5,
	}, time.Now())
	if err != nil {
		t.Fatalf("build payload: %v", err)
	}
	if !strings.Contains(string(payload), "attachments") {
		t.Fatalf("expected slack attachments payload: %s", payload)
	}
}

func TestSendWebhook(t *testing.T) {
	var received []byte
	var contentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		received, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	err := SendWebhook(context.Background(), server.URL, []byte(`{"event":"complete"}`), 5*time.Second)
	if err != nil {
		t.Fatalf("send webhook: %v", err)
	}
	if contentType != "application/json" {
		t.Fatalf("unexpected content type: %q", contentType)
	}
	if string(received) != `{"event":"complete"}` {
		t.Fatalf("unexpected body: %s", received)
	}
}

func TestSendWebhookHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	err := SendWebhook(context.Background(), server.URL, []byte("{}"), 5*time.Second)
	if err == nil || !strings.Contains(err.Error(), "HTTP 400") {
		t.Fatalf("expected HTTP 400 error, got %v", err)
	}
}

func TestNotifyCompleteValidation(t *testing.T) {
	if err := NotifyComplete(context.Background(), CompleteOptions{WebhookURL: "https://example.com"}); err == nil {
		t.Fatalf("expected error for missing run name")
	}
	if err := NotifyComplete(context.Background(), CompleteOptions{RunName: "run-a"}); err == nil {
		t.Fatalf("expected error for missing webhook URL")
	}
}

func TestNotifyFailedDelivers(t *testing.T) {
	var received map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := NotifyFailed(context.Background(), FailedOptions{
		RunName:    "run-a",
		WebhookURL: server.URL,
		Responses:  1,
		Requested:  2,
	})
	if err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	if received["status"] != "incomplete" {
		t.Fatalf("unexpected payload: %v", received)
	}
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{45 * time.Second, "45s"},
		{95 * time.Second, "1m 35s"},
		{3661 * time.Second, "1h 1m 1s"},
		{-5 * time.Second, "0s"},
	}
	for _, tc := range cases {
		if got := formatDuration(tc.in); got != tc.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
