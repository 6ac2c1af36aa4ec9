package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type WebhookType string

const (
	WebhookDiscord WebhookType = "discord"
	WebhookSlack   WebhookType = "slack"
	WebhookGeneric WebhookType = "generic"
)

// CompleteOptions describes a sampling run that produced every
// requested response.
type CompleteOptions struct {
	RunName    string
	WebhookURL string
	OutputDir  string
	Model      string
	Responses  int
	Duration   time.Duration
	Timeout    time.Duration
}

// FailedOptions describes a sampling run that fell short of the
// requested response count.
type FailedOptions struct {
	RunName    string
	WebhookURL string
	OutputDir  string
	Model      string
	Responses  int
	Requested  int
	Duration   time.Duration
	Timeout    time.Duration
}

func DetectWebhookType(url string) WebhookType {
	lower := strings.ToLower(url)
	if strings.Contains(lower, "discord.com/api/webhooks") || strings.Contains(lower, "discordapp.com/api/webhooks") {
		return WebhookDiscord
	}
	if strings.Contains(lower, "hooks.slack.com") {
		return WebhookSlack
	}
	return WebhookGeneric
}

func NotifyComplete(ctx context.Context, opts CompleteOptions) error {
	if strings.TrimSpace(opts.RunName) == "" {
		return errors.New("run name is required")
	}
	if strings.TrimSpace(opts.WebhookURL) == "" {
		return errors.New("webhook URL is required")
	}
	payload, err := buildCompletePayload(opts, time.Now())
	if err != nil {
		return err
	}
	return SendWebhook(ctx, opts.WebhookURL, payload, opts.Timeout)
}

func NotifyFailed(ctx context.Context, opts FailedOptions) error {
	if strings.TrimSpace(opts.RunName) == "" {
		return errors.New("run name is required")
	}
	if strings.TrimSpace(opts.WebhookURL) == "" {
		return errors.New("webhook URL is required")
	}
	payload, err := buildFailedPayload(opts, time.Now())
	if err != nil {
		return err
	}
	return SendWebhook(ctx, opts.WebhookURL, payload, opts.Timeout)
}

func SendWebhook(ctx context.Context, url string, payload []byte, timeout time.Duration) error {
	if strings.TrimSpace(url) == "" {
		return errors.New("webhook URL is required")
	}
	if len(payload) == 0 {
		return errors.New("payload is required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func buildCompletePayload(opts CompleteOptions, now time.Time) ([]byte, error) {
	outputDir := defaultString(opts.OutputDir, "unknown")
	model := defaultString(opts.Model, "unknown")
	responses := numberString(opts.Responses)
	duration := formatDuration(opts.Duration)
	timestamp := now.Format(time.RFC3339)

	payloadType := DetectWebhookType(opts.WebhookURL)
	switch payloadType {
	case WebhookDiscord:
		payload := map[string]interface{}{
			"embeds": []map[string]interface{}{
				{
					"title":       "✅ Sampling Run Complete",
					"description": fmt.Sprintf("Run **%s** generated all requested responses.", opts.RunName),
					"color":       5763719,
					"fields": []map[string]interface{}{
						{
							"name":   "Output",
							"value":  fmt.Sprintf("`%s`", outputDir),
							"inline": false,
						},
						{
							"name":   "Model",
							"value":  model,
							"inline": true,
						},
						{
							"name":   "Responses",
							"value":  responses,
							"inline": true,
						},
						{
							"name":   "Duration",
							"value":  duration,
							"inline": true,
						},
					},
					"footer": map[string]interface{}{
						"text": "manyshot",
					},
					"timestamp": timestamp,
				},
			},
		}
		return json.Marshal(payload)
	case WebhookSlack:
		payload := map[string]interface{}{
			"attachments": []map[string]interface{}{
				{
					"color": "#57F287",
					"blocks": []map[string]interface{}{
						{
							"type": "header",
							"text": map[string]interface{}{
								"type":  "plain_text",
								"text":  "✅ Sampling Run Complete",
								"emoji": true,
							},
						},
						{
							"type": "section",
							"text": map[string]interface{}{
								"type": "mrkdwn",
								"text": fmt.Sprintf("Run *%s* generated all requested responses.", opts.RunName),
							},
						},
						{
							"type": "section",
							"fields": []map[string]interface{}{
								{
									"type": "mrkdwn",
									"text": fmt.Sprintf("*Output:*\n`%s`", outputDir),
								},
								{
									"type": "mrkdwn",
									"text": fmt.Sprintf("*Model:*\n%s", model),
								},
								{
									"type": "mrkdwn",
									"text": fmt.Sprintf("*Responses:*\n%s", responses),
								},
								{
									"type": "mrkdwn",
									"text": fmt.Sprintf("*Duration:*\n%s", duration),
								},
							},
						},
						{
							"type": "context",
							"elements": []map[string]interface{}{
								{
									"type": "mrkdwn",
									"text": fmt.Sprintf("manyshot • %s", timestamp),
								},
							},
						},
					},
				},
			},
		}
		return json.Marshal(payload)
	default:
		payload := map[string]interface{}{
			"event":     "complete",
			"status":    "success",
			"run":       opts.RunName,
			"output":    outputDir,
			"model":     model,
			"responses": responses,
			"duration":  duration,
			"timestamp": timestamp,
			"message":   fmt.Sprintf("Sampling run '%s' completed with %s responses (%s)", opts.RunName, responses, duration),
		}
		return json.Marshal(payload)
	}
}

func buildFailedPayload(opts FailedOptions, now time.Time) ([]byte, error) {
	outputDir := defaultString(opts.OutputDir, "unknown")
	model := defaultString(opts.Model, "unknown")
	responses := numberString(opts.Responses)
	requested := numberString(opts.Requested)
	duration := formatDuration(opts.Duration)
	timestamp := now.Format(time.RFC3339)

	description := fmt.Sprintf("Run %s produced %s of %s requested responses.", opts.RunName, responses, requested)
	message := fmt.Sprintf("Sampling run '%s' fell short: %s/%s responses (%s)", opts.RunName, responses, requested, duration)

	payloadType := DetectWebhookType(opts.WebhookURL)
	switch payloadType {
	case WebhookDiscord:
		payload := map[string]interface{}{
			"embeds": []map[string]interface{}{
				{
					"title":       "❌ Sampling Run Incomplete",
					"description": strings.Replace(description, opts.RunName, "**"+opts.RunName+"**", 1),
					"color":       15548997,
					"fields": []map[string]interface{}{
						{
							"name":   "Output",
							"value":  fmt.Sprintf("`%s`", outputDir),
							"inline": false,
						},
						{
							"name":   "Model",
							"value":  model,
							"inline": true,
						},
						{
							"name":   "Responses",
							"value":  fmt.Sprintf("%s/%s", responses, requested),
							"inline": true,
						},
						{
							"name":   "Duration",
							"value":  duration,
							"inline": true,
						},
					},
					"footer": map[string]interface{}{
						"text": "manyshot",
					},
					"timestamp": timestamp,
				},
			},
		}
		return json.Marshal(payload)
	case WebhookSlack:
		payload := map[string]interface{}{
			"attachments": []map[string]interface{}{
				{
					"color": "#ED4245",
					"blocks": []map[string]interface{}{
						{
							"type": "header",
							"text": map[string]interface{}{
								"type":  "plain_text",
								"text":  "❌ Sampling Run Incomplete",
								"emoji": true,
							},
						},
						{
							"type": "section",
							"text": map[string]interface{}{
								"type": "mrkdwn",
								"text": strings.Replace(description, opts.RunName, "*"+opts.RunName+"*", 1),
							},
						},
						{
							"type": "section",
							"fields": []map[string]interface{}{
								{
									"type": "mrkdwn",
									"text": fmt.Sprintf("*Output:*\n`%s`", outputDir),
								},
								{
									"type": "mrkdwn",
									"text": fmt.Sprintf("*Model:*\n%s", model),
								},
								{
									"type": "mrkdwn",
									"text": fmt.Sprintf("*Responses:*\n%s/%s", responses, requested),
								},
								{
									"type": "mrkdwn",
									"text": fmt.Sprintf("*Duration:*\n%s", duration),
								},
							},
						},
						{
							"type": "context",
							"elements": []map[string]interface{}{
								{
									"type": "mrkdwn",
									"text": fmt.Sprintf("manyshot • %s", timestamp),
								},
							},
						},
					},
				},
			},
		}
		return json.Marshal(payload)
	default:
		payload := map[string]interface{}{
			"event":     "failed",
			"status":    "incomplete",
			"run":       opts.RunName,
			"output":    outputDir,
			"model":     model,
			"responses": responses,
			"requested": requested,
			"duration":  duration,
			"timestamp": timestamp,
			"message":   message,
		}
		return json.Marshal(payload)
	}
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func numberString(value int) string {
	return strconv.Itoa(value)
}

func formatDuration(duration time.Duration) string {
	if duration < 0 {
		duration = 0
	}
	total := int(duration.Seconds())
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
