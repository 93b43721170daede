package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tubemux/internal/config"
)

const userAgent = "tubemux/0.1.0"

// Event names a notification type.
type Event string

const (
	EventJobReady  Event = "job_ready"
	EventJobFailed Event = "job_failed"
	EventTest      Event = "test"
)

// Payload carries event fields. Keys are event specific.
type Payload map[string]string

// Service defines the notification surface exposed to workflow components.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventJobReady:  cfg.Notifications.Ready,
			EventJobFailed: cfg.Notifications.Failed,
			EventTest:      true,
		},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if n == nil || !n.enabled[event] {
		return nil
	}
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, payload Payload) (message, bool) {
	get := func(key string) string { return strings.TrimSpace(payload[key]) }
	switch event {
	case EventJobReady:
		title := get("title")
		if title == "" {
			title = get("url")
		}
		body := fmt.Sprintf("Ready: %s", title)
		if tier := get("tier"); tier != "" {
			body = fmt.Sprintf("%s (%s)", body, tier)
		}
		if file := get("file"); file != "" {
			body = fmt.Sprintf("%s\nFile: %s", body, file)
		}
		return message{
			title: "tubemux - Ready",
			body:  body,
			tags:  []string{"tubemux", "job", "ready"},
		}, true
	case EventJobFailed:
		var builder strings.Builder
		builder.WriteString("Failed")
		if subject := firstNonEmpty(get("title"), get("url")); subject != "" {
			builder.WriteString(": ")
			builder.WriteString(subject)
		}
		if kind := get("kind"); kind != "" {
			builder.WriteString(" [")
			builder.WriteString(kind)
			builder.WriteString("]")
		}
		if errText := get("error"); errText != "" {
			builder.WriteString("\n")
			builder.WriteString(errText)
		}
		return message{
			title:    "tubemux - Failed",
			body:     builder.String(),
			tags:     []string{"tubemux", "job", "failed"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "tubemux - Test",
			body:     "Notification system test",
			tags:     []string{"tubemux", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	if n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
