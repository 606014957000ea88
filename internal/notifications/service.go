// Package notifications sends operator push notifications through ntfy.
// When no topic is configured, a noop implementation is returned so callers
// never need nil checks.
package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tgdscott/DoneCast-sub003/internal/config"
)

const userAgent = "DoneCast-Go/0.1.0"

// Service defines the notification surface exposed to workflow components.
type Service interface {
	NotifyAssemblyStarted(ctx context.Context, episodeTitle string) error
	NotifyAssemblyCompleted(ctx context.Context, episodeTitle string, duration time.Duration) error
	NotifyAssemblyFailed(ctx context.Context, episodeTitle, reason string) error
	NotifyBillingGap(ctx context.Context, episodeTitle string, err error) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:  topic,
		client:    &http.Client{Timeout: timeout},
		processed: cfg.Notifications.Processed,
		errors:    cfg.Notifications.Errors,
		billing:   cfg.Notifications.Billing,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint  string
	client    *http.Client
	processed bool
	errors    bool
	billing   bool
}

func (n *ntfyService) NotifyAssemblyStarted(ctx context.Context, episodeTitle string) error {
	if !n.processed {
		return nil
	}
	data := payload{
		title:   "DoneCast - Assembly Started",
		message: fmt.Sprintf("Assembling: %s", strings.TrimSpace(episodeTitle)),
		tags:    []string{"donecast", "assembly", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyAssemblyCompleted(ctx context.Context, episodeTitle string, duration time.Duration) error {
	if !n.processed {
		return nil
	}
	duration = duration.Round(time.Second)
	data := payload{
		title:    "DoneCast - Episode Ready",
		message:  fmt.Sprintf("Episode assembled: %s (%s of audio)", strings.TrimSpace(episodeTitle), duration),
		tags:     []string{"donecast", "assembly", "completed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyAssemblyFailed(ctx context.Context, episodeTitle, reason string) error {
	if !n.errors {
		return nil
	}
	data := payload{
		title:    "DoneCast - Assembly Failed",
		message:  fmt.Sprintf("Failed: %s\n%s", strings.TrimSpace(episodeTitle), strings.TrimSpace(reason)),
		tags:     []string{"donecast", "assembly", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyBillingGap(ctx context.Context, episodeTitle string, err error) error {
	if !n.billing {
		return nil
	}
	detail := "unknown"
	if err != nil {
		detail = strings.TrimSpace(err.Error())
	}
	data := payload{
		title:    "DoneCast - Billing Gap",
		message:  fmt.Sprintf("Charge not confirmed for %s: %s", strings.TrimSpace(episodeTitle), detail),
		tags:     []string{"donecast", "billing", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "DoneCast - Test",
		message:  "Notification system test",
		tags:     []string{"donecast", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
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

func (noopService) NotifyAssemblyStarted(context.Context, string) error { return nil }
func (noopService) NotifyAssemblyCompleted(context.Context, string, time.Duration) error {
	return nil
}
func (noopService) NotifyAssemblyFailed(context.Context, string, string) error { return nil }
func (noopService) NotifyBillingGap(context.Context, string, error) error      { return nil }
func (noopService) TestNotification(context.Context) error                     { return nil }
