package alerting

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/trailguard/trailguard/internal/domain/alert"
	"github.com/trailguard/trailguard/internal/domain/errors"
	"github.com/trailguard/trailguard/internal/infrastructure/config"
)

// WebhookSink pushes alert notifications to an ntfy-compatible endpoint. The
// alert description goes in the body; title, priority, and tags ride in
// headers. Failures never block alert persistence.
type WebhookSink struct {
	cfg    config.NotificationConfig
	client *http.Client
	logger *zap.Logger
}

// NewWebhookSink builds a webhook sink; returns CONFIG_ERROR when enabled
// without a URL.
func NewWebhookSink(cfg config.NotificationConfig, logger *zap.Logger) (*WebhookSink, error) {
	if cfg.Enabled && cfg.URL == "" {
		return nil, errors.NewConfigError("notification url is required when notifications are enabled")
	}
	return &WebhookSink{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}, nil
}

func (s *WebhookSink) Name() string { return "webhook" }

// Send posts the alert. Disabled sinks accept silently.
func (s *WebhookSink) Send(ctx context.Context, a *alert.Alert) error {
	if !s.cfg.Enabled {
		return nil
	}

	// Each tenant has its own notification topic under the base URL.
	url := strings.TrimRight(s.cfg.URL, "/") + "/" + a.OrganizationID
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url,
		strings.NewReader(a.Description))
	if err != nil {
		return errors.NewNetworkError("building notification request").WithCause(err)
	}

	req.Header.Set("Title", a.Title)
	req.Header.Set("Tags", strings.Join([]string{
		"warning", string(a.Type), string(a.Severity), a.Source, string(a.Status),
	}, ","))
	if a.Severity == alert.SeverityCritical {
		req.Header.Set("Priority", "5")
	}
	if s.cfg.Credentials != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Credentials)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.NewNetworkError("sending alert notification").WithCause(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 400 {
		return errors.NewNetworkError("alert notification rejected").
			WithDetails(map[string]interface{}{"status": resp.StatusCode})
	}

	s.logger.Debug("alert notification delivered",
		zap.String("alert_id", a.ID.String()),
		zap.Int("status", resp.StatusCode))
	return nil
}
