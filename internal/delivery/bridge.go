package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// BridgeConfig holds host-bridge settings.
type BridgeConfig struct {
	BaseURL string
	Timeout time.Duration
}

// BridgeChannel delivers through the host bridge's direct notification
// endpoint. Only works while the app is foregrounded, so it is the
// secondary path behind the background queue.
type BridgeChannel struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewBridgeChannel creates the direct host-bridge channel.
func NewBridgeChannel(cfg BridgeConfig, logger *zap.Logger) *BridgeChannel {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &BridgeChannel{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (c *BridgeChannel) Name() string {
	return "bridge"
}

// Ready reports whether a bridge endpoint is configured.
func (c *BridgeChannel) Ready(ctx context.Context) error {
	if c.baseURL == "" {
		return fmt.Errorf("%w: no host bridge configured", ErrChannelUnavailable)
	}
	return nil
}

// Deliver POSTs the notification to the bridge's notify endpoint.
func (c *BridgeChannel) Deliver(ctx context.Context, n *Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("%w: marshal notification: %v", ErrDeliveryFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/notify", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build bridge request: %v", ErrDeliveryFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Pulse-Notification-ID", n.ID.String())

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: bridge request: %v", ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()

	preview, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: bridge refused notification", ErrPermissionDenied)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: bridge returned %d: %s", ErrDeliveryFailed, resp.StatusCode, string(preview))
	}

	c.logger.Info("notification delivered via host bridge",
		zap.String("notification_id", n.ID.String()),
		zap.Int("status_code", resp.StatusCode),
	)
	return nil
}

// Permission queries the bridge's permission endpoint. Only meaningful in
// standalone host mode; the embedded wrapper's answer is unreliable and is
// probed through the queue instead.
func (c *BridgeChannel) Permission(ctx context.Context) (bool, error) {
	if c.baseURL == "" {
		return false, fmt.Errorf("%w: no host bridge configured", ErrChannelUnavailable)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/permission", nil)
	if err != nil {
		return false, fmt.Errorf("build permission request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: permission request: %v", ErrChannelUnavailable, err)
	}
	defer resp.Body.Close()

	var out struct {
		Granted bool `json:"granted"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("decode permission response: %w", err)
	}
	return out.Granted, nil
}
