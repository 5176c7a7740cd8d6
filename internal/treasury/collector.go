package treasury

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/noah-isme/workspace-hub-api/pkg/config"
)

// Payment describes a forwarded subscription payment.
type Payment struct {
	WorkspaceID int64  `json:"workspace_id"`
	PlanID      int64  `json:"plan_id"`
	AmountCents int64  `json:"amount_cents"`
	Reference   string `json:"reference"`
}

// Collector forwards payments to the treasury. Forwarding is the only
// externally visible side effect in the system; a returned error must abort
// the enclosing mutation.
type Collector interface {
	Forward(ctx context.Context, payment Payment) error
}

// HTTPCollector posts payments to a configured treasury endpoint.
type HTTPCollector struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// New selects an HTTP collector when a treasury URL is configured, and a
// logging no-op collector otherwise (development only).
func New(cfg config.TreasuryConfig, logger *zap.Logger) Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.URL == "" {
		return &NopCollector{logger: logger}
	}
	return &HTTPCollector{
		url:    cfg.URL,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Forward posts the payment to the treasury endpoint.
func (c *HTTPCollector) Forward(ctx context.Context, payment Payment) error {
	body, err := json.Marshal(payment)
	if err != nil {
		return fmt.Errorf("marshal payment: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build treasury request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("forward payment: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("treasury rejected payment: status %d", resp.StatusCode)
	}

	c.logger.Debug("payment forwarded",
		zap.Int64("workspace_id", payment.WorkspaceID),
		zap.Int64("amount_cents", payment.AmountCents),
	)
	return nil
}

// NopCollector accepts every payment without forwarding it.
type NopCollector struct {
	logger *zap.Logger
}

// Forward logs and accepts the payment.
func (c *NopCollector) Forward(_ context.Context, payment Payment) error {
	c.logger.Warn("treasury not configured, payment not forwarded",
		zap.Int64("workspace_id", payment.WorkspaceID),
		zap.Int64("amount_cents", payment.AmountCents),
	)
	return nil
}
