package telecom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/meridianrx/dispense/pkg/circuitbreaker"
)

// SwitchConfig configures the claim switch client.
type SwitchConfig struct {
	// BaseURL is the switch endpoint.
	BaseURL string
	// APIKey authenticates this pharmacy to the switch.
	APIKey string
	// Timeout bounds each submission round trip.
	Timeout time.Duration
}

// DefaultSwitchConfig returns client defaults.
func DefaultSwitchConfig() SwitchConfig {
	return SwitchConfig{
		BaseURL: "http://localhost:8090",
		Timeout: 10 * time.Second,
	}
}

// SwitchClient submits claims to the payer switch over HTTP, guarded by a
// circuit breaker so a down switch fails fast instead of stalling the
// fill queue.
type SwitchClient struct {
	config  SwitchConfig
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewSwitchClient creates a switch client.
func NewSwitchClient(cfg SwitchConfig, logger *zap.Logger) (*SwitchClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSwitchConfig().Timeout
	}
	breaker, err := circuitbreaker.New(circuitbreaker.DefaultConfig("claim-switch"), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create switch breaker: %w", err)
	}
	return &SwitchClient{
		config:  cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		logger:  logger,
		tracer:  otel.Tracer("claim-switch"),
	}, nil
}

// Submit transmits one claim transaction and decodes the response. A
// rejected claim is a successful round trip; only transport and switch
// failures return an error.
func (c *SwitchClient) Submit(ctx context.Context, req *ClaimRequest) (*ClaimResponse, error) {
	ctx, span := c.tracer.Start(ctx, "claim_submit",
		trace.WithAttributes(
			attribute.String("transaction_code", req.TransactionCode),
			attribute.String("prescription_ref", req.PrescriptionRef),
		))
	defer span.End()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal claim: %w", err)
	}

	result, err := c.breaker.Execute(ctx, func() (interface{}, error) {
		return c.post(ctx, body)
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("claim submission failed: %w", err)
	}

	resp := result.(*ClaimResponse)
	span.SetAttributes(attribute.String("claim_status", resp.Status))
	if resp.IsRejected() {
		c.logger.Info("claim rejected by payer",
			zap.String("prescription_ref", req.PrescriptionRef),
			zap.Strings("reject_codes", resp.RejectCodes),
		)
	}
	return resp, nil
}

func (c *SwitchClient) post(ctx context.Context, body []byte) (*ClaimResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/v1/claims", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("X-API-Key", c.config.APIKey)
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("switch returned status %d", httpResp.StatusCode)
	}

	var resp ClaimResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode claim response: %w", err)
	}
	return &resp, nil
}
