package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/devkit/webhook-engine/internal/models"
	"github.com/devkit/webhook-engine/internal/signer"
)

const userAgent = "ConfigHub-Webhook/1.0"

// AttemptResult is the outcome of one HTTP delivery attempt. Err is set for
// transport-level failures (timeout, connection refused, DNS); StatusCode is
// nil in that case
type AttemptResult struct {
	StatusCode *int
	Body       string
	DurationMs int64
	Err        error
}

// Success reports whether the attempt received a 2xx response
func (r *AttemptResult) Success() bool {
	return r.Err == nil && r.StatusCode != nil && *r.StatusCode >= 200 && *r.StatusCode < 300
}

// Executor performs exactly one bounded HTTP POST per invocation. It never
// retries; retry policy belongs to the scheduler
type Executor struct {
	client      *http.Client
	maxBodySize int
	logger      *zap.Logger
}

// New creates an executor around the given client. The client's own timeout
// is left untouched; each attempt is bounded by the webhook's timeoutSeconds
// through the request context
func New(client *http.Client, maxBodySize int, logger *zap.Logger) *Executor {
	if client == nil {
		client = &http.Client{}
	}
	return &Executor{
		client:      client,
		maxBodySize: maxBodySize,
		logger:      logger,
	}
}

// Attempt POSTs the delivery's payload snapshot to the webhook URL with the
// signature and event metadata headers
func (e *Executor) Attempt(ctx context.Context, webhook *models.Webhook, delivery *models.Delivery) *AttemptResult {
	result := &AttemptResult{}

	payload := []byte(delivery.Payload)

	ctx, cancel := context.WithTimeout(ctx, time.Duration(webhook.TimeoutSeconds)*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook.URL, bytes.NewReader(payload))
	if err != nil {
		result.Err = fmt.Errorf("failed to create HTTP request: %w", err)
		return result
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Webhook-Event", string(delivery.EventType))
	req.Header.Set("X-Webhook-ID", delivery.EventID)
	req.Header.Set("X-Webhook-Delivery-ID", delivery.ID.String())

	if webhook.Secret != "" {
		signature, err := signer.Sign(webhook.Secret, payload)
		if err != nil {
			result.Err = fmt.Errorf("failed to sign payload: %w", err)
			return result
		}
		req.Header.Set("X-Webhook-Signature", signature)
	}

	startTime := time.Now()

	resp, err := e.client.Do(req)
	result.DurationMs = time.Since(startTime).Milliseconds()
	if err != nil {
		result.Err = fmt.Errorf("HTTP request failed: %w", err)
		return result
	}
	defer resp.Body.Close()

	result.StatusCode = &resp.StatusCode

	// Read at most maxBodySize+1 bytes to detect truncation
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, int64(e.maxBodySize)+1))
	if readErr != nil {
		e.logger.Warn("Failed to read response body",
			zap.String("url", webhook.URL),
			zap.Error(readErr),
		)
	}
	if len(body) > e.maxBodySize {
		result.Body = string(body[:e.maxBodySize]) + "... (truncated)"
	} else {
		result.Body = string(body)
	}

	return result
}
