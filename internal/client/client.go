package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"pajamaparty/telemetry/internal/models"

	"go.uber.org/zap"
)

// Client delivers event batches to the collector endpoint.
type Client struct {
	baseURL       string
	apiKey        string
	compress      bool
	retryAttempts int
	retryDelay    time.Duration
	httpClient    *http.Client
	logger        *zap.Logger
}

// New creates a collector client. retryAttempts is the total number of
// delivery attempts SendBatch makes; retryDelay is the backoff base,
// doubled after each failed attempt.
func New(baseURL, apiKey string, timeout time.Duration, retryAttempts int, retryDelay time.Duration, compress bool, logger *zap.Logger) *Client {
	return &Client{
		baseURL:       baseURL,
		apiKey:        apiKey,
		compress:      compress,
		retryAttempts: retryAttempts,
		retryDelay:    retryDelay,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// SendBatch sends events with retries and exponential backoff. Network
// errors, timeouts and non-2xx responses all count as a failed attempt;
// the last error is returned once attempts are exhausted.
func (c *Client) SendBatch(events []models.Event) error {
	if len(events) == 0 {
		return nil
	}

	var lastErr error
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(c.retryDelay * (1 << (attempt - 1)))
		}

		lastErr = c.send(context.Background(), events)
		if lastErr == nil {
			return nil
		}

		c.logger.Warn("Batch delivery attempt failed",
			zap.Error(lastErr),
			zap.Int("attempt", attempt+1),
			zap.Int("attempts_total", c.retryAttempts),
			zap.Int("event_count", len(events)),
		)
	}

	return fmt.Errorf("batch delivery failed after %d attempts: %w", c.retryAttempts, lastErr)
}

// SendBatchOnce makes a single bounded delivery attempt, used on shutdown
// paths where there is no time for the retry loop.
func (c *Client) SendBatchOnce(deadline time.Duration, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()
	return c.send(ctx, events)
}

func (c *Client) send(ctx context.Context, events []models.Event) error {
	batch := models.BatchRequest{
		Events: make([]any, len(events)),
		SentAt: time.Now().UnixMilli(),
	}
	for i, ev := range events {
		if c.compress {
			batch.Events[i] = ev.Compact()
		} else {
			batch.Events[i] = ev
		}
	}

	jsonData, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/events", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(startTime)

	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.logger.Debug("Batch sent successfully",
			zap.Int("event_count", len(events)),
			zap.Int("status_code", resp.StatusCode),
			zap.Duration("duration", duration),
		)
		return nil
	}

	errMsg := fmt.Sprintf("collector returned status %d: %s", resp.StatusCode, string(body))

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return &RateLimitError{Message: errMsg, StatusCode: resp.StatusCode, RetryAfter: retryAfter}
	case http.StatusBadRequest:
		return &BadRequestError{Message: errMsg, StatusCode: resp.StatusCode}
	default:
		return &BackendError{Message: errMsg, StatusCode: resp.StatusCode}
	}
}

// HealthCheck checks if the collector is reachable.
func (c *Client) HealthCheck() error {
	url := fmt.Sprintf("%s/health", c.baseURL)
	resp, err := c.httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// Error types
type RateLimitError struct {
	Message    string
	StatusCode int
	RetryAfter int // seconds, from the Retry-After header when present
}

func (e *RateLimitError) Error() string {
	return e.Message
}

type BadRequestError struct {
	Message    string
	StatusCode int
}

func (e *BadRequestError) Error() string {
	return e.Message
}

type BackendError struct {
	Message    string
	StatusCode int
}

func (e *BackendError) Error() string {
	return e.Message
}
