// Package verifyclient talks to a remote verification-code service over
// the /api/send-verification and /api/verify-code contract.
package verifyclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/safecrypt/internal/models"
	pkglogger "github.com/BradenHooton/safecrypt/pkg/logger"
)

const maxResponseBytes = 64 << 10

// Client is a step-up channel backed by a remote verification service
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// New creates a Client for the service at baseURL
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return NewWithHTTPClient(baseURL, &http.Client{Timeout: timeout}, logger)
}

// NewWithHTTPClient creates a Client using an existing http.Client
func NewWithHTTPClient(baseURL string, client *http.Client, logger *slog.Logger) *Client {
	return &Client{baseURL: baseURL, client: client, logger: logger}
}

type sendRequest struct {
	Email string `json:"email"`
}

type verifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Details string `json:"details,omitempty"`
}

// Send asks the service to issue and deliver a code for identifier
func (c *Client) Send(ctx context.Context, identifier string) error {
	status, resp, err := c.post(ctx, "/api/send-verification", sendRequest{Email: identifier})
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrDeliveryFailed, err)
	}
	if status != http.StatusOK || !resp.Success {
		c.logger.Warn("verification service refused to send code",
			slog.String("email", pkglogger.SanitizedEmail(identifier)),
			slog.Int("status", status),
			slog.String("error", resp.Error))
		return fmt.Errorf("%w: %s (status %d)", models.ErrDeliveryFailed, resp.Error, status)
	}
	return nil
}

// Check submits a code. The service answers 200 for every outcome and
// reports failures through the error message.
func (c *Client) Check(ctx context.Context, identifier, code string) (models.CodeCheckResult, error) {
	status, resp, err := c.post(ctx, "/api/verify-code", verifyRequest{Email: identifier, Code: code})
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("verification service returned status %d", status)
	}
	if resp.Success {
		return models.CodeOK, nil
	}

	result, ok := models.ParseCodeCheckMessage(resp.Error)
	if !ok {
		return "", fmt.Errorf("verification service returned unknown error %q", resp.Error)
	}
	return result, nil
}

func (c *Client) post(ctx context.Context, path string, body interface{}) (int, *response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("post %s: %w", path, err)
	}
	defer res.Body.Close()

	var out response
	if err := json.NewDecoder(io.LimitReader(res.Body, maxResponseBytes)).Decode(&out); err != nil {
		return res.StatusCode, nil, fmt.Errorf("decode %s response (status %d): %w", path, res.StatusCode, err)
	}
	return res.StatusCode, &out, nil
}
