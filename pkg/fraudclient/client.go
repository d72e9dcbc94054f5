/**
 * @description
 * This package provides a client for the external fraud analysis service.
 * It posts a transaction summary plus the caller-supplied verification data
 * and returns the engine's verdict.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package fraudclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Client is a client for the fraud analysis API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new fraud analysis client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// AnalyzeRequest is the payload posted to the analysis endpoint.
type AnalyzeRequest struct {
	TransactionID    string            `json:"transaction_id"`
	BondID           string            `json:"bond_id"`
	TransactionType  string            `json:"transaction_type"`
	Amount           int64             `json:"amount"`
	RetryCount       int               `json:"retry_count"`
	VerificationData map[string]string `json:"verification_data,omitempty"`
}

// AnalyzeResponse is the engine's verdict.
type AnalyzeResponse struct {
	Data struct {
		Passed     bool    `json:"passed"`
		Confidence float64 `json:"confidence"`
		Reason     string  `json:"reason"`
	} `json:"data"`
}

// ErrorResponse represents an error from the fraud analysis API.
type ErrorResponse struct {
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Status string `json:"status"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("fraud api error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return "unknown fraud api error"
}

// Analyze posts the transaction summary for analysis and returns the verdict.
func (c *Client) Analyze(ctx context.Context, req AnalyzeRequest) (*AnalyzeResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal analyze request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/api/v1/analyses", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create analyze request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("x-api-key", c.APIKey)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute analyze request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read analyze response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=fraud_client op=analyze status=%d msg=\"non-2xx response (unparsable error body)\"", resp.StatusCode)
			return nil, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		return nil, &errResp
	}

	var analyzeResp AnalyzeResponse
	if err := json.Unmarshal(bodyBytes, &analyzeResp); err != nil {
		return nil, fmt.Errorf("failed to decode analyze response: %w", err)
	}

	return &analyzeResp, nil
}
