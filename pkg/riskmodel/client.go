/**
 * @description
 * This package provides a client for the predictive risk scoring service.
 * It encapsulates the logic for making authenticated HTTP requests to the
 * model's scoring endpoint, handling request body construction, and parsing
 * responses.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package riskmodel

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

// Client is a client for the predictive risk model API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new risk model client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// ScoreResponse is the expected response from the model's scoring endpoint.
type ScoreResponse struct {
	Data struct {
		Score      float64 `json:"score"`
		ModelID    string  `json:"model_id"`
		EvaluatedAt string `json:"evaluated_at"`
	} `json:"data"`
}

// ErrorResponse represents an error from the risk model API.
type ErrorResponse struct {
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Status string `json:"status"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("risk model api error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return "unknown risk model api error"
}

// Predict posts the feature vector to the scoring endpoint and returns the
// model's score in [0.0, 1.0]. The features parameter is any JSON-encodable
// feature struct.
func (c *Client) Predict(ctx context.Context, features interface{}) (float64, error) {
	body, err := json.Marshal(features)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal score request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/api/v1/scores", bytes.NewBuffer(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create score request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to execute score request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read score response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=riskmodel_client op=predict status=%d msg=\"non-2xx response (unparsable error body)\"", resp.StatusCode)
			return 0, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		return 0, &errResp
	}

	var scoreResp ScoreResponse
	if err := json.Unmarshal(bodyBytes, &scoreResp); err != nil {
		return 0, fmt.Errorf("failed to decode score response: %w", err)
	}
	if scoreResp.Data.Score < 0 || scoreResp.Data.Score > 1 {
		return 0, fmt.Errorf("model returned out-of-range score %f", scoreResp.Data.Score)
	}

	return scoreResp.Data.Score, nil
}
