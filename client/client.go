// Package client calls the prediction service over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"calihouse/ml"
)

const maxErrorBody = 4096

// ErrUnavailable wraps transport failures: refused connections, DNS errors
// and timeouts.
var ErrUnavailable = errors.New("prediction service unavailable")

// StatusError is returned when the service answers with a non-200 status.
type StatusError struct {
	Code   int
	Detail string
	Kind   string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("prediction service returned status %d", e.Code)
	}
	return fmt.Sprintf("prediction service returned status %d: %s", e.Code, e.Detail)
}

type Client struct {
	baseURL string
	client  *http.Client
}

// New returns a client for the service at baseURL. Every call is bounded by
// timeout; calls are never retried.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

// Health reports nil when GET / answers 200.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(resp)
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	return nil
}

// Predict posts one feature record and returns the predicted median house
// value in units of $100,000.
func (c *Client) Predict(ctx context.Context, features ml.HousingFeatures) (float64, error) {
	payload, err := json.Marshal(features)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, statusError(resp)
	}

	var body map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode prediction response: %w", err)
	}
	// older deployments answer with predicted_value
	for _, key := range []string{"response", "predicted_value"} {
		raw, ok := body[key]
		if !ok {
			continue
		}
		var value float64
		if err := json.Unmarshal(raw, &value); err != nil {
			return 0, fmt.Errorf("decode %s: %w", key, err)
		}
		return value, nil
	}
	return 0, errors.New("prediction response has no response or predicted_value field")
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	se := &StatusError{Code: resp.StatusCode}

	var body struct {
		Detail json.RawMessage `json:"detail"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && len(body.Detail) > 0 {
		se.Kind = body.Error
		var detail string
		if err := json.Unmarshal(body.Detail, &detail); err == nil {
			se.Detail = detail
		} else {
			se.Detail = string(body.Detail)
		}
		return se
	}
	se.Detail = strings.TrimSpace(string(raw))
	return se
}
