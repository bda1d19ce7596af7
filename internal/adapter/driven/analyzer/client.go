// Package analyzer submits captured text to the analysis endpoint over HTTP.
package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/asialea/promptwatch/internal/domain/port/driven"
)

// Client posts captured samples as JSON to a configurable endpoint.
type Client struct {
	httpClient *http.Client
}

var _ driven.AnalysisClient = (*Client)(nil)

func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type samplePayload struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

type submitPayload struct {
	Sample samplePayload `json:"sample"`
	Source string        `json:"source"`
}

// Submit posts the sample to endpoint. The bearer token is attached only
// when present; anonymous submissions carry no Authorization header.
func (c *Client) Submit(ctx context.Context, endpoint string, sub driven.AnalysisSubmission) error {
	body, err := json.Marshal(submitPayload{
		Sample: samplePayload{Sender: sub.Sender, Text: sub.Text},
		Source: sub.Source,
	})
	if err != nil {
		return fmt.Errorf("encode submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build submission request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if sub.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+sub.Bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("submit sample: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("analysis endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}
