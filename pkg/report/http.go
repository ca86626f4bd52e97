// Package report delivers location updates to the collector over HTTP
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/starfail/geotrack/pkg"
)

// UpdatePath is the collector endpoint for location updates
const UpdatePath = "/update_driver_location"

// maxBody bounds how much of a collector reply is read
const maxBody = 64 << 10

// HTTPSink posts location updates as JSON
type HTTPSink struct {
	url    string
	client *http.Client
}

// NewHTTPSink creates a sink for the collector at baseURL
func NewHTTPSink(baseURL string, timeout time.Duration) *HTTPSink {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSink{
		url:    strings.TrimSuffix(baseURL, "/") + UpdatePath,
		client: &http.Client{Timeout: timeout},
	}
}

type collectorReply struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Submit posts one update. Transport failures, non-2xx statuses and
// unparseable bodies are errors; a well-formed reply whose status is not
// "success" is returned as not accepted.
func (h *HTTPSink) Submit(ctx context.Context, update pkg.LocationUpdate) (pkg.ReportAck, error) {
	payload, err := json.Marshal(update)
	if err != nil {
		return pkg.ReportAck{}, fmt.Errorf("failed to marshal update: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(payload))
	if err != nil {
		return pkg.ReportAck{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "geotrackd/1.0")

	resp, err := h.client.Do(req)
	if err != nil {
		return pkg.ReportAck{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return pkg.ReportAck{}, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return pkg.ReportAck{}, fmt.Errorf("collector returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var reply collectorReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return pkg.ReportAck{}, fmt.Errorf("malformed collector response: %w", err)
	}

	return pkg.ReportAck{
		Accepted: reply.Status == "success",
		Message:  reply.Message,
	}, nil
}
