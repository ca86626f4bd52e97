// Package starlink reads the dish's own GNSS position over its local HTTP API
package starlink

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultEndpoint is the dish's address on the Starlink LAN
const DefaultEndpoint = "http://192.168.100.1:9201"

// ErrLocationDisabled is returned when the dish has location sharing switched off
var ErrLocationDisabled = errors.New("starlink location access disabled")

// Message represents a request for Starlink communication
type Message struct {
	GetLocation *GetLocationRequest `json:"get_location,omitempty"`
}

// GetLocationRequest requests GPS location information
type GetLocationRequest struct{}

// LocationResponse contains the response from get_location
type LocationResponse struct {
	DishGetLocation *DishLocation `json:"dishGetLocation,omitempty"`
}

// DishLocation represents GPS location information
type DishLocation struct {
	Enabled   bool    `json:"enabled,omitempty"`
	LatDeg    float64 `json:"latDeg,omitempty"`
	LonDeg    float64 `json:"lonDeg,omitempty"`
	AltitudeM float32 `json:"altitudeM,omitempty"`
	SigmaM    float64 `json:"sigmaM,omitempty"`
	Source    string  `json:"source,omitempty"`
}

// Client provides HTTP communication with Starlink dish
type Client struct {
	endpoint string
	client   *http.Client
}

// NewClient creates a new Starlink client
func NewClient(endpoint string, timeout time.Duration) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true, // dish serves a self-signed certificate
			},
			ForceAttemptHTTP2: true,
		},
	}

	return &Client{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client:   client,
	}
}

// makeRequest makes an HTTP POST request to the Starlink dish
func (c *Client) makeRequest(ctx context.Context, path string, request interface{}) ([]byte, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.endpoint + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "geotrackd/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return body, nil
}

// GetLocation retrieves GPS location information from the dish
func (c *Client) GetLocation(ctx context.Context) (*DishLocation, error) {
	data, err := c.makeRequest(ctx, "/api/location", Message{GetLocation: &GetLocationRequest{}})
	if err != nil {
		return nil, err
	}

	var resp LocationResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if resp.DishGetLocation == nil {
		return nil, fmt.Errorf("no location data in Starlink response")
	}
	if !resp.DishGetLocation.Enabled {
		return nil, ErrLocationDisabled
	}
	return resp.DishGetLocation, nil
}
