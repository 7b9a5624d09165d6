package arcgis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client fetches a feature layer query from an ArcGIS REST endpoint.
// It implements pipeline.FeedSource.
type Client struct {
	http   *resty.Client
	url    string
	logger *slog.Logger
}

// NewClient creates a client for the full query URL. Requests that fail at
// the transport level or with a 5xx status are retried up to retries times.
func NewClient(url string, timeout time.Duration, retries int, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetRetryCount(retries).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= http.StatusInternalServerError
		})

	return &Client{http: httpClient, url: url, logger: logger}
}

// Fetch returns the response body of one query.
func (c *Client) Fetch(ctx context.Context) ([]byte, error) {
	start := time.Now()
	resp, err := c.http.R().SetContext(ctx).Get(c.url)
	if err != nil {
		return nil, fmt.Errorf("arcgis request: %w", err)
	}

	c.logger.Debug("arcgis response",
		"status", resp.StatusCode(),
		"bytes", len(resp.Body()),
		"attempts", resp.Request.Attempt,
		"duration", time.Since(start),
	)

	if resp.IsError() {
		return nil, fmt.Errorf("arcgis API error: status %d: %s", resp.StatusCode(), truncate(resp.Body(), 512))
	}

	body := resp.Body()
	if err := checkServiceError(body); err != nil {
		return nil, err
	}
	return body, nil
}

// Source names the endpoint for logs.
func (c *Client) Source() string { return c.url }

// ArcGIS reports query errors with HTTP 200 and an error object in the body.
type serviceError struct {
	Error *struct {
		Code    int      `json:"code"`
		Message string   `json:"message"`
		Details []string `json:"details"`
	} `json:"error"`
}

func checkServiceError(body []byte) error {
	var se serviceError
	if err := json.Unmarshal(body, &se); err != nil {
		return fmt.Errorf("decode arcgis response: %w", err)
	}
	if se.Error != nil {
		return fmt.Errorf("arcgis service error %d: %s %v", se.Error.Code, se.Error.Message, se.Error.Details)
	}
	return nil
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
