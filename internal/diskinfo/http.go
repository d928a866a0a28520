package diskinfo

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"github.com/zangezia/DLGuard/internal/config"
	"github.com/zangezia/DLGuard/pkg/models"
)

// HTTPClient talks to a disk info server over HTTP
type HTTPClient struct {
	resty   *resty.Client
	baseURL string
}

// NewHTTPClient creates a client for the server at cfg.BaseURL
func NewHTTPClient(cfg config.Client) *HTTPClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	r := resty.New().
		SetTimeout(timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		SetHeader("Accept", "application/json")

	// Retry on network errors and 5xx, never on ok=false replies
	r.AddRetryCondition(func(resp *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		return resp.StatusCode() >= 500
	})

	return &HTTPClient{
		resty:   r,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}
}

// Info implements Service
func (c *HTTPClient) Info(ctx context.Context, path string) (*models.DiskInfo, error) {
	body, status, err := c.get(ctx, "/info", map[string]string{"path": path})
	if err != nil {
		return nil, err
	}

	var info models.DiskInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, unavailable("malformed info reply (status %d): %v", status, err)
	}

	// A reply with neither ok nor an error, such as null or {}, is not an answer
	if !info.OK {
		if info.Error == "" {
			return nil, unavailable("malformed info reply (status %d)", status)
		}
		return nil, &ServiceError{Message: info.Error}
	}

	return &info, nil
}

// Check implements Service
func (c *HTTPClient) Check(ctx context.Context, size int64, path string) (*models.CheckResult, error) {
	body, status, err := c.get(ctx, "/check", map[string]string{
		"size": strconv.FormatInt(size, 10),
		"path": path,
	})
	if err != nil {
		return nil, err
	}

	var result models.CheckResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, unavailable("malformed check reply (status %d): %v", status, err)
	}

	if !result.OK && result.Error == "" {
		return nil, unavailable("malformed check reply (status %d)", status)
	}

	return &result, nil
}

// Ping reports whether the server answers
func (c *HTTPClient) Ping(ctx context.Context) error {
	_, _, err := c.get(ctx, "/ping", nil)
	return err
}

// get returns the body of 2xx and 4xx replies; 4xx carry ok=false payloads
func (c *HTTPClient) get(ctx context.Context, endpoint string, params map[string]string) ([]byte, int, error) {
	url := c.baseURL + endpoint

	resp, err := c.resty.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(url)
	if err != nil {
		return nil, 0, unavailable("GET %s: %v", url, err)
	}

	log.Debug().
		Str("url", url).
		Int("status", resp.StatusCode()).
		Dur("time", resp.Time()).
		Msg("Disk info request")

	if resp.StatusCode() >= http.StatusInternalServerError {
		return nil, resp.StatusCode(), unavailable("GET %s: HTTP %d", url, resp.StatusCode())
	}

	return resp.Body(), resp.StatusCode(), nil
}
