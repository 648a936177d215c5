package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/oh-yeah-zzy/Hermes/internal/route"
)

// InstanceInfo is one service instance as reported by ServiceAtlas.
type InstanceInfo struct {
	InstanceID string `json:"instance_id"`
	BaseURL    string `json:"base_url"`
	Healthy    bool   `json:"healthy"`
}

// Registration describes this gateway to ServiceAtlas.
type Registration struct {
	ServiceID   string
	ServiceName string
	Host        string
	Port        int
}

// Client talks to the ServiceAtlas HTTP API. Transient fetch errors are
// retried with a short exponential backoff inside each call.
type Client struct {
	baseURL    string
	gatewayID  string
	httpClient *http.Client
	maxRetries uint64
}

// NewClient creates a ServiceAtlas client.
func NewClient(baseURL, gatewayID string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		gatewayID:  gatewayID,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: 2,
	}
}

// FetchRoutes retrieves the route listing for this gateway.
func (c *Client) FetchRoutes(ctx context.Context) ([]route.Definition, error) {
	var defs []route.Definition
	err := c.getJSON(ctx, c.baseURL+"/api/v1/gateway/routes", &defs)
	if err != nil {
		return nil, err
	}
	return defs, nil
}

// FetchInstances retrieves the instance set of a service.
func (c *Client) FetchInstances(ctx context.Context, serviceID string) ([]InstanceInfo, error) {
	var instances []InstanceInfo
	err := c.getJSON(ctx, c.baseURL+"/api/v1/services/"+serviceID+"/instances", &instances)
	if err != nil {
		return nil, err
	}
	return instances, nil
}

// getJSON performs a GET with retry and decodes the 200 body into out.
func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("X-Gateway-ID", c.gatewayID)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, resp.Body)
			err := fmt.Errorf("registry returned HTTP %d for %s", resp.StatusCode, url)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			return err
		}

		return json.NewDecoder(resp.Body).Decode(out)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 2 * time.Second
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, c.maxRetries), ctx))
}

// Register announces the gateway to ServiceAtlas. An existing registration
// (409) is updated in place.
func (c *Client) Register(ctx context.Context, reg Registration) error {
	payload := map[string]interface{}{
		"id":                reg.ServiceID,
		"name":              reg.ServiceName,
		"host":              reg.Host,
		"port":              reg.Port,
		"protocol":          "http",
		"health_check_path": "/health",
		"is_gateway":        true,
		"service_meta": map[string]interface{}{
			"type":     "api_gateway",
			"features": []string{"routing", "load_balancing", "rate_limiting", "circuit_breaker"},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	resp, err := c.send(ctx, http.MethodPost, c.baseURL+"/api/v1/services", body)
	if err != nil {
		return err
	}
	switch resp {
	case http.StatusOK, http.StatusCreated:
		return nil
	case http.StatusConflict:
		resp, err = c.send(ctx, http.MethodPut, c.baseURL+"/api/v1/services/"+reg.ServiceID, body)
		if err != nil {
			return err
		}
		if resp == http.StatusOK {
			return nil
		}
	}
	return fmt.Errorf("registration rejected with HTTP %d", resp)
}

// Heartbeat refreshes this gateway's liveness in ServiceAtlas.
func (c *Client) Heartbeat(ctx context.Context) error {
	status, err := c.send(ctx, http.MethodPost, c.baseURL+"/api/v1/services/"+c.gatewayID+"/heartbeat", nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("heartbeat rejected with HTTP %d", status)
	}
	return nil
}

// Deregister removes this gateway from ServiceAtlas.
func (c *Client) Deregister(ctx context.Context) error {
	_, err := c.send(ctx, http.MethodDelete, c.baseURL+"/api/v1/services/"+c.gatewayID, nil)
	return err
}

func (c *Client) send(ctx context.Context, method, url string, body []byte) (int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Gateway-ID", c.gatewayID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode, nil
}
