// Package client talks to the gatehouse admin API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rsclarke/gatehouse/internal/api"
)

type Client struct {
	BaseURL    string
	Password   string
	HTTPClient *http.Client
}

func NewClient(baseURL, password string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Password:   password,
		HTTPClient: http.DefaultClient,
	}
}

func (c *Client) ListVisitors(ctx context.Context) ([]api.Visitor, error) {
	var result []api.Visitor
	if err := c.do(ctx, "GET", "/api/visitors", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Approve approves a visitor. An empty pageID leaves page resolution to the server.
func (c *Client) Approve(ctx context.Context, id, pageID string) error {
	var body api.ApproveRequest
	if pageID != "" {
		body.PageID = &pageID
	}
	return c.do(ctx, "PUT", "/api/visitors/"+id+"/approve", body, nil)
}

func (c *Client) Block(ctx context.Context, id string) error {
	return c.do(ctx, "PUT", "/api/visitors/"+id+"/block", nil, nil)
}

func (c *Client) DeleteVisitor(ctx context.Context, id string) error {
	return c.do(ctx, "DELETE", "/api/visitors/"+id, nil, nil)
}

func (c *Client) ListPages(ctx context.Context) ([]api.Page, error) {
	var result []api.Page
	if err := c.do(ctx, "GET", "/api/pages", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) CreatePage(ctx context.Context, req api.CreatePageRequest) (*api.Page, error) {
	var result api.Page
	if err := c.do(ctx, "POST", "/api/pages", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) ListAlerts(ctx context.Context) ([]api.Alert, error) {
	var result []api.Alert
	if err := c.do(ctx, "GET", "/api/alerts", nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) ReadAllAlerts(ctx context.Context) error {
	return c.do(ctx, "PUT", "/api/alerts/read-all", nil, nil)
}

func (c *Client) Stats(ctx context.Context) (*api.StatsResponse, error) {
	var result api.StatsResponse
	if err := c.do(ctx, "GET", "/api/stats", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) NotifyTest(ctx context.Context) error {
	return c.do(ctx, "GET", "/api/notify/test", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.Password)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	hc := c.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return parseError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func parseError(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	var errResp api.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}
	return fmt.Errorf("%s", errResp.Error)
}
