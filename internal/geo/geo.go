// Package geo resolves a network address to an approximate location.
//
// Lookups are best-effort: every failure collapses to the Unknown record and
// is never reported to the caller.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultEndpoint is the ip-api.com JSON endpoint.
	DefaultEndpoint = "http://ip-api.com/json"
	// DefaultTimeout bounds the single lookup attempt.
	DefaultTimeout = 4 * time.Second

	fields      = "status,country,city,lat,lon,isp"
	maxBodySize = 1 << 16
)

// Location is the enrichment record attached to a visitor.
type Location struct {
	Country string
	City    string
	Lat     float64
	Lng     float64
	ISP     string
}

// Local is returned for loopback addresses without any lookup.
var Local = Location{Country: "Localhost", City: "Local", ISP: "Local"}

// Unknown is returned when a lookup fails for any reason.
var Unknown = Location{Country: "Unknown", City: "Unknown", ISP: "Unknown"}

// Locator resolves an address to a Location.
type Locator interface {
	Lookup(ctx context.Context, ip string) Location
}

// Client queries an ip-api compatible endpoint.
type Client struct {
	Endpoint string
	Timeout  time.Duration
	HTTP     *http.Client
	Logger   *zap.Logger
}

// NewClient returns a Client with defaults applied to empty values.
func NewClient(endpoint string, timeout time.Duration, logger *zap.Logger) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		Endpoint: strings.TrimSuffix(endpoint, "/"),
		Timeout:  timeout,
		HTTP:     &http.Client{Timeout: timeout},
		Logger:   logger,
	}
}

// IsLocal reports whether ip short-circuits to the Local record.
func IsLocal(ip string) bool {
	switch ip {
	case "", "127.0.0.1", "::1", "localhost":
		return true
	}
	return false
}

// Lookup resolves ip. It never fails; see Local and Unknown.
func (c *Client) Lookup(ctx context.Context, ip string) Location {
	if IsLocal(ip) {
		return Local
	}
	loc, err := c.lookup(ctx, ip)
	if err != nil {
		c.Logger.Debug("geolocation failed", zap.String("ip", ip), zap.Error(err))
		return Unknown
	}
	return loc
}

type response struct {
	Status  string      `json:"status"`
	Country string      `json:"country"`
	City    string      `json:"city"`
	Lat     json.Number `json:"lat"`
	Lon     json.Number `json:"lon"`
	ISP     string      `json:"isp"`
}

func (c *Client) lookup(ctx context.Context, ip string) (Location, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	u := fmt.Sprintf("%s/%s?fields=%s", c.Endpoint, url.PathEscape(ip), fields)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Location{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Location{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var r response
	dec := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize))
	dec.UseNumber()
	if err := dec.Decode(&r); err != nil {
		return Location{}, fmt.Errorf("decode response: %w", err)
	}
	if r.Status != "success" {
		return Location{}, fmt.Errorf("lookup status %q", r.Status)
	}

	return Location{
		Country: r.Country,
		City:    r.City,
		Lat:     number(r.Lat),
		Lng:     number(r.Lon),
		ISP:     r.ISP,
	}, nil
}

func number(n json.Number) float64 {
	f, err := n.Float64()
	if err != nil {
		return 0
	}
	return f
}
