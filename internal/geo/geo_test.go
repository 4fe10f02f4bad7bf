package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestLookupLocalSkipsNetwork(t *testing.T) {
	srv, calls := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s", r.URL)
	})
	c := NewClient(srv.URL, time.Second, zaptest.NewLogger(t))

	for _, ip := range []string{"127.0.0.1", "::1", "localhost", ""} {
		assert.Equal(t, Local, c.Lookup(context.Background(), ip), "ip %q", ip)
	}
	assert.Zero(t, calls.Load())
}

func TestLookupSuccess(t *testing.T) {
	srv, calls := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/203.0.113.7", r.URL.Path)
		assert.Equal(t, "status,country,city,lat,lon,isp", r.URL.Query().Get("fields"))
		w.Write([]byte(`{"status":"success","country":"Germany","city":"Berlin","lat":52.52,"lon":13,"isp":"Example ISP"}`))
	})
	c := NewClient(srv.URL+"/", time.Second, zaptest.NewLogger(t))

	loc := c.Lookup(context.Background(), "203.0.113.7")
	assert.Equal(t, Location{Country: "Germany", City: "Berlin", Lat: 52.52, Lng: 13, ISP: "Example ISP"}, loc)
	assert.EqualValues(t, 1, calls.Load())
}

func TestLookupFailuresFallBackToUnknown(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"non-success status", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status":"fail","message":"reserved range"}`))
		}},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`not json`))
		}},
		{"http error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}},
		{"timeout", func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, tt.handler)
			c := NewClient(srv.URL, 100*time.Millisecond, zaptest.NewLogger(t))
			assert.Equal(t, Unknown, c.Lookup(context.Background(), "198.51.100.1"))
		})
	}
}

func TestLookupUnreachableEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(url, 200*time.Millisecond, nil)
	require.NotNil(t, c.Logger)
	assert.Equal(t, Unknown, c.Lookup(context.Background(), "198.51.100.2"))
}

func TestNewClientDefaults(t *testing.T) {
	c := NewClient("", 0, nil)
	assert.Equal(t, DefaultEndpoint, c.Endpoint)
	assert.Equal(t, DefaultTimeout, c.Timeout)
}
