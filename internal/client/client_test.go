package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rsclarke/gatehouse/internal/api"
)

type recorded struct {
	method string
	path   string
	auth   string
	body   string
}

func newTestServer(t *testing.T, status int, resp string) (*httptest.Server, *[]recorded) {
	t.Helper()
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		calls = append(calls, recorded{r.Method, r.URL.Path, r.Header.Get("Authorization"), string(b)})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, resp)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestListVisitors(t *testing.T) {
	srv, calls := newTestServer(t, 200, `[{"id":"v1","session_id":"s1","status":"pending","is_bot":true}]`)
	c := NewClient(srv.URL+"/", "pw")

	list, err := c.ListVisitors(context.Background())
	if err != nil {
		t.Fatalf("ListVisitors failed: %v", err)
	}
	if len(list) != 1 || list[0].ID != "v1" || !list[0].IsBot {
		t.Errorf("visitors = %+v", list)
	}

	got := (*calls)[0]
	if got.method != "GET" || got.path != "/api/visitors" {
		t.Errorf("request = %s %s", got.method, got.path)
	}
	if got.auth != "Bearer pw" {
		t.Errorf("Authorization = %q", got.auth)
	}
}

func TestApprove(t *testing.T) {
	srv, calls := newTestServer(t, 200, `{"success":true}`)
	c := NewClient(srv.URL, "pw")

	if err := c.Approve(context.Background(), "v1", "p9"); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if err := c.Approve(context.Background(), "v2", ""); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	var withPage api.ApproveRequest
	if err := json.Unmarshal([]byte((*calls)[0].body), &withPage); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if withPage.PageID == nil || *withPage.PageID != "p9" {
		t.Errorf("page_id = %v, want p9", withPage.PageID)
	}
	if (*calls)[0].path != "/api/visitors/v1/approve" || (*calls)[0].method != "PUT" {
		t.Errorf("request = %s %s", (*calls)[0].method, (*calls)[0].path)
	}
	if strings.Contains((*calls)[1].body, "page_id") {
		t.Errorf("empty page id was sent: %s", (*calls)[1].body)
	}
}

func TestErrorResponse(t *testing.T) {
	srv, _ := newTestServer(t, 404, `{"error":"not found"}`)
	c := NewClient(srv.URL, "pw")

	err := c.Block(context.Background(), "missing")
	if err == nil || err.Error() != "not found" {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestErrorResponse_NonJSON(t *testing.T) {
	srv, _ := newTestServer(t, 502, `bad gateway`)
	c := NewClient(srv.URL, "pw")

	err := c.NotifyTest(context.Background())
	if err == nil || !strings.Contains(err.Error(), "status 502") {
		t.Errorf("err = %v", err)
	}
}

func TestStats(t *testing.T) {
	srv, _ := newTestServer(t, 200, `{"visitors":{"total":3,"online":1},"pentest":{"critical":2},"alerts":{"unread":4}}`)
	c := NewClient(srv.URL, "pw")

	st, err := c.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if st.Visitors.Total != 3 || st.Visitors.Online != 1 || st.Pentest.Critical != 2 || st.Alerts.Unread != 4 {
		t.Errorf("stats = %+v", st)
	}
}
