package server

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rsclarke/gatehouse/internal/api"
	"github.com/rsclarke/gatehouse/internal/events"
)

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readEvent reads frames until one carries the wanted event kind.
func readEvent(t *testing.T, conn *websocket.Conn, kind events.Kind) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", kind, err)
		}
		var msg map[string]any
		if json.Unmarshal(data, &msg) != nil {
			continue
		}
		if msg["event"] == string(kind) {
			return msg
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAdminWS_RequiresToken(t *testing.T) {
	env := setupTestEnv(t)
	srv := httptest.NewServer(env.admin)
	t.Cleanup(srv.Close)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/api/ws/admin"), nil)
	if err == nil {
		t.Fatal("expected handshake failure without token")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Errorf("handshake response = %v, want 401", resp)
	}
}

func TestVisitorWS_RejectsLongSession(t *testing.T) {
	env := setupTestEnv(t)
	srv := httptest.NewServer(env.public)
	t.Cleanup(srv.Close)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/api/ws/visitor/"+strings.Repeat("x", 129)), nil)
	if err == nil {
		t.Fatal("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != 400 {
		t.Errorf("handshake response = %v, want 400", resp)
	}
}

func TestWS_PresenceAndApproval(t *testing.T) {
	env := setupTestEnv(t)
	public := httptest.NewServer(env.public)
	t.Cleanup(public.Close)
	admin := httptest.NewServer(env.admin)
	t.Cleanup(admin.Close)

	adminConn := dial(t, wsURL(admin, "/api/ws/admin?token="+testSecret))
	waitFor(t, "admin join", func() bool { return env.hub.AdminCount() == 1 })

	w := env.adminDo(t, "POST", "/api/pages", api.CreatePageRequest{Name: "Welcome", Content: "<p>hi</p>", IsDefault: true})
	if w.Code != 200 {
		t.Fatalf("create page: %d", w.Code)
	}
	w = env.publicDo(t, "POST", "/api/visitors/register", api.RegisterVisitorRequest{SessionID: "live", UserAgent: "Mozilla/5.0 (X11; Linux x86_64)"})
	v := decode[api.Visitor](t, w)

	created := readEvent(t, adminConn, events.KindNewVisitor)
	if visitor, _ := created["visitor"].(map[string]any); visitor["session_id"] != "live" {
		t.Errorf("new_visitor payload = %v", created)
	}

	visitorConn := dial(t, wsURL(public, "/api/ws/visitor/live"))
	online := readEvent(t, adminConn, events.KindVisitorOnline)
	if online["session_id"] != "live" || online["online_count"] != float64(1) {
		t.Errorf("visitor_online = %v", online)
	}

	if err := visitorConn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	_ = visitorConn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := visitorConn.ReadMessage()
	if err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if string(data) != "pong" {
		t.Errorf("reply = %q, want pong", data)
	}

	w = env.adminDo(t, "PUT", "/api/visitors/"+v.ID+"/approve", nil)
	if w.Code != 200 {
		t.Fatalf("approve: %d %s", w.Code, w.Body.String())
	}

	approved := readEvent(t, visitorConn, events.KindApproved)
	if approved["page_content"] != "<p>hi</p>" {
		t.Errorf("approved payload = %v", approved)
	}
	updated := readEvent(t, adminConn, events.KindVisitorUpdated)
	if updated["visitor_id"] != v.ID || updated["status"] != "approved" {
		t.Errorf("visitor_updated = %v", updated)
	}

	_ = visitorConn.Close()
	offline := readEvent(t, adminConn, events.KindVisitorOffline)
	if offline["session_id"] != "live" || offline["online_count"] != float64(0) {
		t.Errorf("visitor_offline = %v", offline)
	}
}

func TestWS_ReplacedVisitorConnection(t *testing.T) {
	env := setupTestEnv(t)
	public := httptest.NewServer(env.public)
	t.Cleanup(public.Close)

	first := dial(t, wsURL(public, "/api/ws/visitor/dup"))
	waitFor(t, "first join", func() bool { return env.hub.OnlineCount() == 1 })

	dial(t, wsURL(public, "/api/ws/visitor/dup"))

	_ = first.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}
	if n := env.hub.OnlineCount(); n != 1 {
		t.Errorf("online = %d after replacement, want 1", n)
	}
}

func TestWSConn_SendDoesNotBlockWhenBufferFull(t *testing.T) {
	c := &wsConn{send: make(chan []byte, 2), done: make(chan struct{})}

	for i := 0; i < 2; i++ {
		if err := c.Send(events.BlockedEvent()); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}
	if err := c.Send(events.BlockedEvent()); !errors.Is(err, errSendBufferFull) {
		t.Errorf("Send on full buffer = %v, want errSendBufferFull", err)
	}

	close(c.done)
	if err := c.Send(events.BlockedEvent()); !errors.Is(err, errConnClosed) {
		t.Errorf("Send after close = %v, want errConnClosed", err)
	}
}

func TestWS_StalledAdminIsDropped(t *testing.T) {
	env := setupTestEnv(t)
	admin := httptest.NewServer(env.admin)
	t.Cleanup(admin.Close)

	// The client never reads, so socket buffers fill and the server's
	// writer stalls.
	dial(t, wsURL(admin, "/api/ws/admin?token="+testSecret))
	waitFor(t, "admin join", func() bool { return env.hub.AdminCount() == 1 })

	payload := map[string]string{"event": "bulk", "data": strings.Repeat("x", 128<<10)}
	for i := 0; i < 1000 && env.hub.AdminCount() > 0; i++ {
		start := time.Now()
		env.hub.BroadcastAdmins(payload)
		if d := time.Since(start); d > time.Second {
			t.Fatalf("broadcast %d blocked for %v", i, d)
		}
	}
	if n := env.hub.AdminCount(); n != 0 {
		t.Errorf("stalled admin still registered (admins = %d)", n)
	}
}
