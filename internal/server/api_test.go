package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/rsclarke/gatehouse/internal/api"
	"github.com/rsclarke/gatehouse/internal/db"
)

func TestAuthMiddleware_MissingHeader(t *testing.T) {
	env := setupTestEnv(t)

	req := httptest.NewRequest("GET", "/api/visitors", nil)
	w := httptest.NewRecorder()
	env.admin.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", w.Code)
	}
	resp := decode[map[string]string](t, w)
	if resp["error"] != "unauthorized" {
		t.Errorf("expected error 'unauthorized', got %q", resp["error"])
	}
}

func TestAuthMiddleware_WrongSecret(t *testing.T) {
	env := setupTestEnv(t)

	req := httptest.NewRequest("GET", "/api/visitors", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	env.admin.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", w.Code)
	}
}

func TestAuthMiddleware_QueryToken(t *testing.T) {
	env := setupTestEnv(t)

	req := httptest.NewRequest("GET", "/api/stats?token="+testSecret, nil)
	w := httptest.NewRecorder()
	env.admin.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestLogin(t *testing.T) {
	env := setupTestEnv(t)

	tests := []struct {
		name     string
		password string
		want     int
	}{
		{"correct", testSecret, http.StatusOK},
		{"wrong", "nope", http.StatusUnauthorized},
		{"empty", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/auth/admin", jsonBody(t, api.AdminLoginRequest{Password: tt.password}))
			w := httptest.NewRecorder()
			env.admin.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestApproveServesDefaultPage(t *testing.T) {
	env := setupTestEnv(t)

	w := env.adminDo(t, "POST", "/api/pages", api.CreatePageRequest{Name: "Default", Content: "<h1>Default</h1>", IsDefault: true})
	if w.Code != http.StatusOK {
		t.Fatalf("create page: %d %s", w.Code, w.Body.String())
	}

	w = env.publicDo(t, "POST", "/api/visitors/register", api.RegisterVisitorRequest{
		SessionID: "S1", UserAgent: "python-requests/2.28.0", ScreenWidth: 800, ScreenHeight: 600,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("register: %d %s", w.Code, w.Body.String())
	}
	v := decode[api.Visitor](t, w)
	if !v.IsBot || v.Status != "pending" {
		t.Errorf("visitor = %+v, want bot pending", v)
	}
	if v.IP != "192.0.2.1" || v.City != "Amsterdam" {
		t.Errorf("ip/city = %s/%s", v.IP, v.City)
	}

	w = env.adminDo(t, "PUT", "/api/visitors/"+v.ID+"/approve", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("approve: %d %s", w.Code, w.Body.String())
	}

	w = env.publicDo(t, "GET", "/api/visitors/S1/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	st := decode[api.VisitorStatusResponse](t, w)
	if st.Status != "approved" || st.PageContent == nil || *st.PageContent != "<h1>Default</h1>" {
		t.Errorf("status = %+v", st)
	}
}

func TestBlockOmitsPageContent(t *testing.T) {
	env := setupTestEnv(t)

	w := env.publicDo(t, "POST", "/api/visitors/register", api.RegisterVisitorRequest{
		SessionID: "S2", UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0) Safari/605.1.15",
	})
	v := decode[api.Visitor](t, w)
	if v.IsBot {
		t.Errorf("browser flagged as bot")
	}

	w = env.adminDo(t, "PUT", "/api/visitors/"+v.ID+"/block", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("block: %d %s", w.Code, w.Body.String())
	}

	w = env.publicDo(t, "GET", "/api/visitors/S2/status", nil)
	body := w.Body.String()
	if !strings.Contains(body, `"status":"blocked"`) {
		t.Errorf("body = %s", body)
	}
	if strings.Contains(body, "page_content") {
		t.Errorf("blocked status must not carry page_content: %s", body)
	}
}

func TestVisitorNotFound(t *testing.T) {
	env := setupTestEnv(t)

	for _, tc := range []struct{ method, path string }{
		{"PUT", "/api/visitors/missing/approve"},
		{"PUT", "/api/visitors/missing/block"},
		{"DELETE", "/api/visitors/missing"},
	} {
		w := env.adminDo(t, tc.method, tc.path, nil)
		if w.Code != http.StatusNotFound {
			t.Errorf("%s %s = %d, want 404", tc.method, tc.path, w.Code)
		}
	}
}

func TestDeleteVisitorRemovesFromList(t *testing.T) {
	env := setupTestEnv(t)

	w := env.publicDo(t, "POST", "/api/visitors/register", api.RegisterVisitorRequest{SessionID: "gone", UserAgent: "Mozilla/5.0 (X11; Linux x86_64)"})
	v := decode[api.Visitor](t, w)

	w = env.adminDo(t, "DELETE", "/api/visitors/"+v.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: %d", w.Code)
	}

	w = env.adminDo(t, "GET", "/api/visitors", nil)
	list := decode[[]api.Visitor](t, w)
	if len(list) != 0 {
		t.Errorf("visitors after delete = %d, want 0", len(list))
	}
}

func TestApproveRejectsUnknownFields(t *testing.T) {
	env := setupTestEnv(t)

	w := env.adminDo(t, "PUT", "/api/visitors/x/approve", `{"page":"p"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestPages(t *testing.T) {
	env := setupTestEnv(t)

	w := env.adminDo(t, "POST", "/api/pages", api.CreatePageRequest{Name: "A", Content: "a", IsDefault: true})
	a := decode[api.Page](t, w)
	w = env.adminDo(t, "POST", "/api/pages", api.CreatePageRequest{Name: "B", Content: "b"})
	b := decode[api.Page](t, w)

	yes := true
	w = env.adminDo(t, "PUT", "/api/pages/"+b.ID, api.UpdatePageRequest{IsDefault: &yes})
	if w.Code != http.StatusOK {
		t.Fatalf("update: %d %s", w.Code, w.Body.String())
	}

	w = env.adminDo(t, "GET", "/api/pages", nil)
	pages := decode[[]api.Page](t, w)
	defaults := 0
	for _, p := range pages {
		if p.Content != nil {
			t.Errorf("listing includes content for %s", p.ID)
		}
		if p.IsDefault {
			defaults++
			if p.ID != b.ID {
				t.Errorf("default = %s, want %s", p.ID, b.ID)
			}
		}
	}
	if defaults != 1 {
		t.Errorf("default pages = %d, want 1", defaults)
	}

	w = env.adminDo(t, "GET", "/api/pages/"+a.ID, nil)
	got := decode[api.Page](t, w)
	if got.Content == nil || *got.Content != "a" {
		t.Errorf("page a content = %v", got.Content)
	}

	w = env.adminDo(t, "POST", "/api/pages", api.CreatePageRequest{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("create without name = %d, want 400", w.Code)
	}

	w = env.adminDo(t, "DELETE", "/api/pages/"+a.ID, nil)
	if w.Code != http.StatusOK {
		t.Errorf("delete = %d", w.Code)
	}
	w = env.adminDo(t, "GET", "/api/pages/"+a.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("get deleted = %d, want 404", w.Code)
	}
}

func TestAlerts(t *testing.T) {
	env := setupTestEnv(t)

	w := env.adminDo(t, "POST", "/api/alerts", api.CreateAlertRequest{Type: "system", Message: "hello", Severity: "critical"})
	if w.Code != http.StatusOK {
		t.Fatalf("create alert: %d %s", w.Code, w.Body.String())
	}
	a := decode[api.Alert](t, w)
	if a.Severity != "critical" || a.Read {
		t.Errorf("alert = %+v", a)
	}

	w = env.adminDo(t, "POST", "/api/alerts", api.CreateAlertRequest{Type: "system", Message: "x", Severity: "loud"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad severity = %d, want 400", w.Code)
	}

	w = env.adminDo(t, "PUT", "/api/alerts/"+a.ID+"/read", nil)
	if w.Code != http.StatusOK {
		t.Errorf("mark read = %d", w.Code)
	}
	w = env.adminDo(t, "PUT", "/api/alerts/missing/read", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("mark missing read = %d, want 404", w.Code)
	}
	w = env.adminDo(t, "PUT", "/api/alerts/read-all", nil)
	if w.Code != http.StatusOK {
		t.Errorf("read all = %d", w.Code)
	}

	w = env.adminDo(t, "GET", "/api/alerts", nil)
	alerts := decode[[]api.Alert](t, w)
	if len(alerts) != 1 || !alerts[0].Read {
		t.Errorf("alerts = %+v", alerts)
	}

	w = env.adminDo(t, "DELETE", "/api/alerts/"+a.ID, nil)
	if w.Code != http.StatusOK {
		t.Errorf("delete = %d", w.Code)
	}
}

func TestTargetDeleteCascades(t *testing.T) {
	env := setupTestEnv(t)

	w := env.adminDo(t, "POST", "/api/targets", api.TargetRequest{Host: "10.0.0.5", Ports: "22,443"})
	if w.Code != http.StatusOK {
		t.Fatalf("create target: %d %s", w.Code, w.Body.String())
	}
	target := decode[api.Target](t, w)
	if target.Status != "active" {
		t.Errorf("target status = %q, want active", target.Status)
	}

	w = env.adminDo(t, "POST", "/api/scans", api.CreateScanRequest{TargetID: target.ID, ScanType: "nmap"})
	if w.Code != http.StatusOK {
		t.Fatalf("create scan: %d %s", w.Code, w.Body.String())
	}
	scan := decode[api.Scan](t, w)
	if scan.CompletedAt != nil {
		t.Errorf("new scan has completed_at")
	}

	done := "completed"
	w = env.adminDo(t, "PUT", "/api/scans/"+scan.ID, api.UpdateScanRequest{Status: &done})
	scan = decode[api.Scan](t, w)
	if scan.CompletedAt == nil {
		t.Errorf("completed scan has no completed_at")
	}

	w = env.adminDo(t, "POST", "/api/vulnerabilities", api.VulnerabilityRequest{TargetID: target.ID, Title: "RCE", Severity: "Critical", CVSS: 9.8})
	if w.Code != http.StatusOK {
		t.Fatalf("create vulnerability: %d %s", w.Code, w.Body.String())
	}

	w = env.adminDo(t, "POST", "/api/scans", api.CreateScanRequest{TargetID: "missing", ScanType: "nmap"})
	if w.Code != http.StatusNotFound {
		t.Errorf("scan for missing target = %d, want 404", w.Code)
	}

	w = env.adminDo(t, "GET", "/api/stats", nil)
	stats := decode[api.StatsResponse](t, w)
	if stats.Pentest.Targets != 1 || stats.Pentest.Scans != 1 || stats.Pentest.Critical != 1 {
		t.Errorf("pentest stats = %+v", stats.Pentest)
	}

	w = env.adminDo(t, "DELETE", "/api/targets/"+target.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete target: %d", w.Code)
	}

	w = env.adminDo(t, "GET", "/api/scans?target_id="+target.ID, nil)
	if scans := decode[[]api.Scan](t, w); len(scans) != 0 {
		t.Errorf("scans after cascade = %d", len(scans))
	}
	w = env.adminDo(t, "GET", "/api/vulnerabilities?target_id="+target.ID, nil)
	if vulns := decode[[]api.Vulnerability](t, w); len(vulns) != 0 {
		t.Errorf("vulnerabilities after cascade = %d", len(vulns))
	}
}

func TestStatsCountsVisitors(t *testing.T) {
	env := setupTestEnv(t)

	env.publicDo(t, "POST", "/api/visitors/register", api.RegisterVisitorRequest{SessionID: "a", UserAgent: "curl/8.4.0"})
	env.publicDo(t, "POST", "/api/visitors/register", api.RegisterVisitorRequest{SessionID: "b", UserAgent: "Mozilla/5.0 (X11; Linux x86_64)"})
	env.pipeline.Wait()

	w := env.adminDo(t, "GET", "/api/stats", nil)
	stats := decode[api.StatsResponse](t, w)
	if stats.Visitors.Total != 2 || stats.Visitors.Pending != 2 || stats.Visitors.Bots != 1 {
		t.Errorf("visitor stats = %+v", stats.Visitors)
	}
	if stats.Alerts.Unread != 2 {
		t.Errorf("unread alerts = %d, want 2", stats.Alerts.Unread)
	}
	if stats.Visitors.Online != 0 {
		t.Errorf("online = %d, want 0", stats.Visitors.Online)
	}
}

func TestNotifyTest(t *testing.T) {
	env := setupTestEnv(t)

	w := env.adminDo(t, "GET", "/api/notify/test", nil)
	if w.Code != http.StatusOK {
		t.Errorf("notify test = %d", w.Code)
	}

	env.notifier.mu.Lock()
	env.notifier.err = errors.New("telegram: 401")
	env.notifier.mu.Unlock()

	w = env.adminDo(t, "GET", "/api/notify/test", nil)
	if w.Code != http.StatusBadGateway {
		t.Errorf("failing notify test = %d, want 502", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	env := setupTestEnv(t)

	req := httptest.NewRequest("OPTIONS", "/api/visitors", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	req.Header.Set("Access-Control-Request-Method", "PUT")
	w := httptest.NewRecorder()
	env.admin.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://ops.example.com" {
		t.Errorf("allow origin = %q", got)
	}

	req = httptest.NewRequest("OPTIONS", "/api/visitors", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Access-Control-Request-Method", "PUT")
	w = httptest.NewRecorder()
	env.admin.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("unexpected allow origin %q for unlisted origin", got)
	}
}

func TestSeededDefaultPageServed(t *testing.T) {
	env := setupTestEnv(t)

	w := env.publicDo(t, "GET", "/api/pages/default", nil)
	if strings.TrimSpace(w.Body.String()) != `{"content":null}` {
		t.Errorf("empty default = %s", w.Body.String())
	}

	if _, err := db.SeedDefaultPage(env.db, now()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	w = env.publicDo(t, "GET", "/api/pages/default", nil)
	p := decode[api.Page](t, w)
	if p.Name != db.DefaultPageName || p.Content == nil || !p.IsDefault {
		t.Errorf("default page = %+v", p)
	}
}

func TestUpdatedRecordGoneAnswers404(t *testing.T) {
	env := setupTestEnv(t)
	s := &APIServer{DB: env.db, Logger: zap.NewNop()}

	target := decode[api.Target](t, env.adminDo(t, "POST", "/api/targets", api.TargetRequest{Host: "10.0.0.9"}))
	vuln := decode[api.Vulnerability](t, env.adminDo(t, "POST", "/api/vulnerabilities",
		api.VulnerabilityRequest{TargetID: target.ID, Title: "XSS"}))

	if w := env.adminDo(t, "DELETE", "/api/targets/"+target.ID, nil); w.Code != http.StatusOK {
		t.Fatalf("delete target: %d", w.Code)
	}

	w := httptest.NewRecorder()
	s.writeTarget(w, target.ID)
	if w.Code != http.StatusNotFound {
		t.Errorf("target read-back = %d, want 404", w.Code)
	}

	w = httptest.NewRecorder()
	s.writeVulnerability(w, vuln.ID)
	if w.Code != http.StatusNotFound {
		t.Errorf("vulnerability read-back = %d, want 404", w.Code)
	}
	if resp := decode[map[string]string](t, w); resp["error"] != "vulnerability not found" {
		t.Errorf("error = %q", resp["error"])
	}

	w = env.adminDo(t, "PUT", "/api/targets/"+target.ID, api.TargetRequest{Host: "10.0.0.9"})
	if w.Code != http.StatusNotFound {
		t.Errorf("update deleted target = %d, want 404", w.Code)
	}
}
