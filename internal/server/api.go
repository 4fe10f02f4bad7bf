// Package server implements the public visitor surface, the admin API and
// their WebSocket channels.
package server

import (
	"database/sql"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rsclarke/gatehouse/internal/api"
	"github.com/rsclarke/gatehouse/internal/auth"
	"github.com/rsclarke/gatehouse/internal/db"
	"github.com/rsclarke/gatehouse/internal/decision"
	"github.com/rsclarke/gatehouse/internal/hub"
	"github.com/rsclarke/gatehouse/internal/logging"
	"github.com/rsclarke/gatehouse/internal/models"
	"github.com/rsclarke/gatehouse/internal/notify"
)

// APIServer handles the operator API and the admin channel.
type APIServer struct {
	DB          *sql.DB
	Pipeline    *decision.Pipeline
	Hub         *hub.Hub
	Verifier    *auth.Verifier
	Notifier    notify.Notifier
	CORSOrigins []string
	Logger      *zap.Logger
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// AuthMiddleware checks the shared secret on protected routes.
func (s *APIServer) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.Verifier.Verify(auth.FromRequest(r)) {
			s.Logger.Debug("unauthorized request", logging.Method(r.Method), logging.Path(r.URL.Path), logging.RemoteIP(ClientIP(r)))
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Handler returns the HTTP handler for the admin listener.
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/visitors", s.handleListVisitors)
	mux.HandleFunc("PUT /api/visitors/{id}/approve", s.handleApprove)
	mux.HandleFunc("PUT /api/visitors/{id}/block", s.handleBlock)
	mux.HandleFunc("DELETE /api/visitors/{id}", s.handleDeleteVisitor)

	mux.HandleFunc("GET /api/pages", s.handleListPages)
	mux.HandleFunc("GET /api/pages/default", func(w http.ResponseWriter, r *http.Request) {
		serveDefaultPage(w, s.DB, s.Logger)
	})
	mux.HandleFunc("GET /api/pages/{id}", s.handleGetPage)
	mux.HandleFunc("POST /api/pages", s.handleCreatePage)
	mux.HandleFunc("PUT /api/pages/{id}", s.handleUpdatePage)
	mux.HandleFunc("DELETE /api/pages/{id}", s.handleDeletePage)

	mux.HandleFunc("GET /api/alerts", s.handleListAlerts)
	mux.HandleFunc("POST /api/alerts", s.handleCreateAlert)
	mux.HandleFunc("PUT /api/alerts/read-all", s.handleReadAllAlerts)
	mux.HandleFunc("PUT /api/alerts/{id}/read", s.handleReadAlert)
	mux.HandleFunc("DELETE /api/alerts/{id}", s.handleDeleteAlert)

	mux.HandleFunc("GET /api/targets", s.handleListTargets)
	mux.HandleFunc("GET /api/targets/{id}", s.handleGetTarget)
	mux.HandleFunc("POST /api/targets", s.handleCreateTarget)
	mux.HandleFunc("PUT /api/targets/{id}", s.handleUpdateTarget)
	mux.HandleFunc("DELETE /api/targets/{id}", s.handleDeleteTarget)

	mux.HandleFunc("GET /api/scans", s.handleListScans)
	mux.HandleFunc("POST /api/scans", s.handleCreateScan)
	mux.HandleFunc("PUT /api/scans/{id}", s.handleUpdateScan)
	mux.HandleFunc("DELETE /api/scans/{id}", s.handleDeleteScan)

	mux.HandleFunc("GET /api/vulnerabilities", s.handleListVulnerabilities)
	mux.HandleFunc("POST /api/vulnerabilities", s.handleCreateVulnerability)
	mux.HandleFunc("PUT /api/vulnerabilities/{id}", s.handleUpdateVulnerability)
	mux.HandleFunc("DELETE /api/vulnerabilities/{id}", s.handleDeleteVulnerability)

	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/notify/test", s.handleNotifyTest)
	mux.HandleFunc("GET /api/ws/admin", s.handleAdminWS)

	root := http.NewServeMux()
	root.HandleFunc("POST /api/auth/admin", s.handleLogin)
	root.Handle("/", s.AuthMiddleware(mux))

	return cors(s.CORSOrigins, root)
}

func (s *APIServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req api.AdminLoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !s.Verifier.Verify(req.Password) {
		s.Logger.Info("admin login rejected", logging.RemoteIP(ClientIP(r)))
		writeError(w, http.StatusUnauthorized, "invalid password")
		return
	}
	writeJSON(w, http.StatusOK, api.SuccessResponse{Success: true})
}

func (s *APIServer) handleListVisitors(w http.ResponseWriter, r *http.Request) {
	list, err := s.Pipeline.List(r.Context())
	if err != nil {
		writePipelineError(w, s.Logger, err)
		return
	}

	resp := make([]api.Visitor, 0, len(list))
	for _, v := range list {
		resp = append(resp, api.VisitorFrom(v))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *APIServer) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req api.ApproveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if _, err := s.Pipeline.Approve(r.Context(), r.PathValue("id"), req.PageID); err != nil {
		writePipelineError(w, s.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, api.SuccessResponse{Success: true})
}

func (s *APIServer) handleBlock(w http.ResponseWriter, r *http.Request) {
	if _, err := s.Pipeline.Block(r.Context(), r.PathValue("id")); err != nil {
		writePipelineError(w, s.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, api.SuccessResponse{Success: true})
}

func (s *APIServer) handleDeleteVisitor(w http.ResponseWriter, r *http.Request) {
	if err := s.Pipeline.Delete(r.Context(), r.PathValue("id")); err != nil {
		writePipelineError(w, s.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, api.SuccessResponse{Success: true})
}

func (s *APIServer) handleListPages(w http.ResponseWriter, r *http.Request) {
	pages, err := db.ListPages(s.DB, db.PageListLimit)
	if err != nil {
		s.dbError(w, err)
		return
	}

	resp := make([]api.Page, 0, len(pages))
	for _, p := range pages {
		resp = append(resp, api.PageFrom(p, false))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *APIServer) handleGetPage(w http.ResponseWriter, r *http.Request) {
	p, err := db.GetPage(s.DB, r.PathValue("id"))
	if err != nil {
		s.dbError(w, err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "page not found")
		return
	}
	writeJSON(w, http.StatusOK, api.PageFrom(*p, true))
}

func (s *APIServer) handleCreatePage(w http.ResponseWriter, r *http.Request) {
	var req api.CreatePageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}

	ts := now()
	p := &models.Page{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Content:   req.Content,
		IsDefault: req.IsDefault,
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	if err := db.CreatePage(s.DB, p); err != nil {
		s.dbError(w, err)
		return
	}

	s.Logger.Info("page created", logging.PageID(p.ID), zap.Bool("default", p.IsDefault))
	s.Pipeline.Notify(r.Context(), notify.Message{}, decision.AlertTypeSystem,
		fmt.Sprintf("New page created: %s", p.Name), models.SeverityInfo)

	writeJSON(w, http.StatusOK, api.PageFrom(*p, true))
}

func (s *APIServer) handleUpdatePage(w http.ResponseWriter, r *http.Request) {
	var req api.UpdatePageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	p, err := db.UpdatePage(s.DB, r.PathValue("id"), db.PageUpdate{
		Name:      req.Name,
		Content:   req.Content,
		IsDefault: req.IsDefault,
	}, now())
	if err != nil {
		s.dbError(w, err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "page not found")
		return
	}
	writeJSON(w, http.StatusOK, api.PageFrom(*p, true))
}

func (s *APIServer) handleDeletePage(w http.ResponseWriter, r *http.Request) {
	s.byID(w, r, "page", db.DeletePage)
}

func (s *APIServer) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := db.ListAlerts(s.DB, db.AlertListLimit)
	if err != nil {
		s.dbError(w, err)
		return
	}

	resp := make([]api.Alert, 0, len(alerts))
	for _, a := range alerts {
		resp = append(resp, api.AlertFrom(a))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *APIServer) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var req api.CreateAlertRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	a, err := s.Pipeline.RaiseAlert(r.Context(), req.Type, req.Message, models.Severity(req.Severity))
	if err != nil {
		writePipelineError(w, s.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, api.AlertFrom(*a))
}

func (s *APIServer) handleReadAllAlerts(w http.ResponseWriter, r *http.Request) {
	if _, err := db.MarkAllAlertsRead(s.DB); err != nil {
		s.dbError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.SuccessResponse{Success: true})
}

func (s *APIServer) handleReadAlert(w http.ResponseWriter, r *http.Request) {
	s.byID(w, r, "alert", db.MarkAlertRead)
}

func (s *APIServer) handleDeleteAlert(w http.ResponseWriter, r *http.Request) {
	s.byID(w, r, "alert", db.DeleteAlert)
}

func (s *APIServer) handleListTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := db.ListTargets(s.DB, db.TargetListLimit)
	if err != nil {
		s.dbError(w, err)
		return
	}

	resp := make([]api.Target, 0, len(targets))
	for _, t := range targets {
		resp = append(resp, api.TargetFrom(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *APIServer) handleGetTarget(w http.ResponseWriter, r *http.Request) {
	s.writeTarget(w, r.PathValue("id"))
}

// writeTarget answers with the stored target, or 404 when it is gone.
func (s *APIServer) writeTarget(w http.ResponseWriter, id string) {
	t, err := db.GetTarget(s.DB, id)
	if err != nil {
		s.dbError(w, err)
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, "target not found")
		return
	}
	writeJSON(w, http.StatusOK, api.TargetFrom(*t))
}

func targetFromRequest(id string, req api.TargetRequest) (*models.Target, string) {
	if strings.TrimSpace(req.Host) == "" {
		return nil, "host required"
	}
	status := req.Status
	if status == "" {
		status = "active"
	}
	return &models.Target{
		ID:          id,
		Host:        req.Host,
		Description: req.Description,
		Ports:       req.Ports,
		Status:      status,
	}, ""
}

func (s *APIServer) handleCreateTarget(w http.ResponseWriter, r *http.Request) {
	var req api.TargetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	t, msg := targetFromRequest(uuid.NewString(), req)
	if t == nil {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	t.CreatedAt = now()

	if err := db.CreateTarget(s.DB, t); err != nil {
		s.dbError(w, err)
		return
	}

	s.Pipeline.Notify(r.Context(), notify.Message{
		Kind: "target",
		Text: fmt.Sprintf("<b>New Pentest Target</b>\nHost: <code>%s</code>\nDesc: %s",
			html.EscapeString(t.Host), html.EscapeString(t.Description)),
	}, decision.AlertTypePentest, fmt.Sprintf("New target: %s", t.Host), models.SeverityWarning)

	writeJSON(w, http.StatusOK, api.TargetFrom(*t))
}

func (s *APIServer) handleUpdateTarget(w http.ResponseWriter, r *http.Request) {
	var req api.TargetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	t, msg := targetFromRequest(r.PathValue("id"), req)
	if t == nil {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	ok, err := db.UpdateTarget(s.DB, t)
	if err != nil {
		s.dbError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "target not found")
		return
	}

	s.writeTarget(w, t.ID)
}

func (s *APIServer) handleDeleteTarget(w http.ResponseWriter, r *http.Request) {
	s.byID(w, r, "target", db.DeleteTarget)
}

func (s *APIServer) handleListScans(w http.ResponseWriter, r *http.Request) {
	scans, err := db.ListScans(s.DB, r.URL.Query().Get("target_id"), db.ScanListLimit)
	if err != nil {
		s.dbError(w, err)
		return
	}

	resp := make([]api.Scan, 0, len(scans))
	for _, sc := range scans {
		resp = append(resp, api.ScanFrom(sc))
	}
	writeJSON(w, http.StatusOK, resp)
}

// requireTarget writes a 404 and returns false when targetID does not exist.
func (s *APIServer) requireTarget(w http.ResponseWriter, targetID string) bool {
	t, err := db.GetTarget(s.DB, targetID)
	if err != nil {
		s.dbError(w, err)
		return false
	}
	if t == nil {
		writeError(w, http.StatusNotFound, "target not found")
		return false
	}
	return true
}

func (s *APIServer) handleCreateScan(w http.ResponseWriter, r *http.Request) {
	var req api.CreateScanRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.TargetID == "" || req.ScanType == "" {
		writeError(w, http.StatusBadRequest, "target_id and scan_type required")
		return
	}
	if !s.requireTarget(w, req.TargetID) {
		return
	}

	status := req.Status
	if status == "" {
		status = "pending"
	}
	sc := &models.Scan{
		ID:        uuid.NewString(),
		TargetID:  req.TargetID,
		ScanType:  req.ScanType,
		Status:    status,
		Results:   req.Results,
		Notes:     req.Notes,
		StartedAt: now(),
	}
	if sc.Status == db.ScanStatusCompleted {
		completed := sc.StartedAt
		sc.CompletedAt = &completed
	}
	if err := db.CreateScan(s.DB, sc); err != nil {
		s.dbError(w, err)
		return
	}

	s.Pipeline.Notify(r.Context(), notify.Message{}, decision.AlertTypePentest,
		fmt.Sprintf("New %s scan initiated", sc.ScanType), models.SeverityWarning)

	writeJSON(w, http.StatusOK, api.ScanFrom(*sc))
}

func (s *APIServer) handleUpdateScan(w http.ResponseWriter, r *http.Request) {
	var req api.UpdateScanRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	sc, err := db.UpdateScan(s.DB, r.PathValue("id"), db.ScanUpdate{
		ScanType: req.ScanType,
		Status:   req.Status,
		Results:  req.Results,
		Notes:    req.Notes,
	}, now())
	if err != nil {
		s.dbError(w, err)
		return
	}
	if sc == nil {
		writeError(w, http.StatusNotFound, "scan not found")
		return
	}
	writeJSON(w, http.StatusOK, api.ScanFrom(*sc))
}

func (s *APIServer) handleDeleteScan(w http.ResponseWriter, r *http.Request) {
	s.byID(w, r, "scan", db.DeleteScan)
}

func (s *APIServer) handleListVulnerabilities(w http.ResponseWriter, r *http.Request) {
	vulns, err := db.ListVulnerabilities(s.DB, r.URL.Query().Get("target_id"), db.VulnerabilityListLimit)
	if err != nil {
		s.dbError(w, err)
		return
	}

	resp := make([]api.Vulnerability, 0, len(vulns))
	for _, v := range vulns {
		resp = append(resp, api.VulnerabilityFrom(v))
	}
	writeJSON(w, http.StatusOK, resp)
}

func vulnerabilityFromRequest(id string, req api.VulnerabilityRequest) (*models.Vulnerability, string) {
	if req.TargetID == "" || strings.TrimSpace(req.Title) == "" {
		return nil, "target_id and title required"
	}
	if req.CVSS < 0 || req.CVSS > 10 {
		return nil, "cvss must be between 0 and 10"
	}
	v := &models.Vulnerability{
		ID:          id,
		TargetID:    req.TargetID,
		Title:       req.Title,
		Severity:    strings.ToLower(req.Severity),
		Description: req.Description,
		CVSS:        req.CVSS,
		Status:      req.Status,
	}
	if v.Severity == "" {
		v.Severity = "medium"
	}
	if v.Status == "" {
		v.Status = "open"
	}
	return v, ""
}

func (s *APIServer) handleCreateVulnerability(w http.ResponseWriter, r *http.Request) {
	var req api.VulnerabilityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	v, msg := vulnerabilityFromRequest(uuid.NewString(), req)
	if v == nil {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if !s.requireTarget(w, v.TargetID) {
		return
	}
	v.CreatedAt = now()

	if err := db.CreateVulnerability(s.DB, v); err != nil {
		s.dbError(w, err)
		return
	}

	severity := models.SeverityWarning
	if v.Severity == "critical" || v.Severity == "high" {
		severity = models.SeverityCritical
	}
	upper := strings.ToUpper(v.Severity)
	s.Pipeline.Notify(r.Context(), notify.Message{
		Kind: "vulnerability",
		Text: fmt.Sprintf("<b>Vulnerability Found</b>\nSeverity: %s\nTitle: %s",
			html.EscapeString(upper), html.EscapeString(v.Title)),
	}, decision.AlertTypePentest, fmt.Sprintf("[%s] %s", upper, v.Title), severity)

	writeJSON(w, http.StatusOK, api.VulnerabilityFrom(*v))
}

func (s *APIServer) handleUpdateVulnerability(w http.ResponseWriter, r *http.Request) {
	var req api.VulnerabilityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	v, msg := vulnerabilityFromRequest(r.PathValue("id"), req)
	if v == nil {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if !s.requireTarget(w, v.TargetID) {
		return
	}

	ok, err := db.UpdateVulnerability(s.DB, v)
	if err != nil {
		s.dbError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "vulnerability not found")
		return
	}

	s.writeVulnerability(w, v.ID)
}

// writeVulnerability answers with the stored finding, or 404 when it is gone.
func (s *APIServer) writeVulnerability(w http.ResponseWriter, id string) {
	v, err := db.GetVulnerability(s.DB, id)
	if err != nil {
		s.dbError(w, err)
		return
	}
	if v == nil {
		writeError(w, http.StatusNotFound, "vulnerability not found")
		return
	}
	writeJSON(w, http.StatusOK, api.VulnerabilityFrom(*v))
}

func (s *APIServer) handleDeleteVulnerability(w http.ResponseWriter, r *http.Request) {
	s.byID(w, r, "vulnerability", db.DeleteVulnerability)
}

func (s *APIServer) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := db.GetStats(s.DB)
	if err != nil {
		s.dbError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, api.StatsResponse{
		Visitors: api.VisitorStats{
			Total:    st.Visitors,
			Pending:  st.Pending,
			Approved: st.Approved,
			Blocked:  st.Blocked,
			Bots:     st.Bots,
			Online:   s.Hub.OnlineCount(),
		},
		Pentest: api.PentestStats{
			Targets:         st.Targets,
			ActiveTargets:   st.ActiveTargets,
			Scans:           st.Scans,
			Vulnerabilities: st.Vulnerabilities,
			Critical:        st.Critical,
		},
		Alerts: api.AlertStats{Unread: st.UnreadAlerts},
	})
}

func (s *APIServer) handleNotifyTest(w http.ResponseWriter, r *http.Request) {
	err := s.Notifier.Send(r.Context(), notify.Message{
		Kind: "test",
		Text: "<b>Test Notification</b>\nGatehouse operator console: connection verified.",
	})
	if err != nil {
		s.Logger.Warn("test notification failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, api.SuccessResponse{Success: true})
}

func (s *APIServer) handleAdminWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Debug("admin upgrade failed", zap.Error(err))
		return
	}

	c := newWSConn(conn)
	s.Hub.JoinAdmin(c)
	defer s.Hub.LeaveAdmin(c)

	s.Logger.Debug("admin channel opened", logging.RemoteIP(ClientIP(r)))
	c.serve(s.Logger)
}

// byID runs op against the {id} path value and answers 404 when nothing matched.
func (s *APIServer) byID(w http.ResponseWriter, r *http.Request, kind string, op func(*sql.DB, string) (bool, error)) {
	ok, err := op(s.DB, r.PathValue("id"))
	if err != nil {
		s.dbError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, kind+" not found")
		return
	}
	writeJSON(w, http.StatusOK, api.SuccessResponse{Success: true})
}

func (s *APIServer) dbError(w http.ResponseWriter, err error) {
	s.Logger.Error("database error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "database error")
}
