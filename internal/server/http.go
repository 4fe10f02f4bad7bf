package server

import (
	"database/sql"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/rsclarke/gatehouse/internal/api"
	"github.com/rsclarke/gatehouse/internal/db"
	"github.com/rsclarke/gatehouse/internal/decision"
	"github.com/rsclarke/gatehouse/internal/events"
	"github.com/rsclarke/gatehouse/internal/hub"
	"github.com/rsclarke/gatehouse/internal/logging"
)

// PublicServer is the visitor-facing surface loaded by the decoy page.
type PublicServer struct {
	DB          *sql.DB
	Pipeline    *decision.Pipeline
	Hub         *hub.Hub
	CORSOrigins []string
	Logger      *zap.Logger
}

// Handler returns the HTTP handler for the public listener.
func (s *PublicServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/visitors/register", s.handleRegister)
	mux.HandleFunc("GET /api/visitors/{session_id}/status", s.handleStatus)
	mux.HandleFunc("GET /api/pages/default", func(w http.ResponseWriter, r *http.Request) {
		serveDefaultPage(w, s.DB, s.Logger)
	})
	mux.HandleFunc("GET /api/ws/visitor/{session_id}", s.handleVisitorWS)

	return cors(s.CORSOrigins, mux)
}

// ClientIP returns the first X-Forwarded-For entry, falling back to the
// connection's remote host.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *PublicServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterVisitorRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	v, err := s.Pipeline.Register(r.Context(), decision.RegisterRequest{
		SessionID:    req.SessionID,
		UserAgent:    req.UserAgent,
		ScreenWidth:  req.ScreenWidth,
		ScreenHeight: req.ScreenHeight,
		Timezone:     req.Timezone,
		Languages:    req.Languages,
		IP:           ClientIP(r),
	})
	if err != nil {
		writePipelineError(w, s.Logger, err)
		return
	}

	writeJSON(w, http.StatusOK, api.VisitorFrom(*v))
}

func (s *PublicServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	res, err := s.Pipeline.Status(r.Context(), r.PathValue("session_id"))
	if err != nil {
		writePipelineError(w, s.Logger, err)
		return
	}

	writeJSON(w, http.StatusOK, api.VisitorStatusResponse{
		Status:      string(res.Status),
		PageContent: res.Content,
	})
}

func (s *PublicServer) handleVisitorWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	if len(sessionID) > decision.MaxSessionIDLen {
		writeError(w, http.StatusBadRequest, "session id too long")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Debug("visitor upgrade failed", logging.SessionID(sessionID), zap.Error(err))
		return
	}

	c := newWSConn(conn)
	s.Hub.JoinVisitor(sessionID, c)
	s.Logger.Debug("visitor channel opened", logging.SessionID(sessionID), logging.RemoteIP(ClientIP(r)))
	s.Hub.BroadcastAdmins(events.OnlineEvent(sessionID, s.Hub.OnlineCount()))

	c.serve(s.Logger)

	if s.Hub.DetachVisitor(sessionID, c) {
		s.Logger.Debug("visitor channel closed", logging.SessionID(sessionID))
		s.Hub.BroadcastAdmins(events.OfflineEvent(sessionID, s.Hub.OnlineCount()))
	}
}

// defaultPageResponse is returned when no page is flagged as default.
type defaultPageResponse struct {
	Content *string `json:"content"`
}

func serveDefaultPage(w http.ResponseWriter, database *sql.DB, logger *zap.Logger) {
	p, err := db.GetDefaultPage(database)
	if err != nil {
		logger.Error("get default page failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if p == nil {
		writeJSON(w, http.StatusOK, defaultPageResponse{})
		return
	}
	writeJSON(w, http.StatusOK, api.PageFrom(*p, true))
}
