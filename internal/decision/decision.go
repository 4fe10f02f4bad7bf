// Package decision turns visitor beacons and operator verdicts into stored
// state, hub events and outbound notifications.
package decision

import (
	"context"
	"errors"
	"fmt"
	"html"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rsclarke/gatehouse/internal/api"
	"github.com/rsclarke/gatehouse/internal/classify"
	"github.com/rsclarke/gatehouse/internal/events"
	"github.com/rsclarke/gatehouse/internal/geo"
	"github.com/rsclarke/gatehouse/internal/logging"
	"github.com/rsclarke/gatehouse/internal/models"
	"github.com/rsclarke/gatehouse/internal/notify"
)

const (
	// MaxSessionIDLen bounds the client supplied session identity.
	MaxSessionIDLen = 128
	// ListLimit caps visitor listings.
	ListLimit = 500
	// DefaultSideEffectTimeout bounds each notification and alert task.
	DefaultSideEffectTimeout = 10 * time.Second

	uaPreviewLen = 80
	botLabel     = " [BOT DETECTED]"
)

// Alert types raised by the pipeline.
const (
	AlertTypeVisitor = "visitor"
	AlertTypeSystem  = "system"
	AlertTypePentest = "pentest"
)

// ErrNotFound is returned when a visitor id or session is unknown.
var ErrNotFound = errors.New("not found")

// ValidationError reports a rejected request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Store is the persistence the pipeline needs. Lookups return nil, nil for
// a missing record.
type Store interface {
	VisitorByID(ctx context.Context, id string) (*models.Visitor, error)
	VisitorBySession(ctx context.Context, sessionID string) (*models.Visitor, error)
	CreateVisitor(ctx context.Context, v *models.Visitor) (bool, error)
	TouchVisitor(ctx context.Context, id string, at time.Time) error
	SetVisitorStatus(ctx context.Context, id string, status models.Status, pageID *string, at time.Time) (bool, error)
	DeleteVisitor(ctx context.Context, id string) (bool, error)
	ListVisitors(ctx context.Context, limit int) ([]models.Visitor, error)
	Page(ctx context.Context, id string) (*models.Page, error)
	DefaultPage(ctx context.Context) (*models.Page, error)
	CreateAlert(ctx context.Context, a *models.Alert) error
}

// Broadcaster delivers events to admin and visitor channels.
type Broadcaster interface {
	BroadcastAdmins(v any) int
	NotifyVisitor(sessionID string, v any) bool
}

// RegisterRequest is a beacon from the decoy page plus the caller address.
type RegisterRequest struct {
	SessionID    string
	UserAgent    string
	ScreenWidth  int
	ScreenHeight int
	Timezone     string
	Languages    string
	IP           string
}

// StatusResult is what a visitor polling for a verdict sees. Content is set
// only for approved visitors with a resolvable page.
type StatusResult struct {
	Status  models.Status
	Content *string
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithSideEffectTimeout bounds each background notification and alert task.
func WithSideEffectTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// Pipeline implements visitor registration and operator decisions.
type Pipeline struct {
	store    Store
	locator  geo.Locator
	notifier notify.Notifier
	hub      Broadcaster
	logger   *zap.Logger
	now      func() time.Time
	timeout  time.Duration
	wg       sync.WaitGroup
}

// New creates a Pipeline. A nil notifier disables outbound notifications.
func New(store Store, locator geo.Locator, notifier notify.Notifier, hub Broadcaster, logger *zap.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	p := &Pipeline{
		store:    store,
		locator:  locator,
		notifier: notifier,
		hub:      hub,
		logger:   logger.Named("decision"),
		now:      time.Now,
		timeout:  DefaultSideEffectTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) clock() time.Time {
	return p.now().UTC().Truncate(time.Millisecond)
}

func validate(req RegisterRequest) error {
	switch {
	case req.SessionID == "":
		return &ValidationError{Field: "session_id", Reason: "must not be empty"}
	case len(req.SessionID) > MaxSessionIDLen:
		return &ValidationError{Field: "session_id", Reason: fmt.Sprintf("longer than %d bytes", MaxSessionIDLen)}
	case req.ScreenWidth < 0 || req.ScreenHeight < 0:
		return &ValidationError{Field: "screen", Reason: "dimensions must not be negative"}
	}
	return nil
}

// Register records a visitor beacon. A known session only has its last-seen
// time refreshed and the stored record is returned as it was.
func (p *Pipeline) Register(ctx context.Context, req RegisterRequest) (*models.Visitor, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	existing, err := p.touchSession(ctx, req.SessionID)
	if err != nil || existing != nil {
		return existing, err
	}

	verdict := classify.Detect(req.UserAgent)
	loc := p.locator.Lookup(ctx, req.IP)
	now := p.clock()

	v := &models.Visitor{
		ID:        uuid.NewString(),
		SessionID: req.SessionID,
		IP:        req.IP,
		Country:   loc.Country,
		City:      loc.City,
		Lat:       loc.Lat,
		Lng:       loc.Lng,
		ISP:       loc.ISP,
		UserAgent: req.UserAgent,
		Screen:    fmt.Sprintf("%dx%d", req.ScreenWidth, req.ScreenHeight),
		Timezone:  req.Timezone,
		Languages: req.Languages,
		Status:    models.StatusPending,
		IsBot:     verdict.IsBot,
		BotScore:  verdict.Score,
		CreatedAt: now,
		LastSeen:  now,
	}
	created, err := p.store.CreateVisitor(ctx, v)
	if err != nil {
		return nil, fmt.Errorf("create visitor: %w", err)
	}
	if !created {
		// A concurrent beacon for the same session won the insert.
		existing, err := p.touchSession(ctx, req.SessionID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, fmt.Errorf("create visitor: session %q vanished after conflict", req.SessionID)
		}
		return existing, nil
	}

	fields := []zap.Field{logging.SessionID(v.SessionID), logging.VisitorID(v.ID), logging.RemoteIP(v.IP)}
	if verdict.IsBot {
		fields = append(fields, zap.String("pattern", classify.Match(req.UserAgent)), zap.Float64("bot_score", verdict.Score))
	}
	p.logger.Info("visitor registered", fields...)

	p.hub.BroadcastAdmins(events.NewVisitorEvent(api.VisitorFrom(*v)))

	label := ""
	severity := models.SeverityInfo
	if v.IsBot {
		label = botLabel
		severity = models.SeverityWarning
	}
	p.dispatch(ctx, notify.Message{
		Kind: "new_visitor",
		Text: fmt.Sprintf("<b>New Visitor%s</b>\nIP: <code>%s</code>\nLocation: %s, %s\nISP: %s\nUA: %s",
			label, esc(v.IP), esc(v.City), esc(v.Country), esc(v.ISP), esc(truncate(v.UserAgent, uaPreviewLen))),
	}, AlertTypeVisitor, fmt.Sprintf("New visitor from %s, %s (%s)%s", v.City, v.Country, v.IP, label), severity)

	return v, nil
}

// touchSession refreshes last_seen for a registered session and returns the
// stored record, or nil when the session is unknown.
func (p *Pipeline) touchSession(ctx context.Context, sessionID string) (*models.Visitor, error) {
	existing, err := p.store.VisitorBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("lookup session: %w", err)
	}
	if existing == nil {
		return nil, nil
	}
	if err := p.store.TouchVisitor(ctx, existing.ID, p.clock()); err != nil {
		return nil, fmt.Errorf("touch visitor: %w", err)
	}
	return existing, nil
}

// Approve admits a visitor and pushes the resolved page content to its
// channel. pageID, when set, is stored as the visitor's assignment.
func (p *Pipeline) Approve(ctx context.Context, id string, pageID *string) (*models.Visitor, error) {
	v, err := p.visitor(ctx, id)
	if err != nil {
		return nil, err
	}

	if pageID != nil && *pageID == "" {
		pageID = nil
	}
	if pageID != nil {
		v.PageID = pageID
	}

	content, err := p.resolveContent(ctx, v.PageID)
	if err != nil {
		return nil, err
	}

	now := p.clock()
	ok, err := p.store.SetVisitorStatus(ctx, v.ID, models.StatusApproved, pageID, now)
	if err != nil {
		return nil, fmt.Errorf("approve visitor: %w", err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	v.Status = models.StatusApproved
	v.LastSeen = now

	p.logger.Info("visitor approved", logging.VisitorID(v.ID), logging.SessionID(v.SessionID),
		zap.Bool("content", content != nil))

	p.hub.NotifyVisitor(v.SessionID, events.ApprovedEvent(content))
	p.hub.BroadcastAdmins(events.VisitorUpdatedEvent(v.ID, string(models.StatusApproved)))

	p.dispatch(ctx, notify.Message{
		Kind: "approved",
		Text: fmt.Sprintf("<b>Visitor Approved</b>\nIP: <code>%s</code>\nLocation: %s, %s", esc(v.IP), esc(v.City), esc(v.Country)),
	}, AlertTypeVisitor, fmt.Sprintf("Visitor %s approved", v.IP), models.SeverityInfo)

	return v, nil
}

// Block denies a visitor.
func (p *Pipeline) Block(ctx context.Context, id string) (*models.Visitor, error) {
	v, err := p.visitor(ctx, id)
	if err != nil {
		return nil, err
	}

	now := p.clock()
	ok, err := p.store.SetVisitorStatus(ctx, v.ID, models.StatusBlocked, nil, now)
	if err != nil {
		return nil, fmt.Errorf("block visitor: %w", err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	v.Status = models.StatusBlocked
	v.LastSeen = now

	p.logger.Info("visitor blocked", logging.VisitorID(v.ID), logging.SessionID(v.SessionID))

	p.hub.NotifyVisitor(v.SessionID, events.BlockedEvent())
	p.hub.BroadcastAdmins(events.VisitorUpdatedEvent(v.ID, string(models.StatusBlocked)))

	p.dispatch(ctx, notify.Message{
		Kind: "blocked",
		Text: fmt.Sprintf("<b>Visitor Blocked</b>\nIP: <code>%s</code>\nLocation: %s, %s", esc(v.IP), esc(v.City), esc(v.Country)),
	}, AlertTypeVisitor, fmt.Sprintf("Visitor %s blocked", v.IP), models.SeverityWarning)

	return v, nil
}

// Status reports the verdict for a session.
func (p *Pipeline) Status(ctx context.Context, sessionID string) (*StatusResult, error) {
	v, err := p.store.VisitorBySession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("lookup session: %w", err)
	}
	if v == nil {
		return nil, ErrNotFound
	}

	res := &StatusResult{Status: v.Status}
	if v.Status == models.StatusApproved {
		res.Content, err = p.resolveContent(ctx, v.PageID)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

// Delete removes a visitor record and tells admins. Unknown ids return ErrNotFound.
func (p *Pipeline) Delete(ctx context.Context, id string) error {
	ok, err := p.store.DeleteVisitor(ctx, id)
	if err != nil {
		return fmt.Errorf("delete visitor: %w", err)
	}
	if !ok {
		return ErrNotFound
	}

	p.logger.Info("visitor deleted", logging.VisitorID(id))
	p.hub.BroadcastAdmins(events.VisitorDeletedEvent(id))
	return nil
}

// List returns visitors newest first.
func (p *Pipeline) List(ctx context.Context) ([]models.Visitor, error) {
	list, err := p.store.ListVisitors(ctx, ListLimit)
	if err != nil {
		return nil, fmt.Errorf("list visitors: %w", err)
	}
	return list, nil
}

// RaiseAlert persists an alert and broadcasts it to admins.
func (p *Pipeline) RaiseAlert(ctx context.Context, alertType, message string, severity models.Severity) (*models.Alert, error) {
	if severity == "" {
		severity = models.SeverityInfo
	}
	if !severity.Valid() {
		return nil, &ValidationError{Field: "severity", Reason: fmt.Sprintf("unknown value %q", severity)}
	}
	if alertType == "" {
		return nil, &ValidationError{Field: "type", Reason: "must not be empty"}
	}

	a := &models.Alert{
		ID:        uuid.NewString(),
		Type:      alertType,
		Message:   message,
		Severity:  severity,
		CreatedAt: p.clock(),
	}
	if err := p.store.CreateAlert(ctx, a); err != nil {
		return nil, fmt.Errorf("create alert: %w", err)
	}

	p.hub.BroadcastAdmins(events.NewAlertEvent(api.AlertFrom(*a)))
	return a, nil
}

// Notify sends an outbound notification and raises an alert in the
// background. It is used for records outside the visitor lifecycle.
func (p *Pipeline) Notify(ctx context.Context, msg notify.Message, alertType, alertMessage string, severity models.Severity) {
	p.dispatch(ctx, msg, alertType, alertMessage, severity)
}

// Wait blocks until every dispatched background task has finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) visitor(ctx context.Context, id string) (*models.Visitor, error) {
	v, err := p.store.VisitorByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("lookup visitor: %w", err)
	}
	if v == nil {
		return nil, ErrNotFound
	}
	return v, nil
}

// resolveContent returns the assigned page's content, falling back to the
// default page when nothing is assigned or the assignment no longer exists.
func (p *Pipeline) resolveContent(ctx context.Context, pageID *string) (*string, error) {
	var page *models.Page
	var err error
	if pageID != nil {
		page, err = p.store.Page(ctx, *pageID)
		if err != nil {
			return nil, fmt.Errorf("lookup page: %w", err)
		}
		if page == nil {
			p.logger.Debug("assigned page missing, using default", logging.PageID(*pageID))
		}
	}
	if page == nil {
		page, err = p.store.DefaultPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("lookup default page: %w", err)
		}
	}
	if page == nil {
		return nil, nil
	}
	content := page.Content
	return &content, nil
}

// dispatch runs the notification and the alert concurrently, detached from
// the caller's cancellation.
func (p *Pipeline) dispatch(parent context.Context, msg notify.Message, alertType, alertMessage string, severity models.Severity) {
	base := context.WithoutCancel(parent)

	if msg.Text != "" {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			ctx, cancel := context.WithTimeout(base, p.timeout)
			defer cancel()
			if err := p.notifier.Send(ctx, msg); err != nil {
				p.logger.Warn("notification failed", logging.Event(msg.Kind), zap.Error(err))
			}
		}()
	}

	if alertMessage != "" {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			ctx, cancel := context.WithTimeout(base, p.timeout)
			defer cancel()
			if _, err := p.RaiseAlert(ctx, alertType, alertMessage, severity); err != nil {
				p.logger.Warn("alert failed", zap.String("type", alertType), zap.Error(err))
			}
		}()
	}
}

// esc escapes values interpolated into HTML formatted notifications.
func esc(s string) string { return html.EscapeString(s) }

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
