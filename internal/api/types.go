// Package api defines the JSON request and response shapes of the HTTP surfaces.
package api

import (
	"time"

	"github.com/rsclarke/gatehouse/internal/models"
)

// RegisterVisitorRequest is the beacon body sent by the decoy page.
type RegisterVisitorRequest struct {
	SessionID    string `json:"session_id"`
	UserAgent    string `json:"user_agent"`
	ScreenWidth  int    `json:"screen_width"`
	ScreenHeight int    `json:"screen_height"`
	Timezone     string `json:"timezone"`
	Languages    string `json:"languages"`
}

// Visitor is the wire form of a visitor record.
type Visitor struct {
	ID        string  `json:"id"`
	SessionID string  `json:"session_id"`
	IP        string  `json:"ip"`
	Country   string  `json:"country"`
	City      string  `json:"city"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	ISP       string  `json:"isp"`
	UserAgent string  `json:"user_agent"`
	Screen    string  `json:"screen"`
	Timezone  string  `json:"timezone"`
	Languages string  `json:"languages"`
	Status    string  `json:"status"`
	PageID    *string `json:"page_id"`
	IsBot     bool    `json:"is_bot"`
	BotScore  float64 `json:"bot_score"`
	CreatedAt string  `json:"created_at"`
	LastSeen  string  `json:"last_seen"`
}

// VisitorStatusResponse answers the visitor's status poll. PageContent is
// omitted entirely unless the visitor is approved and content resolved.
type VisitorStatusResponse struct {
	Status      string  `json:"status"`
	PageContent *string `json:"page_content,omitempty"`
}

// ApproveRequest optionally pins the page served to the visitor.
type ApproveRequest struct {
	PageID *string `json:"page_id,omitempty"`
}

// AdminLoginRequest carries the shared secret.
type AdminLoginRequest struct {
	Password string `json:"password"`
}

// SuccessResponse is returned by operations without a richer result.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// Page is the wire form of a page. Content is omitted from listings.
type Page struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Content   *string `json:"content,omitempty"`
	IsDefault bool    `json:"is_default"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

// CreatePageRequest creates a page.
type CreatePageRequest struct {
	Name      string `json:"name"`
	Content   string `json:"content"`
	IsDefault bool   `json:"is_default"`
}

// UpdatePageRequest patches a page; nil fields are left untouched.
type UpdatePageRequest struct {
	Name      *string `json:"name,omitempty"`
	Content   *string `json:"content,omitempty"`
	IsDefault *bool   `json:"is_default,omitempty"`
}

// Alert is the wire form of an alert.
type Alert struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Message   string `json:"message"`
	Severity  string `json:"severity"`
	Read      bool   `json:"read"`
	CreatedAt string `json:"created_at"`
}

// CreateAlertRequest raises an operator alert.
type CreateAlertRequest struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	Severity string `json:"severity,omitempty"`
}

// Target is the wire form of a pentest target.
type Target struct {
	ID          string `json:"id"`
	Host        string `json:"host"`
	Description string `json:"description"`
	Ports       string `json:"ports"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

// TargetRequest creates or replaces a target.
type TargetRequest struct {
	Host        string `json:"host"`
	Description string `json:"description"`
	Ports       string `json:"ports"`
	Status      string `json:"status,omitempty"`
}

// Scan is the wire form of a scan.
type Scan struct {
	ID          string  `json:"id"`
	TargetID    string  `json:"target_id"`
	ScanType    string  `json:"scan_type"`
	Status      string  `json:"status"`
	Results     string  `json:"results"`
	Notes       string  `json:"notes"`
	StartedAt   string  `json:"started_at"`
	CompletedAt *string `json:"completed_at"`
}

// CreateScanRequest records a scan.
type CreateScanRequest struct {
	TargetID string `json:"target_id"`
	ScanType string `json:"scan_type"`
	Results  string `json:"results"`
	Notes    string `json:"notes"`
	Status   string `json:"status,omitempty"`
}

// UpdateScanRequest patches a scan.
type UpdateScanRequest struct {
	ScanType *string `json:"scan_type,omitempty"`
	Results  *string `json:"results,omitempty"`
	Notes    *string `json:"notes,omitempty"`
	Status   *string `json:"status,omitempty"`
}

// Vulnerability is the wire form of a finding.
type Vulnerability struct {
	ID          string  `json:"id"`
	TargetID    string  `json:"target_id"`
	Title       string  `json:"title"`
	Severity    string  `json:"severity"`
	Description string  `json:"description"`
	CVSS        float64 `json:"cvss"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"created_at"`
}

// VulnerabilityRequest creates or replaces a finding.
type VulnerabilityRequest struct {
	TargetID    string  `json:"target_id"`
	Title       string  `json:"title"`
	Severity    string  `json:"severity,omitempty"`
	Description string  `json:"description"`
	CVSS        float64 `json:"cvss"`
	Status      string  `json:"status,omitempty"`
}

// StatsResponse is the dashboard summary.
type StatsResponse struct {
	Visitors VisitorStats `json:"visitors"`
	Pentest  PentestStats `json:"pentest"`
	Alerts   AlertStats   `json:"alerts"`
}

type VisitorStats struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Blocked  int `json:"blocked"`
	Bots     int `json:"bots"`
	Online   int `json:"online"`
}

type PentestStats struct {
	Targets         int `json:"targets"`
	ActiveTargets   int `json:"active_targets"`
	Scans           int `json:"scans"`
	Vulnerabilities int `json:"vulnerabilities"`
	Critical        int `json:"critical"`
}

type AlertStats struct {
	Unread int `json:"unread"`
}

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Timestamp formats t the way every response does.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// VisitorFrom converts a stored visitor to its wire form.
func VisitorFrom(v models.Visitor) Visitor {
	return Visitor{
		ID:        v.ID,
		SessionID: v.SessionID,
		IP:        v.IP,
		Country:   v.Country,
		City:      v.City,
		Lat:       v.Lat,
		Lng:       v.Lng,
		ISP:       v.ISP,
		UserAgent: v.UserAgent,
		Screen:    v.Screen,
		Timezone:  v.Timezone,
		Languages: v.Languages,
		Status:    string(v.Status),
		PageID:    v.PageID,
		IsBot:     v.IsBot,
		BotScore:  v.BotScore,
		CreatedAt: Timestamp(v.CreatedAt),
		LastSeen:  Timestamp(v.LastSeen),
	}
}

// PageFrom converts a stored page. Content is included only when withContent is set.
func PageFrom(p models.Page, withContent bool) Page {
	out := Page{
		ID:        p.ID,
		Name:      p.Name,
		IsDefault: p.IsDefault,
		CreatedAt: Timestamp(p.CreatedAt),
		UpdatedAt: Timestamp(p.UpdatedAt),
	}
	if withContent {
		content := p.Content
		out.Content = &content
	}
	return out
}

// AlertFrom converts a stored alert.
func AlertFrom(a models.Alert) Alert {
	return Alert{
		ID:        a.ID,
		Type:      a.Type,
		Message:   a.Message,
		Severity:  string(a.Severity),
		Read:      a.Read,
		CreatedAt: Timestamp(a.CreatedAt),
	}
}

// TargetFrom converts a stored target.
func TargetFrom(t models.Target) Target {
	return Target{
		ID:          t.ID,
		Host:        t.Host,
		Description: t.Description,
		Ports:       t.Ports,
		Status:      t.Status,
		CreatedAt:   Timestamp(t.CreatedAt),
	}
}

// ScanFrom converts a stored scan.
func ScanFrom(s models.Scan) Scan {
	out := Scan{
		ID:        s.ID,
		TargetID:  s.TargetID,
		ScanType:  s.ScanType,
		Status:    s.Status,
		Results:   s.Results,
		Notes:     s.Notes,
		StartedAt: Timestamp(s.StartedAt),
	}
	if s.CompletedAt != nil {
		ts := Timestamp(*s.CompletedAt)
		out.CompletedAt = &ts
	}
	return out
}

// VulnerabilityFrom converts a stored finding.
func VulnerabilityFrom(v models.Vulnerability) Vulnerability {
	return Vulnerability{
		ID:          v.ID,
		TargetID:    v.TargetID,
		Title:       v.Title,
		Severity:    v.Severity,
		Description: v.Description,
		CVSS:        v.CVSS,
		Status:      v.Status,
		CreatedAt:   Timestamp(v.CreatedAt),
	}
}
