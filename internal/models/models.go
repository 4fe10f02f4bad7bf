// Package models defines the database entity types.
package models

import "time"

// Status is the review state of a visitor.
type Status string

// Visitor statuses. There is no transition back to pending.
const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusBlocked  Status = "blocked"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusBlocked:
		return true
	}
	return false
}

// Severity grades an alert.
type Severity string

// Alert severities.
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	}
	return false
}

// Visitor represents a tracked client session awaiting or past review.
type Visitor struct {
	ID        string
	SessionID string
	IP        string
	Country   string
	City      string
	Lat       float64
	Lng       float64
	ISP       string
	UserAgent string
	Screen    string
	Timezone  string
	Languages string
	Status    Status
	PageID    *string
	IsBot     bool
	BotScore  float64
	CreatedAt time.Time
	LastSeen  time.Time
}

// Page is HTML content servable to an approved visitor.
type Page struct {
	ID        string
	Name      string
	Content   string
	IsDefault bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Alert is a durable operator notification.
type Alert struct {
	ID        string
	Type      string
	Message   string
	Severity  Severity
	Read      bool
	CreatedAt time.Time
}

// Target is a pentest host record.
type Target struct {
	ID          string
	Host        string
	Description string
	Ports       string
	Status      string
	CreatedAt   time.Time
}

// Scan is a scan run recorded against a target.
type Scan struct {
	ID          string
	TargetID    string
	ScanType    string
	Status      string
	Results     string
	Notes       string
	StartedAt   time.Time
	CompletedAt *time.Time
}

// Vulnerability is a finding recorded against a target.
type Vulnerability struct {
	ID          string
	TargetID    string
	Title       string
	Severity    string
	Description string
	CVSS        float64
	Status      string
	CreatedAt   time.Time
}

// Stats aggregates record counts for the dashboard.
type Stats struct {
	Visitors        int
	Pending         int
	Approved        int
	Blocked         int
	Bots            int
	Targets         int
	ActiveTargets   int
	Scans           int
	Vulnerabilities int
	Critical        int
	UnreadAlerts    int
}
