// Package events defines the messages delivered over admin and visitor channels.
package events

import "github.com/rsclarke/gatehouse/internal/api"

// Kind names an event on the wire.
type Kind string

// Broadcast kinds, delivered to every admin channel.
const (
	KindNewVisitor     Kind = "new_visitor"
	KindVisitorUpdated Kind = "visitor_updated"
	KindVisitorDeleted Kind = "visitor_deleted"
	KindVisitorOnline  Kind = "visitor_online"
	KindVisitorOffline Kind = "visitor_offline"
	KindNewAlert       Kind = "new_alert"
)

// Direct kinds, delivered to a single visitor channel.
const (
	KindApproved Kind = "approved"
	KindBlocked  Kind = "blocked"
)

// NewVisitor announces a first registration.
type NewVisitor struct {
	Event   Kind        `json:"event"`
	Visitor api.Visitor `json:"visitor"`
}

// VisitorUpdated announces a status change.
type VisitorUpdated struct {
	Event     Kind   `json:"event"`
	VisitorID string `json:"visitor_id"`
	Status    string `json:"status"`
}

// VisitorDeleted announces removal of a record.
type VisitorDeleted struct {
	Event     Kind   `json:"event"`
	VisitorID string `json:"visitor_id"`
}

// Presence reports a visitor channel connecting or disconnecting.
type Presence struct {
	Event       Kind   `json:"event"`
	SessionID   string `json:"session_id"`
	OnlineCount int    `json:"online_count"`
}

// NewAlert carries a freshly raised alert.
type NewAlert struct {
	Event Kind      `json:"event"`
	Alert api.Alert `json:"alert"`
}

// Approved tells a visitor what to render. PageContent is null when no page resolved.
type Approved struct {
	Event       Kind    `json:"event"`
	PageContent *string `json:"page_content"`
}

// Blocked tells a visitor it has been denied.
type Blocked struct {
	Event Kind `json:"event"`
}
