package events

import "github.com/rsclarke/gatehouse/internal/api"

func NewVisitorEvent(v api.Visitor) NewVisitor {
	return NewVisitor{Event: KindNewVisitor, Visitor: v}
}

func VisitorUpdatedEvent(visitorID, status string) VisitorUpdated {
	return VisitorUpdated{Event: KindVisitorUpdated, VisitorID: visitorID, Status: status}
}

func VisitorDeletedEvent(visitorID string) VisitorDeleted {
	return VisitorDeleted{Event: KindVisitorDeleted, VisitorID: visitorID}
}

func OnlineEvent(sessionID string, online int) Presence {
	return Presence{Event: KindVisitorOnline, SessionID: sessionID, OnlineCount: online}
}

func OfflineEvent(sessionID string, online int) Presence {
	return Presence{Event: KindVisitorOffline, SessionID: sessionID, OnlineCount: online}
}

func NewAlertEvent(a api.Alert) NewAlert {
	return NewAlert{Event: KindNewAlert, Alert: a}
}

func ApprovedEvent(content *string) Approved {
	return Approved{Event: KindApproved, PageContent: content}
}

func BlockedEvent() Blocked {
	return Blocked{Event: KindBlocked}
}
