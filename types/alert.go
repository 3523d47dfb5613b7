package types

import "time"

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

// Alert statuses. Transitions between active and suppressed happen only
// through explicit operator action, each producing an audit record.
const (
	AlertActive     AlertStatus = "active"
	AlertSuppressed AlertStatus = "suppressed"
	AlertResolved   AlertStatus = "resolved"
)

// Alert is raised by analysis rules against a single entity.
type Alert struct {
	ID                string      `json:"id"`
	TenantID          string      `json:"tenant_id"`
	EntityID          string      `json:"entity_id"`
	Rule              string      `json:"rule"`
	Message           string      `json:"message"`
	Status            AlertStatus `json:"status"`
	SuppressedBy      string      `json:"suppressed_by,omitempty"`
	SuppressedAt      *time.Time  `json:"suppressed_at,omitempty"`
	SuppressionReason string      `json:"suppression_reason,omitempty"`
	SuppressedUntil   *time.Time  `json:"suppressed_until,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	ResolvedAt        *time.Time  `json:"resolved_at,omitempty"`
}

// AlertAudit records one alert status transition.
type AlertAudit struct {
	ID       string      `json:"id"`
	TenantID string      `json:"tenant_id"`
	AlertID  string      `json:"alert_id"`
	From     AlertStatus `json:"from"`
	To       AlertStatus `json:"to"`
	Actor    string      `json:"actor"`
	Reason   string      `json:"reason,omitempty"`
	At       time.Time   `json:"at"`
}
