// Package alerting manages the alert lifecycle. Alerts are raised by
// analysis rules and deduplicated per (entity, rule); suppression and
// unsuppression are explicit operator actions. Every status transition
// writes exactly one audit record, so the history of an alert is always
// reconstructible.
package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Mythidas/MSPByte-Remake-sub005/errors"
	"github.com/Mythidas/MSPByte-Remake-sub005/metric"
	"github.com/Mythidas/MSPByte-Remake-sub005/store"
	"github.com/Mythidas/MSPByte-Remake-sub005/types"
)

// SystemActor marks transitions performed by the pipeline itself rather
// than an operator.
const SystemActor = "system"

// Service owns alert transitions.
type Service struct {
	alerts  *store.Alerts
	metrics *metric.Registry
	logger  *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics enables alert transition metrics.
func WithMetrics(m *metric.Registry) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates an alerting service over the alert repository.
func NewService(alerts *store.Alerts, opts ...Option) *Service {
	s := &Service{alerts: alerts, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Raise creates an active alert for (entity, rule) unless one already
// exists in a non-resolved state. A suppressed alert counts as existing:
// re-raising it must not undo an operator's suppression. Returns the alert
// and whether it was newly created.
func (s *Service) Raise(ctx context.Context, tenantID, entityID, rule, message string) (*types.Alert, bool, error) {
	existing, err := s.alerts.FindByEntityAndRule(ctx, tenantID, entityID, rule)
	if err != nil {
		return nil, false, err
	}
	for _, a := range existing {
		if a.Status == types.AlertActive || a.Status == types.AlertSuppressed {
			return a, false, nil
		}
	}

	alert := &types.Alert{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		EntityID:  entityID,
		Rule:      rule,
		Message:   message,
		Status:    types.AlertActive,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.alerts.Insert(ctx, alert); err != nil {
		return nil, false, err
	}
	if err := s.audit(ctx, alert, "", types.AlertActive, SystemActor, message); err != nil {
		return nil, false, err
	}

	s.count(rule, "raised")
	s.logger.Info("alert raised", "tenant_id", tenantID, "entity_id", entityID, "rule", rule)
	return alert, true, nil
}

// Suppress moves an active alert to suppressed. Suppressing anything but an
// active alert is rejected. until may be nil for indefinite suppression.
func (s *Service) Suppress(ctx context.Context, tenantID, alertID, actor, reason string, until *time.Time) (*types.Alert, error) {
	alert, err := s.alerts.Get(ctx, tenantID, alertID)
	if err != nil {
		return nil, err
	}
	if alert.Status != types.AlertActive {
		return nil, errors.WrapInvalid(
			fmt.Errorf("alert %s is %s, only active alerts can be suppressed", alertID, alert.Status),
			"Service", "Suppress", "check alert status")
	}
	if actor == "" || reason == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("suppression requires an actor and a reason"),
			"Service", "Suppress", "validate request")
	}

	now := time.Now().UTC()
	alert.Status = types.AlertSuppressed
	alert.SuppressedBy = actor
	alert.SuppressedAt = &now
	alert.SuppressionReason = reason
	alert.SuppressedUntil = until

	if err := s.alerts.Update(ctx, alert); err != nil {
		return nil, err
	}
	if err := s.audit(ctx, alert, types.AlertActive, types.AlertSuppressed, actor, reason); err != nil {
		return nil, err
	}

	s.count(alert.Rule, "suppressed")
	s.logger.Info("alert suppressed", "tenant_id", tenantID, "alert_id", alertID, "actor", actor)
	return alert, nil
}

// Unsuppress returns a suppressed alert to active.
func (s *Service) Unsuppress(ctx context.Context, tenantID, alertID, actor, reason string) (*types.Alert, error) {
	alert, err := s.alerts.Get(ctx, tenantID, alertID)
	if err != nil {
		return nil, err
	}
	if alert.Status != types.AlertSuppressed {
		return nil, errors.WrapInvalid(
			fmt.Errorf("alert %s is %s, only suppressed alerts can be unsuppressed", alertID, alert.Status),
			"Service", "Unsuppress", "check alert status")
	}
	if actor == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("unsuppression requires an actor"),
			"Service", "Unsuppress", "validate request")
	}

	alert.Status = types.AlertActive
	alert.SuppressedBy = ""
	alert.SuppressedAt = nil
	alert.SuppressionReason = ""
	alert.SuppressedUntil = nil

	if err := s.alerts.Update(ctx, alert); err != nil {
		return nil, err
	}
	if err := s.audit(ctx, alert, types.AlertSuppressed, types.AlertActive, actor, reason); err != nil {
		return nil, err
	}

	s.count(alert.Rule, "unsuppressed")
	s.logger.Info("alert unsuppressed", "tenant_id", tenantID, "alert_id", alertID, "actor", actor)
	return alert, nil
}

// Resolve closes an alert whose condition no longer holds. Suppressed
// alerts resolve too: the operator's suppression is preserved in the audit
// trail, but a fixed condition always closes out.
func (s *Service) Resolve(ctx context.Context, tenantID, alertID, actor string) (*types.Alert, error) {
	alert, err := s.alerts.Get(ctx, tenantID, alertID)
	if err != nil {
		return nil, err
	}
	if alert.Status == types.AlertResolved {
		return alert, nil
	}

	from := alert.Status
	now := time.Now().UTC()
	alert.Status = types.AlertResolved
	alert.ResolvedAt = &now

	if err := s.alerts.Update(ctx, alert); err != nil {
		return nil, err
	}
	if err := s.audit(ctx, alert, from, types.AlertResolved, actor, ""); err != nil {
		return nil, err
	}

	s.count(alert.Rule, "resolved")
	s.logger.Info("alert resolved", "tenant_id", tenantID, "alert_id", alertID)
	return alert, nil
}

// ResolveByRule resolves any open alert for (entity, rule). The workflow
// engine calls this when a re-evaluated condition no longer holds. Returns
// how many alerts were resolved.
func (s *Service) ResolveByRule(ctx context.Context, tenantID, entityID, rule string) (int, error) {
	existing, err := s.alerts.FindByEntityAndRule(ctx, tenantID, entityID, rule)
	if err != nil {
		return 0, err
	}
	resolved := 0
	for _, a := range existing {
		if a.Status == types.AlertResolved {
			continue
		}
		if _, err := s.Resolve(ctx, tenantID, a.ID, SystemActor); err != nil {
			return resolved, err
		}
		resolved++
	}
	return resolved, nil
}

// Audits returns the transition history of one alert.
func (s *Service) Audits(ctx context.Context, tenantID, alertID string) ([]*types.AlertAudit, error) {
	return s.alerts.FindAudits(ctx, tenantID, alertID)
}

func (s *Service) audit(ctx context.Context, alert *types.Alert, from, to types.AlertStatus, actor, reason string) error {
	return s.alerts.InsertAudit(ctx, &types.AlertAudit{
		ID:       uuid.New().String(),
		TenantID: alert.TenantID,
		AlertID:  alert.ID,
		From:     from,
		To:       to,
		Actor:    actor,
		Reason:   reason,
		At:       time.Now().UTC(),
	})
}

func (s *Service) count(rule, transition string) {
	if s.metrics != nil {
		s.metrics.Core.AlertsTotal.WithLabelValues(rule, transition).Inc()
	}
}
