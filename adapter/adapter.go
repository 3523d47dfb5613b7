// Package adapter implements the fetch stage of the sync pipeline. One
// adapter wraps one connector: it consumes the integration's sync-stage
// events from the bus, pulls raw records page by page, stamps each record
// with its content hash, and publishes fetched-stage events. The adapter is
// also where a job's fate is decided: it reports completion or failure back
// to the job queue.
package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Mythidas/MSPByte-Remake-sub005/bus"
	"github.com/Mythidas/MSPByte-Remake-sub005/connector"
	"github.com/Mythidas/MSPByte-Remake-sub005/errors"
	"github.com/Mythidas/MSPByte-Remake-sub005/metric"
	"github.com/Mythidas/MSPByte-Remake-sub005/pkg/contenthash"
	"github.com/Mythidas/MSPByte-Remake-sub005/queue"
	"github.com/Mythidas/MSPByte-Remake-sub005/types"
)

// Adapter drives one connector through the fetch stage.
type Adapter struct {
	connector connector.Connector
	bus       bus.Bus
	jobs      *queue.Queue
	hasher    *contenthash.Hasher
	metrics   *metric.Registry
	logger    *slog.Logger
	pageSize  int
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithPageSize sets the page size requested from the connector.
func WithPageSize(n int) Option {
	return func(a *Adapter) { a.pageSize = n }
}

// WithMetrics enables stage metrics.
func WithMetrics(m *metric.Registry) Option {
	return func(a *Adapter) { a.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// New creates an adapter for the connector.
func New(c connector.Connector, b bus.Bus, jobs *queue.Queue, hasher *contenthash.Hasher, opts ...Option) *Adapter {
	a := &Adapter{
		connector: c,
		bus:       b,
		jobs:      jobs,
		hasher:    hasher,
		logger:    slog.Default(),
		pageSize:  100,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start subscribes to the integration's sync-stage topics.
func (a *Adapter) Start(ctx context.Context) error {
	pattern := fmt.Sprintf("%s.%s.*", a.connector.Type(), types.StageSync)
	if err := a.bus.Subscribe(ctx, pattern, a.handleSync); err != nil {
		return errors.WrapTransient(err, "Adapter", "Start", "subscribe to sync topics")
	}
	a.logger.Info("adapter started", "integration", a.connector.Type(), "pattern", pattern)
	return nil
}

// handleSync runs one fetch job end to end.
func (a *Adapter) handleSync(ctx context.Context, env *types.Envelope) {
	var job types.Job
	if err := env.DecodePayload(&job); err != nil {
		a.logger.Error("undecodable sync event dropped", "event_id", env.EventID, "error", err)
		return
	}

	start := time.Now()
	err := a.fetch(ctx, env, &job)
	duration := time.Since(start)

	if a.metrics != nil {
		a.metrics.Core.StageDuration.
			WithLabelValues(string(types.StageFetched), a.connector.Type()).
			Observe(duration.Seconds())
		if err != nil {
			a.metrics.Core.StageErrorsTotal.
				WithLabelValues(string(types.StageFetched), a.connector.Type(),
					errors.Classify(err).String()).
				Inc()
		}
	}

	if err != nil {
		a.logger.Warn("fetch failed",
			"integration", a.connector.Type(),
			"job_id", job.ID,
			"entity_type", job.EntityType,
			"error", err)
		if failErr := a.jobs.FailJob(ctx, job.ID, err); failErr != nil {
			a.logger.Error("job failure report failed", "job_id", job.ID, "error", failErr)
		}
	}
}

// fetch pulls every page for the job, publishing one fetched event per page,
// then completes the job with accumulated metrics.
func (a *Adapter) fetch(ctx context.Context, env *types.Envelope, job *types.Job) error {
	if !connector.Supports(a.connector, job.EntityType) {
		return errors.WrapInvalid(errors.ErrUnsupportedEntityType,
			"Adapter", "fetch", fmt.Sprintf("entity type %q for %s", job.EntityType, a.connector.Type()))
	}

	if err := a.connector.CheckHealth(ctx); err != nil {
		// Unhealthy connectors retry; the job returns to the queue with
		// backoff instead of burning an attempt against a dead vendor API.
		return errors.WrapTransient(errors.ErrConnectorUnhealthy,
			"Adapter", "fetch", fmt.Sprintf("health check for %s: %v", a.connector.Type(), err))
	}

	start := time.Now()
	cursor := ""
	fetched := 0
	calls := 0

	for {
		page, err := a.connector.Fetch(ctx, connector.PageRequest{
			TenantID:     job.TenantID,
			DataSourceID: job.DataSourceID,
			EntityType:   job.EntityType,
			PageSize:     a.pageSize,
			Cursor:       cursor,
		})
		if err != nil {
			return err
		}
		calls++

		records := make([]types.DataFetchRecord, 0, len(page.Records))
		for _, rec := range page.Records {
			hash, err := a.hasher.Hash(a.connector.Type(), string(job.EntityType), rec.Data)
			if err != nil {
				return errors.WrapInvalid(err, "Adapter", "fetch",
					fmt.Sprintf("hash record %s", rec.ExternalID))
			}
			records = append(records, types.DataFetchRecord{
				ExternalID: rec.ExternalID,
				SiteID:     rec.SiteID,
				DataHash:   hash,
				RawData:    rec.Data,
			})
		}

		child, err := env.Child(types.StageFetched, types.FetchedPayload{
			SyncID:        job.SyncID,
			Records:       records,
			Total:         page.Total,
			HasMore:       page.HasMore,
			NextPageToken: page.NextCursor,
		})
		if err != nil {
			return errors.WrapInvalid(err, "Adapter", "fetch", "build fetched event")
		}
		if err := a.bus.Publish(ctx, child); err != nil {
			return err
		}

		fetched += len(records)
		if a.metrics != nil {
			a.metrics.Core.StageEventsTotal.
				WithLabelValues(string(types.StageFetched), a.connector.Type(), string(job.EntityType)).
				Inc()
		}

		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}

	var m types.JobMetrics
	m.Record(types.StageFetched, types.StageMetrics{
		DurationMs:      time.Since(start).Milliseconds(),
		ExternalCalls:   calls,
		EntitiesFetched: fetched,
	})

	a.logger.Info("fetch completed",
		"integration", a.connector.Type(),
		"job_id", job.ID,
		"entity_type", job.EntityType,
		"records", fetched,
		"pages", calls)
	return a.jobs.CompleteJob(ctx, job.ID, m)
}
