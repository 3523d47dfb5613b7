// Package scheduler owns the sync cadence. A static table says how often
// each entity type syncs and at what priority; registering a data source
// turns that table into recurring queue jobs, filtered to what the data
// source's connector can actually fetch.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Mythidas/MSPByte-Remake-sub005/queue"
	"github.com/Mythidas/MSPByte-Remake-sub005/types"
)

// Entry is one row of the sync schedule.
type Entry struct {
	EntityType types.EntityType
	Priority   int // lower runs first
	Rate       time.Duration
	// Global entries sync vendor-wide objects (companies, sites) that are
	// not scoped to a single customer data source.
	Global bool
}

// DefaultSchedule is the production cadence: identity and device data move
// fast and first, structural data (groups, roles, policies) slower, and
// vendor-wide directories daily.
var DefaultSchedule = []Entry{
	{EntityType: types.EntityCompany, Priority: 1, Rate: 24 * time.Hour, Global: true},
	{EntityType: types.EntitySite, Priority: 1, Rate: 24 * time.Hour, Global: true},
	{EntityType: types.EntityIdentity, Priority: 2, Rate: time.Hour},
	{EntityType: types.EntityDevice, Priority: 2, Rate: 2 * time.Hour},
	{EntityType: types.EntityGroup, Priority: 3, Rate: 6 * time.Hour},
	{EntityType: types.EntityRole, Priority: 3, Rate: 12 * time.Hour},
	{EntityType: types.EntityPolicy, Priority: 3, Rate: 12 * time.Hour},
	{EntityType: types.EntityTicket, Priority: 4, Rate: 30 * time.Minute},
}

// DataSource is one tenant's connection to an integration.
type DataSource struct {
	ID              string
	TenantID        string
	IntegrationType string
}

// Scheduler registers sync cadences with the job queue.
type Scheduler struct {
	queue    *queue.Queue
	schedule []Entry
	logger   *slog.Logger
}

// New creates a scheduler over the queue. A nil schedule uses
// DefaultSchedule.
func New(q *queue.Queue, schedule []Entry, logger *slog.Logger) *Scheduler {
	if schedule == nil {
		schedule = DefaultSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{queue: q, schedule: schedule, logger: logger}
}

// jobFor builds the job template for one schedule entry.
func (s *Scheduler) jobFor(ds DataSource, entry Entry) types.Job {
	job := types.Job{
		TenantID:        ds.TenantID,
		IntegrationType: ds.IntegrationType,
		EntityType:      entry.EntityType,
		Action:          fmt.Sprintf("sync.%s", entry.EntityType),
		Priority:        entry.Priority,
	}
	if !entry.Global {
		job.DataSourceID = ds.ID
	}
	return job
}

// Register installs the recurring jobs for one data source, limited to the
// entity types its connector supports. Returns how many cadences were
// registered.
func (s *Scheduler) Register(ds DataSource, supported []types.EntityType) (int, error) {
	supportedSet := make(map[types.EntityType]struct{}, len(supported))
	for _, et := range supported {
		supportedSet[et] = struct{}{}
	}

	registered := 0
	for _, entry := range s.schedule {
		if _, ok := supportedSet[entry.EntityType]; !ok {
			continue
		}
		name := recurringName(ds, entry)
		expr := fmt.Sprintf("@every %s", entry.Rate)
		if err := s.queue.ScheduleRecurring(name, expr, s.jobFor(ds, entry)); err != nil {
			return registered, err
		}
		registered++
	}

	s.logger.Info("data source schedule registered",
		"tenant_id", ds.TenantID,
		"data_source_id", ds.ID,
		"integration", ds.IntegrationType,
		"cadences", registered)
	return registered, nil
}

// Unregister removes a data source's recurring jobs.
func (s *Scheduler) Unregister(ds DataSource) {
	for _, entry := range s.schedule {
		s.queue.UnscheduleRecurring(recurringName(ds, entry))
	}
}

// KickOff enqueues an immediate sync of every supported entity type for a
// newly connected data source, without waiting for the first cadence tick.
func (s *Scheduler) KickOff(ctx context.Context, ds DataSource, supported []types.EntityType) ([]string, error) {
	supportedSet := make(map[types.EntityType]struct{}, len(supported))
	for _, et := range supported {
		supportedSet[et] = struct{}{}
	}

	var jobIDs []string
	for _, entry := range s.schedule {
		if _, ok := supportedSet[entry.EntityType]; !ok {
			continue
		}
		job := s.jobFor(ds, entry)
		id, err := s.queue.Schedule(ctx, &job)
		if err != nil {
			return jobIDs, err
		}
		jobIDs = append(jobIDs, id)
	}
	return jobIDs, nil
}

func recurringName(ds DataSource, entry Entry) string {
	scope := ds.ID
	if entry.Global {
		scope = "global"
	}
	return fmt.Sprintf("%s/%s/%s/%s", ds.TenantID, ds.IntegrationType, scope, entry.EntityType)
}
