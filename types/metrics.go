package types

import "time"

// StageMetrics captures what one stage did while handling a job or event.
type StageMetrics struct {
	DurationMs        int64  `json:"duration_ms"`
	ExternalCalls     int    `json:"external_calls,omitempty"`
	EntitiesFetched   int    `json:"entities_fetched,omitempty"`
	EntitiesCreated   int    `json:"entities_created,omitempty"`
	EntitiesUpdated   int    `json:"entities_updated,omitempty"`
	EntitiesUnchanged int    `json:"entities_unchanged,omitempty"`
	EntitiesSkipped   int    `json:"entities_skipped,omitempty"`
	RelationsUpserted int    `json:"relations_upserted,omitempty"`
	Error             string `json:"error,omitempty"`
}

// JobMetrics accumulates per-stage metrics for one job. The fetch stage
// folds its numbers in page by page; the accumulated result is persisted
// once, as part of the job history, when the job closes. Stages that run
// after the job closed report through Prometheus instead.
type JobMetrics struct {
	Stages map[Stage]StageMetrics `json:"stages,omitempty"`
}

// Merge folds other into m, summing counters stage by stage. Later error
// strings win; durations add.
func (m *JobMetrics) Merge(other JobMetrics) {
	if m.Stages == nil {
		m.Stages = make(map[Stage]StageMetrics)
	}
	for stage, sm := range other.Stages {
		cur := m.Stages[stage]
		cur.DurationMs += sm.DurationMs
		cur.ExternalCalls += sm.ExternalCalls
		cur.EntitiesFetched += sm.EntitiesFetched
		cur.EntitiesCreated += sm.EntitiesCreated
		cur.EntitiesUpdated += sm.EntitiesUpdated
		cur.EntitiesUnchanged += sm.EntitiesUnchanged
		cur.EntitiesSkipped += sm.EntitiesSkipped
		cur.RelationsUpserted += sm.RelationsUpserted
		if sm.Error != "" {
			cur.Error = sm.Error
		}
		m.Stages[stage] = cur
	}
}

// Record sets the metrics for a single stage, merging with any existing
// entry for that stage.
func (m *JobMetrics) Record(stage Stage, sm StageMetrics) {
	m.Merge(JobMetrics{Stages: map[Stage]StageMetrics{stage: sm}})
}

// JobHistory is the persisted outcome of one job, queryable by operators.
type JobHistory struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenant_id"`
	IntegrationID string     `json:"integration_id"`
	DataSourceID  string     `json:"data_source_id,omitempty"`
	JobID         string     `json:"job_id"`
	Action        string     `json:"action"`
	Status        JobStatus  `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   time.Time  `json:"completed_at"`
	DurationMs    int64      `json:"duration_ms"`
	Metrics       JobMetrics `json:"metrics"`
	Error         string     `json:"error,omitempty"`
}
