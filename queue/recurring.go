package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Mythidas/MSPByte-Remake-sub005/errors"
	"github.com/Mythidas/MSPByte-Remake-sub005/types"
)

// recurringEntry is one registered recurring job: a template cloned into a
// fresh job each time its cron schedule fires.
type recurringEntry struct {
	name     string
	schedule cron.Schedule
	template types.Job
	next     time.Time
}

// ScheduleRecurring registers a job template to be enqueued on a cron
// schedule (standard five-field format). The template is cloned per firing;
// each clone gets its own job ID and sync ID. Registering an existing name
// replaces the previous schedule.
func (q *Queue) ScheduleRecurring(name, cronExpr string, template types.Job) error {
	if name == "" {
		return errors.WrapInvalid(
			fmt.Errorf("recurring job missing name"),
			"Queue", "ScheduleRecurring", "validate registration")
	}
	if err := template.Validate(); err != nil {
		return errors.WrapInvalid(err, "Queue", "ScheduleRecurring", "validate template")
	}

	schedule, err := cron.ParseStandard(cronExpr)
	if err != nil {
		return errors.WrapInvalid(err, "Queue", "ScheduleRecurring",
			fmt.Sprintf("parse cron expression %q", cronExpr))
	}

	q.recurringMu.Lock()
	defer q.recurringMu.Unlock()

	q.recurring[name] = &recurringEntry{
		name:     name,
		schedule: schedule,
		template: template,
		next:     schedule.Next(time.Now()),
	}

	q.logger.Info("recurring job registered",
		"name", name,
		"cron", cronExpr,
		"action", template.Action,
		"tenant_id", template.TenantID)
	return nil
}

// UnscheduleRecurring removes a recurring registration. It does not touch
// jobs already enqueued.
func (q *Queue) UnscheduleRecurring(name string) bool {
	q.recurringMu.Lock()
	defer q.recurringMu.Unlock()

	_, ok := q.recurring[name]
	delete(q.recurring, name)
	return ok
}

// RecurringNames lists registered recurring jobs.
func (q *Queue) RecurringNames() []string {
	q.recurringMu.Lock()
	defer q.recurringMu.Unlock()

	names := make([]string, 0, len(q.recurring))
	for name := range q.recurring {
		names = append(names, name)
	}
	return names
}

// recurringLoop fires due recurring entries.
func (q *Queue) recurringLoop(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			q.fireDueRecurring(ctx, now)
		}
	}
}

func (q *Queue) fireDueRecurring(ctx context.Context, now time.Time) {
	q.recurringMu.Lock()
	var due []*recurringEntry
	for _, entry := range q.recurring {
		if !entry.next.After(now) {
			due = append(due, entry)
			entry.next = entry.schedule.Next(now)
		}
	}
	q.recurringMu.Unlock()

	for _, entry := range due {
		job := entry.template
		job.ID = ""
		job.SyncID = ""
		if _, err := q.Schedule(ctx, &job); err != nil {
			q.logger.Error("recurring job enqueue failed",
				"name", entry.name, "error", err)
		}
	}
}
