package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/oriys/cloudcode/internal/domain"
	"github.com/oriys/cloudcode/internal/logging"
	"github.com/oriys/cloudcode/internal/observability"
)

// UserMigrationName is the registered name of the migration job.
const UserMigrationName = "userMigration"

const (
	migrationSucceeded = "Migration completed successfully."
	migrationFailed    = "Uh oh, something went wrong."

	defaultProgressEvery = 100
)

// Run identifies one execution of a job.
type Run struct {
	ID        string
	Job       string
	Params    domain.Params
	StartedAt time.Time
}

// Job is a batch job. Run emits progress to sink, ends with exactly one
// terminal event and returns the final status.
type Job interface {
	Validate(params domain.Params) error
	Run(ctx context.Context, run Run, sink StatusSink) domain.JobStatus
}

// UserMigration sets the "plan" field on every user, one record at a time.
type UserMigration struct {
	users         UserStore
	progressEvery int
}

// NewUserMigration creates the job. progressEvery <= 0 uses 100.
func NewUserMigration(users UserStore, progressEvery int) *UserMigration {
	if progressEvery <= 0 {
		progressEvery = defaultProgressEvery
	}
	return &UserMigration{users: users, progressEvery: progressEvery}
}

// Validate requires the plan parameter.
func (m *UserMigration) Validate(params domain.Params) error {
	return params.Require(UserMigrationName, domain.FieldPlan)
}

func (m *UserMigration) Run(ctx context.Context, run Run, sink StatusSink) domain.JobStatus {
	status := domain.JobStatus{
		RunID:     run.ID,
		Job:       run.Job,
		State:     domain.JobRunning,
		StartedAt: run.StartedAt,
	}
	logger := logging.Op().With("run_id", run.ID, "job", run.Job)

	emit := func(kind domain.EventKind, msg string) {
		ev := domain.JobEvent{
			RunID:     run.ID,
			Job:       run.Job,
			Kind:      kind,
			Message:   msg,
			Processed: status.Processed,
			At:        time.Now(),
		}
		if err := sink.Emit(ctx, ev); err != nil {
			logger.Warn("status sink failed", "kind", kind, "error", err)
		}
	}
	fail := func(recordID string, err error) domain.JobStatus {
		status.State = domain.JobFailed
		status.Message = migrationFailed
		status.FailedRecord = recordID
		status.Detail = err.Error()
		logger.Error("user migration failed", "record_id", recordID, "processed", status.Processed, "error", err)
		observability.SpanFromContext(ctx).SetAttributes(observability.AttrRecordID.String(recordID))
		emit(domain.EventError, migrationFailed)
		return finish(status)
	}

	if err := m.Validate(run.Params); err != nil {
		return fail("", err)
	}
	plan, _ := run.Params.Lookup(domain.FieldPlan)

	counter := 0
	for user, err := range m.users.Users(ctx, domain.PrivilegeMaster) {
		if err != nil {
			return fail("", fmt.Errorf("list users: %w", err))
		}
		if counter%m.progressEvery == 0 {
			emit(domain.EventProgress, fmt.Sprintf("%d users processed.", counter))
		}
		counter++

		user.Plan = plan
		if err := m.users.SaveUser(ctx, user, domain.PrivilegeMaster); err != nil {
			return fail(user.ObjectID, &domain.PersistenceError{RecordID: user.ObjectID, Err: err})
		}
		status.Processed++
	}

	status.State = domain.JobSucceeded
	status.Message = migrationSucceeded
	emit(domain.EventSuccess, migrationSucceeded)
	return finish(status)
}

func finish(status domain.JobStatus) domain.JobStatus {
	now := time.Now()
	status.FinishedAt = &now
	return status
}
