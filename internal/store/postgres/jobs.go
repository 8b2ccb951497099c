package postgres

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	rmodels "tokenverif/internal/reverification/models"
	vmodels "tokenverif/internal/verification/models"
	id "tokenverif/pkg/domain"
)

var openJobStatuses = pq.Array([]string{string(rmodels.JobStatusScheduled), string(rmodels.JobStatusInProgress)})

// ListCandidates returns every token with an approved request, with the time
// of its last passed job and whether it has an open job.
func (s *Store) ListCandidates(ctx context.Context) ([]rmodels.Candidate, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		SELECT t.id, r.id, r.reviewed_at,
			(SELECT MAX(j.completed_at) FROM reverification_jobs j
				WHERE j.token_id = t.id AND j.status = $2),
			EXISTS (SELECT 1 FROM reverification_jobs j
				WHERE j.token_id = t.id AND j.status = ANY($3))
		FROM tokens t
		JOIN LATERAL (
			SELECT vr.id, vr.reviewed_at FROM verification_requests vr
			WHERE vr.token_id = t.id AND vr.status = $1 AND vr.reviewed_at IS NOT NULL
			ORDER BY vr.reviewed_at DESC
			LIMIT 1
		) r ON TRUE
		ORDER BY r.reviewed_at`,
		string(vmodels.RequestStatusApproved), string(rmodels.JobStatusPassed), openJobStatuses,
	)
	if err != nil {
		return nil, translate(err, "list candidates")
	}
	defer rows.Close()

	var out []rmodels.Candidate
	for rows.Next() {
		var (
			c          rmodels.Candidate
			lastPassed sql.NullTime
		)
		if err := rows.Scan((*uuid.UUID)(&c.TokenID), (*uuid.UUID)(&c.RequestID), &c.ApprovedAt, &lastPassed, &c.HasOpenJob); err != nil {
			return nil, translate(err, "scan candidate")
		}
		c.ApprovedAt = c.ApprovedAt.UTC()
		c.LastPassedAt = timePtr(lastPassed)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err, "list candidates")
	}
	return out, nil
}

// CreateJob fails with ErrConflict if the token already has an open job.
func (s *Store) CreateJob(ctx context.Context, job *rmodels.Job) error {
	_, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO reverification_jobs (
			id, token_id, status, scheduled_at, started_at, completed_at,
			consecutive_failures, result_summary, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID.String(), job.TokenID.String(), string(job.Status), job.ScheduledAt.UTC(),
		nullTime(job.StartedAt), nullTime(job.CompletedAt), job.ConsecutiveFailures, job.ResultSummary, job.CreatedAt.UTC(),
	)
	return translate(err, "create job")
}

const jobColumns = `id, token_id, status, scheduled_at, started_at, completed_at,
	consecutive_failures, result_summary, created_at`

func scanJob(row interface{ Scan(...any) error }) (*rmodels.Job, error) {
	var (
		j                    rmodels.Job
		status               string
		startedAt, completed sql.NullTime
	)
	if err := row.Scan((*uuid.UUID)(&j.ID), (*uuid.UUID)(&j.TokenID), &status, &j.ScheduledAt, &startedAt, &completed,
		&j.ConsecutiveFailures, &j.ResultSummary, &j.CreatedAt); err != nil {
		return nil, err
	}
	j.Status = rmodels.JobStatus(status)
	j.ScheduledAt = j.ScheduledAt.UTC()
	j.CreatedAt = j.CreatedAt.UTC()
	j.StartedAt = timePtr(startedAt)
	j.CompletedAt = timePtr(completed)
	return &j, nil
}

func scanJobs(rows *sql.Rows) ([]*rmodels.Job, error) {
	defer rows.Close()
	var out []*rmodels.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, translate(err, "scan job")
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err, "scan jobs")
	}
	return out, nil
}

// ClaimDueJobs moves up to limit due jobs to in_progress. Rows locked by a
// concurrent claimer are skipped, so no job is handed out twice.
func (s *Store) ClaimDueJobs(ctx context.Context, now time.Time, limit int) ([]*rmodels.Job, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, `
		WITH due AS (
			SELECT id FROM reverification_jobs
			WHERE status = $2 AND scheduled_at <= $1
			ORDER BY scheduled_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		UPDATE reverification_jobs j SET status = $3, started_at = $1
		FROM due WHERE j.id = due.id
		RETURNING j.id, j.token_id, j.status, j.scheduled_at, j.started_at, j.completed_at,
			j.consecutive_failures, j.result_summary, j.created_at`,
		now.UTC(), string(rmodels.JobStatusScheduled), string(rmodels.JobStatusInProgress), limit,
	)
	if err != nil {
		return nil, translate(err, "claim due jobs")
	}
	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].ScheduledAt.Before(jobs[k].ScheduledAt) })
	return jobs, nil
}

func (s *Store) UpdateJob(ctx context.Context, job *rmodels.Job) error {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE reverification_jobs SET
			status = $2, started_at = $3, completed_at = $4,
			consecutive_failures = $5, result_summary = $6
		WHERE id = $1`,
		job.ID.String(), string(job.Status), nullTime(job.StartedAt), nullTime(job.CompletedAt),
		job.ConsecutiveFailures, job.ResultSummary,
	)
	if err != nil {
		return translate(err, "update job")
	}
	return expectRow(res, "job "+job.ID.String())
}

// ListJobs returns a token's jobs ordered by scheduled time.
func (s *Store) ListJobs(ctx context.Context, tokenID id.TokenID) ([]*rmodels.Job, error) {
	rows, err := s.conn(ctx).QueryContext(ctx,
		`SELECT `+jobColumns+` FROM reverification_jobs WHERE token_id = $1 ORDER BY scheduled_at`, tokenID.String())
	if err != nil {
		return nil, translate(err, "list jobs")
	}
	return scanJobs(rows)
}
