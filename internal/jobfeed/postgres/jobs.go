package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/job-alerts/internal/domain"
	"github.com/bissquit/job-alerts/internal/jobfeed"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const jobColumns = `
	id::text, title, description, skills,
	province, district, category, employment_type, work_mode, experience_level,
	salary_min, salary_max, moderation_status, status, created_at, updated_at`

// Jobs implements jobfeed.JobReader on the catalog jobs table.
type Jobs struct {
	db *pgxpool.Pool
}

// NewJobs creates a new job reader.
func NewJobs(db *pgxpool.Pool) *Jobs {
	return &Jobs{db: db}
}

// GetJob returns the current state of a job.
func (j *Jobs) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	job, err := scanJob(j.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1::uuid`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, jobfeed.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ListPublishable returns the approved, active jobs among ids in ids order.
// Unknown and unpublished jobs are left out.
func (j *Jobs) ListPublishable(ctx context.Context, ids []string) ([]domain.Job, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := j.db.Query(ctx, `
		SELECT `+jobColumns+`
		FROM jobs
		WHERE id = ANY($1::uuid[]) AND moderation_status = $2 AND status = $3
	`, ids, string(domain.ModerationApproved), string(domain.JobStatusActive))
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]domain.Job, len(ids))
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		byID[job.ID] = *job
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}

	out := make([]domain.Job, 0, len(byID))
	for _, id := range ids {
		if job, ok := byID[id]; ok {
			out = append(out, job)
			delete(byID, id)
		}
	}
	return out, nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job                domain.Job
		moderation, status string
	)
	err := row.Scan(
		&job.ID,
		&job.Title,
		&job.Description,
		&job.Skills,
		&job.Province,
		&job.District,
		&job.Category,
		&job.EmploymentType,
		&job.WorkMode,
		&job.ExperienceLevel,
		&job.SalaryMin,
		&job.SalaryMax,
		&moderation,
		&status,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.ModerationStatus = domain.ModerationStatus(moderation)
	job.Status = domain.JobStatus(status)
	return &job, nil
}
