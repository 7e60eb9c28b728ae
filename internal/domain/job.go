package domain

import "time"

// ModerationStatus is the review state of a job posting.
type ModerationStatus string

// Moderation statuses.
const (
	ModerationPending  ModerationStatus = "pending"
	ModerationApproved ModerationStatus = "approved"
	ModerationRejected ModerationStatus = "rejected"
)

// JobStatus is the publish state of a job posting.
type JobStatus string

// Job statuses.
const (
	JobStatusDraft   JobStatus = "draft"
	JobStatusActive  JobStatus = "active"
	JobStatusClosed  JobStatus = "closed"
	JobStatusExpired JobStatus = "expired"
)

// IsPublishable reports whether a job with these statuses is visible to candidates.
func IsPublishable(moderation ModerationStatus, status JobStatus) bool {
	return moderation == ModerationApproved && status == JobStatusActive
}

// Job is a posting from the job catalog. Read-only for this service.
type Job struct {
	ID               string
	Title            string
	Description      string
	Skills           []string
	Province         string
	District         string
	Category         string
	EmploymentType   string
	WorkMode         string
	ExperienceLevel  string
	SalaryMin        *int64
	SalaryMax        *int64
	ModerationStatus ModerationStatus
	Status           JobStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsPublishable reports whether the job is approved and active.
func (j *Job) IsPublishable() bool {
	return IsPublishable(j.ModerationStatus, j.Status)
}
