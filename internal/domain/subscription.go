package domain

import "time"

// Frequency is the digest cadence of a subscription.
type Frequency string

// Digest frequencies.
const (
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
)

// IsValid checks if the frequency is known.
func (f Frequency) IsValid() bool {
	return f == FrequencyDaily || f == FrequencyWeekly
}

// DeliveryMethod tells the downstream consumer how to deliver a digest.
type DeliveryMethod string

// Delivery methods.
const (
	DeliveryEmail DeliveryMethod = "email"
	DeliveryInApp DeliveryMethod = "in-app"
	DeliveryBoth  DeliveryMethod = "both"
)

// IsValid checks if the delivery method is known.
func (d DeliveryMethod) IsValid() bool {
	return d == DeliveryEmail || d == DeliveryInApp || d == DeliveryBoth
}

// SalaryBucket is an enumerated salary range (VND).
type SalaryBucket string

// Salary buckets.
const (
	SalaryAny      SalaryBucket = "ALL"
	SalaryUnder10M SalaryBucket = "UNDER_10M"
	Salary10MTo20M SalaryBucket = "FROM_10M_TO_20M"
	Salary20MTo30M SalaryBucket = "FROM_20M_TO_30M"
	SalaryOver30M  SalaryBucket = "OVER_30M"
)

// SalaryBuckets lists every known bucket.
func SalaryBuckets() []SalaryBucket {
	return []SalaryBucket{SalaryAny, SalaryUnder10M, Salary10MTo20M, Salary20MTo30M, SalaryOver30M}
}

// IsValid checks if the bucket is known.
func (b SalaryBucket) IsValid() bool {
	switch b {
	case SalaryAny, SalaryUnder10M, Salary10MTo20M, Salary20MTo30M, SalaryOver30M:
		return true
	}
	return false
}

// Criteria holds the hard-filter fields of a subscription.
type Criteria struct {
	Province        Filter
	District        Filter
	Category        Filter
	EmploymentType  Filter
	WorkMode        Filter
	ExperienceLevel Filter
	SalaryBucket    SalaryBucket
}

// AnyCriteria returns criteria that accept every job.
func AnyCriteria() Criteria {
	return Criteria{
		Province:        Any(),
		District:        Any(),
		Category:        Any(),
		EmploymentType:  Any(),
		WorkMode:        Any(),
		ExperienceLevel: Any(),
		SalaryBucket:    SalaryAny,
	}
}

// Subscription is a candidate's saved job alert.
type Subscription struct {
	ID             string
	OwnerID        string
	Keyword        string
	Criteria       Criteria
	Frequency      Frequency
	DeliveryMethod DeliveryMethod
	Active         bool
	LastNotifiedAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
