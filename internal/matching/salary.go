package matching

import "github.com/bissquit/job-alerts/internal/domain"

const (
	tenMillion    int64 = 10_000_000
	twentyMillion int64 = 20_000_000
	thirtyMillion int64 = 30_000_000
)

// SalaryMatches reports whether a job's salary range satisfies the bucket.
// A bound the bucket depends on but the job does not publish fails the bucket.
func SalaryMatches(bucket domain.SalaryBucket, min, max *int64) bool {
	switch bucket {
	case domain.SalaryAny, "":
		return true
	case domain.SalaryUnder10M:
		return max != nil && *max < tenMillion
	case domain.Salary10MTo20M:
		return min != nil && max != nil && *min >= tenMillion && *max <= twentyMillion
	case domain.Salary20MTo30M:
		return min != nil && max != nil && *min >= twentyMillion && *max <= thirtyMillion
	case domain.SalaryOver30M:
		return min != nil && *min > thirtyMillion
	default:
		return false
	}
}
