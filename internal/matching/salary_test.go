package matching

import (
	"testing"

	"github.com/bissquit/job-alerts/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestSalaryMatches(t *testing.T) {
	m := func(v int64) *int64 { return &v }

	tests := []struct {
		name     string
		bucket   domain.SalaryBucket
		min, max *int64
		want     bool
	}{
		{"all without salary", domain.SalaryAny, nil, nil, true},
		{"under 10M", domain.SalaryUnder10M, m(5_000_000), m(9_999_999), true},
		{"under 10M boundary", domain.SalaryUnder10M, m(5_000_000), m(10_000_000), false},
		{"under 10M without max", domain.SalaryUnder10M, m(5_000_000), nil, false},
		{"10-20M", domain.Salary10MTo20M, m(10_000_000), m(20_000_000), true},
		{"10-20M max too high", domain.Salary10MTo20M, m(10_000_000), m(20_000_001), false},
		{"10-20M without min", domain.Salary10MTo20M, nil, m(15_000_000), false},
		{"20-30M", domain.Salary20MTo30M, m(20_000_000), m(30_000_000), true},
		{"20-30M min too low", domain.Salary20MTo30M, m(19_000_000), m(25_000_000), false},
		{"over 30M", domain.SalaryOver30M, m(30_000_001), nil, true},
		{"over 30M boundary", domain.SalaryOver30M, m(30_000_000), m(50_000_000), false},
		{"over 30M without min", domain.SalaryOver30M, nil, m(50_000_000), false},
		{"unknown bucket", domain.SalaryBucket("FREE"), m(1), m(2), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SalaryMatches(tt.bucket, tt.min, tt.max))
		})
	}
}
