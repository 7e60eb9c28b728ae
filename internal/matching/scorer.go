// Package matching scores job postings against subscriptions.
package matching

import (
	"sort"
	"strings"

	"github.com/bissquit/job-alerts/internal/domain"
)

// Weights are the points awarded by each scoring rule.
type Weights struct {
	Title       int
	Skill       int
	Description int
	Filter      int
	Category    int
}

// DefaultWeights returns the stock weights.
func DefaultWeights() Weights {
	return Weights{Title: 20, Skill: 15, Description: 5, Filter: 30, Category: 10}
}

// Config configures a Scorer.
type Config struct {
	Weights   Weights
	Threshold int
}

// DefaultConfig returns the stock weights with threshold 30.
func DefaultConfig() Config {
	return Config{Weights: DefaultWeights(), Threshold: 30}
}

// Scorer computes relevance scores. It holds no mutable state.
type Scorer struct {
	cfg Config
}

// NewScorer creates a new scorer.
func NewScorer(cfg Config) *Scorer {
	return &Scorer{cfg: cfg}
}

// Match is the outcome of scoring a job against one owner's subscriptions.
type Match struct {
	Primary     *domain.Subscription
	Score       int
	AcceptedIDs []string
}

// PreparedJob holds normalized job text so it is folded once per job.
type PreparedJob struct {
	Job         *domain.Job
	title       string
	skills      []string
	description string
}

// Prepare normalizes the searchable text of job.
func Prepare(job *domain.Job) *PreparedJob {
	skills := make([]string, 0, len(job.Skills))
	for _, s := range job.Skills {
		skills = append(skills, Normalize(s))
	}
	return &PreparedJob{
		Job:         job,
		title:       Normalize(job.Title),
		skills:      skills,
		description: Normalize(job.Description),
	}
}

// PassesFilter reports whether the job satisfies every hard criterion.
func PassesFilter(job *domain.Job, c domain.Criteria) bool {
	return c.Province.Matches(job.Province) &&
		c.District.Matches(job.District) &&
		c.Category.Matches(job.Category) &&
		c.EmploymentType.Matches(job.EmploymentType) &&
		c.WorkMode.Matches(job.WorkMode) &&
		c.ExperienceLevel.Matches(job.ExperienceLevel) &&
		SalaryMatches(c.SalaryBucket, job.SalaryMin, job.SalaryMax)
}

// Score returns the relevance of job for sub. Jobs failing the hard filter
// score 0.
func (s *Scorer) Score(job *PreparedJob, sub *domain.Subscription) int {
	if !PassesFilter(job.Job, sub.Criteria) {
		return 0
	}

	w := s.cfg.Weights
	score := w.Filter

	keyword := NormalizeKeyword(sub.Keyword)
	if keyword != "" {
		if strings.Contains(job.title, keyword) {
			score += w.Title
		}
		for _, skill := range job.skills {
			if strings.Contains(skill, keyword) {
				score += w.Skill
				break
			}
		}
		if strings.Contains(job.description, keyword) {
			score += w.Description
		}
	}

	if !sub.Criteria.Category.IsAny() {
		score += w.Category
	}

	return score
}

// Accepts reports whether score clears the threshold.
func (s *Scorer) Accepts(score int) bool {
	return score > s.cfg.Threshold
}

// Best scores job against subs and returns the highest-scoring accepted
// subscription. Ties go to the earliest created subscription, then the
// lowest ID. ok is false when nothing is accepted.
func (s *Scorer) Best(job *PreparedJob, subs []*domain.Subscription) (Match, bool) {
	type scored struct {
		sub   *domain.Subscription
		score int
	}

	accepted := make([]scored, 0, len(subs))
	for _, sub := range subs {
		if !sub.Active {
			continue
		}
		if score := s.Score(job, sub); s.Accepts(score) {
			accepted = append(accepted, scored{sub: sub, score: score})
		}
	}
	if len(accepted) == 0 {
		return Match{}, false
	}

	sort.SliceStable(accepted, func(i, j int) bool {
		a, b := accepted[i], accepted[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if !a.sub.CreatedAt.Equal(b.sub.CreatedAt) {
			return a.sub.CreatedAt.Before(b.sub.CreatedAt)
		}
		return a.sub.ID < b.sub.ID
	})

	ids := make([]string, 0, len(accepted))
	for _, a := range accepted {
		ids = append(ids, a.sub.ID)
	}

	return Match{
		Primary:     accepted[0].sub,
		Score:       accepted[0].score,
		AcceptedIDs: ids,
	}, true
}
