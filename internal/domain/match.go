package domain

import "time"

// PendingMatch records that a job matched at least one active subscription
// of an owner and is waiting for the next digest.
type PendingMatch struct {
	OwnerID                string
	JobID                  string
	SubscriptionID         string
	MatchedSubscriptionIDs []string
	Score                  int
	CreatedAt              time.Time
	ExpiresAt              time.Time
}
