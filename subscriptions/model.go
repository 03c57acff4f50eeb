package subscriptions

import "time"

// PlanType selects which usage counter a subscription consumes. The two types
// are mutually exclusive: a user has at most one active plan.
type PlanType string

const (
	PlanFlow     PlanType = "flow"
	PlanCreative PlanType = "creative"
)

// PlanPeriod is the rolling entitlement window started on purchase.
const PlanPeriod = 30 * 24 * time.Hour

func (p PlanType) Valid() bool {
	return p == PlanFlow || p == PlanCreative
}

type Subscription struct {
	ID           int       `json:"id"`
	UserID       int       `json:"user_id"`
	PlanType     PlanType  `json:"plan_type"`
	PlanVolume   int       `json:"plan_volume"`
	PeriodStart  time.Time `json:"period_start"`
	FlowsUsed    int       `json:"flows_used"`
	CreativeUsed int       `json:"creative_used"`
}

// ExpiresAt is period_start plus the 30-day window.
func (s *Subscription) ExpiresAt() time.Time {
	return s.PeriodStart.Add(PlanPeriod)
}

// ExpiredAt reports whether the subscription is logically dead at now.
func (s *Subscription) ExpiredAt(now time.Time) bool {
	return !now.Before(s.ExpiresAt())
}

// Used returns the consumption counter matching the plan type.
func (s *Subscription) Used() int {
	if s.PlanType == PlanCreative {
		return s.CreativeUsed
	}
	return s.FlowsUsed
}

// Remaining returns unconsumed volume for the plan's own counter, never negative.
func (s *Subscription) Remaining() int {
	r := s.PlanVolume - s.Used()
	if r < 0 {
		return 0
	}
	return r
}
