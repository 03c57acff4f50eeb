package subscriptions

import (
	"database/sql"
	"fmt"
	"log"
	"time"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var now = time.Now

// GetActiveSubscription returns the user's subscription or nil. A row past its
// 30-day window is deleted on read so a later purchase starts a fresh period.
func (r *Repository) GetActiveSubscription(userID int) (*Subscription, error) {
	row := r.db.QueryRow(`SELECT id, user_id, plan_type, plan_volume, period_start, flows_used, creative_used FROM subscriptions WHERE user_id=? LIMIT 1`, userID)
	var s Subscription
	if err := row.Scan(&s.ID, &s.UserID, &s.PlanType, &s.PlanVolume, &s.PeriodStart, &s.FlowsUsed, &s.CreativeUsed); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan subscription: %w", err)
	}
	if s.ExpiredAt(now()) {
		if _, err := r.db.Exec(`DELETE FROM subscriptions WHERE id=?`, s.ID); err != nil {
			return nil, fmt.Errorf("delete expired subscription: %w", err)
		}
		log.Printf("[ledger][expired] user_id=%d sub_id=%d period_start=%s", userID, s.ID, s.PeriodStart.Format(time.RFC3339))
		return nil, nil
	}
	return &s, nil
}

// CreateOrReplace upserts the user's subscription for a purchase or renewal.
// A same-type renewal carries the remaining volume into the new period; a
// plan switch discards the old plan entirely. Counters reset either way and
// the 30-day window restarts.
func (r *Repository) CreateOrReplace(userID int, planType PlanType, volume int) (*Subscription, error) {
	if !planType.Valid() {
		return nil, fmt.Errorf("invalid plan type %q", planType)
	}
	if volume <= 0 {
		return nil, fmt.Errorf("invalid plan volume %d", volume)
	}
	current, err := r.GetActiveSubscription(userID)
	if err != nil {
		return nil, err
	}
	newVolume := volume
	if current != nil && current.PlanType == planType {
		newVolume += current.Remaining()
	}
	start := now()
	_, err = r.db.Exec(`INSERT INTO subscriptions (user_id, plan_type, plan_volume, period_start, flows_used, creative_used)
		VALUES (?,?,?,?,0,0)
		ON DUPLICATE KEY UPDATE plan_type=VALUES(plan_type), plan_volume=VALUES(plan_volume), period_start=VALUES(period_start), flows_used=0, creative_used=0`,
		userID, string(planType), newVolume, start)
	if err != nil {
		return nil, fmt.Errorf("upsert subscription: %w", err)
	}
	log.Printf("[ledger][grant] user_id=%d plan=%s volume=%d period_start=%s", userID, planType, newVolume, start.Format(time.RFC3339))
	return r.GetActiveSubscription(userID)
}

// ConsumeQuota debits n credits from the plan's counter. The UPDATE is
// conditional on the ceiling, so a concurrent debit that would push usage
// past plan_volume simply matches zero rows and reports false.
func (r *Repository) ConsumeQuota(userID int, planType PlanType, n int) (bool, error) {
	if n <= 0 {
		return false, fmt.Errorf("consume amount must be positive, got %d", n)
	}
	column := "flows_used"
	if planType == PlanCreative {
		column = "creative_used"
	}
	query := fmt.Sprintf(`UPDATE subscriptions SET %s = %s + ? WHERE user_id=? AND plan_type=? AND %s + ? <= plan_volume`, column, column, column)
	res, err := r.db.Exec(query, n, userID, string(planType), n)
	if err != nil {
		return false, fmt.Errorf("consume quota: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// DeleteSubscription removes the user's subscription (cancel path).
func (r *Repository) DeleteSubscription(userID int) error {
	_, err := r.db.Exec(`DELETE FROM subscriptions WHERE user_id=?`, userID)
	return err
}
