package quota

import (
	"context"
	"errors"
	"log"
	"os"

	"karto-backend/login"
	"karto-backend/subscriptions"

	"github.com/gin-gonic/gin"
)

var ErrQuotaExhausted = errors.New("quota exhausted")

// Flow to ledger plan-type mapping. Starting a card-generation flow consumes
// a flow credit; a standalone image generation consumes a creative credit.
// In-flow variant regeneration is governed by the session counter instead and
// is intentionally omitted here.
var flowPlan = map[string]subscriptions.PlanType{
	"flow_start":        subscriptions.PlanFlow,
	"creative_generate": subscriptions.PlanCreative,
}

// LedgerSource matches the subset of subscriptions.Repository the validator reads.
type LedgerSource interface {
	GetActiveSubscription(userID int) (*subscriptions.Subscription, error)
	ConsumeQuota(userID int, planType subscriptions.PlanType, n int) (bool, error)
}

// Validator provides ledger validation wired into handlers.
type Validator struct {
	subs LedgerSource
}

func NewValidator(subs LedgerSource) *Validator { return &Validator{subs: subs} }

// ValidateAndConsume identifies the user from the Authorization token,
// fetches the active subscription and debits one credit of the mapped plan
// type. The precheck is the primary enforcement; the conditional debit is the
// guard against concurrent exhaustion.
func (v *Validator) ValidateAndConsume(ctx context.Context, c *gin.Context, flow string) error {
	plan, ok := flowPlan[flow]
	if !ok { // Unknown flow -> allow
		log.Printf("[quota][skip] flow=%s reason=unknown_flow", flow)
		return nil
	}
	if os.Getenv("QUOTA_DISABLE") == "1" {
		c.Set("quota_plan", string(plan))
		c.Set("quota_remaining", "debug-infinite")
		log.Printf("[quota][bypass] flow=%s plan=%s QUOTA_DISABLE=1", flow, plan)
		return nil
	}
	user := login.UserFromContext(c)
	if user == nil {
		log.Printf("[quota][deny] flow=%s plan=%s reason=invalid_session", flow, plan)
		return errors.New("invalid session")
	}
	sub, err := v.subs.GetActiveSubscription(user.ID)
	if err != nil {
		log.Printf("[quota][error] flow=%s plan=%s user_id=%d err=%v", flow, plan, user.ID, err)
		return err
	}
	if sub == nil || sub.PlanType != plan {
		log.Printf("[quota][deny] flow=%s plan=%s user_id=%d reason=no_subscription", flow, plan, user.ID)
		return errors.New("no subscription")
	}
	remaining := sub.Remaining()
	if remaining <= 0 {
		c.Set("quota_error_reason", "exhausted")
		log.Printf("[quota][exhausted] flow=%s plan=%s user_id=%d sub_id=%d remaining=%d", flow, plan, user.ID, sub.ID, remaining)
		return ErrQuotaExhausted
	}
	consumed, err := v.subs.ConsumeQuota(user.ID, plan, 1)
	if err != nil {
		log.Printf("[quota][error] flow=%s plan=%s user_id=%d sub_id=%d err=%v", flow, plan, user.ID, sub.ID, err)
		return err
	}
	if !consumed {
		c.Set("quota_error_reason", "exhausted")
		log.Printf("[quota][race_exhausted] flow=%s plan=%s user_id=%d sub_id=%d remaining_precheck=%d", flow, plan, user.ID, sub.ID, remaining)
		return ErrQuotaExhausted
	}
	c.Set("quota_plan", string(plan))
	c.Set("quota_remaining", remaining-1)
	log.Printf("[quota][ok] flow=%s plan=%s user_id=%d sub_id=%d remaining_after=%d", flow, plan, user.ID, sub.ID, remaining-1)
	return nil
}

// Middleware wraps ValidateAndConsume for route-level use.
func (v *Validator) Middleware(flow string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := v.ValidateAndConsume(c.Request.Context(), c, flow); err != nil {
			status := 403
			body := gin.H{"error": err.Error()}
			if errors.Is(err, ErrQuotaExhausted) {
				body["code"] = "QUOTA_EXHAUSTED"
			}
			c.JSON(status, body)
			c.Abort()
			return
		}
		c.Next()
	}
}
