package quota

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"karto-backend/login"
	"karto-backend/migrations"
	"karto-backend/subscriptions"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLedgerSource struct {
	sub      *subscriptions.Subscription
	consumed []int
	allow    bool
}

func (f *fakeLedgerSource) GetActiveSubscription(userID int) (*subscriptions.Subscription, error) {
	return f.sub, nil
}

func (f *fakeLedgerSource) ConsumeQuota(userID int, planType subscriptions.PlanType, n int) (bool, error) {
	if !f.allow {
		return false, nil
	}
	f.consumed = append(f.consumed, n)
	return true, nil
}

func setupValidatorRouter(t *testing.T, src *fakeLedgerSource, flow string) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	login.RegisterUserResolver(func(email string) *migrations.User {
		return &migrations.User{ID: 2, Email: email}
	})
	t.Cleanup(func() { login.RegisterUserResolver(migrations.GetUserByEmail) })

	token, err := login.SignToken("maker@karto.local", time.Hour)
	require.NoError(t, err)

	v := NewValidator(src)
	r := gin.New()
	r.POST("/start", v.Middleware(flow), func(c *gin.Context) {
		remaining, _ := c.Get("quota_remaining")
		c.JSON(http.StatusOK, gin.H{"remaining": remaining})
	})
	return r, token
}

func hit(r *gin.Engine, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/start", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func activeFlowSub(used int) *subscriptions.Subscription {
	return &subscriptions.Subscription{
		ID: 1, UserID: 2, PlanType: subscriptions.PlanFlow, PlanVolume: 5,
		FlowsUsed: used, PeriodStart: time.Now().Add(-time.Hour),
	}
}

func TestValidator_ConsumesOneFlowCredit(t *testing.T) {
	src := &fakeLedgerSource{sub: activeFlowSub(1), allow: true}
	r, token := setupValidatorRouter(t, src, "flow_start")

	rr := hit(r, token)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"remaining":3`)
	assert.Equal(t, []int{1}, src.consumed)
}

func TestValidator_DeniesWithoutToken(t *testing.T) {
	src := &fakeLedgerSource{sub: activeFlowSub(0), allow: true}
	r, _ := setupValidatorRouter(t, src, "flow_start")

	rr := hit(r, "")
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Empty(t, src.consumed)
}

func TestValidator_DeniesWithoutSubscription(t *testing.T) {
	src := &fakeLedgerSource{allow: true}
	r, token := setupValidatorRouter(t, src, "flow_start")

	rr := hit(r, token)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Empty(t, src.consumed)
}

func TestValidator_DeniesWrongPlanType(t *testing.T) {
	src := &fakeLedgerSource{sub: activeFlowSub(0), allow: true}
	r, token := setupValidatorRouter(t, src, "creative_generate")

	rr := hit(r, token)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Empty(t, src.consumed)
}

func TestValidator_ExhaustedPlanGetsUpsellCode(t *testing.T) {
	src := &fakeLedgerSource{sub: activeFlowSub(5), allow: true}
	r, token := setupValidatorRouter(t, src, "flow_start")

	rr := hit(r, token)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Contains(t, rr.Body.String(), "QUOTA_EXHAUSTED")
	assert.Empty(t, src.consumed)
}

func TestValidator_RaceExhaustionDenied(t *testing.T) {
	// Precheck sees capacity but the conditional debit loses the race.
	src := &fakeLedgerSource{sub: activeFlowSub(4), allow: false}
	r, token := setupValidatorRouter(t, src, "flow_start")

	rr := hit(r, token)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Contains(t, rr.Body.String(), "QUOTA_EXHAUSTED")
	assert.Empty(t, src.consumed, "a refused debit must not consume a credit")
}

func TestValidator_UnknownFlowAllowed(t *testing.T) {
	src := &fakeLedgerSource{}
	r, token := setupValidatorRouter(t, src, "card_description")

	rr := hit(r, token)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, src.consumed)
}
