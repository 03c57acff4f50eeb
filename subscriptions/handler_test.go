package subscriptions

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"karto-backend/login"
	"karto-backend/migrations"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLedger struct {
	sub       *Subscription
	created   []PlanType
	deleted   int
	getErr    error
	createErr error
}

func (m *mockLedger) GetActiveSubscription(userID int) (*Subscription, error) {
	return m.sub, m.getErr
}

func (m *mockLedger) CreateOrReplace(userID int, planType PlanType, volume int) (*Subscription, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.created = append(m.created, planType)
	return &Subscription{UserID: userID, PlanType: planType, PlanVolume: volume, PeriodStart: time.Now()}, nil
}

func (m *mockLedger) DeleteSubscription(userID int) error {
	m.deleted++
	return nil
}

func setupSubsRouter(t *testing.T, ledger Ledger) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	login.RegisterUserResolver(func(email string) *migrations.User {
		return &migrations.User{ID: 4, Email: email}
	})
	t.Cleanup(func() { login.RegisterUserResolver(migrations.GetUserByEmail) })

	token, err := login.SignToken("seller@karto.local", time.Hour)
	require.NoError(t, err)

	r := gin.New()
	NewHandler(ledger).RegisterRoutes(r)
	return r, token
}

func get(r *gin.Engine, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func post(r *gin.Engine, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestGetPlans_ListsTariffs(t *testing.T) {
	r, _ := setupSubsRouter(t, &mockLedger{})
	rr := get(r, "/plans", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"plan_type":"flow"`)
	assert.Contains(t, rr.Body.String(), `"plan_type":"creative"`)
}

func TestGetSubscription_RequiresAuth(t *testing.T) {
	r, _ := setupSubsRouter(t, &mockLedger{})
	rr := get(r, "/subscription", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestGetSubscription_NoActivePlan(t *testing.T) {
	r, token := setupSubsRouter(t, &mockLedger{})
	rr := get(r, "/subscription", token)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"active":false`)
}

func TestGetSubscription_ActivePlanWithRemaining(t *testing.T) {
	ledger := &mockLedger{sub: &Subscription{
		UserID: 4, PlanType: PlanFlow, PlanVolume: 5, FlowsUsed: 2,
		PeriodStart: time.Now().Add(-24 * time.Hour),
	}}
	r, token := setupSubsRouter(t, ledger)
	rr := get(r, "/subscription", token)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"active":true`)
	assert.Contains(t, rr.Body.String(), `"remaining":3`)
}

func TestSelectFree_CreatesStarterFlow(t *testing.T) {
	ledger := &mockLedger{}
	r, token := setupSubsRouter(t, ledger)
	rr := post(r, "/subscription/select-free", token)
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Len(t, ledger.created, 1)
	assert.Equal(t, PlanFlow, ledger.created[0])
}

func TestSelectFree_ConflictsWithActivePlan(t *testing.T) {
	ledger := &mockLedger{sub: &Subscription{PlanType: PlanCreative, PlanVolume: 10, PeriodStart: time.Now()}}
	r, token := setupSubsRouter(t, ledger)
	rr := post(r, "/subscription/select-free", token)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Empty(t, ledger.created)
}

func TestCancelSubscription(t *testing.T) {
	ledger := &mockLedger{}
	r, token := setupSubsRouter(t, ledger)
	rr := post(r, "/cancel-subscription", token)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, ledger.deleted)
}
