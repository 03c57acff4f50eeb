package generation

import (
	"bytes"
	"encoding/json"
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

func setupGenRouter(t *testing.T, gen *fakeGenerator, sessions *fakeSessions) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	login.RegisterUserResolver(func(email string) *migrations.User {
		return &migrations.User{ID: 1, Email: email}
	})
	t.Cleanup(func() { login.RegisterUserResolver(migrations.GetUserByEmail) })

	token, err := login.SignToken("maker@karto.local", time.Hour)
	require.NoError(t, err)

	orch := NewOrchestrator(gen, sessions)
	r := gin.New()
	NewHandler(orch, sessions).RegisterRoutes(r)
	return r, token
}

func postBatch(r *gin.Engine, body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/cards/batch-generate", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestBatchGenerate_RequiresAuth(t *testing.T) {
	r, _ := setupGenRouter(t, newFakeGenerator(), newFakeSessions())
	rr := postBatch(r, `{"sessionId":"s1","count":2,"concepts":["a","b"]}`, "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestBatchGenerate_ValidatesBody(t *testing.T) {
	r, token := setupGenRouter(t, newFakeGenerator(), newFakeSessions())
	for _, body := range []string{
		`{"count":2,"concepts":["a"]}`,
		`{"sessionId":"s1","count":0,"concepts":["a"]}`,
		`{"sessionId":"s1","count":2,"concepts":[]}`,
	} {
		rr := postBatch(r, body, token)
		assert.Equal(t, http.StatusBadRequest, rr.Code, "body %s", body)
	}
}

func TestBatchGenerate_OK(t *testing.T) {
	sessions := newFakeSessions()
	r, token := setupGenRouter(t, newFakeGenerator(), sessions)

	rr := postBatch(r, `{"sessionId":"s1","count":2,"concepts":["red mug","blue mug"]}`, token)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		ImageURLs           []string `json:"imageUrls"`
		GenerationUsed      int      `json:"generationUsed"`
		GenerationRemaining int      `json:"generationRemaining"`
		GenerationLimit     int      `json:"generationLimit"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Len(t, resp.ImageURLs, 2)
	assert.Equal(t, 2, resp.GenerationUsed)
	assert.Equal(t, 10, resp.GenerationRemaining)
	assert.Equal(t, 12, resp.GenerationLimit)
}

func TestBatchGenerate_LimitReached(t *testing.T) {
	sessions := newFakeSessions()
	sessions.set("s1", 12, 12)
	r, token := setupGenRouter(t, newFakeGenerator(), sessions)

	rr := postBatch(r, `{"sessionId":"s1","count":2,"concepts":["a","b"]}`, token)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Contains(t, rr.Body.String(), "VISUAL_LIMIT_REACHED")
}

func TestBatchGenerate_ServiceUnavailable(t *testing.T) {
	gen := newFakeGenerator()
	gen.permanent["a"] = true
	r, token := setupGenRouter(t, gen, newFakeSessions())

	rr := postBatch(r, `{"sessionId":"s1","count":1,"concepts":["a"]}`, token)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "SERVICE_UNAVAILABLE")
}

func TestVisualQuota_Endpoint(t *testing.T) {
	sessions := newFakeSessions()
	sessions.set("s9", 5, 12)
	r, token := setupGenRouter(t, newFakeGenerator(), sessions)

	req := httptest.NewRequest(http.MethodGet, "/cards/visual-quota?session_id=s9", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"generationUsed":5`)
	assert.Contains(t, rr.Body.String(), `"generationRemaining":7`)
}
