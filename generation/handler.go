package generation

import (
	"errors"
	"net/http"

	"karto-backend/login"

	"github.com/gin-gonic/gin"
)

type Handler struct {
	orch     *Orchestrator
	sessions SessionCounter
}

func NewHandler(orch *Orchestrator, sessions SessionCounter) *Handler {
	return &Handler{orch: orch, sessions: sessions}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.POST("/cards/batch-generate", h.batchGenerate)
	r.GET("/cards/visual-quota", h.visualQuota)
}

type batchReq struct {
	SessionID string   `json:"sessionId"`
	Count     int      `json:"count"`
	Concepts  []string `json:"concepts"`
}

func (h *Handler) batchGenerate(c *gin.Context) {
	if login.UserFromContext(c) == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
		return
	}
	var req batchReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if req.SessionID == "" || req.Count <= 0 || len(req.Concepts) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId, count and concepts are required"})
		return
	}

	res, err := h.orch.GenerateBatch(c.Request.Context(), req.SessionID, req.Concepts, req.Count)
	if err != nil {
		switch {
		case errors.Is(err, ErrQuotaExhausted):
			c.JSON(http.StatusForbidden, gin.H{"error": "VISUAL_LIMIT_REACHED"})
		case errors.Is(err, ErrProviderUnavailable):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "SERVICE_UNAVAILABLE"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"imageUrls":           res.ImageURLs,
		"generationUsed":      res.Quota.Used,
		"generationRemaining": res.Quota.Remaining(),
		"generationLimit":     res.Quota.Limit,
	})
}

func (h *Handler) visualQuota(c *gin.Context) {
	if login.UserFromContext(c) == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
		return
	}
	sessionID := c.Query("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return
	}
	q, err := h.sessions.Get(sessionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"generationUsed":      q.Used,
		"generationRemaining": q.Remaining(),
		"generationLimit":     q.Limit,
	})
}
