package subscriptions

import (
	"net/http"

	"karto-backend/login"

	"github.com/gin-gonic/gin"
)

// Ledger matches the minimal surface the handler needs from Repository.
type Ledger interface {
	GetActiveSubscription(userID int) (*Subscription, error)
	CreateOrReplace(userID int, planType PlanType, volume int) (*Subscription, error)
	DeleteSubscription(userID int) error
}

type Handler struct {
	ledger Ledger
}

func NewHandler(ledger Ledger) *Handler {
	return &Handler{ledger: ledger}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/plans", h.getPlans)
	r.GET("/subscription", h.getSubscription)
	r.POST("/subscription/select-free", h.selectFree)
	r.POST("/cancel-subscription", h.cancelSubscription)
}

func (h *Handler) getPlans(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": Catalog()})
}

func (h *Handler) getSubscription(c *gin.Context) {
	user := login.UserFromContext(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
		return
	}
	sub, err := h.ledger.GetActiveSubscription(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if sub == nil {
		c.JSON(http.StatusOK, gin.H{"active": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"active":       true,
		"subscription": sub,
		"remaining":    sub.Remaining(),
		"expires_at":   sub.ExpiresAt(),
	})
}

// selectFree grants a one-flow starter plan without payment. Mirrors the paid
// path through CreateOrReplace so the expiry rules are identical.
func (h *Handler) selectFree(c *gin.Context) {
	user := login.UserFromContext(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
		return
	}
	existing, err := h.ledger.GetActiveSubscription(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if existing != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "plan already active"})
		return
	}
	sub, err := h.ledger.CreateOrReplace(user.ID, PlanFlow, 1)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, sub)
}

func (h *Handler) cancelSubscription(c *gin.Context) {
	user := login.UserFromContext(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
		return
	}
	if err := h.ledger.DeleteSubscription(user.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
