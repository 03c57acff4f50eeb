package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"karto-backend/login"
	"karto-backend/subscriptions"

	"github.com/gin-gonic/gin"
)

// ProcessorClient is the provider surface the handler needs beyond capture.
type ProcessorClient interface {
	CreatePayment(ctx context.Context, amount Amount, meta Metadata, description string) (*CreatedPayment, error)
	GetPayment(ctx context.Context, paymentID string) (*Payment, error)
}

// Records is the payment-record surface the handler needs.
type Records interface {
	Create(rec *Record) error
	FindByPaymentID(paymentID string) (*Record, error)
	LatestPending(userID int) (*Record, error)
}

type Handler struct {
	svc       *Service
	processor ProcessorClient
	records   Records
}

func NewHandler(svc *Service, processor ProcessorClient, records Records) *Handler {
	return &Handler{svc: svc, processor: processor, records: records}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.POST("/payments/create", h.createPayment)
	r.POST("/payments/webhook", h.webhook)
	r.POST("/payments/confirm", h.confirm)
}

type createPaymentReq struct {
	PlanType    string `json:"plan_type"`
	TariffIndex int    `json:"tariff_index"`
}

// createPayment registers a two-stage payment at the processor and records it
// locally so confirm can find it later without an explicit id.
func (h *Handler) createPayment(c *gin.Context) {
	user := login.UserFromContext(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
		return
	}
	var req createPaymentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	tariff, ok := subscriptions.TariffFor(subscriptions.PlanType(req.PlanType), req.TariffIndex)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown plan or tariff"})
		return
	}

	amount := Amount{Value: tariff.Price, Currency: tariff.Currency}
	meta := Metadata{
		UserID:      fmt.Sprintf("%d", user.ID),
		PlanType:    string(tariff.PlanType),
		TariffIndex: fmt.Sprintf("%d", tariff.Index),
	}
	desc := fmt.Sprintf("Karto %s plan, %d credits", tariff.PlanType, tariff.Volume)
	created, err := h.processor.CreatePayment(c.Request.Context(), amount, meta, desc)
	if err != nil {
		log.Printf("[payments][create_failed] user_id=%d plan=%s err=%v", user.ID, tariff.PlanType, err)
		c.JSON(http.StatusOK, gin.H{"success": false, "error": "payment provider unavailable"})
		return
	}

	rec := &Record{
		PaymentID:   created.ID,
		UserID:      user.ID,
		Provider:    "yookassa",
		PlanType:    string(tariff.PlanType),
		TariffIndex: tariff.Index,
		Amount:      amount,
		Status:      created.Status,
	}
	if err := h.records.Create(rec); err != nil {
		log.Printf("[payments][record_failed] payment_id=%s err=%v", created.ID, err)
	}
	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"payment_id":       created.ID,
		"confirmation_url": created.Confirmation.URL,
	})
}

type webhookEvent struct {
	Type   string  `json:"type"`
	Event  string  `json:"event"`
	Object Payment `json:"object"`
}

// webhook handles at-least-once processor deliveries. 400 only for JSON the
// parser rejects; every recognized-but-ignored or already-settled delivery is
// a prompt 200 so the processor stops retrying.
func (h *Handler) webhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	var evt webhookEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if evt.Object.ID == "" {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	if _, err := h.svc.ProcessEvent(c.Request.Context(), &evt.Object); err != nil {
		// The claim row is already durable at this point; a retry of this
		// delivery is a no-op. Surface nothing to the processor.
		log.Printf("[payments][webhook] payment_id=%s event=%s err=%v", evt.Object.ID, evt.Event, err)
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type confirmReq struct {
	PaymentID string `json:"payment_id"`
}

// confirm is the client-initiated pull path. Payment-domain failures stay
// inside a 200 {success:false} so clients do not retry-storm; only auth uses
// an HTTP error code.
func (h *Handler) confirm(c *gin.Context) {
	user := login.UserFromContext(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
		return
	}
	var req confirmReq
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": "invalid payload"})
		return
	}

	paymentID := req.PaymentID
	if paymentID == "" {
		rec, err := h.records.LatestPending(user.ID)
		if err != nil {
			log.Printf("[payments][confirm] user_id=%d err=%v", user.ID, err)
			c.JSON(http.StatusOK, gin.H{"success": false, "error": "lookup failed"})
			return
		}
		if rec == nil {
			c.JSON(http.StatusOK, gin.H{"success": false, "error": "no pending payment"})
			return
		}
		paymentID = rec.PaymentID
	} else {
		rec, err := h.records.FindByPaymentID(paymentID)
		if err != nil {
			log.Printf("[payments][confirm] payment_id=%s err=%v", paymentID, err)
			c.JSON(http.StatusOK, gin.H{"success": false, "error": "lookup failed"})
			return
		}
		if rec != nil && rec.UserID != user.ID {
			c.JSON(http.StatusOK, gin.H{"success": false, "error": "payment not found"})
			return
		}
	}

	p, err := h.processor.GetPayment(c.Request.Context(), paymentID)
	if err != nil {
		log.Printf("[payments][confirm] payment_id=%s err=%v", paymentID, err)
		c.JSON(http.StatusOK, gin.H{"success": false, "error": "payment provider unavailable"})
		return
	}
	settled, err := h.svc.ProcessEvent(c.Request.Context(), p)
	if err != nil {
		log.Printf("[payments][confirm] payment_id=%s err=%v", paymentID, err)
		c.JSON(http.StatusOK, gin.H{"success": false, "error": "settlement failed"})
		return
	}
	if !settled {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": "payment not completed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
