package main

import (
	"log"
	"net/http"
	"os"

	"karto-backend/conn"
	"karto-backend/generation"
	"karto-backend/login"
	"karto-backend/metrics"
	"karto-backend/migrations"
	"karto-backend/openai"
	"karto-backend/payments"
	"karto-backend/quota"
	"karto-backend/subscriptions"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	db, err := conn.NewMySQL()
	if err != nil {
		log.Fatalf("[boot] mysql: %v", err)
	}
	migrations.Init(db)
	if err := migrations.Migrate(); err != nil {
		log.Fatalf("[boot] migrate: %v", err)
	}
	if err := migrations.SeedDefaultUser(); err != nil {
		log.Printf("[boot] seed user: %v", err)
	}

	subsRepo := subscriptions.NewRepository(db)
	settlements := payments.NewSettlementRepository(db)
	payRepo := payments.NewRepository(db)
	sessions := quota.NewSessionRepository(db)

	yk := payments.NewYooKassaFromEnv()
	var capturer payments.Capturer
	if yk != nil {
		capturer = yk
	} else {
		log.Printf("[boot] yookassa disabled (missing credentials)")
	}
	settleSvc := payments.NewService(settlements, subsRepo, capturer, payRepo)

	r := gin.Default()
	r.Use(metrics.Middleware())
	metrics.RegisterRoutes(r)

	r.POST("/login", login.Handler)
	r.POST("/logout", login.LogoutHandler)

	subscriptions.NewHandler(subsRepo).RegisterRoutes(r)

	if yk != nil {
		payments.NewHandler(settleSvc, yk, payRepo).RegisterRoutes(r)
	}
	if stripeSvc := payments.NewStripeFromEnv(settleSvc); stripeSvc != nil {
		r.POST("/payments/stripe/checkout", func(c *gin.Context) {
			user := login.UserFromContext(c)
			if user == nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
				return
			}
			var req struct {
				PlanType    string `json:"plan_type"`
				TariffIndex int    `json:"tariff_index"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
				return
			}
			tariff, ok := subscriptions.TariffFor(subscriptions.PlanType(req.PlanType), req.TariffIndex)
			if !ok {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown plan or tariff"})
				return
			}
			url, sessionID, err := stripeSvc.CreateCheckoutSession(c.Request.Context(), user.ID, tariff)
			if err != nil {
				c.JSON(http.StatusOK, gin.H{"success": false, "error": "payment provider unavailable"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"success": true, "checkout_url": url, "session_id": sessionID})
		})
		r.POST("/payments/stripe/webhook", func(c *gin.Context) {
			if err := stripeSvc.HandleWebhook(c.Writer, c.Request); err != nil {
				log.Printf("[stripe][webhook] err=%v", err)
				c.Status(http.StatusBadRequest)
			}
		})
	}

	validator := quota.NewValidator(subsRepo)
	orch := generation.NewOrchestrator(openai.NewClient(), sessions)
	genHandler := generation.NewHandler(orch, sessions)
	genHandler.RegisterRoutes(r)
	// New flows consume a ledger credit before the session counter opens.
	r.POST("/flows/start", validator.Middleware("flow_start"), func(c *gin.Context) {
		sessionID := uuid.NewString()
		q, err := sessions.Get(sessionID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"sessionId":       sessionID,
			"generationLimit": q.Limit,
			"quota_remaining": c.MustGet("quota_remaining"),
		})
	})

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	if err := r.Run(addr); err != nil {
		log.Fatalf("[boot] serve: %v", err)
	}
}
