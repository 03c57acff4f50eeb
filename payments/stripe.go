package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"karto-backend/subscriptions"

	stripe "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
)

// StripeService is the card-checkout alternative to the primary processor.
// Settlement converges on the same claim-then-credit path, keyed by the
// checkout session id, so a Stripe purchase can never double-credit either.
// Optional; nil when STRIPE_SECRET_KEY is not set.
type StripeService struct {
	settle        *Service
	secretKey     string
	webhookSecret string
	successURL    string
	cancelURL     string
	sc            *client.API
	invalidKey    atomic.Bool // once detected, short-circuit further remote calls
}

var ErrStripeInvalidAPIKey = errors.New("stripe_invalid_api_key")

func maskKey(k string) string {
	if len(k) < 12 {
		return "****"
	}
	return k[:7] + "..." + k[len(k)-4:]
}

// NewStripeFromEnv returns a configured service or nil when missing env vars.
func NewStripeFromEnv(settle *Service) *StripeService {
	key := os.Getenv("STRIPE_SECRET_KEY")
	if key == "" {
		return nil
	}
	success := os.Getenv("STRIPE_SUCCESS_URL")
	if success == "" {
		success = "https://karto.app/checkout/success"
	}
	cancel := os.Getenv("STRIPE_CANCEL_URL")
	if cancel == "" {
		cancel = "https://karto.app/checkout/cancel"
	}
	sc := &client.API{}
	sc.Init(key, nil)
	return &StripeService{
		settle:        settle,
		secretKey:     key,
		webhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		successURL:    success,
		cancelURL:     cancel,
		sc:            sc,
	}
}

// CreateCheckoutSession creates a one-off Stripe Checkout Session for a
// tariff and returns its URL plus session id.
func (s *StripeService) CreateCheckoutSession(ctx context.Context, userID int, tariff subscriptions.Tariff) (string, string, error) {
	if s == nil {
		return "", "", errors.New("stripe not configured")
	}
	if s.invalidKey.Load() {
		return "", "", ErrStripeInvalidAPIKey
	}
	params := &stripe.CheckoutSessionParams{
		SuccessURL: stripe.String(s.successURL),
		CancelURL:  stripe.String(s.cancelURL),
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(tariff.Currency)),
				UnitAmount: stripe.Int64(priceMinorUnits(tariff.Price)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(fmt.Sprintf("Karto %s plan (%d credits)", tariff.PlanType, tariff.Volume)),
				},
			},
			Quantity: stripe.Int64(1),
		}},
		Metadata: map[string]string{
			"user_id":      fmt.Sprintf("%d", userID),
			"plan_type":    string(tariff.PlanType),
			"tariff_index": fmt.Sprintf("%d", tariff.Index),
		},
	}
	sess, err := s.sc.CheckoutSessions.New(params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && (se.HTTPStatusCode == 401 || strings.Contains(strings.ToLower(se.Msg), "invalid api key")) {
			log.Printf("[stripe][checkout] invalid api key (%s): %v", maskKey(s.secretKey), se)
			s.invalidKey.Store(true)
			return "", "", ErrStripeInvalidAPIKey
		}
		log.Printf("[stripe][checkout] error: %v", err)
		return "", "", err
	}
	return sess.URL, sess.ID, nil
}

// HandleWebhook consumes Stripe webhook payloads. A completed checkout is
// fed into the settlement path as an already-succeeded payment keyed by the
// session id; duplicate deliveries die at the claim.
func (s *StripeService) HandleWebhook(w http.ResponseWriter, r *http.Request) error {
	if s == nil {
		return errors.New("stripe not configured")
	}
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	sig := r.Header.Get("Stripe-Signature")
	if s.webhookSecret != "" {
		if _, err := webhook.ConstructEvent(payload, sig, s.webhookSecret); err != nil {
			return fmt.Errorf("invalid signature: %w", err)
		}
	}

	var event struct {
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID       string            `json:"id"`
				Metadata map[string]string `json:"metadata"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return err
	}
	if event.Type != "checkout.session.completed" {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ignored"))
		return nil
	}
	p := &Payment{
		ID:     event.Data.Object.ID,
		Status: StatusSucceeded,
		Metadata: Metadata{
			UserID:      event.Data.Object.Metadata["user_id"],
			PlanType:    event.Data.Object.Metadata["plan_type"],
			TariffIndex: event.Data.Object.Metadata["tariff_index"],
		},
	}
	if err := s.settle.Settle(r.Context(), p); err != nil {
		return err
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
	return nil
}

// priceMinorUnits converts a "1990.00" style decimal into cents/kopecks.
func priceMinorUnits(price string) int64 {
	whole, frac, _ := strings.Cut(price, ".")
	frac = (frac + "00")[:2]
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return w * 100
	}
	return w*100 + f
}
