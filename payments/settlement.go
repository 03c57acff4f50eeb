package payments

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"

	"karto-backend/metrics"
	"karto-backend/subscriptions"
)

var ErrInvalidMetadata = errors.New("payment metadata is incomplete or malformed")

// ClaimStore is the settlement log. Claim must be atomic: exactly one caller
// per payment id may ever see true.
type ClaimStore interface {
	Claim(paymentID string) (bool, error)
}

// Ledger grants purchased volume. Implemented by subscriptions.Repository.
type Ledger interface {
	CreateOrReplace(userID int, planType subscriptions.PlanType, volume int) (*subscriptions.Subscription, error)
}

// Capturer finalizes two-stage payments. Implemented by YooKassaClient.
type Capturer interface {
	Capture(ctx context.Context, paymentID string, amount Amount) (*Payment, error)
}

// RecordStore tracks our own payment records; optional (nil disables updates).
type RecordStore interface {
	UpdateStatus(paymentID, status string) error
}

// Service drives the payment state machine and funnels every crediting event
// through the settlement log.
type Service struct {
	claims    ClaimStore
	ledger    Ledger
	processor Capturer
	records   RecordStore
}

func NewService(claims ClaimStore, ledger Ledger, processor Capturer, records RecordStore) *Service {
	return &Service{claims: claims, ledger: ledger, processor: processor, records: records}
}

// ProcessEvent advances one provider payment through the state machine and
// reports whether the payment ended up settled (first time or already).
// Webhook deliveries and confirm polls both land here; both are safe to call
// concurrently and redundantly.
//
// waiting_for_capture → capture for the exact amount, then settle if the
// capture reports succeeded. A capture failure is dropped, not an error: the
// webhook is acked, and the next confirm poll (or a later provider event)
// retries the capture. succeeded → settle. Anything else → ignored.
func (s *Service) ProcessEvent(ctx context.Context, p *Payment) (bool, error) {
	if p == nil || p.ID == "" {
		return false, fmt.Errorf("process event: missing payment id")
	}
	switch p.Status {
	case StatusWaitingForCapture:
		if s.processor == nil {
			log.Printf("[settle][no_capturer] payment_id=%s capture skipped", p.ID)
			return false, nil
		}
		captured, err := s.processor.Capture(ctx, p.ID, p.Amount)
		if err != nil {
			log.Printf("[settle][capture_failed] payment_id=%s err=%v", p.ID, err)
			return false, nil
		}
		if captured.Status != StatusSucceeded {
			log.Printf("[settle][capture_pending] payment_id=%s status=%s", p.ID, captured.Status)
			return false, nil
		}
		// Capture responses may omit metadata; fall back to the event's.
		if captured.Metadata == (Metadata{}) {
			captured.Metadata = p.Metadata
		}
		if err := s.Settle(ctx, captured); err != nil {
			return false, err
		}
		return true, nil
	case StatusSucceeded:
		if err := s.Settle(ctx, p); err != nil {
			return false, err
		}
		return true, nil
	default:
		log.Printf("[settle][ignored] payment_id=%s status=%s", p.ID, p.Status)
		return false, nil
	}
}

// Settle credits a succeeded payment exactly once. The claim insert is the
// critical section; a lost race is success for the caller, not a failure.
func (s *Service) Settle(ctx context.Context, p *Payment) error {
	claimed, err := s.claims.Claim(p.ID)
	if err != nil {
		metrics.SettlementsTotal.WithLabelValues("credit_failed").Inc()
		return fmt.Errorf("claim payment %s: %w", p.ID, err)
	}
	if !claimed {
		metrics.SettlementsTotal.WithLabelValues("duplicate").Inc()
		log.Printf("[settle][duplicate] payment_id=%s already credited", p.ID)
		return nil
	}

	userID, planType, volume, err := resolveGrant(p.Metadata)
	if err != nil {
		// Claim row stays; nothing was credited and nothing will be without
		// operator intervention. Log everything reconciliation needs.
		metrics.SettlementsTotal.WithLabelValues("invalid_metadata").Inc()
		log.Printf("[settle][stuck] payment_id=%s metadata=%+v err=%v", p.ID, p.Metadata, err)
		return fmt.Errorf("settle payment %s: %w", p.ID, err)
	}
	if _, err := s.ledger.CreateOrReplace(userID, planType, volume); err != nil {
		metrics.SettlementsTotal.WithLabelValues("credit_failed").Inc()
		log.Printf("[settle][stuck] payment_id=%s user_id=%d plan=%s volume=%d err=%v", p.ID, userID, planType, volume, err)
		return fmt.Errorf("credit payment %s: %w", p.ID, err)
	}
	if s.records != nil {
		if err := s.records.UpdateStatus(p.ID, StatusSettled); err != nil {
			log.Printf("[settle][record] payment_id=%s err=%v", p.ID, err)
		}
	}
	metrics.SettlementsTotal.WithLabelValues("credited").Inc()
	log.Printf("[settle][credited] payment_id=%s user_id=%d plan=%s volume=%d", p.ID, userID, planType, volume)
	return nil
}

// resolveGrant turns untrusted payment metadata into a concrete credit grant.
func resolveGrant(m Metadata) (int, subscriptions.PlanType, int, error) {
	userID, err := strconv.Atoi(m.UserID)
	if err != nil || userID <= 0 {
		return 0, "", 0, fmt.Errorf("%w: user_id=%q", ErrInvalidMetadata, m.UserID)
	}
	planType := subscriptions.PlanType(m.PlanType)
	if !planType.Valid() {
		return 0, "", 0, fmt.Errorf("%w: plan_type=%q", ErrInvalidMetadata, m.PlanType)
	}
	idx, err := strconv.Atoi(m.TariffIndex)
	if err != nil {
		return 0, "", 0, fmt.Errorf("%w: tariff_index=%q", ErrInvalidMetadata, m.TariffIndex)
	}
	volume, ok := subscriptions.VolumeFor(planType, idx)
	if !ok {
		return 0, "", 0, fmt.Errorf("%w: no tariff at plan=%s index=%d", ErrInvalidMetadata, planType, idx)
	}
	return userID, planType, volume, nil
}
