package payments

import "time"

// Provider payment statuses we act on. Anything else is ignored.
const (
	StatusPending           = "pending"
	StatusWaitingForCapture = "waiting_for_capture"
	StatusSucceeded         = "succeeded"
	StatusCanceled          = "canceled"
	StatusSettled           = "settled"
)

// Amount is the provider's money representation: decimal string plus
// currency code. Capture must echo it back exactly.
type Amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

// Metadata travels with the payment from creation to settlement. Values are
// strings because the provider round-trips all metadata as strings.
type Metadata struct {
	UserID      string `json:"user_id"`
	PlanType    string `json:"plan_type"`
	TariffIndex string `json:"tariff_index"`
}

// Payment is the provider-side payment object, as delivered by webhook or
// fetched by the confirm poll. Transient; never stored as-is.
type Payment struct {
	ID       string   `json:"id"`
	Status   string   `json:"status"`
	Metadata Metadata `json:"metadata"`
	Amount   Amount   `json:"amount"`
}

// Record is our durable note of an initiated payment. The confirm endpoint
// uses it to resolve "the user's most recent pending payment".
type Record struct {
	ID          int       `json:"id"`
	PaymentID   string    `json:"payment_id"`
	UserID      int       `json:"user_id"`
	Provider    string    `json:"provider"`
	PlanType    string    `json:"plan_type"`
	TariffIndex int       `json:"tariff_index"`
	Amount      Amount    `json:"amount"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
