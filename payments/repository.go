package payments

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

// SettlementRepository is the append-only log of credited payment ids. The
// PRIMARY KEY on payment_id is the system's only distributed lock.
type SettlementRepository struct {
	db *sql.DB
}

func NewSettlementRepository(db *sql.DB) *SettlementRepository {
	return &SettlementRepository{db: db}
}

// Claim inserts the payment id into the settlement log. Returns true when
// this caller won the insert and therefore owns crediting the payment; false
// when another caller already claimed it. Any other error is a real failure.
func (r *SettlementRepository) Claim(paymentID string) (bool, error) {
	_, err := r.db.Exec(`INSERT INTO settlement_log (payment_id) VALUES (?)`, paymentID)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == 1062 {
			return false, nil
		}
		return false, fmt.Errorf("insert settlement claim: %w", err)
	}
	return true, nil
}

// Repository stores initiated-payment records.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(rec *Record) error {
	res, err := r.db.Exec(`INSERT INTO payments (payment_id, user_id, provider, plan_type, tariff_index, amount_value, amount_currency, status)
		VALUES (?,?,?,?,?,?,?,?)`,
		rec.PaymentID, rec.UserID, rec.Provider, rec.PlanType, rec.TariffIndex, rec.Amount.Value, rec.Amount.Currency, rec.Status)
	if err != nil {
		return fmt.Errorf("insert payment record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	rec.ID = int(id)
	return nil
}

func (r *Repository) UpdateStatus(paymentID, status string) error {
	if _, err := r.db.Exec(`UPDATE payments SET status=? WHERE payment_id=?`, status, paymentID); err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	return nil
}

func (r *Repository) FindByPaymentID(paymentID string) (*Record, error) {
	row := r.db.QueryRow(`SELECT id, payment_id, user_id, provider, plan_type, tariff_index, amount_value, amount_currency, status, created_at, updated_at
		FROM payments WHERE payment_id=? LIMIT 1`, paymentID)
	return scanRecord(row)
}

// LatestPending returns the user's most recent non-final payment, or nil.
func (r *Repository) LatestPending(userID int) (*Record, error) {
	row := r.db.QueryRow(`SELECT id, payment_id, user_id, provider, plan_type, tariff_index, amount_value, amount_currency, status, created_at, updated_at
		FROM payments WHERE user_id=? AND status IN ('pending','waiting_for_capture') ORDER BY created_at DESC, id DESC LIMIT 1`, userID)
	return scanRecord(row)
}

func scanRecord(row *sql.Row) (*Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.PaymentID, &rec.UserID, &rec.Provider, &rec.PlanType, &rec.TariffIndex,
		&rec.Amount.Value, &rec.Amount.Currency, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan payment record: %w", err)
	}
	return &rec, nil
}
