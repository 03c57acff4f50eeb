package migrations

import (
	"database/sql"
	"fmt"
	"time"
)

type User struct {
	ID        int       `db:"id"`
	FirstName string    `db:"first_name"`
	LastName  string    `db:"last_name"`
	Email     string    `db:"email"`
	Password  string    `db:"password"`
	Role      string    `db:"role"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

var db *sql.DB

// Init sets the DB connection for migrations and queries
func Init(database *sql.DB) {
	db = database
}

// Migrate creates required tables if they do not exist
func Migrate() error {
	if db == nil {
		return fmt.Errorf("db is not initialized")
	}
	createUsers := `
	CREATE TABLE IF NOT EXISTS users (
		id INT AUTO_INCREMENT PRIMARY KEY,
		first_name VARCHAR(100) NOT NULL,
		last_name VARCHAR(100) NOT NULL,
		email VARCHAR(191) NOT NULL UNIQUE,
		password VARCHAR(191) NOT NULL,
		role VARCHAR(50) NOT NULL DEFAULT 'user',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createUsers); err != nil {
		return err
	}

	// One row per user; plan_type decides which usage counter applies.
	createSubs := `
	CREATE TABLE IF NOT EXISTS subscriptions (
		id INT AUTO_INCREMENT PRIMARY KEY,
		user_id INT NOT NULL UNIQUE,
		plan_type VARCHAR(20) NOT NULL,
		plan_volume INT NOT NULL DEFAULT 0,
		period_start DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		flows_used INT NOT NULL DEFAULT 0,
		creative_used INT NOT NULL DEFAULT 0,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createSubs); err != nil {
		return err
	}

	// Existence of a row is the "already credited" fact; rows are never
	// updated or deleted.
	createSettlement := `
	CREATE TABLE IF NOT EXISTS settlement_log (
		payment_id VARCHAR(191) PRIMARY KEY,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createSettlement); err != nil {
		return err
	}

	createPayments := `
	CREATE TABLE IF NOT EXISTS payments (
		id INT AUTO_INCREMENT PRIMARY KEY,
		payment_id VARCHAR(191) NOT NULL UNIQUE,
		user_id INT NOT NULL,
		provider VARCHAR(30) NOT NULL DEFAULT 'yookassa',
		plan_type VARCHAR(20) NOT NULL,
		tariff_index INT NOT NULL DEFAULT 0,
		amount_value VARCHAR(20) NOT NULL,
		amount_currency VARCHAR(10) NOT NULL,
		status VARCHAR(30) NOT NULL DEFAULT 'pending',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		INDEX idx_payments_user (user_id, created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createPayments); err != nil {
		return err
	}

	createSessionQuota := `
	CREATE TABLE IF NOT EXISTS session_visual_quota (
		session_id VARCHAR(191) PRIMARY KEY,
		generation_used INT NOT NULL DEFAULT 0,
		generation_limit INT NOT NULL DEFAULT 12,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createSessionQuota); err != nil {
		return err
	}
	return nil
}

// SeedDefaultUser inserts a default admin if it doesn't exist
func SeedDefaultUser() error {
	if db == nil {
		return fmt.Errorf("db is not initialized")
	}
	var count int
	if err := db.QueryRow("SELECT COUNT(1) FROM users WHERE email = ?", "admin@karto.local").Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		_, err := db.Exec(
			"INSERT INTO users (first_name, last_name, email, password, role) VALUES (?, ?, ?, ?, ?)",
			"Admin", "Karto", "admin@karto.local", "change-me", "super_admin",
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// GetUserByEmail returns a user row or nil when not found
func GetUserByEmail(email string) *User {
	if db == nil {
		return nil
	}
	row := db.QueryRow("SELECT id, first_name, last_name, email, password, role, created_at, updated_at FROM users WHERE email = ? LIMIT 1", email)
	var u User
	if err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Password, &u.Role, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil
	}
	return &u
}
