package store

import (
	"database/sql"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// Operator is an authenticated route planner account.
type Operator struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
}

// CreateOperator creates an operator with a bcrypt-hashed password.
func (db *DB) CreateOperator(username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	_, err = db.Exec(db.Q(`INSERT INTO operators (username, password_hash) VALUES (?, ?)`),
		username, string(hash))
	return err
}

// CheckOperator verifies a username/password pair.
func (db *DB) CheckOperator(username, password string) (bool, error) {
	var hash string
	err := db.QueryRow(db.Q(`SELECT password_hash FROM operators WHERE username = ?`), username).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil, nil
}

// CountOperators returns the number of operator accounts.
func (db *DB) CountOperators() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM operators`).Scan(&n)
	return n, err
}
