// Package users manages API users with bcrypt-hashed passwords.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"golang.org/x/crypto/bcrypt"

	"twinhub/internal/attrstore"
)

// ErrBadCredentials is returned when a password check fails. It deliberately
// does not distinguish an unknown user from a wrong password.
var ErrBadCredentials = errors.New("users: bad credentials")

// Service handles user use cases.
type Service struct {
	db     *sql.DB
	logger *log.Logger
}

// NewService constructs the service.
func NewService(db *sql.DB, logger *log.Logger) (*Service, error) {
	if db == nil {
		return nil, errors.New("users service: nil db")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Service{db: db, logger: logger}, nil
}

// User is one registered API user.
type User struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// DDL returns the CREATE TABLE statement of the user store.
func DDL() []string {
	return []string{`
CREATE TABLE IF NOT EXISTS app_user (
	id BIGSERIAL PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT 'viewer',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`}
}

// Insert registers a user with the given password and role.
func (s *Service) Insert(ctx context.Context, email, password, role string) error {
	if email == "" || password == "" {
		return errors.New("users: email and password are required")
	}
	if role == "" {
		role = "viewer"
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO app_user (email, password_hash, role) VALUES ($1, $2, $3)`, email, hash, role)
	return attrstore.TranslateUnique(err, "user %q", email)
}

// Delete removes a user.
func (s *Service) Delete(ctx context.Context, email string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM app_user WHERE email = $1`, email)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("user %q: %w", email, attrstore.ErrNotFound)
	}
	return nil
}

// List returns all users in insertion order.
func (s *Service) List(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT email, role FROM app_user ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := make([]User, 0)
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.Email, &user.Role); err != nil {
			return nil, err
		}
		list = append(list, user)
	}
	return list, rows.Err()
}

// Authenticate verifies a user's password and returns the user's role. Any
// mismatch, including an unknown user, is ErrBadCredentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (string, error) {
	var hash []byte
	var role string
	err := s.db.QueryRowContext(ctx,
		`SELECT password_hash, role FROM app_user WHERE email = $1`, email).Scan(&hash, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrBadCredentials
	}
	if err != nil {
		return "", err
	}
	if bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil {
		return "", ErrBadCredentials
	}
	return role, nil
}

// CheckPassword verifies a user's password, returning ErrBadCredentials on
// any mismatch.
func (s *Service) CheckPassword(ctx context.Context, email, password string) error {
	_, err := s.Authenticate(ctx, email, password)
	return err
}

// ChangePassword replaces a user's password after verifying the old one.
func (s *Service) ChangePassword(ctx context.Context, email, oldPassword, newPassword string) error {
	if newPassword == "" {
		return errors.New("users: new password is required")
	}
	if err := s.CheckPassword(ctx, email, oldPassword); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE app_user SET password_hash = $2 WHERE email = $1`, email, hash)
	return err
}
