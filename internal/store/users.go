package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/erazemk/svezina/internal/model"
)

// ErrDuplicate is returned when an insert violates a uniqueness constraint.
var ErrDuplicate = errors.New("record already exists")

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

// CreateUser creates a new credential record.
func CreateUser(ctx context.Context, db *sql.DB, email string, salt, hash []byte) (*model.User, error) {
	result, err := db.ExecContext(ctx,
		`INSERT INTO users (email, password_salt, password_hash) VALUES (?, ?, ?)`,
		email, salt, hash,
	)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("creating user: %w", ErrDuplicate)
	}
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting user id: %w", err)
	}

	return GetUser(ctx, db, id)
}

// GetUser returns a user by ID.
func GetUser(ctx context.Context, db *sql.DB, id int64) (*model.User, error) {
	u := &model.User{}
	err := db.QueryRowContext(ctx,
		`SELECT id, email, password_salt, password_hash, created_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Email, &u.PasswordSalt, &u.PasswordHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return u, nil
}

// GetUserByEmail returns a user by email. Emails match case-sensitively.
func GetUserByEmail(ctx context.Context, db *sql.DB, email string) (*model.User, error) {
	u := &model.User{}
	err := db.QueryRowContext(ctx,
		`SELECT id, email, password_salt, password_hash, created_at FROM users WHERE email = ?`, email,
	).Scan(&u.ID, &u.Email, &u.PasswordSalt, &u.PasswordHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting user by email: %w", err)
	}
	return u, nil
}

// UserExists reports whether an account with email exists.
func UserExists(ctx context.Context, db *sql.DB, email string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE email = ?`, email,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking user: %w", err)
	}
	return count > 0, nil
}

// UpdateUserPassword replaces a user's salt and hash.
func UpdateUserPassword(ctx context.Context, db *sql.DB, email string, salt, hash []byte) (bool, error) {
	result, err := db.ExecContext(ctx,
		`UPDATE users SET password_salt = ?, password_hash = ? WHERE email = ?`,
		salt, hash, email,
	)
	if err != nil {
		return false, fmt.Errorf("updating user password: %w", err)
	}
	return affected(result)
}
