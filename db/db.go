package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"

	"github.com/Pia-pr/meine-website/crypto"
	"github.com/Pia-pr/meine-website/models"
)

var (
	// ErrUsernameTaken is returned by CreateUser on a duplicate-key conflict,
	// so the route layer can answer "username already taken" instead of a 500.
	ErrUsernameTaken = errors.New("username already taken")
	ErrUserNotFound  = errors.New("user not found")
)

// Store is the persistence adapter over a PostgreSQL connection pool.
// Every operation maps to a single statement; row-level locking in the
// database is enough, no multi-statement transactions are needed.
type Store struct {
	db         *sql.DB
	historyCap int
}

func New(databaseURL string, historyCap int) (*Store, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(25)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: conn, historyCap: historyCap}
	if err := s.createSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) createSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'user',
		login_history TIMESTAMPTZ[] NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return fmt.Errorf("create users table: %w", err)
	}
	return nil
}

// EnsureAdmin creates the bootstrap administrator account if no account with
// the admin role exists yet.
func (s *Store) EnsureAdmin(ctx context.Context, username, password string) error {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM users WHERE role = $1", models.RoleAdmin).Scan(&count)
	if err != nil {
		return fmt.Errorf("check for admin account: %w", err)
	}
	if count > 0 {
		return nil
	}

	hash, err := crypto.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	if err := s.CreateUser(ctx, username, hash, models.RoleAdmin); err != nil {
		return fmt.Errorf("create admin account: %w", err)
	}
	log.Printf("Bootstrap admin account %q created", username)
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT username, role, created_at FROM users ORDER BY username")
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.Username, &u.Role, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *Store) GetUser(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	var history []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password_hash, role, array_to_json(login_history), created_at
		FROM users WHERE username = $1`, username).
		Scan(&u.Username, &u.PasswordHash, &u.Role, &history, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if err := json.Unmarshal(history, &u.LoginHistory); err != nil {
		return nil, fmt.Errorf("decode login history: %w", err)
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, username, passwordHash, role string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (username, password_hash, role) VALUES ($1, $2, $3)",
		username, passwordHash, role)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return ErrUsernameTaken
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// DeleteUser removes an account. Accounts with the admin role are never
// deleted; the guard lives in the statement itself so the protection holds
// even under concurrent calls.
func (s *Store) DeleteUser(ctx context.Context, username string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM users WHERE username = $1 AND role <> $2",
		username, models.RoleAdmin)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	if affected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// AppendLogin records one successful login, keeping only the most recent
// historyCap entries. Append and trim happen in one atomic statement.
func (s *Store) AppendLogin(ctx context.Context, username string, t time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET login_history = (array_append(login_history, $2::timestamptz))
			[greatest(cardinality(login_history) + 2 - $3, 1):]
		WHERE username = $1`, username, t, s.historyCap)
	if err != nil {
		return fmt.Errorf("append login: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("append login: %w", err)
	}
	if affected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *Store) UpdatePassword(ctx context.Context, username, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET password_hash = $2 WHERE username = $1",
		username, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if affected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *Store) ListLoginHistory(ctx context.Context) ([]models.UserLogins, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT username, array_to_json(login_history) FROM users ORDER BY username")
	if err != nil {
		return nil, fmt.Errorf("list login history: %w", err)
	}
	defer rows.Close()

	var result []models.UserLogins
	for rows.Next() {
		var entry models.UserLogins
		var history []byte
		if err := rows.Scan(&entry.Username, &history); err != nil {
			return nil, fmt.Errorf("scan login history: %w", err)
		}
		if err := json.Unmarshal(history, &entry.Logins); err != nil {
			return nil, fmt.Errorf("decode login history: %w", err)
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
