package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/Pia-pr/meine-website/db"
	"github.com/Pia-pr/meine-website/models"
)

// fakeStore is an in-memory UserStore for handler tests. It mirrors the
// contract of db.Store, including the sentinel errors.
type fakeStore struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: make(map[string]*models.User)}
}

func (f *fakeStore) ListUsers(_ context.Context) ([]models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var users []models.User
	for _, u := range f.users {
		users = append(users, *u)
	}
	return users, nil
}

func (f *fakeStore) GetUser(_ context.Context, username string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[username]
	if !ok {
		return nil, db.ErrUserNotFound
	}
	copied := *u
	copied.LoginHistory = append([]time.Time(nil), u.LoginHistory...)
	return &copied, nil
}

func (f *fakeStore) CreateUser(_ context.Context, username, passwordHash, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[username]; ok {
		return db.ErrUsernameTaken
	}
	f.users[username] = &models.User{
		Username:     username,
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    time.Now(),
	}
	return nil
}

func (f *fakeStore) DeleteUser(_ context.Context, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[username]
	if !ok || u.Role == models.RoleAdmin {
		return db.ErrUserNotFound
	}
	delete(f.users, username)
	return nil
}

func (f *fakeStore) AppendLogin(_ context.Context, username string, t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[username]
	if !ok {
		return db.ErrUserNotFound
	}
	u.LoginHistory = append(u.LoginHistory, t)
	return nil
}

func (f *fakeStore) UpdatePassword(_ context.Context, username, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[username]
	if !ok {
		return db.ErrUserNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (f *fakeStore) ListLoginHistory(_ context.Context) ([]models.UserLogins, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []models.UserLogins
	for _, u := range f.users {
		result = append(result, models.UserLogins{
			Username: u.Username,
			Logins:   append([]time.Time(nil), u.LoginHistory...),
		})
	}
	return result, nil
}
