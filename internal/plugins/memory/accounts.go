package memory

import (
	"context"
	"strings"
	"sync"

	"weconnect/internal/core/domain"
)

type account struct {
	acc  domain.Account
	hash []byte
}

// Accounts is an in-memory credential store for the identity provider.
type Accounts struct {
	mu      sync.Mutex
	byID    map[string]*account
	byEmail map[string]*account
}

func NewAccounts() *Accounts {
	return &Accounts{
		byID:    make(map[string]*account),
		byEmail: make(map[string]*account),
	}
}

func (a *Accounts) CreateAccount(_ context.Context, acc *domain.Account, passwordHash []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	email := strings.ToLower(acc.Email)
	if _, ok := a.byEmail[email]; ok {
		return domain.ErrAccountExists
	}
	rec := &account{acc: *acc, hash: append([]byte(nil), passwordHash...)}
	a.byID[acc.ID] = rec
	a.byEmail[email] = rec
	return nil
}

func (a *Accounts) GetAccountByEmail(_ context.Context, email string) (*domain.Account, []byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, nil, domain.ErrUserNotFound
	}
	acc := rec.acc
	return &acc, rec.hash, nil
}

func (a *Accounts) GetAccountByID(_ context.Context, id string) (*domain.Account, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.byID[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	acc := rec.acc
	return &acc, nil
}
