package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weconnect/internal/core/contracts"
	"weconnect/internal/core/domain"
)

type stubProvider struct {
	signOutErr error
	signedOut  []string
}

func (p *stubProvider) SignIn(_ context.Context, cred contracts.Credential) (*domain.Account, error) {
	if cred.Password != "secret1" {
		return nil, domain.Permission("identity.SignIn", domain.ErrInvalidCredentials)
	}
	return &domain.Account{ID: "u1", Email: cred.Email, Token: "tok-u1"}, nil
}

func (p *stubProvider) SignUp(_ context.Context, cred contracts.Credential) (*domain.Account, error) {
	return &domain.Account{ID: "u2", Email: cred.Email, Token: "tok-u2"}, nil
}

func (p *stubProvider) SignOut(_ context.Context, token string) error {
	p.signedOut = append(p.signedOut, token)
	return p.signOutErr
}

func (p *stubProvider) Resume(_ context.Context, token string) (*domain.Account, error) {
	if token != "tok-u1" {
		return nil, domain.Permission("identity.Resume", domain.ErrInvalidCredentials)
	}
	return &domain.Account{ID: "u1", Token: token}, nil
}

func TestIdentitySession_NotifiesInOrder(t *testing.T) {
	s := NewIdentitySession(discardLogger(), &stubProvider{})
	ctx := context.Background()

	var events []string
	s.OnSessionChanged(func(a *domain.Account) {
		if a == nil {
			events = append(events, "first:nil")
			return
		}
		events = append(events, "first:"+a.ID)
	})
	dispose := s.OnSessionChanged(func(a *domain.Account) {
		events = append(events, "second")
	})

	_, err := s.SignIn(ctx, contracts.Credential{Email: "u1@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, "u1", s.Current().ID)

	dispose()
	dispose()
	require.NoError(t, s.SignOut(ctx))
	assert.Nil(t, s.Current())

	assert.Equal(t, []string{"first:u1", "second", "first:nil"}, events)
}

func TestIdentitySession_SignInFailureKeepsState(t *testing.T) {
	s := NewIdentitySession(discardLogger(), &stubProvider{})
	calls := 0
	s.OnSessionChanged(func(*domain.Account) { calls++ })

	_, err := s.SignIn(context.Background(), contracts.Credential{Email: "u1@example.com", Password: "wrong"})
	assert.True(t, domain.IsPermission(err))
	assert.Nil(t, s.Current())
	assert.Zero(t, calls)
}

func TestIdentitySession_SignOutNotifiesOnProviderError(t *testing.T) {
	p := &stubProvider{signOutErr: errors.New("network")}
	s := NewIdentitySession(discardLogger(), p)
	ctx := context.Background()
	_, err := s.SignUp(ctx, contracts.Credential{Email: "u2@example.com", Password: "secret1"})
	require.NoError(t, err)

	last := &domain.Account{}
	s.OnSessionChanged(func(a *domain.Account) { last = a })
	assert.Error(t, s.SignOut(ctx))
	assert.Nil(t, last)
	assert.Equal(t, []string{"tok-u2"}, p.signedOut)

	// signing out twice is a no-op
	assert.NoError(t, s.SignOut(ctx))
}

func TestIdentitySession_Restore(t *testing.T) {
	s := NewIdentitySession(discardLogger(), &stubProvider{})
	ctx := context.Background()

	_, err := s.Restore(ctx, "stale")
	assert.Error(t, err)
	assert.Nil(t, s.Current())

	acc, err := s.Restore(ctx, "tok-u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", acc.ID)
	assert.Equal(t, "u1", s.Current().ID)
}
