// Package identity is the email and password identity provider. Credentials
// live in an AccountRepository and sessions are stateless HS256 tokens.
package identity

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/crypto/bcrypt"

	"weconnect/internal/core/contracts"
	"weconnect/internal/core/domain"
	"weconnect/pkg/logging"
)

const revokedCacheSize = 4096

type Provider struct {
	log      *slog.Logger
	accounts domain.AccountRepository
	tokens   *TokenService
	revoked  *lru.Cache
	cost     int
}

func NewProvider(log *slog.Logger, accounts domain.AccountRepository, tokens *TokenService) *Provider {
	revoked, _ := lru.New(revokedCacheSize)
	return &Provider{
		log:      log,
		accounts: accounts,
		tokens:   tokens,
		revoked:  revoked,
		cost:     bcrypt.DefaultCost,
	}
}

func normalize(cred contracts.Credential) (contracts.Credential, error) {
	cred.Email = strings.ToLower(strings.TrimSpace(cred.Email))
	if cred.Email == "" || cred.Password == "" {
		return cred, domain.ErrInvalidCredentials
	}
	return cred, nil
}

func (p *Provider) SignUp(ctx context.Context, cred contracts.Credential) (*domain.Account, error) {
	cred, err := normalize(cred)
	if err != nil {
		return nil, domain.Validation("identity.SignUp", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(cred.Password), p.cost)
	if err != nil {
		return nil, domain.Transient("identity.SignUp", err)
	}
	acc := &domain.Account{ID: uuid.NewString(), Email: cred.Email}
	if err := p.accounts.CreateAccount(ctx, acc, hash); err != nil {
		if errors.Is(err, domain.ErrAccountExists) {
			return nil, domain.Validation("identity.SignUp", err)
		}
		return nil, domain.Transient("identity.SignUp", err)
	}
	if err := p.issue(acc); err != nil {
		return nil, domain.Transient("identity.SignUp", err)
	}
	p.log.InfoContext(ctx, "identity provider - sign up - account created", logging.Principal(acc.ID))
	return acc, nil
}

func (p *Provider) SignIn(ctx context.Context, cred contracts.Credential) (*domain.Account, error) {
	cred, err := normalize(cred)
	if err != nil {
		return nil, domain.Validation("identity.SignIn", err)
	}
	acc, hash, err := p.accounts.GetAccountByEmail(ctx, cred.Email)
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, domain.Permission("identity.SignIn", domain.ErrInvalidCredentials)
	}
	if err != nil {
		return nil, domain.Transient("identity.SignIn", err)
	}
	if bcrypt.CompareHashAndPassword(hash, []byte(cred.Password)) != nil {
		return nil, domain.Permission("identity.SignIn", domain.ErrInvalidCredentials)
	}
	if err := p.issue(acc); err != nil {
		return nil, domain.Transient("identity.SignIn", err)
	}
	return acc, nil
}

// SignOut revokes the token for the rest of its lifetime on this process.
func (p *Provider) SignOut(_ context.Context, token string) error {
	claims, err := p.tokens.ValidateToken(token)
	if err != nil {
		return domain.Permission("identity.SignOut", domain.ErrInvalidCredentials)
	}
	p.revoked.Add(claims.ID, claims.Expires)
	return nil
}

func (p *Provider) Resume(ctx context.Context, token string) (*domain.Account, error) {
	claims, err := p.tokens.ValidateToken(token)
	if err != nil || p.revoked.Contains(claims.ID) {
		return nil, domain.Permission("identity.Resume", domain.ErrInvalidCredentials)
	}
	acc, err := p.accounts.GetAccountByID(ctx, claims.Subject)
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, domain.Permission("identity.Resume", domain.ErrInvalidCredentials)
	}
	if err != nil {
		return nil, domain.Transient("identity.Resume", err)
	}
	acc.Token = token
	return acc, nil
}

func (p *Provider) issue(acc *domain.Account) error {
	tok, err := p.tokens.GenerateToken(acc.ID, acc.Email)
	if err != nil {
		return err
	}
	acc.Token = tok
	return nil
}
