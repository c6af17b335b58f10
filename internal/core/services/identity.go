package services

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"weconnect/internal/core/contracts"
	"weconnect/internal/core/domain"
	"weconnect/pkg/logging"
)

var identityTracer = otel.Tracer("identity-session")

// IdentitySession wraps the identity provider and tracks the signed-in account.
type IdentitySession struct {
	log      *slog.Logger
	provider contracts.IdentityProvider

	mu        sync.Mutex
	current   *domain.Account
	nextID    int
	listeners map[int]func(*domain.Account)
	order     []int
}

func NewIdentitySession(log *slog.Logger, provider contracts.IdentityProvider) *IdentitySession {
	return &IdentitySession{
		log:       log,
		provider:  provider,
		listeners: make(map[int]func(*domain.Account)),
	}
}

// Current returns the signed-in account or nil.
func (s *IdentitySession) Current() *domain.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	acc := *s.current
	return &acc
}

// OnSessionChanged registers fn for every later session change.
func (s *IdentitySession) OnSessionChanged(fn func(*domain.Account)) domain.Disposer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	s.order = append(s.order, id)
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.listeners, id)
		})
	}
}

func (s *IdentitySession) SignIn(ctx context.Context, cred contracts.Credential) (*domain.Account, error) {
	ctx, span := identityTracer.Start(ctx, "IdentitySession.SignIn")
	defer span.End()
	acc, err := s.provider.SignIn(ctx, cred)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sign in failed")
		s.log.WarnContext(ctx, "identity - sign in - failed", logging.Err(err))
		return nil, err
	}
	s.log.InfoContext(ctx, "identity - sign in - success", logging.Principal(acc.ID))
	s.set(acc)
	return acc, nil
}

func (s *IdentitySession) SignUp(ctx context.Context, cred contracts.Credential) (*domain.Account, error) {
	ctx, span := identityTracer.Start(ctx, "IdentitySession.SignUp")
	defer span.End()
	acc, err := s.provider.SignUp(ctx, cred)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sign up failed")
		s.log.WarnContext(ctx, "identity - sign up - failed", logging.Err(err))
		return nil, err
	}
	s.log.InfoContext(ctx, "identity - sign up - success", logging.Principal(acc.ID))
	s.set(acc)
	return acc, nil
}

// Restore re-establishes a session from a persisted token.
func (s *IdentitySession) Restore(ctx context.Context, token string) (*domain.Account, error) {
	acc, err := s.provider.Resume(ctx, token)
	if err != nil {
		s.log.WarnContext(ctx, "identity - restore - failed", logging.Err(err))
		return nil, err
	}
	s.log.InfoContext(ctx, "identity - restore - success", logging.Principal(acc.ID))
	s.set(acc)
	return acc, nil
}

// SignOut clears the session. Listeners are notified even if the provider
// call fails.
func (s *IdentitySession) SignOut(ctx context.Context) error {
	cur := s.Current()
	if cur == nil {
		return nil
	}
	err := s.provider.SignOut(ctx, cur.Token)
	if err != nil {
		s.log.ErrorContext(ctx, "identity - sign out - provider failed", logging.Principal(cur.ID), logging.Err(err))
	} else {
		s.log.InfoContext(ctx, "identity - sign out - success", logging.Principal(cur.ID))
	}
	s.set(nil)
	return err
}

func (s *IdentitySession) set(acc *domain.Account) {
	s.mu.Lock()
	if acc != nil {
		cp := *acc
		s.current = &cp
	} else {
		s.current = nil
	}
	fns := make([]func(*domain.Account), 0, len(s.listeners))
	for _, id := range s.order {
		if fn, ok := s.listeners[id]; ok {
			fns = append(fns, fn)
		}
	}
	s.mu.Unlock()
	for _, fn := range fns {
		if acc == nil {
			fn(nil)
			continue
		}
		cp := *acc
		fn(&cp)
	}
}
