package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weconnect/internal/core/contracts"
	"weconnect/internal/core/domain"
)

type stubSignUp struct {
	calls int
	err   error
}

func (s *stubSignUp) SignUp(_ context.Context, cred contracts.Credential) (*domain.Account, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &domain.Account{ID: "uid-" + strings.Split(cred.Email, "@")[0], Email: cred.Email}, nil
}

func newProfileStore(f *fixture, signup *stubSignUp) *ProfileStore {
	ps := NewProfileStore(discardLogger(), f.store, f.store, f.uploads, f.tracker, signup)
	ps.now = f.clock.Now
	return ps
}

func TestDefaultUsername(t *testing.T) {
	tests := []struct {
		id, email, want string
	}{
		{"abcdef1234", "john.doe@example.com", "John Doe"},
		{"abcdef1234", "MARY_ann.smith@example.com", "Mary Ann Smith"},
		{"abcdef1234", "", "User_1234"},
		{"ab", "", "User_ab"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DefaultUsername(tt.id, tt.email), tt.email)
	}
}

func TestProfile_LoadExistingMarksOnline(t *testing.T) {
	f := newFixture(t)
	f.user(t, "a", "alice")
	ps := newProfileStore(f, &stubSignUp{})

	p, err := ps.Load(context.Background(), &domain.Account{ID: "a", Email: "a@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Username)
	assert.True(t, p.Online)

	stored, err := f.store.GetProfile(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, stored.Online)
	assert.Equal(t, "alice", ps.Current().Username)
}

func TestProfile_LoadBuildsMinimalProfile(t *testing.T) {
	f := newFixture(t)
	ps := newProfileStore(f, &stubSignUp{})

	p, err := ps.Load(context.Background(), &domain.Account{ID: "uid-7788", Email: "jane.roe@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "Jane Roe", p.Username)
	assert.Equal(t, domain.DefaultAvatar, p.AvatarURL)
	assert.Empty(t, p.BlockedIDs)
	assert.True(t, p.Online)

	stored, err := f.store.GetProfile(context.Background(), "uid-7788")
	require.NoError(t, err)
	assert.Equal(t, "Jane Roe", stored.Username)
}

func TestProfile_LoadSurvivesReadFailure(t *testing.T) {
	f := newFixture(t)
	ps := newProfileStore(f, &stubSignUp{})
	f.store.FailWith(func(op, _ string) error {
		if op == "GetProfile" || op == "SaveProfile" {
			return errors.New("offline")
		}
		return nil
	})

	p, err := ps.Load(context.Background(), &domain.Account{ID: "uid-4321", PhotoURL: "https://cdn/photo.png"})
	require.NoError(t, err)
	assert.Equal(t, "User_4321", p.Username)
	assert.Equal(t, "https://cdn/photo.png", p.AvatarURL)
}

func TestProfile_LoadWithoutAccount(t *testing.T) {
	f := newFixture(t)
	ps := newProfileStore(f, &stubSignUp{})

	_, err := ps.Load(context.Background(), nil)
	assert.True(t, domain.IsValidation(err))
	assert.Nil(t, ps.Current())
}

func TestProfile_RegisterValidation(t *testing.T) {
	f := newFixture(t)
	signup := &stubSignUp{}
	ps := newProfileStore(f, signup)

	tests := []struct {
		name string
		reg  Registration
	}{
		{"short username", Registration{Username: "ab", Email: "ab@example.com", Password: "secret1"}},
		{"bad username chars", Registration{Username: "bad name!", Email: "x@example.com", Password: "secret1"}},
		{"bad email", Registration{Username: "valid_name", Email: "not-an-email", Password: "secret1"}},
		{"short password", Registration{Username: "valid_name", Email: "v@example.com", Password: "12345"}},
		{"missing fields", Registration{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ps.Register(context.Background(), tt.reg)
			require.Error(t, err)
			assert.True(t, domain.IsValidation(err))
			assert.ErrorIs(t, err, domain.ErrInvalidProfile)
		})
	}
	assert.Zero(t, signup.calls)
}

func TestProfile_RegisterRejectsTakenUsername(t *testing.T) {
	f := newFixture(t)
	f.user(t, "a", "alice")
	signup := &stubSignUp{}
	ps := newProfileStore(f, signup)

	_, err := ps.Register(context.Background(), Registration{Username: "alice", Email: "other@example.com", Password: "secret1"})
	assert.ErrorIs(t, err, domain.ErrUsernameTaken)
	assert.Zero(t, signup.calls)
}

func TestProfile_Register(t *testing.T) {
	f := newFixture(t)
	ps := newProfileStore(f, &stubSignUp{})

	p, err := ps.Register(context.Background(), Registration{
		Username: "new_user",
		Email:    "newbie@example.com",
		Password: "secret1",
		Avatar:   pngBytes,
	})
	require.NoError(t, err)
	assert.Equal(t, "uid-newbie", p.ID)
	assert.True(t, strings.HasPrefix(p.AvatarURL, "mem://"))

	stored, err := f.store.GetProfile(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, "new_user", stored.Username)
	_, err = f.store.GetDirectory(context.Background(), p.ID)
	assert.NoError(t, err)
}

func TestProfile_RegisterFallsBackToDefaultAvatar(t *testing.T) {
	f := newFixture(t)
	ps := newProfileStore(f, &stubSignUp{})
	f.blobs.FailWith(errors.New("bucket unavailable"))

	p, err := ps.Register(context.Background(), Registration{
		Username: "new_user",
		Email:    "newbie@example.com",
		Password: "secret1",
		Avatar:   pngBytes,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultAvatar, p.AvatarURL)
}

func TestProfile_RegisterSkipsUniquenessWhenUnreadable(t *testing.T) {
	f := newFixture(t)
	signup := &stubSignUp{}
	ps := newProfileStore(f, signup)
	f.store.FailWith(func(op, _ string) error {
		if op == "FindByUsername" {
			return errors.New("permission denied")
		}
		return nil
	})

	_, err := ps.Register(context.Background(), Registration{Username: "new_user", Email: "n@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, 1, signup.calls)
}

func TestProfile_Update(t *testing.T) {
	f := newFixture(t)
	f.user(t, "a", "alice")
	ps := newProfileStore(f, &stubSignUp{})
	ctx := context.Background()

	_, err := ps.Update(ctx, ProfileEdit{Username: "bob"})
	assert.ErrorIs(t, err, domain.ErrNotSignedIn)

	_, err = ps.Load(ctx, &domain.Account{ID: "a"})
	require.NoError(t, err)

	_, err = ps.Update(ctx, ProfileEdit{Username: "   "})
	assert.ErrorIs(t, err, domain.ErrUsernameRequired)
	_, err = ps.Update(ctx, ProfileEdit{Username: "x"})
	assert.True(t, domain.IsValidation(err))
	_, err = ps.Update(ctx, ProfileEdit{Username: strings.Repeat("y", 31)})
	assert.True(t, domain.IsValidation(err))

	p, err := ps.Update(ctx, ProfileEdit{Username: "  Alice Cooper  ", Avatar: pngBytes})
	require.NoError(t, err)
	assert.Equal(t, "Alice Cooper", p.Username)
	assert.True(t, strings.HasPrefix(p.AvatarURL, "mem://"))

	stored, err := f.store.GetProfile(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Alice Cooper", stored.Username)
	assert.Equal(t, p.AvatarURL, stored.AvatarURL)
}

func TestProfile_ToggleBlock(t *testing.T) {
	f := newFixture(t)
	f.user(t, "a", "alice")
	f.user(t, "b", "bob")
	ps := newProfileStore(f, &stubSignUp{})
	ctx := context.Background()
	_, err := ps.Load(ctx, &domain.Account{ID: "a"})
	require.NoError(t, err)

	blocked, err := ps.ToggleBlock(ctx, "b")
	require.NoError(t, err)
	assert.True(t, blocked)
	assert.True(t, ps.Current().HasBlocked("b"))
	stored, _ := f.store.GetProfile(ctx, "a")
	assert.Equal(t, []string{"b"}, stored.BlockedIDs)

	blocked, err = ps.ToggleBlock(ctx, "b")
	require.NoError(t, err)
	assert.False(t, blocked)
	assert.False(t, ps.Current().HasBlocked("b"))
	stored, _ = f.store.GetProfile(ctx, "a")
	assert.Empty(t, stored.BlockedIDs)

	err = ps.Block(ctx, "a")
	assert.True(t, domain.IsValidation(err))
}

func TestProfile_FindByUsername(t *testing.T) {
	f := newFixture(t)
	f.user(t, "b", "bob")
	ps := newProfileStore(f, &stubSignUp{})
	ctx := context.Background()

	p, err := ps.FindByUsername(ctx, "  bob ")
	require.NoError(t, err)
	assert.Equal(t, "b", p.ID)

	_, err = ps.FindByUsername(ctx, "Bob")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	_, err = ps.FindByUsername(ctx, "")
	assert.True(t, domain.IsValidation(err))
}

func TestProfile_SetOnlinePublishesPresence(t *testing.T) {
	f := newFixture(t)
	f.user(t, "a", "alice")
	ps := newProfileStore(f, &stubSignUp{})
	ctx := context.Background()
	_, err := ps.Load(ctx, &domain.Account{ID: "a"})
	require.NoError(t, err)

	require.NoError(t, ps.SetOnline(ctx, false))
	assert.False(t, f.tracker.IsOnline(ctx, "a"))
	stored, _ := f.store.GetProfile(ctx, "a")
	assert.False(t, stored.Online)

	require.NoError(t, ps.SetOnline(ctx, true))
	assert.True(t, f.tracker.IsOnline(ctx, "a"))

	ps.Reset()
	assert.ErrorIs(t, ps.SetOnline(ctx, true), domain.ErrNotSignedIn)
}
