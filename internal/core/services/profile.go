package services

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"weconnect/internal/core/contracts"
	"weconnect/internal/core/domain"
	"weconnect/pkg/logging"
)

var profileTracer = otel.Tracer("profile-store")

var (
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
	emailPattern    = regexp.MustCompile(`^\S+@\S+\.\S+$`)
)

// Registration is the sign-up form.
type Registration struct {
	Username string `validate:"required,min=3,username"`
	Email    string `validate:"required,loose_email"`
	Password string `validate:"required,min=6"`
	Avatar   []byte `validate:"-"`
}

// ProfileEdit is the edit-profile form. Avatar is optional.
type ProfileEdit struct {
	Username string `validate:"required,min=2,max=30"`
	Avatar   []byte `validate:"-"`
}

type accountCreator interface {
	SignUp(ctx context.Context, cred contracts.Credential) (*domain.Account, error)
}

// ProfileStore owns the signed-in user's profile record.
type ProfileStore struct {
	log         *slog.Logger
	profiles    domain.ProfileRepository
	directories domain.DirectoryRepository
	uploads     *UploadGateway
	presence    *PresenceTracker
	accounts    accountCreator
	validate    *validator.Validate
	now         func() time.Time

	mu      sync.Mutex
	current *domain.Principal
}

func NewProfileStore(
	log *slog.Logger,
	profiles domain.ProfileRepository,
	directories domain.DirectoryRepository,
	uploads *UploadGateway,
	presence *PresenceTracker,
	accounts accountCreator,
) *ProfileStore {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("loose_email", func(fl validator.FieldLevel) bool {
		return emailPattern.MatchString(fl.Field().String())
	})
	return &ProfileStore{
		log:         log,
		profiles:    profiles,
		directories: directories,
		uploads:     uploads,
		presence:    presence,
		accounts:    accounts,
		validate:    v,
		now:         time.Now,
	}
}

// Current returns a copy of the loaded principal, or nil.
func (s *ProfileStore) Current() *domain.Principal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

// Reset forgets the loaded principal.
func (s *ProfileStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
}

func (s *ProfileStore) setCurrent(p *domain.Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = p.Clone()
}

// Load fetches the profile of acc, or builds and persists a minimal one when
// the record is missing or unreadable. Only an empty account id fails.
func (s *ProfileStore) Load(ctx context.Context, acc *domain.Account) (*domain.Principal, error) {
	if acc == nil || acc.ID == "" {
		s.Reset()
		return nil, domain.Validation("profile.Load", domain.ErrInvalidUserID)
	}
	ctx, span := profileTracer.Start(ctx, "ProfileStore.Load")
	defer span.End()

	p, err := s.profiles.GetProfile(ctx, acc.ID)
	if err == nil {
		if err := s.profiles.SetPresence(ctx, acc.ID, true, s.now()); err != nil {
			s.log.WarnContext(ctx, "profile - load - mark online failed", logging.Principal(acc.ID), logging.Err(err))
		} else {
			p.Online = true
		}
		s.setCurrent(p)
		return p.Clone(), nil
	}
	if !errors.Is(err, domain.ErrUserNotFound) {
		span.RecordError(err)
		s.log.WarnContext(ctx, "profile - load - read failed, using fallback", logging.Principal(acc.ID), logging.Err(err))
	}

	p = &domain.Principal{
		ID:        acc.ID,
		Username:  DefaultUsername(acc.ID, acc.Email),
		Email:     acc.Email,
		AvatarURL: acc.PhotoURL,
		Online:    true,
	}
	if p.AvatarURL == "" {
		p.AvatarURL = domain.DefaultAvatar
	}
	if err := s.profiles.SaveProfile(ctx, p); err != nil {
		s.log.WarnContext(ctx, "profile - load - save fallback failed", logging.Principal(acc.ID), logging.Err(err))
	}
	s.setCurrent(p)
	return p.Clone(), nil
}

// DefaultUsername derives a display name from the email local part, or from
// the last four characters of the id when there is no email.
func DefaultUsername(id, email string) string {
	local, _, _ := strings.Cut(email, "@")
	if email == "" || local == "" {
		tail := id
		if len(tail) > 4 {
			tail = tail[len(tail)-4:]
		}
		return "User_" + tail
	}
	words := strings.Split(strings.NewReplacer(".", " ", "_", " ").Replace(local), " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		r, size := utf8.DecodeRuneInString(w)
		words[i] = strings.ToUpper(string(r)) + strings.ToLower(w[size:])
	}
	return strings.Join(words, " ")
}

// Register validates the form, creates the account, uploads the avatar and
// writes the profile and an empty directory.
func (s *ProfileStore) Register(ctx context.Context, reg Registration) (*domain.Principal, error) {
	ctx, span := profileTracer.Start(ctx, "ProfileStore.Register")
	defer span.End()

	reg.Username = strings.TrimSpace(reg.Username)
	reg.Email = strings.TrimSpace(reg.Email)
	if err := s.validate.Struct(reg); err != nil {
		return nil, domain.Validation("profile.Register", errors.Join(domain.ErrInvalidProfile, err))
	}

	switch _, err := s.profiles.FindByUsername(ctx, reg.Username); {
	case err == nil:
		return nil, domain.Validation("profile.Register", domain.ErrUsernameTaken)
	case errors.Is(err, domain.ErrUserNotFound):
	default:
		s.log.WarnContext(ctx, "profile - register - uniqueness check skipped", slog.String("username", reg.Username), logging.Err(err))
	}

	acc, err := s.accounts.SignUp(ctx, contracts.Credential{Email: reg.Email, Password: reg.Password})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sign up failed")
		return nil, err
	}

	avatar := domain.DefaultAvatar
	if len(reg.Avatar) > 0 {
		url, err := s.uploads.Store(ctx, reg.Avatar)
		if err != nil {
			s.log.WarnContext(ctx, "profile - register - avatar upload failed, using default", logging.Principal(acc.ID), logging.Err(err))
		} else {
			avatar = url
		}
	}

	p := &domain.Principal{
		ID:         acc.ID,
		Username:   reg.Username,
		Email:      reg.Email,
		AvatarURL:  avatar,
		BlockedIDs: []string{},
		Online:     true,
		LastSeen:   s.now(),
	}
	if err := s.profiles.SaveProfile(ctx, p); err != nil {
		span.RecordError(err)
		s.log.ErrorContext(ctx, "profile - register - save failed", logging.Principal(acc.ID), logging.Err(err))
		return nil, domain.Transient("profile.Register", err)
	}
	if err := s.directories.EnsureDirectory(ctx, acc.ID); err != nil {
		s.log.WarnContext(ctx, "profile - register - directory create failed", logging.Principal(acc.ID), logging.Err(err))
	}
	s.setCurrent(p)
	s.log.InfoContext(ctx, "profile - register - success", logging.Principal(acc.ID))
	return p.Clone(), nil
}

// Update applies the edit-profile form to the current principal.
func (s *ProfileStore) Update(ctx context.Context, edit ProfileEdit) (*domain.Principal, error) {
	cur := s.Current()
	if cur == nil {
		return nil, domain.Permission("profile.Update", domain.ErrNotSignedIn)
	}
	edit.Username = strings.TrimSpace(edit.Username)
	if edit.Username == "" {
		return nil, domain.Validation("profile.Update", domain.ErrUsernameRequired)
	}
	if err := s.validate.Struct(edit); err != nil {
		return nil, domain.Validation("profile.Update", errors.Join(domain.ErrInvalidProfile, err))
	}

	upd := domain.ProfileUpdate{Username: &edit.Username}
	if len(edit.Avatar) > 0 {
		url, err := s.uploads.Store(ctx, edit.Avatar)
		if err != nil {
			return nil, err
		}
		upd.AvatarURL = &url
	}
	if err := s.profiles.UpdateProfile(ctx, cur.ID, upd); err != nil {
		s.log.ErrorContext(ctx, "profile - update - failed", logging.Principal(cur.ID), logging.Err(err))
		return nil, domain.Transient("profile.Update", err)
	}
	cur.Username = edit.Username
	if upd.AvatarURL != nil {
		cur.AvatarURL = *upd.AvatarURL
	}
	s.setCurrent(cur)
	return cur.Clone(), nil
}

func (s *ProfileStore) Block(ctx context.Context, targetID string) error {
	cur := s.Current()
	if cur == nil {
		return domain.Permission("profile.Block", domain.ErrNotSignedIn)
	}
	if targetID == "" || targetID == cur.ID {
		return domain.Validation("profile.Block", domain.ErrInvalidUserID)
	}
	if err := s.profiles.AddBlocked(ctx, cur.ID, targetID); err != nil {
		return domain.Transient("profile.Block", err)
	}
	s.mu.Lock()
	if s.current != nil && !s.current.HasBlocked(targetID) {
		s.current.BlockedIDs = append(s.current.BlockedIDs, targetID)
	}
	s.mu.Unlock()
	s.log.InfoContext(ctx, "profile - block - success", logging.Principal(cur.ID), logging.Member(targetID))
	return nil
}

func (s *ProfileStore) Unblock(ctx context.Context, targetID string) error {
	cur := s.Current()
	if cur == nil {
		return domain.Permission("profile.Unblock", domain.ErrNotSignedIn)
	}
	if err := s.profiles.RemoveBlocked(ctx, cur.ID, targetID); err != nil {
		return domain.Transient("profile.Unblock", err)
	}
	s.mu.Lock()
	if s.current != nil {
		kept := s.current.BlockedIDs[:0]
		for _, id := range s.current.BlockedIDs {
			if id != targetID {
				kept = append(kept, id)
			}
		}
		s.current.BlockedIDs = kept
	}
	s.mu.Unlock()
	s.log.InfoContext(ctx, "profile - unblock - success", logging.Principal(cur.ID), logging.Member(targetID))
	return nil
}

// ToggleBlock flips the block on targetID and reports whether it is now blocked.
func (s *ProfileStore) ToggleBlock(ctx context.Context, targetID string) (bool, error) {
	cur := s.Current()
	if cur == nil {
		return false, domain.Permission("profile.ToggleBlock", domain.ErrNotSignedIn)
	}
	if cur.HasBlocked(targetID) {
		return false, s.Unblock(ctx, targetID)
	}
	if err := s.Block(ctx, targetID); err != nil {
		return false, err
	}
	return true, nil
}

// FindByUsername looks up a user by exact username.
func (s *ProfileStore) FindByUsername(ctx context.Context, name string) (*domain.Principal, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.Validation("profile.FindByUsername", domain.ErrUsernameRequired)
	}
	p, err := s.profiles.FindByUsername(ctx, name)
	if errors.Is(err, domain.ErrUserNotFound) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, domain.Transient("profile.FindByUsername", err)
	}
	return p, nil
}

// SetOnline persists the status on the profile and broadcasts it.
func (s *ProfileStore) SetOnline(ctx context.Context, online bool) error {
	cur := s.Current()
	if cur == nil {
		return domain.Permission("profile.SetOnline", domain.ErrNotSignedIn)
	}
	if err := s.profiles.SetPresence(ctx, cur.ID, online, s.now()); err != nil {
		s.log.WarnContext(ctx, "profile - set online - persist failed", logging.Principal(cur.ID), logging.Err(err))
	}
	s.mu.Lock()
	if s.current != nil {
		s.current.Online = online
	}
	s.mu.Unlock()
	return s.presence.PublishPresence(ctx, cur.ID, online)
}
