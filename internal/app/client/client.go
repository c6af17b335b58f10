// Package client ties the chat components into one signed-in session:
// identity drives the profile, the profile drives presence and the
// conversation list, and the selected conversation drives the transcript.
package client

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"weconnect/internal/app/registry"
	"weconnect/internal/core/contracts"
	"weconnect/internal/core/domain"
	"weconnect/internal/core/services"
	"weconnect/pkg/logging"
)

var clientTracer = otel.Tracer("client")

const (
	slotPresence   = "presence"
	slotDirectory  = "directory"
	slotTranscript = "transcript"
)

type Client struct {
	log         *slog.Logger
	identity    *services.IdentitySession
	profiles    *services.ProfileStore
	presence    *services.PresenceTracker
	directory   *services.DirectoryService
	transcripts *services.TranscriptEngine
	members     *services.MembershipManager
	slots       *registry.Registry

	onDirectory func([]services.Entry)

	mu          sync.Mutex
	ctx         context.Context
	stop        domain.Disposer
	registering bool
	dirSub      *services.DirectorySubscription
	open        *services.TranscriptSession
	openCtx     *services.OpenContext
}

func New(
	log *slog.Logger,
	identity *services.IdentitySession,
	profiles *services.ProfileStore,
	presence *services.PresenceTracker,
	directory *services.DirectoryService,
	transcripts *services.TranscriptEngine,
	members *services.MembershipManager,
	onDirectory func([]services.Entry),
) *Client {
	if onDirectory == nil {
		onDirectory = func([]services.Entry) {}
	}
	return &Client{
		log:         log,
		identity:    identity,
		profiles:    profiles,
		presence:    presence,
		directory:   directory,
		transcripts: transcripts,
		members:     members,
		slots:       registry.NewRegistry(),
		onDirectory: onDirectory,
	}
}

// Start follows session changes until Stop. Work triggered by a session
// change runs on ctx.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()
	stop := c.identity.OnSessionChanged(c.sessionChanged)
	c.mu.Lock()
	c.stop = stop
	c.mu.Unlock()
}

// Stop detaches from the identity session and tears the session down.
func (c *Client) Stop() {
	c.mu.Lock()
	stop := c.stop
	c.stop = nil
	c.mu.Unlock()
	if stop != nil {
		stop()
	}
	c.teardown()
}

func (c *Client) baseContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

func (c *Client) sessionChanged(acc *domain.Account) {
	if acc == nil {
		c.teardown()
		return
	}
	c.mu.Lock()
	skip := c.registering
	c.mu.Unlock()
	if skip {
		return
	}
	c.activate(c.baseContext(), acc)
}

func (c *Client) activate(ctx context.Context, acc *domain.Account) {
	ctx, span := clientTracer.Start(ctx, "Client.activate")
	defer span.End()

	p, err := c.profiles.Load(ctx, acc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "profile load failed")
		c.log.ErrorContext(ctx, "client - activate - profile load failed", logging.Principal(acc.ID), logging.Err(err))
		return
	}

	stopPresence, err := c.presence.Start(ctx, p.ID)
	if err != nil {
		c.log.WarnContext(ctx, "client - activate - presence start failed", logging.Principal(p.ID), logging.Err(err))
	} else {
		c.slots.Replace(slotPresence, stopPresence)
	}

	sub, err := c.directory.Subscribe(ctx, p, c.onDirectory)
	if err != nil {
		span.RecordError(err)
		c.log.ErrorContext(ctx, "client - activate - directory subscribe failed", logging.Principal(p.ID), logging.Err(err))
		return
	}
	c.mu.Lock()
	c.dirSub = sub
	c.mu.Unlock()
	c.slots.Replace(slotDirectory, sub.Close)
	c.log.InfoContext(ctx, "client - activate - session ready", logging.Principal(p.ID))
}

// teardown disposes the transcript, then the directory, then presence.
func (c *Client) teardown() {
	c.mu.Lock()
	c.dirSub = nil
	c.open = nil
	c.openCtx = nil
	c.mu.Unlock()
	c.slots.Dispose(slotTranscript)
	c.slots.Dispose(slotDirectory)
	c.slots.Dispose(slotPresence)
	c.slots.DisposeAll()
	c.profiles.Reset()
}

// Register creates the account and profile, then starts the session with the
// registered profile in place.
func (c *Client) Register(ctx context.Context, reg services.Registration) (*domain.Principal, error) {
	c.mu.Lock()
	c.registering = true
	c.mu.Unlock()
	p, err := c.profiles.Register(ctx, reg)
	c.mu.Lock()
	c.registering = false
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if acc := c.identity.Current(); acc != nil && acc.ID == p.ID {
		c.activate(ctx, acc)
	}
	return c.profiles.Current(), nil
}

func (c *Client) SignIn(ctx context.Context, cred contracts.Credential) (*domain.Account, error) {
	return c.identity.SignIn(ctx, cred)
}

func (c *Client) SignOut(ctx context.Context) error {
	return c.identity.SignOut(ctx)
}

func (c *Client) Restore(ctx context.Context, token string) (*domain.Account, error) {
	return c.identity.Restore(ctx, token)
}

// Profile returns the loaded principal, or nil when signed out.
func (c *Client) Profile() *domain.Principal {
	return c.profiles.Current()
}

func (c *Client) UpdateProfile(ctx context.Context, edit services.ProfileEdit) (*domain.Principal, error) {
	return c.profiles.Update(ctx, edit)
}

// Search filters the conversation list.
func (c *Client) Search(term string) {
	c.mu.Lock()
	sub := c.dirSub
	c.mu.Unlock()
	if sub != nil {
		sub.Search(term)
	}
}

func (c *Client) owner() (*domain.Principal, error) {
	p := c.profiles.Current()
	if p == nil {
		return nil, domain.Permission("client", domain.ErrNotSignedIn)
	}
	return p, nil
}

// OpenConversation selects convID and opens its transcript. The previous
// transcript is closed first.
func (c *Client) OpenConversation(ctx context.Context, convID string, fn func(services.TranscriptView)) error {
	owner, err := c.owner()
	if err != nil {
		return err
	}
	c.CloseConversation()

	oc, err := c.directory.Select(ctx, owner, convID)
	if err != nil {
		return err
	}
	sess, err := c.transcripts.Open(ctx, owner, oc, fn)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.open = sess
	c.openCtx = oc
	c.mu.Unlock()
	c.slots.Replace(slotTranscript, sess.Close)
	return nil
}

func (c *Client) CloseConversation() {
	c.mu.Lock()
	c.open = nil
	c.openCtx = nil
	c.mu.Unlock()
	c.slots.Dispose(slotTranscript)
}

// OpenConversationID returns the id of the open conversation, or "".
func (c *Client) OpenConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open == nil {
		return ""
	}
	return c.open.ConversationID()
}

func (c *Client) Send(ctx context.Context, text string, att *services.Attachment) error {
	c.mu.Lock()
	sess := c.open
	c.mu.Unlock()
	if sess == nil {
		return domain.ErrSessionClosed
	}
	return sess.Send(ctx, text, att)
}

// ToggleBlock flips the block on the counterpart of the open individual
// conversation and applies the new flags to the open transcript.
func (c *Client) ToggleBlock(ctx context.Context) (bool, error) {
	c.mu.Lock()
	sess, oc := c.open, c.openCtx
	c.mu.Unlock()
	if sess == nil || oc == nil {
		return false, domain.ErrSessionClosed
	}
	if oc.Summary.Kind == domain.KindGroup {
		return false, domain.Validation("client.ToggleBlock", domain.ErrConversationIsGroup)
	}
	blocked, err := c.profiles.ToggleBlock(ctx, oc.Summary.CounterpartID())
	if err != nil {
		return false, err
	}
	state := oc.Block
	state.ReceiverBlocked = blocked && !state.CurrentUserBlocked
	c.mu.Lock()
	if c.openCtx == oc {
		c.openCtx.Block = state
	}
	c.mu.Unlock()
	sess.SetBlockState(state)
	return blocked, nil
}

// DeleteConversation hides convID for the signed-in user and closes it if open.
func (c *Client) DeleteConversation(ctx context.Context, convID string) error {
	owner, err := c.owner()
	if err != nil {
		return err
	}
	if err := c.directory.SoftDelete(ctx, owner.ID, convID); err != nil {
		return err
	}
	if c.OpenConversationID() == convID {
		c.CloseConversation()
	}
	return nil
}

func (c *Client) MarkUnread(ctx context.Context, convID string) error {
	owner, err := c.owner()
	if err != nil {
		return err
	}
	return c.directory.MarkUnread(ctx, owner.ID, convID)
}

// StartConversation finds or creates the individual conversation with the
// user called username.
func (c *Client) StartConversation(ctx context.Context, username string) (string, error) {
	owner, err := c.owner()
	if err != nil {
		return "", err
	}
	target, err := c.profiles.FindByUsername(ctx, username)
	if err != nil {
		return "", err
	}
	return c.directory.StartConversation(ctx, owner, target.ID)
}

func (c *Client) CreateGroup(ctx context.Context, name string, members []domain.Principal) (string, error) {
	owner, err := c.owner()
	if err != nil {
		return "", err
	}
	return c.members.CreateGroup(ctx, owner, name, members)
}

func (c *Client) RemoveMember(ctx context.Context, convID, memberID string) error {
	owner, err := c.owner()
	if err != nil {
		return err
	}
	return c.members.RemoveMember(ctx, owner.ID, convID, memberID)
}

func (c *Client) SearchCandidates(ctx context.Context, term string, selected []string) ([]domain.Principal, error) {
	owner, err := c.owner()
	if err != nil {
		return nil, err
	}
	return c.members.SearchCandidates(ctx, owner.ID, term, selected)
}
