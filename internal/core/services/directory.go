package services

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"weconnect/internal/core/contracts"
	"weconnect/internal/core/domain"
	"weconnect/internal/platform/metrics"
	"weconnect/pkg/logging"
)

var directoryTracer = otel.Tracer("conversation-directory")

// Entry is one rendered row of the conversation list.
type Entry struct {
	Summary     domain.ConversationSummary
	Title       string
	Avatar      string
	Online      bool
	Reappeared  bool
	Masked      bool
	MemberCount int
}

// OpenContext is what the transcript needs to render a selected conversation.
type OpenContext struct {
	Summary domain.ConversationSummary
	// Counterpart is nil for groups and when the counterpart has blocked the owner.
	Counterpart *domain.Principal
	Group       *domain.GroupInfo
	Block       BlockState
}

// DirectoryService maintains each user's conversation list.
type DirectoryService struct {
	log         *slog.Logger
	profiles    domain.ProfileRepository
	directories domain.DirectoryRepository
	transcripts domain.TranscriptRepository
	presence    *PresenceTracker
	feed        contracts.ChangeFeed
	cacheSize   int
	now         func() time.Time

	mu         sync.Mutex
	reappeared map[string]map[string]struct{}
}

func NewDirectoryService(
	log *slog.Logger,
	profiles domain.ProfileRepository,
	directories domain.DirectoryRepository,
	transcripts domain.TranscriptRepository,
	presence *PresenceTracker,
	feed contracts.ChangeFeed,
	cacheSize int,
) *DirectoryService {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	return &DirectoryService{
		log:         log,
		profiles:    profiles,
		directories: directories,
		transcripts: transcripts,
		presence:    presence,
		feed:        feed,
		cacheSize:   cacheSize,
		now:         time.Now,
		reappeared:  make(map[string]map[string]struct{}),
	}
}

func (s *DirectoryService) markReappeared(ownerID, convID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reappeared[ownerID] == nil {
		s.reappeared[ownerID] = make(map[string]struct{})
	}
	s.reappeared[ownerID][convID] = struct{}{}
}

func (s *DirectoryService) clearReappeared(ownerID, convID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.reappeared[ownerID], convID)
}

func (s *DirectoryService) isReappeared(ownerID, convID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.reappeared[ownerID][convID]
	return ok
}

// Subscribe emits the owner's list now and again whenever the directory, a
// counterpart profile or a counterpart's presence changes. fn must not call
// back into the subscription.
func (s *DirectoryService) Subscribe(ctx context.Context, owner *domain.Principal, fn func([]Entry)) (*DirectorySubscription, error) {
	if owner == nil || owner.ID == "" {
		return nil, domain.Validation("directory.Subscribe", domain.ErrInvalidUserID)
	}
	cache, err := lru.New(s.cacheSize)
	if err != nil {
		return nil, err
	}
	sub := &DirectorySubscription{
		svc:      s,
		owner:    owner.Clone(),
		fn:       fn,
		cache:    cache,
		watchers: make(map[string]domain.Disposer),
		online:   make(map[string]bool),
	}

	dispose, err := s.feed.Subscribe(ctx, domain.DirectoryTopic(owner.ID), func(ctx context.Context, _ []byte) {
		sub.refresh(ctx)
	})
	if err != nil {
		return nil, domain.Transient("directory.Subscribe", err)
	}
	sub.disposers = append(sub.disposers, dispose)

	dispose, err = s.feed.Subscribe(ctx, domain.NoticeTopic(owner.ID), func(ctx context.Context, payload []byte) {
		var n domain.Notice
		if err := json.Unmarshal(payload, &n); err != nil {
			s.log.WarnContext(ctx, "directory - notice - decode failed", logging.Owner(owner.ID), logging.Err(err))
			return
		}
		if n.Type == domain.NoticeReappeared {
			s.markReappeared(owner.ID, n.ConversationID)
			sub.refresh(ctx)
		}
	})
	if err != nil {
		sub.Close()
		return nil, domain.Transient("directory.Subscribe", err)
	}
	sub.disposers = append(sub.disposers, dispose)

	metrics.ActiveSubscriptions.WithLabelValues("directory").Inc()
	sub.refresh(ctx)
	return sub, nil
}

// DirectorySubscription is a live view of one owner's conversation list.
type DirectorySubscription struct {
	svc   *DirectoryService
	owner *domain.Principal
	fn    func([]Entry)
	cache *lru.Cache

	// emitMu serialises refreshes and deliveries.
	emitMu sync.Mutex

	mu        sync.Mutex
	closed    bool
	term      string
	last      []Entry
	watchers  map[string]domain.Disposer
	online    map[string]bool
	disposers []domain.Disposer
}

// Search narrows the emitted list to titles containing term and re-emits.
func (d *DirectorySubscription) Search(term string) {
	d.mu.Lock()
	d.term = term
	d.mu.Unlock()
	d.emitMu.Lock()
	defer d.emitMu.Unlock()
	d.emit()
}

// Close stops all deliveries. No callback runs after Close returns.
func (d *DirectorySubscription) Close() {
	d.emitMu.Lock()
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.emitMu.Unlock()
		return
	}
	d.closed = true
	disposers := d.disposers
	for _, w := range d.watchers {
		disposers = append(disposers, w)
	}
	d.disposers, d.watchers = nil, nil
	d.mu.Unlock()
	d.emitMu.Unlock()

	for _, dispose := range disposers {
		dispose()
	}
	metrics.ActiveSubscriptions.WithLabelValues("directory").Dec()
}

func (d *DirectorySubscription) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *DirectorySubscription) refresh(ctx context.Context) {
	d.emitMu.Lock()
	defer d.emitMu.Unlock()
	if d.isClosed() {
		return
	}
	ctx, span := directoryTracer.Start(ctx, "DirectorySubscription.refresh")
	defer span.End()

	chats, err := d.svc.directories.GetDirectory(ctx, d.owner.ID)
	if errors.Is(err, domain.ErrDirectoryNotFound) {
		chats, err = nil, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "directory read failed")
		d.svc.log.WarnContext(ctx, "directory - refresh - read failed", logging.Owner(d.owner.ID), logging.Err(err))
		return
	}

	visible := VisibleSummaries(chats)
	entries := make([]Entry, 0, len(visible))
	for _, sum := range visible {
		entries = append(entries, d.resolve(ctx, sum))
	}

	d.mu.Lock()
	d.last = entries
	d.mu.Unlock()
	d.emit()
}

func (d *DirectorySubscription) resolve(ctx context.Context, sum domain.ConversationSummary) Entry {
	e := Entry{
		Summary:    sum,
		Reappeared: d.svc.isReappeared(d.owner.ID, sum.ConversationID),
	}
	if sum.Kind == domain.KindGroup {
		e.Avatar = domain.DefaultAvatar
		if sum.Group != nil {
			e.Title = sum.Group.Name
			e.MemberCount = len(sum.Group.MemberIDs)
		}
		return e
	}

	cp := d.counterpart(ctx, sum.CounterpartID())
	if cp.HasBlocked(d.owner.ID) {
		e.Title = domain.MaskedUsername
		e.Avatar = domain.DefaultAvatar
		e.Masked = true
		return e
	}
	e.Title = cp.Username
	e.Avatar = cp.Avatar()
	d.watch(ctx, cp.ID)
	return e
}

// counterpart reads through the cache. Placeholders are never cached.
func (d *DirectorySubscription) counterpart(ctx context.Context, id string) *domain.Principal {
	if v, ok := d.cache.Get(id); ok {
		return v.(*domain.Principal)
	}
	p, err := d.svc.profiles.GetProfile(ctx, id)
	if err != nil {
		metrics.ProfileFallbacks.Inc()
		d.svc.log.WarnContext(ctx, "directory - counterpart - read failed, using placeholder",
			logging.Owner(d.owner.ID), logging.Principal(id), logging.Err(err))
		return domain.PlaceholderPrincipal(id)
	}
	d.cache.Add(id, p)
	return p
}

// watch subscribes to presence and profile changes of a counterpart once.
func (d *DirectorySubscription) watch(ctx context.Context, id string) {
	if id == "" {
		return
	}
	d.mu.Lock()
	_, ok := d.watchers[id]
	d.mu.Unlock()
	if ok {
		return
	}

	online := d.svc.presence.IsOnline(ctx, id)
	stopPresence, err := d.svc.presence.SubscribePresence(ctx, id, func(on bool) {
		d.mu.Lock()
		d.online[id] = on
		d.mu.Unlock()
		d.emitMu.Lock()
		defer d.emitMu.Unlock()
		d.emit()
	})
	if err != nil {
		d.svc.log.WarnContext(ctx, "directory - watch - presence subscribe failed", logging.Principal(id), logging.Err(err))
		stopPresence = func() {}
	}
	stopProfile, err := d.svc.feed.Subscribe(ctx, domain.UserTopic(id), func(ctx context.Context, _ []byte) {
		d.cache.Remove(id)
		d.refresh(ctx)
	})
	if err != nil {
		d.svc.log.WarnContext(ctx, "directory - watch - profile subscribe failed", logging.Principal(id), logging.Err(err))
		stopProfile = func() {}
	}

	d.mu.Lock()
	d.online[id] = online
	d.watchers[id] = func() {
		stopPresence()
		stopProfile()
	}
	d.mu.Unlock()
}

// emit delivers the last snapshot filtered by the search term. The caller
// holds emitMu.
func (d *DirectorySubscription) emit() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	out := make([]Entry, 0, len(d.last))
	for _, e := range d.last {
		if !MatchesSearch(e.Title, d.term) {
			continue
		}
		if e.Summary.Kind == domain.KindIndividual && !e.Masked {
			e.Online = d.online[e.Summary.CounterpartID()]
		}
		out = append(out, e)
	}
	d.mu.Unlock()
	metrics.DirectorySnapshots.Inc()
	d.fn(out)
}

// Select marks the conversation seen and resolves what the transcript needs.
func (s *DirectoryService) Select(ctx context.Context, owner *domain.Principal, convID string) (*OpenContext, error) {
	if owner == nil || owner.ID == "" {
		return nil, domain.Validation("directory.Select", domain.ErrInvalidUserID)
	}
	ctx, span := directoryTracer.Start(ctx, "DirectoryService.Select")
	defer span.End()

	// The flag is cleared before the write so the snapshot the write
	// triggers already shows the entry as read.
	wasReappeared := s.isReappeared(owner.ID, convID)
	s.clearReappeared(owner.ID, convID)

	var selected domain.ConversationSummary
	err := s.directories.MutateDirectory(ctx, owner.ID, func(chats []domain.ConversationSummary) ([]domain.ConversationSummary, error) {
		i := indexOfSummary(chats, convID)
		if i < 0 {
			return nil, domain.ErrConversationNotFound
		}
		chats[i].IsSeen = true
		selected = chats[i].Clone()
		return chats, nil
	})
	if err != nil && wasReappeared {
		s.markReappeared(owner.ID, convID)
	}
	if errors.Is(err, domain.ErrConversationNotFound) {
		return nil, domain.Validation("directory.Select", err)
	}
	if err != nil {
		span.RecordError(err)
		s.log.ErrorContext(ctx, "directory - select - mark seen failed", logging.Owner(owner.ID), logging.Conversation(convID), logging.Err(err))
		return nil, domain.Transient("directory.Select", err)
	}

	oc := &OpenContext{Summary: selected}
	if selected.Kind == domain.KindGroup {
		oc.Group = selected.Group
		if conv, err := s.transcripts.GetConversation(ctx, convID); err == nil && conv.Group != nil {
			oc.Group = conv.Group
		} else if err != nil {
			s.log.WarnContext(ctx, "directory - select - group read failed, using summary", logging.Conversation(convID), logging.Err(err))
		}
		return oc, nil
	}

	cp, err := s.profiles.GetProfile(ctx, selected.CounterpartID())
	if err != nil {
		metrics.ProfileFallbacks.Inc()
		s.log.WarnContext(ctx, "directory - select - counterpart read failed", logging.Conversation(convID), logging.Err(err))
		cp = domain.PlaceholderPrincipal(selected.CounterpartID())
	}
	oc.Block = ResolveBlockState(owner, cp)
	if !oc.Block.CurrentUserBlocked {
		oc.Counterpart = cp
	}
	return oc, nil
}

// SoftDelete hides the conversation from the owner's list until it receives
// a newer message. Other participants are unaffected.
func (s *DirectoryService) SoftDelete(ctx context.Context, ownerID, convID string) error {
	err := s.mutateOne(ctx, ownerID, convID, func(sum *domain.ConversationSummary) {
		sum.Cleared = &domain.ClearMarker{At: s.now(), By: ownerID}
	})
	if err != nil {
		return err
	}
	s.clearReappeared(ownerID, convID)
	s.log.InfoContext(ctx, "directory - soft delete - success", logging.Owner(ownerID), logging.Conversation(convID))
	return nil
}

func (s *DirectoryService) MarkUnread(ctx context.Context, ownerID, convID string) error {
	return s.mutateOne(ctx, ownerID, convID, func(sum *domain.ConversationSummary) {
		sum.IsSeen = false
	})
}

func (s *DirectoryService) mutateOne(ctx context.Context, ownerID, convID string, apply func(*domain.ConversationSummary)) error {
	if ownerID == "" {
		return domain.Validation("directory.mutate", domain.ErrInvalidUserID)
	}
	err := s.directories.MutateDirectory(ctx, ownerID, func(chats []domain.ConversationSummary) ([]domain.ConversationSummary, error) {
		i := indexOfSummary(chats, convID)
		if i < 0 {
			return nil, domain.ErrConversationNotFound
		}
		apply(&chats[i])
		return chats, nil
	})
	if errors.Is(err, domain.ErrConversationNotFound) {
		return domain.Validation("directory.mutate", err)
	}
	if err != nil {
		s.log.ErrorContext(ctx, "directory - mutate - failed", logging.Owner(ownerID), logging.Conversation(convID), logging.Err(err))
		return domain.Transient("directory.mutate", err)
	}
	return nil
}

// StartConversation opens a one-to-one conversation with counterpartID, or
// returns the existing one without writing anything.
func (s *DirectoryService) StartConversation(ctx context.Context, owner *domain.Principal, counterpartID string) (string, error) {
	if owner == nil || owner.ID == "" || counterpartID == "" {
		return "", domain.Validation("directory.StartConversation", domain.ErrInvalidUserID)
	}
	if owner.ID == counterpartID {
		return "", domain.Validation("directory.StartConversation", domain.ErrSelfConversation)
	}
	ctx, span := directoryTracer.Start(ctx, "DirectoryService.StartConversation")
	defer span.End()

	chats, err := s.directories.GetDirectory(ctx, owner.ID)
	if err != nil && !errors.Is(err, domain.ErrDirectoryNotFound) {
		return "", domain.Transient("directory.StartConversation", err)
	}
	for _, c := range chats {
		if c.Kind == domain.KindIndividual && c.CounterpartID() == counterpartID {
			return c.ConversationID, nil
		}
	}
	if _, err := s.profiles.GetProfile(ctx, counterpartID); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return "", domain.Validation("directory.StartConversation", err)
		}
		return "", domain.Transient("directory.StartConversation", err)
	}

	for _, id := range []string{counterpartID, owner.ID} {
		if err := s.directories.EnsureDirectory(ctx, id); err != nil {
			return "", domain.Transient("directory.StartConversation", err)
		}
	}

	convID, err := domain.NewConversationID()
	if err != nil {
		return "", err
	}
	conv := &domain.Conversation{
		ID:             convID,
		Kind:           domain.KindIndividual,
		ParticipantIDs: []string{owner.ID, counterpartID},
	}
	if err := s.transcripts.CreateConversation(ctx, conv); err != nil {
		span.RecordError(err)
		return "", domain.Transient("directory.StartConversation", err)
	}

	now := s.now()
	if err := s.directories.AppendSummary(ctx, counterpartID, domain.NewIndividualSummary(convID, owner.ID, now)); err != nil {
		return "", domain.Transient("directory.StartConversation", err)
	}
	if err := s.directories.AppendSummary(ctx, owner.ID, domain.NewIndividualSummary(convID, counterpartID, now)); err != nil {
		return "", domain.Transient("directory.StartConversation", err)
	}
	s.log.InfoContext(ctx, "directory - start conversation - created",
		logging.Owner(owner.ID), logging.Member(counterpartID), logging.Conversation(convID))
	return convID, nil
}

func indexOfSummary(chats []domain.ConversationSummary, convID string) int {
	return slices.IndexFunc(chats, func(c domain.ConversationSummary) bool {
		return c.ConversationID == convID
	})
}
