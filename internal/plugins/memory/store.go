package memory

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"sync"
	"time"

	"weconnect/internal/core/contracts"
	"weconnect/internal/core/domain"
)

// Store keeps users, userchats and chats documents in memory and publishes
// on the change feed after each write, like the PostgreSQL store does.
type Store struct {
	mu          sync.Mutex
	feed        contracts.ChangeFeed
	users       map[string]*domain.Principal
	directories map[string][]domain.ConversationSummary
	chats       map[string]*domain.Conversation
	calls       map[string]int
	fail        func(op, id string) error
	now         func() time.Time
}

func NewStore(feed contracts.ChangeFeed) *Store {
	return &Store{
		feed:        feed,
		users:       make(map[string]*domain.Principal),
		directories: make(map[string][]domain.ConversationSummary),
		chats:       make(map[string]*domain.Conversation),
		calls:       make(map[string]int),
		now:         time.Now,
	}
}

// SetClock replaces the server clock used for message timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// FailWith installs a hook consulted before every operation; a non-nil
// result is returned to the caller instead of performing the operation.
func (s *Store) FailWith(fn func(op, id string) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fn
}

// Calls returns how many times op was attempted.
func (s *Store) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// begin locks the store and records the call. The caller must unlock.
func (s *Store) begin(op, id string) error {
	s.mu.Lock()
	s.calls[op]++
	if s.fail != nil {
		if err := s.fail(op, id); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	return nil
}

func (s *Store) publish(ctx context.Context, topic string) {
	if s.feed != nil {
		_ = s.feed.Publish(ctx, topic, nil)
	}
}

// Profiles

func (s *Store) GetProfile(_ context.Context, id string) (*domain.Principal, error) {
	if id == "" {
		return nil, domain.ErrInvalidUserID
	}
	if err := s.begin("GetProfile", id); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	p, ok := s.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return p.Clone(), nil
}

func (s *Store) SaveProfile(ctx context.Context, p *domain.Principal) error {
	if p == nil || p.ID == "" {
		return domain.ErrInvalidUserID
	}
	if err := s.begin("SaveProfile", p.ID); err != nil {
		return err
	}
	cur, ok := s.users[p.ID]
	if !ok {
		cur = &domain.Principal{ID: p.ID}
		s.users[p.ID] = cur
	}
	if p.Username != "" {
		cur.Username = p.Username
	}
	if p.Email != "" {
		cur.Email = p.Email
	}
	if p.AvatarURL != "" {
		cur.AvatarURL = p.AvatarURL
	}
	if p.BlockedIDs != nil {
		cur.BlockedIDs = slices.Clone(p.BlockedIDs)
	}
	cur.Online = p.Online
	if !p.LastSeen.IsZero() {
		cur.LastSeen = p.LastSeen
	}
	s.mu.Unlock()
	s.publish(ctx, domain.UserTopic(p.ID))
	return nil
}

func (s *Store) UpdateProfile(ctx context.Context, id string, upd domain.ProfileUpdate) error {
	if err := s.begin("UpdateProfile", id); err != nil {
		return err
	}
	p, ok := s.users[id]
	if !ok {
		s.mu.Unlock()
		return domain.ErrUserNotFound
	}
	if upd.Username != nil {
		p.Username = *upd.Username
	}
	if upd.AvatarURL != nil {
		p.AvatarURL = *upd.AvatarURL
	}
	s.mu.Unlock()
	s.publish(ctx, domain.UserTopic(id))
	return nil
}

func (s *Store) AddBlocked(ctx context.Context, id, blockedID string) error {
	if err := s.begin("AddBlocked", id); err != nil {
		return err
	}
	p, ok := s.users[id]
	if !ok {
		s.mu.Unlock()
		return domain.ErrUserNotFound
	}
	if !slices.Contains(p.BlockedIDs, blockedID) {
		p.BlockedIDs = append(p.BlockedIDs, blockedID)
	}
	s.mu.Unlock()
	s.publish(ctx, domain.UserTopic(id))
	return nil
}

func (s *Store) RemoveBlocked(ctx context.Context, id, blockedID string) error {
	if err := s.begin("RemoveBlocked", id); err != nil {
		return err
	}
	p, ok := s.users[id]
	if !ok {
		s.mu.Unlock()
		return domain.ErrUserNotFound
	}
	p.BlockedIDs = slices.DeleteFunc(p.BlockedIDs, func(v string) bool { return v == blockedID })
	s.mu.Unlock()
	s.publish(ctx, domain.UserTopic(id))
	return nil
}

func (s *Store) SetPresence(ctx context.Context, id string, online bool, lastSeen time.Time) error {
	if err := s.begin("SetPresence", id); err != nil {
		return err
	}
	p, ok := s.users[id]
	if !ok {
		s.mu.Unlock()
		return domain.ErrUserNotFound
	}
	p.Online = online
	p.LastSeen = lastSeen
	s.mu.Unlock()
	s.publish(ctx, domain.UserTopic(id))
	return nil
}

func (s *Store) FindByUsername(_ context.Context, username string) (*domain.Principal, error) {
	if err := s.begin("FindByUsername", username); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	for _, p := range s.users {
		if p.Username == username {
			return p.Clone(), nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (s *Store) SearchByUsername(_ context.Context, term string, limit int) ([]domain.Principal, error) {
	if err := s.begin("SearchByUsername", term); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	needle := strings.ToLower(term)
	var out []domain.Principal
	for _, p := range s.users {
		if strings.Contains(strings.ToLower(p.Username), needle) {
			out = append(out, *p.Clone())
		}
	}
	slices.SortFunc(out, func(a, b domain.Principal) int { return strings.Compare(a.Username, b.Username) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Directories

func cloneSummaries(in []domain.ConversationSummary) []domain.ConversationSummary {
	out := make([]domain.ConversationSummary, len(in))
	for i, s := range in {
		out[i] = s.Clone()
	}
	return out
}

func (s *Store) GetDirectory(_ context.Context, ownerID string) ([]domain.ConversationSummary, error) {
	if err := s.begin("GetDirectory", ownerID); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	chats, ok := s.directories[ownerID]
	if !ok {
		return nil, domain.ErrDirectoryNotFound
	}
	return cloneSummaries(chats), nil
}

func (s *Store) EnsureDirectory(ctx context.Context, ownerID string) error {
	if err := s.begin("EnsureDirectory", ownerID); err != nil {
		return err
	}
	_, ok := s.directories[ownerID]
	if !ok {
		s.directories[ownerID] = []domain.ConversationSummary{}
	}
	s.mu.Unlock()
	if !ok {
		s.publish(ctx, domain.DirectoryTopic(ownerID))
	}
	return nil
}

func (s *Store) AppendSummary(ctx context.Context, ownerID string, sum domain.ConversationSummary) error {
	if err := s.begin("AppendSummary", ownerID); err != nil {
		return err
	}
	chats := s.directories[ownerID]
	if !containsSummary(chats, sum) {
		s.directories[ownerID] = append(chats, sum.Clone())
	}
	s.mu.Unlock()
	s.publish(ctx, domain.DirectoryTopic(ownerID))
	return nil
}

// containsSummary compares stored shapes, matching arrayUnion semantics.
func containsSummary(chats []domain.ConversationSummary, sum domain.ConversationSummary) bool {
	want, _ := json.Marshal(sum.ToRecord())
	for _, c := range chats {
		got, _ := json.Marshal(c.ToRecord())
		if string(got) == string(want) {
			return true
		}
	}
	return false
}

func (s *Store) MutateDirectory(ctx context.Context, ownerID string, fn func([]domain.ConversationSummary) ([]domain.ConversationSummary, error)) error {
	if err := s.begin("MutateDirectory", ownerID); err != nil {
		return err
	}
	next, err := fn(cloneSummaries(s.directories[ownerID]))
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.directories[ownerID] = cloneSummaries(next)
	s.mu.Unlock()
	s.publish(ctx, domain.DirectoryTopic(ownerID))
	return nil
}

// Transcripts

func cloneConversation(c *domain.Conversation) *domain.Conversation {
	cp := *c
	if c.Group != nil {
		g := *c.Group
		g.MemberIDs = slices.Clone(c.Group.MemberIDs)
		cp.Group = &g
	}
	cp.MemberDetails = slices.Clone(c.MemberDetails)
	cp.ParticipantIDs = slices.Clone(c.ParticipantIDs)
	cp.Messages = slices.Clone(c.Messages)
	return &cp
}

func (s *Store) CreateConversation(ctx context.Context, c *domain.Conversation) error {
	if c == nil || c.ID == "" {
		return domain.ErrInvalidConversationID
	}
	if err := s.begin("CreateConversation", c.ID); err != nil {
		return err
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	s.chats[c.ID] = cloneConversation(c)
	s.mu.Unlock()
	s.publish(ctx, domain.TranscriptTopic(c.ID))
	return nil
}

func (s *Store) GetConversation(_ context.Context, id string) (*domain.Conversation, error) {
	if err := s.begin("GetConversation", id); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	c, ok := s.chats[id]
	if !ok {
		return nil, domain.ErrConversationNotFound
	}
	return cloneConversation(c), nil
}

func (s *Store) AppendMessage(ctx context.Context, convID string, m domain.Message) (domain.Message, error) {
	if err := s.begin("AppendMessage", convID); err != nil {
		return domain.Message{}, err
	}
	c, ok := s.chats[convID]
	if !ok {
		s.mu.Unlock()
		return domain.Message{}, domain.ErrConversationNotFound
	}
	m.CreatedAt = s.now()
	c.Messages = append(c.Messages, m)
	s.mu.Unlock()
	s.publish(ctx, domain.TranscriptTopic(convID))
	return m, nil
}

func (s *Store) RemoveMember(ctx context.Context, convID, memberID string) error {
	if err := s.begin("RemoveMember", convID); err != nil {
		return err
	}
	c, ok := s.chats[convID]
	if !ok {
		s.mu.Unlock()
		return domain.ErrConversationNotFound
	}
	if c.Group != nil {
		c.Group.MemberIDs = slices.DeleteFunc(c.Group.MemberIDs, func(v string) bool { return v == memberID })
	}
	s.mu.Unlock()
	s.publish(ctx, domain.TranscriptTopic(convID))
	return nil
}
