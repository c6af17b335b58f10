package domain

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultAvatar is shown whenever a profile has no avatar or cannot be read.
	DefaultAvatar = "./avatar.png"
	// UnknownUsername labels a counterpart whose profile could not be fetched.
	UnknownUsername = "Unknown User"
	// MaskedUsername labels a counterpart that has blocked the viewer.
	MaskedUsername = "User"
	// ImagePreview is the directory preview for a message without text.
	ImagePreview = "[image]"
)

// Disposer cancels a subscription. Calling it more than once is a no-op.
type Disposer func()

// Account is the identity provider's view of a signed-in user.
type Account struct {
	ID       string
	Email    string
	PhotoURL string
	Token    string
}

// Principal is the profile record of a user (users/{id}).
type Principal struct {
	ID         string
	Username   string
	Email      string
	AvatarURL  string
	BlockedIDs []string
	Online     bool
	LastSeen   time.Time
}

// HasBlocked reports whether p has id in its blocked list.
func (p *Principal) HasBlocked(id string) bool {
	if p == nil || id == "" {
		return false
	}
	return slices.Contains(p.BlockedIDs, id)
}

// Avatar returns the avatar url or the default one.
func (p *Principal) Avatar() string {
	if p == nil || p.AvatarURL == "" {
		return DefaultAvatar
	}
	return p.AvatarURL
}

// Clone returns a deep copy so callers cannot mutate shared state.
func (p *Principal) Clone() *Principal {
	if p == nil {
		return nil
	}
	cp := *p
	cp.BlockedIDs = slices.Clone(p.BlockedIDs)
	return &cp
}

// PlaceholderPrincipal stands in for a profile that could not be read.
func PlaceholderPrincipal(id string) *Principal {
	return &Principal{
		ID:        id,
		Username:  UnknownUsername,
		AvatarURL: DefaultAvatar,
	}
}

// ConversationKind tags the summary and conversation variants.
type ConversationKind string

const (
	KindIndividual ConversationKind = "individual"
	KindGroup      ConversationKind = "group"
)

// IndividualInfo carries the fields of a one-to-one conversation.
type IndividualInfo struct {
	CounterpartID string
}

// GroupInfo carries the fields of a group conversation.
type GroupInfo struct {
	Name      string
	AdminID   string
	MemberIDs []string
}

// HasMember reports whether id belongs to the group.
func (g *GroupInfo) HasMember(id string) bool {
	return g != nil && slices.Contains(g.MemberIDs, id)
}

// ClearMarker records a soft delete by the owning user.
type ClearMarker struct {
	At time.Time
	By string
}

// ConversationSummary is one entry of a user's directory (userchats/{id}).
// Exactly one of Individual and Group is set, matching Kind.
type ConversationSummary struct {
	ConversationID     string
	Kind               ConversationKind
	UpdatedAt          time.Time
	LastMessagePreview string
	IsSeen             bool
	Individual         *IndividualInfo
	Group              *GroupInfo
	Cleared            *ClearMarker
}

func NewIndividualSummary(convID, counterpartID string, updatedAt time.Time) ConversationSummary {
	return ConversationSummary{
		ConversationID: convID,
		Kind:           KindIndividual,
		UpdatedAt:      updatedAt,
		Individual:     &IndividualInfo{CounterpartID: counterpartID},
	}
}

func NewGroupSummary(convID, name, adminID string, memberIDs []string, updatedAt time.Time) ConversationSummary {
	return ConversationSummary{
		ConversationID: convID,
		Kind:           KindGroup,
		UpdatedAt:      updatedAt,
		Group: &GroupInfo{
			Name:      name,
			AdminID:   adminID,
			MemberIDs: slices.Clone(memberIDs),
		},
	}
}

// Hidden reports whether the summary is suppressed by its clear marker.
// A marker hides the entry until a strictly newer update arrives.
func (s ConversationSummary) Hidden() bool {
	return s.Cleared != nil && !s.UpdatedAt.After(s.Cleared.At)
}

// CounterpartID returns the other participant of an individual conversation.
func (s ConversationSummary) CounterpartID() string {
	if s.Individual == nil {
		return ""
	}
	return s.Individual.CounterpartID
}

// Clone returns a deep copy.
func (s ConversationSummary) Clone() ConversationSummary {
	cp := s
	if s.Individual != nil {
		ind := *s.Individual
		cp.Individual = &ind
	}
	if s.Group != nil {
		g := *s.Group
		g.MemberIDs = slices.Clone(s.Group.MemberIDs)
		cp.Group = &g
	}
	if s.Cleared != nil {
		c := *s.Cleared
		cp.Cleared = &c
	}
	return cp
}

// MemberDetail is the group member snapshot captured at creation time.
type MemberDetail struct {
	ID        string
	Username  string
	AvatarURL string
	Email     string
}

// Message is one transcript entry. CreatedAt is assigned by the store.
type Message struct {
	SenderID  string
	Text      string
	ImageURL  string
	CreatedAt time.Time
}

// Empty reports whether the message has neither text nor image.
func (m Message) Empty() bool {
	return m.Text == "" && m.ImageURL == ""
}

// Conversation is the shared transcript (chats/{id}).
type Conversation struct {
	ID             string
	CreatedAt      time.Time
	Kind           ConversationKind
	Group          *GroupInfo
	MemberDetails  []MemberDetail
	ParticipantIDs []string
	Messages       []Message
}

// Participants returns the fan-out target list of the conversation.
func (c *Conversation) Participants() []string {
	if c.Kind == KindGroup && c.Group != nil {
		return slices.Clone(c.Group.MemberIDs)
	}
	return slices.Clone(c.ParticipantIDs)
}

// MemberDetail returns the creation-time snapshot for id.
func (c *Conversation) MemberDetail(id string) (MemberDetail, bool) {
	for _, d := range c.MemberDetails {
		if d.ID == id {
			return d, true
		}
	}
	return MemberDetail{}, false
}

// NewConversationID returns a time-ordered conversation id.
func NewConversationID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// PresenceStatus is the value broadcast under status/{userId}.
type PresenceStatus struct {
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"lastSeen"`
}

// SendState is the optimistic send state of an open conversation.
type SendState string

const (
	SendIdle    SendState = "idle"
	SendSending SendState = "sending"
	SendFailed  SendState = "sendFailed"
)
