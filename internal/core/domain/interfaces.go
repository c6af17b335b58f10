package domain

import (
	"context"
	"time"
)

// ProfileRepository handles users/{id} records.
type ProfileRepository interface {
	GetProfile(ctx context.Context, id string) (*Principal, error)
	// SaveProfile writes the record, merging with any existing one.
	SaveProfile(ctx context.Context, p *Principal) error
	UpdateProfile(ctx context.Context, id string, upd ProfileUpdate) error
	// AddBlocked and RemoveBlocked behave like arrayUnion / arrayRemove.
	AddBlocked(ctx context.Context, id, blockedID string) error
	RemoveBlocked(ctx context.Context, id, blockedID string) error
	SetPresence(ctx context.Context, id string, online bool, lastSeen time.Time) error
	FindByUsername(ctx context.Context, username string) (*Principal, error)
	// SearchByUsername matches case-insensitive substrings, at most limit rows.
	SearchByUsername(ctx context.Context, term string, limit int) ([]Principal, error)
}

// ProfileUpdate carries the mutable profile fields; nil means unchanged.
type ProfileUpdate struct {
	Username  *string
	AvatarURL *string
}

// DirectoryRepository handles userchats/{id} records.
type DirectoryRepository interface {
	// GetDirectory returns ErrDirectoryNotFound when the record is absent.
	GetDirectory(ctx context.Context, ownerID string) ([]ConversationSummary, error)
	EnsureDirectory(ctx context.Context, ownerID string) error
	// AppendSummary behaves like arrayUnion and creates the record if absent.
	AppendSummary(ctx context.Context, ownerID string, s ConversationSummary) error
	// MutateDirectory is a read-modify-write of one owner's record. The record is
	// created empty if absent. It is not transactional across owners.
	MutateDirectory(ctx context.Context, ownerID string, fn func([]ConversationSummary) ([]ConversationSummary, error)) error
}

// TranscriptRepository handles chats/{id} records.
type TranscriptRepository interface {
	CreateConversation(ctx context.Context, c *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	// AppendMessage appends without reading the sequence first and assigns CreatedAt.
	AppendMessage(ctx context.Context, convID string, m Message) (Message, error)
	// RemoveMember behaves like arrayRemove on the member list.
	RemoveMember(ctx context.Context, convID, memberID string) error
}

// AccountRepository stores identity provider credentials.
type AccountRepository interface {
	CreateAccount(ctx context.Context, a *Account, passwordHash []byte) error
	GetAccountByEmail(ctx context.Context, email string) (*Account, []byte, error)
	GetAccountByID(ctx context.Context, id string) (*Account, error)
}
