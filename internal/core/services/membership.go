package services

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"weconnect/internal/core/domain"
	"weconnect/pkg/logging"
)

var membershipTracer = otel.Tracer("membership-manager")

// MembershipManager creates groups and manages their members.
type MembershipManager struct {
	log         *slog.Logger
	profiles    domain.ProfileRepository
	directories domain.DirectoryRepository
	transcripts domain.TranscriptRepository
	searchLimit int
	now         func() time.Time
}

func NewMembershipManager(
	log *slog.Logger,
	profiles domain.ProfileRepository,
	directories domain.DirectoryRepository,
	transcripts domain.TranscriptRepository,
	searchLimit int,
) *MembershipManager {
	if searchLimit <= 0 {
		searchLimit = 10
	}
	return &MembershipManager{
		log:         log,
		profiles:    profiles,
		directories: directories,
		transcripts: transcripts,
		searchLimit: searchLimit,
		now:         time.Now,
	}
}

// CreateGroup creates a group administered by creator and lists it in every
// member's directory. A failed directory write for one member is logged and
// does not undo the group.
func (m *MembershipManager) CreateGroup(ctx context.Context, creator *domain.Principal, name string, members []domain.Principal) (string, error) {
	if creator == nil || creator.ID == "" {
		return "", domain.Validation("membership.CreateGroup", domain.ErrInvalidUserID)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", domain.Validation("membership.CreateGroup", domain.ErrEmptyGroupName)
	}

	all := []domain.Principal{*creator.Clone()}
	for _, p := range members {
		if p.ID == "" || slices.ContainsFunc(all, func(q domain.Principal) bool { return q.ID == p.ID }) {
			continue
		}
		all = append(all, p)
	}
	if len(all) < 2 {
		return "", domain.Validation("membership.CreateGroup", domain.ErrNotEnoughMembers)
	}

	ctx, span := membershipTracer.Start(ctx, "MembershipManager.CreateGroup")
	defer span.End()
	span.SetAttributes(attribute.Int("group.members", len(all)))

	memberIDs := make([]string, 0, len(all))
	details := make([]domain.MemberDetail, 0, len(all))
	for _, p := range all {
		memberIDs = append(memberIDs, p.ID)
		details = append(details, domain.MemberDetail{
			ID:        p.ID,
			Username:  p.Username,
			AvatarURL: p.Avatar(),
			Email:     p.Email,
		})
	}

	convID, err := domain.NewConversationID()
	if err != nil {
		return "", err
	}
	conv := &domain.Conversation{
		ID:            convID,
		Kind:          domain.KindGroup,
		Group:         &domain.GroupInfo{Name: name, AdminID: creator.ID, MemberIDs: memberIDs},
		MemberDetails: details,
	}
	if err := m.transcripts.CreateConversation(ctx, conv); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create conversation failed")
		m.log.ErrorContext(ctx, "membership - create group - conversation write failed", logging.Owner(creator.ID), logging.Err(err))
		return "", domain.Transient("membership.CreateGroup", err)
	}

	now := m.now()
	for _, id := range memberIDs {
		sum := domain.NewGroupSummary(convID, name, creator.ID, memberIDs, now)
		sum.IsSeen = id == creator.ID
		if err := m.directories.AppendSummary(ctx, id, sum); err != nil {
			m.log.ErrorContext(ctx, "membership - create group - summary write failed",
				logging.Member(id), logging.Conversation(convID), logging.Err(err))
		}
	}
	m.log.InfoContext(ctx, "membership - create group - success",
		logging.Owner(creator.ID), logging.Conversation(convID), slog.Int("members", len(memberIDs)))
	return convID, nil
}

// RemoveMember drops memberID from the group and from its own directory.
// Only the admin may remove, and the admin cannot be removed.
func (m *MembershipManager) RemoveMember(ctx context.Context, actorID, convID, memberID string) error {
	ctx, span := membershipTracer.Start(ctx, "MembershipManager.RemoveMember")
	defer span.End()

	conv, err := m.transcripts.GetConversation(ctx, convID)
	if errors.Is(err, domain.ErrConversationNotFound) {
		return domain.Validation("membership.RemoveMember", err)
	}
	if err != nil {
		return domain.Transient("membership.RemoveMember", err)
	}
	if conv.Kind != domain.KindGroup || conv.Group == nil {
		return domain.Validation("membership.RemoveMember", domain.ErrConversationNotGroup)
	}
	if conv.Group.AdminID != actorID {
		return domain.Permission("membership.RemoveMember", domain.ErrNotGroupAdmin)
	}
	if memberID == conv.Group.AdminID {
		return domain.Validation("membership.RemoveMember", domain.ErrCannotRemoveAdmin)
	}
	if !conv.Group.HasMember(memberID) {
		return domain.Validation("membership.RemoveMember", domain.ErrParticipantNotFound)
	}

	if err := m.transcripts.RemoveMember(ctx, convID, memberID); err != nil {
		span.RecordError(err)
		m.log.ErrorContext(ctx, "membership - remove member - conversation write failed",
			logging.Member(memberID), logging.Conversation(convID), logging.Err(err))
		return domain.Transient("membership.RemoveMember", err)
	}
	err = m.directories.MutateDirectory(ctx, memberID, func(chats []domain.ConversationSummary) ([]domain.ConversationSummary, error) {
		return slices.DeleteFunc(chats, func(c domain.ConversationSummary) bool {
			return c.ConversationID == convID
		}), nil
	})
	if err != nil {
		m.log.ErrorContext(ctx, "membership - remove member - summary delete failed",
			logging.Member(memberID), logging.Conversation(convID), logging.Err(err))
		return domain.PartialFanOut("membership.RemoveMember", err)
	}
	m.log.InfoContext(ctx, "membership - remove member - success",
		logging.Owner(actorID), logging.Member(memberID), logging.Conversation(convID))
	return nil
}

// SearchCandidates finds users to add to a new group, excluding the actor and
// those already selected.
func (m *MembershipManager) SearchCandidates(ctx context.Context, actorID, term string, selected []string) ([]domain.Principal, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, nil
	}
	found, err := m.profiles.SearchByUsername(ctx, term, m.searchLimit+len(selected)+1)
	if err != nil {
		m.log.WarnContext(ctx, "membership - search - failed", logging.Owner(actorID), logging.Err(err))
		return nil, domain.Transient("membership.SearchCandidates", err)
	}
	out := make([]domain.Principal, 0, m.searchLimit)
	for _, p := range found {
		if p.ID == actorID || slices.Contains(selected, p.ID) {
			continue
		}
		out = append(out, p)
		if len(out) == m.searchLimit {
			break
		}
	}
	return out, nil
}
