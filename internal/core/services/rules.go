package services

import (
	"cmp"
	"hash/fnv"
	"slices"
	"strings"

	"weconnect/internal/core/domain"
)

// VisibleSummaries drops hidden summaries and orders the rest by last update,
// newest first. The ordering is recomputed from scratch on every call.
func VisibleSummaries(in []domain.ConversationSummary) []domain.ConversationSummary {
	out := make([]domain.ConversationSummary, 0, len(in))
	for _, s := range in {
		if s.Hidden() {
			continue
		}
		out = append(out, s)
	}
	slices.SortStableFunc(out, func(a, b domain.ConversationSummary) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ConversationID, b.ConversationID)
	})
	return out
}

// MatchesSearch reports whether name contains term, ignoring case.
// An empty term matches everything.
func MatchesSearch(name, term string) bool {
	term = strings.TrimSpace(term)
	if term == "" {
		return true
	}
	return strings.Contains(strings.ToLower(name), strings.ToLower(term))
}

// BlockState is the pair of blocking flags of an individual conversation.
type BlockState struct {
	// CurrentUserBlocked is set when the counterpart has blocked the viewer.
	CurrentUserBlocked bool
	// ReceiverBlocked is set when the viewer has blocked the counterpart.
	ReceiverBlocked bool
}

// CanSend reports whether the composer is enabled.
func (b BlockState) CanSend() bool {
	return !b.CurrentUserBlocked && !b.ReceiverBlocked
}

// ResolveBlockState derives the flags from both blocked lists. Being blocked
// by the counterpart takes precedence.
func ResolveBlockState(viewer, counterpart *domain.Principal) BlockState {
	if viewer == nil || counterpart == nil {
		return BlockState{}
	}
	if counterpart.HasBlocked(viewer.ID) {
		return BlockState{CurrentUserBlocked: true}
	}
	if viewer.HasBlocked(counterpart.ID) {
		return BlockState{ReceiverBlocked: true}
	}
	return BlockState{}
}

var accentPalette = []string{
	"#F87171", "#FB923C", "#FBBF24", "#A3E635",
	"#34D399", "#22D3EE", "#60A5FA", "#818CF8",
	"#C084FC", "#F472B6", "#2DD4BF", "#FACC15",
}

// AccentColor maps a sender id to a stable display color.
func AccentColor(senderID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(senderID))
	return accentPalette[h.Sum32()%uint32(len(accentPalette))]
}

// MessagePreview is the directory preview of a message.
func MessagePreview(m domain.Message) string {
	if m.Text != "" {
		return m.Text
	}
	return domain.ImagePreview
}
