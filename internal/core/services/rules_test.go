package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"weconnect/internal/core/domain"
)

func at(sec int) time.Time {
	return time.Unix(1_700_000_000+int64(sec), 0)
}

func TestVisibleSummariesOrdering(t *testing.T) {
	in := []domain.ConversationSummary{
		domain.NewIndividualSummary("a", "u1", at(10)),
		domain.NewIndividualSummary("b", "u2", at(30)),
		domain.NewIndividualSummary("c", "u3", at(20)),
	}
	got := VisibleSummaries(in)
	var order []string
	for _, s := range got {
		order = append(order, s.ConversationID)
	}
	assert.Equal(t, []string{"b", "c", "a"}, order)
}

func TestVisibleSummariesClearMarker(t *testing.T) {
	tests := []struct {
		name    string
		updated int
		cleared int
		visible bool
	}{
		{"older than marker", 5, 10, false},
		{"tie hides", 10, 10, false},
		{"newer than marker", 11, 10, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := domain.NewIndividualSummary("x", "u1", at(tt.updated))
			s.Cleared = &domain.ClearMarker{At: at(tt.cleared), By: "owner"}
			got := VisibleSummaries([]domain.ConversationSummary{s})
			assert.Equal(t, tt.visible, len(got) == 1)
		})
	}
}

func TestMatchesSearch(t *testing.T) {
	assert.True(t, MatchesSearch("Weekend Crew", "crew"))
	assert.True(t, MatchesSearch("alice", ""))
	assert.True(t, MatchesSearch("ALICE", " lic "))
	assert.False(t, MatchesSearch("bob", "alice"))
}

func TestResolveBlockState(t *testing.T) {
	a := &domain.Principal{ID: "a"}
	b := &domain.Principal{ID: "b"}

	assert.Equal(t, BlockState{}, ResolveBlockState(a, b))
	assert.True(t, ResolveBlockState(a, b).CanSend())

	b.BlockedIDs = []string{"a"}
	st := ResolveBlockState(a, b)
	assert.True(t, st.CurrentUserBlocked)
	assert.False(t, st.CanSend())

	b.BlockedIDs = nil
	a.BlockedIDs = []string{"b"}
	st = ResolveBlockState(a, b)
	assert.True(t, st.ReceiverBlocked)
	assert.False(t, st.CanSend())
}

func TestAccentColorStable(t *testing.T) {
	first := AccentColor("user-42")
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, AccentColor("user-42"))
	}
	assert.Contains(t, accentPalette, AccentColor("someone-else"))
}

func TestMessagePreview(t *testing.T) {
	assert.Equal(t, "hi", MessagePreview(domain.Message{Text: "hi"}))
	assert.Equal(t, domain.ImagePreview, MessagePreview(domain.Message{ImageURL: "mem://x"}))
}
