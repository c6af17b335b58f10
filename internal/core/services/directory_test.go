package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weconnect/internal/core/domain"
)

func TestDirectory_OrdersNewestFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "a", "alice")
	for i, id := range []string{"b", "c", "d"} {
		f.user(t, id, id)
		sum := domain.NewIndividualSummary("conv-"+id, id, at((i+1)*10))
		require.NoError(t, f.store.AppendSummary(ctx, a.ID, sum))
	}

	rec := &entryRecorder{}
	sub, err := f.dir.Subscribe(ctx, a, rec.record)
	require.NoError(t, err)
	defer sub.Close()

	assert.Equal(t, []string{"conv-d", "conv-c", "conv-b"}, ids(rec.last()))
	assert.Equal(t, "d", rec.last()[0].Title)
	assert.Equal(t, "https://cdn/d.png", rec.last()[0].Avatar)
}

func TestDirectory_SoftDeleteAndRestore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "a", "alice")
	b := f.user(t, "b", "bob")

	convID, err := f.dir.StartConversation(ctx, a, b.ID)
	require.NoError(t, err)

	rec := &entryRecorder{}
	sub, err := f.dir.Subscribe(ctx, a, rec.record)
	require.NoError(t, err)
	defer sub.Close()
	require.Equal(t, []string{convID}, ids(rec.last()))

	require.NoError(t, f.dir.SoftDelete(ctx, a.ID, convID))
	assert.Empty(t, rec.last())

	sum, ok := f.summary(t, a.ID, convID)
	require.True(t, ok)
	require.NotNil(t, sum.Cleared)
	assert.Equal(t, a.ID, sum.Cleared.By)

	// the other participant is unaffected
	bSum, ok := f.summary(t, b.ID, convID)
	require.True(t, ok)
	assert.Nil(t, bSum.Cleared)

	sess, _ := f.openAs(t, b, convID)
	require.NoError(t, sess.Send(ctx, "are you there?", nil))

	got := rec.last()
	require.Equal(t, []string{convID}, ids(got))
	assert.Equal(t, "are you there?", got[0].Summary.LastMessagePreview)
	assert.True(t, got[0].Reappeared)
	assert.False(t, got[0].Summary.IsSeen)

	sum, _ = f.summary(t, a.ID, convID)
	assert.Nil(t, sum.Cleared)

	_, err = f.dir.Select(ctx, a, convID)
	require.NoError(t, err)
	assert.False(t, rec.last()[0].Reappeared)
}

func TestDirectory_SelectFailureKeepsReappearedFlag(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, _, convID := pair(t, f)
	f.dir.markReappeared(a.ID, convID)

	f.store.FailWith(func(op, id string) error {
		if op == "MutateDirectory" && id == a.ID {
			return errors.New("store unavailable")
		}
		return nil
	})
	_, err := f.dir.Select(ctx, a, convID)
	assert.True(t, domain.IsTransient(err))
	assert.True(t, f.dir.isReappeared(a.ID, convID))

	f.store.FailWith(nil)
	_, err = f.dir.Select(ctx, a, "conv-missing")
	assert.True(t, domain.IsValidation(err))
	assert.True(t, f.dir.isReappeared(a.ID, convID))

	_, err = f.dir.Select(ctx, a, convID)
	require.NoError(t, err)
	assert.False(t, f.dir.isReappeared(a.ID, convID))
}

func TestDirectory_ClearMarkerTieHides(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "a", "alice")
	f.user(t, "b", "bob")

	sum := domain.NewIndividualSummary("conv-1", "b", at(5))
	sum.Cleared = &domain.ClearMarker{At: at(5), By: "a"}
	require.NoError(t, f.store.AppendSummary(ctx, a.ID, sum))

	rec := &entryRecorder{}
	sub, err := f.dir.Subscribe(ctx, a, rec.record)
	require.NoError(t, err)
	defer sub.Close()
	assert.Empty(t, rec.last())
}

func TestDirectory_SelectTwiceStaysSeen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "a", "alice")
	b := f.user(t, "b", "bob")

	convID, err := f.dir.StartConversation(ctx, b, a.ID)
	require.NoError(t, err)

	for range 2 {
		oc, err := f.dir.Select(ctx, a, convID)
		require.NoError(t, err)
		assert.True(t, oc.Summary.IsSeen)
		require.NotNil(t, oc.Counterpart)
		assert.Equal(t, "bob", oc.Counterpart.Username)
		sum, _ := f.summary(t, a.ID, convID)
		assert.True(t, sum.IsSeen)
	}

	require.NoError(t, f.dir.MarkUnread(ctx, a.ID, convID))
	sum, _ := f.summary(t, a.ID, convID)
	assert.False(t, sum.IsSeen)
}

func TestDirectory_SelectUnknownConversation(t *testing.T) {
	f := newFixture(t)
	a := f.user(t, "a", "alice")

	_, err := f.dir.Select(context.Background(), a, "missing")
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)
}

func TestDirectory_BlockingFlags(t *testing.T) {
	ctx := context.Background()

	t.Run("counterpart blocked owner", func(t *testing.T) {
		f := newFixture(t)
		a := f.user(t, "a", "alice")
		b := f.user(t, "b", "bob")
		convID, err := f.dir.StartConversation(ctx, a, b.ID)
		require.NoError(t, err)
		require.NoError(t, f.store.AddBlocked(ctx, b.ID, a.ID))

		rec := &entryRecorder{}
		sub, err := f.dir.Subscribe(ctx, a, rec.record)
		require.NoError(t, err)
		defer sub.Close()

		e := rec.last()[0]
		assert.True(t, e.Masked)
		assert.Equal(t, domain.MaskedUsername, e.Title)
		assert.Equal(t, domain.DefaultAvatar, e.Avatar)

		oc, err := f.dir.Select(ctx, a, convID)
		require.NoError(t, err)
		assert.True(t, oc.Block.CurrentUserBlocked)
		assert.False(t, oc.Block.ReceiverBlocked)
		assert.Nil(t, oc.Counterpart)
		assert.False(t, oc.Block.CanSend())
	})

	t.Run("owner blocked counterpart", func(t *testing.T) {
		f := newFixture(t)
		a := f.user(t, "a", "alice")
		b := f.user(t, "b", "bob")
		convID, err := f.dir.StartConversation(ctx, a, b.ID)
		require.NoError(t, err)
		a.BlockedIDs = []string{b.ID}

		oc, err := f.dir.Select(ctx, a, convID)
		require.NoError(t, err)
		assert.False(t, oc.Block.CurrentUserBlocked)
		assert.True(t, oc.Block.ReceiverBlocked)
		require.NotNil(t, oc.Counterpart)
	})
}

func TestDirectory_MasksAfterCounterpartBlocksLive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "a", "alice")
	b := f.user(t, "b", "bob")
	_, err := f.dir.StartConversation(ctx, a, b.ID)
	require.NoError(t, err)

	rec := &entryRecorder{}
	sub, err := f.dir.Subscribe(ctx, a, rec.record)
	require.NoError(t, err)
	defer sub.Close()
	require.False(t, rec.last()[0].Masked)

	require.NoError(t, f.store.AddBlocked(ctx, b.ID, a.ID))
	assert.True(t, rec.last()[0].Masked)
}

func TestDirectory_PlaceholderWhenProfileUnreadable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "a", "alice")
	f.user(t, "b", "bob")
	require.NoError(t, f.store.AppendSummary(ctx, a.ID, domain.NewIndividualSummary("conv-1", "b", at(1))))

	f.store.FailWith(func(op, id string) error {
		if op == "GetProfile" && id == "b" {
			return errors.New("unavailable")
		}
		return nil
	})
	rec := &entryRecorder{}
	sub, err := f.dir.Subscribe(ctx, a, rec.record)
	require.NoError(t, err)
	defer sub.Close()

	e := rec.last()[0]
	assert.Equal(t, domain.UnknownUsername, e.Title)
	assert.Equal(t, domain.DefaultAvatar, e.Avatar)

	// placeholders are not cached: the next snapshot retries the read
	f.store.FailWith(nil)
	require.NoError(t, f.dir.MarkUnread(ctx, a.ID, "conv-1"))
	assert.Equal(t, "bob", rec.last()[0].Title)
}

func TestDirectory_Search(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "a", "alice")
	b := f.user(t, "b", "Bobby")
	c := f.user(t, "c", "carol")
	_, err := f.dir.StartConversation(ctx, a, b.ID)
	require.NoError(t, err)
	_, err = f.dir.StartConversation(ctx, a, c.ID)
	require.NoError(t, err)
	_, err = f.members.CreateGroup(ctx, a, "Book Club", []domain.Principal{*b, *c})
	require.NoError(t, err)

	rec := &entryRecorder{}
	sub, err := f.dir.Subscribe(ctx, a, rec.record)
	require.NoError(t, err)
	defer sub.Close()
	require.Len(t, rec.last(), 3)

	sub.Search("BO")
	titles := func() []string {
		var out []string
		for _, e := range rec.last() {
			out = append(out, e.Title)
		}
		return out
	}
	assert.ElementsMatch(t, []string{"Bobby", "Book Club"}, titles())

	sub.Search("  ")
	assert.Len(t, rec.last(), 3)
}

func TestDirectory_PresenceChangesReemit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "a", "alice")
	b := f.user(t, "b", "bob")
	_, err := f.dir.StartConversation(ctx, a, b.ID)
	require.NoError(t, err)

	rec := &entryRecorder{}
	sub, err := f.dir.Subscribe(ctx, a, rec.record)
	require.NoError(t, err)
	defer sub.Close()
	require.False(t, rec.last()[0].Online)

	require.NoError(t, f.tracker.PublishPresence(ctx, b.ID, true))
	assert.True(t, rec.last()[0].Online)

	require.NoError(t, f.tracker.PublishPresence(ctx, b.ID, false))
	assert.False(t, rec.last()[0].Online)
}

func TestDirectory_CloseStopsDeliveries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "a", "alice")
	b := f.user(t, "b", "bob")

	rec := &entryRecorder{}
	sub, err := f.dir.Subscribe(ctx, a, rec.record)
	require.NoError(t, err)
	n := rec.count()
	sub.Close()
	sub.Close()

	_, err = f.dir.StartConversation(ctx, a, b.ID)
	require.NoError(t, err)
	require.NoError(t, f.tracker.PublishPresence(ctx, b.ID, true))
	assert.Equal(t, n, rec.count())
	assert.Zero(t, f.feed.Subscribers(domain.DirectoryTopic(a.ID)))
}

func TestDirectory_StartConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.user(t, "a", "alice")
	b := f.user(t, "b", "bob")

	_, err := f.dir.StartConversation(ctx, a, a.ID)
	assert.ErrorIs(t, err, domain.ErrSelfConversation)
	assert.True(t, domain.IsValidation(err))

	_, err = f.dir.StartConversation(ctx, a, "ghost")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	first, err := f.dir.StartConversation(ctx, a, b.ID)
	require.NoError(t, err)
	appends := f.store.Calls("AppendSummary")
	assert.Equal(t, 1, f.store.Calls("CreateConversation"))

	again, err := f.dir.StartConversation(ctx, a, b.ID)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, appends, f.store.Calls("AppendSummary"))
	assert.Equal(t, 1, f.store.Calls("CreateConversation"))

	aSum, ok := f.summary(t, a.ID, first)
	require.True(t, ok)
	assert.Equal(t, b.ID, aSum.CounterpartID())
	bSum, ok := f.summary(t, b.ID, first)
	require.True(t, ok)
	assert.Equal(t, a.ID, bSum.CounterpartID())
}

func TestDirectory_StartConversationCreatesMissingDirectories(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := &domain.Principal{ID: "a", Username: "alice"}
	b := &domain.Principal{ID: "b", Username: "bob"}
	require.NoError(t, f.store.SaveProfile(ctx, a))
	require.NoError(t, f.store.SaveProfile(ctx, b))

	convID, err := f.dir.StartConversation(ctx, a, b.ID)
	require.NoError(t, err)
	_, ok := f.summary(t, b.ID, convID)
	assert.True(t, ok)
}
