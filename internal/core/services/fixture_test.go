package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"weconnect/internal/core/domain"
	"weconnect/internal/plugins/memory"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	clock    *testClock
	feed     *memory.Feed
	store    *memory.Store
	presence *memory.Presence
	blobs    *memory.BlobStore
	tracker  *PresenceTracker
	uploads  *UploadGateway
	dir      *DirectoryService
	engine   *TranscriptEngine
	members  *MembershipManager
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := discardLogger()
	f := &fixture{
		clock:    newTestClock(),
		feed:     memory.NewFeed(),
		presence: memory.NewPresence(),
		blobs:    memory.NewBlobStore(),
	}
	f.store = memory.NewStore(f.feed)
	f.store.SetClock(f.tick)
	f.presence.SetClock(f.clock.Now)

	f.tracker = NewPresenceTracker(log, f.presence, time.Hour, 2*time.Hour)
	f.tracker.now = f.clock.Now
	f.uploads = NewUploadGateway(log, f.blobs, 1<<20)
	f.dir = NewDirectoryService(log, f.store, f.store, f.store, f.tracker, f.feed, 16)
	f.dir.now = f.tick
	f.engine = NewTranscriptEngine(log, f.store, f.store, f.store, f.uploads, f.feed, 16)
	f.engine.now = f.tick
	f.members = NewMembershipManager(log, f.store, f.store, f.store, 10)
	f.members.now = f.tick
	return f
}

// tick returns a strictly increasing time so every write is ordered.
func (f *fixture) tick() time.Time {
	f.clock.Advance(time.Millisecond)
	return f.clock.Now()
}

func (f *fixture) user(t *testing.T, id, username string) *domain.Principal {
	t.Helper()
	p := &domain.Principal{ID: id, Username: username, Email: id + "@example.com", AvatarURL: "https://cdn/" + id + ".png"}
	require.NoError(t, f.store.SaveProfile(context.Background(), p))
	require.NoError(t, f.store.EnsureDirectory(context.Background(), id))
	return p
}

func (f *fixture) summary(t *testing.T, ownerID, convID string) (domain.ConversationSummary, bool) {
	t.Helper()
	chats, err := f.store.GetDirectory(context.Background(), ownerID)
	require.NoError(t, err)
	for _, c := range chats {
		if c.ConversationID == convID {
			return c, true
		}
	}
	return domain.ConversationSummary{}, false
}

type entryRecorder struct {
	mu    sync.Mutex
	snaps [][]Entry
}

func (r *entryRecorder) record(e []Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, e)
}

func (r *entryRecorder) last() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snaps) == 0 {
		return nil
	}
	return r.snaps[len(r.snaps)-1]
}

func (r *entryRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func ids(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Summary.ConversationID)
	}
	return out
}

type viewRecorder struct {
	mu    sync.Mutex
	views []TranscriptView
}

func (r *viewRecorder) record(v TranscriptView) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views = append(r.views, v)
}

func (r *viewRecorder) last() TranscriptView {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.views) == 0 {
		return TranscriptView{}
	}
	return r.views[len(r.views)-1]
}

func (r *viewRecorder) states() []domain.SendState {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.SendState
	for _, v := range r.views {
		if len(out) == 0 || out[len(out)-1] != v.State {
			out = append(out, v.State)
		}
	}
	return out
}

// openAs selects convID for owner and opens its transcript.
func (f *fixture) openAs(t *testing.T, owner *domain.Principal, convID string) (*TranscriptSession, *viewRecorder) {
	t.Helper()
	ctx := context.Background()
	oc, err := f.dir.Select(ctx, owner, convID)
	require.NoError(t, err)
	rec := &viewRecorder{}
	sess, err := f.engine.Open(ctx, owner, oc, rec.record)
	require.NoError(t, err)
	t.Cleanup(sess.Close)
	return sess, rec
}
