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
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"weconnect/internal/core/contracts"
	"weconnect/internal/core/domain"
	"weconnect/internal/platform/metrics"
	"weconnect/pkg/logging"
)

var transcriptTracer = otel.Tracer("transcript-engine")

// Attachment is an image picked for sending.
type Attachment struct {
	Data []byte
}

// MessageView is a message decorated for rendering.
type MessageView struct {
	Message      domain.Message
	Mine         bool
	ShowSender   bool
	SenderName   string
	SenderAvatar string
	Accent       string
	Pending      bool
}

// TranscriptView is one rendered state of an open conversation.
type TranscriptView struct {
	ConversationID string
	Kind           domain.ConversationKind
	Messages       []MessageView
	Pending        []MessageView
	State          domain.SendState
	Block          BlockState
	// Media lists the image urls of the visible messages, oldest first.
	Media []string
}

// TranscriptEngine opens live transcripts and sends messages into them.
type TranscriptEngine struct {
	log         *slog.Logger
	profiles    domain.ProfileRepository
	directories domain.DirectoryRepository
	transcripts domain.TranscriptRepository
	uploads     *UploadGateway
	feed        contracts.ChangeFeed
	cacheSize   int
	now         func() time.Time
}

func NewTranscriptEngine(
	log *slog.Logger,
	profiles domain.ProfileRepository,
	directories domain.DirectoryRepository,
	transcripts domain.TranscriptRepository,
	uploads *UploadGateway,
	feed contracts.ChangeFeed,
	cacheSize int,
) *TranscriptEngine {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	return &TranscriptEngine{
		log:         log,
		profiles:    profiles,
		directories: directories,
		transcripts: transcripts,
		uploads:     uploads,
		feed:        feed,
		cacheSize:   cacheSize,
		now:         time.Now,
	}
}

// Open subscribes to the transcript of oc and emits a view now and after
// every change. fn must not call back into the session.
func (e *TranscriptEngine) Open(ctx context.Context, owner *domain.Principal, oc *OpenContext, fn func(TranscriptView)) (*TranscriptSession, error) {
	if owner == nil || owner.ID == "" {
		return nil, domain.Validation("transcript.Open", domain.ErrInvalidUserID)
	}
	if oc == nil || oc.Summary.ConversationID == "" {
		return nil, domain.Validation("transcript.Open", domain.ErrInvalidConversationID)
	}
	cache, err := lru.New(e.cacheSize)
	if err != nil {
		return nil, err
	}
	s := &TranscriptSession{
		engine:  e,
		owner:   owner.Clone(),
		open:    *oc,
		fn:      fn,
		senders: cache,
		state:   domain.SendIdle,
		block:   oc.Block,
	}
	dispose, err := e.feed.Subscribe(ctx, domain.TranscriptTopic(oc.Summary.ConversationID), func(ctx context.Context, _ []byte) {
		s.refresh(ctx)
	})
	if err != nil {
		return nil, domain.Transient("transcript.Open", err)
	}
	s.dispose = dispose
	metrics.ActiveSubscriptions.WithLabelValues("transcript").Inc()
	s.refresh(ctx)
	return s, nil
}

// TranscriptSession is one open conversation.
type TranscriptSession struct {
	engine  *TranscriptEngine
	owner   *domain.Principal
	open    OpenContext
	fn      func(TranscriptView)
	senders *lru.Cache
	dispose domain.Disposer

	emitMu sync.Mutex
	sendMu sync.Mutex

	mu       sync.Mutex
	closed   bool
	messages []MessageView
	media    []string
	pending  []MessageView
	state    domain.SendState
	block    BlockState
}

func (s *TranscriptSession) ConversationID() string {
	return s.open.Summary.ConversationID
}

// Close stops deliveries. No callback runs after Close returns.
func (s *TranscriptSession) Close() {
	s.emitMu.Lock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.emitMu.Unlock()
		return
	}
	s.closed = true
	dispose := s.dispose
	s.mu.Unlock()
	s.emitMu.Unlock()
	if dispose != nil {
		dispose()
	}
	metrics.ActiveSubscriptions.WithLabelValues("transcript").Dec()
}

// SetBlockState updates the send gate after the owner blocks or unblocks.
func (s *TranscriptSession) SetBlockState(b BlockState) {
	s.mu.Lock()
	s.block = b
	s.mu.Unlock()
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.emit()
}

// State returns the current send state.
func (s *TranscriptSession) State() domain.SendState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *TranscriptSession) refresh(ctx context.Context) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	ctx, span := transcriptTracer.Start(ctx, "TranscriptSession.refresh")
	defer span.End()

	conv, err := s.engine.transcripts.GetConversation(ctx, s.ConversationID())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transcript read failed")
		s.engine.log.WarnContext(ctx, "transcript - refresh - read failed", logging.Conversation(s.ConversationID()), logging.Err(err))
		return
	}
	marker := s.clearMarker(ctx)

	views := make([]MessageView, 0, len(conv.Messages))
	var media []string
	prev := ""
	for _, m := range conv.Messages {
		if marker != nil && !m.CreatedAt.After(marker.At) {
			continue
		}
		v := s.decorate(ctx, conv, m)
		v.ShowSender = conv.Kind == domain.KindGroup && !v.Mine && m.SenderID != prev
		prev = m.SenderID
		views = append(views, v)
		if m.ImageURL != "" {
			media = append(media, m.ImageURL)
		}
	}

	s.mu.Lock()
	s.messages = views
	s.media = media
	s.mu.Unlock()
	s.emit()
}

// clearMarker reads the owner's active marker on this conversation.
func (s *TranscriptSession) clearMarker(ctx context.Context) *domain.ClearMarker {
	chats, err := s.engine.directories.GetDirectory(ctx, s.owner.ID)
	if err != nil {
		if !errors.Is(err, domain.ErrDirectoryNotFound) {
			s.engine.log.WarnContext(ctx, "transcript - refresh - marker read failed", logging.Owner(s.owner.ID), logging.Err(err))
		}
		return s.open.Summary.Cleared
	}
	if i := indexOfSummary(chats, s.ConversationID()); i >= 0 {
		return chats[i].Cleared
	}
	return nil
}

func (s *TranscriptSession) decorate(ctx context.Context, conv *domain.Conversation, m domain.Message) MessageView {
	v := MessageView{
		Message: m,
		Mine:    m.SenderID == s.owner.ID,
		Accent:  AccentColor(m.SenderID),
	}
	switch {
	case v.Mine:
		v.SenderName = s.owner.Username
		v.SenderAvatar = s.owner.Avatar()
	case conv.Kind == domain.KindGroup:
		p := s.sender(ctx, conv, m.SenderID)
		v.SenderName = p.Username
		v.SenderAvatar = p.Avatar()
	case s.open.Counterpart != nil:
		v.SenderName = s.open.Counterpart.Username
		v.SenderAvatar = s.open.Counterpart.Avatar()
	default:
		v.SenderName = domain.MaskedUsername
		v.SenderAvatar = domain.DefaultAvatar
	}
	return v
}

// sender resolves a group sender through the cache, then the member snapshot,
// then the placeholder. Only live profiles are cached.
func (s *TranscriptSession) sender(ctx context.Context, conv *domain.Conversation, id string) *domain.Principal {
	if v, ok := s.senders.Get(id); ok {
		return v.(*domain.Principal)
	}
	p, err := s.engine.profiles.GetProfile(ctx, id)
	if err == nil {
		s.senders.Add(id, p)
		return p
	}
	if d, ok := conv.MemberDetail(id); ok {
		return &domain.Principal{ID: id, Username: d.Username, AvatarURL: d.AvatarURL, Email: d.Email}
	}
	metrics.ProfileFallbacks.Inc()
	s.engine.log.DebugContext(ctx, "transcript - sender - unresolved", logging.Sender(id), logging.Err(err))
	return domain.PlaceholderPrincipal(id)
}

// emit delivers the current view. The caller holds emitMu.
func (s *TranscriptSession) emit() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	view := TranscriptView{
		ConversationID: s.ConversationID(),
		Kind:           s.open.Summary.Kind,
		Messages:       slices.Clone(s.messages),
		Pending:        slices.Clone(s.pending),
		State:          s.state,
		Block:          s.block,
		Media:          slices.Clone(s.media),
	}
	s.mu.Unlock()
	s.fn(view)
}

func (s *TranscriptSession) setState(state domain.SendState, pending []MessageView) {
	s.mu.Lock()
	s.state = state
	s.pending = pending
	s.mu.Unlock()
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	s.emit()
}

// Send appends a message with text, an image, or both, then updates every
// participant's directory entry. Sends on one session run one at a time.
func (s *TranscriptSession) Send(ctx context.Context, text string, att *Attachment) error {
	hasImage := att != nil && len(att.Data) > 0
	if text == "" && !hasImage {
		metrics.SendFailures.WithLabelValues("empty").Inc()
		return domain.Validation("transcript.Send", domain.ErrEmptyMessage)
	}
	s.mu.Lock()
	closed, block := s.closed, s.block
	s.mu.Unlock()
	if closed {
		return domain.Validation("transcript.Send", domain.ErrSessionClosed)
	}
	if s.open.Summary.Kind != domain.KindGroup && !block.CanSend() {
		metrics.SendFailures.WithLabelValues("blocked").Inc()
		return domain.Permission("transcript.Send", domain.ErrSendBlocked)
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	ctx, span := transcriptTracer.Start(ctx, "TranscriptSession.Send")
	defer span.End()
	convID := s.ConversationID()
	span.SetAttributes(attribute.String("conv.id", convID), attribute.Bool("message.image", hasImage))

	if s.open.Summary.Kind == domain.KindGroup {
		if err := s.checkMembership(ctx, convID); err != nil {
			metrics.SendFailures.WithLabelValues("not_member").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, "sender not a member")
			return err
		}
	}

	optimistic := MessageView{
		Message:      domain.Message{SenderID: s.owner.ID, Text: text, CreatedAt: s.engine.now()},
		Mine:         true,
		SenderName:   s.owner.Username,
		SenderAvatar: s.owner.Avatar(),
		Accent:       AccentColor(s.owner.ID),
		Pending:      true,
	}
	s.setState(domain.SendSending, []MessageView{optimistic})

	fail := func(reason string, err error) error {
		metrics.SendFailures.WithLabelValues(reason).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		s.setState(domain.SendFailed, nil)
		return err
	}

	msg := domain.Message{SenderID: s.owner.ID, Text: text}
	if hasImage {
		url, err := s.engine.uploads.Store(ctx, att.Data)
		if err != nil {
			s.engine.log.WarnContext(ctx, "transcript - send - upload failed", logging.Conversation(convID), logging.Err(err))
			return fail("upload", err)
		}
		msg.ImageURL = url
	}

	stored, err := s.engine.transcripts.AppendMessage(ctx, convID, msg)
	if err != nil {
		s.engine.log.ErrorContext(ctx, "transcript - send - append failed", logging.Conversation(convID), logging.Err(err))
		return fail("append", domain.Transient("transcript.Send", err))
	}
	metrics.MessagesSent.WithLabelValues(string(s.open.Summary.Kind)).Inc()
	s.setState(domain.SendIdle, nil)
	s.refresh(ctx)

	if err := s.engine.fanOut(ctx, s.owner.ID, s.open, stored); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// checkMembership rejects a sender that is no longer in the group. A failed
// read lets the send proceed on the membership the session was opened with.
func (s *TranscriptSession) checkMembership(ctx context.Context, convID string) error {
	conv, err := s.engine.transcripts.GetConversation(ctx, convID)
	if err != nil {
		s.engine.log.WarnContext(ctx, "transcript - send - membership read failed", logging.Conversation(convID), logging.Err(err))
		return nil
	}
	if conv.Group != nil && !slices.Contains(conv.Group.MemberIDs, s.owner.ID) {
		s.engine.log.WarnContext(ctx, "transcript - send - sender not a member", logging.Sender(s.owner.ID), logging.Conversation(convID))
		return domain.Permission("transcript.Send", domain.ErrParticipantNotFound)
	}
	return nil
}

// fanOut writes the new message into every participant's summary, sender
// first. A failure on the sender's own summary is returned; failures on
// other participants are logged and counted.
func (e *TranscriptEngine) fanOut(ctx context.Context, senderID string, oc OpenContext, m domain.Message) error {
	convID := oc.Summary.ConversationID
	participants, conv := e.participants(ctx, senderID, oc)

	ordered := make([]string, 0, len(participants)+1)
	ordered = append(ordered, senderID)
	for _, pid := range participants {
		if pid != senderID && !slices.Contains(ordered, pid) {
			ordered = append(ordered, pid)
		}
	}

	preview := MessagePreview(m)
	updatedAt := e.now()
	var senderErr error
	for _, pid := range ordered {
		reappeared := false
		err := e.directories.MutateDirectory(ctx, pid, func(chats []domain.ConversationSummary) ([]domain.ConversationSummary, error) {
			i := indexOfSummary(chats, convID)
			if i < 0 {
				chats = append(chats, summaryFor(pid, ordered, oc, conv))
				i = len(chats) - 1
				e.log.InfoContext(ctx, "transcript - fan out - recreated summary", logging.Member(pid), logging.Conversation(convID))
			}
			c := &chats[i]
			c.LastMessagePreview = preview
			c.UpdatedAt = updatedAt
			c.IsSeen = pid == senderID
			if c.Cleared != nil && c.UpdatedAt.After(c.Cleared.At) {
				c.Cleared = nil
				reappeared = true
			}
			return chats, nil
		})
		if err != nil {
			metrics.FanOutWrites.WithLabelValues("failed").Inc()
			e.log.ErrorContext(ctx, "transcript - fan out - summary write failed",
				logging.Member(pid), logging.Conversation(convID), logging.Err(err))
			if pid == senderID {
				senderErr = err
			}
			continue
		}
		metrics.FanOutWrites.WithLabelValues("ok").Inc()
		if reappeared {
			e.notifyReappeared(ctx, pid, convID)
		}
	}
	if senderErr != nil {
		return domain.PartialFanOut("transcript.Send", senderErr)
	}
	return nil
}

// participants returns the fan-out targets. Group membership is read fresh
// so removed members stop receiving updates.
func (e *TranscriptEngine) participants(ctx context.Context, senderID string, oc OpenContext) ([]string, *domain.Conversation) {
	conv, err := e.transcripts.GetConversation(ctx, oc.Summary.ConversationID)
	if err != nil {
		e.log.WarnContext(ctx, "transcript - fan out - conversation read failed, using summary",
			logging.Conversation(oc.Summary.ConversationID), logging.Err(err))
		conv = nil
	}
	if conv != nil {
		if ids := conv.Participants(); len(ids) > 0 {
			return ids, conv
		}
	}
	if oc.Summary.Kind == domain.KindGroup && oc.Summary.Group != nil {
		return slices.Clone(oc.Summary.Group.MemberIDs), conv
	}
	if cp := oc.Summary.CounterpartID(); cp != "" {
		return []string{senderID, cp}, conv
	}
	return []string{senderID}, conv
}

// summaryFor builds a minimal summary for a participant that has none.
func summaryFor(pid string, participants []string, oc OpenContext, conv *domain.Conversation) domain.ConversationSummary {
	convID := oc.Summary.ConversationID
	if oc.Summary.Kind == domain.KindGroup {
		g := oc.Summary.Group
		if conv != nil && conv.Group != nil {
			g = conv.Group
		}
		if g == nil {
			g = &domain.GroupInfo{}
		}
		return domain.NewGroupSummary(convID, g.Name, g.AdminID, g.MemberIDs, time.Time{})
	}
	counterpart := ""
	for _, id := range participants {
		if id != pid {
			counterpart = id
			break
		}
	}
	return domain.NewIndividualSummary(convID, counterpart, time.Time{})
}

func (e *TranscriptEngine) notifyReappeared(ctx context.Context, ownerID, convID string) {
	payload, err := json.Marshal(domain.Notice{Type: domain.NoticeReappeared, ConversationID: convID})
	if err != nil {
		return
	}
	if err := e.feed.Publish(ctx, domain.NoticeTopic(ownerID), payload); err != nil {
		e.log.WarnContext(ctx, "transcript - fan out - reappear notice failed",
			logging.Member(ownerID), logging.Conversation(convID), logging.Err(err))
	}
}
