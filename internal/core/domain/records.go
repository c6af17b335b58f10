package domain

import (
	"encoding/json"
	"slices"
	"time"
)

// Change feed topics. Stores publish on them after each successful write.
const (
	TopicUsers     = "users/"
	TopicUserChats = "userchats/"
	TopicChats     = "chats/"
	TopicNotices   = "notices/"
)

func UserTopic(id string) string         { return TopicUsers + id }
func DirectoryTopic(ownerID string) string { return TopicUserChats + ownerID }
func TranscriptTopic(convID string) string { return TopicChats + convID }
func NoticeTopic(ownerID string) string  { return TopicNotices + ownerID }

// SummaryRecord is the persisted shape of one userchats entry.
type SummaryRecord struct {
	ChatID      string   `json:"chatId"`
	Kind        string   `json:"kind,omitempty"`
	LastMessage string   `json:"lastMessage"`
	UpdatedAt   int64    `json:"updatedAt"`
	IsSeen      bool     `json:"isSeen"`
	ReceiverID  string   `json:"receiverId,omitempty"`
	IsGroup     bool     `json:"isGroup,omitempty"`
	GroupName   string   `json:"groupName,omitempty"`
	GroupAdmin  string   `json:"groupAdmin,omitempty"`
	Members     []string `json:"members,omitempty"`
	ClearedAt   *int64   `json:"clearedAt,omitempty"`
	ClearedBy   string   `json:"clearedBy,omitempty"`
}

// DirectoryRecord is the persisted shape of userchats/{id}.
type DirectoryRecord struct {
	Chats []SummaryRecord `json:"chats"`
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// ToRecord flattens the tagged variant into its stored shape.
func (s ConversationSummary) ToRecord() SummaryRecord {
	r := SummaryRecord{
		ChatID:      s.ConversationID,
		Kind:        string(s.Kind),
		LastMessage: s.LastMessagePreview,
		UpdatedAt:   toMillis(s.UpdatedAt),
		IsSeen:      s.IsSeen,
	}
	switch s.Kind {
	case KindGroup:
		r.IsGroup = true
		if s.Group != nil {
			r.GroupName = s.Group.Name
			r.GroupAdmin = s.Group.AdminID
			r.Members = slices.Clone(s.Group.MemberIDs)
		}
	default:
		r.ReceiverID = s.CounterpartID()
	}
	if s.Cleared != nil {
		at := toMillis(s.Cleared.At)
		r.ClearedAt = &at
		r.ClearedBy = s.Cleared.By
	}
	return r
}

// Summary rebuilds the tagged variant. Records without a kind are
// classified by the isGroup flag.
func (r SummaryRecord) Summary() ConversationSummary {
	var s ConversationSummary
	if r.Kind == string(KindGroup) || r.IsGroup {
		s = NewGroupSummary(r.ChatID, r.GroupName, r.GroupAdmin, r.Members, fromMillis(r.UpdatedAt))
	} else {
		s = NewIndividualSummary(r.ChatID, r.ReceiverID, fromMillis(r.UpdatedAt))
	}
	s.LastMessagePreview = r.LastMessage
	s.IsSeen = r.IsSeen
	if r.ClearedAt != nil {
		s.Cleared = &ClearMarker{At: fromMillis(*r.ClearedAt), By: r.ClearedBy}
	}
	return s
}

// EncodeDirectory serialises summaries into a userchats document.
func EncodeDirectory(chats []ConversationSummary) ([]byte, error) {
	rec := DirectoryRecord{Chats: make([]SummaryRecord, 0, len(chats))}
	for _, c := range chats {
		rec.Chats = append(rec.Chats, c.ToRecord())
	}
	return json.Marshal(rec.Chats)
}

// DecodeDirectory parses the chats array of a userchats document.
func DecodeDirectory(raw []byte) ([]ConversationSummary, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var recs []SummaryRecord
	if err := json.Unmarshal(raw, &recs); err != nil {
		return nil, err
	}
	out := make([]ConversationSummary, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Summary())
	}
	return out, nil
}

// MemberDetailRecord is the persisted shape of a group member snapshot.
type MemberDetailRecord struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
	Email    string `json:"email,omitempty"`
}

func EncodeMemberDetails(details []MemberDetail) ([]byte, error) {
	recs := make([]MemberDetailRecord, 0, len(details))
	for _, d := range details {
		recs = append(recs, MemberDetailRecord{ID: d.ID, Username: d.Username, Avatar: d.AvatarURL, Email: d.Email})
	}
	return json.Marshal(recs)
}

func DecodeMemberDetails(raw []byte) ([]MemberDetail, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var recs []MemberDetailRecord
	if err := json.Unmarshal(raw, &recs); err != nil {
		return nil, err
	}
	out := make([]MemberDetail, 0, len(recs))
	for _, r := range recs {
		out = append(out, MemberDetail{ID: r.ID, Username: r.Username, AvatarURL: r.Avatar, Email: r.Email})
	}
	return out, nil
}

// NoticeType names a directory notification.
type NoticeType string

const NoticeReappeared NoticeType = "reappeared"

// Notice is pushed to a participant whose hidden conversation came back.
type Notice struct {
	Type           NoticeType `json:"type"`
	ConversationID string     `json:"chatId"`
}
