package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"weconnect/internal/core/contracts"
	"weconnect/internal/core/domain"
)

/*
	chats (id, kind, group_name, group_admin, members JSONB, member_details JSONB,
	       participants JSONB, created_at)
	messages (id BIGSERIAL, chat_id, sender_id, text, image_url, created_at)

	Messages are append-only rows; their order is the serial id.
*/

type TranscriptRepo struct {
	db   *sql.DB
	feed contracts.ChangeFeed
}

func NewTranscriptRepo(db *sql.DB, feed contracts.ChangeFeed) *TranscriptRepo {
	return &TranscriptRepo{db: db, feed: feed}
}

func (r *TranscriptRepo) CreateConversation(ctx context.Context, c *domain.Conversation) error {
	if c == nil || c.ID == "" {
		return domain.ErrInvalidConversationID
	}
	var group domain.GroupInfo
	if c.Group != nil {
		group = *c.Group
	}
	members, err := json.Marshal(nonNil(group.MemberIDs))
	if err != nil {
		return err
	}
	details, err := domain.EncodeMemberDetails(c.MemberDetails)
	if err != nil {
		return err
	}
	participants, err := json.Marshal(nonNil(c.ParticipantIDs))
	if err != nil {
		return err
	}
	kind := c.Kind
	if kind == "" {
		kind = domain.KindIndividual
	}

	query := `
        INSERT INTO chats (id, kind, group_name, group_admin, members, member_details, participants)
        VALUES ($1, $2, $3, $4, $5::jsonb, $6::jsonb, $7::jsonb)
        RETURNING created_at`
	exec := GetExecutor(ctx, r.db)
	err = exec.QueryRowContext(ctx, query,
		c.ID, string(kind), group.Name, group.AdminID, string(members), string(details), string(participants),
	).Scan(&c.CreatedAt)
	if err != nil {
		return err
	}
	notify(ctx, r.feed, domain.TranscriptTopic(c.ID))
	return nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func (r *TranscriptRepo) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	if id == "" {
		return nil, domain.ErrInvalidConversationID
	}
	exec := GetExecutor(ctx, r.db)

	c := &domain.Conversation{ID: id}
	var (
		kind, name, admin              string
		members, details, participants []byte
	)
	err := exec.QueryRowContext(ctx, `
        SELECT kind, group_name, group_admin, members, member_details, participants, created_at
        FROM chats WHERE id = $1`, id,
	).Scan(&kind, &name, &admin, &members, &details, &participants, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}

	c.Kind = domain.ConversationKind(kind)
	if c.Kind == domain.KindGroup {
		c.Group = &domain.GroupInfo{Name: name, AdminID: admin}
		if err := json.Unmarshal(members, &c.Group.MemberIDs); err != nil {
			return nil, err
		}
	}
	if c.MemberDetails, err = domain.DecodeMemberDetails(details); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(participants, &c.ParticipantIDs); err != nil {
		return nil, err
	}

	rows, err := exec.QueryContext(ctx, `
        SELECT sender_id, text, image_url, created_at
        FROM messages WHERE chat_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.SenderID, &m.Text, &m.ImageURL, &m.CreatedAt); err != nil {
			return nil, err
		}
		c.Messages = append(c.Messages, m)
	}
	return c, rows.Err()
}

func (r *TranscriptRepo) AppendMessage(ctx context.Context, convID string, m domain.Message) (domain.Message, error) {
	if convID == "" {
		return domain.Message{}, domain.ErrInvalidConversationID
	}
	exec := GetExecutor(ctx, r.db)
	err := exec.QueryRowContext(ctx, `
        INSERT INTO messages (chat_id, sender_id, text, image_url)
        VALUES ($1, $2, $3, $4)
        RETURNING created_at`, convID, m.SenderID, m.Text, m.ImageURL,
	).Scan(&m.CreatedAt)
	if pgCode(err) == codeForeignKeyViolation {
		return domain.Message{}, domain.ErrConversationNotFound
	}
	if err != nil {
		return domain.Message{}, err
	}
	notify(ctx, r.feed, domain.TranscriptTopic(convID))
	return m, nil
}

func (r *TranscriptRepo) RemoveMember(ctx context.Context, convID, memberID string) error {
	exec := GetExecutor(ctx, r.db)
	result, err := exec.ExecContext(ctx,
		`UPDATE chats SET members = members - $2::text WHERE id = $1`, convID, memberID)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return domain.ErrConversationNotFound
	}
	notify(ctx, r.feed, domain.TranscriptTopic(convID))
	return nil
}
