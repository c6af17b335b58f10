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
	userchats (user_id, chats JSONB, updated_at)

	chats holds the array of summary records of one user.
*/

type DirectoryRepo struct {
	db   *sql.DB
	tx   *TxManager
	feed contracts.ChangeFeed
}

func NewDirectoryRepo(db *sql.DB, tx *TxManager, feed contracts.ChangeFeed) *DirectoryRepo {
	return &DirectoryRepo{db: db, tx: tx, feed: feed}
}

func (r *DirectoryRepo) GetDirectory(ctx context.Context, ownerID string) ([]domain.ConversationSummary, error) {
	if ownerID == "" {
		return nil, domain.ErrInvalidUserID
	}
	var raw []byte
	exec := GetExecutor(ctx, r.db)
	err := exec.QueryRowContext(ctx, `SELECT chats FROM userchats WHERE user_id = $1`, ownerID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrDirectoryNotFound
	}
	if err != nil {
		return nil, err
	}
	return domain.DecodeDirectory(raw)
}

func (r *DirectoryRepo) EnsureDirectory(ctx context.Context, ownerID string) error {
	if ownerID == "" {
		return domain.ErrInvalidUserID
	}
	exec := GetExecutor(ctx, r.db)
	result, err := exec.ExecContext(ctx,
		`INSERT INTO userchats (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, ownerID)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n > 0 {
		notify(ctx, r.feed, domain.DirectoryTopic(ownerID))
	}
	return nil
}

// AppendSummary adds the record unless an equal one is already present.
func (r *DirectoryRepo) AppendSummary(ctx context.Context, ownerID string, s domain.ConversationSummary) error {
	if ownerID == "" {
		return domain.ErrInvalidUserID
	}
	rec, err := json.Marshal([]domain.SummaryRecord{s.ToRecord()})
	if err != nil {
		return err
	}
	query := `
        INSERT INTO userchats (user_id, chats) VALUES ($1, $2::jsonb)
        ON CONFLICT (user_id) DO UPDATE SET
            chats = CASE
                WHEN userchats.chats @> $2::jsonb THEN userchats.chats
                ELSE userchats.chats || $2::jsonb
            END,
            updated_at = now()`
	exec := GetExecutor(ctx, r.db)
	if _, err := exec.ExecContext(ctx, query, ownerID, string(rec)); err != nil {
		return err
	}
	notify(ctx, r.feed, domain.DirectoryTopic(ownerID))
	return nil
}

// MutateDirectory locks the owner's row for the read-modify-write.
func (r *DirectoryRepo) MutateDirectory(ctx context.Context, ownerID string, fn func([]domain.ConversationSummary) ([]domain.ConversationSummary, error)) error {
	if ownerID == "" {
		return domain.ErrInvalidUserID
	}
	err := r.tx.WithTx(ctx, func(ctx context.Context) error {
		exec := GetExecutor(ctx, r.db)
		if _, err := exec.ExecContext(ctx,
			`INSERT INTO userchats (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, ownerID); err != nil {
			return err
		}
		var raw []byte
		if err := exec.QueryRowContext(ctx,
			`SELECT chats FROM userchats WHERE user_id = $1 FOR UPDATE`, ownerID).Scan(&raw); err != nil {
			return err
		}
		chats, err := domain.DecodeDirectory(raw)
		if err != nil {
			return err
		}
		next, err := fn(chats)
		if err != nil {
			return err
		}
		encoded, err := domain.EncodeDirectory(next)
		if err != nil {
			return err
		}
		_, err = exec.ExecContext(ctx,
			`UPDATE userchats SET chats = $2::jsonb, updated_at = now() WHERE user_id = $1`, ownerID, string(encoded))
		return err
	})
	if err != nil {
		return err
	}
	notify(ctx, r.feed, domain.DirectoryTopic(ownerID))
	return nil
}
