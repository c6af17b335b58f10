package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"weconnect/internal/core/contracts"
	"weconnect/internal/core/domain"
)

/*
	users (id, username, email, avatar, blocked JSONB, online, last_seen, created_at)
*/

type ProfileRepo struct {
	db   *sql.DB
	feed contracts.ChangeFeed
}

func NewProfileRepo(db *sql.DB, feed contracts.ChangeFeed) *ProfileRepo {
	return &ProfileRepo{db: db, feed: feed}
}

const profileColumns = `id, username, email, avatar, blocked, online, last_seen`

func scanProfile(row interface{ Scan(...any) error }) (*domain.Principal, error) {
	var (
		p        domain.Principal
		blocked  []byte
		lastSeen sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.Username, &p.Email, &p.AvatarURL, &blocked, &p.Online, &lastSeen); err != nil {
		return nil, err
	}
	if len(blocked) > 0 {
		if err := json.Unmarshal(blocked, &p.BlockedIDs); err != nil {
			return nil, err
		}
	}
	if lastSeen.Valid {
		p.LastSeen = lastSeen.Time
	}
	return &p, nil
}

func (r *ProfileRepo) GetProfile(ctx context.Context, id string) (*domain.Principal, error) {
	if id == "" {
		return nil, domain.ErrInvalidUserID
	}
	exec := GetExecutor(ctx, r.db)
	p, err := scanProfile(exec.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM users WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	return p, err
}

// SaveProfile upserts the record. Empty strings, a nil blocked list and a zero
// last seen keep the stored values.
func (r *ProfileRepo) SaveProfile(ctx context.Context, p *domain.Principal) error {
	if p == nil || p.ID == "" {
		return domain.ErrInvalidUserID
	}
	var blocked []byte
	if p.BlockedIDs != nil {
		var err error
		if blocked, err = json.Marshal(p.BlockedIDs); err != nil {
			return err
		}
	}
	var lastSeen sql.NullTime
	if !p.LastSeen.IsZero() {
		lastSeen = sql.NullTime{Time: p.LastSeen, Valid: true}
	}
	query := `
        INSERT INTO users (id, username, email, avatar, blocked, online, last_seen)
        VALUES ($1, $2, $3, $4, COALESCE($5::jsonb, '[]'::jsonb), $6, $7)
        ON CONFLICT (id) DO UPDATE SET
            username  = COALESCE(NULLIF(EXCLUDED.username, ''), users.username),
            email     = COALESCE(NULLIF(EXCLUDED.email, ''), users.email),
            avatar    = COALESCE(NULLIF(EXCLUDED.avatar, ''), users.avatar),
            blocked   = CASE WHEN $5::jsonb IS NULL THEN users.blocked ELSE EXCLUDED.blocked END,
            online    = EXCLUDED.online,
            last_seen = COALESCE(EXCLUDED.last_seen, users.last_seen)`
	exec := GetExecutor(ctx, r.db)
	if _, err := exec.ExecContext(ctx, query, p.ID, p.Username, p.Email, p.AvatarURL, nullableJSON(blocked), p.Online, lastSeen); err != nil {
		return err
	}
	notify(ctx, r.feed, domain.UserTopic(p.ID))
	return nil
}

func nullableJSON(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

func (r *ProfileRepo) UpdateProfile(ctx context.Context, id string, upd domain.ProfileUpdate) error {
	query := `
        UPDATE users SET
            username = COALESCE($2, username),
            avatar   = COALESCE($3, avatar)
        WHERE id = $1`
	return r.execOne(ctx, id, query, id, upd.Username, upd.AvatarURL)
}

func (r *ProfileRepo) AddBlocked(ctx context.Context, id, blockedID string) error {
	query := `
        UPDATE users SET blocked = CASE
            WHEN blocked @> jsonb_build_array($2::text) THEN blocked
            ELSE blocked || jsonb_build_array($2::text)
        END
        WHERE id = $1`
	return r.execOne(ctx, id, query, id, blockedID)
}

func (r *ProfileRepo) RemoveBlocked(ctx context.Context, id, blockedID string) error {
	return r.execOne(ctx, id, `UPDATE users SET blocked = blocked - $2::text WHERE id = $1`, id, blockedID)
}

func (r *ProfileRepo) SetPresence(ctx context.Context, id string, online bool, lastSeen time.Time) error {
	return r.execOne(ctx, id, `UPDATE users SET online = $2, last_seen = $3 WHERE id = $1`, id, online, lastSeen)
}

func (r *ProfileRepo) execOne(ctx context.Context, id, query string, args ...any) error {
	if id == "" {
		return domain.ErrInvalidUserID
	}
	exec := GetExecutor(ctx, r.db)
	result, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return domain.ErrUserNotFound
	}
	notify(ctx, r.feed, domain.UserTopic(id))
	return nil
}

func (r *ProfileRepo) FindByUsername(ctx context.Context, username string) (*domain.Principal, error) {
	exec := GetExecutor(ctx, r.db)
	p, err := scanProfile(exec.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM users WHERE username = $1 ORDER BY created_at LIMIT 1`, username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	return p, err
}

func (r *ProfileRepo) SearchByUsername(ctx context.Context, term string, limit int) ([]domain.Principal, error) {
	if limit <= 0 {
		limit = 10
	}
	exec := GetExecutor(ctx, r.db)
	rows, err := exec.QueryContext(ctx, `
        SELECT `+profileColumns+` FROM users
        WHERE lower(username) LIKE '%' || $1 || '%' ESCAPE '\'
        ORDER BY username
        LIMIT $2`, escapeLike(strings.ToLower(term)), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Principal
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
