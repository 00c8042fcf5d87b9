// Package postgres implements durable storage for short URL records on top
// of sqlx. Uniqueness of short_code and custom_alias and the
// expires-after-creation rule are enforced by the schema, so concurrent
// creations across processes cannot violate them.
package postgres

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/shortapp/shortener/internal/entity"
)

const uniqueViolationErrCode = "23505"

func isUniqueViolationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.SQLState() == uniqueViolationErrCode
}

type shortURLRecord struct {
	ID             int64           `db:"id"`
	ShortCode      sql.NullString  `db:"short_code"`
	FullURL        string          `db:"full_url"`
	CustomAlias    sql.NullString  `db:"custom_alias"`
	Title          sql.NullString  `db:"title"`
	ClickCount     int64           `db:"click_count"`
	LastAccessedAt sql.NullTime    `db:"last_accessed_at"`
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
	ExpiresAt      sql.NullTime    `db:"expires_at"`
	DeletedAt      sql.NullTime    `db:"deleted_at"`
	CreatedByIP    sql.NullString  `db:"created_by_ip"`
	Metadata       json.RawMessage `db:"metadata"`
}

func (r *shortURLRecord) toEntity() *entity.ShortURL {
	url := &entity.ShortURL{
		ID:          r.ID,
		ShortCode:   r.ShortCode.String,
		FullURL:     r.FullURL,
		CustomAlias: r.CustomAlias.String,
		Title:       r.Title.String,
		ClickCount:  r.ClickCount,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		CreatedByIP: r.CreatedByIP.String,
	}

	if r.LastAccessedAt.Valid {
		t := r.LastAccessedAt.Time
		url.LastAccessedAt = &t
	}
	if r.ExpiresAt.Valid {
		t := r.ExpiresAt.Time
		url.ExpiresAt = &t
	}
	if r.DeletedAt.Valid {
		t := r.DeletedAt.Time
		url.DeletedAt = &t
	}
	if len(r.Metadata) > 0 {
		// Metadata is an opaque bag; a decode failure means a row written by
		// something other than this application and is ignored.
		_ = json.Unmarshal(r.Metadata, &url.Metadata)
	}

	return url
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
