package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/shortapp/shortener/internal/entity"
	"github.com/shortapp/shortener/pkg/base62"
)

// activePredicate is the explicit "active" filter applied at each query call
// site: not soft-deleted and not expired. Queries without it are deliberately
// unscoped and say so in their names.
const activePredicate = `deleted_at IS NULL AND (expires_at IS NULL OR expires_at > now())`

// ShortURLRepository persists and retrieves short URL records.
type ShortURLRepository struct {
	db *sqlx.DB
}

// NewShortURLRepository creates a repository over an established pool.
func NewShortURLRepository(db *sqlx.DB) *ShortURLRepository {
	return &ShortURLRepository{db: db}
}

// Create inserts a record and assigns its short code inside one transaction.
// The code is derived from the identifier the insert allocates, so it can
// only be written after the insert returns. A uniqueness race on
// custom_alias surfaces as entity.ErrAliasExists for the caller to resolve.
func (r *ShortURLRepository) Create(ctx context.Context, params entity.CreateShortURLParams) (*entity.ShortURL, error) {
	const op = "storage.postgres.ShortURLRepository.Create"

	var metadata json.RawMessage
	if len(params.Metadata) > 0 {
		data, err := json.Marshal(params.Metadata)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to marshal metadata: %w", op, err)
		}
		metadata = data
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to begin transaction: %w", op, err)
	}
	defer tx.Rollback() //nolint:errcheck

	rec := new(shortURLRecord)
	query := `INSERT INTO short_urls(full_url, custom_alias, expires_at, created_by_ip, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING *`

	err = tx.GetContext(ctx, rec, query,
		params.FullURL,
		nullString(params.CustomAlias),
		nullTime(params.ExpiresAt),
		nullString(params.CreatedByIP),
		metadata,
	)
	if err != nil {
		if isUniqueViolationError(err) {
			return nil, fmt.Errorf("%s: %w", op, entity.ErrAliasExists)
		}

		return nil, fmt.Errorf("%s: failed to create short url record: %w", op, err)
	}

	query = `UPDATE short_urls
		SET short_code = $1
		WHERE id = $2
		RETURNING *`

	err = tx.GetContext(ctx, rec, query, base62.Encode(uint64(rec.ID)), rec.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to assign short code: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%s: failed to commit transaction: %w", op, err)
	}

	return rec.toEntity(), nil
}

// FindActiveByCode retrieves an active record by its short code or custom
// alias.
func (r *ShortURLRepository) FindActiveByCode(ctx context.Context, code string) (*entity.ShortURL, error) {
	const op = "storage.postgres.ShortURLRepository.FindActiveByCode"

	rec := new(shortURLRecord)
	query := `SELECT * FROM short_urls
		WHERE (short_code = $1 OR custom_alias = $1) AND ` + activePredicate

	err := r.db.GetContext(ctx, rec, query, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, entity.ErrURLNotFound)
		}

		return nil, fmt.Errorf("%s: failed to get short url record: %w", op, err)
	}

	return rec.toEntity(), nil
}

// FindAnyByCode retrieves a record by short code or custom alias regardless
// of deletion or expiry. Callers that need the public behaviour must apply
// the active predicate themselves; this is the administrative/unscoped path.
func (r *ShortURLRepository) FindAnyByCode(ctx context.Context, code string) (*entity.ShortURL, error) {
	const op = "storage.postgres.ShortURLRepository.FindAnyByCode"

	rec := new(shortURLRecord)
	query := `SELECT * FROM short_urls
		WHERE short_code = $1 OR custom_alias = $1`

	err := r.db.GetContext(ctx, rec, query, code)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, entity.ErrURLNotFound)
		}

		return nil, fmt.Errorf("%s: failed to get short url record: %w", op, err)
	}

	return rec.toEntity(), nil
}

// FindActiveByFullURL retrieves an active record for the exact target URL.
// Used to resolve duplicate-submission races idempotently.
func (r *ShortURLRepository) FindActiveByFullURL(ctx context.Context, fullURL string) (*entity.ShortURL, error) {
	const op = "storage.postgres.ShortURLRepository.FindActiveByFullURL"

	rec := new(shortURLRecord)
	query := `SELECT * FROM short_urls
		WHERE full_url = $1 AND ` + activePredicate + `
		ORDER BY id
		LIMIT 1`

	err := r.db.GetContext(ctx, rec, query, fullURL)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, entity.ErrURLNotFound)
		}

		return nil, fmt.Errorf("%s: failed to get short url record: %w", op, err)
	}

	return rec.toEntity(), nil
}

// FindByID retrieves a record by identifier regardless of state.
func (r *ShortURLRepository) FindByID(ctx context.Context, id int64) (*entity.ShortURL, error) {
	const op = "storage.postgres.ShortURLRepository.FindByID"

	rec := new(shortURLRecord)
	query := `SELECT * FROM short_urls WHERE id = $1`

	err := r.db.GetContext(ctx, rec, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, entity.ErrURLNotFound)
		}

		return nil, fmt.Errorf("%s: failed to get short url record: %w", op, err)
	}

	return rec.toEntity(), nil
}

// ListPopular returns active records ordered by click count.
func (r *ShortURLRepository) ListPopular(ctx context.Context, limit int) ([]*entity.ShortURL, error) {
	const op = "storage.postgres.ShortURLRepository.ListPopular"

	var recs []shortURLRecord
	query := `SELECT * FROM short_urls
		WHERE ` + activePredicate + `
		ORDER BY click_count DESC, created_at DESC
		LIMIT $1`

	if err := r.db.SelectContext(ctx, &recs, query, limit); err != nil {
		return nil, fmt.Errorf("%s: failed to list short url records: %w", op, err)
	}

	urls := make([]*entity.ShortURL, len(recs))
	for i := range recs {
		urls[i] = recs[i].toEntity()
	}

	return urls, nil
}

// SoftDelete marks a record deleted. Already-deleted records report not found.
func (r *ShortURLRepository) SoftDelete(ctx context.Context, id int64) error {
	const op = "storage.postgres.ShortURLRepository.SoftDelete"

	query := `UPDATE short_urls
		SET deleted_at = now()
		WHERE id = $1 AND deleted_at IS NULL`

	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("%s: failed to soft delete short url record: %w", op, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: failed to get affected rows: %w", op, err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", op, entity.ErrURLNotFound)
	}

	return nil
}

// Restore clears a record's deletion mark.
func (r *ShortURLRepository) Restore(ctx context.Context, id int64) error {
	const op = "storage.postgres.ShortURLRepository.Restore"

	query := `UPDATE short_urls
		SET deleted_at = NULL
		WHERE id = $1 AND deleted_at IS NOT NULL`

	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("%s: failed to restore short url record: %w", op, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: failed to get affected rows: %w", op, err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", op, entity.ErrURLNotFound)
	}

	return nil
}

// SetTitle stores the asynchronously fetched page title.
func (r *ShortURLRepository) SetTitle(ctx context.Context, id int64, title string) error {
	const op = "storage.postgres.ShortURLRepository.SetTitle"

	query := `UPDATE short_urls SET title = $1 WHERE id = $2`

	if _, err := r.db.ExecContext(ctx, query, title, id); err != nil {
		return fmt.Errorf("%s: failed to set title: %w", op, err)
	}

	return nil
}

// GetClickCount reads the durable click count for one record.
func (r *ShortURLRepository) GetClickCount(ctx context.Context, id int64) (int64, error) {
	const op = "storage.postgres.ShortURLRepository.GetClickCount"

	var count int64
	query := `SELECT click_count FROM short_urls WHERE id = $1`

	err := r.db.GetContext(ctx, &count, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%s: %w", op, entity.ErrURLNotFound)
		}

		return 0, fmt.Errorf("%s: failed to get click count: %w", op, err)
	}

	return count, nil
}

// IncrementClickCount bumps the durable counter directly. This is the
// degraded path used when the fast counter tier is unavailable.
func (r *ShortURLRepository) IncrementClickCount(ctx context.Context, id int64) error {
	const op = "storage.postgres.ShortURLRepository.IncrementClickCount"

	query := `UPDATE short_urls
		SET click_count = click_count + 1
		WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("%s: failed to increment click count: %w", op, err)
	}

	return nil
}

// SyncClickCount reconciles the fast-counter value into durable storage.
// GREATEST keeps the durable count from ever going backward when a stale
// sync races a fresher one.
func (r *ShortURLRepository) SyncClickCount(ctx context.Context, id, count int64) error {
	const op = "storage.postgres.ShortURLRepository.SyncClickCount"

	query := `UPDATE short_urls
		SET click_count = GREATEST(click_count, $1)
		WHERE id = $2`

	if _, err := r.db.ExecContext(ctx, query, count, id); err != nil {
		return fmt.Errorf("%s: failed to sync click count: %w", op, err)
	}

	return nil
}

// TouchLastAccessed updates last_accessed_at only when the stored value is
// absent or older than the coalescing window, bounding write amplification
// under bursty repeat traffic. Reports whether a write happened.
func (r *ShortURLRepository) TouchLastAccessed(ctx context.Context, id int64, window time.Duration) (bool, error) {
	const op = "storage.postgres.ShortURLRepository.TouchLastAccessed"

	query := `UPDATE short_urls
		SET last_accessed_at = now()
		WHERE id = $1
			AND (last_accessed_at IS NULL OR last_accessed_at < now() - make_interval(secs => $2))`

	res, err := r.db.ExecContext(ctx, query, id, window.Seconds())
	if err != nil {
		return false, fmt.Errorf("%s: failed to update last accessed time: %w", op, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: failed to get affected rows: %w", op, err)
	}

	return rows > 0, nil
}
