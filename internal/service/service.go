// Package service implements the short-URL lifecycle: validated creation with
// transactional code assignment, soft-deletion and restoration with cache
// invalidation, resolution for redirects, and stats backed by the fast
// click-counter tier. Title enrichment is scheduled here as a fire-and-forget
// task whose failure never affects the parent operation.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"time"

	"github.com/shortapp/shortener/internal/entity"
	"github.com/shortapp/shortener/internal/metrics"
	"github.com/shortapp/shortener/internal/titlefetcher"
)

const (
	maxAliasLength = 32
	enrichTimeout  = 30 * time.Second
)

var aliasPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// URLRepository is the durable-storage surface the lifecycle manager needs.
type URLRepository interface {
	Create(ctx context.Context, params entity.CreateShortURLParams) (*entity.ShortURL, error)
	FindActiveByCode(ctx context.Context, code string) (*entity.ShortURL, error)
	FindAnyByCode(ctx context.Context, code string) (*entity.ShortURL, error)
	FindActiveByFullURL(ctx context.Context, fullURL string) (*entity.ShortURL, error)
	ListPopular(ctx context.Context, limit int) ([]*entity.ShortURL, error)
	SoftDelete(ctx context.Context, id int64) error
	Restore(ctx context.Context, id int64) error
	SetTitle(ctx context.Context, id int64, title string) error
}

// RedirectStore is the cache-backed resolution and accounting path.
type RedirectStore interface {
	Resolve(ctx context.Context, code string) (*entity.ShortURL, error)
	Populate(ctx context.Context, url *entity.ShortURL)
	RecordClick(ctx context.Context, id int64) error
	EffectiveClickCount(ctx context.Context, id int64) (int64, error)
	TouchLastAccessed(ctx context.Context, id int64) error
	Invalidate(ctx context.Context, code string, id int64)
}

// TitleFetcher retrieves page titles for enrichment.
type TitleFetcher interface {
	Fetch(ctx context.Context, url string) titlefetcher.Result
}

// Stats is the public per-record statistics view. ClickCount is the effective
// value: fast counter when fresh, durable otherwise.
type Stats struct {
	ShortCode      string
	ClickCount     int64
	CreatedAt      time.Time
	LastAccessedAt *time.Time
}

// ShortURLService orchestrates the short-URL lifecycle.
type ShortURLService struct {
	repo      URLRepository
	redirects RedirectStore
	fetcher   TitleFetcher
	metrics   metrics.Recorder
	logger    *slog.Logger

	// enrichDone receives a signal per finished enrichment task; tests use
	// it to wait without sleeping. Nil outside tests.
	enrichDone chan struct{}
}

// NewShortURLService creates the lifecycle manager. fetcher may be nil, which
// disables title enrichment.
func NewShortURLService(
	repo URLRepository,
	redirects RedirectStore,
	fetcher TitleFetcher,
	rec metrics.Recorder,
	logger *slog.Logger,
) *ShortURLService {
	return &ShortURLService{
		repo:      repo,
		redirects: redirects,
		fetcher:   fetcher,
		metrics:   rec,
		logger:    logger,
	}
}

// Create validates the input, persists the record with its derived short
// code, warms the resolution cache, and schedules title enrichment. A
// duplicate race that matches an existing active record is resolved as
// idempotent success.
func (s *ShortURLService) Create(ctx context.Context, params entity.CreateShortURLParams) (*entity.ShortURL, error) {
	const op = "service.ShortURLService.Create"

	if err := validateCreateParams(&params); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	created, err := s.repo.Create(ctx, params)
	if err != nil {
		if errors.Is(err, entity.ErrAliasExists) {
			return s.resolveDuplicate(ctx, params, err)
		}

		return nil, fmt.Errorf("%s: failed to create short url: %w", op, err)
	}

	s.metrics.URLCreated()
	s.redirects.Populate(ctx, created)
	s.scheduleEnrichment(created.ID, created.FullURL)

	return created, nil
}

// resolveDuplicate handles a uniqueness race: if an active record already
// matches the submission it is returned as idempotent success, otherwise the
// conflict propagates.
func (s *ShortURLService) resolveDuplicate(ctx context.Context, params entity.CreateShortURLParams, cause error) (*entity.ShortURL, error) {
	const op = "service.ShortURLService.resolveDuplicate"

	if params.CustomAlias != "" {
		existing, err := s.repo.FindActiveByCode(ctx, params.CustomAlias)
		if err == nil && existing.FullURL == params.FullURL {
			return existing, nil
		}

		return nil, fmt.Errorf("%s: %w", op, cause)
	}

	existing, err := s.repo.FindActiveByFullURL(ctx, params.FullURL)
	if err == nil {
		return existing, nil
	}

	return nil, fmt.Errorf("%s: %w", op, cause)
}

// Redirect resolves a short code for the redirect path and accounts the
// access. Accounting failures are logged but never fail the redirect itself.
func (s *ShortURLService) Redirect(ctx context.Context, code string) (*entity.ShortURL, error) {
	const op = "service.ShortURLService.Redirect"

	target, err := s.redirects.Resolve(ctx, code)
	if err != nil {
		switch {
		case errors.Is(err, entity.ErrURLNotFound):
			s.metrics.RedirectServed("not_found")
		case errors.Is(err, entity.ErrURLGone):
			s.metrics.RedirectServed("gone")
		}

		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.redirects.RecordClick(ctx, target.ID); err != nil {
		s.logger.Error("failed to record click",
			slog.String("op", op), slog.Int64("id", target.ID), slog.Any("err", err))
	}

	if err := s.redirects.TouchLastAccessed(ctx, target.ID); err != nil {
		s.logger.Error("failed to update last accessed time",
			slog.String("op", op), slog.Int64("id", target.ID), slog.Any("err", err))
	}

	s.metrics.RedirectServed("ok")

	return target, nil
}

// Get retrieves an active record by short code or custom alias.
func (s *ShortURLService) Get(ctx context.Context, code string) (*entity.ShortURL, error) {
	const op = "service.ShortURLService.Get"

	u, err := s.repo.FindActiveByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to get short url: %w", op, err)
	}

	return u, nil
}

// List returns the most popular active records, capped at limit.
func (s *ShortURLService) List(ctx context.Context, limit int) ([]*entity.ShortURL, error) {
	const op = "service.ShortURLService.List"

	urls, err := s.repo.ListPopular(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to list short urls: %w", op, err)
	}

	return urls, nil
}

// Stats returns the statistics view for an active record, using the
// effective click count.
func (s *ShortURLService) Stats(ctx context.Context, code string) (*Stats, error) {
	const op = "service.ShortURLService.Stats"

	u, err := s.repo.FindActiveByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to get short url: %w", op, err)
	}

	count, err := s.redirects.EffectiveClickCount(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to get click count: %w", op, err)
	}

	return &Stats{
		ShortCode:      u.ShortCode,
		ClickCount:     count,
		CreatedAt:      u.CreatedAt,
		LastAccessedAt: u.LastAccessedAt,
	}, nil
}

// SoftDelete marks the record deleted and invalidates its cache entries. The
// record stays resolvable through the unscoped path only.
func (s *ShortURLService) SoftDelete(ctx context.Context, code string) error {
	const op = "service.ShortURLService.SoftDelete"

	u, err := s.repo.FindAnyByCode(ctx, code)
	if err != nil {
		return fmt.Errorf("%s: failed to get short url: %w", op, err)
	}
	if u.DeletedAt != nil {
		return fmt.Errorf("%s: %w", op, entity.ErrURLNotFound)
	}

	if err := s.repo.SoftDelete(ctx, u.ID); err != nil {
		return fmt.Errorf("%s: failed to soft delete short url: %w", op, err)
	}

	s.redirects.Invalidate(ctx, u.ShortCode, u.ID)
	if u.CustomAlias != "" {
		s.redirects.Invalidate(ctx, u.CustomAlias, u.ID)
	}

	return nil
}

// Restore clears the deletion mark. The cache is not repopulated eagerly;
// the next resolve does that.
func (s *ShortURLService) Restore(ctx context.Context, code string) error {
	const op = "service.ShortURLService.Restore"

	u, err := s.repo.FindAnyByCode(ctx, code)
	if err != nil {
		return fmt.Errorf("%s: failed to get short url: %w", op, err)
	}

	if err := s.repo.Restore(ctx, u.ID); err != nil {
		return fmt.Errorf("%s: failed to restore short url: %w", op, err)
	}

	s.redirects.Invalidate(ctx, u.ShortCode, u.ID)
	if u.CustomAlias != "" {
		s.redirects.Invalidate(ctx, u.CustomAlias, u.ID)
	}

	return nil
}

// scheduleEnrichment fires the title fetch off the request path. Every
// failure mode is swallowed here: enrichment must never fail or roll back
// the creation it decorates.
func (s *ShortURLService) scheduleEnrichment(id int64, fullURL string) {
	if s.fetcher == nil {
		return
	}

	go func() {
		defer func() {
			if s.enrichDone != nil {
				s.enrichDone <- struct{}{}
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), enrichTimeout)
		defer cancel()

		res := s.fetcher.Fetch(ctx, fullURL)
		if !res.Success {
			if res.Err == entity.ErrCircuitOpen.Error() {
				s.metrics.TitleFetch("circuit_open")
			} else {
				s.metrics.TitleFetch("error")
			}

			s.logger.Warn("title enrichment failed",
				slog.Int64("id", id), slog.String("err", res.Err))
			return
		}

		s.metrics.TitleFetch("ok")

		if res.Title == "" {
			return
		}

		if err := s.repo.SetTitle(ctx, id, res.Title); err != nil {
			s.logger.Error("failed to persist fetched title",
				slog.Int64("id", id), slog.Any("err", err))
		}
	}()
}

func validateCreateParams(params *entity.CreateShortURLParams) error {
	if params.FullURL == "" {
		return entity.NewValidationError("full_url", "is required")
	}

	u, err := url.Parse(params.FullURL)
	if err != nil {
		return entity.NewValidationError("full_url", "is not a valid URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return entity.NewValidationError("full_url", "must be a valid HTTP or HTTPS URL")
	}
	if u.Host == "" {
		return entity.NewValidationError("full_url", "must have a valid host")
	}

	if params.CustomAlias != "" {
		if len(params.CustomAlias) > maxAliasLength {
			return entity.NewValidationError("custom_alias", fmt.Sprintf("must be at most %d characters", maxAliasLength))
		}
		if !aliasPattern.MatchString(params.CustomAlias) {
			return entity.NewValidationError("custom_alias", "may contain only letters and digits")
		}
	}

	if params.ExpiresAt != nil && !params.ExpiresAt.After(time.Now()) {
		return entity.NewValidationError("expires_at", "must be in the future")
	}

	return nil
}
