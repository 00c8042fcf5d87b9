package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/shortapp/shortener/internal/entity"
	"github.com/shortapp/shortener/internal/metrics"
	"github.com/shortapp/shortener/internal/titlefetcher"
)

var errUnknown = errors.New("unknown error")

type MockURLRepository struct {
	mock.Mock
}

func (m *MockURLRepository) Create(ctx context.Context, params entity.CreateShortURLParams) (*entity.ShortURL, error) {
	args := m.Called(ctx, params)
	url, _ := args.Get(0).(*entity.ShortURL)
	return url, args.Error(1)
}

func (m *MockURLRepository) FindActiveByCode(ctx context.Context, code string) (*entity.ShortURL, error) {
	args := m.Called(ctx, code)
	url, _ := args.Get(0).(*entity.ShortURL)
	return url, args.Error(1)
}

func (m *MockURLRepository) FindAnyByCode(ctx context.Context, code string) (*entity.ShortURL, error) {
	args := m.Called(ctx, code)
	url, _ := args.Get(0).(*entity.ShortURL)
	return url, args.Error(1)
}

func (m *MockURLRepository) FindActiveByFullURL(ctx context.Context, fullURL string) (*entity.ShortURL, error) {
	args := m.Called(ctx, fullURL)
	url, _ := args.Get(0).(*entity.ShortURL)
	return url, args.Error(1)
}

func (m *MockURLRepository) ListPopular(ctx context.Context, limit int) ([]*entity.ShortURL, error) {
	args := m.Called(ctx, limit)
	urls, _ := args.Get(0).([]*entity.ShortURL)
	return urls, args.Error(1)
}

func (m *MockURLRepository) SoftDelete(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockURLRepository) Restore(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockURLRepository) SetTitle(ctx context.Context, id int64, title string) error {
	return m.Called(ctx, id, title).Error(0)
}

type MockRedirectStore struct {
	mock.Mock
}

func (m *MockRedirectStore) Resolve(ctx context.Context, code string) (*entity.ShortURL, error) {
	args := m.Called(ctx, code)
	url, _ := args.Get(0).(*entity.ShortURL)
	return url, args.Error(1)
}

func (m *MockRedirectStore) Populate(ctx context.Context, url *entity.ShortURL) {
	m.Called(ctx, url)
}

func (m *MockRedirectStore) RecordClick(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockRedirectStore) EffectiveClickCount(ctx context.Context, id int64) (int64, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRedirectStore) TouchLastAccessed(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockRedirectStore) Invalidate(ctx context.Context, code string, id int64) {
	m.Called(ctx, code, id)
}

type MockTitleFetcher struct {
	mock.Mock
}

func (m *MockTitleFetcher) Fetch(ctx context.Context, url string) titlefetcher.Result {
	args := m.Called(ctx, url)
	return args.Get(0).(titlefetcher.Result)
}

func setupService(t testing.TB) (*ShortURLService, *MockURLRepository, *MockRedirectStore, *MockTitleFetcher) {
	t.Helper()

	repo := new(MockURLRepository)
	redirects := new(MockRedirectStore)
	fetcher := new(MockTitleFetcher)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewShortURLService(repo, redirects, fetcher, metrics.Noop{}, logger)
	svc.enrichDone = make(chan struct{}, 8)

	return svc, repo, redirects, fetcher
}

func waitForEnrichment(t testing.TB, svc *ShortURLService) {
	t.Helper()

	select {
	case <-svc.enrichDone:
	case <-time.After(time.Second):
		t.Fatal("enrichment task did not finish")
	}
}

func TestShortURLService_Create(t *testing.T) {
	t.Run("missing url fails validation", func(t *testing.T) {
		svc, repo, _, _ := setupService(t)

		url, err := svc.Create(context.Background(), entity.CreateShortURLParams{})

		assert.Error(t, err)
		var vErr *entity.ValidationError
		assert.ErrorAs(t, err, &vErr)
		assert.Nil(t, url)
		repo.AssertNotCalled(t, "Create")
	})

	t.Run("malformed url fails validation", func(t *testing.T) {
		svc, repo, _, _ := setupService(t)

		url, err := svc.Create(context.Background(), entity.CreateShortURLParams{FullURL: "not-a-url"})

		var vErr *entity.ValidationError
		assert.ErrorAs(t, err, &vErr)
		assert.Nil(t, url)
		repo.AssertNotCalled(t, "Create")
	})

	t.Run("non-http scheme fails validation", func(t *testing.T) {
		svc, _, _, _ := setupService(t)

		_, err := svc.Create(context.Background(), entity.CreateShortURLParams{FullURL: "ftp://example.com/file"})

		var vErr *entity.ValidationError
		assert.ErrorAs(t, err, &vErr)
	})

	t.Run("overlong alias fails validation", func(t *testing.T) {
		svc, _, _, _ := setupService(t)

		_, err := svc.Create(context.Background(), entity.CreateShortURLParams{
			FullURL:     "https://example.com",
			CustomAlias: "a123456789a123456789a123456789a12",
		})

		var vErr *entity.ValidationError
		assert.ErrorAs(t, err, &vErr)
	})

	t.Run("past expiry fails validation", func(t *testing.T) {
		svc, _, _, _ := setupService(t)

		past := time.Now().Add(-time.Hour)
		_, err := svc.Create(context.Background(), entity.CreateShortURLParams{
			FullURL:   "https://example.com",
			ExpiresAt: &past,
		})

		var vErr *entity.ValidationError
		assert.ErrorAs(t, err, &vErr)
	})

	t.Run("success warms cache and enriches title", func(t *testing.T) {
		svc, repo, redirects, fetcher := setupService(t)

		created := &entity.ShortURL{ID: 1, ShortCode: "1", FullURL: "https://example.com/x"}

		repo.On("Create", mock.Anything, mock.Anything).
			Once().
			Return(created, nil)
		redirects.On("Populate", mock.Anything, created).Once()
		fetcher.On("Fetch", mock.Anything, "https://example.com/x").
			Once().
			Return(titlefetcher.Result{Success: true, Title: "Example"})
		repo.On("SetTitle", mock.Anything, int64(1), "Example").
			Once().
			Return(nil)

		url, err := svc.Create(context.Background(), entity.CreateShortURLParams{FullURL: "https://example.com/x"})

		require.NoError(t, err)
		assert.Equal(t, "1", url.ShortCode)
		assert.Zero(t, url.ClickCount)

		waitForEnrichment(t, svc)
		repo.AssertExpectations(t)
		redirects.AssertExpectations(t)
	})

	t.Run("enrichment failure does not fail creation", func(t *testing.T) {
		svc, repo, redirects, fetcher := setupService(t)

		created := &entity.ShortURL{ID: 2, ShortCode: "2", FullURL: "https://example.com/y"}

		repo.On("Create", mock.Anything, mock.Anything).Once().Return(created, nil)
		redirects.On("Populate", mock.Anything, created).Once()
		fetcher.On("Fetch", mock.Anything, "https://example.com/y").
			Once().
			Return(titlefetcher.Result{Success: false, Err: entity.ErrCircuitOpen.Error()})

		url, err := svc.Create(context.Background(), entity.CreateShortURLParams{FullURL: "https://example.com/y"})

		require.NoError(t, err)
		assert.NotNil(t, url)

		waitForEnrichment(t, svc)
		repo.AssertNotCalled(t, "SetTitle")
	})

	t.Run("alias race with matching active record is idempotent", func(t *testing.T) {
		svc, repo, _, _ := setupService(t)

		existing := &entity.ShortURL{ID: 3, ShortCode: "3", CustomAlias: "promo", FullURL: "https://example.com/z"}

		repo.On("Create", mock.Anything, mock.Anything).
			Once().
			Return(nil, entity.ErrAliasExists)
		repo.On("FindActiveByCode", mock.Anything, "promo").
			Once().
			Return(existing, nil)

		url, err := svc.Create(context.Background(), entity.CreateShortURLParams{
			FullURL:     "https://example.com/z",
			CustomAlias: "promo",
		})

		require.NoError(t, err)
		assert.Equal(t, existing, url)
	})

	t.Run("alias race with different target is a conflict", func(t *testing.T) {
		svc, repo, _, _ := setupService(t)

		other := &entity.ShortURL{ID: 4, CustomAlias: "promo", FullURL: "https://other.example.com"}

		repo.On("Create", mock.Anything, mock.Anything).
			Once().
			Return(nil, entity.ErrAliasExists)
		repo.On("FindActiveByCode", mock.Anything, "promo").
			Once().
			Return(other, nil)

		url, err := svc.Create(context.Background(), entity.CreateShortURLParams{
			FullURL:     "https://example.com/z",
			CustomAlias: "promo",
		})

		assert.ErrorIs(t, err, entity.ErrAliasExists)
		assert.Nil(t, url)
	})

	t.Run("full url race without alias resolves to the existing record", func(t *testing.T) {
		svc, repo, _, _ := setupService(t)

		existing := &entity.ShortURL{ID: 5, ShortCode: "5", FullURL: "https://example.com/z"}

		repo.On("Create", mock.Anything, mock.Anything).
			Once().
			Return(nil, entity.ErrAliasExists)
		repo.On("FindActiveByFullURL", mock.Anything, "https://example.com/z").
			Once().
			Return(existing, nil)

		url, err := svc.Create(context.Background(), entity.CreateShortURLParams{
			FullURL: "https://example.com/z",
		})

		require.NoError(t, err)
		assert.Equal(t, existing, url)
	})

	t.Run("unknown storage error", func(t *testing.T) {
		svc, repo, _, _ := setupService(t)

		repo.On("Create", mock.Anything, mock.Anything).
			Once().
			Return(nil, errUnknown)

		url, err := svc.Create(context.Background(), entity.CreateShortURLParams{FullURL: "https://example.com"})

		assert.ErrorIs(t, err, errUnknown)
		assert.Nil(t, url)
	})
}

func TestShortURLService_Redirect(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		svc, _, redirects, _ := setupService(t)

		redirects.On("Resolve", mock.Anything, "missing").
			Once().
			Return(nil, entity.ErrURLNotFound)

		url, err := svc.Redirect(context.Background(), "missing")

		assert.ErrorIs(t, err, entity.ErrURLNotFound)
		assert.Nil(t, url)
	})

	t.Run("expired", func(t *testing.T) {
		svc, _, redirects, _ := setupService(t)

		redirects.On("Resolve", mock.Anything, "old").
			Once().
			Return(nil, entity.ErrURLGone)

		url, err := svc.Redirect(context.Background(), "old")

		assert.ErrorIs(t, err, entity.ErrURLGone)
		assert.Nil(t, url)
	})

	t.Run("success records click and access time", func(t *testing.T) {
		svc, _, redirects, _ := setupService(t)

		target := &entity.ShortURL{ID: 1, ShortCode: "abc", FullURL: "https://example.com"}

		redirects.On("Resolve", mock.Anything, "abc").Once().Return(target, nil)
		redirects.On("RecordClick", mock.Anything, int64(1)).Once().Return(nil)
		redirects.On("TouchLastAccessed", mock.Anything, int64(1)).Once().Return(nil)

		url, err := svc.Redirect(context.Background(), "abc")

		require.NoError(t, err)
		assert.Equal(t, "https://example.com", url.FullURL)
		redirects.AssertExpectations(t)
	})

	t.Run("accounting failure does not fail the redirect", func(t *testing.T) {
		svc, _, redirects, _ := setupService(t)

		target := &entity.ShortURL{ID: 1, ShortCode: "abc", FullURL: "https://example.com"}

		redirects.On("Resolve", mock.Anything, "abc").Once().Return(target, nil)
		redirects.On("RecordClick", mock.Anything, int64(1)).Once().Return(errUnknown)
		redirects.On("TouchLastAccessed", mock.Anything, int64(1)).Once().Return(errUnknown)

		url, err := svc.Redirect(context.Background(), "abc")

		require.NoError(t, err)
		assert.NotNil(t, url)
	})
}

func TestShortURLService_Stats(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		svc, repo, _, _ := setupService(t)

		repo.On("FindActiveByCode", mock.Anything, "missing").
			Once().
			Return(nil, entity.ErrURLNotFound)

		stats, err := svc.Stats(context.Background(), "missing")

		assert.ErrorIs(t, err, entity.ErrURLNotFound)
		assert.Nil(t, stats)
	})

	t.Run("uses effective click count", func(t *testing.T) {
		svc, repo, redirects, _ := setupService(t)

		u := &entity.ShortURL{ID: 1, ShortCode: "abc", ClickCount: 5}

		repo.On("FindActiveByCode", mock.Anything, "abc").Once().Return(u, nil)
		redirects.On("EffectiveClickCount", mock.Anything, int64(1)).
			Once().
			Return(int64(8), nil)

		stats, err := svc.Stats(context.Background(), "abc")

		require.NoError(t, err)
		assert.Equal(t, "abc", stats.ShortCode)
		assert.Equal(t, int64(8), stats.ClickCount)
	})
}

func TestShortURLService_SoftDeleteRestore(t *testing.T) {
	t.Run("soft delete invalidates cache", func(t *testing.T) {
		svc, repo, redirects, _ := setupService(t)

		u := &entity.ShortURL{ID: 1, ShortCode: "abc"}

		repo.On("FindAnyByCode", mock.Anything, "abc").Once().Return(u, nil)
		repo.On("SoftDelete", mock.Anything, int64(1)).Once().Return(nil)
		redirects.On("Invalidate", mock.Anything, "abc", int64(1)).Once()

		require.NoError(t, svc.SoftDelete(context.Background(), "abc"))
		redirects.AssertExpectations(t)
	})

	t.Run("soft deleting a deleted record reports not found", func(t *testing.T) {
		svc, repo, _, _ := setupService(t)

		deletedAt := time.Now()
		u := &entity.ShortURL{ID: 1, ShortCode: "abc", DeletedAt: &deletedAt}

		repo.On("FindAnyByCode", mock.Anything, "abc").Once().Return(u, nil)

		err := svc.SoftDelete(context.Background(), "abc")

		assert.ErrorIs(t, err, entity.ErrURLNotFound)
		repo.AssertNotCalled(t, "SoftDelete")
	})

	t.Run("restore clears deletion and invalidates", func(t *testing.T) {
		svc, repo, redirects, _ := setupService(t)

		deletedAt := time.Now()
		u := &entity.ShortURL{ID: 1, ShortCode: "abc", DeletedAt: &deletedAt}

		repo.On("FindAnyByCode", mock.Anything, "abc").Once().Return(u, nil)
		repo.On("Restore", mock.Anything, int64(1)).Once().Return(nil)
		redirects.On("Invalidate", mock.Anything, "abc", int64(1)).Once()

		require.NoError(t, svc.Restore(context.Background(), "abc"))
		redirects.AssertExpectations(t)
	})
}
