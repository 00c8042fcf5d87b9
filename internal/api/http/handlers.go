package http

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httplog/v2"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	"github.com/shortapp/shortener/internal/entity"
	"github.com/shortapp/shortener/pkg/response"
)

const (
	defaultListLimit = 10
	maxListLimit     = 100
)

// handlePing handles health check requests to ensure the server is running.
func handlePing(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "pong")
}

// handleHealth reports process liveness without touching any dependency.
func handleHealth(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, response.SuccessResponse("The server is alive."))
}

// handleReadiness probes every registered dependency and reports 503 on the
// first failure.
func handleReadiness(checks map[string]ReadinessCheck) http.HandlerFunc {
	const op = "api.http.handleReadiness"

	return func(w http.ResponseWriter, r *http.Request) {
		for name, check := range checks {
			if err := check(r.Context()); err != nil {
				httplog.LogEntrySetFields(r.Context(), map[string]any{"op": op, "dependency": name, "err": err})

				render.Status(r, http.StatusServiceUnavailable)
				render.JSON(w, r, response.Response{
					Status:  response.StatusError,
					Error:   "Service Unavailable",
					Message: "A backing dependency is not ready.",
				})
				return
			}
		}

		render.Status(r, http.StatusOK)
		render.JSON(w, r, response.SuccessResponse("All dependencies are ready."))
	}
}

// createShortURLRequest represents the request payload for creating a
// shortened URL. ExpiresAt must be RFC 3339 when present.
type createShortURLRequest struct {
	URL         string            `json:"url" validate:"required,url"`
	CustomAlias string            `json:"custom_alias" validate:"omitempty,max=32,alphanum"`
	ExpiresAt   *time.Time        `json:"expires_at"`
	Metadata    map[string]string `json:"metadata"`
}

// shortURLResponse represents the response payload for a short URL record.
type shortURLResponse struct {
	ID          int64      `json:"id"`
	ShortCode   string     `json:"short_code"`
	URL         string     `json:"url"`
	CustomAlias string     `json:"custom_alias,omitempty"`
	Title       string     `json:"title,omitempty"`
	ClickCount  int64      `json:"click_count"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

func toShortURLResponse(url *entity.ShortURL) shortURLResponse {
	return shortURLResponse{
		ID:          url.ID,
		ShortCode:   url.ShortCode,
		URL:         url.FullURL,
		CustomAlias: url.CustomAlias,
		Title:       url.Title,
		ClickCount:  url.ClickCount,
		CreatedAt:   url.CreatedAt,
		UpdatedAt:   url.UpdatedAt,
		ExpiresAt:   url.ExpiresAt,
	}
}

// statsResponse represents the statistics payload. ClickCount is the
// effective value combining the fast counter tier with durable storage.
type statsResponse struct {
	ShortCode      string     `json:"short_code"`
	ClickCount     int64      `json:"click_count"`
	CreatedAt      time.Time  `json:"created_at"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
}

// clientIP extracts the caller address set by the RealIP middleware.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// handleCreateShortURL handles POST requests to create a shortened URL.
//
// The request must contain a valid absolute URL and may carry a custom alias,
// an expiry timestamp and a metadata bag. Domain validation failures map to
// 422, an alias conflict to 409.
func handleCreateShortURL(svc URLService, validate *validator.Validate) http.HandlerFunc {
	const op = "api.http.handleCreateShortURL"
	const successMsg = "The URL has been shortened successfully."

	return func(w http.ResponseWriter, r *http.Request) {
		var req createShortURLRequest

		if err := render.DecodeJSON(r.Body, &req); err != nil {
			if errors.Is(err, io.EOF) {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, response.EmptyRequestBodyResponse)
				return
			}

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.BadRequestResponse)
			return
		}

		if err := validate.Struct(req); err != nil {
			render.Status(r, http.StatusUnprocessableEntity)
			render.JSON(w, r, response.ValidationErrorResponse(err))
			return
		}

		url, err := svc.Create(r.Context(), entity.CreateShortURLParams{
			FullURL:     req.URL,
			CustomAlias: req.CustomAlias,
			ExpiresAt:   req.ExpiresAt,
			CreatedByIP: clientIP(r),
			Metadata:    req.Metadata,
		})
		if err != nil {
			var vErr *entity.ValidationError
			switch {
			case errors.As(err, &vErr):
				render.Status(r, http.StatusUnprocessableEntity)
				render.JSON(w, r, response.FieldErrorResponse(vErr.Field, vErr.Reason))
			case errors.Is(err, entity.ErrAliasExists):
				render.Status(r, http.StatusConflict)
				render.JSON(w, r, response.ConflictResponse)
			default:
				httplog.LogEntrySetFields(r.Context(), map[string]any{"op": op, "err": err})

				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, response.ServerErrorResponse)
			}
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, response.SuccessResponse(successMsg, toShortURLResponse(url)))
	}
}

// handleRedirect handles GET requests on the public short link path.
//
// Resolvable codes answer with a permanent redirect to the target URL.
// Unknown or deleted codes return 404, expired ones 410.
func handleRedirect(svc URLService) http.HandlerFunc {
	const op = "api.http.handleRedirect"

	return func(w http.ResponseWriter, r *http.Request) {
		shortCode := chi.URLParam(r, "shortCode")

		url, err := svc.Redirect(r.Context(), shortCode)
		if err != nil {
			switch {
			case errors.Is(err, entity.ErrURLNotFound):
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, response.ResourceNotFoundResponse)
			case errors.Is(err, entity.ErrURLGone):
				render.Status(r, http.StatusGone)
				render.JSON(w, r, response.ResourceGoneResponse)
			default:
				httplog.LogEntrySetFields(r.Context(), map[string]any{"op": op, "err": err})

				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, response.ServerErrorResponse)
			}
			return
		}

		http.Redirect(w, r, url.FullURL, http.StatusMovedPermanently)
	}
}

// handleGetShortURL handles GET requests to retrieve a short URL record by
// its short code or custom alias.
func handleGetShortURL(svc URLService) http.HandlerFunc {
	const op = "api.http.handleGetShortURL"
	const successMsg = "The short URL retrieved successfully."

	return func(w http.ResponseWriter, r *http.Request) {
		shortCode := chi.URLParam(r, "shortCode")

		url, err := svc.Get(r.Context(), shortCode)
		if err != nil {
			if errors.Is(err, entity.ErrURLNotFound) {
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, response.ResourceNotFoundResponse)
				return
			}

			httplog.LogEntrySetFields(r.Context(), map[string]any{"op": op, "err": err})

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.ServerErrorResponse)
			return
		}

		render.Status(r, http.StatusOK)
		render.JSON(w, r, response.SuccessResponse(successMsg, toShortURLResponse(url)))
	}
}

// handleListShortURLs handles GET requests for the most popular active
// records. The limit query parameter is optional and capped.
func handleListShortURLs(svc URLService) http.HandlerFunc {
	const op = "api.http.handleListShortURLs"
	const successMsg = "The short URLs retrieved successfully."

	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultListLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 {
				render.Status(r, http.StatusUnprocessableEntity)
				render.JSON(w, r, response.FieldErrorResponse("limit", "must be a positive integer"))
				return
			}
			limit = min(parsed, maxListLimit)
		}

		urls, err := svc.List(r.Context(), limit)
		if err != nil {
			httplog.LogEntrySetFields(r.Context(), map[string]any{"op": op, "err": err})

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.ServerErrorResponse)
			return
		}

		data := make([]shortURLResponse, len(urls))
		for i, url := range urls {
			data[i] = toShortURLResponse(url)
		}

		render.Status(r, http.StatusOK)
		render.JSON(w, r, response.SuccessResponse(successMsg, data))
	}
}

// handleGetShortURLStats handles GET requests to retrieve usage statistics
// for a shortened URL.
func handleGetShortURLStats(svc URLService) http.HandlerFunc {
	const op = "api.http.handleGetShortURLStats"
	const successMsg = "The URL statistics retrieved successfully."

	return func(w http.ResponseWriter, r *http.Request) {
		shortCode := chi.URLParam(r, "shortCode")

		stats, err := svc.Stats(r.Context(), shortCode)
		if err != nil {
			if errors.Is(err, entity.ErrURLNotFound) {
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, response.ResourceNotFoundResponse)
				return
			}

			httplog.LogEntrySetFields(r.Context(), map[string]any{"op": op, "err": err})

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.ServerErrorResponse)
			return
		}

		render.Status(r, http.StatusOK)
		render.JSON(w, r, response.SuccessResponse(successMsg, statsResponse{
			ShortCode:      stats.ShortCode,
			ClickCount:     stats.ClickCount,
			CreatedAt:      stats.CreatedAt,
			LastAccessedAt: stats.LastAccessedAt,
		}))
	}
}

// handleDeleteShortURL handles DELETE requests to soft delete the URL.
//
// Once deleted, the URL no longer redirects. The record itself survives and
// can be restored.
func handleDeleteShortURL(svc URLService) http.HandlerFunc {
	const op = "api.http.handleDeleteShortURL"
	const successMsg = "The short URL was successfully deleted."

	return func(w http.ResponseWriter, r *http.Request) {
		shortCode := chi.URLParam(r, "shortCode")

		if err := svc.SoftDelete(r.Context(), shortCode); err != nil {
			if errors.Is(err, entity.ErrURLNotFound) {
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, response.ResourceNotFoundResponse)
				return
			}

			httplog.LogEntrySetFields(r.Context(), map[string]any{"op": op, "err": err})

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.ServerErrorResponse)
			return
		}

		render.Status(r, http.StatusOK)
		render.JSON(w, r, response.SuccessResponse(successMsg))
	}
}

// handleRestoreShortURL handles POST requests to clear a record's deletion
// mark.
func handleRestoreShortURL(svc URLService) http.HandlerFunc {
	const op = "api.http.handleRestoreShortURL"
	const successMsg = "The short URL was successfully restored."

	return func(w http.ResponseWriter, r *http.Request) {
		shortCode := chi.URLParam(r, "shortCode")

		if err := svc.Restore(r.Context(), shortCode); err != nil {
			if errors.Is(err, entity.ErrURLNotFound) {
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, response.ResourceNotFoundResponse)
				return
			}

			httplog.LogEntrySetFields(r.Context(), map[string]any{"op": op, "err": err})

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.ServerErrorResponse)
			return
		}

		render.Status(r, http.StatusOK)
		render.JSON(w, r, response.SuccessResponse(successMsg))
	}
}
