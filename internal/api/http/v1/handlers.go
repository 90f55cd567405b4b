package http

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httplog/v2"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/olegbukatov/shortly/internal/database"
	"github.com/olegbukatov/shortly/internal/models"
	"github.com/olegbukatov/shortly/internal/stats"
	"github.com/olegbukatov/shortly/pkg/response"
)

// handlePing handles health check requests to ensure the server is running.
func handlePing(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "pong")
}

// urlRequest represents the request payload for creating a shortened URL or
// refreshing its short code.
type urlRequest struct {
	URL       string     `json:"url" validate:"required,url"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// updateURLRequest represents the request payload for the expire and update
// operations addressed by short code.
type updateURLRequest struct {
	ShortCode string     `json:"short_code" validate:"required,len=8"`
	ExpiresAt *time.Time `json:"expires_at" validate:"required"`
}

// urlResponse represents the response payload for a shortened URL operation.
type urlResponse struct {
	ID          int64      `json:"id"`
	ShortCode   string     `json:"short_code"`
	URL         string     `json:"url"`
	AccessCount int64      `json:"access_count,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// toURLResponse converts a URL model from the business layer into a response payload.
func toURLResponse(url *models.URL) urlResponse {
	return urlResponse{
		ID:        url.ID,
		ShortCode: url.ShortCode,
		URL:       url.LongURL,
		ExpiresAt: url.ExpiresAt,
		CreatedAt: url.CreatedAt,
		UpdatedAt: url.UpdatedAt,
	}
}

// deviceInfoResponse mirrors the device portion of the stats report contract.
type deviceInfoResponse struct {
	DeviceType string `json:"deviceType"`
	OS         string `json:"os"`
	Browser    string `json:"browser"`
}

type groupCountResponse struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

type locationCountResponse struct {
	Country string `json:"country"`
	City    string `json:"city,omitempty"`
	Flags   string `json:"flags,omitempty"`
	Count   int    `json:"count"`
}

// statsResponse is the aggregated report contract. Field names follow the
// report shape rather than the envelope payloads of the CRUD endpoints.
type statsResponse struct {
	ID               int64                   `json:"id"`
	URL              string                  `json:"url"`
	ShortCode        string                  `json:"shortCode"`
	CreatedAt        time.Time               `json:"createdAt"`
	UpdatedAt        time.Time               `json:"updatedAt"`
	TotalAccessCount int                     `json:"totalAccessCount"`
	LastAccessed     *time.Time              `json:"lastAccessed"`
	UniqueIPCount    int                     `json:"uniqueIPCount"`
	LastAccessDevice *deviceInfoResponse     `json:"lastAccessDevice"`
	LocationStats    []locationCountResponse `json:"locationStats"`
	ReferrerStats    []groupCountResponse    `json:"referrerStats"`
	OSStats          []groupCountResponse    `json:"osStats"`
	DeviceStats      []groupCountResponse    `json:"deviceStats"`
	BrowserStats     []groupCountResponse    `json:"browserStats"`
}

func toGroupCountResponses(groups []stats.GroupCount) []groupCountResponse {
	resp := make([]groupCountResponse, 0, len(groups))
	for _, group := range groups {
		resp = append(resp, groupCountResponse{Key: group.Key, Count: group.Count})
	}
	return resp
}

func toStatsResponse(report *stats.Report) statsResponse {
	resp := statsResponse{
		ID:               report.ID,
		URL:              report.LongURL,
		ShortCode:        report.ShortCode,
		CreatedAt:        report.CreatedAt,
		UpdatedAt:        report.UpdatedAt,
		TotalAccessCount: report.TotalAccessCount,
		LastAccessed:     report.LastAccessed,
		UniqueIPCount:    report.UniqueIPCount,
		LocationStats:    make([]locationCountResponse, 0, len(report.LocationStats)),
		ReferrerStats:    toGroupCountResponses(report.ReferrerStats),
		OSStats:          toGroupCountResponses(report.OSStats),
		DeviceStats:      toGroupCountResponses(report.DeviceStats),
		BrowserStats:     toGroupCountResponses(report.BrowserStats),
	}

	if report.LastAccessDevice != nil {
		resp.LastAccessDevice = &deviceInfoResponse{
			DeviceType: report.LastAccessDevice.DeviceType,
			OS:         report.LastAccessDevice.OS,
			Browser:    report.LastAccessDevice.Browser,
		}
	}

	for _, location := range report.LocationStats {
		resp.LocationStats = append(resp.LocationStats, locationCountResponse{
			Country: location.Country,
			City:    location.City,
			Flags:   location.Flag,
			Count:   location.Count,
		})
	}

	return resp
}

// visitFromRequest derives the raw visit facts from the inbound request:
// the proxy-forwarded address falls back to the transport-level remote
// address, the Referer header falls back to Origin.
func visitFromRequest(r *http.Request) models.Visit {
	ip := r.Header.Get("X-Forwarded-For")
	if i := strings.IndexByte(ip, ','); i >= 0 {
		ip = ip[:i]
	}
	ip = strings.TrimSpace(ip)

	if ip == "" {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ip = host
	}

	referer := r.Header.Get("Referer")
	if referer == "" {
		referer = r.Header.Get("Origin")
	}

	return models.Visit{
		IPAddress: ip,
		Referer:   referer,
		UserAgent: r.Header.Get("User-Agent"),
	}
}

// handleShortenURL handles POST requests to shorten a URL.
//
// The request must contain a valid URL and may carry an expiry. The handler
// validates the input, calls the URL shortening service and returns the
// generated short code with relevant metadata. An already-shortened URL is
// rejected as a conflict.
func handleShortenURL(svc URLService, validate *validator.Validate) http.HandlerFunc {
	const op = "api.http.handleShortenURL"
	const successMsg = "The URL has been shortened successfully."

	return func(w http.ResponseWriter, r *http.Request) {
		var req urlRequest

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
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.ValidationErrorResponse(err))
			return
		}

		url, err := svc.ShortenURL(r.Context(), req.URL, req.ExpiresAt)
		if err != nil {
			if errors.Is(err, database.ErrLongURLExists) {
				render.Status(r, http.StatusConflict)
				render.JSON(w, r, response.ResourceConflictResponse)
				return
			}

			httplog.LogEntrySetFields(r.Context(), map[string]any{"op": op, "err": err})

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.ServerErrorResponse)
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, response.SuccessResponse(successMsg, toURLResponse(url)))
	}
}

// handleResolveShortCode handles GET requests to resolve a short code into
// the original URL, recording the visit on success.
//
// Expired short codes are reported as 404 exactly like missing ones.
func handleResolveShortCode(svc URLService) http.HandlerFunc {
	const op = "api.http.handleResolveShortCode"
	const successMsg = "The short code was successfully resolved."

	return func(w http.ResponseWriter, r *http.Request) {
		shortCode := chi.URLParam(r, "shortCode")

		url, err := svc.ResolveShortCode(r.Context(), shortCode, visitFromRequest(r))
		if err != nil {
			if errors.Is(err, database.ErrURLNotFound) {
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
		render.JSON(w, r, response.SuccessResponse(successMsg, toURLResponse(url)))
	}
}

// handleRefreshShortCode handles PUT requests to regenerate the short code
// for an already-shortened long URL, optionally replacing its expiry.
func handleRefreshShortCode(svc URLService, validate *validator.Validate) http.HandlerFunc {
	const op = "api.http.handleRefreshShortCode"
	const successMsg = "The short code was successfully regenerated."

	return func(w http.ResponseWriter, r *http.Request) {
		var req urlRequest

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
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.ValidationErrorResponse(err))
			return
		}

		url, err := svc.RefreshShortCode(r.Context(), req.URL, req.ExpiresAt)
		if err != nil {
			if errors.Is(err, database.ErrURLNotFound) {
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
		render.JSON(w, r, response.SuccessResponse(successMsg, toURLResponse(url)))
	}
}

// handleExpireURL handles PUT requests to set the expiry of a shortened URL.
func handleExpireURL(svc URLService, validate *validator.Validate) http.HandlerFunc {
	const op = "api.http.handleExpireURL"
	const successMsg = "The URL expiry was successfully set."

	return func(w http.ResponseWriter, r *http.Request) {
		var req updateURLRequest

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
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.ValidationErrorResponse(err))
			return
		}

		url, err := svc.ExpireURL(r.Context(), req.ShortCode, *req.ExpiresAt)
		if err != nil {
			if errors.Is(err, database.ErrURLNotFound) {
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
		render.JSON(w, r, response.SuccessResponse(successMsg, toURLResponse(url)))
	}
}

// handleUpdateURL handles PUT requests to regenerate a URL's short code and
// set its expiry in one operation.
func handleUpdateURL(svc URLService, validate *validator.Validate) http.HandlerFunc {
	const op = "api.http.handleUpdateURL"
	const successMsg = "The URL was successfully updated."

	return func(w http.ResponseWriter, r *http.Request) {
		var req updateURLRequest

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
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, response.ValidationErrorResponse(err))
			return
		}

		url, err := svc.UpdateURL(r.Context(), req.ShortCode, *req.ExpiresAt)
		if err != nil {
			if errors.Is(err, database.ErrURLNotFound) {
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
		render.JSON(w, r, response.SuccessResponse(successMsg, toURLResponse(url)))
	}
}

// handleDeactivateURL handles DELETE requests to deactivate the URL.
//
// Deactivation removes the URL together with its access history. The handler
// returns a success message if deactivation is successful or an error if the
// short code doesn't exist.
func handleDeactivateURL(svc URLService) http.HandlerFunc {
	const op = "api.http.handleDeactivateURL"
	const successMsg = "The URL was successfully deactivated."

	return func(w http.ResponseWriter, r *http.Request) {
		shortCode := chi.URLParam(r, "shortCode")

		err := svc.DeactivateURL(r.Context(), shortCode)
		if err != nil {
			if errors.Is(err, database.ErrURLNotFound) {
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

// handleGetURLStats handles GET requests to retrieve usage analytics for a
// shortened URL.
//
// The handler returns the aggregated report computed over the URL's access
// history, or a 404 error if the URL doesn't exist.
func handleGetURLStats(svc URLService) http.HandlerFunc {
	const op = "api.http.handleGetURLStats"
	const successMsg = "The URL statistics retrieved successfully."

	return func(w http.ResponseWriter, r *http.Request) {
		shortCode := chi.URLParam(r, "shortCode")

		report, err := svc.GetURLStats(r.Context(), shortCode)
		if err != nil {
			if errors.Is(err, database.ErrURLNotFound) {
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
		render.JSON(w, r, response.SuccessResponse(successMsg, toStatsResponse(report)))
	}
}

// handleTopURLs handles GET requests to list the most accessed URLs.
func handleTopURLs(svc URLService) http.HandlerFunc {
	const op = "api.http.handleTopURLs"
	const successMsg = "The top URLs retrieved successfully."
	const defaultLimit = 5

	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, response.BadRequestResponse)
				return
			}
			limit = n
		}

		urls, err := svc.TopURLs(r.Context(), limit)
		if err != nil {
			httplog.LogEntrySetFields(r.Context(), map[string]any{"op": op, "err": err})

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, response.ServerErrorResponse)
			return
		}

		data := make([]urlResponse, 0, len(urls))
		for i := range urls {
			resp := toURLResponse(&urls[i])
			resp.AccessCount = urls[i].AccessCount
			data = append(data, resp)
		}

		render.Status(r, http.StatusOK)
		render.JSON(w, r, response.SuccessResponse(successMsg, data))
	}
}
