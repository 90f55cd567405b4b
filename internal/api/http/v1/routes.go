package http

import (
	"context"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"
	"github.com/go-playground/validator/v10"
	"github.com/olegbukatov/shortly/internal/models"
	"github.com/olegbukatov/shortly/internal/stats"
)

// URLService defines the interface for the core URL shortening and
// analytics business logic.
type URLService interface {
	// ShortenURL creates a shortened version of the provided long URL with an optional expiry.
	// It returns the generated short code and associated URL details, or an error if the operation fails.
	ShortenURL(ctx context.Context, longURL string, expiresAt *time.Time) (*models.URL, error)

	// ResolveShortCode retrieves the original URL for a given short code and records the visit.
	// Expired URLs surface exactly like missing ones.
	ResolveShortCode(ctx context.Context, shortCode string, visit models.Visit) (*models.URL, error)

	// RefreshShortCode regenerates the short code for an already-shortened long URL.
	RefreshShortCode(ctx context.Context, longURL string, expiresAt *time.Time) (*models.URL, error)

	// ExpireURL sets the expiry of the URL associated with the short code.
	ExpireURL(ctx context.Context, shortCode string, expiresAt time.Time) (*models.URL, error)

	// UpdateURL regenerates the short code and sets the expiry in one operation.
	UpdateURL(ctx context.Context, shortCode string, expiresAt time.Time) (*models.URL, error)

	// DeactivateURL removes the URL and its access history, making the short code no longer functional.
	DeactivateURL(ctx context.Context, shortCode string) error

	// GetURLStats builds the aggregated analytics report for the URL associated with the short code.
	GetURLStats(ctx context.Context, shortCode string) (*stats.Report, error)

	// TopURLs retrieves up to n URLs ordered by descending access count.
	TopURLs(ctx context.Context, n int) ([]models.URL, error)
}

// getValidate initializes a new validator instance for validating incoming request payloads.
// It customizes tag name extraction from struct fields to match JSON tags.
func getValidate() *validator.Validate {
	validate := validator.New()

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return validate
}

// NewRouter initializes and returns a new HTTP router with all routes and middleware configured.
func NewRouter(logger *httplog.Logger, urlSvc URLService) http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*"},
		AllowedMethods:   []string{"POST", "GET", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Accept"},
		AllowCredentials: false,
		MaxAge:           84600,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httplog.RequestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		validate := getValidate()

		r.Get("/ping", handlePing)

		r.Route("/shorten", func(r chi.Router) {
			r.Post("/", handleShortenURL(urlSvc, validate))
			r.Put("/", handleRefreshShortCode(urlSvc, validate))
			r.Put("/expire", handleExpireURL(urlSvc, validate))
			r.Put("/update", handleUpdateURL(urlSvc, validate))
			r.Get("/top", handleTopURLs(urlSvc))

			r.Route("/{shortCode}", func(r chi.Router) {
				r.Get("/", handleResolveShortCode(urlSvc))
				r.Delete("/", handleDeactivateURL(urlSvc))
				r.Get("/stats", handleGetURLStats(urlSvc))
			})
		})
	})

	return r
}
