package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/olegbukatov/shortly/internal/database"
	"github.com/olegbukatov/shortly/internal/models"
	"github.com/olegbukatov/shortly/internal/stats"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// ErrMaxRetriesExceeded is returned when the maximum number of retries for generating a short code is exceeded.
var ErrMaxRetriesExceeded = errors.New("maximum retries exceeded for generating short code")

// shortCodeAlphabet is the 62-symbol alphabet short codes are drawn from.
const shortCodeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// unknownUserAgent is recorded when a visit carries no User-Agent header.
const unknownUserAgent = "Unknown"

// URLRepository defines the interface for working with URLs at the business logic layer.
type URLRepository interface {
	// Create inserts a new shortened URL into the repository.
	// Returns the created URL model or an error if the operation fails.
	Create(ctx context.Context, shortCode, longURL string, expiresAt *time.Time) (*models.URL, error)

	// GetByShortCode retrieves a URL by its short code together with its
	// full access history. Returns an error if the URL is not found.
	GetByShortCode(ctx context.Context, shortCode string) (*models.URL, error)

	// GetByLongURL retrieves a URL by its original long URL together with
	// its full access history. Returns an error if the URL is not found.
	GetByLongURL(ctx context.Context, longURL string) (*models.URL, error)

	// Update persists the URL's short code and expiry.
	// Returns the updated URL model or an error if the operation fails.
	Update(ctx context.Context, url *models.URL) (*models.URL, error)

	// Delete removes a URL and its access history by short code.
	// Returns an error if the operation fails.
	Delete(ctx context.Context, shortCode string) error

	// AddAccessLog appends a visit record to the URL's history.
	AddAccessLog(ctx context.Context, urlID int64, log models.AccessLog) (*models.AccessLog, error)

	// TopByAccessCount retrieves up to n URLs ordered by descending access count.
	TopByAccessCount(ctx context.Context, n int) ([]models.URL, error)
}

// StatsBuilder aggregates a URL's access history into a report.
type StatsBuilder interface {
	Build(ctx context.Context, url *models.URL) *stats.Report
}

// URLService provides the URL shortening, access recording and analytics operations.
// It uses a URLRepository to interact with the underlying database and a
// StatsBuilder to compute reports.
type URLService struct {
	repo            URLRepository
	stats           StatsBuilder
	shortCodeLength int
	now             func() time.Time
}

// NewURLService creates a new URLService with the provided collaborators and short code length.
func NewURLService(repo URLRepository, statsBuilder StatsBuilder, shortCodeLength int) *URLService {
	return &URLService{
		repo:            repo,
		stats:           statsBuilder,
		shortCodeLength: shortCodeLength,
		now:             time.Now,
	}
}

// ShortenURL generates a short code for the provided long URL and stores it in the repository.
// It attempts to generate a unique short code up to a maximum number of retries;
// an already-shortened long URL surfaces as a conflict.
func (s *URLService) ShortenURL(ctx context.Context, longURL string, expiresAt *time.Time) (*models.URL, error) {
	const op = "service.URLService.ShortenURL"
	const maxRetries = 5

	for i := 0; i < maxRetries; i++ {
		shortCode, err := gonanoid.Generate(shortCodeAlphabet, s.shortCodeLength)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to generate short code: %w", op, err)
		}

		url, err := s.repo.Create(ctx, shortCode, longURL, expiresAt)
		if err != nil {
			if errors.Is(err, database.ErrShortCodeExists) {
				continue
			}

			return nil, fmt.Errorf("%s: failed to shorten url: %w", op, err)
		}

		return url, nil
	}

	return nil, fmt.Errorf("%s: %w", op, ErrMaxRetriesExceeded)
}

// ResolveShortCode retrieves the URL associated with the provided short code
// and records the visit. Expired URLs are indistinguishable from missing ones
// and record nothing.
func (s *URLService) ResolveShortCode(ctx context.Context, shortCode string, visit models.Visit) (*models.URL, error) {
	const op = "service.URLService.ResolveShortCode"

	url, err := s.repo.GetByShortCode(ctx, shortCode)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to resolve short code: %w", op, err)
	}

	now := s.now()
	if !url.Resolvable(now) {
		return nil, fmt.Errorf("%s: %w", op, database.ErrURLNotFound)
	}

	userAgent := visit.UserAgent
	if userAgent == "" {
		userAgent = unknownUserAgent
	}

	log := models.AccessLog{
		URLID:      url.ID,
		AccessedAt: now,
		IPAddress:  visit.IPAddress,
		UserAgent:  userAgent,
		Referer:    visit.Referer,
	}

	created, err := s.repo.AddAccessLog(ctx, url.ID, log)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to record access: %w", op, err)
	}

	url.AccessLogs = append(url.AccessLogs, *created)
	url.AccessCount = int64(len(url.AccessLogs))

	return url, nil
}

// RefreshShortCode regenerates the short code for an already-shortened long URL,
// optionally replacing its expiry. It retries generation on short code conflicts.
func (s *URLService) RefreshShortCode(ctx context.Context, longURL string, expiresAt *time.Time) (*models.URL, error) {
	const op = "service.URLService.RefreshShortCode"

	url, err := s.repo.GetByLongURL(ctx, longURL)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to find url: %w", op, err)
	}

	if expiresAt != nil {
		url.ExpiresAt = expiresAt
	}

	updated, err := s.saveWithFreshCode(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return updated, nil
}

// ExpireURL sets the expiry of the URL associated with the provided short code.
func (s *URLService) ExpireURL(ctx context.Context, shortCode string, expiresAt time.Time) (*models.URL, error) {
	const op = "service.URLService.ExpireURL"

	url, err := s.repo.GetByShortCode(ctx, shortCode)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to find url: %w", op, err)
	}

	url.ExpiresAt = &expiresAt

	updated, err := s.repo.Update(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to expire url: %w", op, err)
	}

	return updated, nil
}

// UpdateURL regenerates the short code of the URL associated with the
// provided short code and sets its expiry.
func (s *URLService) UpdateURL(ctx context.Context, shortCode string, expiresAt time.Time) (*models.URL, error) {
	const op = "service.URLService.UpdateURL"

	url, err := s.repo.GetByShortCode(ctx, shortCode)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to find url: %w", op, err)
	}

	url.ExpiresAt = &expiresAt

	updated, err := s.saveWithFreshCode(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return updated, nil
}

// DeactivateURL deletes the URL associated with the provided short code
// together with its access history.
func (s *URLService) DeactivateURL(ctx context.Context, shortCode string) error {
	const op = "service.URLService.DeactivateURL"

	err := s.repo.Delete(ctx, shortCode)
	if err != nil {
		return fmt.Errorf("%s: failed to deactivate url: %w", op, err)
	}

	return nil
}

// GetURLStats builds the analytics report for the URL associated with the
// provided short code.
func (s *URLService) GetURLStats(ctx context.Context, shortCode string) (*stats.Report, error) {
	const op = "service.URLService.GetURLStats"

	url, err := s.repo.GetByShortCode(ctx, shortCode)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to get url stats: %w", op, err)
	}

	return s.stats.Build(ctx, url), nil
}

// TopURLs retrieves up to n URLs ordered by descending access count.
func (s *URLService) TopURLs(ctx context.Context, n int) ([]models.URL, error) {
	const op = "service.URLService.TopURLs"

	urls, err := s.repo.TopByAccessCount(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to get top urls: %w", op, err)
	}

	return urls, nil
}

// saveWithFreshCode persists the URL under a newly generated short code,
// retrying generation when the code collides.
func (s *URLService) saveWithFreshCode(ctx context.Context, url *models.URL) (*models.URL, error) {
	const maxRetries = 5

	for i := 0; i < maxRetries; i++ {
		shortCode, err := gonanoid.Generate(shortCodeAlphabet, s.shortCodeLength)
		if err != nil {
			return nil, fmt.Errorf("failed to generate short code: %w", err)
		}

		url.ShortCode = shortCode

		updated, err := s.repo.Update(ctx, url)
		if err != nil {
			if errors.Is(err, database.ErrShortCodeExists) {
				continue
			}

			return nil, fmt.Errorf("failed to update url: %w", err)
		}

		return updated, nil
	}

	return nil, ErrMaxRetriesExceeded
}
