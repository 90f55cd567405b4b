package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/olegbukatov/shortly/internal/database"
	"github.com/olegbukatov/shortly/internal/models"
)

type urlRecord struct {
	ID        int64        `db:"id"`
	ShortCode string       `db:"short_code"`
	LongURL   string       `db:"long_url"`
	ExpiresAt sql.NullTime `db:"expires_at"`
	CreatedAt time.Time    `db:"created_at"`
	UpdatedAt time.Time    `db:"updated_at"`
}

func (r *urlRecord) ToURL() *models.URL {
	url := &models.URL{
		ID:        r.ID,
		ShortCode: r.ShortCode,
		LongURL:   r.LongURL,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}

	if r.ExpiresAt.Valid {
		expiresAt := r.ExpiresAt.Time
		url.ExpiresAt = &expiresAt
	}

	return url
}

type topURLRecord struct {
	urlRecord
	AccessCount int64 `db:"access_count"`
}

type accessLogRecord struct {
	ID         int64          `db:"id"`
	URLID      int64          `db:"url_id"`
	AccessedAt time.Time      `db:"accessed_at"`
	IPAddress  sql.NullString `db:"ip_address"`
	UserAgent  string         `db:"user_agent"`
	Referer    sql.NullString `db:"referer"`
}

func (r *accessLogRecord) ToAccessLog() models.AccessLog {
	return models.AccessLog{
		ID:         r.ID,
		URLID:      r.URLID,
		AccessedAt: r.AccessedAt,
		IPAddress:  r.IPAddress.String,
		UserAgent:  r.UserAgent,
		Referer:    r.Referer.String,
	}
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

// URLRepository persists URL aggregates and their append-only access logs.
type URLRepository struct {
	db *sqlx.DB
}

func NewURLRepository(db *sqlx.DB) *URLRepository {
	return &URLRepository{
		db: db,
	}
}

func (r *URLRepository) Create(ctx context.Context, shortCode, longURL string, expiresAt *time.Time) (*models.URL, error) {
	const op = "database.postgres.URLRepository.Create"

	rec := new(urlRecord)
	query := `INSERT INTO urls(short_code, long_url, expires_at)
		VALUES ($1, $2, $3)
		RETURNING *`

	err := r.db.GetContext(ctx, rec, query, shortCode, longURL, nullTime(expiresAt))
	if err != nil {
		if isShortCodeViolation(err) {
			return nil, fmt.Errorf("%s: %w", op, database.ErrShortCodeExists)
		}
		if isLongURLViolation(err) {
			return nil, fmt.Errorf("%s: %w", op, database.ErrLongURLExists)
		}

		return nil, fmt.Errorf("%s: failed to create url record: %w", op, err)
	}

	return rec.ToURL(), nil
}

// GetByShortCode returns the URL together with its full access history
// in insertion order.
func (r *URLRepository) GetByShortCode(ctx context.Context, shortCode string) (*models.URL, error) {
	const op = "database.postgres.URLRepository.GetByShortCode"

	rec := new(urlRecord)
	query := `SELECT * FROM urls WHERE short_code = $1`

	err := r.db.GetContext(ctx, rec, query, shortCode)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%s: %w", op, database.ErrURLNotFound)
		}

		return nil, fmt.Errorf("%s: failed to get url record: %w", op, err)
	}

	url := rec.ToURL()
	if err := r.loadAccessLogs(ctx, url); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return url, nil
}

// GetByLongURL returns the URL for the given original long URL together
// with its full access history.
func (r *URLRepository) GetByLongURL(ctx context.Context, longURL string) (*models.URL, error) {
	const op = "database.postgres.URLRepository.GetByLongURL"

	rec := new(urlRecord)
	query := `SELECT * FROM urls WHERE long_url = $1`

	err := r.db.GetContext(ctx, rec, query, longURL)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%s: %w", op, database.ErrURLNotFound)
		}

		return nil, fmt.Errorf("%s: failed to get url record: %w", op, err)
	}

	url := rec.ToURL()
	if err := r.loadAccessLogs(ctx, url); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return url, nil
}

func (r *URLRepository) loadAccessLogs(ctx context.Context, url *models.URL) error {
	var recs []accessLogRecord
	query := `SELECT * FROM access_logs WHERE url_id = $1 ORDER BY id`

	if err := r.db.SelectContext(ctx, &recs, query, url.ID); err != nil {
		return fmt.Errorf("failed to load access logs: %w", err)
	}

	url.AccessLogs = make([]models.AccessLog, 0, len(recs))
	for _, rec := range recs {
		url.AccessLogs = append(url.AccessLogs, rec.ToAccessLog())
	}
	url.AccessCount = int64(len(url.AccessLogs))

	return nil
}

// Update persists the mutable fields of the URL (short code and expiry)
// and bumps updated_at.
func (r *URLRepository) Update(ctx context.Context, url *models.URL) (*models.URL, error) {
	const op = "database.postgres.URLRepository.Update"

	rec := new(urlRecord)
	query := `UPDATE urls
		SET short_code = $1, expires_at = $2, updated_at = now()
		WHERE id = $3
		RETURNING *`

	err := r.db.GetContext(ctx, rec, query, url.ShortCode, nullTime(url.ExpiresAt), url.ID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%s: %w", op, database.ErrURLNotFound)
		}
		if isShortCodeViolation(err) {
			return nil, fmt.Errorf("%s: %w", op, database.ErrShortCodeExists)
		}

		return nil, fmt.Errorf("%s: failed to update url record: %w", op, err)
	}

	updated := rec.ToURL()
	updated.AccessLogs = url.AccessLogs
	updated.AccessCount = url.AccessCount

	return updated, nil
}

// Delete removes the URL; its access logs go with it via the cascading
// foreign key.
func (r *URLRepository) Delete(ctx context.Context, shortCode string) error {
	const op = "database.postgres.URLRepository.Delete"

	query := `DELETE FROM urls WHERE short_code = $1`

	res, err := r.db.ExecContext(ctx, query, shortCode)
	if err != nil {
		return fmt.Errorf("%s: failed to delete url record: %w", op, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: failed to get affected rows: %w", op, err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", op, database.ErrURLNotFound)
	}

	return nil
}

// AddAccessLog appends a visit record to the URL's history.
func (r *URLRepository) AddAccessLog(ctx context.Context, urlID int64, log models.AccessLog) (*models.AccessLog, error) {
	const op = "database.postgres.URLRepository.AddAccessLog"

	rec := new(accessLogRecord)
	query := `INSERT INTO access_logs(url_id, accessed_at, ip_address, user_agent, referer)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING *`

	err := r.db.GetContext(ctx, rec, query,
		urlID, log.AccessedAt, nullString(log.IPAddress), log.UserAgent, nullString(log.Referer))
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create access log record: %w", op, err)
	}

	created := rec.ToAccessLog()

	return &created, nil
}

// TopByAccessCount returns up to n URLs ordered by descending access count.
func (r *URLRepository) TopByAccessCount(ctx context.Context, n int) ([]models.URL, error) {
	const op = "database.postgres.URLRepository.TopByAccessCount"

	var recs []topURLRecord
	query := `SELECT u.*, COUNT(l.id) AS access_count
		FROM urls u
		LEFT JOIN access_logs l ON l.url_id = u.id
		GROUP BY u.id
		ORDER BY access_count DESC
		LIMIT $1`

	if err := r.db.SelectContext(ctx, &recs, query, n); err != nil {
		return nil, fmt.Errorf("%s: failed to get top url records: %w", op, err)
	}

	urls := make([]models.URL, 0, len(recs))
	for _, rec := range recs {
		url := rec.ToURL()
		url.AccessCount = rec.AccessCount
		urls = append(urls, *url)
	}

	return urls, nil
}
