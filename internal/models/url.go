package models

import "time"

// URL represents a shortened URL together with its access history.
type URL struct {
	// ID is the unique identifier for the shortened URL record.
	ID int64
	// ShortCode is the short code associated with the original long URL.
	ShortCode string
	// LongURL is the original, full-length URL that the short code points to.
	LongURL string
	// AccessCount is the number of recorded accesses for the URL.
	AccessCount int64
	// CreatedAt is the timestamp indicating when the shortened URL was created.
	CreatedAt time.Time
	// UpdatedAt is the timestamp indicating when the shortened URL was last updated.
	UpdatedAt time.Time
	// ExpiresAt, when set, marks the moment after which the short code stops resolving.
	ExpiresAt *time.Time
	// AccessLogs is the chronological access history owned by this URL.
	AccessLogs []AccessLog
}

// Resolvable reports whether the URL may still be resolved at the given moment.
// A URL without an expiry never expires; an expiry equal to now counts as expired.
func (u *URL) Resolvable(now time.Time) bool {
	return u.ExpiresAt == nil || u.ExpiresAt.After(now)
}

// AccessLog is a single recorded visit of a shortened URL. Records are
// append-only and exist only as part of their owning URL.
type AccessLog struct {
	ID int64
	// URLID references the owning URL record.
	URLID int64
	// AccessedAt is the timestamp of the visit.
	AccessedAt time.Time
	// IPAddress is the client address, empty when it couldn't be determined.
	IPAddress string
	// UserAgent is the raw User-Agent header, "Unknown" when absent.
	UserAgent string
	// Referer is the referring URL or origin, empty when absent.
	Referer string
}

// Visit carries the raw request facts needed to record an access.
type Visit struct {
	IPAddress string
	Referer   string
	UserAgent string
}

// DeviceInfo is derived from a user agent string and never persisted.
type DeviceInfo struct {
	DeviceType string
	OS         string
	Browser    string
}

// Location is derived from an IP address via the geo resolver and never persisted.
type Location struct {
	Country string
	City    string
	Flag    string
}
