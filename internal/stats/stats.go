// Package stats turns a URL's access history into an aggregated
// analytics report.
package stats

import (
	"context"
	"net/url"
	"sort"
	"time"

	"github.com/olegbukatov/shortly/internal/models"
	"golang.org/x/sync/errgroup"
)

// UnknownCountry is reported for location groups whose IP couldn't be resolved.
const UnknownCountry = "Unknown"

const defaultLookupLimit = 8

// Classifier derives device information from a raw user agent string.
type Classifier interface {
	Classify(userAgent string) models.DeviceInfo
}

// Resolver maps an IP address to a location. ok=false means the address
// couldn't be resolved; the aggregator never treats that as a failure.
type Resolver interface {
	Resolve(ctx context.Context, ipAddress string) (models.Location, bool)
}

// GroupCount is one entry of a grouped breakdown.
type GroupCount struct {
	Key   string
	Count int
}

// LocationCount is one entry of the location breakdown. City and Flag are
// empty for unresolved groups.
type LocationCount struct {
	Country string
	City    string
	Flag    string
	Count   int
}

// Report bundles all analytics computed over a URL's access history.
type Report struct {
	ID               int64
	LongURL          string
	ShortCode        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	TotalAccessCount int
	LastAccessed     *time.Time
	UniqueIPCount    int
	LastAccessDevice *models.DeviceInfo
	LocationStats    []LocationCount
	ReferrerStats    []GroupCount
	OSStats          []GroupCount
	DeviceStats      []GroupCount
	BrowserStats     []GroupCount
}

type Option func(*Aggregator)

// WithLookupLimit bounds the number of concurrent geo lookups per report.
func WithLookupLimit(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.lookupLimit = n
		}
	}
}

// Aggregator computes reports. Aggregation is deterministic for a given
// history aside from live geo variance, and has no persistence side effects.
type Aggregator struct {
	classifier  Classifier
	resolver    Resolver
	lookupLimit int
}

func NewAggregator(classifier Classifier, resolver Resolver, opts ...Option) *Aggregator {
	a := &Aggregator{
		classifier:  classifier,
		resolver:    resolver,
		lookupLimit: defaultLookupLimit,
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Build computes the report over the URL's already-loaded access history.
func (a *Aggregator) Build(ctx context.Context, u *models.URL) *Report {
	logs := u.AccessLogs

	report := &Report{
		ID:               u.ID,
		LongURL:          u.LongURL,
		ShortCode:        u.ShortCode,
		CreatedAt:        u.CreatedAt,
		UpdatedAt:        u.UpdatedAt,
		TotalAccessCount: len(logs),
		UniqueIPCount:    countUniqueIPs(logs),
		LocationStats:    a.groupLocations(ctx, logs),
		ReferrerStats:    groupBy(logs, refererHost),
	}

	if last := lastAccess(logs); last != nil {
		report.LastAccessed = &last.AccessedAt
		info := a.classifier.Classify(last.UserAgent)
		report.LastAccessDevice = &info
	}

	// Many log entries share identical user agent strings, so classification
	// is memoized for the duration of one report.
	classify := a.memoizedClassify()
	report.OSStats = groupBy(logs, func(log models.AccessLog) string {
		return classify(log.UserAgent).OS
	})
	report.DeviceStats = groupBy(logs, func(log models.AccessLog) string {
		return classify(log.UserAgent).DeviceType
	})
	report.BrowserStats = groupBy(logs, func(log models.AccessLog) string {
		return classify(log.UserAgent).Browser
	})

	return report
}

// lastAccess returns the entry with the maximum accessed-at timestamp,
// preferring the later entry in sequence order on ties.
func lastAccess(logs []models.AccessLog) *models.AccessLog {
	var last *models.AccessLog
	for i := range logs {
		if last == nil || !logs[i].AccessedAt.Before(last.AccessedAt) {
			last = &logs[i]
		}
	}
	return last
}

func countUniqueIPs(logs []models.AccessLog) int {
	ips := make(map[string]struct{})
	for _, log := range logs {
		if log.IPAddress != "" {
			ips[log.IPAddress] = struct{}{}
		}
	}
	return len(ips)
}

func refererHost(log models.AccessLog) string {
	if log.Referer == "" {
		return ""
	}

	u, err := url.Parse(log.Referer)
	if err != nil {
		return ""
	}

	return u.Host
}

// groupBy partitions the entries with a non-empty key, counts occurrences
// per key and orders groups by descending count. Equal counts keep
// first-seen order.
func groupBy(logs []models.AccessLog, key func(models.AccessLog) string) []GroupCount {
	counts := make(map[string]int)
	var order []string

	for _, log := range logs {
		k := key(log)
		if k == "" {
			continue
		}
		if _, seen := counts[k]; !seen {
			order = append(order, k)
		}
		counts[k]++
	}

	groups := make([]GroupCount, 0, len(order))
	for _, k := range order {
		groups = append(groups, GroupCount{Key: k, Count: counts[k]})
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Count > groups[j].Count
	})

	return groups
}

// groupLocations groups entries by IP address and resolves each distinct
// address once, in parallel. Groups that can't be resolved fall into the
// "Unknown" country bucket; the breakdown is complete before returning.
func (a *Aggregator) groupLocations(ctx context.Context, logs []models.AccessLog) []LocationCount {
	groups := groupBy(logs, func(log models.AccessLog) string {
		return log.IPAddress
	})

	locations := make([]LocationCount, len(groups))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.lookupLimit)

	for i, group := range groups {
		i, group := i, group
		g.Go(func() error {
			location, ok := a.resolver.Resolve(ctx, group.Key)
			if !ok {
				locations[i] = LocationCount{
					Country: UnknownCountry,
					Count:   group.Count,
				}
				return nil
			}

			locations[i] = LocationCount{
				Country: location.Country,
				City:    location.City,
				Flag:    location.Flag,
				Count:   group.Count,
			}
			return nil
		})
	}

	// Resolve never returns an error, so Wait only synchronizes.
	_ = g.Wait()

	return locations
}

// memoizedClassify caches classification by raw user agent string for the
// duration of one report build. The cache is not shared across goroutines.
func (a *Aggregator) memoizedClassify() func(string) models.DeviceInfo {
	cache := make(map[string]models.DeviceInfo)

	return func(userAgent string) models.DeviceInfo {
		if info, ok := cache[userAgent]; ok {
			return info
		}
		info := a.classifier.Classify(userAgent)
		cache[userAgent] = info
		return info
	}
}
