// Package geo resolves IP addresses to approximate locations using an
// ipwho.is-compatible HTTP endpoint.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/olegbukatov/shortly/internal/models"
)

const (
	defaultBaseURL = "https://ipwho.is"
	defaultTimeout = 3 * time.Second
)

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// Client looks up locations over HTTP. Lookups never fail loudly: transport
// errors, timeouts and malformed responses all degrade to ok=false.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

type lookupResponse struct {
	Success bool   `json:"success"`
	Country string `json:"country"`
	City    string `json:"city"`
	Flag    struct {
		Emoji string `json:"emoji"`
	} `json:"flag"`
}

// Resolve maps an IP address to a location. It returns ok=false for empty
// addresses and for every kind of lookup failure.
func (c *Client) Resolve(ctx context.Context, ipAddress string) (models.Location, bool) {
	if ipAddress == "" {
		return models.Location{}, false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/%s", c.baseURL, ipAddress), nil)
	if err != nil {
		return models.Location{}, false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.Location{}, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Location{}, false
	}

	var lookup lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&lookup); err != nil {
		return models.Location{}, false
	}
	if !lookup.Success {
		return models.Location{}, false
	}

	return models.Location{
		Country: lookup.Country,
		City:    lookup.City,
		Flag:    lookup.Flag.Emoji,
	}, true
}
