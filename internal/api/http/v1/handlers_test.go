package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gavv/httpexpect/v2"
	"github.com/go-chi/httplog/v2"
	"github.com/olegbukatov/shortly/internal/database"
	"github.com/olegbukatov/shortly/internal/models"
	"github.com/olegbukatov/shortly/internal/stats"
	"github.com/olegbukatov/shortly/pkg/response"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type MockURLService struct {
	mock.Mock
}

func (s *MockURLService) ShortenURL(ctx context.Context, longURL string, expiresAt *time.Time) (*models.URL, error) {
	args := s.Called(ctx, longURL, expiresAt)
	url, _ := args.Get(0).(*models.URL)
	return url, args.Error(1)
}

func (s *MockURLService) ResolveShortCode(ctx context.Context, shortCode string, visit models.Visit) (*models.URL, error) {
	args := s.Called(ctx, shortCode, visit)
	url, _ := args.Get(0).(*models.URL)
	return url, args.Error(1)
}

func (s *MockURLService) RefreshShortCode(ctx context.Context, longURL string, expiresAt *time.Time) (*models.URL, error) {
	args := s.Called(ctx, longURL, expiresAt)
	url, _ := args.Get(0).(*models.URL)
	return url, args.Error(1)
}

func (s *MockURLService) ExpireURL(ctx context.Context, shortCode string, expiresAt time.Time) (*models.URL, error) {
	args := s.Called(ctx, shortCode, expiresAt)
	url, _ := args.Get(0).(*models.URL)
	return url, args.Error(1)
}

func (s *MockURLService) UpdateURL(ctx context.Context, shortCode string, expiresAt time.Time) (*models.URL, error) {
	args := s.Called(ctx, shortCode, expiresAt)
	url, _ := args.Get(0).(*models.URL)
	return url, args.Error(1)
}

func (s *MockURLService) DeactivateURL(ctx context.Context, shortCode string) error {
	args := s.Called(ctx, shortCode)
	return args.Error(0)
}

func (s *MockURLService) GetURLStats(ctx context.Context, shortCode string) (*stats.Report, error) {
	args := s.Called(ctx, shortCode)
	report, _ := args.Get(0).(*stats.Report)
	return report, args.Error(1)
}

func (s *MockURLService) TopURLs(ctx context.Context, n int) ([]models.URL, error) {
	args := s.Called(ctx, n)
	urls, _ := args.Get(0).([]models.URL)
	return urls, args.Error(1)
}

type HandlersTestSuite struct {
	suite.Suite
	logger     *httplog.Logger
	urlSvcMock *MockURLService
	server     *httptest.Server
	e          *httpexpect.Expect
}

func (suite *HandlersTestSuite) SetupSuite() {
	suite.logger = httplog.NewLogger("", httplog.Options{Writer: io.Discard})
}

func (suite *HandlersTestSuite) SetupSubTest() {
	suite.urlSvcMock = new(MockURLService)
	router := NewRouter(suite.logger, suite.urlSvcMock)
	suite.server = httptest.NewServer(router)
	suite.e = httpexpect.Default(suite.T(), suite.server.URL)
}

func (suite *HandlersTestSuite) TearDownSubTest() {
	suite.urlSvcMock.AssertExpectations(suite.T())
	suite.server.Close()
}

func (suite *HandlersTestSuite) TestPing() {
	const path = "/api/v1/ping"

	suite.Run("success", func() {
		suite.e.GET(path).
			Expect().
			Status(http.StatusOK).
			Text().IsEqual("pong\n")
	})
}

func (suite *HandlersTestSuite) TestShortenURL() {
	const path = "/api/v1/shorten"

	suite.Run("empty request body", func() {
		suite.e.POST(path).
			Expect().
			Status(http.StatusBadRequest).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusError).
			HasValue("message", response.EmptyRequestBodyResponse.Message)
	})

	suite.Run("invalid request body", func() {
		suite.e.POST(path).
			WithJSON("invalid body").
			Expect().
			Status(http.StatusBadRequest).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusError).
			HasValue("message", response.BadRequestResponse.Message)
	})

	suite.Run("validation error", func() {
		suite.e.POST(path).
			WithJSON(map[string]string{
				"url": "invalid url",
			}).
			Expect().
			Status(http.StatusBadRequest).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusError).
			ContainsKey("message").
			ContainsKey("details")
	})

	suite.Run("long url conflict", func() {
		suite.urlSvcMock.
			On("ShortenURL", mock.Anything, "https://example.com", (*time.Time)(nil)).
			Times(1).
			Return(nil, database.ErrLongURLExists)

		suite.e.POST(path).
			WithJSON(map[string]string{
				"url": "https://example.com",
			}).
			Expect().
			Status(http.StatusConflict).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusError).
			HasValue("message", response.ResourceConflictResponse.Message)

		suite.urlSvcMock.AssertNumberOfCalls(suite.T(), "ShortenURL", 1)
	})

	suite.Run("server error", func() {
		suite.urlSvcMock.
			On("ShortenURL", mock.Anything, "https://example.com", (*time.Time)(nil)).
			Times(1).
			Return(nil, errors.New("unknown error"))

		suite.e.POST(path).
			WithJSON(map[string]string{
				"url": "https://example.com",
			}).
			Expect().
			Status(http.StatusInternalServerError).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusError).
			HasValue("message", response.ServerErrorResponse.Message)

		suite.urlSvcMock.AssertNumberOfCalls(suite.T(), "ShortenURL", 1)
	})

	suite.Run("success", func() {
		suite.urlSvcMock.
			On("ShortenURL", mock.Anything, "https://example.com", (*time.Time)(nil)).
			Times(1).
			Return(&models.URL{
				ShortCode: "abc12345",
				LongURL:   "https://example.com",
			}, nil)

		suite.e.POST(path).
			WithJSON(map[string]string{
				"url": "https://example.com",
			}).
			Expect().
			Status(http.StatusCreated).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusSuccess).
			ContainsKey("message").
			Value("data").Object().
			HasValue("short_code", "abc12345").
			HasValue("url", "https://example.com")

		suite.urlSvcMock.AssertNumberOfCalls(suite.T(), "ShortenURL", 1)
	})
}

func (suite *HandlersTestSuite) TestResolveShortCode() {
	const path = "/api/v1/shorten/%s"

	suite.Run("not found", func() {
		suite.urlSvcMock.
			On("ResolveShortCode", mock.Anything, "abc12345", mock.Anything).
			Times(1).
			Return(nil, database.ErrURLNotFound)

		suite.e.GET(fmt.Sprintf(path, "abc12345")).
			Expect().
			Status(http.StatusNotFound).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusError).
			HasValue("message", response.ResourceNotFoundResponse.Message)

		suite.urlSvcMock.AssertNumberOfCalls(suite.T(), "ResolveShortCode", 1)
	})

	suite.Run("server error", func() {
		suite.urlSvcMock.
			On("ResolveShortCode", mock.Anything, "abc12345", mock.Anything).
			Times(1).
			Return(nil, errors.New("unknown error"))

		suite.e.GET(fmt.Sprintf(path, "abc12345")).
			Expect().
			Status(http.StatusInternalServerError).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusError).
			HasValue("message", response.ServerErrorResponse.Message)

		suite.urlSvcMock.AssertNumberOfCalls(suite.T(), "ResolveShortCode", 1)
	})

	suite.Run("visit derived from request headers", func() {
		wantVisit := models.Visit{
			IPAddress: "9.9.9.9",
			Referer:   "https://example.org/page",
			UserAgent: "test-agent",
		}

		suite.urlSvcMock.
			On("ResolveShortCode", mock.Anything, "abc12345", wantVisit).
			Times(1).
			Return(&models.URL{
				ShortCode: "abc12345",
				LongURL:   "https://example.com",
			}, nil)

		suite.e.GET(fmt.Sprintf(path, "abc12345")).
			WithHeader("X-Forwarded-For", "9.9.9.9, 10.0.0.1").
			WithHeader("Referer", "https://example.org/page").
			WithHeader("User-Agent", "test-agent").
			Expect().
			Status(http.StatusOK).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusSuccess).
			ContainsKey("message").
			Value("data").Object().
			HasValue("short_code", "abc12345").
			HasValue("url", "https://example.com").
			NotContainsKey("access_count")

		suite.urlSvcMock.AssertNumberOfCalls(suite.T(), "ResolveShortCode", 1)
	})

	suite.Run("origin header used when referer absent", func() {
		suite.urlSvcMock.
			On("ResolveShortCode", mock.Anything, "abc12345", mock.MatchedBy(func(visit models.Visit) bool {
				return visit.Referer == "https://example.org"
			})).
			Times(1).
			Return(&models.URL{ShortCode: "abc12345", LongURL: "https://example.com"}, nil)

		suite.e.GET(fmt.Sprintf(path, "abc12345")).
			WithHeader("Origin", "https://example.org").
			Expect().
			Status(http.StatusOK)

		suite.urlSvcMock.AssertNumberOfCalls(suite.T(), "ResolveShortCode", 1)
	})
}

func (suite *HandlersTestSuite) TestRefreshShortCode() {
	const path = "/api/v1/shorten"

	suite.Run("empty request body", func() {
		suite.e.PUT(path).
			Expect().
			Status(http.StatusBadRequest).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusError).
			HasValue("message", response.EmptyRequestBodyResponse.Message)
	})

	suite.Run("not found", func() {
		suite.urlSvcMock.
			On("RefreshShortCode", mock.Anything, "https://example.com", (*time.Time)(nil)).
			Times(1).
			Return(nil, database.ErrURLNotFound)

		suite.e.PUT(path).
			WithJSON(map[string]string{
				"url": "https://example.com",
			}).
			Expect().
			Status(http.StatusNotFound).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusError).
			HasValue("message", response.ResourceNotFoundResponse.Message)

		suite.urlSvcMock.AssertNumberOfCalls(suite.T(), "RefreshShortCode", 1)
	})

	suite.Run("success", func() {
		suite.urlSvcMock.
			On("RefreshShortCode", mock.Anything, "https://example.com", (*time.Time)(nil)).
			Times(1).
			Return(&models.URL{
				ShortCode: "new12345",
				LongURL:   "https://example.com",
			}, nil)

		suite.e.PUT(path).
			WithJSON(map[string]string{
				"url": "https://example.com",
			}).
			Expect().
			Status(http.StatusOK).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusSuccess).
			ContainsKey("message").
			Value("data").Object().
			HasValue("short_code", "new12345")

		suite.urlSvcMock.AssertNumberOfCalls(suite.T(), "RefreshShortCode", 1)
	})
}

func (suite *HandlersTestSuite) TestExpireURL() {
	const path = "/api/v1/shorten/expire"

	expiresAt := time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC)

	suite.Run("validation error", func() {
		suite.e.PUT(path).
			WithJSON(map[string]string{
				"short_code": "too-long-code",
			}).
			Expect().
			Status(http.StatusBadRequest).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusError).
			ContainsKey("details")
	})

	suite.Run("not found", func() {
		suite.urlSvcMock.
			On("ExpireURL", mock.Anything, "abc12345", expiresAt).
			Times(1).
			Return(nil, database.ErrURLNotFound)

		suite.e.PUT(path).
			WithJSON(map[string]any{
				"short_code": "abc12345",
				"expires_at": expiresAt,
			}).
			Expect().
			Status(http.StatusNotFound).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusError).
			HasValue("message", response.ResourceNotFoundResponse.Message)

		suite.urlSvcMock.AssertNumberOfCalls(suite.T(), "ExpireURL", 1)
	})

	suite.Run("success", func() {
		suite.urlSvcMock.
			On("ExpireURL", mock.Anything, "abc12345", expiresAt).
			Times(1).
			Return(&models.URL{
				ShortCode: "abc12345",
				LongURL:   "https://example.com",
				ExpiresAt: &expiresAt,
			}, nil)

		suite.e.PUT(path).
			WithJSON(map[string]any{
				"short_code": "abc12345",
				"expires_at": expiresAt,
			}).
			Expect().
			Status(http.StatusOK).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusSuccess).
			ContainsKey("message").
			Value("data").Object().
			HasValue("short_code", "abc12345").
			ContainsKey("expires_at")

		suite.urlSvcMock.AssertNumberOfCalls(suite.T(), "ExpireURL", 1)
	})
}

func (suite *HandlersTestSuite) TestUpdateURL() {
	const path = "/api/v1/shorten/update"

	expiresAt := time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC)

	suite.Run("validation error", func() {
		suite.e.PUT(path).
			WithJSON(map[string]any{
				"short_code": "abc12345",
			}).
			Expect().
			Status(http.StatusBadRequest).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusError).
			ContainsKey("details")
	})

	suite.Run("success", func() {
		suite.urlSvcMock.
			On("UpdateURL", mock.Anything, "abc12345", expiresAt).
			Times(1).
			Return(&models.URL{
				ShortCode: "new12345",
				LongURL:   "https://example.com",
				ExpiresAt: &expiresAt,
			}, nil)

		suite.e.PUT(path).
			WithJSON(map[string]any{
				"short_code": "abc12345",
				"expires_at": expiresAt,
			}).
			Expect().
			Status(http.StatusOK).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusSuccess).
			ContainsKey("message").
			Value("data").Object().
			HasValue("short_code", "new12345")

		suite.urlSvcMock.AssertNumberOfCalls(suite.T(), "UpdateURL", 1)
	})
}

func (suite *HandlersTestSuite) TestDeactivateURL() {
	const path = "/api/v1/shorten/%s"

	suite.Run("not found", func() {
		suite.urlSvcMock.
			On("DeactivateURL", mock.Anything, "abc12345").
			Times(1).
			Return(database.ErrURLNotFound)

		suite.e.DELETE(fmt.Sprintf(path, "abc12345")).
			Expect().
			Status(http.StatusNotFound).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusError).
			HasValue("message", response.ResourceNotFoundResponse.Message)

		suite.urlSvcMock.AssertNumberOfCalls(suite.T(), "DeactivateURL", 1)
	})

	suite.Run("success", func() {
		suite.urlSvcMock.
			On("DeactivateURL", mock.Anything, "abc12345").
			Times(1).
			Return(nil)

		suite.e.DELETE(fmt.Sprintf(path, "abc12345")).
			Expect().
			Status(http.StatusOK).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusSuccess).
			ContainsKey("message")

		suite.urlSvcMock.AssertNumberOfCalls(suite.T(), "DeactivateURL", 1)
	})
}

func (suite *HandlersTestSuite) TestGetURLStats() {
	const path = "/api/v1/shorten/%s/stats"

	suite.Run("not found", func() {
		suite.urlSvcMock.
			On("GetURLStats", mock.Anything, "abc12345").
			Times(1).
			Return(nil, database.ErrURLNotFound)

		suite.e.GET(fmt.Sprintf(path, "abc12345")).
			Expect().
			Status(http.StatusNotFound).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusError).
			HasValue("message", response.ResourceNotFoundResponse.Message)

		suite.urlSvcMock.AssertNumberOfCalls(suite.T(), "GetURLStats", 1)
	})

	suite.Run("success", func() {
		lastAccessed := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

		suite.urlSvcMock.
			On("GetURLStats", mock.Anything, "abc12345").
			Times(1).
			Return(&stats.Report{
				ID:               1,
				LongURL:          "https://example.com",
				ShortCode:        "abc12345",
				TotalAccessCount: 3,
				LastAccessed:     &lastAccessed,
				UniqueIPCount:    2,
				LastAccessDevice: &models.DeviceInfo{DeviceType: "Desktop", OS: "Windows", Browser: "Chrome"},
				LocationStats: []stats.LocationCount{
					{Country: "Australia", City: "Sydney", Flag: "🇦🇺", Count: 2},
					{Country: "Unknown", Count: 1},
				},
				ReferrerStats: []stats.GroupCount{{Key: "example.org", Count: 2}},
				OSStats:       []stats.GroupCount{{Key: "Windows", Count: 3}},
				DeviceStats:   []stats.GroupCount{{Key: "Desktop", Count: 3}},
				BrowserStats:  []stats.GroupCount{{Key: "Chrome", Count: 3}},
			}, nil)

		data := suite.e.GET(fmt.Sprintf(path, "abc12345")).
			Expect().
			Status(http.StatusOK).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusSuccess).
			Value("data").Object()

		data.
			HasValue("shortCode", "abc12345").
			HasValue("url", "https://example.com").
			HasValue("totalAccessCount", 3).
			HasValue("uniqueIPCount", 2)
		data.Value("lastAccessDevice").Object().
			HasValue("deviceType", "Desktop").
			HasValue("os", "Windows").
			HasValue("browser", "Chrome")
		data.Value("osStats").Array().Value(0).Object().
			HasValue("key", "Windows").
			HasValue("count", 3)
		data.Value("locationStats").Array().Value(1).Object().
			HasValue("country", "Unknown").
			HasValue("count", 1).
			NotContainsKey("city")

		suite.urlSvcMock.AssertNumberOfCalls(suite.T(), "GetURLStats", 1)
	})
}

func (suite *HandlersTestSuite) TestTopURLs() {
	const path = "/api/v1/shorten/top"

	suite.Run("invalid limit", func() {
		suite.e.GET(path).
			WithQuery("limit", "abc").
			Expect().
			Status(http.StatusBadRequest).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusError).
			HasValue("message", response.BadRequestResponse.Message)
	})

	suite.Run("default limit", func() {
		suite.urlSvcMock.
			On("TopURLs", mock.Anything, 5).
			Times(1).
			Return([]models.URL{
				{ShortCode: "abc12345", LongURL: "https://example.com", AccessCount: 3},
				{ShortCode: "def12345", LongURL: "https://example.org", AccessCount: 1},
			}, nil)

		suite.e.GET(path).
			Expect().
			Status(http.StatusOK).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusSuccess).
			Value("data").Array().
			Length().IsEqual(2)

		suite.urlSvcMock.AssertNumberOfCalls(suite.T(), "TopURLs", 1)
	})

	suite.Run("explicit limit", func() {
		suite.urlSvcMock.
			On("TopURLs", mock.Anything, 3).
			Times(1).
			Return([]models.URL{}, nil)

		suite.e.GET(path).
			WithQuery("limit", 3).
			Expect().
			Status(http.StatusOK).
			HasContentType("application/json").
			JSON().Object().
			HasValue("status", response.StatusSuccess)

		suite.urlSvcMock.AssertNumberOfCalls(suite.T(), "TopURLs", 1)
	})
}

func TestHandlers(t *testing.T) {
	suite.Run(t, new(HandlersTestSuite))
}
