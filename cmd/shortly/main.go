package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"

	"github.com/go-chi/httplog/v2"
	"github.com/olegbukatov/shortly/internal/config"
	"github.com/olegbukatov/shortly/internal/database/postgres"
	"github.com/olegbukatov/shortly/internal/device"
	"github.com/olegbukatov/shortly/internal/geo"
	"github.com/olegbukatov/shortly/internal/service"
	"github.com/olegbukatov/shortly/internal/stats"
	"golang.org/x/sync/errgroup"

	myhttp "github.com/olegbukatov/shortly/internal/api/http/v1"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx); err != nil {
		panic(err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	db, err := postgres.New(
		ctx,
		cfg.Postgres.DSN(),
		postgres.WithConnMaxIdleTime(cfg.Postgres.ConnMaxIdleTime),
		postgres.WithConnMaxLifetime(cfg.Postgres.ConnMaxLifetime),
		postgres.WithMaxIdleConns(cfg.Postgres.MaxIdleConns),
		postgres.WithMaxOpenConns(cfg.Postgres.MaxOpenConns),
	)
	if err != nil {
		return err
	}
	g.Go(func() error {
		<-ctx.Done()
		return db.Close()
	})

	if err := postgres.RunMigrations("file://migrations", cfg.Postgres.DSN()); err != nil {
		return err
	}

	urlRepo := postgres.NewURLRepository(db)

	geoClient := geo.NewClient(
		geo.WithBaseURL(cfg.Geo.BaseURL),
		geo.WithTimeout(cfg.Geo.Timeout),
	)
	aggregator := stats.NewAggregator(
		device.NewClassifier(),
		geoClient,
		stats.WithLookupLimit(cfg.Geo.LookupLimit),
	)

	urlSvc := service.NewURLService(urlRepo, aggregator, cfg.ShortCodeLength)

	r := myhttp.NewRouter(httplog.NewLogger("shortly"), urlSvc)

	server := &http.Server{
		Addr:           cfg.HTTPServer.Addr(),
		Handler:        r,
		ReadTimeout:    cfg.HTTPServer.ReadTimeout,
		WriteTimeout:   cfg.HTTPServer.WriteTimeout,
		IdleTimeout:    cfg.HTTPServer.IdleTimeout,
		MaxHeaderBytes: cfg.HTTPServer.MaxHeaderBytes,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g.Go(func() error {
		var err error

		switch cfg.Env {
		case config.EnvProd:
			err = server.ListenAndServeTLS(cfg.HTTPServer.CertFile, cfg.HTTPServer.KeyFile)
		default:
			err = server.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		return server.Shutdown(context.Background())
	})

	return g.Wait()
}
