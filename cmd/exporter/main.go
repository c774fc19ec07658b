package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/zalexshow/shotgun.live-prometheus-exporter/config"
	"github.com/zalexshow/shotgun.live-prometheus-exporter/internal/module/exporter/collector"
	"github.com/zalexshow/shotgun.live-prometheus-exporter/internal/module/exporter/shotgun"
	"github.com/zalexshow/shotgun.live-prometheus-exporter/internal/module/exporter/ticket"
	"github.com/zalexshow/shotgun.live-prometheus-exporter/internal/pkg/metrics"
	"github.com/zalexshow/shotgun.live-prometheus-exporter/pkg/applogger"
	"github.com/zalexshow/shotgun.live-prometheus-exporter/pkg/middleware"
	"github.com/zalexshow/shotgun.live-prometheus-exporter/pkg/monitoring"
	"github.com/zalexshow/shotgun.live-prometheus-exporter/pkg/server"
	"github.com/zalexshow/shotgun.live-prometheus-exporter/pkg/sqlite"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
)

var c *config.Config

func init() {
	c = config.Get()
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := applogger.GetLogrus()

	mon := monitoring.NewOpenTelemetry(
		c.Application.Name,
		c.Application.Environment,
		c.Monitoring.OTLPEndpoint,
		logger,
	)

	mon.Start(ctx)

	hc := &http.Client{
		Timeout: c.Application.Timeout,
	}

	db, err := sqlite.GetDatabase()
	if err != nil {
		logger.WithContext(ctx).WithError(err).Fatal("could not open the ticket store")
	}
	if err := sqlite.Bootstrap(db); err != nil {
		logger.WithContext(ctx).WithError(err).Fatal("could not bootstrap the ticket store")
	}

	registry := metrics.NewRegistry()

	shotgunRepo := shotgun.NewShotgunRepository(shotgun.ShotgunRepositoryProperty{
		BaseURL:               c.Shotgun.BaseURL,
		APIKey:                c.Shotgun.APIKey,
		OrganizerID:           c.Shotgun.OrganizerID,
		IncludeCohostedEvents: c.Shotgun.IncludeCohostedEvents,
		Logger:                logger,
		Registry:              registry,
		HTTPClient:            hc,
	})
	ticketRepo := ticket.NewTicketRepository(logger, db)
	statusChangeRepo := ticket.NewStatusChangeRepository(logger, db)
	stateRepo := ticket.NewStateRepository(logger, db)

	collectorUseCase := collector.NewCollectorUseCase(collector.CollectorUseCaseProperty{
		Logger:                 logger,
		Registry:               registry,
		ShotgunRepository:      shotgunRepo,
		TicketRepository:       ticketRepo,
		StatusChangeRepository: statusChangeRepo,
		StateRepository:        stateRepo,
		ScrapeInterval:         c.Scrape.Interval,
		FullScanInterval:       c.Scrape.FullScanInterval,
		EventsFetchInterval:    c.Scrape.EventsFetchInterval,
	})

	if err := collectorUseCase.RestoreCounters(ctx); err != nil {
		logger.WithContext(ctx).WithError(err).Fatal("could not restore counters from the ticket store")
	}

	router := mux.NewRouter()
	router.Use(
		otelmux.Middleware(c.Application.Name),
		middleware.HTTPResponseTraceInjection,
		middleware.NewHTTPRequestLogger(logger, c.Application.Debug, http.StatusInternalServerError).Middleware,
	)

	router.Handle("/metrics", registry.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	}).Methods(http.MethodGet)

	handler := middleware.SetChain(
		router,
		cors.New(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet},
		}).Handler,
	)

	srv := &server.Server{
		Server: http.Server{
			Addr:    fmt.Sprintf(":%d", c.Application.Port),
			Handler: handler,
		},
		Logger: logger,
	}

	go func() {
		srv.ListenAndServe()
	}()

	go collectorUseCase.Run(ctx)

	sigterm := make(chan os.Signal, 1)
	signal.Notify(sigterm, syscall.SIGINT, syscall.SIGTERM)
	<-sigterm

	cancel()

	srv.Shutdown(context.Background())
	db.Close()
	mon.Stop(context.Background())
}
