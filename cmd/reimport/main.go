package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/zalexshow/shotgun.live-prometheus-exporter/internal/module/exporter/ticket"
	"github.com/zalexshow/shotgun.live-prometheus-exporter/internal/module/reimport"
	"github.com/zalexshow/shotgun.live-prometheus-exporter/pkg/applogger"
	"github.com/zalexshow/shotgun.live-prometheus-exporter/pkg/sqlite"
)

// reimportConfig is the tool's own slice of the environment. The
// Shotgun API credentials are deliberately not required here, the
// tool only talks to the local store and the metrics backend.
type reimportConfig struct {
	DBPath             string `envconfig:"DB_PATH" default:"/data/shotgun_tickets.db"`
	VictoriaMetricsURL string `envconfig:"VICTORIA_METRICS_URL" default:"http://victoria-metrics:8428"`
}

func main() {
	var (
		list    = flag.Bool("list", false, "list events present in the local store")
		eventID = flag.String("event", "", "event id to re-import")
		all     = flag.Bool("all", false, "re-import every event in the local store")
		dryRun  = flag.Bool("dry-run", false, "print what would be deleted and imported without touching the metrics backend")
		dbPath  = flag.String("db", "", "path to the ticket store (defaults to DB_PATH)")
	)
	flag.Parse()

	if !*list && *eventID == "" && !*all {
		flag.Usage()
		os.Exit(2)
	}

	var c reimportConfig
	if err := envconfig.Process("", &c); err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := applogger.GetLogrus()
	ctx := context.Background()

	path := c.DBPath
	if *dbPath != "" {
		path = *dbPath
	}

	db, err := sqlite.Open(path)
	if err != nil {
		logger.WithContext(ctx).WithError(err).Fatal("could not open the ticket store")
	}
	defer db.Close()

	hc := &http.Client{
		Timeout: 60 * time.Second,
	}

	ticketRepo := ticket.NewTicketRepository(logger, db)
	backend := reimport.NewVictoriaMetricsRepository(c.VictoriaMetricsURL, logger, hc)

	useCase := reimport.NewReimportUseCase(reimport.ReimportUseCaseProperty{
		Logger:           logger,
		TicketRepository: ticketRepo,
		Backend:          backend,
		Out:              os.Stdout,
	})

	switch {
	case *list:
		err = useCase.ListEvents(ctx)
	case *all:
		err = useCase.ReimportAll(ctx, *dryRun)
	default:
		err = useCase.ReimportEvent(ctx, *eventID, *dryRun)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
