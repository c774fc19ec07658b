package reimport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/zalexshow/shotgun.live-prometheus-exporter/internal/module/exporter/ticket"
	"github.com/zalexshow/shotgun.live-prometheus-exporter/internal/pkg/metrics"
	"github.com/zalexshow/shotgun.live-prometheus-exporter/pkg/errors"
	"github.com/zalexshow/shotgun.live-prometheus-exporter/pkg/status"
)

const dryRunSampleLimit = 10

type ReimportUseCase interface {
	ListEvents(ctx context.Context) error
	ReimportEvent(ctx context.Context, eventID string, dryRun bool) error
	ReimportAll(ctx context.Context, dryRun bool) error
}

type reimportUseCase struct {
	logger           *logrus.Logger
	ticketRepository ticket.TicketRepository
	backend          MetricsBackendRepository
	out              io.Writer
}

type ReimportUseCaseProperty struct {
	Logger           *logrus.Logger
	TicketRepository ticket.TicketRepository
	Backend          MetricsBackendRepository
	Out              io.Writer
}

func NewReimportUseCase(property ReimportUseCaseProperty) ReimportUseCase {
	return &reimportUseCase{
		logger:           property.Logger,
		ticketRepository: property.TicketRepository,
		backend:          property.Backend,
		out:              property.Out,
	}
}

// ListEvents implements ReimportUseCase.
func (u *reimportUseCase) ListEvents(ctx context.Context) error {
	aggregates, err := u.ticketRepository.AggregateEvents(ctx)
	if err != nil {
		return err
	}

	if len(aggregates) == 0 {
		fmt.Fprintln(u.out, "no events found in the local store")
		return nil
	}

	fmt.Fprintf(u.out, "%-16s %-48s %s\n", "EVENT ID", "EVENT NAME", "TICKETS")
	for _, a := range aggregates {
		fmt.Fprintf(u.out, "%-16s %-48s %d\n", a.EventID, a.EventName, a.TicketCount)
	}

	return nil
}

// ReimportEvent implements ReimportUseCase. It deletes every stored
// series for the event, then replays samples derived from the local
// store with their original timestamps.
func (u *reimportUseCase) ReimportEvent(ctx context.Context, eventID string, dryRun bool) error {
	tickets, err := u.ticketRepository.FindManyByEventID(ctx, eventID, nil)
	if err != nil {
		return err
	}

	if len(tickets) == 0 {
		return errors.New(http.StatusNotFound, status.NOT_FOUND, fmt.Sprintf("no tickets found for event '%s'", eventID))
	}

	eventName := tickets[0].EventName
	fmt.Fprintf(u.out, "re-importing %d tickets for event %s (%s)\n", len(tickets), eventID, eventName)

	matchers := seriesMatchers(eventID)
	if dryRun {
		fmt.Fprintln(u.out, "[dry run] would delete series:")
		for _, m := range matchers {
			fmt.Fprintf(u.out, "  %s\n", m)
		}
	} else {
		for _, m := range matchers {
			if err := u.backend.DeleteSeries(ctx, m); err != nil {
				return err
			}
		}
	}

	samples := u.deriveSamples(ctx, tickets)
	if len(samples) == 0 {
		fmt.Fprintln(u.out, "no samples to import")
		return errors.New(http.StatusUnprocessableEntity, status.UNPROCESSABLE_ENTITY, fmt.Sprintf("no usable samples could be derived for event '%s'", eventID))
	}

	lines := make([]string, 0, len(samples))
	for _, s := range samples {
		lines = append(lines, s.Line())
	}

	if dryRun {
		fmt.Fprintf(u.out, "[dry run] would import %d samples:\n", len(lines))
		for i, line := range lines {
			if i == dryRunSampleLimit {
				fmt.Fprintf(u.out, "  ... and %d more\n", len(lines)-dryRunSampleLimit)
				break
			}
			fmt.Fprintf(u.out, "  %s\n", line)
		}
		return nil
	}

	if err := u.backend.ImportSamples(ctx, lines); err != nil {
		return err
	}

	fmt.Fprintf(u.out, "imported %d samples for event %s\n", len(lines), eventID)

	return nil
}

// ReimportAll implements ReimportUseCase.
func (u *reimportUseCase) ReimportAll(ctx context.Context, dryRun bool) error {
	aggregates, err := u.ticketRepository.AggregateEvents(ctx)
	if err != nil {
		return err
	}

	if len(aggregates) == 0 {
		fmt.Fprintln(u.out, "no events found in the local store")
		return nil
	}

	var failed int
	for _, a := range aggregates {
		if err := u.ReimportEvent(ctx, a.EventID, dryRun); err != nil {
			u.logger.WithContext(ctx).WithError(err).WithField("event_id", a.EventID).Error("re-import failed for event")
			failed++
		}
	}

	fmt.Fprintf(u.out, "processed %d events, %d failed\n", len(aggregates), failed)

	if failed > 0 {
		return errors.New(http.StatusInternalServerError, status.INTERNAL_SERVER_ERROR, fmt.Sprintf("%d of %d events failed to re-import", failed, len(aggregates)))
	}

	return nil
}

// rawTimestamps carries the order lifecycle timestamps that only live
// inside the persisted payload, not in dedicated columns.
type rawTimestamps struct {
	OrderedAt   string `json:"ordered_at"`
	CancelledAt string `json:"cancelled_at"`
}

// deriveSamples rebuilds the counter increments each stored ticket
// contributed, stamped at the time the underlying action happened.
// A ticket without a usable ordered_at is skipped entirely.
func (u *reimportUseCase) deriveSamples(ctx context.Context, tickets []ticket.Ticket) []Sample {
	var samples []Sample

	for _, t := range tickets {
		var ts rawTimestamps
		if len(t.RawPayload) > 0 {
			if err := json.Unmarshal(t.RawPayload, &ts); err != nil {
				u.logger.WithContext(ctx).WithError(err).WithField("ticket_id", t.ID).Warn("could not decode stored ticket payload, skipping")
				continue
			}
		}

		if ts.OrderedAt == "" {
			u.logger.WithContext(ctx).WithField("ticket_id", t.ID).Warn("ticket has no ordered_at timestamp, skipping")
			continue
		}

		orderedMs, err := parseTimestampMs(ts.OrderedAt)
		if err != nil {
			u.logger.WithContext(ctx).WithError(err).WithField("ticket_id", t.ID).Warn("ticket has a malformed ordered_at timestamp, skipping")
			continue
		}

		titleLabels := []Label{
			{Name: "event_id", Value: t.EventID},
			{Name: "event_name", Value: t.EventName},
			{Name: "ticket_title", Value: t.Title},
		}

		switch {
		case t.Status == ticket.StatusValid:
			samples = append(samples,
				Sample{Metric: metrics.MetricTicketsSold, Labels: titleLabels, Value: 1, TimestampMs: orderedMs},
				Sample{Metric: metrics.MetricTicketsRevenue, Labels: titleLabels, Value: t.Price, TimestampMs: orderedMs},
				Sample{
					Metric: metrics.MetricTicketsByChannel,
					Labels: []Label{
						{Name: "event_id", Value: t.EventID},
						{Name: "event_name", Value: t.EventName},
						{Name: "channel", Value: t.Channel},
					},
					Value:       1,
					TimestampMs: orderedMs,
				},
			)
		case ticket.IsRefund(t.Status):
			// ordered_at stands in only when cancelled_at is absent; a
			// malformed cancelled_at drops the refund line.
			refundMs := orderedMs
			if ts.CancelledAt != "" {
				ms, err := parseTimestampMs(ts.CancelledAt)
				if err != nil {
					u.logger.WithContext(ctx).WithError(err).WithField("ticket_id", t.ID).Warn("ticket has a malformed cancelled_at timestamp, skipping refund sample")
					break
				}
				refundMs = ms
			}
			samples = append(samples, Sample{Metric: metrics.MetricTicketsRefunded, Labels: titleLabels, Value: 1, TimestampMs: refundMs})
		}

		if t.RedeemedAt != nil {
			scanMs, err := parseTimestampMs(*t.RedeemedAt)
			if err != nil {
				u.logger.WithContext(ctx).WithError(err).WithField("ticket_id", t.ID).Warn("ticket has a malformed redeemed_at timestamp, skipping scan sample")
				continue
			}
			samples = append(samples, Sample{
				Metric: metrics.MetricTicketsScanned,
				Labels: []Label{
					{Name: "event_id", Value: t.EventID},
					{Name: "event_name", Value: t.EventName},
				},
				Value:       1,
				TimestampMs: scanMs,
			})
		}
	}

	return samples
}

func seriesMatchers(eventID string) []string {
	matchers := make([]string, 0, len(metrics.TicketMetricNames))
	for _, name := range metrics.TicketMetricNames {
		matchers = append(matchers, fmt.Sprintf(`%s{event_id="%s"}`, name, eventID))
	}
	return matchers
}
