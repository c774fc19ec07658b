package collector

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zalexshow/shotgun.live-prometheus-exporter/internal/module/exporter/shotgun"
	"github.com/zalexshow/shotgun.live-prometheus-exporter/internal/module/exporter/ticket"
	"github.com/zalexshow/shotgun.live-prometheus-exporter/internal/pkg/metrics"
	"github.com/zalexshow/shotgun.live-prometheus-exporter/pkg/errors"
	"github.com/zalexshow/shotgun.live-prometheus-exporter/pkg/status"
)

const (
	stateKeyLastFullScan    = "last_full_scan"
	stateKeyLastEventsFetch = "last_events_fetch"

	pastEventsLimit = 100
)

type CollectorUseCase interface {
	// RestoreCounters re-derives every counter from the store so a
	// restarted process reproduces the exact state it would have
	// reached by replaying all tickets from empty.
	RestoreCounters(ctx context.Context) error
	// Collect runs one full collection cycle: optional events
	// refresh, ticket walk, reconciliation.
	Collect(ctx context.Context) error
	// Run drives Collect on the scrape interval until ctx is done.
	// Cycle errors are logged, never fatal.
	Run(ctx context.Context)
}

type collectorUseCase struct {
	logger                 *logrus.Logger
	registry               *metrics.Registry
	shotgunRepository      shotgun.ShotgunRepository
	ticketRepository       ticket.TicketRepository
	statusChangeRepository ticket.StatusChangeRepository
	stateRepository        ticket.StateRepository
	scrapeInterval         time.Duration
	fullScanInterval       time.Duration
	eventsFetchInterval    time.Duration
	now                    func() time.Time
}

type CollectorUseCaseProperty struct {
	Logger                 *logrus.Logger
	Registry               *metrics.Registry
	ShotgunRepository      shotgun.ShotgunRepository
	TicketRepository       ticket.TicketRepository
	StatusChangeRepository ticket.StatusChangeRepository
	StateRepository        ticket.StateRepository
	ScrapeInterval         time.Duration
	FullScanInterval       time.Duration
	EventsFetchInterval    time.Duration
	Now                    func() time.Time
}

func NewCollectorUseCase(props CollectorUseCaseProperty) CollectorUseCase {
	now := props.Now
	if now == nil {
		now = time.Now
	}

	return &collectorUseCase{
		logger:                 props.Logger,
		registry:               props.Registry,
		shotgunRepository:      props.ShotgunRepository,
		ticketRepository:       props.TicketRepository,
		statusChangeRepository: props.StatusChangeRepository,
		stateRepository:        props.StateRepository,
		scrapeInterval:         props.ScrapeInterval,
		fullScanInterval:       props.FullScanInterval,
		eventsFetchInterval:    props.EventsFetchInterval,
		now:                    now,
	}
}

// Run implements CollectorUseCase.
func (u *collectorUseCase) Run(ctx context.Context) {
	u.logger.WithField("interval", u.scrapeInterval.String()).Info("starting collection loop")

	for {
		if err := u.Collect(ctx); err != nil {
			u.logger.WithContext(ctx).WithError(err).Error("collection cycle failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(u.scrapeInterval):
		}
	}
}

// Collect implements CollectorUseCase.
func (u *collectorUseCase) Collect(ctx context.Context) error {
	start := u.now()

	if u.stateExpired(ctx, stateKeyLastEventsFetch, u.eventsFetchInterval) {
		u.refreshEvents(ctx)
		if err := u.stateRepository.Save(ctx, stateKeyLastEventsFetch, u.now()); err != nil {
			u.logger.WithContext(ctx).WithError(err).Error("failed to record events fetch time")
		}
	} else {
		u.logger.Debug("skipping events fetch, interval not elapsed")
	}

	fullScan := u.stateExpired(ctx, stateKeyLastFullScan, u.fullScanInterval)

	tickets := u.fetchAllTickets(ctx, fullScan)

	if err := u.processBatch(ctx, tickets); err != nil {
		return err
	}

	if fullScan {
		if err := u.stateRepository.Save(ctx, stateKeyLastFullScan, u.now()); err != nil {
			u.logger.WithContext(ctx).WithError(err).Error("failed to record full scan time")
		}
		u.logger.WithField("next_in", u.fullScanInterval.String()).Info("full scan completed")
	}

	u.registry.SetLastScrape(u.now())

	u.logger.WithField("duration", time.Since(start).String()).Info("collection cycle completed")

	return nil
}

// RestoreCounters implements CollectorUseCase.
func (u *collectorUseCase) RestoreCounters(ctx context.Context) error {
	var increments []metrics.Increment

	sold, err := u.ticketRepository.AggregateSoldByTitle(ctx)
	if err != nil {
		return err
	}
	for _, a := range sold {
		increments = append(increments,
			metrics.SoldIncrement(a.EventID, a.EventName, a.Title, float64(a.Count)),
			metrics.RevenueIncrement(a.EventID, a.EventName, a.Title, a.Revenue),
		)
	}

	channels, err := u.ticketRepository.AggregateSoldByChannel(ctx)
	if err != nil {
		return err
	}
	for _, a := range channels {
		increments = append(increments, metrics.ChannelIncrement(a.EventID, a.EventName, a.Channel, float64(a.Count)))
	}

	refunded, err := u.ticketRepository.AggregateRefundedByTitle(ctx)
	if err != nil {
		return err
	}
	for _, a := range refunded {
		increments = append(increments, metrics.RefundIncrement(a.EventID, a.EventName, a.Title, float64(a.Count)))
	}

	scanned, err := u.ticketRepository.AggregateScannedByEvent(ctx)
	if err != nil {
		return err
	}
	for _, a := range scanned {
		increments = append(increments, metrics.ScanIncrement(a.EventID, a.EventName, float64(a.Count)))
	}

	u.registry.Apply(increments)
	u.logger.WithField("series", len(increments)).Info("counters restored from database")

	return nil
}

// fetchAllTickets walks the paginated tickets-sold listing.
//
// The incremental mode stops as soon as a whole page is already known.
// This relies on an explicit upstream precondition: the feed returns
// tickets newest-first, so an all-known page implies nothing new beyond
// it. Should that ordering ever change, incremental walks silently miss
// late updates until the next full scan catches them.
//
// A failed page aborts the walk and returns what was accumulated so
// far; partial progress is safe because reconciliation is idempotent
// per record.
func (u *collectorUseCase) fetchAllTickets(ctx context.Context, fullScan bool) []shotgun.SoldTicket {
	mode := "incremental"
	if fullScan {
		mode = "full scan"
	}
	u.logger.WithField("mode", mode).Info("fetching tickets")

	var all []shotgun.SoldTicket
	cursor := ""
	pageCount := 0

	for {
		page, err := u.shotgunRepository.ListSoldTickets(ctx, cursor)
		if err != nil {
			u.logger.WithContext(ctx).WithError(err).WithField("page", pageCount+1).Warn("ticket page fetch failed, stopping pagination")
			break
		}

		if len(page.Tickets) == 0 {
			u.logger.WithField("page", pageCount+1).Info("no tickets on page, end of pagination")
			break
		}

		all = append(all, page.Tickets...)
		pageCount++

		u.logger.WithFields(logrus.Fields{
			"page":    pageCount,
			"fetched": len(all),
			"total":   page.TotalResults,
		}).Info("ticket page fetched")

		if !fullScan && u.pageFullyKnown(ctx, page.Tickets) {
			u.logger.Info("incremental scan: all tickets on page already known, stopping pagination")
			break
		}

		if page.NextCursor == "" {
			u.logger.Info("no next page, end of pagination")
			break
		}
		cursor = page.NextCursor
	}

	u.logger.WithFields(logrus.Fields{"tickets": len(all), "pages": pageCount}).Info("ticket fetch finished")

	return all
}

func (u *collectorUseCase) pageFullyKnown(ctx context.Context, tickets []shotgun.SoldTicket) bool {
	for _, t := range tickets {
		if t.TicketID == "" {
			continue
		}
		_, err := u.ticketRepository.FindByID(ctx, t.TicketID, nil)
		if err != nil {
			return false
		}
	}
	return len(tickets) > 0
}

// processBatch reconciles a batch of fetched records against the store
// within a single transaction. Metric deltas are accumulated and
// applied only after the commit, so a rolled-back batch leaves the
// registry untouched. Records are processed strictly sequentially and
// lookups go through the batch transaction, so a duplicate identifier
// within one batch sees the first occurrence's write and is treated as
// a chained transition.
func (u *collectorUseCase) processBatch(ctx context.Context, tickets []shotgun.SoldTicket) error {
	if len(tickets) == 0 {
		return nil
	}

	tx, err := u.ticketRepository.BeginTx(ctx)
	if err != nil {
		return err
	}

	var pending []metrics.Increment
	var created, updated, refunds int

	for _, t := range tickets {
		if t.TicketID == "" {
			continue
		}

		increments, outcome, err := u.reconcile(ctx, tx, t)
		if err != nil {
			u.ticketRepository.Rollback(ctx, tx)
			return err
		}

		pending = append(pending, increments...)
		switch outcome {
		case outcomeCreated:
			created++
		case outcomeUpdated:
			updated++
		case outcomeRefunded:
			updated++
			refunds++
		}
	}

	if err := u.ticketRepository.CommitTx(ctx, tx); err != nil {
		u.ticketRepository.Rollback(ctx, tx)
		return err
	}

	u.registry.Apply(pending)

	u.logger.WithFields(logrus.Fields{
		"new":     created,
		"updated": updated,
		"refunds": refunds,
	}).Info("tickets processed")

	return nil
}

type reconcileOutcome int

const (
	outcomeNoop reconcileOutcome = iota
	outcomeCreated
	outcomeUpdated
	outcomeRefunded
)

func (u *collectorUseCase) reconcile(ctx context.Context, tx *sql.Tx, t shotgun.SoldTicket) ([]metrics.Increment, reconcileOutcome, error) {
	existing, err := u.ticketRepository.FindByID(ctx, t.TicketID, tx)
	if err != nil {
		if errors.StatusOf(err) != status.NOT_FOUND {
			return nil, outcomeNoop, err
		}
		return u.reconcileNew(ctx, tx, t)
	}

	return u.reconcileExisting(ctx, tx, t, existing)
}

func (u *collectorUseCase) reconcileNew(ctx context.Context, tx *sql.Tx, t shotgun.SoldTicket) ([]metrics.Increment, reconcileOutcome, error) {
	record, err := u.buildRecord(t)
	if err != nil {
		return nil, outcomeNoop, err
	}

	// A conflict here means the sequential-processing assumption is
	// broken; surface it loudly instead of swallowing it.
	if err := u.ticketRepository.Save(ctx, record, tx); err != nil {
		return nil, outcomeNoop, err
	}

	var increments []metrics.Increment

	switch {
	case record.Status == ticket.StatusValid:
		increments = append(increments,
			metrics.SoldIncrement(record.EventID, record.EventName, record.Title, 1),
			metrics.RevenueIncrement(record.EventID, record.EventName, record.Title, record.Price),
			metrics.ChannelIncrement(record.EventID, record.EventName, record.Channel, 1),
		)
	case ticket.IsRefund(record.Status):
		increments = append(increments, metrics.RefundIncrement(record.EventID, record.EventName, record.Title, 1))
	}

	if record.Redeemed() {
		increments = append(increments, metrics.ScanIncrement(record.EventID, record.EventName, 1))
	}

	return increments, outcomeCreated, nil
}

func (u *collectorUseCase) reconcileExisting(ctx context.Context, tx *sql.Tx, t shotgun.SoldTicket, existing ticket.Ticket) ([]metrics.Increment, reconcileOutcome, error) {
	record, err := u.buildRecord(t)
	if err != nil {
		return nil, outcomeNoop, err
	}

	statusChanged := existing.Status != record.Status
	newlyRedeemed := record.Redeemed() && !existing.Redeemed()

	if !statusChanged && !newlyRedeemed {
		return nil, outcomeNoop, nil
	}

	if err := u.ticketRepository.Update(ctx, record, tx); err != nil {
		return nil, outcomeNoop, err
	}

	var increments []metrics.Increment
	outcome := outcomeUpdated

	if statusChanged {
		change := ticket.StatusChange{
			TicketID:  record.ID,
			OldStatus: existing.Status,
			NewStatus: record.Status,
			ChangedAt: u.now(),
		}
		if err := u.statusChangeRepository.Save(ctx, change, tx); err != nil {
			return nil, outcomeNoop, err
		}

		u.logger.WithFields(logrus.Fields{
			"ticket_id":  record.ID,
			"old_status": existing.Status,
			"new_status": record.Status,
		}).Info("ticket status change detected")

		// Only the valid -> refunded/canceled edge represents a
		// revenue reversal; other transitions stay audit-only.
		if existing.Status == ticket.StatusValid && ticket.IsRefund(record.Status) {
			increments = append(increments, metrics.RefundIncrement(record.EventID, record.EventName, record.Title, 1))
			outcome = outcomeRefunded
		}
	}

	if newlyRedeemed {
		increments = append(increments, metrics.ScanIncrement(record.EventID, record.EventName, 1))
	}

	return increments, outcome, nil
}

func (u *collectorUseCase) buildRecord(t shotgun.SoldTicket) (ticket.Ticket, error) {
	payload, err := t.SanitizedPayload()
	if err != nil {
		u.logger.WithError(err).Error()
		return ticket.Ticket{}, errors.New(http.StatusInternalServerError, status.INTERNAL_SERVER_ERROR, "an error occurred while sanitizing a ticket payload")
	}

	now := u.now()

	return ticket.Ticket{
		ID:            t.TicketID,
		EventID:       defaultString(t.EventID.String(), unknownValue),
		EventName:     defaultString(t.EventName, unknownEventName),
		Title:         normalizeTitle(t.Title, t.SubCategory),
		Status:        defaultString(t.Status, unknownValue),
		Price:         t.Price,
		Channel:       defaultString(t.Channel, unknownValue),
		RedeemedAt:    t.RedeemedAt,
		RawPayload:    payload,
		FirstSeenAt:   now,
		LastUpdatedAt: now,
	}, nil
}

func (u *collectorUseCase) refreshEvents(ctx context.Context) {
	u.logger.Info("fetching events")

	future, err := u.shotgunRepository.ListEvents(ctx, false, 0)
	if err != nil {
		u.logger.WithContext(ctx).WithError(err).Warn("future events fetch failed")
	}
	past, err := u.shotgunRepository.ListEvents(ctx, true, pastEventsLimit)
	if err != nil {
		u.logger.WithContext(ctx).WithError(err).Warn("past events fetch failed")
	}

	events := append(future, past...)
	u.logger.WithField("events", len(events)).Info("events fetched")

	// Full replacement: events removed upstream must disappear from
	// the gauge set rather than linger with stale values.
	u.registry.ResetEventGauges()

	var active, pastCount, cancelled int

	for _, e := range events {
		eventID := defaultString(e.ID.String(), unknownValue)
		eventName := defaultString(e.Name, unknownEventName)

		switch {
		case e.CancelledAt != nil && *e.CancelledAt != "":
			cancelled++
		case e.StartTime != nil && *e.StartTime != "":
			startTime, err := time.Parse(time.RFC3339, *e.StartTime)
			if err != nil {
				u.logger.WithError(err).WithField("event_id", eventID).Warn("unparseable event start time")
				break
			}
			if startTime.Before(u.now()) {
				pastCount++
			} else {
				active++
			}
		}

		u.registry.SetEventTicketsLeft(eventID, eventName, float64(e.TicketsLeft))
	}

	u.registry.SetEventsTotal("active", float64(active))
	u.registry.SetEventsTotal("past", float64(pastCount))
	u.registry.SetEventsTotal("cancelled", float64(cancelled))
}

// stateExpired reports whether the bookkeeping timestamp under key is
// older than interval. Absent or unreadable state counts as expired.
func (u *collectorUseCase) stateExpired(ctx context.Context, key string, interval time.Duration) bool {
	last, err := u.stateRepository.FindByKey(ctx, key)
	if err != nil {
		if errors.StatusOf(err) != status.NOT_FOUND {
			u.logger.WithContext(ctx).WithError(err).Warn("failed to read exporter state")
		}
		return true
	}

	return u.now().Sub(last) >= interval
}
