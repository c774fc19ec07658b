package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	MetricTicketsSold      = "shotgun_tickets_sold_total"
	MetricTicketsRevenue   = "shotgun_tickets_revenue_euros_total"
	MetricTicketsByChannel = "shotgun_tickets_by_channel_total"
	MetricTicketsRefunded  = "shotgun_tickets_refunded_total"
	MetricTicketsScanned   = "shotgun_tickets_scanned_total"
)

// TicketMetricNames lists every per-event ticket series, in the order
// the backfill tool deletes and replays them.
var TicketMetricNames = []string{
	MetricTicketsSold,
	MetricTicketsRevenue,
	MetricTicketsByChannel,
	MetricTicketsRefunded,
	MetricTicketsScanned,
}

// Increment is one pending counter delta produced by reconciliation.
// Deltas are accumulated during a batch transaction and applied to the
// registry only after the transaction commits.
type Increment struct {
	Metric      string
	EventID     string
	EventName   string
	TicketTitle string
	Channel     string
	Value       float64
}

func SoldIncrement(eventID, eventName, title string, n float64) Increment {
	return Increment{Metric: MetricTicketsSold, EventID: eventID, EventName: eventName, TicketTitle: title, Value: n}
}

func RevenueIncrement(eventID, eventName, title string, amount float64) Increment {
	return Increment{Metric: MetricTicketsRevenue, EventID: eventID, EventName: eventName, TicketTitle: title, Value: amount}
}

func ChannelIncrement(eventID, eventName, channel string, n float64) Increment {
	return Increment{Metric: MetricTicketsByChannel, EventID: eventID, EventName: eventName, Channel: channel, Value: n}
}

func RefundIncrement(eventID, eventName, title string, n float64) Increment {
	return Increment{Metric: MetricTicketsRefunded, EventID: eventID, EventName: eventName, TicketTitle: title, Value: n}
}

func ScanIncrement(eventID, eventName string, n float64) Increment {
	return Increment{Metric: MetricTicketsScanned, EventID: eventID, EventName: eventName, Value: n}
}

// Registry owns every exporter metric. It is the single process-wide
// metric state, seeded from the store at startup and mutated only
// through Apply and the gauge setters.
type Registry struct {
	registry *prometheus.Registry

	ticketsSold      *prometheus.CounterVec
	ticketsRevenue   *prometheus.CounterVec
	ticketsByChannel *prometheus.CounterVec
	ticketsRefunded  *prometheus.CounterVec
	ticketsScanned   *prometheus.CounterVec

	eventsTotal      *prometheus.GaugeVec
	eventTicketsLeft *prometheus.GaugeVec

	apiRequests *prometheus.CounterVec
	lastScrape  prometheus.Gauge
}

func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		ticketsSold: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricTicketsSold,
			Help: "Total number of tickets sold",
		}, []string{"event_id", "event_name", "ticket_title"}),
		ticketsRevenue: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricTicketsRevenue,
			Help: "Total revenue from ticket sales in euros",
		}, []string{"event_id", "event_name", "ticket_title"}),
		ticketsByChannel: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricTicketsByChannel,
			Help: "Number of tickets sold by channel",
		}, []string{"event_id", "event_name", "channel"}),
		ticketsRefunded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricTicketsRefunded,
			Help: "Number of tickets refunded",
		}, []string{"event_id", "event_name", "ticket_title"}),
		ticketsScanned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricTicketsScanned,
			Help: "Number of tickets scanned",
		}, []string{"event_id", "event_name"}),
		eventsTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shotgun_events_total",
			Help: "Total number of events",
		}, []string{"status"}),
		eventTicketsLeft: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shotgun_event_tickets_left",
			Help: "Number of tickets left for an event",
		}, []string{"event_id", "event_name"}),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shotgun_api_requests_total",
			Help: "Total number of requests to the Shotgun API",
		}, []string{"endpoint", "status"}),
		lastScrape: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shotgun_last_scrape_timestamp",
			Help: "Timestamp of last successful scrape",
		}),
	}

	r.registry.MustRegister(
		r.ticketsSold,
		r.ticketsRevenue,
		r.ticketsByChannel,
		r.ticketsRefunded,
		r.ticketsScanned,
		r.eventsTotal,
		r.eventTicketsLeft,
		r.apiRequests,
		r.lastScrape,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Apply adds every pending increment to its counter. Increments are
// strictly additive; nothing here ever decrements.
func (r *Registry) Apply(increments []Increment) {
	for _, inc := range increments {
		switch inc.Metric {
		case MetricTicketsSold:
			r.ticketsSold.WithLabelValues(inc.EventID, inc.EventName, inc.TicketTitle).Add(inc.Value)
		case MetricTicketsRevenue:
			r.ticketsRevenue.WithLabelValues(inc.EventID, inc.EventName, inc.TicketTitle).Add(inc.Value)
		case MetricTicketsByChannel:
			r.ticketsByChannel.WithLabelValues(inc.EventID, inc.EventName, inc.Channel).Add(inc.Value)
		case MetricTicketsRefunded:
			r.ticketsRefunded.WithLabelValues(inc.EventID, inc.EventName, inc.TicketTitle).Add(inc.Value)
		case MetricTicketsScanned:
			r.ticketsScanned.WithLabelValues(inc.EventID, inc.EventName).Add(inc.Value)
		}
	}
}

// ResetEventGauges drops every event gauge series so a refresh cycle
// can fully replace the set. Events removed upstream disappear instead
// of lingering with stale values.
func (r *Registry) ResetEventGauges() {
	r.eventsTotal.Reset()
	r.eventTicketsLeft.Reset()
}

func (r *Registry) SetEventsTotal(status string, n float64) {
	r.eventsTotal.WithLabelValues(status).Set(n)
}

func (r *Registry) SetEventTicketsLeft(eventID, eventName string, n float64) {
	r.eventTicketsLeft.WithLabelValues(eventID, eventName).Set(n)
}

func (r *Registry) RecordAPIRequest(endpoint, status string) {
	r.apiRequests.WithLabelValues(endpoint, status).Inc()
}

func (r *Registry) SetLastScrape(t time.Time) {
	r.lastScrape.Set(float64(t.Unix()))
}
