package reimport

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zalexshow/shotgun.live-prometheus-exporter/internal/module/exporter/ticket"
	"github.com/zalexshow/shotgun.live-prometheus-exporter/internal/pkg/metrics"
	"github.com/zalexshow/shotgun.live-prometheus-exporter/pkg/sqlite"
)

type fakeBackend struct {
	deleted  []string
	imported [][]string
}

func (f *fakeBackend) DeleteSeries(ctx context.Context, match string) error {
	f.deleted = append(f.deleted, match)
	return nil
}

func (f *fakeBackend) ImportSamples(ctx context.Context, lines []string) error {
	f.imported = append(f.imported, lines)
	return nil
}

type reimportFixture struct {
	useCase ReimportUseCase
	backend *fakeBackend
	tickets ticket.TicketRepository
	out     *bytes.Buffer
}

func newReimportFixture(t *testing.T) *reimportFixture {
	t.Helper()

	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := logrus.New()
	logger.SetOutput(drain{})

	backend := &fakeBackend{}
	ticketRepo := ticket.NewTicketRepository(logger, db)
	out := &bytes.Buffer{}

	useCase := NewReimportUseCase(ReimportUseCaseProperty{
		Logger:           logger,
		TicketRepository: ticketRepo,
		Backend:          backend,
		Out:              out,
	})

	return &reimportFixture{
		useCase: useCase,
		backend: backend,
		tickets: ticketRepo,
		out:     out,
	}
}

type drain struct{}

func (drain) Write(p []byte) (int, error) { return len(p), nil }

func storedTicket(id, status, payload string, redeemedAt *string) ticket.Ticket {
	return ticket.Ticket{
		ID:            id,
		EventID:       "e-1",
		EventName:     "Warehouse Night",
		Title:         "Early Bird",
		Status:        status,
		Price:         20,
		Channel:       "shotgun",
		RedeemedAt:    redeemedAt,
		RawPayload:    []byte(payload),
		FirstSeenAt:   time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
		LastUpdatedAt: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestReimportEventReplaysHistory(t *testing.T) {
	fx := newReimportFixture(t)
	ctx := context.Background()

	redeemedAt := "2024-01-03T21:00:00Z"
	seed := []ticket.Ticket{
		storedTicket("t-1", ticket.StatusValid, `{"ordered_at":"2024-01-01T10:00:00Z"}`, nil),
		storedTicket("t-2", ticket.StatusRefunded, `{"ordered_at":"2024-01-01T11:00:00Z","cancelled_at":"2024-01-02T09:00:00Z"}`, nil),
		storedTicket("t-3", ticket.StatusValid, `{"ordered_at":"2024-01-02T10:00:00Z"}`, &redeemedAt),
	}
	for _, tk := range seed {
		if err := fx.tickets.Save(ctx, tk, nil); err != nil {
			t.Fatalf("seed %s: %v", tk.ID, err)
		}
	}

	if err := fx.useCase.ReimportEvent(ctx, "e-1", false); err != nil {
		t.Fatalf("ReimportEvent: %v", err)
	}

	// One delete matcher per ticket metric, scoped to the event.
	if len(fx.backend.deleted) != len(metrics.TicketMetricNames) {
		t.Fatalf("deleted: got %d matchers, want %d", len(fx.backend.deleted), len(metrics.TicketMetricNames))
	}
	for _, m := range fx.backend.deleted {
		if !strings.Contains(m, `event_id="e-1"`) {
			t.Errorf("matcher %q not scoped to the event", m)
		}
	}

	if len(fx.backend.imported) != 1 {
		t.Fatalf("imported batches: got %d, want 1", len(fx.backend.imported))
	}
	lines := fx.backend.imported[0]

	orderedMs1 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC).UnixMilli()
	cancelledMs := time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC).UnixMilli()
	orderedMs3 := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC).UnixMilli()
	scanMs := time.Date(2024, 1, 3, 21, 0, 0, 0, time.UTC).UnixMilli()

	wantLines := []string{
		// t-1, valid at its order time.
		sampleLineAt(t, metrics.MetricTicketsSold, `ticket_title="Early Bird"`, "1", orderedMs1),
		sampleLineAt(t, metrics.MetricTicketsRevenue, `ticket_title="Early Bird"`, "20", orderedMs1),
		sampleLineAt(t, metrics.MetricTicketsByChannel, `channel="shotgun"`, "1", orderedMs1),
		// t-2, refunded at its cancellation time.
		sampleLineAt(t, metrics.MetricTicketsRefunded, `ticket_title="Early Bird"`, "1", cancelledMs),
		// t-3, sold at order time and scanned at redemption time.
		sampleLineAt(t, metrics.MetricTicketsSold, `ticket_title="Early Bird"`, "1", orderedMs3),
		sampleLineAt(t, metrics.MetricTicketsScanned, "", "1", scanMs),
	}

	for _, want := range wantLines {
		if !containsLine(lines, want) {
			t.Errorf("missing line %q in:\n%s", want, strings.Join(lines, "\n"))
		}
	}
}

func sampleLineAt(t *testing.T, metric, extraLabel, value string, tsMs int64) string {
	t.Helper()

	labels := `event_id="e-1",event_name="Warehouse Night"`
	if extraLabel != "" {
		labels += "," + extraLabel
	}
	return fmt.Sprintf("%s{%s} %s %d", metric, labels, value, tsMs)
}

func containsLine(lines []string, want string) bool {
	for _, l := range lines {
		if l == want {
			return true
		}
	}
	return false
}

func TestReimportEventSkipsUnusableRecords(t *testing.T) {
	fx := newReimportFixture(t)
	ctx := context.Background()

	seed := []ticket.Ticket{
		storedTicket("t-1", ticket.StatusValid, `{"ordered_at":"2024-01-01T10:00:00Z"}`, nil),
		storedTicket("t-2", ticket.StatusValid, `{}`, nil),
		storedTicket("t-3", ticket.StatusValid, `{"ordered_at":"not a timestamp"}`, nil),
	}
	for _, tk := range seed {
		if err := fx.tickets.Save(ctx, tk, nil); err != nil {
			t.Fatalf("seed %s: %v", tk.ID, err)
		}
	}

	if err := fx.useCase.ReimportEvent(ctx, "e-1", false); err != nil {
		t.Fatalf("ReimportEvent: %v", err)
	}

	if len(fx.backend.imported) != 1 {
		t.Fatalf("imported batches: got %d, want 1", len(fx.backend.imported))
	}
	// Only t-1 contributes: sold, revenue and channel.
	if got := len(fx.backend.imported[0]); got != 3 {
		t.Errorf("imported lines: got %d, want 3\n%s", got, strings.Join(fx.backend.imported[0], "\n"))
	}
}

func TestReimportEventSkipsRefundWithMalformedCancelledAt(t *testing.T) {
	fx := newReimportFixture(t)
	ctx := context.Background()

	seed := []ticket.Ticket{
		storedTicket("t-1", ticket.StatusValid, `{"ordered_at":"2024-01-01T10:00:00Z"}`, nil),
		storedTicket("t-2", ticket.StatusRefunded, `{"ordered_at":"2024-01-02T00:00:00Z","cancelled_at":"not a timestamp"}`, nil),
	}
	for _, tk := range seed {
		if err := fx.tickets.Save(ctx, tk, nil); err != nil {
			t.Fatalf("seed %s: %v", tk.ID, err)
		}
	}

	if err := fx.useCase.ReimportEvent(ctx, "e-1", false); err != nil {
		t.Fatalf("ReimportEvent: %v", err)
	}

	if len(fx.backend.imported) != 1 {
		t.Fatalf("imported batches: got %d, want 1", len(fx.backend.imported))
	}
	lines := fx.backend.imported[0]

	// Only t-1 contributes: sold, revenue and channel. The refund line
	// is dropped entirely rather than falling back to ordered_at.
	if got := len(lines); got != 3 {
		t.Errorf("imported lines: got %d, want 3\n%s", got, strings.Join(lines, "\n"))
	}
	for _, l := range lines {
		if strings.HasPrefix(l, metrics.MetricTicketsRefunded) {
			t.Errorf("unexpected refund line %q", l)
		}
	}
}

func TestReimportEventNoUsableSamplesFails(t *testing.T) {
	fx := newReimportFixture(t)
	ctx := context.Background()

	tk := storedTicket("t-1", ticket.StatusValid, `{}`, nil)
	if err := fx.tickets.Save(ctx, tk, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := fx.useCase.ReimportEvent(ctx, "e-1", false); err == nil {
		t.Fatal("expected an error when no samples can be derived")
	}
	if len(fx.backend.imported) != 0 {
		t.Errorf("imported despite no samples: %v", fx.backend.imported)
	}

	// ReimportAll counts the event in its failure summary.
	if err := fx.useCase.ReimportAll(ctx, false); err == nil {
		t.Error("ReimportAll should report the failed event")
	}
}

func TestReimportEventDryRunTouchesNothing(t *testing.T) {
	fx := newReimportFixture(t)
	ctx := context.Background()

	tk := storedTicket("t-1", ticket.StatusValid, `{"ordered_at":"2024-01-01T10:00:00Z"}`, nil)
	if err := fx.tickets.Save(ctx, tk, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := fx.useCase.ReimportEvent(ctx, "e-1", true); err != nil {
		t.Fatalf("ReimportEvent dry run: %v", err)
	}

	if len(fx.backend.deleted) != 0 || len(fx.backend.imported) != 0 {
		t.Errorf("dry run reached the backend: deleted=%v imported=%v", fx.backend.deleted, fx.backend.imported)
	}

	output := fx.out.String()
	if !strings.Contains(output, "would delete series") || !strings.Contains(output, "would import") {
		t.Errorf("dry run output missing preview:\n%s", output)
	}
}

func TestReimportEventUnknownEvent(t *testing.T) {
	fx := newReimportFixture(t)

	if err := fx.useCase.ReimportEvent(context.Background(), "nope", false); err == nil {
		t.Fatal("expected an error for an unknown event")
	}
	if len(fx.backend.deleted) != 0 {
		t.Errorf("unknown event must not delete series, got %v", fx.backend.deleted)
	}
}

func TestListEvents(t *testing.T) {
	fx := newReimportFixture(t)
	ctx := context.Background()

	other := storedTicket("t-2", ticket.StatusValid, `{}`, nil)
	other.EventID = "e-2"
	other.EventName = "Spring Opening"

	for _, tk := range []ticket.Ticket{storedTicket("t-1", ticket.StatusValid, `{}`, nil), other} {
		if err := fx.tickets.Save(ctx, tk, nil); err != nil {
			t.Fatalf("seed %s: %v", tk.ID, err)
		}
	}

	if err := fx.useCase.ListEvents(ctx); err != nil {
		t.Fatalf("ListEvents: %v", err)
	}

	output := fx.out.String()
	for _, want := range []string{"e-1", "Warehouse Night", "e-2", "Spring Opening"} {
		if !strings.Contains(output, want) {
			t.Errorf("listing missing %q:\n%s", want, output)
		}
	}
}

func TestReimportAll(t *testing.T) {
	fx := newReimportFixture(t)
	ctx := context.Background()

	other := storedTicket("t-2", ticket.StatusValid, `{"ordered_at":"2024-01-01T10:00:00Z"}`, nil)
	other.EventID = "e-2"

	for _, tk := range []ticket.Ticket{storedTicket("t-1", ticket.StatusValid, `{"ordered_at":"2024-01-01T10:00:00Z"}`, nil), other} {
		if err := fx.tickets.Save(ctx, tk, nil); err != nil {
			t.Fatalf("seed %s: %v", tk.ID, err)
		}
	}

	if err := fx.useCase.ReimportAll(ctx, false); err != nil {
		t.Fatalf("ReimportAll: %v", err)
	}

	if got := len(fx.backend.deleted); got != 2*len(metrics.TicketMetricNames) {
		t.Errorf("deleted matchers: got %d, want %d", got, 2*len(metrics.TicketMetricNames))
	}
	if got := len(fx.backend.imported); got != 2 {
		t.Errorf("imported batches: got %d, want 2", got)
	}
}
