package ticket

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zalexshow/shotgun.live-prometheus-exporter/pkg/errors"
	"github.com/zalexshow/shotgun.live-prometheus-exporter/pkg/sqlite"
	"github.com/zalexshow/shotgun.live-prometheus-exporter/pkg/status"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := sqlite.Bootstrap(db); err != nil {
		t.Fatalf("bootstrap database: %v", err)
	}

	return db
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(sink{})
	return logger
}

type sink struct{}

func (sink) Write(p []byte) (int, error) { return len(p), nil }

func sampleTicket(id string) Ticket {
	redeemedAt := "2026-06-01T21:30:00Z"
	return Ticket{
		ID:            id,
		EventID:       "e-1",
		EventName:     "Warehouse Night",
		Title:         "Early Bird",
		Status:        StatusValid,
		Price:         20,
		Channel:       "shotgun",
		RedeemedAt:    &redeemedAt,
		RawPayload:    []byte(`{"ordered_at":"2026-05-30T10:00:00Z"}`),
		FirstSeenAt:   time.Date(2026, 5, 30, 10, 0, 0, 0, time.UTC),
		LastUpdatedAt: time.Date(2026, 5, 30, 10, 0, 0, 0, time.UTC),
	}
}

func TestTicketRepositorySaveAndFind(t *testing.T) {
	repo := NewTicketRepository(testLogger(), newTestDB(t))
	ctx := context.Background()

	want := sampleTicket("t-1")
	if err := repo.Save(ctx, want, nil); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := repo.FindByID(ctx, "t-1", nil)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}

	if got.ID != want.ID || got.EventID != want.EventID || got.Status != want.Status || got.Price != want.Price {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if got.RedeemedAt == nil || *got.RedeemedAt != *want.RedeemedAt {
		t.Errorf("RedeemedAt: got %v", got.RedeemedAt)
	}
	if string(got.RawPayload) != string(want.RawPayload) {
		t.Errorf("RawPayload: got %s", got.RawPayload)
	}
	if !got.FirstSeenAt.Equal(want.FirstSeenAt) {
		t.Errorf("FirstSeenAt: got %v, want %v", got.FirstSeenAt, want.FirstSeenAt)
	}
}

func TestTicketRepositoryFindByIDNotFound(t *testing.T) {
	repo := NewTicketRepository(testLogger(), newTestDB(t))

	_, err := repo.FindByID(context.Background(), "missing", nil)
	if err == nil {
		t.Fatal("expected an error for a missing ticket")
	}
	if got := errors.StatusOf(err); got != status.NOT_FOUND {
		t.Errorf("status: got %q, want %q", got, status.NOT_FOUND)
	}
}

func TestTicketRepositorySaveDuplicateConflicts(t *testing.T) {
	repo := NewTicketRepository(testLogger(), newTestDB(t))
	ctx := context.Background()

	if err := repo.Save(ctx, sampleTicket("t-1"), nil); err != nil {
		t.Fatalf("first Save: %v", err)
	}

	err := repo.Save(ctx, sampleTicket("t-1"), nil)
	if err == nil {
		t.Fatal("expected a conflict for a duplicate save")
	}
	if got := errors.StatusOf(err); got != status.CONFLICT {
		t.Errorf("status: got %q, want %q", got, status.CONFLICT)
	}
}

func TestTicketRepositoryUpdateKeepsFirstSeen(t *testing.T) {
	repo := NewTicketRepository(testLogger(), newTestDB(t))
	ctx := context.Background()

	original := sampleTicket("t-1")
	if err := repo.Save(ctx, original, nil); err != nil {
		t.Fatalf("Save: %v", err)
	}

	changed := original
	changed.Status = StatusRefunded
	changed.FirstSeenAt = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	changed.LastUpdatedAt = time.Date(2026, 6, 2, 8, 0, 0, 0, time.UTC)

	if err := repo.Update(ctx, changed, nil); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := repo.FindByID(ctx, "t-1", nil)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}

	if got.Status != StatusRefunded {
		t.Errorf("Status: got %q", got.Status)
	}
	if !got.FirstSeenAt.Equal(original.FirstSeenAt) {
		t.Errorf("FirstSeenAt changed: got %v, want %v", got.FirstSeenAt, original.FirstSeenAt)
	}
	if !got.LastUpdatedAt.Equal(changed.LastUpdatedAt) {
		t.Errorf("LastUpdatedAt: got %v, want %v", got.LastUpdatedAt, changed.LastUpdatedAt)
	}
}

func TestTicketRepositoryTransactionRollback(t *testing.T) {
	repo := NewTicketRepository(testLogger(), newTestDB(t))
	ctx := context.Background()

	tx, err := repo.BeginTx(ctx)
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	if err := repo.Save(ctx, sampleTicket("t-1"), tx); err != nil {
		t.Fatalf("Save in tx: %v", err)
	}
	if err := repo.Rollback(ctx, tx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	_, err = repo.FindByID(ctx, "t-1", nil)
	if errors.StatusOf(err) != status.NOT_FOUND {
		t.Errorf("rolled-back ticket should not exist, got err %v", err)
	}
}

func TestTicketRepositoryFindManyByEventIDOrder(t *testing.T) {
	repo := NewTicketRepository(testLogger(), newTestDB(t))
	ctx := context.Background()

	later := sampleTicket("t-2")
	later.FirstSeenAt = later.FirstSeenAt.Add(time.Hour)
	other := sampleTicket("t-9")
	other.EventID = "e-2"

	for _, tk := range []Ticket{later, sampleTicket("t-1"), other} {
		if err := repo.Save(ctx, tk, nil); err != nil {
			t.Fatalf("Save %s: %v", tk.ID, err)
		}
	}

	got, err := repo.FindManyByEventID(ctx, "e-1", nil)
	if err != nil {
		t.Fatalf("FindManyByEventID: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("tickets: got %d, want 2", len(got))
	}
	if got[0].ID != "t-1" || got[1].ID != "t-2" {
		t.Errorf("order: got %s, %s", got[0].ID, got[1].ID)
	}
}

func TestTicketRepositoryAggregates(t *testing.T) {
	repo := NewTicketRepository(testLogger(), newTestDB(t))
	ctx := context.Background()

	valid1 := sampleTicket("t-1")
	valid1.RedeemedAt = nil
	valid2 := sampleTicket("t-2")
	valid2.Price = 25
	valid2.Channel = "widget"
	refunded := sampleTicket("t-3")
	refunded.Status = StatusRefunded
	refunded.RedeemedAt = nil
	canceled := sampleTicket("t-4")
	canceled.Status = StatusCanceled
	canceled.RedeemedAt = nil

	for _, tk := range []Ticket{valid1, valid2, refunded, canceled} {
		if err := repo.Save(ctx, tk, nil); err != nil {
			t.Fatalf("Save %s: %v", tk.ID, err)
		}
	}

	sold, err := repo.AggregateSoldByTitle(ctx)
	if err != nil {
		t.Fatalf("AggregateSoldByTitle: %v", err)
	}
	if len(sold) != 1 || sold[0].Count != 2 || sold[0].Revenue != 45 {
		t.Errorf("sold aggregate: got %+v", sold)
	}

	channels, err := repo.AggregateSoldByChannel(ctx)
	if err != nil {
		t.Fatalf("AggregateSoldByChannel: %v", err)
	}
	if len(channels) != 2 {
		t.Errorf("channel aggregates: got %+v", channels)
	}

	refunds, err := repo.AggregateRefundedByTitle(ctx)
	if err != nil {
		t.Fatalf("AggregateRefundedByTitle: %v", err)
	}
	if len(refunds) != 1 || refunds[0].Count != 2 {
		t.Errorf("refund aggregate: got %+v", refunds)
	}

	scanned, err := repo.AggregateScannedByEvent(ctx)
	if err != nil {
		t.Fatalf("AggregateScannedByEvent: %v", err)
	}
	if len(scanned) != 1 || scanned[0].Count != 1 {
		t.Errorf("scanned aggregate: got %+v", scanned)
	}

	events, err := repo.AggregateEvents(ctx)
	if err != nil {
		t.Fatalf("AggregateEvents: %v", err)
	}
	if len(events) != 1 || events[0].TicketCount != 4 {
		t.Errorf("event aggregate: got %+v", events)
	}
}

func TestStateRepositoryRoundTrip(t *testing.T) {
	repo := NewStateRepository(testLogger(), newTestDB(t))
	ctx := context.Background()

	_, err := repo.FindByKey(ctx, "last_full_scan")
	if errors.StatusOf(err) != status.NOT_FOUND {
		t.Fatalf("missing key: got err %v", err)
	}

	want := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	if err := repo.Save(ctx, "last_full_scan", want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := repo.FindByKey(ctx, "last_full_scan")
	if err != nil {
		t.Fatalf("FindByKey: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}

	// Saving again overwrites in place.
	want = want.Add(time.Hour)
	if err := repo.Save(ctx, "last_full_scan", want); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	got, err = repo.FindByKey(ctx, "last_full_scan")
	if err != nil {
		t.Fatalf("second FindByKey: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("after overwrite: got %v, want %v", got, want)
	}
}

func TestStatusChangeRepositoryAppendsInOrder(t *testing.T) {
	db := newTestDB(t)
	tickets := NewTicketRepository(testLogger(), db)
	changes := NewStatusChangeRepository(testLogger(), db)
	ctx := context.Background()

	if err := tickets.Save(ctx, sampleTicket("t-1"), nil); err != nil {
		t.Fatalf("Save ticket: %v", err)
	}

	first := StatusChange{TicketID: "t-1", OldStatus: StatusValid, NewStatus: StatusCanceled, ChangedAt: time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)}
	second := StatusChange{TicketID: "t-1", OldStatus: StatusCanceled, NewStatus: StatusRefunded, ChangedAt: time.Date(2026, 6, 2, 10, 0, 0, 0, time.UTC)}

	for _, sc := range []StatusChange{first, second} {
		if err := changes.Save(ctx, sc, nil); err != nil {
			t.Fatalf("Save change: %v", err)
		}
	}

	got, err := changes.FindManyByTicketID(ctx, "t-1", nil)
	if err != nil {
		t.Fatalf("FindManyByTicketID: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("changes: got %d, want 2", len(got))
	}
	if got[0].NewStatus != StatusCanceled || got[1].NewStatus != StatusRefunded {
		t.Errorf("order: got %+v", got)
	}
}
