package ticket

import "time"

const (
	StatusValid    = "valid"
	StatusRefunded = "refunded"
	StatusCanceled = "canceled"
)

// IsRefund reports whether a status counts as a revenue reversal.
func IsRefund(status string) bool {
	return status == StatusRefunded || status == StatusCanceled
}

// Ticket is one observed upstream ticket record. FirstSeenAt is set
// exactly once at insert and never changes; LastUpdatedAt advances on
// every mutation. RedeemedAt keeps the upstream timestamp string
// verbatim; its presence signals a scan.
type Ticket struct {
	ID            string
	EventID       string
	EventName     string
	Title         string
	Status        string
	Price         float64
	Channel       string
	RedeemedAt    *string
	RawPayload    []byte
	FirstSeenAt   time.Time
	LastUpdatedAt time.Time
}

func (t Ticket) Redeemed() bool {
	return t.RedeemedAt != nil && *t.RedeemedAt != ""
}

// StatusChange is one append-only audit row. Rows are never updated or
// deleted; counters are driven by live transition detection, not by
// replaying this log.
type StatusChange struct {
	TicketID  string
	OldStatus string
	NewStatus string
	ChangedAt time.Time
}

type SoldAggregate struct {
	EventID   string
	EventName string
	Title     string
	Count     int64
	Revenue   float64
}

type ChannelAggregate struct {
	EventID   string
	EventName string
	Channel   string
	Count     int64
}

type ScannedAggregate struct {
	EventID   string
	EventName string
	Count     int64
}

type EventAggregate struct {
	EventID     string
	EventName   string
	TicketCount int64
}
