package shotgun

import (
	"bytes"
	"encoding/json"
)

// personalFields are buyer-identifying payload keys that must never
// reach the store, regardless of what upstream sends.
var personalFields = []string{
	"buyer_email",
	"buyer_phone",
	"buyer_first_name",
	"buyer_last_name",
	"buyer_gender",
	"buyer_birthday",
	"buyer_company_name",
	"buyer_newsletter_optin",
}

// FlexID accepts both JSON strings and numbers; upstream is not
// consistent about identifier types.
type FlexID string

func (f *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexID(n.String())
	return nil
}

func (f FlexID) String() string {
	return string(f)
}

// SoldTicket is one record from the tickets-sold listing. The full
// upstream object is retained in raw so the persisted snapshot can keep
// fields the exporter does not model (ordered_at, cancelled_at, ...).
type SoldTicket struct {
	TicketID    string  `json:"ticket_id"`
	EventID     FlexID  `json:"event_id"`
	EventName   string  `json:"event_name"`
	Title       string  `json:"ticket_title"`
	SubCategory string  `json:"ticket_sub_category"`
	Status      string  `json:"ticket_status"`
	Price       float64 `json:"ticket_price"`
	Channel     string  `json:"channel"`
	RedeemedAt  *string `json:"ticket_redeemed_at"`

	raw map[string]json.RawMessage
}

func (t *SoldTicket) UnmarshalJSON(data []byte) error {
	type alias SoldTicket
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}

	raw := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*t = SoldTicket(a)
	t.raw = raw
	return nil
}

// SanitizedPayload returns the upstream object with every personal
// field stripped, for persistence as the raw snapshot.
func (t SoldTicket) SanitizedPayload() ([]byte, error) {
	if t.raw == nil {
		return json.Marshal(struct{}{})
	}

	filtered := make(map[string]json.RawMessage, len(t.raw))
	for k, v := range t.raw {
		filtered[k] = v
	}
	for _, field := range personalFields {
		delete(filtered, field)
	}

	return json.Marshal(filtered)
}

type SoldTicketPage struct {
	Tickets      []SoldTicket
	NextCursor   string
	TotalResults int64
}

type Event struct {
	ID          FlexID  `json:"id"`
	Name        string  `json:"name"`
	TicketsLeft int64   `json:"leftTicketsCount"`
	CancelledAt *string `json:"cancelledAt"`
	StartTime   *string `json:"startTime"`
}

type listResponse struct {
	Data       json.RawMessage `json:"data"`
	Pagination struct {
		Next         string `json:"next"`
		TotalResults int64  `json:"totalResults"`
	} `json:"pagination"`
}
