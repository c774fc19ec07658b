package ticket

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zalexshow/shotgun.live-prometheus-exporter/pkg/errors"
	"github.com/zalexshow/shotgun.live-prometheus-exporter/pkg/status"
)

type TicketRepository interface {
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(ctx context.Context, tx *sql.Tx) error
	Rollback(ctx context.Context, tx *sql.Tx) error

	FindByID(ctx context.Context, ID string, tx *sql.Tx) (Ticket, error)
	Save(ctx context.Context, t Ticket, tx *sql.Tx) error
	Update(ctx context.Context, t Ticket, tx *sql.Tx) error
	FindManyByEventID(ctx context.Context, eventID string, tx *sql.Tx) ([]Ticket, error)

	AggregateSoldByTitle(ctx context.Context) ([]SoldAggregate, error)
	AggregateSoldByChannel(ctx context.Context) ([]ChannelAggregate, error)
	AggregateRefundedByTitle(ctx context.Context) ([]SoldAggregate, error)
	AggregateScannedByEvent(ctx context.Context) ([]ScannedAggregate, error)
	AggregateEvents(ctx context.Context) ([]EventAggregate, error)
}

type sqlCommand interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

type ticketRepository struct {
	logger *logrus.Logger
	db     *sql.DB
}

func NewTicketRepository(logger *logrus.Logger, db *sql.DB) TicketRepository {
	return &ticketRepository{
		logger: logger,
		db:     db,
	}
}

// BeginTx implements TicketRepository.
func (r *ticketRepository) BeginTx(ctx context.Context) (*sql.Tx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error()
		return nil, errors.New(http.StatusInternalServerError, status.INTERNAL_SERVER_ERROR, "an error occurred trying to begin transaction")
	}

	return tx, nil
}

// CommitTx implements TicketRepository.
func (r *ticketRepository) CommitTx(ctx context.Context, tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error()
		return errors.New(http.StatusInternalServerError, status.INTERNAL_SERVER_ERROR, "an error occurred trying to commit transaction")
	}

	return nil
}

// Rollback implements TicketRepository.
func (r *ticketRepository) Rollback(ctx context.Context, tx *sql.Tx) error {
	if err := tx.Rollback(); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error()
		return errors.New(http.StatusInternalServerError, status.INTERNAL_SERVER_ERROR, "an error occurred trying to rollback transaction")
	}

	return nil
}

// FindByID implements TicketRepository.
func (r *ticketRepository) FindByID(ctx context.Context, ID string, tx *sql.Tx) (Ticket, error) {
	var cmd sqlCommand = r.db

	if tx != nil {
		cmd = tx
	}

	query := `
		SELECT
			ticket_id, event_id, event_name, ticket_title, ticket_status,
			ticket_price, channel, ticket_redeemed_at, ticket_data,
			first_seen_at, last_updated_at
		FROM tickets
		WHERE
			ticket_id = ?
		LIMIT 1
	`

	stmt, err := cmd.PrepareContext(ctx, query)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error()
		return Ticket{}, errors.New(http.StatusInternalServerError, status.INTERNAL_SERVER_ERROR, "an error occurred while getting ticket's properties")
	}
	defer stmt.Close()

	row := stmt.QueryRowContext(ctx, ID)

	data, err := scanTicket(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return Ticket{}, errors.New(http.StatusNotFound, status.NOT_FOUND, fmt.Sprintf("ticket's properties with id '%s' is not found", ID))
		}
		r.logger.WithContext(ctx).WithError(err).Error()
		return Ticket{}, errors.New(http.StatusInternalServerError, status.INTERNAL_SERVER_ERROR, "an error occurred while getting ticket's properties")
	}

	return data, nil
}

// Save implements TicketRepository.
func (r *ticketRepository) Save(ctx context.Context, t Ticket, tx *sql.Tx) error {
	var cmd sqlCommand = r.db

	if tx != nil {
		cmd = tx
	}

	query := `
		INSERT INTO tickets (
			ticket_id, event_id, event_name, ticket_title, ticket_status,
			ticket_price, channel, ticket_redeemed_at, ticket_data,
			first_seen_at, last_updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	stmt, err := cmd.PrepareContext(ctx, query)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error()
		return errors.New(http.StatusInternalServerError, status.INTERNAL_SERVER_ERROR, "an error occurred while saving ticket's properties")
	}
	defer stmt.Close()

	_, err = stmt.ExecContext(ctx,
		t.ID, t.EventID, t.EventName, t.Title, t.Status,
		t.Price, t.Channel, nullableString(t.RedeemedAt), string(t.RawPayload),
		t.FirstSeenAt.UTC().Format(time.RFC3339Nano), t.LastUpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.New(http.StatusConflict, status.CONFLICT, fmt.Sprintf("ticket with id '%s' already exists", t.ID))
		}
		r.logger.WithContext(ctx).WithError(err).Error()
		return errors.New(http.StatusInternalServerError, status.INTERNAL_SERVER_ERROR, "an error occurred while saving ticket's properties")
	}

	return nil
}

// Update implements TicketRepository. FirstSeenAt is immutable and
// deliberately absent from the statement.
func (r *ticketRepository) Update(ctx context.Context, t Ticket, tx *sql.Tx) error {
	var cmd sqlCommand = r.db

	if tx != nil {
		cmd = tx
	}

	query := `
		UPDATE tickets SET
			event_name = ?, ticket_title = ?, ticket_status = ?,
			ticket_price = ?, channel = ?, ticket_redeemed_at = ?,
			ticket_data = ?, last_updated_at = ?
		WHERE ticket_id = ?
	`

	stmt, err := cmd.PrepareContext(ctx, query)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error()
		return errors.New(http.StatusInternalServerError, status.INTERNAL_SERVER_ERROR, "an error occurred while updating ticket's properties")
	}
	defer stmt.Close()

	_, err = stmt.ExecContext(ctx,
		t.EventName, t.Title, t.Status,
		t.Price, t.Channel, nullableString(t.RedeemedAt),
		string(t.RawPayload), t.LastUpdatedAt.UTC().Format(time.RFC3339Nano),
		t.ID,
	)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error()
		return errors.New(http.StatusInternalServerError, status.INTERNAL_SERVER_ERROR, "an error occurred while updating ticket's properties")
	}

	return nil
}

// FindManyByEventID implements TicketRepository. Rows come back in
// first-seen order so replayed samples keep their original sequence.
func (r *ticketRepository) FindManyByEventID(ctx context.Context, eventID string, tx *sql.Tx) ([]Ticket, error) {
	var cmd sqlCommand = r.db

	if tx != nil {
		cmd = tx
	}

	query := `
		SELECT
			ticket_id, event_id, event_name, ticket_title, ticket_status,
			ticket_price, channel, ticket_redeemed_at, ticket_data,
			first_seen_at, last_updated_at
		FROM tickets
		WHERE event_id = ?
		ORDER BY first_seen_at
	`

	stmt, err := cmd.PrepareContext(ctx, query)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error()
		return nil, errors.New(http.StatusInternalServerError, status.INTERNAL_SERVER_ERROR, "an error occurred while getting ticket's properties")
	}
	defer stmt.Close()

	rows, err := stmt.QueryContext(ctx, eventID)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error()
		return nil, errors.New(http.StatusInternalServerError, status.INTERNAL_SERVER_ERROR, "an error occurred while getting ticket's properties")
	}
	defer rows.Close()

	var tickets []Ticket
	for rows.Next() {
		t, err := scanTicket(rows.Scan)
		if err != nil {
			r.logger.WithContext(ctx).WithError(err).Error()
			return nil, errors.New(http.StatusInternalServerError, status.INTERNAL_SERVER_ERROR, "an error occurred while getting ticket's properties")
		}
		tickets = append(tickets, t)
	}
	if err := rows.Err(); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error()
		return nil, errors.New(http.StatusInternalServerError, status.INTERNAL_SERVER_ERROR, "an error occurred while getting ticket's properties")
	}

	return tickets, nil
}

// AggregateSoldByTitle implements TicketRepository.
func (r *ticketRepository) AggregateSoldByTitle(ctx context.Context) ([]SoldAggregate, error) {
	query := `
		SELECT event_id, event_name, ticket_title, COUNT(*), COALESCE(SUM(ticket_price), 0)
		FROM tickets
		WHERE ticket_status = ?
		GROUP BY event_id, event_name, ticket_title
	`

	return r.querySoldAggregates(ctx, query, StatusValid)
}

// AggregateRefundedByTitle implements TicketRepository.
func (r *ticketRepository) AggregateRefundedByTitle(ctx context.Context) ([]SoldAggregate, error) {
	query := `
		SELECT event_id, event_name, ticket_title, COUNT(*), COALESCE(SUM(ticket_price), 0)
		FROM tickets
		WHERE ticket_status IN (?, ?)
		GROUP BY event_id, event_name, ticket_title
	`

	return r.querySoldAggregates(ctx, query, StatusRefunded, StatusCanceled)
}

// AggregateSoldByChannel implements TicketRepository.
func (r *ticketRepository) AggregateSoldByChannel(ctx context.Context) ([]ChannelAggregate, error) {
	query := `
		SELECT event_id, event_name, channel, COUNT(*)
		FROM tickets
		WHERE ticket_status = ?
		GROUP BY event_id, event_name, channel
	`

	stmt, err := r.db.PrepareContext(ctx, query)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error()
		return nil, errors.New(http.StatusInternalServerError, status.INTERNAL_SERVER_ERROR, "an error occurred while aggregating tickets by channel")
	}
	defer stmt.Close()

	rows, err := stmt.QueryContext(ctx, StatusValid)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error()
		return nil, errors.New(http.StatusInternalServerError, status.INTERNAL_SERVER_ERROR, "an error occurred while aggregating tickets by channel")
	}
	defer rows.Close()

	var aggregates []ChannelAggregate
	for rows.Next() {
		var a ChannelAggregate
		if err := rows.Scan(&a.EventID, &a.EventName, &a.Channel, &a.Count); err != nil {
			r.logger.WithContext(ctx).WithError(err).Error()
			return nil, errors.New(http.StatusInternalServerError, status.INTERNAL_SERVER_ERROR, "an error occurred while aggregating tickets by channel")
		}
		aggregates = append(aggregates, a)
	}

	return aggregates, rows.Err()
}

// AggregateScannedByEvent implements TicketRepository.
func (r *ticketRepository) AggregateScannedByEvent(ctx context.Context) ([]ScannedAggregate, error) {
	query := `
		SELECT event_id, event_name, COUNT(*)
		FROM tickets
		WHERE ticket_redeemed_at IS NOT NULL
		GROUP BY event_id, event_name
	`

	stmt, err := r.db.PrepareContext(ctx, query)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error()
		return nil, errors.New(http.StatusInternalServerError, status.INTERNAL_SERVER_ERROR, "an error occurred while aggregating scanned tickets")
	}
	defer stmt.Close()

	rows, err := stmt.QueryContext(ctx)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error()
		return nil, errors.New(http.StatusInternalServerError, status.INTERNAL_SERVER_ERROR, "an error occurred while aggregating scanned tickets")
	}
	defer rows.Close()

	var aggregates []ScannedAggregate
	for rows.Next() {
		var a ScannedAggregate
		if err := rows.Scan(&a.EventID, &a.EventName, &a.Count); err != nil {
			r.logger.WithContext(ctx).WithError(err).Error()
			return nil, errors.New(http.StatusInternalServerError, status.INTERNAL_SERVER_ERROR, "an error occurred while aggregating scanned tickets")
		}
		aggregates = append(aggregates, a)
	}

	return aggregates, rows.Err()
}

// AggregateEvents implements TicketRepository.
func (r *ticketRepository) AggregateEvents(ctx context.Context) ([]EventAggregate, error) {
	query := `
		SELECT event_id, event_name, COUNT(*)
		FROM tickets
		GROUP BY event_id, event_name
		ORDER BY event_name
	`

	stmt, err := r.db.PrepareContext(ctx, query)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error()
		return nil, errors.New(http.StatusInternalServerError, status.INTERNAL_SERVER_ERROR, "an error occurred while aggregating events")
	}
	defer stmt.Close()

	rows, err := stmt.QueryContext(ctx)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error()
		return nil, errors.New(http.StatusInternalServerError, status.INTERNAL_SERVER_ERROR, "an error occurred while aggregating events")
	}
	defer rows.Close()

	var aggregates []EventAggregate
	for rows.Next() {
		var a EventAggregate
		if err := rows.Scan(&a.EventID, &a.EventName, &a.TicketCount); err != nil {
			r.logger.WithContext(ctx).WithError(err).Error()
			return nil, errors.New(http.StatusInternalServerError, status.INTERNAL_SERVER_ERROR, "an error occurred while aggregating events")
		}
		aggregates = append(aggregates, a)
	}

	return aggregates, rows.Err()
}

func (r *ticketRepository) querySoldAggregates(ctx context.Context, query string, args ...interface{}) ([]SoldAggregate, error) {
	stmt, err := r.db.PrepareContext(ctx, query)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error()
		return nil, errors.New(http.StatusInternalServerError, status.INTERNAL_SERVER_ERROR, "an error occurred while aggregating tickets by title")
	}
	defer stmt.Close()

	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error()
		return nil, errors.New(http.StatusInternalServerError, status.INTERNAL_SERVER_ERROR, "an error occurred while aggregating tickets by title")
	}
	defer rows.Close()

	var aggregates []SoldAggregate
	for rows.Next() {
		var a SoldAggregate
		if err := rows.Scan(&a.EventID, &a.EventName, &a.Title, &a.Count, &a.Revenue); err != nil {
			r.logger.WithContext(ctx).WithError(err).Error()
			return nil, errors.New(http.StatusInternalServerError, status.INTERNAL_SERVER_ERROR, "an error occurred while aggregating tickets by title")
		}
		aggregates = append(aggregates, a)
	}

	return aggregates, rows.Err()
}

func scanTicket(scan func(dest ...interface{}) error) (Ticket, error) {
	var data Ticket
	var redeemedAt sql.NullString
	var rawPayload sql.NullString
	var firstSeen, lastUpdated string

	err := scan(
		&data.ID, &data.EventID, &data.EventName, &data.Title, &data.Status,
		&data.Price, &data.Channel, &redeemedAt, &rawPayload,
		&firstSeen, &lastUpdated,
	)
	if err != nil {
		return Ticket{}, err
	}

	if redeemedAt.Valid && redeemedAt.String != "" {
		data.RedeemedAt = &redeemedAt.String
	}
	if rawPayload.Valid {
		data.RawPayload = []byte(rawPayload.String)
	}
	data.FirstSeenAt, _ = time.Parse(time.RFC3339Nano, firstSeen)
	data.LastUpdatedAt, _ = time.Parse(time.RFC3339Nano, lastUpdated)

	return data, nil
}

func nullableString(s *string) interface{} {
	if s == nil || *s == "" {
		return nil
	}
	return *s
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
