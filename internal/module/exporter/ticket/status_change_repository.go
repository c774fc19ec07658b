package ticket

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zalexshow/shotgun.live-prometheus-exporter/pkg/errors"
	"github.com/zalexshow/shotgun.live-prometheus-exporter/pkg/status"
)

type StatusChangeRepository interface {
	Save(ctx context.Context, sc StatusChange, tx *sql.Tx) error
	FindManyByTicketID(ctx context.Context, ticketID string, tx *sql.Tx) ([]StatusChange, error)
}

type statusChangeRepository struct {
	logger *logrus.Logger
	db     *sql.DB
}

func NewStatusChangeRepository(logger *logrus.Logger, db *sql.DB) StatusChangeRepository {
	return &statusChangeRepository{
		logger: logger,
		db:     db,
	}
}

// Save implements StatusChangeRepository. Rows are append-only.
func (r *statusChangeRepository) Save(ctx context.Context, sc StatusChange, tx *sql.Tx) error {
	var cmd sqlCommand = r.db

	if tx != nil {
		cmd = tx
	}

	query := `
		INSERT INTO ticket_status_changes (ticket_id, old_status, new_status, changed_at)
		VALUES (?, ?, ?, ?)
	`

	stmt, err := cmd.PrepareContext(ctx, query)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error()
		return errors.New(http.StatusInternalServerError, status.INTERNAL_SERVER_ERROR, "an error occurred while saving status change")
	}
	defer stmt.Close()

	_, err = stmt.ExecContext(ctx, sc.TicketID, sc.OldStatus, sc.NewStatus, sc.ChangedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error()
		return errors.New(http.StatusInternalServerError, status.INTERNAL_SERVER_ERROR, "an error occurred while saving status change")
	}

	return nil
}

// FindManyByTicketID implements StatusChangeRepository.
func (r *statusChangeRepository) FindManyByTicketID(ctx context.Context, ticketID string, tx *sql.Tx) ([]StatusChange, error) {
	var cmd sqlCommand = r.db

	if tx != nil {
		cmd = tx
	}

	query := `
		SELECT ticket_id, old_status, new_status, changed_at
		FROM ticket_status_changes
		WHERE ticket_id = ?
		ORDER BY id
	`

	stmt, err := cmd.PrepareContext(ctx, query)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error()
		return nil, errors.New(http.StatusInternalServerError, status.INTERNAL_SERVER_ERROR, "an error occurred while getting status changes")
	}
	defer stmt.Close()

	rows, err := stmt.QueryContext(ctx, ticketID)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error()
		return nil, errors.New(http.StatusInternalServerError, status.INTERNAL_SERVER_ERROR, "an error occurred while getting status changes")
	}
	defer rows.Close()

	var changes []StatusChange
	for rows.Next() {
		var sc StatusChange
		var changedAt string
		if err := rows.Scan(&sc.TicketID, &sc.OldStatus, &sc.NewStatus, &changedAt); err != nil {
			r.logger.WithContext(ctx).WithError(err).Error()
			return nil, errors.New(http.StatusInternalServerError, status.INTERNAL_SERVER_ERROR, "an error occurred while getting status changes")
		}
		sc.ChangedAt, _ = time.Parse(time.RFC3339Nano, changedAt)
		changes = append(changes, sc)
	}

	return changes, rows.Err()
}
