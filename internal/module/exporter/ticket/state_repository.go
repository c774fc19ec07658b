package ticket

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zalexshow/shotgun.live-prometheus-exporter/pkg/errors"
	"github.com/zalexshow/shotgun.live-prometheus-exporter/pkg/status"
)

// StateRepository is the scan-scheduling bookkeeping: one timestamp per
// key, overwritten in place.
type StateRepository interface {
	FindByKey(ctx context.Context, key string) (time.Time, error)
	Save(ctx context.Context, key string, value time.Time) error
}

type stateRepository struct {
	logger *logrus.Logger
	db     *sql.DB
}

func NewStateRepository(logger *logrus.Logger, db *sql.DB) StateRepository {
	return &stateRepository{
		logger: logger,
		db:     db,
	}
}

// FindByKey implements StateRepository.
func (r *stateRepository) FindByKey(ctx context.Context, key string) (time.Time, error) {
	query := `SELECT value FROM exporter_state WHERE key = ?`

	stmt, err := r.db.PrepareContext(ctx, query)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error()
		return time.Time{}, errors.New(http.StatusInternalServerError, status.INTERNAL_SERVER_ERROR, "an error occurred while getting exporter state")
	}
	defer stmt.Close()

	var value string
	err = stmt.QueryRowContext(ctx, key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, errors.New(http.StatusNotFound, status.NOT_FOUND, fmt.Sprintf("exporter state '%s' is not found", key))
		}
		r.logger.WithContext(ctx).WithError(err).Error()
		return time.Time{}, errors.New(http.StatusInternalServerError, status.INTERNAL_SERVER_ERROR, "an error occurred while getting exporter state")
	}

	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error()
		return time.Time{}, errors.New(http.StatusInternalServerError, status.INTERNAL_SERVER_ERROR, fmt.Sprintf("exporter state '%s' holds an unparseable timestamp", key))
	}

	return t, nil
}

// Save implements StateRepository.
func (r *stateRepository) Save(ctx context.Context, key string, value time.Time) error {
	query := `
		INSERT OR REPLACE INTO exporter_state (key, value, updated_at)
		VALUES (?, ?, ?)
	`

	stmt, err := r.db.PrepareContext(ctx, query)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error()
		return errors.New(http.StatusInternalServerError, status.INTERNAL_SERVER_ERROR, "an error occurred while saving exporter state")
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = stmt.ExecContext(ctx, key, value.UTC().Format(time.RFC3339Nano), now)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error()
		return errors.New(http.StatusInternalServerError, status.INTERNAL_SERVER_ERROR, "an error occurred while saving exporter state")
	}

	return nil
}
