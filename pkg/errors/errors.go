package errors

import (
	stderrors "errors"
	"net/http"

	"github.com/zalexshow/shotgun.live-prometheus-exporter/pkg/status"
)

type ApplicationError struct {
	HTTPStatus int
	Status     string
	Message    string
}

func (e *ApplicationError) Error() string {
	return e.Message
}

func New(httpStatus int, status string, message string) error {
	return &ApplicationError{
		HTTPStatus: httpStatus,
		Status:     status,
		Message:    message,
	}
}

// StatusOf returns the application status of err, or
// INTERNAL_SERVER_ERROR for errors outside the taxonomy.
func StatusOf(err error) string {
	var appErr *ApplicationError
	if stderrors.As(err, &appErr) {
		return appErr.Status
	}
	return status.INTERNAL_SERVER_ERROR
}

func HTTPStatusOf(err error) int {
	var appErr *ApplicationError
	if stderrors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
