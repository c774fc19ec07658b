package reimport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/zalexshow/shotgun.live-prometheus-exporter/pkg/errors"
	"github.com/zalexshow/shotgun.live-prometheus-exporter/pkg/status"
)

// MetricsBackendRepository is the admin surface of the metrics backend:
// destructive series deletion and bulk timestamped import. Metrics
// backends do not support in-place correction, hence delete-then-replay.
type MetricsBackendRepository interface {
	DeleteSeries(ctx context.Context, match string) error
	ImportSamples(ctx context.Context, lines []string) error
}

type victoriaMetricsRepository struct {
	baseURL string
	logger  *logrus.Logger
	hc      *http.Client
}

func NewVictoriaMetricsRepository(baseURL string, logger *logrus.Logger, hc *http.Client) MetricsBackendRepository {
	return &victoriaMetricsRepository{
		baseURL: baseURL,
		logger:  logger,
		hc:      hc,
	}
}

// DeleteSeries implements MetricsBackendRepository.
func (r *victoriaMetricsRepository) DeleteSeries(ctx context.Context, match string) error {
	params := url.Values{}
	params.Set("match[]", match)
	requestURL := fmt.Sprintf("%s/api/v1/admin/tsdb/delete_series?%s", r.baseURL, params.Encode())

	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, nil)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error()
		return errors.New(http.StatusInternalServerError, status.INTERNAL_SERVER_ERROR, "an error occurred while building the delete series request")
	}

	if err := r.do(ctx, hr); err != nil {
		return err
	}

	return nil
}

// ImportSamples implements MetricsBackendRepository.
func (r *victoriaMetricsRepository) ImportSamples(ctx context.Context, lines []string) error {
	if len(lines) == 0 {
		return nil
	}

	requestURL := fmt.Sprintf("%s/api/v1/import/prometheus", r.baseURL)
	body := strings.NewReader(strings.Join(lines, "\n"))

	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, body)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error()
		return errors.New(http.StatusInternalServerError, status.INTERNAL_SERVER_ERROR, "an error occurred while building the import request")
	}

	hr.Header.Add("Content-Type", "text/plain")

	if err := r.do(ctx, hr); err != nil {
		return err
	}

	return nil
}

func (r *victoriaMetricsRepository) do(ctx context.Context, hr *http.Request) error {
	hresp, err := r.hc.Do(hr)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error()
		return errors.New(http.StatusBadGateway, status.BAD_GATEWAY, "an error occurred during request to the metrics backend")
	}

	defer hresp.Body.Close()

	respBody, _ := io.ReadAll(hresp.Body)

	if hresp.StatusCode < 200 || hresp.StatusCode > 299 {
		r.logger.WithContext(ctx).WithFields(logrus.Fields{
			"status_code": hresp.StatusCode,
			"body":        string(respBody),
		}).Error("metrics backend returned a non-success status")
		return errors.New(http.StatusBadGateway, status.BAD_GATEWAY, fmt.Sprintf("metrics backend returned status %d", hresp.StatusCode))
	}

	return nil
}
