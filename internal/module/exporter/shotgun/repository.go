package shotgun

import (
	"context"
	"encoding/json"
	goerrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/zalexshow/shotgun.live-prometheus-exporter/internal/pkg/metrics"
	"github.com/zalexshow/shotgun.live-prometheus-exporter/pkg/errors"
	"github.com/zalexshow/shotgun.live-prometheus-exporter/pkg/status"
)

type ShotgunRepository interface {
	ListSoldTickets(ctx context.Context, cursor string) (SoldTicketPage, error)
	ListEvents(ctx context.Context, past bool, limit int) ([]Event, error)
}

type ShotgunRepositoryProperty struct {
	BaseURL               string
	APIKey                string
	OrganizerID           string
	IncludeCohostedEvents bool
	Logger                *logrus.Logger
	Registry              *metrics.Registry
	HTTPClient            *http.Client
}

type shotgunRepository struct {
	baseURL               string
	apiKey                string
	organizerID           string
	includeCohostedEvents bool
	logger                *logrus.Logger
	registry              *metrics.Registry
	hc                    *http.Client
}

func NewShotgunRepository(props ShotgunRepositoryProperty) ShotgunRepository {
	return &shotgunRepository{
		baseURL:               props.BaseURL,
		apiKey:                props.APIKey,
		organizerID:           props.OrganizerID,
		includeCohostedEvents: props.IncludeCohostedEvents,
		logger:                props.Logger,
		registry:              props.Registry,
		hc:                    props.HTTPClient,
	}
}

// ListSoldTickets implements ShotgunRepository. An empty cursor fetches
// the first page.
func (r *shotgunRepository) ListSoldTickets(ctx context.Context, cursor string) (SoldTicketPage, error) {
	params := url.Values{}
	params.Set("organizer_id", r.organizerID)
	params.Set("cursor", cursor)
	if r.includeCohostedEvents {
		params.Set("include_cohosted_events", "true")
	}

	body, err := r.get(ctx, "tickets/sold", "sold", params)
	if err != nil {
		return SoldTicketPage{}, err
	}

	var resp listResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error()
		return SoldTicketPage{}, errors.New(http.StatusBadGateway, status.BAD_GATEWAY, "an error occurred while decoding sold tickets from shotgun")
	}

	var tickets []SoldTicket
	if len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, &tickets); err != nil {
			r.logger.WithContext(ctx).WithError(err).Error()
			return SoldTicketPage{}, errors.New(http.StatusBadGateway, status.BAD_GATEWAY, "an error occurred while decoding sold tickets from shotgun")
		}
	}

	next, _ := ExtractCursor(resp.Pagination.Next)

	return SoldTicketPage{
		Tickets:      tickets,
		NextCursor:   next,
		TotalResults: resp.Pagination.TotalResults,
	}, nil
}

// ListEvents implements ShotgunRepository.
func (r *shotgunRepository) ListEvents(ctx context.Context, past bool, limit int) ([]Event, error) {
	params := url.Values{}
	if past {
		params.Set("past_events", "true")
		params.Set("limit", strconv.Itoa(limit))
	}

	endpoint := fmt.Sprintf("organizers/%s/events", r.organizerID)

	body, err := r.get(ctx, endpoint, "events", params)
	if err != nil {
		return nil, err
	}

	var resp listResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error()
		return nil, errors.New(http.StatusBadGateway, status.BAD_GATEWAY, "an error occurred while decoding events from shotgun")
	}

	var events []Event
	if len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, &events); err != nil {
			r.logger.WithContext(ctx).WithError(err).Error()
			return nil, errors.New(http.StatusBadGateway, status.BAD_GATEWAY, "an error occurred while decoding events from shotgun")
		}
	}

	return events, nil
}

func (r *shotgunRepository) get(ctx context.Context, path, metricEndpoint string, params url.Values) ([]byte, error) {
	params.Set("key", r.apiKey)
	requestURL := fmt.Sprintf("%s/%s?%s", r.baseURL, path, params.Encode())

	hr, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error()
		return nil, errors.New(http.StatusInternalServerError, status.INTERNAL_SERVER_ERROR, "an error occurred while building the shotgun request")
	}

	hr.Header.Add("Accept", "application/json")

	hresp, err := r.hc.Do(hr)
	if err != nil {
		if isTimeout(err) {
			r.registry.RecordAPIRequest(metricEndpoint, "timeout")
			r.logger.WithContext(ctx).WithError(err).Error()
			return nil, errors.New(http.StatusGatewayTimeout, status.GATEWAY_TIMEOUT, "timeout during request to shotgun")
		}
		r.registry.RecordAPIRequest(metricEndpoint, "error")
		r.logger.WithContext(ctx).WithError(err).Error()
		return nil, errors.New(http.StatusBadGateway, status.BAD_GATEWAY, "an error occurred during request to shotgun")
	}

	defer hresp.Body.Close()

	respBody, err := io.ReadAll(hresp.Body)
	if err != nil {
		r.registry.RecordAPIRequest(metricEndpoint, "error")
		r.logger.WithContext(ctx).WithError(err).Error()
		return nil, errors.New(http.StatusBadGateway, status.BAD_GATEWAY, "an error occurred while reading the shotgun response")
	}

	if hresp.StatusCode < 200 || hresp.StatusCode > 299 {
		r.registry.RecordAPIRequest(metricEndpoint, "error")
		r.logger.WithContext(ctx).WithFields(logrus.Fields{
			"status_code": hresp.StatusCode,
			"body":        truncate(string(respBody), 500),
		}).Error("shotgun api returned a non-success status")
		return nil, errors.New(http.StatusBadGateway, status.BAD_GATEWAY, fmt.Sprintf("shotgun api returned status %d", hresp.StatusCode))
	}

	r.registry.RecordAPIRequest(metricEndpoint, "success")

	return respBody, nil
}

func isTimeout(err error) bool {
	var ne net.Error
	if goerrors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return goerrors.Is(err, context.DeadlineExceeded)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
