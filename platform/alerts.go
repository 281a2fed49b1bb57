package platform

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Severity buckets alerts for triage.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Alert is one triage item on the dashboard.
type Alert struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Severity     Severity  `json:"severity"`
	Status       string    `json:"status"`
	Source       string    `json:"source"`
	ResourceName string    `json:"resourceName,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// AlertFilter narrows an alert listing.
type AlertFilter struct {
	Severity Severity
	Status   string
	Limit    int
}

type listAlertsResponse struct {
	Alerts []Alert `json:"alerts"`
	Total  int     `json:"total"`
}

// ListAlerts returns alerts matching the filter.
func (c *Client) ListAlerts(ctx context.Context, filter AlertFilter) ([]Alert, error) {
	query := url.Values{}
	if filter.Severity != "" {
		query.Set("severity", string(filter.Severity))
	}
	if filter.Status != "" {
		query.Set("status", filter.Status)
	}
	if filter.Limit > 0 {
		query.Set("limit", strconv.Itoa(filter.Limit))
	}

	var resp listAlertsResponse
	if err := c.getJSON(ctx, "/v1/alerts", query, &resp); err != nil {
		return nil, errors.Wrap(err, "[Client.ListAlerts] getJSON")
	}
	return resp.Alerts, nil
}

// AcknowledgeAlert marks an alert as acknowledged by the current user.
func (c *Client) AcknowledgeAlert(ctx context.Context, alertID string) error {
	if alertID == "" {
		return errors.New("[Client.AcknowledgeAlert] alert id is required")
	}
	err := c.postJSON(ctx, "/v1/alerts/"+url.PathEscape(alertID)+"/ack", struct{}{}, nil)
	return errors.Wrap(err, "[Client.AcknowledgeAlert] postJSON")
}
