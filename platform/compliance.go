package platform

import (
	"context"
	"net/url"
	"time"

	"github.com/pkg/errors"
)

// ControlResult is the pass/fail outcome for one compliance control.
type ControlResult struct {
	ControlID   string `json:"controlId"`
	Title       string `json:"title"`
	Passed      bool   `json:"passed"`
	FailedCount int    `json:"failedCount"`
}

// ComplianceReport summarizes posture against one framework.
type ComplianceReport struct {
	Framework   string          `json:"framework"`
	Score       float64         `json:"score"`
	Controls    []ControlResult `json:"controls"`
	GeneratedAt time.Time       `json:"generatedAt"`
}

// GetComplianceReport fetches the latest report for a framework
// (e.g. "cis-aws", "soc2").
func (c *Client) GetComplianceReport(ctx context.Context, framework string) (*ComplianceReport, error) {
	if framework == "" {
		return nil, errors.New("[Client.GetComplianceReport] framework is required")
	}
	var report ComplianceReport
	if err := c.getJSON(ctx, "/v1/compliance/"+url.PathEscape(framework), nil, &report); err != nil {
		return nil, errors.Wrap(err, "[Client.GetComplianceReport] getJSON")
	}
	return &report, nil
}
