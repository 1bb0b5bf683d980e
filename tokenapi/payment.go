package tokenapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	goPortal "github.com/MrEthical07/goPortal"
)

type paymentStatusResponse struct {
	Status string `json:"status"`
}

// PaymentStatus resolves paymentID to success, failed or pending.
//
// Any other status string is reported as a network failure so the engine
// never routes to an unknown status page.
func (c *Client) PaymentStatus(ctx context.Context, org string, session goPortal.SessionState, paymentID string) (string, error) {
	var out paymentStatusResponse
	path := organizationPath(org, "payment", paymentID, "status")
	if err := c.call(ctx, "payment_status", http.MethodGet, path, session.AuthToken, nil, &out); err != nil {
		return "", err
	}

	status := strings.ToLower(strings.TrimSpace(out.Status))
	switch status {
	case goPortal.PaymentStatusSuccess, goPortal.PaymentStatusFailed, goPortal.PaymentStatusPending:
		return status, nil
	default:
		return "", goPortal.NewNetworkError(fmt.Errorf("unexpected payment status %q", out.Status))
	}
}

var _ goPortal.PaymentStatusLookup = (*Client)(nil)
