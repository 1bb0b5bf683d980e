package tokenapi

import (
	"context"
	"math"
	"net/http"
	"time"

	goPortal "github.com/MrEthical07/goPortal"
)

type activeTokenResponse struct {
	Active bool `json:"active"`
}

type issueTokenResponse struct {
	Cooldown float64 `json:"cooldown"`
}

type verifyCodeRequest struct {
	Code string `json:"code"`
}

type changePhoneRequest struct {
	PhoneNumber string `json:"phone_number"`
}

// ActiveToken reports whether a verification token is already active for
// the session. The service answers 404 when none exists; that is returned as
// a ServiceError of kind goPortal.ErrNotFound.
func (c *Client) ActiveToken(ctx context.Context, org string, session goPortal.SessionState) (bool, error) {
	var out activeTokenResponse
	path := organizationPath(org, "account", "phone", "token", "active")
	if err := c.call(ctx, "active_token", http.MethodGet, path, session.AuthToken, nil, &out); err != nil {
		return false, err
	}
	return out.Active, nil
}

// IssueToken asks the service to send a new verification code.
func (c *Client) IssueToken(ctx context.Context, org string, session goPortal.SessionState) (goPortal.PhoneTokenIssue, error) {
	var out issueTokenResponse
	path := organizationPath(org, "account", "phone", "token")
	if err := c.call(ctx, "issue_token", http.MethodPost, path, session.AuthToken, struct{}{}, &out); err != nil {
		return goPortal.PhoneTokenIssue{}, err
	}

	var issue goPortal.PhoneTokenIssue
	if out.Cooldown > 0 {
		issue.Cooldown = time.Duration(math.Round(out.Cooldown*1000)) * time.Millisecond
	}
	return issue, nil
}

// VerifyCode submits the code the user received.
func (c *Client) VerifyCode(ctx context.Context, org string, session goPortal.SessionState, code string) error {
	path := organizationPath(org, "account", "phone", "verify")
	return c.call(ctx, "verify_code", http.MethodPost, path, session.AuthToken, verifyCodeRequest{Code: code}, nil)
}

// ChangePhoneNumber registers a new phone number for the session owner. The
// service issues a new token for it.
func (c *Client) ChangePhoneNumber(ctx context.Context, org string, session goPortal.SessionState, phoneNumber string) error {
	path := organizationPath(org, "account", "phone", "change")
	return c.call(ctx, "change_phone", http.MethodPost, path, session.AuthToken, changePhoneRequest{PhoneNumber: phoneNumber}, nil)
}

var _ goPortal.TokenService = (*Client)(nil)
