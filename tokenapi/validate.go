package tokenapi

import (
	"context"
	"errors"
	"net/http"

	goPortal "github.com/MrEthical07/goPortal"
)

const responseCodeValidationSuccessful = "AUTH_TOKEN_VALIDATION_SUCCESSFUL"

type validateTokenRequest struct {
	Token string `json:"token"`
}

type validateTokenResponse struct {
	ResponseCode string `json:"response_code"`
}

// Validator adapts a Client to goPortal.TokenValidator. The organization is
// taken from goPortal.OrganizationFromContext, which the engine sets before
// every validation.
type Validator struct {
	client *Client
}

// NewValidator returns a remote Validator backed by c.
func NewValidator(c *Client) *Validator {
	return &Validator{client: c}
}

// Validate reports whether the service still accepts session.AuthToken.
// 401 and 403 answers mean the token is invalid; other failures are
// returned as errors (the engine fails closed on both).
func (v *Validator) Validate(ctx context.Context, session goPortal.SessionState) (bool, error) {
	if v == nil || v.client == nil || session.AuthToken == "" {
		return false, nil
	}
	org := goPortal.OrganizationFromContext(ctx)
	if org == "" {
		return false, goPortal.ErrInvalidOrganization
	}

	var out validateTokenResponse
	path := organizationPath(org, "account", "token", "validate")
	err := v.client.call(ctx, "validate_token", http.MethodPost, path, "", validateTokenRequest{Token: session.AuthToken}, &out)
	if err != nil {
		var se *goPortal.ServiceError
		if errors.As(err, &se) && (se.Status == http.StatusUnauthorized || se.Status == http.StatusForbidden) {
			return false, nil
		}
		return false, err
	}
	return out.ResponseCode == responseCodeValidationSuccessful, nil
}

var _ goPortal.TokenValidator = (*Validator)(nil)
