package jwt

import (
	"context"
	"strings"

	goPortal "github.com/MrEthical07/goPortal"
)

// Validator checks a session's AuthToken locally. It implements
// goPortal.TokenValidator.
//
// A token that fails verification, belongs to another session or to
// another organization is reported as invalid with a nil error; the engine
// then forces a logout.
type Validator struct {
	manager *Manager
}

// NewValidator returns a Validator backed by m. When ctx carries an
// organization (see goPortal.WithOrganization), tokens issued for a
// different organization are rejected.
func NewValidator(m *Manager) *Validator {
	return &Validator{manager: m}
}

// Validate reports whether session.AuthToken is a valid token for session.
func (v *Validator) Validate(ctx context.Context, session goPortal.SessionState) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	token := strings.TrimSpace(session.AuthToken)
	if v == nil || v.manager == nil || token == "" {
		return false, nil
	}

	claims, err := v.manager.Parse(token)
	if err != nil {
		return false, nil
	}
	if session.ID != "" && claims.SID != session.ID {
		return false, nil
	}
	if org := goPortal.OrganizationFromContext(ctx); org != "" && claims.Org != org {
		return false, nil
	}
	return true, nil
}

var _ goPortal.TokenValidator = (*Validator)(nil)
