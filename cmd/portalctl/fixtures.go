package main

import (
	"bytes"
	"fmt"
	"os"

	goPortal "github.com/MrEthical07/goPortal"
	"github.com/MrEthical07/goPortal/orgconfig"
	"gopkg.in/yaml.v3"
)

// sessionFixture is the YAML shape of a session snapshot.
type sessionFixture struct {
	ID              string `yaml:"id"`
	Username        string `yaml:"username"`
	IsAuthenticated bool   `yaml:"is_authenticated"`
	IsVerified      bool   `yaml:"is_verified"`
	IsActive        bool   `yaml:"is_active"`
	Method          string `yaml:"method"`
	PhoneNumber     string `yaml:"phone_number"`
	PaymentURL      string `yaml:"payment_url"`
	PasswordExpired bool   `yaml:"password_expired"`
}

func (f sessionFixture) state() goPortal.SessionState {
	return goPortal.SessionState{
		ID:              f.ID,
		Username:        f.Username,
		IsAuthenticated: f.IsAuthenticated,
		IsVerified:      f.IsVerified,
		IsActive:        f.IsActive,
		Method:          goPortal.ParseVerificationMethod(f.Method),
		PhoneNumber:     f.PhoneNumber,
		PaymentURL:      f.PaymentURL,
		PasswordExpired: f.PasswordExpired,
	}
}

func loadSessionFixture(path string) (goPortal.SessionState, error) {
	if path == "" {
		return goPortal.SessionState{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return goPortal.SessionState{}, err
	}
	var f sessionFixture
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return goPortal.SessionState{}, fmt.Errorf("session fixture %s: %w", path, err)
	}
	return f.state(), nil
}

func loadPolicy(path string) (goPortal.OrganizationPolicy, error) {
	if path == "" {
		return goPortal.OrganizationPolicy{}, fmt.Errorf("--org is required")
	}
	return orgconfig.LoadFile(path)
}
