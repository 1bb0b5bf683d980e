package orgconfig

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	goPortal "github.com/MrEthical07/goPortal"
	"gopkg.in/yaml.v3"
)

var (
	// ErrMissingSlug is returned when a file has no slug.
	ErrMissingSlug = errors.New("orgconfig: missing slug")
	// ErrInvalidSlug is returned when a slug is not usable as a path segment.
	ErrInvalidSlug = errors.New("orgconfig: invalid slug")
	// ErrDuplicateSlug is returned when two files of a directory share a slug.
	ErrDuplicateSlug = errors.New("orgconfig: duplicate slug")
)

var slugPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// File is the subset of an organization file the portal reads.
type File struct {
	Name     string   `yaml:"name"`
	Slug     string   `yaml:"slug"`
	Settings Settings `yaml:"settings"`
}

// Settings holds the feature switches of an organization. PaymentIframe and
// PasswordChangeExcludedMethods are pointers/nil-able so that an absent key
// can select the default.
type Settings struct {
	MobilePhoneVerification       bool     `yaml:"mobile_phone_verification"`
	Subscriptions                 bool     `yaml:"subscriptions"`
	PaymentRequiresInternet       bool     `yaml:"payment_requires_internet"`
	PaymentIframe                 *bool    `yaml:"payment_iframe"`
	PasswordChangeExcludedMethods []string `yaml:"password_change_excluded_methods"`
}

// Parse decodes one organization file.
func Parse(data []byte) (File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&f); err != nil {
		return File{}, fmt.Errorf("orgconfig: decode: %w", err)
	}
	f.Slug = strings.TrimSpace(f.Slug)
	if f.Slug == "" {
		return File{}, ErrMissingSlug
	}
	if !slugPattern.MatchString(f.Slug) {
		return File{}, fmt.Errorf("%w: %q", ErrInvalidSlug, f.Slug)
	}
	return f, nil
}

// Policy normalizes f. An absent payment_iframe means iframe delivery and an
// absent password_change_excluded_methods means the default set; an explicit
// empty list excludes nothing.
func (f File) Policy() goPortal.OrganizationPolicy {
	p := goPortal.OrganizationPolicy{
		Slug:                           f.Slug,
		MobilePhoneVerificationEnabled: f.Settings.MobilePhoneVerification,
		SubscriptionsEnabled:           f.Settings.Subscriptions,
		PaymentRequiresInternet:        f.Settings.PaymentRequiresInternet,
		PaymentDeliveryMode:            goPortal.PaymentIframe,
	}
	if f.Settings.PaymentIframe != nil && !*f.Settings.PaymentIframe {
		p.PaymentDeliveryMode = goPortal.PaymentExternalRedirect
	}

	if f.Settings.PasswordChangeExcludedMethods == nil {
		p.PasswordChangeExcludedMethods = goPortal.DefaultPasswordChangeExcludedMethods()
	} else {
		p.PasswordChangeExcludedMethods = make(map[goPortal.VerificationMethod]struct{}, len(f.Settings.PasswordChangeExcludedMethods))
		for _, raw := range f.Settings.PasswordChangeExcludedMethods {
			if strings.TrimSpace(raw) == "" {
				continue
			}
			p.PasswordChangeExcludedMethods[goPortal.ParseVerificationMethod(raw)] = struct{}{}
		}
	}
	return p
}

// LoadFile reads and normalizes one organization file.
func LoadFile(path string) (goPortal.OrganizationPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return goPortal.OrganizationPolicy{}, err
	}
	f, err := Parse(data)
	if err != nil {
		return goPortal.OrganizationPolicy{}, fmt.Errorf("%s: %w", path, err)
	}
	return f.Policy(), nil
}

// LoadDir loads every .yml and .yaml file under dir, keyed by slug.
func LoadDir(dir string) (map[string]goPortal.OrganizationPolicy, error) {
	policies := make(map[string]goPortal.OrganizationPolicy)
	sources := make(map[string]string)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isConfigFile(path) {
			return nil
		}
		policy, err := LoadFile(path)
		if err != nil {
			return err
		}
		if prev, ok := sources[policy.Slug]; ok {
			return fmt.Errorf("%w: %q in %s and %s", ErrDuplicateSlug, policy.Slug, prev, path)
		}
		sources[policy.Slug] = path
		policies[policy.Slug] = policy
		return nil
	})
	if err != nil {
		return nil, err
	}
	return policies, nil
}

func isConfigFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".yml", ".yaml":
		return true
	default:
		return false
	}
}
