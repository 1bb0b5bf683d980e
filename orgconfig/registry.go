package orgconfig

import (
	"sort"
	"sync"

	goPortal "github.com/MrEthical07/goPortal"
)

// Registry is a concurrency-safe set of organization policies.
type Registry struct {
	mu       sync.RWMutex
	policies map[string]goPortal.OrganizationPolicy
}

// NewRegistry returns a Registry holding policies.
func NewRegistry(policies map[string]goPortal.OrganizationPolicy) *Registry {
	r := &Registry{}
	r.Replace(policies)
	return r
}

// Policy returns the policy of slug. The returned value owns its excluded
// method set; mutating it does not affect the registry.
func (r *Registry) Policy(slug string) (goPortal.OrganizationPolicy, bool) {
	r.mu.RLock()
	p, ok := r.policies[slug]
	r.mu.RUnlock()
	if !ok {
		return goPortal.OrganizationPolicy{}, false
	}
	return clonePolicy(p), true
}

// Replace swaps the whole set atomically.
func (r *Registry) Replace(policies map[string]goPortal.OrganizationPolicy) {
	next := make(map[string]goPortal.OrganizationPolicy, len(policies))
	for slug, p := range policies {
		next[slug] = clonePolicy(p)
	}
	r.mu.Lock()
	r.policies = next
	r.mu.Unlock()
}

// Slugs returns the known organizations in sorted order.
func (r *Registry) Slugs() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.policies))
	for slug := range r.policies {
		out = append(out, slug)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

func clonePolicy(p goPortal.OrganizationPolicy) goPortal.OrganizationPolicy {
	if p.PasswordChangeExcludedMethods != nil {
		set := make(map[goPortal.VerificationMethod]struct{}, len(p.PasswordChangeExcludedMethods))
		for m := range p.PasswordChangeExcludedMethods {
			set[m] = struct{}{}
		}
		p.PasswordChangeExcludedMethods = set
	}
	return p
}
