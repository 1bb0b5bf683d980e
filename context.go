package goPortal

import "context"

type clientIPContextKey struct{}
type requestIDContextKey struct{}
type userAgentContextKey struct{}
type organizationContextKey struct{}

// WithClientIP attaches the caller’s IP address to ctx. The Engine copies it
// into audit events.
//
//	Docs: docs/audit.md
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithRequestID attaches a request correlation id to ctx. The HTTP gate sets
// one per request; audit events and token service calls carry it.
//
//	Docs: docs/audit.md
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDContextKey{}, id)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx for audit metadata.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// WithOrganization attaches the organization slug being evaluated. The
// engine sets it before calling the TokenValidator so that validators can
// reject tokens issued for another organization.
func WithOrganization(ctx context.Context, slug string) context.Context {
	return context.WithValue(ctx, organizationContextKey{}, slug)
}

// OrganizationFromContext returns the slug set by WithOrganization, or "".
func OrganizationFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	slug, _ := ctx.Value(organizationContextKey{}).(string)
	return slug
}

// RequestIDFromContext returns the id set by WithRequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	id, _ := ctx.Value(requestIDContextKey{}).(string)
	return id
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	userAgent, _ := ctx.Value(userAgentContextKey{}).(string)
	return userAgent
}
