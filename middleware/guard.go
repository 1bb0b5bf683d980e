package middleware

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"

	goPortal "github.com/MrEthical07/goPortal"
	"github.com/MrEthical07/goPortal/session"
	"github.com/google/uuid"
)

const (
	// DefaultCookieName holds the session id.
	DefaultCookieName = "gp_session"
	// RequestIDHeader is read from and echoed to every response.
	RequestIDHeader = "X-Request-ID"
)

// PolicySource resolves the policy of an organization slug.
// *orgconfig.Registry implements it.
type PolicySource interface {
	Policy(slug string) (goPortal.OrganizationPolicy, bool)
}

// SessionStore is the part of *session.Store the gate needs.
type SessionStore interface {
	Get(ctx context.Context, sessionID string) (*session.Record, error)
	Apply(ctx context.Context, sessionID string, patch goPortal.SessionPatch) (goPortal.SessionState, error)
}

// Options configures the gate.
//
// PortalOrigins lists the origins the portal pages are served from
// (scheme://host[:port]). The payment event relay only accepts requests whose
// Origin header is one of them; when empty, the Origin host must equal the
// request host.
type Options struct {
	CookieName    string
	SecureCookie  bool
	PortalOrigins []string
}

// fromPortal reports whether r was sent by a portal page. Requests without
// an Origin header come from non-browser clients and are accepted.
func (o Options) fromPortal(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	if len(o.PortalOrigins) == 0 {
		return strings.EqualFold(u.Host, r.Host)
	}
	got := strings.ToLower(u.Scheme + "://" + u.Host)
	for _, allowed := range o.PortalOrigins {
		if strings.ToLower(strings.TrimRight(strings.TrimSpace(allowed), "/")) == got {
			return true
		}
	}
	return false
}

func (o Options) cookieName() string {
	if o.CookieName == "" {
		return DefaultCookieName
	}
	return o.CookieName
}

// Gate returns middleware that evaluates every request against engine.
//
// Unknown organizations answer 404. Redirect decisions answer 302 to the
// target route of the same organization; external payment decisions answer
// 302 to the payment URL. Allowed requests reach next with the state, policy
// and decision available through the context accessors.
//
//	Docs: docs/middleware.md
func Gate(engine *goPortal.Engine, sessions SessionStore, policies PolicySource, opts Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil || sessions == nil || policies == nil {
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				return
			}

			ctx := requestContext(w, r)
			req := goPortal.ParseRoute(r.URL.Path)
			org := req.Org()

			policy, ok := policies.Policy(org)
			if !ok {
				http.NotFound(w, r)
				return
			}

			state, err := loadSession(ctx, r, sessions, org, opts)
			if err != nil {
				http.Error(w, "service unavailable", http.StatusServiceUnavailable)
				return
			}
			if state.ID != "" {
				engine.Navigate(state.ID)
			}

			d, err := engine.Evaluate(ctx, state, policy, req)
			if err != nil {
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}

			state = applyPatch(ctx, sessions, state, d.Patch)
			if d.ForcedLogout {
				clearSessionCookie(w, opts)
			}

			switch {
			case d.Verdict.Kind == goPortal.VerdictRedirect:
				http.Redirect(w, r, goPortal.Path(org, d.Verdict.Target), http.StatusFound)
			case d.ExternalURL != "":
				http.Redirect(w, r, d.ExternalURL, http.StatusFound)
			default:
				next.ServeHTTP(w, r.WithContext(withGateValues(ctx, state, policy, d)))
			}
		})
	}
}

// requestContext attaches the request id, client ip and user agent used by
// engine audit events.
func requestContext(w http.ResponseWriter, r *http.Request) context.Context {
	id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
	if id == "" || len(id) > 128 {
		id = uuid.NewString()
	}
	w.Header().Set(RequestIDHeader, id)

	ctx := goPortal.WithRequestID(r.Context(), id)
	ctx = goPortal.WithClientIP(ctx, clientIP(r))
	return goPortal.WithUserAgent(ctx, r.UserAgent())
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// loadSession returns the session of the request, or the anonymous state
// when there is none, it expired or it belongs to another organization.
func loadSession(ctx context.Context, r *http.Request, sessions SessionStore, org string, opts Options) (goPortal.SessionState, error) {
	id := sessionID(r, opts)
	if id == "" {
		return goPortal.SessionState{}, nil
	}

	record, err := sessions.Get(ctx, id)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) || errors.Is(err, session.ErrSessionCorrupt) {
			return goPortal.SessionState{}, nil
		}
		log.Printf("goPortal: load session: %v", err)
		return goPortal.SessionState{}, err
	}
	if record.Org != "" && record.Org != org {
		return goPortal.SessionState{}, nil
	}
	return record.State, nil
}

// applyPatch persists a decision patch. A failed write is logged and the
// patch is applied to the in-memory state only.
func applyPatch(ctx context.Context, sessions SessionStore, state goPortal.SessionState, patch goPortal.SessionPatch) goPortal.SessionState {
	if patch.Empty() {
		return state
	}
	if state.ID == "" {
		return state.Apply(patch)
	}
	next, err := sessions.Apply(context.WithoutCancel(ctx), state.ID, patch)
	if err != nil {
		log.Printf("goPortal: apply session patch for %s: %v", state.ID, err)
		return state.Apply(patch)
	}
	return next
}

func sessionID(r *http.Request, opts Options) string {
	if c, err := r.Cookie(opts.cookieName()); err == nil && c.Value != "" {
		return c.Value
	}
	if id, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return id
	}
	return ""
}

// SetSessionCookie writes the session cookie for id.
func SetSessionCookie(w http.ResponseWriter, id string, opts Options) {
	http.SetCookie(w, &http.Cookie{
		Name:     opts.cookieName(),
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   opts.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter, opts Options) {
	http.SetCookie(w, &http.Cookie{
		Name:     opts.cookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   opts.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
