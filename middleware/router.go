package middleware

import (
	"net/http"

	goPortal "github.com/MrEthical07/goPortal"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// RouterConfig wires the dependencies of NewRouter.
type RouterConfig struct {
	Engine   *goPortal.Engine
	Sessions SessionStore
	Policies PolicySource
	Options  Options

	// Page renders allowed page requests. Nil selects a JSON view.
	Page http.Handler
}

// NewRouter returns the portal handler. Page routes live under /{org}/ and
// are guarded by Gate; actions live under /{org}/api/v1/.
func NewRouter(cfg RouterConfig) http.Handler {
	page := cfg.Page
	if page == nil {
		page = http.HandlerFunc(jsonPage)
	}
	a := &actions{
		engine:   cfg.Engine,
		sessions: cfg.Sessions,
		policies: cfg.Policies,
		opts:     cfg.Options,
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	r.Route("/{org}", func(org chi.Router) {
		org.Route("/api/v1", func(api chi.Router) {
			api.Use(a.requireSession)
			api.Get("/phone/token", a.phoneTokenStatus)
			api.Post("/phone/token", a.ensurePhoneToken)
			api.Post("/phone/token/resend", a.resendPhoneToken)
			api.Post("/phone/verify", a.submitPhoneCode)
			api.Post("/phone/change", a.changePhoneNumber)
			api.Post("/payment/proceed", a.proceedToPayment)
			api.Post("/payment/event", a.paymentEvent)
			api.Post("/payment/logout", a.paymentLogout)
			api.Post("/logout", a.logout)
		})

		org.Group(func(pages chi.Router) {
			pages.Use(Gate(cfg.Engine, cfg.Sessions, cfg.Policies, cfg.Options))
			pages.Get("/login", page.ServeHTTP)
			pages.Get("/registration", page.ServeHTTP)
			pages.Get("/status", page.ServeHTTP)
			pages.Get("/change-password", page.ServeHTTP)
			pages.Get("/change-phone-number", page.ServeHTTP)
			pages.Get("/mobile-phone-verification", page.ServeHTTP)
			pages.Get("/password/reset", page.ServeHTTP)
			pages.Get("/password/reset/confirm/{uid}/{token}", page.ServeHTTP)
			pages.Get("/payment/{status}", page.ServeHTTP)
		})
	})

	return r
}

type pageView struct {
	Route           string `json:"route"`
	Screen          string `json:"screen,omitempty"`
	IsAuthenticated bool   `json:"is_authenticated"`
	IsVerified      bool   `json:"is_verified"`
	Method          string `json:"method,omitempty"`
	ClearErrors     bool   `json:"clear_errors,omitempty"`
}

func jsonPage(w http.ResponseWriter, r *http.Request) {
	state, _ := StateFromContext(r.Context())
	d, _ := DecisionFromContext(r.Context())
	req := goPortal.ParseRoute(r.URL.Path)

	writeJSON(w, http.StatusOK, pageView{
		Route:           string(req.Route),
		Screen:          string(d.Screen),
		IsAuthenticated: state.IsAuthenticated,
		IsVerified:      state.IsVerified,
		Method:          string(state.Method),
		ClearErrors:     d.ClearErrors,
	})
}
