package httpserver

import (
	"net/http"

	"railbook/backend/services/booking-service/internal/http/handlers"
	"railbook/backend/services/booking-service/internal/http/middleware"
)

// RouterDeps collects handler dependencies.
type RouterDeps struct {
	LoginHandlers      *handlers.LoginHandlers
	UserHandlers       *handlers.UserHandlers
	StationsHandlers   *handlers.StationsHandlers
	TicketsHandlers    *handlers.TicketsHandlers
	PassengersHandlers *handlers.PassengersHandlers
	BookingHandlers    *handlers.BookingHandlers
	HealthHandler      http.HandlerFunc
}

// NewRouter wires HTTP routes. Everything under /api is bound to a session cookie.
func NewRouter(deps RouterDeps, sessionMiddleware func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/health", method(http.MethodGet, deps.HealthHandler))

	withSession := func(handler http.HandlerFunc) http.Handler {
		return middleware.Chain(handler, sessionMiddleware)
	}

	mux.Handle("/api/login/qrcode", method(http.MethodPost, withSession(deps.LoginHandlers.QRCode)))
	mux.Handle("/api/login/status/{uuid}", method(http.MethodGet, withSession(deps.LoginHandlers.Status)))
	mux.Handle("/api/login/ws/{uuid}", method(http.MethodGet, withSession(deps.LoginHandlers.Watch)))
	mux.Handle("/api/login/cancel/{uuid}", method(http.MethodPost, withSession(deps.LoginHandlers.Cancel)))

	mux.Handle("/api/user/status", method(http.MethodGet, withSession(deps.UserHandlers.Status)))
	mux.Handle("/api/user/logout", method(http.MethodPost, withSession(deps.UserHandlers.Logout)))

	mux.Handle("/api/stations", method(http.MethodGet, http.HandlerFunc(deps.StationsHandlers.Names)))
	mux.Handle("/api/stations/list", method(http.MethodGet, http.HandlerFunc(deps.StationsHandlers.List)))
	mux.Handle("/api/stations/suggest", method(http.MethodGet, http.HandlerFunc(deps.StationsHandlers.Suggest)))

	mux.Handle("/api/tickets/query", method(http.MethodPost, withSession(deps.TicketsHandlers.Query)))
	mux.Handle("/api/tickets/smart-query", method(http.MethodPost, withSession(deps.TicketsHandlers.SmartQuery)))
	mux.Handle("/api/tickets/batch-query", method(http.MethodPost, withSession(deps.TicketsHandlers.BatchQuery)))

	mux.Handle("/api/passengers", method(http.MethodGet, withSession(deps.PassengersHandlers.List)))

	mux.Handle("/api/booking/submit", method(http.MethodPost, withSession(deps.BookingHandlers.Submit)))
	mux.Handle("/api/booking/history", method(http.MethodGet, withSession(deps.BookingHandlers.History)))

	return mux
}

func method(expected string, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != expected {
			w.Header().Set("Allow", expected)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
