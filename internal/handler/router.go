package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"

	"papertrade/internal/auth"
	"papertrade/internal/service"
)

// ctxKey is the type for context keys set by middleware.
type ctxKey int

const ctxKeyUserID ctxKey = iota

// UserID returns the authenticated user ID stored in the request context
// by the auth middleware. The second return is false for unauthenticated
// requests.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKeyUserID).(string)
	return id, ok
}

// NewRouter creates a chi router with all routes registered, request logging,
// CORS, and Content-Type validation middleware. Routes under the account and
// order groups require a valid bearer token.
func NewRouter(
	authSvc *auth.Service,
	accountSvc *service.AccountService,
	orderSvc *service.OrderService,
	logger *slog.Logger,
) chi.Router {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(requestLogging(logger))
	r.Use(cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}).Handler)
	r.Use(contentTypeJSON)

	// Create handlers.
	authH := NewAuthHandler(authSvc)
	accountH := NewAccountHandler(accountSvc)
	orderH := NewOrderHandler(orderSvc, accountSvc)

	// Health check.
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Auth routes.
	r.Post("/auth/register", authH.Register)
	r.Post("/auth/login", authH.Login)

	// Authenticated routes.
	r.Group(func(r chi.Router) {
		r.Use(requireAuth(authSvc))

		r.Get("/account", accountH.GetAccount)
		r.Post("/account/deposit", accountH.Deposit)
		r.Get("/holdings", accountH.ListHoldings)

		r.Post("/orders", orderH.PlaceOrder)
		r.Get("/orders", orderH.ListOrders)
		r.Get("/orders/pending/watch", orderH.WatchPendingOrders)
		r.Get("/orders/{order_id}", orderH.GetOrder)
		r.Delete("/orders/{order_id}", orderH.CancelOrder)
	})

	return r
}

// requireAuth returns middleware that verifies the Authorization bearer
// token and stores the authenticated user ID in the request context.
func requireAuth(authSvc *auth.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				WriteError(w, http.StatusUnauthorized, "unauthorized",
					"missing or malformed Authorization header")
				return
			}

			userID, err := authSvc.VerifyToken(token)
			if err != nil {
				WriteError(w, http.StatusUnauthorized, "unauthorized",
					"invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requestLogging returns middleware that logs each request's method, path,
// status code, and duration using slog.
func requestLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the underlying writer so streaming handlers work
// through the logging middleware.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// contentTypeJSON is middleware that validates Content-Type for POST, PUT, and
// PATCH requests. If the Content-Type header doesn't start with
// "application/json", it returns 400 Bad Request before the handler runs.
func contentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if ct == "" || !strings.HasPrefix(ct, "application/json") {
				WriteError(w, http.StatusBadRequest, "invalid_request",
					"Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
