package httpapi

import (
	"crypto/rand"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	log "github.com/sirupsen/logrus"

	"possale/backend/internal/auth"
	"possale/backend/internal/report"
	"possale/backend/internal/service"
)

type Options struct {
	AllowedOrigin string
	// CSRFSecret signs CSRF tokens. A random secret is generated when empty,
	// which invalidates outstanding tokens on restart.
	CSRFSecret []byte
	Logger     log.FieldLogger
}

type API struct {
	service       *service.Service
	auth          *auth.Manager
	reports       *report.Engine
	allowedOrigin string
	loginLimiter  *attemptLimiter
	cancelLimiter *attemptLimiter
	csrf          *csrfSigner
	logger        log.FieldLogger
}

func New(svc *service.Service, authManager *auth.Manager, reports *report.Engine, opts Options) *API {
	secret := opts.CSRFSecret
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			panic("httpapi: crypto/rand unavailable: " + err.Error())
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &API{
		service:       svc,
		auth:          authManager,
		reports:       reports,
		allowedOrigin: opts.AllowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		cancelLimiter: newAttemptLimiter(8, time.Minute),
		csrf:          newCSRFSigner(secret),
		logger:        logger.WithField("component", "httpapi"),
	}
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(a.requestLogger)
	r.Use(a.recoverer)
	r.Use(securityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{a.allowedOrigin},
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))
	r.Use(limitBody)
	r.Use(a.checkCSRF)

	r.Get("/healthz", a.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", a.handleLogin)
		r.Get("/auth/csrf-token", a.handleCSRFToken)

		r.Group(func(r chi.Router) {
			r.Use(a.requireAuth)

			r.Get("/auth/me", a.handleMe)
			r.Post("/auth/password", a.handleChangePassword)

			r.Route("/products", func(r chi.Router) {
				r.Get("/", a.handleListProducts)
				r.Get("/{id}", a.handleGetProduct)
				r.With(requireAdmin).Post("/", a.handleCreateProduct)
				r.With(requireAdmin).Patch("/{id}", a.handleUpdateProduct)
				r.With(requireAdmin).Delete("/{id}", a.handleDeleteProduct)
				r.With(requireAdmin).Post("/{id}/restock", a.handleRestockProduct)
			})

			r.Get("/categories", a.handleListCategories)
			r.With(requireAdmin).Post("/categories", a.handleCreateCategory)

			r.Route("/sales", func(r chi.Router) {
				r.Post("/", a.handleCommitSale)
				r.Get("/", a.handleListSales)
				r.Get("/{id}", a.handleGetSale)
				r.Get("/{id}/receipt", a.handleReceipt)
				r.Post("/{id}/cancel", a.handleCancelSale)
			})

			r.With(requireAdmin).Get("/customers", a.handleListCustomers)
			r.Get("/customers/{phone}", a.handleGetCustomer)
			r.Put("/customers/{phone}", a.handleSaveCustomer)

			r.Get("/settings", a.handleGetSettings)
			r.With(requireAdmin).Put("/settings", a.handleUpdateSettings)

			r.Group(func(r chi.Router) {
				r.Use(requireAdmin)

				r.Get("/audit-logs", a.handleAuditLogs)

				r.Route("/reports", func(r chi.Router) {
					r.Get("/summary", a.handleSummaryReport)
					r.Get("/revenue-trend", a.handleTrendReport)
					r.Get("/categories", a.handleCategoryReport)
					r.Get("/profit-loss", a.handleProfitLossReport)
					r.Get("/products", a.handleProductReport)
					r.Get("/inventory", a.handleInventoryReport)
				})

				r.Route("/users", func(r chi.Router) {
					r.Get("/", a.handleListUsers)
					r.Post("/", a.handleCreateUser)
					r.Patch("/{username}/status", a.handleUserStatus)
					r.Post("/{username}/password", a.handleResetPassword)
				})
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, errRouteNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed)
	})

	return r
}
