package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/garageworks/autoshop/internal/apperr"
	"github.com/garageworks/autoshop/internal/auth"
	"github.com/garageworks/autoshop/internal/db"
	"github.com/garageworks/autoshop/internal/metrics"
	"github.com/garageworks/autoshop/internal/middleware"
	"github.com/garageworks/autoshop/internal/models"
	"github.com/garageworks/autoshop/internal/services"
	"github.com/garageworks/autoshop/pkg/config"
	"github.com/gorilla/mux"
)

// App holds application dependencies
type App struct {
	config           *config.Config
	db               *db.DB
	metrics          *metrics.AppMetrics
	tokens           *auth.TokenIssuer
	authService      *auth.Service
	productService   *services.ProductService
	repairService    *services.RepairCatalogService
	requestService   *services.RequestService
	dashboardService *services.DashboardService
}

// NewApp creates a new application instance
func NewApp(
	cfg *config.Config,
	database *db.DB,
	m *metrics.AppMetrics,
	tokens *auth.TokenIssuer,
	as *auth.Service,
	ps *services.ProductService,
	rs *services.RepairCatalogService,
	reqs *services.RequestService,
	ds *services.DashboardService,
) *App {
	return &App{
		config:           cfg,
		db:               database,
		metrics:          m,
		tokens:           tokens,
		authService:      as,
		productService:   ps,
		repairService:    rs,
		requestService:   reqs,
		dashboardService: ds,
	}
}

// SetupRoutes configures the HTTP routes
func (a *App) SetupRoutes(r *mux.Router) {
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.CORSMiddleware)
	r.Use(middleware.RecoverMiddleware)
	r.Use(middleware.MetricsMiddleware(a.metrics))

	api := r.PathPrefix("/api/v1").Subrouter()

	// Public
	api.HandleFunc("/auth/register", a.RegisterHandler).Methods("POST")
	api.HandleFunc("/auth/login", a.LoginHandler).Methods("POST")

	// Authenticated
	authed := api.NewRoute().Subrouter()
	authed.Use(auth.Middleware(a.tokens))

	// Products
	authed.HandleFunc("/products", a.ListProductsHandler).Methods("GET")
	authed.HandleFunc("/products", a.CreateProductHandler).Methods("POST")
	authed.HandleFunc("/products/{id}", a.GetProductHandler).Methods("GET")
	authed.HandleFunc("/products/{id}", a.UpdateProductHandler).Methods("PUT")
	authed.HandleFunc("/products/{id}", a.DeactivateProductHandler).Methods("DELETE")
	authed.HandleFunc("/products/{id}/sell", a.SellProductHandler).Methods("POST")
	authed.HandleFunc("/products/{id}/buy", a.BuyProductHandler).Methods("POST")

	// Repair services
	authed.HandleFunc("/repairs", a.ListRepairsHandler).Methods("GET")
	authed.HandleFunc("/repairs", a.CreateRepairHandler).Methods("POST")
	authed.HandleFunc("/repairs/{id}", a.GetRepairHandler).Methods("GET")
	authed.HandleFunc("/repairs/{id}", a.UpdateRepairHandler).Methods("PUT")
	authed.HandleFunc("/repairs/{id}", a.DeactivateRepairHandler).Methods("DELETE")

	// Service requests
	authed.HandleFunc("/requests", a.CreateRequestHandler).Methods("POST")
	authed.HandleFunc("/requests", a.ListRequestsHandler).Methods("GET")
	authed.HandleFunc("/requests/{id}", a.GetRequestHandler).Methods("GET")
	authed.HandleFunc("/requests/{id}", a.UpdateRequestHandler).Methods("PUT")
	authed.HandleFunc("/requests/{id}/status", a.TransitionRequestHandler).Methods("PATCH")

	// Current user
	authed.HandleFunc("/users/me", a.MeHandler).Methods("GET")

	// Dashboards
	authed.HandleFunc("/dashboard/user", a.UserDashboardHandler).Methods("GET")
	authed.HandleFunc("/dashboard/admin", a.AdminDashboardHandler).Methods("GET")

	// Health
	r.HandleFunc("/health", a.HealthHandler).Methods("GET")
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// writeError maps the error taxonomy onto HTTP status codes
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperr.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, apperr.ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, apperr.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperr.ErrInsufficientStock):
		status = http.StatusConflict
	}
	respondJSON(w, status, map[string]string{"error": err.Error()})
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return 0, apperr.ErrInvalidInput
	}
	return id, nil
}

func principal(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFrom(r.Context())
	return p
}

func pagination(r *http.Request) (limit, offset int) {
	limit, offset = 20, 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}

// HealthHandler handles health check requests
func (a *App) HealthHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// RegisterHandler handles POST /api/v1/auth/register
func (a *App) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.ErrInvalidInput)
		return
	}
	resp, err := a.authService.Register(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, resp)
}

// LoginHandler handles POST /api/v1/auth/login
func (a *App) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.ErrInvalidInput)
		return
	}
	resp, err := a.authService.Login(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// ListProductsHandler handles GET /api/v1/products
func (a *App) ListProductsHandler(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	includeInactive := r.URL.Query().Get("include_inactive") == "1"

	products, err := a.productService.ListProducts(r.Context(), includeInactive, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	if products == nil {
		products = []models.Product{}
	}
	respondJSON(w, http.StatusOK, products)
}

// GetProductHandler handles GET /api/v1/products/{id}. Inactive products
// still resolve here so existing request references stay inspectable.
func (a *App) GetProductHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	product, err := a.productService.GetProduct(r.Context(), id, false)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, product)
}

// CreateProductHandler handles POST /api/v1/products (admin only)
func (a *App) CreateProductHandler(w http.ResponseWriter, r *http.Request) {
	if d := auth.CanWriteCatalog(principal(r)); !d.Allowed {
		writeError(w, apperr.ErrForbidden)
		return
	}
	var in models.ProductInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, apperr.ErrInvalidInput)
		return
	}
	product, err := a.productService.CreateProduct(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, product)
}

// UpdateProductHandler handles PUT /api/v1/products/{id} (admin only)
func (a *App) UpdateProductHandler(w http.ResponseWriter, r *http.Request) {
	if d := auth.CanWriteCatalog(principal(r)); !d.Allowed {
		writeError(w, apperr.ErrForbidden)
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var in models.ProductInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, apperr.ErrInvalidInput)
		return
	}
	product, err := a.productService.UpdateProduct(r.Context(), id, in)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, product)
}

// DeactivateProductHandler handles DELETE /api/v1/products/{id} (admin only, soft delete)
func (a *App) DeactivateProductHandler(w http.ResponseWriter, r *http.Request) {
	if d := auth.CanWriteCatalog(principal(r)); !d.Allowed {
		writeError(w, apperr.ErrForbidden)
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := a.productService.DeactivateProduct(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"id": id, "is_active": false})
}

// SellProductHandler handles POST /api/v1/products/{id}/sell
func (a *App) SellProductHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req models.StockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.ErrInvalidInput)
		return
	}
	resp, err := a.productService.Sell(r.Context(), id, req.Quantity)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// BuyProductHandler handles POST /api/v1/products/{id}/buy
func (a *App) BuyProductHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req models.StockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.ErrInvalidInput)
		return
	}
	resp, err := a.productService.Buy(r.Context(), id, req.Quantity)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// ListRepairsHandler handles GET /api/v1/repairs
func (a *App) ListRepairsHandler(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	includeInactive := r.URL.Query().Get("include_inactive") == "1"

	repairs, err := a.repairService.ListRepairs(r.Context(), includeInactive, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	if repairs == nil {
		repairs = []models.RepairService{}
	}
	respondJSON(w, http.StatusOK, repairs)
}

// GetRepairHandler handles GET /api/v1/repairs/{id}
func (a *App) GetRepairHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	repair, err := a.repairService.GetRepair(r.Context(), id, false)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, repair)
}

// CreateRepairHandler handles POST /api/v1/repairs (admin only)
func (a *App) CreateRepairHandler(w http.ResponseWriter, r *http.Request) {
	if d := auth.CanWriteCatalog(principal(r)); !d.Allowed {
		writeError(w, apperr.ErrForbidden)
		return
	}
	var in models.RepairServiceInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, apperr.ErrInvalidInput)
		return
	}
	repair, err := a.repairService.CreateRepair(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, repair)
}

// UpdateRepairHandler handles PUT /api/v1/repairs/{id} (admin only)
func (a *App) UpdateRepairHandler(w http.ResponseWriter, r *http.Request) {
	if d := auth.CanWriteCatalog(principal(r)); !d.Allowed {
		writeError(w, apperr.ErrForbidden)
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var in models.RepairServiceInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, apperr.ErrInvalidInput)
		return
	}
	repair, err := a.repairService.UpdateRepair(r.Context(), id, in)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, repair)
}

// DeactivateRepairHandler handles DELETE /api/v1/repairs/{id} (admin only, soft delete)
func (a *App) DeactivateRepairHandler(w http.ResponseWriter, r *http.Request) {
	if d := auth.CanWriteCatalog(principal(r)); !d.Allowed {
		writeError(w, apperr.ErrForbidden)
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := a.repairService.DeactivateRepair(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"id": id, "is_active": false})
}

// CreateRequestHandler handles POST /api/v1/requests. The owner is always
// the authenticated principal, never a body field.
func (a *App) CreateRequestHandler(w http.ResponseWriter, r *http.Request) {
	var in models.ServiceRequestInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, apperr.ErrInvalidInput)
		return
	}
	request, err := a.requestService.Create(r.Context(), principal(r), in)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, request)
}

// ListRequestsHandler handles GET /api/v1/requests
func (a *App) ListRequestsHandler(w http.ResponseWriter, r *http.Request) {
	requests, err := a.requestService.List(r.Context(), principal(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if requests == nil {
		requests = []models.ServiceRequest{}
	}
	respondJSON(w, http.StatusOK, requests)
}

// GetRequestHandler handles GET /api/v1/requests/{id}
func (a *App) GetRequestHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	request, err := a.requestService.Get(r.Context(), principal(r), id)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, request)
}

// UpdateRequestHandler handles PUT /api/v1/requests/{id}
func (a *App) UpdateRequestHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var in models.ServiceRequestInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, apperr.ErrInvalidInput)
		return
	}
	request, err := a.requestService.Update(r.Context(), principal(r), id, in)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, request)
}

// TransitionRequestHandler handles PATCH /api/v1/requests/{id}/status (admin only)
func (a *App) TransitionRequestHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var in models.TransitionInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, apperr.ErrInvalidInput)
		return
	}
	request, err := a.requestService.Transition(r.Context(), principal(r), id, in)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, request)
}

// MeHandler handles GET /api/v1/users/me
func (a *App) MeHandler(w http.ResponseWriter, r *http.Request) {
	user, err := a.authService.GetUser(r.Context(), principal(r).UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

// UserDashboardHandler handles GET /api/v1/dashboard/user
func (a *App) UserDashboardHandler(w http.ResponseWriter, r *http.Request) {
	dashboard, err := a.dashboardService.UserDashboard(r.Context(), principal(r))
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dashboard)
}

// AdminDashboardHandler handles GET /api/v1/dashboard/admin (admin only)
func (a *App) AdminDashboardHandler(w http.ResponseWriter, r *http.Request) {
	if d := auth.CanViewAdminDashboard(principal(r)); !d.Allowed {
		writeError(w, apperr.ErrForbidden)
		return
	}
	dashboard, err := a.dashboardService.AdminDashboard(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dashboard)
}
