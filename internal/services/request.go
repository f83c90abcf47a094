package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/garageworks/autoshop/internal/apperr"
	"github.com/garageworks/autoshop/internal/auth"
	"github.com/garageworks/autoshop/internal/db"
	"github.com/garageworks/autoshop/internal/metrics"
	"github.com/garageworks/autoshop/internal/models"
	"github.com/garageworks/autoshop/internal/pricing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const requestColumns = "id, user_id, product_id, repair_id, quantity, notes, status, payment_status, total_price, created_at, updated_at"

// RequestService owns the service-request lifecycle. Every write path runs
// through the pricing engine, so a persisted total_price always matches the
// linked catalog items at the moment of the save.
type RequestService struct {
	db      *db.DB
	metrics *metrics.AppMetrics
}

// NewRequestService creates a new request service
func NewRequestService(database *db.DB, m *metrics.AppMetrics) *RequestService {
	return &RequestService{db: database, metrics: m}
}

func scanRequest(row interface{ Scan(...interface{}) error }, r *models.ServiceRequest) error {
	var productID, repairID sql.NullInt64
	err := row.Scan(&r.ID, &r.UserID, &productID, &repairID, &r.Quantity, &r.Notes,
		&r.Status, &r.PaymentStatus, &r.TotalPrice, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return err
	}
	if productID.Valid {
		r.ProductID = &productID.Int64
	}
	if repairID.Valid {
		r.RepairID = &repairID.Int64
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// resolveLinks loads the linked catalog rows for pricing. A link being
// introduced or changed must point at an active record; a carried-over link
// stays resolvable even if the record was deactivated since. A nil id
// resolves to nil.
func (s *RequestService) resolveLinks(ctx context.Context, q queryer, productID, repairID *int64, newProduct, newRepair bool) (*models.Product, *models.RepairService, error) {
	var product *models.Product
	var repair *models.RepairService

	if productID != nil {
		query := "SELECT " + productColumns + " FROM products WHERE id = ?"
		if newProduct {
			query = "SELECT " + productColumns + " FROM products WHERE id = ? AND is_active = TRUE"
		}
		start := time.Now()
		var p models.Product
		err := scanProduct(q.QueryRowContext(ctx, query, *productID), &p)
		s.metrics.RecordDBQuery(ctx, "SELECT", "products", query, start, err == nil || err == sql.ErrNoRows)
		if err == sql.ErrNoRows {
			return nil, nil, fmt.Errorf("product %d: %w", *productID, apperr.ErrNotFound)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to resolve product: %w", err)
		}
		product = &p
	}

	if repairID != nil {
		query := "SELECT " + repairColumns + " FROM repair_services WHERE id = ?"
		if newRepair {
			query = "SELECT " + repairColumns + " FROM repair_services WHERE id = ? AND is_active = TRUE"
		}
		start := time.Now()
		var r models.RepairService
		err := scanRepair(q.QueryRowContext(ctx, query, *repairID), &r)
		s.metrics.RecordDBQuery(ctx, "SELECT", "repair_services", query, start, err == nil || err == sql.ErrNoRows)
		if err == sql.ErrNoRows {
			return nil, nil, fmt.Errorf("repair service %d: %w", *repairID, apperr.ErrNotFound)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to resolve repair service: %w", err)
		}
		repair = &r
	}

	return product, repair, nil
}

// sameID reports whether two optional ids reference the same record.
func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Create submits a new request for the principal. The owner comes from the
// authenticated context, never from the body; status and payment status are
// forced to their initial values whatever the client sent.
func (s *RequestService) Create(ctx context.Context, principal auth.Principal, in models.ServiceRequestInput) (*models.ServiceRequest, error) {
	quantity := 1
	if in.Quantity != nil {
		quantity = *in.Quantity
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive: %w", apperr.ErrInvalidInput)
	}
	notes := ""
	if in.Notes != nil {
		notes = *in.Notes
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	product, repair, err := s.resolveLinks(ctx, tx, in.ProductID, in.RepairID, true, true)
	if err != nil {
		return nil, err
	}
	total := pricing.Total(product, repair, quantity)

	start := time.Now()
	query := "INSERT INTO service_requests (user_id, product_id, repair_id, quantity, notes, status, payment_status, total_price) VALUES (?, ?, ?, ?, ?, ?, ?, ?)"
	result, err := tx.ExecContext(ctx, query,
		principal.UserID, nullableID(in.ProductID), nullableID(in.RepairID),
		quantity, notes, models.StatusPending, models.PaymentUnpaid, total)
	s.metrics.RecordDBQuery(ctx, "INSERT", "service_requests", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create service request: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get request ID: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.metrics.RequestsCreated.Add(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.Int64("user_id", principal.UserID),
	})...))
	log.Printf("service request %d created by user %d, total=%s", id, principal.UserID, total)

	return s.fetch(ctx, id)
}

// fetch loads a request without any access check
func (s *RequestService) fetch(ctx context.Context, id int64) (*models.ServiceRequest, error) {
	start := time.Now()
	query := "SELECT " + requestColumns + " FROM service_requests WHERE id = ?"
	var r models.ServiceRequest
	err := scanRequest(s.db.QueryRowContext(ctx, query, id), &r)
	s.metrics.RecordDBQuery(ctx, "SELECT", "service_requests", query, start, err == nil || err == sql.ErrNoRows)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("service request %d: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get service request: %w", err)
	}
	return &r, nil
}

// Get returns a request visible to the principal: the owner or an admin.
func (s *RequestService) Get(ctx context.Context, principal auth.Principal, id int64) (*models.ServiceRequest, error) {
	r, err := s.fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	if d := auth.CanViewRequest(principal, r); !d.Allowed {
		return nil, fmt.Errorf("%s: %w", d.Reason, apperr.ErrForbidden)
	}
	return r, nil
}

// List returns all requests for admins and only the principal's own
// otherwise. The scoping is part of the query, not a post-hoc filter.
func (s *RequestService) List(ctx context.Context, principal auth.Principal) ([]models.ServiceRequest, error) {
	query := "SELECT " + requestColumns + " FROM service_requests WHERE user_id = ? ORDER BY created_at DESC"
	args := []interface{}{principal.UserID}
	if principal.Admin {
		query = "SELECT " + requestColumns + " FROM service_requests ORDER BY created_at DESC"
		args = nil
	}

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	s.metrics.RecordDBQuery(ctx, "SELECT", "service_requests", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query service requests: %w", err)
	}
	defer rows.Close()

	var requests []models.ServiceRequest
	for rows.Next() {
		var r models.ServiceRequest
		if err := scanRequest(rows, &r); err != nil {
			return nil, fmt.Errorf("failed to scan service request: %w", err)
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

// Update rewrites the owner-editable surface: catalog links, quantity and
// notes. An absent field keeps its current value. Any status is editable -
// there is no lifecycle guard on owner updates. The total is recomputed from
// current catalog prices on every successful update; status, payment status
// and total stay closed here.
func (s *RequestService) Update(ctx context.Context, principal auth.Principal, id int64, in models.ServiceRequestInput) (*models.ServiceRequest, error) {
	current, err := s.fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	if d := auth.CanEditRequest(principal, current); !d.Allowed {
		return nil, fmt.Errorf("%s: %w", d.Reason, apperr.ErrForbidden)
	}

	quantity := current.Quantity
	if in.Quantity != nil {
		quantity = *in.Quantity
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive: %w", apperr.ErrInvalidInput)
	}

	productID := current.ProductID
	if in.ProductID != nil {
		productID = in.ProductID
	}
	repairID := current.RepairID
	if in.RepairID != nil {
		repairID = in.RepairID
	}
	notes := current.Notes
	if in.Notes != nil {
		notes = *in.Notes
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Only a link that actually changes must point at an active record; a
	// carried-over link keeps resolving after the catalog item is retired.
	product, repair, err := s.resolveLinks(ctx, tx, productID, repairID,
		!sameID(productID, current.ProductID), !sameID(repairID, current.RepairID))
	if err != nil {
		return nil, err
	}
	total := pricing.Total(product, repair, quantity)

	start := time.Now()
	query := "UPDATE service_requests SET product_id = ?, repair_id = ?, quantity = ?, notes = ?, total_price = ?, updated_at = NOW() WHERE id = ?"
	_, err = tx.ExecContext(ctx, query,
		nullableID(productID), nullableID(repairID), quantity, notes, total, id)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "service_requests", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to update service request: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Printf("service request %d updated by user %d, total=%s", id, principal.UserID, total)
	return s.fetch(ctx, id)
}

// Transition applies an admin status and/or payment-status change. Absent
// fields keep their current value. The graph is unrestricted: any state may
// follow any other, only enum membership is validated.
func (s *RequestService) Transition(ctx context.Context, principal auth.Principal, id int64, in models.TransitionInput) (*models.ServiceRequest, error) {
	if d := auth.CanTransitionRequest(principal); !d.Allowed {
		return nil, fmt.Errorf("%s: %w", d.Reason, apperr.ErrForbidden)
	}

	current, err := s.fetch(ctx, id)
	if err != nil {
		return nil, err
	}

	status := current.Status
	if in.Status != nil {
		if !models.ValidStatus(*in.Status) {
			return nil, fmt.Errorf("unknown status %q: %w", *in.Status, apperr.ErrInvalidInput)
		}
		status = *in.Status
	}

	paymentStatus := current.PaymentStatus
	if in.PaymentStatus != nil {
		if !models.ValidPaymentStatus(*in.PaymentStatus) {
			return nil, fmt.Errorf("unknown payment status %q: %w", *in.PaymentStatus, apperr.ErrInvalidInput)
		}
		paymentStatus = *in.PaymentStatus
	}

	notes := current.Notes
	if in.Notes != nil {
		notes = *in.Notes
	}

	start := time.Now()
	query := "UPDATE service_requests SET status = ?, payment_status = ?, notes = ?, updated_at = NOW() WHERE id = ?"
	_, err = s.db.ExecContext(ctx, query, status, paymentStatus, notes, id)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "service_requests", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to transition service request: %w", err)
	}

	s.metrics.RequestTransitions.Add(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.String("status", status),
		attribute.String("payment_status", paymentStatus),
	})...))

	// Revenue counts once, when a request first becomes paid.
	if paymentStatus == models.PaymentPaid && current.PaymentStatus != models.PaymentPaid {
		amount, _ := current.TotalPrice.Float64()
		s.metrics.RevenueTotal.Add(ctx, amount, metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
			attribute.String("status", status),
		})...))
	}

	log.Printf("service request %d transitioned to status=%s payment=%s", id, status, paymentStatus)
	return s.fetch(ctx, id)
}

func nullableID(id *int64) interface{} {
	if id == nil {
		return nil
	}
	return *id
}
