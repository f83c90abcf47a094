package services

import (
	"context"
	"fmt"
	"time"

	"github.com/garageworks/autoshop/internal/auth"
	"github.com/garageworks/autoshop/internal/db"
	"github.com/garageworks/autoshop/internal/metrics"
	"github.com/garageworks/autoshop/internal/models"
	"github.com/shopspring/decimal"
)

// DashboardService serves the two read-only aggregate views
type DashboardService struct {
	db      *db.DB
	metrics *metrics.AppMetrics
}

// NewDashboardService creates a new dashboard service
func NewDashboardService(database *db.DB, m *metrics.AppMetrics) *DashboardService {
	return &DashboardService{db: database, metrics: m}
}

func (s *DashboardService) countByColumn(ctx context.Context, query string, args ...interface{}) (map[string]int64, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	s.metrics.RecordDBQuery(ctx, "SELECT", "service_requests", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[key] = n
	}
	return counts, rows.Err()
}

// UserDashboard aggregates the principal's own requests
func (s *DashboardService) UserDashboard(ctx context.Context, principal auth.Principal) (*models.UserDashboard, error) {
	byStatus, err := s.countByColumn(ctx,
		"SELECT status, COUNT(*) FROM service_requests WHERE user_id = ? GROUP BY status", principal.UserID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	query := "SELECT COALESCE(SUM(CASE WHEN payment_status = 'paid' THEN total_price ELSE 0 END), 0) FROM service_requests WHERE user_id = ?"
	var spent decimal.Decimal
	err = s.db.QueryRowContext(ctx, query, principal.UserID).Scan(&spent)
	s.metrics.RecordDBQuery(ctx, "SELECT", "service_requests", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate spending: %w", err)
	}

	unpaid, err := s.count(ctx,
		"SELECT COUNT(*) FROM service_requests WHERE user_id = ? AND payment_status = 'unpaid'", principal.UserID)
	if err != nil {
		return nil, err
	}

	return &models.UserDashboard{
		RequestsByStatus: byStatus,
		UnpaidRequests:   unpaid,
		TotalSpent:       spent,
	}, nil
}

// AdminDashboard aggregates the whole store
func (s *DashboardService) AdminDashboard(ctx context.Context) (*models.AdminDashboard, error) {
	activeProducts, err := s.count(ctx, "SELECT COUNT(*) FROM products WHERE is_active = TRUE")
	if err != nil {
		return nil, err
	}
	activeRepairs, err := s.count(ctx, "SELECT COUNT(*) FROM repair_services WHERE is_active = TRUE")
	if err != nil {
		return nil, err
	}

	byStatus, err := s.countByColumn(ctx,
		"SELECT status, COUNT(*) FROM service_requests GROUP BY status")
	if err != nil {
		return nil, err
	}
	byPay, err := s.countByColumn(ctx,
		"SELECT payment_status, COUNT(*) FROM service_requests GROUP BY payment_status")
	if err != nil {
		return nil, err
	}

	start := time.Now()
	revQuery := "SELECT COALESCE(SUM(total_price), 0) FROM service_requests WHERE payment_status = 'paid'"
	var revenue decimal.Decimal
	err = s.db.QueryRowContext(ctx, revQuery).Scan(&revenue)
	s.metrics.RecordDBQuery(ctx, "SELECT", "service_requests", revQuery, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate revenue: %w", err)
	}

	start = time.Now()
	topQuery := "SELECT " + productColumns + " FROM products WHERE is_active = TRUE ORDER BY stock DESC LIMIT 5"
	rows, err := s.db.QueryContext(ctx, topQuery)
	s.metrics.RecordDBQuery(ctx, "SELECT", "products", topQuery, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query top products: %w", err)
	}
	defer rows.Close()

	var top []models.Product
	for rows.Next() {
		var p models.Product
		if err := scanProduct(rows, &p); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		top = append(top, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &models.AdminDashboard{
		ActiveProducts:   activeProducts,
		ActiveRepairs:    activeRepairs,
		RequestsByStatus: byStatus,
		RequestsByPay:    byPay,
		PaidRevenue:      revenue,
		TopStockProducts: top,
	}, nil
}

func (s *DashboardService) count(ctx context.Context, query string, args ...interface{}) (int64, error) {
	start := time.Now()
	var n int64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&n)
	s.metrics.RecordDBQuery(ctx, "SELECT", "aggregate", query, start, err == nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count: %w", err)
	}
	return n, nil
}
