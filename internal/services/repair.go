package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/garageworks/autoshop/internal/apperr"
	"github.com/garageworks/autoshop/internal/db"
	"github.com/garageworks/autoshop/internal/metrics"
	"github.com/garageworks/autoshop/internal/models"
)

const repairColumns = "id, name, description, price, is_active, created_at, updated_at"

// RepairCatalogService handles the car-repair service catalog. Same soft-delete
// convention as products, no stock concept (flat-fee offerings).
type RepairCatalogService struct {
	db      *db.DB
	metrics *metrics.AppMetrics
}

// NewRepairCatalogService creates a new repair catalog service
func NewRepairCatalogService(database *db.DB, m *metrics.AppMetrics) *RepairCatalogService {
	return &RepairCatalogService{db: database, metrics: m}
}

func scanRepair(row interface{ Scan(...interface{}) error }, r *models.RepairService) error {
	return row.Scan(&r.ID, &r.Name, &r.Description, &r.Price, &r.IsActive, &r.CreatedAt, &r.UpdatedAt)
}

// ListRepairs returns a paginated repair service list, active-only unless
// includeInactive is set.
func (s *RepairCatalogService) ListRepairs(ctx context.Context, includeInactive bool, limit, offset int) ([]models.RepairService, error) {
	query := "SELECT " + repairColumns + " FROM repair_services WHERE is_active = TRUE ORDER BY id LIMIT ? OFFSET ?"
	if includeInactive {
		query = "SELECT " + repairColumns + " FROM repair_services ORDER BY id LIMIT ? OFFSET ?"
	}

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	s.metrics.RecordDBQuery(ctx, "SELECT", "repair_services", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query repair services: %w", err)
	}
	defer rows.Close()

	var repairs []models.RepairService
	for rows.Next() {
		var r models.RepairService
		if err := scanRepair(rows, &r); err != nil {
			return nil, fmt.Errorf("failed to scan repair service: %w", err)
		}
		repairs = append(repairs, r)
	}
	return repairs, rows.Err()
}

// GetRepair returns a repair service by ID; activeOnly hides soft-deleted rows.
func (s *RepairCatalogService) GetRepair(ctx context.Context, id int64, activeOnly bool) (*models.RepairService, error) {
	start := time.Now()
	query := "SELECT " + repairColumns + " FROM repair_services WHERE id = ?"
	var r models.RepairService
	err := scanRepair(s.db.QueryRowContext(ctx, query, id), &r)
	s.metrics.RecordDBQuery(ctx, "SELECT", "repair_services", query, start, err == nil || err == sql.ErrNoRows)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("repair service %d: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get repair service: %w", err)
	}
	if activeOnly && !r.IsActive {
		return nil, fmt.Errorf("repair service %d: %w", id, apperr.ErrNotFound)
	}
	return &r, nil
}

func validateRepairInput(in models.RepairServiceInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("name is required: %w", apperr.ErrInvalidInput)
	}
	if in.Price.IsNegative() {
		return fmt.Errorf("price must not be negative: %w", apperr.ErrInvalidInput)
	}
	return nil
}

// CreateRepair inserts a new active repair service
func (s *RepairCatalogService) CreateRepair(ctx context.Context, in models.RepairServiceInput) (*models.RepairService, error) {
	if err := validateRepairInput(in); err != nil {
		return nil, err
	}

	start := time.Now()
	query := "INSERT INTO repair_services (name, description, price) VALUES (?, ?, ?)"
	result, err := s.db.ExecContext(ctx, query, strings.TrimSpace(in.Name), in.Description, in.Price)
	s.metrics.RecordDBQuery(ctx, "INSERT", "repair_services", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create repair service: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get repair service ID: %w", err)
	}
	return s.GetRepair(ctx, id, false)
}

// UpdateRepair overwrites the editable fields of an active repair service
func (s *RepairCatalogService) UpdateRepair(ctx context.Context, id int64, in models.RepairServiceInput) (*models.RepairService, error) {
	if err := validateRepairInput(in); err != nil {
		return nil, err
	}

	start := time.Now()
	query := "UPDATE repair_services SET name = ?, description = ?, price = ? WHERE id = ? AND is_active = TRUE"
	result, err := s.db.ExecContext(ctx, query, strings.TrimSpace(in.Name), in.Description, in.Price, id)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "repair_services", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to update repair service: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		if _, err := s.GetRepair(ctx, id, true); err != nil {
			return nil, err
		}
	}
	return s.GetRepair(ctx, id, false)
}

// DeactivateRepair soft-deletes a repair service
func (s *RepairCatalogService) DeactivateRepair(ctx context.Context, id int64) error {
	start := time.Now()
	query := "UPDATE repair_services SET is_active = FALSE WHERE id = ? AND is_active = TRUE"
	result, err := s.db.ExecContext(ctx, query, id)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "repair_services", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to deactivate repair service: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("repair service %d: %w", id, apperr.ErrNotFound)
	}

	log.Printf("repair service %d deactivated", id)
	return nil
}
