package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/garageworks/autoshop/internal/apperr"
	"github.com/garageworks/autoshop/internal/db"
	"github.com/garageworks/autoshop/internal/metrics"
	"github.com/garageworks/autoshop/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const productColumns = "id, name, description, price, stock, is_active, created_at, updated_at"

// productCache holds recently read products
type productCache struct {
	mu    sync.RWMutex
	items map[int64]cachedProduct
}

type cachedProduct struct {
	product models.Product
	expires time.Time
}

func (c *productCache) get(id int64) (models.Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cached, ok := c.items[id]
	if !ok || time.Now().After(cached.expires) {
		return models.Product{}, false
	}
	return cached.product, true
}

func (c *productCache) put(p models.Product) {
	c.mu.Lock()
	c.items[p.ID] = cachedProduct{product: p, expires: time.Now().Add(5 * time.Minute)}
	c.mu.Unlock()
}

// invalidate drops a product after any write so readers never see stale
// stock or a stale active flag.
func (c *productCache) invalidate(id int64) {
	c.mu.Lock()
	delete(c.items, id)
	c.mu.Unlock()
}

// ProductService handles the product catalog and stock adjustments
type ProductService struct {
	db      *db.DB
	metrics *metrics.AppMetrics
	cache   productCache
}

// NewProductService creates a new product service
func NewProductService(database *db.DB, m *metrics.AppMetrics) *ProductService {
	return &ProductService{
		db:      database,
		metrics: m,
		cache:   productCache{items: make(map[int64]cachedProduct)},
	}
}

func scanProduct(row interface{ Scan(...interface{}) error }, p *models.Product) error {
	return row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Stock, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
}

// ListProducts returns a paginated product list, active-only unless
// includeInactive is set.
func (s *ProductService) ListProducts(ctx context.Context, includeInactive bool, limit, offset int) ([]models.Product, error) {
	query := "SELECT " + productColumns + " FROM products WHERE is_active = TRUE ORDER BY id LIMIT ? OFFSET ?"
	if includeInactive {
		query = "SELECT " + productColumns + " FROM products ORDER BY id LIMIT ? OFFSET ?"
	}

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	s.metrics.RecordDBQuery(ctx, "SELECT", "products", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		var p models.Product
		if err := scanProduct(rows, &p); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// GetProduct returns a product by ID. With activeOnly set, a soft-deleted
// product reports not-found; without it the record stays resolvable, which
// service requests referencing a retired product rely on.
func (s *ProductService) GetProduct(ctx context.Context, id int64, activeOnly bool) (*models.Product, error) {
	if p, ok := s.cache.get(id); ok {
		s.metrics.CacheHits.Add(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName(nil)...))
		if activeOnly && !p.IsActive {
			return nil, fmt.Errorf("product %d: %w", id, apperr.ErrNotFound)
		}
		s.recordProductView(ctx, id)
		return &p, nil
	}
	s.metrics.CacheMisses.Add(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName(nil)...))

	start := time.Now()
	query := "SELECT " + productColumns + " FROM products WHERE id = ?"
	var p models.Product
	err := scanProduct(s.db.QueryRowContext(ctx, query, id), &p)
	s.metrics.RecordDBQuery(ctx, "SELECT", "products", query, start, err == nil || err == sql.ErrNoRows)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product %d: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	s.cache.put(p)
	if activeOnly && !p.IsActive {
		return nil, fmt.Errorf("product %d: %w", id, apperr.ErrNotFound)
	}
	s.recordProductView(ctx, id)
	return &p, nil
}

func (s *ProductService) recordProductView(ctx context.Context, id int64) {
	s.metrics.ProductsViewed.Add(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.Int64("product_id", id),
	})...))
}

func validateProductInput(in models.ProductInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("name is required: %w", apperr.ErrInvalidInput)
	}
	if in.Price.IsNegative() {
		return fmt.Errorf("price must not be negative: %w", apperr.ErrInvalidInput)
	}
	if in.Stock < 0 {
		return fmt.Errorf("stock must not be negative: %w", apperr.ErrInvalidInput)
	}
	return nil
}

// CreateProduct inserts a new active product
func (s *ProductService) CreateProduct(ctx context.Context, in models.ProductInput) (*models.Product, error) {
	if err := validateProductInput(in); err != nil {
		return nil, err
	}

	start := time.Now()
	query := "INSERT INTO products (name, description, price, stock) VALUES (?, ?, ?, ?)"
	result, err := s.db.ExecContext(ctx, query, strings.TrimSpace(in.Name), in.Description, in.Price, in.Stock)
	s.metrics.RecordDBQuery(ctx, "INSERT", "products", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get product ID: %w", err)
	}
	return s.GetProduct(ctx, id, false)
}

// UpdateProduct overwrites the editable fields of an active product
func (s *ProductService) UpdateProduct(ctx context.Context, id int64, in models.ProductInput) (*models.Product, error) {
	if err := validateProductInput(in); err != nil {
		return nil, err
	}

	start := time.Now()
	query := "UPDATE products SET name = ?, description = ?, price = ?, stock = ? WHERE id = ? AND is_active = TRUE"
	result, err := s.db.ExecContext(ctx, query, strings.TrimSpace(in.Name), in.Description, in.Price, in.Stock, id)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "products", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to update product: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	s.cache.invalidate(id)
	if affected == 0 {
		// MySQL reports 0 affected rows for a no-op update as well;
		// distinguish a genuinely missing/inactive product.
		if _, err := s.GetProduct(ctx, id, true); err != nil {
			return nil, err
		}
	}
	return s.GetProduct(ctx, id, false)
}

// DeactivateProduct soft-deletes a product. The row survives so existing
// service requests keep resolving it.
func (s *ProductService) DeactivateProduct(ctx context.Context, id int64) error {
	start := time.Now()
	query := "UPDATE products SET is_active = FALSE WHERE id = ? AND is_active = TRUE"
	result, err := s.db.ExecContext(ctx, query, id)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "products", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to deactivate product: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("product %d: %w", id, apperr.ErrNotFound)
	}

	s.cache.invalidate(id)
	log.Printf("product %d deactivated", id)
	return nil
}

// Sell decrements stock by quantity. The check and the decrement are a single
// conditional UPDATE so two concurrent sells cannot both pass the stock check
// and drive stock negative.
func (s *ProductService) Sell(ctx context.Context, id int64, quantity int) (*models.StockResponse, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive: %w", apperr.ErrInvalidInput)
	}

	start := time.Now()
	query := "UPDATE products SET stock = stock - ? WHERE id = ? AND is_active = TRUE AND stock >= ?"
	result, err := s.db.ExecContext(ctx, query, quantity, id, quantity)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "products", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to sell product: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		// Either the product is missing/inactive or stock was short.
		var stock int
		checkQuery := "SELECT stock FROM products WHERE id = ? AND is_active = TRUE"
		checkStart := time.Now()
		err := s.db.QueryRowContext(ctx, checkQuery, id).Scan(&stock)
		s.metrics.RecordDBQuery(ctx, "SELECT", "products", checkQuery, checkStart, err == nil || err == sql.ErrNoRows)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("product %d: %w", id, apperr.ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to check stock: %w", err)
		}
		return nil, fmt.Errorf("have %d, want %d: %w", stock, quantity, apperr.ErrInsufficientStock)
	}

	s.cache.invalidate(id)
	newStock, err := s.currentStock(ctx, id)
	if err != nil {
		return nil, err
	}

	s.metrics.StockSold.Add(ctx, int64(quantity), metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.Int64("product_id", id),
	})...))
	s.recordStockLevel(ctx, id, newStock)
	log.Printf("product %d: sold %d, stock now %d", id, quantity, newStock)

	return &models.StockResponse{ProductID: id, Stock: newStock}, nil
}

// Buy increments stock by quantity unconditionally (active products only).
func (s *ProductService) Buy(ctx context.Context, id int64, quantity int) (*models.StockResponse, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive: %w", apperr.ErrInvalidInput)
	}

	start := time.Now()
	query := "UPDATE products SET stock = stock + ? WHERE id = ? AND is_active = TRUE"
	result, err := s.db.ExecContext(ctx, query, quantity, id)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "products", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to restock product: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("product %d: %w", id, apperr.ErrNotFound)
	}

	s.cache.invalidate(id)
	newStock, err := s.currentStock(ctx, id)
	if err != nil {
		return nil, err
	}

	s.metrics.StockReceived.Add(ctx, int64(quantity), metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.Int64("product_id", id),
	})...))
	s.recordStockLevel(ctx, id, newStock)
	log.Printf("product %d: received %d, stock now %d", id, quantity, newStock)

	return &models.StockResponse{ProductID: id, Stock: newStock}, nil
}

func (s *ProductService) currentStock(ctx context.Context, id int64) (int, error) {
	start := time.Now()
	query := "SELECT stock FROM products WHERE id = ?"
	var stock int
	err := s.db.QueryRowContext(ctx, query, id).Scan(&stock)
	s.metrics.RecordDBQuery(ctx, "SELECT", "products", query, start, err == nil)
	if err != nil {
		return 0, fmt.Errorf("failed to read stock: %w", err)
	}
	return stock, nil
}

func (s *ProductService) recordStockLevel(ctx context.Context, id int64, stock int) {
	s.metrics.StockLevel.Record(ctx, int64(stock), metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.Int64("product_id", id),
	})...))
}
