package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Request status values. The transition graph is deliberately unrestricted:
// an admin may move a request between any two states.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

// Payment status values.
const (
	PaymentUnpaid        = "unpaid"
	PaymentPaid          = "paid"
	PaymentPartiallyPaid = "partially_paid"
)

// ValidStatus reports whether s is a known request status.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// ValidPaymentStatus reports whether s is a known payment status.
func ValidPaymentStatus(s string) bool {
	switch s {
	case PaymentUnpaid, PaymentPaid, PaymentPartiallyPaid:
		return true
	}
	return false
}

// User represents a registered account
type User struct {
	ID           int64     `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	Email        string    `json:"email" db:"email"`
	Phone        string    `json:"phone" db:"phone"`
	PasswordHash string    `json:"-" db:"password_hash"`
	IsAdmin      bool      `json:"is_admin" db:"is_admin"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Product represents a sellable item in the catalog
type Product struct {
	ID          int64           `json:"id" db:"id"`
	Name        string          `json:"name" db:"name"`
	Description string          `json:"description" db:"description"`
	Price       decimal.Decimal `json:"price" db:"price"`
	Stock       int             `json:"stock" db:"stock"`
	IsActive    bool            `json:"is_active" db:"is_active"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// RepairService represents a flat-fee car repair offering
type RepairService struct {
	ID          int64           `json:"id" db:"id"`
	Name        string          `json:"name" db:"name"`
	Description string          `json:"description" db:"description"`
	Price       decimal.Decimal `json:"price" db:"price"`
	IsActive    bool            `json:"is_active" db:"is_active"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// ServiceRequest represents a user's request consuming a product, a repair
// service, both, or neither. TotalPrice is derived and never client-settable.
type ServiceRequest struct {
	ID            int64           `json:"id" db:"id"`
	UserID        int64           `json:"user_id" db:"user_id"`
	ProductID     *int64          `json:"product_id" db:"product_id"`
	RepairID      *int64          `json:"repair_id" db:"repair_id"`
	Quantity      int             `json:"quantity" db:"quantity"`
	Notes         string          `json:"notes" db:"notes"`
	Status        string          `json:"status" db:"status"`
	PaymentStatus string          `json:"payment_status" db:"payment_status"`
	TotalPrice    decimal.Decimal `json:"total_price" db:"total_price"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// RegisterRequest is the body of POST /auth/register
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
	IsAdmin  bool   `json:"is_admin"`
}

// LoginRequest is the body of POST /auth/login
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthResponse carries the issued token
type AuthResponse struct {
	Token   string `json:"token"`
	UserID  int64  `json:"user_id"`
	IsAdmin bool   `json:"is_admin"`
}

// ProductInput is the body of product create/update
type ProductInput struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
}

// RepairServiceInput is the body of repair service create/update
type RepairServiceInput struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
}

// StockRequest is the body of sell/buy operations
type StockRequest struct {
	Quantity int `json:"quantity"`
}

// StockResponse reports the stock level after a sell/buy
type StockResponse struct {
	ProductID int64 `json:"product_id"`
	Stock     int   `json:"stock"`
}

// ServiceRequestInput is the owner-editable surface of a service request.
// Status, payment status and total price are never read from this. All
// fields are optional; on update an absent field keeps its current value.
type ServiceRequestInput struct {
	ProductID *int64  `json:"product_id"`
	RepairID  *int64  `json:"repair_id"`
	Quantity  *int    `json:"quantity"`
	Notes     *string `json:"notes"`
}

// TransitionInput is the admin-only status/payment update surface.
// Absent fields leave the current value untouched.
type TransitionInput struct {
	Status        *string `json:"status"`
	PaymentStatus *string `json:"payment_status"`
	Notes         *string `json:"notes"`
}

// UserDashboard aggregates a user's own requests
type UserDashboard struct {
	RequestsByStatus map[string]int64 `json:"requests_by_status"`
	UnpaidRequests   int64            `json:"unpaid_requests"`
	TotalSpent       decimal.Decimal  `json:"total_spent"`
}

// AdminDashboard aggregates the whole store
type AdminDashboard struct {
	ActiveProducts   int64            `json:"active_products"`
	ActiveRepairs    int64            `json:"active_repairs"`
	RequestsByStatus map[string]int64 `json:"requests_by_status"`
	RequestsByPay    map[string]int64 `json:"requests_by_payment_status"`
	PaidRevenue      decimal.Decimal  `json:"paid_revenue"`
	TopStockProducts []Product        `json:"top_stock_products"`
}
