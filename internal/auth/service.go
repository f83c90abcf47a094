package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/garageworks/autoshop/internal/apperr"
	"github.com/garageworks/autoshop/internal/db"
	"github.com/garageworks/autoshop/internal/metrics"
	"github.com/garageworks/autoshop/internal/models"
	"github.com/go-sql-driver/mysql"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/crypto/bcrypt"
)

// MySQL duplicate-key error number.
const mysqlErrDuplicateEntry = 1062

// Service is the identity provider: registration, credential checks and
// token issuance.
type Service struct {
	db      *db.DB
	metrics *metrics.AppMetrics
	tokens  *TokenIssuer
}

// NewService creates the identity service
func NewService(database *db.DB, m *metrics.AppMetrics, tokens *TokenIssuer) *Service {
	return &Service{db: database, metrics: m, tokens: tokens}
}

// Register creates a user and issues a token for it.
func (s *Service) Register(ctx context.Context, req models.RegisterRequest) (*models.AuthResponse, error) {
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		return nil, fmt.Errorf("username and password are required: %w", apperr.ErrInvalidInput)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	start := time.Now()
	query := "INSERT INTO users (username, email, phone, password_hash, is_admin) VALUES (?, ?, ?, ?, ?)"
	result, err := s.db.ExecContext(ctx, query, req.Username, req.Email, req.Phone, string(hash), req.IsAdmin)
	s.metrics.RecordDBQuery(ctx, "INSERT", "users", query, start, err == nil)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlErrDuplicateEntry {
			return nil, fmt.Errorf("username already taken: %w", apperr.ErrInvalidInput)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get user ID: %w", err)
	}

	token, err := s.tokens.Issue(Principal{UserID: id, Username: req.Username, Admin: req.IsAdmin})
	if err != nil {
		return nil, err
	}

	s.metrics.ActiveUsersCount.Record(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.String("session_type", "registered"),
		attribute.Int64("user_id", id),
	})...))

	return &models.AuthResponse{Token: token, UserID: id, IsAdmin: req.IsAdmin}, nil
}

// Login verifies credentials and issues a token.
func (s *Service) Login(ctx context.Context, req models.LoginRequest) (*models.AuthResponse, error) {
	if req.Username == "" || req.Password == "" {
		return nil, fmt.Errorf("username and password are required: %w", apperr.ErrInvalidInput)
	}

	start := time.Now()
	query := "SELECT id, username, password_hash, is_admin FROM users WHERE username = ?"
	var user models.User
	err := s.db.QueryRowContext(ctx, query, req.Username).Scan(
		&user.ID, &user.Username, &user.PasswordHash, &user.IsAdmin,
	)
	s.metrics.RecordDBQuery(ctx, "SELECT", "users", query, start, err == nil)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("invalid credentials: %w", apperr.ErrUnauthenticated)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		return nil, fmt.Errorf("invalid credentials: %w", apperr.ErrUnauthenticated)
	}

	token, err := s.tokens.Issue(Principal{UserID: user.ID, Username: user.Username, Admin: user.IsAdmin})
	if err != nil {
		return nil, err
	}

	s.metrics.ActiveUsersCount.Record(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.String("session_type", "authenticated"),
		attribute.Int64("user_id", user.ID),
	})...))

	return &models.AuthResponse{Token: token, UserID: user.ID, IsAdmin: user.IsAdmin}, nil
}

// GetUser returns a user by ID
func (s *Service) GetUser(ctx context.Context, id int64) (*models.User, error) {
	start := time.Now()
	query := "SELECT id, username, email, phone, is_admin, created_at FROM users WHERE id = ?"
	var user models.User
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&user.ID, &user.Username, &user.Email, &user.Phone, &user.IsAdmin, &user.CreatedAt,
	)
	s.metrics.RecordDBQuery(ctx, "SELECT", "users", query, start, err == nil)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %d: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}
