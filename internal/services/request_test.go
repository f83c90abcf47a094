package services

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/garageworks/autoshop/internal/apperr"
	"github.com/garageworks/autoshop/internal/auth"
	"github.com/garageworks/autoshop/internal/db"
	"github.com/garageworks/autoshop/internal/metrics"
	"github.com/garageworks/autoshop/internal/models"
	"github.com/shopspring/decimal"
)

func newRequestMock(t *testing.T) (*RequestService, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	return NewRequestService(&db.DB{DB: sqlDB}, metrics.NewNoop()), mock
}

func requestRows(id, userID int64, productID, repairID interface{}, quantity int, notes, status, payStatus, total string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "user_id", "product_id", "repair_id", "quantity", "notes", "status", "payment_status", "total_price", "created_at", "updated_at"}).
		AddRow(id, userID, productID, repairID, quantity, notes, status, payStatus, total, now, now)
}

func repairRows(id int64, name, price string, active bool) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "name", "description", "price", "is_active", "created_at", "updated_at"}).
		AddRow(id, name, "", price, active, now, now)
}

func i64(v int64) *int64    { return &v }
func intp(v int) *int       { return &v }
func strp(v string) *string { return &v }

func TestCreateRequest(t *testing.T) {
	ctx := context.Background()
	owner := auth.Principal{UserID: 7, Username: "kara"}

	t.Run("forces_initial_state_and_derives_total", func(t *testing.T) {
		svc, mock := newRequestMock(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT " + productColumns + " FROM products WHERE id = ? AND is_active = TRUE").
			WithArgs(int64(2)).
			WillReturnRows(productRows(2, "Brake pads", "25.50", 10, true))
		mock.ExpectExec("INSERT INTO service_requests (user_id, product_id, repair_id, quantity, notes, status, payment_status, total_price) VALUES (?, ?, ?, ?, ?, ?, ?, ?)").
			WithArgs(int64(7), int64(2), nil, 2, "", models.StatusPending, models.PaymentUnpaid, decimal.RequireFromString("51.00")).
			WillReturnResult(sqlmock.NewResult(10, 1))
		mock.ExpectCommit()
		mock.ExpectQuery("SELECT " + requestColumns + " FROM service_requests WHERE id = ?").
			WithArgs(int64(10)).
			WillReturnRows(requestRows(10, 7, int64(2), nil, 2, "", "pending", "unpaid", "51.00"))

		r, err := svc.Create(ctx, owner, models.ServiceRequestInput{ProductID: i64(2), Quantity: intp(2)})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if r.Status != models.StatusPending || r.PaymentStatus != models.PaymentUnpaid {
			t.Errorf("new request state = %s/%s, want pending/unpaid", r.Status, r.PaymentStatus)
		}
		if !r.TotalPrice.Equal(decimal.RequireFromString("51.00")) {
			t.Errorf("TotalPrice = %s, want 51.00", r.TotalPrice)
		}
		if r.UserID != owner.UserID {
			t.Errorf("UserID = %d, want %d", r.UserID, owner.UserID)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Error(err)
		}
	})

	t.Run("quantity_defaults_to_one", func(t *testing.T) {
		svc, mock := newRequestMock(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT " + repairColumns + " FROM repair_services WHERE id = ? AND is_active = TRUE").
			WithArgs(int64(3)).
			WillReturnRows(repairRows(3, "Wheel alignment", "60.00", true))
		mock.ExpectExec("INSERT INTO service_requests (user_id, product_id, repair_id, quantity, notes, status, payment_status, total_price) VALUES (?, ?, ?, ?, ?, ?, ?, ?)").
			WithArgs(int64(7), nil, int64(3), 1, "", models.StatusPending, models.PaymentUnpaid, decimal.RequireFromString("60.00")).
			WillReturnResult(sqlmock.NewResult(11, 1))
		mock.ExpectCommit()
		mock.ExpectQuery("SELECT " + requestColumns + " FROM service_requests WHERE id = ?").
			WithArgs(int64(11)).
			WillReturnRows(requestRows(11, 7, nil, int64(3), 1, "", "pending", "unpaid", "60.00"))

		r, err := svc.Create(ctx, owner, models.ServiceRequestInput{RepairID: i64(3)})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if r.Quantity != 1 {
			t.Errorf("Quantity = %d, want 1", r.Quantity)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Error(err)
		}
	})

	t.Run("inactive_link_is_not_found", func(t *testing.T) {
		svc, mock := newRequestMock(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT " + productColumns + " FROM products WHERE id = ? AND is_active = TRUE").
			WithArgs(int64(42)).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := svc.Create(ctx, owner, models.ServiceRequestInput{ProductID: i64(42)})
		if !errors.Is(err, apperr.ErrNotFound) {
			t.Fatalf("Create err = %v, want ErrNotFound", err)
		}
	})

	t.Run("rejects_non_positive_quantity", func(t *testing.T) {
		svc, _ := newRequestMock(t)
		_, err := svc.Create(ctx, owner, models.ServiceRequestInput{ProductID: i64(2), Quantity: intp(0)})
		if !errors.Is(err, apperr.ErrInvalidInput) {
			t.Fatalf("Create err = %v, want ErrInvalidInput", err)
		}
	})
}

func TestUpdateRequest(t *testing.T) {
	ctx := context.Background()
	owner := auth.Principal{UserID: 7}

	t.Run("reprices_even_completed_requests", func(t *testing.T) {
		svc, mock := newRequestMock(t)

		mock.ExpectQuery("SELECT " + requestColumns + " FROM service_requests WHERE id = ?").
			WithArgs(int64(10)).
			WillReturnRows(requestRows(10, 7, int64(2), nil, 1, "", "completed", "paid", "25.50"))
		mock.ExpectBegin()
		// Resubmitting the stored link counts as unchanged, so no active filter.
		mock.ExpectQuery("SELECT " + productColumns + " FROM products WHERE id = ?").
			WithArgs(int64(2)).
			WillReturnRows(productRows(2, "Brake pads", "30.00", 10, true))
		mock.ExpectExec("UPDATE service_requests SET product_id = ?, repair_id = ?, quantity = ?, notes = ?, total_price = ?, updated_at = NOW() WHERE id = ?").
			WithArgs(int64(2), nil, 2, "swap both axles", decimal.RequireFromString("60.00"), int64(10)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
		mock.ExpectQuery("SELECT " + requestColumns + " FROM service_requests WHERE id = ?").
			WithArgs(int64(10)).
			WillReturnRows(requestRows(10, 7, int64(2), nil, 2, "swap both axles", "completed", "paid", "60.00"))

		r, err := svc.Update(ctx, owner, 10, models.ServiceRequestInput{
			ProductID: i64(2), Quantity: intp(2), Notes: strp("swap both axles"),
		})
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
		if !r.TotalPrice.Equal(decimal.RequireFromString("60.00")) {
			t.Errorf("TotalPrice = %s, want 60.00", r.TotalPrice)
		}
		if r.Status != models.StatusCompleted {
			t.Errorf("Status = %s, want completed (owner updates leave status alone)", r.Status)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Error(err)
		}
	})

	t.Run("notes_only_update_keeps_links_and_reprices", func(t *testing.T) {
		svc, mock := newRequestMock(t)

		mock.ExpectQuery("SELECT " + requestColumns + " FROM service_requests WHERE id = ?").
			WithArgs(int64(10)).
			WillReturnRows(requestRows(10, 7, int64(2), nil, 2, "", "completed", "paid", "51.00"))
		mock.ExpectBegin()
		// The carried-over link resolves without the active filter, so the
		// update still works after the product is retired.
		mock.ExpectQuery("SELECT " + productColumns + " FROM products WHERE id = ?").
			WithArgs(int64(2)).
			WillReturnRows(productRows(2, "Brake pads", "25.50", 0, false))
		mock.ExpectExec("UPDATE service_requests SET product_id = ?, repair_id = ?, quantity = ?, notes = ?, total_price = ?, updated_at = NOW() WHERE id = ?").
			WithArgs(int64(2), nil, 2, "please hurry", decimal.RequireFromString("51.00"), int64(10)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
		mock.ExpectQuery("SELECT " + requestColumns + " FROM service_requests WHERE id = ?").
			WithArgs(int64(10)).
			WillReturnRows(requestRows(10, 7, int64(2), nil, 2, "please hurry", "completed", "paid", "51.00"))

		r, err := svc.Update(ctx, owner, 10, models.ServiceRequestInput{Notes: strp("please hurry")})
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
		if r.ProductID == nil || *r.ProductID != 2 {
			t.Errorf("ProductID = %v, want 2 (absent link field keeps current)", r.ProductID)
		}
		if !r.TotalPrice.Equal(decimal.RequireFromString("51.00")) {
			t.Errorf("TotalPrice = %s, want 51.00", r.TotalPrice)
		}
		if r.Notes != "please hurry" {
			t.Errorf("Notes = %q, want %q", r.Notes, "please hurry")
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Error(err)
		}
	})

	t.Run("changed_link_must_be_active", func(t *testing.T) {
		svc, mock := newRequestMock(t)

		mock.ExpectQuery("SELECT " + requestColumns + " FROM service_requests WHERE id = ?").
			WithArgs(int64(10)).
			WillReturnRows(requestRows(10, 7, int64(2), nil, 1, "", "pending", "unpaid", "25.50"))
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT " + productColumns + " FROM products WHERE id = ? AND is_active = TRUE").
			WithArgs(int64(5)).
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := svc.Update(ctx, owner, 10, models.ServiceRequestInput{ProductID: i64(5)})
		if !errors.Is(err, apperr.ErrNotFound) {
			t.Fatalf("Update err = %v, want ErrNotFound", err)
		}
	})

	t.Run("stranger_is_forbidden", func(t *testing.T) {
		svc, mock := newRequestMock(t)

		mock.ExpectQuery("SELECT " + requestColumns + " FROM service_requests WHERE id = ?").
			WithArgs(int64(10)).
			WillReturnRows(requestRows(10, 7, int64(2), nil, 1, "", "pending", "unpaid", "25.50"))

		stranger := auth.Principal{UserID: 8}
		_, err := svc.Update(ctx, stranger, 10, models.ServiceRequestInput{ProductID: i64(2)})
		if !errors.Is(err, apperr.ErrForbidden) {
			t.Fatalf("Update err = %v, want ErrForbidden", err)
		}
	})

	t.Run("missing_request", func(t *testing.T) {
		svc, mock := newRequestMock(t)

		mock.ExpectQuery("SELECT " + requestColumns + " FROM service_requests WHERE id = ?").
			WithArgs(int64(404)).
			WillReturnError(sql.ErrNoRows)

		_, err := svc.Update(ctx, owner, 404, models.ServiceRequestInput{})
		if !errors.Is(err, apperr.ErrNotFound) {
			t.Fatalf("Update err = %v, want ErrNotFound", err)
		}
	})
}

func TestTransitionRequest(t *testing.T) {
	ctx := context.Background()
	admin := auth.Principal{UserID: 1, Admin: true}

	t.Run("non_admin_is_forbidden", func(t *testing.T) {
		svc, _ := newRequestMock(t)

		owner := auth.Principal{UserID: 7}
		_, err := svc.Transition(ctx, owner, 10, models.TransitionInput{Status: strp("completed")})
		if !errors.Is(err, apperr.ErrForbidden) {
			t.Fatalf("Transition err = %v, want ErrForbidden", err)
		}
	})

	t.Run("applies_both_fields", func(t *testing.T) {
		svc, mock := newRequestMock(t)

		mock.ExpectQuery("SELECT " + requestColumns + " FROM service_requests WHERE id = ?").
			WithArgs(int64(10)).
			WillReturnRows(requestRows(10, 7, int64(2), nil, 1, "", "pending", "unpaid", "51.00"))
		mock.ExpectExec("UPDATE service_requests SET status = ?, payment_status = ?, notes = ?, updated_at = NOW() WHERE id = ?").
			WithArgs("completed", "paid", "", int64(10)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT " + requestColumns + " FROM service_requests WHERE id = ?").
			WithArgs(int64(10)).
			WillReturnRows(requestRows(10, 7, int64(2), nil, 1, "", "completed", "paid", "51.00"))

		r, err := svc.Transition(ctx, admin, 10, models.TransitionInput{
			Status: strp("completed"), PaymentStatus: strp("paid"),
		})
		if err != nil {
			t.Fatalf("Transition: %v", err)
		}
		if r.Status != models.StatusCompleted || r.PaymentStatus != models.PaymentPaid {
			t.Errorf("state = %s/%s, want completed/paid", r.Status, r.PaymentStatus)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Error(err)
		}
	})

	t.Run("absent_fields_keep_current_values", func(t *testing.T) {
		svc, mock := newRequestMock(t)

		mock.ExpectQuery("SELECT " + requestColumns + " FROM service_requests WHERE id = ?").
			WithArgs(int64(10)).
			WillReturnRows(requestRows(10, 7, int64(2), nil, 1, "", "in_progress", "unpaid", "51.00"))
		mock.ExpectExec("UPDATE service_requests SET status = ?, payment_status = ?, notes = ?, updated_at = NOW() WHERE id = ?").
			WithArgs("in_progress", "partially_paid", "", int64(10)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT " + requestColumns + " FROM service_requests WHERE id = ?").
			WithArgs(int64(10)).
			WillReturnRows(requestRows(10, 7, int64(2), nil, 1, "", "in_progress", "partially_paid", "51.00"))

		r, err := svc.Transition(ctx, admin, 10, models.TransitionInput{PaymentStatus: strp("partially_paid")})
		if err != nil {
			t.Fatalf("Transition: %v", err)
		}
		if r.Status != models.StatusInProgress {
			t.Errorf("Status = %s, want in_progress (untouched)", r.Status)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Error(err)
		}
	})

	t.Run("rejects_unknown_status", func(t *testing.T) {
		svc, mock := newRequestMock(t)

		mock.ExpectQuery("SELECT " + requestColumns + " FROM service_requests WHERE id = ?").
			WithArgs(int64(10)).
			WillReturnRows(requestRows(10, 7, int64(2), nil, 1, "", "pending", "unpaid", "51.00"))

		_, err := svc.Transition(ctx, admin, 10, models.TransitionInput{Status: strp("shipped")})
		if !errors.Is(err, apperr.ErrInvalidInput) {
			t.Fatalf("Transition err = %v, want ErrInvalidInput", err)
		}
	})

	t.Run("missing_request", func(t *testing.T) {
		svc, mock := newRequestMock(t)

		mock.ExpectQuery("SELECT " + requestColumns + " FROM service_requests WHERE id = ?").
			WithArgs(int64(404)).
			WillReturnError(sql.ErrNoRows)

		_, err := svc.Transition(ctx, admin, 404, models.TransitionInput{Status: strp("completed")})
		if !errors.Is(err, apperr.ErrNotFound) {
			t.Fatalf("Transition err = %v, want ErrNotFound", err)
		}
	})
}

func TestListRequests(t *testing.T) {
	ctx := context.Background()

	t.Run("owner_sees_only_own", func(t *testing.T) {
		svc, mock := newRequestMock(t)

		rows := requestRows(10, 7, int64(2), nil, 1, "", "pending", "unpaid", "25.50")
		mock.ExpectQuery("SELECT " + requestColumns + " FROM service_requests WHERE user_id = ? ORDER BY created_at DESC").
			WithArgs(int64(7)).
			WillReturnRows(rows)

		got, err := svc.List(ctx, auth.Principal{UserID: 7})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(got) != 1 || got[0].UserID != 7 {
			t.Errorf("got %d rows, want 1 owned by user 7", len(got))
		}
	})

	t.Run("admin_sees_all", func(t *testing.T) {
		svc, mock := newRequestMock(t)

		now := time.Now()
		rows := sqlmock.NewRows([]string{"id", "user_id", "product_id", "repair_id", "quantity", "notes", "status", "payment_status", "total_price", "created_at", "updated_at"}).
			AddRow(10, 7, int64(2), nil, 1, "", "pending", "unpaid", "25.50", now, now).
			AddRow(11, 8, nil, int64(3), 1, "", "completed", "paid", "60.00", now, now)
		mock.ExpectQuery("SELECT " + requestColumns + " FROM service_requests ORDER BY created_at DESC").
			WillReturnRows(rows)

		got, err := svc.List(ctx, auth.Principal{UserID: 1, Admin: true})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(got) != 2 {
			t.Errorf("got %d rows, want 2", len(got))
		}
	})
}
