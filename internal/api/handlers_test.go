package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/garageworks/autoshop/internal/apperr"
)

func TestWriteError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid_input", fmt.Errorf("quantity must be positive: %w", apperr.ErrInvalidInput), http.StatusBadRequest},
		{"unauthenticated", fmt.Errorf("invalid credentials: %w", apperr.ErrUnauthenticated), http.StatusUnauthorized},
		{"forbidden", fmt.Errorf("catalog writes require admin: %w", apperr.ErrForbidden), http.StatusForbidden},
		{"not_found", fmt.Errorf("product 99: %w", apperr.ErrNotFound), http.StatusNotFound},
		{"insufficient_stock", fmt.Errorf("have 2, want 5: %w", apperr.ErrInsufficientStock), http.StatusConflict},
		{"unexpected", fmt.Errorf("connection reset"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeError(rec, tc.err)

			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("response is not JSON: %v", err)
			}
			if body["error"] == "" {
				t.Error("error message is empty")
			}
		})
	}
}

func TestPagination(t *testing.T) {
	cases := []struct {
		name       string
		url        string
		wantLimit  int
		wantOffset int
	}{
		{"defaults", "/api/v1/products", 20, 0},
		{"explicit", "/api/v1/products?limit=50&offset=100", 50, 100},
		{"limit_capped", "/api/v1/products?limit=9999", 20, 0},
		{"garbage_ignored", "/api/v1/products?limit=abc&offset=-3", 20, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tc.url, nil)
			limit, offset := pagination(r)
			if limit != tc.wantLimit || offset != tc.wantOffset {
				t.Errorf("pagination = (%d, %d), want (%d, %d)", limit, offset, tc.wantLimit, tc.wantOffset)
			}
		})
	}
}
