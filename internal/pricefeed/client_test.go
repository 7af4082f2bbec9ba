package pricefeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGetReferencePrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/prices/carbon" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"price":185000,"currency":"VND","as_of":"2026-08-01T00:00:00Z"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	price, status, retryAfter, err := c.GetReferencePrice(context.Background())
	if err != nil {
		t.Fatalf("get reference price: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if retryAfter != 0 {
		t.Fatalf("retry-after = %v, want 0", retryAfter)
	}
	if price == nil || price.Price != 185000 || price.Currency != "VND" {
		t.Fatalf("price = %+v, want 185000 VND", price)
	}
}

func TestGetReferencePrice_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	price, status, retryAfter, err := c.GetReferencePrice(context.Background())
	if err != nil {
		t.Fatalf("get reference price: %v", err)
	}
	if status != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", status)
	}
	if retryAfter != 30*time.Second {
		t.Fatalf("retry-after = %v, want 30s", retryAfter)
	}
	if price != nil {
		t.Fatalf("price = %+v, want nil", price)
	}
}

func TestGetReferencePrice_NoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	price, status, _, err := c.GetReferencePrice(context.Background())
	if err != nil {
		t.Fatalf("get reference price: %v", err)
	}
	if status != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", status)
	}
	if price != nil {
		t.Fatalf("price = %+v, want nil", price)
	}
}

func TestGetReferencePrice_NotConfigured(t *testing.T) {
	var c *Client
	if _, _, _, err := c.GetReferencePrice(context.Background()); err == nil {
		t.Fatalf("nil client must return error")
	}
}
