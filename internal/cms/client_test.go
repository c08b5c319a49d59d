package cms

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(ClientOptions{
		BaseURL:    srv.URL,
		Token:      "cms-token",
		PageSize:   2,
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestFetchOrdersWalksPages(t *testing.T) {
	pages := map[string][]Order{
		"1": {{OrderID: "ORD-1"}, {OrderID: "ORD-2"}},
		"2": {{OrderID: "ORD-3"}},
	}
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer cms-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		pageNum := r.URL.Query().Get("pagination[page]")
		var resp page[Order]
		resp.Data = pages[pageNum]
		resp.Meta.Pagination.PageCount = 2
		_ = json.NewEncoder(w).Encode(resp)
	}))

	orders, err := client.FetchOrders(context.Background())
	if err != nil {
		t.Fatalf("fetch orders: %v", err)
	}
	if len(orders) != 3 {
		t.Fatalf("expected 3 orders, got %d", len(orders))
	}
	if orders[2].OrderID != "ORD-3" {
		t.Fatalf("unexpected last order: %+v", orders[2])
	}
}

func TestFetchProductsRetriesServerErrors(t *testing.T) {
	var calls int32
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var resp page[Product]
		resp.Data = []Product{{ProductID: "PROD-1", CurrentStock: 5}}
		resp.Meta.Pagination.PageCount = 1
		_ = json.NewEncoder(w).Encode(resp)
	}))

	products, err := client.FetchProducts(context.Background())
	if err != nil {
		t.Fatalf("fetch products: %v", err)
	}
	if len(products) != 1 || products[0].CurrentStock != 5 {
		t.Fatalf("unexpected products: %+v", products)
	}
}

func TestFetchOrdersSurfacesClientErrors(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	_, err := client.FetchOrders(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
