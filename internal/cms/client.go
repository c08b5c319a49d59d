// Package cms reads authoritative order and product state from the
// upstream Strapi CMS. The trackers only consume it during full resync;
// webhook traffic never goes through this client.
package cms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var ErrUnavailable = errors.New("cms unavailable")

// Order is the CMS view of an order. Money is a decimal string in the
// API; Amount is already parsed here.
type Order struct {
	OrderID           string      `json:"orderId"`
	CustomerID        string      `json:"customerId"`
	CustomerName      string      `json:"customerName"`
	CustomerEmail     string      `json:"customerEmail"`
	Status            string      `json:"status"`
	TotalAmount       float64     `json:"totalAmount"`
	Currency          string      `json:"currency"`
	PaymentMethod     string      `json:"paymentMethod"`
	ShippingMethod    string      `json:"shippingMethod"`
	TrackingNumber    string      `json:"trackingNumber"`
	Carrier           string      `json:"carrier"`
	EstimatedDelivery string      `json:"estimatedDelivery"`
	ActualDelivery    string      `json:"actualDelivery"`
	ShippingAddress   string      `json:"shippingAddress"`
	BillingAddress    string      `json:"billingAddress"`
	Notes             string      `json:"notes"`
	CreatedAt         string      `json:"createdAt"`
	UpdatedAt         string      `json:"updatedAt"`
	Items             []OrderItem `json:"items"`
}

type OrderItem struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

// Product is the CMS view of a catalog product with inventory settings.
type Product struct {
	ProductID         string  `json:"productId"`
	Name              string  `json:"name"`
	SKU               string  `json:"sku"`
	Category          string  `json:"category"`
	Supplier          string  `json:"supplier"`
	CurrentStock      int     `json:"currentStock"`
	LowStockThreshold int     `json:"lowStockThreshold"`
	ReorderQuantity   int     `json:"reorderQuantity"`
	UnitCost          float64 `json:"unitCost"`
	UnitPrice         float64 `json:"unitPrice"`
	UpdatedAt         string  `json:"updatedAt"`
}

type ClientOptions struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	PageSize   int
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	pageSize   int
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewClient(opts ClientOptions) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("cms base url is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		token:      strings.TrimSpace(opts.Token),
		httpClient: httpClient,
		pageSize:   pageSize,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
	}, nil
}

type page[T any] struct {
	Data []T `json:"data"`
	Meta struct {
		Pagination struct {
			Page      int `json:"page"`
			PageSize  int `json:"pageSize"`
			PageCount int `json:"pageCount"`
			Total     int `json:"total"`
		} `json:"pagination"`
	} `json:"meta"`
}

// FetchOrders walks every page of /api/orders.
func (c *Client) FetchOrders(ctx context.Context) ([]Order, error) {
	return fetchAll[Order](ctx, c, "/api/orders")
}

// FetchProducts walks every page of /api/products.
func (c *Client) FetchProducts(ctx context.Context) ([]Product, error) {
	return fetchAll[Product](ctx, c, "/api/products")
}

func fetchAll[T any](ctx context.Context, c *Client, path string) ([]T, error) {
	var out []T
	for pageNum := 1; ; pageNum++ {
		q := url.Values{}
		q.Set("pagination[page]", fmt.Sprintf("%d", pageNum))
		q.Set("pagination[pageSize]", fmt.Sprintf("%d", c.pageSize))
		var resp page[T]
		if err := c.doJSON(ctx, path+"?"+q.Encode(), &resp); err != nil {
			return nil, err
		}
		out = append(out, resp.Data...)
		if pageNum >= resp.Meta.Pagination.PageCount || len(resp.Data) == 0 {
			return out, nil
		}
	}
}

func (c *Client) doJSON(ctx context.Context, path string, out any) error {
	reqURL := c.baseURL + path
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return err
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1)); waitErr != nil {
					return waitErr
				}
				continue
			}
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out != nil && len(body) > 0 {
				return json.Unmarshal(body, out)
			}
			return nil
		}
		if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < c.maxRetries {
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1)); waitErr != nil {
				return waitErr
			}
			continue
		}
		return fmt.Errorf("%w: status=%d message=%s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

func (c *Client) retryDelay(attempt int) time.Duration {
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
