package httpapi

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopstream/opstrack/internal/tracker"
)

// Each webhook family routes on a closed action set. Parsing returns
// actionUnhandled for anything outside the set; unhandled actions are
// logged and acknowledged so upstream redelivery does not spin on them.

type orderAction int

const (
	orderActionUnhandled orderAction = iota
	orderActionCreated
	orderActionUpdated
	orderActionStatusChanged
	orderActionCancelled
)

func parseOrderAction(event string) orderAction {
	switch event {
	case "order.created":
		return orderActionCreated
	case "order.updated":
		return orderActionUpdated
	case "order.status_changed":
		return orderActionStatusChanged
	case "order.cancelled":
		return orderActionCancelled
	default:
		return orderActionUnhandled
	}
}

type paymentAction int

const (
	paymentActionUnhandled paymentAction = iota
	paymentActionCompleted
	paymentActionFailed
	paymentActionRefunded
)

func parsePaymentAction(event string) paymentAction {
	switch event {
	case "payment.completed":
		return paymentActionCompleted
	case "payment.failed":
		return paymentActionFailed
	case "payment.refunded":
		return paymentActionRefunded
	default:
		return paymentActionUnhandled
	}
}

type shippingAction int

const (
	shippingActionUnhandled shippingAction = iota
	shippingActionShipped
	shippingActionInTransit
	shippingActionOutForDelivery
	shippingActionDelivered
	shippingActionException
)

func parseShippingAction(event string) shippingAction {
	switch event {
	case "shipment.shipped":
		return shippingActionShipped
	case "shipment.in_transit":
		return shippingActionInTransit
	case "shipment.out_for_delivery":
		return shippingActionOutForDelivery
	case "shipment.delivered":
		return shippingActionDelivered
	case "shipment.exception":
		return shippingActionException
	default:
		return shippingActionUnhandled
	}
}

type supportAction int

const (
	supportActionUnhandled supportAction = iota
	supportActionCreate
	supportActionUpdate
	supportActionSatisfaction
)

func parseSupportAction(action string) supportAction {
	switch action {
	case "ticket.created":
		return supportActionCreate
	case "ticket.updated":
		return supportActionUpdate
	case "ticket.satisfaction":
		return supportActionSatisfaction
	default:
		return supportActionUnhandled
	}
}

type inventoryAction int

const (
	inventoryActionUnhandled inventoryAction = iota
	inventoryActionMovement
	inventoryActionProductUpdate
	inventoryActionAlertResolve
)

func parseInventoryAction(action string) inventoryAction {
	switch action {
	case "stock.movement":
		return inventoryActionMovement
	case "product.updated":
		return inventoryActionProductUpdate
	case "alert.resolved":
		return inventoryActionAlertResolve
	default:
		return inventoryActionUnhandled
	}
}

type orderPayloadItem struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

type orderPayloadBody struct {
	OrderID           string             `json:"orderId"`
	CustomerID        string             `json:"customerId"`
	CustomerName      string             `json:"customerName"`
	CustomerEmail     string             `json:"customerEmail"`
	Status            string             `json:"status"`
	TotalAmount       float64            `json:"totalAmount"`
	Currency          string             `json:"currency"`
	PaymentMethod     string             `json:"paymentMethod"`
	ShippingMethod    string             `json:"shippingMethod"`
	TrackingNumber    string             `json:"trackingNumber"`
	Carrier           string             `json:"carrier"`
	EstimatedDelivery string             `json:"estimatedDelivery"`
	ShippingAddress   string             `json:"shippingAddress"`
	BillingAddress    string             `json:"billingAddress"`
	CreatedAt         string             `json:"createdAt"`
	Notes             string             `json:"notes"`
	Items             []orderPayloadItem `json:"items"`
}

type orderPayload struct {
	Event string           `json:"event"`
	Order orderPayloadBody `json:"order"`
}

type paymentPayload struct {
	Event         string  `json:"event"`
	OrderID       string  `json:"orderId"`
	PaymentMethod string  `json:"paymentMethod"`
	Amount        float64 `json:"amount"`
	Reason        string  `json:"reason"`
}

type shippingPayload struct {
	Event             string `json:"event"`
	OrderID           string `json:"orderId"`
	Status            string `json:"status"`
	TrackingNumber    string `json:"trackingNumber"`
	Carrier           string `json:"carrier"`
	CarrierStatus     string `json:"carrierStatus"`
	Location          string `json:"location"`
	Details           string `json:"details"`
	EstimatedDelivery string `json:"estimatedDelivery"`
}

type supportPayload struct {
	Action string `json:"action"`
	Ticket struct {
		TicketID      string   `json:"ticketId"`
		CustomerID    string   `json:"customerId"`
		CustomerName  string   `json:"customerName"`
		CustomerEmail string   `json:"customerEmail"`
		Subject       string   `json:"subject"`
		Description   string   `json:"description"`
		Category      string   `json:"category"`
		Priority      string   `json:"priority"`
		Status        string   `json:"status"`
		AssignedTo    string   `json:"assignedTo"`
		Channel       string   `json:"channel"`
		Tags          []string `json:"tags"`
		UpdatedBy     string   `json:"updatedBy"`
		Message       string   `json:"message"`
		Score         int      `json:"score"`
		Feedback      string   `json:"feedback"`
	} `json:"ticket"`
}

type inventoryPayload struct {
	Action   string `json:"action"`
	Movement struct {
		ProductID    string `json:"productId"`
		MovementType string `json:"movementType"`
		Quantity     int    `json:"quantity"`
		Reason       string `json:"reason"`
		MovedBy      string `json:"movedBy"`
		Reference    string `json:"reference"`
	} `json:"movement"`
	Product struct {
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
	} `json:"product"`
	AlertID string `json:"alertId"`
}

// strapiPayload is the CMS lifecycle hook envelope. The entry shape
// depends on the model, so it stays raw until the handler knows which
// DTO to decode into.
type strapiPayload struct {
	Event string          `json:"event"`
	Model string          `json:"model"`
	Entry json.RawMessage `json:"entry"`
}

type userPayload struct {
	Type      string  `json:"type"`
	UserID    string  `json:"userId"`
	SessionID string  `json:"sessionId"`
	Page      string  `json:"page"`
	ProductID string  `json:"productId"`
	Referrer  string  `json:"referrer"`
	UserAgent string  `json:"userAgent"`
	OrderID   string  `json:"orderId"`
	Value     float64 `json:"value"`
	Timestamp string  `json:"timestamp"`
}

func (p orderPayloadBody) toOrder() tracker.Order {
	items := make([]tracker.OrderItem, 0, len(p.Items))
	for _, item := range p.Items {
		items = append(items, tracker.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			Price:     item.Price,
		})
	}
	return tracker.Order{
		OrderID:           p.OrderID,
		CustomerID:        p.CustomerID,
		CustomerName:      p.CustomerName,
		CustomerEmail:     p.CustomerEmail,
		Status:            p.Status,
		TotalAmount:       p.TotalAmount,
		Currency:          p.Currency,
		PaymentMethod:     p.PaymentMethod,
		ShippingMethod:    p.ShippingMethod,
		TrackingNumber:    p.TrackingNumber,
		Carrier:           p.Carrier,
		EstimatedDelivery: parseEventTime(p.EstimatedDelivery),
		Items:             items,
		ShippingAddress:   p.ShippingAddress,
		BillingAddress:    p.BillingAddress,
		CreatedAt:         parseEventTime(p.CreatedAt),
		Notes:             p.Notes,
	}
}

// parseEventTime accepts the store's own serialization format, RFC 3339
// as sent by the CMS, and a bare date.
func parseEventTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
