// Package httpapi is the webhook ingress: it authenticates inbound
// events, validates their shape, and routes them to the domain
// trackers. Handlers are the error boundary; no tracker error detail
// crosses the HTTP surface.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/shopstream/opstrack/internal/cms"
	"github.com/shopstream/opstrack/internal/tracker"
)

type ServerConfig struct {
	WebhookSecret string
	ServiceName   string
	MaxBodyBytes  int64
}

// Trackers are the webhook dispatch targets.
type Trackers struct {
	Orders    *tracker.OrderTracker
	Inventory *tracker.InventoryTracker
	Support   *tracker.SupportTracker
	Journeys  *tracker.JourneyTracker
}

type Server struct {
	trackers Trackers
	events   *tracker.EventLog
	cfg      ServerConfig
	schemas  *payloadSchemas
}

func NewServer(trackers Trackers, events *tracker.EventLog, cfg ServerConfig) (*Server, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "opstrack"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	return &Server{
		trackers: trackers,
		events:   events,
		cfg:      cfg,
		schemas:  schemas,
	}, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"service":   s.cfg.ServiceName,
		})
		return
	}
	if r.URL.Path == "/ws/events" && r.Method == http.MethodGet {
		s.handleEventsFeed(w, r)
		return
	}
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "not found"})
		return
	}

	switch r.URL.Path {
	case "/webhooks/order":
		s.handleSigned(w, r, s.schemas.order, s.handleOrderEvent)
	case "/webhooks/payment":
		s.handleSigned(w, r, s.schemas.payment, s.handlePaymentEvent)
	case "/webhooks/shipping":
		s.handleSigned(w, r, s.schemas.shipping, s.handleShippingEvent)
	case "/webhooks/support":
		s.handleSigned(w, r, s.schemas.support, s.handleSupportEvent)
	case "/webhooks/inventory":
		s.handleSigned(w, r, s.schemas.inventory, s.handleInventoryEvent)
	case "/webhooks/strapi/order":
		s.handleSigned(w, r, s.schemas.strapi, s.handleStrapiOrderEvent)
	case "/webhooks/strapi/product":
		s.handleSigned(w, r, s.schemas.strapi, s.handleStrapiProductEvent)
	case "/webhooks/user":
		// Client-side analytics beacon; browsers cannot sign requests.
		s.handleUnsigned(w, r, s.schemas.user, s.handleUserEvent)
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "not found"})
	}
}

type eventHandler func(ctx context.Context, body []byte) error

func (s *Server) handleSigned(w http.ResponseWriter, r *http.Request, schema *jsonschema.Schema, handler eventHandler) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	if !verifySignature(s.cfg.WebhookSecret, signatureHeader(r.Header.Get), body) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid signature"})
		return
	}
	s.dispatch(w, r, schema, handler, body)
}

func (s *Server) handleUnsigned(w http.ResponseWriter, r *http.Request, schema *jsonschema.Schema, handler eventHandler) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	s.dispatch(w, r, schema, handler, body)
}

// dispatch is the error boundary: malformed JSON, schema violations and
// tracker failures all collapse into a generic 500 with the detail kept
// in the log.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, schema *jsonschema.Schema, handler eventHandler, body []byte) {
	if !json.Valid(body) {
		log.Printf("httpapi: %s: malformed json body", r.URL.Path)
		writeInternalError(w)
		return
	}
	if err := validatePayload(schema, body); err != nil {
		log.Printf("httpapi: %s: payload validation failed: %v", r.URL.Path, err)
		writeInternalError(w)
		return
	}
	if err := handler(r.Context(), body); err != nil {
		log.Printf("httpapi: %s: %v", r.URL.Path, err)
		writeInternalError(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleOrderEvent(ctx context.Context, body []byte) error {
	var payload orderPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return err
	}
	switch parseOrderAction(payload.Event) {
	case orderActionCreated, orderActionUpdated:
		return s.trackers.Orders.TrackOrder(ctx, payload.Order.toOrder())
	case orderActionStatusChanged:
		return s.trackers.Orders.UpdateOrderStatus(ctx, payload.Order.OrderID, payload.Order.Status, tracker.StatusMetadata{
			TrackingNumber:    payload.Order.TrackingNumber,
			Carrier:           payload.Order.Carrier,
			EstimatedDelivery: parseEventTime(payload.Order.EstimatedDelivery),
			Notes:             payload.Order.Notes,
		})
	case orderActionCancelled:
		return s.trackers.Orders.UpdateOrderStatus(ctx, payload.Order.OrderID, tracker.OrderStatusCancelled, tracker.StatusMetadata{
			Notes: payload.Order.Notes,
		})
	default:
		s.acknowledgeUnhandled("order", payload.Event)
		return nil
	}
}

func (s *Server) handlePaymentEvent(ctx context.Context, body []byte) error {
	var payload paymentPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return err
	}
	meta := tracker.StatusMetadata{ChangedBy: "payment", Notes: payload.Reason}
	switch parsePaymentAction(payload.Event) {
	case paymentActionCompleted:
		return s.trackers.Orders.UpdateOrderStatus(ctx, payload.OrderID, tracker.OrderStatusConfirmed, meta)
	case paymentActionFailed:
		return s.trackers.Orders.UpdateOrderStatus(ctx, payload.OrderID, tracker.OrderStatusCancelled, meta)
	case paymentActionRefunded:
		return s.trackers.Orders.UpdateOrderStatus(ctx, payload.OrderID, tracker.OrderStatusRefunded, meta)
	default:
		s.acknowledgeUnhandled("payment", payload.Event)
		return nil
	}
}

func (s *Server) handleShippingEvent(ctx context.Context, body []byte) error {
	var payload shippingPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return err
	}
	action := parseShippingAction(payload.Event)
	if action == shippingActionUnhandled {
		s.acknowledgeUnhandled("shipping", payload.Event)
		return nil
	}

	newStatus := payload.Status
	if newStatus == "" {
		switch action {
		case shippingActionShipped, shippingActionInTransit, shippingActionException:
			newStatus = tracker.OrderStatusShipped
		case shippingActionOutForDelivery:
			newStatus = tracker.OrderStatusOutForDelivery
		case shippingActionDelivered:
			newStatus = tracker.OrderStatusDelivered
		}
	}
	carrierStatus := payload.CarrierStatus
	if carrierStatus == "" && action == shippingActionException {
		carrierStatus = "exception"
	}
	return s.trackers.Orders.UpdateOrderStatus(ctx, payload.OrderID, newStatus, tracker.StatusMetadata{
		TrackingNumber:    payload.TrackingNumber,
		Carrier:           payload.Carrier,
		EstimatedDelivery: parseEventTime(payload.EstimatedDelivery),
		Location:          payload.Location,
		CarrierStatus:     carrierStatus,
		Details:           payload.Details,
		ChangedBy:         "carrier",
	})
}

func (s *Server) handleSupportEvent(ctx context.Context, body []byte) error {
	var payload supportPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return err
	}
	ticket := payload.Ticket
	switch parseSupportAction(payload.Action) {
	case supportActionCreate:
		_, err := s.trackers.Support.CreateTicket(ctx, tracker.TicketInput{
			CustomerID:    ticket.CustomerID,
			CustomerName:  ticket.CustomerName,
			CustomerEmail: ticket.CustomerEmail,
			Subject:       ticket.Subject,
			Description:   ticket.Description,
			Category:      ticket.Category,
			Priority:      ticket.Priority,
			Channel:       ticket.Channel,
			Tags:          ticket.Tags,
		})
		return err
	case supportActionUpdate:
		return s.trackers.Support.UpdateTicketStatus(ctx, ticket.TicketID, ticket.Status, ticket.UpdatedBy, ticket.Message, ticket.AssignedTo)
	case supportActionSatisfaction:
		return s.trackers.Support.AddSatisfactionScore(ctx, ticket.TicketID, ticket.Score, ticket.Feedback)
	default:
		s.acknowledgeUnhandled("support", payload.Action)
		return nil
	}
}

func (s *Server) handleInventoryEvent(ctx context.Context, body []byte) error {
	var payload inventoryPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return err
	}
	switch parseInventoryAction(payload.Action) {
	case inventoryActionMovement:
		return s.trackers.Inventory.TrackStockMovement(ctx, tracker.StockMovement{
			ProductID:    payload.Movement.ProductID,
			MovementType: payload.Movement.MovementType,
			Quantity:     payload.Movement.Quantity,
			Reason:       payload.Movement.Reason,
			MovedBy:      payload.Movement.MovedBy,
			Reference:    payload.Movement.Reference,
		})
	case inventoryActionProductUpdate:
		return s.trackers.Inventory.UpdateProductInventory(ctx, tracker.InventoryRecord{
			ProductID:         payload.Product.ProductID,
			Name:              payload.Product.Name,
			SKU:               payload.Product.SKU,
			Category:          payload.Product.Category,
			Supplier:          payload.Product.Supplier,
			CurrentStock:      payload.Product.CurrentStock,
			LowStockThreshold: payload.Product.LowStockThreshold,
			ReorderQuantity:   payload.Product.ReorderQuantity,
			UnitCost:          payload.Product.UnitCost,
			UnitPrice:         payload.Product.UnitPrice,
		})
	case inventoryActionAlertResolve:
		return s.trackers.Inventory.ResolveStockAlert(ctx, payload.AlertID)
	default:
		s.acknowledgeUnhandled("inventory", payload.Action)
		return nil
	}
}

// handleStrapiOrderEvent folds CMS entry lifecycle hooks into the same
// upsert path the order webhook uses. The entry map carries the CMS
// field names.
func (s *Server) handleStrapiOrderEvent(ctx context.Context, body []byte) error {
	var payload strapiPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return err
	}
	switch payload.Event {
	case "entry.create", "entry.update", "entry.publish":
	default:
		s.acknowledgeUnhandled("strapi/order", payload.Event)
		return nil
	}
	var entry cms.Order
	if err := json.Unmarshal(payload.Entry, &entry); err != nil {
		return err
	}
	return s.trackers.Orders.TrackOrder(ctx, tracker.OrderFromCMS(entry))
}

func (s *Server) handleStrapiProductEvent(ctx context.Context, body []byte) error {
	var payload strapiPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return err
	}
	switch payload.Event {
	case "entry.create", "entry.update", "entry.publish":
	default:
		s.acknowledgeUnhandled("strapi/product", payload.Event)
		return nil
	}
	var entry cms.Product
	if err := json.Unmarshal(payload.Entry, &entry); err != nil {
		return err
	}
	return s.trackers.Inventory.UpdateProductInventory(ctx, tracker.InventoryFromCMS(entry))
}

func (s *Server) handleUserEvent(ctx context.Context, body []byte) error {
	var payload userPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return err
	}
	switch payload.Type {
	case "purchase":
		return s.trackers.Journeys.TrackPurchase(ctx, payload.UserID, payload.SessionID, payload.OrderID, payload.Value)
	case "conversion":
		return s.trackers.Journeys.TrackConversion(ctx, tracker.Conversion{
			UserID:    payload.UserID,
			SessionID: payload.SessionID,
			Type:      "conversion",
			OrderID:   payload.OrderID,
			Value:     payload.Value,
			Timestamp: parseEventTime(payload.Timestamp),
		})
	default:
		return s.trackers.Journeys.TrackUserActivity(ctx, tracker.Activity{
			UserID:    payload.UserID,
			SessionID: payload.SessionID,
			Type:      payload.Type,
			Page:      payload.Page,
			ProductID: payload.ProductID,
			Referrer:  payload.Referrer,
			UserAgent: payload.UserAgent,
			Timestamp: parseEventTime(payload.Timestamp),
		})
	}
}

// acknowledgeUnhandled logs an out-of-contract action. The request is
// still acknowledged: rejecting would make at-least-once senders retry
// an event this service will never handle.
func (s *Server) acknowledgeUnhandled(family, action string) {
	log.Printf("httpapi: unhandled %s action %q acknowledged", family, action)
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("httpapi: %s: reading body: %v", r.URL.Path, err)
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "unreadable request body"})
		return nil, false
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeInternalError(w http.ResponseWriter) {
	writeJSON(w, http.StatusInternalServerError, map[string]any{
		"success": false,
		"message": "internal server error",
	})
}
