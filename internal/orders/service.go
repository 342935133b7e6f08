package orders

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sportmart/orders/internal/logger"
)

// Store is the authoritative order + inventory record. *Repo implements it;
// tests swap in an in-memory fake.
type Store interface {
	Create(ctx context.Context, in CreateInput) (*Order, error)
	Cancel(ctx context.Context, orderID, userID, reason string) (*Order, error)
	UpdateStatus(ctx context.Context, orderID string, upd StatusUpdate) (*Order, Status, error)
	Get(ctx context.Context, orderID string) (*Order, error)
	GetByNumber(ctx context.Context, number string) (*Order, error)
	ListByUser(ctx context.Context, userID string, p Page) ([]Order, int, error)
	List(ctx context.Context, f ListFilter) ([]Order, int, error)
	Stats(ctx context.Context) (*Stats, error)
}

// CartStore is the narrow contract to the (out-of-scope) cart collaborator.
type CartStore interface {
	Clear(ctx context.Context, userID string) error
}

// Notifier is the hub seen from the engine. Every method must be
// non-blocking and never fail the calling operation.
type Notifier interface {
	BroadcastToAdmins(ev Event)
	NotifyUser(userID string, ev Event)
}

// Publisher pushes integration events to the broker, fire-and-forget.
type Publisher interface {
	Publish(topic, eventType string, key, value []byte)
}

var _ Store = (*Repo)(nil)

type Service struct {
	Store    Store
	Cart     CartStore
	Hub      Notifier
	Producer Publisher
	Log      *logger.Logger
	Name     string // producer tag on integration envelopes
}

const (
	ShippingStandard = "standard"
	ShippingExpress  = "express"

	shippingFeeStandardCents = 500
	shippingFeeExpressCents  = 1500
)

func shippingFeeCents(method string) int {
	if method == ShippingExpress {
		return shippingFeeExpressCents
	}
	return shippingFeeStandardCents
}

type CreateRequest struct {
	Items          []ItemInput     `json:"items"`
	ShippingMethod string          `json:"shipping_method"`
	PaymentMethod  string          `json:"payment_method"`
	Address        ShippingAddress `json:"shipping_address"`
	Notes          string          `json:"notes,omitempty"`
}

func (req *CreateRequest) validate() error {
	if len(req.Items) == 0 {
		return E(CodeValidation, ReasonBadInput, "at least one item required")
	}
	seen := map[string]bool{}
	for _, it := range req.Items {
		if it.ProductID == "" {
			return E(CodeValidation, ReasonBadInput, "item missing product_id")
		}
		if it.Qty <= 0 {
			return E(CodeValidation, ReasonBadInput, "invalid qty for product %s", it.ProductID)
		}
		if seen[it.ProductID] {
			return E(CodeValidation, ReasonBadInput, "duplicate item for product %s", it.ProductID)
		}
		seen[it.ProductID] = true
	}
	if req.ShippingMethod != ShippingStandard && req.ShippingMethod != ShippingExpress {
		return E(CodeValidation, ReasonBadInput, "unknown shipping method %q", req.ShippingMethod)
	}
	if req.PaymentMethod == "" {
		return E(CodeValidation, ReasonBadInput, "payment method required")
	}
	a := req.Address
	if a.FullName == "" || a.Street == "" || a.City == "" || a.Country == "" {
		return E(CodeValidation, ReasonBadInput, "incomplete shipping address")
	}
	return nil
}

// Create places an order. The store call is atomic; the cart clear and the
// two emissions afterwards are advisory and never fail the request.
func (s *Service) Create(ctx context.Context, userID string, req CreateRequest) (*Order, error) {
	if userID == "" {
		return nil, E(CodeValidation, ReasonBadInput, "user id required")
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	o, err := s.Store.Create(ctx, CreateInput{
		UserID:           userID,
		Items:            req.Items,
		ShippingMethod:   req.ShippingMethod,
		PaymentMethod:    req.PaymentMethod,
		ShippingFeeCents: shippingFeeCents(req.ShippingMethod),
		Address:          req.Address,
		Notes:            req.Notes,
	})
	if err != nil {
		return nil, err
	}

	if err := s.Cart.Clear(ctx, userID); err != nil {
		s.Log.Error("cart_clear", err, map[string]any{"user_id": userID})
	}

	s.Hub.BroadcastToAdmins(NewEvent(EventOrderCreated, OrderCreatedPayload{
		Order: o.Summary(),
		Items: len(o.Items),
	}))
	s.publish(TopicOrderCreated, EventOrderCreated, o.ID, OrderCreatedPayload{
		Order: o.Summary(),
		Items: len(o.Items),
	})
	return o, nil
}

func (s *Service) Cancel(ctx context.Context, orderID, userID, reason string) (*Order, error) {
	if orderID == "" || userID == "" {
		return nil, E(CodeValidation, ReasonBadInput, "order id and user id required")
	}
	o, err := s.Store.Cancel(ctx, orderID, userID, reason)
	if err != nil {
		return nil, err
	}

	s.Hub.BroadcastToAdmins(NewEvent(EventOrderCancelled, OrderCancelledPayload{
		Order:  o.Summary(),
		Reason: reason,
	}))
	s.publish(TopicOrderCancelled, EventOrderCancelled, o.ID, OrderCancelledPayload{
		Order:  o.Summary(),
		Reason: reason,
	})
	return o, nil
}

type UpdateStatusRequest struct {
	Status         Status        `json:"status"`
	PaymentStatus  PaymentStatus `json:"payment_status,omitempty"`
	TrackingNumber string        `json:"tracking_number,omitempty"`
	Carrier        string        `json:"carrier,omitempty"`
	Notes          string        `json:"notes,omitempty"`
}

// UpdateStatus is admin-only; the route layer enforces the role, the engine
// enforces the transition graph.
func (s *Service) UpdateStatus(ctx context.Context, orderID, adminID string, req UpdateStatusRequest) (*Order, error) {
	if orderID == "" {
		return nil, E(CodeValidation, ReasonBadInput, "order id required")
	}
	if !ValidStatus(req.Status) {
		return nil, E(CodeValidation, ReasonBadInput, "unknown status %q", req.Status)
	}
	if req.PaymentStatus != "" && !ValidPaymentStatus(req.PaymentStatus) {
		return nil, E(CodeValidation, ReasonBadInput, "unknown payment status %q", req.PaymentStatus)
	}

	o, from, err := s.Store.UpdateStatus(ctx, orderID, StatusUpdate{
		Status:         req.Status,
		PaymentStatus:  req.PaymentStatus,
		TrackingNumber: req.TrackingNumber,
		Carrier:        req.Carrier,
		Notes:          req.Notes,
	})
	if err != nil {
		return nil, err
	}

	s.Hub.NotifyUser(o.UserID, NewEvent(EventOrderUpdated, OrderUpdatedPayload{
		Order:          o.Summary(),
		TrackingNumber: o.TrackingNumber,
		Carrier:        o.Carrier,
	}))
	s.Hub.BroadcastToAdmins(NewEvent(EventOrderStatusChanged, OrderStatusChangedPayload{
		Order:   o.Summary(),
		From:    from,
		AdminID: adminID,
	}))
	s.publish(TopicOrderStatusChanged, EventOrderStatusChanged, o.ID, OrderStatusChangedPayload{
		Order:   o.Summary(),
		From:    from,
		AdminID: adminID,
	})
	return o, nil
}

// Get applies the ownership check for non-admin callers.
func (s *Service) Get(ctx context.Context, orderID, callerID string, admin bool) (*Order, error) {
	o, err := s.Store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !admin && o.UserID != callerID {
		return nil, E(CodeUnauthorized, ReasonNotOwner, "order %s does not belong to caller", orderID)
	}
	return o, nil
}

func (s *Service) GetByNumber(ctx context.Context, number, callerID string, admin bool) (*Order, error) {
	if !ValidOrderNumber(number) {
		return nil, E(CodeValidation, ReasonBadInput, "malformed order number %q", number)
	}
	o, err := s.Store.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if !admin && o.UserID != callerID {
		return nil, E(CodeUnauthorized, ReasonNotOwner, "order %s does not belong to caller", number)
	}
	return o, nil
}

func (s *Service) ListMine(ctx context.Context, userID string, p Page) ([]Order, int, error) {
	if userID == "" {
		return nil, 0, E(CodeValidation, ReasonBadInput, "user id required")
	}
	return s.Store.ListByUser(ctx, userID, clampPage(p))
}

func (s *Service) ListAll(ctx context.Context, f ListFilter) ([]Order, int, error) {
	if f.Status != "" && !ValidStatus(f.Status) {
		return nil, 0, E(CodeValidation, ReasonBadInput, "unknown status %q", f.Status)
	}
	if f.PaymentStatus != "" && !ValidPaymentStatus(f.PaymentStatus) {
		return nil, 0, E(CodeValidation, ReasonBadInput, "unknown payment status %q", f.PaymentStatus)
	}
	f.Page = clampPage(f.Page)
	return s.Store.List(ctx, f)
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	return s.Store.Stats(ctx)
}

func clampPage(p Page) Page {
	if p.Limit <= 0 {
		p.Limit = 20
	}
	if p.Limit > 100 {
		p.Limit = 100
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

func (s *Service) publish(topic, eventType, orderID string, payload any) {
	if s.Producer == nil {
		return
	}
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.Name,
		CorrelationID: orderID,
		Payload:       mustJSON(payload),
	}
	s.Producer.Publish(topic, eventType, PartitionKey(orderID), mustJSON(env))
}
