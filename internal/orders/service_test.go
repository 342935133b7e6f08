package orders

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sportmart/orders/internal/logger"
)

// memStore mirrors the Repo contract in memory, including its all-or-nothing
// create semantics and the guards it applies under the row lock.
type memStore struct {
	mu       sync.Mutex
	products map[string]*Product
	orders   map[string]*Order
}

func newMemStore(products ...*Product) *memStore {
	ms := &memStore{products: map[string]*Product{}, orders: map[string]*Order{}}
	for _, p := range products {
		ms.products[p.ID] = p
	}
	return ms
}

func (ms *memStore) Create(_ context.Context, in CreateInput) (*Order, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	subtotal := 0
	for _, it := range in.Items {
		p, ok := ms.products[it.ProductID]
		if !ok {
			return nil, E(CodeNotFound, ReasonProductNotFound, "product not found: %s", it.ProductID)
		}
		if !p.IsActive {
			return nil, E(CodeConflict, ReasonProductInactive, "product not purchasable: %s", it.ProductID)
		}
		if p.Stock < it.Qty {
			return nil, ErrInsufficientStock(it.ProductID, it.Qty, p.Stock)
		}
		subtotal += p.PriceCents * it.Qty
	}

	now := time.Now().UTC()
	o := &Order{
		ID:               uuid.NewString(),
		Number:           NewOrderNumber(now),
		UserID:           in.UserID,
		SubtotalCents:    subtotal,
		ShippingFeeCents: in.ShippingFeeCents,
		TotalCents:       subtotal + in.ShippingFeeCents,
		Status:           StatusPending,
		PaymentStatus:    PaymentPending,
		PaymentMethod:    in.PaymentMethod,
		ShippingMethod:   in.ShippingMethod,
		Address:          in.Address,
		Notes:            in.Notes,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	for _, it := range in.Items {
		p := ms.products[it.ProductID]
		o.Items = append(o.Items, OrderItem{
			ID: uuid.NewString(), OrderID: o.ID, ProductID: it.ProductID,
			ProductName: p.Name, Qty: it.Qty, PriceCents: p.PriceCents,
			Size: it.Size, Color: it.Color,
		})
		p.Stock -= it.Qty
		p.SoldCount += it.Qty
	}
	ms.orders[o.ID] = o
	cp := *o
	return &cp, nil
}

func (ms *memStore) Cancel(_ context.Context, orderID, userID, reason string) (*Order, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	o, ok := ms.orders[orderID]
	if !ok {
		return nil, E(CodeNotFound, ReasonOrderNotFound, "order not found: %s", orderID)
	}
	if o.UserID != userID {
		return nil, E(CodeUnauthorized, ReasonNotOwner, "order %s does not belong to caller", orderID)
	}
	if !Cancellable(o.Status) {
		return nil, E(CodeConflict, ReasonCancelNotAllowed, "cannot cancel order in status %s", o.Status)
	}
	for _, it := range o.Items {
		p := ms.products[it.ProductID]
		p.Stock += it.Qty
		p.SoldCount -= it.Qty
	}
	o.Status = StatusCancelled
	o.CancelReason = reason
	cp := *o
	return &cp, nil
}

func (ms *memStore) UpdateStatus(_ context.Context, orderID string, upd StatusUpdate) (*Order, Status, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	o, ok := ms.orders[orderID]
	if !ok {
		return nil, "", E(CodeNotFound, ReasonOrderNotFound, "order not found: %s", orderID)
	}
	from := o.Status
	if !CanTransition(from, upd.Status) {
		return nil, "", E(CodeConflict, ReasonInvalidTransition, "cannot move %s -> %s", from, upd.Status)
	}
	o.Status = upd.Status
	if upd.PaymentStatus != "" {
		o.PaymentStatus = upd.PaymentStatus
	}
	if upd.TrackingNumber != "" {
		o.TrackingNumber = upd.TrackingNumber
	}
	if upd.Carrier != "" {
		o.Carrier = upd.Carrier
	}
	if upd.Notes != "" {
		o.Notes = upd.Notes
	}
	cp := *o
	return &cp, from, nil
}

func (ms *memStore) Get(_ context.Context, orderID string) (*Order, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	o, ok := ms.orders[orderID]
	if !ok {
		return nil, E(CodeNotFound, ReasonOrderNotFound, "order not found: %s", orderID)
	}
	cp := *o
	return &cp, nil
}

func (ms *memStore) GetByNumber(_ context.Context, number string) (*Order, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for _, o := range ms.orders {
		if o.Number == number {
			cp := *o
			return &cp, nil
		}
	}
	return nil, E(CodeNotFound, ReasonOrderNotFound, "order not found: %s", number)
}

func (ms *memStore) ListByUser(_ context.Context, userID string, _ Page) ([]Order, int, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	var out []Order
	for _, o := range ms.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, len(out), nil
}

func (ms *memStore) List(_ context.Context, f ListFilter) ([]Order, int, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	var out []Order
	for _, o := range ms.orders {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.PaymentStatus != "" && o.PaymentStatus != f.PaymentStatus {
			continue
		}
		out = append(out, *o)
	}
	return out, len(out), nil
}

func (ms *memStore) Stats(_ context.Context) (*Stats, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	st := &Stats{ByStatus: map[Status]int{}}
	for _, o := range ms.orders {
		st.ByStatus[o.Status]++
		st.TotalOrders++
		if o.PaymentStatus == PaymentPaid && o.Status != StatusCancelled {
			st.TotalRevenueCents += o.TotalCents
		}
	}
	return st, nil
}

func (ms *memStore) stock(productID string) int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.products[productID].Stock
}

func (ms *memStore) sold(productID string) int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.products[productID].SoldCount
}

type fakeNotifier struct {
	mu     sync.Mutex
	admins []Event
	users  map[string][]Event
}

func (f *fakeNotifier) BroadcastToAdmins(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.admins = append(f.admins, ev)
}

func (f *fakeNotifier) NotifyUser(userID string, ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.users == nil {
		f.users = map[string][]Event{}
	}
	f.users[userID] = append(f.users[userID], ev)
}

type fakePublisher struct {
	mu     sync.Mutex
	topics []string
}

func (f *fakePublisher) Publish(topic, _ string, _, _ []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
}

type fakeCart struct {
	mu      sync.Mutex
	cleared []string
}

func (f *fakeCart) Clear(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, userID)
	return nil
}

func product(id string, priceCents, stock int) *Product {
	return &Product{ID: id, SKU: "SKU-" + id, Name: "Product " + id,
		PriceCents: priceCents, Stock: stock, IsActive: true}
}

func testService(ms *memStore) (*Service, *fakeNotifier, *fakePublisher, *fakeCart) {
	n := &fakeNotifier{}
	p := &fakePublisher{}
	c := &fakeCart{}
	return &Service{
		Store: ms, Cart: c, Hub: n, Producer: p,
		Log: logger.New("test"), Name: "test",
	}, n, p, c
}

func addr() ShippingAddress {
	return ShippingAddress{FullName: "Jane Doe", Phone: "555-0100",
		Street: "1 Main St", City: "Springfield", State: "IL", Zip: "62701", Country: "US"}
}

func TestCreateOrder(t *testing.T) {
	ms := newMemStore(product("p1", 2000, 5))
	svc, n, pub, c := testService(ms)

	o, err := svc.Create(context.Background(), "u1", CreateRequest{
		Items:          []ItemInput{{ProductID: "p1", Qty: 5, Size: "L"}},
		ShippingMethod: ShippingStandard,
		PaymentMethod:  "card",
		Address:        addr(),
	})
	require.NoError(t, err)

	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, PaymentPending, o.PaymentStatus)
	assert.Equal(t, 10000, o.SubtotalCents)
	assert.Equal(t, 500, o.ShippingFeeCents)
	assert.Equal(t, o.SubtotalCents+o.ShippingFeeCents-o.DiscountCents, o.TotalCents)
	assert.True(t, ValidOrderNumber(o.Number))

	assert.Equal(t, 0, ms.stock("p1"))
	assert.Equal(t, 5, ms.sold("p1"))
	assert.Equal(t, []string{"u1"}, c.cleared)

	require.Len(t, n.admins, 1)
	assert.Equal(t, EventOrderCreated, n.admins[0].Type)
	assert.Equal(t, []string{TopicOrderCreated}, pub.topics)
}

func TestCreateOrderExpressFee(t *testing.T) {
	ms := newMemStore(product("p1", 1000, 10))
	svc, _, _, _ := testService(ms)

	o, err := svc.Create(context.Background(), "u1", CreateRequest{
		Items:          []ItemInput{{ProductID: "p1", Qty: 1}},
		ShippingMethod: ShippingExpress,
		PaymentMethod:  "card",
		Address:        addr(),
	})
	require.NoError(t, err)
	assert.Equal(t, 1500, o.ShippingFeeCents)
	assert.Equal(t, 2500, o.TotalCents)
}

func TestCreateOrderInsufficientStock(t *testing.T) {
	ms := newMemStore(product("p1", 1000, 2))
	svc, n, pub, c := testService(ms)

	_, err := svc.Create(context.Background(), "u1", CreateRequest{
		Items:          []ItemInput{{ProductID: "p1", Qty: 5}},
		ShippingMethod: ShippingStandard,
		PaymentMethod:  "card",
		Address:        addr(),
	})
	require.Error(t, err)
	assert.Equal(t, CodeConflict, CodeOf(err))
	assert.Equal(t, ReasonInsufficientStock, ReasonOf(err))

	short := ShortageOf(err)
	require.NotNil(t, short)
	assert.Equal(t, "p1", short.ProductID)
	assert.Equal(t, 5, short.Required)
	assert.Equal(t, 2, short.Available)

	assert.Equal(t, 2, ms.stock("p1"))
	assert.Empty(t, c.cleared)
	assert.Empty(t, n.admins)
	assert.Empty(t, pub.topics)
}

func TestCreateOrderAtomicValidation(t *testing.T) {
	ms := newMemStore(product("p1", 1000, 10), product("p2", 1000, 1), product("p3", 1000, 10))
	svc, _, _, _ := testService(ms)

	_, err := svc.Create(context.Background(), "u1", CreateRequest{
		Items: []ItemInput{
			{ProductID: "p1", Qty: 2},
			{ProductID: "p2", Qty: 5}, // shorted
			{ProductID: "p3", Qty: 1},
		},
		ShippingMethod: ShippingStandard,
		PaymentMethod:  "card",
		Address:        addr(),
	})
	require.Error(t, err)
	assert.Equal(t, ReasonInsufficientStock, ReasonOf(err))

	// No partial decrement for the items that would have passed.
	assert.Equal(t, 10, ms.stock("p1"))
	assert.Equal(t, 1, ms.stock("p2"))
	assert.Equal(t, 10, ms.stock("p3"))
	assert.Empty(t, ms.orders)
}

func TestCreateOrderInactiveProduct(t *testing.T) {
	p := product("p1", 1000, 10)
	p.IsActive = false
	svc, _, _, _ := testService(newMemStore(p))

	_, err := svc.Create(context.Background(), "u1", CreateRequest{
		Items:          []ItemInput{{ProductID: "p1", Qty: 1}},
		ShippingMethod: ShippingStandard,
		PaymentMethod:  "card",
		Address:        addr(),
	})
	assert.Equal(t, ReasonProductInactive, ReasonOf(err))
}

func TestCreateOrderValidation(t *testing.T) {
	svc, _, _, _ := testService(newMemStore(product("p1", 1000, 10)))
	base := CreateRequest{
		Items:          []ItemInput{{ProductID: "p1", Qty: 1}},
		ShippingMethod: ShippingStandard,
		PaymentMethod:  "card",
		Address:        addr(),
	}

	cases := map[string]func(*CreateRequest){
		"no items":        func(r *CreateRequest) { r.Items = nil },
		"zero qty":        func(r *CreateRequest) { r.Items = []ItemInput{{ProductID: "p1", Qty: 0}} },
		"missing product": func(r *CreateRequest) { r.Items = []ItemInput{{Qty: 1}} },
		"duplicate item": func(r *CreateRequest) {
			r.Items = []ItemInput{{ProductID: "p1", Qty: 1}, {ProductID: "p1", Qty: 2}}
		},
		"bad shipping method": func(r *CreateRequest) { r.ShippingMethod = "overnight" },
		"no payment method":   func(r *CreateRequest) { r.PaymentMethod = "" },
		"bare address":        func(r *CreateRequest) { r.Address = ShippingAddress{} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := base
			mutate(&req)
			_, err := svc.Create(context.Background(), "u1", req)
			require.Error(t, err)
			assert.Equal(t, CodeValidation, CodeOf(err))
		})
	}
}

func TestPriceSnapshotFrozen(t *testing.T) {
	p := product("p1", 2000, 10)
	ms := newMemStore(p)
	svc, _, _, _ := testService(ms)

	o, err := svc.Create(context.Background(), "u1", CreateRequest{
		Items:          []ItemInput{{ProductID: "p1", Qty: 2}},
		ShippingMethod: ShippingStandard,
		PaymentMethod:  "card",
		Address:        addr(),
	})
	require.NoError(t, err)

	p.PriceCents = 9999

	got, err := svc.Get(context.Background(), o.ID, "u1", false)
	require.NoError(t, err)
	assert.Equal(t, 2000, got.Items[0].PriceCents)
	assert.Equal(t, 4500, got.TotalCents)
}

func createOrder(t *testing.T, svc *Service, userID string, items ...ItemInput) *Order {
	t.Helper()
	o, err := svc.Create(context.Background(), userID, CreateRequest{
		Items:          items,
		ShippingMethod: ShippingStandard,
		PaymentMethod:  "card",
		Address:        addr(),
	})
	require.NoError(t, err)
	return o
}

func TestCancelRestoresStock(t *testing.T) {
	ms := newMemStore(product("q1", 1000, 10))
	svc, n, pub, _ := testService(ms)

	o := createOrder(t, svc, "u1", ItemInput{ProductID: "q1", Qty: 3})
	require.Equal(t, 7, ms.stock("q1"))

	got, err := svc.Cancel(context.Background(), o.ID, "u1", "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, "changed my mind", got.CancelReason)
	assert.Equal(t, 10, ms.stock("q1"))
	assert.Equal(t, 0, ms.sold("q1"))

	require.Len(t, n.admins, 2) // created + cancelled
	assert.Equal(t, EventOrderCancelled, n.admins[1].Type)
	assert.Equal(t, TopicOrderCancelled, pub.topics[1])
}

func TestDoubleCancelFailsOnce(t *testing.T) {
	ms := newMemStore(product("q1", 1000, 10))
	svc, _, _, _ := testService(ms)

	o := createOrder(t, svc, "u1", ItemInput{ProductID: "q1", Qty: 3})

	_, err := svc.Cancel(context.Background(), o.ID, "u1", "first")
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), o.ID, "u1", "second")
	require.Error(t, err)
	assert.Equal(t, CodeConflict, CodeOf(err))
	assert.Equal(t, ReasonCancelNotAllowed, ReasonOf(err))

	// Restored exactly once.
	assert.Equal(t, 10, ms.stock("q1"))
}

func TestCancelDeliveredRejected(t *testing.T) {
	ms := newMemStore(product("q1", 1000, 10))
	svc, _, _, _ := testService(ms)

	o := createOrder(t, svc, "u1", ItemInput{ProductID: "q1", Qty: 2})
	for _, s := range []Status{StatusConfirmed, StatusProcessing, StatusShipped, StatusDelivered} {
		_, err := svc.UpdateStatus(context.Background(), o.ID, "adm1", UpdateStatusRequest{Status: s})
		require.NoError(t, err)
	}

	_, err := svc.Cancel(context.Background(), o.ID, "u1", "too late")
	require.Error(t, err)
	assert.Equal(t, ReasonCancelNotAllowed, ReasonOf(err))
	assert.Equal(t, 8, ms.stock("q1"))
}

func TestCancelOwnershipIsolation(t *testing.T) {
	ms := newMemStore(product("q1", 1000, 10))
	svc, _, _, _ := testService(ms)

	o := createOrder(t, svc, "userA", ItemInput{ProductID: "q1", Qty: 1})

	_, err := svc.Cancel(context.Background(), o.ID, "userB", "not mine")
	require.Error(t, err)
	assert.Equal(t, CodeUnauthorized, CodeOf(err))
	assert.Equal(t, 9, ms.stock("q1"))
}

func TestUpdateStatusEmitsBothEvents(t *testing.T) {
	ms := newMemStore(product("p1", 1000, 10))
	svc, n, pub, _ := testService(ms)

	o := createOrder(t, svc, "u1", ItemInput{ProductID: "p1", Qty: 1})

	got, err := svc.UpdateStatus(context.Background(), o.ID, "adm1", UpdateStatusRequest{
		Status:        StatusConfirmed,
		PaymentStatus: PaymentPaid,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status)
	assert.Equal(t, PaymentPaid, got.PaymentStatus)

	require.Len(t, n.users["u1"], 1)
	assert.Equal(t, EventOrderUpdated, n.users["u1"][0].Type)

	require.Len(t, n.admins, 2) // created + status_changed
	assert.Equal(t, EventOrderStatusChanged, n.admins[1].Type)

	var p OrderStatusChangedPayload
	require.NoError(t, unmarshalPayload(n.admins[1], &p))
	assert.Equal(t, "adm1", p.AdminID)
	assert.Equal(t, StatusPending, p.From)
	assert.Equal(t, StatusConfirmed, p.Order.Status)

	assert.Equal(t, TopicOrderStatusChanged, pub.topics[1])
}

func TestUpdateStatusInvalidTransition(t *testing.T) {
	ms := newMemStore(product("p1", 1000, 10))
	svc, _, _, _ := testService(ms)

	o := createOrder(t, svc, "u1", ItemInput{ProductID: "p1", Qty: 1})

	_, err := svc.UpdateStatus(context.Background(), o.ID, "adm1", UpdateStatusRequest{Status: StatusDelivered})
	require.Error(t, err)
	assert.Equal(t, ReasonInvalidTransition, ReasonOf(err))

	got, err := svc.Get(context.Background(), o.ID, "u1", false)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

func TestUpdateStatusUnknownStatus(t *testing.T) {
	svc, _, _, _ := testService(newMemStore())
	_, err := svc.UpdateStatus(context.Background(), "any", "adm1", UpdateStatusRequest{Status: "SHIPPING"})
	assert.Equal(t, CodeValidation, CodeOf(err))
}

func TestGetOwnership(t *testing.T) {
	ms := newMemStore(product("p1", 1000, 10))
	svc, _, _, _ := testService(ms)

	o := createOrder(t, svc, "userA", ItemInput{ProductID: "p1", Qty: 1})

	_, err := svc.Get(context.Background(), o.ID, "userB", false)
	assert.Equal(t, CodeUnauthorized, CodeOf(err))

	got, err := svc.Get(context.Background(), o.ID, "", true)
	require.NoError(t, err)
	assert.Equal(t, "userA", got.UserID)

	_, err = svc.GetByNumber(context.Background(), o.Number, "userB", false)
	assert.Equal(t, CodeUnauthorized, CodeOf(err))
}

func TestStatsDerived(t *testing.T) {
	ms := newMemStore(product("p1", 1000, 100))
	svc, _, _, _ := testService(ms)

	o1 := createOrder(t, svc, "u1", ItemInput{ProductID: "p1", Qty: 1})
	o2 := createOrder(t, svc, "u2", ItemInput{ProductID: "p1", Qty: 2})
	createOrder(t, svc, "u3", ItemInput{ProductID: "p1", Qty: 1})

	_, err := svc.UpdateStatus(context.Background(), o1.ID, "adm1", UpdateStatusRequest{
		Status: StatusConfirmed, PaymentStatus: PaymentPaid,
	})
	require.NoError(t, err)
	_, err = svc.Cancel(context.Background(), o2.ID, "u2", "")
	require.NoError(t, err)

	st, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, st.TotalOrders)
	assert.Equal(t, 1, st.ByStatus[StatusConfirmed])
	assert.Equal(t, 1, st.ByStatus[StatusCancelled])
	assert.Equal(t, 1, st.ByStatus[StatusPending])
	assert.Equal(t, o1.TotalCents, st.TotalRevenueCents)
}

func unmarshalPayload(ev Event, out any) error {
	return json.Unmarshal(ev.Payload, out)
}
