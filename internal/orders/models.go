package orders

import "time"

type Product struct {
	ID         string    `json:"id"`
	SKU        string    `json:"sku"`
	Name       string    `json:"name"`
	Stock      int       `json:"stock"`
	SoldCount  int       `json:"sold_count"`
	PriceCents int       `json:"price_cents"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type ShippingAddress struct {
	FullName string `json:"full_name"`
	Phone    string `json:"phone"`
	Street   string `json:"street"`
	City     string `json:"city"`
	State    string `json:"state"`
	Zip      string `json:"zip"`
	Country  string `json:"country"`
}

type Order struct {
	ID               string          `json:"id"`
	Number           string          `json:"number"` // ORD{YYYYMMDD}{4-digit}, unique
	UserID           string          `json:"user_id"`
	Items            []OrderItem     `json:"items"`
	SubtotalCents    int             `json:"subtotal_cents"`
	ShippingFeeCents int             `json:"shipping_fee_cents"`
	DiscountCents    int             `json:"discount_cents"`
	TotalCents       int             `json:"total_cents"`
	Status           Status          `json:"status"`
	PaymentStatus    PaymentStatus   `json:"payment_status"`
	PaymentMethod    string          `json:"payment_method"`
	ShippingMethod   string          `json:"shipping_method"` // standard | express
	Address          ShippingAddress `json:"shipping_address"`
	TrackingNumber   string          `json:"tracking_number,omitempty"`
	Carrier          string          `json:"carrier,omitempty"`
	Notes            string          `json:"notes,omitempty"`
	CancelReason     string          `json:"cancel_reason,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// OrderItem keeps a snapshot of name and price at order time; later catalog
// edits never touch it.
type OrderItem struct {
	ID          string `json:"id"`
	OrderID     string `json:"order_id"`
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Qty         int    `json:"qty"`
	PriceCents  int    `json:"price_cents"`
	Size        string `json:"size,omitempty"`
	Color       string `json:"color,omitempty"`
}

// Summary is the trimmed-down view pushed to dashboards.
type Summary struct {
	ID            string        `json:"id"`
	Number        string        `json:"number"`
	UserID        string        `json:"user_id"`
	Status        Status        `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	TotalCents    int           `json:"total_cents"`
}

func (o *Order) Summary() Summary {
	return Summary{
		ID:            o.ID,
		Number:        o.Number,
		UserID:        o.UserID,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		TotalCents:    o.TotalCents,
	}
}

type Stats struct {
	ByStatus          map[Status]int `json:"by_status"`
	TotalOrders       int            `json:"total_orders"`
	TotalRevenueCents int            `json:"total_revenue_cents"`
}
