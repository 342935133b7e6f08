package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ItemInput struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
	Size      string `json:"size,omitempty"`
	Color     string `json:"color,omitempty"`
}

// CreateInput is everything the store needs to persist a new order. Prices
// are deliberately absent: they are read from products inside the same
// transaction that decrements stock.
type CreateInput struct {
	UserID           string
	Items            []ItemInput
	ShippingMethod   string
	PaymentMethod    string
	ShippingFeeCents int
	Address          ShippingAddress
	Notes            string
}

type StatusUpdate struct {
	Status         Status
	PaymentStatus  PaymentStatus // empty = leave unchanged
	TrackingNumber string
	Carrier        string
	Notes          string
}

type Page struct {
	Limit  int
	Offset int
}

type ListFilter struct {
	Status        Status
	PaymentStatus PaymentStatus
	Search        string // matches order number prefix or exact user id
	Page
}

const (
	uniqueViolation   = "23505"
	maxNumberAttempts = 5
)

// retryOrderNumber reports whether a failed order INSERT should run again
// with a fresh number. Only a duplicate-number violation qualifies; anything
// else, including an aborted-transaction error, surfaces to the caller.
func retryOrderNumber(err error, attempt int) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && attempt < maxNumberAttempts-1
}

type Repo struct{ DB *pgxpool.Pool }

// Create runs the whole placement as one transaction: lock products, validate
// every line item, insert order + items, then conditionally decrement stock.
// Any validation failure rolls back with zero mutations applied.
func (r *Repo) Create(ctx context.Context, in CreateInput) (*Order, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, Wrap(CodeInternal, "", err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ids := make([]string, 0, len(in.Items))
	for _, it := range in.Items {
		ids = append(ids, it.ProductID)
	}

	rows, err := tx.Query(ctx, `
		SELECT id, name, price_cents, stock, is_active
		FROM products WHERE id = ANY($1) FOR UPDATE`, ids)
	if err != nil {
		return nil, Wrap(CodeInternal, "", err, "lock products")
	}
	type prod struct {
		name   string
		price  int
		stock  int
		active bool
	}
	prods := map[string]prod{}
	for rows.Next() {
		var id string
		var p prod
		if err := rows.Scan(&id, &p.name, &p.price, &p.stock, &p.active); err != nil {
			rows.Close()
			return nil, Wrap(CodeInternal, "", err, "scan product")
		}
		prods[id] = p
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, Wrap(CodeInternal, "", err, "read products")
	}

	// Validate every item before mutating anything.
	subtotal := 0
	for _, it := range in.Items {
		p, ok := prods[it.ProductID]
		if !ok {
			return nil, E(CodeNotFound, ReasonProductNotFound, "product not found: %s", it.ProductID)
		}
		if !p.active {
			return nil, E(CodeConflict, ReasonProductInactive, "product not purchasable: %s", it.ProductID)
		}
		if p.stock < it.Qty {
			return nil, ErrInsufficientStock(it.ProductID, it.Qty, p.stock)
		}
		subtotal += p.price * it.Qty
	}

	now := time.Now().UTC()
	o := &Order{
		ID:               uuid.NewString(),
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

	addr, err := json.Marshal(in.Address)
	if err != nil {
		return nil, Wrap(CodeInternal, "", err, "marshal address")
	}

	// Random suffix can collide within a day. Each attempt runs in a
	// savepoint: a unique violation aborts only the savepoint, never the
	// surrounding transaction, so the next INSERT still executes.
	for attempt := 0; ; attempt++ {
		o.Number = NewOrderNumber(now)
		sp, err := tx.Begin(ctx)
		if err != nil {
			return nil, Wrap(CodeInternal, "", err, "begin savepoint")
		}
		_, err = sp.Exec(ctx, `
			INSERT INTO orders(id, number, user_id, subtotal_cents, shipping_fee_cents,
			                   discount_cents, total_cents, status, payment_status,
			                   payment_method, shipping_method, shipping_address, notes,
			                   created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,0,$6,$7,$8,$9,$10,$11,$12,$13,$13)`,
			o.ID, o.Number, o.UserID, o.SubtotalCents, o.ShippingFeeCents, o.TotalCents,
			o.Status, o.PaymentStatus, o.PaymentMethod, o.ShippingMethod, addr, o.Notes, now)
		if err == nil {
			if err := sp.Commit(ctx); err != nil {
				return nil, Wrap(CodeInternal, "", err, "release savepoint")
			}
			break
		}
		_ = sp.Rollback(ctx)
		if retryOrderNumber(err, attempt) {
			continue
		}
		return nil, Wrap(CodeInternal, "", err, "insert order")
	}

	for _, it := range in.Items {
		p := prods[it.ProductID]
		item := OrderItem{
			ID:          uuid.NewString(),
			OrderID:     o.ID,
			ProductID:   it.ProductID,
			ProductName: p.name,
			Qty:         it.Qty,
			PriceCents:  p.price,
			Size:        it.Size,
			Color:       it.Color,
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(id, order_id, product_id, product_name, qty, price_cents, size, color)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			item.ID, item.OrderID, item.ProductID, item.ProductName, item.Qty,
			item.PriceCents, item.Size, item.Color); err != nil {
			return nil, Wrap(CodeInternal, "", err, "insert order item")
		}
		o.Items = append(o.Items, item)

		// Conditional decrement: the stock >= qty predicate closes the
		// check-then-act race even without the FOR UPDATE above.
		ct, err := tx.Exec(ctx, `
			UPDATE products
			SET stock = stock - $2, sold_count = sold_count + $2, updated_at = now()
			WHERE id = $1 AND stock >= $2`, it.ProductID, it.Qty)
		if err != nil {
			return nil, Wrap(CodeInternal, "", err, "decrement stock")
		}
		if ct.RowsAffected() != 1 {
			return nil, ErrInsufficientStock(it.ProductID, it.Qty, p.stock)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, Wrap(CodeInternal, "", err, "commit create")
	}
	return o, nil
}

// Cancel re-checks ownership and cancellability under the row lock, restores
// stock exactly once and stamps the terminal status.
func (r *Repo) Cancel(ctx context.Context, orderID, userID, reason string) (*Order, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, Wrap(CodeInternal, "", err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var owner string
	var status Status
	err = tx.QueryRow(ctx, `SELECT user_id, status FROM orders WHERE id=$1 FOR UPDATE`, orderID).
		Scan(&owner, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, E(CodeNotFound, ReasonOrderNotFound, "order not found: %s", orderID)
	}
	if err != nil {
		return nil, Wrap(CodeInternal, "", err, "load order")
	}
	if owner != userID {
		return nil, E(CodeUnauthorized, ReasonNotOwner, "order %s does not belong to caller", orderID)
	}
	if !Cancellable(status) {
		return nil, E(CodeConflict, ReasonCancelNotAllowed, "cannot cancel order in status %s", status)
	}

	rows, err := tx.Query(ctx, `SELECT product_id, qty FROM order_items WHERE order_id=$1`, orderID)
	if err != nil {
		return nil, Wrap(CodeInternal, "", err, "load items")
	}
	type rec struct {
		pid string
		qty int
	}
	var recs []rec
	for rows.Next() {
		var x rec
		if err := rows.Scan(&x.pid, &x.qty); err != nil {
			rows.Close()
			return nil, Wrap(CodeInternal, "", err, "scan item")
		}
		recs = append(recs, x)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, Wrap(CodeInternal, "", err, "read items")
	}

	for _, x := range recs {
		if _, err := tx.Exec(ctx, `
			UPDATE products
			SET stock = stock + $2, sold_count = sold_count - $2, updated_at = now()
			WHERE id = $1`, x.pid, x.qty); err != nil {
			return nil, Wrap(CodeInternal, "", err, "restore stock")
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE orders SET status=$2, cancel_reason=$3, updated_at=now()
		WHERE id=$1`, orderID, StatusCancelled, reason); err != nil {
		return nil, Wrap(CodeInternal, "", err, "mark cancelled")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, Wrap(CodeInternal, "", err, "commit cancel")
	}
	return r.Get(ctx, orderID)
}

// UpdateStatus applies an admin transition after validating it against the
// state machine under the row lock, so a racing cancel and update cannot
// both win. Returns the prior status for the status_changed event.
func (r *Repo) UpdateStatus(ctx context.Context, orderID string, upd StatusUpdate) (*Order, Status, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, "", Wrap(CodeInternal, "", err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var from Status
	err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1 FOR UPDATE`, orderID).Scan(&from)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, "", E(CodeNotFound, ReasonOrderNotFound, "order not found: %s", orderID)
	}
	if err != nil {
		return nil, "", Wrap(CodeInternal, "", err, "load order")
	}
	if !CanTransition(from, upd.Status) {
		return nil, "", E(CodeConflict, ReasonInvalidTransition, "cannot move %s -> %s", from, upd.Status)
	}

	q := `UPDATE orders SET status=$2, updated_at=now()`
	args := []any{orderID, upd.Status}
	n := 3
	appendSet := func(col string, v any) {
		q += fmt.Sprintf(", %s=$%d", col, n)
		args = append(args, v)
		n++
	}
	if upd.PaymentStatus != "" {
		appendSet("payment_status", upd.PaymentStatus)
	}
	if upd.TrackingNumber != "" {
		appendSet("tracking_number", upd.TrackingNumber)
	}
	if upd.Carrier != "" {
		appendSet("carrier", upd.Carrier)
	}
	if upd.Notes != "" {
		appendSet("notes", upd.Notes)
	}
	q += ` WHERE id=$1`
	if _, err := tx.Exec(ctx, q, args...); err != nil {
		return nil, "", Wrap(CodeInternal, "", err, "update status")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, "", Wrap(CodeInternal, "", err, "commit update")
	}
	o, err := r.Get(ctx, orderID)
	return o, from, err
}

const orderCols = `id, number, user_id, subtotal_cents, shipping_fee_cents, discount_cents,
	total_cents, status, payment_status, payment_method, shipping_method, shipping_address,
	COALESCE(tracking_number,''), COALESCE(carrier,''), COALESCE(notes,''),
	COALESCE(cancel_reason,''), created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var addr []byte
	err := row.Scan(&o.ID, &o.Number, &o.UserID, &o.SubtotalCents, &o.ShippingFeeCents,
		&o.DiscountCents, &o.TotalCents, &o.Status, &o.PaymentStatus, &o.PaymentMethod,
		&o.ShippingMethod, &addr, &o.TrackingNumber, &o.Carrier, &o.Notes,
		&o.CancelReason, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, E(CodeNotFound, ReasonOrderNotFound, "order not found")
	}
	if err != nil {
		return nil, Wrap(CodeInternal, "", err, "scan order")
	}
	if err := json.Unmarshal(addr, &o.Address); err != nil {
		return nil, Wrap(CodeInternal, "", err, "decode address")
	}
	return &o, nil
}

func (r *Repo) Get(ctx context.Context, orderID string) (*Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1`, orderID))
	if err != nil {
		return nil, err
	}
	return r.attachItems(ctx, o)
}

func (r *Repo) GetByNumber(ctx context.Context, number string) (*Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE number=$1`, number))
	if err != nil {
		return nil, err
	}
	return r.attachItems(ctx, o)
}

func (r *Repo) attachItems(ctx context.Context, o *Order) (*Order, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, product_id, product_name, qty, price_cents,
		       COALESCE(size,''), COALESCE(color,'')
		FROM order_items WHERE order_id=$1 ORDER BY id`, o.ID)
	if err != nil {
		return nil, Wrap(CodeInternal, "", err, "load items")
	}
	defer rows.Close()
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName,
			&it.Qty, &it.PriceCents, &it.Size, &it.Color); err != nil {
			return nil, Wrap(CodeInternal, "", err, "scan item")
		}
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, Wrap(CodeInternal, "", err, "read items")
	}
	return o, nil
}

func (r *Repo) ListByUser(ctx context.Context, userID string, p Page) ([]Order, int, error) {
	var total int
	if err := r.DB.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE user_id=$1`, userID).Scan(&total); err != nil {
		return nil, 0, Wrap(CodeInternal, "", err, "count orders")
	}
	rows, err := r.DB.Query(ctx, `SELECT `+orderCols+` FROM orders
		WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, p.Limit, p.Offset)
	if err != nil {
		return nil, 0, Wrap(CodeInternal, "", err, "list orders")
	}
	out, err := collectOrders(rows)
	return out, total, err
}

func (r *Repo) List(ctx context.Context, f ListFilter) ([]Order, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	n := 1
	add := func(cond string, v any) {
		where += fmt.Sprintf(" AND %s$%d", cond, n)
		args = append(args, v)
		n++
	}
	if f.Status != "" {
		add("status=", f.Status)
	}
	if f.PaymentStatus != "" {
		add("payment_status=", f.PaymentStatus)
	}
	if f.Search != "" {
		where += fmt.Sprintf(" AND (number ILIKE $%d OR user_id = $%d)", n, n+1)
		args = append(args, f.Search+"%", f.Search)
		n += 2
	}

	var total int
	if err := r.DB.QueryRow(ctx, `SELECT COUNT(*) FROM orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, Wrap(CodeInternal, "", err, "count orders")
	}
	q := `SELECT ` + orderCols + ` FROM orders` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, n, n+1)
	args = append(args, f.Limit, f.Offset)
	rows, err := r.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, Wrap(CodeInternal, "", err, "list orders")
	}
	out, err := collectOrders(rows)
	return out, total, err
}

func collectOrders(rows pgx.Rows) ([]Order, error) {
	defer rows.Close()
	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, Wrap(CodeInternal, "", err, "read orders")
	}
	return out, nil
}

// Stats recomputes the dashboard aggregates per call; nothing is stored.
func (r *Repo) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{ByStatus: map[Status]int{}}
	rows, err := r.DB.Query(ctx, `SELECT status, COUNT(*) FROM orders GROUP BY status`)
	if err != nil {
		return nil, Wrap(CodeInternal, "", err, "count by status")
	}
	defer rows.Close()
	for rows.Next() {
		var s Status
		var c int
		if err := rows.Scan(&s, &c); err != nil {
			return nil, Wrap(CodeInternal, "", err, "scan count")
		}
		st.ByStatus[s] = c
		st.TotalOrders += c
	}
	if err := rows.Err(); err != nil {
		return nil, Wrap(CodeInternal, "", err, "read counts")
	}

	err = r.DB.QueryRow(ctx, `
		SELECT COALESCE(SUM(total_cents),0) FROM orders
		WHERE payment_status=$1 AND status<>$2`, PaymentPaid, StatusCancelled).
		Scan(&st.TotalRevenueCents)
	if err != nil {
		return nil, Wrap(CodeInternal, "", err, "sum revenue")
	}
	return st, nil
}

func (r *Repo) ListProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, sku, name, stock, sold_count, price_cents, is_active, created_at, updated_at
		FROM products ORDER BY sku`)
	if err != nil {
		return nil, Wrap(CodeInternal, "", err, "list products")
	}
	defer rows.Close()
	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Stock, &p.SoldCount,
			&p.PriceCents, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, Wrap(CodeInternal, "", err, "scan product")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
