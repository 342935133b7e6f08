package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/sportmart/orders/internal/logger"
	"github.com/sportmart/orders/internal/orders"
	"github.com/sportmart/orders/internal/redisx"
)

// Catalog is the read-only product surface exposed to the storefront.
type Catalog interface {
	ListProducts(ctx context.Context) ([]orders.Product, error)
}

type OrdersHandler struct {
	Service *orders.Service
	Catalog Catalog
	Redis   *redis.Client
	Log     *logger.Logger
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Get("/products", h.listProducts)
	r.Route("/orders", func(r chi.Router) {
		r.Use(RequireUser)
		r.Post("/", h.create)
		r.Get("/", h.listMine)
		r.Get("/number/{number}", h.getByNumber)
		r.Get("/{id}", h.get)
		r.Put("/{id}/cancel", h.cancel)
	})
}

func (h *OrdersHandler) create(w http.ResponseWriter, r *http.Request) {
	var req orders.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, orders.E(orders.CodeValidation, orders.ReasonBadInput, "invalid json"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Service.Create(ctx, userID(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *OrdersHandler) listMine(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	page := pageFrom(r)
	list, total, err := h.Service.ListMine(ctx, userID(r), page)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"orders": list, "total": total, "limit": page.Limit, "offset": page.Offset,
	})
}

func (h *OrdersHandler) get(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// Cache first; ownership still checked against the cached copy.
	if h.Redis != nil {
		key := fmt.Sprintf(redisx.KeyOrderSummary, orderID)
		if b, err := h.Redis.Get(ctx, key).Bytes(); err == nil {
			var o orders.Order
			if json.Unmarshal(b, &o) == nil && o.UserID == userID(r) {
				writeJSON(w, http.StatusOK, &o)
				return
			}
		}
	}

	o, err := h.Service.Get(ctx, orderID, userID(r), false)
	if err != nil {
		writeError(w, err)
		return
	}
	h.cacheOrder(ctx, o)
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) getByNumber(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Service.GetByNumber(ctx, chi.URLParam(r, "number"), userID(r), false)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *OrdersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, orders.E(orders.CodeValidation, orders.ReasonBadInput, "invalid json"))
		return
	}
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Service.Cancel(ctx, orderID, userID(r), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	h.invalidateOrder(ctx, orderID)
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Catalog.ListProducts(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *OrdersHandler) cacheOrder(ctx context.Context, o *orders.Order) {
	if h.Redis == nil {
		return
	}
	b, err := json.Marshal(o)
	if err != nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyOrderSummary, o.ID)
	if err := h.Redis.Set(ctx, key, b, redisx.TTLSummaryCache).Err(); err != nil {
		h.Log.Error("order_cache", err, map[string]any{"order_id": o.ID})
	}
}

func (h *OrdersHandler) invalidateOrder(ctx context.Context, orderID string) {
	if h.Redis == nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyOrderSummary, orderID)
	if err := h.Redis.Del(ctx, key).Err(); err != nil {
		h.Log.Error("order_cache_invalidate", err, map[string]any{"order_id": orderID})
	}
}

func pageFrom(r *http.Request) orders.Page {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	return orders.Page{Limit: limit, Offset: offset}
}
