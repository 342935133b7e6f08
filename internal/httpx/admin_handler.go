package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/sportmart/orders/internal/logger"
	"github.com/sportmart/orders/internal/orders"
	"github.com/sportmart/orders/internal/redisx"
)

type AdminHandler struct {
	Service *orders.Service
	Redis   *redis.Client
	Log     *logger.Logger
}

func (h *AdminHandler) Register(r *chi.Mux) {
	r.Route("/admin/orders", func(r chi.Router) {
		r.Use(RequireAdmin)
		r.Get("/", h.list)
		r.Get("/stats", h.stats)
		r.Get("/{id}", h.get)
		r.Put("/{id}/status", h.updateStatus)
	})
}

func (h *AdminHandler) list(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	q := r.URL.Query()
	f := orders.ListFilter{
		Status:        orders.Status(q.Get("status")),
		PaymentStatus: orders.PaymentStatus(q.Get("paymentStatus")),
		Search:        q.Get("search"),
		Page:          pageFrom(r),
	}
	list, total, err := h.Service.ListAll(ctx, f)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"orders": list, "total": total, "limit": f.Limit, "offset": f.Offset,
	})
}

func (h *AdminHandler) get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Service.Get(ctx, chi.URLParam(r, "id"), "", true)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *AdminHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req orders.UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, orders.E(orders.CodeValidation, orders.ReasonBadInput, "invalid json"))
		return
	}
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Service.UpdateStatus(ctx, orderID, adminID(r), req)
	if err != nil {
		writeError(w, err)
		return
	}
	if h.Redis != nil {
		if err := h.Redis.Del(ctx, fmt.Sprintf(redisx.KeyOrderSummary, orderID)).Err(); err != nil {
			h.Log.Error("order_cache_invalidate", err, map[string]any{"order_id": orderID})
		}
	}
	writeJSON(w, http.StatusOK, o)
}

// stats is recomputed from the order table; a short cache keeps dashboard
// polling off Postgres.
func (h *AdminHandler) stats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if h.Redis != nil {
		if b, err := h.Redis.Get(ctx, redisx.KeyOrderStats).Bytes(); err == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(b)
			return
		}
	}

	st, err := h.Service.Stats(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	if h.Redis != nil {
		if b, err := json.Marshal(st); err == nil {
			if err := h.Redis.Set(ctx, redisx.KeyOrderStats, b, redisx.TTLStatsCache).Err(); err != nil {
				h.Log.Error("stats_cache", err, nil)
			}
		}
	}
	writeJSON(w, http.StatusOK, st)
}
