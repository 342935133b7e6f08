package httpx

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sportmart/orders/internal/orders"
)

func NewRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code     orders.Code           `json:"code"`
	Reason   orders.Reason         `json:"reason,omitempty"`
	Message  string                `json:"message"`
	Shortage *orders.StockShortage `json:"shortage,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	code := orders.CodeOf(err)
	msg := err.Error()
	if code == orders.CodeInternal {
		// Internal details stay in the logs.
		msg = "internal error"
	}
	writeJSON(w, httpStatus(code), map[string]errorBody{"error": {
		Code:     code,
		Reason:   orders.ReasonOf(err),
		Message:  msg,
		Shortage: orders.ShortageOf(err),
	}})
}

func httpStatus(code orders.Code) int {
	switch code {
	case orders.CodeValidation:
		return http.StatusBadRequest
	case orders.CodeNotFound:
		return http.StatusNotFound
	case orders.CodeUnauthorized:
		return http.StatusForbidden
	case orders.CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
