package httpx

import (
	"context"
	"net/http"
)

// Identity arrives from the upstream auth gateway as trusted headers; this
// service never sees credentials.
const (
	HeaderUserID  = "X-User-ID"
	HeaderAdminID = "X-Admin-ID"
)

type ctxKey int

const (
	ctxUserID ctxKey = iota
	ctxAdminID
)

func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := r.Header.Get(HeaderUserID)
		if uid == "" {
			http.Error(w, "missing identity", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxUserID, uid)))
	})
}

func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		aid := r.Header.Get(HeaderAdminID)
		if aid == "" {
			http.Error(w, "missing identity", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxAdminID, aid)))
	})
}

func userID(r *http.Request) string {
	v, _ := r.Context().Value(ctxUserID).(string)
	return v
}

func adminID(r *http.Request) string {
	v, _ := r.Context().Value(ctxAdminID).(string)
	return v
}
