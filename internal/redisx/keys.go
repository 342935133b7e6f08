package redisx

import "time"

const (
	// Cart contents per user: cart:{user_id} -> hash product_id -> qty json
	KeyCart = "cart:%s"

	// Cache order summary for fast GETs: order:summary:{order_id}
	KeyOrderSummary = "order:summary:%s"

	// Cache dashboard stats: order:stats
	KeyOrderStats = "order:stats"
)

var (
	TTLSummaryCache = 5 * time.Minute
	TTLStatsCache   = 30 * time.Second
)
