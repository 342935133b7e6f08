package orders

import (
	"fmt"
	"math/rand"
	"regexp"
	"time"
)

// NewOrderNumber builds a human-readable number like ORD202608281234.
// The suffix is random; the DB's unique index is the real guard and callers
// retry on collision.
func NewOrderNumber(now time.Time) string {
	return fmt.Sprintf("ORD%s%04d", now.UTC().Format("20060102"), rand.Intn(10000))
}

var orderNumberRe = regexp.MustCompile(`^ORD\d{8}\d{4}$`)

func ValidOrderNumber(n string) bool { return orderNumberRe.MatchString(n) }
