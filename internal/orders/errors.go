package orders

import (
	"errors"
	"fmt"
)

// Code classifies failures for the HTTP envelope and for callers that branch
// on outcome rather than message text.
type Code string

const (
	CodeValidation   Code = "VALIDATION"
	CodeNotFound     Code = "NOT_FOUND"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeConflict     Code = "CONFLICT"
	CodeInternal     Code = "INTERNAL"
)

// Reason is the machine-readable detail inside a code class.
type Reason string

const (
	ReasonProductNotFound   Reason = "PRODUCT_NOT_FOUND"
	ReasonProductInactive   Reason = "PRODUCT_INACTIVE"
	ReasonInsufficientStock Reason = "INSUFFICIENT_STOCK"
	ReasonOrderNotFound     Reason = "ORDER_NOT_FOUND"
	ReasonCancelNotAllowed  Reason = "CANCEL_NOT_ALLOWED"
	ReasonInvalidTransition Reason = "INVALID_TRANSITION"
	ReasonBadInput          Reason = "BAD_INPUT"
	ReasonNotOwner          Reason = "NOT_OWNER"
)

type Error struct {
	Code    Code
	Reason  Reason
	Message string
	// Shortage is set on INSUFFICIENT_STOCK errors.
	Shortage *StockShortage
	cause    error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s/%s: %s: %v", e.Code, e.Reason, e.Message, e.cause)
	}
	return fmt.Sprintf("%s/%s: %s", e.Code, e.Reason, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is lets errors.Is match on code+reason sentinels built with E.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code && (t.Reason == "" || e.Reason == t.Reason)
}

func E(code Code, reason Reason, format string, args ...any) *Error {
	return &Error{Code: code, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, reason Reason, cause error, msg string) *Error {
	return &Error{Code: code, Reason: reason, Message: msg, cause: cause}
}

// CodeOf extracts the failure class, defaulting unknown errors to INTERNAL.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// StockShortage carries per-item context on an INSUFFICIENT_STOCK failure.
type StockShortage struct {
	ProductID string `json:"product_id"`
	Required  int    `json:"required"`
	Available int    `json:"available"`
}

func ErrInsufficientStock(productID string, required, available int) *Error {
	return &Error{
		Code:   CodeConflict,
		Reason: ReasonInsufficientStock,
		Message: fmt.Sprintf("insufficient stock for %s: required %d, available %d",
			productID, required, available),
		Shortage: &StockShortage{ProductID: productID, Required: required, Available: available},
	}
}

// ShortageOf extracts the per-item shortage when the error carries one.
func ShortageOf(err error) *StockShortage {
	var e *Error
	if errors.As(err, &e) {
		return e.Shortage
	}
	return nil
}
