package apperr

import (
	"errors"
	"fmt"
)

// Kind is a machine-readable error category returned to API clients.
type Kind string

const (
	// Validation
	InvalidInput         Kind = "INVALID_INPUT"
	InvalidQuantity      Kind = "INVALID_QUANTITY"
	IncompleteAddress    Kind = "INCOMPLETE_ADDRESS"
	InvalidPaymentMethod Kind = "INVALID_PAYMENT_METHOD"
	InvalidPaymentStatus Kind = "INVALID_PAYMENT_STATUS"

	// Lookup
	ProductNotFound Kind = "PRODUCT_NOT_FOUND"
	ItemNotFound    Kind = "ITEM_NOT_FOUND"
	OrderNotFound   Kind = "ORDER_NOT_FOUND"
	CouponNotFound  Kind = "COUPON_NOT_FOUND"

	// Business rules
	ProductUnavailable    Kind = "PRODUCT_UNAVAILABLE"
	InsufficientStock     Kind = "INSUFFICIENT_STOCK"
	EmptyCart             Kind = "EMPTY_CART"
	CouponNotYetActive    Kind = "COUPON_NOT_YET_ACTIVE"
	CouponExpired         Kind = "COUPON_EXPIRED"
	UsageLimitReached     Kind = "USAGE_LIMIT_REACHED"
	UserUsageLimitReached Kind = "USER_USAGE_LIMIT_REACHED"
	MinimumOrderNotMet    Kind = "MINIMUM_ORDER_NOT_MET"
	OrderNotCancellable   Kind = "ORDER_NOT_CANCELLABLE"
	InvalidTransition     Kind = "INVALID_TRANSITION"

	// Consistency
	Conflict           Kind = "CONFLICT"
	CheckoutInProgress Kind = "CHECKOUT_IN_PROGRESS"

	Internal Kind = "INTERNAL"
)

// Error carries a Kind and a human readable message. ProductID is set when
// the failure concerns a specific product.
type Error struct {
	Kind      Kind
	Message   string
	ProductID int64
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind, so errors.Is(err, apperr.New(k, ""))
// works as a kind check.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// ForProduct creates an error of the given kind naming the offending product.
func ForProduct(kind Kind, productID int64, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), ProductID: productID}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
