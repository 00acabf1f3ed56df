package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrCheckoutInvalidInput indicates the submission failed validation.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrProductNotFound indicates a requested product is missing or inactive.
	ErrProductNotFound = errors.New("checkout: product not found")
	// ErrInsufficientStock indicates a product cannot cover the requested quantity.
	ErrInsufficientStock = errors.New("checkout: insufficient stock")
	// ErrCheckoutUnavailable indicates checkout dependencies are currently unavailable.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
	// ErrCheckoutOrderNotFound indicates the order does not exist.
	ErrCheckoutOrderNotFound = errors.New("checkout: order not found")
	// ErrCheckoutOrderNotPending indicates the order no longer awaits payment.
	ErrCheckoutOrderNotPending = errors.New("checkout: order not pending")

	// ErrInvalidSignature indicates the gateway callback signature did not verify.
	ErrInvalidSignature = errors.New("settlement: invalid signature")
	// ErrSettlementInvalidInput indicates the callback was missing identifiers.
	ErrSettlementInvalidInput = errors.New("settlement: invalid input")
	// ErrSettlementUnavailable indicates the order store could not complete settlement.
	ErrSettlementUnavailable = errors.New("settlement: unavailable")
	// ErrSettlementOrderNotFound indicates the order does not exist.
	ErrSettlementOrderNotFound = errors.New("settlement: order not found")
	// ErrOrderNotPaid indicates the order has no receipt because it was never settled.
	ErrOrderNotPaid = errors.New("settlement: order not paid")
	// ErrReceiptsDisabled indicates receipt archiving is not configured.
	ErrReceiptsDisabled = errors.New("settlement: receipts disabled")
)

// ValidationError names the submission fields that failed validation. It matches ErrCheckoutInvalidInput.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return "checkout: invalid input: " + strings.Join(names, ", ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrCheckoutInvalidInput }

func (e *ValidationError) add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, exists := e.Fields[field]; !exists {
		e.Fields[field] = message
	}
}

// ProductNotFoundError matches ErrProductNotFound.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("checkout: product %s not found", e.ProductID)
}

func (e *ProductNotFoundError) Is(target error) bool { return target == ErrProductNotFound }

// InsufficientStockError names the product and its remaining stock. It matches ErrInsufficientStock.
type InsufficientStockError struct {
	ProductID string
	Name      string
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("checkout: insufficient stock for %s (%s): requested %d, available %d", e.Name, e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// PaymentIntentError reports an intent failure for an order that was persisted and stays pending.
type PaymentIntentError struct {
	OrderID string
	Err     error
}

func (e *PaymentIntentError) Error() string {
	return fmt.Sprintf("checkout: payment intent for order %s: %v", e.OrderID, e.Err)
}

func (e *PaymentIntentError) Unwrap() error { return e.Err }
