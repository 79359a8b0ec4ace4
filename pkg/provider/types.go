package provider

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the provider's order lifecycle state.
type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusPaid     OrderStatus = "paid"
	OrderStatusFailed   OrderStatus = "failed"
	OrderStatusCanceled OrderStatus = "canceled"
)

// OrderRequest creates a provider order. IdempotencyKey is sent as a header and
// reused across retries; callers pass a deterministic key when the same logical
// order may be requested more than once.
type OrderRequest struct {
	CustomerID     string            `json:"customer_id" validate:"required"`
	PlanID         string            `json:"plan_id" validate:"required"`
	Amount         decimal.Decimal   `json:"amount"`
	Currency       string            `json:"currency" validate:"required,len=3"`
	Description    string            `json:"description,omitempty" validate:"max=255"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	IdempotencyKey string            `json:"-"`
}

type Order struct {
	ID         string            `json:"id"`
	Status     OrderStatus       `json:"status"`
	CustomerID string            `json:"customer_id"`
	PlanID     string            `json:"plan_id"`
	Amount     decimal.Decimal   `json:"amount"`
	Currency   string            `json:"currency"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

type Charge struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"order_id"`
	ProfileID string          `json:"payment_profile_id"`
	Status    string          `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
}

// OrderFilter narrows ListOrders. Zero values are omitted from the query.
type OrderFilter struct {
	CustomerID   string
	Statuses     []OrderStatus
	CreatedAfter time.Time
	Limit        int
}

type chargeRequest struct {
	PaymentProfileID string `json:"payment_profile_id"`
}

type listOrdersResponse struct {
	Orders []Order `json:"orders"`
}
