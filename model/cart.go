package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartStatus is the lifecycle status of a checkout session.
type CartStatus string

const (
	CartStatusInCheckout CartStatus = "in_checkout"
	CartStatusAbandoned  CartStatus = "abandoned"
	CartStatusPurchased  CartStatus = "purchased"
)

// CheckoutEventKind tells the tracker which storefront topic produced a checkout event.
type CheckoutEventKind string

const (
	CheckoutCreated CheckoutEventKind = "created"
	CheckoutUpdated CheckoutEventKind = "updated"
)

type LineItem struct {
	Title     string          `json:"title"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type Address struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Address1  string `json:"address1,omitempty"`
	Address2  string `json:"address2,omitempty"`
	City      string `json:"city,omitempty"`
	Province  string `json:"province,omitempty"`
	Country   string `json:"country,omitempty"`
	Zip       string `json:"zip,omitempty"`
}

type Customer struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// Cart is one storefront checkout session, keyed by (TenantID, CheckoutID).
type Cart struct {
	CheckoutID      string          `json:"checkout_id"`
	TenantID        string          `json:"tenant_id"`
	Total           decimal.Decimal `json:"total"`
	Currency        string          `json:"currency"`
	LineItems       []LineItem      `json:"line_items"`
	Customer        Customer        `json:"customer"`
	ShippingAddress *Address        `json:"shipping_address,omitempty"`
	Status          CartStatus      `json:"status"`
	OrderID         string          `json:"order_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	LastActivityAt  time.Time       `json:"last_activity_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	AbandonedAt     *time.Time      `json:"abandoned_at,omitempty"`
}

// ContactPhone returns the normalized customer phone, or "" when none is on file.
func (c *Cart) ContactPhone() string {
	return NormalizePhone(c.Customer.Phone)
}

// CheckoutEvent is the storefront payload for a checkout create/update.
type CheckoutEvent struct {
	ID              string     `json:"id"`
	TenantID        string     `json:"-"`
	Email           string     `json:"email"`
	Phone           string     `json:"phone"`
	FirstName       string     `json:"first_name"`
	LastName        string     `json:"last_name"`
	TotalPrice      string     `json:"total_price"`
	Currency        string     `json:"currency"`
	LineItems       []LineItem `json:"line_items"`
	ShippingAddress *Address   `json:"shipping_address,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// OrderEvent is the storefront payload for an order creation.
type OrderEvent struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"-"`
	CheckoutID string    `json:"checkout_id"`
	TotalPrice string    `json:"total_price"`
	CreatedAt  time.Time `json:"created_at"`
}
