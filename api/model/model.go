/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package model

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"

	"github.com/skiddly/skiddly/model"
)

type ShopifyLineItem struct {
	Title    string `json:"title"`
	Quantity int    `json:"quantity"`
	Price    string `json:"price"`
}

type ShopifyCustomer struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

type ShopifyAddress struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Address1  string `json:"address1"`
	Address2  string `json:"address2"`
	City      string `json:"city"`
	Province  string `json:"province"`
	Country   string `json:"country"`
	Zip       string `json:"zip"`
	Phone     string `json:"phone"`
}

// ShopifyCheckout is the body of the checkouts/create and checkouts/update topics.
type ShopifyCheckout struct {
	ID              json.Number       `json:"id"`
	Token           string            `json:"token"`
	Email           string            `json:"email"`
	Phone           string            `json:"phone"`
	TotalPrice      string            `json:"total_price"`
	Currency        string            `json:"currency"`
	LineItems       []ShopifyLineItem `json:"line_items"`
	Customer        *ShopifyCustomer  `json:"customer"`
	ShippingAddress *ShopifyAddress   `json:"shipping_address"`
	BillingAddress  *ShopifyAddress   `json:"billing_address"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// ShopifyOrder is the body of the orders/create topic.
type ShopifyOrder struct {
	ID            json.Number `json:"id"`
	CheckoutID    json.Number `json:"checkout_id"`
	CheckoutToken string      `json:"checkout_token"`
	TotalPrice    string      `json:"total_price"`
	CreatedAt     time.Time   `json:"created_at"`
}

// CallResultRequest is the flat call-result callback.
type CallResultRequest struct {
	CallID       string    `json:"callId"`
	CaseID       string    `json:"caseId"`
	Transcript   string    `json:"transcript"`
	RecordingURL string    `json:"recordingUrl"`
	EndedReason  string    `json:"endedReason"`
	StartedAt    time.Time `json:"startedAt"`
	EndedAt      time.Time `json:"endedAt"`
}

type CreateAgent struct {
	TenantID      string                 `json:"tenant_id"`
	Name          string                 `json:"name"`
	AssistantID   string                 `json:"assistant_id"`
	PhoneNumberID string                 `json:"phone_number_id"`
	Active        *bool                  `json:"active"`
	Prompt        *model.PromptTemplate  `json:"prompt"`
	Policy        model.CallPolicy       `json:"policy"`
	DiscountCode  string                 `json:"discount_code"`
	SMSTemplate   string                 `json:"sms_template"`
	MetaData      map[string]interface{} `json:"meta_data"`
}

type UpdatePromptSection struct {
	Text string `json:"text"`
}

type MarkDoNotContact struct {
	Reason string `json:"reason"`
}

func priceRule(value interface{}) error {
	items, ok := value.([]ShopifyLineItem)
	if !ok {
		return errors.New("invalid line items")
	}
	for _, item := range items {
		if item.Quantity < 0 {
			return errors.New("quantity must not be negative")
		}
		if strings.TrimSpace(item.Price) == "" {
			continue
		}
		if _, err := decimal.NewFromString(item.Price); err != nil {
			return errors.New("price must be a decimal amount")
		}
	}
	return nil
}

func (c *ShopifyCheckout) CheckoutID() string {
	if id := c.ID.String(); id != "" {
		return id
	}
	return c.Token
}

func (c *ShopifyCheckout) ValidateShopifyCheckout() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ID, validation.When(c.Token == "", validation.Required.Error("id or token is required"))),
		validation.Field(&c.Currency, validation.When(c.Currency != "", validation.Length(3, 3))),
		validation.Field(&c.LineItems, validation.By(priceRule)),
	)
}

func (o *ShopifyOrder) ValidateShopifyOrder() error {
	return validation.ValidateStruct(o,
		validation.Field(&o.ID, validation.Required),
	)
}

func (r *CallResultRequest) ValidateCallResult() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.CallID, validation.Required),
		validation.Field(&r.RecordingURL, validation.When(r.RecordingURL != "", validation.Length(1, 2048))),
		validation.Field(&r.EndedAt, validation.By(func(value interface{}) error {
			if !r.StartedAt.IsZero() && !r.EndedAt.IsZero() && r.EndedAt.Before(r.StartedAt) {
				return errors.New("must not be before startedAt")
			}
			return nil
		})),
	)
}

func (a *CreateAgent) ValidateCreateAgent() error {
	return validation.ValidateStruct(a,
		validation.Field(&a.TenantID, validation.Required),
		validation.Field(&a.Name, validation.Required, validation.Length(1, 120)),
		validation.Field(&a.AssistantID, validation.Required),
		validation.Field(&a.PhoneNumberID, validation.Required),
	)
}

func (u *UpdatePromptSection) ValidateUpdatePromptSection() error {
	return validation.ValidateStruct(u,
		validation.Field(&u.Text, validation.Length(0, 4000)),
	)
}

func (m *MarkDoNotContact) ValidateMarkDoNotContact() error {
	return validation.ValidateStruct(m,
		validation.Field(&m.Reason, validation.Length(0, 255)),
	)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func (a *ShopifyAddress) toAddress() *model.Address {
	if a == nil {
		return nil
	}
	return &model.Address{
		FirstName: a.FirstName,
		LastName:  a.LastName,
		Address1:  a.Address1,
		Address2:  a.Address2,
		City:      a.City,
		Province:  a.Province,
		Country:   a.Country,
		Zip:       a.Zip,
	}
}

// ToCheckoutEvent maps the storefront payload onto a checkout event. The contact phone is
// taken from the checkout, then the customer, then the shipping and billing addresses.
func (c *ShopifyCheckout) ToCheckoutEvent(tenantID string) model.CheckoutEvent {
	customer := ShopifyCustomer{}
	if c.Customer != nil {
		customer = *c.Customer
	}
	shipping := ShopifyAddress{}
	if c.ShippingAddress != nil {
		shipping = *c.ShippingAddress
	}
	billing := ShopifyAddress{}
	if c.BillingAddress != nil {
		billing = *c.BillingAddress
	}

	items := make([]model.LineItem, 0, len(c.LineItems))
	for _, item := range c.LineItems {
		price, _ := decimal.NewFromString(item.Price)
		items = append(items, model.LineItem{Title: item.Title, Quantity: item.Quantity, UnitPrice: price})
	}

	return model.CheckoutEvent{
		ID:              c.CheckoutID(),
		TenantID:        tenantID,
		Email:           firstNonEmpty(c.Email, customer.Email),
		Phone:           firstNonEmpty(c.Phone, customer.Phone, shipping.Phone, billing.Phone),
		FirstName:       firstNonEmpty(customer.FirstName, shipping.FirstName, billing.FirstName),
		LastName:        firstNonEmpty(customer.LastName, shipping.LastName, billing.LastName),
		TotalPrice:      c.TotalPrice,
		Currency:        c.Currency,
		LineItems:       items,
		ShippingAddress: c.ShippingAddress.toAddress(),
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

func (o *ShopifyOrder) ToOrderEvent(tenantID string) model.OrderEvent {
	return model.OrderEvent{
		ID:         o.ID.String(),
		TenantID:   tenantID,
		CheckoutID: firstNonEmpty(o.CheckoutID.String(), o.CheckoutToken),
		TotalPrice: o.TotalPrice,
		CreatedAt:  o.CreatedAt,
	}
}

func (r *CallResultRequest) ToCallResult() model.CallResult {
	return model.CallResult{
		CallID:       r.CallID,
		CaseID:       r.CaseID,
		Transcript:   r.Transcript,
		RecordingURL: r.RecordingURL,
		EndedReason:  r.EndedReason,
		StartedAt:    r.StartedAt,
		EndedAt:      r.EndedAt,
	}
}

func (a *CreateAgent) ToAgent() model.Agent {
	active := true
	if a.Active != nil {
		active = *a.Active
	}
	agent := model.Agent{
		TenantID:      a.TenantID,
		Name:          a.Name,
		AssistantID:   a.AssistantID,
		PhoneNumberID: a.PhoneNumberID,
		Active:        active,
		Policy:        a.Policy,
		DiscountCode:  a.DiscountCode,
		SMSTemplate:   a.SMSTemplate,
		MetaData:      a.MetaData,
	}
	if a.Prompt != nil {
		agent.Prompt = *a.Prompt
	}
	return agent
}
