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

package database

import (
	"context"
	"time"

	"github.com/skiddly/skiddly/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	cart        // Interface for cart lifecycle operations
	callCase    // Interface for abandoned cart case operations
	call        // Interface for call attempt operations
	agent       // Interface for calling agent operations
	suppression // Interface for the do-not-contact list
}

// cart defines methods for handling storefront checkouts.
type cart interface {
	UpsertCart(ctx context.Context, cart *model.Cart) (*model.Cart, error)                                              // Inserts or refreshes a cart; purchased carts are left unchanged
	GetCart(ctx context.Context, tenantID, checkoutID string) (*model.Cart, error)                                      // Retrieves a cart by tenant and checkout id
	MarkCartPurchased(ctx context.Context, tenantID, checkoutID, orderID string, at time.Time) (bool, error)            // Moves a cart to purchased; false when already purchased
	MarkCartAbandoned(ctx context.Context, tenantID, checkoutID string, at time.Time) (bool, error)                     // Records the abandonment of an in-checkout cart
	GetAbandonmentCandidates(ctx context.Context, cutoff time.Time, after CartCursor, limit int) ([]*model.Cart, error) // Carts idle since cutoff that have no case yet
}

// callCase defines methods for handling abandoned cart cases.
type callCase interface {
	CreateCase(ctx context.Context, c *model.AbandonedCartCase) (*model.AbandonedCartCase, error)                    // Creates a case; one per checkout
	GetCaseByID(ctx context.Context, id string) (*model.AbandonedCartCase, error)                                    // Retrieves a case by id
	GetCaseByCheckout(ctx context.Context, tenantID, checkoutID string) (*model.AbandonedCartCase, error)            // Retrieves the case of a checkout
	ClaimCaseAttempt(ctx context.Context, caseID string, expectedAttempts int, now time.Time) (bool, error)          // Compare-and-set increment of total_attempts
	ApplyCaseTransition(ctx context.Context, t model.CaseTransition) (bool, error)                                   // Writes the post-call state when total_attempts still matches
	DeferCase(ctx context.Context, caseID string, expectedAttempts int, next time.Time) (bool, error)                // Pushes the next call time of a case still at expectedAttempts
	CloseCase(ctx context.Context, caseID string, action model.FinalAction, reason string) (bool, error)             // Moves an open case to terminal
	MarkCaseDoNotContact(ctx context.Context, caseID, reason string) (bool, error)                                   // Sets do_not_contact and clears the next call time
	GetDueCases(ctx context.Context, now time.Time, after CaseCursor, limit int) ([]*model.AbandonedCartCase, error) // Open cases whose next call time has passed
}

// call defines methods for handling call attempts.
type call interface {
	CreateCall(ctx context.Context, c *model.Call) (*model.Call, error)                       // Creates a call; attempt is unique per case
	GetCall(ctx context.Context, id string) (*model.Call, error)                              // Retrieves a call by call id or provider call id
	SetCallDispatched(ctx context.Context, callID, providerCallID string, at time.Time) error // Records the provider call id of a queued call
	SetCallStatus(ctx context.Context, callID string, status model.CallStatus) error          // Updates the status of a call without an outcome
	RecordCallOutcome(ctx context.Context, c *model.Call) (bool, error)                       // Writes the outcome once; false when already recorded
	GetCallsByCase(ctx context.Context, caseID string) ([]*model.Call, error)                 // Retrieves the calls of a case ordered by attempt
}

// agent defines methods for handling calling agents.
type agent interface {
	CreateAgent(ctx context.Context, a *model.Agent) (*model.Agent, error)              // Creates an agent
	GetAgentByID(ctx context.Context, id string) (*model.Agent, error)                  // Retrieves an agent by id
	GetActiveAgentForTenant(ctx context.Context, tenantID string) (*model.Agent, error) // Retrieves the oldest active agent of a tenant
	UpdateAgent(ctx context.Context, a *model.Agent) error                              // Updates an agent
	GetMinInactivityMinutes(ctx context.Context) (int, error)                           // Smallest inactivity override among active agents, 0 when none
}

// suppression defines methods for the tenant do-not-contact list.
type suppression interface {
	AddDoNotContact(ctx context.Context, tenantID, phone, reason string) error // Adds a phone number to the list
	IsDoNotContact(ctx context.Context, tenantID, phone string) (bool, error)  // Reports whether a phone number is on the list
}

// CartCursor is the keyset position of a candidate scan. The zero value starts from the beginning.
type CartCursor struct {
	LastActivityAt time.Time
	TenantID       string
	CheckoutID     string
}

// CaseCursor is the keyset position of a due-case scan. The zero value starts from the beginning.
type CaseCursor struct {
	NextCallTime time.Time
	CaseID       string
}
