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
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/skiddly/skiddly/database"
	"github.com/skiddly/skiddly/model"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Cart methods

func (m *MockDataSource) UpsertCart(ctx context.Context, cart *model.Cart) (*model.Cart, error) {
	args := m.Called(ctx, cart)
	if c, ok := args.Get(0).(*model.Cart); ok {
		return c, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDataSource) GetCart(ctx context.Context, tenantID, checkoutID string) (*model.Cart, error) {
	args := m.Called(ctx, tenantID, checkoutID)
	if c, ok := args.Get(0).(*model.Cart); ok {
		return c, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDataSource) MarkCartPurchased(ctx context.Context, tenantID, checkoutID, orderID string, at time.Time) (bool, error) {
	args := m.Called(ctx, tenantID, checkoutID, orderID, at)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) MarkCartAbandoned(ctx context.Context, tenantID, checkoutID string, at time.Time) (bool, error) {
	args := m.Called(ctx, tenantID, checkoutID, at)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) GetAbandonmentCandidates(ctx context.Context, cutoff time.Time, after database.CartCursor, limit int) ([]*model.Cart, error) {
	args := m.Called(ctx, cutoff, after, limit)
	if c, ok := args.Get(0).([]*model.Cart); ok {
		return c, args.Error(1)
	}
	return nil, args.Error(1)
}

// Case methods

func (m *MockDataSource) CreateCase(ctx context.Context, c *model.AbandonedCartCase) (*model.AbandonedCartCase, error) {
	args := m.Called(ctx, c)
	if out, ok := args.Get(0).(*model.AbandonedCartCase); ok {
		return out, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDataSource) GetCaseByID(ctx context.Context, id string) (*model.AbandonedCartCase, error) {
	args := m.Called(ctx, id)
	if out, ok := args.Get(0).(*model.AbandonedCartCase); ok {
		return out, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDataSource) GetCaseByCheckout(ctx context.Context, tenantID, checkoutID string) (*model.AbandonedCartCase, error) {
	args := m.Called(ctx, tenantID, checkoutID)
	if out, ok := args.Get(0).(*model.AbandonedCartCase); ok {
		return out, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDataSource) ClaimCaseAttempt(ctx context.Context, caseID string, expectedAttempts int, now time.Time) (bool, error) {
	args := m.Called(ctx, caseID, expectedAttempts, now)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) ApplyCaseTransition(ctx context.Context, t model.CaseTransition) (bool, error) {
	args := m.Called(ctx, t)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) DeferCase(ctx context.Context, caseID string, expectedAttempts int, next time.Time) (bool, error) {
	args := m.Called(ctx, caseID, expectedAttempts, next)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) CloseCase(ctx context.Context, caseID string, action model.FinalAction, reason string) (bool, error) {
	args := m.Called(ctx, caseID, action, reason)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) MarkCaseDoNotContact(ctx context.Context, caseID, reason string) (bool, error) {
	args := m.Called(ctx, caseID, reason)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) GetDueCases(ctx context.Context, now time.Time, after database.CaseCursor, limit int) ([]*model.AbandonedCartCase, error) {
	args := m.Called(ctx, now, after, limit)
	if out, ok := args.Get(0).([]*model.AbandonedCartCase); ok {
		return out, args.Error(1)
	}
	return nil, args.Error(1)
}

// Call methods

func (m *MockDataSource) CreateCall(ctx context.Context, c *model.Call) (*model.Call, error) {
	args := m.Called(ctx, c)
	if out, ok := args.Get(0).(*model.Call); ok {
		return out, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDataSource) GetCall(ctx context.Context, id string) (*model.Call, error) {
	args := m.Called(ctx, id)
	if out, ok := args.Get(0).(*model.Call); ok {
		return out, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDataSource) SetCallDispatched(ctx context.Context, callID, providerCallID string, at time.Time) error {
	args := m.Called(ctx, callID, providerCallID, at)
	return args.Error(0)
}

func (m *MockDataSource) SetCallStatus(ctx context.Context, callID string, status model.CallStatus) error {
	args := m.Called(ctx, callID, status)
	return args.Error(0)
}

func (m *MockDataSource) RecordCallOutcome(ctx context.Context, c *model.Call) (bool, error) {
	args := m.Called(ctx, c)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) GetCallsByCase(ctx context.Context, caseID string) ([]*model.Call, error) {
	args := m.Called(ctx, caseID)
	if out, ok := args.Get(0).([]*model.Call); ok {
		return out, args.Error(1)
	}
	return nil, args.Error(1)
}

// Agent methods

func (m *MockDataSource) CreateAgent(ctx context.Context, a *model.Agent) (*model.Agent, error) {
	args := m.Called(ctx, a)
	if out, ok := args.Get(0).(*model.Agent); ok {
		return out, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDataSource) GetAgentByID(ctx context.Context, id string) (*model.Agent, error) {
	args := m.Called(ctx, id)
	if out, ok := args.Get(0).(*model.Agent); ok {
		return out, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDataSource) GetActiveAgentForTenant(ctx context.Context, tenantID string) (*model.Agent, error) {
	args := m.Called(ctx, tenantID)
	if out, ok := args.Get(0).(*model.Agent); ok {
		return out, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDataSource) GetMinInactivityMinutes(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockDataSource) UpdateAgent(ctx context.Context, a *model.Agent) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

// Suppression methods

func (m *MockDataSource) AddDoNotContact(ctx context.Context, tenantID, phone, reason string) error {
	args := m.Called(ctx, tenantID, phone, reason)
	return args.Error(0)
}

func (m *MockDataSource) IsDoNotContact(ctx context.Context, tenantID, phone string) (bool, error) {
	args := m.Called(ctx, tenantID, phone)
	return args.Bool(0), args.Error(1)
}

var _ database.IDataSource = (*MockDataSource)(nil)
