package skiddly

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/skiddly/skiddly/database/mocks"
	redlock "github.com/skiddly/skiddly/internal/lock"
	"github.com/skiddly/skiddly/model"
)

func checkoutEvent() model.CheckoutEvent {
	created := nyTime(time.January, 10, 20, 45)
	return model.CheckoutEvent{
		ID:         "chk_1",
		TenantID:   "shop_1",
		Phone:      "+1 (555) 123-4567",
		FirstName:  "Ada",
		TotalPrice: "120.00",
		Currency:   "usd",
		LineItems:  []model.LineItem{{Title: "Linen shirt", Quantity: 2, UnitPrice: decimal.NewFromInt(60)}},
		CreatedAt:  created,
		UpdatedAt:  created.Add(15 * time.Minute),
	}
}

func TestCartFromEvent(t *testing.T) {
	now := nyTime(time.January, 10, 22, 0)

	cart, err := cartFromEvent(checkoutEvent(), now)
	require.NoError(t, err)
	assert.Equal(t, "+15551234567", cart.Customer.Phone)
	assert.Equal(t, "USD", cart.Currency)
	assert.True(t, cart.Total.Equal(decimal.NewFromInt(120)))
	assert.Equal(t, model.CartStatusInCheckout, cart.Status)
	assert.True(t, cart.LastActivityAt.Equal(nyTime(time.January, 10, 21, 0)))

	event := checkoutEvent()
	event.CreatedAt = time.Time{}
	event.UpdatedAt = time.Time{}
	cart, err = cartFromEvent(event, now)
	require.NoError(t, err)
	assert.True(t, cart.LastActivityAt.Equal(now))
}

func TestCartFromEvent_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(e *model.CheckoutEvent)
		field  string
	}{
		{name: "missing id", mutate: func(e *model.CheckoutEvent) { e.ID = " " }, field: "id"},
		{name: "missing tenant", mutate: func(e *model.CheckoutEvent) { e.TenantID = "" }, field: "tenant_id"},
		{name: "bad total", mutate: func(e *model.CheckoutEvent) { e.TotalPrice = "twelve" }, field: "total_price"},
		{name: "negative total", mutate: func(e *model.CheckoutEvent) { e.TotalPrice = "-1.00" }, field: "total_price"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := checkoutEvent()
			tt.mutate(&event)
			_, err := cartFromEvent(event, time.Now())
			require.Error(t, err)

			var v *ValidationError
			require.ErrorAs(t, err, &v)
			assert.Equal(t, tt.field, v.Field)
		})
	}
}

func TestRecordCheckoutEvent_UpsertsUnderCheckoutLock(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	ds := new(mocks.MockDataSource)
	s := newTestSkiddly(t, ds, nyTime(time.January, 10, 22, 0), func(o *Options) { o.Redis = client })

	key := redlock.CheckoutKey("shop_1", "chk_1")
	ds.On("UpsertCart", mock.Anything, mock.AnythingOfType("*model.Cart")).
		Run(func(args mock.Arguments) {
			// the lock is held while the cart is written
			assert.True(t, mr.Exists(key))
		}).
		Return(testCart(nyTime(time.January, 10, 21, 0)), nil)

	cart, err := s.RecordCheckoutEvent(context.Background(), checkoutEvent(), model.CheckoutUpdated)
	require.NoError(t, err)
	assert.Equal(t, "chk_1", cart.CheckoutID)
	assert.False(t, mr.Exists(key))
}

func TestRecordCheckoutEvent_ReplayedUpdateWritesSameCart(t *testing.T) {
	ds := new(mocks.MockDataSource)
	clock := nyTime(time.January, 10, 22, 0)
	s := newTestSkiddly(t, ds, clock)
	s.now = func() time.Time { return clock }

	var written []model.Cart
	ds.On("UpsertCart", mock.Anything, mock.AnythingOfType("*model.Cart")).
		Run(func(args mock.Arguments) { written = append(written, *args.Get(1).(*model.Cart)) }).
		Return(testCart(nyTime(time.January, 10, 21, 0)), nil)

	_, err := s.RecordCheckoutEvent(context.Background(), checkoutEvent(), model.CheckoutUpdated)
	require.NoError(t, err)

	// the duplicate arrives later, the cart must not depend on when it was received
	clock = clock.Add(40 * time.Minute)
	_, err = s.RecordCheckoutEvent(context.Background(), checkoutEvent(), model.CheckoutUpdated)
	require.NoError(t, err)

	require.Len(t, written, 2)
	assert.Equal(t, written[0], written[1])
	assert.True(t, written[1].LastActivityAt.Equal(nyTime(time.January, 10, 21, 0)))
}

func TestRecordCheckoutEvent_BusyLockIsConflict(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	ds := new(mocks.MockDataSource)
	s := newTestSkiddly(t, ds, time.Now(), func(o *Options) {
		o.Redis = client
		o.LockTTL = 200 * time.Millisecond
	})

	holder := redlock.NewLocker(client, redlock.CheckoutKey("shop_1", "chk_1"), "other-worker")
	require.NoError(t, holder.Lock(context.Background(), time.Minute))

	_, err = s.RecordCheckoutEvent(context.Background(), checkoutEvent(), model.CheckoutCreated)
	require.Error(t, err)
	ds.AssertNotCalled(t, "UpsertCart", mock.Anything, mock.Anything)
}

func TestRecordCheckoutEvent_RejectsInvalidEvent(t *testing.T) {
	ds := new(mocks.MockDataSource)
	s := newTestSkiddly(t, ds, time.Now())

	event := checkoutEvent()
	event.ID = ""
	_, err := s.RecordCheckoutEvent(context.Background(), event, model.CheckoutCreated)
	assert.True(t, IsValidationError(err))
	ds.AssertNotCalled(t, "UpsertCart", mock.Anything, mock.Anything)
}

func TestGetCart_WithoutCase(t *testing.T) {
	ds := new(mocks.MockDataSource)
	s := newTestSkiddly(t, ds, time.Now())

	ds.On("GetCart", mock.Anything, "shop_1", "chk_1").Return(testCart(time.Now()), nil)
	ds.On("GetCaseByCheckout", mock.Anything, "shop_1", "chk_1").Return(nil, notFound("case"))

	cart, c, err := s.GetCart(context.Background(), "shop_1", "chk_1")
	require.NoError(t, err)
	assert.NotNil(t, cart)
	assert.Nil(t, c)
}
