package database

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/skiddly/skiddly/internal/apierror"
	"github.com/skiddly/skiddly/model"
)

var cartRowColumns = []string{"tenant_id", "checkout_id", "total", "currency", "line_items", "customer", "shipping_address",
	"status", "order_id", "created_at", "last_activity_at", "completed_at", "abandoned_at"}

func TestUpsertCart_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	now := time.Now().UTC()
	cart := &model.Cart{
		TenantID:       "shop_1",
		CheckoutID:     gofakeit.UUID(),
		Total:          decimal.NewFromFloat(120.5),
		Currency:       "USD",
		LineItems:      []model.LineItem{{Title: "Mug", Quantity: 2, UnitPrice: decimal.NewFromFloat(60.25)}},
		Customer:       model.Customer{FirstName: "Ada", Phone: "+15551234567"},
		CreatedAt:      now,
		LastActivityAt: now,
	}

	rows := sqlmock.NewRows(cartRowColumns).
		AddRow(cart.TenantID, cart.CheckoutID, "120.5", "USD", []byte(`[{"title":"Mug","quantity":2,"unit_price":"60.25"}]`),
			[]byte(`{"first_name":"Ada","phone":"+15551234567"}`), nil, "in_checkout", nil, now, now, nil, nil)

	mock.ExpectQuery("INSERT INTO skiddly.carts").
		WithArgs(cart.TenantID, cart.CheckoutID, cart.Total, "USD", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), now, now).
		WillReturnRows(rows)

	stored, err := ds.UpsertCart(context.Background(), cart)
	assert.NoError(t, err)
	assert.Equal(t, model.CartStatusInCheckout, stored.Status)
	assert.True(t, stored.Total.Equal(decimal.NewFromFloat(120.5)))
	assert.Len(t, stored.LineItems, 1)
	assert.Equal(t, "Ada", stored.Customer.FirstName)
	assert.Nil(t, stored.ShippingAddress)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCart_ReplayReturnsSameCart(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	created := time.Date(2024, time.January, 10, 20, 45, 0, 0, time.UTC)
	updated := created.Add(15 * time.Minute)
	cart := &model.Cart{
		TenantID:       "shop_1",
		CheckoutID:     "chk_1",
		Total:          decimal.NewFromInt(120),
		Currency:       "USD",
		LineItems:      []model.LineItem{{Title: "Linen shirt", Quantity: 2, UnitPrice: decimal.NewFromInt(60)}},
		Customer:       model.Customer{FirstName: "Ada", Phone: "+15551234567"},
		CreatedAt:      created,
		LastActivityAt: updated,
	}
	row := func() *sqlmock.Rows {
		return sqlmock.NewRows(cartRowColumns).
			AddRow("shop_1", "chk_1", "120", "USD", []byte(`[{"title":"Linen shirt","quantity":2,"unit_price":"60"}]`),
				[]byte(`{"first_name":"Ada","phone":"+15551234567"}`), nil, "abandoned", nil, created, updated, nil, updated.Add(time.Hour))
	}

	// the same update delivered twice writes identical arguments both times
	for i := 0; i < 2; i++ {
		mock.ExpectQuery(`WHERE c.status <> 'purchased' AND EXCLUDED.last_activity_at >= c.last_activity_at`).
			WithArgs("shop_1", "chk_1", cart.Total, "USD", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), created, updated).
			WillReturnRows(row())
	}

	first, err := ds.UpsertCart(context.Background(), cart)
	assert.NoError(t, err)
	second, err := ds.UpsertCart(context.Background(), cart)
	assert.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, model.CartStatusAbandoned, second.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCart_PurchasedIsReturnedUnchanged(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	now := time.Now().UTC()
	cart := &model.Cart{TenantID: "shop_1", CheckoutID: "chk_1", Total: decimal.NewFromInt(10), CreatedAt: now, LastActivityAt: now}

	mock.ExpectQuery("INSERT INTO skiddly.carts").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("SELECT (.+) FROM skiddly.carts c").
		WithArgs("shop_1", "chk_1").
		WillReturnRows(sqlmock.NewRows(cartRowColumns).
			AddRow("shop_1", "chk_1", "10", "USD", nil, nil, nil, "purchased", "ord_9", now, now, now, nil))

	stored, err := ds.UpsertCart(context.Background(), cart)
	assert.NoError(t, err)
	assert.Equal(t, model.CartStatusPurchased, stored.Status)
	assert.Equal(t, "ord_9", stored.OrderID)
	assert.NotNil(t, stored.CompletedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCart_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT (.+) FROM skiddly.carts c").
		WithArgs("shop_1", "missing").
		WillReturnError(sql.ErrNoRows)

	cart, err := ds.GetCart(context.Background(), "shop_1", "missing")
	assert.Nil(t, cart)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrNotFound, apiErr.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkCartPurchased(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	at := time.Now().UTC()

	mock.ExpectExec("UPDATE skiddly.carts").
		WithArgs("shop_1", "chk_1", "ord_1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE skiddly.carts").
		WithArgs("shop_1", "chk_1", "ord_1", at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	changed, err := ds.MarkCartPurchased(context.Background(), "shop_1", "chk_1", "ord_1", at)
	assert.NoError(t, err)
	assert.True(t, changed)

	changed, err = ds.MarkCartPurchased(context.Background(), "shop_1", "chk_1", "ord_1", at)
	assert.NoError(t, err)
	assert.False(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkCartAbandoned(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	at := time.Now().UTC()

	mock.ExpectExec("UPDATE skiddly.carts").
		WithArgs("shop_1", "chk_1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	changed, err := ds.MarkCartAbandoned(context.Background(), "shop_1", "chk_1", at)
	assert.NoError(t, err)
	assert.True(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAbandonmentCandidates(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	cutoff := time.Now().UTC().Add(-time.Hour)
	after := CartCursor{LastActivityAt: cutoff.Add(-2 * time.Hour), TenantID: "shop_1", CheckoutID: "chk_0"}

	rows := sqlmock.NewRows(cartRowColumns).
		AddRow("shop_1", "chk_1", "55", "USD", nil, []byte(`{"phone":"+15550000001"}`), nil, "in_checkout", nil, cutoff, cutoff, nil, nil).
		AddRow("shop_2", "chk_2", "75", "USD", nil, []byte(`{"phone":"+15550000002"}`), nil, "abandoned", nil, cutoff, cutoff, nil, cutoff)

	mock.ExpectQuery("SELECT (.+) FROM skiddly.carts c").
		WithArgs(cutoff, after.LastActivityAt, "shop_1", "chk_0", 50).
		WillReturnRows(rows)

	carts, err := ds.GetAbandonmentCandidates(context.Background(), cutoff, after, 50)
	assert.NoError(t, err)
	assert.Len(t, carts, 2)
	assert.Equal(t, "+15550000002", carts[1].ContactPhone())
	assert.NotNil(t, carts[1].AbandonedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}
