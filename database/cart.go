package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/skiddly/skiddly/internal/apierror"
	"github.com/skiddly/skiddly/model"
)

const cartColumns = `c.tenant_id, c.checkout_id, c.total, c.currency, c.line_items, c.customer, c.shipping_address,
	c.status, c.order_id, c.created_at, c.last_activity_at, c.completed_at, c.abandoned_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCart(row rowScanner) (*model.Cart, error) {
	cart := model.Cart{}
	var lineItems, customer, shipping []byte
	var orderID sql.NullString
	var status string

	err := row.Scan(&cart.TenantID, &cart.CheckoutID, &cart.Total, &cart.Currency, &lineItems, &customer, &shipping,
		&status, &orderID, &cart.CreatedAt, &cart.LastActivityAt, &cart.CompletedAt, &cart.AbandonedAt)
	if err != nil {
		return nil, err
	}
	cart.Status = model.CartStatus(status)
	cart.OrderID = nullString(orderID)

	if len(lineItems) > 0 {
		if err := json.Unmarshal(lineItems, &cart.LineItems); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal line items", err)
		}
	}
	if len(customer) > 0 {
		if err := json.Unmarshal(customer, &cart.Customer); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal customer", err)
		}
	}
	if len(shipping) > 0 {
		if err := json.Unmarshal(shipping, &cart.ShippingAddress); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal shipping address", err)
		}
	}
	return &cart, nil
}

// UpsertCart inserts a cart or refreshes the stored one. Only newer activity returns the cart
// to in_checkout; a replayed event rewrites the same values, and an older event or a
// purchased cart leaves the stored row unchanged.
func (d Datasource) UpsertCart(ctx context.Context, cart *model.Cart) (*model.Cart, error) {
	ctx, span := otel.Tracer("skiddly.database").Start(ctx, "Upsert cart")
	defer span.End()

	lineItems, err := json.Marshal(cart.LineItems)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal line items", err)
	}
	customer, err := json.Marshal(cart.Customer)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal customer", err)
	}
	var shipping []byte
	if cart.ShippingAddress != nil {
		shipping, err = json.Marshal(cart.ShippingAddress)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal shipping address", err)
		}
	}

	row := d.Conn.QueryRowContext(ctx, `
		INSERT INTO skiddly.carts AS c (tenant_id, checkout_id, total, currency, line_items, customer, shipping_address, status, created_at, last_activity_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'in_checkout', $8, $9)
		ON CONFLICT (tenant_id, checkout_id) DO UPDATE SET
			total = EXCLUDED.total,
			currency = EXCLUDED.currency,
			line_items = EXCLUDED.line_items,
			customer = EXCLUDED.customer,
			shipping_address = EXCLUDED.shipping_address,
			last_activity_at = EXCLUDED.last_activity_at,
			status = CASE WHEN EXCLUDED.last_activity_at > c.last_activity_at THEN 'in_checkout' ELSE c.status END,
			abandoned_at = CASE WHEN EXCLUDED.last_activity_at > c.last_activity_at THEN NULL ELSE c.abandoned_at END
		WHERE c.status <> 'purchased' AND EXCLUDED.last_activity_at >= c.last_activity_at
		RETURNING `+cartColumns,
		cart.TenantID, cart.CheckoutID, cart.Total, cart.Currency, lineItems, customer, shipping, cart.CreatedAt, cart.LastActivityAt)

	stored, err := scanCart(row)
	if err == sql.ErrNoRows {
		// the conflict row is purchased or newer than the event and was not touched
		return d.GetCart(ctx, cart.TenantID, cart.CheckoutID)
	}
	if err != nil {
		span.RecordError(err)
		return nil, dbError(err, "Cart not found", "Cart already exists", "Failed to upsert cart")
	}
	return stored, nil
}

func (d Datasource) GetCart(ctx context.Context, tenantID, checkoutID string) (*model.Cart, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+cartColumns+`
		FROM skiddly.carts c
		WHERE c.tenant_id = $1 AND c.checkout_id = $2
	`, tenantID, checkoutID)

	cart, err := scanCart(row)
	if err != nil {
		return nil, dbError(err, "Cart not found", "Cart already exists", "Failed to retrieve cart")
	}
	return cart, nil
}

// MarkCartPurchased reports false when the cart was already purchased or does not exist.
func (d Datasource) MarkCartPurchased(ctx context.Context, tenantID, checkoutID, orderID string, at time.Time) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE skiddly.carts
		SET status = 'purchased', order_id = $3, completed_at = $4
		WHERE tenant_id = $1 AND checkout_id = $2 AND status <> 'purchased'
	`, tenantID, checkoutID, orderID, at)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark cart purchased", err)
	}
	return rowsChanged(result)
}

func (d Datasource) MarkCartAbandoned(ctx context.Context, tenantID, checkoutID string, at time.Time) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE skiddly.carts
		SET status = 'abandoned', abandoned_at = $3
		WHERE tenant_id = $1 AND checkout_id = $2 AND status = 'in_checkout'
	`, tenantID, checkoutID, at)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark cart abandoned", err)
	}
	return rowsChanged(result)
}

// GetAbandonmentCandidates pages through carts idle since cutoff that have no case yet,
// ordered by (last_activity_at, tenant_id, checkout_id).
func (d Datasource) GetAbandonmentCandidates(ctx context.Context, cutoff time.Time, after CartCursor, limit int) ([]*model.Cart, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+cartColumns+`
		FROM skiddly.carts c
		WHERE c.status <> 'purchased'
			AND c.last_activity_at <= $1
			AND (c.last_activity_at, c.tenant_id, c.checkout_id) > ($2, $3, $4)
			AND NOT EXISTS (
				SELECT 1 FROM skiddly.cases cs WHERE cs.tenant_id = c.tenant_id AND cs.checkout_id = c.checkout_id
			)
		ORDER BY c.last_activity_at, c.tenant_id, c.checkout_id
		LIMIT $5
	`, cutoff, after.LastActivityAt, after.TenantID, after.CheckoutID, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve abandonment candidates", err)
	}
	defer rows.Close()

	carts := []*model.Cart{}
	for rows.Next() {
		cart, err := scanCart(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan cart data", err)
		}
		carts = append(carts, cart)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over carts", err)
	}
	return carts, nil
}
