package database

import (
	"context"

	"github.com/skiddly/skiddly/internal/apierror"
)

func (d Datasource) AddDoNotContact(ctx context.Context, tenantID, phone, reason string) error {
	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO skiddly.do_not_contact (tenant_id, phone_number, reason)
		VALUES ($1, $2, NULLIF($3, ''))
		ON CONFLICT (tenant_id, phone_number) DO NOTHING
	`, tenantID, phone, reason)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to add phone to do-not-contact list", err)
	}
	return nil
}

func (d Datasource) IsDoNotContact(ctx context.Context, tenantID, phone string) (bool, error) {
	var exists bool
	err := d.Conn.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM skiddly.do_not_contact WHERE tenant_id = $1 AND phone_number = $2)
	`, tenantID, phone).Scan(&exists)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check do-not-contact list", err)
	}
	return exists, nil
}
