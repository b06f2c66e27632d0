package database

import (
	"context"
	"database/sql"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/skiddly/skiddly/internal/apierror"
	"github.com/skiddly/skiddly/model"
)

const caseColumns = `case_id, tenant_id, checkout_id, agent_id, phone_number, total_attempts, next_call_time,
	do_not_contact, qualified, qualification_reason, state, final_action, terminal_reason, last_outcome,
	correlation_id, created_at, updated_at`

func scanCase(row rowScanner) (*model.AbandonedCartCase, error) {
	c := model.AbandonedCartCase{}
	var agentID, reason, finalAction, terminalReason, lastOutcome sql.NullString
	var state string

	err := row.Scan(&c.CaseID, &c.TenantID, &c.CheckoutID, &agentID, &c.PhoneNumber, &c.TotalAttempts, &c.NextCallTime,
		&c.DoNotContact, &c.Qualified, &reason, &state, &finalAction, &terminalReason, &lastOutcome,
		&c.CorrelationID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.AgentID = nullString(agentID)
	c.QualificationReason = nullString(reason)
	c.State = model.CaseState(state)
	c.FinalAction = model.FinalAction(nullString(finalAction))
	c.TerminalReason = nullString(terminalReason)
	c.LastOutcome = model.Outcome(nullString(lastOutcome))
	return &c, nil
}

func (d Datasource) CreateCase(ctx context.Context, c *model.AbandonedCartCase) (*model.AbandonedCartCase, error) {
	ctx, span := otel.Tracer("skiddly.database").Start(ctx, "Create case")
	defer span.End()

	if c.CaseID == "" {
		c.CaseID = model.GenerateUUIDWithSuffix("case")
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	c.UpdatedAt = c.CreatedAt

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO skiddly.cases (case_id, tenant_id, checkout_id, agent_id, phone_number, total_attempts, next_call_time,
			do_not_contact, qualified, qualification_reason, state, final_action, terminal_reason, correlation_id, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, NULLIF($10, ''), $11, NULLIF($12, ''), NULLIF($13, ''), $14, $15, $16)
	`, c.CaseID, c.TenantID, c.CheckoutID, c.AgentID, c.PhoneNumber, c.TotalAttempts, c.NextCallTime,
		c.DoNotContact, c.Qualified, c.QualificationReason, string(c.State), string(c.FinalAction), c.TerminalReason,
		c.CorrelationID, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		span.RecordError(err)
		return nil, dbError(err, "Case not found", "A case already exists for this checkout", "Failed to create case")
	}
	return c, nil
}

func (d Datasource) GetCaseByID(ctx context.Context, id string) (*model.AbandonedCartCase, error) {
	row := d.Conn.QueryRowContext(ctx, `SELECT `+caseColumns+` FROM skiddly.cases WHERE case_id = $1`, id)
	c, err := scanCase(row)
	if err != nil {
		return nil, dbError(err, "Case not found", "Case already exists", "Failed to retrieve case")
	}
	return c, nil
}

func (d Datasource) GetCaseByCheckout(ctx context.Context, tenantID, checkoutID string) (*model.AbandonedCartCase, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+caseColumns+`
		FROM skiddly.cases
		WHERE tenant_id = $1 AND checkout_id = $2
	`, tenantID, checkoutID)
	c, err := scanCase(row)
	if err != nil {
		return nil, dbError(err, "Case not found", "Case already exists", "Failed to retrieve case")
	}
	return c, nil
}

// ClaimCaseAttempt is the attempt guard: a single conditional update that only succeeds for
// the caller that still sees expectedAttempts on an open, due case. Losers get false.
func (d Datasource) ClaimCaseAttempt(ctx context.Context, caseID string, expectedAttempts int, now time.Time) (bool, error) {
	ctx, span := otel.Tracer("skiddly.database").Start(ctx, "Claim case attempt")
	defer span.End()

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE skiddly.cases
		SET total_attempts = total_attempts + 1, next_call_time = NULL, state = 'awaiting_result', updated_at = $3
		WHERE case_id = $1
			AND total_attempts = $2
			AND do_not_contact = FALSE
			AND state <> 'terminal'
			AND next_call_time IS NOT NULL
			AND next_call_time <= $3
	`, caseID, expectedAttempts, now)
	if err != nil {
		span.RecordError(err)
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to claim case attempt", err)
	}
	return rowsChanged(result)
}

// ApplyCaseTransition writes the state computed after a call. It is a no-op when another
// attempt was claimed since, or when the case went terminal in the meantime.
func (d Datasource) ApplyCaseTransition(ctx context.Context, t model.CaseTransition) (bool, error) {
	next := t.NextCallTime
	if t.State == model.CaseStateTerminal || t.DoNotContact {
		next = nil
	}

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE skiddly.cases
		SET state = $3,
			next_call_time = $4,
			final_action = NULLIF($5, ''),
			terminal_reason = NULLIF($6, ''),
			last_outcome = NULLIF($7, ''),
			do_not_contact = do_not_contact OR $8,
			updated_at = NOW()
		WHERE case_id = $1 AND total_attempts = $2 AND state <> 'terminal'
	`, t.CaseID, t.ExpectedAttempts, string(t.State), next, string(t.FinalAction), t.TerminalReason, string(t.LastOutcome), t.DoNotContact)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update case", err)
	}
	return rowsChanged(result)
}

// DeferCase moves the next call time of a case that is still waiting for the attempt the
// caller saw. A case claimed or closed in the meantime is left alone and false is returned.
func (d Datasource) DeferCase(ctx context.Context, caseID string, expectedAttempts int, next time.Time) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE skiddly.cases
		SET next_call_time = $2,
			state = CASE WHEN total_attempts = 0 THEN 'pending_first_call' ELSE 'retry_scheduled' END,
			updated_at = NOW()
		WHERE case_id = $1 AND total_attempts = $3 AND do_not_contact = FALSE
			AND state NOT IN ('terminal', 'awaiting_result')
	`, caseID, next, expectedAttempts)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to defer case", err)
	}
	return rowsChanged(result)
}

func (d Datasource) CloseCase(ctx context.Context, caseID string, action model.FinalAction, reason string) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE skiddly.cases
		SET state = 'terminal', next_call_time = NULL, final_action = NULLIF($2, ''), terminal_reason = $3, updated_at = NOW()
		WHERE case_id = $1 AND state <> 'terminal'
	`, caseID, string(action), reason)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to close case", err)
	}
	return rowsChanged(result)
}

// MarkCaseDoNotContact sets the flag on open and terminal cases alike. An open case becomes
// terminal with final action marked_dnc; a terminal case keeps its final action.
func (d Datasource) MarkCaseDoNotContact(ctx context.Context, caseID, reason string) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE skiddly.cases
		SET do_not_contact = TRUE,
			next_call_time = NULL,
			final_action = CASE WHEN state = 'terminal' THEN final_action ELSE 'marked_dnc' END,
			terminal_reason = CASE WHEN state = 'terminal' THEN terminal_reason ELSE $2 END,
			state = 'terminal',
			updated_at = NOW()
		WHERE case_id = $1 AND do_not_contact = FALSE
	`, caseID, reason)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark case do-not-contact", err)
	}
	return rowsChanged(result)
}

// GetDueCases returns one keyset page of open cases with next_call_time <= now,
// ordered by (next_call_time, case_id).
func (d Datasource) GetDueCases(ctx context.Context, now time.Time, after CaseCursor, limit int) ([]*model.AbandonedCartCase, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+caseColumns+`
		FROM skiddly.cases
		WHERE next_call_time <= $1
			AND do_not_contact = FALSE
			AND state <> 'terminal'
			AND (next_call_time, case_id) > ($2, $3)
		ORDER BY next_call_time, case_id
		LIMIT $4
	`, now, after.NextCallTime, after.CaseID, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve due cases", err)
	}
	defer rows.Close()

	cases := []*model.AbandonedCartCase{}
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan case data", err)
		}
		cases = append(cases, c)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over cases", err)
	}
	return cases, nil
}
