package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/skiddly/skiddly/internal/apierror"
	"github.com/skiddly/skiddly/model"
)

var caseRowColumns = []string{"case_id", "tenant_id", "checkout_id", "agent_id", "phone_number", "total_attempts", "next_call_time",
	"do_not_contact", "qualified", "qualification_reason", "state", "final_action", "terminal_reason", "last_outcome",
	"correlation_id", "created_at", "updated_at"}

func TestCreateCase_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	next := time.Now().UTC().Add(time.Hour)
	c := &model.AbandonedCartCase{
		TenantID:      "shop_1",
		CheckoutID:    "chk_1",
		AgentID:       "agt_1",
		PhoneNumber:   "+15551234567",
		NextCallTime:  &next,
		Qualified:     true,
		State:         model.CaseStatePendingFirstCall,
		CorrelationID: "corr_1",
	}

	mock.ExpectExec("INSERT INTO skiddly.cases").
		WithArgs(sqlmock.AnyArg(), "shop_1", "chk_1", "agt_1", "+15551234567", 0, sqlmock.AnyArg(), false, true, "",
			"pending_first_call", "", "", "corr_1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	created, err := ds.CreateCase(context.Background(), c)
	assert.NoError(t, err)
	assert.Contains(t, created.CaseID, "case_")
	assert.WithinDuration(t, time.Now(), created.CreatedAt, time.Second)
	assert.Equal(t, created.CreatedAt, created.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateCase_DuplicateCheckout(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("INSERT INTO skiddly.cases").
		WillReturnError(&pq.Error{Code: "23505", Message: "unique_violation"})

	_, err = ds.CreateCase(context.Background(), &model.AbandonedCartCase{TenantID: "shop_1", CheckoutID: "chk_1"})
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrConflict, apiErr.Code)
	assert.Equal(t, "A case already exists for this checkout", apiErr.Message)
}

func TestGetCaseByCheckout(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	now := time.Now().UTC()

	rows := sqlmock.NewRows(caseRowColumns).
		AddRow("case_1", "shop_1", "chk_1", "agt_1", "+15551234567", 2, nil, false, true, nil,
			"terminal", "sms_sent_with_discount_code", "attempts_exhausted", "wants_discount", "corr_1", now, now)

	mock.ExpectQuery("SELECT (.+) FROM skiddly.cases").
		WithArgs("shop_1", "chk_1").
		WillReturnRows(rows)

	c, err := ds.GetCaseByCheckout(context.Background(), "shop_1", "chk_1")
	assert.NoError(t, err)
	assert.Equal(t, 2, c.TotalAttempts)
	assert.Nil(t, c.NextCallTime)
	assert.True(t, c.IsTerminal())
	assert.Equal(t, model.ActionSMSDiscountCode, c.FinalAction)
	assert.Equal(t, model.OutcomeWantsDiscount, c.LastOutcome)
	assert.Equal(t, "", c.QualificationReason)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCaseByID_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT (.+) FROM skiddly.cases WHERE case_id").
		WithArgs("case_missing").
		WillReturnError(sql.ErrNoRows)

	_, err = ds.GetCaseByID(context.Background(), "case_missing")
	assert.True(t, apierror.IsNotFound(err))
}

func TestClaimCaseAttempt_Won(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	now := time.Now().UTC()

	mock.ExpectExec("UPDATE skiddly.cases").
		WithArgs("case_1", 1, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	claimed, err := ds.ClaimCaseAttempt(context.Background(), "case_1", 1, now)
	assert.NoError(t, err)
	assert.True(t, claimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimCaseAttempt_LostToConcurrentWorker(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	now := time.Now().UTC()

	// both workers read total_attempts=1; the first update moves it to 2
	mock.ExpectExec("UPDATE skiddly.cases").
		WithArgs("case_1", 1, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE skiddly.cases").
		WithArgs("case_1", 1, now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	first, err := ds.ClaimCaseAttempt(context.Background(), "case_1", 1, now)
	assert.NoError(t, err)
	second, err := ds.ClaimCaseAttempt(context.Background(), "case_1", 1, now)
	assert.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimCaseAttempt_DatabaseError(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE skiddly.cases").WillReturnError(errors.New("connection reset"))

	claimed, err := ds.ClaimCaseAttempt(context.Background(), "case_1", 0, time.Now())
	assert.False(t, claimed)
	assert.Equal(t, apierror.ErrInternalServer, apierror.CodeOf(err))
}

func TestApplyCaseTransition_TerminalClearsNextCallTime(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	next := time.Now().UTC().Add(time.Hour)

	mock.ExpectExec("UPDATE skiddly.cases").
		WithArgs("case_1", 1, "terminal", nil, "marked_dnc", "", "do_not_call_request", true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	applied, err := ds.ApplyCaseTransition(context.Background(), model.CaseTransition{
		CaseID:           "case_1",
		ExpectedAttempts: 1,
		State:            model.CaseStateTerminal,
		NextCallTime:     &next,
		FinalAction:      model.ActionMarkedDNC,
		LastOutcome:      model.OutcomeDoNotCallRequest,
		DoNotContact:     true,
	})
	assert.NoError(t, err)
	assert.True(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyCaseTransition_StaleAttempt(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	next := time.Now().UTC().Add(time.Hour)

	mock.ExpectExec("UPDATE skiddly.cases").
		WithArgs("case_1", 1, "retry_scheduled", next, "scheduled_retry", "", "customer_busy", false).
		WillReturnResult(sqlmock.NewResult(0, 0))

	applied, err := ds.ApplyCaseTransition(context.Background(), model.CaseTransition{
		CaseID:           "case_1",
		ExpectedAttempts: 1,
		State:            model.CaseStateRetryScheduled,
		NextCallTime:     &next,
		FinalAction:      model.ActionScheduledRetry,
		LastOutcome:      model.OutcomeCustomerBusy,
	})
	assert.NoError(t, err)
	assert.False(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeferAndCloseCase(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	next := time.Now().UTC().Add(15 * time.Hour)

	mock.ExpectExec("UPDATE skiddly.cases").
		WithArgs("case_1", next, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE skiddly.cases").
		WithArgs("case_1", "order_completed", model.TerminalReasonOrderCompleted).
		WillReturnResult(sqlmock.NewResult(0, 1))

	deferred, err := ds.DeferCase(context.Background(), "case_1", 1, next)
	assert.NoError(t, err)
	assert.True(t, deferred)

	closed, err := ds.CloseCase(context.Background(), "case_1", model.ActionOrderCompleted, model.TerminalReasonOrderCompleted)
	assert.NoError(t, err)
	assert.True(t, closed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeferCase_StaleAttempts(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	next := time.Now().UTC().Add(time.Hour)

	// another worker claimed attempt 1, the case is awaiting its result
	mock.ExpectExec(`WHERE case_id = \$1 AND total_attempts = \$3 AND do_not_contact = FALSE\s+AND state NOT IN \('terminal', 'awaiting_result'\)`).
		WithArgs("case_1", next, 0).
		WillReturnResult(sqlmock.NewResult(0, 0))

	deferred, err := ds.DeferCase(context.Background(), "case_1", 0, next)
	assert.NoError(t, err)
	assert.False(t, deferred)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkCaseDoNotContact(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE skiddly.cases").
		WithArgs("case_1", model.TerminalReasonDoNotContact).
		WillReturnResult(sqlmock.NewResult(0, 0))

	changed, err := ds.MarkCaseDoNotContact(context.Background(), "case_1", model.TerminalReasonDoNotContact)
	assert.NoError(t, err)
	assert.False(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetDueCases(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	now := time.Now().UTC()
	due := now.Add(-time.Minute)

	rows := sqlmock.NewRows(caseRowColumns).
		AddRow("case_1", "shop_1", "chk_1", nil, "+15551234567", 0, due, false, true, nil,
			"pending_first_call", nil, nil, nil, "corr_1", now, now).
		AddRow("case_2", "shop_1", "chk_2", "agt_1", "+15557654321", 1, due, false, true, nil,
			"retry_scheduled", "scheduled_retry", nil, "customer_busy", "corr_2", now, now)

	mock.ExpectQuery("SELECT (.+) FROM skiddly.cases").
		WithArgs(now, time.Time{}, "", 100).
		WillReturnRows(rows)

	cases, err := ds.GetDueCases(context.Background(), now, CaseCursor{}, 100)
	assert.NoError(t, err)
	assert.Len(t, cases, 2)
	assert.Equal(t, due, *cases[0].NextCallTime)
	assert.Equal(t, "", cases[0].AgentID)
	assert.Equal(t, model.CaseStateRetryScheduled, cases[1].State)
	assert.NoError(t, mock.ExpectationsWereMet())
}
