package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/skiddly/skiddly/internal/apierror"
	"github.com/skiddly/skiddly/model"
)

const callColumns = `call_id, case_id, attempt, provider_call_id, phone_number, agent_id, status, dispatched_at,
	started_at, ended_at, duration_seconds, transcript, recording_url, ended_reason, outcome, final_action, analysis, created_at`

func scanCall(row rowScanner) (*model.Call, error) {
	c := model.Call{}
	var providerID, agentID, transcript, recording, endedReason, outcome, finalAction sql.NullString
	var status string
	var analysis []byte

	err := row.Scan(&c.CallID, &c.CaseID, &c.Attempt, &providerID, &c.PhoneNumber, &agentID, &status, &c.DispatchedAt,
		&c.StartedAt, &c.EndedAt, &c.DurationSeconds, &transcript, &recording, &endedReason, &outcome, &finalAction,
		&analysis, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.ProviderCallID = nullString(providerID)
	c.AgentID = nullString(agentID)
	c.Status = model.CallStatus(status)
	c.Transcript = nullString(transcript)
	c.RecordingURL = nullString(recording)
	c.EndedReason = nullString(endedReason)
	c.Outcome = model.Outcome(nullString(outcome))
	c.FinalAction = model.FinalAction(nullString(finalAction))

	if len(analysis) > 0 && string(analysis) != "null" {
		c.Analysis = &model.AnalysisResult{}
		if err := json.Unmarshal(analysis, c.Analysis); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal analysis", err)
		}
	}
	return &c, nil
}

func (d Datasource) CreateCall(ctx context.Context, c *model.Call) (*model.Call, error) {
	if c.CallID == "" {
		c.CallID = model.GenerateUUIDWithSuffix("call")
	}
	if c.Status == "" {
		c.Status = model.CallStatusQueued
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO skiddly.calls (call_id, case_id, attempt, phone_number, agent_id, status, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
	`, c.CallID, c.CaseID, c.Attempt, c.PhoneNumber, c.AgentID, string(c.Status), c.CreatedAt)
	if err != nil {
		return nil, dbError(err, "Call not found", "This attempt already has a call", "Failed to create call")
	}
	return c, nil
}

// GetCall looks a call up by its own id or by the id the calling provider assigned to it.
func (d Datasource) GetCall(ctx context.Context, id string) (*model.Call, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+callColumns+`
		FROM skiddly.calls
		WHERE call_id = $1 OR provider_call_id = $1
		LIMIT 1
	`, id)
	c, err := scanCall(row)
	if err != nil {
		return nil, dbError(err, "Call not found", "Call already exists", "Failed to retrieve call")
	}
	return c, nil
}

func (d Datasource) SetCallDispatched(ctx context.Context, callID, providerCallID string, at time.Time) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE skiddly.calls
		SET provider_call_id = NULLIF($2, ''), dispatched_at = $3, status = 'dispatched'
		WHERE call_id = $1 AND status = 'queued'
	`, callID, providerCallID, at)
	if err != nil {
		return dbError(err, "Call not found", "Provider call id is already linked to another call", "Failed to update call")
	}
	return nil
}

func (d Datasource) SetCallStatus(ctx context.Context, callID string, status model.CallStatus) error {
	_, err := d.Conn.ExecContext(ctx, `
		UPDATE skiddly.calls SET status = $2 WHERE call_id = $1 AND outcome IS NULL
	`, callID, string(status))
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update call status", err)
	}
	return nil
}

// RecordCallOutcome writes the result of a call once. Calls are immutable after that, so a
// second write reports false and changes nothing.
func (d Datasource) RecordCallOutcome(ctx context.Context, c *model.Call) (bool, error) {
	var analysis []byte
	if c.Analysis != nil {
		var err error
		analysis, err = json.Marshal(c.Analysis)
		if err != nil {
			return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal analysis", err)
		}
	}

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE skiddly.calls
		SET status = $2, started_at = $3, ended_at = $4, duration_seconds = $5, transcript = $6, recording_url = NULLIF($7, ''),
			ended_reason = $8, outcome = $9, final_action = NULLIF($10, ''), analysis = $11
		WHERE call_id = $1 AND outcome IS NULL
	`, c.CallID, string(c.Status), c.StartedAt, c.EndedAt, c.DurationSeconds, c.Transcript, c.RecordingURL,
		c.EndedReason, string(c.Outcome), string(c.FinalAction), analysis)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record call outcome", err)
	}
	return rowsChanged(result)
}

func (d Datasource) GetCallsByCase(ctx context.Context, caseID string) ([]*model.Call, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT `+callColumns+`
		FROM skiddly.calls
		WHERE case_id = $1
		ORDER BY attempt
	`, caseID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve calls", err)
	}
	defer rows.Close()

	calls := []*model.Call{}
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan call data", err)
		}
		calls = append(calls, c)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over calls", err)
	}
	return calls, nil
}
