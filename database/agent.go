package database

import (
	"context"
	"encoding/json"
	"time"

	"github.com/skiddly/skiddly/internal/apierror"
	"github.com/skiddly/skiddly/model"
)

const agentColumns = `agent_id, tenant_id, name, assistant_id, phone_number_id, active, prompt, policy,
	discount_code, sms_template, meta_data, created_at`

func scanAgent(row rowScanner) (*model.Agent, error) {
	a := model.Agent{}
	var prompt, policy, metaData []byte

	err := row.Scan(&a.AgentID, &a.TenantID, &a.Name, &a.AssistantID, &a.PhoneNumberID, &a.Active, &prompt, &policy,
		&a.DiscountCode, &a.SMSTemplate, &metaData, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(prompt) > 0 {
		if err := json.Unmarshal(prompt, &a.Prompt); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal prompt", err)
		}
	}
	if len(policy) > 0 {
		if err := json.Unmarshal(policy, &a.Policy); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal policy", err)
		}
	}
	if len(metaData) > 0 {
		if err := json.Unmarshal(metaData, &a.MetaData); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal metadata", err)
		}
	}
	return &a, nil
}

func marshalAgent(a *model.Agent) (prompt, policy, metaData []byte, err error) {
	if prompt, err = json.Marshal(a.Prompt); err != nil {
		return nil, nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal prompt", err)
	}
	if policy, err = json.Marshal(a.Policy); err != nil {
		return nil, nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal policy", err)
	}
	if metaData, err = json.Marshal(a.MetaData); err != nil {
		return nil, nil, nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}
	return prompt, policy, metaData, nil
}

func (d Datasource) CreateAgent(ctx context.Context, a *model.Agent) (*model.Agent, error) {
	prompt, policy, metaData, err := marshalAgent(a)
	if err != nil {
		return nil, err
	}

	if a.AgentID == "" {
		a.AgentID = model.GenerateUUIDWithSuffix("agt")
	}
	a.CreatedAt = time.Now()

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO skiddly.agents (agent_id, tenant_id, name, assistant_id, phone_number_id, active, prompt, policy,
			discount_code, sms_template, meta_data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, a.AgentID, a.TenantID, a.Name, a.AssistantID, a.PhoneNumberID, a.Active, prompt, policy,
		a.DiscountCode, a.SMSTemplate, metaData, a.CreatedAt)
	if err != nil {
		return nil, dbError(err, "Agent not found", "Agent with this ID already exists", "Failed to create agent")
	}
	return a, nil
}

func (d Datasource) GetAgentByID(ctx context.Context, id string) (*model.Agent, error) {
	row := d.Conn.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM skiddly.agents WHERE agent_id = $1`, id)
	a, err := scanAgent(row)
	if err != nil {
		return nil, dbError(err, "Agent not found", "Agent already exists", "Failed to retrieve agent")
	}
	return a, nil
}

func (d Datasource) GetActiveAgentForTenant(ctx context.Context, tenantID string) (*model.Agent, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+agentColumns+`
		FROM skiddly.agents
		WHERE tenant_id = $1 AND active
		ORDER BY created_at
		LIMIT 1
	`, tenantID)
	a, err := scanAgent(row)
	if err != nil {
		return nil, dbError(err, "No active agent for tenant", "Agent already exists", "Failed to retrieve agent")
	}
	return a, nil
}

func (d Datasource) UpdateAgent(ctx context.Context, a *model.Agent) error {
	prompt, policy, metaData, err := marshalAgent(a)
	if err != nil {
		return err
	}

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE skiddly.agents
		SET name = $2, assistant_id = $3, phone_number_id = $4, active = $5, prompt = $6, policy = $7,
			discount_code = $8, sms_template = $9, meta_data = $10
		WHERE agent_id = $1
	`, a.AgentID, a.Name, a.AssistantID, a.PhoneNumberID, a.Active, prompt, policy, a.DiscountCode, a.SMSTemplate, metaData)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update agent", err)
	}
	changed, err := rowsChanged(result)
	if err != nil {
		return err
	}
	if !changed {
		return apierror.NewAPIError(apierror.ErrNotFound, "Agent not found", a.AgentID)
	}
	return nil
}

// GetMinInactivityMinutes returns the shortest inactivity override set on an active agent.
// Agents without an override are ignored; 0 means no agent overrides the default.
func (d Datasource) GetMinInactivityMinutes(ctx context.Context) (int, error) {
	var minutes int
	err := d.Conn.QueryRowContext(ctx, `
		SELECT COALESCE(MIN((policy->>'inactivity_minutes')::int), 0)
		FROM skiddly.agents
		WHERE active AND (policy->>'inactivity_minutes')::int > 0
	`).Scan(&minutes)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read agent inactivity", err)
	}
	return minutes, nil
}
