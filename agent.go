package skiddly

import (
	"context"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/sirupsen/logrus"

	"github.com/skiddly/skiddly/internal/apierror"
	"github.com/skiddly/skiddly/model"
)

const agentCacheTTL = 5 * time.Minute

func agentCacheKey(id string) string {
	return "agent:" + id
}

func (s *Skiddly) validateAgent(agent *model.Agent) error {
	err := validation.ValidateStruct(agent,
		validation.Field(&agent.TenantID, validation.Required),
		validation.Field(&agent.Name, validation.Required, validation.Length(1, 120)),
		validation.Field(&agent.AssistantID, validation.Required),
		validation.Field(&agent.PhoneNumberID, validation.Required),
	)
	if err != nil {
		return &ValidationError{Reason: err.Error()}
	}
	if err := agent.Policy.Merge(s.defaults).Validate(); err != nil {
		return invalid("policy", err.Error())
	}
	if agent.SMSTemplate != "" {
		if _, err := s.liquid.ParseString(agent.SMSTemplate); err != nil {
			return invalid("sms_template", err.Error())
		}
	}
	return nil
}

// CreateAgent stores a calling agent. Agents without prompt sections get the default prompt.
func (s *Skiddly) CreateAgent(ctx context.Context, agent model.Agent) (*model.Agent, error) {
	if len(agent.Prompt.Sections) == 0 {
		agent.Prompt = model.DefaultPromptTemplate()
	}
	if err := s.validateAgent(&agent); err != nil {
		return nil, err
	}
	return s.datasource.CreateAgent(ctx, &agent)
}

// GetAgent reads an agent through the cache.
func (s *Skiddly) GetAgent(ctx context.Context, id string) (*model.Agent, error) {
	if s.cache != nil {
		cached := &model.Agent{}
		found, err := s.cache.Get(ctx, agentCacheKey(id), cached)
		if err == nil && found {
			return cached, nil
		}
	}

	agent, err := s.datasource.GetAgentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, agentCacheKey(id), agent, agentCacheTTL); err != nil {
			logrus.WithError(err).WithField("agent_id", id).Warn("failed to cache agent")
		}
	}
	return agent, nil
}

// UpdateAgent replaces the editable fields of an agent.
func (s *Skiddly) UpdateAgent(ctx context.Context, agent model.Agent) (*model.Agent, error) {
	existing, err := s.datasource.GetAgentByID(ctx, agent.AgentID)
	if err != nil {
		return nil, err
	}
	agent.TenantID = existing.TenantID
	agent.CreatedAt = existing.CreatedAt
	if len(agent.Prompt.Sections) == 0 {
		agent.Prompt = existing.Prompt
	}
	if err := s.validateAgent(&agent); err != nil {
		return nil, err
	}
	if err := s.datasource.UpdateAgent(ctx, &agent); err != nil {
		return nil, err
	}
	s.forgetAgent(ctx, agent.AgentID)
	return &agent, nil
}

// UpdatePromptSection sets the tenant's text for one prompt section. Empty text restores
// the section default.
func (s *Skiddly) UpdatePromptSection(ctx context.Context, agentID, section, text string) (*model.Agent, error) {
	agent, err := s.datasource.GetAgentByID(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if err := agent.Prompt.SetCustom(section, strings.TrimSpace(text)); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Prompt section %s not found", section), err)
	}
	if err := s.datasource.UpdateAgent(ctx, agent); err != nil {
		return nil, err
	}
	s.forgetAgent(ctx, agentID)
	return agent, nil
}

func (s *Skiddly) forgetAgent(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, agentCacheKey(id)); err != nil {
		logrus.WithError(err).WithField("agent_id", id).Warn("failed to evict agent from cache")
	}
}

// activeAgent returns the tenant's calling agent, nil when the tenant has none. Scheduling
// reads the datasource directly so policy edits apply to the next decision.
func (s *Skiddly) activeAgent(ctx context.Context, tenantID string) (*model.Agent, error) {
	agent, err := s.datasource.GetActiveAgentForTenant(ctx, tenantID)
	if apierror.IsNotFound(err) {
		return nil, nil
	}
	return agent, err
}

// agentForCase prefers the agent the case was opened with and falls back to the tenant's
// active agent when that one was deactivated.
func (s *Skiddly) agentForCase(ctx context.Context, c *model.AbandonedCartCase) (*model.Agent, error) {
	if c.AgentID != "" {
		agent, err := s.datasource.GetAgentByID(ctx, c.AgentID)
		if err != nil && !apierror.IsNotFound(err) {
			return nil, err
		}
		if agent != nil && agent.Active {
			return agent, nil
		}
	}
	return s.activeAgent(ctx, c.TenantID)
}
