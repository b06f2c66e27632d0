package skiddly

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/skiddly/skiddly/database/mocks"
	"github.com/skiddly/skiddly/internal/apierror"
	"github.com/skiddly/skiddly/model"
)

func notFound(what string) error {
	return apierror.NewAPIError(apierror.ErrNotFound, what+" not found", nil)
}

func newCachedSkiddly(t *testing.T, ds *mocks.MockDataSource) (*Skiddly, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return newTestSkiddly(t, ds, time.Now(), func(o *Options) { o.Redis = client }), mr
}

func TestCreateAgent_DefaultsPrompt(t *testing.T) {
	ds := new(mocks.MockDataSource)
	s := newTestSkiddly(t, ds, time.Now())

	var stored *model.Agent
	ds.On("CreateAgent", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { stored = args.Get(1).(*model.Agent) }).
		Return(&model.Agent{AgentID: "agt_1"}, nil)

	_, err := s.CreateAgent(context.Background(), model.Agent{
		TenantID:      "shop_1",
		Name:          gofakeit.FirstName(),
		AssistantID:   gofakeit.UUID(),
		PhoneNumberID: gofakeit.UUID(),
		Active:        true,
	})
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Len(t, stored.Prompt.Sections, 5)
}

func TestCreateAgent_Validation(t *testing.T) {
	ds := new(mocks.MockDataSource)
	s := newTestSkiddly(t, ds, time.Now())

	valid := model.Agent{TenantID: "shop_1", Name: "Ava", AssistantID: "asst_1", PhoneNumberID: "pn_1"}

	tests := []struct {
		name   string
		mutate func(a *model.Agent)
	}{
		{name: "missing tenant", mutate: func(a *model.Agent) { a.TenantID = "" }},
		{name: "missing assistant", mutate: func(a *model.Agent) { a.AssistantID = "" }},
		{name: "name too long", mutate: func(a *model.Agent) { a.Name = gofakeit.LetterN(121) }},
		{name: "bad business hours", mutate: func(a *model.Agent) { a.Policy.BusinessHoursStart = "25:00" }},
		{name: "bad timezone", mutate: func(a *model.Agent) { a.Policy.Timezone = "Mars/Olympus" }},
		{name: "bad sms template", mutate: func(a *model.Agent) { a.SMSTemplate = "{% if %}" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agent := valid
			tt.mutate(&agent)
			_, err := s.CreateAgent(context.Background(), agent)
			assert.True(t, IsValidationError(err), "got %v", err)
		})
	}
	ds.AssertNotCalled(t, "CreateAgent", mock.Anything, mock.Anything)
}

func TestGetAgent_ReadsThroughCache(t *testing.T) {
	ds := new(mocks.MockDataSource)
	s, mr := newCachedSkiddly(t, ds)

	ds.On("GetAgentByID", mock.Anything, "agt_1").Return(testAgent(), nil).Once()

	first, err := s.GetAgent(context.Background(), "agt_1")
	require.NoError(t, err)
	second, err := s.GetAgent(context.Background(), "agt_1")
	require.NoError(t, err)

	assert.Equal(t, first.Name, second.Name)
	assert.True(t, mr.Exists(agentCacheKey("agt_1")))
	ds.AssertNumberOfCalls(t, "GetAgentByID", 1)
}

func TestUpdatePromptSection_EvictsCachedAgent(t *testing.T) {
	ds := new(mocks.MockDataSource)
	s, mr := newCachedSkiddly(t, ds)

	ds.On("GetAgentByID", mock.Anything, "agt_1").Return(testAgent(), nil)
	var updated *model.Agent
	ds.On("UpdateAgent", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { updated = args.Get(1).(*model.Agent) }).
		Return(nil)

	_, err := s.GetAgent(context.Background(), "agt_1")
	require.NoError(t, err)
	require.True(t, mr.Exists(agentCacheKey("agt_1")))

	agent, err := s.UpdatePromptSection(context.Background(), "agt_1", model.SectionGreeting, "  Hello from the store!  ")
	require.NoError(t, err)
	section, ok := agent.Prompt.Section(model.SectionGreeting)
	require.True(t, ok)
	assert.Equal(t, "Hello from the store!", section.Text())
	assert.Same(t, agent, updated)
	assert.False(t, mr.Exists(agentCacheKey("agt_1")))
}

func TestUpdatePromptSection_UnknownSection(t *testing.T) {
	ds := new(mocks.MockDataSource)
	s := newTestSkiddly(t, ds, time.Now())
	ds.On("GetAgentByID", mock.Anything, "agt_1").Return(testAgent(), nil)

	_, err := s.UpdatePromptSection(context.Background(), "agt_1", "weather", "sunny")
	assert.True(t, apierror.IsNotFound(err))
	ds.AssertNotCalled(t, "UpdateAgent", mock.Anything, mock.Anything)
}

func TestUpdateAgent_KeepsTenantAndPrompt(t *testing.T) {
	ds := new(mocks.MockDataSource)
	s := newTestSkiddly(t, ds, time.Now())

	existing := testAgent()
	existing.Prompt.Sections[0].Custom = "Custom greeting"
	ds.On("GetAgentByID", mock.Anything, "agt_1").Return(existing, nil)
	ds.On("UpdateAgent", mock.Anything, mock.Anything).Return(nil)

	agent, err := s.UpdateAgent(context.Background(), model.Agent{
		AgentID:       "agt_1",
		TenantID:      "shop_other",
		Name:          "Ava v2",
		AssistantID:   "asst_2",
		PhoneNumberID: "pn_1",
	})
	require.NoError(t, err)
	assert.Equal(t, "shop_1", agent.TenantID)
	assert.Equal(t, "Custom greeting", agent.Prompt.Sections[0].Text())
}

func TestAgentForCase_FallsBackToActiveAgent(t *testing.T) {
	ds := new(mocks.MockDataSource)
	s := newTestSkiddly(t, ds, time.Now())

	retired := testAgent()
	retired.Active = false
	replacement := testAgent()
	replacement.AgentID = "agt_2"

	ds.On("GetAgentByID", mock.Anything, "agt_1").Return(retired, nil)
	ds.On("GetActiveAgentForTenant", mock.Anything, "shop_1").Return(replacement, nil)

	agent, err := s.agentForCase(context.Background(), testCase(0, model.CaseStatePendingFirstCall, nil))
	require.NoError(t, err)
	assert.Equal(t, "agt_2", agent.AgentID)
}
