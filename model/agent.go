package model

import (
	"fmt"
	"strings"
	"time"
)

// Prompt section names, in render order.
const (
	SectionGreeting          = "greeting"
	SectionCartReminder      = "cart_reminder"
	SectionObjectionHandling = "objection_handling"
	SectionDiscountOffer     = "discount_offer"
	SectionClosing           = "closing"
)

// PromptSection is one named block of an agent prompt. Custom text, when set, replaces Default.
type PromptSection struct {
	Name    string `json:"name" yaml:"name"`
	Default string `json:"default" yaml:"default"`
	Custom  string `json:"custom,omitempty" yaml:"custom,omitempty"`
}

// Text returns the effective text of the section.
func (s PromptSection) Text() string {
	if strings.TrimSpace(s.Custom) != "" {
		return s.Custom
	}
	return s.Default
}

// PromptTemplate is an ordered list of named prompt sections.
type PromptTemplate struct {
	Sections []PromptSection `json:"sections" yaml:"sections"`
}

// DefaultPromptTemplate returns the built-in abandoned-cart recovery prompt.
func DefaultPromptTemplate() PromptTemplate {
	return PromptTemplate{Sections: []PromptSection{
		{Name: SectionGreeting, Default: "You are a friendly assistant calling on behalf of the store. Greet the customer by first name and confirm you are speaking with the right person."},
		{Name: SectionCartReminder, Default: "Remind the customer that they left items in their cart and ask whether they had any trouble completing checkout."},
		{Name: SectionObjectionHandling, Default: "If the customer hesitates, listen to the concern and answer it briefly. Never pressure the customer. If they ask not to be called again, apologise and end the call."},
		{Name: SectionDiscountOffer, Default: "If the customer mentions price or shipping cost, tell them a discount code will be sent by text message."},
		{Name: SectionClosing, Default: "Thank the customer for their time. If they want a call back, ask for a day and time that works for them."},
	}}
}

// Render concatenates the effective section texts in order.
func (p PromptTemplate) Render() string {
	parts := make([]string, 0, len(p.Sections))
	for _, s := range p.Sections {
		if text := strings.TrimSpace(s.Text()); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// SetCustom replaces the custom text of the named section. An empty text reverts it to the default.
func (p *PromptTemplate) SetCustom(name, text string) error {
	for i := range p.Sections {
		if p.Sections[i].Name == name {
			p.Sections[i].Custom = text
			return nil
		}
	}
	return fmt.Errorf("unknown prompt section %q", name)
}

// Section returns the named section.
func (p PromptTemplate) Section(name string) (PromptSection, bool) {
	for _, s := range p.Sections {
		if s.Name == name {
			return s, true
		}
	}
	return PromptSection{}, false
}

// DefaultSMSTemplate is the liquid template used for discount texts when an agent has none.
const DefaultSMSTemplate = `Hi {{ customer.first_name | default: "there" }}, thanks for chatting with us! Use code {{ discount_code }} to save on the items in your cart.`

// Agent is a calling persona configured for a tenant.
type Agent struct {
	AgentID       string                 `json:"agent_id" yaml:"agent_id"`
	TenantID      string                 `json:"tenant_id" yaml:"tenant_id"`
	Name          string                 `json:"name" yaml:"name"`
	AssistantID   string                 `json:"assistant_id" yaml:"assistant_id"`
	PhoneNumberID string                 `json:"phone_number_id" yaml:"phone_number_id"`
	Active        bool                   `json:"active" yaml:"active"`
	Prompt        PromptTemplate         `json:"prompt" yaml:"prompt"`
	Policy        CallPolicy             `json:"policy" yaml:"policy"`
	DiscountCode  string                 `json:"discount_code,omitempty" yaml:"discount_code,omitempty"`
	SMSTemplate   string                 `json:"sms_template,omitempty" yaml:"sms_template,omitempty"`
	MetaData      map[string]interface{} `json:"meta_data,omitempty" yaml:"meta_data,omitempty"`
	CreatedAt     time.Time              `json:"created_at" yaml:"-"`
}
