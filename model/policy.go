package model

import (
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"

	businesshours "github.com/skiddly/skiddly/internal/business-hours"
)

// CallPolicy holds the qualification and retry thresholds for a tenant or agent.
// Zero fields are filled from the configured defaults by Merge. Fields where zero is a
// meaningful override are pointers, so nil means unset.
type CallPolicy struct {
	MinCartValue         *decimal.Decimal `json:"min_cart_value,omitempty" yaml:"min_cart_value,omitempty"`
	WaitMinutes          *int             `json:"wait_minutes,omitempty" yaml:"wait_minutes,omitempty"`
	RetryIntervalMinutes int              `json:"retry_interval_minutes" yaml:"retry_interval_minutes"`
	MaxRetries           int              `json:"max_retries" yaml:"max_retries"`
	InactivityMinutes    int              `json:"inactivity_minutes" yaml:"inactivity_minutes"`
	BusinessHoursStart   string           `json:"business_hours_start" yaml:"business_hours_start"`
	BusinessHoursEnd     string           `json:"business_hours_end" yaml:"business_hours_end"`
	Timezone             string           `json:"timezone" yaml:"timezone"`
	AllowWeekends        *bool            `json:"allow_weekends,omitempty" yaml:"allow_weekends,omitempty"`
}

// Merge returns p with every unset field taken from defaults.
func (p CallPolicy) Merge(defaults CallPolicy) CallPolicy {
	out := p
	if out.MinCartValue == nil {
		out.MinCartValue = defaults.MinCartValue
	}
	if out.WaitMinutes == nil {
		out.WaitMinutes = defaults.WaitMinutes
	}
	if out.RetryIntervalMinutes == 0 {
		out.RetryIntervalMinutes = defaults.RetryIntervalMinutes
	}
	if out.MaxRetries == 0 {
		out.MaxRetries = defaults.MaxRetries
	}
	if out.InactivityMinutes == 0 {
		out.InactivityMinutes = defaults.InactivityMinutes
	}
	if out.BusinessHoursStart == "" {
		out.BusinessHoursStart = defaults.BusinessHoursStart
	}
	if out.BusinessHoursEnd == "" {
		out.BusinessHoursEnd = defaults.BusinessHoursEnd
	}
	if out.Timezone == "" {
		out.Timezone = defaults.Timezone
	}
	if out.AllowWeekends == nil {
		out.AllowWeekends = defaults.AllowWeekends
	}
	return out
}

func clockRule(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	_, err := businesshours.ParseClock(s)
	return err
}

func timezoneRule(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	_, err := time.LoadLocation(s)
	return err
}

// Validate checks a fully merged policy.
func (p CallPolicy) Validate() error {
	err := validation.ValidateStruct(&p,
		validation.Field(&p.MinCartValue, validation.By(func(value interface{}) error {
			v, _ := value.(*decimal.Decimal)
			if v != nil && v.IsNegative() {
				return errors.New("must not be negative")
			}
			return nil
		})),
		validation.Field(&p.WaitMinutes, validation.Min(0)),
		validation.Field(&p.RetryIntervalMinutes, validation.Required, validation.Min(1)),
		validation.Field(&p.MaxRetries, validation.Required, validation.Min(1), validation.Max(20)),
		validation.Field(&p.InactivityMinutes, validation.Required, validation.Min(1)),
		validation.Field(&p.BusinessHoursStart, validation.Required, validation.By(clockRule)),
		validation.Field(&p.BusinessHoursEnd, validation.Required, validation.By(clockRule)),
		validation.Field(&p.Timezone, validation.Required, validation.By(timezoneRule)),
	)
	if err != nil {
		return err
	}
	_, err = p.Window()
	return err
}

// Window returns the business-hours window described by the policy.
func (p CallPolicy) Window() (businesshours.Window, error) {
	allowWeekends := p.AllowWeekends != nil && *p.AllowWeekends
	return businesshours.NewWindow(p.BusinessHoursStart, p.BusinessHoursEnd, p.Timezone, allowWeekends)
}

// MinimumCartValue is the qualification threshold; unset means no minimum.
func (p CallPolicy) MinimumCartValue() decimal.Decimal {
	if p.MinCartValue == nil {
		return decimal.Zero
	}
	return *p.MinCartValue
}

func (p CallPolicy) Wait() time.Duration {
	if p.WaitMinutes == nil {
		return 0
	}
	return time.Duration(*p.WaitMinutes) * time.Minute
}

func (p CallPolicy) RetryInterval() time.Duration {
	return time.Duration(p.RetryIntervalMinutes) * time.Minute
}

func (p CallPolicy) InactivityThreshold() time.Duration {
	return time.Duration(p.InactivityMinutes) * time.Minute
}
