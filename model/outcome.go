/*
Copyright 2024 Skiddly Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package model

import "fmt"

// Outcome is the classified result of one call.
type Outcome string

const (
	OutcomeCompletedPurchase Outcome = "completed_purchase"
	OutcomeCustomerBusy      Outcome = "customer_busy"
	OutcomeNotInterested     Outcome = "not_interested"
	OutcomeWantsDiscount     Outcome = "wants_discount"
	OutcomeWantsFreeShipping Outcome = "wants_free_shipping"
	OutcomeRescheduleRequest Outcome = "reschedule_request"
	OutcomeAbusiveLanguage   Outcome = "abusive_language"
	OutcomeDoNotCallRequest  Outcome = "do_not_call_request"
	OutcomeWillThinkAboutIt  Outcome = "will_think_about_it"
	OutcomeTechnicalIssues   Outcome = "technical_issues"
	OutcomeWrongPerson       Outcome = "wrong_person"
)

// Outcomes lists every member of the closed outcome enum.
var Outcomes = []Outcome{
	OutcomeCompletedPurchase,
	OutcomeCustomerBusy,
	OutcomeNotInterested,
	OutcomeWantsDiscount,
	OutcomeWantsFreeShipping,
	OutcomeRescheduleRequest,
	OutcomeAbusiveLanguage,
	OutcomeDoNotCallRequest,
	OutcomeWillThinkAboutIt,
	OutcomeTechnicalIssues,
	OutcomeWrongPerson,
}

// IsValid reports whether o is a member of the outcome enum.
func (o Outcome) IsValid() bool {
	for _, known := range Outcomes {
		if o == known {
			return true
		}
	}
	return false
}

// FinalAction is what the workflow does after a call.
type FinalAction string

const (
	ActionOrderCompleted   FinalAction = "order_completed"
	ActionMarkedDNC        FinalAction = "marked_dnc"
	ActionRescheduleCall   FinalAction = "reschedule_call"
	ActionSMSDiscountCode  FinalAction = "sms_sent_with_discount_code"
	ActionScheduledRetry   FinalAction = "scheduled_retry"
	ActionNoActionRequired FinalAction = "no_action_required"
)

// IsTerminal reports whether the action ends the case's call sequence.
func (a FinalAction) IsTerminal() bool {
	switch a {
	case ActionOrderCompleted, ActionMarkedDNC, ActionNoActionRequired:
		return true
	}
	return false
}

// UnreachableOutcomeError means an outcome outside the enum reached the action mapper.
// It signals drift between the enum and the mapping and is never a per-call failure.
type UnreachableOutcomeError struct {
	Outcome Outcome
}

func (e *UnreachableOutcomeError) Error() string {
	return fmt.Sprintf("unreachable outcome %q: no final action is mapped", string(e.Outcome))
}

// MapToFinalAction maps a classified outcome to its final action.
func MapToFinalAction(o Outcome) (FinalAction, error) {
	switch o {
	case OutcomeCompletedPurchase:
		return ActionOrderCompleted, nil
	case OutcomeDoNotCallRequest, OutcomeAbusiveLanguage:
		return ActionMarkedDNC, nil
	case OutcomeRescheduleRequest:
		return ActionRescheduleCall, nil
	case OutcomeWantsDiscount, OutcomeWantsFreeShipping:
		return ActionSMSDiscountCode, nil
	case OutcomeCustomerBusy:
		return ActionScheduledRetry, nil
	case OutcomeNotInterested, OutcomeWillThinkAboutIt, OutcomeTechnicalIssues, OutcomeWrongPerson:
		return ActionNoActionRequired, nil
	}
	return "", &UnreachableOutcomeError{Outcome: o}
}
