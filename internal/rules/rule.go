package rules

import (
	"fmt"

	"caseflow/internal/domain"
)

// Rule is an automation rule with its trigger and conditions compiled.
type Rule struct {
	domain.AutomationRule
	Trigger Trigger
	When    Predicates
}

// CompileRule compiles a date-triggered rule.
func CompileRule(r domain.AutomationRule, catchUpDays int) (Rule, error) {
	trig, err := CompileTrigger(r.TriggerField, r.TriggerOffset, r.TriggerDirection, catchUpDays)
	if err != nil {
		return Rule{}, fmt.Errorf("rule %s: %w", r.Name, err)
	}
	when, err := Compile(r.Conditions)
	if err != nil {
		return Rule{}, fmt.Errorf("rule %s: %w", r.Name, err)
	}
	return Rule{AutomationRule: r, Trigger: trig, When: when}, nil
}

// CompileEventRule compiles a rule fired by a named event rather than a date.
func CompileEventRule(r domain.AutomationRule) (Rule, error) {
	when, err := Compile(r.Conditions)
	if err != nil {
		return Rule{}, fmt.Errorf("rule %s: %w", r.Name, err)
	}
	return Rule{AutomationRule: r, When: when}, nil
}
