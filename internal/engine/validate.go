package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/miradorstack/mirador-pq/internal/models"
	"github.com/miradorstack/mirador-pq/internal/utils"
)

// WarningCatchAll is returned when a saved rule has no conditions.
const WarningCatchAll = "rule has no conditions and matches every event"

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateRule performs save-time validation. It returns warnings for rules that are
// valid but likely unintended, and a validation error for malformed rules.
func ValidateRule(rule models.Rule) ([]string, error) {
	if err := validate.Struct(rule); err != nil {
		return nil, utils.NewValidationError("validate rule", describeValidation(err))
	}

	c := rule.Conditions
	if strings.TrimSpace(rule.Name) == "" {
		return nil, utils.NewValidationError("validate rule", "name is required")
	}
	if c.MinDuration != nil && c.MaxDuration != nil && *c.MinDuration > *c.MaxDuration {
		return nil, utils.NewValidationError("validate rule", fmt.Sprintf("minDuration %.2f exceeds maxDuration %.2f", *c.MinDuration, *c.MaxDuration))
	}
	if c.MinMagnitude != nil && c.MaxMagnitude != nil && *c.MinMagnitude > *c.MaxMagnitude {
		return nil, utils.NewValidationError("validate rule", fmt.Sprintf("minMagnitude %.2f exceeds maxMagnitude %.2f", *c.MinMagnitude, *c.MaxMagnitude))
	}
	for _, eventType := range c.AllowedEventTypes {
		if contains(c.ExcludedEventTypes, eventType) {
			return nil, utils.NewValidationError("validate rule", fmt.Sprintf("event type %q is both allowed and excluded", eventType))
		}
	}

	var warnings []string
	if c.IsEmpty() {
		warnings = append(warnings, WarningCatchAll)
	}
	return warnings, nil
}

func describeValidation(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := strings.TrimPrefix(fe.Namespace(), "Rule.")
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s failed %s", field, fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
