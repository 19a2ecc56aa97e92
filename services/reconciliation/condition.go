package reconciliation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"incentive-controlplane/services/campaign"

	"github.com/shopspring/decimal"
)

var ErrUnknownOperator = errors.New("unknown condition operator")

// EvaluateCondition checks one observed cell against an expected value. An absent cell fails every
// operator; an unparsable number fails the numeric ones.
func EvaluateCondition(op campaign.Operator, expected, observed string, present bool) (bool, error) {
	switch op {
	case campaign.OperatorEquals, campaign.OperatorNotEquals,
		campaign.OperatorContains, campaign.OperatorNotContains,
		campaign.OperatorGreaterThan, campaign.OperatorLessThan:
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownOperator, op)
	}

	if !present {
		return false, nil
	}

	switch op {
	case campaign.OperatorEquals:
		return strings.TrimSpace(observed) == strings.TrimSpace(expected), nil
	case campaign.OperatorNotEquals:
		return strings.TrimSpace(observed) != strings.TrimSpace(expected), nil
	case campaign.OperatorContains:
		return strings.Contains(observed, expected), nil
	case campaign.OperatorNotContains:
		return !strings.Contains(observed, expected), nil
	}

	left, ok := parseNumber(observed)
	if !ok {
		return false, nil
	}
	right, ok := parseNumber(expected)
	if !ok {
		return false, nil
	}

	if op == campaign.OperatorGreaterThan {
		return left.GreaterThan(right), nil
	}
	return left.LessThan(right), nil
}

// parseNumber accepts plain decimal notation with an optional exponent. Inf, NaN and hex forms are not numbers.
func parseNumber(s string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// EvaluateConditions applies every condition to row (AND). It returns the description of the first
// failing condition, or an error when a condition is misconfigured.
func EvaluateConditions(conds []campaign.Condition, row Row, mapping campaign.ColumnMapping) (bool, string, error) {
	for _, c := range conds {
		observed, present := row.Field(mapping, c.Field)

		ok, err := EvaluateCondition(c.Operator, c.Expected, observed, present)
		if err != nil {
			return false, "", fmt.Errorf("condition on %s: %w", c.Field, err)
		}
		if !ok {
			actual := "<missing>"
			if present {
				actual = strconv.Quote(observed)
			}
			return false, fmt.Sprintf("condition failed: %s %s %q (actual %s)", c.Field, c.Operator, c.Expected, actual), nil
		}
	}
	return true, "", nil
}
