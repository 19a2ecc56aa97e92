package reconciliation

import (
	"testing"

	"incentive-controlplane/services/campaign"

	"github.com/stretchr/testify/require"
)

func TestEvaluateCondition(t *testing.T) {
	tests := []struct {
		name     string
		op       campaign.Operator
		expected string
		observed string
		present  bool
		want     bool
	}{
		{"equals trims both sides", campaign.OperatorEquals, " LensX ", "LensX  ", true, true},
		{"equals mismatch", campaign.OperatorEquals, "LensX", "LensY", true, false},
		{"not equals", campaign.OperatorNotEquals, "LensX", "LensY", true, true},
		{"not equals trims", campaign.OperatorNotEquals, "LensX", " LensX", true, false},
		{"contains", campaign.OperatorContains, "LensX", "LensX Pro", true, true},
		{"contains is case sensitive", campaign.OperatorContains, "lensx", "LensX Pro", true, false},
		{"contains keeps whitespace", campaign.OperatorContains, "X P", "LensX Pro", true, true},
		{"not contains", campaign.OperatorNotContains, "Frame", "LensX Pro", true, true},
		{"greater than", campaign.OperatorGreaterThan, "2", "2.5", true, true},
		{"greater than equal is false", campaign.OperatorGreaterThan, "2", "2", true, false},
		{"less than", campaign.OperatorLessThan, "10", " 3 ", true, true},
		{"non numeric observed", campaign.OperatorGreaterThan, "1", "many", true, false},
		{"non numeric expected", campaign.OperatorLessThan, "lots", "1", true, false},
		{"infinity is not a number", campaign.OperatorGreaterThan, "5", "Inf", true, false},
		{"negative infinity is not a number", campaign.OperatorLessThan, "5", "-Inf", true, false},
		{"nan is not a number", campaign.OperatorLessThan, "5", "NaN", true, false},
		{"hex is not a number", campaign.OperatorGreaterThan, "5", "0x10", true, false},
		{"exponent form", campaign.OperatorGreaterThan, "5", "1e1", true, true},
		{"long integers compare exactly", campaign.OperatorGreaterThan, "12345678901234567", "12345678901234568", true, true},
		{"absent fails equals", campaign.OperatorEquals, "", "", false, false},
		{"absent fails not equals", campaign.OperatorNotEquals, "x", "", false, false},
		{"absent fails not contains", campaign.OperatorNotContains, "x", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EvaluateCondition(tt.op, tt.expected, tt.observed, tt.present)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateConditionUnknownOperator(t *testing.T) {
	_, err := EvaluateCondition("STARTS_WITH", "a", "abc", true)
	require.ErrorIs(t, err, ErrUnknownOperator)

	_, err = EvaluateCondition("STARTS_WITH", "a", "", false)
	require.ErrorIs(t, err, ErrUnknownOperator)
}

func TestEvaluateConditions(t *testing.T) {
	mapping := campaign.ColumnMapping{"produto": {"Produto"}}
	row := Row{"Produto": "LensX Pro", "qtd": float64(2)}

	ok, reason, err := EvaluateConditions(nil, row, mapping)
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, reason)

	ok, _, err = EvaluateConditions([]campaign.Condition{
		{Field: "produto", Operator: campaign.OperatorContains, Expected: "LensX"},
		{Field: "qtd", Operator: campaign.OperatorGreaterThan, Expected: "1"},
	}, row, mapping)
	require.NoError(t, err)
	require.True(t, ok)

	ok, reason, err = EvaluateConditions([]campaign.Condition{
		{Field: "produto", Operator: campaign.OperatorContains, Expected: "LensX"},
		{Field: "qtd", Operator: campaign.OperatorGreaterThan, Expected: "5"},
		{Field: "produto", Operator: campaign.OperatorEquals, Expected: "nope"},
	}, row, mapping)
	require.NoError(t, err)
	require.False(t, ok)
	require.Contains(t, reason, "qtd")
	require.Contains(t, reason, "GREATER_THAN")
	require.Contains(t, reason, `"5"`)
	require.Contains(t, reason, `"2"`)

	ok, reason, err = EvaluateConditions([]campaign.Condition{
		{Field: "cor", Operator: campaign.OperatorEquals, Expected: "azul"},
	}, row, mapping)
	require.NoError(t, err)
	require.False(t, ok)
	require.Contains(t, reason, "<missing>")

	_, _, err = EvaluateConditions([]campaign.Condition{
		{Field: "produto", Operator: "LIKE", Expected: "x"},
	}, row, mapping)
	require.ErrorIs(t, err, ErrUnknownOperator)
}
