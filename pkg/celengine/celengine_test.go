package celengine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEvaluateRow(t *testing.T) {
	row := map[string]string{"Produto": "LensX Pro", "Qtd": "3"}

	ok, err := EvaluateRow(`row["Produto"].startsWith("LensX") && double(row["Qtd"]) >= 2.0`, row)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = EvaluateRow(`row["Produto"] == "Other"`, row)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEvaluateRowMissingKey(t *testing.T) {
	_, err := EvaluateRow(`row["Missing"] == "x"`, map[string]string{})
	require.Error(t, err)
}

func TestValidateExpressionRejectsNonBool(t *testing.T) {
	env, err := RowEnv()
	require.NoError(t, err)

	require.NoError(t, ValidateExpression(env, `row["a"] == "b"`))
	require.Error(t, ValidateExpression(env, `row["a"]`))
	require.Error(t, ValidateExpression(env, `row[`))
}
