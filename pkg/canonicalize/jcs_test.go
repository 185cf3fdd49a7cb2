package canonicalize

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJCS_KeyOrderingIsStable(t *testing.T) {
	a := map[string]interface{}{"b": 1, "a": 2, "c": map[string]interface{}{"z": 1, "y": 2}}
	b := map[string]interface{}{"c": map[string]interface{}{"y": 2, "z": 1}, "a": 2, "b": 1}

	ha, err := CanonicalHash(a)
	require.NoError(t, err)
	hb, err := CanonicalHash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestJCS_NoHTMLEscaping(t *testing.T) {
	out, err := JCSString(map[string]string{"a": "<b>&'"})
	require.NoError(t, err)
	assert.Contains(t, out, "<b>&'")
}

func TestJCS_IntegersStayIntegers(t *testing.T) {
	type step struct {
		BudgetCents *int64 `json:"budget_cents,omitempty"`
	}
	var n int64 = 0
	out, err := JCSString(step{BudgetCents: &n})
	require.NoError(t, err)
	assert.Equal(t, `{"budget_cents":0}`, out)
}

func TestJCS_NullVsOmitted(t *testing.T) {
	type withOptional struct {
		A *string `json:"a,omitempty"`
	}
	out, err := JCSString(withOptional{})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, out)

	var raw json.RawMessage
	_ = raw
}

func TestCanonicalHash_Deterministic(t *testing.T) {
	v := map[string]interface{}{"x": 1, "y": []interface{}{1, 2, 3}}
	h1, err := CanonicalHash(v)
	require.NoError(t, err)
	h2, err := CanonicalHash(v)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}
