package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateEmptyRulePasses(t *testing.T) {
	engine, err := NewCELRuleEngineAdapter()
	require.NoError(t, err)

	ok, err := engine.Evaluate("", nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluateOrderAmountRule(t *testing.T) {
	engine, err := NewCELRuleEngineAdapter()
	require.NoError(t, err)

	rule := "order_amount >= 50000"

	ok, err := engine.Evaluate(rule, map[string]interface{}{"order_amount": int64(60000)})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = engine.Evaluate(rule, map[string]interface{}{"order_amount": int64(49999)})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluateCompoundRule(t *testing.T) {
	engine, err := NewCELRuleEngineAdapter()
	require.NoError(t, err)

	rule := "order_amount >= 10000 && item_count >= 2"

	ok, err := engine.Evaluate(rule, map[string]interface{}{
		"order_amount": int64(20000),
		"item_count":   int64(3),
	})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = engine.Evaluate(rule, map[string]interface{}{
		"order_amount": int64(20000),
		"item_count":   int64(1),
	})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluateInvalidRule(t *testing.T) {
	engine, err := NewCELRuleEngineAdapter()
	require.NoError(t, err)

	_, err = engine.Evaluate("order_amount >=", map[string]interface{}{"order_amount": int64(1)})
	assert.Error(t, err)
}

func TestEvaluateNonBooleanRule(t *testing.T) {
	engine, err := NewCELRuleEngineAdapter()
	require.NoError(t, err)

	_, err = engine.Evaluate("order_amount + 1", map[string]interface{}{"order_amount": int64(1)})
	assert.Error(t, err)
}
