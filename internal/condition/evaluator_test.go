package condition

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEvaluateNilConditionIsTrue(t *testing.T) {
	e := NewEvaluator()
	ok, err := e.Evaluate(nil, &Context{})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEvaluateComparison(t *testing.T) {
	cond, err := Compile("state.score >= 90.0")
	require.NoError(t, err)

	e := NewEvaluator()

	ok, err := e.Evaluate(cond, &Context{State: map[string]interface{}{"score": 85.0}})
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = e.Evaluate(cond, &Context{State: map[string]interface{}{"score": 95.0}})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestEvaluateCachesByASTIdentity(t *testing.T) {
	condA, err := Compile("state.score >= 90.0")
	require.NoError(t, err)
	condB, err := Compile("state.score >= 90.0")
	require.NoError(t, err)

	e := NewEvaluator()
	_, err = e.Evaluate(condA, &Context{State: map[string]interface{}{"score": 91.0}})
	require.NoError(t, err)

	require.Len(t, e.cache, 1)

	_, err = e.Evaluate(condB, &Context{State: map[string]interface{}{"score": 91.0}})
	require.NoError(t, err)

	require.Len(t, e.cache, 2)
}

func TestEvaluateNonBooleanIsError(t *testing.T) {
	cond, err := Compile("state.score")
	require.NoError(t, err)

	e := NewEvaluator()
	_, err = e.Evaluate(cond, &Context{State: map[string]interface{}{"score": 1.0}})
	require.Error(t, err)
}
