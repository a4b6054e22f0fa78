package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyAppend(t *testing.T) {
	out, err := Apply(Append, []BranchResult{
		{TokenID: "b", BranchIndex: 1, Output: "second"},
		{TokenID: "a", BranchIndex: 0, Output: "first"},
	})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"first", "second"}, out)
}

func TestApplyCollectIsAppendAlias(t *testing.T) {
	single, err := Apply(Collect, []BranchResult{{TokenID: "b", BranchIndex: 0, Output: "b-out"}})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"b-out"}, single)
}

func TestApplyLastWins(t *testing.T) {
	out, err := Apply(LastWins, []BranchResult{
		{TokenID: "a", BranchIndex: 0, Output: "first"},
		{TokenID: "b", BranchIndex: 1, Output: "second"},
	})
	require.NoError(t, err)
	assert.Equal(t, "second", out)

	empty, err := Apply(LastWins, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{}, empty)
}

func TestApplyKeyedByBranch(t *testing.T) {
	out, err := Apply(KeyedByBranch, []BranchResult{
		{TokenID: "a", BranchIndex: 0, Output: "x"},
		{TokenID: "b", BranchIndex: 2, Output: "y"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"0": "x", "2": "y"}, out)
}

func TestApplyMergeObjectRightBiased(t *testing.T) {
	out, err := Apply(MergeObject, []BranchResult{
		{TokenID: "a", BranchIndex: 0, Output: map[string]interface{}{"k": "first"}},
		{TokenID: "b", BranchIndex: 1, Output: map[string]interface{}{"k": "second"}},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"k": "second"}, out)
}

func TestApplyUnknownStrategyIsMergeError(t *testing.T) {
	_, err := Apply("nonsense", nil)
	require.Error(t, err)
}

func TestApplySkipsMissingBranches(t *testing.T) {
	out, err := Apply(Append, []BranchResult{
		{TokenID: "a", BranchIndex: 0, Output: "a-out"},
		{TokenID: "c", BranchIndex: 2, Output: "c-out"},
	})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a-out", "c-out"}, out)
}
