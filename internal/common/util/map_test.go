package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeParamsOverlayWins(t *testing.T) {
	base := map[string]interface{}{"a": 1, "b": "base"}
	overlay := map[string]interface{}{"b": "overlay", "c": true}

	merged := MergeParams(base, overlay)

	assert.Equal(t, map[string]interface{}{"a": 1, "b": "overlay", "c": true}, merged)
}

func TestMergeParamsMergesNestedMaps(t *testing.T) {
	base := map[string]interface{}{
		"model": map[string]interface{}{"adstock": "geometric", "window": 12},
	}
	overlay := map[string]interface{}{
		"model": map[string]interface{}{"adstock": "weibull_cdf"},
	}

	merged := MergeParams(base, overlay)

	model, ok := merged["model"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "weibull_cdf", model["adstock"])
	assert.Equal(t, 12, model["window"])
}

func TestMergeParamsDoesNotAliasInputs(t *testing.T) {
	base := map[string]interface{}{
		"model": map[string]interface{}{"adstock": "geometric"},
		"list":  []interface{}{1, 2},
	}

	merged := MergeParams(base, nil)
	merged["model"].(map[string]interface{})["adstock"] = "changed"
	merged["list"].([]interface{})[0] = 99

	assert.Equal(t, "geometric", base["model"].(map[string]interface{})["adstock"])
	assert.Equal(t, 1, base["list"].([]interface{})[0])
}

func TestNewULIDIsLowercaseAndMonotonic(t *testing.T) {
	first := NewULID()
	second := NewULID()

	assert.Len(t, first, 26)
	assert.Equal(t, strings.ToLower(first), first)
	assert.Less(t, first, second)
}
