package benchmark

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func overlays(names ...string) []Overlay {
	result := make([]Overlay, len(names))
	for i, name := range names {
		result[i] = Overlay{Name: name, Params: map[string]interface{}{"value": name}}
	}
	return result
}

func validSpec() *BenchmarkSpec {
	return &BenchmarkSpec{
		Name:       "test",
		BaseConfig: map[string]interface{}{"country": "US", "model": map[string]interface{}{"adstock": "geometric", "window": 12.0}},
		Iterations: 2000,
		Trials:     5,
		Variants: map[string][]Overlay{
			"adstock":     overlays("geometric", "weibull_cdf", "weibull_pdf"),
			"aggregation": overlays("weekly", "daily"),
		},
		DimensionOrder:  []string{"adstock", "aggregation"},
		MaxCombinations: 20,
	}
}

func TestGenerateCounts(t *testing.T) {
	tests := map[string]struct {
		dimensionSizes []int
		combine        bool
		cap            int
		wantReturned   int
		wantGenerated  int
	}{
		"independent sums dimensions":    {[]int{3, 2}, false, 20, 5, 5},
		"cross multiplies dimensions":    {[]int{3, 2}, true, 20, 6, 6},
		"independent truncates at cap":   {[]int{4, 4}, false, 3, 3, 8},
		"cross truncates at cap":         {[]int{4, 4}, true, 5, 5, 16},
		"single dimension both the same": {[]int{3}, true, 20, 3, 3},
		"cap equal to expansion":         {[]int{2, 2}, true, 4, 4, 4},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			spec := validSpec()
			spec.Variants = map[string][]Overlay{}
			spec.DimensionOrder = nil
			for i, size := range tc.dimensionSizes {
				dimension := fmt.Sprintf("dim%d", i)
				list := make([]Overlay, size)
				for j := range list {
					list[j] = Overlay{Name: fmt.Sprintf("o%d", j), Params: map[string]interface{}{dimension: j}}
				}
				spec.Variants[dimension] = list
				spec.DimensionOrder = append(spec.DimensionOrder, dimension)
			}
			spec.Combine = tc.combine
			spec.MaxCombinations = tc.cap

			variants, report, err := Generate(spec)
			require.NoError(t, err)
			assert.Len(t, variants, tc.wantReturned)
			assert.Equal(t, tc.wantGenerated, report.GeneratedTotal)
			assert.Equal(t, tc.wantReturned, report.ReturnedTotal)
			assert.Equal(t, tc.wantReturned < tc.wantGenerated, report.Truncated())
		})
	}
}

func TestGenerateAdstockScenario(t *testing.T) {
	spec := &BenchmarkSpec{
		Name:       "adstock-study",
		BaseConfig: map[string]interface{}{"country": "US"},
		Iterations: 2000,
		Trials:     5,
		Variants: map[string][]Overlay{
			"adstock": {
				{Name: "geometric", Params: map[string]interface{}{"adstock": "geometric"}},
				{Name: "weibull_cdf", Params: map[string]interface{}{"adstock": "weibull_cdf"}},
				{Name: "weibull_pdf", Params: map[string]interface{}{"adstock": "weibull_pdf"}},
			},
		},
		DimensionOrder:  []string{"adstock"},
		MaxCombinations: 20,
	}

	variants, report, err := Generate(spec)
	require.NoError(t, err)
	require.Len(t, variants, 3)
	assert.Equal(t, "adstock:geometric", variants[0].Name)
	assert.Equal(t, "adstock:weibull_cdf", variants[1].Name)
	assert.Equal(t, "adstock:weibull_pdf", variants[2].Name)
	for _, variant := range variants {
		assert.Equal(t, "adstock", variant.TestType)
	}
	assert.Equal(t, 3, report.GeneratedTotal)
	assert.False(t, report.Truncated())
}

func TestGenerateIsDeterministic(t *testing.T) {
	spec := validSpec()
	first, _, err := Generate(spec)
	require.NoError(t, err)
	second, _, err := Generate(spec)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestGenerateIndependentTouchesOnlyOwnDimension(t *testing.T) {
	spec := validSpec()
	variants, _, err := Generate(spec)
	require.NoError(t, err)

	// 3 adstock overlays followed by 2 aggregation overlays, not 6 products.
	require.Len(t, variants, 5)
	assert.Equal(t, "adstock:geometric", variants[0].Name)
	assert.Equal(t, "aggregation:weekly", variants[3].Name)

	// Each variant overlays its own dimension onto the base, leaving the
	// rest of the base untouched.
	assert.Equal(t, "US", variants[0].Params["country"])
	assert.Equal(t, "geometric", variants[0].Params["value"])
	_, hasAggregation := variants[0].Params["aggregation"]
	assert.False(t, hasAggregation)
}

func TestGenerateCrossProductOrdering(t *testing.T) {
	spec := validSpec()
	spec.Combine = true
	variants, _, err := Generate(spec)
	require.NoError(t, err)

	require.Len(t, variants, 6)
	wantNames := []string{
		"geometric+weekly", "geometric+daily",
		"weibull_cdf+weekly", "weibull_cdf+daily",
		"weibull_pdf+weekly", "weibull_pdf+daily",
	}
	for i, want := range wantNames {
		assert.Equal(t, want, variants[i].Name)
		assert.Equal(t, "combined", variants[i].TestType)
	}
}

func TestGenerateDeepMergesNestedParams(t *testing.T) {
	spec := validSpec()
	spec.Variants = map[string][]Overlay{
		"model": {
			{Name: "weibull", Params: map[string]interface{}{"model": map[string]interface{}{"adstock": "weibull_cdf"}}},
		},
	}
	spec.DimensionOrder = []string{"model"}

	variants, _, err := Generate(spec)
	require.NoError(t, err)
	require.Len(t, variants, 1)

	model, ok := variants[0].Params["model"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "weibull_cdf", model["adstock"])
	// Sibling keys of the nested map survive the merge.
	assert.Equal(t, 12.0, model["window"])

	// The spec's base configuration is not mutated by generation.
	baseModel := spec.BaseConfig["model"].(map[string]interface{})
	assert.Equal(t, "geometric", baseModel["adstock"])
}

func TestGenerateValidationFailures(t *testing.T) {
	tests := map[string]func(spec *BenchmarkSpec){
		"missing name":              func(spec *BenchmarkSpec) { spec.Name = "" },
		"missing base config":       func(spec *BenchmarkSpec) { spec.BaseConfig = nil },
		"empty variants":            func(spec *BenchmarkSpec) { spec.Variants = nil; spec.DimensionOrder = nil },
		"zero iterations":           func(spec *BenchmarkSpec) { spec.Iterations = 0 },
		"negative trials":           func(spec *BenchmarkSpec) { spec.Trials = -1 },
		"negative max combinations": func(spec *BenchmarkSpec) { spec.MaxCombinations = -1 },
		"duplicate overlay names": func(spec *BenchmarkSpec) {
			spec.Variants["adstock"] = overlays("geometric", "geometric")
		},
		"empty dimension": func(spec *BenchmarkSpec) {
			spec.Variants["adstock"] = nil
		},
	}

	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			spec := validSpec()
			mutate(spec)
			_, _, err := Generate(spec)
			assertInvalidConfig(t, err)
		})
	}
}
