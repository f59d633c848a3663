package benchmark

import (
	"strings"

	"github.com/mixbenchproject/mixbench/internal/common/util"
)

// GenerationReport accounts for truncation: GeneratedTotal is the size of the
// raw expansion, ReturnedTotal how many variants were actually returned after
// applying the spec's cap. Truncation is always reported, never silent.
type GenerationReport struct {
	GeneratedTotal int
	ReturnedTotal  int
}

// Truncated reports whether the expansion was cut off at the cap.
func (r *GenerationReport) Truncated() bool {
	return r.ReturnedTotal < r.GeneratedTotal
}

// Generate expands a spec into its concrete variants. It is a pure function
// of the spec: deterministic ordering (dimension declaration order, then
// overlay declaration order within each dimension) and no side effects.
//
// In independent mode each overlay yields one variant that modifies only its
// own dimension relative to the base configuration, so dimensions of sizes
// k1..kn yield k1+...+kn variants. In cross-product mode the dimensions are
// combined, yielding k1*...*kn variants. Expansion stops at the spec's cap;
// the report still carries the size of the full expansion.
func Generate(spec *BenchmarkSpec) ([]Variant, *GenerationReport, error) {
	if err := spec.Validate(); err != nil {
		return nil, nil, err
	}

	limit := spec.MaxCombinations
	var variants []Variant
	if spec.Combine {
		variants = generateCrossProduct(spec, limit)
	} else {
		variants = generateIndependent(spec, limit)
	}

	report := &GenerationReport{
		GeneratedTotal: expansionSize(spec),
		ReturnedTotal:  len(variants),
	}
	return variants, report, nil
}

func expansionSize(spec *BenchmarkSpec) int {
	if spec.Combine {
		total := 1
		for _, dimension := range spec.Dimensions() {
			total *= len(spec.Variants[dimension])
		}
		return total
	}
	total := 0
	for _, dimension := range spec.Dimensions() {
		total += len(spec.Variants[dimension])
	}
	return total
}

func generateIndependent(spec *BenchmarkSpec, limit int) []Variant {
	variants := []Variant{}
	for _, dimension := range spec.Dimensions() {
		for _, overlay := range spec.Variants[dimension] {
			if len(variants) >= limit {
				return variants
			}
			variants = append(variants, Variant{
				Name:     dimension + ":" + overlay.Name,
				TestType: dimension,
				Params:   util.MergeParams(spec.BaseConfig, overlay.Params),
			})
		}
	}
	return variants
}

func generateCrossProduct(spec *BenchmarkSpec, limit int) []Variant {
	dimensions := spec.Dimensions()

	// Walk the product space with an odometer over overlay indices so that
	// the first declared dimension varies slowest.
	indices := make([]int, len(dimensions))
	variants := []Variant{}
	for len(variants) < limit {
		names := make([]string, len(dimensions))
		params := spec.BaseConfig
		for i, dimension := range dimensions {
			overlay := spec.Variants[dimension][indices[i]]
			names[i] = overlay.Name
			params = util.MergeParams(params, overlay.Params)
		}
		variants = append(variants, Variant{
			Name:     strings.Join(names, "+"),
			TestType: "combined",
			Params:   params,
		})

		i := len(indices) - 1
		for i >= 0 {
			indices[i]++
			if indices[i] < len(spec.Variants[dimensions[i]]) {
				break
			}
			indices[i] = 0
			i--
		}
		if i < 0 {
			break
		}
	}
	return variants
}
