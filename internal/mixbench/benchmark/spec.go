package benchmark

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"

	"github.com/mixbenchproject/mixbench/internal/common/mixerrors"
)

// DefaultMaxCombinations caps variant expansion when a spec does not set its
// own limit.
const DefaultMaxCombinations = 50

// BenchmarkSpec is the declarative description of a benchmark: the training
// configuration every job starts from, and one or more test dimensions whose
// overlays are expanded into concrete variants. Immutable once loaded.
type BenchmarkSpec struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	BaseConfig  map[string]interface{} `json:"base_config"`
	Iterations  int                    `json:"iterations"`
	Trials      int                    `json:"trials"`
	// Variants maps each test dimension to its overlays. Declaration order
	// matters for output ordering and is carried in DimensionOrder, since
	// JSON objects do not preserve it.
	Variants       map[string][]Overlay `json:"variants"`
	DimensionOrder []string             `json:"-"`
	// Cap on the number of generated variants. Zero means DefaultMaxCombinations.
	MaxCombinations int `json:"max_combinations"`
	// Combine selects cross-product expansion across dimensions. The default
	// tests each dimension independently against the base configuration.
	Combine bool `json:"combine"`
}

// Overlay is a named partial parameter set layered over the base configuration.
type Overlay struct {
	Name   string                 `json:"name"`
	Params map[string]interface{} `json:"params"`
}

// Variant is one concrete, fully merged parameter set produced from a spec.
// Immutable once produced.
type Variant struct {
	Name     string
	TestType string
	Params   map[string]interface{}
}

// LoadSpec reads a benchmark spec from a JSON or YAML file, records the
// declaration order of the test dimensions and validates the result.
func LoadSpec(path string) (*BenchmarkSpec, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading spec file %s", path)
	}
	spec, err := ParseSpec(content)
	if err != nil {
		return nil, errors.WithMessagef(err, "spec file %s", path)
	}
	return spec, nil
}

// ParseSpec parses JSON or YAML spec bytes and validates them.
func ParseSpec(content []byte) (*BenchmarkSpec, error) {
	jsonContent, err := yaml.YAMLToJSON(content)
	if err != nil {
		return nil, errors.WithStack(&mixerrors.ErrInvalidConfig{Message: fmt.Sprintf("cannot parse spec: %v", err)})
	}

	spec := &BenchmarkSpec{}
	if err := json.Unmarshal(jsonContent, spec); err != nil {
		return nil, errors.WithStack(&mixerrors.ErrInvalidConfig{Message: fmt.Sprintf("cannot parse spec: %v", err)})
	}

	order, err := dimensionOrder(jsonContent)
	if err != nil {
		return nil, err
	}
	spec.DimensionOrder = order

	if spec.MaxCombinations == 0 {
		spec.MaxCombinations = DefaultMaxCombinations
	}

	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// dimensionOrder extracts the declaration order of the keys of the top-level
// "variants" object by re-scanning the JSON token stream.
func dimensionOrder(jsonContent []byte) ([]string, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(jsonContent, &top); err != nil {
		return nil, errors.WithStack(&mixerrors.ErrInvalidConfig{Message: fmt.Sprintf("cannot parse spec: %v", err)})
	}
	raw, ok := top["variants"]
	if !ok {
		return nil, nil
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	token, err := decoder.Token()
	if err != nil {
		return nil, errors.WithStack(&mixerrors.ErrInvalidConfig{Message: fmt.Sprintf("cannot parse variants: %v", err)})
	}
	if delim, ok := token.(json.Delim); !ok || delim != '{' {
		return nil, errors.WithStack(&mixerrors.ErrInvalidConfig{
			Field: "variants", Value: string(raw), Message: "must be an object mapping dimensions to overlay lists",
		})
	}

	order := []string{}
	for decoder.More() {
		keyToken, err := decoder.Token()
		if err != nil {
			return nil, errors.WithStack(&mixerrors.ErrInvalidConfig{Message: fmt.Sprintf("cannot parse variants: %v", err)})
		}
		key, ok := keyToken.(string)
		if !ok {
			return nil, errors.WithStack(&mixerrors.ErrInvalidConfig{Field: "variants", Message: "object keys must be strings"})
		}
		order = append(order, key)

		// Skip the overlay list belonging to this dimension.
		var skipped json.RawMessage
		if err := decoder.Decode(&skipped); err != nil {
			return nil, errors.WithStack(&mixerrors.ErrInvalidConfig{Message: fmt.Sprintf("cannot parse variants: %v", err)})
		}
	}
	return order, nil
}

// Validate checks the invariants every spec must satisfy before any queue
// interaction happens. Failures are fatal and never retried.
func (spec *BenchmarkSpec) Validate() error {
	if spec.Name == "" {
		return errors.WithStack(&mixerrors.ErrInvalidConfig{
			Field:   "name",
			Value:   spec.Name,
			Message: "not provided",
		})
	}
	if len(spec.BaseConfig) == 0 {
		return errors.WithStack(&mixerrors.ErrInvalidConfig{
			Field:   "base_config",
			Value:   spec.BaseConfig,
			Message: "not provided",
		})
	}
	if len(spec.Variants) == 0 {
		return errors.WithStack(&mixerrors.ErrInvalidConfig{
			Field:   "variants",
			Value:   spec.Variants,
			Message: "at least one test dimension is required",
		})
	}
	if spec.Iterations <= 0 {
		return errors.WithStack(&mixerrors.ErrInvalidConfig{
			Field:   "iterations",
			Value:   spec.Iterations,
			Message: "must be positive",
		})
	}
	if spec.Trials <= 0 {
		return errors.WithStack(&mixerrors.ErrInvalidConfig{
			Field:   "trials",
			Value:   spec.Trials,
			Message: "must be positive",
		})
	}
	if spec.MaxCombinations < 0 {
		return errors.WithStack(&mixerrors.ErrInvalidConfig{
			Field:   "max_combinations",
			Value:   spec.MaxCombinations,
			Message: "must not be negative",
		})
	}
	if len(spec.DimensionOrder) != 0 {
		if len(spec.DimensionOrder) != len(spec.Variants) {
			return errors.WithStack(&mixerrors.ErrInvalidConfig{
				Field:   "variants",
				Message: "dimension order does not match the declared dimensions",
			})
		}
		for _, dimension := range spec.DimensionOrder {
			if _, ok := spec.Variants[dimension]; !ok {
				return errors.WithStack(&mixerrors.ErrInvalidConfig{
					Field:   "variants",
					Value:   dimension,
					Message: "dimension order names an undeclared dimension",
				})
			}
		}
	}
	for _, dimension := range spec.Dimensions() {
		overlays := spec.Variants[dimension]
		if len(overlays) == 0 {
			return errors.WithStack(&mixerrors.ErrInvalidConfig{
				Field:   fmt.Sprintf("variants.%s", dimension),
				Value:   overlays,
				Message: "dimension has no overlays",
			})
		}
		seen := map[string]bool{}
		for _, overlay := range overlays {
			if overlay.Name == "" {
				return errors.WithStack(&mixerrors.ErrInvalidConfig{
					Field:   fmt.Sprintf("variants.%s", dimension),
					Message: "overlay without a name",
				})
			}
			if seen[overlay.Name] {
				return errors.WithStack(&mixerrors.ErrInvalidConfig{
					Field:   fmt.Sprintf("variants.%s", dimension),
					Value:   overlay.Name,
					Message: "duplicate overlay name",
				})
			}
			seen[overlay.Name] = true
		}
	}
	return nil
}

// Dimensions returns the test dimensions in their declaration order. Specs
// constructed in code without an explicit order get a lexical one, so that
// generation stays deterministic either way.
func (spec *BenchmarkSpec) Dimensions() []string {
	if len(spec.DimensionOrder) != 0 {
		return spec.DimensionOrder
	}
	dimensions := make([]string, 0, len(spec.Variants))
	for dimension := range spec.Variants {
		dimensions = append(dimensions, dimension)
	}
	sort.Strings(dimensions)
	return dimensions
}

// NewBenchmarkId returns a fresh benchmark run identifier of the form
// bench-<YYYYMMDD-HHMMSS>-<short uuid>. The timestamp prefix keeps ids
// sortable by submission time in listings.
func NewBenchmarkId(now time.Time) string {
	return fmt.Sprintf("bench-%s-%s", now.UTC().Format("20060102-150405"), uuid.New().String()[:8])
}
