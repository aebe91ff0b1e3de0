package ml

import (
	"fmt"
	"slices"
)

// FeatureDef names one model input and how it is read from a FeatureRow.
type FeatureDef struct {
	Name  string
	Value func(FeatureRow) float64
}

// FeatureSchema is the ordered list of inputs a model is fit on. Training and
// prediction both build vectors through Vector, so the column order cannot drift.
type FeatureSchema struct {
	Name     string
	Version  int
	Features []FeatureDef
}

// Feature set names accepted by SchemaByName
const (
	FeatureSetStandard = "standard"
	FeatureSetExtended = "extended"
)

var standardFeatures = []FeatureDef{
	{"temperature", func(r FeatureRow) float64 { return r.Temperature }},
	{"humidity", func(r FeatureRow) float64 { return r.Humidity }},
	{"pollution", func(r FeatureRow) float64 { return r.Pollution }},
	{"noise_db", func(r FeatureRow) float64 { return r.NoiseDB }},
	{"delta_bees", func(r FeatureRow) float64 { return r.DeltaBees }},
	{"rolling_mean_3", func(r FeatureRow) float64 { return r.RollingMean3 }},
	{"rolling_mean_5", func(r FeatureRow) float64 { return r.RollingMean5 }},
	{"rolling_mean_10", func(r FeatureRow) float64 { return r.RollingMean10 }},
	{"stress_index", func(r FeatureRow) float64 { return r.StressIndex }},
	{"delta_temperature", func(r FeatureRow) float64 { return r.DeltaTemperature }},
	{"delta_humidity", func(r FeatureRow) float64 { return r.DeltaHumidity }},
	{"delta_pollution", func(r FeatureRow) float64 { return r.DeltaPollution }},
	{"delta_noise", func(r FeatureRow) float64 { return r.DeltaNoise }},
}

var extendedFeatures = []FeatureDef{
	{"noise_rolling_mean_3", func(r FeatureRow) float64 { return r.NoiseRollingMean3 }},
	{"noise_rolling_mean_5", func(r FeatureRow) float64 { return r.NoiseRollingMean5 }},
	{"noise_rolling_mean_10", func(r FeatureRow) float64 { return r.NoiseRollingMean10 }},
	{"hour_of_day", func(r FeatureRow) float64 { return r.HourOfDay }},
	{"day_of_week", func(r FeatureRow) float64 { return r.DayOfWeek }},
}

// StandardSchema is the 13-feature vector.
func StandardSchema() FeatureSchema {
	return FeatureSchema{
		Name:     FeatureSetStandard,
		Version:  2,
		Features: slices.Clone(standardFeatures),
	}
}

// ExtendedSchema adds noise rolling means and calendar features to the
// standard vector.
func ExtendedSchema() FeatureSchema {
	return FeatureSchema{
		Name:     FeatureSetExtended,
		Version:  1,
		Features: append(slices.Clone(standardFeatures), extendedFeatures...),
	}
}

// SchemaByName resolves a configured feature set.
func SchemaByName(name string) (FeatureSchema, error) {
	switch name {
	case FeatureSetStandard, "":
		return StandardSchema(), nil
	case FeatureSetExtended:
		return ExtendedSchema(), nil
	default:
		return FeatureSchema{}, fmt.Errorf("unknown feature set %q", name)
	}
}

// Names returns the feature names in vector order.
func (s FeatureSchema) Names() []string {
	names := make([]string, len(s.Features))
	for i, f := range s.Features {
		names[i] = f.Name
	}
	return names
}

// Len returns the vector width.
func (s FeatureSchema) Len() int {
	return len(s.Features)
}

// Vector reads a row into a feature vector.
func (s FeatureSchema) Vector(row FeatureRow) []float64 {
	v := make([]float64, len(s.Features))
	for i, f := range s.Features {
		v[i] = f.Value(row)
	}
	return v
}

// Matches reports whether names is exactly this schema's column order.
func (s FeatureSchema) Matches(names []string) bool {
	return slices.Equal(s.Names(), names)
}
