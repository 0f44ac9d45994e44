// Package dashboard serves the browser form that collects housing features,
// calls the prediction service and renders the result.
package dashboard

import (
	"math"
	"slices"

	"calihouse/ml"
)

// InputSpec describes one manual input control. Population is a number entry,
// the rest are sliders.
type InputSpec struct {
	Name    string
	Label   string
	Help    string
	Min     float64
	Max     float64
	Default float64
	Step    float64
	Integer bool
	Slider  bool
}

// inputSpecs follows ml.FeatureNames order.
var inputSpecs = []InputSpec{
	{Name: "median_income", Label: "Median Income", Help: "Median income in block (in $10,000s)", Min: 0.5, Max: 15, Default: 3, Step: 0.1, Slider: true},
	{Name: "median_house_age", Label: "House Age", Help: "Median age of houses in block (years)", Min: 1, Max: 52, Default: 25, Step: 1, Slider: true},
	{Name: "average_rooms", Label: "Average Rooms", Help: "Average number of rooms per household", Min: 1, Max: 10, Default: 5, Step: 0.1, Slider: true},
	{Name: "average_bedrooms", Label: "Average Bedrooms", Help: "Average number of bedrooms per household", Min: 0.5, Max: 5, Default: 1.5, Step: 0.1, Slider: true},
	{Name: "population", Label: "Population", Help: "Block population", Min: 3, Max: 40000, Default: 1000, Step: 10, Integer: true},
	{Name: "average_occupancy", Label: "Average Occupancy", Help: "Average number of people per household", Min: 0.5, Max: 10, Default: 3, Step: 0.1, Slider: true},
	{Name: "latitude", Label: "Latitude", Help: "Block latitude", Min: 32, Max: 42, Default: 37, Step: 0.01},
	{Name: "longitude", Label: "Longitude", Help: "Block longitude", Min: -125, Max: -114, Default: -122, Step: 0.01},
}

func InputSpecs() []InputSpec {
	return slices.Clone(inputSpecs)
}

// Clamp pulls v into [Min, Max]. Non-finite values fall back to Default and
// integer inputs are rounded.
func (s InputSpec) Clamp(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return s.Default
	}
	if s.Integer {
		v = math.Round(v)
	}
	return math.Min(s.Max, math.Max(s.Min, v))
}

func DefaultFeatures() ml.HousingFeatures {
	row := make([]float64, len(inputSpecs))
	for i, s := range inputSpecs {
		row[i] = s.Default
	}
	return ml.FeaturesFromVector(row)
}

// ClampFeatures applies every input's range to f.
func ClampFeatures(f ml.HousingFeatures) ml.HousingFeatures {
	row := ml.FeatureVector(f)
	for i, s := range inputSpecs {
		row[i] = s.Clamp(row[i])
	}
	return ml.FeaturesFromVector(row)
}
