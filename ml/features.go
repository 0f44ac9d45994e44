package ml

import "math"

// NumFeatures is the width of every row the housing model accepts.
const NumFeatures = 8

// HousingFeatures is one census block group. Field order matches the column
// order the model is trained on.
type HousingFeatures struct {
	MedianIncome     float64 `json:"median_income"`
	MedianHouseAge   float64 `json:"median_house_age"`
	AverageRooms     float64 `json:"average_rooms"`
	AverageBedrooms  float64 `json:"average_bedrooms"`
	Population       float64 `json:"population"`
	AverageOccupancy float64 `json:"average_occupancy"`
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
}

// FeatureNames returns the serving column order. Artifacts carry the same list
// and are rejected at load time when it differs.
func FeatureNames() []string {
	return []string{
		"median_income",
		"median_house_age",
		"average_rooms",
		"average_bedrooms",
		"population",
		"average_occupancy",
		"latitude",
		"longitude",
	}
}

func FeatureVector(f HousingFeatures) []float64 {
	return []float64{
		f.MedianIncome,
		f.MedianHouseAge,
		f.AverageRooms,
		f.AverageBedrooms,
		f.Population,
		f.AverageOccupancy,
		f.Latitude,
		f.Longitude,
	}
}

func checkRow(row []float64, width int) error {
	if len(row) != width {
		return inferenceError("expected %d features, got %d", width, len(row))
	}
	for i, v := range row {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return inferenceError("feature %d is not a finite number", i)
		}
	}
	return nil
}

// FeaturesFromVector is the inverse of FeatureVector. Rows shorter than
// NumFeatures leave the remaining fields zero.
func FeaturesFromVector(row []float64) HousingFeatures {
	var v [NumFeatures]float64
	copy(v[:], row)
	return HousingFeatures{
		MedianIncome:     v[0],
		MedianHouseAge:   v[1],
		AverageRooms:     v[2],
		AverageBedrooms:  v[3],
		Population:       v[4],
		AverageOccupancy: v[5],
		Latitude:         v[6],
		Longitude:        v[7],
	}
}
