package ml

import "context"

// Regressor is the inference surface the HTTP layer depends on.
type Regressor interface {
	PredictBatch(rows [][]float64) ([]float64, error)
}

// ModelProvider resolves the model to use for one prediction call.
type ModelProvider interface {
	Predict(ctx context.Context, rows [][]float64) ([]float64, error)
	Info() ModelInfo
}
