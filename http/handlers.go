package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"calihouse/db"
	"calihouse/ml"
	"calihouse/monitoring"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	feedPath = "/ws/predictions"

	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	logWriteTimeout     = 2 * time.Second
)

// Error kinds reported in the "error" field of failure responses, in
// addition to the ml.ErrorKind names.
const (
	kindInvalidInput    = "invalid_input"
	kindRequestTooLarge = "request_too_large"
	kindTimeout         = "timeout"
	kindInternal        = "internal"
)

// PredictionStore persists prediction and training history.
type PredictionStore interface {
	SavePrediction(ctx context.Context, rec *db.PredictionRecord) error
	RecentPredictions(ctx context.Context, limit int) ([]db.PredictionRecord, error)
	LatestTrainingRun(ctx context.Context) (*db.TrainingRun, error)
}

// PredictionFeed pushes prediction events to live subscribers.
type PredictionFeed interface {
	PublishPrediction(event monitoring.PredictionEvent)
	HandleWebSocket(w http.ResponseWriter, r *http.Request)
}

// PredictRequest is the /predict body. Every field is required; a zero value
// is a legitimate input, so presence is tracked with pointers.
type PredictRequest struct {
	MedianIncome     *float64 `json:"median_income" validate:"required"`
	MedianHouseAge   *float64 `json:"median_house_age" validate:"required"`
	AverageRooms     *float64 `json:"average_rooms" validate:"required"`
	AverageBedrooms  *float64 `json:"average_bedrooms" validate:"required"`
	Population       *float64 `json:"population" validate:"required"`
	AverageOccupancy *float64 `json:"average_occupancy" validate:"required"`
	Latitude         *float64 `json:"latitude" validate:"required"`
	Longitude        *float64 `json:"longitude" validate:"required"`
}

func (p PredictRequest) Features() ml.HousingFeatures {
	return ml.HousingFeatures{
		MedianIncome:     *p.MedianIncome,
		MedianHouseAge:   *p.MedianHouseAge,
		AverageRooms:     *p.AverageRooms,
		AverageBedrooms:  *p.AverageBedrooms,
		Population:       *p.Population,
		AverageOccupancy: *p.AverageOccupancy,
		Latitude:         *p.Latitude,
		Longitude:        *p.Longitude,
	}
}

type PredictResponse struct {
	Response float64 `json:"response"`
}

type ErrorResponse struct {
	Detail string `json:"detail"`
	Error  string `json:"error,omitempty"`
}

type historyResponse struct {
	Predictions []db.PredictionRecord `json:"predictions"`
	Count       int                   `json:"count"`
}

type modelInfoResponse struct {
	ml.ModelInfo
	LastTraining *db.TrainingRun `json:"last_training,omitempty"`
}

// API holds the prediction service handlers.
type API struct {
	models         ml.ModelProvider
	store          PredictionStore
	feed           PredictionFeed
	logger         *zap.Logger
	validate       *validator.Validate
	collapseErrors bool
}

func NewAPI(deps Dependencies, collapseErrors bool) *API {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &API{
		models:         deps.Models,
		store:          deps.Store,
		feed:           deps.Feed,
		logger:         logger.Named("api"),
		validate:       validate,
		collapseErrors: collapseErrors,
	}
}

func (a *API) Register(mux *http.ServeMux) {
	mux.Handle("GET /{$}", instrument("/", http.HandlerFunc(a.handleHealth)))
	mux.Handle("POST /predict", instrument("/predict", http.HandlerFunc(a.handlePredict)))
	mux.Handle("GET /model/info", instrument("/model/info", http.HandlerFunc(a.handleModelInfo)))
	mux.Handle("GET /predictions", instrument("/predictions", http.HandlerFunc(a.handleHistory)))
	mux.Handle("GET /metrics", promhttp.Handler())
	if a.feed != nil {
		mux.Handle("GET "+feedPath, instrument(feedPath, http.HandlerFunc(a.feed.HandleWebSocket)))
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (a *API) handlePredict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req PredictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.respondError(w, http.StatusRequestEntityTooLarge, kindRequestTooLarge, err.Error())
		} else {
			a.respondError(w, http.StatusUnprocessableEntity, kindInvalidInput, "invalid request body: "+err.Error())
		}
		monitoring.RecordPrediction(kindInvalidInput, time.Since(start))
		return
	}
	if err := a.validate.Struct(req); err != nil {
		a.respondError(w, http.StatusUnprocessableEntity, kindInvalidInput, validationDetail(err))
		monitoring.RecordPrediction(kindInvalidInput, time.Since(start))
		return
	}

	features := req.Features()
	out, err := a.predict(r.Context(), features)
	latency := time.Since(start)

	rec := &db.PredictionRecord{
		RequestID: GetRequestID(r.Context()),
		Features:  features,
		LatencyMs: float64(latency.Microseconds()) / 1000,
	}
	if err != nil {
		status, kind := errorStatus(err)
		rec.ErrorKind = kind
		rec.Detail = err.Error()
		monitoring.RecordPrediction(kind, latency)
		a.logger.Warn("prediction failed",
			zap.String("request_id", rec.RequestID),
			zap.String("kind", kind),
			zap.Error(err),
		)
		a.record(r.Context(), rec)
		a.respondError(w, status, kind, err.Error())
		return
	}

	rec.Response = &out
	monitoring.RecordPrediction("ok", latency)
	monitoring.PredictedValue.Observe(out)
	a.record(r.Context(), rec)
	writeJSON(w, http.StatusOK, PredictResponse{Response: out})
}

func (a *API) predict(ctx context.Context, features ml.HousingFeatures) (float64, error) {
	if a.models == nil {
		return 0, &ml.ModelError{Kind: ml.KindArtifactNotFound}
	}
	out, err := a.models.Predict(ctx, [][]float64{ml.FeatureVector(features)})
	if err != nil {
		return 0, err
	}
	if len(out) != 1 || math.IsNaN(out[0]) || math.IsInf(out[0], 0) {
		return 0, &ml.ModelError{Kind: ml.KindInferenceFailed, Err: fmt.Errorf("model returned %v", out)}
	}
	return out[0], nil
}

// record writes the prediction log and notifies feed subscribers. Failures
// here never change the response.
func (a *API) record(ctx context.Context, rec *db.PredictionRecord) {
	if a.store != nil {
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), logWriteTimeout)
		err := a.store.SavePrediction(writeCtx, rec)
		cancel()
		if err != nil {
			monitoring.PredictionLogErrors.Inc()
			a.logger.Warn("prediction log write failed", zap.String("request_id", rec.RequestID), zap.Error(err))
		}
	}
	if a.feed != nil {
		a.feed.PublishPrediction(monitoring.PredictionEvent{
			RequestID: rec.RequestID,
			Features:  rec.Features,
			Response:  rec.Response,
			ErrorKind: rec.ErrorKind,
			LatencyMs: rec.LatencyMs,
		})
	}
}

func (a *API) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	var resp modelInfoResponse
	if a.models != nil {
		resp.ModelInfo = a.models.Info()
	}
	if a.store != nil {
		run, err := a.store.LatestTrainingRun(r.Context())
		if err != nil {
			a.logger.Warn("training log read failed", zap.Error(err))
		}
		resp.LastTraining = run
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			a.respondError(w, http.StatusUnprocessableEntity, kindInvalidInput, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	resp := historyResponse{Predictions: []db.PredictionRecord{}}
	if a.store != nil {
		records, err := a.store.RecentPredictions(r.Context(), limit)
		if err != nil {
			a.logger.Error("prediction log read failed", zap.Error(err))
			a.respondError(w, http.StatusInternalServerError, kindInternal, err.Error())
			return
		}
		resp.Predictions = records
	}
	resp.Count = len(resp.Predictions)
	writeJSON(w, http.StatusOK, resp)
}

// errorStatus maps a prediction failure to its status code and kind.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout, kindTimeout
	}
	switch kind := ml.KindOf(err); kind {
	case ml.KindInferenceFailed:
		return http.StatusBadRequest, kind.String()
	case ml.KindArtifactNotFound:
		return http.StatusServiceUnavailable, kind.String()
	case ml.KindDeserializationFailed:
		return http.StatusInternalServerError, kind.String()
	}
	return http.StatusInternalServerError, kindInternal
}

func (a *API) respondError(w http.ResponseWriter, status int, kind, detail string) {
	if a.collapseErrors {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Detail: detail})
		return
	}
	writeError(w, status, kind, detail)
}

func validationDetail(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	missing := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		missing = append(missing, fe.Field())
	}
	return "missing required field(s): " + strings.Join(missing, ", ")
}

func writeError(w http.ResponseWriter, status int, kind, detail string) {
	writeJSON(w, status, ErrorResponse{Detail: detail, Error: kind})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
