package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP 指标
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calihouse_http_requests_total",
			Help: "HTTP requests by method, route and status code",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "calihouse_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// 预测指标
var (
	PredictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calihouse_predictions_total",
			Help: "Prediction calls by outcome (ok or an error kind)",
		},
		[]string{"outcome"},
	)

	PredictionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "calihouse_prediction_duration_seconds",
			Help:    "Time spent resolving the model and running inference",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
	)

	PredictedValue = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "calihouse_predicted_value",
			Help:    "Distribution of predicted median house values in $100,000 units",
			Buckets: []float64{0.5, 1, 1.5, 2, 2.5, 3, 3.5, 4, 4.5, 5},
		},
	)
)

// 模型指标
var (
	ModelLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calihouse_model_loads_total",
			Help: "Model artifact loads by result",
		},
		[]string{"result"},
	)

	ModelCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "calihouse_model_cache_hits_total",
			Help: "Per-request loads served from the decoded model cache",
		},
	)

	ModelLoadedTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "calihouse_model_loaded_timestamp_seconds",
			Help: "Unix time of the last successful artifact load",
		},
	)
)

var (
	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "calihouse_websocket_clients",
			Help: "Connected prediction feed clients",
		},
	)

	PredictionLogErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "calihouse_prediction_log_errors_total",
			Help: "Failed writes to the prediction log",
		},
	)
)

func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func RecordPrediction(outcome string, duration time.Duration) {
	PredictionsTotal.WithLabelValues(outcome).Inc()
	PredictionDuration.Observe(duration.Seconds())
}

func RecordModelLoad(err error) {
	if err != nil {
		ModelLoadsTotal.WithLabelValues("error").Inc()
		return
	}
	ModelLoadsTotal.WithLabelValues("ok").Inc()
	ModelLoadedTimestamp.SetToCurrentTime()
}
