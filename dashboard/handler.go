package dashboard

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"calihouse/client"
	"calihouse/ml"
	"go.uber.org/zap"
)

//go:embed templates/index.html.tmpl
var templateFS embed.FS

// Predictor is the part of client.Client the dashboard uses.
type Predictor interface {
	Health(ctx context.Context) error
	Predict(ctx context.Context, features ml.HousingFeatures) (float64, error)
}

type Config struct {
	BackendURL string
	// ModelPath is checked before every submission; empty skips the check.
	ModelPath      string
	Timeout        time.Duration
	MaxUploadBytes int64
}

type Dashboard struct {
	predictor Predictor
	cfg       Config
	logger    *zap.Logger
	tmpl      *template.Template
}

type Banner struct {
	Level string
	Text  string
}

type Toast struct {
	Icon string
	Text string
}

type Result struct {
	Price string
	Units string
}

type inputView struct {
	InputSpec
	Value string
}

type pageData struct {
	BackendURL    string
	Banner        Banner
	Mode          Mode
	Inputs        []inputView
	UploadName    string
	UploadPreview string
	Submitted     bool
	Summary       []SummaryItem
	Result        *Result
	Toast         *Toast
	Error         string
}

func New(predictor Predictor, cfg Config, logger *zap.Logger) (*Dashboard, error) {
	if predictor == nil {
		return nil, errors.New("dashboard needs a predictor")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 1 << 20
	}

	tmpl, err := template.New("index.html.tmpl").ParseFS(templateFS, "templates/index.html.tmpl")
	if err != nil {
		return nil, err
	}
	return &Dashboard{
		predictor: predictor,
		cfg:       cfg,
		logger:    logger.Named("dashboard"),
		tmpl:      tmpl,
	}, nil
}

func (d *Dashboard) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", d.handleIndex)
	mux.HandleFunc("POST /{$}", d.handleSubmit)
	return mux
}

func (d *Dashboard) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := d.page(r.Context(), NewState())
	d.render(w, http.StatusOK, data)
}

func (d *Dashboard) handleSubmit(w http.ResponseWriter, r *http.Request) {
	state, err := StateFromRequest(r, d.cfg.MaxUploadBytes)
	if err != nil {
		data := d.page(r.Context(), NewState())
		data.Error = err.Error()
		d.render(w, http.StatusBadRequest, data)
		return
	}

	data := d.page(r.Context(), state)
	data.Submitted = true

	features, err := state.Input()
	if err != nil {
		data.Error = err.Error()
		d.render(w, http.StatusOK, data)
		return
	}
	if state.Mode == ModeManual {
		data.Summary = Summary(features)
	}

	if d.cfg.ModelPath != "" {
		if _, err := os.Stat(d.cfg.ModelPath); err != nil {
			name := filepath.Base(d.cfg.ModelPath)
			d.logger.Warn("model artifact not found, run train_model to create it", zap.String("path", d.cfg.ModelPath))
			data.Toast = &Toast{Icon: "🔥", Text: "Model " + name + " not found. Please run train_model first."}
			d.render(w, http.StatusOK, data)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), d.cfg.Timeout)
	defer cancel()

	value, err := d.predictor.Predict(ctx, features)
	if err != nil {
		d.logger.Error("prediction request failed", zap.Error(err))
		var statusErr *client.StatusError
		if errors.As(err, &statusErr) {
			data.Toast = &Toast{Icon: "🔴", Text: "Status from server: " + strconv.Itoa(statusErr.Code) + ". Refresh page and check backend status"}
			data.Error = "Server returned status code: " + strconv.Itoa(statusErr.Code)
			if statusErr.Detail != "" {
				data.Error += " (" + statusErr.Detail + ")"
			}
		} else {
			data.Toast = &Toast{Icon: "🔴", Text: "Problem with backend. Refresh page and check backend status"}
			data.Error = "Error: " + err.Error()
		}
		d.render(w, http.StatusOK, data)
		return
	}

	data.Result = &Result{Price: FormatPrice(value), Units: FormatUnits(value)}
	d.render(w, http.StatusOK, data)
}

func (d *Dashboard) page(ctx context.Context, state *State) *pageData {
	data := &pageData{
		BackendURL: d.cfg.BackendURL,
		Banner:     d.backendStatus(ctx),
		Mode:       state.Mode,
		UploadName: state.UploadName,
	}

	values := ml.FeatureVector(state.Manual)
	for i, spec := range inputSpecs {
		data.Inputs = append(data.Inputs, inputView{
			InputSpec: spec,
			Value:     strconv.FormatFloat(values[i], 'f', -1, 64),
		})
	}

	if len(state.Upload) > 0 {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, state.Upload, "", "  "); err == nil {
			data.UploadPreview = pretty.String()
		}
	}
	return data
}

func (d *Dashboard) backendStatus(ctx context.Context) Banner {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	err := d.predictor.Health(ctx)
	var statusErr *client.StatusError
	switch {
	case err == nil:
		return Banner{Level: "success", Text: "Backend online ✅"}
	case errors.As(err, &statusErr):
		return Banner{Level: "warning", Text: "Problem connecting 😭"}
	default:
		d.logger.Error("backend offline", zap.String("backend", d.cfg.BackendURL), zap.Error(err))
		return Banner{Level: "error", Text: "Backend offline 😱"}
	}
}

func (d *Dashboard) render(w http.ResponseWriter, status int, data *pageData) {
	var buf bytes.Buffer
	if err := d.tmpl.Execute(&buf, data); err != nil {
		d.logger.Error("render dashboard failed", zap.Error(err))
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}
