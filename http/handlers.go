package http

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"examscore/db"
	"examscore/monitoring"
	"examscore/serving"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// RunLister lists recorded training runs. *db.Store satisfies it.
type RunLister interface {
	LoadTrainingRuns(ctx context.Context, limit int) ([]db.TrainingRun, error)
}

// Handler serves the prediction API and pages for one prediction service.
type Handler struct {
	svc     *serving.Service
	runs    RunLister
	metrics *monitoring.Collector
	logger  *zap.Logger
}

// NewHandler returns a Handler; runs may be nil when no store is configured.
func NewHandler(svc *serving.Service, runs RunLister, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := monitoring.NewCollector()
	metrics.Describe("http_requests_total", "HTTP requests by method, route and status")
	metrics.Describe("http_request_duration_seconds", "HTTP request latency")
	metrics.Describe("predictions_total", "Rows predicted successfully")
	metrics.Describe("prediction_errors_total", "Failed prediction requests by status")
	metrics.Describe("model_loaded", "1 when a usable model is loaded")
	ready := 0.0
	if svc.Context().Ready() {
		ready = 1
	}
	metrics.SetGauge("model_loaded", ready, nil)
	return &Handler{svc: svc, runs: runs, metrics: metrics, logger: logger.Named("handlers")}
}

// Metrics returns the collector fed by this handler's routes.
func (h *Handler) Metrics() *monitoring.Collector {
	return h.metrics
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.handleIndex)
	mux.HandleFunc("GET /predict", h.handlePredictHelp)
	mux.HandleFunc("POST /predict", h.handlePredict)
	mux.HandleFunc("GET /predicted_data", h.handleFormPage)
	mux.HandleFunc("POST /predicted_data", h.handleFormPredict)
	mux.HandleFunc("GET /api/health", h.handleHealth)
	mux.HandleFunc("GET /api/training/runs", h.handleTrainingRuns)
	mux.HandleFunc("GET /api/ws/predict", h.handlePredictWS)
	mux.HandleFunc("GET /api/metrics", h.handleMetrics)
	mux.HandleFunc("GET /metrics", h.handlePrometheus)
}

type predictRequest struct {
	Instances *[]json.RawMessage `json:"instances"`
}

type predictResponse struct {
	Predictions []float64 `json:"predictions"`
}

type errorResponse struct {
	Error       string   `json:"error"`
	Diagnostics []string `json:"diagnostics,omitempty"`
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	h.render(w, http.StatusOK, "index.html", nil)
}

func (h *Handler) handlePredictHelp(w http.ResponseWriter, r *http.Request) {
	h.render(w, http.StatusOK, "predict_help.html", map[string]string{
		"Example": `{"instances": [["female", "group B", "some college", "free/reduced", "completed", 53, 66]]}`,
	})
}

// handlePredict accepts a JSON body or a form post whose json_input field
// holds the same JSON document.
func (h *Handler) handlePredict(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var body []byte
	switch mediaType {
	case "application/json":
		data, err := io.ReadAll(r.Body)
		if err != nil {
			respondError(w, bodyErrorStatus(err), fmt.Errorf("read body: %w", err))
			return
		}
		body = data
	case "application/x-www-form-urlencoded", "multipart/form-data":
		if err := r.ParseMultipartForm(1 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
			respondError(w, bodyErrorStatus(err), fmt.Errorf("parse form: %w", err))
			return
		}
		input := strings.TrimSpace(r.FormValue("json_input"))
		if input == "" {
			respondError(w, http.StatusBadRequest, errors.New("form submitted but no JSON found in 'json_input'"))
			return
		}
		body = []byte(input)
	default:
		respondError(w, http.StatusUnsupportedMediaType, errors.New("request must be JSON (Content-Type: application/json)"))
		return
	}

	status, payload := h.predictJSON(r.Context(), body)
	respondJSON(w, status, payload)
}

// predictJSON runs one JSON predict body and returns the status and response body.
func (h *Handler) predictJSON(ctx context.Context, body []byte) (int, any) {
	var req predictRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return http.StatusBadRequest, errorResponse{Error: "invalid JSON: " + err.Error()}
	}
	if req.Instances == nil {
		return http.StatusBadRequest, errorResponse{
			Error: `missing "instances" key in JSON payload, example: {"instances": [[...], ...]}`,
		}
	}

	instances, err := serving.DecodeInstances(*req.Instances)
	if err == nil {
		var preds []float64
		if preds, err = h.svc.Predict(ctx, instances); err == nil {
			h.metrics.IncrCounter("predictions_total", float64(len(preds)), nil)
			return http.StatusOK, predictResponse{Predictions: preds}
		}
	}
	status := statusFor(err)
	h.metrics.IncrCounter("prediction_errors_total", 1, monitoring.Labels{"status": strconv.Itoa(status)})
	return status, h.errorBody(err)
}

type formView struct {
	Values  map[string]string
	Result  string
	Error   string
	Options map[string][]string
}

var formOptions = map[string][]string{
	"gender":                      {"female", "male"},
	"ethnicity":                   {"group A", "group B", "group C", "group D", "group E"},
	"parental_level_of_education": {"associate's degree", "bachelor's degree", "high school", "master's degree", "some college", "some high school"},
	"lunch":                       {"free/reduced", "standard"},
	"test_preparation_course":     {"none", "completed"},
}

func (h *Handler) handleFormPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, http.StatusOK, "form.html", formView{Options: formOptions})
}

func (h *Handler) handleFormPredict(w http.ResponseWriter, r *http.Request) {
	view := formView{Options: formOptions, Values: map[string]string{}}
	if err := r.ParseForm(); err != nil {
		view.Error = "could not read the form: " + err.Error()
		h.render(w, http.StatusBadRequest, "form.html", view)
		return
	}
	for key := range r.PostForm {
		view.Values[key] = r.PostForm.Get(key)
	}

	pred, err := h.svc.PredictForm(r.Context(), r.PostForm)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("form prediction failed", zap.Error(err))
		}
		view.Error = err.Error()
		h.render(w, status, "form.html", view)
		return
	}
	h.metrics.IncrCounter("predictions_total", 1, nil)
	view.Result = strconv.FormatFloat(pred, 'f', 2, 64)
	h.render(w, http.StatusOK, "form.html", view)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	sc := h.svc.Context()
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"model_loaded": sc.Ready(),
		"kind":         sc.Kind().String(),
		"artifacts":    sc.Paths(),
		"diagnostics":  sc.Diagnostics(),
		"loaded_at":    sc.LoadedAt(),
	})
}

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snapshot := h.metrics.Snapshot()
	snapshot["cache_entries"] = h.svc.CacheLen()
	respondJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) handlePrometheus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	io.WriteString(w, h.metrics.ExportPrometheus())
}

func (h *Handler) handleTrainingRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		respondError(w, http.StatusNotFound, errors.New("training history is not configured"))
		return
	}
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		if l, err := strconv.Atoi(s); err == nil && l > 0 {
			limit = l
		}
	}
	runs, err := h.runs.LoadTrainingRuns(r.Context(), limit)
	if err != nil {
		h.logger.Error("load training runs", zap.Error(err))
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (h *Handler) errorBody(err error) errorResponse {
	var unavailable *serving.ModelUnavailableError
	if errors.As(err, &unavailable) {
		return errorResponse{Error: "model not loaded", Diagnostics: unavailable.Diagnostics}
	}
	if statusFor(err) == http.StatusInternalServerError {
		h.logger.Error("prediction failed", zap.Error(err))
	}
	return errorResponse{Error: err.Error()}
}

func statusFor(err error) int {
	var unavailable *serving.ModelUnavailableError
	switch {
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable
	case serving.IsInputError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func bodyErrorStatus(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func (h *Handler) render(w http.ResponseWriter, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := templates.ExecuteTemplate(w, name, data); err != nil {
		h.logger.Error("render template", zap.String("template", name), zap.Error(err))
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode JSON", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, errorResponse{Error: err.Error()})
}
