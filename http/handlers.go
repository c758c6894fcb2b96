package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"traindelay/db"
	"traindelay/inference"
	"traindelay/ml"
	"traindelay/monitoring"
)

const maxBatchRecords = 10000

// Predictor is the part of *inference.Predictor the handlers use.
type Predictor interface {
	Predict(ctx context.Context, model string, in ml.JourneyInput) (*inference.Prediction, error)
	PredictRecords(ctx context.Context, model string, records []ml.RawRecord) ([]inference.Prediction, error)
	Encode(ctx context.Context, model string, records []ml.RawRecord) (*ml.FeatureTable, error)
	DefaultModel() string
}

// ModelLister lists the available model bundles.
type ModelLister interface {
	List() ([]ml.Manifest, error)
}

// TrainCatalog looks up catalogued trains to prefill the form.
type TrainCatalog interface {
	LookupTrain(ctx context.Context, name string) (ml.JourneyInput, error)
	ListTrains(ctx context.Context, limit int) ([]db.TrainSummary, error)
}

type api struct {
	predictor Predictor
	models    ModelLister
	catalog   TrainCatalog
	metrics   *monitoring.Metrics
	feed      *monitoring.Feed
	logger    *zap.Logger
	now       func() time.Time
}

func newAPI(deps Dependencies) *api {
	a := &api{
		predictor: deps.Predictor,
		models:    deps.Models,
		catalog:   deps.Catalog,
		metrics:   deps.Metrics,
		feed:      deps.Feed,
		logger:    deps.Logger,
		now:       deps.Now,
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a
}

func RegisterHandlers(mux *http.ServeMux, a *api) {
	mux.HandleFunc("GET /{$}", a.handleForm)
	mux.HandleFunc("POST /{$}", a.handleFormSubmit)
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.HandleFunc("GET /api/models", a.handleModels)
	mux.HandleFunc("POST /api/predict", a.handlePredict)
	mux.HandleFunc("POST /api/predict/batch", a.handlePredictBatch)
	mux.HandleFunc("POST /api/encode", a.handleEncode)
	mux.HandleFunc("GET /api/trains", a.handleTrains)
	mux.HandleFunc("GET /api/trains/{name}", a.handleTrain)
	mux.HandleFunc("GET /api/ws/predict", a.handleWebSocket)
	if a.metrics != nil {
		mux.Handle("GET /metrics", a.metrics.Handler())
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type predictRequest struct {
	Model string          `json:"model"`
	Input ml.JourneyInput `json:"input"`
}

func (a *api) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	pred, err := a.predictor.Predict(r.Context(), req.Model, req.Input)
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pred)
}

type batchRequest struct {
	Model   string                   `json:"model"`
	Records []map[string]interface{} `json:"records"`
}

func (a *api) handlePredictBatch(w http.ResponseWriter, r *http.Request) {
	records, model, ok := a.decodeBatch(w, r)
	if !ok {
		return
	}
	preds, err := a.predictor.PredictRecords(r.Context(), model, records)
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"model":       modelOrDefault(model, a.predictor),
		"predictions": preds,
	})
}

func (a *api) handleEncode(w http.ResponseWriter, r *http.Request) {
	records, model, ok := a.decodeBatch(w, r)
	if !ok {
		return
	}
	table, err := a.predictor.Encode(r.Context(), model, records)
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"model": modelOrDefault(model, a.predictor),
		"table": table,
	})
}

func (a *api) decodeBatch(w http.ResponseWriter, r *http.Request) ([]ml.RawRecord, string, bool) {
	var req batchRequest
	if !decodeJSON(w, r, &req) {
		return nil, "", false
	}
	if len(req.Records) == 0 {
		writeError(w, http.StatusBadRequest, "records must not be empty")
		return nil, "", false
	}
	if len(req.Records) > maxBatchRecords {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d records per request", maxBatchRecords))
		return nil, "", false
	}
	records := make([]ml.RawRecord, len(req.Records))
	for i, raw := range req.Records {
		records[i] = rawRecord(raw)
	}
	return records, req.Model, true
}

// rawRecord turns decoded JSON values into cell text. Nulls are missing
// values.
func rawRecord(raw map[string]interface{}) ml.RawRecord {
	rec := make(ml.RawRecord, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case nil:
		case string:
			rec[key] = v
		case json.Number:
			rec[key] = v.String()
		case float64:
			rec[key] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			if v {
				rec[key] = "Yes"
			} else {
				rec[key] = "No"
			}
		default:
			rec[key] = fmt.Sprint(v)
		}
	}
	return rec
}

func (a *api) handleModels(w http.ResponseWriter, r *http.Request) {
	if a.models == nil {
		writeError(w, http.StatusServiceUnavailable, "no model directory configured")
		return
	}
	manifests, err := a.models.List()
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"default": a.predictor.DefaultModel(),
		"models":  manifests,
	})
}

func (a *api) handleTrains(w http.ResponseWriter, r *http.Request) {
	if a.catalog == nil {
		writeError(w, http.StatusServiceUnavailable, "no train catalog configured")
		return
	}
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		if l, err := strconv.Atoi(s); err == nil && l > 0 {
			limit = l
		}
	}
	trains, err := a.catalog.ListTrains(r.Context(), limit)
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"trains": trains})
}

func (a *api) handleTrain(w http.ResponseWriter, r *http.Request) {
	if a.catalog == nil {
		writeError(w, http.StatusServiceUnavailable, "no train catalog configured")
		return
	}
	in, err := a.catalog.LookupTrain(r.Context(), r.PathValue("name"))
	if err != nil {
		a.respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, in)
}

type wsRequest struct {
	Type  string          `json:"type"`
	Model string          `json:"model"`
	Input ml.JourneyInput `json:"input"`
}

func (a *api) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if a.feed == nil {
		writeError(w, http.StatusServiceUnavailable, "live feed disabled")
		return
	}
	a.feed.ServeWS(w, r, a.handleWSMessage)
}

func (a *api) handleWSMessage(ctx context.Context, payload []byte) *monitoring.Message {
	var req wsRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return errorMessage(fmt.Errorf("invalid message: %w", err))
	}
	switch req.Type {
	case "predict":
		pred, err := a.predictor.Predict(ctx, req.Model, req.Input)
		if err != nil {
			return errorMessage(err)
		}
		msg, err := monitoring.NewMessage(monitoring.PredictionMessage, pred)
		if err != nil {
			return errorMessage(err)
		}
		return &msg
	case "ping":
		msg, _ := monitoring.NewMessage(monitoring.Heartbeat, nil)
		return &msg
	default:
		return errorMessage(fmt.Errorf("unknown message type %q", req.Type))
	}
}

func errorMessage(err error) *monitoring.Message {
	msg, _ := monitoring.NewMessage(monitoring.ErrorMessage, fieldList(err))
	msg.Error = err.Error()
	return &msg
}

// statusFor maps an error to the status code the API answers with.
func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case len(ml.FieldErrors(err)) > 0, errors.Is(err, ml.ErrEmptyBatch):
		return http.StatusBadRequest
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ml.ErrModelNotFound), errors.Is(err, db.ErrTrainNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func fieldList(err error) []*ml.FieldError {
	fields := ml.FieldErrors(err)
	if len(fields) == 0 {
		return nil
	}
	return fields
}

func (a *api) respondErr(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Fields: fieldList(err)})
}

type errorBody struct {
	Error  string           `json:"error"`
	Fields []*ml.FieldError `json:"fields,omitempty"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

// writeJSON encodes before writing the header, so a value JSON cannot
// represent turns into a 500 instead of an empty 200.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		buf.Reset()
		status = http.StatusInternalServerError
		_ = json.NewEncoder(&buf).Encode(errorBody{Error: "encode response: " + err.Error()})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func modelOrDefault(model string, p Predictor) string {
	if model == "" {
		return p.DefaultModel()
	}
	return model
}
