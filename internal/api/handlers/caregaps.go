// Package handlers provides HTTP handlers for the care gap API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/drfirst/go-caregap/internal/api/middleware"
	"github.com/drfirst/go-caregap/internal/domain/caregap"
	fhir "github.com/drfirst/go-caregap/internal/fhir/r4"
	"github.com/drfirst/go-caregap/internal/observability/metrics"
	"github.com/drfirst/go-caregap/internal/observability/tracing"
)

const maxBundleBytes = 8 << 20

// CareGapHandler serves care gap evaluations
type CareGapHandler struct {
	source     caregap.RecordSource
	sourceName string
	evaluator  *caregap.Evaluator
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewCareGapHandler creates a new handler. sourceName labels record load
// failures; m may be nil.
func NewCareGapHandler(source caregap.RecordSource, sourceName string, evaluator *caregap.Evaluator, m *metrics.Metrics, logger *zap.Logger) *CareGapHandler {
	if evaluator == nil {
		evaluator = caregap.NewEvaluator()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CareGapHandler{
		source:     source,
		sourceName: sourceName,
		evaluator:  evaluator,
		metrics:    m,
		logger:     logger,
	}
}

// Routes returns the service routes, mounted under /api/v1
func (h *CareGapHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/patients/{id}/care-gaps", h.PatientCareGaps)
	r.Get("/patients/{id}/care-gaps/summary", h.PatientSummary)
	r.Post("/care-gaps/evaluate", h.EvaluateBundle)
	return r
}

// MyCareGaps handles GET /api/fhir/care-gaps for the authenticated patient.
// It returns the verdict array as is.
func (h *CareGapHandler) MyCareGaps(w http.ResponseWriter, r *http.Request) {
	patientID := middleware.GetPatientID(r.Context())
	if patientID == "" {
		h.jsonError(w, "no patient context", http.StatusForbidden)
		return
	}

	gaps, ok := h.evaluatePatient(w, r, patientID, metrics.TriggerPatientPortal)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, gaps)
}

// PatientCareGapsResponse is the service view of one evaluation
type PatientCareGapsResponse struct {
	PatientID   string            `json:"patientId"`
	EvaluatedAt time.Time         `json:"evaluatedAt"`
	CareGaps    []caregap.CareGap `json:"careGaps"`
}

// PatientCareGaps handles GET /patients/{id}/care-gaps
func (h *CareGapHandler) PatientCareGaps(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "id")

	gaps, ok := h.evaluatePatient(w, r, patientID, metrics.TriggerAPI)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, PatientCareGapsResponse{
		PatientID:   patientID,
		EvaluatedAt: time.Now().UTC(),
		CareGaps:    gaps,
	})
}

// PatientSummary handles GET /patients/{id}/care-gaps/summary
func (h *CareGapHandler) PatientSummary(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "id")

	gaps, ok := h.evaluatePatient(w, r, patientID, metrics.TriggerAPI)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, caregap.Summarize(patientID, gaps))
}

// EvaluateBundle handles POST /care-gaps/evaluate. The body is a FHIR Bundle
// holding one patient's record; ?patient selects a patient when the bundle
// holds several and ?asOf=YYYY-MM-DD pins the evaluation date.
func (h *CareGapHandler) EvaluateBundle(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("caregap-handler").Start(r.Context(), "evaluate_bundle")
	defer span.End()

	evaluator := h.evaluator
	if asOf := r.URL.Query().Get("asOf"); asOf != "" {
		date, err := time.Parse(time.DateOnly, asOf)
		if err != nil {
			h.jsonError(w, "asOf must be a YYYY-MM-DD date", http.StatusBadRequest)
			return
		}
		evaluator = caregap.NewEvaluator(caregap.AsOf(date))
		span.SetAttributes(attribute.String("as_of", asOf))
	}

	var bundle fhir.Bundle
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBundleBytes)).Decode(&bundle); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if bundle.ResourceType != fhir.ResourceBundle {
		h.jsonError(w, "body must be a FHIR Bundle", http.StatusBadRequest)
		return
	}

	start := time.Now()
	hc, err := caregap.ContextFromBundle(&bundle, r.URL.Query().Get("patient"))
	switch {
	case errors.Is(err, caregap.ErrPatientNotFound):
		h.jsonError(w, "patient not found in bundle", http.StatusNotFound)
		return
	case err != nil:
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	gaps := evaluator.EvaluateAll(hc)
	h.observe(metrics.TriggerBundle, gaps, time.Since(start))
	span.SetAttributes(
		attribute.String("patient_id", hc.Patient.ID),
		attribute.Int("gaps", len(gaps)),
	)

	h.logger.Info("bundle evaluated",
		zap.String("patient_id", hc.Patient.ID),
		zap.String("request_id", middleware.GetRequestID(ctx)),
		zap.Int("due", len(caregap.Due(gaps))),
	)

	h.writeJSON(w, http.StatusOK, PatientCareGapsResponse{
		PatientID:   hc.Patient.ID,
		EvaluatedAt: time.Now().UTC(),
		CareGaps:    gaps,
	})
}

// evaluatePatient loads a patient's record and runs every measure. On failure
// it writes the error response and returns false.
func (h *CareGapHandler) evaluatePatient(w http.ResponseWriter, r *http.Request, patientID, trigger string) ([]caregap.CareGap, bool) {
	ctx, span := otel.Tracer("caregap-handler").Start(r.Context(), "evaluate_patient")
	defer span.End()
	span.SetAttributes(
		attribute.String("patient_id", patientID),
		attribute.String("trigger", trigger),
	)

	start := time.Now()
	hc, err := h.source.LoadPatientContext(ctx, patientID)
	if err != nil {
		if errors.Is(err, caregap.ErrPatientNotFound) {
			h.jsonError(w, "patient not found", http.StatusNotFound)
			return nil, false
		}
		tracing.Fail(span, err, "load patient record")
		if h.metrics != nil {
			h.metrics.RecordLoadFailures.WithLabelValues(h.sourceName).Inc()
		}
		h.logger.Error("load patient record failed",
			zap.String("patient_id", patientID),
			zap.String("request_id", middleware.GetRequestID(ctx)),
			zap.Error(err),
		)
		h.jsonError(w, "failed to load patient record", http.StatusInternalServerError)
		return nil, false
	}

	gaps := h.evaluator.EvaluateAll(hc)
	h.observe(trigger, gaps, time.Since(start))
	span.SetAttributes(attribute.Int("gaps", len(gaps)))

	h.logger.Debug("care gaps evaluated",
		zap.String("patient_id", patientID),
		zap.String("trigger", trigger),
		zap.Int("gaps", len(gaps)),
	)
	return gaps, true
}

func (h *CareGapHandler) observe(trigger string, gaps []caregap.CareGap, elapsed time.Duration) {
	if h.metrics != nil {
		h.metrics.ObserveEvaluation(trigger, gaps, elapsed)
	}
}

func (h *CareGapHandler) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("encode response", zap.Error(err))
	}
}

func (h *CareGapHandler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
