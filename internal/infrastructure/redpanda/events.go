package redpanda

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/drfirst/go-caregap/internal/domain/caregap"
)

// Event types, carried in the event-type header
const (
	EventRecordsUpdated    = "RecordsUpdated"
	EventCareGapsEvaluated = "CareGapsEvaluated"
)

// Header keys
const (
	HeaderEventType = "event-type"
	HeaderError     = "error"
	HeaderSource    = "source-topic"
)

// ErrInvalidEvent marks messages that can never be processed
var ErrInvalidEvent = errors.New("invalid event")

// RecordsUpdated announces a change to a patient's clinical record
type RecordsUpdated struct {
	PatientID string    `json:"patient_id"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// DecodeRecordsUpdated parses a records.updated message
func DecodeRecordsUpdated(value []byte) (*RecordsUpdated, error) {
	var evt RecordsUpdated
	if err := json.Unmarshal(value, &evt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	evt.PatientID = strings.TrimSpace(evt.PatientID)
	if evt.PatientID == "" {
		return nil, fmt.Errorf("%w: patient_id is required", ErrInvalidEvent)
	}
	return &evt, nil
}

// CareGapsEvaluated is published after a re-evaluation. It carries the due
// gaps in full and the rest only as counts.
type CareGapsEvaluated struct {
	EventID     string            `json:"event_id"`
	PatientID   string            `json:"patient_id"`
	EvaluatedAt time.Time         `json:"evaluated_at"`
	Summary     caregap.Summary   `json:"summary"`
	Due         []caregap.CareGap `json:"due"`
}

// NewCareGapsEvaluated builds the notification for one evaluation
func NewCareGapsEvaluated(patientID string, gaps []caregap.CareGap, evaluatedAt time.Time) *CareGapsEvaluated {
	return &CareGapsEvaluated{
		EventID:     uuid.New().String(),
		PatientID:   patientID,
		EvaluatedAt: evaluatedAt.UTC(),
		Summary:     caregap.Summarize(patientID, gaps),
		Due:         caregap.Due(gaps),
	}
}
