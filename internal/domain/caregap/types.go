// Package caregap implements the care gap evaluation engine.
//
// The engine maps a patient's conditions, observations and immunizations onto
// quality-measure verdicts modeled on HEDIS. It is a pure, synchronous
// computation: evaluators only read the PatientHealthContext they are given,
// never perform I/O and never return errors. Missing or malformed data leads
// to an empty or not_applicable result instead.
package caregap

import (
	"context"
	"errors"

	fhir "github.com/drfirst/go-caregap/internal/fhir/r4"
)

// Status represents the verdict of a single care gap check
type Status string

const (
	StatusDue           Status = "due"
	StatusSatisfied     Status = "satisfied"
	StatusNotApplicable Status = "not_applicable"
)

// Category groups measures for display
type Category string

const (
	CategoryPreventive Category = "preventive"
	CategoryChronic    Category = "chronic"
)

// Priority ranks due gaps
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// CareGap is a single measure verdict.
//
// Exactly one of DueDate, LastPerformedDate and Reason is set, matching the
// status: due, satisfied and not_applicable respectively. Priority is only
// set on due gaps.
type CareGap struct {
	ID                string   `json:"id"`
	PatientID         string   `json:"patientId"`
	Title             string   `json:"title"`
	Status            Status   `json:"status"`
	Description       string   `json:"description"`
	RecommendedAction string   `json:"recommendedAction"`
	MeasureID         string   `json:"measureId"`
	Category          Category `json:"category"`
	Priority          Priority `json:"priority,omitempty"`
	DueDate           string   `json:"dueDate,omitempty"`
	LastPerformedDate string   `json:"lastPerformedDate,omitempty"`
	Reason            string   `json:"reason,omitempty"`
}

// PatientHealthContext is the request-scoped clinical record of one patient.
// Evaluators never modify it.
type PatientHealthContext struct {
	Patient       fhir.Patient
	Conditions    []fhir.Condition
	Observations  []fhir.Observation
	Medications   []fhir.MedicationRequest
	Immunizations []fhir.Immunization
}

// ErrPatientNotFound is returned by record sources that have no record of the patient
var ErrPatientNotFound = errors.New("patient not found")

// RecordSource loads the clinical record of a patient.
type RecordSource interface {
	LoadPatientContext(ctx context.Context, patientID string) (*PatientHealthContext, error)
}
